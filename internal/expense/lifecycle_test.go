package expense_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/frahmantamala/expense-claims/internal"
	"github.com/frahmantamala/expense-claims/internal/auth"
	"github.com/frahmantamala/expense-claims/internal/core/money"
	"github.com/frahmantamala/expense-claims/internal/expense"
)

var (
	employee = &auth.User{ID: 1, Name: "Eka", Role: auth.RoleEmployee, IsActive: true}
	manager  = &auth.User{ID: 2, Name: "Maya", Role: auth.RoleManager, IsActive: true}
	admin    = &auth.User{ID: 3, Name: "Adi", Role: auth.RoleAdmin, IsActive: true}
)

func testLifecycle() expense.Lifecycle {
	return expense.NewLifecycle(auth.NewPolicy(map[money.Currency]decimal.Decimal{
		money.IDR: decimal.NewFromInt(1000000),
		money.USD: decimal.NewFromInt(60),
	}))
}

func pendingClaim(amount int64) expense.Claim {
	return expense.Claim{
		ID:          10,
		SubmitterID: employee.ID,
		Description: "Client dinner",
		Amount:      money.FromInt(amount, money.IDR),
		Category:    "meals",
		Status:      expense.StatusPendingApproval,
	}
}

var _ = Describe("Lifecycle", func() {
	var lc expense.Lifecycle

	BeforeEach(func() {
		lc = testLifecycle()
	})

	Describe("InitialStatus", func() {
		DescribeTable("applies the auto-approval threshold",
			func(amount int64, want expense.Status) {
				Expect(lc.InitialStatus(money.FromInt(amount, money.IDR))).To(Equal(want))
			},
			Entry("well below", int64(50000), expense.StatusAutoApproved),
			Entry("just below", int64(999999), expense.StatusAutoApproved),
			Entry("at the threshold", int64(1000000), expense.StatusPendingApproval),
			Entry("above", int64(2000000), expense.StatusPendingApproval),
		)

		It("compares an amount with its own currency's threshold", func() {
			Expect(lc.InitialStatus(money.FromInt(59, money.USD))).To(Equal(expense.StatusAutoApproved))
			Expect(lc.InitialStatus(money.FromInt(999999, money.USD))).To(Equal(expense.StatusPendingApproval))
		})

		It("never auto-approves a currency without a threshold", func() {
			Expect(lc.InitialStatus(money.FromInt(1, "EUR"))).To(Equal(expense.StatusPendingApproval))
		})
	})

	Describe("authorization matrix", func() {
		DescribeTable("approve",
			func(actor *auth.User, amount int64, allowed bool) {
				c := pendingClaim(amount)
				err := lc.CheckApprove(&c, actor)
				if allowed {
					Expect(err).NotTo(HaveOccurred())
				} else {
					Expect(err).To(MatchError(internal.ErrUnauthorizedAccess))
				}
			},
			Entry("employee on a large claim", employee, int64(2000000), false),
			Entry("manager on a large claim", manager, int64(2000000), true),
			Entry("manager at the threshold", manager, int64(1000000), true),
			Entry("manager below the threshold", manager, int64(999999), false),
			Entry("admin below the threshold", admin, int64(999999), true),
			Entry("admin on a large claim", admin, int64(2000000), true),
			Entry("nobody signed in", nil, int64(2000000), false),
		)

		It("applies the same rule to reject", func() {
			c := pendingClaim(500000)
			Expect(lc.CheckReject(&c, manager, "no receipt")).To(MatchError(internal.ErrUnauthorizedAccess))
			Expect(lc.CheckReject(&c, admin, "no receipt")).To(Succeed())
		})

		It("lets a manager approve a claim they submitted", func() {
			c := pendingClaim(2000000)
			c.SubmitterID = manager.ID
			Expect(lc.CheckApprove(&c, manager)).To(Succeed())
		})
	})

	Describe("Approve", func() {
		It("returns an approved copy and leaves the input untouched", func() {
			c := pendingClaim(2000000)
			approved, err := lc.Approve(c, manager, "ok", fixedNow)
			Expect(err).NotTo(HaveOccurred())

			Expect(approved.Status).To(Equal(expense.StatusApproved))
			Expect(approved.ProcessedBy).To(Equal(manager.ID))
			Expect(approved.ProcessedAt).NotTo(BeNil())
			Expect(*approved.ProcessedAt).To(Equal(fixedNow))
			Expect(approved.PaymentStatus).To(Equal(expense.PaymentStatusPending))
			Expect(approved.ApprovalNotes).To(Equal("ok"))

			Expect(c.Status).To(Equal(expense.StatusPendingApproval))
			Expect(c.ProcessedAt).To(BeNil())
		})

		It("refuses a second transition with an invalid transition error", func() {
			c := pendingClaim(2000000)
			approved, err := lc.Approve(c, manager, "", fixedNow)
			Expect(err).NotTo(HaveOccurred())

			_, err = lc.Approve(approved, manager, "", fixedNow)
			Expect(errors.Is(err, internal.ErrInvalidTransition)).To(BeTrue())

			_, err = lc.Reject(approved, manager, "late", fixedNow)
			Expect(errors.Is(err, internal.ErrInvalidTransition)).To(BeTrue())
		})

		It("checks authorization before state", func() {
			c := pendingClaim(2000000)
			c.Status = expense.StatusApproved
			_, err := lc.Approve(c, employee, "", fixedNow)
			Expect(err).To(MatchError(internal.ErrUnauthorizedAccess))
		})
	})

	Describe("Reject", func() {
		It("requires a reason", func() {
			_, err := lc.Reject(pendingClaim(2000000), manager, "  ", fixedNow)
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Type).To(Equal(internal.ErrorTypeValidation))
			Expect(appErr.Code).To(Equal(internal.ErrCodeReasonRequired))
		})

		It("records the reason and the actor", func() {
			rejected, err := lc.Reject(pendingClaim(2000000), manager, "duplicate claim", fixedNow)
			Expect(err).NotTo(HaveOccurred())
			Expect(rejected.Status).To(Equal(expense.StatusRejected))
			Expect(rejected.RejectionReason).To(Equal("duplicate claim"))
			Expect(rejected.ProcessedBy).To(Equal(manager.ID))
			Expect(rejected.PaymentStatus).To(Equal(expense.PaymentStatusNone))
		})

		It("checks state before the reason", func() {
			c := pendingClaim(2000000)
			c.Status = expense.StatusRejected
			_, err := lc.Reject(c, manager, "", fixedNow)
			Expect(errors.Is(err, internal.ErrInvalidTransition)).To(BeTrue())
		})
	})

	Describe("RequestPaymentRetry", func() {
		var failed expense.Claim

		BeforeEach(func() {
			failed = pendingClaim(2000000)
			failed.Status = expense.StatusApproved
			failed.PaymentStatus = expense.PaymentStatusFailed
		})

		It("moves a failed payment back to pending", func() {
			retried, err := lc.RequestPaymentRetry(failed, manager, fixedNow)
			Expect(err).NotTo(HaveOccurred())
			Expect(retried.PaymentStatus).To(Equal(expense.PaymentStatusPending))
			Expect(retried.Status).To(Equal(expense.StatusApproved))
		})

		It("is not available to employees", func() {
			_, err := lc.RequestPaymentRetry(failed, employee, fixedNow)
			Expect(err).To(MatchError(internal.ErrUnauthorizedAccess))
		})

		It("needs a failed payment", func() {
			failed.PaymentStatus = expense.PaymentStatusPaid
			_, err := lc.RequestPaymentRetry(failed, admin, fixedNow)
			Expect(errors.Is(err, internal.ErrInvalidTransition)).To(BeTrue())
		})
	})

	Describe("CheckUpdate", func() {
		It("allows the submitter while pending", func() {
			c := pendingClaim(2000000)
			Expect(lc.CheckUpdate(&c, employee)).To(Succeed())
			Expect(lc.CheckUpdate(&c, manager)).To(MatchError(internal.ErrUnauthorizedAccess))
		})

		It("refuses once processed", func() {
			c := pendingClaim(2000000)
			c.Status = expense.StatusApproved
			Expect(lc.CheckUpdate(&c, employee)).To(MatchError(internal.ErrCannotModifyExpense))
		})
	})

	Describe("ActionsFor", func() {
		It("lists what each role may do", func() {
			c := pendingClaim(2000000)
			Expect(lc.ActionsFor(&c, employee)).To(BeEmpty())
			Expect(lc.ActionsFor(&c, manager)).To(ConsistOf(auth.ActionApprove, auth.ActionReject))

			c.Status = expense.StatusAutoApproved
			c.PaymentStatus = expense.PaymentStatusFailed
			Expect(lc.ActionsFor(&c, admin)).To(ConsistOf(auth.ActionRetryPayment))
		})
	})
})
