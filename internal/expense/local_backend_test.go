package expense_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/frahmantamala/expense-claims/internal"
	"github.com/frahmantamala/expense-claims/internal/auth"
	"github.com/frahmantamala/expense-claims/internal/category"
	expenseDatamodel "github.com/frahmantamala/expense-claims/internal/core/datamodel/expense"
	"github.com/frahmantamala/expense-claims/internal/core/events"
	"github.com/frahmantamala/expense-claims/internal/core/money"
	"github.com/frahmantamala/expense-claims/internal/expense"
	"github.com/frahmantamala/expense-claims/internal/expense/postgres"
	"github.com/frahmantamala/expense-claims/internal/lock"
)

type staticCategories []category.Category

func (s staticCategories) ListActive(context.Context) ([]category.Category, error) {
	return s, nil
}

type recordedEvents struct {
	mu     sync.Mutex
	events []*events.ClaimPaymentEvent
}

func (r *recordedEvents) handle(_ context.Context, ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev.(*events.ClaimPaymentEvent))
	return nil
}

func (r *recordedEvents) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.EventType())
	}
	return out
}

func dto(desc string, amount int64) expense.CreateClaimDTO {
	return expense.CreateClaimDTO{
		Description: desc,
		Amount:      money.FromInt(amount, money.IDR),
		Category:    "Travel",
		ExpenseDate: time.Now().UTC().AddDate(0, 0, -2).Truncate(24 * time.Hour),
	}
}

var _ = Describe("LocalBackend", func() {
	var (
		db       *gorm.DB
		repo     *postgres.ExpenseRepository
		bus      *events.EventBus
		recorded *recordedEvents
		locker   *lock.MemoryLocker
		backend  *expense.LocalBackend

		asEmployee context.Context
		asManager  context.Context
		asAdmin    context.Context
	)

	BeforeEach(func() {
		var err error
		db, err = gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
		Expect(err).NotTo(HaveOccurred())
		Expect(db.AutoMigrate(&expenseDatamodel.Expense{})).To(Succeed())

		repo = postgres.NewExpenseRepository(db)
		bus = events.NewEventBus(nil)
		recorded = &recordedEvents{}
		bus.Subscribe(events.EventTypeClaimApproved, recorded.handle)
		bus.Subscribe(events.EventTypePaymentRetryRequested, recorded.handle)
		locker = lock.NewMemoryLocker()

		rules := expense.NewRules(internal.DefaultPolicy())
		cats := staticCategories{{Name: "Travel"}, {Name: "Meals"}}
		backend = expense.NewLocalBackend(repo, cats, rules, testLifecycle(), locker, bus, nil)

		ctx := context.Background()
		asEmployee = auth.ContextWithUser(ctx, employee)
		asManager = auth.ContextWithUser(ctx, manager)
		asAdmin = auth.ContextWithUser(ctx, admin)
	})

	AfterEach(func() {
		bus.Wait()
		sqlDB, err := db.DB()
		Expect(err).NotTo(HaveOccurred())
		Expect(sqlDB.Close()).To(Succeed())
	})

	Describe("Create", func() {
		It("auto-approves a claim below the threshold", func() {
			c, err := backend.Create(asEmployee, dto("Lunch with vendor", 50000))
			Expect(err).NotTo(HaveOccurred())
			Expect(c.ID).To(BeNumerically(">", 0))
			Expect(c.SubmitterID).To(Equal(employee.ID))
			Expect(c.Status).To(Equal(expense.StatusAutoApproved))
			Expect(c.ProcessedAt).NotTo(BeNil())
			Expect(c.PaymentStatus).To(Equal(expense.PaymentStatusPending))

			bus.Wait()
			Expect(recorded.types()).To(Equal([]string{events.EventTypeClaimApproved}))
		})

		It("holds a claim at or above the threshold for review", func() {
			c, err := backend.Create(asEmployee, dto("Flight to Jakarta", 2000000))
			Expect(err).NotTo(HaveOccurred())
			Expect(c.Status).To(Equal(expense.StatusPendingApproval))
			Expect(c.ProcessedAt).To(BeNil())
			Expect(c.PaymentStatus).To(Equal(expense.PaymentStatusNone))

			bus.Wait()
			Expect(recorded.types()).To(BeEmpty())
		})

		It("revalidates the submission against the category list", func() {
			d := dto("Flight to Jakarta", 2000000)
			d.Category = "Gadgets"
			_, err := backend.Create(asEmployee, d)
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.FieldErrors()).To(HaveKey("category"))
		})

		It("needs a signed-in user", func() {
			_, err := backend.Create(context.Background(), dto("Flight to Jakarta", 2000000))
			Expect(err).To(MatchError(internal.ErrSessionExpired))
		})
	})

	Describe("round trip", func() {
		It("lets a manager approve a pending claim", func() {
			created, err := backend.Create(asEmployee, dto("Hotel in Bandung", 2000000))
			Expect(err).NotTo(HaveOccurred())

			approved, err := backend.Approve(asManager, created.ID, "within budget")
			Expect(err).NotTo(HaveOccurred())
			Expect(approved.Status).To(Equal(expense.StatusApproved))
			Expect(approved.ProcessedAt).NotTo(BeNil())
			Expect(approved.ProcessedBy).To(Equal(manager.ID))

			stored, err := backend.Get(asEmployee, created.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Status).To(Equal(expense.StatusApproved))
			Expect(stored.PaymentStatus).To(Equal(expense.PaymentStatusPending))

			bus.Wait()
			Expect(recorded.types()).To(Equal([]string{events.EventTypeClaimApproved}))
		})

		It("refuses a transition the stored claim no longer allows", func() {
			created, err := backend.Create(asEmployee, dto("Hotel in Bandung", 2000000))
			Expect(err).NotTo(HaveOccurred())

			_, err = backend.Reject(asManager, created.ID, "duplicate")
			Expect(err).NotTo(HaveOccurred())

			_, err = backend.Approve(asAdmin, created.ID, "")
			Expect(errors.Is(err, internal.ErrInvalidTransition)).To(BeTrue())
		})

		It("forbids a manager from acting on an auto-approved claim", func() {
			created, err := backend.Create(asEmployee, dto("Coffee", 30000))
			Expect(err).NotTo(HaveOccurred())

			_, err = backend.Reject(asManager, created.ID, "no")
			Expect(err).To(MatchError(internal.ErrUnauthorizedAccess))
		})

		It("rejects an empty rejection reason", func() {
			created, err := backend.Create(asEmployee, dto("Hotel in Bandung", 2000000))
			Expect(err).NotTo(HaveOccurred())

			_, err = backend.Reject(asManager, created.ID, "")
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Type).To(Equal(internal.ErrorTypeValidation))
		})

		It("reports a busy claim while another change holds its lock", func() {
			created, err := backend.Create(asEmployee, dto("Hotel in Bandung", 2000000))
			Expect(err).NotTo(HaveOccurred())

			held, err := locker.Obtain(context.Background(), lock.ClaimKey(created.ID))
			Expect(err).NotTo(HaveOccurred())
			defer held.Release(context.Background())

			_, err = backend.Approve(asManager, created.ID, "")
			Expect(err).To(MatchError(internal.ErrClaimBusy))
		})

		It("retries a failed payment", func() {
			created, err := backend.Create(asEmployee, dto("Train ticket", 40000))
			Expect(err).NotTo(HaveOccurred())
			ok, err := repo.SetPaymentStatus(context.Background(), created.ID, expense.PaymentStatusPending, expense.PaymentStatusFailed)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())

			_, err = backend.RetryPayment(asEmployee, created.ID)
			Expect(err).To(MatchError(internal.ErrUnauthorizedAccess))

			retried, err := backend.RetryPayment(asManager, created.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(retried.PaymentStatus).To(Equal(expense.PaymentStatusPending))

			bus.Wait()
			Expect(recorded.types()).To(ConsistOf(events.EventTypeClaimApproved, events.EventTypePaymentRetryRequested))
		})
	})

	Describe("Update", func() {
		It("recomputes the status from the new amount", func() {
			created, err := backend.Create(asEmployee, dto("Hotel in Bandung", 2000000))
			Expect(err).NotTo(HaveOccurred())

			lower := decimal.NewFromInt(800000)
			updated, err := backend.Update(asEmployee, created.ID, expense.UpdateClaimDTO{Amount: &lower})
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.Status).To(Equal(expense.StatusAutoApproved))
			Expect(updated.PaymentStatus).To(Equal(expense.PaymentStatusPending))
		})

		It("keeps the stored currency when only the amount changes", func() {
			in := dto("Conference in Singapore", 2000)
			in.Amount = money.FromInt(2000, money.USD)
			created, err := backend.Create(asEmployee, in)
			Expect(err).NotTo(HaveOccurred())
			Expect(created.Status).To(Equal(expense.StatusPendingApproval))

			higher := decimal.NewFromInt(2500)
			updated, err := backend.Update(asEmployee, created.ID, expense.UpdateClaimDTO{Amount: &higher})
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.Amount.Currency).To(Equal(money.USD))
			Expect(updated.Amount.Amount.IntPart()).To(Equal(int64(2500)))
			Expect(updated.Status).To(Equal(expense.StatusPendingApproval))

			stored, err := repo.GetByID(context.Background(), created.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Amount.Currency).To(Equal(money.USD))
		})

		It("checks an amount-only change against the stored currency's maximum", func() {
			in := dto("Conference in Singapore", 2000)
			in.Amount = money.FromInt(2000, money.USD)
			created, err := backend.Create(asEmployee, in)
			Expect(err).NotTo(HaveOccurred())

			tooMuch := decimal.NewFromInt(3000000)
			_, err = backend.Update(asEmployee, created.ID, expense.UpdateClaimDTO{Amount: &tooMuch})
			Expect(errors.Is(err, internal.ErrValidationFailed)).To(BeTrue())
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.FieldErrors()).To(HaveKey("amount"))
		})

		It("applies a currency-only change and re-evaluates the threshold", func() {
			in := dto("Taxi in Singapore", 100)
			in.Amount = money.FromInt(100, money.USD)
			created, err := backend.Create(asEmployee, in)
			Expect(err).NotTo(HaveOccurred())
			Expect(created.Status).To(Equal(expense.StatusPendingApproval))

			idr := money.IDR
			updated, err := backend.Update(asEmployee, created.ID, expense.UpdateClaimDTO{Currency: &idr})
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.Amount.Currency).To(Equal(money.IDR))
			Expect(updated.Amount.Amount.IntPart()).To(Equal(int64(100)))
			Expect(updated.Status).To(Equal(expense.StatusAutoApproved))
		})

		It("refuses edits once the claim is processed", func() {
			created, err := backend.Create(asEmployee, dto("Snacks", 20000))
			Expect(err).NotTo(HaveOccurred())

			desc := "Snacks for the team"
			_, err = backend.Update(asEmployee, created.ID, expense.UpdateClaimDTO{Description: &desc})
			Expect(err).To(MatchError(internal.ErrCannotModifyExpense))
		})
	})

	Describe("List and Get", func() {
		BeforeEach(func() {
			_, err := backend.Create(asEmployee, dto("Hotel in Bandung", 2000000))
			Expect(err).NotTo(HaveOccurred())
			_, err = backend.Create(asManager, dto("Team dinner", 900000))
			Expect(err).NotTo(HaveOccurred())
		})

		It("limits employees to their own claims", func() {
			page, err := backend.List(asEmployee, expense.Filters{}, expense.Pagination{})
			Expect(err).NotTo(HaveOccurred())
			Expect(page.Items).To(HaveLen(1))
			Expect(page.PageInfo.Total).To(Equal(int64(1)))
			Expect(page.PageInfo.HasMore).To(BeFalse())
		})

		It("shows managers every claim", func() {
			page, err := backend.List(asManager, expense.Filters{}, expense.Pagination{Page: 1, PerPage: 1})
			Expect(err).NotTo(HaveOccurred())
			Expect(page.Items).To(HaveLen(1))
			Expect(page.PageInfo.Total).To(Equal(int64(2)))
			Expect(page.PageInfo.HasMore).To(BeTrue())
		})

		It("hides another employee's claim", func() {
			page, err := backend.List(asManager, expense.Filters{SubmitterID: manager.ID}, expense.Pagination{})
			Expect(err).NotTo(HaveOccurred())
			Expect(page.Items).To(HaveLen(1))

			_, err = backend.Get(asEmployee, page.Items[0].ID)
			Expect(err).To(MatchError(internal.ErrUnauthorizedAccess))
		})

		It("reports a missing claim", func() {
			_, err := backend.Get(asAdmin, 4242)
			Expect(err).To(MatchError(internal.ErrExpenseNotFound))
		})
	})
})
