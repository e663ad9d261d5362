package expense_test

import (
	"context"
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/expense-claims/internal/expense"
)

var _ = Describe("State", func() {
	var (
		ctx     context.Context
		backend *fakeBackend
		state   *expense.State
	)

	seedMany := func(n int, status expense.Status) {
		for i := 0; i < n; i++ {
			c := pendingClaim(2000000)
			c.Status = status
			backend.seed(c)
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		backend = newFakeBackend(manager)
		state = expense.NewState(backend, 2)
	})

	It("loads pages until there are no more", func() {
		seedMany(5, expense.StatusPendingApproval)

		Expect(state.Refresh(ctx)).To(Succeed())
		Expect(state.Claims()).To(HaveLen(2))
		Expect(state.PageInfo().HasMore).To(BeTrue())

		Expect(state.LoadMore(ctx)).To(Succeed())
		Expect(state.LoadMore(ctx)).To(Succeed())
		Expect(state.Claims()).To(HaveLen(5))
		Expect(state.PageInfo().HasMore).To(BeFalse())

		Expect(state.LoadMore(ctx)).To(Succeed())
		Expect(backend.count("list")).To(Equal(3))
	})

	It("never duplicates a claim returned twice", func() {
		seedMany(3, expense.StatusPendingApproval)
		Expect(state.Refresh(ctx)).To(Succeed())

		first := state.Claims()[0]
		state.Upsert(&first)
		Expect(state.Claims()).To(HaveLen(2))

		Expect(state.LoadMore(ctx)).To(Succeed())
		ids := map[int64]bool{}
		for _, c := range state.Claims() {
			Expect(ids[c.ID]).To(BeFalse())
			ids[c.ID] = true
		}
		Expect(ids).To(HaveLen(3))
	})

	It("replaces the cached copy with a command result", func() {
		seedMany(1, expense.StatusPendingApproval)
		Expect(state.Refresh(ctx)).To(Succeed())

		updated := state.Claims()[0]
		updated.Status = expense.StatusApproved
		state.Upsert(&updated)

		got, ok := state.Get(updated.ID)
		Expect(ok).To(BeTrue())
		Expect(got.Status).To(Equal(expense.StatusApproved))
	})

	It("applies filters to loads and to new claims", func() {
		seedMany(2, expense.StatusPendingApproval)
		seedMany(1, expense.StatusRejected)

		Expect(state.SetFilters(ctx, expense.Filters{Status: expense.StatusRejected})).To(Succeed())
		Expect(state.Claims()).To(HaveLen(1))

		outsider := pendingClaim(2000000)
		outsider.ID = 999
		state.Upsert(&outsider)
		Expect(state.Claims()).To(HaveLen(1))
	})

	It("discards a page requested under old filters", func() {
		seedMany(3, expense.StatusPendingApproval)
		backend.listDelay = make(chan struct{})

		done := make(chan error, 1)
		go func() { done <- state.Refresh(ctx) }()

		Eventually(func() int { return len(state.Claims()) }).Should(Equal(0))
		filters := expense.Filters{Status: expense.StatusRejected}
		go func() {
			defer GinkgoRecover()
			Expect(state.SetFilters(ctx, filters)).To(Succeed())
		}()

		Eventually(func() expense.Filters { return state.Filters() }).Should(Equal(filters))
		close(backend.listDelay)
		Eventually(done).Should(Receive(BeNil()))

		Eventually(func() int { return backend.count("list") }).Should(Equal(2))
		Consistently(func() int { return len(state.Claims()) }).Should(Equal(0))
	})

	It("notifies subscribers until they unsubscribe", func() {
		var calls atomic.Int32
		unsubscribe := state.Subscribe(func() { calls.Add(1) })

		c := pendingClaim(2000000)
		c.ID = 5
		state.Upsert(&c)
		Expect(calls.Load()).To(Equal(int32(1)))

		unsubscribe()
		state.Upsert(&c)
		Expect(calls.Load()).To(Equal(int32(1)))
	})
})
