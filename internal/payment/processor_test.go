package payment_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	paymentDatamodel "github.com/frahmantamala/expense-claims/internal/core/datamodel/payment"
	"github.com/frahmantamala/expense-claims/internal/core/events"
	"github.com/frahmantamala/expense-claims/internal/core/money"
	"github.com/frahmantamala/expense-claims/internal/expense"
	"github.com/frahmantamala/expense-claims/internal/payment"
	"github.com/frahmantamala/expense-claims/internal/payment/postgres"
)

type claimStatuses struct {
	mu       sync.Mutex
	statuses map[int64]expense.PaymentStatus
}

func newClaimStatuses() *claimStatuses {
	return &claimStatuses{statuses: map[int64]expense.PaymentStatus{}}
}

func (c *claimStatuses) set(id int64, s expense.PaymentStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[id] = s
}

func (c *claimStatuses) get(id int64) expense.PaymentStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statuses[id]
}

func (c *claimStatuses) SetPaymentStatus(_ context.Context, id int64, from, to expense.PaymentStatus) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.statuses[id] != from {
		return false, nil
	}
	c.statuses[id] = to
	return true, nil
}

func (c *claimStatuses) ListByPaymentStatus(_ context.Context, statuses ...expense.PaymentStatus) ([]*expense.Claim, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*expense.Claim
	for id, current := range c.statuses {
		for _, s := range statuses {
			if current == s {
				out = append(out, &expense.Claim{ID: id, PaymentStatus: current, Amount: money.FromInt(2000000, money.IDR)})
			}
		}
	}
	return out, nil
}

type scriptedGateway struct {
	mu       sync.Mutex
	results  []payment.Result
	err      error
	delay    time.Duration
	requests []payment.Request
}

func (g *scriptedGateway) Pay(_ context.Context, req payment.Request) (payment.Result, error) {
	if g.delay > 0 {
		time.Sleep(g.delay)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.err != nil {
		return payment.Result{}, g.err
	}
	if len(g.results) == 0 {
		return payment.Result{GatewayID: "gw-1", Status: payment.StatusPaid, Raw: `{"status":"success"}`}, nil
	}
	res := g.results[0]
	g.results = g.results[1:]
	return res, nil
}

func (g *scriptedGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

var _ = Describe("Processor", func() {
	var (
		repo      *postgres.PaymentRepository
		claims    *claimStatuses
		gateway   *scriptedGateway
		processor *payment.Processor
		ctx       context.Context
	)

	job := func(claimID int64, retry bool) payment.Job {
		return payment.Job{ClaimID: claimID, Amount: decimal.NewFromInt(2000000), Currency: "IDR", Retry: retry}
	}

	BeforeEach(func() {
		db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
		Expect(err).NotTo(HaveOccurred())
		sqlDB, err := db.DB()
		Expect(err).NotTo(HaveOccurred())
		sqlDB.SetMaxOpenConns(1)
		Expect(db.AutoMigrate(&paymentDatamodel.Payment{})).To(Succeed())

		repo = postgres.NewPaymentRepository(db)
		claims = newClaimStatuses()
		gateway = &scriptedGateway{}
		processor = payment.NewProcessor(payment.Config{MaxWorkers: 2, JobQueueSize: 1, Timeout: time.Second}, repo, claims, gateway, quietLogger)
		ctx = context.Background()
	})

	Describe("Process", func() {
		It("pays a pending claim and records the attempt", func() {
			claims.set(1, expense.PaymentStatusPending)

			Expect(processor.Process(ctx, job(1, false))).To(Succeed())

			Expect(claims.get(1)).To(Equal(expense.PaymentStatusPaid))
			p, err := repo.GetByClaimID(ctx, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(p.Status).To(Equal(payment.StatusPaid))
			Expect(p.ExternalID).To(Equal("claim-1-0"))
			Expect(p.RetryCount).To(Equal(0))
			Expect(p.ProcessedAt).NotTo(BeNil())
		})

		It("marks the claim failed when the gateway declines", func() {
			claims.set(2, expense.PaymentStatusPending)
			gateway.results = []payment.Result{{Status: payment.StatusFailed, FailureReason: "insufficient funds"}}

			Expect(processor.Process(ctx, job(2, false))).To(Succeed())

			Expect(claims.get(2)).To(Equal(expense.PaymentStatusFailed))
			p, err := repo.GetByClaimID(ctx, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(p.FailureReason).To(Equal("insufficient funds"))
		})

		It("treats a gateway error as a failed payment", func() {
			claims.set(3, expense.PaymentStatusPending)
			gateway.err = errors.New("connection refused")

			Expect(processor.Process(ctx, job(3, false))).To(Succeed())

			Expect(claims.get(3)).To(Equal(expense.PaymentStatusFailed))
			p, err := repo.GetByClaimID(ctx, 3)
			Expect(err).NotTo(HaveOccurred())
			Expect(p.FailureReason).To(ContainSubstring("connection refused"))
		})

		It("reuses the record and counts retries", func() {
			claims.set(4, expense.PaymentStatusPending)
			gateway.results = []payment.Result{{Status: payment.StatusFailed, FailureReason: "timeout"}}
			Expect(processor.Process(ctx, job(4, false))).To(Succeed())
			Expect(claims.get(4)).To(Equal(expense.PaymentStatusFailed))

			claims.set(4, expense.PaymentStatusPending)
			Expect(processor.Process(ctx, job(4, true))).To(Succeed())

			Expect(claims.get(4)).To(Equal(expense.PaymentStatusPaid))
			p, err := repo.GetByClaimID(ctx, 4)
			Expect(err).NotTo(HaveOccurred())
			Expect(p.RetryCount).To(Equal(1))
			Expect(p.Status).To(Equal(payment.StatusPaid))
			Expect(p.FailureReason).To(BeEmpty())
			Expect(gateway.requests[0].ExternalID).To(Equal("claim-4-0"))
			Expect(gateway.requests[1].ExternalID).To(Equal("claim-4-1"))
			Expect(p.ExternalID).To(Equal("claim-4-1"))
		})

		It("skips a claim whose payment is not pending", func() {
			claims.set(5, expense.PaymentStatusPaid)

			Expect(processor.Process(ctx, job(5, false))).To(Succeed())

			Expect(gateway.calls()).To(BeZero())
			_, err := repo.GetByClaimID(ctx, 5)
			Expect(err).To(MatchError(payment.ErrNotFound))
		})
	})

	Describe("worker pool", func() {
		AfterEach(func() {
			processor.Shutdown()
		})

		It("settles claims published on the event bus", func() {
			processor.Start()
			bus := events.NewEventBus(quietLogger)
			bus.Subscribe(events.EventTypeClaimApproved, processor.HandleClaimEvent)

			claims.set(10, expense.PaymentStatusPending)
			Expect(bus.Publish(ctx, events.NewClaimApprovedEvent(10, 1, decimal.NewFromInt(2000000), "IDR"))).To(Succeed())

			Eventually(func() expense.PaymentStatus { return claims.get(10) }).
				WithTimeout(2 * time.Second).
				Should(Equal(expense.PaymentStatusPaid))
		})

		It("fails the payment when the queue is full", func() {
			claims.set(20, expense.PaymentStatusPending)
			claims.set(21, expense.PaymentStatusPending)

			Expect(processor.HandleClaimEvent(ctx, events.NewClaimApprovedEvent(20, 1, decimal.NewFromInt(1), "IDR"))).To(Succeed())
			err := processor.HandleClaimEvent(ctx, events.NewClaimApprovedEvent(21, 1, decimal.NewFromInt(1), "IDR"))

			Expect(err).To(MatchError(payment.ErrQueueFull))
			Expect(claims.get(21)).To(Equal(expense.PaymentStatusFailed))
			Expect(claims.get(20)).To(Equal(expense.PaymentStatusPending))
		})
	})

	Describe("Shutdown", func() {
		It("finishes the payment in flight and fails the queued ones", func() {
			gateway.delay = 300 * time.Millisecond
			processor = payment.NewProcessor(payment.Config{MaxWorkers: 1, JobQueueSize: 5, Timeout: time.Second}, repo, claims, gateway, quietLogger)
			processor.Start()

			claims.set(30, expense.PaymentStatusPending)
			claims.set(31, expense.PaymentStatusPending)
			Expect(processor.Enqueue(job(30, false))).To(Succeed())
			Expect(processor.Enqueue(job(31, false))).To(Succeed())
			Eventually(func() expense.PaymentStatus { return claims.get(30) }).
				WithTimeout(time.Second).
				Should(Equal(expense.PaymentStatusProcessing))

			processor.Shutdown()

			Expect(claims.get(30)).To(Equal(expense.PaymentStatusPaid))
			Expect(claims.get(31)).To(Equal(expense.PaymentStatusFailed))
			p, err := repo.GetByClaimID(ctx, 30)
			Expect(err).NotTo(HaveOccurred())
			Expect(p.Status).To(Equal(payment.StatusPaid))
			Expect(gateway.calls()).To(Equal(1))
		})

		It("refuses new jobs and fails their claims", func() {
			processor.Shutdown()
			claims.set(32, expense.PaymentStatusPending)

			Expect(processor.Enqueue(job(32, false))).To(MatchError(payment.ErrStopped))
			err := processor.HandleClaimEvent(ctx, events.NewClaimApprovedEvent(32, 1, decimal.NewFromInt(1), "IDR"))
			Expect(err).To(MatchError(payment.ErrStopped))
			Expect(claims.get(32)).To(Equal(expense.PaymentStatusFailed))
		})
	})

	Describe("Recover", func() {
		AfterEach(func() {
			processor.Shutdown()
		})

		It("resends interrupted payments under their original key", func() {
			claims.set(40, expense.PaymentStatusProcessing)
			Expect(repo.Create(ctx, &payment.Payment{
				ClaimID: 40, ExternalID: payment.ExternalIDFor(40, 0),
				Amount: decimal.NewFromInt(2000000), Currency: "IDR", Status: payment.StatusProcessing,
			})).To(Succeed())
			claims.set(41, expense.PaymentStatusPending)
			claims.set(42, expense.PaymentStatusPaid)
			processor = payment.NewProcessor(payment.Config{MaxWorkers: 2, JobQueueSize: 5, Timeout: time.Second}, repo, claims, gateway, quietLogger)
			processor.Start()

			queued, err := processor.Recover(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(queued).To(Equal(2))

			Eventually(func() []expense.PaymentStatus {
				return []expense.PaymentStatus{claims.get(40), claims.get(41)}
			}).WithTimeout(2 * time.Second).Should(HaveEach(expense.PaymentStatusPaid))
			Expect(gateway.calls()).To(Equal(2))

			p, err := repo.GetByClaimID(ctx, 40)
			Expect(err).NotTo(HaveOccurred())
			Expect(p.ExternalID).To(Equal("claim-40-0"))
			Expect(p.RetryCount).To(BeZero())
		})
	})
})
