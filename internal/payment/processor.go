package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/frahmantamala/expense-claims/internal/core/events"
	"github.com/frahmantamala/expense-claims/internal/expense"
	"github.com/shopspring/decimal"
)

var (
	ErrQueueFull = errors.New("payment queue full, please try again later")
	ErrStopped   = errors.New("payment processor stopped")
)

type Job struct {
	ClaimID  int64
	Amount   decimal.Decimal
	Currency string
	Retry    bool
}

// ClaimPayments advances a claim's payment status only when it is still in
// the expected state.
type ClaimPayments interface {
	SetPaymentStatus(ctx context.Context, id int64, from, to expense.PaymentStatus) (bool, error)
	ListByPaymentStatus(ctx context.Context, statuses ...expense.PaymentStatus) ([]*expense.Claim, error)
}

type Repository interface {
	GetByClaimID(ctx context.Context, claimID int64) (*Payment, error)
	Create(ctx context.Context, p *Payment) error
	Save(ctx context.Context, p *Payment) error
}

type Config struct {
	MaxWorkers   int
	JobQueueSize int
	Timeout      time.Duration
}

type Worker struct {
	ID         int
	WorkerPool chan chan Job
	JobChannel chan Job
	Logger     *slog.Logger
}

func NewWorker(id int, workerPool chan chan Job, logger *slog.Logger) *Worker {
	return &Worker{
		ID:         id,
		WorkerPool: workerPool,
		JobChannel: make(chan Job),
		Logger:     logger,
	}
}

func (w *Worker) Start(ctx context.Context, wg *sync.WaitGroup, process func(Job)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case w.WorkerPool <- w.JobChannel:
			case <-ctx.Done():
				return
			}

			select {
			case job := <-w.JobChannel:
				w.Logger.Debug("worker processing job", "worker_id", w.ID, "claim_id", job.ClaimID)
				process(job)
			case <-ctx.Done():
				w.Logger.Debug("worker shutting down", "worker_id", w.ID)
				return
			}
		}
	}()
}

// Processor settles payable claims. Jobs arrive from claim events and are
// handed to a fixed pool of workers.
type Processor struct {
	repo    Repository
	claims  ClaimPayments
	gateway Gateway
	logger  *slog.Logger
	timeout time.Duration

	maxWorkers int
	jobQueue   chan Job
	workerPool chan chan Job
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	once       sync.Once
	// mu orders Enqueue against Shutdown so nothing lands in a drained queue.
	mu sync.Mutex
}

func NewProcessor(cfg Config, repo Repository, claims ClaimPayments, gateway Gateway, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	maxWorkers := cfg.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 5
	}
	queueSize := cfg.JobQueueSize
	if queueSize <= 0 {
		queueSize = 100
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Processor{
		repo:       repo,
		claims:     claims,
		gateway:    gateway,
		logger:     logger,
		timeout:    timeout,
		maxWorkers: maxWorkers,
		jobQueue:   make(chan Job, queueSize),
		workerPool: make(chan chan Job, maxWorkers),
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (p *Processor) Start() {
	p.once.Do(func() {
		// A job handed to a worker runs to completion even during shutdown.
		work := context.WithoutCancel(p.ctx)
		for i := 0; i < p.maxWorkers; i++ {
			NewWorker(i, p.workerPool, p.logger).Start(p.ctx, &p.wg, func(job Job) {
				if err := p.Process(work, job); err != nil {
					p.logger.Error("payment job failed", "claim_id", job.ClaimID, "error", err)
				}
			})
		}

		p.wg.Add(1)
		go p.dispatch()

		p.logger.Info("payment worker pool started",
			"max_workers", p.maxWorkers,
			"queue_size", cap(p.jobQueue))
	})
}

func (p *Processor) dispatch() {
	defer p.wg.Done()
	for {
		select {
		case job := <-p.jobQueue:
			select {
			case jobChannel := <-p.workerPool:
				select {
				case jobChannel <- job:
				case <-p.ctx.Done():
					p.abandon(job)
					return
				}
			case <-p.ctx.Done():
				p.abandon(job)
				return
			}
		case <-p.ctx.Done():
			p.logger.Info("payment dispatcher shutting down")
			return
		}
	}
}

// Shutdown stops the pool. Payments already at the gateway are finished and
// settled. Jobs still queued fail their claims so they can be retried.
func (p *Processor) Shutdown() {
	p.logger.Info("shutting down payment processor")
	p.mu.Lock()
	p.cancel()
	p.mu.Unlock()
	p.wg.Wait()

	for {
		select {
		case job := <-p.jobQueue:
			p.abandon(job)
		default:
			p.logger.Info("payment processor shutdown complete")
			return
		}
	}
}

func (p *Processor) Enqueue(job Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ctx.Err() != nil {
		return ErrStopped
	}
	select {
	case p.jobQueue <- job:
		p.logger.Info("payment job queued", "claim_id", job.ClaimID, "retry", job.Retry, "queue_length", len(p.jobQueue))
		return nil
	default:
		return ErrQueueFull
	}
}

// HandleClaimEvent is subscribed to claim.approved and
// payment.retry_requested. A job that cannot be queued fails the payment so
// a manager can retry it.
func (p *Processor) HandleClaimEvent(ctx context.Context, ev events.Event) error {
	claimEvent, ok := ev.(*events.ClaimPaymentEvent)
	if !ok {
		return fmt.Errorf("unexpected event payload %T", ev)
	}

	job := Job{
		ClaimID:  claimEvent.ClaimID,
		Amount:   claimEvent.Amount,
		Currency: claimEvent.Currency,
		Retry:    ev.EventType() == events.EventTypePaymentRetryRequested,
	}
	if err := p.Enqueue(job); err != nil {
		p.logger.Warn("payment job rejected", "claim_id", job.ClaimID, "error", err)
		if _, markErr := p.claims.SetPaymentStatus(context.WithoutCancel(ctx), job.ClaimID, expense.PaymentStatusPending, expense.PaymentStatusFailed); markErr != nil {
			return fmt.Errorf("failed to mark payment failed: %w", markErr)
		}
		return err
	}
	return nil
}

// Process settles one claim: pending -> processing -> paid|failed. A claim
// whose payment is no longer pending has been taken by another worker and is
// skipped.
func (p *Processor) Process(ctx context.Context, job Job) error {
	moved, err := p.claims.SetPaymentStatus(ctx, job.ClaimID, expense.PaymentStatusPending, expense.PaymentStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to claim payment: %w", err)
	}
	if !moved {
		p.logger.Info("payment not pending, skipping", "claim_id", job.ClaimID)
		return nil
	}

	record, err := p.begin(ctx, job)
	if err != nil {
		p.settleClaim(ctx, job.ClaimID, expense.PaymentStatusFailed)
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	result, err := p.gateway.Pay(callCtx, Request{
		ExternalID:  record.ExternalID,
		Amount:      job.Amount,
		Currency:    job.Currency,
		Description: fmt.Sprintf("Expense claim %d", job.ClaimID),
	})
	cancel()
	if err != nil {
		p.logger.Error("payment gateway call failed", "claim_id", job.ClaimID, "error", err)
		result = Result{Status: StatusFailed, FailureReason: err.Error()}
	}

	now := time.Now().UTC()
	record.Status = result.Status
	record.FailureReason = result.FailureReason
	record.GatewayResponse = result.Raw
	record.ProcessedAt = &now
	if err := p.repo.Save(ctx, record); err != nil {
		p.logger.Error("failed to save payment result", "claim_id", job.ClaimID, "error", err)
	}

	final := expense.PaymentStatusPaid
	if result.Status != StatusPaid {
		final = expense.PaymentStatusFailed
	}
	p.settleClaim(ctx, job.ClaimID, final)

	p.logger.Info("payment processed",
		"claim_id", job.ClaimID,
		"status", record.Status,
		"retry_count", record.RetryCount)
	return nil
}

func (p *Processor) begin(ctx context.Context, job Job) (*Payment, error) {
	record, err := p.repo.GetByClaimID(ctx, job.ClaimID)
	switch {
	case errors.Is(err, ErrNotFound):
		record = &Payment{
			ClaimID:    job.ClaimID,
			ExternalID: ExternalIDFor(job.ClaimID, 0),
			Amount:     job.Amount,
			Currency:   job.Currency,
			Status:     StatusProcessing,
		}
		if err := p.repo.Create(ctx, record); err != nil {
			return nil, fmt.Errorf("failed to create payment: %w", err)
		}
		return record, nil
	case err != nil:
		return nil, fmt.Errorf("failed to load payment: %w", err)
	}

	// A concluded attempt starts a new one with its own key. A record left in
	// processing was interrupted and is resent under the same key.
	if record.Status != StatusProcessing {
		record.RetryCount++
	}
	record.ExternalID = ExternalIDFor(job.ClaimID, record.RetryCount)
	record.Status = StatusProcessing
	record.FailureReason = ""
	if err := p.repo.Save(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to update payment: %w", err)
	}
	return record, nil
}

func (p *Processor) settleClaim(ctx context.Context, claimID int64, to expense.PaymentStatus) {
	if _, err := p.claims.SetPaymentStatus(ctx, claimID, expense.PaymentStatusProcessing, to); err != nil {
		p.logger.Error("failed to update claim payment status", "claim_id", claimID, "to", to, "error", err)
	}
}

// abandon fails a job that will not run so the claim can be retried.
func (p *Processor) abandon(job Job) {
	ctx := context.WithoutCancel(p.ctx)
	moved, err := p.claims.SetPaymentStatus(ctx, job.ClaimID, expense.PaymentStatusPending, expense.PaymentStatusFailed)
	if err != nil {
		p.logger.Error("failed to fail abandoned payment", "claim_id", job.ClaimID, "error", err)
		return
	}
	if moved {
		p.logger.Warn("payment abandoned on shutdown", "claim_id", job.ClaimID)
	}
}

// Recover queues the payments a previous run left unsettled. A claim caught
// in processing goes back to pending; its payment record is still in
// processing, so the gateway sees the interrupted attempt's key again.
func (p *Processor) Recover(ctx context.Context) (int, error) {
	claims, err := p.claims.ListByPaymentStatus(ctx, expense.PaymentStatusPending, expense.PaymentStatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("failed to list unsettled payments: %w", err)
	}

	queued := 0
	for _, c := range claims {
		if c.PaymentStatus == expense.PaymentStatusProcessing {
			moved, err := p.claims.SetPaymentStatus(ctx, c.ID, expense.PaymentStatusProcessing, expense.PaymentStatusPending)
			if err != nil {
				return queued, fmt.Errorf("failed to reset payment of claim %d: %w", c.ID, err)
			}
			if !moved {
				continue
			}
		}

		job := Job{ClaimID: c.ID, Amount: c.Amount.Amount, Currency: string(c.Amount.Currency)}
		if err := p.Enqueue(job); err != nil {
			p.logger.Warn("unsettled payment not queued", "claim_id", c.ID, "error", err)
			p.abandon(job)
			continue
		}
		queued++
	}
	if queued > 0 {
		p.logger.Info("recovered unsettled payments", "count", queued)
	}
	return queued, nil
}
