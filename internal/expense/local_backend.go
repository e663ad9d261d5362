package expense

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/frahmantamala/expense-claims/internal"
	"github.com/frahmantamala/expense-claims/internal/auth"
	"github.com/frahmantamala/expense-claims/internal/category"
	"github.com/frahmantamala/expense-claims/internal/core/events"
	"github.com/frahmantamala/expense-claims/internal/lock"
	"github.com/frahmantamala/expense-claims/pkg/logger"
)

// Expect is the state a conditional write requires the stored row to be in.
type Expect struct {
	Status        Status
	PaymentStatus PaymentStatus
}

// RepositoryAPI stores claims. CompareAndSwap writes c only while the row
// still matches expect and reports whether it did.
type RepositoryAPI interface {
	Create(ctx context.Context, c *Claim) error
	GetByID(ctx context.Context, id int64) (*Claim, error)
	List(ctx context.Context, filters Filters, page Pagination) ([]*Claim, int64, error)
	CompareAndSwap(ctx context.Context, c *Claim, expect Expect) (bool, error)
}

type CategorySource interface {
	ListActive(ctx context.Context) ([]category.Category, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

// LocalBackend is the authoritative BackendAPI. It owns initial status
// assignment and rejects transitions the stored claim no longer allows,
// whatever the caller believed the state to be. The acting user comes
// from the request context.
type LocalBackend struct {
	repo       RepositoryAPI
	categories CategorySource
	rules      Rules
	lifecycle  Lifecycle
	locker     lock.Locker
	events     EventPublisher
	logger     *slog.Logger
	now        func() time.Time
}

func NewLocalBackend(repo RepositoryAPI, categories CategorySource, rules Rules, lifecycle Lifecycle, locker lock.Locker, publisher EventPublisher, logger *slog.Logger) *LocalBackend {
	if locker == nil {
		locker = lock.NewMemoryLocker()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalBackend{
		repo:       repo,
		categories: categories,
		rules:      rules,
		lifecycle:  lifecycle,
		locker:     locker,
		events:     publisher,
		logger:     logger,
		now:        time.Now,
	}
}

func (b *LocalBackend) List(ctx context.Context, filters Filters, page Pagination) (Page, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return Page{}, err
	}
	if !b.lifecycle.Policy.CanListAll(actor) {
		filters.SubmitterID = actor.ID
	}

	page = page.Normalize()
	items, total, err := b.repo.List(ctx, filters, page)
	if err != nil {
		b.logger.ErrorContext(ctx, "failed to list claims", "error", err)
		return Page{}, internal.NewInternalError("failed to list expenses", err)
	}

	return Page{
		Items: items,
		PageInfo: PageInfo{
			Page:    page.Page,
			PerPage: page.PerPage,
			Total:   total,
			HasMore: int64(page.Offset()+len(items)) < total,
		},
	}, nil
}

func (b *LocalBackend) Get(ctx context.Context, id int64) (*Claim, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	c, err := b.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !b.lifecycle.Policy.CanView(actor, c.SubmitterID) {
		return nil, internal.ErrUnauthorizedAccess
	}
	return c, nil
}

func (b *LocalBackend) Create(ctx context.Context, dto CreateClaimDTO) (*Claim, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}

	rules, err := b.rulesWithCategories(ctx)
	if err != nil {
		return nil, err
	}
	if res := rules.Validate(dto.Input()); !res.Valid {
		return nil, res.Err()
	}

	c := NewClaim(actor.ID, dto, b.lifecycle, b.now())
	if err := b.repo.Create(ctx, c); err != nil {
		b.logger.ErrorContext(ctx, "failed to create claim", "error", err, "user_id", actor.ID)
		return nil, internal.NewInternalError("failed to create expense", err)
	}

	logger.From(ctx).Info("claim created", "claim_id", c.ID, "status", c.Status, "amount", c.Amount.String())
	if c.Status == StatusAutoApproved {
		b.publish(ctx, events.NewClaimApprovedEvent(c.ID, c.SubmitterID, c.Amount.Amount, string(c.Amount.Currency)))
	}
	return c, nil
}

func (b *LocalBackend) Update(ctx context.Context, id int64, dto UpdateClaimDTO) (*Claim, error) {
	return b.mutate(ctx, id, func(c Claim, actor *auth.User) (Claim, error) {
		if err := b.lifecycle.CheckUpdate(&c, actor); err != nil {
			return c, err
		}

		rules, err := b.rulesWithCategories(ctx)
		if err != nil {
			return c, err
		}
		if res := rules.ValidateChange(&c, dto.Input()); !res.Valid {
			return c, res.Err()
		}

		now := b.now()
		dto.Apply(&c)
		c.UpdatedAt = now
		if b.lifecycle.InitialStatus(c.Amount) == StatusAutoApproved {
			c.Status = StatusAutoApproved
			c.ProcessedAt = &now
			c.PaymentStatus = PaymentStatusPending
		}
		return c, nil
	})
}

func (b *LocalBackend) Approve(ctx context.Context, id int64, notes string) (*Claim, error) {
	return b.mutate(ctx, id, func(c Claim, actor *auth.User) (Claim, error) {
		return b.lifecycle.Approve(c, actor, notes, b.now())
	})
}

func (b *LocalBackend) Reject(ctx context.Context, id int64, reason string) (*Claim, error) {
	return b.mutate(ctx, id, func(c Claim, actor *auth.User) (Claim, error) {
		return b.lifecycle.Reject(c, actor, reason, b.now())
	})
}

func (b *LocalBackend) RetryPayment(ctx context.Context, id int64) (*Claim, error) {
	return b.mutate(ctx, id, func(c Claim, actor *auth.User) (Claim, error) {
		return b.lifecycle.RequestPaymentRetry(c, actor, b.now())
	})
}

func (b *LocalBackend) ListCategories(ctx context.Context) ([]category.Category, error) {
	if b.categories == nil {
		return []category.Category{}, nil
	}
	return b.categories.ListActive(ctx)
}

// mutate runs change against the stored claim while holding the claim's
// lock, then writes the result only if the row has not moved meanwhile.
func (b *LocalBackend) mutate(ctx context.Context, id int64, change func(Claim, *auth.User) (Claim, error)) (*Claim, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}

	l, err := b.locker.Obtain(ctx, lock.ClaimKey(id))
	if errors.Is(err, lock.ErrNotObtained) {
		return nil, internal.ErrClaimBusy
	}
	if err != nil {
		return nil, internal.NewInternalError("failed to lock expense", err)
	}
	defer func() {
		if err := l.Release(context.WithoutCancel(ctx)); err != nil {
			b.logger.WarnContext(ctx, "failed to release claim lock", "claim_id", id, "error", err)
		}
	}()

	current, err := b.load(ctx, id)
	if err != nil {
		return nil, err
	}

	updated, err := change(*current, actor)
	if err != nil {
		logger.From(ctx).Info("claim change refused", "claim_id", id, "status", current.Status, "error", err)
		return nil, err
	}

	swapped, err := b.repo.CompareAndSwap(ctx, &updated, Expect{Status: current.Status, PaymentStatus: current.PaymentStatus})
	if err != nil {
		b.logger.ErrorContext(ctx, "failed to store claim", "claim_id", id, "error", err)
		return nil, internal.NewInternalError("failed to update expense", err)
	}
	if !swapped {
		return nil, internal.ErrInvalidTransition
	}

	logger.From(ctx).Info("claim updated",
		"claim_id", id,
		"actor_id", actor.ID,
		"status", updated.Status,
		"payment_status", updated.PaymentStatus)
	b.announce(ctx, current, &updated)
	return &updated, nil
}

// announce raises payment events for changes that need settlement.
func (b *LocalBackend) announce(ctx context.Context, before, after *Claim) {
	amount, currency := after.Amount.Amount, string(after.Amount.Currency)
	switch {
	case !before.NeedsPayment() && after.NeedsPayment():
		b.publish(ctx, events.NewClaimApprovedEvent(after.ID, after.SubmitterID, amount, currency))
	case before.PaymentStatus == PaymentStatusFailed && after.PaymentStatus == PaymentStatusPending:
		b.publish(ctx, events.NewPaymentRetryRequestedEvent(after.ID, after.SubmitterID, amount, currency))
	}
}

func (b *LocalBackend) publish(ctx context.Context, ev events.Event) {
	if b.events == nil {
		return
	}
	if err := b.events.Publish(ctx, ev); err != nil {
		b.logger.ErrorContext(ctx, "failed to publish event", "event_type", ev.EventType(), "error", err)
	}
}

func (b *LocalBackend) load(ctx context.Context, id int64) (*Claim, error) {
	c, err := b.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, internal.ErrExpenseNotFound) {
			return nil, err
		}
		return nil, internal.NewInternalError("failed to load expense", err)
	}
	if c == nil {
		return nil, internal.ErrExpenseNotFound
	}
	return c, nil
}

func (b *LocalBackend) rulesWithCategories(ctx context.Context) (Rules, error) {
	if b.categories == nil {
		return b.rules, nil
	}
	cats, err := b.categories.ListActive(ctx)
	if err != nil {
		return b.rules, internal.NewInternalError("failed to load categories", err)
	}
	return b.rules.WithCategories(category.Names(cats)), nil
}

func actorFrom(ctx context.Context) (*auth.User, error) {
	u, ok := auth.UserFromContext(ctx)
	if !ok {
		return nil, internal.ErrSessionExpired
	}
	return u, nil
}
