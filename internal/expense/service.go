package expense

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/frahmantamala/expense-claims/internal"
	"github.com/frahmantamala/expense-claims/internal/auth"
	"github.com/frahmantamala/expense-claims/internal/category"
	"github.com/frahmantamala/expense-claims/internal/storage"
)

// BackendAPI is the claim repository as the client sees it. Transition
// calls carry only the claim id and the action; the backend decides
// whether the transition is still legal.
type BackendAPI interface {
	List(ctx context.Context, filters Filters, page Pagination) (Page, error)
	Get(ctx context.Context, id int64) (*Claim, error)
	Create(ctx context.Context, dto CreateClaimDTO) (*Claim, error)
	Update(ctx context.Context, id int64, dto UpdateClaimDTO) (*Claim, error)
	Approve(ctx context.Context, id int64, notes string) (*Claim, error)
	Reject(ctx context.Context, id int64, reason string) (*Claim, error)
	RetryPayment(ctx context.Context, id int64) (*Claim, error)
	ListCategories(ctx context.Context) ([]category.Category, error)
}

// Identity reports who is signed in.
type Identity interface {
	CurrentUser() (*auth.User, bool)
}

// Workflow drives claims from the client side: it validates locally, runs
// the lifecycle guards against the cached claim, sends one request per
// command and records the backend's answer in State.
type Workflow struct {
	backend   BackendAPI
	uploader  storage.Uploader
	identity  Identity
	rules     Rules
	lifecycle Lifecycle
	state     *State
	logger    *slog.Logger

	mu         sync.RWMutex
	categories []category.Category
}

func NewWorkflow(backend BackendAPI, uploader storage.Uploader, identity Identity, rules Rules, lifecycle Lifecycle, state *State, logger *slog.Logger) *Workflow {
	if logger == nil {
		logger = slog.Default()
	}
	return &Workflow{
		backend:   backend,
		uploader:  uploader,
		identity:  identity,
		rules:     rules,
		lifecycle: lifecycle,
		state:     state,
		logger:    logger,
	}
}

func (w *Workflow) State() *State {
	return w.state
}

// Validate runs the claim rules without submitting.
func (w *Workflow) Validate(in ClaimInput) ValidationResult {
	return w.currentRules().Validate(in)
}

func (w *Workflow) Submit(ctx context.Context, in ClaimInput) (*Claim, error) {
	if _, err := w.actor(); err != nil {
		return nil, err
	}

	dto, res := w.currentRules().Normalize(in)
	if !res.Valid {
		return nil, res.Err()
	}

	claim, err := w.backend.Create(ctx, dto)
	if err != nil {
		w.logger.WarnContext(ctx, "submit claim failed", "error", err)
		return nil, err
	}

	w.logger.InfoContext(ctx, "claim submitted", "claim_id", claim.ID, "status", claim.Status)
	w.state.Upsert(claim)
	return claim, nil
}

func (w *Workflow) Update(ctx context.Context, id int64, in UpdateClaimInput) (*Claim, error) {
	actor, err := w.actor()
	if err != nil {
		return nil, err
	}
	rules := w.currentRules()
	if cached, ok := w.state.Get(id); ok {
		if err := w.lifecycle.CheckUpdate(&cached, actor); err != nil {
			return nil, err
		}
		if res := rules.ValidateChange(&cached, in); !res.Valid {
			return nil, res.Err()
		}
	}

	dto, res := rules.NormalizeUpdate(in)
	if !res.Valid {
		return nil, res.Err()
	}

	claim, err := w.backend.Update(ctx, id, dto)
	return w.settle(ctx, id, claim, err)
}

func (w *Workflow) Approve(ctx context.Context, id int64, notes string) (*Claim, error) {
	actor, err := w.actor()
	if err != nil {
		return nil, err
	}
	if cached, ok := w.state.Get(id); ok {
		if err := w.lifecycle.CheckApprove(&cached, actor); err != nil {
			return nil, err
		}
	}

	claim, err := w.backend.Approve(ctx, id, notes)
	return w.settle(ctx, id, claim, err)
}

func (w *Workflow) Reject(ctx context.Context, id int64, reason string) (*Claim, error) {
	actor, err := w.actor()
	if err != nil {
		return nil, err
	}
	if cached, ok := w.state.Get(id); ok {
		if err := w.lifecycle.CheckReject(&cached, actor, reason); err != nil {
			return nil, err
		}
	} else if err := ValidateReason(reason); err != nil {
		return nil, err
	}

	claim, err := w.backend.Reject(ctx, id, reason)
	return w.settle(ctx, id, claim, err)
}

func (w *Workflow) RetryPayment(ctx context.Context, id int64) (*Claim, error) {
	actor, err := w.actor()
	if err != nil {
		return nil, err
	}
	if cached, ok := w.state.Get(id); ok {
		if err := w.lifecycle.CheckRetryPayment(&cached, actor); err != nil {
			return nil, err
		}
	}

	claim, err := w.backend.RetryPayment(ctx, id)
	return w.settle(ctx, id, claim, err)
}

func (w *Workflow) Get(ctx context.Context, id int64) (*Claim, error) {
	claim, err := w.backend.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	w.state.Upsert(claim)
	return claim, nil
}

// Categories loads the category set once and from then on also checks
// submissions against it.
func (w *Workflow) Categories(ctx context.Context) ([]category.Category, error) {
	w.mu.RLock()
	cached := w.categories
	w.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	cats, err := w.backend.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	if cats == nil {
		cats = []category.Category{}
	}

	w.mu.Lock()
	w.categories = cats
	w.mu.Unlock()
	return cats, nil
}

// UploadReceipt stores a receipt file. On failure the returned input
// carries the upload error so the form can show it; the claim can still
// be submitted without a receipt.
func (w *Workflow) UploadReceipt(ctx context.Context, data []byte, mimeType string) (*ReceiptInput, error) {
	obj, err := w.uploader.UploadReceipt(ctx, data, mimeType)
	if err != nil {
		w.logger.WarnContext(ctx, "receipt upload failed", "error", err)
		if _, ok := internal.IsAppError(err); !ok {
			err = internal.ErrUploadFailed.WithCause(err)
		}
		return &ReceiptInput{UploadError: err.Error()}, err
	}
	return &ReceiptInput{URL: obj.URL, Filename: obj.Filename}, nil
}

// ActionsFor lists what the signed-in user may do with claim.
func (w *Workflow) ActionsFor(claim *Claim) []auth.Action {
	actor, err := w.actor()
	if err != nil {
		return nil
	}
	return w.lifecycle.ActionsFor(claim, actor)
}

// settle records a command's result. When the backend reports the claim
// moved on, the cached copy is refreshed so the caller sees its real state.
func (w *Workflow) settle(ctx context.Context, id int64, claim *Claim, err error) (*Claim, error) {
	if err == nil {
		w.state.Upsert(claim)
		return claim, nil
	}

	if errors.Is(err, internal.ErrInvalidTransition) || errors.Is(err, internal.ErrCannotModifyExpense) {
		if fresh, gerr := w.backend.Get(ctx, id); gerr == nil {
			w.state.Upsert(fresh)
		} else {
			w.logger.WarnContext(ctx, "refresh after rejected transition failed", "claim_id", id, "error", gerr)
		}
	}
	return nil, err
}

func (w *Workflow) actor() (*auth.User, error) {
	if w.identity == nil {
		return nil, internal.ErrSessionExpired
	}
	u, ok := w.identity.CurrentUser()
	if !ok {
		return nil, internal.ErrSessionExpired
	}
	return u, nil
}

func (w *Workflow) currentRules() Rules {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if len(w.categories) == 0 {
		return w.rules
	}
	return w.rules.WithCategories(category.Names(w.categories))
}
