package expense

import (
	"time"

	"github.com/frahmantamala/expense-claims/internal"
	"github.com/frahmantamala/expense-claims/internal/auth"
	"github.com/frahmantamala/expense-claims/internal/core/money"
)

// Lifecycle holds the claim state machine. Its checks are pure: they read
// the claim and the actor and never touch storage.
//
//	pending_approval --approve--> approved
//	pending_approval --reject---> rejected
//	approved|auto_approved with payment failed --retry--> payment pending
type Lifecycle struct {
	Policy auth.Policy
}

func NewLifecycle(policy auth.Policy) Lifecycle {
	return Lifecycle{Policy: policy}
}

// InitialStatus applies the auto-approval threshold of the amount's
// currency. An amount equal to the threshold needs a human.
func (l Lifecycle) InitialStatus(amount money.Money) Status {
	if l.Policy.AutoApproves(amount) {
		return StatusAutoApproved
	}
	return StatusPendingApproval
}

// Checks run authorization first, then the source state, then the
// payload, so a denied actor learns nothing about the claim's state.

func (l Lifecycle) CheckApprove(c *Claim, actor *auth.User) error {
	if err := l.authorize(c, actor, auth.ActionApprove); err != nil {
		return err
	}
	if c.Status != StatusPendingApproval {
		return internal.NewInvalidTransitionError("approve", string(c.Status))
	}
	return nil
}

func (l Lifecycle) CheckReject(c *Claim, actor *auth.User, reason string) error {
	if err := l.authorize(c, actor, auth.ActionReject); err != nil {
		return err
	}
	if c.Status != StatusPendingApproval {
		return internal.NewInvalidTransitionError("reject", string(c.Status))
	}
	return ValidateReason(reason)
}

func (l Lifecycle) CheckRetryPayment(c *Claim, actor *auth.User) error {
	if actor == nil || !l.Policy.CanRetryPayment(actor.Role) {
		return internal.NewForbiddenError("you are not allowed to retry payments", internal.ErrCodeUnauthorizedAccess)
	}
	if !c.NeedsPayment() || c.PaymentStatus != PaymentStatusFailed {
		return internal.NewConflictError("payment can only be retried after it has failed", internal.ErrCodeInvalidTransition)
	}
	return nil
}

// CheckUpdate allows edits by the submitter while the claim awaits review.
func (l Lifecycle) CheckUpdate(c *Claim, actor *auth.User) error {
	if actor == nil || (actor.ID != c.SubmitterID && !actor.IsAdmin()) {
		return internal.ErrUnauthorizedAccess
	}
	if c.Status != StatusPendingApproval {
		return internal.ErrCannotModifyExpense
	}
	return nil
}

// Approve returns the approved copy of c. c itself is left untouched.
func (l Lifecycle) Approve(c Claim, actor *auth.User, notes string, now time.Time) (Claim, error) {
	if err := l.CheckApprove(&c, actor); err != nil {
		return c, err
	}
	c.Status = StatusApproved
	c.ApprovalNotes = notes
	c.ProcessedBy = actor.ID
	c.ProcessedAt = &now
	c.PaymentStatus = PaymentStatusPending
	c.UpdatedAt = now
	return c, nil
}

func (l Lifecycle) Reject(c Claim, actor *auth.User, reason string, now time.Time) (Claim, error) {
	if err := l.CheckReject(&c, actor, reason); err != nil {
		return c, err
	}
	c.Status = StatusRejected
	c.RejectionReason = reason
	c.ProcessedBy = actor.ID
	c.ProcessedAt = &now
	c.UpdatedAt = now
	return c, nil
}

// RequestPaymentRetry moves a failed payment back to pending. The approval
// status does not change.
func (l Lifecycle) RequestPaymentRetry(c Claim, actor *auth.User, now time.Time) (Claim, error) {
	if err := l.CheckRetryPayment(&c, actor); err != nil {
		return c, err
	}
	c.PaymentStatus = PaymentStatusPending
	c.UpdatedAt = now
	return c, nil
}

// ActionsFor lists the actions actor may currently take on c.
func (l Lifecycle) ActionsFor(c *Claim, actor *auth.User) []auth.Action {
	var actions []auth.Action
	if l.CheckApprove(c, actor) == nil {
		actions = append(actions, auth.ActionApprove)
	}
	if l.CheckReject(c, actor, "-") == nil {
		actions = append(actions, auth.ActionReject)
	}
	if l.CheckRetryPayment(c, actor) == nil {
		actions = append(actions, auth.ActionRetryPayment)
	}
	return actions
}

func (l Lifecycle) authorize(c *Claim, actor *auth.User, action auth.Action) error {
	if actor == nil || !l.Policy.CanTransition(actor.Role, c.Amount, action) {
		return internal.NewForbiddenError("you are not allowed to "+string(action)+" this claim", internal.ErrCodeUnauthorizedAccess)
	}
	return nil
}
