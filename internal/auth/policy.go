package auth

import (
	"github.com/frahmantamala/expense-claims/internal/core/money"
	"github.com/shopspring/decimal"
)

// Policy decides who may move a claim through its lifecycle.
//
// Ownership plays no part in transition decisions: a manager may approve a
// claim they submitted themselves.
type Policy struct {
	Thresholds map[money.Currency]decimal.Decimal
}

func NewPolicy(thresholds map[money.Currency]decimal.Decimal) Policy {
	return Policy{Thresholds: thresholds}
}

// AutoApproves reports whether amount is under its currency's threshold.
// A currency without a threshold always needs a human.
func (p Policy) AutoApproves(amount money.Money) bool {
	threshold, ok := p.Thresholds[amount.Currency]
	return ok && amount.LessThan(threshold)
}

// CanTransition reports whether role may approve or reject a claim of the
// given amount. Claims under the threshold never wait for a human, so a
// manager acting on one is denied.
func (p Policy) CanTransition(role Role, amount money.Money, action Action) bool {
	if action != ActionApprove && action != ActionReject {
		return false
	}
	switch role {
	case RoleAdmin:
		return true
	case RoleManager:
		return !p.AutoApproves(amount)
	default:
		return false
	}
}

func (p Policy) CanRetryPayment(role Role) bool {
	return role == RoleManager || role == RoleAdmin
}

// CanView allows owners, managers and admins to read a claim.
func (p Policy) CanView(u *User, ownerID int64) bool {
	if u == nil {
		return false
	}
	return u.IsManager() || u.ID == ownerID
}

// CanListAll reports whether u sees every submitter's claims.
func (p Policy) CanListAll(u *User) bool {
	return u.IsManager()
}
