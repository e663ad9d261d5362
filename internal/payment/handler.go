package payment

import (
	"context"
	"errors"
	"net/http"

	"github.com/frahmantamala/expense-claims/internal"
	"github.com/frahmantamala/expense-claims/internal/expense"
	"github.com/frahmantamala/expense-claims/internal/transport"
	"github.com/go-chi/chi"
)

// ClaimReader resolves a claim for the caller, enforcing view access.
type ClaimReader interface {
	Get(ctx context.Context, id int64) (*expense.Claim, error)
}

type Handler struct {
	*transport.BaseHandler
	repo   Repository
	claims ClaimReader
}

func NewHandler(base *transport.BaseHandler, repo Repository, claims ClaimReader) *Handler {
	return &Handler{BaseHandler: base, repo: repo, claims: claims}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/{claimID}", h.GetPayment)
}

// GetPayment returns the payment record of a claim the caller can view.
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	claimID, ok := h.PathID(w, r, "claimID")
	if !ok {
		return
	}

	if _, err := h.claims.Get(r.Context(), claimID); err != nil {
		h.HandleServiceError(w, r, err)
		return
	}

	p, err := h.repo.GetByClaimID(r.Context(), claimID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			h.WriteAppError(w, internal.NewNotFoundError("No payment recorded for this claim", internal.ErrCodePaymentNotFound))
			return
		}
		h.HandleServiceError(w, r, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, p)
}
