package expense

import (
	"net/http"

	"github.com/frahmantamala/expense-claims/internal/transport"
	"github.com/frahmantamala/expense-claims/pkg/logger"
	"github.com/go-chi/chi"
)

// Handler serves the claim endpoints on top of a BackendAPI. Request
// bodies run through the same Rules the client uses before reaching it.
type Handler struct {
	*transport.BaseHandler
	backend BackendAPI
	rules   Rules
}

func NewHandler(base *transport.BaseHandler, backend BackendAPI, rules Rules) *Handler {
	return &Handler{BaseHandler: base, backend: backend, rules: rules}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.ListClaims)
	r.Post("/", h.CreateClaim)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.GetClaim)
		r.Patch("/", h.UpdateClaim)
		r.Post("/approve", h.ApproveClaim)
		r.Post("/reject", h.RejectClaim)
		r.Post("/retry-payment", h.RetryPayment)
	})
}

func (h *Handler) ListClaims(w http.ResponseWriter, r *http.Request) {
	filters, page := ParseQuery(r.URL.Query())

	result, err := h.backend.List(r.Context(), filters, page)
	if err != nil {
		h.HandleServiceError(w, r, err)
		return
	}

	resp := ListClaimsResponse{Data: make([]ClaimView, 0, len(result.Items)), Pagination: result.PageInfo}
	for _, c := range result.Items {
		resp.Data = append(resp.Data, ToView(c))
	}
	h.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetClaim(w http.ResponseWriter, r *http.Request) {
	id, ok := h.PathID(w, r, "id")
	if !ok {
		return
	}

	c, err := h.backend.Get(r.Context(), id)
	if err != nil {
		h.HandleServiceError(w, r, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, ToView(c))
}

func (h *Handler) CreateClaim(w http.ResponseWriter, r *http.Request) {
	var req CreateClaimRequest
	if !h.DecodeJSON(w, r, &req) {
		return
	}

	dto, res := h.rules.Normalize(req.Input())
	if !res.Valid {
		h.HandleServiceError(w, r, res.Err())
		return
	}

	c, err := h.backend.Create(r.Context(), dto)
	if err != nil {
		h.HandleServiceError(w, r, err)
		return
	}

	logger.From(r.Context()).Info("claim submitted", "claim_id", c.ID, "status", c.Status)
	h.WriteJSON(w, http.StatusCreated, ToView(c))
}

func (h *Handler) UpdateClaim(w http.ResponseWriter, r *http.Request) {
	id, ok := h.PathID(w, r, "id")
	if !ok {
		return
	}

	var in UpdateClaimInput
	if !h.DecodeJSON(w, r, &in) {
		return
	}
	if in.Empty() {
		h.WriteError(w, http.StatusBadRequest, "no fields to update")
		return
	}

	dto, res := h.rules.NormalizeUpdate(in)
	if !res.Valid {
		h.HandleServiceError(w, r, res.Err())
		return
	}

	c, err := h.backend.Update(r.Context(), id, dto)
	if err != nil {
		h.HandleServiceError(w, r, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, ToView(c))
}

func (h *Handler) ApproveClaim(w http.ResponseWriter, r *http.Request) {
	id, ok := h.PathID(w, r, "id")
	if !ok {
		return
	}

	var req ApproveClaimRequest
	if !h.DecodeAndValidate(w, r, &req, true) {
		return
	}

	c, err := h.backend.Approve(r.Context(), id, req.Notes)
	if err != nil {
		h.HandleServiceError(w, r, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, ToView(c))
}

func (h *Handler) RejectClaim(w http.ResponseWriter, r *http.Request) {
	id, ok := h.PathID(w, r, "id")
	if !ok {
		return
	}

	var req RejectClaimRequest
	if !h.DecodeAndValidate(w, r, &req, true) {
		return
	}

	c, err := h.backend.Reject(r.Context(), id, req.Reason)
	if err != nil {
		h.HandleServiceError(w, r, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, ToView(c))
}

func (h *Handler) RetryPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.PathID(w, r, "id")
	if !ok {
		return
	}

	c, err := h.backend.RetryPayment(r.Context(), id)
	if err != nil {
		h.HandleServiceError(w, r, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, ToView(c))
}
