package storage

import (
	"io"
	"net/http"

	"github.com/frahmantamala/expense-claims/internal/transport"
)

// Handler exposes an Uploader as the multipart endpoint HTTPUploader
// talks to, so the reference backend can front a GCS bucket.
type Handler struct {
	*transport.BaseHandler
	uploader Uploader
	maxBytes int64
}

func NewHandler(base *transport.BaseHandler, uploader Uploader, maxBytes int64) *Handler {
	if maxBytes <= 0 {
		maxBytes = 5 << 20
	}
	return &Handler{BaseHandler: base, uploader: uploader, maxBytes: maxBytes}
}

// UploadReceipt handles POST /receipts with a "file" form part.
func (h *Handler) UploadReceipt(w http.ResponseWriter, r *http.Request) {
	// one extra KiB for multipart framing
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+1<<10)

	file, header, err := r.FormFile("file")
	if err != nil {
		h.WriteError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxBytes+1))
	if err != nil {
		h.WriteError(w, http.StatusBadRequest, "failed to read file")
		return
	}

	obj, err := h.uploader.UploadReceipt(r.Context(), data, header.Header.Get("Content-Type"))
	if err != nil {
		h.HandleServiceError(w, r, err)
		return
	}
	h.WriteJSON(w, http.StatusCreated, obj)
}
