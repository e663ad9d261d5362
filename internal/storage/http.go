package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/google/uuid"
)

// HTTPUploader posts receipts as multipart/form-data to an upload endpoint
// that answers with {"url": ..., "filename": ...}.
type HTTPUploader struct {
	uploadURL string
	client    *http.Client
	logger    *slog.Logger
}

func NewHTTPUploader(uploadURL string, timeout time.Duration, logger *slog.Logger) *HTTPUploader {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPUploader{
		uploadURL: uploadURL,
		client:    &http.Client{Timeout: timeout},
		logger:    logger,
	}
}

func (u *HTTPUploader) UploadReceipt(ctx context.Context, data []byte, mimeType string) (Object, error) {
	filename := uuid.NewString() + extension(data, mimeType)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename))
	header.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return Object{}, uploadError("Receipt upload failed", err)
	}
	if _, err := part.Write(data); err != nil {
		return Object{}, uploadError("Receipt upload failed", err)
	}
	if err := mw.Close(); err != nil {
		return Object{}, uploadError("Receipt upload failed", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.uploadURL, &body)
	if err != nil {
		return Object{}, uploadError("Receipt upload failed", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := u.client.Do(req)
	if err != nil {
		u.logger.WarnContext(ctx, "receipt upload request failed", "error", err)
		return Object{}, uploadError("Receipt upload failed", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		u.logger.WarnContext(ctx, "receipt upload rejected", "status_code", resp.StatusCode)
		return Object{}, uploadError("Receipt upload failed", fmt.Errorf("storage returned status %d", resp.StatusCode))
	}

	var obj Object
	if err := json.Unmarshal(raw, &obj); err != nil {
		return Object{}, uploadError("Receipt upload failed", fmt.Errorf("decode upload response: %w", err))
	}
	if obj.URL == "" {
		return Object{}, uploadError("Receipt upload failed", fmt.Errorf("storage response has no url"))
	}
	if obj.Filename == "" {
		obj.Filename = filename
	}

	u.logger.InfoContext(ctx, "receipt uploaded", "filename", obj.Filename)
	return obj, nil
}
