// Package storage uploads receipt files to the file storage service.
package storage

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/frahmantamala/expense-claims/internal"
	"github.com/gabriel-vasile/mimetype"
)

// Object is a stored file.
type Object struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
}

type Uploader interface {
	UploadReceipt(ctx context.Context, data []byte, mimeType string) (Object, error)
}

// Guard rejects files the receipt policy does not accept before any bytes
// leave the process. Content is sniffed; the declared type is not trusted.
type Guard struct {
	AllowedMimeTypes []string
	MaxSizeBytes     int64
}

func NewGuard(cfg internal.ReceiptConfig) Guard {
	return Guard{AllowedMimeTypes: cfg.AllowedMimeTypes, MaxSizeBytes: cfg.MaxSizeBytes}
}

// Check returns the detected MIME type of data.
func (g Guard) Check(data []byte) (string, error) {
	if len(data) == 0 {
		return "", uploadError("receipt file is empty", nil)
	}
	if g.MaxSizeBytes > 0 && int64(len(data)) > g.MaxSizeBytes {
		return "", uploadError("receipt exceeds "+humanize.IBytes(uint64(g.MaxSizeBytes)), nil)
	}

	detected := mimetype.Detect(data)
	for _, allowed := range g.AllowedMimeTypes {
		if detected.Is(allowed) {
			return allowed, nil
		}
	}
	return "", uploadError(fmt.Sprintf("receipt type %s is not supported (allowed: %s)",
		detected.String(), strings.Join(g.AllowedMimeTypes, ", ")), nil)
}

type guarded struct {
	next  Uploader
	guard Guard
}

// WithGuard checks every file with g before handing it to next.
func WithGuard(next Uploader, g Guard) Uploader {
	return &guarded{next: next, guard: g}
}

func (u *guarded) UploadReceipt(ctx context.Context, data []byte, _ string) (Object, error) {
	mimeType, err := u.guard.Check(data)
	if err != nil {
		return Object{}, err
	}
	return u.next.UploadReceipt(ctx, data, mimeType)
}

// extension returns the file extension for mimeType, including the dot.
func extension(data []byte, mimeType string) string {
	if m := mimetype.Lookup(mimeType); m != nil {
		return m.Extension()
	}
	return mimetype.Detect(data).Extension()
}

func uploadError(message string, cause error) *internal.AppError {
	e := internal.NewExternalError(message, internal.ErrCodeUploadFailed, cause)
	if cause == nil {
		e.StatusCode = http.StatusUnprocessableEntity
	}
	return e
}
