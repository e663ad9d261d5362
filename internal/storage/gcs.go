package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/option"
)

// GCSUploader writes receipts into a Google Cloud Storage bucket.
type GCSUploader struct {
	client        *gcs.Client
	bucket        string
	publicBaseURL string
	prefix        string
	logger        *slog.Logger
}

// NewGCSClient prefers explicit credentials JSON and falls back to
// application default credentials.
func NewGCSClient(ctx context.Context, credentialsJSON string) (*gcs.Client, error) {
	if strings.TrimSpace(credentialsJSON) != "" {
		return gcs.NewClient(ctx, option.WithCredentialsJSON([]byte(credentialsJSON)))
	}
	return gcs.NewClient(ctx)
}

func NewGCSUploader(client *gcs.Client, bucket, publicBaseURL string, logger *slog.Logger) *GCSUploader {
	if publicBaseURL == "" {
		publicBaseURL = "https://storage.googleapis.com/" + bucket
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GCSUploader{
		client:        client,
		bucket:        bucket,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		prefix:        "receipts",
		logger:        logger,
	}
}

func (u *GCSUploader) UploadReceipt(ctx context.Context, data []byte, mimeType string) (Object, error) {
	filename := uuid.NewString() + extension(data, mimeType)
	objectName := fmt.Sprintf("%s/%s/%s", u.prefix, time.Now().UTC().Format("2006/01"), filename)

	wc := u.client.Bucket(u.bucket).Object(objectName).NewWriter(ctx)
	wc.ContentType = mimeType
	if _, err := wc.Write(data); err != nil {
		_ = wc.Close()
		return Object{}, uploadError("Receipt upload failed", fmt.Errorf("write %s: %w", objectName, err))
	}
	if err := wc.Close(); err != nil {
		u.logger.WarnContext(ctx, "gcs upload failed", "object", objectName, "error", err)
		return Object{}, uploadError("Receipt upload failed", fmt.Errorf("close %s: %w", objectName, err))
	}

	u.logger.InfoContext(ctx, "receipt stored", "bucket", u.bucket, "object", objectName)
	return Object{URL: u.publicBaseURL + "/" + objectName, Filename: filename}, nil
}

func (u *GCSUploader) Close() error {
	return u.client.Close()
}
