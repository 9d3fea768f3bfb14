package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

const (
	uploadAttempts = 4
	uploadBackoff  = 1 * time.Second
	uploadTimeout  = 50 * time.Second
	pdfContentType = "application/pdf"
)

// ObjectInfo is the part of an object's attributes the reconciler cares about.
type ObjectInfo struct {
	Generation int64
	Metadata   map[string]string
}

// ObjectStore reads and writes PDFs in Cloud Storage.
type ObjectStore struct {
	client *storage.Client
}

func NewObjectStore(ctx context.Context) (*ObjectStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}
	return &ObjectStore{client: client}, nil
}

// Stat returns the attributes of bucket/objectName. ok is false when the
// object does not exist.
func (s *ObjectStore) Stat(ctx context.Context, bucket, objectName string) (ObjectInfo, bool, error) {
	attrs, err := s.client.Bucket(bucket).Object(objectName).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return ObjectInfo{}, false, nil
	}
	if err != nil {
		return ObjectInfo{}, false, fmt.Errorf("failed to stat %s: %w", URI(bucket, objectName), err)
	}
	return ObjectInfo{Generation: attrs.Generation, Metadata: attrs.Metadata}, true, nil
}

// Download streams bucket/objectName into a local file at destPath.
func (s *ObjectStore) Download(ctx context.Context, bucket, objectName, destPath string) error {
	gcsReader, err := s.client.Bucket(bucket).Object(objectName).NewReader(ctx)
	if err != nil {
		return fmt.Errorf("failed to get GCS object reader for %s: %w", objectName, err)
	}
	defer gcsReader.Close()
	localFile, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create local file at %s: %w", destPath, err)
	}
	defer localFile.Close()
	if _, err := io.Copy(localFile, gcsReader); err != nil {
		return fmt.Errorf("failed to copy GCS object to local file: %w", err)
	}
	return localFile.Close()
}

// Upload copies a local file to bucket/objectName, replacing any existing
// object, and retries transient failures with exponential backoff.
func (s *ObjectStore) Upload(ctx context.Context, bucket, localPath, objectName string, metadata map[string]string) error {
	return withRetry(ctx, uploadAttempts, uploadBackoff, objectName, func() error {
		localFileReader, err := os.Open(localPath)
		if err != nil {
			return permanent(fmt.Errorf("could not open local file %s: %w", localPath, err))
		}
		defer localFileReader.Close()

		writeCtx, cancel := context.WithTimeout(ctx, uploadTimeout)
		defer cancel()

		gcsWriter := s.client.Bucket(bucket).Object(objectName).NewWriter(writeCtx)
		gcsWriter.ContentType = pdfContentType
		gcsWriter.Metadata = metadata

		if _, err := io.Copy(gcsWriter, localFileReader); err != nil {
			_ = gcsWriter.Close()
			return classifyWriteErr(fmt.Errorf("io.Copy to GCS failed: %w", err))
		}
		if err := gcsWriter.Close(); err != nil {
			return classifyWriteErr(fmt.Errorf("failed to close GCS writer (finalize upload): %w", err))
		}
		return nil
	})
}

func (s *ObjectStore) Close() error {
	return s.client.Close()
}

// classifyWriteErr marks client errors as permanent. Timeouts and rate limits
// stay retryable.
func classifyWriteErr(err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return err
	}
	switch {
	case gerr.Code == http.StatusRequestTimeout, gerr.Code == http.StatusTooManyRequests:
		return err
	case gerr.Code >= 400 && gerr.Code < 500:
		return permanent(err)
	}
	return err
}

// URI formats a gs:// URI.
func URI(bucket, objectName string) string {
	return fmt.Sprintf("gs://%s/%s", bucket, objectName)
}

type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

// permanent marks an error that withRetry must not retry.
func permanent(err error) error { return permanentError{err: err} }

// withRetry calls fn up to attempts times, doubling the wait after each
// failure. Errors wrapped with permanent are returned immediately.
func withRetry(ctx context.Context, attempts int, backoff time.Duration, label string, fn func() error) error {
	var lastErr error
	for i := 0; i < attempts; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		var perm permanentError
		if errors.As(err, &perm) {
			return perm.err
		}

		lastErr = err
		if i == attempts-1 {
			break
		}
		slog.Warn(
			"Upload failed, will retry.",
			"gcsObject", label,
			"attempt", i+1,
			"maxRetries", attempts,
			"backoff", backoff.String(),
			"error", err,
		)

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			slog.Error("Context cancelled during backoff. Aborting retries.", "gcsObject", label, "error", ctx.Err())
			return ctx.Err()
		}
	}
	slog.Error("Upload failed after all retries.", "gcsObject", label, "error", lastErr)
	return fmt.Errorf("upload for %s failed after all retries: %w", label, lastErr)
}
