package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/guidereconciler/internal/gcp"
	"github.com/Lllllllleong/guidereconciler/internal/models"
	"github.com/Lllllllleong/guidereconciler/internal/reconcile"
)

const (
	SourceCLI      = "cli"
	SourceFunction = "function"
)

// ArchiverConfig holds configuration for archiving a local batch to GCP.
// Either Bucket or ProjectID may be empty to disable that half.
type ArchiverConfig struct {
	ProjectID      string
	Bucket         string
	CollectionName string
	Concurrency    int
}

// Archiver copies the merged outputs of a local run to Cloud Storage and
// records every guide's outcome in the Firestore ledger.
type Archiver struct {
	store  objectStore
	ledger ledger
	config ArchiverConfig
}

// ArchiveSummary reports what Archive managed to do.
type ArchiveSummary struct {
	RunID    string
	Uploaded int
	Recorded int
}

// NewArchiver creates the clients needed by the enabled halves of config.
func NewArchiver(ctx context.Context, config ArchiverConfig) (*Archiver, error) {
	return newArchiver(ctx, config, gcpOpeners)
}

func newArchiver(ctx context.Context, config ArchiverConfig, open clientOpeners) (*Archiver, error) {
	if config.Bucket == "" && config.ProjectID == "" {
		return nil, fmt.Errorf("archiver needs a bucket, a project, or both")
	}
	if config.CollectionName == "" {
		config.CollectionName = "reconciliations"
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}

	a := &Archiver{config: config}
	if config.Bucket != "" {
		store, err := open.store(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create Storage client: %w", err)
		}
		a.store = store
	}
	if config.ProjectID != "" {
		records, err := open.ledger(ctx, config.ProjectID, config.CollectionName)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("failed to create firestore client: %w", err)
		}
		a.ledger = records
	}
	slog.Info("Archiver initialized.", "bucket", config.Bucket, "projectId", config.ProjectID)
	return a, nil
}

// Archive uploads the merged outputs of report and writes one ledger record
// per result. Failures are collected and returned together; local outputs are
// never touched.
func (a *Archiver) Archive(ctx context.Context, report *reconcile.Report) (*ArchiveSummary, error) {
	summary := &ArchiveSummary{RunID: newRunID(report.StartedAt)}
	logCtx := slog.With("runId", summary.RunID)

	archiveURIs := make([]string, len(report.Results))
	var errs []error

	if a.store != nil {
		errs = append(errs, a.uploadMerged(ctx, logCtx, summary.RunID, report.Results, archiveURIs)...)
		for _, uri := range archiveURIs {
			if uri != "" {
				summary.Uploaded++
			}
		}
	}

	if a.ledger != nil {
		for i, res := range report.Results {
			hash, err := calculateFileHash(res.Guide.Path)
			if err != nil {
				logCtx.Warn("Failed to hash guide. Recording without hash.", "guide", res.Guide.Name(), "error", err)
			}
			rec := reconciliationRecord(summary.RunID, SourceCLI, res, hash, archiveURIs[i], time.Now())
			if _, err := a.ledger.Add(ctx, rec); err != nil {
				logCtx.Error("Failed to record reconciliation.", "guide", res.Guide.Name(), "error", err)
				errs = append(errs, fmt.Errorf("%s: %w", res.Guide.Name(), err))
				continue
			}
			summary.Recorded++
		}
	}

	logCtx.Info("Archive complete.", "uploaded", summary.Uploaded, "recorded", summary.Recorded, "errors", len(errs))
	return summary, errors.Join(errs...)
}

func (a *Archiver) uploadMerged(ctx context.Context, logCtx *slog.Logger, runID string, results []reconcile.Result, uris []string) []error {
	logCtx.Info("Starting concurrent upload of merged outputs.", "bucket", a.config.Bucket)
	errs := make([]error, len(results))

	var eg errgroup.Group
	eg.SetLimit(a.config.Concurrency)
	for i, res := range results {
		if res.Outcome != reconcile.OutcomeMerged {
			continue
		}
		eg.Go(func() error {
			objectName := archiveObjectName(runID, res.OutputPath)
			if err := a.store.Upload(ctx, a.config.Bucket, res.OutputPath, objectName, nil); err != nil {
				logCtx.Error("Failed to archive merged output.", "output", res.OutputPath, "error", err)
				errs[i] = fmt.Errorf("%s: %w", filepath.Base(res.OutputPath), err)
				return nil
			}
			uris[i] = gcp.URI(a.config.Bucket, objectName)
			return nil
		})
	}
	_ = eg.Wait()

	var failed []error
	for _, err := range errs {
		if err != nil {
			failed = append(failed, err)
		}
	}
	return failed
}

func (a *Archiver) Close() error {
	return closeAll(a.store, a.ledger)
}

func newRunID(startedAt time.Time) string {
	return fmt.Sprintf("%s-%s", startedAt.UTC().Format("20060102T150405Z"), uuid.NewString()[:8])
}

func archiveObjectName(runID, outputPath string) string {
	return path.Join(runID, filepath.Base(outputPath))
}

// reconciliationRecord maps a local result onto the ledger model.
func reconciliationRecord(runID, source string, res reconcile.Result, guideHash, archiveURI string, now time.Time) models.Reconciliation {
	key, _ := reconcile.ExtractKey(res.Guide.Stem)
	rec := models.Reconciliation{
		RunID:            runID,
		PairingKey:       key,
		GuideFilename:    res.Guide.Name(),
		GuideHash:        guideHash,
		Status:           string(res.Outcome),
		GuidePageCount:   res.GuidePages,
		ReceiptPageCount: res.ReceiptPages,
		ArchiveURI:       archiveURI,
		Source:           source,
		CreatedAt:        now,
	}
	if res.ReceiptPath != "" {
		rec.ReceiptFilename = filepath.Base(res.ReceiptPath)
	}
	if res.OutputPath != "" {
		rec.OutputFilename = filepath.Base(res.OutputPath)
	}
	if res.Err != nil {
		rec.ErrorDetails = res.Err.Error()
	}
	return rec
}

func calculateFileHash(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()
	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
