package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/guidereconciler/internal/gcp"
	"github.com/Lllllllleong/guidereconciler/internal/models"
	"github.com/Lllllllleong/guidereconciler/internal/reconcile"
)

const (
	statusMerging = "MERGING"
	statusFailed  = "FAILED"

	// Merged objects record the generations of the uploads they were built
	// from.
	metaGuideGeneration   = "guide-generation"
	metaReceiptGeneration = "receipt-generation"
)

type ReconcilerConfig struct {
	ProjectID        string
	GuidesBucket     string
	ReceiptsBucket   string
	MergedBucket     string
	CollectionName   string
	WorkflowID       string
	WorkflowLocation string
}

// ReconcilerFunction merges a guide and its receipt as soon as both have been
// uploaded. It is triggered by object-finalized events on either bucket.
type ReconcilerFunction struct {
	store    objectStore
	ledger   ledger
	launcher workflowLauncher
	config   ReconcilerConfig
}

// pairObjects names the objects taking part in one reconciliation.
type pairObjects struct {
	Key           string
	GuideObject   string
	ReceiptObject string
	MergedObject  string
	// Counterpart is the bucket/object that must exist before merging.
	CounterpartBucket string
	CounterpartObject string
}

func NewReconciler(ctx context.Context) (*ReconcilerFunction, error) {
	config, err := reconcilerConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return newReconcilerFunction(ctx, config, gcpOpeners)
}

func reconcilerConfigFromEnv() (ReconcilerConfig, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return ReconcilerConfig{}, fmt.Errorf("PROJECT_ID environment variable must be set")
	}

	config := ReconcilerConfig{
		ProjectID:        projectID,
		GuidesBucket:     gcp.GetEnv("GUIDES_BUCKET", ""),
		ReceiptsBucket:   gcp.GetEnv("RECEIPTS_BUCKET", ""),
		MergedBucket:     gcp.GetEnv("MERGED_BUCKET", ""),
		CollectionName:   gcp.GetEnv("FIRESTORE_COLLECTION", "reconciliations"),
		WorkflowLocation: gcp.GetEnv("WORKFLOW_LOCATION", "us-central1"),
		WorkflowID:       gcp.GetEnv("WORKFLOW_ID", ""),
	}
	if config.GuidesBucket == "" || config.ReceiptsBucket == "" || config.MergedBucket == "" {
		return ReconcilerConfig{}, fmt.Errorf("GUIDES_BUCKET, RECEIPTS_BUCKET and MERGED_BUCKET must be set")
	}
	return config, nil
}

// newReconcilerFunction opens the clients for config. Clients opened before a
// failure are closed again.
func newReconcilerFunction(ctx context.Context, config ReconcilerConfig, open clientOpeners) (*ReconcilerFunction, error) {
	records, err := open.ledger(ctx, config.ProjectID, config.CollectionName)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	store, err := open.store(ctx)
	if err != nil {
		_ = closeAll(records)
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}

	f := &ReconcilerFunction{
		store:  store,
		ledger: records,
		config: config,
	}
	if config.WorkflowID != "" {
		parent := gcp.WorkflowParent(config.ProjectID, config.WorkflowLocation, config.WorkflowID)
		f.launcher, err = open.launcher(ctx, parent)
		if err != nil {
			_ = closeAll(store, records)
			return nil, fmt.Errorf("failed to create Workflows Executions client: %w", err)
		}
	}
	slog.Info("Reconciler logic initialized.", "workflowId", config.WorkflowID, "mergedBucket", config.MergedBucket)
	return f, nil
}

func (f *ReconcilerFunction) Close() error {
	return closeAll(f.store, f.ledger, f.launcher)
}

// resolvePair works out which pair an uploaded object belongs to. ok is false
// for objects that are neither a guide in the guides bucket nor a receipt in
// the receipts bucket.
func (c ReconcilerConfig) resolvePair(e models.GCSEvent) (pairObjects, bool) {
	if path.Ext(e.Name) != ".pdf" {
		return pairObjects{}, false
	}
	dir, base := path.Split(e.Name)
	stem := strings.TrimSuffix(base, ".pdf")

	var p pairObjects
	if key, ok := reconcile.ExtractKey(stem); ok && e.Bucket == c.GuidesBucket {
		p.Key = key
		p.GuideObject = e.Name
		p.ReceiptObject = dir + reconcile.ReceiptStem(key) + ".pdf"
		p.CounterpartBucket, p.CounterpartObject = c.ReceiptsBucket, p.ReceiptObject
	} else if key, ok := reconcile.ReceiptKey(stem); ok && e.Bucket == c.ReceiptsBucket {
		p.Key = key
		p.ReceiptObject = e.Name
		p.GuideObject = dir + reconcile.GuideStem(key) + ".pdf"
		p.CounterpartBucket, p.CounterpartObject = c.GuidesBucket, p.GuideObject
	} else {
		return pairObjects{}, false
	}
	p.MergedObject = dir + reconcile.OutputName(reconcile.GuideStem(p.Key)) + ".pdf"
	return p, true
}

// sourceMetadata describes the guide and receipt generations a merged object
// is built from.
func sourceMetadata(guide, receipt gcp.ObjectInfo) map[string]string {
	return map[string]string{
		metaGuideGeneration:   strconv.FormatInt(guide.Generation, 10),
		metaReceiptGeneration: strconv.FormatInt(receipt.Generation, 10),
	}
}

// builtFrom reports whether merged was produced from exactly the uploads
// described by sources.
func builtFrom(merged gcp.ObjectInfo, sources map[string]string) bool {
	for k, v := range sources {
		if merged.Metadata[k] != v {
			return false
		}
	}
	return true
}

// Process handles one object-finalized event.
func (f *ReconcilerFunction) Process(ctx context.Context, e models.GCSEvent) error {
	logCtx := slog.With("gcsBucket", e.Bucket, "gcsObject", e.Name)
	logCtx.Info("Processing new GCS object.")

	pair, ok := f.config.resolvePair(e)
	if !ok {
		logCtx.Info("Object is not a guide or receipt. Skipping.")
		return nil
	}
	logCtx = logCtx.With("pairingKey", pair.Key)

	guideInfo, receiptInfo, ready, err := f.statPair(ctx, pair)
	if err != nil {
		logCtx.Error("Failed to look up pair", "error", err)
		return err
	}
	if !ready {
		logCtx.Info("Counterpart not uploaded yet. Waiting for it.", "counterpart", gcp.URI(pair.CounterpartBucket, pair.CounterpartObject))
		return nil
	}

	sources := sourceMetadata(guideInfo, receiptInfo)
	mergedInfo, mergedExists, err := f.store.Stat(ctx, f.config.MergedBucket, pair.MergedObject)
	if err != nil {
		logCtx.Error("Failed to look up merged output", "error", err)
		return err
	}
	if mergedExists && builtFrom(mergedInfo, sources) {
		logCtx.Info("Merged output is up to date with both uploads. Skipping.", "mergedGcsUri", gcp.URI(f.config.MergedBucket, pair.MergedObject))
		return nil
	}

	tempDir, err := os.MkdirTemp("", "reconciler-*")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	guidePath := filepath.Join(tempDir, path.Base(pair.GuideObject))
	receiptPath := filepath.Join(tempDir, path.Base(pair.ReceiptObject))
	if err := f.downloadPair(ctx, pair, guidePath, receiptPath); err != nil {
		logCtx.Error("Failed to download pair", "error", err)
		return err
	}

	fileHash, err := calculateFileHash(guidePath)
	if err != nil {
		logCtx.Error("Failed to calculate file hash", "error", err)
		return fmt.Errorf("failed to calculate file hash: %w", err)
	}

	recordID, err := f.ledger.Add(ctx, models.Reconciliation{
		PairingKey:      pair.Key,
		GuideFilename:   path.Base(pair.GuideObject),
		ReceiptFilename: path.Base(pair.ReceiptObject),
		OutputFilename:  path.Base(pair.MergedObject),
		GuideHash:       fileHash,
		Status:          statusMerging,
		Source:          SourceFunction,
		CreatedAt:       time.Now(),
	})
	if err != nil {
		logCtx.Error("Failed to create reconciliation record", "error", err)
		return err
	}
	logCtx = logCtx.With("reconciliationId", recordID)

	mergedPath, pageCount, err := f.merge(ctx, logCtx, recordID, pair, guidePath, receiptPath, filepath.Join(tempDir, "out"))
	if err != nil {
		return err
	}

	mergedURI := gcp.URI(f.config.MergedBucket, pair.MergedObject)
	if err := f.store.Upload(ctx, f.config.MergedBucket, mergedPath, pair.MergedObject, sources); err != nil {
		return f.handleError(ctx, logCtx, recordID, string(reconcile.OutcomeWriteFailed), "failed to upload merged PDF", err)
	}

	if err := f.ledger.UpdateStatus(ctx, recordID, string(reconcile.OutcomeMerged), "", map[string]any{"archiveUri": mergedURI}); err != nil {
		return f.handleError(ctx, logCtx, recordID, statusFailed, "failed to update status to MERGED", err)
	}

	if err := f.triggerWorkflow(ctx, logCtx, recordID, pair, mergedURI, pageCount); err != nil {
		return err
	}

	logCtx.Info("Reconciliation complete.", "mergedGcsUri", mergedURI, "pageCount", pageCount)
	return nil
}

// statPair looks up both halves of pair. ready is false while either one is
// missing.
func (f *ReconcilerFunction) statPair(ctx context.Context, pair pairObjects) (guide, receipt gcp.ObjectInfo, ready bool, err error) {
	guide, guideOK, err := f.store.Stat(ctx, f.config.GuidesBucket, pair.GuideObject)
	if err != nil || !guideOK {
		return guide, receipt, false, err
	}
	receipt, receiptOK, err := f.store.Stat(ctx, f.config.ReceiptsBucket, pair.ReceiptObject)
	if err != nil || !receiptOK {
		return guide, receipt, false, err
	}
	return guide, receipt, true, nil
}

func (f *ReconcilerFunction) downloadPair(ctx context.Context, pair pairObjects, guidePath, receiptPath string) error {
	eg, gctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return f.store.Download(gctx, f.config.GuidesBucket, pair.GuideObject, guidePath)
	})
	eg.Go(func() error {
		return f.store.Download(gctx, f.config.ReceiptsBucket, pair.ReceiptObject, receiptPath)
	})
	return eg.Wait()
}

func (f *ReconcilerFunction) merge(ctx context.Context, logCtx *slog.Logger, recordID string, pair pairObjects, guidePath, receiptPath, outDir string) (string, int, error) {
	conf := reconcile.NewConfiguration()
	guide, err := reconcile.LoadDocument(guidePath, conf)
	if err != nil {
		return "", 0, f.handleError(ctx, logCtx, recordID, string(reconcile.OutcomeLoadFailed), "failed to load guide", err)
	}
	defer guide.Close()
	receipt, err := reconcile.LoadDocument(receiptPath, conf)
	if err != nil {
		return "", 0, f.handleError(ctx, logCtx, recordID, string(reconcile.OutcomeLoadFailed), "failed to load receipt", err)
	}
	defer receipt.Close()

	name := strings.TrimSuffix(path.Base(pair.MergedObject), ".pdf")
	mergedPath, err := reconcile.Merge(guide, receipt, outDir, name, conf)
	if err != nil {
		return "", 0, f.handleError(ctx, logCtx, recordID, string(reconcile.OutcomeWriteFailed), "failed to merge pair", err)
	}

	pages := map[string]any{
		"guidePageCount":   guide.PageCount(),
		"receiptPageCount": receipt.PageCount(),
	}
	if err := f.ledger.SetFields(ctx, recordID, pages); err != nil {
		logCtx.Warn("Failed to record page counts", "error", err)
	}
	logCtx.Info("Pair merged locally.", "guidePages", guide.PageCount(), "receiptPages", receipt.PageCount())
	return mergedPath, guide.PageCount() + receipt.PageCount(), nil
}

func (f *ReconcilerFunction) triggerWorkflow(ctx context.Context, logCtx *slog.Logger, recordID string, pair pairObjects, mergedURI string, pageCount int) error {
	if f.launcher == nil {
		return nil
	}
	logCtx.Info("Triggering workflow.", "workflowId", f.config.WorkflowID)
	payload := models.MergedWorkflowPayload{
		ReconciliationID: recordID,
		PairingKey:       pair.Key,
		MergedGCSUri:     mergedURI,
		PageCount:        pageCount,
	}
	if _, err := f.launcher.Trigger(ctx, payload); err != nil {
		return f.handleError(ctx, logCtx, recordID, statusFailed, "failed to trigger workflow execution", err)
	}
	return nil
}

func (f *ReconcilerFunction) handleError(ctx context.Context, logCtx *slog.Logger, recordID, status, message string, originalErr error) error {
	fullError := fmt.Sprintf("%s: %v", message, originalErr)
	logCtx.Error(message, "error", originalErr)
	if err := f.ledger.UpdateStatus(ctx, recordID, status, fullError, nil); err != nil {
		logCtx.Error("CRITICAL: Failed to update Firestore status after a processing error.", "updateError", err)
	}
	return fmt.Errorf("%s: %w", message, originalErr)
}
