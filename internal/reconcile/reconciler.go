// Package reconcile pairs guide PDFs with their payment receipts by file name
// and concatenates each pair into a single output PDF.
package reconcile

import (
	"errors"
	"log/slog"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Reconciler runs batches. It holds no state between runs.
type Reconciler struct {
	log  *slog.Logger
	conf func() *model.Configuration
}

// New returns a Reconciler logging to log, or to slog.Default if log is nil.
func New(log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{log: log, conf: NewConfiguration}
}

// ProcessAll merges every guide in guidesDir with its receipt from
// receiptsDir into outputDir. Guides are handled one at a time in scan order
// and a failing pair never stops the batch; the only error returned is a
// discovery failure on guidesDir.
func (r *Reconciler) ProcessAll(guidesDir, receiptsDir, outputDir string) (*Report, error) {
	report := &Report{
		GuidesDir:   guidesDir,
		ReceiptsDir: receiptsDir,
		OutputDir:   outputDir,
		StartedAt:   time.Now(),
	}

	guides, err := ListPDFs(guidesDir)
	if err != nil {
		r.log.Error("Failed to list guides.", "dir", guidesDir, "error", err)
		return nil, err
	}
	r.log.Info("Starting reconciliation.", "guides", len(guides), "guidesDir", guidesDir, "receiptsDir", receiptsDir, "outputDir", outputDir)

	for _, guide := range guides {
		report.Results = append(report.Results, r.processGuide(guide, receiptsDir, outputDir))
	}

	report.FinishedAt = time.Now()
	c := report.Counts()
	r.log.Info("Reconciliation complete.", "total", c.Total, "merged", c.Merged, "skipped", c.Skipped, "failed", c.Failed)
	return report, nil
}

func (r *Reconciler) processGuide(guide DocumentRef, receiptsDir, outputDir string) Result {
	logCtx := r.log.With("guide", guide.Name())
	res := Result{Guide: guide}

	receiptPath, resolution := ResolveReceipt(guide.Stem, receiptsDir)
	switch resolution {
	case NoPairingKey:
		logCtx.Info("Guide does not follow the naming convention. Skipping.")
		res.Outcome = OutcomeNoPairingKey
		return res
	case ReceiptNotFound:
		logCtx.Warn("Receipt not found. Skipping.")
		res.Outcome = OutcomeReceiptNotFound
		return res
	}
	res.ReceiptPath = receiptPath

	conf := r.conf()
	guideDoc, err := LoadDocument(guide.Path, conf)
	if err != nil {
		return r.fail(logCtx, res, err)
	}
	defer guideDoc.Close()
	res.GuidePages = guideDoc.PageCount()

	receiptDoc, err := LoadDocument(receiptPath, conf)
	if err != nil {
		return r.fail(logCtx, res, err)
	}
	defer receiptDoc.Close()
	res.ReceiptPages = receiptDoc.PageCount()

	outPath, err := Merge(guideDoc, receiptDoc, outputDir, OutputName(guide.Stem), conf)
	if err != nil {
		return r.fail(logCtx, res, err)
	}
	res.Outcome = OutcomeMerged
	res.OutputPath = outPath
	logCtx.Info("Merged pair.", "output", outPath, "guidePages", res.GuidePages, "receiptPages", res.ReceiptPages)
	return res
}

func (r *Reconciler) fail(logCtx *slog.Logger, res Result, err error) Result {
	res.Err = err
	if errors.Is(err, ErrLoad) {
		res.Outcome = OutcomeLoadFailed
		logCtx.Error("Failed to load pair.", "error", err)
	} else {
		res.Outcome = OutcomeWriteFailed
		logCtx.Error("Failed to write merged PDF.", "error", err)
	}
	return res
}
