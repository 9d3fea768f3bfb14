package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Lllllllleong/guidereconciler/internal/gcp"
	"github.com/Lllllllleong/guidereconciler/internal/reconcile"
	"github.com/Lllllllleong/guidereconciler/internal/services"
)

var (
	jsonLogs      bool
	verbose       bool
	archiveBucket string
	projectID     string
	collection    string
)

var rootCmd = &cobra.Command{
	Use:   "reconcile guides_dir receipts_dir output_dir",
	Short: "Merge each guide PDF with its payment receipt",
	Long: `Pairs every <Prefix>_Guia.pdf in guides_dir with <Prefix>_Comprovante.pdf
in receipts_dir and writes <Prefix>_PB.pdf (guide pages, then receipt pages)
to output_dir, creating it if needed.

Guides without a receipt, or whose name does not end in _Guia, are skipped.
A pair that fails to load or write is reported and the batch continues.

Optionally archives merged outputs to Cloud Storage (--archive-bucket) and
records every outcome in Firestore (--project).`,
	Args:          cobra.ExactArgs(3),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runReconcile,
}

func init() {
	rootCmd.Flags().BoolVar(&jsonLogs, "json-logs", false, "emit JSON logs on stdout instead of text on stderr")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.Flags().StringVar(&archiveBucket, "archive-bucket", gcp.GetEnv("ARCHIVE_BUCKET", ""), "GCS bucket to archive merged outputs to")
	rootCmd.Flags().StringVar(&projectID, "project", gcp.GetEnv("PROJECT_ID", ""), "GCP project for the Firestore ledger")
	rootCmd.Flags().StringVar(&collection, "collection", gcp.GetEnv("FIRESTORE_COLLECTION", "reconciliations"), "Firestore collection for the ledger")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newLogger(stdout, stderr io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if jsonLogs {
		return slog.New(slog.NewJSONHandler(stdout, opts))
	}
	return slog.New(slog.NewTextHandler(stderr, opts))
}

func runReconcile(cmd *cobra.Command, args []string) error {
	logger := newLogger(cmd.OutOrStdout(), cmd.ErrOrStderr())
	slog.SetDefault(logger)

	guidesDir, receiptsDir, outputDir := args[0], args[1], args[2]
	report, err := reconcile.New(logger).ProcessAll(guidesDir, receiptsDir, outputDir)
	if err != nil {
		return fmt.Errorf("reconciliation failed: %w", err)
	}
	printReport(reportWriter(cmd), report)

	if archiveBucket == "" && projectID == "" {
		return nil
	}
	archiveReport(cmd.Context(), logger, report)
	return nil
}

// archiveReport never fails the command: the local outputs are the
// deliverable and archival problems are only logged.
func archiveReport(ctx context.Context, logger *slog.Logger, report *reconcile.Report) {
	if ctx == nil {
		ctx = context.Background()
	}
	archiver, err := services.NewArchiver(ctx, services.ArchiverConfig{
		ProjectID:      projectID,
		Bucket:         archiveBucket,
		CollectionName: collection,
	})
	if err != nil {
		logger.Error("Failed to initialize archiver. Outputs were not archived.", "error", err)
		return
	}
	defer archiver.Close()

	summary, err := archiver.Archive(ctx, report)
	if err != nil {
		logger.Error("Archive finished with errors.", "runId", summary.RunID, "error", err)
	}
}

// reportWriter keeps stdout pure JSON lines when --json-logs is set.
func reportWriter(cmd *cobra.Command) io.Writer {
	if jsonLogs {
		return cmd.ErrOrStderr()
	}
	return cmd.OutOrStdout()
}

func printReport(w io.Writer, report *reconcile.Report) {
	for _, res := range report.Results {
		switch res.Outcome {
		case reconcile.OutcomeMerged:
			fmt.Fprintf(w, "%-18s %s -> %s\n", res.Outcome, res.Guide.Name(), filepath.Base(res.OutputPath))
		case reconcile.OutcomeLoadFailed, reconcile.OutcomeWriteFailed:
			fmt.Fprintf(w, "%-18s %s: %v\n", res.Outcome, res.Guide.Name(), res.Err)
		default:
			fmt.Fprintf(w, "%-18s %s\n", res.Outcome, res.Guide.Name())
		}
	}
	c := report.Counts()
	fmt.Fprintf(w, "%d guides: %d merged, %d skipped, %d failed\n", c.Total, c.Merged, c.Skipped, c.Failed)
}
