package reconcile

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Merge writes <outputDir>/<name>.pdf containing every page of guide followed
// by every page of receipt. The result is written to a temp file first and
// renamed into place, so a failed merge never leaves a partial output behind.
// An existing file with the same name is replaced.
func Merge(guide, receipt *Document, outputDir, name string, conf *model.Configuration) (string, error) {
	if conf == nil {
		conf = NewConfiguration()
	}
	outPath := filepath.Join(outputDir, name+pdfExt)

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", &WriteError{Path: outPath, Err: fmt.Errorf("failed to create output directory: %w", err)}
	}

	sources := make([]io.ReadSeeker, 0, 2)
	for _, doc := range []*Document{guide, receipt} {
		rs, err := doc.reader()
		if err != nil {
			return "", &LoadError{Path: doc.Path, Err: fmt.Errorf("failed to rewind: %w", err)}
		}
		sources = append(sources, rs)
	}

	tmp, err := os.CreateTemp(outputDir, "."+name+"-*.pdf.tmp")
	if err != nil {
		return "", &WriteError{Path: outPath, Err: fmt.Errorf("failed to create temp file: %w", err)}
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if err := api.MergeRaw(sources, tmp, false, conf); err != nil {
		return "", &WriteError{Path: outPath, Err: fmt.Errorf("failed to merge pages: %w", err)}
	}
	if err := tmp.Sync(); err != nil {
		return "", &WriteError{Path: outPath, Err: fmt.Errorf("failed to flush: %w", err)}
	}
	if err := tmp.Close(); err != nil {
		return "", &WriteError{Path: outPath, Err: fmt.Errorf("failed to close temp file: %w", err)}
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return "", &WriteError{Path: outPath, Err: fmt.Errorf("failed to set permissions: %w", err)}
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		return "", &WriteError{Path: outPath, Err: fmt.Errorf("failed to move into place: %w", err)}
	}
	committed = true
	return outPath, nil
}
