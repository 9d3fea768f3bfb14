package reconcile

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const pdfExt = ".pdf"

// DocumentRef points at a PDF on disk. Stem is the file name without its
// extension.
type DocumentRef struct {
	Path string
	Stem string
}

// Name returns the file name including extension.
func (d DocumentRef) Name() string { return filepath.Base(d.Path) }

// ListPDFs returns the .pdf files directly inside dir, shortest stem first.
// Stems of equal length are ordered by file name so runs are deterministic.
func ListPDFs(dir string) ([]DocumentRef, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to resolve %s: %w", ErrDiscovery, dir, err)
	}
	entries, err := os.ReadDir(absDir)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list %s: %w", ErrDiscovery, absDir, err)
	}

	docs := make([]DocumentRef, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() && !isRegularSymlink(absDir, entry) {
			continue
		}
		name := entry.Name()
		if filepath.Ext(name) != pdfExt {
			continue
		}
		docs = append(docs, DocumentRef{
			Path: filepath.Join(absDir, name),
			Stem: strings.TrimSuffix(name, pdfExt),
		})
	}

	sort.SliceStable(docs, func(i, j int) bool {
		if len(docs[i].Stem) != len(docs[j].Stem) {
			return len(docs[i].Stem) < len(docs[j].Stem)
		}
		return docs[i].Stem < docs[j].Stem
	})
	return docs, nil
}

func isRegularSymlink(dir string, entry os.DirEntry) bool {
	if entry.Type()&os.ModeSymlink == 0 {
		return false
	}
	fi, err := os.Stat(filepath.Join(dir, entry.Name()))
	return err == nil && fi.Mode().IsRegular()
}
