// Package testutil builds PDF fixtures for tests.
package testutil

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// PDF returns a valid PDF with one blank page per entry in widths. Each page
// gets a MediaBox of widths[i] x 842 so tests can tell pages apart.
func PDF(t testing.TB, widths ...int) []byte {
	t.Helper()
	ctx, err := pdfcpu.CreateContextWithXRefTable(model.NewDefaultConfiguration(), types.PaperSize["A4"])
	if err != nil {
		t.Fatalf("create pdf context: %v", err)
	}

	rootDict, err := ctx.Catalog()
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	pagesRef := rootDict.IndirectRefEntry("Pages")
	pagesDict, err := ctx.DereferenceDict(*pagesRef)
	if err != nil {
		t.Fatalf("page tree: %v", err)
	}

	kids := pagesDict.ArrayEntry("Kids")
	for _, w := range widths {
		pageRef, err := ctx.EmptyPage(pagesRef, types.RectForDim(float64(w), 842))
		if err != nil {
			t.Fatalf("add page: %v", err)
		}
		kids = append(kids, *pageRef)
	}
	pagesDict.Update("Kids", kids)
	pagesDict.Update("Count", types.Integer(len(kids)))
	ctx.PageCount = len(kids)

	var buf bytes.Buffer
	if err := api.WriteContext(ctx, &buf); err != nil {
		t.Fatalf("write pdf: %v", err)
	}
	return buf.Bytes()
}

// WritePDF writes PDF(widths...) to dir/name and returns the full path.
func WritePDF(t testing.TB, dir, name string, widths ...int) string {
	t.Helper()
	return WriteFile(t, dir, name, PDF(t, widths...))
}

// WriteFile writes raw bytes to dir/name, creating dir if needed.
func WriteFile(t testing.TB, dir, name string, data []byte) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// Widths returns n page widths starting at base, e.g. Widths(200, 3) is
// [200 201 202].
func Widths(base, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = base + i
	}
	return out
}
