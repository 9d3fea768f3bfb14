package reconcile

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Document is an opened, parsed PDF. The file handle stays open until Close
// so the merger can stream pages from it.
type Document struct {
	DocumentRef
	file      *os.File
	pageCount int
}

// NewConfiguration returns the pdfcpu configuration used for loading and
// merging, with relaxed validation.
func NewConfiguration() *model.Configuration {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return cfg
}

// LoadDocument opens path and parses it as a PDF.
func LoadDocument(path string, conf *model.Configuration) (*Document, error) {
	if conf == nil {
		conf = NewConfiguration()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}

	ctx, err := api.ReadContext(f, conf)
	if err == nil {
		err = api.ValidateContext(ctx)
	}
	if err == nil {
		err = ctx.EnsurePageCount()
	}
	if err != nil {
		f.Close()
		return nil, &LoadError{Path: path, Err: err}
	}

	name := filepath.Base(path)
	return &Document{
		DocumentRef: DocumentRef{
			Path: path,
			Stem: strings.TrimSuffix(name, filepath.Ext(name)),
		},
		file:      f,
		pageCount: ctx.PageCount,
	}, nil
}

func (d *Document) PageCount() int { return d.pageCount }

// reader rewinds the underlying file and returns it for streaming.
func (d *Document) reader() (io.ReadSeeker, error) {
	if _, err := d.file.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return d.file, nil
}

// Close releases the file handle. It is safe to call more than once.
func (d *Document) Close() error {
	if d == nil || d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	return err
}
