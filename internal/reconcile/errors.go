package reconcile

import (
	"errors"
	"fmt"
)

var (
	// ErrDiscovery is returned when the guides directory cannot be listed.
	// It is the only error that aborts a whole batch.
	ErrDiscovery = errors.New("discovery failed")
	ErrLoad      = errors.New("load failed")
	ErrWrite     = errors.New("write failed")
	// ErrBusy is returned by Runner.Start while a previous run is still active.
	ErrBusy = errors.New("a reconciliation run is already in progress")
)

// LoadError reports a PDF that exists but could not be opened or parsed.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load PDF %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() []error { return []error{ErrLoad, e.Err} }

// WriteError reports a merged output that could not be created or written.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("failed to write merged PDF %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() []error { return []error{ErrWrite, e.Err} }
