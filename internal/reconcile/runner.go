package reconcile

import (
	"fmt"
	"sync"
)

// Runner runs ProcessAll off the caller's goroutine, for front ends that must
// stay responsive while a batch is in progress. At most one run is active.
type Runner struct {
	rec *Reconciler

	mu      sync.Mutex
	running bool
	done    chan struct{}
}

func NewRunner(rec *Reconciler) *Runner {
	return &Runner{rec: rec}
}

// Start launches a batch and returns immediately. onDone is called exactly
// once, from the worker goroutine, when the batch finishes; a front end must
// marshal it back onto its own event loop. The run counts as active until
// onDone returns. Start returns ErrBusy if a run is already active.
func (r *Runner) Start(guidesDir, receiptsDir, outputDir string, onDone func(*Report, error)) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrBusy
	}
	r.running = true
	done := make(chan struct{})
	r.done = done
	r.mu.Unlock()

	go func() {
		var (
			report *Report
			err    error
		)
		defer func() {
			r.mu.Lock()
			r.running = false
			r.mu.Unlock()
			close(done)
		}()
		defer func() {
			if p := recover(); p != nil {
				report, err = nil, fmt.Errorf("reconciliation panicked: %v", p)
			}
			if onDone != nil {
				onDone(report, err)
			}
		}()
		report, err = r.rec.ProcessAll(guidesDir, receiptsDir, outputDir)
	}()
	return nil
}

func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Wait blocks until the most recently started run has finished.
func (r *Runner) Wait() {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done != nil {
		<-done
	}
}
