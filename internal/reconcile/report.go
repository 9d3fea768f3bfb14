package reconcile

import "time"

// Outcome is the terminal state of one guide in a batch.
type Outcome string

const (
	OutcomeMerged          Outcome = "MERGED"
	OutcomeNoPairingKey    Outcome = "SKIPPED_NO_KEY"
	OutcomeReceiptNotFound Outcome = "SKIPPED_NO_RECEIPT"
	OutcomeLoadFailed      Outcome = "FAILED_LOAD"
	OutcomeWriteFailed     Outcome = "FAILED_WRITE"
)

func (o Outcome) Skipped() bool { return o == OutcomeNoPairingKey || o == OutcomeReceiptNotFound }
func (o Outcome) Failed() bool  { return o == OutcomeLoadFailed || o == OutcomeWriteFailed }

// Result records what happened to a single guide.
type Result struct {
	Guide        DocumentRef
	Outcome      Outcome
	ReceiptPath  string
	OutputPath   string
	GuidePages   int
	ReceiptPages int
	Err          error
}

// Report is the per-guide outcome list of one ProcessAll call, in scan order.
type Report struct {
	GuidesDir   string
	ReceiptsDir string
	OutputDir   string
	StartedAt   time.Time
	FinishedAt  time.Time
	Results     []Result
}

// Counts summarizes a report by outcome.
type Counts struct {
	Total   int
	Merged  int
	Skipped int
	Failed  int
}

func (r *Report) Counts() Counts {
	c := Counts{Total: len(r.Results)}
	for _, res := range r.Results {
		switch {
		case res.Outcome == OutcomeMerged:
			c.Merged++
		case res.Outcome.Skipped():
			c.Skipped++
		case res.Outcome.Failed():
			c.Failed++
		}
	}
	return c
}

// Merged returns only the results that produced an output file.
func (r *Report) Merged() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Outcome == OutcomeMerged {
			out = append(out, res)
		}
	}
	return out
}
