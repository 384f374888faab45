package model

import "fmt"

// ResultState is the lifecycle of a single attempt within a batch. A result
// starts pending and settles exactly once.
type ResultState string

const (
	ResultPending   ResultState = "pending"
	ResultSucceeded ResultState = "succeeded"
	ResultFailed    ResultState = "failed"
)

type Result struct {
	State   ResultState `json:"state"`
	Content string      `json:"content,omitempty"`
	Usage   *Usage      `json:"usage,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func PendingResult() Result { return Result{State: ResultPending} }

func SucceededResult(content string, usage *Usage) Result {
	return Result{State: ResultSucceeded, Content: content, Usage: usage}
}

func FailedResult(err string) Result {
	return Result{State: ResultFailed, Error: err}
}

func (r Result) Pending() bool   { return r.State == ResultPending }
func (r Result) Succeeded() bool { return r.State == ResultSucceeded }
func (r Result) Failed() bool    { return r.State == ResultFailed }
func (r Result) Settled() bool   { return r.State != ResultPending }

type BatchPhase string

const (
	PhasePartial BatchPhase = "partial"
	PhaseFinal   BatchPhase = "final"
)

// Batch holds the concurrent results of one turn and which of them is on
// display.
type Batch struct {
	Phase        BatchPhase `json:"phase"`
	Results      []Result   `json:"results"`
	Selected     int        `json:"selected"`
	SuccessCount int        `json:"successCount"`
	TotalCount   int        `json:"totalCount"`
}

func (b *Batch) Clone() *Batch {
	out := *b
	out.Results = make([]Result, len(b.Results))
	for i, r := range b.Results {
		if r.Usage != nil {
			u := *r.Usage
			r.Usage = &u
		}
		out.Results[i] = r
	}
	return &out
}

func (b *Batch) Validate() error {
	switch b.Phase {
	case PhasePartial, PhaseFinal:
	default:
		return fmt.Errorf("%w: unknown batch phase %q", ErrInvalidMessage, b.Phase)
	}
	if len(b.Results) > 0 && (b.Selected < 0 || b.Selected >= len(b.Results)) {
		return fmt.Errorf("%w: selected index %d out of range", ErrInvalidMessage, b.Selected)
	}
	for i, r := range b.Results {
		switch r.State {
		case ResultPending, ResultSucceeded, ResultFailed:
		default:
			return fmt.Errorf("%w: result %d has state %q", ErrInvalidMessage, i, r.State)
		}
	}
	return nil
}

// Absorb merges a fresh snapshot of results into the batch. Slots are
// matched by position. A settled result never goes back to pending and is
// never rewritten by a later snapshot.
func (b *Batch) Absorb(incoming []Result) {
	if len(incoming) > len(b.Results) {
		grown := make([]Result, len(incoming))
		copy(grown, b.Results)
		for i := len(b.Results); i < len(grown); i++ {
			grown[i] = PendingResult()
		}
		b.Results = grown
	}
	for i, r := range incoming {
		if b.Results[i].Settled() {
			continue
		}
		b.Results[i] = r
	}
}

// FirstSuccess returns the index of the first succeeded result, or -1.
func (b *Batch) FirstSuccess() int {
	for i, r := range b.Results {
		if r.Succeeded() {
			return i
		}
	}
	return -1
}

func (b *Batch) CountSucceeded() int {
	n := 0
	for _, r := range b.Results {
		if r.Succeeded() {
			n++
		}
	}
	return n
}

func (b *Batch) CountPending() int {
	n := 0
	for _, r := range b.Results {
		if r.Pending() {
			n++
		}
	}
	return n
}

func (b *Batch) SelectedResult() *Result {
	if b.Selected < 0 || b.Selected >= len(b.Results) {
		return nil
	}
	return &b.Results[b.Selected]
}
