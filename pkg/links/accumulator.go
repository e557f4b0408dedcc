package links

import (
	"fmt"
	"sync"
)

// Outcome is how a single edge left the pipeline
type Outcome int

const (
	OutcomeCreated Outcome = iota
	OutcomeDuplicate
	OutcomeHighlighted
	OutcomeTimedOut
	OutcomeUnexpected
	OutcomeUnnatural
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeHighlighted:
		return "highlighted"
	case OutcomeTimedOut:
		return "timed_out"
	case OutcomeUnexpected:
		return "unexpected"
	case OutcomeUnnatural:
		return "unnatural"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Totals counts outcomes
type Totals struct {
	Created     int `json:"created"`
	Duplicate   int `json:"duplicate"`
	Highlighted int `json:"highlighted"`
	TimedOut    int `json:"timed_out"`
	Unexpected  int `json:"unexpected"`
	Unnatural   int `json:"unnatural"`
}

// Accounted is every edge that has left the pipeline, dropped or not
func (t Totals) Accounted() int {
	return t.Created + t.Duplicate + t.Highlighted + t.TimedOut + t.Unexpected + t.Unnatural
}

// Processed is every edge that reached the store
func (t Totals) Processed() int {
	return t.Created + t.Duplicate + t.Highlighted
}

func (t *Totals) add(o Outcome) {
	switch o {
	case OutcomeCreated:
		t.Created++
	case OutcomeDuplicate:
		t.Duplicate++
	case OutcomeHighlighted:
		t.Highlighted++
	case OutcomeTimedOut:
		t.TimedOut++
	case OutcomeUnexpected:
		t.Unexpected++
	case OutcomeUnnatural:
		t.Unnatural++
	}
}

// Merge adds other into t
func (t *Totals) Merge(other Totals) {
	t.Created += other.Created
	t.Duplicate += other.Duplicate
	t.Highlighted += other.Highlighted
	t.TimedOut += other.TimedOut
	t.Unexpected += other.Unexpected
	t.Unnatural += other.Unnatural
}

// Accumulator counts outcomes for one batch. It travels with every request
// of the batch and closes Done once every edge is accounted for.
type Accumulator struct {
	Batch int
	Size  int

	mu     sync.Mutex
	totals Totals
	done   chan struct{}
}

// NewAccumulator creates the accumulator for a batch of size edges
func NewAccumulator(batch, size int) *Accumulator {
	a := &Accumulator{Batch: batch, Size: size, done: make(chan struct{})}
	if size <= 0 {
		close(a.done)
	}
	return a
}

// Record counts one outcome. Outcomes past the batch size are still counted.
func (a *Accumulator) Record(o Outcome) {
	a.mu.Lock()
	defer a.mu.Unlock()
	before := a.totals.Accounted()
	a.totals.add(o)
	if before < a.Size && a.totals.Accounted() >= a.Size {
		close(a.done)
	}
}

// Done is closed once Size outcomes have been recorded
func (a *Accumulator) Done() <-chan struct{} {
	return a.done
}

// Totals returns the counts so far
func (a *Accumulator) Totals() Totals {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totals
}
