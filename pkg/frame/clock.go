// Package frame holds the consuming side of the assembler: the per-tick time
// budget and the single-writer loop that owns every renderable container.
package frame

import (
	"math"
	"time"
)

// Clock reports how much of the current tick is left. It is only used to
// decide whether a batch of work should yield.
type Clock interface {
	Remaining() time.Duration
}

// Budget is a Clock that runs out a fixed duration after it was created
type Budget struct {
	deadline time.Time
	now      func() time.Time
}

// NewBudget returns a clock with d remaining
func NewBudget(d time.Duration) *Budget {
	return &Budget{deadline: time.Now().Add(d), now: time.Now}
}

// Remaining implements Clock
func (b *Budget) Remaining() time.Duration {
	left := b.deadline.Sub(b.now())
	if left < 0 {
		return 0
	}
	return left
}

// Unlimited never runs out; used by tests and by final drains
type Unlimited struct{}

// Remaining implements Clock
func (Unlimited) Remaining() time.Duration { return math.MaxInt64 }

// Exhausted is already out of time
type Exhausted struct{}

// Remaining implements Clock
func (Exhausted) Remaining() time.Duration { return 0 }
