package frame

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dd0wney/cluso-assembler/pkg/logging"
	"github.com/dd0wney/cluso-assembler/pkg/metrics"
)

// Producer is work the loop runs once per tick after its commands, such as
// the container factory.
type Producer interface {
	Produce(clock Clock)
}

// Loop is the single consuming execution context. Other goroutines hand it
// closures with Post; Tick runs them one at a time, in order, on whichever
// goroutine drives the loop. Nothing else may touch container or link state.
type Loop struct {
	mu        sync.Mutex
	queue     []func()
	spare     []func()
	producers []Producer
	closed    bool
	wake      chan struct{}

	logger  logging.Logger
	metrics *metrics.Registry
}

// TickStats summarises one tick
type TickStats struct {
	Commands int
	Deferred int
	Elapsed  time.Duration
}

// NewLoop creates a loop with room for capacity queued commands before the
// queue grows
func NewLoop(capacity int, logger logging.Logger, reg *metrics.Registry) *Loop {
	if capacity <= 0 {
		capacity = 64
	}
	return &Loop{
		queue:   make([]func(), 0, capacity),
		wake:    make(chan struct{}, 1),
		logger:  logging.OrDefault(logger).With(logging.Component("frame")),
		metrics: reg,
	}
}

// AddProducer registers per-tick work
func (l *Loop) AddProducer(p Producer) {
	l.mu.Lock()
	l.producers = append(l.producers, p)
	l.mu.Unlock()
}

// Post queues fn for the consuming context. It never blocks, so code already
// running on the loop may post follow-up work. It returns false once the
// loop is closed.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Pending returns the number of queued commands
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Tick runs queued commands until the clock runs out, always running at
// least one, then gives every producer the remaining budget. Commands left
// over stay queued, ahead of anything posted meanwhile.
func (l *Loop) Tick(clock Clock) TickStats {
	start := time.Now()

	l.mu.Lock()
	batch := l.queue
	l.queue, l.spare = l.spare[:0], nil
	producers := l.producers
	l.mu.Unlock()

	stats := TickStats{}
	for i, cmd := range batch {
		l.run(cmd)
		stats.Commands++
		if clock.Remaining() <= 0 && i < len(batch)-1 {
			stats.Deferred = len(batch) - i - 1
			break
		}
	}
	l.recycle(batch, stats.Commands)

	for _, p := range producers {
		p.Produce(clock)
	}

	stats.Elapsed = time.Since(start)
	l.metrics.RecordTick(stats.Elapsed, stats.Commands)
	return stats
}

// recycle hands the drained batch back as the spare buffer. Deferred
// commands are moved to its front and the commands posted during the tick
// appended behind them.
func (l *Loop) recycle(batch []func(), done int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		clear(batch)
		return
	}
	if done == len(batch) {
		clear(batch)
		l.spare = batch[:0]
		return
	}
	n := copy(batch, batch[done:])
	clear(batch[n:])
	posted := l.queue
	l.queue = append(batch[:n], posted...)
	clear(posted)
	l.spare = posted[:0]
}

func (l *Loop) run(cmd func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("loop command panic recovered", logging.String("panic", fmt.Sprint(r)))
		}
	}()
	cmd()
}

// Run drives ticks every interval with the given per-tick budget until ctx
// ends. A Post between ticks does not shorten the wait; the interval is
// the frame rate.
func (l *Loop) Run(ctx context.Context, interval, budget time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			l.Tick(NewBudget(budget))
		}
	}
}

// RunUntilIdle ticks with an unlimited clock until no commands remain or
// maxTicks is reached. Used for final drains and tests.
func (l *Loop) RunUntilIdle(maxTicks int) int {
	ticks := 0
	for ticks < maxTicks {
		l.Tick(Unlimited{})
		ticks++
		if l.Pending() == 0 {
			break
		}
	}
	return ticks
}

// Wake is signalled whenever a command is posted
func (l *Loop) Wake() <-chan struct{} {
	return l.wake
}

// Close stops accepting commands. Queued commands are discarded.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	l.queue = nil
	l.spare = nil
	l.mu.Unlock()
}
