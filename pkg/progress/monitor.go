// Package progress reports how far link import has come. It only observes;
// nothing it does can slow the pipeline down.
package progress

import (
	"context"
	"sync"
	"time"

	"github.com/dd0wney/cluso-assembler/pkg/eventbus"
	"github.com/dd0wney/cluso-assembler/pkg/logging"
	"github.com/dd0wney/cluso-assembler/pkg/metrics"
)

// Source reports processed and expected counts
type Source interface {
	Progress() (processed, expected int)
}

// SourceFunc adapts a function to Source
type SourceFunc func() (processed, expected int)

// Progress implements Source
func (f SourceFunc) Progress() (int, int) { return f() }

// Report is the payload of TopicProgress
type Report struct {
	Processed int       `json:"processed"`
	Expected  int       `json:"expected"`
	Ratio     float64   `json:"ratio"`
	Final     bool      `json:"final"`
	At        time.Time `json:"at"`
}

// Percent returns the ratio as a percentage
func (r Report) Percent() float64 {
	return r.Ratio * 100
}

// NewReport computes the ratio, treating nothing to do as complete
func NewReport(processed, expected int) Report {
	ratio := 1.0
	if expected > 0 {
		ratio = min(float64(processed)/float64(expected), 1.0)
	}
	return Report{Processed: processed, Expected: expected, Ratio: ratio, At: time.Now()}
}

// Signal is a one-shot "layout populated" flag
type Signal struct {
	once sync.Once
	ch   chan struct{}
}

// NewSignal creates an unset signal
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{})}
}

// Set raises the signal. Later calls do nothing.
func (s *Signal) Set() {
	s.once.Do(func() { close(s.ch) })
}

// Done is closed once the signal is set
func (s *Signal) Done() <-chan struct{} {
	return s.ch
}

// Monitor publishes progress reports on an interval
type Monitor struct {
	source   Source
	bus      *eventbus.Bus
	interval time.Duration
	layout   *Signal

	mu   sync.Mutex
	last Report

	logger  logging.Logger
	metrics *metrics.Registry
}

// NewMonitor creates a monitor. layout may be nil.
func NewMonitor(source Source, bus *eventbus.Bus, interval time.Duration, layout *Signal, logger logging.Logger, reg *metrics.Registry) *Monitor {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	if layout == nil {
		layout = NewSignal()
	}
	return &Monitor{
		source:   source,
		bus:      bus,
		interval: interval,
		layout:   layout,
		logger:   logging.OrDefault(logger).With(logging.Component("progress")),
		metrics:  reg,
	}
}

// Run reports until the expected count is reached, the layout signal is
// raised or ctx ends. The last report is marked final.
func (m *Monitor) Run(ctx context.Context) Report {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		r := m.sample()
		if r.Expected == 0 || r.Processed >= r.Expected {
			return m.finish(r, "complete")
		}
		m.publish(r)

		select {
		case <-ctx.Done():
			return m.finish(m.sample(), "stopped")
		case <-m.layout.Done():
			return m.finish(m.sample(), "layout populated")
		case <-ticker.C:
		}
	}
}

func (m *Monitor) sample() Report {
	processed, expected := m.source.Progress()
	return NewReport(processed, expected)
}

func (m *Monitor) finish(r Report, reason string) Report {
	r.Final = true
	m.publish(r)
	m.logger.Info("progress monitor finished",
		logging.String("reason", reason),
		logging.Int("processed", r.Processed),
		logging.Int("expected", r.Expected),
		logging.Float64("percent", r.Percent()))
	return r
}

func (m *Monitor) publish(r Report) {
	m.mu.Lock()
	m.last = r
	m.mu.Unlock()
	m.metrics.SetProgress(r.Ratio)
	m.bus.Publish(eventbus.Event{Topic: eventbus.TopicProgress, Key: eventbus.AnyKey, Payload: r})
}

// Last returns the most recent report
func (m *Monitor) Last() Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}
