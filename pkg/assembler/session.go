// Package assembler wires the registry, container factory, consuming loop
// and link pipeline into one assembly session.
package assembler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dd0wney/cluso-assembler/pkg/config"
	"github.com/dd0wney/cluso-assembler/pkg/entity"
	"github.com/dd0wney/cluso-assembler/pkg/eventbus"
	"github.com/dd0wney/cluso-assembler/pkg/export"
	"github.com/dd0wney/cluso-assembler/pkg/factory"
	"github.com/dd0wney/cluso-assembler/pkg/frame"
	"github.com/dd0wney/cluso-assembler/pkg/graph"
	"github.com/dd0wney/cluso-assembler/pkg/links"
	"github.com/dd0wney/cluso-assembler/pkg/logging"
	"github.com/dd0wney/cluso-assembler/pkg/metrics"
	"github.com/dd0wney/cluso-assembler/pkg/parallel"
	"github.com/dd0wney/cluso-assembler/pkg/progress"
)

var (
	// ErrStopped is returned by operations on a stopped session
	ErrStopped = errors.New("session stopped")
	// ErrAlreadyRun is returned when Run is called twice
	ErrAlreadyRun = errors.New("session already run")
)

// Summary describes a finished run
type Summary struct {
	Session      string          `json:"session"`
	Known        int             `json:"known"`
	Ingested     int             `json:"ingested"`
	Ready        int             `json:"ready"`
	Stuck        int             `json:"stuck"`
	Links        links.Totals    `json:"links"`
	Visible      int             `json:"visible"`
	PeakInFlight int64           `json:"peak_in_flight"`
	Progress     progress.Report `json:"progress"`
	Elapsed      time.Duration   `json:"elapsed"`
}

// Session owns every component of one assembly
type Session struct {
	id  string
	cfg *config.Config

	bus          *eventbus.Bus
	loop         *frame.Loop
	factory      *factory.Factory
	registry     *graph.Registry
	store        *links.Store
	materializer *links.Materializer
	pipeline     *links.Pipeline
	layout       *progress.Signal
	pool         *parallel.WorkerPool

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	imports  []links.ImportLink
	ran      bool
	stopped  bool
	monitor  *progress.Monitor
	gateOpen chan struct{}

	logger  logging.Logger
	metrics *metrics.Registry
}

// New builds a session. renderer may be nil, in which case containers are
// headless.
func New(cfg *config.Config, renderer factory.Renderer, logger logging.Logger, reg *metrics.Registry) (*Session, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if renderer == nil {
		renderer = factory.NewHeadlessRenderer()
	}
	id := uuid.NewString()
	logger = logging.OrDefault(logger).With(logging.Session(id))

	s := &Session{
		id:       id,
		cfg:      cfg,
		bus:      eventbus.New(logger, reg),
		loop:     frame.NewLoop(cfg.Frame.QueueSize, logger, reg),
		store:    links.NewStore(cfg.Links.Ceiling),
		layout:   progress.NewSignal(),
		gateOpen: make(chan struct{}),
		logger:   logger.With(logging.Component("session")),
		metrics:  reg,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.factory = factory.New(renderer, cfg.FactoryOptions(), logger, reg)
	s.loop.AddProducer(s.factory)
	s.registry = graph.New(s.ctx, s.bus, s.factory, cfg.RegistryOptions(), logger, reg)
	s.materializer = links.NewMaterializer(s.store, s.loop, s.factory, s.bus, logger, reg)
	s.materializer.Start()

	pipeline, err := links.NewPipeline(s.registry, s.store, s.bus, cfg.PipelineConfig(), logger, reg)
	if err != nil {
		s.cancel()
		return nil, err
	}
	s.pipeline = pipeline

	pool, err := parallel.NewWorkerPool(4, logger)
	if err != nil {
		pipeline.Close()
		s.cancel()
		return nil, err
	}
	s.pool = pool
	return s, nil
}

// ID returns the session id
func (s *Session) ID() string { return s.id }

// Bus exposes the session's event bus for observers
func (s *Session) Bus() *eventbus.Bus { return s.bus }

// Registry exposes the entity registry
func (s *Session) Registry() *graph.Registry { return s.registry }

// Store exposes the materialized links
func (s *Session) Store() *links.Store { return s.store }

// Factory exposes the container factory
func (s *Session) Factory() *factory.Factory { return s.factory }

// Loop exposes the consuming loop
func (s *Session) Loop() *frame.Loop { return s.loop }

// Pipeline exposes the link import pipeline
func (s *Session) Pipeline() *links.Pipeline { return s.pipeline }

// LoadEntities ingests snapshots in the order given. Entities may be loaded
// before or while Run executes.
func (s *Session) LoadEntities(snaps []entity.Snapshot) (int, error) {
	if s.isStopped() {
		return 0, ErrStopped
	}
	timer := logging.StartTimer(s.logger, "entities loaded", logging.Count(len(snaps)))
	for _, snap := range snaps {
		s.registry.AddOrUpdate(snap)
	}
	timer.End(logging.Int("known", s.registry.Known()))
	return len(snaps), nil
}

// LoadLinks queues import edges for the next Run
func (s *Session) LoadLinks(imports []links.ImportLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if s.ran {
		return ErrAlreadyRun
	}
	s.imports = append(s.imports, imports...)
	return nil
}

// Run drives the consuming loop, waits for enough of the graph to be ready,
// then imports links while reporting progress. It returns once every link is
// accounted for or ctx ends. The loop keeps running until Stop.
func (s *Session) Run(ctx context.Context) (Summary, error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return Summary{}, ErrStopped
	}
	if s.ran {
		s.mu.Unlock()
		return Summary{}, ErrAlreadyRun
	}
	s.ran = true
	imports := s.imports
	s.imports = nil
	s.mu.Unlock()

	start := time.Now()
	expected := len(imports)
	if s.cfg.Links.Ceiling > 0 {
		expected = min(expected, s.cfg.Links.Ceiling)
	}
	source := progress.SourceFunc(func() (int, int) {
		processed, _ := s.pipeline.Progress()
		return min(processed, expected), expected
	})
	monitor := progress.NewMonitor(source, s.bus, s.cfg.Progress.Interval, s.layout, s.logger, s.metrics)
	s.mu.Lock()
	s.monitor = monitor
	s.mu.Unlock()

	go s.driveLoop()

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	defer context.AfterFunc(s.ctx, stop)()
	g, gctx := errgroup.WithContext(runCtx)

	var report progress.Report
	g.Go(func() error {
		report = monitor.Run(gctx)
		return nil
	})
	g.Go(func() error {
		defer s.layout.Set()
		if err := s.waitReady(gctx); err != nil {
			return err
		}
		_, err := s.pipeline.Run(gctx, imports)
		return err
	})
	g.Go(func() error {
		s.sampleUntil(gctx, s.layout.Done())
		return nil
	})

	err := g.Wait()
	summary := s.summarize(report, time.Since(start))
	if err != nil {
		s.logger.Warn("session run interrupted", logging.Error(err), logging.Any("summary", summary))
		return summary, err
	}
	s.logger.Info("session run complete", logging.Any("summary", summary))
	return summary, nil
}

// driveLoop ticks the consuming loop until the session stops
func (s *Session) driveLoop() {
	err := s.loop.Run(s.ctx, s.cfg.Frame.Interval, s.cfg.Frame.Budget)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("frame loop stopped", logging.Error(err))
	}
}

// waitReady blocks until the ready share of known entities reaches the
// threshold, every entity is ready, or the gate timeout passes
func (s *Session) waitReady(ctx context.Context) error {
	defer close(s.gateOpen)

	ticker := time.NewTicker(s.cfg.Progress.Interval)
	defer ticker.Stop()
	var deadline <-chan time.Time
	if s.cfg.Links.ReadyTimeout > 0 {
		timer := time.NewTimer(s.cfg.Links.ReadyTimeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		ready, known := s.registry.ReadyCount(), s.registry.Known()
		if known == 0 || ready >= known || float64(ready)/float64(known) >= s.cfg.Links.ReadyThreshold {
			s.logger.Info("ready gate open", logging.Int("ready", ready), logging.Int("known", known))
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			stuck := s.registry.Stuck(0)
			s.logger.Warn("ready gate timed out, importing links anyway",
				logging.Int("ready", ready),
				logging.Int("known", known),
				logging.Count(len(stuck)))
			return nil
		case <-ticker.C:
		}
	}
}

// sampleUntil refreshes process and stuck gauges until done or ctx ends
func (s *Session) sampleUntil(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.Progress.Interval)
	defer ticker.Stop()
	for {
		s.sample()
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
		}
	}
}

func (s *Session) sample() {
	s.metrics.UpdateSystemMetrics()
	s.metrics.SetLinksVisible(s.store.Visible())
	s.registry.Stuck(s.cfg.Population.StuckAfter)
}

func (s *Session) summarize(report progress.Report, elapsed time.Duration) Summary {
	return Summary{
		Session:      s.id,
		Known:        s.registry.Known(),
		Ingested:     s.registry.Ingested(),
		Ready:        s.registry.ReadyCount(),
		Stuck:        len(s.registry.Stuck(s.cfg.Population.StuckAfter)),
		Links:        s.pipeline.Totals(),
		Visible:      s.store.Visible(),
		PeakInFlight: s.pipeline.PeakInFlight(),
		Progress:     report,
		Elapsed:      elapsed,
	}
}

// GateOpen is closed once link import has been allowed to start
func (s *Session) GateOpen() <-chan struct{} {
	return s.gateOpen
}

// Progress returns the latest progress report
func (s *Session) Progress() progress.Report {
	s.mu.Lock()
	m := s.monitor
	s.mu.Unlock()
	if m == nil {
		return progress.Report{}
	}
	return m.Last()
}

// Highlight asks for the link between two ready entities to be highlighted
func (s *Session) Highlight(src, dst int64) bool {
	return s.pipeline.Highlight(src, dst)
}

// Stuck lists entities that have not progressed for the configured time
func (s *Session) Stuck() []graph.StuckEntity {
	return s.registry.Stuck(s.cfg.Population.StuckAfter)
}

// Snapshot flattens the current graph and visible links
func (s *Session) Snapshot() export.Document {
	doc := export.Build(s.pool, s.registry.Entities(), s.store.Links())
	doc.Session = s.id
	return doc
}

// Export writes a snapshot to sink in the configured format
func (s *Session) Export(ctx context.Context, sink export.Sink) (string, error) {
	timer := logging.StartTimer(s.logger, "snapshot exported")
	loc, err := export.Write(ctx, sink, s.Snapshot(), s.cfg.ExportFormat())
	if err != nil {
		timer.EndWithLevel(logging.ErrorLevel, logging.Error(err))
		return "", err
	}
	timer.End(logging.String("location", loc))
	return loc, nil
}

// Stop shuts every component down. It is safe to call more than once.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	s.layout.Set()
	s.cancel()
	s.registry.Close()
	s.materializer.Stop()
	s.loop.Close()
	s.pipeline.Close()
	s.pool.Close()
	s.bus.Shutdown()
	s.logger.Info("session stopped")
}

func (s *Session) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}
