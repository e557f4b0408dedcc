package links

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/dd0wney/cluso-assembler/pkg/entity"
	"github.com/dd0wney/cluso-assembler/pkg/eventbus"
	"github.com/dd0wney/cluso-assembler/pkg/logging"
	"github.com/dd0wney/cluso-assembler/pkg/metrics"
	"github.com/dd0wney/cluso-assembler/pkg/parallel"
)

// ErrRunning is returned when Run is called on a pipeline that is already running
var ErrRunning = errors.New("link pipeline already running")

// Config tunes the pipeline
type Config struct {
	BatchSize      int
	MaxInFlight    int
	ResolveTimeout time.Duration
	ResolvePoll    time.Duration
	Ceiling        int
}

// DefaultConfig returns the standard pipeline settings
func DefaultConfig() Config {
	return Config{
		BatchSize:      100,
		MaxInFlight:    50,
		ResolveTimeout: 5 * time.Second,
		ResolvePoll:    10 * time.Millisecond,
		Ceiling:        5000,
	}
}

// Resolver looks entities up without blocking
type Resolver interface {
	Get(id int64) (*entity.Entity, bool)
}

type resolution int

const (
	resolveReady resolution = iota
	resolveUnready
	resolveMissing
	resolveCancelled
)

// Pipeline feeds ranked import edges to the materializer in batches
type Pipeline struct {
	cfg      Config
	resolver Resolver
	store    *Store
	bus      *eventbus.Bus
	sem      *semaphore.Weighted
	pool     *parallel.WorkerPool

	running   atomic.Bool
	inFlight  atomic.Int64
	peak      atomic.Int64
	expected  atomic.Int64
	accounted atomic.Int64
	current   atomic.Pointer[Accumulator]

	mu     sync.Mutex
	totals Totals

	logger  logging.Logger
	metrics *metrics.Registry
}

// NewPipeline creates a pipeline. Endpoint lookups run on a worker pool sized
// to the in-flight cap.
func NewPipeline(resolver Resolver, store *Store, bus *eventbus.Bus, cfg Config, logger logging.Logger, reg *metrics.Registry) (*Pipeline, error) {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = def.MaxInFlight
	}
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = def.ResolveTimeout
	}
	if cfg.ResolvePoll <= 0 {
		cfg.ResolvePoll = def.ResolvePoll
	}
	logger = logging.OrDefault(logger)
	pool, err := parallel.NewWorkerPool(cfg.MaxInFlight, logger)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		cfg:      cfg,
		resolver: resolver,
		store:    store,
		bus:      bus,
		sem:      semaphore.NewWeighted(int64(cfg.MaxInFlight)),
		pool:     pool,
		logger:   logger.With(logging.Component("links")),
		metrics:  reg,
	}, nil
}

// Run ranks imports by descending weight, in place, and materializes them
// batch by batch until every edge is accounted for or the visible ceiling is
// reached. Each edge's Status is updated as it moves. Run returns early only
// when ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context, imports []ImportLink) (Totals, error) {
	if !p.running.CompareAndSwap(false, true) {
		return Totals{}, ErrRunning
	}
	defer p.running.Store(false)

	slices.SortStableFunc(imports, func(a, b ImportLink) int { return cmp.Compare(b.Weight, a.Weight) })
	expected := len(imports)
	if p.cfg.Ceiling > 0 {
		expected = min(p.cfg.Ceiling, expected)
	}
	p.expected.Store(int64(expected))

	p.bus.Subscribe(p, eventbus.TopicLinkReady, eventbus.AnyKey)
	defer p.bus.Unsubscribe(p, eventbus.TopicLinkReady, eventbus.AnyKey)

	timer := logging.StartTimer(p.logger, "link import", logging.Count(len(imports)), logging.Int("expected_visible", expected))
	for start, batch := 0, 0; start < len(imports); start, batch = start+p.cfg.BatchSize, batch+1 {
		if expected > 0 && p.store.Visible() >= expected {
			p.logger.Info("visible ceiling reached", logging.Int("visible", p.store.Visible()))
			break
		}
		if err := ctx.Err(); err != nil {
			return p.Totals(), err
		}
		end := min(start+p.cfg.BatchSize, len(imports))
		if err := p.runBatch(ctx, batch, imports[start:end]); err != nil {
			timer.EndWithLevel(logging.WarnLevel, logging.Error(err))
			return p.Totals(), err
		}
	}
	totals := p.Totals()
	timer.End(logging.Any("totals", totals))
	return totals, nil
}

func (p *Pipeline) runBatch(ctx context.Context, index int, batch []ImportLink) error {
	acc := NewAccumulator(index, len(batch))
	p.current.Store(acc)

	maxWeight := 0.0
	for _, l := range batch {
		maxWeight = max(maxWeight, l.Weight)
	}

	timer := logging.StartTimer(p.logger, "link batch", logging.Batch(index), logging.Count(len(batch)))
	for i := range batch {
		l := &batch[i]
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		p.enter()
		l.Status = StatusBeingCreated
		if !p.pool.Submit(func() { p.dispatch(ctx, l, maxWeight, acc) }) {
			p.finish(l, acc, OutcomeTimedOut)
		}
	}

	select {
	case <-acc.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	totals := acc.Totals()
	p.mu.Lock()
	p.totals.Merge(totals)
	p.mu.Unlock()
	p.current.Store(nil)
	p.accounted.Add(int64(totals.Accounted()))

	p.metrics.RecordBatch(timer.End(logging.Any("totals", totals)))
	return nil
}

// dispatch resolves both endpoints concurrently and either drops the edge or
// hands it to the materializer
func (p *Pipeline) dispatch(ctx context.Context, l *ImportLink, maxWeight float64, acc *Accumulator) {
	var (
		src, dst *entity.Entity
		rs, rd   resolution
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		src, rs = p.resolve(gctx, l.Source)
		return nil
	})
	g.Go(func() error {
		dst, rd = p.resolve(gctx, l.Destination)
		return nil
	})
	_ = g.Wait()

	switch {
	case rs == resolveMissing || rd == resolveMissing:
		p.finish(l, acc, OutcomeUnexpected)
	case rs != resolveReady || rd != resolveReady:
		p.finish(l, acc, OutcomeTimedOut)
	case l.Source == l.Destination ||
		src.Category() != entity.CategoryNode ||
		dst.Category() != entity.CategoryNode:
		p.finish(l, acc, OutcomeUnnatural)
	default:
		req := &Request{
			Link:        l,
			Source:      src,
			Destination: dst,
			Weight:      l.Weight,
			MaxWeight:   maxWeight,
			Acc:         acc,
		}
		if p.bus.Publish(eventbus.Event{Topic: eventbus.TopicLinkCreate, Key: l.Source, Payload: req}) == 0 {
			p.logger.Warn("no materializer subscribed", logging.Pair(l.Source, l.Destination))
			p.finish(l, acc, OutcomeUnexpected)
		}
	}
}

// resolve polls until id is registered and ready or the timeout expires. An
// id never seen by the registry is missing; a known but unready one timed out.
func (p *Pipeline) resolve(ctx context.Context, id int64) (*entity.Entity, resolution) {
	deadline := time.Now().Add(p.cfg.ResolveTimeout)
	ticker := time.NewTicker(p.cfg.ResolvePoll)
	defer ticker.Stop()
	for {
		e, ok := p.resolver.Get(id)
		if ok && e.Ready() {
			return e, resolveReady
		}
		if !time.Now().Before(deadline) {
			if ok {
				return e, resolveUnready
			}
			return nil, resolveMissing
		}
		select {
		case <-ctx.Done():
			return nil, resolveCancelled
		case <-ticker.C:
		}
	}
}

// HandleEvent implements eventbus.Handler for materializer results
func (p *Pipeline) HandleEvent(ev eventbus.Event) {
	res, ok := ev.Payload.(*Result)
	if !ok || res.Acc == nil {
		return
	}
	res.Acc.Record(res.Outcome)
	p.metrics.RecordLinkOutcome(res.Outcome.String())
	p.leave()
}

func (p *Pipeline) finish(l *ImportLink, acc *Accumulator, o Outcome) {
	switch o {
	case OutcomeUnnatural:
		l.Status = StatusUnnatural
	case OutcomeTimedOut, OutcomeUnexpected:
		l.Status = StatusPending
	}
	acc.Record(o)
	p.metrics.RecordLinkOutcome(o.String())
	p.leave()
	p.logger.Debug("link dropped", logging.Pair(l.Source, l.Destination), logging.String("outcome", o.String()))
}

func (p *Pipeline) enter() {
	n := p.inFlight.Add(1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	p.metrics.SetLinksInFlight(n)
}

func (p *Pipeline) leave() {
	n := p.inFlight.Add(-1)
	p.sem.Release(1)
	p.metrics.SetLinksInFlight(n)
}

// Highlight asks the loop to highlight the link between two ready entities,
// creating it if needed. It reports whether the request was handed off.
func (p *Pipeline) Highlight(src, dst int64) bool {
	s, ok := p.resolver.Get(src)
	if !ok || !s.Ready() {
		return false
	}
	d, ok := p.resolver.Get(dst)
	if !ok || !d.Ready() {
		return false
	}
	req := &Request{Source: s, Destination: d, Highlight: true}
	return p.bus.Publish(eventbus.Event{Topic: eventbus.TopicLinkHighlight, Key: src, Payload: req}) > 0
}

// Progress returns how many edges have been accounted for and how many links
// are expected to become visible
func (p *Pipeline) Progress() (processed, expected int) {
	n := p.accounted.Load()
	if acc := p.current.Load(); acc != nil {
		n += int64(acc.Totals().Accounted())
	}
	return int(n), int(p.expected.Load())
}

// Totals returns the outcome counts of every finished batch
func (p *Pipeline) Totals() Totals {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totals
}

// InFlight returns the current number of dispatched, unconfirmed edges
func (p *Pipeline) InFlight() int64 {
	return p.inFlight.Load()
}

// PeakInFlight returns the highest in-flight count seen
func (p *Pipeline) PeakInFlight() int64 {
	return p.peak.Load()
}

// Close stops the lookup workers
func (p *Pipeline) Close() {
	p.pool.Close()
}
