// Package factory turns ready entities into renderable containers on the
// consuming loop.
//
// Requests arrive from any goroutine; Produce runs once per tick on the loop
// and spends at most a fixed quota of work. Each entity id is produced at
// most once; later requests for the same id only add callbacks.
package factory

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/dd0wney/cluso-assembler/pkg/callbacks"
	"github.com/dd0wney/cluso-assembler/pkg/entity"
	"github.com/dd0wney/cluso-assembler/pkg/frame"
	"github.com/dd0wney/cluso-assembler/pkg/logging"
	"github.com/dd0wney/cluso-assembler/pkg/metrics"
	"github.com/dd0wney/cluso-assembler/pkg/pools"
)

var (
	// ErrForeignShell is returned when a renderer is handed a shell it did not build
	ErrForeignShell = errors.New("shell was not built by this renderer")
	// ErrUnknownKind is returned for entity categories with no container kind
	ErrUnknownKind = errors.New("no container kind for entity category")
)

// Options tune the per-tick work
type Options struct {
	ProduceQuota int
	ReadyQuota   int
	Refill       pools.Refill
}

// DefaultOptions returns the standard quotas
func DefaultOptions() Options {
	return Options{
		ProduceQuota: 25,
		ReadyQuota:   25,
		Refill:       pools.DefaultRefill,
	}
}

// Factory owns container production
type Factory struct {
	mu       sync.Mutex
	queue    []*entity.Entity
	ready    []int64
	queued   map[int64]struct{}
	inFlight map[int64]struct{}
	produced map[int64]*Container

	renderer  Renderer
	callbacks *callbacks.Registry[*Container]
	pools     map[Kind]*pools.ShellPool[any]
	opts      Options
	nextID    atomic.Uint64

	logger  logging.Logger
	metrics *metrics.Registry
}

// New creates a factory. Shell pools start empty and fill on the first ticks.
func New(renderer Renderer, opts Options, logger logging.Logger, reg *metrics.Registry) *Factory {
	if opts.ProduceQuota <= 0 {
		opts.ProduceQuota = DefaultOptions().ProduceQuota
	}
	if opts.ReadyQuota <= 0 {
		opts.ReadyQuota = DefaultOptions().ReadyQuota
	}
	f := &Factory{
		queued:    make(map[int64]struct{}),
		inFlight:  make(map[int64]struct{}),
		produced:  make(map[int64]*Container),
		renderer:  renderer,
		callbacks: callbacks.New[*Container](logger, reg),
		pools:     make(map[Kind]*pools.ShellPool[any], len(Kinds)),
		opts:      opts,
		logger:    logging.OrDefault(logger).With(logging.Component("factory")),
		metrics:   reg,
	}
	for _, k := range Kinds {
		kind := k
		f.pools[kind] = pools.NewShellPool(func() any { return renderer.NewShell(kind) }, opts.Refill)
	}
	return f
}

func task(id int64) string {
	return fmt.Sprintf("container:%d", id)
}

// Request asks for a container for e and registers cb to run on the loop once
// it exists. Safe to call from any goroutine.
func (f *Factory) Request(e *entity.Entity, cb callbacks.Callback[*Container]) {
	id := e.ID()
	f.mu.Lock()
	defer f.mu.Unlock()

	f.callbacks.RequestCallback(task(id), cb)
	if _, ok := f.produced[id]; ok {
		if _, waiting := f.queued[id]; !waiting {
			f.queued[id] = struct{}{}
			f.ready = append(f.ready, id)
		}
		return
	}
	if _, ok := f.inFlight[id]; ok {
		return
	}
	f.inFlight[id] = struct{}{}
	f.queue = append(f.queue, e)
	f.metrics.UpdateFactory(len(f.queue))
}

// Pending returns the number of entities waiting for production
func (f *Factory) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue)
}

// Container returns the container produced for id, if any
func (f *Factory) Container(id int64) (*Container, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.produced[id]
	return c, ok
}

// Produced returns how many entity containers exist
func (f *Factory) Produced() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.produced)
}

// Produce implements frame.Producer. It must only run on the consuming loop.
func (f *Factory) Produce(clock frame.Clock) {
	for n := 0; n < f.opts.ProduceQuota; n++ {
		if n > 0 && clock.Remaining() <= 0 {
			break
		}
		e, ok := f.next()
		if !ok {
			break
		}
		f.produceOne(e)
	}

	for n := 0; n < f.opts.ReadyQuota; n++ {
		id, c, ok := f.nextReady()
		if !ok {
			break
		}
		f.callbacks.CallBack(task(id), c)
	}

	busy := f.demand()
	keepGoing := func() bool { return clock.Remaining() > 0 }
	for _, k := range Kinds {
		p := f.pools[k]
		p.Replenish(busy[k], keepGoing)
		f.metrics.SetPoolAvailable(k.String(), p.Len())
	}
	f.metrics.UpdateFactory(f.Pending())
}

// demand reports which kinds the next tick's production will draw from.
// Only the head of the queue counts: one quota's worth of entities.
func (f *Factory) demand() map[Kind]bool {
	f.mu.Lock()
	head := slices.Clone(f.queue[:min(len(f.queue), f.opts.ProduceQuota)])
	f.mu.Unlock()

	busy := make(map[Kind]bool, len(Kinds))
	for _, e := range head {
		if k, ok := KindFor(e.Category()); ok {
			busy[k] = true
		}
	}
	return busy
}

func (f *Factory) next() (*entity.Entity, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) == 0 {
		return nil, false
	}
	e := f.queue[0]
	f.queue[0] = nil
	f.queue = f.queue[1:]
	return e, true
}

func (f *Factory) nextReady() (int64, *Container, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.ready) == 0 {
		return 0, nil, false
	}
	id := f.ready[0]
	f.ready = f.ready[1:]
	delete(f.queued, id)
	return id, f.produced[id], true
}

// produceOne builds and publishes the container for e. A failure is logged
// and the entity is dropped from the in-flight set so a later request can
// retry it.
func (f *Factory) produceOne(e *entity.Entity) {
	id := e.ID()
	c, kind, err := f.build(e)
	if err != nil {
		f.mu.Lock()
		delete(f.inFlight, id)
		f.mu.Unlock()
		f.logger.Error("container production failed",
			logging.EntityID(id),
			logging.Kind(kind.String()),
			logging.Error(err))
		f.metrics.RecordProduction(kind.String(), true)
		return
	}

	f.mu.Lock()
	delete(f.inFlight, id)
	f.produced[id] = c
	f.mu.Unlock()

	f.metrics.RecordProduction(kind.String(), false)
	f.callbacks.CallBack(task(id), c)
}

func (f *Factory) build(e *entity.Entity) (c *Container, kind Kind, err error) {
	kind, ok := KindFor(e.Category())
	if !ok {
		return nil, kind, fmt.Errorf("entity %d category %v: %w", e.ID(), e.Category(), ErrUnknownKind)
	}

	shell := f.pools[kind].Get()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic producing entity %d: %v", e.ID(), r)
			c = nil
		}
		if err != nil {
			f.renderer.Release(shell)
			f.pools[kind].Put(shell)
		}
	}()

	c = &Container{
		ID:       f.nextID.Add(1),
		EntityID: e.ID(),
		Kind:     kind,
		Shell:    shell,
	}
	if err = f.renderer.Activate(shell, c, e); err != nil {
		return nil, kind, err
	}
	return c, kind, nil
}

// EdgeShell hands out a link container from the edge pool. Like Produce it
// must only run on the consuming loop.
func (f *Factory) EdgeShell(src, dst int64) (*Container, error) {
	shell := f.pools[KindEdge].Get()
	c := &Container{ID: f.nextID.Add(1), EntityID: src, Kind: KindEdge, Shell: shell}
	if err := f.renderer.Activate(shell, c, nil); err != nil {
		f.pools[KindEdge].Put(shell)
		return nil, fmt.Errorf("edge %d->%d: %w", src, dst, err)
	}
	f.metrics.RecordProduction(KindEdge.String(), false)
	return c, nil
}

// PoolStats returns the shell pool counters for kind
func (f *Factory) PoolStats(kind Kind) pools.PoolStats {
	p, ok := f.pools[kind]
	if !ok {
		return pools.PoolStats{}
	}
	return p.Stats()
}
