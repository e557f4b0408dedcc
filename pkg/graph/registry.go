// Package graph holds the authoritative id -> entity map and drives every
// entity through its lifecycle on its own goroutine.
package graph

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dd0wney/cluso-assembler/pkg/callbacks"
	"github.com/dd0wney/cluso-assembler/pkg/entity"
	"github.com/dd0wney/cluso-assembler/pkg/eventbus"
	"github.com/dd0wney/cluso-assembler/pkg/factory"
	"github.com/dd0wney/cluso-assembler/pkg/logging"
	"github.com/dd0wney/cluso-assembler/pkg/metrics"
)

const shardCount = 256

type shard struct {
	mu       sync.RWMutex
	entities map[int64]*entity.Entity
}

// ContainerRequester is the part of the container factory the registry uses
type ContainerRequester interface {
	Request(e *entity.Entity, cb callbacks.Callback[*factory.Container])
}

// Options tune the lifecycle workers
type Options struct {
	// PopulationMin and PopulationMax bound the backoff used while waiting
	// for a placeholder's fields to arrive
	PopulationMin time.Duration
	PopulationMax time.Duration
}

// DefaultOptions returns the standard backoff
func DefaultOptions() Options {
	return Options{PopulationMin: time.Millisecond, PopulationMax: 50 * time.Millisecond}
}

// Registry maps ids to entities. Distinct ids never contend on the same lock
// unless they share a shard.
type Registry struct {
	shards [shardCount]shard

	bus      *eventbus.Bus
	announce *callbacks.Registry[*entity.Entity]
	factory  ContainerRequester
	opts     Options

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	orphans sync.Map

	ingested atomic.Int64
	ready    atomic.Int64

	logger  logging.Logger
	metrics *metrics.Registry
}

// New creates a registry. Workers stop when ctx is cancelled or Close is
// called.
func New(ctx context.Context, bus *eventbus.Bus, requester ContainerRequester, opts Options, logger logging.Logger, reg *metrics.Registry) *Registry {
	if opts.PopulationMin <= 0 {
		opts.PopulationMin = DefaultOptions().PopulationMin
	}
	if opts.PopulationMax < opts.PopulationMin {
		opts.PopulationMax = opts.PopulationMin
	}
	r := &Registry{
		bus:      bus,
		announce: callbacks.New[*entity.Entity](logger, reg),
		factory:  requester,
		opts:     opts,
		logger:   logging.OrDefault(logger).With(logging.Component("graph")),
		metrics:  reg,
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	for i := range r.shards {
		r.shards[i].entities = make(map[int64]*entity.Entity)
	}
	return r
}

func (r *Registry) shard(id int64) *shard {
	return &r.shards[uint64(id)%shardCount]
}

func announceTask(id int64) string {
	return fmt.Sprintf("announce:%d", id)
}

// Get returns the entity for id without blocking
func (r *Registry) Get(id int64) (*entity.Entity, bool) {
	sh := r.shard(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	e, ok := sh.entities[id]
	return e, ok
}

// GetOrSubscribe returns the entity for id, or registers cb to run once an
// entity with that id announces itself. The callback never runs before
// GetOrSubscribe returns.
func (r *Registry) GetOrSubscribe(id int64, cb callbacks.Callback[*entity.Entity]) (*entity.Entity, bool) {
	sh := r.shard(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	if e, ok := sh.entities[id]; ok {
		return e, true
	}
	r.announce.RequestCallback(announceTask(id), cb)
	return nil, false
}

// AddOrUpdate ingests a snapshot. A new id gets a fresh entity and its own
// worker; a placeholder is populated; an existing entity is merged in place.
// It reports whether the id was new to the registry.
func (r *Registry) AddOrUpdate(snap entity.Snapshot) (*entity.Entity, bool) {
	sh := r.shard(snap.ID)
	sh.mu.Lock()
	e, ok := sh.entities[snap.ID]
	if !ok {
		e = entity.New(snap)
		sh.entities[snap.ID] = e
		sh.mu.Unlock()
		r.recordIngest()
		r.spawn(e, r.run)
		return e, true
	}
	sh.mu.Unlock()

	if demoted, first := e.Populate(snap); first {
		r.recordIngest()
		for _, id := range demoted {
			r.metrics.RecordDemotion()
			r.logger.Debug("speculative parent demoted", logging.EntityID(e.ID()), logging.ParentID(id))
		}
		return e, false
	}

	res := e.Merge(snap)
	if len(res.Rejected) > 0 {
		r.logger.Warn("merge rejected relations",
			logging.EntityID(e.ID()),
			logging.Any("rejected", res.Rejected))
	}
	if len(res.NewIDs) > 0 {
		r.rebindOrphan(e)
		if e.Ready() {
			r.replay(e, res.NewIDs)
		}
	}
	return e, false
}

func (r *Registry) recordIngest() {
	r.ingested.Add(1)
	r.metrics.RecordIngest(1)
}

// placeholder returns the entity for id, creating an unpopulated one that
// speculatively names parent as its parent if it does not exist yet
func (r *Registry) placeholder(id, parent int64) *entity.Entity {
	sh := r.shard(id)
	sh.mu.Lock()
	if e, ok := sh.entities[id]; ok {
		sh.mu.Unlock()
		return e
	}
	e := entity.Placeholder(id)
	e.Relate(parent, entity.Parent, entity.Inferred)
	sh.entities[id] = e
	sh.mu.Unlock()

	r.spawn(e, r.run)
	return e
}

func (r *Registry) spawn(e *entity.Entity, fn func(*entity.Entity)) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		fn(e)
	}()
}

// MembersOf returns the known children of e ordered by pos
func (r *Registry) MembersOf(e *entity.Entity) []*entity.Entity {
	return r.related(e, entity.Child)
}

// SiblingsOf returns the known siblings of e ordered by pos
func (r *Registry) SiblingsOf(e *entity.Entity) []*entity.Entity {
	return r.related(e, entity.Sibling)
}

func (r *Registry) related(e *entity.Entity, kind entity.Relation) []*entity.Entity {
	ids := e.IDsWith(kind)
	out := make([]*entity.Entity, 0, len(ids))
	for _, id := range ids {
		if other, ok := r.Get(id); ok {
			out = append(out, other)
		}
	}
	slices.SortStableFunc(out, func(a, b *entity.Entity) int {
		return cmp.Or(cmp.Compare(a.Pos(), b.Pos()), cmp.Compare(a.ID(), b.ID()))
	})
	return out
}

// Entities returns every known entity, placeholders included, ordered by id
func (r *Registry) Entities() []*entity.Entity {
	var out []*entity.Entity
	for i := range r.shards {
		sh := &r.shards[i]
		sh.mu.RLock()
		for _, e := range sh.entities {
			out = append(out, e)
		}
		sh.mu.RUnlock()
	}
	slices.SortFunc(out, func(a, b *entity.Entity) int { return cmp.Compare(a.ID(), b.ID()) })
	return out
}

// Known returns the number of entities in the registry, placeholders included
func (r *Registry) Known() int {
	n := 0
	for i := range r.shards {
		sh := &r.shards[i]
		sh.mu.RLock()
		n += len(sh.entities)
		sh.mu.RUnlock()
	}
	return n
}

// Ingested returns how many entities have received a snapshot
func (r *Registry) Ingested() int {
	return int(r.ingested.Load())
}

// ReadyCount returns how many entities have announced themselves
func (r *Registry) ReadyCount() int {
	return int(r.ready.Load())
}

// Close stops every worker and waits for them to return. Entities keep
// whatever state they reached.
func (r *Registry) Close() {
	r.cancel()
	r.wg.Wait()
}
