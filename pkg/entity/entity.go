package entity

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Entity is a graph node: identity, relation set and lifecycle state.
//
// Fields are guarded by mu; the lifecycle state and readiness flags are
// atomics so that readers on other goroutines never take the lock just to
// check progress. The relation set only grows during a session.
type Entity struct {
	id int64

	mu          sync.RWMutex
	populated   bool
	name        string
	pos         int
	count       int
	alpha       float64
	info        string
	maxGen      int
	generations []int
	vector      []int
	category    Category
	relations   map[int64]Edge
	depth       int
	parent      *Entity
	tier2       *Entity

	state      atomic.Int32
	stateSince atomic.Int64
	ready      atomic.Bool
	containers atomic.Int32

	bindOnce sync.Once
	bound    chan struct{}
}

// New creates a populated entity from a snapshot
func New(snap Snapshot) *Entity {
	e := Placeholder(snap.ID)
	e.Populate(snap)
	return e
}

// Placeholder creates an entity whose fields have not arrived yet. It stays
// Uninitialized until Populate is called.
func Placeholder(id int64) *Entity {
	e := &Entity{
		id:        id,
		relations: make(map[int64]Edge),
		bound:     make(chan struct{}),
	}
	e.stateSince.Store(time.Now().UnixNano())
	return e
}

// Populate applies the first snapshot to a placeholder. The snapshot is
// authoritative for its own parent: an inferred parent that it does not
// declare is demoted to Sibling and returned in demoted. ok is false if the
// entity was already populated, in which case Merge should be used.
func (e *Entity) Populate(snap Snapshot) (demoted []int64, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.populated {
		return nil, false
	}
	e.applyScalars(snap)

	declared, hasParent := snap.ParentID()
	for id, edge := range e.relations {
		if edge.Kind == Parent && edge.Confidence == Inferred && (!hasParent || id != declared) {
			if e.demoteLocked(id, Sibling) {
				demoted = append(demoted, id)
			}
		}
	}
	for id, kind := range snap.Relations {
		e.relateLocked(id, kind, Declared)
	}
	if e.category != CategoryGroup {
		e.category = snap.category()
	}
	e.populated = true
	return demoted, true
}

// MergeResult describes what a re-ingested snapshot changed
type MergeResult struct {
	// Changed lists scalar fields whose value differed
	Changed []string
	// NewIDs are related ids that were not in the relation set before
	NewIDs []int64
	// Rejected are ids whose declared relation could not be applied, such as
	// a second parent
	Rejected []int64
}

// Merge applies a newer snapshot in place. Scalars are overwritten, new
// relations are added, and nothing is removed.
func (e *Entity) Merge(snap Snapshot) MergeResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	var res MergeResult
	if e.name != snap.Name {
		res.Changed = append(res.Changed, "name")
	}
	if !slices.Equal(e.vector, snap.Vector) {
		res.Changed = append(res.Changed, "vector")
	}
	if e.alpha != snap.Alpha {
		res.Changed = append(res.Changed, "alpha")
	}
	if e.pos != snap.Pos {
		res.Changed = append(res.Changed, "pos")
	}
	e.applyScalars(snap)

	ids := make([]int64, 0, len(snap.Relations))
	for id := range snap.Relations {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		_, existed := e.relations[id]
		if !e.relateLocked(id, snap.Relations[id], Declared) && !existed {
			res.Rejected = append(res.Rejected, id)
			continue
		}
		if !existed {
			res.NewIDs = append(res.NewIDs, id)
		}
	}
	if snap.category() == CategoryGroup {
		e.category = CategoryGroup
	}
	return res
}

func (e *Entity) applyScalars(snap Snapshot) {
	e.name = snap.Name
	e.pos = snap.Pos
	e.count = snap.Count
	e.alpha = snap.Alpha
	e.info = snap.Info
	e.maxGen = snap.MaxGeneration
	e.generations = slices.Clone(snap.Generations)
	e.vector = slices.Clone(snap.Vector)
}

// Relate records a relation to id. A relation that is absent is added; an
// existing one is replaced only by a strictly more confident claim, and
// raised in confidence when the kind agrees. A second Parent is refused.
// It reports whether the relation set now holds the given kind for id.
func (e *Entity) Relate(id int64, kind Relation, conf Confidence) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.relateLocked(id, kind, conf)
}

func (e *Entity) relateLocked(id int64, kind Relation, conf Confidence) bool {
	if id == e.id || !kind.Valid() {
		return false
	}
	if kind == Parent {
		for other, edge := range e.relations {
			if edge.Kind == Parent && other != id {
				return false
			}
		}
	}

	cur, ok := e.relations[id]
	switch {
	case !ok:
		e.relations[id] = Edge{Kind: kind, Confidence: conf}
		if kind == Child {
			e.category = CategoryGroup
		}
		return true
	case cur.Kind == kind:
		if conf > cur.Confidence {
			e.relations[id] = Edge{Kind: kind, Confidence: conf}
		}
		return true
	case conf > cur.Confidence && cur.Kind != Parent:
		e.relations[id] = Edge{Kind: kind, Confidence: conf}
		return true
	default:
		return false
	}
}

// Demote moves an inferred relation to a weaker kind, e.g. a speculative
// Child that the declared ordering shows to be a Sibling. Declared and
// confirmed relations are never demoted.
func (e *Entity) Demote(id int64, to Relation) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.demoteLocked(id, to)
}

func (e *Entity) demoteLocked(id int64, to Relation) bool {
	cur, ok := e.relations[id]
	if !ok || cur.Confidence != Inferred || !to.Valid() || to.rank() >= cur.Kind.rank() {
		return false
	}
	e.relations[id] = Edge{Kind: to, Confidence: Inferred}
	return true
}

// ID returns the externally assigned id
func (e *Entity) ID() int64 { return e.id }

// Populated reports whether the entity's fields have arrived
func (e *Entity) Populated() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.populated
}

func (e *Entity) Name() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.name
}

func (e *Entity) Pos() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pos
}

func (e *Entity) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.count
}

func (e *Entity) Alpha() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.alpha
}

func (e *Entity) Info() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.info
}

func (e *Entity) MaxGeneration() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.maxGen
}

func (e *Entity) Generations() []int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.generations)
}

func (e *Entity) Vector() []int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.vector)
}

func (e *Entity) Category() Category {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.category
}

// Depth is the distance from the root, valid once bound
func (e *Entity) Depth() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.depth
}

// Parent returns the bound parent, nil for the root or before binding
func (e *Entity) Parent() *Entity {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.parent
}

// Tier2 returns the head of the subtree hanging directly off the root that
// contains this entity. Immediate children of the root are their own tier-2
// ancestor; the root has none.
func (e *Entity) Tier2() *Entity {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tier2
}

// Relations returns a copy of the relation set
func (e *Entity) Relations() map[int64]Edge {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[int64]Edge, len(e.relations))
	for id, edge := range e.relations {
		out[id] = edge
	}
	return out
}

// RelationTo returns the relation to id, if any
func (e *Entity) RelationTo(id int64) (Edge, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	edge, ok := e.relations[id]
	return edge, ok
}

// IDsWith returns the sorted ids related by the given kind
func (e *Entity) IDsWith(kind Relation) []int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var ids []int64
	for id, edge := range e.relations {
		if edge.Kind == kind {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// ChildIDs returns the sorted ids of declared or inferred children
func (e *Entity) ChildIDs() []int64 {
	return e.IDsWith(Child)
}

// ParentID returns the id of the Parent relation, if any
func (e *Entity) ParentID() (int64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for id, edge := range e.relations {
		if edge.Kind == Parent {
			return id, true
		}
	}
	return 0, false
}

// IsRoot reports whether this populated entity is the graph root
func (e *Entity) IsRoot() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.populated || e.name != RootName {
		return false
	}
	for _, edge := range e.relations {
		if edge.Kind == Parent {
			return false
		}
	}
	return true
}

// State returns the current lifecycle stage
func (e *Entity) State() State {
	return State(e.state.Load())
}

// StateSince returns when the entity entered its current stage
func (e *Entity) StateSince() time.Time {
	return time.Unix(0, e.stateSince.Load())
}

// Advance moves the lifecycle forward to the given stage. It returns false
// if the entity is already at or past it, so stages never regress.
func (e *Entity) Advance(to State) bool {
	for {
		cur := e.state.Load()
		if cur >= int32(to) {
			return false
		}
		if e.state.CompareAndSwap(cur, int32(to)) {
			e.stateSince.Store(time.Now().UnixNano())
			return true
		}
	}
}

// Bind attaches the entity to its parent exactly once, computing depth and
// the tier-2 ancestor. A nil parent binds the root. The parent relation is
// confirmed. Bind returns false if the entity was already bound.
func (e *Entity) Bind(parent *Entity) bool {
	bound := false
	e.bindOnce.Do(func() {
		if parent != nil {
			depth := parent.Depth() + 1
			tier2 := parent.Tier2()
			if parent.IsRoot() {
				tier2 = e
			}
			e.mu.Lock()
			e.parent = parent
			e.depth = depth
			e.tier2 = tier2
			e.relateLocked(parent.ID(), Parent, Confirmed)
			e.mu.Unlock()
		}
		e.Advance(Bound)
		close(e.bound)
		bound = true
	})
	return bound
}

// BoundC is closed once the entity has been bound
func (e *Entity) BoundC() <-chan struct{} {
	return e.bound
}

// MarkReady announces the entity. Ready never reverts.
func (e *Entity) MarkReady() bool {
	if !e.ready.CompareAndSwap(false, true) {
		return false
	}
	e.Advance(AnnouncedReady)
	return true
}

// Ready reports whether the entity has announced itself and is bound
func (e *Entity) Ready() bool {
	return e.ready.Load()
}

// AttachContainer records that a container now exists for this entity
func (e *Entity) AttachContainer() {
	e.containers.Add(1)
}

// Enabled reports whether the entity holds at least one container
func (e *Entity) Enabled() bool {
	return e.containers.Load() > 0
}
