package graph

import (
	"context"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dd0wney/cluso-assembler/pkg/callbacks"
	"github.com/dd0wney/cluso-assembler/pkg/entity"
	"github.com/dd0wney/cluso-assembler/pkg/eventbus"
	"github.com/dd0wney/cluso-assembler/pkg/factory"
	"github.com/dd0wney/cluso-assembler/pkg/logging"
)

const (
	waitFor = 2 * time.Second
	tick    = 2 * time.Millisecond
)

type recordingRequester struct {
	mu  sync.Mutex
	ids []int64
}

func (r *recordingRequester) Request(e *entity.Entity, cb callbacks.Callback[*factory.Container]) {
	r.mu.Lock()
	r.ids = append(r.ids, e.ID())
	r.mu.Unlock()
	cb(&factory.Container{EntityID: e.ID()})
}

func (r *recordingRequester) requested() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.ids...)
}

func newTestRegistry(t *testing.T) (*Registry, *recordingRequester) {
	t.Helper()
	bus := eventbus.New(logging.NewNopLogger(), nil)
	req := &recordingRequester{}
	r := New(context.Background(), bus, req, DefaultOptions(), logging.NewNopLogger(), nil)
	t.Cleanup(r.Close)
	return r, req
}

func snap(id int64, name string, pos int, rels map[int64]entity.Relation) entity.Snapshot {
	if rels == nil {
		rels = map[int64]entity.Relation{}
	}
	return entity.Snapshot{ID: id, Name: name, Pos: pos, Relations: rels}
}

func root(id int64, children ...int64) entity.Snapshot {
	rels := map[int64]entity.Relation{}
	for _, c := range children {
		rels[c] = entity.Child
	}
	return snap(id, entity.RootName, 0, rels)
}

func childOf(id, parent int64, pos int) entity.Snapshot {
	return snap(id, "n", pos, map[int64]entity.Relation{parent: entity.Parent})
}

func ready(r *Registry, id int64) func() bool {
	return func() bool {
		e, ok := r.Get(id)
		return ok && e.Ready()
	}
}

// waitUntil polls cond until it holds or waitFor passes
func waitUntil(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(waitFor)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(tick)
	}
}

func ids(es []*entity.Entity) []int64 {
	out := make([]int64, 0, len(es))
	for _, e := range es {
		out = append(out, e.ID())
	}
	return out
}

func TestRootOnlyGraph(t *testing.T) {
	r, req := newTestRegistry(t)
	e, created := r.AddOrUpdate(root(1))
	if !created {
		t.Fatal("Root was not created")
	}

	waitUntil(t, ready(r, 1), "root ready")
	if e.State() != entity.AnnouncedReady {
		t.Errorf("State = %v", e.State())
	}
	if e.Parent() != nil || e.Tier2() != nil {
		t.Error("Root has a parent or tier-2 ancestor")
	}
	if !e.Enabled() {
		t.Error("Root has no container")
	}
	if r.Ingested() != 1 || r.ReadyCount() != 1 {
		t.Errorf("Ingested %d ready %d, want 1 and 1", r.Ingested(), r.ReadyCount())
	}
	if got := req.requested(); !slices.Equal(got, []int64{1}) {
		t.Errorf("Container requests = %v", got)
	}
}

func TestOutOfOrderParentArrival(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.AddOrUpdate(childOf(5, 2, 0))

	time.Sleep(10 * time.Millisecond)
	child, ok := r.Get(5)
	if !ok {
		t.Fatal("Child not registered")
	}
	if child.State() != entity.AwaitingBinding {
		t.Errorf("Orphan state = %v, want AwaitingBinding", child.State())
	}

	r.AddOrUpdate(root(2))
	waitUntil(t, ready(r, 5), "child ready")

	parent, _ := r.Get(2)
	if child.Parent() != parent {
		t.Error("Child bound to the wrong parent")
	}
	if child.State() != entity.AnnouncedReady {
		t.Errorf("Child state = %v, want AnnouncedReady", child.State())
	}
	if got := ids(r.MembersOf(parent)); !slices.Equal(got, []int64{5}) {
		t.Errorf("Members = %v, want [5]", got)
	}
	if edge, _ := parent.RelationTo(5); edge.Confidence != entity.Confirmed {
		t.Errorf("Parent's relation to child = %+v, want confirmed", edge)
	}
}

func TestDepthAndTier2(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.AddOrUpdate(childOf(6, 2, 0))
	r.AddOrUpdate(childOf(2, 1, 0))
	r.AddOrUpdate(root(1))
	waitUntil(t, ready(r, 6), "grandchild ready")

	two, _ := r.Get(2)
	six, _ := r.Get(6)
	if two.Depth() != 1 || six.Depth() != 2 {
		t.Errorf("Depths = %d and %d, want 1 and 2", two.Depth(), six.Depth())
	}
	if two.Tier2() != two || six.Tier2() != two {
		t.Error("Tier-2 ancestor should be entity 2")
	}
}

func TestSiblingsDerivedAndOrderedByPos(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.AddOrUpdate(root(1, 2, 3, 4))
	r.AddOrUpdate(childOf(2, 1, 3))
	r.AddOrUpdate(childOf(3, 1, 1))
	r.AddOrUpdate(childOf(4, 1, 2))
	for _, id := range []int64{2, 3, 4} {
		waitUntil(t, ready(r, id), "children ready")
	}

	rootEntity, _ := r.Get(1)
	if got := ids(r.MembersOf(rootEntity)); !slices.Equal(got, []int64{3, 4, 2}) {
		t.Errorf("Members by pos = %v, want [3 4 2]", got)
	}

	two, _ := r.Get(2)
	if got := ids(r.SiblingsOf(two)); !slices.Equal(got, []int64{3, 4}) {
		t.Errorf("Siblings = %v, want [3 4]", got)
	}
	if edge, _ := two.RelationTo(3); edge.Confidence != entity.Inferred {
		t.Errorf("Derived sibling relation = %+v, want inferred", edge)
	}
}

func TestAddOrUpdateIdempotent(t *testing.T) {
	r, _ := newTestRegistry(t)
	s := root(1, 2)
	r.AddOrUpdate(s)
	r.AddOrUpdate(childOf(2, 1, 0))
	waitUntil(t, ready(r, 2), "child ready")

	e, _ := r.Get(1)
	before := e.Relations()
	if _, created := r.AddOrUpdate(s); created {
		t.Error("Re-ingest reported a new entity")
	}
	if !maps.Equal(before, e.Relations()) {
		t.Errorf("Relations changed: %v -> %v", before, e.Relations())
	}
	if !e.Ready() || r.Ingested() != 2 {
		t.Errorf("Ready %v ingested %d", e.Ready(), r.Ingested())
	}
}

func TestGetOrSubscribe(t *testing.T) {
	r, _ := newTestRegistry(t)

	var got atomic.Pointer[entity.Entity]
	e, ok := r.GetOrSubscribe(9, func(e *entity.Entity) { got.Store(e) })
	if ok || e != nil {
		t.Fatal("Unknown id returned an entity")
	}

	r.AddOrUpdate(root(9))
	waitUntil(t, func() bool { return got.Load() != nil }, "subscription callback")
	if got.Load().ID() != 9 {
		t.Errorf("Callback got entity %d", got.Load().ID())
	}

	e, ok = r.GetOrSubscribe(9, func(*entity.Entity) { t.Error("Callback fired for a present entity") })
	if !ok || e.ID() != 9 {
		t.Error("Present entity not returned directly")
	}
}

func TestPlaceholderPopulatedLater(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.AddOrUpdate(root(1, 2))
	waitUntil(t, func() bool { _, ok := r.Get(2); return ok }, "placeholder")

	p, _ := r.Get(2)
	if p.Populated() {
		t.Error("Placeholder reports populated")
	}
	if r.Ingested() != 1 || r.Known() != 2 {
		t.Errorf("Ingested %d known %d, want 1 and 2", r.Ingested(), r.Known())
	}

	r.AddOrUpdate(childOf(2, 1, 0))
	waitUntil(t, ready(r, 2), "placeholder ready")
	if r.Ingested() != 2 {
		t.Errorf("Ingested = %d, want 2", r.Ingested())
	}
}

func TestReentrantMergeAddsPlaceholders(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.AddOrUpdate(root(1))
	waitUntil(t, ready(r, 1), "root ready")

	r.AddOrUpdate(root(1, 10))
	waitUntil(t, func() bool { _, ok := r.Get(10); return ok }, "new placeholder")

	e, _ := r.Get(1)
	if e.State() != entity.AnnouncedReady {
		t.Errorf("Merge moved the root to %v", e.State())
	}
	if got := e.ChildIDs(); !slices.Equal(got, []int64{10}) {
		t.Errorf("Children = %v, want [10]", got)
	}
}

func TestStuckDiagnostic(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.AddOrUpdate(childOf(5, 99, 0))
	r.AddOrUpdate(snap(7, "lost", 0, nil))

	waitUntil(t, func() bool {
		for _, id := range []int64{5, 7} {
			if e, _ := r.Get(id); e.State() != entity.AwaitingBinding {
				return false
			}
		}
		return true
	}, "both entities awaiting binding")

	stuck := r.Stuck(0)
	if len(stuck) != 2 {
		t.Fatalf("Expected 2 stuck entities, got %d", len(stuck))
	}
	if s := stuck[0]; s.ID != 5 || s.State != "awaiting_binding" || !s.HasParent || s.ParentKnown {
		t.Errorf("Stuck[0] = %+v", s)
	}
	if s := stuck[1]; s.ID != 7 || s.HasParent {
		t.Errorf("Stuck[1] = %+v", s)
	}

	if n := len(r.Stuck(time.Hour)); n != 0 {
		t.Errorf("Young entities reported stuck: %d", n)
	}
	if r.Pending() != 2 {
		t.Errorf("Pending = %d, want 2", r.Pending())
	}
}

func TestOrphanRebindsAfterMerge(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.AddOrUpdate(root(1))
	r.AddOrUpdate(snap(7, "late", 0, nil))
	waitUntil(t, func() bool {
		e, _ := r.Get(7)
		return e.State() == entity.AwaitingBinding
	}, "orphan awaiting binding")

	r.AddOrUpdate(childOf(7, 1, 0))
	waitUntil(t, ready(r, 7), "orphan ready after merge")
}

func TestCloseStopsWaitingWorkers(t *testing.T) {
	bus := eventbus.New(logging.NewNopLogger(), nil)
	r := New(context.Background(), bus, nil, DefaultOptions(), logging.NewNopLogger(), nil)
	r.AddOrUpdate(childOf(5, 2, 0))

	done := make(chan struct{})
	go func() {
		r.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("Close did not return")
	}
	if e, _ := r.Get(5); e.Ready() {
		t.Error("Orphan became ready without a parent")
	}
}
