package links

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/dd0wney/cluso-assembler/pkg/entity"
	"github.com/dd0wney/cluso-assembler/pkg/eventbus"
	"github.com/dd0wney/cluso-assembler/pkg/frame"
	"github.com/dd0wney/cluso-assembler/pkg/logging"
)

type mapResolver map[int64]*entity.Entity

func (m mapResolver) Get(id int64) (*entity.Entity, bool) {
	e, ok := m[id]
	return e, ok
}

func readyNode(id int64) *entity.Entity {
	e := entity.New(entity.Snapshot{ID: id, Name: fmt.Sprintf("n%d", id)})
	e.Bind(nil)
	e.MarkReady()
	return e
}

func readyGroup(id int64) *entity.Entity {
	e := entity.New(entity.Snapshot{ID: id, Name: "g", Count: 3})
	e.Bind(nil)
	e.MarkReady()
	return e
}

// syncPoster applies commands immediately
type syncPoster struct{}

func (syncPoster) Post(fn func()) bool {
	fn()
	return true
}

type harness struct {
	store    *Store
	pipeline *Pipeline
	mat      *Materializer
	loop     *frame.Loop
}

func newHarness(t *testing.T, resolver Resolver, cfg Config) *harness {
	t.Helper()
	bus := eventbus.New(logging.NewNopLogger(), nil)
	loop := frame.NewLoop(64, logging.NewNopLogger(), nil)
	store := NewStore(cfg.Ceiling)
	mat := NewMaterializer(store, loop, nil, bus, logging.NewNopLogger(), nil)
	mat.Start()
	p, err := NewPipeline(resolver, store, bus, cfg, logging.NewNopLogger(), nil)
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx, time.Millisecond, 5*time.Millisecond)
	t.Cleanup(func() {
		cancel()
		p.Close()
		mat.Stop()
	})
	return &harness{store: store, pipeline: p, mat: mat, loop: loop}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ResolveTimeout = 40 * time.Millisecond
	cfg.ResolvePoll = 2 * time.Millisecond
	return cfg
}

func TestPipelineOutcomes(t *testing.T) {
	resolver := mapResolver{
		1:  readyNode(1),
		2:  readyNode(2),
		3:  readyNode(3),
		10: readyGroup(10),
		11: entity.New(entity.Snapshot{ID: 11, Name: "unready"}),
	}
	h := newHarness(t, resolver, testConfig())

	imports := []ImportLink{
		{Source: 1, Destination: 2, Weight: 5},
		{Source: 2, Destination: 3, Weight: 8},
		{Source: 1, Destination: 2, Weight: 10},
		{Source: 1, Destination: 10, Weight: 7},
		{Source: 1, Destination: 99, Weight: 3},
		{Source: 11, Destination: 2, Weight: 2},
	}
	totals, err := h.pipeline.Run(context.Background(), imports)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := Totals{Created: 2, Duplicate: 1, Unnatural: 1, Unexpected: 1, TimedOut: 1}
	if totals != want {
		t.Errorf("Totals = %+v, want %+v", totals, want)
	}
	if totals.Accounted() != len(imports) {
		t.Errorf("Accounted = %d, want %d", totals.Accounted(), len(imports))
	}

	l, ok := h.store.Lookup(1, 2)
	if !ok {
		t.Fatal("Link 1->2 not created")
	}
	if math.Abs(l.Weight-15) > 1e-9 || l.Imports != 2 || l.Alpha != 1.0 {
		t.Errorf("Link 1->2 = weight %v imports %d alpha %v", l.Weight, l.Imports, l.Alpha)
	}
	if _, ok := h.store.Lookup(1, 10); ok {
		t.Error("Group endpoints should never be linked")
	}
	if h.store.Len() != 2 {
		t.Errorf("Store holds %d links, want 2", h.store.Len())
	}

	// Imports are ranked in place.
	if imports[0].Weight != 10 {
		t.Errorf("First import weight = %v, want 10", imports[0].Weight)
	}
	statuses := map[Status]int{}
	for _, l := range imports {
		statuses[l.Status]++
	}
	if statuses[StatusDone]+statuses[StatusDuplicate] != 3 || statuses[StatusDuplicate] != 1 {
		t.Errorf("Done/duplicate statuses = %v", statuses)
	}
	if statuses[StatusUnnatural] != 1 || statuses[StatusPending] != 2 {
		t.Errorf("Unnatural/pending statuses = %v", statuses)
	}

	processed, expected := h.pipeline.Progress()
	if processed != len(imports) || expected != len(imports) {
		t.Errorf("Progress = %d/%d, want %d/%d", processed, expected, len(imports), len(imports))
	}
	if n := h.pipeline.InFlight(); n != 0 {
		t.Errorf("InFlight = %d after Run", n)
	}
}

func TestUnnaturalEdgeRejected(t *testing.T) {
	resolver := mapResolver{1: readyNode(1), 2: readyGroup(2)}
	h := newHarness(t, resolver, testConfig())

	imports := []ImportLink{{Source: 1, Destination: 2, Weight: 1}}
	totals, err := h.pipeline.Run(context.Background(), imports)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if totals.Unnatural != 1 || totals.Created != 0 {
		t.Errorf("Totals = %+v", totals)
	}
	if h.store.Len() != 0 {
		t.Errorf("Store holds %d links, want 0", h.store.Len())
	}
	if imports[0].Status != StatusUnnatural {
		t.Errorf("Status = %v, want unnatural", imports[0].Status)
	}
}

func TestBackpressureBound(t *testing.T) {
	resolver := mapResolver{}
	for i := int64(1); i <= 20; i++ {
		resolver[i] = readyNode(i)
	}
	cfg := testConfig()
	cfg.MaxInFlight = 3
	cfg.BatchSize = 25
	h := newHarness(t, resolver, cfg)

	var imports []ImportLink
	for i := int64(1); i < 20; i++ {
		imports = append(imports, ImportLink{Source: i, Destination: i + 1, Weight: float64(i)})
		imports = append(imports, ImportLink{Source: i + 1, Destination: i, Weight: float64(i)})
	}

	var overCap atomic.Bool
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				if h.pipeline.InFlight() > int64(cfg.MaxInFlight) {
					overCap.Store(true)
				}
				runtime.Gosched()
			}
		}
	}()

	totals, err := h.pipeline.Run(context.Background(), imports)
	close(stop)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if totals.Created != len(imports) {
		t.Errorf("Created = %d, want %d", totals.Created, len(imports))
	}
	if overCap.Load() {
		t.Error("In-flight count exceeded MaxInFlight")
	}
	if peak := h.pipeline.PeakInFlight(); peak <= 0 || peak > int64(cfg.MaxInFlight) {
		t.Errorf("PeakInFlight = %d, want 1..%d", peak, cfg.MaxInFlight)
	}
}

func TestStopsAtVisibleCeiling(t *testing.T) {
	resolver := mapResolver{}
	for i := int64(1); i <= 6; i++ {
		resolver[i] = readyNode(i)
	}
	cfg := testConfig()
	cfg.Ceiling = 2
	cfg.BatchSize = 2
	h := newHarness(t, resolver, cfg)

	imports := []ImportLink{
		{Source: 1, Destination: 2, Weight: 9},
		{Source: 2, Destination: 3, Weight: 8},
		{Source: 3, Destination: 4, Weight: 7},
		{Source: 4, Destination: 5, Weight: 6},
		{Source: 5, Destination: 6, Weight: 5},
	}
	totals, err := h.pipeline.Run(context.Background(), imports)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if totals.Created != 2 || h.store.Visible() != 2 {
		t.Errorf("Created %d visible %d, want 2 and 2", totals.Created, h.store.Visible())
	}
	if _, ok := h.store.Lookup(1, 2); !ok {
		t.Error("Heaviest edge was not created first")
	}
	if imports[4].Status != StatusPending {
		t.Errorf("Lightest import status = %v, want pending", imports[4].Status)
	}
}

func TestEmptyImport(t *testing.T) {
	h := newHarness(t, mapResolver{}, testConfig())
	totals, err := h.pipeline.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if totals.Accounted() != 0 {
		t.Errorf("Accounted = %d, want 0", totals.Accounted())
	}
	if processed, expected := h.pipeline.Progress(); processed != 0 || expected != 0 {
		t.Errorf("Progress = %d/%d, want 0/0", processed, expected)
	}
}

func TestRunCancelled(t *testing.T) {
	resolver := mapResolver{1: entity.New(entity.Snapshot{ID: 1, Name: "never"}), 2: readyNode(2)}
	cfg := testConfig()
	cfg.ResolveTimeout = time.Hour
	h := newHarness(t, resolver, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := h.pipeline.Run(ctx, []ImportLink{{Source: 1, Destination: 2, Weight: 1}})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run error = %v, want DeadlineExceeded", err)
	}
}

func TestHighlight(t *testing.T) {
	resolver := mapResolver{1: readyNode(1), 2: readyNode(2), 3: readyNode(3)}
	h := newHarness(t, resolver, testConfig())

	if _, err := h.pipeline.Run(context.Background(), []ImportLink{{Source: 1, Destination: 2, Weight: 4}}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !h.pipeline.Highlight(1, 2) || !h.pipeline.Highlight(2, 3) {
		t.Fatal("Highlight between ready nodes was refused")
	}
	if h.pipeline.Highlight(1, 42) {
		t.Error("Highlight to an unknown node was accepted")
	}

	deadline := time.Now().Add(time.Second)
	for {
		a, okA := h.store.Lookup(1, 2)
		b, okB := h.store.Lookup(2, 3)
		if okA && okB && a.Highlighted && b.Highlighted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Highlighted links did not appear")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestMaterializerCoalescesPairs(t *testing.T) {
	nodes := mapResolver{}
	for i := int64(0); i < 4; i++ {
		nodes[i] = readyNode(i)
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("one link per ordered pair with summed weight", prop.ForAll(
		func(srcs, dsts []int64, weights []uint8) bool {
			bus := eventbus.New(logging.NewNopLogger(), nil)
			store := NewStore(0)
			m := NewMaterializer(store, syncPoster{}, nil, bus, logging.NewNopLogger(), nil)

			n := min(len(srcs), len(dsts), len(weights))
			want := map[Pair]float64{}
			for i := 0; i < n; i++ {
				w := float64(weights[i])
				m.Apply(&Request{Source: nodes[srcs[i]], Destination: nodes[dsts[i]], Weight: w, MaxWeight: 255})
				want[Pair{srcs[i], dsts[i]}] += w
			}

			if store.Len() != len(want) {
				return false
			}
			for p, w := range want {
				l, ok := store.Lookup(p.Source, p.Destination)
				if !ok || l.Weight != w {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Int64Range(0, 3)),
		gen.SliceOf(gen.Int64Range(0, 3)),
		gen.SliceOf(gen.UInt8()),
	))

	properties.TestingRun(t)
}

func TestStoreVisibility(t *testing.T) {
	s := NewStore(1)
	a := s.create(1, 2, 1, 1, false, nil)
	b := s.create(2, 1, 1, 1, false, nil)
	if !a.Visible || b.Visible {
		t.Errorf("Visibility = %v, %v; want only the first link visible", a.Visible, b.Visible)
	}
	if s.Visible() != 1 {
		t.Errorf("Visible = %d, want 1", s.Visible())
	}
	if got := s.Pairs(); !slices.Equal(got, []Pair{{1, 2}, {2, 1}}) {
		t.Errorf("Pairs = %v", got)
	}
	if n := len(s.Links()); n != 2 {
		t.Errorf("Links = %d, want 2", n)
	}
}

func TestOutcomeStrings(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{OutcomeTimedOut.String(), "timed_out"},
		{OutcomeUnnatural.String(), "unnatural"},
		{StatusBeingCreated.String(), "being_created"},
		{Pair{1, 2}.String(), "1->2"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("String() = %q, want %q", tt.got, tt.want)
		}
	}
}
