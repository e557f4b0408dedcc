// Package links turns ranked import edges into deduplicated links between
// ready entities.
//
// The Pipeline runs off the consuming loop: it resolves endpoints, applies
// backpressure and accounts for every edge per batch. The Materializer runs
// on the loop and is the only writer of the Store.
package links

import (
	"cmp"
	"fmt"
	"slices"
	"sync"

	"github.com/dd0wney/cluso-assembler/pkg/factory"
)

// Status tracks an import edge through the pipeline
type Status int

const (
	StatusPending Status = iota
	StatusBeingCreated
	StatusDone
	StatusDuplicate
	StatusUnnatural
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusBeingCreated:
		return "being_created"
	case StatusDone:
		return "done"
	case StatusDuplicate:
		return "duplicate"
	case StatusUnnatural:
		return "unnatural"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ImportLink is an edge waiting to be materialized
type ImportLink struct {
	Source      int64   `json:"s"`
	Destination int64   `json:"d"`
	Weight      float64 `json:"w"`
	Status      Status  `json:"-"`
}

// Pair is an ordered (source, destination) key
type Pair struct {
	Source      int64
	Destination int64
}

func (p Pair) String() string {
	return fmt.Sprintf("%d->%d", p.Source, p.Destination)
}

// Link is a materialized edge. Every import of the same ordered pair adds to
// its weight.
type Link struct {
	Source      int64
	Destination int64
	Weight      float64
	Alpha       float64
	Visible     bool
	Highlighted bool
	Imports     int
	Container   *factory.Container
}

// Store holds materialized links by ordered pair. Only the consuming loop
// writes to it; readers on other goroutines get copies.
type Store struct {
	mu      sync.RWMutex
	links   map[Pair]*Link
	order   []Pair
	visible int
	ceiling int
}

// NewStore creates a store that shows at most ceiling links
func NewStore(ceiling int) *Store {
	return &Store{links: make(map[Pair]*Link), ceiling: ceiling}
}

// Lookup returns a copy of the link for the pair
func (s *Store) Lookup(src, dst int64) (Link, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.links[Pair{src, dst}]
	if !ok {
		return Link{}, false
	}
	return *l, true
}

// Visible returns how many links are shown
func (s *Store) Visible() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.visible
}

// Len returns how many distinct links exist
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.links)
}

// Links returns copies of every link in creation order
func (s *Store) Links() []Link {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Link, 0, len(s.order))
	for _, p := range s.order {
		out = append(out, *s.links[p])
	}
	return out
}

// create adds a new link. The caller has checked the pair is absent.
func (s *Store) create(src, dst int64, weight, alpha float64, highlighted bool, c *factory.Container) *Link {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := &Link{
		Source:      src,
		Destination: dst,
		Weight:      weight,
		Alpha:       alpha,
		Highlighted: highlighted,
		Imports:     1,
		Container:   c,
	}
	if s.ceiling <= 0 || s.visible < s.ceiling {
		l.Visible = true
		s.visible++
	}
	p := Pair{src, dst}
	s.links[p] = l
	s.order = append(s.order, p)
	return l
}

// update runs fn on the stored link under the write lock
func (s *Store) update(src, dst int64, fn func(*Link)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[Pair{src, dst}]
	if !ok {
		return false
	}
	fn(l)
	return true
}

// Pairs returns every linked pair sorted by source then destination
func (s *Store) Pairs() []Pair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := slices.Clone(s.order)
	slices.SortFunc(out, func(a, b Pair) int {
		return cmp.Or(cmp.Compare(a.Source, b.Source), cmp.Compare(a.Destination, b.Destination))
	})
	return out
}
