package graph

import (
	"time"
)

// StuckEntity describes an entity that has not announced itself
type StuckEntity struct {
	ID          int64         `json:"id"`
	Name        string        `json:"name,omitempty"`
	State       string        `json:"state"`
	Age         time.Duration `json:"age"`
	ParentID    int64         `json:"parent_id,omitempty"`
	HasParent   bool          `json:"has_parent"`
	ParentKnown bool          `json:"parent_known"`
	ParentState string        `json:"parent_state,omitempty"`
}

// Stuck lists entities that have sat in a pre-ready state for at least
// minAge, ordered by id. Nothing in the registry gives up on such entities;
// this is how they are found.
func (r *Registry) Stuck(minAge time.Duration) []StuckEntity {
	now := time.Now()
	var out []StuckEntity
	for _, e := range r.Entities() {
		if e.Ready() {
			continue
		}
		age := now.Sub(e.StateSince())
		if age < minAge {
			continue
		}
		s := StuckEntity{
			ID:    e.ID(),
			Name:  e.Name(),
			State: e.State().String(),
			Age:   age,
		}
		if pid, ok := e.ParentID(); ok {
			s.ParentID = pid
			s.HasParent = true
			if p, ok := r.Get(pid); ok {
				s.ParentKnown = true
				s.ParentState = p.State().String()
			}
		}
		out = append(out, s)
	}
	r.metrics.SetEntitiesStuck(len(out))
	return out
}

// Pending returns how many entities are not ready yet
func (r *Registry) Pending() int {
	n := 0
	for _, e := range r.Entities() {
		if !e.Ready() {
			n++
		}
	}
	return n
}
