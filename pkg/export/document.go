// Package export snapshots the assembled graph as flat entity and link
// arrays for replay.
package export

import (
	"cmp"
	"slices"

	"github.com/dd0wney/cluso-assembler/pkg/entity"
	"github.com/dd0wney/cluso-assembler/pkg/links"
	"github.com/dd0wney/cluso-assembler/pkg/parallel"
)

// Entity is one exported entity. Headless sessions carry no transform beyond
// position: Rotation is always zero and Scale always identity. The fields
// are kept so a rendering consumer can read the snapshot unchanged.
type Entity struct {
	ID       int64      `json:"id"`
	Name     string     `json:"name"`
	Type     string     `json:"type"`
	Children []int64    `json:"children"`
	Colour   [4]float64 `json:"colour"`
	Position [3]float64 `json:"position"`
	Rotation [3]float64 `json:"rotation"`
	Scale    [3]float64 `json:"scale"`
}

// Link is one exported link
type Link struct {
	S int64   `json:"s"`
	D int64   `json:"d"`
	W float64 `json:"w"`
	R float64 `json:"r"`
	G float64 `json:"g"`
	B float64 `json:"b"`
	A float64 `json:"a"`
}

// Document is a full snapshot
type Document struct {
	Session  string   `json:"session,omitempty"`
	Entities []Entity `json:"entities"`
	Links    []Link   `json:"links"`
}

var (
	groupColour     = [4]float64{0.35, 0.55, 0.85, 1}
	nodeColour      = [4]float64{0.85, 0.85, 0.85, 1}
	linkColour      = [3]float64{0.6, 0.6, 0.6}
	highlightColour = [3]float64{1, 0.8, 0}
)

// Build flattens entities and visible links. Bound entities are listed
// breadth-first from the root so parents precede children; anything the
// walk cannot reach follows in id order. Placeholders are skipped.
func Build(pool *parallel.WorkerPool, entities []*entity.Entity, ls []links.Link) Document {
	byID := make(map[int64]*entity.Entity, len(entities))
	var roots []int64
	for _, e := range entities {
		if !e.Populated() {
			continue
		}
		byID[e.ID()] = e
		if e.IsRoot() {
			roots = append(roots, e.ID())
		}
	}

	order := make([]int64, 0, len(byID))
	seen := make(map[int64]bool, len(byID))
	children := func(id int64) []int64 {
		var out []int64
		for _, c := range byID[id].ChildIDs() {
			if _, ok := byID[c]; ok {
				out = append(out, c)
			}
		}
		return out
	}
	for _, level := range parallel.Levels(pool, roots, children, 0) {
		for _, id := range level {
			order = append(order, id)
			seen[id] = true
		}
	}
	var rest []int64
	for id := range byID {
		if !seen[id] {
			rest = append(rest, id)
		}
	}
	slices.Sort(rest)
	order = append(order, rest...)

	doc := Document{Entities: make([]Entity, 0, len(order)), Links: make([]Link, 0, len(ls))}
	for _, id := range order {
		doc.Entities = append(doc.Entities, exportEntity(byID[id], children(id)))
	}
	for _, l := range ls {
		if !l.Visible {
			continue
		}
		rgb := linkColour
		if l.Highlighted {
			rgb = highlightColour
		}
		doc.Links = append(doc.Links, Link{S: l.Source, D: l.Destination, W: l.Weight, R: rgb[0], G: rgb[1], B: rgb[2], A: l.Alpha})
	}
	slices.SortStableFunc(doc.Links, func(a, b Link) int {
		return cmp.Or(cmp.Compare(a.S, b.S), cmp.Compare(a.D, b.D))
	})
	return doc
}

// exportEntity maps the first three vector components onto Position. Any
// further components have no exported meaning and are dropped.
func exportEntity(e *entity.Entity, children []int64) Entity {
	out := Entity{
		ID:       e.ID(),
		Name:     e.Name(),
		Type:     e.Category().String(),
		Children: children,
		Colour:   nodeColour,
		Scale:    [3]float64{1, 1, 1},
	}
	if out.Children == nil {
		out.Children = []int64{}
	}
	if e.Category() == entity.CategoryGroup {
		out.Colour = groupColour
	}
	if a := e.Alpha(); a > 0 {
		out.Colour[3] = a
	}
	for i, v := range e.Vector() {
		if i == len(out.Position) {
			break
		}
		out.Position[i] = float64(v)
	}
	return out
}
