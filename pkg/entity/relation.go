package entity

import (
	"fmt"
)

// Relation is the kind of relationship between two entities. The numeric
// values are the ordinals used on the wire.
type Relation int

const (
	Parent Relation = iota
	Child
	Sibling
	Link
	Template
)

// String returns the relation name
func (r Relation) String() string {
	switch r {
	case Parent:
		return "parent"
	case Child:
		return "child"
	case Sibling:
		return "sibling"
	case Link:
		return "link"
	case Template:
		return "template"
	default:
		return fmt.Sprintf("relation(%d)", int(r))
	}
}

// Valid reports whether r is one of the known relation kinds
func (r Relation) Valid() bool {
	return r >= Parent && r <= Template
}

// rank orders relation kinds from strongest (Parent) to weakest (Template).
// Demotion only moves towards a weaker kind.
func (r Relation) rank() int {
	return int(Template - r)
}

// Confidence records how a relation became known
type Confidence int

const (
	// Inferred relations are derived locally, e.g. siblings computed from the
	// parent's children or a child reported only by the child itself.
	Inferred Confidence = iota + 1
	// Declared relations were present in an ingested snapshot.
	Declared
	// Confirmed relations are agreed on by both endpoints.
	Confirmed
)

// String returns the confidence name
func (c Confidence) String() string {
	switch c {
	case Inferred:
		return "inferred"
	case Declared:
		return "declared"
	case Confirmed:
		return "confirmed"
	default:
		return "unknown"
	}
}

// Edge is one entry of an entity's relation set
type Edge struct {
	Kind       Relation
	Confidence Confidence
}

// Category distinguishes the two renderable entity shapes
type Category int

const (
	CategoryNode Category = iota
	CategoryGroup
)

// String returns the category name used in exports and logs
func (c Category) String() string {
	if c == CategoryGroup {
		return "group"
	}
	return "node"
}
