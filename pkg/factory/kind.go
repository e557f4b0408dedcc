package factory

import (
	"fmt"

	"github.com/dd0wney/cluso-assembler/pkg/entity"
)

// Kind is the container flavour built for an entity or link
type Kind int

const (
	KindGroup Kind = iota
	KindNode
	KindEdge
)

// Kinds lists every container kind with a shell pool
var Kinds = []Kind{KindGroup, KindNode, KindEdge}

func (k Kind) String() string {
	switch k {
	case KindGroup:
		return "group"
	case KindNode:
		return "node"
	case KindEdge:
		return "edge"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// KindFor maps an entity category onto a container kind. The second result
// is false for categories the factory cannot build.
func KindFor(c entity.Category) (Kind, bool) {
	switch c {
	case entity.CategoryGroup:
		return KindGroup, true
	case entity.CategoryNode:
		return KindNode, true
	default:
		return 0, false
	}
}
