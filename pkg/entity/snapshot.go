package entity

// RootName is the name carried by the graph root
const RootName = "groot"

// Snapshot is one decoded version of an entity's externally supplied fields
type Snapshot struct {
	ID            int64
	Name          string
	Pos           int
	Count         int
	Alpha         float64
	Info          string
	MaxGeneration int
	Generations   []int
	Vector        []int
	Relations     map[int64]Relation
}

// ParentID returns the declared parent, if any
func (s *Snapshot) ParentID() (int64, bool) {
	for id, kind := range s.Relations {
		if kind == Parent {
			return id, true
		}
	}
	return 0, false
}

// category derives the entity shape from the snapshot
func (s *Snapshot) category() Category {
	if s.Count > 0 {
		return CategoryGroup
	}
	for _, kind := range s.Relations {
		if kind == Child {
			return CategoryGroup
		}
	}
	return CategoryNode
}
