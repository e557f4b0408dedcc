package entity

// State is an entity's lifecycle stage. Stages only move forward.
type State int32

const (
	Uninitialized State = iota
	FieldsPopulated
	AwaitingBinding
	Bound
	AnnouncedReady
)

// String returns the state name
func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case FieldsPopulated:
		return "fields_populated"
	case AwaitingBinding:
		return "awaiting_binding"
	case Bound:
		return "bound"
	case AnnouncedReady:
		return "announced_ready"
	default:
		return "unknown"
	}
}
