package eventbus

import "math"

// Topic names an event stream
type Topic string

const (
	// TopicNewEntity fires when an entity announces itself ready. Key: entity id.
	TopicNewEntity Topic = "entity.new"
	// TopicContainerReady fires when an entity's container exists. Key: entity id.
	TopicContainerReady Topic = "container.ready"
	// TopicLinkCreate asks the consuming side to materialize a link.
	TopicLinkCreate Topic = "link.create"
	// TopicLinkHighlight asks the consuming side to highlight a link.
	TopicLinkHighlight Topic = "link.highlight"
	// TopicLinkReady reports the outcome of a create or highlight request.
	TopicLinkReady Topic = "link.ready"
	// TopicProgress carries progress reports from the monitor.
	TopicProgress Topic = "progress"
)

// AnyKey subscribes to every event of a topic regardless of key, and is the
// key used for events not tied to a single entity.
const AnyKey int64 = math.MinInt64

// Event is what handlers receive
type Event struct {
	Topic   Topic
	Key     int64
	Payload any
}

// Handler receives events. Handlers are compared by identity when
// subscribing, so implementations must be comparable (usually a pointer).
type Handler interface {
	HandleEvent(Event)
}
