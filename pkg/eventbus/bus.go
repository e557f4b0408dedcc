package eventbus

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/dd0wney/cluso-assembler/pkg/logging"
	"github.com/dd0wney/cluso-assembler/pkg/metrics"
)

type subKey struct {
	topic Topic
	id    int64
}

// Bus is a publish/subscribe hub keyed by (topic, entity id). Handlers stay
// subscribed after firing, so a key may fire any number of times.
type Bus struct {
	handlers map[subKey][]Handler
	mu       sync.RWMutex

	shutdownMu sync.Mutex
	isShutdown bool

	logger  logging.Logger
	metrics *metrics.Registry
}

// New creates a bus. A nil logger uses the default logger; a nil registry
// disables metrics.
func New(logger logging.Logger, reg *metrics.Registry) *Bus {
	return &Bus{
		handlers: make(map[subKey][]Handler),
		logger:   logging.OrDefault(logger).With(logging.Component("eventbus")),
		metrics:  reg,
	}
}

// Subscribe appends h to the handler list of (topic, id). Re-subscribing the
// same handler is a no-op. It reports whether h was added.
func (b *Bus) Subscribe(h Handler, topic Topic, id int64) bool {
	if h == nil || !reflect.TypeOf(h).Comparable() {
		b.logger.Error("refusing non-comparable handler", logging.Topic(string(topic)), logging.EntityID(id))
		return false
	}
	if b.closed() {
		return false
	}

	k := subKey{topic: topic, id: id}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, existing := range b.handlers[k] {
		if existing == h {
			return false
		}
	}
	b.handlers[k] = append(b.handlers[k], h)
	return true
}

// Unsubscribe removes h from (topic, id)
func (b *Bus) Unsubscribe(h Handler, topic Topic, id int64) {
	k := subKey{topic: topic, id: id}
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.handlers[k]
	for i, existing := range list {
		if existing == h {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(b.handlers, k)
	} else {
		b.handlers[k] = list
	}
}

// Publish invokes every handler of (ev.Topic, ev.Key) in subscription order,
// then the topic's AnyKey handlers. Handlers run on the caller's goroutine
// outside the bus lock, so they may subscribe or publish themselves. A
// panicking handler is logged and does not stop the others. Publish returns
// the number of handlers invoked.
func (b *Bus) Publish(ev Event) int {
	if b.closed() {
		return 0
	}
	b.metrics.RecordPublish(string(ev.Topic))

	// Snapshot under the read lock; concurrent Subscribe may append to the
	// backing array, so copy rather than alias.
	b.mu.RLock()
	keyed := b.handlers[subKey{topic: ev.Topic, id: ev.Key}]
	var wildcard []Handler
	if ev.Key != AnyKey {
		wildcard = b.handlers[subKey{topic: ev.Topic, id: AnyKey}]
	}
	targets := make([]Handler, 0, len(keyed)+len(wildcard))
	targets = append(targets, keyed...)
	targets = append(targets, wildcard...)
	b.mu.RUnlock()

	for _, h := range targets {
		b.invoke(h, ev)
	}
	return len(targets)
}

func (b *Bus) invoke(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panic recovered",
				logging.Topic(string(ev.Topic)),
				logging.EntityID(ev.Key),
				logging.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	h.HandleEvent(ev)
}

// SubscriberCount returns the number of handlers on (topic, id)
func (b *Bus) SubscriberCount(topic Topic, id int64) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[subKey{topic: topic, id: id}])
}

// Shutdown drops every subscription; later publishes are no-ops
func (b *Bus) Shutdown() {
	b.shutdownMu.Lock()
	if b.isShutdown {
		b.shutdownMu.Unlock()
		return
	}
	b.isShutdown = true
	b.shutdownMu.Unlock()

	b.mu.Lock()
	clear(b.handlers)
	b.mu.Unlock()
}

func (b *Bus) closed() bool {
	b.shutdownMu.Lock()
	defer b.shutdownMu.Unlock()
	return b.isShutdown
}

// Subscription forwards events into a buffered channel. Events that do not
// fit are dropped rather than blocking the publisher.
type Subscription struct {
	bus       *Bus
	topic     Topic
	id        int64
	channel   chan Event
	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
}

// HandleEvent implements Handler
func (s *Subscription) HandleEvent(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.channel <- ev:
	default:
	}
}

// Channel returns the subscription's event channel
func (s *Subscription) Channel() <-chan Event {
	return s.channel
}

// Unsubscribe detaches the subscription and closes its channel
func (s *Subscription) Unsubscribe() {
	s.closeOnce.Do(func() {
		s.bus.Unsubscribe(s, s.topic, s.id)
		s.mu.Lock()
		s.closed = true
		close(s.channel)
		s.mu.Unlock()
	})
}

// Listen returns a channel-backed subscription that is removed when ctx ends
func (b *Bus) Listen(ctx context.Context, topic Topic, id int64, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 100
	}
	sub := &Subscription{
		bus:     b,
		topic:   topic,
		id:      id,
		channel: make(chan Event, buffer),
	}
	b.Subscribe(sub, topic, id)

	go func() {
		<-ctx.Done()
		sub.Unsubscribe()
	}()
	return sub
}
