package links

import (
	"fmt"

	"github.com/dd0wney/cluso-assembler/pkg/entity"
	"github.com/dd0wney/cluso-assembler/pkg/eventbus"
	"github.com/dd0wney/cluso-assembler/pkg/factory"
	"github.com/dd0wney/cluso-assembler/pkg/logging"
	"github.com/dd0wney/cluso-assembler/pkg/metrics"
)

// Request asks the consuming loop to create or highlight a link. It is the
// payload of TopicLinkCreate and TopicLinkHighlight.
type Request struct {
	Link        *ImportLink
	Source      *entity.Entity
	Destination *entity.Entity
	Weight      float64
	MaxWeight   float64
	Highlight   bool
	Acc         *Accumulator
}

// Result reports what the loop did with a request. It is the payload of
// TopicLinkReady.
type Result struct {
	Source      int64
	Destination int64
	Outcome     Outcome
	Acc         *Accumulator
}

// Poster hands closures to the consuming loop
type Poster interface {
	Post(fn func()) bool
}

// EdgeBuilder provides link containers
type EdgeBuilder interface {
	EdgeShell(src, dst int64) (*factory.Container, error)
}

// Materializer applies link requests to the store on the consuming loop
type Materializer struct {
	store *Store
	loop  Poster
	edges EdgeBuilder
	bus   *eventbus.Bus

	logger  logging.Logger
	metrics *metrics.Registry
}

// NewMaterializer creates a materializer. edges may be nil, in which case
// links carry no container.
func NewMaterializer(store *Store, loop Poster, edges EdgeBuilder, bus *eventbus.Bus, logger logging.Logger, reg *metrics.Registry) *Materializer {
	return &Materializer{
		store:   store,
		loop:    loop,
		edges:   edges,
		bus:     bus,
		logger:  logging.OrDefault(logger).With(logging.Component("materializer")),
		metrics: reg,
	}
}

// Start subscribes to link requests
func (m *Materializer) Start() {
	m.bus.Subscribe(m, eventbus.TopicLinkCreate, eventbus.AnyKey)
	m.bus.Subscribe(m, eventbus.TopicLinkHighlight, eventbus.AnyKey)
}

// Stop unsubscribes from link requests
func (m *Materializer) Stop() {
	m.bus.Unsubscribe(m, eventbus.TopicLinkCreate, eventbus.AnyKey)
	m.bus.Unsubscribe(m, eventbus.TopicLinkHighlight, eventbus.AnyKey)
}

// HandleEvent implements eventbus.Handler. The request is queued onto the
// loop; a closed loop drops it as timed out so the batch still completes.
func (m *Materializer) HandleEvent(ev eventbus.Event) {
	req, ok := ev.Payload.(*Request)
	if !ok || req.Source == nil || req.Destination == nil {
		m.logger.Warn("ignoring malformed link request", logging.Topic(string(ev.Topic)))
		return
	}
	if !m.loop.Post(func() { m.Apply(req) }) {
		m.publish(req, OutcomeTimedOut)
	}
}

// Apply materializes one request. It must run on the consuming loop.
func (m *Materializer) Apply(req *Request) Outcome {
	src, dst := req.Source.ID(), req.Destination.ID()

	var outcome Outcome
	switch _, exists := m.store.Lookup(src, dst); {
	case exists && req.Highlight:
		m.store.update(src, dst, func(l *Link) { l.Highlighted = true })
		outcome = OutcomeHighlighted
	case exists:
		m.coalesce(req)
		outcome = OutcomeDuplicate
	default:
		m.store.create(src, dst, req.Weight, Alpha(req.Weight, req.MaxWeight), req.Highlight, m.container(src, dst))
		outcome = OutcomeCreated
		if req.Highlight {
			outcome = OutcomeHighlighted
		}
	}

	if req.Link != nil {
		switch outcome {
		case OutcomeDuplicate:
			req.Link.Status = StatusDuplicate
		default:
			req.Link.Status = StatusDone
		}
	}
	m.metrics.SetLinksVisible(m.store.Visible())
	m.publish(req, outcome)
	return outcome
}

// coalesce folds a repeated import into the existing link. A failure while
// updating is logged; the edge still counts as a duplicate.
func (m *Materializer) coalesce(req *Request) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("duplicate weight update failed",
				logging.Pair(req.Source.ID(), req.Destination.ID()),
				logging.String("panic", fmt.Sprint(r)))
		}
	}()
	m.store.update(req.Source.ID(), req.Destination.ID(), func(l *Link) {
		l.Weight += req.Weight
		l.Alpha = Alpha(l.Weight, req.MaxWeight)
		l.Imports++
	})
}

func (m *Materializer) container(src, dst int64) *factory.Container {
	if m.edges == nil {
		return nil
	}
	c, err := m.edges.EdgeShell(src, dst)
	if err != nil {
		m.logger.Warn("link created without container", logging.Pair(src, dst), logging.Error(err))
		return nil
	}
	return c
}

func (m *Materializer) publish(req *Request, outcome Outcome) {
	if req.Acc == nil {
		m.metrics.RecordLinkOutcome(outcome.String())
	}
	m.bus.Publish(eventbus.Event{
		Topic: eventbus.TopicLinkReady,
		Key:   req.Source.ID(),
		Payload: &Result{
			Source:      req.Source.ID(),
			Destination: req.Destination.ID(),
			Outcome:     outcome,
			Acc:         req.Acc,
		},
	})
}
