package graph

import (
	"time"

	"github.com/dd0wney/cluso-assembler/pkg/entity"
	"github.com/dd0wney/cluso-assembler/pkg/eventbus"
	"github.com/dd0wney/cluso-assembler/pkg/factory"
	"github.com/dd0wney/cluso-assembler/pkg/logging"
)

// parentWaiter wakes a worker whose parent has announced or gained a container
type parentWaiter struct {
	wake chan struct{}
}

func (w *parentWaiter) HandleEvent(eventbus.Event) {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// run walks one entity from Uninitialized to AnnouncedReady
func (r *Registry) run(e *entity.Entity) {
	if !r.awaitPopulation(e) {
		return
	}
	r.advance(e, entity.FieldsPopulated)
	r.advance(e, entity.AwaitingBinding)

	if e.IsRoot() {
		r.bind(e, nil)
		r.announceReady(e)
		return
	}

	if _, ok := e.ParentID(); !ok {
		r.orphans.Store(e.ID(), struct{}{})
		if _, ok := e.ParentID(); !ok {
			r.logger.Warn("entity has no parent and is not the root", logging.EntityID(e.ID()), logging.String("name", e.Name()))
			return
		}
		if _, mine := r.orphans.LoadAndDelete(e.ID()); !mine {
			return
		}
	}
	r.bindToParent(e)
}

// rebindOrphan restarts binding for a parentless entity whose merged
// snapshot now declares a parent
func (r *Registry) rebindOrphan(e *entity.Entity) {
	if _, ok := e.ParentID(); !ok {
		return
	}
	if _, ok := r.orphans.LoadAndDelete(e.ID()); ok {
		r.spawn(e, r.bindToParent)
	}
}

func (r *Registry) bindToParent(e *entity.Entity) {
	pid, ok := e.ParentID()
	if !ok {
		return
	}
	parent, ok := r.awaitParent(e, pid)
	if !ok {
		return
	}
	r.bind(e, parent)
	r.announceReady(e)
}

// awaitPopulation polls with exponential backoff until e's fields arrive.
// There is no event for population, so this is the one polling wait.
func (r *Registry) awaitPopulation(e *entity.Entity) bool {
	delay := r.opts.PopulationMin
	var timer *time.Timer
	for !e.Populated() {
		if timer == nil {
			timer = time.NewTimer(delay)
			defer timer.Stop()
		} else {
			timer.Reset(delay)
		}
		select {
		case <-r.ctx.Done():
			return false
		case <-timer.C:
		}
		delay = min(delay*2, r.opts.PopulationMax)
	}
	return true
}

// awaitParent blocks until the parent is registered and ready. It subscribes
// before looking so an announcement between the two cannot be missed.
func (r *Registry) awaitParent(e *entity.Entity, pid int64) (*entity.Entity, bool) {
	w := &parentWaiter{wake: make(chan struct{}, 1)}
	r.bus.Subscribe(w, eventbus.TopicNewEntity, pid)
	r.bus.Subscribe(w, eventbus.TopicContainerReady, pid)
	defer func() {
		r.bus.Unsubscribe(w, eventbus.TopicNewEntity, pid)
		r.bus.Unsubscribe(w, eventbus.TopicContainerReady, pid)
	}()

	for {
		if p, ok := r.Get(pid); ok && p.Ready() {
			return p, true
		}
		select {
		case <-r.ctx.Done():
			return nil, false
		case <-w.wake:
		}
	}
}

// bind attaches e to parent and derives siblings from the parent's children
// that e does not already relate to
func (r *Registry) bind(e, parent *entity.Entity) {
	if !e.Bind(parent) {
		return
	}
	r.metrics.RecordTransition(entity.Bound.String())
	if parent == nil {
		return
	}

	parent.Relate(e.ID(), entity.Child, entity.Confirmed)
	for _, sid := range parent.ChildIDs() {
		if sid == e.ID() {
			continue
		}
		if _, known := e.RelationTo(sid); !known {
			e.Relate(sid, entity.Sibling, entity.Inferred)
		}
		if s, ok := r.Get(sid); ok {
			if _, known := s.RelationTo(e.ID()); !known {
				s.Relate(e.ID(), entity.Sibling, entity.Inferred)
			}
		}
	}
	r.logger.Debug("entity bound",
		logging.EntityID(e.ID()),
		logging.ParentID(parent.ID()),
		logging.Int("depth", e.Depth()))
}

// announceReady requests e's container, marks it ready and wakes everyone
// waiting on it
func (r *Registry) announceReady(e *entity.Entity) {
	if r.factory != nil {
		r.factory.Request(e, func(c *factory.Container) {
			e.AttachContainer()
			r.bus.Publish(eventbus.Event{Topic: eventbus.TopicContainerReady, Key: e.ID(), Payload: c})
		})
	}
	if e.MarkReady() {
		n := r.ready.Add(1)
		r.metrics.RecordTransition(entity.AnnouncedReady.String())
		r.metrics.SetEntitiesReady(int(n))
	}
	for _, cid := range e.ChildIDs() {
		r.placeholder(cid, e.ID())
	}
	r.bus.Publish(eventbus.Event{Topic: eventbus.TopicNewEntity, Key: e.ID(), Payload: e})
	r.announce.CallBack(announceTask(e.ID()), e)
}

// replay repeats the discovery steps for relations a merge added to an
// already announced entity
func (r *Registry) replay(e *entity.Entity, ids []int64) {
	for _, id := range ids {
		edge, ok := e.RelationTo(id)
		if !ok {
			continue
		}
		switch edge.Kind {
		case entity.Child:
			r.placeholder(id, e.ID())
		case entity.Sibling:
			if s, ok := r.Get(id); ok {
				s.Relate(e.ID(), entity.Sibling, entity.Inferred)
			}
		}
	}
	r.bus.Publish(eventbus.Event{Topic: eventbus.TopicNewEntity, Key: e.ID(), Payload: e})
}

func (r *Registry) advance(e *entity.Entity, to entity.State) {
	if e.Advance(to) {
		r.metrics.RecordTransition(to.String())
	}
}
