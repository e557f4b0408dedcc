// Package callbacks is a one-shot "call me back once X is ready" registry.
//
// Unlike the event bus, a task's queue is drained when it fires: every
// callback registered for the task runs once and the queue starts empty
// again. This keeps rarely asked questions ("has entity 42 announced?")
// from accumulating retained handlers.
package callbacks

import (
	"fmt"
	"sync"

	"github.com/dd0wney/cluso-assembler/pkg/logging"
	"github.com/dd0wney/cluso-assembler/pkg/metrics"
)

// Callback receives the result a task was completed with
type Callback[T any] func(result T)

type entry[T any] struct {
	key string
	cb  Callback[T]
}

// Registry queues callbacks per task name
type Registry[T any] struct {
	mu      sync.Mutex
	tasks   map[string][]entry[T]
	logger  logging.Logger
	metrics *metrics.Registry
}

// New creates an empty registry
func New[T any](logger logging.Logger, reg *metrics.Registry) *Registry[T] {
	return &Registry[T]{
		tasks:   make(map[string][]entry[T]),
		logger:  logging.OrDefault(logger).With(logging.Component("callbacks")),
		metrics: reg,
	}
}

// RequestCallback enqueues cb for the next firing of task
func (r *Registry[T]) RequestCallback(task string, cb Callback[T]) {
	if cb == nil {
		return
	}
	r.mu.Lock()
	r.tasks[task] = append(r.tasks[task], entry[T]{cb: cb})
	r.mu.Unlock()
}

// RequestCallbackKeyed enqueues cb unless a callback with the same identity
// key is already waiting on task. It reports whether cb was queued.
func (r *Registry[T]) RequestCallbackKeyed(task, key string, cb Callback[T]) bool {
	if cb == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.tasks[task] {
		if key != "" && e.key == key {
			return false
		}
	}
	r.tasks[task] = append(r.tasks[task], entry[T]{key: key, cb: cb})
	return true
}

// CallBack drains the queue for task and invokes each callback once with
// result, in registration order, outside the registry lock. It returns how
// many callbacks ran.
func (r *Registry[T]) CallBack(task string, result T) int {
	r.mu.Lock()
	queue := r.tasks[task]
	delete(r.tasks, task)
	r.mu.Unlock()

	for _, e := range queue {
		r.invoke(task, e.cb, result)
	}
	r.metrics.RecordCallbacks(len(queue))
	return len(queue)
}

func (r *Registry[T]) invoke(task string, cb Callback[T], result T) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("callback panic recovered",
				logging.String("task", task),
				logging.String("panic", fmt.Sprint(p)),
			)
		}
	}()
	cb(result)
}

// Pending returns the number of callbacks waiting on task
func (r *Registry[T]) Pending(task string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks[task])
}

// Tasks returns the number of tasks with waiting callbacks
func (r *Registry[T]) Tasks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}
