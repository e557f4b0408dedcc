package factory

import (
	"sync"

	"github.com/dd0wney/cluso-assembler/pkg/entity"
)

// Container is the renderable counterpart of an entity or a link. It is only
// touched on the consuming loop.
type Container struct {
	ID       uint64
	EntityID int64
	Kind     Kind
	Shell    any
}

// Renderer builds and binds shells. NewShell may run ahead of time to fill a
// pool; Activate runs on the consuming loop when a container is produced.
type Renderer interface {
	NewShell(kind Kind) any
	Activate(shell any, c *Container, e *entity.Entity) error
	Release(shell any)
}

// HeadlessShell is the shell type built by HeadlessRenderer
type HeadlessShell struct {
	Kind     Kind
	EntityID int64
	Name     string
	Active   bool
}

// HeadlessRenderer keeps containers in memory without drawing anything. It
// is used by the CLI and tests.
type HeadlessRenderer struct {
	mu        sync.Mutex
	built     map[Kind]int
	activated map[int64]int
}

// NewHeadlessRenderer creates an empty headless renderer
func NewHeadlessRenderer() *HeadlessRenderer {
	return &HeadlessRenderer{
		built:     make(map[Kind]int),
		activated: make(map[int64]int),
	}
}

// NewShell implements Renderer
func (r *HeadlessRenderer) NewShell(kind Kind) any {
	r.mu.Lock()
	r.built[kind]++
	r.mu.Unlock()
	return &HeadlessShell{Kind: kind}
}

// Activate implements Renderer
func (r *HeadlessRenderer) Activate(shell any, c *Container, e *entity.Entity) error {
	s, ok := shell.(*HeadlessShell)
	if !ok {
		return ErrForeignShell
	}
	s.Active = true
	s.EntityID = c.EntityID
	if e != nil {
		s.Name = e.Name()
	}
	r.mu.Lock()
	r.activated[c.EntityID]++
	r.mu.Unlock()
	return nil
}

// Release implements Renderer
func (r *HeadlessRenderer) Release(shell any) {
	if s, ok := shell.(*HeadlessShell); ok {
		s.Active = false
		s.EntityID = 0
		s.Name = ""
	}
}

// Activations returns how many times a container was activated for id
func (r *HeadlessRenderer) Activations(id int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activated[id]
}

// Built returns how many shells of kind were constructed
func (r *HeadlessRenderer) Built(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.built[kind]
}
