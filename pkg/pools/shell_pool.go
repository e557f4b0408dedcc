package pools

import (
	"sync"
)

// Refill decides how many shells to build when a pool runs low
type Refill struct {
	// LowWater is the stock level below which the pool is topped up
	LowWater int
	// Replenish is how many shells a normal top-up builds
	Replenish int
	// Burst is how many shells a top-up builds while work is queued
	Burst int
}

// DefaultRefill matches the factory defaults
var DefaultRefill = Refill{LowWater: 16, Replenish: 32, Burst: 64}

// ShellPool holds pre-built inactive objects of one kind
type ShellPool[T any] struct {
	mu     sync.Mutex
	stock  []T
	build  func() T
	policy Refill

	built   uint64
	reused  uint64
	misses  uint64
	release uint64
}

// PoolStats reports pool activity
type PoolStats struct {
	Available int
	Built     uint64
	Reused    uint64
	Misses    uint64
	Released  uint64
}

// NewShellPool creates an empty pool. build constructs one inactive shell.
func NewShellPool[T any](build func() T, policy Refill) *ShellPool[T] {
	if policy.Replenish <= 0 {
		policy.Replenish = DefaultRefill.Replenish
	}
	if policy.Burst < policy.Replenish {
		policy.Burst = policy.Replenish
	}
	return &ShellPool[T]{build: build, policy: policy}
}

// Get takes a shell from stock, building one directly when the stock is
// empty (a miss).
func (p *ShellPool[T]) Get() T {
	p.mu.Lock()
	if n := len(p.stock); n > 0 {
		s := p.stock[n-1]
		var zero T
		p.stock[n-1] = zero
		p.stock = p.stock[:n-1]
		p.reused++
		p.mu.Unlock()
		return s
	}
	p.misses++
	p.built++
	p.mu.Unlock()
	return p.build()
}

// Put returns an unused shell to stock
func (p *ShellPool[T]) Put(s T) {
	p.mu.Lock()
	p.stock = append(p.stock, s)
	p.release++
	p.mu.Unlock()
}

// Low reports whether the stock is under the low-water mark
func (p *ShellPool[T]) Low() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.stock) < p.policy.LowWater
}

// Fill builds up to n shells while keepGoing returns true, and returns how
// many were built. keepGoing lets the caller stop when its tick budget runs
// out.
func (p *ShellPool[T]) Fill(n int, keepGoing func() bool) int {
	built := 0
	for built < n && (keepGoing == nil || keepGoing()) {
		s := p.build()
		p.mu.Lock()
		p.stock = append(p.stock, s)
		p.built++
		p.mu.Unlock()
		built++
	}
	return built
}

// Target is the stock level a top-up builds towards: LowWater+Burst while
// busy, LowWater+Replenish otherwise.
func (p *ShellPool[T]) Target(busy bool) int {
	if busy {
		return p.policy.LowWater + p.policy.Burst
	}
	return p.policy.LowWater + p.policy.Replenish
}

// Replenish applies the refill policy. An idle pool is topped up only once
// it drops under the low-water mark; a busy pool is topped up every call.
// Either way the stock never grows past Target.
func (p *ShellPool[T]) Replenish(busy bool, keepGoing func() bool) int {
	if !busy && !p.Low() {
		return 0
	}
	n := p.Target(busy) - p.Len()
	if n <= 0 {
		return 0
	}
	return p.Fill(n, keepGoing)
}

// Len returns the current stock
func (p *ShellPool[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.stock)
}

// Stats returns a snapshot of pool counters
func (p *ShellPool[T]) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Available: len(p.stock),
		Built:     p.built,
		Reused:    p.reused,
		Misses:    p.misses,
		Released:  p.release,
	}
}
