package health

import (
	"sync"
	"time"
)

// Status is the outcome of a check. Responses take the worst status of
// their checks.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

func (s Status) severity() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// Scope selects which endpoint a check answers for
type Scope int

const (
	// ScopeHealth checks feed /health
	ScopeHealth Scope = iota
	// ScopeReady checks feed /ready
	ScopeReady
	// ScopeLive checks feed /live
	ScopeLive
)

// Check is one component's result
type Check struct {
	Name        string         `json:"name"`
	Status      Status         `json:"status"`
	Message     string         `json:"message,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	LastChecked time.Time      `json:"last_checked"`
	Duration    time.Duration  `json:"duration_ms"`
}

// CheckFunc produces a Check
type CheckFunc func() Check

// HealthChecker runs the registered checks of an assembly session
type HealthChecker struct {
	mu      sync.RWMutex
	scopes  [3]map[string]CheckFunc
	started time.Time
}

// Response aggregates the checks of one scope
type Response struct {
	Status    Status           `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
	Checks    map[string]Check `json:"checks"`
	Uptime    time.Duration    `json:"uptime_seconds"`
}
