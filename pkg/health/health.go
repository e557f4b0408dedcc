// Package health aggregates component checks into health, readiness and
// liveness responses.
package health

import (
	"time"
)

// NewHealthChecker creates a checker with no checks registered
func NewHealthChecker() *HealthChecker {
	hc := &HealthChecker{started: time.Now()}
	for i := range hc.scopes {
		hc.scopes[i] = make(map[string]CheckFunc)
	}
	return hc
}

// Register adds check under name to scope, replacing any check of that name
func (hc *HealthChecker) Register(scope Scope, name string, check CheckFunc) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.scopes[scope][name] = check
}

func (hc *HealthChecker) RegisterCheck(name string, check CheckFunc) {
	hc.Register(ScopeHealth, name, check)
}

func (hc *HealthChecker) RegisterReadinessCheck(name string, check CheckFunc) {
	hc.Register(ScopeReady, name, check)
}

func (hc *HealthChecker) RegisterLivenessCheck(name string, check CheckFunc) {
	hc.Register(ScopeLive, name, check)
}

func (hc *HealthChecker) Check() Response          { return hc.Run(ScopeHealth) }
func (hc *HealthChecker) CheckReadiness() Response { return hc.Run(ScopeReady) }
func (hc *HealthChecker) CheckLiveness() Response  { return hc.Run(ScopeLive) }

// Run executes every check of scope. Each result is stamped with its start
// time and duration, and the response takes the worst status.
func (hc *HealthChecker) Run(scope Scope) Response {
	hc.mu.RLock()
	defer hc.mu.RUnlock()

	checks := hc.scopes[scope]
	now := time.Now()
	response := Response{
		Status:    StatusHealthy,
		Timestamp: now,
		Checks:    make(map[string]Check, len(checks)),
		Uptime:    now.Sub(hc.started),
	}

	for name, fn := range checks {
		start := time.Now()
		check := fn()
		check.Duration = time.Since(start)
		check.LastChecked = start
		if check.Name == "" {
			check.Name = name
		}
		response.Checks[name] = check

		if check.Status.severity() > response.Status.severity() {
			response.Status = check.Status
		}
	}

	return response
}
