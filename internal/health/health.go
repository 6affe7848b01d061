// Package health reports the progress of the running backup over HTTP.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	// StatusHealthy indicates the component is healthy.
	StatusHealthy Status = "healthy"
	// StatusUnhealthy indicates the component is unhealthy.
	StatusUnhealthy Status = "unhealthy"
)

// Check represents a health check result.
type Check struct {
	Status    Status         `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// CheckFunc produces one named check.
type CheckFunc func(context.Context) Check

// Checker performs health checks.
type Checker struct {
	mu     sync.RWMutex
	checks map[string]CheckFunc
}

// NewChecker creates a new health checker.
func NewChecker() *Checker {
	return &Checker{
		checks: make(map[string]CheckFunc),
	}
}

// RegisterCheck registers a health check function.
func (c *Checker) RegisterCheck(name string, checkFunc CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = checkFunc
}

// CheckHealth performs all registered health checks.
func (c *Checker) CheckHealth(ctx context.Context) map[string]Check {
	c.mu.RLock()
	defer c.mu.RUnlock()

	results := make(map[string]Check, len(c.checks))
	for name, checkFunc := range c.checks {
		results[name] = checkFunc(ctx)
	}
	return results
}

// Handler returns an HTTP handler for health checks.
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results := c.CheckHealth(r.Context())

		overallStatus := StatusHealthy
		for _, check := range results {
			if check.Status == StatusUnhealthy {
				overallStatus = StatusUnhealthy
				break
			}
		}

		response := struct {
			Status    Status           `json:"status"`
			Checks    map[string]Check `json:"checks"`
			Timestamp time.Time        `json:"timestamp"`
		}{
			Status:    overallStatus,
			Checks:    results,
			Timestamp: time.Now(),
		}

		w.Header().Set("Content-Type", "application/json")
		if overallStatus == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}

		// Headers are already sent, nothing useful to do on error.
		_ = json.NewEncoder(w).Encode(response)
	}
}

// Progress tracks the stage of the current backup run.
type Progress struct {
	mu       sync.RWMutex
	stage    string
	started  time.Time
	finished time.Time
	err      error
	now      func() time.Time
}

// NewProgress creates a new progress tracker.
func NewProgress() *Progress {
	return &Progress{stage: "pending", now: time.Now}
}

// Enter records that the run moved to stage.
func (p *Progress) Enter(stage string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started.IsZero() {
		p.started = p.now()
	}
	p.stage = stage
}

// Finish records the outcome of the run.
func (p *Progress) Finish(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finished = p.now()
	p.err = err
	if err == nil {
		p.stage = "completed"
	} else {
		p.stage = "failed"
	}
}

// Check reports the run as unhealthy once it finished with an error.
func (p *Progress) Check(_ context.Context) Check {
	p.mu.RLock()
	defer p.mu.RUnlock()

	details := map[string]any{"stage": p.stage}
	if !p.started.IsZero() {
		details["started"] = p.started.UTC().Format(time.RFC3339)
	}
	if !p.finished.IsZero() {
		details["finished"] = p.finished.UTC().Format(time.RFC3339)
	}

	status := StatusHealthy
	if p.err != nil {
		status = StatusUnhealthy
		details["error"] = p.err.Error()
	}

	return Check{
		Status:    status,
		Timestamp: p.now(),
		Details:   details,
	}
}

// ReadinessHandler returns a simple readiness check handler.
func ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	}
}

// LivenessHandler returns a simple liveness check handler.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("alive\n"))
	}
}
