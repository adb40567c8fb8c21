// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package health provides health check and readiness endpoints.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Status represents the health status.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Check represents a single health check result.
type Check struct {
	Name        string        `json:"name"`
	Status      Status        `json:"status"`
	Message     string        `json:"message,omitempty"`
	LastChecked time.Time     `json:"last_checked"`
	Duration    time.Duration `json:"duration_ms"`
}

// CheckFunc is a function that performs a health check.
type CheckFunc func(ctx context.Context) error

// Checker manages health checks.
type Checker struct {
	mu     sync.Mutex
	checks map[string]CheckFunc
	cache  map[string]*Check
	ttl    time.Duration
}

// NewChecker creates a new health checker. A zero cacheTTL defaults to
// one second: the listener check must notice a stopped server quickly.
func NewChecker(cacheTTL time.Duration) *Checker {
	if cacheTTL == 0 {
		cacheTTL = time.Second
	}
	return &Checker{
		checks: make(map[string]CheckFunc),
		cache:  make(map[string]*Check),
		ttl:    cacheTTL,
	}
}

// Register adds a health check.
func (c *Checker) Register(name string, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
	delete(c.cache, name)
}

// Health runs every registered check, or reuses a cached result younger than
// the TTL, and returns the overall status. With no checks registered the
// status is unhealthy. Checks are returned sorted by name.
func (c *Checker) Health(ctx context.Context) (Status, []Check) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.checks) == 0 {
		return StatusUnhealthy, nil
	}

	checks := make([]Check, 0, len(c.checks))
	failed := 0

	for name, checkFunc := range c.checks {
		// Check cache
		if cached, ok := c.cache[name]; ok && time.Since(cached.LastChecked) < c.ttl {
			checks = append(checks, *cached)
			if cached.Status != StatusHealthy {
				failed++
			}
			continue
		}

		start := time.Now()
		err := checkFunc(ctx)

		check := &Check{
			Name:        name,
			Status:      StatusHealthy,
			LastChecked: time.Now(),
			Duration:    time.Since(start),
		}
		if err != nil {
			check.Status = StatusUnhealthy
			check.Message = err.Error()
			failed++
		}

		c.cache[name] = check
		checks = append(checks, *check)
	}

	sort.Slice(checks, func(i, j int) bool { return checks[i].Name < checks[j].Name })

	switch {
	case failed == 0:
		return StatusHealthy, checks
	case failed == len(checks):
		return StatusUnhealthy, checks
	default:
		return StatusDegraded, checks
	}
}

type response struct {
	Status Status  `json:"status"`
	Checks []Check `json:"checks,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// HTTPHandler reports every check. Degraded still answers 200.
func (c *Checker) HTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status, checks := c.Health(ctx)
		code := http.StatusOK
		if status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, response{Status: status, Checks: checks})
	}
}

// ReadinessHandler answers 200 only when every check passes.
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status, checks := c.Health(ctx)
		code := http.StatusOK
		if status != StatusHealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, response{Status: status, Checks: checks})
	}
}

// LivenessHandler returns a simple liveness probe.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
	}
}

// Mux serves /health, /ready and /live.
func (c *Checker) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /health", c.HTTPHandler())
	mux.Handle("GET /ready", c.ReadinessHandler())
	mux.Handle("GET /live", LivenessHandler())
	return mux
}
