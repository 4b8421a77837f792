package handlers

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH CHECKS
// ══════════════════════════════════════════════════════════════════════════════

// HealthCheckFunc returns nil when the dependency it probes is usable.
type HealthCheckFunc func(ctx context.Context) error

// HealthStatus is the body of /ready.
type HealthStatus struct {
	Ready     bool                   `json:"ready"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Uptime    string                 `json:"uptime"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
}

// CheckResult represents the result of a single health check.
type CheckResult struct {
	Healthy  bool   `json:"healthy"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration"`
}

// CompositeHealthChecker runs named checks concurrently under one timeout.
type CompositeHealthChecker struct {
	mu        sync.RWMutex
	checks    map[string]HealthCheckFunc
	startTime time.Time
	version   string
	timeout   time.Duration
}

// NewCompositeHealthChecker creates a checker with a 5s budget per run.
func NewCompositeHealthChecker(version string) *CompositeHealthChecker {
	return &CompositeHealthChecker{
		checks:    make(map[string]HealthCheckFunc),
		startTime: time.Now(),
		version:   version,
		timeout:   5 * time.Second,
	}
}

// SetTimeout changes the per-run budget.
func (h *CompositeHealthChecker) SetTimeout(d time.Duration) {
	if d > 0 {
		h.timeout = d
	}
}

// AddCheck registers or replaces a named check.
func (h *CompositeHealthChecker) AddCheck(name string, check HealthCheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// Names returns the registered check names, sorted.
func (h *CompositeHealthChecker) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.checks))
	for n := range h.checks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Check runs every check. A failing check marks the status not ready but
// never cancels the others.
func (h *CompositeHealthChecker) Check(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := make(map[string]HealthCheckFunc, len(h.checks))
	for n, c := range h.checks {
		checks[n] = c
	}
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var (
		mu      sync.Mutex
		results = make(map[string]CheckResult, len(checks))
		g       errgroup.Group
	)
	for name, check := range checks {
		name, check := name, check
		g.Go(func() error {
			start := time.Now()
			err := check(ctx)
			res := CheckResult{Healthy: err == nil, Duration: time.Since(start).String()}
			if err != nil {
				res.Message = err.Error()
			}
			mu.Lock()
			results[name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	ready := true
	for _, r := range results {
		ready = ready && r.Healthy
	}
	return HealthStatus{
		Ready:     ready,
		Checks:    results,
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
		Version:   h.version,
	}
}

// ReadyHandler answers 200 when every check passes and 503 otherwise.
func (h *CompositeHealthChecker) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	st := h.Check(r.Context())
	status := http.StatusOK
	if !st.Ready {
		status = http.StatusServiceUnavailable
	}
	write(w, status, JSONResponse{Success: st.Ready, Data: st, Meta: newMeta()})
}

// LiveHandler always answers 200 while the process can serve requests.
func (h *CompositeHealthChecker) LiveHandler(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{
		"status": "alive",
		"uptime": time.Since(h.startTime).Round(time.Second).String(),
	})
}
