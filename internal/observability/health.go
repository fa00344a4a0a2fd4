package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// DependencyCheck probes one external dependency.
type DependencyCheck func(ctx context.Context) error

type namedCheck struct {
	name  string
	probe DependencyCheck
}

// DependencyStatus is the outcome of one probe.
type DependencyStatus struct {
	Name      string  `json:"name"`
	OK        bool    `json:"ok"`
	Error     string  `json:"error,omitempty"`
	LatencyMs float64 `json:"latency_ms"`
}

// HealthReport is the readiness body.
type HealthReport struct {
	Status       string             `json:"status"`
	Dependencies []DependencyStatus `json:"dependencies,omitempty"`
}

// HealthChecker tracks whether the process has finished recovery and can
// probe its dependencies. Listeners hear every readiness flip.
type HealthChecker struct {
	started      time.Time
	probeTimeout time.Duration
	ready        atomic.Bool

	mu        sync.RWMutex
	checks    []namedCheck
	listeners []func(ready bool)
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{started: time.Now(), probeTimeout: 2 * time.Second}
}

// AddCheck registers a probe run on every readiness request. Registering a
// name twice replaces the earlier probe.
func (h *HealthChecker) AddCheck(name string, probe DependencyCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.checks {
		if h.checks[i].name == name {
			h.checks[i].probe = probe
			return
		}
	}
	h.checks = append(h.checks, namedCheck{name: name, probe: probe})
}

// OnReadyChange registers fn, which is called immediately with the current
// state and again on every change.
func (h *HealthChecker) OnReadyChange(fn func(ready bool)) {
	h.mu.Lock()
	h.listeners = append(h.listeners, fn)
	h.mu.Unlock()
	fn(h.ready.Load())
}

func (h *HealthChecker) SetReady(ready bool) {
	if h.ready.Swap(ready) == ready {
		return
	}
	h.mu.RLock()
	listeners := append([]func(bool){}, h.listeners...)
	h.mu.RUnlock()
	for _, fn := range listeners {
		fn(ready)
	}
}

func (h *HealthChecker) IsReady() bool { return h.ready.Load() }

// Probe runs every check concurrently, each bounded by the probe timeout.
// Results are sorted by name.
func (h *HealthChecker) Probe(ctx context.Context) []DependencyStatus {
	h.mu.RLock()
	checks := append([]namedCheck(nil), h.checks...)
	h.mu.RUnlock()

	out := make([]DependencyStatus, len(checks))
	var wg sync.WaitGroup
	for i, c := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, h.probeTimeout)
			defer cancel()
			start := time.Now()
			err := c.probe(pctx)
			st := DependencyStatus{Name: c.name, OK: err == nil, LatencyMs: float64(time.Since(start).Microseconds()) / 1000}
			if err != nil {
				st.Error = err.Error()
			}
			out[i] = st
		}()
	}
	wg.Wait()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Report combines readiness with a dependency probe. Probes are skipped
// while recovery is still running.
func (h *HealthChecker) Report(ctx context.Context) HealthReport {
	if !h.ready.Load() {
		return HealthReport{Status: "recovering"}
	}
	deps := h.Probe(ctx)
	status := "ready"
	for _, d := range deps {
		if !d.OK {
			status = "degraded"
			break
		}
	}
	return HealthReport{Status: status, Dependencies: deps}
}

// LivenessHandler answers 200 for as long as the process can serve HTTP.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	writeHealth(w, http.StatusOK, map[string]string{
		"status": "alive",
		"uptime": time.Since(h.started).Round(time.Second).String(),
	})
}

// ReadinessHandler answers 200 only when recovery is done and every
// dependency responds.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	rep := h.Report(r.Context())
	code := http.StatusOK
	if rep.Status != "ready" {
		code = http.StatusServiceUnavailable
	}
	writeHealth(w, code, rep)
}

func writeHealth(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
