package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Probe checks one dependency. A nil error means healthy.
type Probe func(ctx context.Context) error

type probeResult struct {
	OK        bool    `json:"ok"`
	Error     string  `json:"error,omitempty"`
	LatencyMs float64 `json:"latency_ms"`
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	State        string
	ModelReady   bool
	LastTickTime time.Time
	LastError    string
	LastTraining time.Time
	LastAccuracy float64

	probes      map[string]Probe
	results     map[string]probeResult
	LastCheckAt time.Time
	StartedAt   time.Time

	now func() time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		State:     "STARTING",
		probes:    make(map[string]Probe),
		results:   make(map[string]probeResult),
		StartedAt: time.Now(),
		now:       time.Now,
	}
}

func (h *HealthStatus) SetState(s string) {
	h.mu.Lock()
	h.State = s
	h.mu.Unlock()
}

func (h *HealthStatus) SetModelReady(v bool) {
	h.mu.Lock()
	h.ModelReady = v
	h.mu.Unlock()
}

// RecordTick stores the tick time and its error, if any.
func (h *HealthStatus) RecordTick(t time.Time, err error) {
	h.mu.Lock()
	h.LastTickTime = t
	if err != nil {
		h.LastError = err.Error()
	} else {
		h.LastError = ""
	}
	h.mu.Unlock()
}

// RecordTraining stores the outcome of a training run.
func (h *HealthStatus) RecordTraining(t time.Time, accuracy float64, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err != nil {
		h.LastError = "training: " + err.Error()
		return
	}
	h.LastTraining = t
	h.LastAccuracy = accuracy
}

// AddProbe registers a dependency check run by the liveness checker.
func (h *HealthStatus) AddProbe(name string, p Probe) {
	h.mu.Lock()
	h.probes[name] = p
	h.mu.Unlock()
}

// CheckNow runs every probe once and records latency and result.
func (h *HealthStatus) CheckNow(ctx context.Context) {
	h.mu.RLock()
	probes := make(map[string]Probe, len(h.probes))
	for k, v := range h.probes {
		probes[k] = v
	}
	h.mu.RUnlock()

	results := make(map[string]probeResult, len(probes))
	for name, p := range probes {
		start := time.Now()
		err := p(ctx)
		r := probeResult{OK: err == nil, LatencyMs: float64(time.Since(start).Microseconds()) / 1000.0}
		if err != nil {
			r.Error = err.Error()
		}
		results[name] = r
	}

	h.mu.Lock()
	h.results = results
	h.LastCheckAt = h.now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				h.CheckNow(probeCtx)
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	probesOK := true
	for _, res := range h.results {
		if !res.OK {
			probesOK = false
		}
	}
	switch {
	case h.State == "STARTING":
		overallStatus = "starting"
		httpCode = http.StatusServiceUnavailable
	case !h.ModelReady || h.State == "STOPPED":
		overallStatus = "unhealthy"
		httpCode = http.StatusServiceUnavailable
	case !probesOK:
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}

	tickAge := ""
	if !h.LastTickTime.IsZero() {
		tickAge = h.now().Sub(h.LastTickTime).Round(time.Millisecond).String()
	}
	lastTraining := ""
	if !h.LastTraining.IsZero() {
		lastTraining = h.LastTraining.UTC().Format(time.RFC3339)
	}

	status := struct {
		Status       string                 `json:"status"`
		Uptime       string                 `json:"uptime"`
		State        string                 `json:"state"`
		ModelReady   bool                   `json:"model_ready"`
		LastTickTime string                 `json:"last_tick_time"`
		TickAge      string                 `json:"tick_age"`
		LastError    string                 `json:"last_error,omitempty"`
		LastTraining string                 `json:"last_training"`
		LastAccuracy float64                `json:"last_accuracy"`
		Probes       map[string]probeResult `json:"probes"`
		LastCheckAt  string                 `json:"last_check_at"`
	}{
		Status:       overallStatus,
		Uptime:       h.now().Sub(h.StartedAt).Round(time.Second).String(),
		State:        h.State,
		ModelReady:   h.ModelReady,
		LastTickTime: h.LastTickTime.UTC().Format(time.RFC3339),
		TickAge:      tickAge,
		LastError:    h.LastError,
		LastTraining: lastTraining,
		LastAccuracy: h.LastAccuracy,
		Probes:       h.results,
		LastCheckAt:  h.LastCheckAt.UTC().Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}
