// Package health serves Kubernetes-style liveness and readiness probes.
//
// Probes run periodically in the background. A probe flips to unhealthy only
// after failureThreshold consecutive failures and recovers after
// successThreshold consecutive passes, so a single blip does not take the
// service out of rotation.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// CheckFunc reports the health of one component. A nil return means healthy.
type CheckFunc func(ctx context.Context) error

const (
	failureThreshold = 3
	successThreshold = 1
)

// probe is one named check plus its accumulated state. State is guarded by mu
// since the scheduler goroutine writes while HTTP handlers read.
type probe struct {
	name    string
	timeout time.Duration
	check   CheckFunc

	mu      sync.Mutex
	healthy bool
	fails   int
	passes  int
	lastErr error
}

func (p *probe) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	err := p.check(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastErr = err
	if err != nil {
		p.passes = 0
		p.fails++
		if p.fails >= failureThreshold {
			p.healthy = false
		}
		return
	}
	p.fails = 0
	p.passes++
	if p.passes >= successThreshold {
		p.healthy = true
	}
}

// status returns the probe's health and, when unhealthy, its last error text.
func (p *probe) status() (bool, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.healthy {
		return true, ""
	}
	if p.lastErr != nil {
		return false, p.lastErr.Error()
	}
	return false, "check is unhealthy"
}

// Tracker owns the registered probes and the manual readiness gate.
type Tracker struct {
	ready atomic.Bool

	mu        sync.Mutex
	liveness  []*probe
	readiness []*probe
	cancel    context.CancelFunc
}

// New returns a Tracker in the not-ready state. Call SetReady(true) once
// startup completes.
func New() *Tracker {
	return &Tracker{}
}

func newProbe(name string, timeout time.Duration, check CheckFunc) *probe {
	// Healthy until proven otherwise so a slow first check does not fail the
	// probe endpoints during startup.
	return &probe{name: name, timeout: timeout, check: check, healthy: true}
}

// AddLivenessCheck registers a check answering "is this process functional".
func (t *Tracker) AddLivenessCheck(name string, timeout time.Duration, check CheckFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.liveness = append(t.liveness, newProbe(name, timeout, check))
}

// AddReadinessCheck registers a check answering "can this process serve
// traffic", e.g. database connectivity.
func (t *Tracker) AddReadinessCheck(name string, timeout time.Duration, check CheckFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readiness = append(t.readiness, newProbe(name, timeout, check))
}

// Start runs all registered probes once immediately and then at interval,
// from a single scheduler goroutine, until Stop or ctx cancellation.
func (t *Tracker) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	t.mu.Lock()
	t.cancel = cancel
	probes := make([]*probe, 0, len(t.liveness)+len(t.readiness))
	probes = append(probes, t.liveness...)
	probes = append(probes, t.readiness...)
	t.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			for _, p := range probes {
				p.run(ctx)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop halts the scheduler. Safe to call more than once.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}

// SetReady flips the manual readiness gate. Set false during graceful
// shutdown to drain traffic before closing listeners.
func (t *Tracker) SetReady(ready bool) {
	t.ready.Store(ready)
}

// IsReady reports whether the gate is open and every readiness probe passes.
func (t *Tracker) IsReady() bool {
	if !t.ready.Load() {
		return false
	}
	t.mu.Lock()
	probes := t.readiness
	t.mu.Unlock()
	for _, p := range probes {
		if ok, _ := p.status(); !ok {
			return false
		}
	}
	return true
}

type statusResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// LiveEndpoint serves /livez: 200 while liveness probes pass, 503 with the
// failing checks otherwise.
func (t *Tracker) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	t.mu.Lock()
	probes := append([]*probe(nil), t.liveness...)
	t.mu.Unlock()
	writeProbeResponse(w, failures(probes))
}

// ReadyEndpoint serves /readyz: 200 only when the gate is open and all
// readiness probes pass.
func (t *Tracker) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	t.mu.Lock()
	probes := append([]*probe(nil), t.readiness...)
	t.mu.Unlock()

	fails := failures(probes)
	if !t.ready.Load() {
		fails["_readiness"] = "service is not ready"
	}
	writeProbeResponse(w, fails)
}

func failures(probes []*probe) map[string]string {
	fails := make(map[string]string)
	for _, p := range probes {
		if ok, msg := p.status(); !ok {
			fails[p.name] = msg
		}
	}
	return fails
}

func writeProbeResponse(w http.ResponseWriter, fails map[string]string) {
	resp := statusResponse{Status: "ok"}
	code := http.StatusOK
	if len(fails) > 0 {
		resp = statusResponse{Status: "unhealthy", Checks: fails}
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
