// Package health serves the /livez and /readyz probes of the marketplace
// API.
//
// Checks are polled in the background. A check turns unhealthy after
// FailureThreshold consecutive failures and healthy again after
// SuccessThreshold consecutive passes, so a single slow ping does not pull
// the pod out of the load balancer.
package health

import (
	"context"
	"maps"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
	"golang.org/x/sync/errgroup"
)

// CheckFunc returns nil when the checked dependency is usable.
type CheckFunc func(ctx context.Context) error

const (
	FailureThreshold = 3
	SuccessThreshold = 1
)

// status is the published outcome of a check.
type status struct {
	healthy bool
	err     error
}

type check struct {
	name    string
	timeout time.Duration
	fn      CheckFunc

	// Written by poll only; polls of one check never overlap.
	fails, passes int

	state atomic.Pointer[status]
}

func newCheck(name string, timeout time.Duration, fn CheckFunc) *check {
	c := &check{name: name, timeout: timeout, fn: fn}
	c.state.Store(&status{healthy: true})
	return c
}

func (c *check) poll(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.fn(ctx)
	healthy := c.state.Load().healthy
	if err != nil {
		c.passes = 0
		c.fails++
		healthy = healthy && c.fails < FailureThreshold
	} else {
		c.fails = 0
		c.passes++
		healthy = healthy || c.passes >= SuccessThreshold
	}
	c.state.Store(&status{healthy: healthy, err: err})
}

// failure returns the message to report for an unhealthy check.
func (c *check) failure() (string, bool) {
	s := c.state.Load()
	switch {
	case s.healthy:
		return "", false
	case s.err != nil:
		return s.err.Error(), true
	default:
		return "check is unhealthy", true
	}
}

// Health tracks liveness and readiness of the service.
type Health struct {
	ready atomic.Bool

	mu      sync.RWMutex
	live    []*check
	readies []*check
	polling sync.Mutex
	cancel  context.CancelFunc
}

// New returns a Health that reports not ready until SetReady(true).
func New() *Health {
	return &Health{}
}

// AddLivenessCheck registers a check that gates /livez. Register checks
// before Start.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.live = append(h.live, newCheck(name, timeout, fn))
}

// AddReadinessCheck registers a check that gates /readyz. Register checks
// before Start.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readies = append(h.readies, newCheck(name, timeout, fn))
}

func (h *Health) snapshot() (live, ready []*check) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.live), slices.Clone(h.readies)
}

// Poll runs every registered check once, concurrently, and waits for all of
// them.
func (h *Health) Poll(ctx context.Context) {
	h.polling.Lock()
	defer h.polling.Unlock()

	live, ready := h.snapshot()
	var g errgroup.Group
	for _, c := range slices.Concat(live, ready) {
		g.Go(func() error {
			c.poll(ctx)
			return nil
		})
	}
	_ = g.Wait()
}

// Start polls immediately and then every interval until Stop or ctx is done.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)
	h.mu.Lock()
	if h.cancel != nil {
		h.cancel()
	}
	h.cancel = cancel
	h.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			h.Poll(ctx)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop ends background polling. It is idempotent.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady marks the service as accepting traffic. Shutdown flips it back
// to false before draining connections.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether SetReady(true) was called and every readiness
// check is healthy.
func (h *Health) IsReady() bool {
	if !h.ready.Load() {
		return false
	}
	_, ready := h.snapshot()
	return len(failures(ready)) == 0
}

// LiveEndpoint serves /livez.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	live, _ := h.snapshot()
	respond(w, failures(live))
}

// ReadyEndpoint serves /readyz.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	_, ready := h.snapshot()
	failed := failures(ready)
	if !h.ready.Load() {
		failed["_readiness"] = "service is not ready"
	}
	respond(w, failed)
}

func failures(checks []*check) map[string]string {
	out := make(map[string]string)
	for _, c := range checks {
		if msg, failed := c.failure(); failed {
			out[c.name] = msg
		}
	}
	return out
}

// respond writes {"status":"ok"} with 200, or {"status":"unhealthy",
// "checks":{...}} with 503. Check names are sorted.
func respond(w http.ResponseWriter, failed map[string]string) {
	code := http.StatusOK
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("status")
	if len(failed) == 0 {
		e.Str("ok")
	} else {
		code = http.StatusServiceUnavailable
		e.Str("unhealthy")
		e.FieldStart("checks")
		e.ObjStart()
		for _, name := range slices.Sorted(maps.Keys(failed)) {
			e.FieldStart(name)
			e.Str(failed[name])
		}
		e.ObjEnd()
	}
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(e.Bytes())
}
