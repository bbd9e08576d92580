package router

import (
	"errors"
	"sync"
	"time"

	"github.com/af-corp/clinai/internal/types"
)

// HealthState is the coarse per-provider status used for failover.
type HealthState int

const (
	StateUninitialized HealthState = iota
	StateHealthy
	StateDegraded
	StateUnreachable
)

func (s HealthState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateUnreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// Health is a point-in-time view of one provider's health.
type Health struct {
	State               HealthState
	ConsecutiveFailures int
	LastCheckedAt       time.Time
	// LastError is the error that made the provider unreachable, if any.
	LastError error
}

// healthMonitor runs the per-provider state machine:
//
//	UNINITIALIZED -> HEALTHY          initialize succeeded
//	HEALTHY       -> DEGRADED         threshold consecutive transient failures
//	DEGRADED      -> HEALTHY          one successful call
//	any           -> UNREACHABLE      initialize failed or credential rejected
//
// UNREACHABLE only clears through initialized.
type healthMonitor struct {
	mu sync.Mutex

	state               HealthState
	consecutiveFailures int
	lastCheckedAt       time.Time
	lastErr             error

	threshold int
	now       func() time.Time
}

func newHealthMonitor(threshold int) *healthMonitor {
	return &healthMonitor{
		threshold: max(threshold, 1),
		now:       time.Now,
	}
}

func (h *healthMonitor) snapshot() Health {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Health{
		State:               h.state,
		ConsecutiveFailures: h.consecutiveFailures,
		LastCheckedAt:       h.lastCheckedAt,
		LastError:           h.lastErr,
	}
}

func (h *healthMonitor) current() HealthState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// initialized applies the outcome of an Initialize probe.
func (h *healthMonitor) initialized(err error) (from, to HealthState) {
	h.mu.Lock()
	defer h.mu.Unlock()

	from = h.state
	h.lastCheckedAt = h.now()
	h.consecutiveFailures = 0
	if err != nil {
		h.state = StateUnreachable
		h.lastErr = err
	} else {
		h.state = StateHealthy
		h.lastErr = nil
	}
	return from, h.state
}

func (h *healthMonitor) recordSuccess() (from, to HealthState) {
	h.mu.Lock()
	defer h.mu.Unlock()

	from = h.state
	h.lastCheckedAt = h.now()
	h.consecutiveFailures = 0
	if h.state == StateDegraded {
		h.state = StateHealthy
	}
	return from, h.state
}

// recordFailure counts transient failures toward DEGRADED and moves to
// UNREACHABLE on a rejected credential. Other terminal errors are the
// caller's fault and leave the state alone.
func (h *healthMonitor) recordFailure(err error) (from, to HealthState) {
	h.mu.Lock()
	defer h.mu.Unlock()

	from = h.state
	h.lastCheckedAt = h.now()

	switch {
	case errors.Is(err, types.ErrAuth):
		h.state = StateUnreachable
		h.lastErr = err
	case IsTransient(err):
		h.consecutiveFailures++
		if h.state == StateHealthy && h.consecutiveFailures >= h.threshold {
			h.state = StateDegraded
		}
	}
	return from, h.state
}
