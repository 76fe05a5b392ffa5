package hosts

import (
	"sync"
	"time"
)

// hostHealth is a per-host circuit breaker plus the last observed outcome.
// A closed circuit admits traffic; after failureThreshold consecutive
// failures it opens and the host is skipped until cooldown passes. Then a
// single half-open trial at a time decides whether it closes again.
type hostHealth struct {
	mu               sync.RWMutex
	state            circuitState
	failures         int
	successes        int
	failureThreshold int
	successThreshold int
	cooldown         time.Duration
	lastFailure      time.Time
	trialStarted     time.Time
	trialInFlight    bool
	lastChecked      time.Time
	lastError        string
	version          string
	now              func() time.Time
}

type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
	circuitHalfOpen
)

func (s circuitState) String() string {
	switch s {
	case circuitClosed:
		return "closed"
	case circuitOpen:
		return "open"
	case circuitHalfOpen:
		return "half-open"
	}
	return "unknown"
}

func newHostHealth(failureThreshold, successThreshold int, cooldown time.Duration, now func() time.Time) *hostHealth {
	if failureThreshold < 1 {
		failureThreshold = 1
	}
	if successThreshold < 1 {
		successThreshold = 1
	}
	if now == nil {
		now = time.Now
	}
	return &hostHealth{
		state:            circuitClosed,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		cooldown:         cooldown,
		now:              now,
	}
}

// Ready reports whether a request should be sent here ahead of tripped
// hosts. It does not change state: only BeginAttempt claims a trial.
func (h *hostHealth) Ready() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	now := h.now()
	switch h.state {
	case circuitOpen:
		return now.Sub(h.lastFailure) >= h.cooldown
	case circuitHalfOpen:
		return !h.trialInFlight || h.trialExpired(now)
	default:
		return true
	}
}

// BeginAttempt is called just before a request is sent. An open circuit
// whose cooldown has elapsed moves to half-open and the attempt becomes its
// trial. Attempts on a closed circuit, or forced ones on a tripped host,
// leave the state alone.
func (h *hostHealth) BeginAttempt() {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	switch h.state {
	case circuitOpen:
		if now.Sub(h.lastFailure) >= h.cooldown {
			h.state = circuitHalfOpen
			h.successes = 0
			h.startTrial(now)
		}
	case circuitHalfOpen:
		if !h.trialInFlight || h.trialExpired(now) {
			h.startTrial(now)
		}
	}
}

func (h *hostHealth) startTrial(now time.Time) {
	h.trialInFlight = true
	h.trialStarted = now
}

// trialExpired lets a trial whose outcome was never reported (the caller
// went away) stop blocking the host after one cooldown.
func (h *hostHealth) trialExpired(now time.Time) bool {
	return now.Sub(h.trialStarted) >= h.cooldown
}

// RecordSuccess records a successful request.
func (h *hostHealth) RecordSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastChecked = h.now()
	h.lastError = ""
	h.trialInFlight = false

	switch h.state {
	case circuitHalfOpen:
		h.successes++
		if h.successes >= h.successThreshold {
			h.state = circuitClosed
			h.failures = 0
		}
	case circuitClosed:
		h.failures = 0
	}
}

// RecordFailure records a failed request and reports whether it opened the circuit.
func (h *hostHealth) RecordFailure(err error) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.failures++
	h.trialInFlight = false
	h.lastFailure = h.now()
	h.lastChecked = h.lastFailure
	if err != nil {
		h.lastError = err.Error()
	}

	switch h.state {
	case circuitClosed:
		if h.failures >= h.failureThreshold {
			h.state = circuitOpen
			return true
		}
	case circuitHalfOpen:
		h.state = circuitOpen
		h.successes = 0
		return true
	}
	return false
}

// Reset closes the circuit after a direct probe confirmed the host is alive.
// It reports whether the host was previously not closed.
func (h *hostHealth) Reset() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	recovered := h.state != circuitClosed
	h.state = circuitClosed
	h.failures = 0
	h.successes = 0
	h.trialInFlight = false
	h.lastError = ""
	h.lastChecked = h.now()
	return recovered
}

func (h *hostHealth) setVersion(v string) {
	h.mu.Lock()
	h.version = v
	h.mu.Unlock()
}

// State returns the current circuit state (for testing/monitoring)
func (h *hostHealth) State() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state.String()
}

type healthView struct {
	healthy     bool
	failures    int
	lastChecked time.Time
	lastError   string
	version     string
}

func (h *hostHealth) view() healthView {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return healthView{
		healthy:     h.state != circuitOpen,
		failures:    h.failures,
		lastChecked: h.lastChecked,
		lastError:   h.lastError,
		version:     h.version,
	}
}
