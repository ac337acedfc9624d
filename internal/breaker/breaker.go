// Package breaker implements a per-provider circuit breaker with the
// classic Closed/Open/HalfOpen state machine, backed by explicit
// failure/success thresholds rather than a rolling error-rate window.
package breaker

import (
	"sync"
	"time"
)

// State is one of Closed, Open, HalfOpen.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Config bounds one breaker's behavior.
type Config struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
}

// Breaker is a single provider's circuit breaker. All transitions are
// serialized by mu; Allow is a mutating read because it performs the
// Open→HalfOpen time-based transition.
type Breaker struct {
	cfg Config

	mu            sync.Mutex
	state         State
	failureCount  int
	successCount  int
	lastFailureAt time.Time
}

// New returns a Breaker starting Closed with zero counters.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Breaker{cfg: cfg, state: Closed}
}

// Allow reports whether a call may proceed. Closed always admits. Open
// admits only after cfg.Timeout has elapsed since the last failure, and
// doing so transitions the breaker to HalfOpen. HalfOpen always admits;
// neither the breaker nor the registry limits how many probes run at once.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case HalfOpen:
		return true
	case Open:
		if time.Since(b.lastFailureAt) >= b.cfg.Timeout {
			b.state = HalfOpen
			b.successCount = 0
			return true
		}
		return false
	default:
		return false
	}
}

// ReportSuccess records a successful call.
func (b *Breaker) ReportSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.successCount++
		if b.successCount >= b.cfg.SuccessThreshold {
			b.state = Closed
			b.failureCount = 0
			b.successCount = 0
		}
	case Closed:
		b.failureCount = 0
	}
}

// ReportFailure records a failed call.
func (b *Breaker) ReportFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	switch b.state {
	case Closed:
		b.failureCount++
		if b.failureCount >= b.cfg.FailureThreshold {
			b.state = Open
			b.lastFailureAt = now
		}
	case HalfOpen:
		b.state = Open
		b.failureCount = 1
		b.successCount = 0
		b.lastFailureAt = now
	case Open:
		b.lastFailureAt = now
	}
}

// State returns the current state without mutating it (unlike Allow).
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
