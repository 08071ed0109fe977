// Package resilience keeps translation running when an LLM backend degrades.
//
// [CircuitBreaker] guards one backend. [FallbackGroup] orders several backends
// of the same kind, each behind its own breaker, and [LLMFallback] presents
// such a group as a single [llm.Provider] to the translation backend.
//
// Cancelled work is not a backend failure: a translation abandoned because the
// viewer navigated away neither trips a breaker nor fails over. A backend that
// answers with a rate limit is benched for exactly as long as it asked.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call and counts consecutive failures.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until its deadline.
	StateOpen

	// StateHalfOpen admits a few probe calls. Enough successes close the
	// breaker, one failure opens it again.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds the tuning of a [CircuitBreaker]. Zero fields
// take the documented defaults.
type CircuitBreakerConfig struct {
	// Name labels log lines and state change callbacks.
	Name string

	// MaxFailures is the run of consecutive failures that opens a closed
	// breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long a tripped breaker stays open. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is both the number of concurrent probes allowed and the
	// number of successful probes needed to close. Default: 3.
	HalfOpenMax int

	// IsFailure decides which errors count against the backend. Others pass
	// through untouched. Default: [CountsAsFailure].
	IsFailure func(error) bool

	// Cooldown extracts a backoff the backend asked for. When it reports ok
	// the breaker opens at once for that duration, whatever the failure
	// count. Default: none.
	Cooldown func(error) (time.Duration, bool)

	// OnStateChange runs after every transition, outside the breaker's lock.
	OnStateChange func(name string, from, to State)

	// Now is the breaker's clock. Default: time.Now.
	Now func() time.Time

	// Logger receives transitions. Default: slog.Default().
	Logger *slog.Logger
}

// CountsAsFailure reports whether err should count against a backend.
// Context cancellation and deadline expiry belong to the caller.
func CountsAsFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// CircuitBreaker trips after repeated backend failures and probes the backend
// again once its open period ends.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu        sync.Mutex
	state     State
	failures  int       // consecutive, closed state only
	openUntil time.Time // open state only
	probes    int       // admitted, half-open only
	passed    int       // succeeded, half-open only
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = CountsAsFailure
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CircuitBreaker{cfg: cfg}
}

// transition is a state change to announce once the lock is released.
type transition struct {
	from, to State
	reason   string
}

// Execute runs fn unless the breaker rejects the call with [ErrCircuitOpen].
// fn's error is returned unchanged.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, tr, err := cb.admit()
	cb.announce(tr)
	if err != nil {
		return err
	}

	err = fn()

	cb.mu.Lock()
	tr = cb.record(err, probe)
	cb.mu.Unlock()
	cb.announce(tr)
	return err
}

// admit decides whether a call may proceed and whether it is a probe.
func (cb *CircuitBreaker) admit() (probe bool, tr transition, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.cfg.Now().Before(cb.openUntil) {
			return false, tr, ErrCircuitOpen
		}
		tr = cb.moveLocked(StateHalfOpen, "open period elapsed")
	}
	if cb.state == StateHalfOpen {
		if cb.probes >= cb.cfg.HalfOpenMax {
			return false, tr, ErrCircuitOpen
		}
		cb.probes++
		return true, tr, nil
	}
	return false, tr, nil
}

// record books the outcome of one call. Must be called with cb.mu held.
func (cb *CircuitBreaker) record(err error, probe bool) transition {
	// A probe that outlived its half-open period is stale.
	probe = probe && cb.state == StateHalfOpen
	switch {
	case err == nil:
		if !probe {
			cb.failures = 0
			return transition{}
		}
		cb.passed++
		if cb.passed >= cb.cfg.HalfOpenMax {
			return cb.moveLocked(StateClosed, "probes succeeded")
		}
	case !cb.cfg.IsFailure(err):
		if probe {
			cb.probes--
		}
	default:
		if d, ok := cb.cooldown(err); ok {
			return cb.openLocked(d, "backend requested cooldown")
		}
		if probe {
			return cb.openLocked(cb.cfg.ResetTimeout, "probe failed")
		}
		cb.failures++
		if cb.failures >= cb.cfg.MaxFailures {
			return cb.openLocked(cb.cfg.ResetTimeout, "consecutive failures")
		}
	}
	return transition{}
}

func (cb *CircuitBreaker) cooldown(err error) (time.Duration, bool) {
	if cb.cfg.Cooldown == nil {
		return 0, false
	}
	d, ok := cb.cfg.Cooldown(err)
	return d, ok && d > 0
}

// openLocked opens the breaker for d, or extends an open period that would
// end sooner.
func (cb *CircuitBreaker) openLocked(d time.Duration, reason string) transition {
	until := cb.cfg.Now().Add(d)
	if cb.state == StateOpen && until.Before(cb.openUntil) {
		return transition{}
	}
	cb.openUntil = until
	return cb.moveLocked(StateOpen, reason)
}

// moveLocked switches state and resets the counters of the state entered.
func (cb *CircuitBreaker) moveLocked(to State, reason string) transition {
	from := cb.state
	cb.state = to
	cb.failures, cb.probes, cb.passed = 0, 0, 0
	return transition{from: from, to: to, reason: reason}
}

func (cb *CircuitBreaker) announce(tr transition) {
	if tr.from == tr.to {
		return
	}
	level := slog.LevelInfo
	attrs := []any{"name", cb.cfg.Name, "from", tr.from.String(), "to", tr.to.String(), "reason", tr.reason}
	if tr.to == StateOpen {
		level = slog.LevelWarn
		attrs = append(attrs, "retry_at", cb.RetryAt())
	}
	cb.cfg.Logger.Log(context.Background(), level, "circuit breaker state changed", attrs...)
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, tr.from, tr.to)
	}
}

// State returns the current [State]. An open breaker whose period has ended
// reports [StateHalfOpen]; the switch itself happens on the next call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && !cb.cfg.Now().Before(cb.openUntil) {
		return StateHalfOpen
	}
	return cb.state
}

// RetryAt returns when an open breaker admits its next probe, or the zero
// time when it is not open.
func (cb *CircuitBreaker) RetryAt() time.Time {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != StateOpen {
		return time.Time{}
	}
	return cb.openUntil
}

// Reset forces the breaker closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	tr := cb.moveLocked(StateClosed, "manual reset")
	cb.openUntil = time.Time{}
	cb.mu.Unlock()
	cb.announce(tr)
}
