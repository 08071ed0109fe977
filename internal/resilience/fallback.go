package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrAllFailed is returned when no entry of a [FallbackGroup] produced a
// result. It wraps the last backend error, or [ErrCircuitOpen] when every
// breaker was open.
var ErrAllFailed = errors.New("resilience: all providers failed")

// FallbackConfig configures a [FallbackGroup]. CircuitBreaker is the template
// for every entry's breaker; its Name is replaced by the entry name.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig

	// OnFailure runs after an entry fails with an error that counts against
	// it.
	OnFailure func(name string, err error)

	// Logger receives failover diagnostics. Default: slog.Default().
	Logger *slog.Logger
}

// EntryStatus is a point-in-time view of one entry in a [FallbackGroup].
// RetryAt is set while the entry's breaker is open.
type EntryStatus struct {
	Name    string
	State   State
	RetryAt time.Time
}

type entry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup tries interchangeable backends in registration order, each
// behind its own [CircuitBreaker]. Register every entry before sharing the
// group; execution is then safe for concurrent use.
type FallbackGroup[T any] struct {
	entries []entry[T]
	cfg     FallbackConfig
	logger  *slog.Logger
}

// NewFallbackGroup returns a group whose first entry is primary.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.CircuitBreaker.Logger == nil {
		cfg.CircuitBreaker.Logger = cfg.Logger
	}
	fg := &FallbackGroup[T]{cfg: cfg, logger: cfg.Logger}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends an entry tried after all earlier ones.
func (fg *FallbackGroup[T]) AddFallback(name string, value T) {
	bc := fg.cfg.CircuitBreaker
	bc.Name = name
	fg.entries = append(fg.entries, entry[T]{name: name, value: value, breaker: NewCircuitBreaker(bc)})
}

// Status reports every entry in failover order.
func (fg *FallbackGroup[T]) Status() []EntryStatus {
	out := make([]EntryStatus, 0, len(fg.entries))
	for _, e := range fg.entries {
		out = append(out, EntryStatus{Name: e.name, State: e.breaker.State(), RetryAt: e.breaker.RetryAt()})
	}
	return out
}

// Available reports whether any entry would accept a call now.
func (fg *FallbackGroup[T]) Available() bool {
	for _, e := range fg.entries {
		if e.breaker.State() != StateOpen {
			return true
		}
	}
	return false
}

// Execute is [ExecuteWithResult] for calls without a result.
func (fg *FallbackGroup[T]) Execute(ctx context.Context, fn func(T) error) error {
	_, err := ExecuteWithResult(ctx, fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult calls fn on each entry in turn until one succeeds. Open
// entries are skipped. An error the breaker does not count, such as a
// cancelled context, is returned at once without failing over.
func ExecuteWithResult[T, R any](ctx context.Context, fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var zero R
	lastErr := ErrCircuitOpen
	for _, e := range fg.entries {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		var out R
		err := e.breaker.Execute(func() (err error) {
			out, err = fn(e.value)
			return err
		})
		switch {
		case err == nil:
			return out, nil
		case errors.Is(err, ErrCircuitOpen):
			fg.logger.Debug("fallback: skipping open provider", "provider", e.name, "retry_at", e.breaker.RetryAt())
			continue
		case !e.breaker.cfg.IsFailure(err):
			return zero, err
		}
		fg.logger.Warn("fallback: provider failed", "provider", e.name, "err", err)
		if fg.cfg.OnFailure != nil {
			fg.cfg.OnFailure(e.name, err)
		}
		lastErr = err
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
