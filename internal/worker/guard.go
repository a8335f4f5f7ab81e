package worker

import (
	"context"
	"time"

	"github.com/felixgeelhaar/fortify/bulkhead"
	"github.com/felixgeelhaar/fortify/circuitbreaker"
)

// GuardConfig bounds worker invocations.
type GuardConfig struct {
	// Timeout is the per-invocation deadline.
	Timeout time.Duration

	// FailureThreshold is the number of consecutive failures before the
	// breaker opens.
	FailureThreshold int

	// OpenTimeout is how long the breaker stays open.
	OpenTimeout time.Duration

	// MaxConcurrent limits concurrent invocations across sessions.
	MaxConcurrent int
}

// DefaultGuardConfig returns the defaults used when config leaves fields unset.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		Timeout:          2 * time.Minute,
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
		MaxConcurrent:    8,
	}
}

// Guard wraps an Invoker with a deadline, a concurrency limit and a circuit
// breaker. It never retries: a failed invocation becomes a diagnostic turn.
type Guard struct {
	next     Invoker
	timeout  time.Duration
	breaker  circuitbreaker.CircuitBreaker[any]
	bulkhead bulkhead.Bulkhead[any]
}

// NewGuard wraps next.
func NewGuard(next Invoker, cfg GuardConfig) *Guard {
	def := DefaultGuardConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	threshold := uint32(cfg.FailureThreshold) // #nosec G115 -- positive, checked above

	return &Guard{
		next:    next,
		timeout: cfg.Timeout,
		breaker: circuitbreaker.New[any](circuitbreaker.Config{
			MaxRequests: 1,
			Interval:    cfg.OpenTimeout,
			Timeout:     cfg.OpenTimeout,
			ReadyToTrip: func(counts circuitbreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
		}),
		bulkhead: bulkhead.New[any](bulkhead.Config{
			MaxConcurrent: cfg.MaxConcurrent,
		}),
	}
}

// Invoke runs the wrapped invoker: bulkhead, then timeout, then breaker.
func (g *Guard) Invoke(ctx context.Context, req Request) (any, error) {
	return g.bulkhead.Execute(ctx, func(ctx context.Context) (any, error) {
		ctx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		return g.breaker.Execute(ctx, func(ctx context.Context) (any, error) {
			return g.next.Invoke(ctx, req)
		})
	})
}
