package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/felixgeelhaar/fortify/circuitbreaker"
)

// GuardConfig configures the circuit breaker around a lookup.
type GuardConfig struct {
	// Failures is the number of consecutive failures before opening.
	Failures uint32
	// OpenTimeout is how long the circuit stays open.
	OpenTimeout time.Duration
}

// Guarded protects a lookup with a circuit breaker so a failing telemetry
// backend is skipped quickly instead of costing every request its timeout.
// ErrNoData does not count as a failure.
type Guarded struct {
	next    Lookup
	breaker circuitbreaker.CircuitBreaker[*Snapshot]
}

func NewGuarded(next Lookup, cfg GuardConfig) *Guarded {
	threshold := cfg.Failures
	if threshold == 0 {
		threshold = 5
	}
	return &Guarded{
		next: next,
		breaker: circuitbreaker.New[*Snapshot](circuitbreaker.Config{
			MaxRequests: 1,
			Interval:    cfg.OpenTimeout,
			Timeout:     cfg.OpenTimeout,
			ReadyToTrip: func(counts circuitbreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
		}),
	}
}

func (g *Guarded) Lookup(ctx context.Context, key Key) (*Snapshot, error) {
	var noData bool
	snap, err := g.breaker.Execute(ctx, func(ctx context.Context) (*Snapshot, error) {
		snap, err := g.next.Lookup(ctx, key)
		if errors.Is(err, ErrNoData) {
			noData = true
			return nil, nil
		}
		return snap, err
	})
	if noData {
		return nil, ErrNoData
	}
	return snap, err
}
