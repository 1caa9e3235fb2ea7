// Package telemetry defines the historical execution lookup the estimator
// consumes, plus resilient wrappers around it. The advisory core only reads
// telemetry; persistence lives in the db packages.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNoData is returned when no executions were recorded for a key.
var ErrNoData = errors.New("telemetry: no data for key")

// Key identifies a query shape over a time window.
type Key struct {
	Shape  string        `json:"shape"`
	Window time.Duration `json:"window"`
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s", k.Shape, k.Window)
}

// Snapshot summarizes recent executions of one query shape.
type Snapshot struct {
	Samples    int             `json:"samples"`
	LatencyP50 decimal.Decimal `json:"latency_p50_seconds"`
	LatencyP90 decimal.Decimal `json:"latency_p90_seconds"`
	AvgCost    decimal.Decimal `json:"avg_cost_usd"`
	// LoadFactor is current system load relative to normal (1 = normal).
	LoadFactor float64 `json:"load_factor"`
}

// Validate rejects snapshots the estimator cannot use. A zero load factor
// means no reading and is accepted.
func (s *Snapshot) Validate() error {
	if s.Samples < 0 {
		return fmt.Errorf("telemetry: negative sample count %d", s.Samples)
	}
	if s.LatencyP50.IsNegative() || s.LatencyP90.IsNegative() || s.AvgCost.IsNegative() {
		return errors.New("telemetry: negative latency or cost")
	}
	if math.IsNaN(s.LoadFactor) || math.IsInf(s.LoadFactor, 0) || s.LoadFactor < 0 {
		return fmt.Errorf("telemetry: invalid load factor %v", s.LoadFactor)
	}
	return nil
}

// Magnitude converts an aggregate read from a store into a decimal.
// NaN, infinite and negative readings become zero.
func Magnitude(f float64) decimal.Decimal {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(f)
}

// NormalLoad treats a missing or unusable load reading as normal load.
func NormalLoad(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return 1
	}
	return f
}

// Lookup returns the snapshot for a key. Implementations should honor ctx,
// but callers must not rely on it.
type Lookup interface {
	Lookup(ctx context.Context, key Key) (*Snapshot, error)
}

// LookupFunc adapts a function to Lookup.
type LookupFunc func(ctx context.Context, key Key) (*Snapshot, error)

func (f LookupFunc) Lookup(ctx context.Context, key Key) (*Snapshot, error) {
	return f(ctx, key)
}

// Static serves fixed snapshots, keyed by shape. Useful for tests and for
// pinning known-expensive shapes from configuration.
type Static map[string]Snapshot

func (s Static) Lookup(_ context.Context, key Key) (*Snapshot, error) {
	snap, ok := s[key.Shape]
	if !ok {
		return nil, ErrNoData
	}
	return &snap, nil
}

// Chain tries each lookup in order and returns the first snapshot found.
// ErrNoData from one lookup falls through to the next; any other error
// is remembered and returned only if no lookup succeeds.
type Chain []Lookup

func (c Chain) Lookup(ctx context.Context, key Key) (*Snapshot, error) {
	var firstErr error
	for _, l := range c {
		snap, err := l.Lookup(ctx, key)
		if err == nil && snap != nil {
			return snap, nil
		}
		if err != nil && !errors.Is(err, ErrNoData) && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return nil, ErrNoData
}
