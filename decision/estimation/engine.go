// Package estimation provides the latency & cost estimator.
// Combines detector findings with static policy weights and, when available,
// historical telemetry to produce an explainable estimate.
package estimation

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/santoshpalla27/taulayer/decision/finding"
	"github.com/santoshpalla27/taulayer/decision/query"
	"github.com/santoshpalla27/taulayer/decision/telemetry"
	"github.com/santoshpalla27/taulayer/internal/config"
	"github.com/santoshpalla27/taulayer/pkg/confidence"
	"github.com/santoshpalla27/taulayer/pkg/errors"
	"github.com/santoshpalla27/taulayer/pkg/units"
)

// Engine is the latency & cost estimator. It is safe for concurrent use.
type Engine struct {
	policy *config.Policy

	lookup      telemetry.Lookup
	timeout     time.Duration
	window      time.Duration
	highSamples int
}

// NewEngine creates an estimator that uses static weights only.
func NewEngine(policy *config.Policy, tcfg config.Telemetry) *Engine {
	return &Engine{
		policy:      policy,
		timeout:     tcfg.Timeout,
		window:      tcfg.Window,
		highSamples: tcfg.HighConfidenceSamples,
	}
}

// WithTelemetry adds a historical telemetry lookup.
func (e *Engine) WithTelemetry(l telemetry.Lookup) *Engine {
	e.lookup = l
	return e
}

// Request contains inputs for one estimate.
type Request struct {
	Model    query.Model
	Findings []finding.Finding

	// Coverage is the fraction of detectors that completed, in [0, 1].
	Coverage float64
}

// Measure is a magnitude with unit, interval and confidence.
type Measure struct {
	Magnitude  decimal.Decimal  `json:"magnitude"`
	Unit       units.Unit       `json:"unit"`
	Low        decimal.Decimal  `json:"low"`
	High       decimal.Decimal  `json:"high"`
	Confidence confidence.Class `json:"confidence"`
}

// Driver explains one finding's contribution to the static estimate.
type Driver struct {
	Kind     finding.Kind     `json:"kind"`
	Severity finding.Severity `json:"severity"`
	Field    string           `json:"field,omitempty"`
	Detector string           `json:"detector"`

	Latency decimal.Decimal `json:"latency_seconds"`
	Cost    decimal.Decimal `json:"cost_usd"`
	// CostShare is Cost over the total static cost.
	CostShare float64 `json:"cost_share"`
}

// Estimate is produced once per request and never mutated.
type Estimate struct {
	Latency Measure `json:"latency"`
	Cost    Measure `json:"cost"`

	// Static totals before telemetry adjustment.
	StaticLatency decimal.Decimal `json:"static_latency_seconds"`
	StaticCost    decimal.Decimal `json:"static_cost_usd"`

	Confidence confidence.Class `json:"confidence"`
	Score      float64          `json:"score"`
	Samples    int              `json:"samples"`

	Drivers      []Driver               `json:"drivers"`
	Degradations []*errors.AdvisorError `json:"degradations,omitempty"`
	Shape        string                 `json:"shape"`
}

// CostShare returns the cost share of the driver for a finding key, or 0.
func (est *Estimate) CostShare(k finding.Key) float64 {
	for _, d := range est.Drivers {
		if d.Kind == k.Kind && d.Field == k.Field {
			return d.CostShare
		}
	}
	return 0
}

// Estimate computes the estimate. It never fails: telemetry problems are
// recorded as degradations and the static estimate is used.
func (e *Engine) Estimate(ctx context.Context, req Request) *Estimate {
	est := &Estimate{Shape: query.Shape(req.Model)}

	// Static model: baseline plus one weight per distinct (kind, field)
	latency := e.policy.Baseline.Latency
	cost := e.policy.Baseline.Cost
	deduped := finding.Dedup(req.Findings)
	for _, f := range deduped {
		w := e.policy.Weight(f.Kind, f.Severity)
		latency = latency.Add(w.Latency)
		cost = cost.Add(w.Cost)
		est.Drivers = append(est.Drivers, Driver{
			Kind:     f.Kind,
			Severity: f.Severity,
			Field:    f.Field,
			Detector: f.Detector,
			Latency:  w.Latency,
			Cost:     w.Cost,
		})
	}
	for i := range est.Drivers {
		if cost.IsPositive() {
			est.Drivers[i].CostShare = est.Drivers[i].Cost.Div(cost).InexactFloat64()
		}
	}
	est.StaticLatency = latency
	est.StaticCost = cost

	// Telemetry adjustment
	quality := 0.0
	var p90 decimal.Decimal
	snap, err := e.fetch(ctx, est.Shape)
	switch {
	case err != nil:
		est.Degradations = append(est.Degradations, errors.NewTelemetryUnavailable(err))
	case snap != nil:
		est.Samples = snap.Samples
		quality = confidence.Ratio(snap.Samples, e.highSamples)

		load := decimal.NewFromFloat(snap.LoadFactor)
		if load.GreaterThan(decimal.NewFromInt(1)) {
			latency = latency.Mul(load)
		}
		latency = decimal.Max(latency, snap.LatencyP50)
		cost = decimal.Max(cost, snap.AvgCost)
		p90 = snap.LatencyP90
	}

	est.Score = confidence.Aggregate([]float64{confidence.Clamp(req.Coverage), quality})
	est.Confidence = confidence.Classify(est.Score)

	est.Latency = measure(latency, units.UnitSeconds, est.Confidence)
	if p90.GreaterThan(est.Latency.High) {
		est.Latency.High = p90
	}
	est.Cost = measure(cost, units.UnitUSD, est.Confidence)
	return est
}

func measure(magnitude decimal.Decimal, unit units.Unit, class confidence.Class) Measure {
	spread := decimal.NewFromFloat(confidence.Spread(class))
	one := decimal.NewFromInt(1)
	return Measure{
		Magnitude:  magnitude,
		Unit:       unit,
		Low:        magnitude.Mul(one.Sub(spread)),
		High:       magnitude.Mul(one.Add(spread)),
		Confidence: class,
	}
}

type lookupResult struct {
	snap *telemetry.Snapshot
	err  error
}

// fetch runs the lookup bounded by the telemetry timeout. The call is
// abandoned on timeout even if the lookup ignores its context. A nil
// lookup returns (nil, nil). Snapshots that fail validation are
// reported as errors.
func (e *Engine) fetch(ctx context.Context, shape string) (*telemetry.Snapshot, error) {
	if e.lookup == nil {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	key := telemetry.Key{Shape: shape, Window: e.window}
	ch := make(chan lookupResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- lookupResult{err: fmt.Errorf("telemetry lookup panicked: %v", r)}
			}
		}()
		snap, err := e.lookup.Lookup(ctx, key)
		ch <- lookupResult{snap: snap, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		if r.snap == nil {
			return nil, telemetry.ErrNoData
		}
		if err := r.snap.Validate(); err != nil {
			return nil, err
		}
		return r.snap, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("telemetry lookup timed out after %s: %w", e.timeout, ctx.Err())
	}
}
