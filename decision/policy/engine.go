// Package policy provides the admission policy engine.
// Maps findings and an estimate against configured thresholds to a verdict.
package policy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/santoshpalla27/taulayer/decision/caller"
	"github.com/santoshpalla27/taulayer/decision/estimation"
	"github.com/santoshpalla27/taulayer/decision/finding"
	"github.com/santoshpalla27/taulayer/internal/config"
	"github.com/santoshpalla27/taulayer/pkg/units"
)

// Status is the admission decision.
type Status string

const (
	StatusOK                 Status = "ok"
	StatusSuggestImprovement Status = "suggest_improvement"
	StatusRejected           Status = "rejected"
)

// Detector id stamped on findings the policy engine synthesizes.
const DetectorPolicy = "policy"

// Verdict is the terminal output of the policy engine.
type Verdict struct {
	Status Status `json:"status"`
	// Findings is the full finding set behind the verdict.
	Findings []finding.Finding `json:"findings"`
	Reasons  []string          `json:"reasons"`

	// Effective hard limits after the urgency multiplier.
	LatencyLimit decimal.Decimal `json:"latency_limit_seconds"`
	CostLimit    decimal.Decimal `json:"cost_limit_usd"`
}

// Decide evaluates, in fixed priority order:
//  1. latency or cost at or above its urgency-relaxed hard limit: rejected
//  2. any finding at or above the suggest threshold, or fail-closed: suggest_improvement
//  3. otherwise ok
func Decide(findings []finding.Finding, est *estimation.Estimate, p *config.Policy, urgency caller.Urgency) Verdict {
	mult := p.Multiplier(urgency)
	v := Verdict{
		Status:       StatusOK,
		Findings:     append([]finding.Finding(nil), findings...),
		LatencyLimit: p.HardLatency.Mul(mult),
		CostLimit:    p.HardCost.Mul(mult),
	}

	latency := est.Latency.Magnitude
	cost := est.Cost.Magnitude
	overLatency := latency.GreaterThanOrEqual(v.LatencyLimit)
	overCost := cost.GreaterThanOrEqual(v.CostLimit)

	if overLatency || overCost {
		v.Status = StatusRejected
		if overLatency {
			v.Reasons = append(v.Reasons, fmt.Sprintf("Estimated latency %s reaches the limit of %s",
				units.FormatLatency(latency), units.FormatLatency(v.LatencyLimit)))
		}
		if overCost {
			v.Reasons = append(v.Reasons, fmt.Sprintf("Estimated cost %s reaches the limit of %s",
				units.FormatCost(cost), units.FormatCost(v.CostLimit)))
		}
		if len(v.Findings) == 0 {
			v.Findings = append(v.Findings, limitFinding(overLatency, overCost))
		}
		return v
	}

	for _, f := range findings {
		if f.FailClosed {
			v.Status = StatusSuggestImprovement
			v.Reasons = append(v.Reasons, fmt.Sprintf("%s: %s", f.Kind, f.Message))
			continue
		}
		if f.Severity >= p.SuggestThreshold {
			v.Status = StatusSuggestImprovement
			v.Reasons = append(v.Reasons, fmt.Sprintf("%s finding on %s reaches the %s threshold", f.Severity, describeField(f), p.SuggestThreshold))
		}
	}
	return v
}

// limitFinding keeps a rejection from ever being empty.
func limitFinding(overLatency, overCost bool) finding.Finding {
	f := finding.Finding{
		Kind:       finding.KindOther,
		Severity:   finding.SeverityHigh,
		Detector:   DetectorPolicy,
		Order:      -1,
		FailClosed: true,
	}
	switch {
	case overCost:
		f.Field = "cost"
		f.Message = "Estimated cost exceeds the hard limit; narrow the query or split it"
	case overLatency:
		f.Field = "latency"
		f.Message = "Estimated latency exceeds the hard limit; narrow the query or split it"
	}
	return f
}

func describeField(f finding.Finding) string {
	if f.Field == "" {
		return string(f.Kind)
	}
	return f.Field
}
