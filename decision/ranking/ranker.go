// Package ranking turns a verdict's findings into the capped, ordered
// suggestion list and the alternative queries returned to callers.
package ranking

import (
	"github.com/santoshpalla27/taulayer/decision/estimation"
	"github.com/santoshpalla27/taulayer/decision/finding"
	"github.com/santoshpalla27/taulayer/decision/policy"
	"github.com/santoshpalla27/taulayer/decision/query"
	"github.com/santoshpalla27/taulayer/internal/config"
)

// Type is the caller-facing suggestion category.
type Type string

const (
	TypePerformance Type = "performance"
	TypeCost        Type = "cost"
	// TypeAccuracy is reserved for detectors of result-correctness risk.
	TypeAccuracy Type = "accuracy"
)

// OffPeakAlternative is the alternative offered for deferrable work.
const OffPeakAlternative = "Schedule report for off-peak"

// Suggestion is one surfaced finding.
type Suggestion struct {
	Type    Type   `json:"type"`
	Message string `json:"message"`

	Kind     finding.Kind     `json:"-"`
	Field    string           `json:"-"`
	Severity finding.Severity `json:"-"`
}

// Result is the ranker output.
type Result struct {
	Suggestions  []Suggestion `json:"suggestions"`
	Alternatives []string     `json:"alternatives"`
}

// Rank selects, de-duplicates, orders and caps the verdict's findings. A
// non-positive limit uses the configured maximum.
func Rank(v policy.Verdict, est *estimation.Estimate, model query.Model, p *config.Policy, limit int) Result {
	if limit <= 0 {
		limit = p.MaxSuggestions
	}

	eligible := make([]finding.Finding, 0, len(v.Findings))
	for _, f := range v.Findings {
		if v.Status == policy.StatusOK && f.Severity < p.SurfaceThreshold {
			continue
		}
		eligible = append(eligible, f)
	}

	ranked := finding.Dedup(eligible)
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	res := Result{
		Suggestions:  make([]Suggestion, 0, len(ranked)),
		Alternatives: make([]string, 0),
	}
	seen := make(map[string]bool)
	for _, f := range ranked {
		res.Suggestions = append(res.Suggestions, Suggestion{
			Type:     typeOf(f, est, p),
			Message:  f.Message,
			Kind:     f.Kind,
			Field:    f.Field,
			Severity: f.Severity,
		})
		if alt := alternative(f, model, p); alt != "" && !seen[alt] {
			seen[alt] = true
			res.Alternatives = append(res.Alternatives, alt)
		}
	}
	return res
}

func typeOf(f finding.Finding, est *estimation.Estimate, p *config.Policy) Type {
	if est != nil && est.CostShare(f.Key()) > p.CostShareThreshold {
		return TypeCost
	}
	switch f.Kind {
	case finding.KindMissingFilter:
		return TypeCost
	case finding.KindWildcardMatch, finding.KindUnindexedField, finding.KindUnboundedJoin:
		return TypePerformance
	}
	if f.Detector == policy.DetectorPolicy && f.Field == "cost" {
		return TypeCost
	}
	return TypePerformance
}

func alternative(f finding.Finding, model query.Model, p *config.Policy) string {
	if f.Fix == nil {
		return ""
	}
	if f.Fix.Action == finding.ActionDefer {
		return OffPeakAlternative
	}

	q, ok := model.(*query.Query)
	if !ok {
		return ""
	}
	switch f.Fix.Action {
	case finding.ActionAddFilter:
		field := f.Fix.Field
		if field == "" {
			field = p.DefaultTimeField
		}
		return q.WithLowerBound(field, p.WindowParam)
	case finding.ActionAddLimit:
		return q.WithLimit(p.DefaultLimit)
	}
	return ""
}
