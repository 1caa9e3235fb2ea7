package detect

import (
	"context"
	"fmt"
	"strings"

	"github.com/santoshpalla27/taulayer/decision/caller"
	"github.com/santoshpalla27/taulayer/decision/finding"
	"github.com/santoshpalla27/taulayer/decision/query"
	"github.com/santoshpalla27/taulayer/internal/config"
)

// Built-in detector ids, in registration order.
const (
	IDWildcardMatch   = "wildcard-match"
	IDMissingFilter   = "missing-filter"
	IDUnindexedField  = "unindexed-field"
	IDUnboundedJoin   = "unbounded-join"
	IDUnboundedResult = "unbounded-result"
	IDOffPeak         = "off-peak"
)

// RegisterBuiltins registers the built-in detectors.
func RegisterBuiltins(r *Registry, p *config.Policy) error {
	for _, d := range []Detector{
		&WildcardMatch{},
		&MissingFilter{policy: p},
		&UnindexedField{policy: p},
		&UnboundedJoin{policy: p},
		&UnboundedResult{},
		&OffPeak{},
	} {
		if err := r.Register(d); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// WILDCARD MATCH
// =============================================================================

// WildcardMatch flags wildcard operands and `*` projections.
type WildcardMatch struct{}

func (d *WildcardMatch) ID() string { return IDWildcardMatch }

func (d *WildcardMatch) Detect(_ context.Context, q *query.Query, _ caller.Context) ([]finding.Finding, error) {
	var out []finding.Finding
	if q.SelectAll {
		out = append(out, finding.Finding{
			Kind:     finding.KindWildcardMatch,
			Severity: finding.SeverityMedium,
			Field:    "*",
			Message:  "Avoid SELECT *; project only the fields you need",
		})
	}
	for _, p := range q.Predicates {
		if p.Operand != query.OperandWildcard {
			continue
		}
		f := finding.Finding{
			Kind:     finding.KindWildcardMatch,
			Severity: finding.SeverityMedium,
			Field:    p.Field,
			Message:  fmt.Sprintf("Avoid wildcard match on %s", p.Field),
		}
		if p.LeadingWildcard {
			// a leading wildcard defeats any index on the field
			f.Severity = finding.SeverityHigh
			f.Message = fmt.Sprintf("Avoid leading wildcard match on %s; it forces a full scan", p.Field)
		}
		out = append(out, f)
	}
	return out, nil
}

// =============================================================================
// MISSING FILTER
// =============================================================================

// MissingFilter flags scans of high-cardinality data with no time bound.
type MissingFilter struct {
	policy *config.Policy
}

func (d *MissingFilter) ID() string { return IDMissingFilter }

func (d *MissingFilter) Detect(_ context.Context, q *query.Query, _ caller.Context) ([]finding.Finding, error) {
	if q.HasTimeFilter() {
		return nil, nil
	}
	touched := d.touched(q)
	if touched == "" {
		return nil, nil
	}
	field := d.policy.DefaultTimeField
	return []finding.Finding{{
		Kind:     finding.KindMissingFilter,
		Severity: finding.SeverityHigh,
		Field:    field,
		Message:  fmt.Sprintf("Add %s filter to reduce scan of %s", field, touched),
		Fix:      &finding.Fix{Action: finding.ActionAddFilter, Field: field},
	}}, nil
}

// touched returns the first high-cardinality table or field referenced.
func (d *MissingFilter) touched(q *query.Query) string {
	for _, t := range q.Tables {
		if d.policy.IsHighCardinality(t) {
			return t
		}
	}
	for _, f := range q.Fields {
		if d.policy.IsHighCardinality(f.Name) {
			return f.Name
		}
	}
	return ""
}

// =============================================================================
// UNINDEXED FIELD
// =============================================================================

// UnindexedField flags predicates on fields outside the indexed allowlist.
type UnindexedField struct {
	policy *config.Policy
}

func (d *UnindexedField) ID() string { return IDUnindexedField }

func (d *UnindexedField) Detect(_ context.Context, q *query.Query, _ caller.Context) ([]finding.Finding, error) {
	sev := finding.SeverityMedium
	if q.HasTimeFilter() {
		sev = finding.SeverityLow
	}

	var out []finding.Finding
	seen := make(map[string]bool)
	for _, p := range q.Predicates {
		if seen[p.Field] || d.policy.IsIndexed(p.Table, p.Field) {
			continue
		}
		seen[p.Field] = true
		out = append(out, finding.Finding{
			Kind:     finding.KindUnindexedField,
			Severity: sev,
			Field:    p.Field,
			Message:  fmt.Sprintf("Use indexed fields; %s is not indexed", p.Field),
		})
	}
	return out, nil
}

// =============================================================================
// UNBOUNDED JOIN
// =============================================================================

// UnboundedJoin flags joins without a time bound, graded by how many of the
// participating tables are high-cardinality.
type UnboundedJoin struct {
	policy *config.Policy
}

func (d *UnboundedJoin) ID() string { return IDUnboundedJoin }

func (d *UnboundedJoin) Detect(_ context.Context, q *query.Query, _ caller.Context) ([]finding.Finding, error) {
	if !q.HasJoin || q.HasTimeFilter() {
		return nil, nil
	}

	hot := 0
	for _, t := range q.Tables {
		if d.policy.IsHighCardinality(t) {
			hot++
		}
	}
	sev := finding.SeverityLow
	switch {
	case hot >= 2:
		sev = finding.SeverityHigh
	case hot == 1:
		sev = finding.SeverityMedium
	}

	field := d.policy.DefaultTimeField
	return []finding.Finding{{
		Kind:     finding.KindUnboundedJoin,
		Severity: sev,
		Field:    strings.Join(q.Tables, ","),
		Message:  fmt.Sprintf("Bound the join of %s with a %s filter", strings.Join(q.Tables, " and "), field),
		Fix:      &finding.Fix{Action: finding.ActionAddFilter, Field: field},
	}}, nil
}

// =============================================================================
// UNBOUNDED RESULT
// =============================================================================

// UnboundedResult flags queries that return every row of their tables.
type UnboundedResult struct{}

func (d *UnboundedResult) ID() string { return IDUnboundedResult }

func (d *UnboundedResult) Detect(_ context.Context, q *query.Query, _ caller.Context) ([]finding.Finding, error) {
	if q.HasWhere || q.Limit >= 0 || q.Aggregate {
		return nil, nil
	}
	return []finding.Finding{{
		Kind:     finding.KindOther,
		Severity: finding.SeverityMedium,
		Field:    "rows",
		Message:  "Add a LIMIT; the query returns every row",
		Fix:      &finding.Fix{Action: finding.ActionAddLimit},
	}}, nil
}

// =============================================================================
// OFF-PEAK SCHEDULING
// =============================================================================

// OffPeak suggests deferring low-urgency report, export and batch work.
type OffPeak struct{}

func (d *OffPeak) ID() string { return IDOffPeak }

func (d *OffPeak) Detect(_ context.Context, _ *query.Query, c caller.Context) ([]finding.Finding, error) {
	if c.Urgency != caller.UrgencyLow {
		return nil, nil
	}
	if !c.Has(caller.FeatureReport, caller.FeatureExport, caller.FeatureBatch, caller.FeatureRecurring) {
		return nil, nil
	}
	return []finding.Finding{{
		Kind:     finding.KindOther,
		Severity: finding.SeverityLow,
		Field:    "schedule",
		Message:  "Schedule report for off-peak",
		Fix:      &finding.Fix{Action: finding.ActionDefer},
	}}, nil
}
