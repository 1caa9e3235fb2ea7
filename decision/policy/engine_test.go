package policy

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/santoshpalla27/taulayer/decision/caller"
	"github.com/santoshpalla27/taulayer/decision/estimation"
	"github.com/santoshpalla27/taulayer/decision/finding"
	"github.com/santoshpalla27/taulayer/internal/config"
)

func estimate(latency, cost string) *estimation.Estimate {
	return &estimation.Estimate{
		Latency: estimation.Measure{Magnitude: decimal.RequireFromString(latency)},
		Cost:    estimation.Measure{Magnitude: decimal.RequireFromString(cost)},
	}
}

func TestDecide(t *testing.T) {
	p := &config.Default().Policy
	medium := finding.Finding{Kind: finding.KindWildcardMatch, Severity: finding.SeverityMedium, Field: "*"}
	low := finding.Finding{Kind: finding.KindUnindexedField, Severity: finding.SeverityLow, Field: "date"}
	failClosed := finding.Finding{Kind: finding.KindOther, Severity: finding.SeverityLow, Field: "query", FailClosed: true}

	tests := []struct {
		name     string
		findings []finding.Finding
		est      *estimation.Estimate
		urgency  caller.Urgency
		want     Status
	}{
		{"no findings", nil, estimate("0.5", "0.01"), caller.UrgencyLow, StatusOK},
		{"low finding only", []finding.Finding{low}, estimate("1", "0.03"), caller.UrgencyLow, StatusOK},
		{"medium finding", []finding.Finding{low, medium}, estimate("3", "0.1"), caller.UrgencyLow, StatusSuggestImprovement},
		{"fail closed low finding", []finding.Finding{failClosed}, estimate("1", "0.02"), caller.UrgencyLow, StatusSuggestImprovement},
		{"cost at limit is rejected", []finding.Finding{low}, estimate("1", "2.00"), caller.UrgencyLow, StatusRejected},
		{"latency at limit is rejected", []finding.Finding{low}, estimate("60", "0.1"), caller.UrgencyLow, StatusRejected},
		{"urgency relaxes cost limit", []finding.Finding{low}, estimate("1", "2.50"), caller.UrgencyHigh, StatusOK},
		{"relaxed limit is still inclusive", []finding.Finding{low}, estimate("1", "3.00"), caller.UrgencyHigh, StatusRejected},
		{"rejection beats suggestion", []finding.Finding{medium}, estimate("90", "0.1"), caller.UrgencyHigh, StatusRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Decide(tt.findings, tt.est, p, tt.urgency)
			assert.Equal(t, tt.want, v.Status)
			if v.Status != StatusOK {
				assert.NotEmpty(t, v.Findings)
				assert.NotEmpty(t, v.Reasons)
			}
		})
	}
}

func TestDecide_RejectionCarriesFindings(t *testing.T) {
	p := &config.Default().Policy
	fs := []finding.Finding{
		{Kind: finding.KindUnboundedJoin, Severity: finding.SeverityHigh, Field: "events,sessions"},
		{Kind: finding.KindMissingFilter, Severity: finding.SeverityHigh, Field: "date"},
	}
	v := Decide(fs, estimate("73", "4.99"), p, caller.UrgencyHigh)

	assert.Equal(t, StatusRejected, v.Status)
	assert.Equal(t, fs, v.Findings)
	assert.True(t, v.CostLimit.Equal(decimal.RequireFromString("3")))
	assert.True(t, v.LatencyLimit.Equal(decimal.NewFromInt(90)))
	require.Len(t, v.Reasons, 1)
	assert.Contains(t, v.Reasons[0], "$4.99")
}

func TestDecide_EmptyRejectionGetsSyntheticFinding(t *testing.T) {
	v := Decide(nil, estimate("120", "5"), &config.Default().Policy, caller.UrgencyLow)

	assert.Equal(t, StatusRejected, v.Status)
	require.Len(t, v.Findings, 1)
	assert.Equal(t, finding.KindOther, v.Findings[0].Kind)
	assert.Equal(t, finding.SeverityHigh, v.Findings[0].Severity)
	assert.Equal(t, "cost", v.Findings[0].Field)
	assert.Len(t, v.Reasons, 2)
}

func TestDecide_MonotonicInFindings(t *testing.T) {
	p := &config.Default().Policy
	base := []finding.Finding{{Kind: finding.KindWildcardMatch, Severity: finding.SeverityMedium, Field: "x"}}
	before := Decide(base, estimate("3", "0.1"), p, caller.UrgencyLow)

	more := append(append([]finding.Finding{}, base...), finding.Finding{Kind: finding.KindMissingFilter, Severity: finding.SeverityHigh, Field: "date"})
	after := Decide(more, estimate("11", "0.4"), p, caller.UrgencyLow)

	assert.Equal(t, StatusSuggestImprovement, before.Status)
	assert.NotEqual(t, StatusOK, after.Status)
}

func TestDecide_DoesNotAliasInput(t *testing.T) {
	fs := []finding.Finding{{Kind: finding.KindOther, Severity: finding.SeverityLow, Field: "a"}}
	v := Decide(fs, estimate("1", "0.01"), &config.Default().Policy, caller.UrgencyLow)
	v.Findings[0].Field = "changed"
	assert.Equal(t, "a", fs[0].Field)
}
