package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/santoshpalla27/taulayer/decision/caller"
	"github.com/santoshpalla27/taulayer/decision/finding"
	"github.com/santoshpalla27/taulayer/pkg/errors"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "taulayer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Policy.MaxSuggestions)
	assert.Equal(t, finding.SeverityMedium, cfg.Policy.SuggestThreshold)
	assert.Equal(t, 250*time.Millisecond, cfg.Telemetry.Timeout)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeFile(t, `
policy:
  suggest_threshold: high
  max_suggestions: 5
  hard_cost_usd: "3.50"
  indexed_fields: [id, events.user]
  weights:
    other:
      low: {latency: 0.1, cost: 0.01}
      medium: {latency: 0.2, cost: 0.02}
      high: {latency: 0.3, cost: 0.03}
telemetry:
  timeout: 100ms
detectors:
  policies_dir: ./policies
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	p := cfg.Policy
	assert.Equal(t, finding.SeverityHigh, p.SuggestThreshold)
	assert.Equal(t, finding.SeverityLow, p.SurfaceThreshold)
	assert.Equal(t, 5, p.MaxSuggestions)
	assert.True(t, p.HardCost.Equal(decimal.RequireFromString("3.5")))
	assert.True(t, p.HardLatency.Equal(decimal.NewFromInt(60)))
	assert.True(t, p.Weight(finding.KindOther, finding.SeverityMedium).Latency.Equal(decimal.RequireFromString("0.2")))
	assert.True(t, p.Weight(finding.KindUnboundedJoin, finding.SeverityHigh).Cost.Equal(decimal.RequireFromString("4.5")))
	assert.True(t, p.IsIndexed("events", "user"))
	assert.False(t, p.IsIndexed("sessions", "user"))
	assert.Equal(t, 100*time.Millisecond, cfg.Telemetry.Timeout)
	assert.Equal(t, "./policies", cfg.Detectors.PoliciesDir)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad severity", "policy:\n  suggest_threshold: critical\n"},
		{"zero cap", "policy:\n  max_suggestions: 0\n"},
		{"multiplier below one", "policy:\n  urgency_multipliers: {low: 0.5, medium: 1, high: 1}\n"},
		{"decreasing multipliers", "policy:\n  urgency_multipliers: {low: 1, medium: 2, high: 1.5}\n"},
		{"non monotone weights", "policy:\n  weights:\n    other:\n      low: {latency: 2, cost: 0.1}\n      medium: {latency: 1, cost: 0.2}\n      high: {latency: 3, cost: 0.3}\n"},
		{"unknown kind", "policy:\n  weights:\n    mystery:\n      low: {latency: 1, cost: 1}\n"},
		{"cost share out of range", "policy:\n  cost_share_threshold: 1.5\n"},
		{"cost share of one never fires", "policy:\n  cost_share_threshold: 1\n"},
		{"negative timeout", "telemetry:\n  timeout: -1s\n"},
		{"malformed yaml", "policy: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.content))
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, errors.ErrCodeConfigInvalid))
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.True(t, errors.HasCode(err, errors.ErrCodeConfigInvalid))
}

func TestPolicyHelpers(t *testing.T) {
	p := Default().Policy

	assert.True(t, p.Multiplier(caller.UrgencyLow).Equal(decimal.NewFromInt(1)))
	assert.True(t, p.Multiplier(caller.UrgencyHigh).Equal(decimal.RequireFromString("1.5")))

	assert.True(t, p.IsHighCardinality("events"))
	assert.True(t, p.IsHighCardinality("analytics.events"))
	assert.True(t, p.IsHighCardinality("USER_ID"))
	assert.False(t, p.IsHighCardinality("countries"))

	assert.True(t, p.IsIndexed("events", "id"))
	assert.False(t, p.IsIndexed("events", "user"))
}

func TestLoad_ShippedConfig(t *testing.T) {
	cfg, err := Load("../../config/taulayer.yaml")
	require.NoError(t, err)

	assert.Equal(t, []string{"event_time", "occurred_on"}, cfg.Policy.TimeFields)
	assert.True(t, cfg.Policy.IsIndexed("events", "user_id"))
	assert.False(t, cfg.Policy.IsIndexed("logs", "user_id"))
	assert.Equal(t, "policies", cfg.Detectors.PoliciesDir)
	assert.Equal(t, 250*time.Millisecond, cfg.Telemetry.Timeout)
	assert.Len(t, cfg.Policy.Weights, len(finding.Kinds), "omitted weights keep their defaults")
}
