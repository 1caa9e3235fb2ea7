// Package config loads and validates the advisory policy and telemetry
// settings. A Config is loaded once at startup and is read-only afterwards.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/santoshpalla27/taulayer/decision/caller"
	"github.com/santoshpalla27/taulayer/decision/finding"
	"github.com/santoshpalla27/taulayer/pkg/errors"
)

type Config struct {
	Policy    Policy    `yaml:"policy"`
	Telemetry Telemetry `yaml:"telemetry"`
	Detectors Detectors `yaml:"detectors"`
}

// Weight is a latency (seconds) and cost (USD) contribution.
type Weight struct {
	Latency decimal.Decimal `yaml:"latency"`
	Cost    decimal.Decimal `yaml:"cost"`
}

// SeverityWeights holds the weights of one finding kind.
type SeverityWeights struct {
	Low    Weight `yaml:"low"`
	Medium Weight `yaml:"medium"`
	High   Weight `yaml:"high"`
}

// For returns the weight for a severity.
func (w SeverityWeights) For(s finding.Severity) Weight {
	switch s {
	case finding.SeverityHigh:
		return w.High
	case finding.SeverityMedium:
		return w.Medium
	default:
		return w.Low
	}
}

// Multipliers relax the hard limits per urgency level.
type Multipliers struct {
	Low    decimal.Decimal `yaml:"low"`
	Medium decimal.Decimal `yaml:"medium"`
	High   decimal.Decimal `yaml:"high"`
}

// Policy drives detection, estimation, the verdict and ranking.
type Policy struct {
	SuggestThreshold finding.Severity `yaml:"suggest_threshold"`
	SurfaceThreshold finding.Severity `yaml:"surface_threshold"`
	MaxSuggestions   int              `yaml:"max_suggestions"`

	HardLatency        decimal.Decimal `yaml:"hard_latency_seconds"`
	HardCost           decimal.Decimal `yaml:"hard_cost_usd"`
	UrgencyMultipliers Multipliers     `yaml:"urgency_multipliers"`
	CostShareThreshold float64         `yaml:"cost_share_threshold"`

	Baseline Weight                           `yaml:"baseline"`
	Weights  map[finding.Kind]SeverityWeights `yaml:"weights"`

	IndexedFields    []string `yaml:"indexed_fields"`
	HighCardinality  []string `yaml:"high_cardinality"`
	TimeFields       []string `yaml:"time_fields"`
	DefaultTimeField string   `yaml:"default_time_field"`
	DefaultLimit     int      `yaml:"default_limit"`
	WindowParam      string   `yaml:"window_param"`
}

// Telemetry configures the optional telemetry lookup.
type Telemetry struct {
	Timeout               time.Duration `yaml:"timeout"`
	Window                time.Duration `yaml:"window"`
	HighConfidenceSamples int           `yaml:"high_confidence_samples"`
	CacheTTL              time.Duration `yaml:"cache_ttl"`
	BreakerFailures       uint32        `yaml:"breaker_failures"`
	BreakerOpenTimeout    time.Duration `yaml:"breaker_open_timeout"`
}

// Detectors configures optional rego detectors.
type Detectors struct {
	PoliciesDir string `yaml:"policies_dir"`
}

func w(latency, cost string) Weight {
	return Weight{Latency: decimal.RequireFromString(latency), Cost: decimal.RequireFromString(cost)}
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Policy: Policy{
			SuggestThreshold: finding.SeverityMedium,
			SurfaceThreshold: finding.SeverityLow,
			MaxSuggestions:   3,

			HardLatency: decimal.NewFromInt(60),
			HardCost:    decimal.RequireFromString("2.00"),
			UrgencyMultipliers: Multipliers{
				Low:    decimal.NewFromInt(1),
				Medium: decimal.RequireFromString("1.25"),
				High:   decimal.RequireFromString("1.5"),
			},
			CostShareThreshold: 0.5,

			Baseline: w("0.5", "0.01"),
			Weights: map[finding.Kind]SeverityWeights{
				finding.KindWildcardMatch:  {Low: w("0.5", "0.02"), Medium: w("2", "0.08"), High: w("6", "0.25")},
				finding.KindMissingFilter:  {Low: w("1", "0.05"), Medium: w("3", "0.12"), High: w("8", "0.30")},
				finding.KindUnindexedField: {Low: w("0.5", "0.02"), Medium: w("1.5", "0.06"), High: w("4", "0.15")},
				finding.KindUnboundedJoin:  {Low: w("5", "0.30"), Medium: w("20", "1.20"), High: w("60", "4.50")},
				finding.KindOther:          {Low: w("0.25", "0.01"), Medium: w("1", "0.04"), High: w("3", "0.12")},
			},

			IndexedFields:    []string{"id"},
			HighCardinality:  []string{"events", "sessions", "logs", "user", "user_id", "session_id"},
			DefaultTimeField: "date",
			DefaultLimit:     1000,
			WindowParam:      ":window_start",
		},
		Telemetry: Telemetry{
			Timeout:               250 * time.Millisecond,
			Window:                24 * time.Hour,
			HighConfidenceSamples: 20,
			CacheTTL:              time.Minute,
			BreakerFailures:       5,
			BreakerOpenTimeout:    30 * time.Second,
		},
	}
}

// Load reads a YAML file over the defaults and validates the result. An
// empty path yields the validated defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewConfigInvalid(fmt.Sprintf("cannot read %s", path), err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.NewConfigInvalid(fmt.Sprintf("cannot decode %s", path), err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every invariant the pipeline relies on.
func (c *Config) Validate() error {
	var problems []string
	fail := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}
	p := &c.Policy

	if !validSeverity(p.SuggestThreshold) {
		fail("suggest_threshold must be low, medium or high")
	}
	if !validSeverity(p.SurfaceThreshold) {
		fail("surface_threshold must be low, medium or high")
	}
	if p.MaxSuggestions < 1 {
		fail("max_suggestions must be at least 1")
	}
	if !p.HardLatency.IsPositive() {
		fail("hard_latency_seconds must be positive")
	}
	if !p.HardCost.IsPositive() {
		fail("hard_cost_usd must be positive")
	}

	one := decimal.NewFromInt(1)
	m := p.UrgencyMultipliers
	if m.Low.LessThan(one) || m.Medium.LessThan(one) || m.High.LessThan(one) {
		fail("urgency multipliers must be >= 1")
	}
	if m.Medium.LessThan(m.Low) || m.High.LessThan(m.Medium) {
		fail("urgency multipliers must not decrease with urgency")
	}
	if p.CostShareThreshold <= 0 || p.CostShareThreshold >= 1 {
		fail("cost_share_threshold must be in (0, 1)")
	}

	if p.Baseline.Latency.IsNegative() || p.Baseline.Cost.IsNegative() {
		fail("baseline must not be negative")
	}
	for _, kind := range finding.Kinds {
		sw, ok := p.Weights[kind]
		if !ok {
			fail("weights: missing kind %s", kind)
			continue
		}
		prev := Weight{Latency: decimal.Zero, Cost: decimal.Zero}
		for _, sev := range finding.Severities {
			cur := sw.For(sev)
			if cur.Latency.LessThan(prev.Latency) || cur.Cost.LessThan(prev.Cost) {
				fail("weights: %s/%s must be >= the lower severity and not negative", kind, sev)
			}
			prev = cur
		}
	}
	for kind := range p.Weights {
		if !kind.Valid() {
			fail("weights: unknown kind %q", kind)
		}
	}

	if strings.TrimSpace(p.DefaultTimeField) == "" {
		fail("default_time_field is required")
	}
	if p.DefaultLimit < 1 {
		fail("default_limit must be at least 1")
	}
	if !strings.HasPrefix(p.WindowParam, ":") || len(p.WindowParam) < 2 {
		fail("window_param must look like :name")
	}

	t := c.Telemetry
	if t.Timeout <= 0 {
		fail("telemetry.timeout must be positive")
	}
	if t.Window <= 0 {
		fail("telemetry.window must be positive")
	}
	if t.HighConfidenceSamples < 1 {
		fail("telemetry.high_confidence_samples must be at least 1")
	}
	if t.CacheTTL < 0 {
		fail("telemetry.cache_ttl must not be negative")
	}
	if t.BreakerFailures < 1 {
		fail("telemetry.breaker_failures must be at least 1")
	}
	if t.BreakerOpenTimeout <= 0 {
		fail("telemetry.breaker_open_timeout must be positive")
	}

	if len(problems) > 0 {
		return errors.NewConfigInvalid(strings.Join(problems, "; "), nil)
	}
	return nil
}

func validSeverity(s finding.Severity) bool {
	return s >= finding.SeverityLow && s <= finding.SeverityHigh
}

// Multiplier returns the hard-limit multiplier for an urgency level.
func (p *Policy) Multiplier(u caller.Urgency) decimal.Decimal {
	switch u {
	case caller.UrgencyHigh:
		return p.UrgencyMultipliers.High
	case caller.UrgencyMedium:
		return p.UrgencyMultipliers.Medium
	default:
		return p.UrgencyMultipliers.Low
	}
}

// Weight returns the static contribution of a finding kind and severity.
// Unknown kinds fall back to the "other" weights.
func (p *Policy) Weight(kind finding.Kind, sev finding.Severity) Weight {
	sw, ok := p.Weights[kind]
	if !ok {
		sw = p.Weights[finding.KindOther]
	}
	return sw.For(sev)
}

// IsIndexed reports whether field (optionally qualified by table) is in the
// indexed allowlist. Entries may be bare names or table.field.
func (p *Policy) IsIndexed(table, field string) bool {
	return contains(p.IndexedFields, field) || (table != "" && contains(p.IndexedFields, table+"."+field))
}

// IsHighCardinality reports whether a table or field name is tagged as
// high-cardinality.
func (p *Policy) IsHighCardinality(name string) bool {
	if i := strings.LastIndexByte(name, '.'); i >= 0 && contains(p.HighCardinality, name[i+1:]) {
		return true
	}
	return contains(p.HighCardinality, name)
}

func contains(list []string, name string) bool {
	for _, v := range list {
		if strings.EqualFold(v, name) {
			return true
		}
	}
	return false
}
