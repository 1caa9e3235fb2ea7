// Package advisor runs the query advisory pipeline:
// parse → detect → estimate → decide → rank.
//
// An Engine holds only read-only state (config, frozen detector set,
// estimator) and is safe for unbounded concurrent use.
package advisor

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/santoshpalla27/taulayer/decision/caller"
	"github.com/santoshpalla27/taulayer/decision/detect"
	"github.com/santoshpalla27/taulayer/decision/estimation"
	"github.com/santoshpalla27/taulayer/decision/finding"
	"github.com/santoshpalla27/taulayer/decision/policy"
	"github.com/santoshpalla27/taulayer/decision/query"
	"github.com/santoshpalla27/taulayer/decision/ranking"
	"github.com/santoshpalla27/taulayer/decision/telemetry"
	"github.com/santoshpalla27/taulayer/internal/config"
	"github.com/santoshpalla27/taulayer/pkg/errors"
)

// DetectorParser is the id stamped on the finding for unanalyzable queries.
const DetectorParser = "parser"

// Observer receives pipeline events for metrics.
type Observer interface {
	ObserveAdvice(status string, elapsed time.Duration)
	DetectorFailed(detector string)
	Degraded(code string)
}

type nopObserver struct{}

func (nopObserver) ObserveAdvice(string, time.Duration) {}
func (nopObserver) DetectorFailed(string)               {}
func (nopObserver) Degraded(string)                     {}

// Engine is the query advisory engine.
type Engine struct {
	cfg       *config.Config
	parser    *query.Parser
	detectors *detect.Set
	estimator *estimation.Engine
	logger    zerolog.Logger
	observer  Observer
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

func WithTelemetry(l telemetry.Lookup) Option {
	return func(e *Engine) {
		if l != nil {
			e.estimator.WithTelemetry(l)
		}
	}
}

// NewEngine builds an engine over a frozen detector set.
func NewEngine(cfg *config.Config, detectors *detect.Set, opts ...Option) *Engine {
	e := &Engine{
		cfg:       cfg,
		parser:    query.NewParser(query.WithTimeFields(cfg.Policy.TimeFields...)),
		detectors: detectors,
		estimator: estimation.NewEngine(&cfg.Policy, cfg.Telemetry),
		logger:    zerolog.Nop(),
		observer:  nopObserver{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// New registers the built-in detectors plus any rego detectors found in
// cfg.Detectors.PoliciesDir, freezes the registry, and builds the engine.
// A policy that fails to compile is CONFIG_INVALID.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Engine, error) {
	reg := detect.NewRegistry()
	if err := detect.RegisterBuiltins(reg, &cfg.Policy); err != nil {
		return nil, errors.NewConfigInvalid("failed to register detectors", err)
	}
	regos, err := detect.LoadRegoDetectors(ctx, cfg.Detectors.PoliciesDir)
	if err != nil {
		return nil, err
	}
	for _, d := range regos {
		if err := reg.Register(d); err != nil {
			return nil, errors.NewConfigInvalid("failed to register detectors", err)
		}
	}
	return NewEngine(cfg, reg.Build(), opts...), nil
}

// Detectors returns the ids of the registered detectors in order.
func (e *Engine) Detectors() []string {
	return e.detectors.IDs()
}

// Advice is the full pipeline output for one request.
type Advice struct {
	Verdict      policy.Verdict         `json:"verdict"`
	Estimate     *estimation.Estimate   `json:"estimate"`
	Suggestions  []ranking.Suggestion   `json:"suggestions"`
	Alternatives []string               `json:"alternatives"`
	Degradations []*errors.AdvisorError `json:"degradations,omitempty"`
	// Parsed is false when the query could not be analyzed.
	Parsed bool `json:"parsed"`
}

// Status is shorthand for the verdict status.
func (a *Advice) Status() policy.Status {
	return a.Verdict.Status
}

// Advise runs the pipeline once. It never fails: degraded analysis still
// yields a best-effort verdict, with the degradations attached.
func (e *Engine) Advise(ctx context.Context, text string, c caller.Context) *Advice {
	start := time.Now()
	advice := &Advice{}

	model := e.parser.Parse(text)
	var findings []finding.Finding
	coverage := 0.0

	switch m := model.(type) {
	case *query.Query:
		advice.Parsed = true
		res := e.detectors.Run(ctx, m, c)
		findings = res.Findings
		if n := e.detectors.Len(); n > 0 {
			coverage = float64(res.Ran) / float64(n)
		}
		for _, f := range res.Failures {
			e.logger.Warn().Err(f.Err).Str("detector", f.Component).Str("code", f.Code).Msg("Detector failed")
			e.observer.DetectorFailed(f.Component)
			advice.Degradations = append(advice.Degradations, f)
		}
	case *query.Unparsed:
		deg := errors.NewParseDegraded(m.Reason)
		e.logger.Debug().Str("reason", m.Reason).Str("code", deg.Code).Msg("Query could not be analyzed")
		advice.Degradations = append(advice.Degradations, deg)
		findings = []finding.Finding{unanalyzable()}
	}

	est := e.estimator.Estimate(ctx, estimation.Request{
		Model:    model,
		Findings: findings,
		Coverage: coverage,
	})
	for _, d := range est.Degradations {
		e.logger.Warn().Err(d.Err).Str("shape", est.Shape).Str("code", d.Code).Msg("Telemetry unavailable, using static weights")
		advice.Degradations = append(advice.Degradations, d)
	}
	for _, d := range advice.Degradations {
		e.observer.Degraded(d.Code)
	}

	verdict := policy.Decide(findings, est, &e.cfg.Policy, c.Urgency)
	ranked := ranking.Rank(verdict, est, model, &e.cfg.Policy, e.cfg.Policy.MaxSuggestions)

	advice.Verdict = verdict
	advice.Estimate = est
	advice.Suggestions = ranked.Suggestions
	advice.Alternatives = ranked.Alternatives

	e.observer.ObserveAdvice(string(verdict.Status), time.Since(start))
	return advice
}

func unanalyzable() finding.Finding {
	return finding.Finding{
		Kind:       finding.KindOther,
		Severity:   finding.SeverityMedium,
		Field:      "query",
		Message:    "could not analyze query structure",
		Detector:   DetectorParser,
		Order:      -1,
		FailClosed: true,
	}
}
