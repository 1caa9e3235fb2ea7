package detect

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/open-policy-agent/opa/rego"

	"github.com/santoshpalla27/taulayer/decision/caller"
	"github.com/santoshpalla27/taulayer/decision/finding"
	"github.com/santoshpalla27/taulayer/decision/query"
	"github.com/santoshpalla27/taulayer/pkg/errors"
)

// RegoQuery is the rule every rego detector module must define: a set of
// objects {kind, severity, field?, message, fix?: {action, field?}}.
const RegoQuery = "data.taulayer.findings"

const regoEvalTimeout = time.Second

// RegoDetector evaluates a compiled rego module as a detector.
type RegoDetector struct {
	id       string
	prepared rego.PreparedEvalQuery
}

// NewRegoDetector compiles module. A compile error is CONFIG_INVALID.
func NewRegoDetector(ctx context.Context, id, filename, module string) (*RegoDetector, error) {
	prepared, err := rego.New(
		rego.Query(RegoQuery),
		rego.Module(filename, module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, errors.NewConfigInvalid(fmt.Sprintf("invalid detector policy %s", filename), err)
	}
	return &RegoDetector{id: id, prepared: prepared}, nil
}

// LoadRegoDetectors compiles every *.rego file in dir, sorted by name. A
// missing or empty dir yields no detectors.
func LoadRegoDetectors(ctx context.Context, dir string) ([]*RegoDetector, error) {
	if dir == "" {
		return nil, nil
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.rego"))
	if err != nil {
		return nil, errors.NewConfigInvalid("failed to list detector policies", err)
	}
	sort.Strings(files)

	var out []*RegoDetector
	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			return nil, errors.NewConfigInvalid(fmt.Sprintf("failed to read %s", file), err)
		}
		id := "rego:" + strings.TrimSuffix(filepath.Base(file), ".rego")
		d, err := NewRegoDetector(ctx, id, file, string(content))
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (d *RegoDetector) ID() string { return d.id }

func (d *RegoDetector) Detect(ctx context.Context, q *query.Query, c caller.Context) ([]finding.Finding, error) {
	ctx, cancel := context.WithTimeout(ctx, regoEvalTimeout)
	defer cancel()

	rs, err := d.prepared.Eval(ctx, rego.EvalInput(regoInput(q, c)))
	if err != nil {
		return nil, err
	}

	var out []finding.Finding
	for _, result := range rs {
		for _, expr := range result.Expressions {
			set, ok := expr.Value.([]interface{})
			if !ok {
				return nil, fmt.Errorf("%s must be a set, got %T", RegoQuery, expr.Value)
			}
			for _, v := range set {
				f, err := decodeRegoFinding(v)
				if err != nil {
					return nil, err
				}
				out = append(out, f)
			}
		}
	}
	finding.Sort(out)
	return out, nil
}

func regoInput(q *query.Query, c caller.Context) map[string]interface{} {
	fields := make([]interface{}, 0, len(q.Fields))
	for _, f := range q.Fields {
		fields = append(fields, map[string]interface{}{"name": f.Name, "table": f.Table})
	}
	preds := make([]interface{}, 0, len(q.Predicates))
	for _, p := range q.Predicates {
		preds = append(preds, map[string]interface{}{
			"field":            p.Field,
			"table":            p.Table,
			"operator":         string(p.Operator),
			"operand":          string(p.Operand),
			"value":            p.Value,
			"leading_wildcard": p.LeadingWildcard,
			"join":             p.Join,
		})
	}
	tables := make([]interface{}, 0, len(q.Tables))
	for _, t := range q.Tables {
		tables = append(tables, t)
	}
	features := make([]interface{}, 0)
	for _, f := range caller.Features(c.BehaviorSummary) {
		features = append(features, string(f))
	}

	return map[string]interface{}{
		"query": map[string]interface{}{
			"text":            q.Normalized(),
			"tables":          tables,
			"fields":          fields,
			"predicates":      preds,
			"has_join":        q.HasJoin,
			"has_wildcard":    q.HasWildcard,
			"has_time_filter": q.HasTimeFilter(),
			"has_where":       q.HasWhere,
			"select_all":      q.SelectAll,
			"aggregate":       q.Aggregate,
			"limit":           q.Limit,
		},
		"context": map[string]interface{}{
			"user_id":   c.UserID,
			"role":      c.Role,
			"client_id": c.ClientID,
			"location":  c.Location,
			"device":    string(c.Device),
			"urgency":   c.Urgency.String(),
			"features":  features,
		},
	}
}

func decodeRegoFinding(v interface{}) (finding.Finding, error) {
	obj, ok := v.(map[string]interface{})
	if !ok {
		return finding.Finding{}, fmt.Errorf("finding must be an object, got %T", v)
	}
	str := func(key string) string {
		s, _ := obj[key].(string)
		return s
	}

	kind := finding.Kind(str("kind"))
	if !kind.Valid() {
		return finding.Finding{}, fmt.Errorf("unknown finding kind %q", kind)
	}
	sev, err := finding.ParseSeverity(str("severity"))
	if err != nil {
		return finding.Finding{}, err
	}
	msg := str("message")
	if msg == "" {
		return finding.Finding{}, fmt.Errorf("finding of kind %s has no message", kind)
	}

	f := finding.Finding{Kind: kind, Severity: sev, Field: str("field"), Message: msg}
	if fix, ok := obj["fix"].(map[string]interface{}); ok {
		action, _ := fix["action"].(string)
		field, _ := fix["field"].(string)
		switch finding.Action(action) {
		case finding.ActionAddFilter, finding.ActionAddLimit, finding.ActionDefer:
			f.Fix = &finding.Fix{Action: finding.Action(action), Field: field}
		default:
			return finding.Finding{}, fmt.Errorf("unknown fix action %q", action)
		}
	}
	return f, nil
}
