// Package finding defines the cost-driver findings produced by detectors and
// the ordering rules shared by the policy engine and the ranker.
package finding

import (
	"fmt"
	"sort"
	"strings"
)

// Kind identifies the cost driver a finding describes.
type Kind string

const (
	KindMissingFilter  Kind = "missing-filter"
	KindWildcardMatch  Kind = "wildcard-match"
	KindUnindexedField Kind = "unindexed-field"
	KindUnboundedJoin  Kind = "unbounded-join"
	KindOther          Kind = "other"
)

// Kinds lists every known kind.
var Kinds = []Kind{KindMissingFilter, KindWildcardMatch, KindUnindexedField, KindUnboundedJoin, KindOther}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Severity is ordered: Low < Medium < High.
type Severity int

const (
	SeverityLow Severity = iota + 1
	SeverityMedium
	SeverityHigh
)

// Severities lists every severity in ascending order.
var Severities = []Severity{SeverityLow, SeverityMedium, SeverityHigh}

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// ParseSeverity parses "low", "medium" or "high".
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return SeverityLow, nil
	case "medium":
		return SeverityMedium, nil
	case "high":
		return SeverityHigh, nil
	}
	return 0, fmt.Errorf("unknown severity %q", s)
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(b []byte) error {
	v, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Action is a remediation a fix hint proposes.
type Action string

const (
	ActionAddFilter Action = "add-filter"
	ActionAddLimit  Action = "add-limit"
	ActionDefer     Action = "defer"
)

// Fix is a hint the ranker turns into an alternative query.
type Fix struct {
	Action Action `json:"action"`
	// Field is the field the fix applies to, e.g. the time field to bound.
	Field string `json:"field,omitempty"`
}

// Finding is one detected cost driver.
type Finding struct {
	Kind     Kind     `json:"kind"`
	Severity Severity `json:"severity"`
	Field    string   `json:"field,omitempty"`
	Message  string   `json:"message"`
	Fix      *Fix     `json:"fix,omitempty"`

	// Detector is the id of the detector that produced the finding.
	Detector string `json:"detector"`
	// Order is the registration index of that detector.
	Order int `json:"order"`
	// FailClosed marks findings that force at least suggest_improvement.
	FailClosed bool `json:"fail_closed,omitempty"`
}

// Key identifies a finding for de-duplication.
type Key struct {
	Kind  Kind
	Field string
}

func (f Finding) Key() Key {
	return Key{Kind: f.Kind, Field: f.Field}
}

// Less orders by severity descending, then registration order, field and
// message.
func Less(a, b Finding) bool {
	if a.Severity != b.Severity {
		return a.Severity > b.Severity
	}
	if a.Order != b.Order {
		return a.Order < b.Order
	}
	if a.Field != b.Field {
		return a.Field < b.Field
	}
	return a.Message < b.Message
}

// Sort sorts findings in place by Less.
func Sort(fs []Finding) {
	sort.SliceStable(fs, func(i, j int) bool { return Less(fs[i], fs[j]) })
}

// Dedup keeps one finding per (kind, field), the one that sorts first by
// Less. The result is sorted by Less.
func Dedup(fs []Finding) []Finding {
	best := make(map[Key]Finding, len(fs))
	for _, f := range fs {
		if cur, ok := best[f.Key()]; !ok || Less(f, cur) {
			best[f.Key()] = f
		}
	}
	out := make([]Finding, 0, len(best))
	for _, f := range best {
		out = append(out, f)
	}
	Sort(out)
	return out
}

// Max returns the highest severity among fs, or 0 when fs is empty.
func Max(fs []Finding) Severity {
	var max Severity
	for _, f := range fs {
		if f.Severity > max {
			max = f.Severity
		}
	}
	return max
}
