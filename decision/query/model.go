// Package query turns raw query text into an abstract, language-neutral
// model of its cost-relevant structure: referenced fields, predicates,
// time filters, joins and wildcards.
//
// Parsing never fails. Text that cannot be analyzed yields *Unparsed, which
// keeps the raw text so downstream stages can still produce a verdict.
package query

// Model is either a *Query or an *Unparsed.
type Model interface {
	// Raw returns the text the model was built from.
	Raw() string
	model()
}

// Operator is a normalized comparison operator.
type Operator string

const (
	OpEq         Operator = "="
	OpNeq        Operator = "!="
	OpLt         Operator = "<"
	OpLte        Operator = "<="
	OpGt         Operator = ">"
	OpGte        Operator = ">="
	OpLike       Operator = "LIKE"
	OpNotLike    Operator = "NOT LIKE"
	OpIn         Operator = "IN"
	OpNotIn      Operator = "NOT IN"
	OpBetween    Operator = "BETWEEN"
	OpNotBetween Operator = "NOT BETWEEN"
	OpIsNull     Operator = "IS NULL"
	OpIsNotNull  Operator = "IS NOT NULL"
)

// IsRange reports whether the operator bounds a range of values.
func (o Operator) IsRange() bool {
	switch o {
	case OpLt, OpLte, OpGt, OpGte, OpBetween:
		return true
	}
	return false
}

// OperandKind classifies the right-hand side of a predicate.
type OperandKind string

const (
	OperandLiteral  OperandKind = "literal"
	OperandWildcard OperandKind = "wildcard"
	OperandRange    OperandKind = "range"
	// OperandColumn compares two fields, as in join conditions.
	OperandColumn OperandKind = "column"
)

// FieldRef is a field mentioned anywhere in the query.
type FieldRef struct {
	Name  string `json:"name"`
	Table string `json:"table,omitempty"`
}

// Predicate is a single comparison on a field.
type Predicate struct {
	Field           string      `json:"field"`
	Table           string      `json:"table,omitempty"`
	Operator        Operator    `json:"operator"`
	Operand         OperandKind `json:"operand"`
	Value           string      `json:"value,omitempty"`
	LeadingWildcard bool        `json:"leading_wildcard,omitempty"`
	// Join is set for predicates that come from a JOIN ... ON clause.
	Join bool `json:"join,omitempty"`
}

// Filter is an explicit time/date bound.
type Filter struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    string   `json:"value,omitempty"`
}

// Join is one joined table.
type Join struct {
	Table      string `json:"table"`
	Type       string `json:"type"`
	Conditions int    `json:"conditions"`
}

// Query is the parsed form of a query. It is built once by the parser and
// is read-only afterwards; it is safe to share across goroutines.
type Query struct {
	raw string

	Fields     []FieldRef  `json:"fields"`
	Predicates []Predicate `json:"predicates"`
	// Filters holds time bounds that hold for every row scanned: top-level
	// AND conjuncts of WHERE, outside any OR branch or NOT.
	Filters    []Filter    `json:"filters"`
	Tables     []string    `json:"tables"`
	Joins      []Join      `json:"joins"`

	HasJoin     bool `json:"has_join"`
	HasWildcard bool `json:"has_wildcard"`
	// SelectAll is true for a `*` projection.
	SelectAll bool `json:"select_all"`
	HasWhere  bool `json:"has_where"`
	Aggregate bool `json:"aggregate"`
	// Limit is -1 when absent.
	Limit int `json:"limit"`

	tokens     []token
	whereStart int // index of first token after WHERE, -1 without WHERE
	whereEnd   int // index of first token after the WHERE condition
	whereHasOr bool
}

func (q *Query) Raw() string { return q.raw }
func (q *Query) model()      {}

// HasTimeFilter reports whether any explicit time bound is present.
func (q *Query) HasTimeFilter() bool {
	return len(q.Filters) > 0
}

// Normalized renders the query with collapsed whitespace, upper-case
// keywords and lower-case identifiers.
func (q *Query) Normalized() string {
	return render(q.tokens)
}

// Unparsed is the distinguished variant for text that could not be analyzed.
type Unparsed struct {
	Text   string
	Reason string
}

func (u *Unparsed) Raw() string { return u.Text }
func (u *Unparsed) model()      {}
