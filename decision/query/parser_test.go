package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustQuery(t *testing.T, text string) *Query {
	t.Helper()
	m := Parse(text)
	q, ok := m.(*Query)
	require.Truef(t, ok, "expected *Query, got %T (%v)", m, m)
	return q
}

func TestParse_SelectAllWithEquality(t *testing.T) {
	q := mustQuery(t, "select *   from Events where USER = '123'")

	assert.True(t, q.SelectAll)
	assert.True(t, q.HasWildcard)
	assert.True(t, q.HasWhere)
	assert.False(t, q.HasJoin)
	assert.False(t, q.HasTimeFilter())
	assert.Equal(t, -1, q.Limit)
	assert.Equal(t, []string{"events"}, q.Tables)

	require.Len(t, q.Predicates, 1)
	p := q.Predicates[0]
	assert.Equal(t, "user", p.Field)
	assert.Equal(t, "events", p.Table)
	assert.Equal(t, OpEq, p.Operator)
	assert.Equal(t, OperandLiteral, p.Operand)
	assert.Equal(t, "123", p.Value)

	assert.Contains(t, q.Fields, FieldRef{Name: "user", Table: "events"})
	assert.Equal(t, "SELECT * FROM events WHERE user = '123'", q.Normalized())
}

func TestParse_TimeFilter(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  bool
	}{
		{"range on date", "SELECT id FROM events WHERE date >= '2024-01-01' AND id = 5", true},
		{"between on created_at", "SELECT id FROM t WHERE created_at BETWEEN '2024-01-01' AND '2024-02-01'", true},
		{"parameter bound", "SELECT id FROM t WHERE ts > :since", true},
		{"non time field", "SELECT id FROM t WHERE amount > 10", false},
		{"null check is not a bound", "SELECT id FROM t WHERE updated_at IS NULL", false},
		{"join condition does not count", "SELECT a.id FROM a JOIN b ON a.day = b.day", false},
		{"bound inside or", "SELECT id FROM events WHERE date >= '2024-01-01' OR user_id = 5", false},
		{"bound inside parenthesized or", "SELECT id FROM events WHERE id = 1 AND (date >= '2024-01-01' OR id = 2)", false},
		{"negated bound", "SELECT id FROM events WHERE NOT date >= '2024-01-01'", false},
		{"negated group", "SELECT id FROM events WHERE NOT (date >= '2024-01-01' AND id = 1)", false},
		{"not between", "SELECT id FROM t WHERE created_at NOT BETWEEN '2024-01-01' AND '2024-02-01'", false},
		{"conjunct next to or group", "SELECT id FROM events WHERE date >= '2024-01-01' AND (id = 1 OR id = 2)", true},
		{"nested conjunction", "SELECT id FROM events WHERE (date >= '2024-01-01' AND id = 1)", true},
		{"having does not bound the scan", "SELECT user_id FROM events GROUP BY user_id, date HAVING date >= '2024-01-01'", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := mustQuery(t, tt.query)
			assert.Equal(t, tt.want, q.HasTimeFilter())
		})
	}
}

func TestParse_ConfiguredTimeField(t *testing.T) {
	p := NewParser(WithTimeFields("period"))
	q, ok := p.Parse("SELECT id FROM t WHERE period = '2024-Q1'").(*Query)
	require.True(t, ok)
	assert.True(t, q.HasTimeFilter())
	assert.Equal(t, "period", q.Filters[0].Field)
}

func TestParse_Wildcards(t *testing.T) {
	q := mustQuery(t, "SELECT id FROM users WHERE name LIKE '%son' AND city LIKE 'Ber%' AND code = 'A'")

	require.Len(t, q.Predicates, 3)
	assert.Equal(t, OperandWildcard, q.Predicates[0].Operand)
	assert.True(t, q.Predicates[0].LeadingWildcard)
	assert.Equal(t, OperandWildcard, q.Predicates[1].Operand)
	assert.False(t, q.Predicates[1].LeadingWildcard)
	assert.Equal(t, OperandLiteral, q.Predicates[2].Operand)
	assert.True(t, q.HasWildcard)
	assert.False(t, q.SelectAll)
}

func TestParse_JoinsAndAliases(t *testing.T) {
	q := mustQuery(t, "SELECT e.id, s.device FROM events e LEFT JOIN sessions AS s ON e.session_id = s.id WHERE e.kind = 'click'")

	assert.True(t, q.HasJoin)
	assert.Equal(t, []string{"events", "sessions"}, q.Tables)
	require.Len(t, q.Joins, 1)
	assert.Equal(t, Join{Table: "sessions", Type: "LEFT", Conditions: 1}, q.Joins[0])

	require.Len(t, q.Predicates, 2)
	assert.True(t, q.Predicates[0].Join)
	assert.Equal(t, OperandColumn, q.Predicates[0].Operand)
	assert.Equal(t, "events", q.Predicates[0].Table)
	assert.Equal(t, "kind", q.Predicates[1].Field)
	assert.Equal(t, "events", q.Predicates[1].Table)

	assert.Contains(t, q.Fields, FieldRef{Name: "session_id", Table: "events"})
	assert.Contains(t, q.Fields, FieldRef{Name: "id", Table: "sessions"})
	assert.Contains(t, q.Fields, FieldRef{Name: "device", Table: "sessions"})
}

func TestParse_PredicateFieldsAppearInFields(t *testing.T) {
	q := mustQuery(t, "SELECT count(*) FROM logs WHERE (level = 'error' OR level = 'warn') AND NOT host IN ('a', 'b') GROUP BY host")

	assert.True(t, q.Aggregate)
	for _, p := range q.Predicates {
		assert.Contains(t, q.Fields, FieldRef{Name: p.Field, Table: p.Table})
	}
}

func TestParse_Limit(t *testing.T) {
	q := mustQuery(t, "SELECT id FROM t ORDER BY id DESC LIMIT 50 OFFSET 10;")
	assert.Equal(t, 50, q.Limit)
	assert.False(t, q.HasWhere)
}

func TestParse_Unparsed(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{"empty", "   "},
		{"not a select", "DELETE FROM events"},
		{"subquery", "SELECT id FROM (SELECT id FROM t)"},
		{"in subquery", "SELECT id FROM t WHERE id IN (SELECT id FROM u)"},
		{"unterminated string", "SELECT id FROM t WHERE a = 'x"},
		{"garbage", "SELECT id FROM t WHERE a = #"},
		{"two statements", "SELECT 1 FROM t; SELECT 2 FROM t"},
		{"trailing junk", "SELECT id FROM t LIMIT 5 banana"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m Model
			require.NotPanics(t, func() { m = Parse(tt.query) })
			u, ok := m.(*Unparsed)
			require.Truef(t, ok, "expected *Unparsed, got %T", m)
			assert.Equal(t, tt.query, u.Raw())
			assert.NotEmpty(t, u.Reason)
		})
	}
}

func TestParse_Deterministic(t *testing.T) {
	text := "SELECT a.x FROM a JOIN b ON a.id = b.id WHERE a.y LIKE '%z' AND b.created_at > '2024-01-01'"
	first := mustQuery(t, text)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, mustQuery(t, text))
	}
}

func TestShape(t *testing.T) {
	a := Parse("SELECT id FROM events WHERE user = '1'")
	b := Parse("select  id from EVENTS where user = '2'")
	c := Parse("SELECT id FROM events WHERE session = '1'")

	assert.Len(t, Shape(a), 64)
	assert.Equal(t, Shape(a), Shape(b))
	assert.NotEqual(t, Shape(a), Shape(c))

	u1 := Parse("DROP  TABLE x")
	u2 := Parse("drop table X")
	assert.Equal(t, Shape(u1), Shape(u2))
}

func TestRewrite_WithLowerBound(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{
			"appends to where",
			"SELECT * FROM events WHERE user = '123'",
			"SELECT * FROM events WHERE user = '123' AND date >= :window_start",
		},
		{
			"adds where",
			"SELECT id FROM events ORDER BY id",
			"SELECT id FROM events WHERE date >= :window_start ORDER BY id",
		},
		{
			"wraps top level or",
			"SELECT id FROM events WHERE a = 1 OR b = 2 LIMIT 5",
			"SELECT id FROM events WHERE (a = 1 OR b = 2) AND date >= :window_start LIMIT 5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := mustQuery(t, tt.query)
			assert.Equal(t, tt.want, q.WithLowerBound("date", ":window_start"))
		})
	}
}

func TestRewrite_WithLimit(t *testing.T) {
	q := mustQuery(t, "SELECT id FROM events")
	assert.Equal(t, "SELECT id FROM events LIMIT 1000", q.WithLimit(1000))

	limited := mustQuery(t, "SELECT id FROM events LIMIT 5")
	assert.Equal(t, "SELECT id FROM events LIMIT 5", limited.WithLimit(1000))
}
