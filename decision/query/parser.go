package query

import (
	"fmt"
	"strconv"
	"strings"
)

// Parser builds query models. The zero value is not usable; use NewParser.
type Parser struct {
	timeFields map[string]bool
}

// Option configures a Parser.
type Option func(*Parser)

// WithTimeFields marks additional field names as time/date fields.
func WithTimeFields(names ...string) Option {
	return func(p *Parser) {
		for _, n := range names {
			p.timeFields[strings.ToLower(n)] = true
		}
	}
}

// NewParser creates a parser with the default time-field heuristics.
func NewParser(opts ...Option) *Parser {
	p := &Parser{timeFields: make(map[string]bool)}
	for _, n := range []string{"date", "time", "timestamp", "ts", "day", "datetime", "created", "updated", "event_time"} {
		p.timeFields[n] = true
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var defaultParser = NewParser()

// Parse parses text with the default parser.
func Parse(text string) Model {
	return defaultParser.Parse(text)
}

// Parse turns text into a *Query, or an *Unparsed carrying the raw text
// and the reason analysis stopped. It never panics.
func (p *Parser) Parse(text string) (m Model) {
	defer func() {
		if r := recover(); r != nil {
			m = &Unparsed{Text: text, Reason: fmt.Sprintf("internal parser error: %v", r)}
		}
	}()

	toks, err := lex(text)
	if err != nil {
		return &Unparsed{Text: text, Reason: err.Error()}
	}
	if len(toks) == 0 {
		return &Unparsed{Text: text, Reason: "empty query"}
	}

	st := &parseState{
		parser:  p,
		toks:    toks,
		aliases: make(map[string]string),
		q: &Query{
			raw:        text,
			tokens:     toks,
			Limit:      -1,
			whereStart: -1,
		},
		seenFields: make(map[FieldRef]bool),
	}
	if err := st.parseSelect(); err != nil {
		return &Unparsed{Text: text, Reason: err.Error()}
	}
	st.resolve()
	return st.q
}

// IsTimeField reports whether name looks like a time/date column.
func (p *Parser) IsTimeField(name string) bool {
	name = strings.ToLower(name)
	if p.timeFields[name] {
		return true
	}
	for _, suffix := range []string{"_at", "_date", "_time", "_ts", "_day"} {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

type parseState struct {
	parser *Parser
	toks   []token
	pos    int
	q      *Query

	aliases    map[string]string
	seenFields map[FieldRef]bool
	// raw qualifiers recorded before aliases are known
	pending []*pendingRef
}

type pendingRef struct {
	qualifier string
	fieldIdx  int
	predIdx   int
}

func (s *parseState) peek() token {
	if s.pos < len(s.toks) {
		return s.toks[s.pos]
	}
	return token{kind: tokPunct, text: ""}
}

func (s *parseState) peekAt(offset int) token {
	if s.pos+offset < len(s.toks) {
		return s.toks[s.pos+offset]
	}
	return token{kind: tokPunct, text: ""}
}

func (s *parseState) eof() bool {
	return s.pos >= len(s.toks)
}

func (s *parseState) next() token {
	t := s.peek()
	s.pos++
	return t
}

func (s *parseState) acceptKeyword(words ...string) bool {
	if s.peek().keyword(words...) {
		s.pos++
		return true
	}
	return false
}

func (s *parseState) expectKeyword(word string) error {
	if !s.acceptKeyword(word) {
		return fmt.Errorf("expected %s near %q", word, s.peek().text)
	}
	return nil
}

func (s *parseState) acceptPunct(p string) bool {
	if s.peek().is(tokPunct, p) {
		s.pos++
		return true
	}
	return false
}

// =============================================================================
// STATEMENT
// =============================================================================

func (s *parseState) parseSelect() error {
	if err := s.expectKeyword("SELECT"); err != nil {
		return fmt.Errorf("only SELECT queries can be analyzed")
	}
	s.acceptKeyword("DISTINCT")

	if err := s.parseProjection(); err != nil {
		return err
	}
	if err := s.expectKeyword("FROM"); err != nil {
		return err
	}
	if err := s.parseTableRef(""); err != nil {
		return err
	}

	for {
		if s.acceptPunct(",") {
			if err := s.parseTableRef("CROSS"); err != nil {
				return err
			}
			continue
		}
		joinType, ok := s.parseJoinKeyword()
		if !ok {
			break
		}
		if err := s.parseTableRef(joinType); err != nil {
			return err
		}
		if s.acceptKeyword("ON") {
			before := len(s.q.Predicates)
			if _, err := s.parseCondition(true); err != nil {
				return err
			}
			s.q.Joins[len(s.q.Joins)-1].Conditions = len(s.q.Predicates) - before
		}
	}

	if s.acceptKeyword("WHERE") {
		s.q.HasWhere = true
		s.q.whereStart = s.pos
		hasOr, err := s.parseCondition(false)
		if err != nil {
			return err
		}
		s.q.whereHasOr = hasOr
	}
	s.q.whereEnd = s.pos

	if s.acceptKeyword("GROUP") {
		if err := s.expectKeyword("BY"); err != nil {
			return err
		}
		s.q.Aggregate = true
		if err := s.parseExprList(); err != nil {
			return err
		}
	}
	if s.acceptKeyword("HAVING") {
		start := len(s.q.Filters)
		if _, err := s.parseCondition(false); err != nil {
			return err
		}
		// HAVING filters groups, not the scan
		s.q.Filters = s.q.Filters[:start]
	}
	if s.acceptKeyword("ORDER") {
		if err := s.expectKeyword("BY"); err != nil {
			return err
		}
		if err := s.parseExprList(); err != nil {
			return err
		}
	}
	if s.acceptKeyword("LIMIT") {
		t := s.next()
		if t.kind != tokNumber {
			return fmt.Errorf("invalid LIMIT value %q", t.text)
		}
		n, err := strconv.Atoi(t.text)
		if err != nil || n < 0 {
			return fmt.Errorf("invalid LIMIT value %q", t.text)
		}
		s.q.Limit = n
		if s.acceptKeyword("OFFSET") {
			if t := s.next(); t.kind != tokNumber {
				return fmt.Errorf("invalid OFFSET value %q", t.text)
			}
		}
	}

	if !s.eof() {
		return fmt.Errorf("unexpected %q", s.peek().text)
	}
	return nil
}

func (s *parseState) parseJoinKeyword() (string, bool) {
	start := s.pos
	joinType := "INNER"
	switch {
	case s.acceptKeyword("INNER"):
	case s.acceptKeyword("LEFT"):
		joinType = "LEFT"
		s.acceptKeyword("OUTER")
	case s.acceptKeyword("RIGHT"):
		joinType = "RIGHT"
		s.acceptKeyword("OUTER")
	case s.acceptKeyword("FULL"):
		joinType = "FULL"
		s.acceptKeyword("OUTER")
	case s.acceptKeyword("CROSS"):
		joinType = "CROSS"
	}
	if s.acceptKeyword("JOIN") {
		return joinType, true
	}
	s.pos = start
	return "", false
}

// parseTableRef parses `name [AS] [alias]`. joinType is empty for the
// first FROM table.
func (s *parseState) parseTableRef(joinType string) error {
	if s.peek().is(tokPunct, "(") {
		return fmt.Errorf("subqueries are not supported")
	}
	t := s.next()
	if t.kind != tokIdent {
		return fmt.Errorf("expected table name near %q", t.text)
	}
	name := t.text
	for s.peek().is(tokPunct, ".") && s.peekAt(1).kind == tokIdent {
		s.pos++
		name += "." + s.next().text
	}

	s.acceptKeyword("AS")
	if s.peek().kind == tokIdent {
		s.aliases[s.next().text] = name
	}
	s.aliases[name] = name
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		s.aliases[name[i+1:]] = name
	}

	s.q.Tables = append(s.q.Tables, name)
	if joinType != "" {
		s.q.HasJoin = true
		s.q.Joins = append(s.q.Joins, Join{Table: name, Type: joinType})
	}
	return nil
}

// =============================================================================
// PROJECTION AND EXPRESSION LISTS
// =============================================================================

func (s *parseState) parseProjection() error {
	for {
		if s.peek().kind == tokStar {
			s.pos++
			s.q.SelectAll = true
			s.q.HasWildcard = true
		} else if err := s.parseValueExpr(); err != nil {
			return err
		}

		if s.acceptKeyword("AS") {
			if t := s.next(); t.kind != tokIdent {
				return fmt.Errorf("expected alias after AS")
			}
		} else if s.peek().kind == tokIdent {
			s.pos++ // bare alias
		}

		if !s.acceptPunct(",") {
			return nil
		}
	}
}

func (s *parseState) parseExprList() error {
	for {
		if err := s.parseValueExpr(); err != nil {
			return err
		}
		s.acceptKeyword("ASC", "DESC")
		if !s.acceptPunct(",") {
			return nil
		}
	}
}

// operand is the result of parsing one side of a comparison.
type operand struct {
	kind      tokenKind // tokIdent for column refs
	qualifier string
	name      string
	value     string
	isFunc    bool
}

// parseValueExpr parses a column, literal or function call, recording any
// fields it references.
func (s *parseState) parseValueExpr() error {
	_, err := s.parseOperand()
	return err
}

func (s *parseState) parseOperand() (operand, error) {
	t := s.next()
	switch t.kind {
	case tokIdent:
		if s.peek().is(tokPunct, "(") {
			return s.parseCall(t.text)
		}
		op := operand{kind: tokIdent, name: t.text}
		if s.peek().is(tokPunct, ".") {
			s.pos++
			nt := s.next()
			switch nt.kind {
			case tokIdent:
				op.qualifier, op.name = t.text, nt.text
			case tokStar:
				s.q.SelectAll = true
				s.q.HasWildcard = true
				return operand{kind: tokStar}, nil
			default:
				return operand{}, fmt.Errorf("unexpected %q after %s.", nt.text, t.text)
			}
		}
		s.addField(op.qualifier, op.name, -1)
		return op, nil
	case tokString, tokNumber, tokParam:
		return operand{kind: t.kind, value: t.text}, nil
	case tokKeyword:
		if t.keyword("NULL", "TRUE", "FALSE") {
			return operand{kind: tokKeyword, value: t.text}, nil
		}
	case tokStar:
		return operand{kind: tokStar}, nil
	}
	return operand{}, fmt.Errorf("unexpected %q", t.text)
}

var aggregateFuncs = map[string]bool{
	"count": true, "sum": true, "avg": true, "min": true, "max": true,
	"approx_count_distinct": true, "uniq": true,
}

func (s *parseState) parseCall(name string) (operand, error) {
	s.pos++ // (
	if aggregateFuncs[name] {
		s.q.Aggregate = true
	}
	s.acceptKeyword("DISTINCT")
	if s.acceptPunct(")") {
		return operand{kind: tokIdent, isFunc: true, name: name}, nil
	}
	for {
		if _, err := s.parseOperand(); err != nil {
			return operand{}, err
		}
		if s.acceptPunct(")") {
			return operand{kind: tokIdent, isFunc: true, name: name}, nil
		}
		if !s.acceptPunct(",") {
			return operand{}, fmt.Errorf("unterminated call to %s", name)
		}
	}
}

// =============================================================================
// CONDITIONS
// =============================================================================

// parseCondition parses a boolean condition and reports whether it has a
// top-level OR. Time bounds found inside a disjunction are discarded since
// no single branch constrains every row.
func (s *parseState) parseCondition(join bool) (bool, error) {
	start := len(s.q.Filters)
	hasOr := false
	for {
		if err := s.parseTerm(join); err != nil {
			return false, err
		}
		if s.acceptKeyword("AND") {
			continue
		}
		if s.acceptKeyword("OR") {
			hasOr = true
			continue
		}
		if hasOr {
			s.q.Filters = s.q.Filters[:start]
		}
		return hasOr, nil
	}
}

func (s *parseState) parseTerm(join bool) error {
	if s.acceptKeyword("NOT") {
		start := len(s.q.Filters)
		err := s.parseTerm(join)
		s.q.Filters = s.q.Filters[:start]
		return err
	}
	if s.peek().is(tokPunct, "(") {
		s.pos++
		if _, err := s.parseCondition(join); err != nil {
			return err
		}
		if !s.acceptPunct(")") {
			return fmt.Errorf("unbalanced parentheses")
		}
		return nil
	}
	return s.parsePredicate(join)
}

func (s *parseState) parsePredicate(join bool) error {
	left, err := s.parseOperand()
	if err != nil {
		return err
	}

	negated := s.acceptKeyword("NOT")
	t := s.peek()

	var (
		op    Operator
		right operand
	)
	switch {
	case t.kind == tokOp:
		if negated {
			return fmt.Errorf("unexpected NOT before %s", t.text)
		}
		s.pos++
		op = Operator(t.text)
		if right, err = s.parseOperand(); err != nil {
			return err
		}
	case t.keyword("LIKE", "ILIKE"):
		s.pos++
		op = OpLike
		if negated {
			op = OpNotLike
		}
		if right, err = s.parseOperand(); err != nil {
			return err
		}
	case t.keyword("IN"):
		s.pos++
		op = OpIn
		if negated {
			op = OpNotIn
		}
		if !s.acceptPunct("(") {
			return fmt.Errorf("expected ( after IN")
		}
		if s.peek().keyword("SELECT") {
			return fmt.Errorf("subqueries are not supported")
		}
		var values []string
		for {
			v, err := s.parseOperand()
			if err != nil {
				return err
			}
			values = append(values, v.value)
			if s.acceptPunct(")") {
				break
			}
			if !s.acceptPunct(",") {
				return fmt.Errorf("unterminated IN list")
			}
		}
		right = operand{kind: tokString, value: strings.Join(values, ",")}
	case t.keyword("BETWEEN"):
		s.pos++
		op = OpBetween
		if negated {
			op = OpNotBetween
		}
		lo, err := s.parseOperand()
		if err != nil {
			return err
		}
		if err := s.expectKeyword("AND"); err != nil {
			return err
		}
		hi, err := s.parseOperand()
		if err != nil {
			return err
		}
		right = operand{kind: tokString, value: lo.value + ".." + hi.value}
	case t.keyword("IS"):
		s.pos++
		op = OpIsNull
		if s.acceptKeyword("NOT") {
			op = OpIsNotNull
		}
		if err := s.expectKeyword("NULL"); err != nil {
			return err
		}
		right = operand{kind: tokKeyword, value: "NULL"}
	default:
		if negated {
			return fmt.Errorf("unexpected NOT")
		}
		// bare boolean column or function
		return nil
	}

	// normalize `5 = id` to `id = 5`
	if !isColumn(left) && isColumn(right) {
		left, right = right, left
		op = flip(op)
	}
	if !isColumn(left) {
		return nil
	}

	pred := Predicate{
		Field:    left.name,
		Operator: op,
		Value:    right.value,
		Join:     join,
	}
	switch {
	case isColumn(right):
		pred.Operand = OperandColumn
		pred.Value = right.name
	case right.kind == tokString && (op == OpEq || op == OpLike || op == OpNeq || op == OpNotLike) && hasWildcard(right.value):
		pred.Operand = OperandWildcard
		pred.LeadingWildcard = strings.HasPrefix(right.value, "%") || strings.HasPrefix(right.value, "*")
		s.q.HasWildcard = true
	case op.IsRange():
		pred.Operand = OperandRange
	default:
		pred.Operand = OperandLiteral
	}

	s.q.Predicates = append(s.q.Predicates, pred)
	idx := len(s.q.Predicates) - 1
	s.addField(left.qualifier, left.name, idx)

	if !join && s.parser.IsTimeField(pred.Field) && isBound(pred) {
		s.q.Filters = append(s.q.Filters, Filter{Field: pred.Field, Operator: pred.Operator, Value: pred.Value})
	}
	return nil
}

func isColumn(o operand) bool {
	return o.kind == tokIdent && !o.isFunc
}

func hasWildcard(v string) bool {
	return strings.ContainsAny(v, "%*")
}

// isBound reports whether a predicate on a time field limits the scanned range.
func isBound(p Predicate) bool {
	if p.Operand != OperandLiteral && p.Operand != OperandRange {
		return false
	}
	switch p.Operator {
	case OpEq, OpIn, OpBetween, OpLt, OpLte, OpGt, OpGte:
		return true
	}
	return false
}

func flip(op Operator) Operator {
	switch op {
	case OpLt:
		return OpGt
	case OpLte:
		return OpGte
	case OpGt:
		return OpLt
	case OpGte:
		return OpLte
	}
	return op
}

// =============================================================================
// FIELD RESOLUTION
// =============================================================================

// addField records a field reference. predIdx links it to a predicate whose
// table must be resolved once all aliases are known.
func (s *parseState) addField(qualifier, name string, predIdx int) {
	s.pending = append(s.pending, &pendingRef{qualifier: qualifier, fieldIdx: -1, predIdx: predIdx})
	p := s.pending[len(s.pending)-1]
	ref := FieldRef{Name: name, Table: qualifier}
	if !s.seenFields[ref] {
		s.seenFields[ref] = true
		s.q.Fields = append(s.q.Fields, ref)
		p.fieldIdx = len(s.q.Fields) - 1
	}
}

// resolve rewrites qualifiers to table names once the FROM clause is known.
func (s *parseState) resolve() {
	single := ""
	if len(s.q.Tables) == 1 {
		single = s.q.Tables[0]
	}
	table := func(qualifier string) string {
		if qualifier == "" {
			return single
		}
		if t, ok := s.aliases[qualifier]; ok {
			return t
		}
		return qualifier
	}

	for _, p := range s.pending {
		if p.fieldIdx >= 0 {
			s.q.Fields[p.fieldIdx].Table = table(p.qualifier)
		}
		if p.predIdx >= 0 {
			s.q.Predicates[p.predIdx].Table = table(p.qualifier)
		}
	}

	// aliases can make two refs identical after resolution
	seen := make(map[FieldRef]bool, len(s.q.Fields))
	fields := s.q.Fields[:0]
	for _, f := range s.q.Fields {
		if seen[f] {
			continue
		}
		seen[f] = true
		fields = append(fields, f)
	}
	s.q.Fields = fields
	s.pending = nil
}
