package query

import "strconv"

// WithLowerBound returns the normalized query with `field >= param` added to
// its WHERE clause. An existing condition with a top-level OR is
// parenthesized first so the bound applies to every branch.
func (q *Query) WithLowerBound(field, param string) string {
	bound := []token{
		{kind: tokIdent, text: field},
		{kind: tokOp, text: string(OpGte)},
		{kind: tokParam, text: param},
	}

	out := make([]token, 0, len(q.tokens)+len(bound)+4)
	if q.HasWhere {
		out = append(out, q.tokens[:q.whereStart]...)
		cond := q.tokens[q.whereStart:q.whereEnd]
		if q.whereHasOr {
			out = append(out, token{kind: tokPunct, text: "("})
			out = append(out, cond...)
			out = append(out, token{kind: tokPunct, text: ")"})
		} else {
			out = append(out, cond...)
		}
		out = append(out, token{kind: tokKeyword, text: "AND"})
	} else {
		out = append(out, q.tokens[:q.whereEnd]...)
		out = append(out, token{kind: tokKeyword, text: "WHERE"})
	}
	out = append(out, bound...)
	out = append(out, q.tokens[q.whereEnd:]...)
	return render(out)
}

// WithLimit returns the normalized query with a LIMIT clause appended. A
// query that already has a LIMIT is returned unchanged.
func (q *Query) WithLimit(n int) string {
	if q.Limit >= 0 {
		return q.Normalized()
	}
	out := make([]token, 0, len(q.tokens)+2)
	out = append(out, q.tokens...)
	out = append(out,
		token{kind: tokKeyword, text: "LIMIT"},
		token{kind: tokNumber, text: strconv.Itoa(n)},
	)
	return render(out)
}
