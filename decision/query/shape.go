package query

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Shape returns a stable fingerprint of the query structure. Literal values
// are masked, so queries that differ only in constants share a shape and
// therefore share telemetry.
func Shape(m Model) string {
	var text string
	switch v := m.(type) {
	case *Query:
		text = render(masked(v.tokens))
	case *Unparsed:
		text = strings.Join(strings.Fields(strings.ToLower(v.Text)), " ")
	default:
		return ""
	}
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

func masked(toks []token) []token {
	out := make([]token, len(toks))
	for i, t := range toks {
		switch t.kind {
		case tokString, tokNumber:
			out[i] = token{kind: tokParam, text: "?"}
		default:
			out[i] = t
		}
	}
	return out
}
