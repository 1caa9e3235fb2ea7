package query

import (
	"fmt"
	"strings"
)

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokKeyword
	tokString
	tokNumber
	tokParam
	tokOp
	tokPunct
	tokStar
)

type token struct {
	kind tokenKind
	text string // normalized text; string literals without quotes
}

func (t token) is(kind tokenKind, text string) bool {
	return t.kind == kind && t.text == text
}

func (t token) keyword(words ...string) bool {
	if t.kind != tokKeyword {
		return false
	}
	for _, w := range words {
		if t.text == w {
			return true
		}
	}
	return false
}

var keywords = map[string]bool{
	"SELECT": true, "DISTINCT": true, "FROM": true, "WHERE": true,
	"AND": true, "OR": true, "NOT": true, "AS": true, "ON": true,
	"JOIN": true, "INNER": true, "LEFT": true, "RIGHT": true, "FULL": true,
	"OUTER": true, "CROSS": true, "GROUP": true, "ORDER": true, "BY": true,
	"HAVING": true, "LIMIT": true, "OFFSET": true, "LIKE": true, "ILIKE": true,
	"IN": true, "BETWEEN": true, "IS": true, "NULL": true, "ASC": true,
	"DESC": true, "TRUE": true, "FALSE": true,
}

// lex splits text into tokens, normalizing case and whitespace.
func lex(text string) ([]token, error) {
	var toks []token
	s := strings.TrimSpace(text)
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++

		case c == ';':
			// only a trailing terminator is accepted
			if strings.TrimSpace(s[i+1:]) != "" {
				return nil, fmt.Errorf("multiple statements are not supported")
			}
			i = len(s)

		case c == '-' && i+1 < len(s) && s[i+1] == '-':
			for i < len(s) && s[i] != '\n' {
				i++
			}

		case isIdentStart(c):
			j := i
			for j < len(s) && isIdentPart(s[j]) {
				j++
			}
			word := s[i:j]
			if up := strings.ToUpper(word); keywords[up] {
				toks = append(toks, token{kind: tokKeyword, text: up})
			} else {
				toks = append(toks, token{kind: tokIdent, text: strings.ToLower(word)})
			}
			i = j

		case c == '"' || c == '`':
			end := strings.IndexByte(s[i+1:], c)
			if end < 0 {
				return nil, fmt.Errorf("unterminated quoted identifier")
			}
			toks = append(toks, token{kind: tokIdent, text: strings.ToLower(s[i+1 : i+1+end])})
			i += end + 2

		case c == '\'':
			var b strings.Builder
			j := i + 1
			closed := false
			for j < len(s) {
				if s[j] == '\'' {
					if j+1 < len(s) && s[j+1] == '\'' {
						b.WriteByte('\'')
						j += 2
						continue
					}
					closed = true
					j++
					break
				}
				b.WriteByte(s[j])
				j++
			}
			if !closed {
				return nil, fmt.Errorf("unterminated string literal")
			}
			toks = append(toks, token{kind: tokString, text: b.String()})
			i = j

		case isDigit(c) || (c == '-' && i+1 < len(s) && isDigit(s[i+1]) && expectsOperand(toks)):
			j := i + 1
			for j < len(s) && (isDigit(s[j]) || s[j] == '.') {
				j++
			}
			toks = append(toks, token{kind: tokNumber, text: s[i:j]})
			i = j

		case c == ':' || c == '$' || c == '?':
			j := i + 1
			for j < len(s) && isIdentPart(s[j]) {
				j++
			}
			toks = append(toks, token{kind: tokParam, text: s[i:j]})
			i = j

		case c == '*':
			toks = append(toks, token{kind: tokStar, text: "*"})
			i++

		case c == '(' || c == ')' || c == ',' || c == '.':
			toks = append(toks, token{kind: tokPunct, text: string(c)})
			i++

		case c == '=':
			toks = append(toks, token{kind: tokOp, text: "="})
			i++

		case c == '!' || c == '<' || c == '>':
			if i+1 < len(s) && (s[i+1] == '=' || (c == '<' && s[i+1] == '>')) {
				op := s[i : i+2]
				if op == "<>" {
					op = "!="
				}
				toks = append(toks, token{kind: tokOp, text: op})
				i += 2
				continue
			}
			if c == '!' {
				return nil, fmt.Errorf("unexpected character %q", c)
			}
			toks = append(toks, token{kind: tokOp, text: string(c)})
			i++

		default:
			return nil, fmt.Errorf("unexpected character %q", c)
		}
	}
	return toks, nil
}

// expectsOperand reports whether a '-' at this point starts a negative number.
func expectsOperand(toks []token) bool {
	if len(toks) == 0 {
		return true
	}
	prev := toks[len(toks)-1]
	switch prev.kind {
	case tokOp, tokKeyword:
		return true
	case tokPunct:
		return prev.text == "(" || prev.text == ","
	}
	return false
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// render joins tokens back into normalized text.
func render(toks []token) string {
	var b strings.Builder
	for i, t := range toks {
		if i > 0 && needsSpace(toks[i-1], t) {
			b.WriteByte(' ')
		}
		if t.kind == tokString {
			b.WriteByte('\'')
			b.WriteString(strings.ReplaceAll(t.text, "'", "''"))
			b.WriteByte('\'')
			continue
		}
		b.WriteString(t.text)
	}
	return b.String()
}

func needsSpace(prev, cur token) bool {
	if cur.kind == tokPunct && (cur.text == "," || cur.text == ")" || cur.text == ".") {
		return false
	}
	if prev.kind == tokPunct && (prev.text == "(" || prev.text == ".") {
		return false
	}
	// function call: count(, max(
	if cur.is(tokPunct, "(") && prev.kind == tokIdent {
		return false
	}
	return true
}
