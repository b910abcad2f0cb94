package triggers

import (
	"fmt"
	"strings"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokDate
	tokIdent
	tokString
	tokOp
	tokAnd
	tokOr
	tokNot
	tokLParen
	tokRParen
	tokDot
	tokMinus
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func (t token) String() string {
	if t.kind == tokEOF {
		return "end of input"
	}
	return fmt.Sprintf("%q", t.text)
}

func lex(src string) ([]token, error) {
	var out []token
	i := 0
	for i < len(src) {
		ch := src[i]
		switch {
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			i++
		case isDigit(ch):
			if isDateAt(src, i) {
				out = append(out, token{tokDate, src[i : i+10], i})
				i += 10
				continue
			}
			j := i
			for j < len(src) && isDigit(src[j]) {
				j++
			}
			if j < len(src) && src[j] == '.' {
				j++
				for j < len(src) && isDigit(src[j]) {
					j++
				}
			}
			if j < len(src) && (src[j] == 'e' || src[j] == 'E') {
				k := j + 1
				if k < len(src) && (src[k] == '+' || src[k] == '-') {
					k++
				}
				if k < len(src) && isDigit(src[k]) {
					for k < len(src) && isDigit(src[k]) {
						k++
					}
					j = k
				}
			}
			out = append(out, token{tokNumber, src[i:j], i})
			i = j
		case isIdentStart(ch):
			j := i
			for j < len(src) && isIdentPart(src[j]) {
				j++
			}
			out = append(out, token{tokIdent, src[i:j], i})
			i = j
		case ch == '\'' || ch == '"':
			end := strings.IndexByte(src[i+1:], ch)
			if end < 0 {
				return nil, &ParseError{Input: src, Pos: i, Reason: "unterminated string"}
			}
			out = append(out, token{tokString, src[i+1 : i+1+end], i})
			i += end + 2
		case ch == '&' || ch == '|':
			if i+1 >= len(src) || src[i+1] != ch {
				return nil, &ParseError{Input: src, Pos: i, Reason: fmt.Sprintf("expected %c%c", ch, ch)}
			}
			k := tokAnd
			if ch == '|' {
				k = tokOr
			}
			out = append(out, token{k, src[i : i+2], i})
			i += 2
		case ch == '>' || ch == '<' || ch == '=' || ch == '!':
			if i+1 < len(src) && src[i+1] == '=' {
				out = append(out, token{tokOp, src[i : i+2], i})
				i += 2
				continue
			}
			switch ch {
			case '>', '<':
				out = append(out, token{tokOp, src[i : i+1], i})
			case '!':
				out = append(out, token{tokNot, "!", i})
			default:
				return nil, &ParseError{Input: src, Pos: i, Reason: "single '=' is not an operator, use '=='"}
			}
			i++
		case ch == '(':
			out = append(out, token{tokLParen, "(", i})
			i++
		case ch == ')':
			out = append(out, token{tokRParen, ")", i})
			i++
		case ch == '.':
			out = append(out, token{tokDot, ".", i})
			i++
		case ch == '-':
			out = append(out, token{tokMinus, "-", i})
			i++
		default:
			return nil, &ParseError{Input: src, Pos: i, Reason: fmt.Sprintf("unexpected character %q", ch)}
		}
	}
	out = append(out, token{kind: tokEOF, pos: len(src)})
	return out, nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool { return isIdentStart(c) || isDigit(c) }

// isDateAt matches YYYY-MM-DD not followed by another digit.
func isDateAt(s string, i int) bool {
	if i+10 > len(s) {
		return false
	}
	d := s[i : i+10]
	for k := 0; k < 10; k++ {
		if k == 4 || k == 7 {
			if d[k] != '-' {
				return false
			}
			continue
		}
		if !isDigit(d[k]) {
			return false
		}
	}
	return i+10 == len(s) || !isIdentPart(s[i+10])
}
