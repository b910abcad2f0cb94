package triggers

import (
	"fmt"
	"strconv"
	"strings"

	"statecraft.ai/internal/sim/state"
)

const (
	MaxConditionBytes = 1024
	MaxConditionDepth = 32
)

// Program is a compiled condition.
type Program struct {
	Source string
	Root   Cond
}

func (p *Program) Eval(g *state.GlobalState) (bool, error) {
	return p.Root.Eval(g)
}

// Compile parses src into a typed AST. Field paths are checked against g's
// schema and date literals are converted with g's calendar, so a compiled
// program only fails at evaluation if the state changes shape.
func Compile(src string, g *state.GlobalState) (*Program, error) {
	if len(src) > MaxConditionBytes {
		return nil, &ParseError{Input: src, Pos: MaxConditionBytes, Reason: fmt.Sprintf("condition longer than %d bytes", MaxConditionBytes)}
	}
	if strings.TrimSpace(src) == "" {
		return nil, &ParseError{Input: src, Reason: "empty condition"}
	}
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{src: src, toks: toks, g: g}
	root, err := p.parseOr(0)
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, p.errorf(t, "unexpected %s", t)
	}
	return &Program{Source: src, Root: root}, nil
}

type parser struct {
	src  string
	toks []token
	i    int
	g    *state.GlobalState
}

func (p *parser) peek() token { return p.toks[p.i] }

func (p *parser) next() token {
	t := p.toks[p.i]
	if t.kind != tokEOF {
		p.i++
	}
	return t
}

func (p *parser) errorf(t token, format string, args ...any) error {
	return &ParseError{Input: p.src, Pos: t.pos, Reason: fmt.Sprintf(format, args...)}
}

func (p *parser) depthCheck(depth int) error {
	if depth > MaxConditionDepth {
		return p.errorf(p.peek(), "nesting deeper than %d", MaxConditionDepth)
	}
	return nil
}

func (p *parser) parseOr(depth int) (Cond, error) {
	if err := p.depthCheck(depth); err != nil {
		return nil, err
	}
	left, err := p.parseAnd(depth)
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOr {
		p.next()
		right, err := p.parseAnd(depth)
		if err != nil {
			return nil, err
		}
		left = Or{L: left, R: right}
	}
	return left, nil
}

func (p *parser) parseAnd(depth int) (Cond, error) {
	left, err := p.parseUnary(depth)
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokAnd {
		p.next()
		right, err := p.parseUnary(depth)
		if err != nil {
			return nil, err
		}
		left = And{L: left, R: right}
	}
	return left, nil
}

func (p *parser) parseUnary(depth int) (Cond, error) {
	if err := p.depthCheck(depth); err != nil {
		return nil, err
	}
	switch t := p.peek(); t.kind {
	case tokNot:
		p.next()
		x, err := p.parseUnary(depth + 1)
		if err != nil {
			return nil, err
		}
		return Not{X: x}, nil
	case tokLParen:
		p.next()
		x, err := p.parseOr(depth + 1)
		if err != nil {
			return nil, err
		}
		if r := p.next(); r.kind != tokRParen {
			return nil, p.errorf(r, "expected ')' but found %s", r)
		}
		return x, nil
	}
	return p.parseCompare()
}

func (p *parser) parseCompare() (Cond, error) {
	start := p.peek()
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	op := p.peek()
	if op.kind != tokOp {
		if left.Type() == typeBool {
			return Truthy{X: left}, nil
		}
		return nil, p.errorf(op, "expected comparison operator after %s", left)
	}
	p.next()
	right, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	if left.Type() != right.Type() {
		return nil, p.errorf(start, "cannot compare %s with %s", left.Type(), right.Type())
	}
	if left.Type() != typeNumber && op.text != "==" && op.text != "!=" {
		return nil, p.errorf(op, "operator %s needs numbers", op.text)
	}
	return Compare{Op: op.text, L: left, R: right}, nil
}

func (p *parser) parseOperand() (Operand, error) {
	t := p.next()
	switch t.kind {
	case tokMinus:
		n := p.next()
		if n.kind != tokNumber {
			return nil, p.errorf(n, "expected number after '-'")
		}
		v, err := p.number(n)
		if err != nil {
			return nil, err
		}
		return Number{V: -v}, nil
	case tokNumber:
		v, err := p.number(t)
		if err != nil {
			return nil, err
		}
		return Number{V: v}, nil
	case tokDate:
		turn, err := p.g.Rules.Calendar.TurnOf(t.text)
		if err != nil {
			return nil, p.errorf(t, "bad date: %v", err)
		}
		return DateLit{Date: t.text, Turn: turn}, nil
	case tokString:
		return Str{V: t.text}, nil
	case tokIdent:
		switch t.text {
		case "true", "false":
			return Bool{V: t.text == "true"}, nil
		case "t", "date":
			if p.peek().kind != tokDot {
				return Turn{Keyword: t.text}, nil
			}
		case "country":
			if p.peek().kind == tokLParen {
				return p.parseCountryRef(t)
			}
		}
		return p.parseFieldRef(t)
	}
	return nil, p.errorf(t, "expected operand but found %s", t)
}

func (p *parser) number(t token) (float64, error) {
	v, err := strconv.ParseFloat(t.text, 64)
	if err != nil {
		return 0, p.errorf(t, "bad number %q", t.text)
	}
	return v, nil
}

// parseCountryRef handles country('CODE').slice.field.
func (p *parser) parseCountryRef(start token) (Operand, error) {
	p.next()
	code := p.next()
	if code.kind != tokString || code.text == "" {
		return nil, p.errorf(code, "expected quoted country code")
	}
	if r := p.next(); r.kind != tokRParen {
		return nil, p.errorf(r, "expected ')' after country code")
	}
	var parts []string
	for i := 0; i < 2; i++ {
		if d := p.next(); d.kind != tokDot {
			return nil, p.errorf(d, "expected '.<slice>.<field>' after country(...)")
		}
		id := p.next()
		if id.kind != tokIdent {
			return nil, p.errorf(id, "expected identifier")
		}
		parts = append(parts, id.text)
	}
	return p.field(start, state.CountryPath(code.text, parts[0]+"."+parts[1]))
}

func (p *parser) parseFieldRef(first token) (Operand, error) {
	parts := []string{first.text}
	for p.peek().kind == tokDot {
		p.next()
		id := p.next()
		if id.kind != tokIdent {
			return nil, p.errorf(id, "expected identifier after '.'")
		}
		parts = append(parts, id.text)
	}
	return p.field(first, strings.Join(parts, "."))
}

func (p *parser) field(at token, path string) (Operand, error) {
	ref, err := p.g.Resolve(path)
	if err != nil {
		return nil, p.errorf(at, "%v", err)
	}
	var typ valueType
	switch ref.Kind {
	case state.KindNumber, state.KindInt:
		typ = typeNumber
	case state.KindBool:
		typ = typeBool
	default:
		typ = typeString
	}
	return FieldRef{Path: path, typ: typ}, nil
}
