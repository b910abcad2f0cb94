package triggers

import (
	"fmt"
	"strconv"

	"statecraft.ai/internal/sim/state"
)

type valueType int

const (
	typeNumber valueType = iota + 1
	typeBool
	typeString
)

func (t valueType) String() string {
	switch t {
	case typeNumber:
		return "number"
	case typeBool:
		return "bool"
	case typeString:
		return "string"
	}
	return "unknown"
}

// Operand is a typed leaf of a condition.
type Operand interface {
	Type() valueType
	Value(g *state.GlobalState) (any, error)
	String() string
}

// Cond is a boolean node of a condition.
type Cond interface {
	Eval(g *state.GlobalState) (bool, error)
	String() string
}

type Number struct{ V float64 }

func (Number) Type() valueType { return typeNumber }
func (n Number) Value(*state.GlobalState) (any, error) { return n.V, nil }
func (n Number) String() string { return strconv.FormatFloat(n.V, 'g', -1, 64) }

// DateLit is a calendar date already converted to a timestep.
type DateLit struct {
	Date string
	Turn int
}

func (DateLit) Type() valueType { return typeNumber }
func (d DateLit) Value(*state.GlobalState) (any, error) { return float64(d.Turn), nil }
func (d DateLit) String() string { return d.Date }

type Bool struct{ V bool }

func (Bool) Type() valueType { return typeBool }
func (b Bool) Value(*state.GlobalState) (any, error) { return b.V, nil }
func (b Bool) String() string { return strconv.FormatBool(b.V) }

type Str struct{ V string }

func (Str) Type() valueType { return typeString }
func (s Str) Value(*state.GlobalState) (any, error) { return s.V, nil }
func (s Str) String() string { return strconv.Quote(s.V) }

// Turn is the current timestep, spelled `t` or `date`.
type Turn struct{ Keyword string }

func (Turn) Type() valueType { return typeNumber }
func (Turn) Value(g *state.GlobalState) (any, error) {
	return float64(g.T), nil
}
func (t Turn) String() string { return t.Keyword }

// FieldRef reads a state path. Its type is fixed at compile time from the
// schema.
type FieldRef struct {
	Path string
	typ  valueType
}

func (f FieldRef) Type() valueType { return f.typ }

func (f FieldRef) Value(g *state.GlobalState) (any, error) {
	ref, err := g.Resolve(f.Path)
	if err != nil {
		return nil, err
	}
	v := ref.Get()
	if f.typ == typeNumber {
		n, ok := state.ToFloat(v)
		if !ok {
			return nil, fmt.Errorf("%s: not numeric", f.Path)
		}
		return n, nil
	}
	return v, nil
}

func (f FieldRef) String() string { return f.Path }

type Compare struct {
	Op   string
	L, R Operand
}

func (c Compare) Eval(g *state.GlobalState) (bool, error) {
	l, err := c.L.Value(g)
	if err != nil {
		return false, err
	}
	r, err := c.R.Value(g)
	if err != nil {
		return false, err
	}
	if c.L.Type() == typeNumber {
		a, b := l.(float64), r.(float64)
		switch c.Op {
		case ">":
			return a > b, nil
		case "<":
			return a < b, nil
		case ">=":
			return a >= b, nil
		case "<=":
			return a <= b, nil
		case "==":
			return a == b, nil
		case "!=":
			return a != b, nil
		}
		return false, fmt.Errorf("unknown operator %q", c.Op)
	}
	switch c.Op {
	case "==":
		return l == r, nil
	case "!=":
		return l != r, nil
	}
	return false, fmt.Errorf("operator %q needs numbers", c.Op)
}

func (c Compare) String() string {
	return fmt.Sprintf("(%s %s %s)", c.L, c.Op, c.R)
}

type And struct{ L, R Cond }

func (a And) Eval(g *state.GlobalState) (bool, error) {
	l, err := a.L.Eval(g)
	if err != nil || !l {
		return false, err
	}
	return a.R.Eval(g)
}

func (a And) String() string { return fmt.Sprintf("(%s && %s)", a.L, a.R) }

type Or struct{ L, R Cond }

func (o Or) Eval(g *state.GlobalState) (bool, error) {
	l, err := o.L.Eval(g)
	if err != nil {
		return false, err
	}
	if l {
		return true, nil
	}
	return o.R.Eval(g)
}

func (o Or) String() string { return fmt.Sprintf("(%s || %s)", o.L, o.R) }

type Not struct{ X Cond }

func (n Not) Eval(g *state.GlobalState) (bool, error) {
	v, err := n.X.Eval(g)
	return !v, err
}

func (n Not) String() string { return fmt.Sprintf("!%s", n.X) }

// Truthy lifts a bool operand into a condition.
type Truthy struct{ X Operand }

func (t Truthy) Eval(g *state.GlobalState) (bool, error) {
	v, err := t.X.Value(g)
	if err != nil {
		return false, err
	}
	b, _ := v.(bool)
	return b, nil
}

func (t Truthy) String() string { return t.X.String() }
