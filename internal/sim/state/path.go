package state

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"statecraft.ai/internal/sim/mathx"
)

type Kind int

const (
	KindNumber Kind = iota + 1
	KindInt
	KindString
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindInt:
		return "int"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	default:
		return "unknown"
	}
}

// PathError reports an unresolvable path or a rejected write.
type PathError struct {
	Path   string
	Reason string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("path %q: %s", e.Path, e.Reason)
}

// Ref is a typed handle on one addressable field of a GlobalState.
type Ref struct {
	Path string
	Kind Kind

	get func() any
	set func(v any) error
}

func (r Ref) Get() any { return r.get() }

// Float returns the value of a numeric field.
func (r Ref) Float() (float64, bool) {
	return ToFloat(r.get())
}

// Set writes v after checking its type and the field's bounds.
func (r Ref) Set(v any) error {
	if r.set == nil {
		return &PathError{Path: r.Path, Reason: "read-only"}
	}
	return r.set(v)
}

// ToFloat coerces JSON-ish numeric values.
func ToFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func toInt(v any) (int64, bool) {
	f, ok := ToFloat(v)
	if !ok || !mathx.Finite(f) || f != math.Trunc(f) {
		return 0, false
	}
	return int64(f), true
}

func (g *GlobalState) Get(path string) (any, error) {
	ref, err := g.Resolve(path)
	if err != nil {
		return nil, err
	}
	return ref.Get(), nil
}

func (g *GlobalState) Set(path string, v any) error {
	ref, err := g.Resolve(path)
	if err != nil {
		return err
	}
	return ref.Set(v)
}

// Resolve maps a dotted path to a typed field reference.
func (g *GlobalState) Resolve(path string) (Ref, error) {
	parts := strings.Split(path, ".")
	bad := func(reason string) (Ref, error) {
		return Ref{}, &PathError{Path: path, Reason: reason}
	}
	for _, p := range parts {
		if p == "" {
			return bad("empty segment")
		}
	}
	switch parts[0] {
	case "t":
		if len(parts) != 1 {
			return bad("t has no sub-fields")
		}
		return Ref{Path: path, Kind: KindInt,
			get: func() any { return g.T },
			set: func(v any) error {
				n, ok := toInt(v)
				if !ok || n < 0 {
					return &PathError{Path: path, Reason: fmt.Sprintf("want non-negative int, got %v", v)}
				}
				g.T = int(n)
				return nil
			}}, nil
	case "base_ccy":
		if len(parts) != 1 {
			return bad("base_ccy has no sub-fields")
		}
		return Ref{Path: path, Kind: KindString,
			get: func() any { return g.BaseCcy },
			set: func(v any) error {
				s, ok := v.(string)
				if !ok || s == "" {
					return &PathError{Path: path, Reason: fmt.Sprintf("want non-empty string, got %v", v)}
				}
				g.BaseCcy = s
				return nil
			}}, nil
	case "countries":
		return g.resolveCountry(path, parts)
	case "commodities":
		if len(parts) != 2 {
			return bad("want commodities.<NAME>")
		}
		name := parts[1]
		return numberRef(path,
			func() float64 { return g.Commodities[name] },
			func(f float64) {
				if g.Commodities == nil {
					g.Commodities = map[string]float64{}
				}
				g.Commodities[name] = f
			}, nonNeg), nil
	case "rules":
		return g.resolveRules(path, parts)
	case "events":
		if len(parts) != 2 {
			return bad("want events.<pending|processed>")
		}
		var q *[]Event
		switch parts[1] {
		case "pending":
			q = &g.Events.Pending
		case "processed":
			q = &g.Events.Processed
		default:
			return bad(fmt.Sprintf("unknown queue %q", parts[1]))
		}
		// Queue lengths are read-only; events are added through injections.
		return Ref{Path: path, Kind: KindInt, get: func() any { return len(*q) }}, nil
	}
	if m, ok := g.Layer(parts[0]); ok {
		if len(parts) != 3 {
			return bad("want <layer>.<FROM>.<TO>")
		}
		from, to := parts[1], parts[2]
		b := free
		if NonNegativeLayer(parts[0]) {
			b = nonNeg
		}
		return numberRef(path,
			func() float64 { return m.Weight(from, to) },
			func(f float64) { m.Set(from, to, f) }, b), nil
	}
	return bad("unknown root")
}

func (g *GlobalState) resolveCountry(path string, parts []string) (Ref, error) {
	if len(parts) != 4 {
		return Ref{}, &PathError{Path: path, Reason: "want countries.<CODE>.<slice>.<field>"}
	}
	c := g.Countries[parts[1]]
	if c == nil {
		return Ref{}, &PathError{Path: path, Reason: fmt.Sprintf("unknown country %q", parts[1])}
	}
	f := countryFieldIndex[parts[2]+"."+parts[3]]
	if f == nil {
		return Ref{}, &PathError{Path: path, Reason: fmt.Sprintf("unknown field %s.%s", parts[2], parts[3])}
	}
	ptr := f.ptr(c)
	b := f.b
	if f.slice == "external" && f.name == "reserves_usd" && !g.Rules.Invariants.BPM6 {
		// Without BPM6 settlement reserves may run negative.
		b = free
	}
	if f.band {
		p := g.Rules.Regimes.Prices
		b = bounds{lo: p.InflationMin, hi: p.InflationMax}
		if !g.Rules.Invariants.ClampInflation {
			b = free
		}
	}
	return numberRef(path, func() float64 { return *ptr }, func(v float64) { *ptr = v }, b), nil
}

func (g *GlobalState) resolveRules(path string, parts []string) (Ref, error) {
	bad := func(reason string) (Ref, error) {
		return Ref{}, &PathError{Path: path, Reason: reason}
	}
	if len(parts) < 2 {
		return bad("want rules.<section>")
	}
	r := &g.Rules
	switch parts[1] {
	case "rng_seed":
		if len(parts) != 2 {
			return bad("rng_seed has no sub-fields")
		}
		return Ref{Path: path, Kind: KindInt,
			get: func() any { return r.RNGSeed },
			set: func(v any) error {
				n, ok := toInt(v)
				if !ok {
					return &PathError{Path: path, Reason: fmt.Sprintf("want int, got %v", v)}
				}
				r.RNGSeed = n
				return nil
			}}, nil
	case "invariants":
		if len(parts) != 3 {
			return bad("want rules.invariants.<flag>")
		}
		var ptr *bool
		switch parts[2] {
		case "bpm6":
			ptr = &r.Invariants.BPM6
		case "clamp_inflation":
			ptr = &r.Invariants.ClampInflation
		default:
			return bad(fmt.Sprintf("unknown invariant %q", parts[2]))
		}
		return boolRef(path, ptr), nil
	case "calendar":
		if len(parts) != 3 {
			return bad("want rules.calendar.<epoch|frequency>")
		}
		switch parts[2] {
		case "epoch":
			return stringRef(path, &r.Calendar.Epoch, func(s string) bool {
				_, err := time.Parse(dateLayout, s)
				return err == nil
			}), nil
		case "frequency":
			return stringRef(path, &r.Calendar.Frequency, ValidFrequency), nil
		}
		return bad(fmt.Sprintf("unknown calendar field %q", parts[2]))
	case "active_impls":
		if len(parts) != 3 {
			return bad("want rules.active_impls.<reducer_type>")
		}
		target := parts[2]
		if _, ok := implCatalog[ReducerType(target)]; !ok {
			return bad(fmt.Sprintf("unknown reducer type %q", target))
		}
		return Ref{Path: path, Kind: KindString,
			get: func() any { return r.ActiveImpl(target) },
			set: func(v any) error {
				s, _ := v.(string)
				o, err := ParseOverride(target, s)
				if err != nil {
					return &PathError{Path: path, Reason: err.Error()}
				}
				o.Apply(r)
				return nil
			}}, nil
	case "regimes":
		if len(parts) != 4 {
			return bad("want rules.regimes.<domain>.<param>")
		}
		f, ok := regimeFields[parts[2]+"."+parts[3]]
		if !ok {
			return bad(fmt.Sprintf("unknown regime parameter %s.%s", parts[2], parts[3]))
		}
		switch {
		case f.num != nil:
			ptr := f.num(&r.Regimes)
			b := f.b
			// The inflation band must stay ordered.
			switch parts[2] + "." + parts[3] {
			case "prices.inflation_min":
				b.hi = r.Regimes.Prices.InflationMax
			case "prices.inflation_max":
				b.lo = r.Regimes.Prices.InflationMin
			}
			return numberRef(path, func() float64 { return *ptr }, func(v float64) { *ptr = v }, b), nil
		case f.flag != nil:
			return boolRef(path, f.flag(&r.Regimes)), nil
		default:
			oneOf := f.oneOf
			return stringRef(path, f.str(&r.Regimes), func(s string) bool {
				for _, o := range oneOf {
					if o == s {
						return true
					}
				}
				return false
			}), nil
		}
	}
	return bad(fmt.Sprintf("unknown rules section %q", parts[1]))
}

func numberRef(path string, get func() float64, set func(float64), b bounds) Ref {
	return Ref{Path: path, Kind: KindNumber,
		get: func() any { return get() },
		set: func(v any) error {
			f, ok := ToFloat(v)
			if !ok {
				return &PathError{Path: path, Reason: fmt.Sprintf("want number, got %T", v)}
			}
			if !b.allows(f) {
				return &PathError{Path: path, Reason: fmt.Sprintf("value %v out of bounds %s", f, b)}
			}
			set(f)
			return nil
		}}
}

func boolRef(path string, ptr *bool) Ref {
	return Ref{Path: path, Kind: KindBool,
		get: func() any { return *ptr },
		set: func(v any) error {
			b, ok := v.(bool)
			if !ok {
				return &PathError{Path: path, Reason: fmt.Sprintf("want bool, got %T", v)}
			}
			*ptr = b
			return nil
		}}
}

func stringRef(path string, ptr *string, valid func(string) bool) Ref {
	return Ref{Path: path, Kind: KindString,
		get: func() any { return *ptr },
		set: func(v any) error {
			s, ok := v.(string)
			if !ok {
				return &PathError{Path: path, Reason: fmt.Sprintf("want string, got %T", v)}
			}
			if valid != nil && !valid(s) {
				return &PathError{Path: path, Reason: fmt.Sprintf("invalid value %q", s)}
			}
			*ptr = s
			return nil
		}}
}

func (b bounds) String() string {
	lo := "["
	if b.loOpen {
		lo = "("
	}
	return lo + strconv.FormatFloat(b.lo, 'g', -1, 64) + ", " + strconv.FormatFloat(b.hi, 'g', -1, 64) + "]"
}

// CountryPath builds the dotted path of a country field.
func CountryPath(code, field string) string {
	return "countries." + code + "." + field
}
