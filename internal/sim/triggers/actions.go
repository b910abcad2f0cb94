package triggers

import (
	"fmt"
	"math"

	"statecraft.ai/internal/sim/audit"
	"statecraft.ai/internal/sim/mathx"
	"statecraft.ai/internal/sim/state"
)

// Apply runs one trigger's actions in fixed order: patches, overrides,
// network rewrites, then event injections. Invalid actions are skipped and
// returned as ValidationErrors; the remaining actions still apply.
func Apply(g *state.GlobalState, tr Trigger, rec *audit.Recorder) []error {
	var errs []error
	for i, p := range tr.Action.Patches {
		if err := applyPatch(g, tr.Name, p, rec); err != nil {
			errs = append(errs, &ValidationError{Trigger: tr.Name, Action: fmt.Sprintf("patches[%d]", i), Reason: "patch rejected", Err: err})
		}
	}
	for i, o := range tr.Action.Overrides {
		if err := applyOverride(g, tr.Name, o, rec); err != nil {
			errs = append(errs, &ValidationError{Trigger: tr.Name, Action: fmt.Sprintf("overrides[%d]", i), Reason: "override rejected", Err: err})
		}
	}
	for i, nr := range tr.Action.NetworkRewrites {
		if err := applyRewrite(g, tr.Name, nr, rec); err != nil {
			errs = append(errs, &ValidationError{Trigger: tr.Name, Action: fmt.Sprintf("network_rewrites[%d]", i), Reason: "rewrite rejected", Err: err})
		}
	}
	for i, ev := range tr.Action.Events {
		if err := injectEvent(g, tr.Name, ev, rec); err != nil {
			errs = append(errs, &ValidationError{Trigger: tr.Name, Action: fmt.Sprintf("events[%d]", i), Reason: "event rejected", Err: err})
		}
	}
	return errs
}

func applyPatch(g *state.GlobalState, trigger string, p PolicyPatch, rec *audit.Recorder) error {
	ref, err := g.Resolve(p.Path)
	if err != nil {
		return err
	}
	old := ref.Get()
	next := p.Value
	switch p.Op {
	case OpSet, "":
	case OpAdd, OpMul:
		if ref.Kind != state.KindNumber && ref.Kind != state.KindInt {
			return fmt.Errorf("%s needs a numeric field, %s is %s", p.Op, p.Path, ref.Kind)
		}
		cur, _ := ref.Float()
		v, ok := state.ToFloat(p.Value)
		if !ok {
			return fmt.Errorf("%s value must be a number, got %T", p.Op, p.Value)
		}
		if p.Op == OpAdd {
			next = cur + v
		} else {
			next = cur * v
		}
	default:
		return fmt.Errorf("unknown op %q", p.Op)
	}
	if err := ref.Set(next); err != nil {
		return err
	}
	rec.AddReducer(audit.SourcePolicyPatch)
	rec.CaptureFieldChange(p.Path, old, ref.Get(), audit.SourcePolicyPatch,
		audit.Params{"trigger": trigger, "op": string(opOrSet(p.Op))},
		audit.Params{"operand": p.Value})
	return nil
}

func opOrSet(op PatchOp) PatchOp {
	if op == "" {
		return OpSet
	}
	return op
}

func applyOverride(g *state.GlobalState, trigger string, o ReducerOverride, rec *audit.Recorder) error {
	ov, err := state.ParseOverride(o.Target, o.ImplName)
	if err != nil {
		return err
	}
	prev := ov.Apply(&g.Rules)
	rec.AddReducer(audit.SourceReducerOverride)
	rec.CaptureFieldChange("rules.active_impls."+o.Target, prev, ov.Impl, audit.SourceReducerOverride,
		audit.Params{"trigger": trigger}, nil)
	return nil
}

// applyRewrite validates every edit before touching the layer, so a rewrite
// applies whole or not at all.
func applyRewrite(g *state.GlobalState, trigger string, nr NetworkRewrite, rec *audit.Recorder) error {
	countryLayer := nr.Layer != "io"
	for i, e := range nr.Edits {
		if e.From == "" || e.To == "" {
			return fmt.Errorf("edit %d: from and to are required", i)
		}
		if !mathx.Finite(e.Weight) {
			return fmt.Errorf("edit %d: weight must be finite", i)
		}
		if e.Weight < 0 && state.NonNegativeLayer(nr.Layer) {
			return fmt.Errorf("edit %d: %s weight must not be negative", i, nr.Layer)
		}
		if countryLayer {
			if g.Countries[e.From] == nil || g.Countries[e.To] == nil {
				return fmt.Errorf("edit %d: unknown country in %s->%s", i, e.From, e.To)
			}
		}
	}
	m, ok := g.Layer(nr.Layer)
	if !ok {
		return fmt.Errorf("unknown network layer %q", nr.Layer)
	}
	rec.AddReducer(audit.SourceNetworkRewrite)
	for _, e := range nr.Edits {
		old := m.Weight(e.From, e.To)
		m.Set(e.From, e.To, e.Weight)
		if old != e.Weight {
			rec.CaptureFieldChange(nr.Layer+"."+e.From+"."+e.To, old, e.Weight, audit.SourceNetworkRewrite,
				audit.Params{"trigger": trigger}, nil)
		}
	}
	return nil
}

func injectEvent(g *state.GlobalState, trigger string, ev EventInject, rec *audit.Recorder) error {
	if ev.Kind == "" {
		return fmt.Errorf("event kind is required")
	}
	payload := make(map[string]any, len(ev.Payload))
	for k, v := range ev.Payload {
		switch x := v.(type) {
		case nil, bool, string:
			payload[k] = x
		default:
			f, ok := state.ToFloat(v)
			if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
				return fmt.Errorf("payload.%s must be a JSON primitive, got %T", k, v)
			}
			payload[k] = f
		}
	}
	before := len(g.Events.Pending)
	g.Events.Pending = append(g.Events.Pending, state.Event{Kind: ev.Kind, Payload: payload, Turn: g.T})
	rec.AddReducer(audit.SourceEventInjection)
	rec.CaptureFieldChange("events.pending", before, len(g.Events.Pending), audit.SourceEventInjection,
		audit.Params{"trigger": trigger}, audit.Params{"kind": ev.Kind})
	return nil
}
