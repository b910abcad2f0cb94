package reducers

import (
	"fmt"

	"statecraft.ai/internal/sim/audit"
	"statecraft.ai/internal/sim/mathx"
	"statecraft.ai/internal/sim/state"
)

// Event kinds the kernel understands.
const (
	EventDemandShock         = "demand_shock"
	EventCommodityPriceShock = "commodity_price_shock"
	EventUnrestSpike         = "unrest_spike"
)

// ProcessEvents drains the env.Due events that were pending when the turn
// began; anything queued since stays for the next turn. Demand shocks are
// staged in the scratch for output_gap; price shocks and unrest spikes
// apply at once. Unknown kinds and malformed payloads move to processed
// untouched, the latter with a validation error.
func ProcessEvents(g *state.GlobalState, env WorldEnv, rec *audit.Recorder) error {
	due := min(max(env.Due, 0), len(g.Events.Pending))
	pending := g.Events.Pending[:due]
	var rest []state.Event
	if due < len(g.Events.Pending) {
		rest = append(rest, g.Events.Pending[due:]...)
	}
	g.Events.Pending = rest
	w := newWriter(rec, EventProcessing, nil)
	for _, e := range pending {
		if err := applyEvent(g, env, w, e); err != nil {
			rec.AddError(audit.Error{
				Kind:    audit.KindValidation,
				Source:  EventProcessing,
				Message: err.Error(),
				Inputs:  audit.Params{"kind": e.Kind},
			})
		}
		g.Events.Processed = append(g.Events.Processed, e)
	}
	return nil
}

func applyEvent(g *state.GlobalState, env WorldEnv, w writer, e state.Event) error {
	switch e.Kind {
	case EventDemandShock:
		c, err := eventCountry(g, e)
		if err != nil {
			return err
		}
		size, err := eventNumber(e, "size")
		if err != nil {
			return err
		}
		if env.Scratch != nil {
			env.Scratch.Demand[c.Code] += size
		}
	case EventCommodityPriceShock:
		name, ok := e.Payload["commodity"].(string)
		if !ok || name == "" {
			return fmt.Errorf("%s: payload.commodity must be a non-empty string", e.Kind)
		}
		pct, err := eventNumber(e, "pct")
		if err != nil {
			return err
		}
		if g.Commodities == nil {
			g.Commodities = map[string]float64{}
		}
		price := g.Commodities[name]
		next := price * (1 + pct)
		if next < 0 {
			next = 0
		}
		if err := w.setPath("", "commodities."+name, &price, next, audit.Params{"event": e.Kind, "pct": pct}); err != nil {
			return err
		}
		g.Commodities[name] = price
	case EventUnrestSpike:
		c, err := eventCountry(g, e)
		if err != nil {
			return err
		}
		k, err := eventNumber(e, "intensity")
		if err != nil {
			return err
		}
		s := &c.Security
		return w.set(c.Code, "security.conflict_intensity", &s.ConflictIntensity, mathx.Clamp01(s.ConflictIntensity+k), audit.Params{"event": e.Kind, "intensity": k})
	}
	return nil
}

func eventCountry(g *state.GlobalState, e state.Event) (*state.CountryState, error) {
	code, ok := e.Payload["country"].(string)
	if !ok {
		return nil, fmt.Errorf("%s: payload.country must be a string", e.Kind)
	}
	c := g.Countries[code]
	if c == nil {
		return nil, fmt.Errorf("%s: unknown country %q", e.Kind, code)
	}
	return c, nil
}

func eventNumber(e state.Event, key string) (float64, error) {
	v, ok := state.ToFloat(e.Payload[key])
	if !ok || !mathx.Finite(v) {
		return 0, fmt.Errorf("%s: payload.%s must be a finite number", e.Kind, key)
	}
	return v, nil
}
