package state

// Clone returns a deep copy that shares no maps or slices with g.
func (g *GlobalState) Clone() *GlobalState {
	if g == nil {
		return nil
	}
	out := &GlobalState{
		T:         g.T,
		BaseCcy:   g.BaseCcy,
		Trade:     g.Trade.Clone(),
		Interbank: g.Interbank.Clone(),
		Alliance:  g.Alliance.Clone(),
		Sanctions: g.Sanctions.Clone(),
		IO:        g.IO.Clone(),
		Rules:     g.Rules.Clone(),
		Events: EventQueue{
			Pending:   cloneEvents(g.Events.Pending),
			Processed: cloneEvents(g.Events.Processed),
		},
	}
	if g.Countries != nil {
		out.Countries = make(map[string]*CountryState, len(g.Countries))
		for code, c := range g.Countries {
			if c == nil {
				out.Countries[code] = nil
				continue
			}
			cp := *c
			out.Countries[code] = &cp
		}
	}
	if g.Commodities != nil {
		out.Commodities = make(map[string]float64, len(g.Commodities))
		for k, v := range g.Commodities {
			out.Commodities[k] = v
		}
	}
	return out
}

func (r SimulationRules) Clone() SimulationRules {
	out := r
	if r.ActiveImpls != nil {
		out.ActiveImpls = make(map[string]string, len(r.ActiveImpls))
		for k, v := range r.ActiveImpls {
			out.ActiveImpls[k] = v
		}
	}
	return out
}

func (e Event) Clone() Event {
	out := e
	if e.Payload != nil {
		out.Payload = make(map[string]any, len(e.Payload))
		for k, v := range e.Payload {
			out.Payload[k] = v
		}
	}
	return out
}

func cloneEvents(in []Event) []Event {
	if in == nil {
		return nil
	}
	out := make([]Event, len(in))
	for i, e := range in {
		out[i] = e.Clone()
	}
	return out
}
