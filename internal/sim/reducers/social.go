package reducers

import (
	"math"

	"statecraft.ai/internal/sim/audit"
	"statecraft.ai/internal/sim/mathx"
	"statecraft.ai/internal/sim/state"
)

// PressureSignal maps media tone and search salience into [0,1]. Only
// negative tone adds pressure; tone is on a -10..10 scale.
func PressureSignal(s state.SentimentState) float64 {
	return mathx.Clamp01(0.5*math.Max(-s.GdeltTone, 0)/10 + 0.5*s.TrendsSalience)
}

// BeliefDiffusion runs one DeGroot round over the alliance graph. Each
// country first decays its previous pressure toward its own signal, then
// mixes in the row-normalised average of its allies' raw values.
func BeliefDiffusion(g *state.GlobalState, env WorldEnv, rec *audit.Recorder) error {
	sr := g.Rules.Regimes.Sentiment
	decay, weight := sr.PressureDecay, sr.DiffusionWeight
	codes := g.CountryCodes()

	raw := make(map[string]float64, len(codes))
	for _, code := range codes {
		if c := g.Countries[code]; c != nil {
			raw[code] = decay*c.Sentiment.PolicyPressure + (1-decay)*PressureSignal(c.Sentiment)
		}
	}

	w := newWriter(rec, string(state.ReducerBeliefDiffusion), audit.Params{"pressure_decay": decay, "diffusion_weight": weight})
	for _, code := range codes {
		c := g.Countries[code]
		if c == nil {
			continue
		}
		total := 0.0
		neighbour := 0.0
		for _, to := range g.Alliance.Targets(code) {
			if to == code {
				continue
			}
			r, ok := raw[to]
			if !ok {
				continue
			}
			wt := g.Alliance.Weight(code, to)
			total += wt
			neighbour += wt * r
		}
		next := raw[code]
		if total > 0 {
			neighbour /= total
			next = (1-weight)*raw[code] + weight*neighbour
		}
		next = mathx.Clamp01(next)
		if err := w.set(code, "sentiment.policy_pressure", &c.Sentiment.PolicyPressure, next, audit.Params{
			"signal":        PressureSignal(c.Sentiment),
			"raw":           raw[code],
			"neighbour_avg": neighbour,
			"alliance_mass": total,
		}); err != nil {
			return err
		}
	}
	return nil
}

// UnrestHazard is a self-exciting intensity: last turn's conflict decays
// and is re-excited by pressure, excess inflation and excess unemployment.
func UnrestHazard(c *state.CountryState, env Env, rec *audit.Recorder) error {
	sr := env.Rules.Regimes.Sentiment
	base := env.Rules.Regimes.Labor.UnemploymentBaseline
	prev := c.Security.ConflictIntensity
	excessInfl := mathx.PosPart(c.Macro.Inflation - c.Macro.InflationTarget)
	excessU := mathx.PosPart(c.Macro.Unemployment - base)
	raw := sr.HawkesDecay*prev + sr.HawkesPressure*c.Sentiment.PolicyPressure + sr.HawkesInflation*excessInfl + sr.HawkesUnemployment*excessU
	w := newWriter(rec, string(state.ReducerUnrestHazard), audit.Params{
		"decay": sr.HawkesDecay, "a": sr.HawkesPressure, "b": sr.HawkesInflation, "c": sr.HawkesUnemployment,
	})
	return w.set(c.Code, "security.conflict_intensity", &c.Security.ConflictIntensity, mathx.Clamp01(raw), audit.Params{
		"previous":            prev,
		"policy_pressure":     c.Sentiment.PolicyPressure,
		"excess_inflation":    excessInfl,
		"excess_unemployment": excessU,
		"unclamped":           raw,
	})
}

// maxMilexGDP caps military spending as a share of GDP.
const maxMilexGDP = 0.5

// SecurityMobilization scales military spending and personnel with
// conflict intensity.
func SecurityMobilization(c *state.CountryState, env Env, rec *audit.Recorder) error {
	k := env.Rules.Regimes.Security.MobilizationIntensity
	growth := k * c.Security.ConflictIntensity
	if growth == 0 {
		return nil
	}
	s := &c.Security
	w := newWriter(rec, string(state.ReducerSecurityMobilization), audit.Params{"mobilization_intensity": k})
	details := audit.Params{"conflict_intensity": s.ConflictIntensity, "growth": growth}
	if err := w.set(c.Code, "security.milex_gdp", &s.MilexGDP, mathx.Clamp(s.MilexGDP*(1+growth), 0, maxMilexGDP), details); err != nil {
		return err
	}
	return w.set(c.Code, "security.personnel", &s.Personnel, math.Max(s.Personnel*(1+growth), 0), details)
}

// Approval drifts toward a neutral level shifted by propaganda and eroded
// by policy pressure.
func Approval(c *state.CountryState, env Env, rec *audit.Recorder) error {
	gain := env.Rules.Regimes.Sentiment.PropagandaGain
	s := &c.Sentiment
	anchor := 0.5 + gain - s.PolicyPressure
	next := mathx.Clamp01(0.9*s.Approval + 0.1*anchor)
	w := newWriter(rec, string(state.ReducerApproval), audit.Params{"propaganda_gain": gain})
	return w.set(c.Code, "sentiment.approval", &s.Approval, next, audit.Params{
		"anchor":          anchor,
		"policy_pressure": s.PolicyPressure,
	})
}
