package reducers

import (
	"statecraft.ai/internal/sim/audit"
	"statecraft.ai/internal/sim/state"
)

// MonetaryPolicy moves the policy rate a partial step toward the target of
// the active rule. With hold_while_above_target the bank never cuts while
// inflation is above target.
func MonetaryPolicy(c *state.CountryState, env Env, rec *audit.Recorder) error {
	const name = string(state.ReducerMonetaryPolicy)
	m := env.Rules.Regimes.Monetary
	impl := env.Rules.MonetaryImplFor()
	mac := &c.Macro

	i, pi, target, gap, rstar := mac.PolicyRate, mac.Inflation, mac.InflationTarget, mac.OutputGap, mac.NeutralRate
	s := m.Smoothing

	params := audit.Params{"impl": string(impl), "smoothing": s}
	var tgt float64
	switch impl {
	case state.MonetaryFXPeg:
		if c.Code == env.BaseCountry {
			// The anchor has nothing to peg to and follows the Taylor rule.
			impl = state.MonetaryTaylor
			tgt = rstar + pi + m.PhiPi*(pi-target) + m.PhiY*gap
			params["phi_pi"], params["phi_y"] = m.PhiPi, m.PhiY
			break
		}
		var base *state.CountryState
		if env.World != nil {
			base = env.World.Countries[env.BaseCountry]
		}
		if base == nil {
			return fail(name, c.Code, "fx_peg needs a base country", audit.Params{"base_country": env.BaseCountry})
		}
		tgt = base.Macro.PolicyRate
		s = 1
		params["anchor"] = env.BaseCountry
	case state.MonetaryInflationTargeting:
		tgt = rstar + pi + m.StrictPhiPi*(pi-target)
		params["strict_phi_pi"] = m.StrictPhiPi
	case state.MonetaryNGDPTargeting:
		// Nominal growth gap: inflation gap plus output gap.
		tgt = rstar + pi + m.PhiPi*((pi-target)+gap)
		params["phi_pi"] = m.PhiPi
	default:
		tgt = rstar + pi + m.PhiPi*(pi-target) + m.PhiY*gap
		params["phi_pi"], params["phi_y"] = m.PhiPi, m.PhiY
	}

	next := (1-s)*i + s*tgt
	held := false
	if impl != state.MonetaryFXPeg && m.HoldWhileAboveTarget && pi > target && next < i {
		next = i
		held = true
	}
	return newWriter(rec, name, params).set(c.Code, "macro.policy_rate", &mac.PolicyRate, next, audit.Params{
		"rule":          string(impl),
		"target_rate":   tgt,
		"inflation_gap": pi - target,
		"output_gap":    gap,
		"neutral_rate":  rstar,
		"previous_rate": i,
		"held":          held,
	})
}

// SovereignYield reprices the sovereign curve off the new policy rate.
func SovereignYield(c *state.CountryState, env Env, rec *audit.Recorder) error {
	f := &c.Finance
	y := c.Macro.PolicyRate + f.CreditSpread
	return newWriter(rec, string(state.ReducerSovereignYield), nil).set(c.Code, "finance.sovereign_yield", &f.SovereignYield, y, audit.Params{
		"policy_rate":   c.Macro.PolicyRate,
		"credit_spread": f.CreditSpread,
	})
}
