package reducers

import (
	"statecraft.ai/internal/sim/audit"
	"statecraft.ai/internal/sim/mathx"
	"statecraft.ai/internal/sim/state"
)

// OutputGap blends the previous gap with the gap implied by this turn's
// demand shock. The shock combines the real-rate channel, trade partners'
// gaps, injected shocks and seeded noise.
func OutputGap(c *state.CountryState, env Env, rec *audit.Recorder) error {
	const name = string(state.ReducerOutputGap)
	r := env.Rules.Regimes.Macro
	mac := &c.Macro
	if mac.PotentialGDP <= 0 {
		return fail(name, c.Code, "potential_gdp must be positive", audit.Params{"potential_gdp": mac.PotentialGDP})
	}

	realRate := mac.PolicyRate - mac.Inflation - mac.NeutralRate
	rateShock := -r.ISSensitivity * realRate
	spill := r.TradeSpillover * partnerGap(env.World, c.Code)
	injected := 0.0
	if env.Scratch != nil {
		injected = env.Scratch.Demand[c.Code]
	}
	noise := 0.0
	if r.DemandNoise > 0 {
		noise = r.DemandNoise * mathx.Symmetric(env.Rules.RNGSeed, env.T, c.Code, "demand")
	}
	shock := rateShock + spill + injected + noise

	implied := (mac.GDP*(1+shock) - mac.PotentialGDP) / mac.PotentialGDP
	p := r.GapPersistence
	prev := mac.OutputGap
	next := p*prev + (1-p)*implied

	w := newWriter(rec, name, audit.Params{"gap_persistence": p, "is_sensitivity": r.ISSensitivity, "trade_spillover": r.TradeSpillover, "demand_noise": r.DemandNoise})
	if err := w.set(c.Code, "macro.output_gap", &mac.OutputGap, next, audit.Params{
		"real_rate_gap":  realRate,
		"rate_shock":     rateShock,
		"trade_spill":    spill,
		"injected_shock": injected,
		"noise":          noise,
		"demand_shock":   shock,
		"implied_gap":    implied,
	}); err != nil {
		return err
	}
	if env.Scratch != nil {
		env.Scratch.GapDelta[c.Code] = next - prev
	}
	return nil
}

// partnerGap is the trade-weighted mean output gap of code's partners.
func partnerGap(g *state.GlobalState, code string) float64 {
	if g == nil {
		return 0
	}
	total := g.Trade.RowSum(code)
	if total <= 0 {
		return 0
	}
	var sum float64
	for _, to := range g.Trade.Targets(code) {
		p := g.Countries[to]
		if to == code || p == nil {
			continue
		}
		sum += g.Trade.Weight(code, to) * p.Macro.OutputGap
	}
	return sum / total
}

// Inflation applies the Phillips curve of the active implementation and
// clamps the result to the inflation band.
func Inflation(c *state.CountryState, env Env, rec *audit.Recorder) error {
	p := env.Rules.Regimes.Prices
	impl := env.Rules.InflationImplFor()
	mac := &c.Macro

	var next float64
	switch impl {
	case state.InflationNKPC:
		next = p.NKPCBeta*mac.Inflation + p.NKPCKappa*mac.OutputGap
	default:
		next = mac.InflationTarget + p.NKPCBeta*(mac.Inflation-mac.InflationTarget) + p.NKPCKappa*mac.OutputGap
	}
	raw := next
	if env.Rules.Invariants.ClampInflation {
		next = mathx.Clamp(next, p.InflationMin, p.InflationMax)
	}
	w := newWriter(rec, string(state.ReducerInflation), audit.Params{"impl": string(impl), "beta": p.NKPCBeta, "kappa": p.NKPCKappa})
	return w.set(c.Code, "macro.inflation", &mac.Inflation, next, audit.Params{
		"output_gap":   mac.OutputGap,
		"target":       mac.InflationTarget,
		"unclamped":    raw,
		"band_min":     p.InflationMin,
		"band_max":     p.InflationMax,
		"band_applied": raw != next,
	})
}

// LaborMarket pulls unemployment toward its structural rate and applies
// Okun's law to this turn's gap change.
func LaborMarket(c *state.CountryState, env Env, rec *audit.Recorder) error {
	l := env.Rules.Regimes.Labor
	mac := &c.Macro
	dGap := 0.0
	if env.Scratch != nil {
		dGap = env.Scratch.GapDelta[c.Code]
	}
	structural := l.UnemploymentBaseline * (1 - l.NationalServiceShare)
	next := mathx.Clamp01(mac.Unemployment + l.Reversion*(structural-mac.Unemployment) - l.Okun*dGap)
	w := newWriter(rec, string(state.ReducerLaborMarket), audit.Params{"okun": l.Okun, "reversion": l.Reversion, "national_service_share": l.NationalServiceShare})
	return w.set(c.Code, "macro.unemployment", &mac.Unemployment, next, audit.Params{
		"structural_rate": structural,
		"gap_change":      dGap,
	})
}

// DebtDynamics advances debt/GDP with the interest-growth differential.
func DebtDynamics(c *state.CountryState, env Env, rec *audit.Recorder) error {
	const name = string(state.ReducerDebtDynamics)
	mr := env.Rules.Regimes.Macro
	fr := env.Rules.Regimes.Fiscal
	mac := &c.Macro

	i := c.Finance.SovereignYield
	g := mac.Inflation + mr.TrendGrowth + 0.5*mac.OutputGap
	if 1+g <= 0 {
		return fail(name, c.Code, "nominal growth factor 1+g is not positive", audit.Params{"g": g, "inflation": mac.Inflation, "output_gap": mac.OutputGap})
	}
	pb := mac.PrimaryBalance + fr.WealthTax + fr.RevenueElasticity*mac.OutputGap
	snowball := (i - g) / (1 + g) * mac.DebtGDP
	delta := snowball - pb + mac.SFA
	next := mac.DebtGDP + delta
	floored := false
	if next < 0 {
		next = 0
		floored = true
	}
	w := newWriter(rec, name, audit.Params{"trend_growth": mr.TrendGrowth, "wealth_tax": fr.WealthTax, "revenue_elasticity": fr.RevenueElasticity})
	return w.set(c.Code, "macro.debt_gdp", &mac.DebtGDP, next, audit.Params{
		"interest":          i,
		"nominal_growth":    g,
		"effective_balance": pb,
		"snowball":          snowball,
		"sfa":               mac.SFA,
		"floored":           floored,
	})
}
