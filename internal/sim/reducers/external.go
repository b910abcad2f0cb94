package reducers

import (
	"math"

	"statecraft.ai/internal/sim/audit"
	"statecraft.ai/internal/sim/mathx"
	"statecraft.ai/internal/sim/state"
)

// TradeBalance derives the current account from export and import shares.
// Sanctions received bite into exports; tariffs compress imports. Countries
// without trade data keep their current account.
func TradeBalance(c *state.CountryState, env Env, rec *audit.Recorder) error {
	tr := env.Rules.Regimes.Trade
	t := c.Trade
	if t.ExportsGDP == 0 && t.ImportsGDP == 0 {
		return nil
	}
	sanctioned := 0.0
	if env.World != nil {
		sanctioned = math.Min(env.World.Sanctions.ColSum(c.Code), 1)
	}
	exports := t.ExportsGDP * t.TermsOfTrade * (1 - tr.SanctionsBite*sanctioned)
	compression := mathx.Clamp01(tr.ImportElasticity * t.TariffMFNAvg * tr.TariffMultiplier)
	imports := t.ImportsGDP * (1 - compression)
	ca := exports - imports

	w := newWriter(rec, string(state.ReducerTradeBalance), audit.Params{
		"tariff_multiplier": tr.TariffMultiplier,
		"import_elasticity": tr.ImportElasticity,
		"sanctions_bite":    tr.SanctionsBite,
	})
	return w.set(c.Code, "external.current_account_gdp", &c.External.CurrentAccountGDP, ca, audit.Params{
		"effective_exports":  exports,
		"effective_imports":  imports,
		"sanctions_exposure": sanctioned,
		"import_compression": compression,
	})
}

// BOPSettlement lets reserves absorb the current account so that
// CA + ΔR/gdp + E&O = 0 holds exactly. Under BPM6 reserves never go
// negative and the shortfall is booked into net errors and omissions;
// otherwise reserves carry the whole settlement and may turn negative.
func BOPSettlement(c *state.CountryState, env Env, rec *audit.Recorder) error {
	const name = string(state.ReducerBOPSettlement)
	ext := &c.External
	gdp := c.Macro.GDP
	if gdp <= 0 {
		return fail(name, c.Code, "gdp must be positive to settle the balance of payments", audit.Params{"gdp": gdp})
	}
	bpm6 := env.Rules.Invariants.BPM6

	prev := ext.ReservesUSD
	next := prev - ext.CurrentAccountGDP*gdp
	shortfall, eo := 0.0, 0.0
	if bpm6 && next < 0 {
		shortfall = -next
		next = 0
		eo = -ext.CurrentAccountGDP - (next-prev)/gdp
	}

	w := newWriter(rec, name, audit.Params{"bpm6": bpm6})
	details := audit.Params{
		"current_account_gdp": ext.CurrentAccountGDP,
		"gdp":                 gdp,
		"reserve_change":      next - prev,
		"shortfall":           shortfall,
	}
	if err := w.set(c.Code, "external.reserves_usd", &ext.ReservesUSD, next, details); err != nil {
		return err
	}
	return w.set(c.Code, "external.net_errors_omissions_gdp", &ext.NetErrorsOmissionsGDP, eo, details)
}

// FXDrift moves every non-base exchange rate by the interest differential
// to the base country plus a pressure-driven risk premium. The log step is
// bounded so a single turn cannot collapse a currency.
func FXDrift(g *state.GlobalState, env WorldEnv, rec *audit.Recorder) error {
	const name = string(state.ReducerFXDrift)
	fx := g.Rules.Regimes.FX
	impl := g.Rules.FXImplFor()
	if impl == state.FXFixed {
		return nil
	}
	base := g.Countries[env.BaseCountry]
	if env.BaseCountry == "" || base == nil {
		return fail(name, "", "no base country for FX drift", audit.Params{"base_country": env.BaseCountry, "base_ccy": g.BaseCcy})
	}
	iBase := base.Macro.PolicyRate
	w := newWriter(rec, name, audit.Params{
		"impl":              string(impl),
		"risk_premium_base": fx.RiskPremiumBase,
		"pressure_premium":  fx.PressurePremium,
		"max_log_step":      fx.MaxLogStep,
	})
	for _, code := range g.CountryCodes() {
		c := g.Countries[code]
		if code == env.BaseCountry || c == nil {
			continue
		}
		rho := fx.RiskPremiumBase + fx.PressurePremium*c.Sentiment.PolicyPressure
		raw := c.Macro.PolicyRate - iBase + rho
		step := mathx.Clamp(raw, -fx.MaxLogStep, fx.MaxLogStep)
		next := c.External.FXRate * math.Exp(step)
		if !(next > 0) {
			return fail(name, code, "fx_rate left the positive range", audit.Params{"fx_rate": c.External.FXRate, "step": step})
		}
		if err := w.set(code, "external.fx_rate", &c.External.FXRate, next, audit.Params{
			"domestic_rate": c.Macro.PolicyRate,
			"base_rate":     iBase,
			"risk_premium":  rho,
			"log_step":      step,
			"step_clamped":  raw != step,
		}); err != nil {
			return err
		}
	}
	return nil
}
