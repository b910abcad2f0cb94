package state

import (
	"math"

	"statecraft.ai/internal/sim/mathx"
)

type bounds struct {
	lo, hi float64
	loOpen bool
}

var (
	free     = bounds{lo: math.Inf(-1), hi: math.Inf(1)}
	unit     = bounds{lo: 0, hi: 1}
	nonNeg   = bounds{lo: 0, hi: math.Inf(1)}
	positive = bounds{lo: 0, hi: math.Inf(1), loOpen: true}
)

func (b bounds) allows(v float64) bool {
	if !mathx.Finite(v) {
		return false
	}
	if b.loOpen {
		if v <= b.lo {
			return false
		}
	} else if v < b.lo {
		return false
	}
	return v <= b.hi
}

type countryField struct {
	slice string
	name  string
	ptr   func(c *CountryState) *float64
	b     bounds
	// band marks fields bounded by the rules' inflation band.
	band bool
}

var countryFields = []countryField{
	{"macro", "gdp", func(c *CountryState) *float64 { return &c.Macro.GDP }, nonNeg, false},
	{"macro", "potential_gdp", func(c *CountryState) *float64 { return &c.Macro.PotentialGDP }, positive, false},
	{"macro", "inflation", func(c *CountryState) *float64 { return &c.Macro.Inflation }, free, true},
	{"macro", "unemployment", func(c *CountryState) *float64 { return &c.Macro.Unemployment }, unit, false},
	{"macro", "output_gap", func(c *CountryState) *float64 { return &c.Macro.OutputGap }, free, false},
	{"macro", "primary_balance", func(c *CountryState) *float64 { return &c.Macro.PrimaryBalance }, free, false},
	{"macro", "debt_gdp", func(c *CountryState) *float64 { return &c.Macro.DebtGDP }, nonNeg, false},
	{"macro", "neutral_rate", func(c *CountryState) *float64 { return &c.Macro.NeutralRate }, free, false},
	{"macro", "policy_rate", func(c *CountryState) *float64 { return &c.Macro.PolicyRate }, free, false},
	{"macro", "inflation_target", func(c *CountryState) *float64 { return &c.Macro.InflationTarget }, free, false},
	{"macro", "sfa", func(c *CountryState) *float64 { return &c.Macro.SFA }, free, false},

	{"external", "fx_rate", func(c *CountryState) *float64 { return &c.External.FXRate }, positive, false},
	{"external", "reserves_usd", func(c *CountryState) *float64 { return &c.External.ReservesUSD }, nonNeg, false},
	{"external", "current_account_gdp", func(c *CountryState) *float64 { return &c.External.CurrentAccountGDP }, free, false},
	{"external", "net_errors_omissions_gdp", func(c *CountryState) *float64 { return &c.External.NetErrorsOmissionsGDP }, free, false},

	{"finance", "sovereign_yield", func(c *CountryState) *float64 { return &c.Finance.SovereignYield }, free, false},
	{"finance", "credit_spread", func(c *CountryState) *float64 { return &c.Finance.CreditSpread }, free, false},
	{"finance", "bank_tier1_ratio", func(c *CountryState) *float64 { return &c.Finance.BankTier1Ratio }, nonNeg, false},
	{"finance", "leverage_target", func(c *CountryState) *float64 { return &c.Finance.LeverageTarget }, positive, false},

	{"trade", "exports_gdp", func(c *CountryState) *float64 { return &c.Trade.ExportsGDP }, nonNeg, false},
	{"trade", "imports_gdp", func(c *CountryState) *float64 { return &c.Trade.ImportsGDP }, nonNeg, false},
	{"trade", "tariff_mfn_avg", func(c *CountryState) *float64 { return &c.Trade.TariffMFNAvg }, nonNeg, false},
	{"trade", "ntm_index", func(c *CountryState) *float64 { return &c.Trade.NTMIndex }, nonNeg, false},
	{"trade", "terms_of_trade", func(c *CountryState) *float64 { return &c.Trade.TermsOfTrade }, positive, false},

	{"energy", "stock_to_use", func(c *CountryState) *float64 { return &c.Energy.StockToUse }, nonNeg, false},
	{"energy", "food_price_index", func(c *CountryState) *float64 { return &c.Energy.FoodPriceIndex }, positive, false},
	{"energy", "energy_price_index", func(c *CountryState) *float64 { return &c.Energy.EnergyPriceIndex }, positive, false},

	{"security", "milex_gdp", func(c *CountryState) *float64 { return &c.Security.MilexGDP }, nonNeg, false},
	{"security", "personnel", func(c *CountryState) *float64 { return &c.Security.Personnel }, nonNeg, false},
	{"security", "conflict_intensity", func(c *CountryState) *float64 { return &c.Security.ConflictIntensity }, unit, false},

	{"sentiment", "gdelt_tone", func(c *CountryState) *float64 { return &c.Sentiment.GdeltTone }, free, false},
	{"sentiment", "trends_salience", func(c *CountryState) *float64 { return &c.Sentiment.TrendsSalience }, free, false},
	{"sentiment", "policy_pressure", func(c *CountryState) *float64 { return &c.Sentiment.PolicyPressure }, unit, false},
	{"sentiment", "approval", func(c *CountryState) *float64 { return &c.Sentiment.Approval }, unit, false},
}

var countryFieldIndex = func() map[string]*countryField {
	idx := make(map[string]*countryField, len(countryFields))
	for i := range countryFields {
		f := &countryFields[i]
		idx[f.slice+"."+f.name] = f
	}
	return idx
}()

// EachField visits every numeric field of c as "<slice>.<field>".
func (c *CountryState) EachField(fn func(field string, v float64)) {
	for i := range countryFields {
		f := &countryFields[i]
		fn(f.slice+"."+f.name, *f.ptr(c))
	}
}

// NonFinite lists the fields of c that hold NaN or ±Inf.
func (c *CountryState) NonFinite() []string {
	var bad []string
	c.EachField(func(field string, v float64) {
		if !mathx.Finite(v) {
			bad = append(bad, field)
		}
	})
	return bad
}

type ruleField struct {
	num   func(r *Regimes) *float64
	str   func(r *Regimes) *string
	flag  func(r *Regimes) *bool
	b     bounds
	oneOf []string
}

var regimeFields = map[string]ruleField{
	"monetary.rule": {str: func(r *Regimes) *string { return &r.Monetary.Rule },
		oneOf: []string{string(MonetaryTaylor), string(MonetaryFXPeg), string(MonetaryInflationTargeting), string(MonetaryNGDPTargeting)}},
	"monetary.phi_pi":                  {num: func(r *Regimes) *float64 { return &r.Monetary.PhiPi }, b: nonNeg},
	"monetary.phi_y":                   {num: func(r *Regimes) *float64 { return &r.Monetary.PhiY }, b: nonNeg},
	"monetary.smoothing":               {num: func(r *Regimes) *float64 { return &r.Monetary.Smoothing }, b: unit},
	"monetary.hold_while_above_target": {flag: func(r *Regimes) *bool { return &r.Monetary.HoldWhileAboveTarget }},
	"monetary.strict_phi_pi":           {num: func(r *Regimes) *float64 { return &r.Monetary.StrictPhiPi }, b: nonNeg},

	"macro.gap_persistence": {num: func(r *Regimes) *float64 { return &r.Macro.GapPersistence }, b: unit},
	"macro.is_sensitivity":  {num: func(r *Regimes) *float64 { return &r.Macro.ISSensitivity }, b: nonNeg},
	"macro.demand_noise":    {num: func(r *Regimes) *float64 { return &r.Macro.DemandNoise }, b: nonNeg},
	"macro.trend_growth":    {num: func(r *Regimes) *float64 { return &r.Macro.TrendGrowth }, b: free},
	"macro.trade_spillover": {num: func(r *Regimes) *float64 { return &r.Macro.TradeSpillover }, b: nonNeg},

	"prices.nkpc_beta":             {num: func(r *Regimes) *float64 { return &r.Prices.NKPCBeta }, b: unit},
	"prices.nkpc_kappa":            {num: func(r *Regimes) *float64 { return &r.Prices.NKPCKappa }, b: nonNeg},
	"prices.inflation_min":         {num: func(r *Regimes) *float64 { return &r.Prices.InflationMin }, b: free},
	"prices.inflation_max":         {num: func(r *Regimes) *float64 { return &r.Prices.InflationMax }, b: free},
	"prices.energy_elasticity":     {num: func(r *Regimes) *float64 { return &r.Prices.EnergyElasticity }, b: nonNeg},
	"prices.commodity_passthrough": {num: func(r *Regimes) *float64 { return &r.Prices.CommodityPassthrough }, b: nonNeg},

	"fx.risk_premium_base": {num: func(r *Regimes) *float64 { return &r.FX.RiskPremiumBase }, b: free},
	"fx.pressure_premium":  {num: func(r *Regimes) *float64 { return &r.FX.PressurePremium }, b: free},
	"fx.max_log_step":      {num: func(r *Regimes) *float64 { return &r.FX.MaxLogStep }, b: positive},

	"fiscal.wealth_tax":         {num: func(r *Regimes) *float64 { return &r.Fiscal.WealthTax }, b: free},
	"fiscal.revenue_elasticity": {num: func(r *Regimes) *float64 { return &r.Fiscal.RevenueElasticity }, b: free},

	"finance.fire_sale_tier1_threshold": {num: func(r *Regimes) *float64 { return &r.Finance.FireSaleTier1Threshold }, b: nonNeg},
	"finance.fire_sale_spread_widening": {num: func(r *Regimes) *float64 { return &r.Finance.FireSaleSpreadWidening }, b: nonNeg},
	"finance.stress_spread_threshold":   {num: func(r *Regimes) *float64 { return &r.Finance.StressSpreadThreshold }, b: free},
	"finance.loss_given_default":        {num: func(r *Regimes) *float64 { return &r.Finance.LossGivenDefault }, b: unit},

	"trade.tariff_multiplier": {num: func(r *Regimes) *float64 { return &r.Trade.TariffMultiplier }, b: nonNeg},
	"trade.import_elasticity": {num: func(r *Regimes) *float64 { return &r.Trade.ImportElasticity }, b: nonNeg},
	"trade.sanctions_bite":    {num: func(r *Regimes) *float64 { return &r.Trade.SanctionsBite }, b: unit},

	"security.mobilization_intensity": {num: func(r *Regimes) *float64 { return &r.Security.MobilizationIntensity }, b: nonNeg},

	"labor.national_service_share": {num: func(r *Regimes) *float64 { return &r.Labor.NationalServiceShare }, b: unit},
	"labor.unemployment_baseline":  {num: func(r *Regimes) *float64 { return &r.Labor.UnemploymentBaseline }, b: unit},
	"labor.okun":                   {num: func(r *Regimes) *float64 { return &r.Labor.Okun }, b: nonNeg},
	"labor.reversion":              {num: func(r *Regimes) *float64 { return &r.Labor.Reversion }, b: unit},

	"sentiment.propaganda_gain":     {num: func(r *Regimes) *float64 { return &r.Sentiment.PropagandaGain }, b: free},
	"sentiment.pressure_decay":      {num: func(r *Regimes) *float64 { return &r.Sentiment.PressureDecay }, b: unit},
	"sentiment.diffusion_weight":    {num: func(r *Regimes) *float64 { return &r.Sentiment.DiffusionWeight }, b: unit},
	"sentiment.hawkes_decay":        {num: func(r *Regimes) *float64 { return &r.Sentiment.HawkesDecay }, b: unit},
	"sentiment.hawkes_pressure":     {num: func(r *Regimes) *float64 { return &r.Sentiment.HawkesPressure }, b: nonNeg},
	"sentiment.hawkes_inflation":    {num: func(r *Regimes) *float64 { return &r.Sentiment.HawkesInflation }, b: nonNeg},
	"sentiment.hawkes_unemployment": {num: func(r *Regimes) *float64 { return &r.Sentiment.HawkesUnemployment }, b: nonNeg},
}
