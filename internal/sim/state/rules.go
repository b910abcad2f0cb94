package state

type SimulationRules struct {
	Regimes    Regimes           `json:"regimes" yaml:"regimes"`
	RNGSeed    int64             `json:"rng_seed" yaml:"rng_seed"`
	Invariants Invariants        `json:"invariants" yaml:"invariants"`
	Calendar   Calendar          `json:"calendar" yaml:"calendar"`
	// ActiveImpls maps a reducer type to the implementation selected by a
	// reducer override. Missing entries use the default implementation.
	ActiveImpls map[string]string `json:"active_impls,omitempty" yaml:"active_impls,omitempty"`
}

type Invariants struct {
	// BPM6 books reserve shortfalls into net errors and omissions so the
	// balance of payments still closes.
	BPM6           bool `json:"bpm6" yaml:"bpm6"`
	ClampInflation bool `json:"clamp_inflation" yaml:"clamp_inflation"`
}

type Regimes struct {
	Monetary  MonetaryRegime  `json:"monetary" yaml:"monetary"`
	Macro     MacroRegime     `json:"macro" yaml:"macro"`
	Prices    PricesRegime    `json:"prices" yaml:"prices"`
	FX        FXRegime        `json:"fx" yaml:"fx"`
	Fiscal    FiscalRegime    `json:"fiscal" yaml:"fiscal"`
	Finance   FinanceRegime   `json:"finance" yaml:"finance"`
	Trade     TradeRegime     `json:"trade" yaml:"trade"`
	Security  SecurityRegime  `json:"security" yaml:"security"`
	Labor     LaborRegime     `json:"labor" yaml:"labor"`
	Sentiment SentimentRegime `json:"sentiment" yaml:"sentiment"`
}

type MonetaryRegime struct {
	Rule      string  `json:"rule" yaml:"rule"`
	PhiPi     float64 `json:"phi_pi" yaml:"phi_pi"`
	PhiY      float64 `json:"phi_y" yaml:"phi_y"`
	Smoothing float64 `json:"smoothing" yaml:"smoothing"`
	// HoldWhileAboveTarget stops the central bank from cutting while
	// inflation is still above target.
	HoldWhileAboveTarget bool    `json:"hold_while_above_target" yaml:"hold_while_above_target"`
	StrictPhiPi          float64 `json:"strict_phi_pi" yaml:"strict_phi_pi"`
}

type MacroRegime struct {
	GapPersistence float64 `json:"gap_persistence" yaml:"gap_persistence"`
	ISSensitivity  float64 `json:"is_sensitivity" yaml:"is_sensitivity"`
	DemandNoise    float64 `json:"demand_noise" yaml:"demand_noise"`
	TrendGrowth    float64 `json:"trend_growth" yaml:"trend_growth"`
	TradeSpillover float64 `json:"trade_spillover" yaml:"trade_spillover"`
}

type PricesRegime struct {
	NKPCBeta             float64 `json:"nkpc_beta" yaml:"nkpc_beta"`
	NKPCKappa            float64 `json:"nkpc_kappa" yaml:"nkpc_kappa"`
	InflationMin         float64 `json:"inflation_min" yaml:"inflation_min"`
	InflationMax         float64 `json:"inflation_max" yaml:"inflation_max"`
	EnergyElasticity     float64 `json:"energy_elasticity" yaml:"energy_elasticity"`
	CommodityPassthrough float64 `json:"commodity_passthrough" yaml:"commodity_passthrough"`
}

type FXRegime struct {
	RiskPremiumBase float64 `json:"risk_premium_base" yaml:"risk_premium_base"`
	PressurePremium float64 `json:"pressure_premium" yaml:"pressure_premium"`
	MaxLogStep      float64 `json:"max_log_step" yaml:"max_log_step"`
}

type FiscalRegime struct {
	WealthTax         float64 `json:"wealth_tax" yaml:"wealth_tax"`
	RevenueElasticity float64 `json:"revenue_elasticity" yaml:"revenue_elasticity"`
}

type FinanceRegime struct {
	FireSaleTier1Threshold float64 `json:"fire_sale_tier1_threshold" yaml:"fire_sale_tier1_threshold"`
	FireSaleSpreadWidening float64 `json:"fire_sale_spread_widening" yaml:"fire_sale_spread_widening"`
	StressSpreadThreshold  float64 `json:"stress_spread_threshold" yaml:"stress_spread_threshold"`
	LossGivenDefault       float64 `json:"loss_given_default" yaml:"loss_given_default"`
}

type TradeRegime struct {
	TariffMultiplier float64 `json:"tariff_multiplier" yaml:"tariff_multiplier"`
	ImportElasticity float64 `json:"import_elasticity" yaml:"import_elasticity"`
	SanctionsBite    float64 `json:"sanctions_bite" yaml:"sanctions_bite"`
}

type SecurityRegime struct {
	MobilizationIntensity float64 `json:"mobilization_intensity" yaml:"mobilization_intensity"`
}

type LaborRegime struct {
	NationalServiceShare float64 `json:"national_service_share" yaml:"national_service_share"`
	UnemploymentBaseline float64 `json:"unemployment_baseline" yaml:"unemployment_baseline"`
	Okun                 float64 `json:"okun" yaml:"okun"`
	Reversion            float64 `json:"reversion" yaml:"reversion"`
}

type SentimentRegime struct {
	PropagandaGain     float64 `json:"propaganda_gain" yaml:"propaganda_gain"`
	PressureDecay      float64 `json:"pressure_decay" yaml:"pressure_decay"`
	DiffusionWeight    float64 `json:"diffusion_weight" yaml:"diffusion_weight"`
	HawkesDecay        float64 `json:"hawkes_decay" yaml:"hawkes_decay"`
	HawkesPressure     float64 `json:"hawkes_pressure" yaml:"hawkes_pressure"`
	HawkesInflation    float64 `json:"hawkes_inflation" yaml:"hawkes_inflation"`
	HawkesUnemployment float64 `json:"hawkes_unemployment" yaml:"hawkes_unemployment"`
}

func DefaultRegimes() Regimes {
	return Regimes{
		Monetary: MonetaryRegime{
			Rule:                 string(MonetaryTaylor),
			PhiPi:                0.5,
			PhiY:                 0.5,
			Smoothing:            0.5,
			HoldWhileAboveTarget: true,
			StrictPhiPi:          1.5,
		},
		Macro: MacroRegime{
			GapPersistence: 0.7,
			ISSensitivity:  0.5,
			DemandNoise:    0,
			TrendGrowth:    0.02,
			TradeSpillover: 0.1,
		},
		Prices: PricesRegime{
			NKPCBeta:             0.75,
			NKPCKappa:            0.05,
			InflationMin:         -0.05,
			InflationMax:         0.50,
			EnergyElasticity:     0.5,
			CommodityPassthrough: 1.0,
		},
		FX: FXRegime{
			RiskPremiumBase: 0,
			PressurePremium: 0.01,
			MaxLogStep:      0.25,
		},
		Fiscal: FiscalRegime{},
		Finance: FinanceRegime{
			FireSaleTier1Threshold: 0.08,
			FireSaleSpreadWidening: 0.005,
			StressSpreadThreshold:  0.05,
			LossGivenDefault:       0.10,
		},
		Trade: TradeRegime{
			TariffMultiplier: 1.0,
			ImportElasticity: 0.5,
			SanctionsBite:    0.5,
		},
		Security: SecurityRegime{},
		Labor: LaborRegime{
			NationalServiceShare: 0,
			UnemploymentBaseline: 0.05,
			Okun:                 0.4,
			Reversion:            0.2,
		},
		Sentiment: SentimentRegime{
			PropagandaGain:     0,
			PressureDecay:      0.5,
			DiffusionWeight:    0.5,
			HawkesDecay:        0.8,
			HawkesPressure:     0.1,
			HawkesInflation:    0.5,
			HawkesUnemployment: 0.5,
		},
	}
}

func DefaultRules() SimulationRules {
	return SimulationRules{
		Regimes:    DefaultRegimes(),
		RNGSeed:    1,
		Invariants: Invariants{BPM6: true, ClampInflation: true},
		Calendar:   DefaultCalendar(),
	}
}

// ActiveImpl returns the implementation name selected for a reducer type,
// or "" when the default applies.
func (r *SimulationRules) ActiveImpl(reducerType string) string {
	if r.ActiveImpls == nil {
		return ""
	}
	return r.ActiveImpls[reducerType]
}
