package state

// NewCountry builds a country with explicit defaults for every field whose
// zero value would be meaningless.
func NewCountry(code string) *CountryState {
	return &CountryState{
		Code: code,
		Macro: MacroState{
			GDP:             1,
			PotentialGDP:    1,
			Unemployment:    0.05,
			NeutralRate:     0.02,
			InflationTarget: 0.02,
		},
		External: ExternalState{
			FXRate: 1.0,
		},
		Finance: FinanceState{
			BankTier1Ratio: 0.12,
			LeverageTarget: 10.0,
		},
		Trade: TradeState{
			TermsOfTrade: 1.0,
		},
		Energy: EnergyState{
			StockToUse:       1.0,
			FoodPriceIndex:   100,
			EnergyPriceIndex: 100,
		},
		Sentiment: SentimentState{
			Approval: 0.5,
		},
	}
}

// New builds an empty world at turn 0 with default rules.
func New(baseCcy string) *GlobalState {
	return &GlobalState{
		BaseCcy:     baseCcy,
		Countries:   map[string]*CountryState{},
		Trade:       Matrix{},
		Interbank:   Matrix{},
		Alliance:    Matrix{},
		Sanctions:   Matrix{},
		IO:          Matrix{},
		Commodities: map[string]float64{},
		Rules:       DefaultRules(),
	}
}

// AddCountry inserts c keyed by its code, replacing any previous entry.
func (g *GlobalState) AddCountry(c *CountryState) {
	if g.Countries == nil {
		g.Countries = map[string]*CountryState{}
	}
	g.Countries[c.Code] = c
}

// Normalize fills nil maps and empty identity fields so loaded states are
// safe to step.
func (g *GlobalState) Normalize() {
	if g.Countries == nil {
		g.Countries = map[string]*CountryState{}
	}
	for code, c := range g.Countries {
		if c == nil {
			g.Countries[code] = NewCountry(code)
			continue
		}
		if c.Code == "" {
			c.Code = code
		}
	}
	if g.Commodities == nil {
		g.Commodities = map[string]float64{}
	}
	for _, name := range LayerNames() {
		g.Layer(name)
	}
	if g.Rules.Calendar.Epoch == "" {
		g.Rules.Calendar.Epoch = DefaultCalendar().Epoch
	}
	if g.Rules.Calendar.Frequency == "" {
		g.Rules.Calendar.Frequency = DefaultCalendar().Frequency
	}
}
