// Package state holds the world schema advanced by the turn kernel: the
// global state, per-country slices, relationship matrices and simulation
// rules. It carries no economic behaviour, only construction defaults,
// dotted-path addressing, cloning and digests.
package state

import "sort"

type GlobalState struct {
	T       int    `json:"t"`
	BaseCcy string `json:"base_ccy"`

	Countries map[string]*CountryState `json:"countries"`

	Trade     Matrix `json:"trade,omitempty"`
	Interbank Matrix `json:"interbank,omitempty"`
	Alliance  Matrix `json:"alliance,omitempty"`
	Sanctions Matrix `json:"sanctions,omitempty"`

	// IO is the input-output coefficient table, row sector -> column sector.
	IO Matrix `json:"io,omitempty"`

	Commodities map[string]float64 `json:"commodities,omitempty"`

	Rules  SimulationRules `json:"rules"`
	Events EventQueue      `json:"events"`
}

type CountryState struct {
	Code string `json:"code"`
	Ccy  string `json:"ccy,omitempty"`

	Macro     MacroState     `json:"macro"`
	External  ExternalState  `json:"external"`
	Finance   FinanceState   `json:"finance"`
	Trade     TradeState     `json:"trade"`
	Energy    EnergyState    `json:"energy"`
	Security  SecurityState  `json:"security"`
	Sentiment SentimentState `json:"sentiment"`
}

type MacroState struct {
	GDP             float64 `json:"gdp"`
	PotentialGDP    float64 `json:"potential_gdp"`
	Inflation       float64 `json:"inflation"`
	Unemployment    float64 `json:"unemployment"`
	OutputGap       float64 `json:"output_gap"`
	PrimaryBalance  float64 `json:"primary_balance"`
	DebtGDP         float64 `json:"debt_gdp"`
	NeutralRate     float64 `json:"neutral_rate"`
	PolicyRate      float64 `json:"policy_rate"`
	InflationTarget float64 `json:"inflation_target"`
	SFA             float64 `json:"sfa"`
}

type ExternalState struct {
	FXRate                float64 `json:"fx_rate"`
	ReservesUSD           float64 `json:"reserves_usd"`
	CurrentAccountGDP     float64 `json:"current_account_gdp"`
	NetErrorsOmissionsGDP float64 `json:"net_errors_omissions_gdp"`
}

type FinanceState struct {
	SovereignYield float64 `json:"sovereign_yield"`
	CreditSpread   float64 `json:"credit_spread"`
	BankTier1Ratio float64 `json:"bank_tier1_ratio"`
	LeverageTarget float64 `json:"leverage_target"`
}

type TradeState struct {
	ExportsGDP   float64 `json:"exports_gdp"`
	ImportsGDP   float64 `json:"imports_gdp"`
	TariffMFNAvg float64 `json:"tariff_mfn_avg"`
	NTMIndex     float64 `json:"ntm_index"`
	TermsOfTrade float64 `json:"terms_of_trade"`
}

type EnergyState struct {
	StockToUse       float64 `json:"stock_to_use"`
	FoodPriceIndex   float64 `json:"food_price_index"`
	EnergyPriceIndex float64 `json:"energy_price_index"`
}

type SecurityState struct {
	MilexGDP          float64 `json:"milex_gdp"`
	Personnel         float64 `json:"personnel"`
	ConflictIntensity float64 `json:"conflict_intensity"`
}

type SentimentState struct {
	GdeltTone      float64 `json:"gdelt_tone"`
	TrendsSalience float64 `json:"trends_salience"`
	PolicyPressure float64 `json:"policy_pressure"`
	Approval       float64 `json:"approval"`
}

// Event is a typed payload queued for the kernel. Payload values are JSON
// primitives.
type Event struct {
	Kind    string         `json:"kind"`
	Payload map[string]any `json:"payload,omitempty"`
	Turn    int            `json:"turn"`
}

type EventQueue struct {
	Pending   []Event `json:"pending"`
	Processed []Event `json:"processed"`
}

// CountryCodes returns the country codes in sorted order. Every reducer
// iterates countries in this order.
func (g *GlobalState) CountryCodes() []string {
	codes := make([]string, 0, len(g.Countries))
	for code := range g.Countries {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Layer returns the relationship matrix with the given name, allocating it
// if it is still nil.
// NonNegativeLayer reports whether weights in the named layer must be at
// least zero. Interbank exposures and alliance ties are magnitudes.
func NonNegativeLayer(name string) bool {
	return name == "interbank" || name == "alliance"
}

func (g *GlobalState) Layer(name string) (*Matrix, bool) {
	var m *Matrix
	switch name {
	case "trade":
		m = &g.Trade
	case "interbank":
		m = &g.Interbank
	case "alliance":
		m = &g.Alliance
	case "sanctions":
		m = &g.Sanctions
	case "io":
		m = &g.IO
	default:
		return nil, false
	}
	if *m == nil {
		*m = Matrix{}
	}
	return m, true
}

// LayerNames lists the addressable matrix layers.
func LayerNames() []string {
	return []string{"alliance", "interbank", "io", "sanctions", "trade"}
}
