package reducers

import (
	"sort"
	"strings"

	"statecraft.ai/internal/sim/audit"
	"statecraft.ai/internal/sim/mathx"
	"statecraft.ai/internal/sim/state"
)

// IO sectors consulted for energy-to-food pass-through.
const (
	SectorEnergy = "energy"
	SectorFood   = "food"
)

// Per-turn multiplicative moves of the price indices are kept in this band
// so an index can never reach zero.
const (
	minIndexFactor = 0.5
	maxIndexFactor = 1.5
)

// EnergyFood moves the energy index against the stock-to-use deviation from
// balance, then scales food prices with inflation and energy pass-through
// from the IO table.
func EnergyFood(c *state.CountryState, env Env, rec *audit.Recorder) error {
	const name = string(state.ReducerEnergyFood)
	p := env.Rules.Regimes.Prices
	e := &c.Energy
	if e.EnergyPriceIndex <= 0 || e.FoodPriceIndex <= 0 {
		return fail(name, c.Code, "price indices must be positive", audit.Params{"energy_price_index": e.EnergyPriceIndex, "food_price_index": e.FoodPriceIndex})
	}

	energyFactor := mathx.Clamp(1-p.EnergyElasticity*(e.StockToUse-1), minIndexFactor, maxIndexFactor)
	energyNext := e.EnergyPriceIndex * energyFactor
	dEnergy := energyFactor - 1

	coef := 0.0
	if env.World != nil {
		coef = env.World.IO.Weight(SectorEnergy, SectorFood)
	}
	foodFactor := mathx.Clamp((1+c.Macro.Inflation)*(1+coef*dEnergy), minIndexFactor, maxIndexFactor)
	foodNext := e.FoodPriceIndex * foodFactor

	w := newWriter(rec, name, audit.Params{"energy_elasticity": p.EnergyElasticity, "io_energy_food": coef})
	if err := w.set(c.Code, "energy.energy_price_index", &e.EnergyPriceIndex, energyNext, audit.Params{
		"stock_to_use":  e.StockToUse,
		"energy_factor": energyFactor,
	}); err != nil {
		return err
	}
	if err := w.set(c.Code, "energy.food_price_index", &e.FoodPriceIndex, foodNext, audit.Params{
		"inflation":     c.Macro.Inflation,
		"energy_change": dEnergy,
		"food_factor":   foodFactor,
	}); err != nil {
		return err
	}
	if env.Scratch != nil {
		env.Scratch.EnergyChange[c.Code] = dEnergy
		env.Scratch.FoodChange[c.Code] = foodFactor - 1
	}
	return nil
}

var (
	energyCommodities = []string{"oil", "brent", "wti", "gas", "lng", "coal", "energy"}
	foodCommodities   = []string{"wheat", "corn", "maize", "rice", "soy", "sugar", "food"}
)

// CommodityClass buckets a commodity name into "energy", "food" or "".
func CommodityClass(name string) string {
	n := strings.ToLower(name)
	for _, k := range energyCommodities {
		if strings.Contains(n, k) {
			return SectorEnergy
		}
	}
	for _, k := range foodCommodities {
		if strings.Contains(n, k) {
			return SectorFood
		}
	}
	return ""
}

// CommodityPrices moves world commodity prices with the average change of
// the national energy and food indices this turn. Other commodities only
// move through injected price shocks.
func CommodityPrices(g *state.GlobalState, env WorldEnv, rec *audit.Recorder) error {
	if env.Scratch == nil || len(g.Commodities) == 0 {
		return nil
	}
	pass := g.Rules.Regimes.Prices.CommodityPassthrough
	avg := map[string]float64{
		SectorEnergy: mean(env.Scratch.EnergyChange),
		SectorFood:   mean(env.Scratch.FoodChange),
	}
	w := newWriter(rec, string(state.ReducerCommodityPrices), audit.Params{"commodity_passthrough": pass})

	names := make([]string, 0, len(g.Commodities))
	for n := range g.Commodities {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		class := CommodityClass(n)
		if class == "" {
			continue
		}
		price := g.Commodities[n]
		next := price * mathx.Clamp(1+pass*avg[class], minIndexFactor, maxIndexFactor)
		if err := w.setPath("", "commodities."+n, &price, next, audit.Params{"class": class, "average_change": avg[class]}); err != nil {
			return err
		}
		g.Commodities[n] = price
	}
	return nil
}

func mean(m map[string]float64) float64 {
	if len(m) == 0 {
		return 0
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sum float64
	for _, k := range keys {
		sum += m[k]
	}
	return sum / float64(len(m))
}
