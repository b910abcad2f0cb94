package state

import (
	"fmt"
	"sort"
)

// ReducerType keys a family of interchangeable reducer implementations.
type ReducerType string

const (
	ReducerMonetaryPolicy       ReducerType = "monetary_policy"
	ReducerSovereignYield       ReducerType = "sovereign_yield"
	ReducerOutputGap            ReducerType = "output_gap"
	ReducerInflation            ReducerType = "inflation"
	ReducerLaborMarket          ReducerType = "labor_market"
	ReducerEnergyFood           ReducerType = "energy_food"
	ReducerTradeBalance         ReducerType = "trade_balance"
	ReducerDebtDynamics         ReducerType = "debt_dynamics"
	ReducerBOPSettlement        ReducerType = "bop_settlement"
	ReducerBeliefDiffusion      ReducerType = "belief_diffusion"
	ReducerUnrestHazard         ReducerType = "unrest_hazard"
	ReducerSecurityMobilization ReducerType = "security_mobilization"
	ReducerApproval             ReducerType = "approval"
	ReducerCommodityPrices      ReducerType = "commodity_prices"
	ReducerFXDrift              ReducerType = "fx_drift"
	ReducerFireSale             ReducerType = "fire_sale"
	ReducerInterbankLoss        ReducerType = "interbank_loss"
)

type MonetaryImpl string

const (
	MonetaryTaylor             MonetaryImpl = "taylor"
	MonetaryFXPeg              MonetaryImpl = "fx_peg"
	MonetaryInflationTargeting MonetaryImpl = "inflation_targeting"
	MonetaryNGDPTargeting      MonetaryImpl = "ngdp_targeting"
)

type InflationImpl string

const (
	InflationNKPCAnchored InflationImpl = "nkpc_anchored"
	InflationNKPC         InflationImpl = "nkpc"
)

type FXImpl string

const (
	FXUIP   FXImpl = "uip"
	FXFixed FXImpl = "fixed"
)

// StandardImpl names the only implementation of single-variant reducers.
const StandardImpl = "standard"

// implCatalog is the closed set of implementations per reducer type. The
// first entry is the default.
var implCatalog = map[ReducerType][]string{
	ReducerMonetaryPolicy: {
		string(MonetaryTaylor),
		string(MonetaryFXPeg),
		string(MonetaryInflationTargeting),
		string(MonetaryNGDPTargeting),
	},
	ReducerInflation: {string(InflationNKPCAnchored), string(InflationNKPC)},
	ReducerFXDrift:   {string(FXUIP), string(FXFixed)},

	ReducerSovereignYield:       {StandardImpl},
	ReducerOutputGap:            {StandardImpl},
	ReducerLaborMarket:          {StandardImpl},
	ReducerEnergyFood:           {StandardImpl},
	ReducerTradeBalance:         {StandardImpl},
	ReducerDebtDynamics:         {StandardImpl},
	ReducerBOPSettlement:        {StandardImpl},
	ReducerBeliefDiffusion:      {StandardImpl},
	ReducerUnrestHazard:         {StandardImpl},
	ReducerSecurityMobilization: {StandardImpl},
	ReducerApproval:             {StandardImpl},
	ReducerCommodityPrices:      {StandardImpl},
	ReducerFireSale:             {StandardImpl},
	ReducerInterbankLoss:        {StandardImpl},
}

// Override selects an implementation for a reducer type. It can only be
// built through ParseOverride, so a held Override is always valid.
type Override struct {
	Type ReducerType
	Impl string
}

func ParseOverride(target, impl string) (Override, error) {
	impls, ok := implCatalog[ReducerType(target)]
	if !ok {
		return Override{}, fmt.Errorf("unknown reducer type %q", target)
	}
	for _, name := range impls {
		if name == impl {
			return Override{Type: ReducerType(target), Impl: impl}, nil
		}
	}
	return Override{}, fmt.Errorf("reducer %q has no implementation %q (have %v)", target, impl, impls)
}

// Implementations lists the known implementations of a reducer type.
func Implementations(t ReducerType) []string {
	return append([]string(nil), implCatalog[t]...)
}

// ReducerTypes lists every reducer type in sorted order.
func ReducerTypes() []ReducerType {
	out := make([]ReducerType, 0, len(implCatalog))
	for t := range implCatalog {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// MonetaryImplFor resolves the active monetary implementation: an override
// wins over the regime's configured rule, which wins over the Taylor rule.
func (r *SimulationRules) MonetaryImplFor() MonetaryImpl {
	if name := r.ActiveImpl(string(ReducerMonetaryPolicy)); name != "" {
		if _, err := ParseOverride(string(ReducerMonetaryPolicy), name); err == nil {
			return MonetaryImpl(name)
		}
	}
	if _, err := ParseOverride(string(ReducerMonetaryPolicy), r.Regimes.Monetary.Rule); err == nil {
		return MonetaryImpl(r.Regimes.Monetary.Rule)
	}
	return MonetaryTaylor
}

func (r *SimulationRules) InflationImplFor() InflationImpl {
	if name := r.ActiveImpl(string(ReducerInflation)); name != "" {
		if _, err := ParseOverride(string(ReducerInflation), name); err == nil {
			return InflationImpl(name)
		}
	}
	return InflationNKPCAnchored
}

func (r *SimulationRules) FXImplFor() FXImpl {
	if name := r.ActiveImpl(string(ReducerFXDrift)); name != "" {
		if _, err := ParseOverride(string(ReducerFXDrift), name); err == nil {
			return FXImpl(name)
		}
	}
	return FXUIP
}

// InvalidImpls reports active_impls entries that do not name a known
// implementation, in sorted order.
func (r *SimulationRules) InvalidImpls() []string {
	var bad []string
	for t, impl := range r.ActiveImpls {
		if _, err := ParseOverride(t, impl); err != nil {
			bad = append(bad, fmt.Sprintf("%s=%s", t, impl))
		}
	}
	sort.Strings(bad)
	return bad
}

// Apply records the override so it stays active for the rest of the
// scenario.
func (o Override) Apply(r *SimulationRules) (previous string) {
	if r.ActiveImpls == nil {
		r.ActiveImpls = map[string]string{}
	}
	previous = r.ActiveImpls[string(o.Type)]
	r.ActiveImpls[string(o.Type)] = o.Impl
	return previous
}
