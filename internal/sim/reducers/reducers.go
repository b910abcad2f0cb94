// Package reducers holds the economic update rules advanced once per turn.
// Per-country reducers touch only the country they are handed; world
// reducers may touch any country, matrix or commodity. Every write goes
// through the audit recorder.
package reducers

import (
	"fmt"

	"statecraft.ai/internal/sim/audit"
	"statecraft.ai/internal/sim/mathx"
	"statecraft.ai/internal/sim/state"
)

const EventProcessing = "event_processing"

// Scratch carries values produced and consumed within a single turn. It is
// never persisted.
type Scratch struct {
	// Demand holds injected demand shocks per country.
	Demand map[string]float64
	// GapDelta is the change in output gap made by output_gap this turn.
	GapDelta map[string]float64
	// EnergyChange and FoodChange are the relative index moves made by
	// energy_food this turn.
	EnergyChange map[string]float64
	FoodChange   map[string]float64
}

func NewScratch() *Scratch {
	return &Scratch{
		Demand:       map[string]float64{},
		GapDelta:     map[string]float64{},
		EnergyChange: map[string]float64{},
		FoodChange:   map[string]float64{},
	}
}

// Env is the read context of a per-country reducer. World is a read-only
// view for cross-country inputs; only the reducer's own country may be
// written.
type Env struct {
	T           int
	Rules       *state.SimulationRules
	World       *state.GlobalState
	BaseCountry string
	Scratch     *Scratch
}

type WorldEnv struct {
	T           int
	BaseCountry string
	Scratch     *Scratch
	// Due is how many events at the head of events.pending were queued
	// before the turn began. Only those are drained this turn.
	Due int
}

type CountryFunc func(c *state.CountryState, env Env, rec *audit.Recorder) error

type WorldFunc func(g *state.GlobalState, env WorldEnv, rec *audit.Recorder) error

type CountryReducer struct {
	Name string
	Fn   CountryFunc
}

type WorldReducer struct {
	Name string
	Fn   WorldFunc
}

// ComputationError reports a numeric failure inside one reducer invocation.
type ComputationError struct {
	Reducer string
	Country string
	Reason  string
	Inputs  audit.Params
}

func (e *ComputationError) Error() string {
	if e.Country != "" {
		return fmt.Sprintf("%s[%s]: %s", e.Reducer, e.Country, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Reducer, e.Reason)
}

// CountryChain is the per-country macro chain in execution order.
func CountryChain() []CountryReducer {
	return []CountryReducer{
		{string(state.ReducerMonetaryPolicy), MonetaryPolicy},
		{string(state.ReducerSovereignYield), SovereignYield},
		{string(state.ReducerOutputGap), OutputGap},
		{string(state.ReducerInflation), Inflation},
		{string(state.ReducerLaborMarket), LaborMarket},
		{string(state.ReducerEnergyFood), EnergyFood},
		{string(state.ReducerTradeBalance), TradeBalance},
		{string(state.ReducerDebtDynamics), DebtDynamics},
		{string(state.ReducerBOPSettlement), BOPSettlement},
	}
}

// SocialCountry are the per-country social reducers that follow belief
// diffusion. Each runs across all countries before the next one starts.
func SocialCountry() []CountryReducer {
	return []CountryReducer{
		{string(state.ReducerUnrestHazard), UnrestHazard},
		{string(state.ReducerSecurityMobilization), SecurityMobilization},
		{string(state.ReducerApproval), Approval},
	}
}

var (
	EventStage     = WorldReducer{EventProcessing, ProcessEvents}
	BeliefStage    = WorldReducer{string(state.ReducerBeliefDiffusion), BeliefDiffusion}
	CommodityStage = WorldReducer{string(state.ReducerCommodityPrices), CommodityPrices}
	FXStage        = WorldReducer{string(state.ReducerFXDrift), FXDrift}
	FireSaleStage  = WorldReducer{string(state.ReducerFireSale), FireSale}
	InterbankStage = WorldReducer{string(state.ReducerInterbankLoss), InterbankLoss}
)

// writer captures every field it writes under one reducer name.
type writer struct {
	rec     *audit.Recorder
	reducer string
	params  audit.Params
}

func newWriter(rec *audit.Recorder, reducer string, params audit.Params) writer {
	return writer{rec: rec, reducer: reducer, params: params}
}

// set writes a country field. Non-finite values are refused and reported
// as a ComputationError; unchanged values are not recorded.
func (w writer) set(code, field string, dst *float64, v float64, details audit.Params) error {
	return w.setPath(code, state.CountryPath(code, field), dst, v, details)
}

func (w writer) setPath(code, path string, dst *float64, v float64, details audit.Params) error {
	if !mathx.Finite(v) {
		inputs := audit.Params{"path": path, "value": v}
		for k, d := range details {
			inputs[k] = d
		}
		return &ComputationError{Reducer: w.reducer, Country: code, Reason: path + " is not finite", Inputs: inputs}
	}
	old := *dst
	if old == v {
		return nil
	}
	*dst = v
	w.rec.CaptureFieldChange(path, old, v, w.reducer, w.params, details)
	return nil
}

func fail(reducer, code, reason string, inputs audit.Params) error {
	return &ComputationError{Reducer: reducer, Country: code, Reason: reason, Inputs: inputs}
}
