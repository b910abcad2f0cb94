package kernel

import (
	"encoding/json"
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"

	"statecraft.ai/internal/sim/audit"
	"statecraft.ai/internal/sim/reducers"
	"statecraft.ai/internal/sim/state"
	"statecraft.ai/internal/sim/triggers"
)

func threeCountryWorld() *state.GlobalState {
	g := state.New("USD")
	for _, spec := range []struct{ code, ccy string }{{"USA", "USD"}, {"EUR", "EUR"}, {"JPN", "JPY"}} {
		c := state.NewCountry(spec.code)
		c.Ccy = spec.ccy
		c.Macro.DebtGDP = 0.8
		c.Macro.Inflation = 0.03
		c.Macro.PolicyRate = 0.02
		c.External.ReservesUSD = 0.4
		c.Trade.ExportsGDP = 0.2
		c.Trade.ImportsGDP = 0.22
		c.Trade.TariffMFNAvg = 0.04
		c.Sentiment.GdeltTone = -2
		c.Sentiment.TrendsSalience = 0.3
		g.AddCountry(c)
	}
	g.Trade.Set("USA", "EUR", 0.4)
	g.Trade.Set("EUR", "USA", 0.3)
	g.Trade.Set("JPN", "USA", 0.5)
	g.Alliance.Set("USA", "JPN", 1)
	g.Alliance.Set("JPN", "USA", 1)
	g.Interbank.Set("EUR", "JPN", 0.1)
	g.IO.Set(reducers.SectorEnergy, reducers.SectorFood, 0.15)
	g.Commodities["oil"] = 80
	g.Commodities["wheat"] = 250
	g.Rules.Regimes.Macro.DemandNoise = 0.005
	g.Rules.RNGSeed = 42
	return g
}

func TestStep_DoesNotMutateInput(t *testing.T) {
	g := threeCountryWorld()
	before := g.Digest()
	out, _ := Step(g, nil, triggers.NewFiredSet(), "USA")
	if g.Digest() != before {
		t.Fatalf("input state mutated")
	}
	if out.T != g.T+1 {
		t.Fatalf("t = %d, want %d", out.T, g.T+1)
	}
	out.Countries["USA"].Macro.GDP = 99
	if g.Countries["USA"].Macro.GDP == 99 {
		t.Fatalf("output shares memory with input")
	}
}

func TestStep_Deterministic(t *testing.T) {
	trigs := []triggers.Trigger{{
		Name:      "tighten",
		Condition: triggers.Condition{When: "country('EUR').macro.inflation > 0.01 && t >= 1"},
		Action: triggers.Action{
			Patches: []triggers.PolicyPatch{{Path: "countries.EUR.macro.sfa", Op: triggers.OpAdd, Value: 0.001}},
			Events:  []triggers.EventInject{{Kind: "demand_shock", Payload: map[string]any{"country": "EUR", "size": -0.01}}},
		},
	}}
	run := func() ([]*state.GlobalState, []audit.StepAudit) {
		g := threeCountryWorld()
		fired := triggers.NewFiredSet()
		var states []*state.GlobalState
		var audits []audit.StepAudit
		for i := 0; i < 6; i++ {
			var a audit.StepAudit
			g, a = Step(g, trigs, fired, "USA")
			states = append(states, g)
			audits = append(audits, a)
		}
		return states, audits
	}
	s1, a1 := run()
	s2, a2 := run()
	if diff := cmp.Diff(s1, s2); diff != "" {
		t.Fatalf("states differ (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(a1, a2); diff != "" {
		t.Fatalf("audits differ (-first +second):\n%s", diff)
	}
	for i := range s1 {
		b1, err := json.Marshal(s1[i])
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		b2, _ := json.Marshal(s2[i])
		if string(b1) != string(b2) {
			t.Fatalf("turn %d: state bytes differ", i)
		}
		j1, err := json.Marshal(a1[i])
		if err != nil {
			t.Fatalf("marshal audit: %v", err)
		}
		j2, _ := json.Marshal(a2[i])
		if string(j1) != string(j2) {
			t.Fatalf("turn %d: audit bytes differ", i)
		}
	}
}

func TestStep_PipelineOrder(t *testing.T) {
	_, a := Step(threeCountryWorld(), nil, nil, "USA")
	want := []string{
		reducers.EventProcessing,
		"belief_diffusion", "unrest_hazard", "security_mobilization", "approval",
		"monetary_policy", "sovereign_yield", "output_gap", "inflation", "labor_market",
		"energy_food", "trade_balance", "debt_dynamics", "bop_settlement",
	}
	for i, name := range want {
		if a.ReducerSequence[i] != name {
			t.Fatalf("sequence[%d] = %q, want %q (%v)", i, a.ReducerSequence[i], name, a.ReducerSequence)
		}
	}
	n := len(a.ReducerSequence)
	tail := []string{"commodity_prices", "fx_drift", "fire_sale", "interbank_loss", audit.SourceAdvanceClock}
	for i, name := range tail {
		if got := a.ReducerSequence[n-len(tail)+i]; got != name {
			t.Fatalf("tail[%d] = %q, want %q", i, got, name)
		}
	}
	if ch := a.Changes("t"); len(ch) != 1 || ch[0].ReducerName != audit.SourceAdvanceClock {
		t.Fatalf("clock change = %+v", ch)
	}
}

func TestStep_InvariantsOverRandomTurns(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	g := threeCountryWorld()
	fired := triggers.NewFiredSet()
	band := g.Rules.Regimes.Prices

	for turn := 0; turn < 1000; turn++ {
		for _, code := range g.CountryCodes() {
			c := g.Countries[code]
			c.Sentiment.GdeltTone = rng.Float64()*20 - 10
			c.Sentiment.TrendsSalience = rng.Float64()
			c.Energy.StockToUse = 0.5 + rng.Float64()
			c.Trade.ExportsGDP = rng.Float64() * 0.5
			c.Trade.ImportsGDP = rng.Float64() * 0.5
			c.Trade.TariffMFNAvg = rng.Float64() * 0.3
			c.Macro.PrimaryBalance = rng.Float64()*0.1 - 0.05
			c.Macro.SFA = rng.Float64()*0.02 - 0.01
			c.Finance.CreditSpread = rng.Float64() * 0.1
		}
		g.Interbank.Set("USA", "EUR", rng.Float64()*0.3)
		g.Sanctions.Set("JPN", "EUR", rng.Float64())
		if turn%50 == 0 {
			g.Events.Pending = append(g.Events.Pending, state.Event{
				Kind:    "demand_shock",
				Payload: map[string]any{"country": "JPN", "size": rng.Float64()*0.1 - 0.05},
			})
		}

		reserves := map[string]float64{}
		for code, c := range g.Countries {
			reserves[code] = c.External.ReservesUSD
		}

		var a audit.StepAudit
		g, a = Step(g, nil, fired, "USA")

		if err := a.Validate(); err != nil {
			t.Fatalf("turn %d: audit: %v", turn, err)
		}
		if errs := a.ErrorsOfKind(audit.KindReducerComputation); len(errs) > 0 {
			t.Fatalf("turn %d: unexpected reducer errors: %+v", turn, errs)
		}
		for code, c := range g.Countries {
			m := c.Macro
			switch {
			case m.DebtGDP < 0:
				t.Fatalf("turn %d %s: debt_gdp %v", turn, code, m.DebtGDP)
			case m.Unemployment < 0 || m.Unemployment > 1:
				t.Fatalf("turn %d %s: unemployment %v", turn, code, m.Unemployment)
			case !(c.External.FXRate > 0):
				t.Fatalf("turn %d %s: fx_rate %v", turn, code, c.External.FXRate)
			case c.Security.ConflictIntensity < 0 || c.Security.ConflictIntensity > 1:
				t.Fatalf("turn %d %s: conflict %v", turn, code, c.Security.ConflictIntensity)
			case c.Sentiment.PolicyPressure < 0 || c.Sentiment.PolicyPressure > 1:
				t.Fatalf("turn %d %s: pressure %v", turn, code, c.Sentiment.PolicyPressure)
			case m.Inflation < band.InflationMin || m.Inflation > band.InflationMax:
				t.Fatalf("turn %d %s: inflation %v", turn, code, m.Inflation)
			case c.Finance.BankTier1Ratio < 0:
				t.Fatalf("turn %d %s: tier1 %v", turn, code, c.Finance.BankTier1Ratio)
			}
			if bad := c.NonFinite(); len(bad) > 0 {
				t.Fatalf("turn %d %s: non-finite %v", turn, code, bad)
			}
			dR := (c.External.ReservesUSD - reserves[code]) / m.GDP
			if r := c.External.CurrentAccountGDP + dR + c.External.NetErrorsOmissionsGDP; math.Abs(r) > 1e-6 {
				t.Fatalf("turn %d %s: BOP residual %v", turn, code, r)
			}
		}
	}
}

func TestStep_OnceTriggerFiresOnceOver20Turns(t *testing.T) {
	g := threeCountryWorld()
	fired := triggers.NewFiredSet()
	trigs := []triggers.Trigger{{
		Name:      "always",
		Condition: triggers.Condition{When: "t >= 0", Once: true},
		Action: triggers.Action{Patches: []triggers.PolicyPatch{
			{Path: "countries.USA.macro.sfa", Op: triggers.OpAdd, Value: 0.01},
		}},
	}}
	count := 0
	for i := 0; i < 20; i++ {
		var a audit.StepAudit
		g, a = Step(g, trigs, fired, "USA")
		count += len(a.TriggersFired)
	}
	if count != 1 {
		t.Fatalf("once trigger fired %d times", count)
	}
	if *fired.LastFired["always"] != 0 {
		t.Fatalf("last fired = %d", *fired.LastFired["always"])
	}
}

func TestScenarioA_MonetaryConvergence(t *testing.T) {
	g := state.New("USD")
	c := state.NewCountry("USA")
	c.Ccy = "USD"
	c.Macro.Inflation = 0.08
	c.Macro.InflationTarget = 0.02
	c.Macro.PolicyRate = 0.02
	c.Macro.NeutralRate = 0.02
	g.AddCountry(c)
	fired := triggers.NewFiredSet()

	decreases := 0
	for i := 0; i < 10; i++ {
		prev := g.Countries["USA"].Macro
		g, _ = Step(g, nil, fired, "USA")
		next := g.Countries["USA"].Macro
		if next.Inflation < prev.Inflation {
			decreases++
		}
		if prev.Inflation > prev.InflationTarget && next.PolicyRate < prev.PolicyRate {
			t.Fatalf("turn %d: policy cut from %v to %v with inflation %v above target", i, prev.PolicyRate, next.PolicyRate, prev.Inflation)
		}
	}
	if decreases < 8 {
		t.Fatalf("inflation decreased in only %d of 10 turns", decreases)
	}
	final := g.Countries["USA"].Macro
	if math.Abs(final.Inflation-final.InflationTarget) > 0.005 {
		t.Fatalf("final inflation %v not within 0.5pp of target", final.Inflation)
	}
}

func TestScenarioB_TriggerPatchAtT3(t *testing.T) {
	g := threeCountryWorld()
	original := g.Rules.Regimes.Trade.TariffMultiplier
	fired := triggers.NewFiredSet()
	trigs := []triggers.Trigger{{
		Name:      "tariff_hike",
		Condition: triggers.Condition{When: "t>=3", Once: true},
		Action: triggers.Action{Patches: []triggers.PolicyPatch{
			{Path: "rules.regimes.trade.tariff_multiplier", Op: triggers.OpSet, Value: 2.0},
		}},
	}}
	firedAt := []int{}
	for i := 0; i < 5; i++ {
		var a audit.StepAudit
		g, a = Step(g, trigs, fired, "USA")
		got := g.Rules.Regimes.Trade.TariffMultiplier
		if a.Timestep < 3 && got != original {
			t.Fatalf("t=%d: multiplier %v before the trigger", a.Timestep, got)
		}
		if a.Timestep >= 3 && got != 2.0 {
			t.Fatalf("t=%d: multiplier %v after the trigger", a.Timestep, got)
		}
		for _, name := range a.TriggersFired {
			if name == "tariff_hike" {
				firedAt = append(firedAt, a.Timestep)
			}
		}
	}
	if len(firedAt) != 1 || firedAt[0] != 3 {
		t.Fatalf("fired at %v, want [3]", firedAt)
	}
}

func TestScenarioC_Contagion(t *testing.T) {
	g := state.New("USD")
	lender := state.NewCountry("USA")
	lender.Ccy = "USD"
	borrower := state.NewCountry("EUR")
	borrower.Ccy = "EUR"
	borrower.Finance.CreditSpread = 0.08
	g.AddCountry(lender)
	g.AddCountry(borrower)
	g.Interbank.Set("USA", "EUR", 0.2)

	before := lender.Finance.BankTier1Ratio
	out, a := Step(g, nil, triggers.NewFiredSet(), "USA")
	after := out.Countries["USA"].Finance.BankTier1Ratio
	if !(after < before) {
		t.Fatalf("lender tier1 %v -> %v, want a strict decrease", before, after)
	}
	if !a.Ran("interbank_loss") {
		t.Fatalf("interbank_loss missing from %v", a.ReducerSequence)
	}
	if len(a.Changes("countries.USA.finance.bank_tier1_ratio")) != 1 {
		t.Fatalf("tier1 change not audited")
	}
}

func TestStep_ReducerFailureIsContained(t *testing.T) {
	g := threeCountryWorld()
	g.Rules.Invariants.ClampInflation = false
	g.Countries["EUR"].Macro.Inflation = -2
	debtBefore := g.Countries["EUR"].Macro.DebtGDP

	out, a := Step(g, nil, nil, "USA")
	errs := a.ErrorsOfKind(audit.KindReducerComputation)
	if len(errs) != 1 || errs[0].Source != "debt_dynamics" || errs[0].Country != "EUR" {
		t.Fatalf("errors = %+v", a.Errors)
	}
	if out.Countries["EUR"].Macro.DebtGDP != debtBefore {
		t.Fatalf("failed reducer left a partial write")
	}
	if len(a.Changes("countries.EUR.macro.debt_gdp")) != 0 {
		t.Fatalf("rolled-back change still audited")
	}
	if len(a.Changes("countries.USA.macro.debt_gdp")) != 1 {
		t.Fatalf("other countries should keep advancing")
	}
	if out.T != g.T+1 {
		t.Fatalf("turn did not complete")
	}
	if err := a.Validate(); err != nil {
		t.Fatalf("audit: %v", err)
	}
}

func TestRunCountry_RecoversPanics(t *testing.T) {
	g := threeCountryWorld()
	rec := audit.NewRecorder(g.T)
	env := reducers.Env{T: g.T, Rules: &g.Rules, World: g, Scratch: reducers.NewScratch()}
	boom := reducers.CountryReducer{Name: "boom", Fn: func(c *state.CountryState, _ reducers.Env, rec *audit.Recorder) error {
		rec.CaptureFieldChange("countries.USA.macro.gdp", c.Macro.GDP, 5.0, "boom", nil, nil)
		c.Macro.GDP = 5
		panic("kaboom")
	}}
	New().runCountry(g, boom, "USA", env, rec)
	nan := reducers.CountryReducer{Name: "nan", Fn: func(c *state.CountryState, _ reducers.Env, _ *audit.Recorder) error {
		c.Finance.CreditSpread = math.NaN()
		return nil
	}}
	New().runCountry(g, nan, "USA", env, rec)

	if g.Countries["USA"].Macro.GDP != 1 || math.IsNaN(g.Countries["USA"].Finance.CreditSpread) {
		t.Fatalf("state not restored: %+v", g.Countries["USA"].Macro)
	}
	a := rec.Finalize()
	if len(a.FieldChanges) != 0 || len(a.Errors) != 2 {
		t.Fatalf("audit = %+v", a)
	}
}

func TestStep_BaseCountryResolution(t *testing.T) {
	g := threeCountryWorld()
	_, a := Step(g, nil, nil, "")
	if len(a.ErrorsOfKind(audit.KindReducerComputation)) != 0 {
		t.Fatalf("base should resolve from base_ccy: %+v", a.Errors)
	}

	g.BaseCcy = "CHF"
	out, a := Step(g, nil, nil, "")
	errs := a.ErrorsOfKind(audit.KindReducerComputation)
	if len(errs) != 1 || errs[0].Source != "fx_drift" {
		t.Fatalf("errors = %+v", a.Errors)
	}
	if out.Countries["EUR"].External.FXRate != 1 {
		t.Fatalf("fx moved without a base")
	}

	_, a = Step(g, nil, nil, "XXX")
	if len(a.ErrorsOfKind(audit.KindValidation)) != 1 {
		t.Fatalf("unknown base country not reported: %+v", a.Errors)
	}
}

func TestStep_InjectedEventsApplyNextTurn(t *testing.T) {
	g := threeCountryWorld()
	fired := triggers.NewFiredSet()
	trigs := []triggers.Trigger{{
		Name:      "spike",
		Condition: triggers.Condition{When: "t == 0", Once: true},
		Action: triggers.Action{Events: []triggers.EventInject{
			{Kind: "unrest_spike", Payload: map[string]any{"country": "JPN", "intensity": 0.5}},
		}},
	}}
	g1, _ := Step(g, trigs, fired, "USA")
	if len(g1.Events.Pending) != 1 || len(g1.Events.Processed) != 0 {
		t.Fatalf("event should wait for the next turn: %+v", g1.Events)
	}
	g2, a := Step(g1, trigs, fired, "USA")
	if len(g2.Events.Pending) != 0 || len(g2.Events.Processed) != 1 {
		t.Fatalf("event not drained: %+v", g2.Events)
	}
	if len(a.Changes("countries.JPN.security.conflict_intensity")) == 0 {
		t.Fatalf("unrest spike not audited")
	}
}

func TestStep_TriggersSeeIncomingState(t *testing.T) {
	g := threeCountryWorld()
	g.Events.Pending = []state.Event{{
		Kind:    "unrest_spike",
		Payload: map[string]any{"country": "JPN", "intensity": 0.6},
	}}
	fired := triggers.NewFiredSet()
	trigs := []triggers.Trigger{{
		Name:      "unrest",
		Condition: triggers.Condition{When: "country('JPN').security.conflict_intensity > 0.3", Once: true},
		Action: triggers.Action{Patches: []triggers.PolicyPatch{
			{Path: "rules.regimes.trade.tariff_multiplier", Op: "set", Value: 2.0},
		}},
	}}

	g1, a := Step(g, trigs, fired, "USA")
	if len(a.TriggersFired) != 0 {
		t.Fatalf("trigger fired on post-event state: %v", a.TriggersFired)
	}
	if len(g1.Events.Processed) != 1 {
		t.Fatalf("pending event not drained: %+v", g1.Events)
	}
	if ch := a.Changes("countries.JPN.security.conflict_intensity"); len(ch) == 0 || ch[0].ReducerName != reducers.EventProcessing {
		t.Fatalf("unrest spike not applied by event_processing: %+v", ch)
	}
	if g1.Rules.Regimes.Trade.TariffMultiplier == 2.0 {
		t.Fatalf("patch applied before the condition held")
	}

	_, a = Step(g1, trigs, fired, "USA")
	if len(a.TriggersFired) != 1 || a.TriggersFired[0] != "unrest" {
		t.Fatalf("trigger should fire once the incoming state crosses: %v", a.TriggersFired)
	}
}

func TestRunTriggers_RecoversPanics(t *testing.T) {
	g := threeCountryWorld()
	fired := triggers.NewFiredSet()
	rec := audit.NewRecorder(g.T)
	New().runTriggers(g, fired, rec, func(g *state.GlobalState, fired *triggers.FiredSet, rec *audit.Recorder) {
		rec.CaptureFieldChange("rules.regimes.trade.tariff_multiplier", 1.0, 3.0, "policy_patch", nil, nil)
		g.Rules.Regimes.Trade.TariffMultiplier = 3
		t0 := g.T
		fired.LastFired["boom"] = &t0
		rec.AddTriggerFired("boom")
		panic("kaboom")
	})

	if g.Rules.Regimes.Trade.TariffMultiplier == 3 {
		t.Fatalf("state not restored")
	}
	if fired.Fired("boom") {
		t.Fatalf("fired set not restored")
	}
	a := rec.Finalize()
	if len(a.FieldChanges) != 0 || len(a.TriggersFired) != 0 {
		t.Fatalf("audit not rolled back: %+v", a)
	}
	errs := a.ErrorsOfKind(audit.KindValidation)
	if len(errs) != 1 || errs[0].Source != triggerStage {
		t.Fatalf("errors = %+v", a.Errors)
	}
}

func TestStep_BOPClosesWithoutBPM6(t *testing.T) {
	g := threeCountryWorld()
	g.Rules.Invariants.BPM6 = false
	eur := g.Countries["EUR"]
	eur.External.ReservesUSD = 0.01
	eur.Trade.ExportsGDP = 0.6
	eur.Trade.ImportsGDP = 0.1

	out, a := Step(g, nil, nil, "USA")
	if errs := a.ErrorsOfKind(audit.KindReducerComputation); len(errs) > 0 {
		t.Fatalf("unexpected errors: %+v", errs)
	}
	c := out.Countries["EUR"]
	if c.External.CurrentAccountGDP <= 0 {
		t.Fatalf("expected a surplus, got %v", c.External.CurrentAccountGDP)
	}
	if c.External.NetErrorsOmissionsGDP != 0 {
		t.Fatalf("errors and omissions used without bpm6: %v", c.External.NetErrorsOmissionsGDP)
	}
	dR := (c.External.ReservesUSD - 0.01) / c.Macro.GDP
	if r := c.External.CurrentAccountGDP + dR; math.Abs(r) > 1e-9 {
		t.Fatalf("BOP residual %v", r)
	}
}

func TestStep_NilState(t *testing.T) {
	out, a := Step(nil, nil, nil, "")
	if out != nil || len(a.Errors) != 1 {
		t.Fatalf("nil state should yield a validation error")
	}
}
