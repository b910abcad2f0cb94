package triggers

import (
	"errors"
	"testing"

	"statecraft.ai/internal/sim/audit"
	"statecraft.ai/internal/sim/state"
)

func intp(n int) *int { return &n }

func tariffTrigger(name string, v float64) Trigger {
	return Trigger{
		Name:      name,
		Condition: Condition{When: "t >= 0"},
		Action: Action{Patches: []PolicyPatch{
			{Path: "rules.regimes.trade.tariff_multiplier", Op: OpSet, Value: v},
		}},
	}
}

func TestRun_LastDeclaredWins(t *testing.T) {
	g := testWorld()
	rec := audit.NewRecorder(g.T)
	names := Run(g, []Trigger{tariffTrigger("a", 2), tariffTrigger("b", 3)}, NewFiredSet(), rec)
	if len(names) != 2 {
		t.Fatalf("fired = %v", names)
	}
	if g.Rules.Regimes.Trade.TariffMultiplier != 3 {
		t.Fatalf("tariff_multiplier = %v", g.Rules.Regimes.Trade.TariffMultiplier)
	}
	a := rec.Finalize()
	ch := a.Changes("rules.regimes.trade.tariff_multiplier")
	if len(ch) != 1 || ch[0].OldValue != 1.0 || ch[0].NewValue != 3.0 {
		t.Fatalf("coalesced change = %+v", ch)
	}
	if err := a.Validate(); err != nil {
		t.Fatalf("audit: %v", err)
	}
}

func TestRun_EvaluatesAgainstPreActionState(t *testing.T) {
	g := testWorld()
	first := tariffTrigger("raise", 2)
	second := Trigger{
		Name:      "react",
		Condition: Condition{When: "rules.regimes.trade.tariff_multiplier == 2"},
		Action:    Action{Patches: []PolicyPatch{{Path: "countries.USA.macro.sfa", Op: OpAdd, Value: 0.01}}},
	}
	names := Run(g, []Trigger{first, second}, NewFiredSet(), audit.NewRecorder(g.T))
	if len(names) != 1 || names[0] != "raise" {
		t.Fatalf("fired = %v", names)
	}
}

func TestRun_OnceAndExpiry(t *testing.T) {
	g := testWorld()
	fired := NewFiredSet()
	once := tariffTrigger("once", 2)
	once.Condition.Once = true
	exp := tariffTrigger("expiring", 4)
	exp.ExpiresAfterTurns = intp(2)
	never := Trigger{Name: "never", Condition: Condition{When: "t > 100"}, ExpiresAfterTurns: intp(3)}

	var log [][]string
	for turn := 2; turn < 8; turn++ {
		g.T = turn
		log = append(log, Run(g, []Trigger{once, exp, never}, fired, audit.NewRecorder(turn)))
	}
	count := map[string]int{}
	for _, names := range log {
		for _, n := range names {
			count[n]++
		}
	}
	if count["once"] != 1 {
		t.Fatalf("once fired %d times", count["once"])
	}
	// Fires every turn, so the anchor keeps moving and it never expires.
	if count["expiring"] != 6 {
		t.Fatalf("expiring fired %d times", count["expiring"])
	}
	if !fired.Expired(never, 5) || fired.Expired(never, 4) {
		t.Fatalf("never-fired trigger should expire 3 turns after first sight")
	}
}

func TestRun_ExpiryAfterLastFire(t *testing.T) {
	g := testWorld()
	fired := NewFiredSet()
	tr := Trigger{Name: "early", Condition: Condition{When: "t <= 2"}, ExpiresAfterTurns: intp(2)}
	for turn := 2; turn < 6; turn++ {
		g.T = turn
		Run(g, []Trigger{tr}, fired, audit.NewRecorder(turn))
	}
	if *fired.LastFired["early"] != 2 {
		t.Fatalf("last fired = %v", *fired.LastFired["early"])
	}
	if !fired.Expired(tr, 4) || fired.Expired(tr, 3) {
		t.Fatalf("expiry should count from the last fire")
	}
}

func TestRun_ParseErrorDisablesTrigger(t *testing.T) {
	g := testWorld()
	fired := NewFiredSet()
	bad := Trigger{Name: "bad", Condition: Condition{When: "t >>= 3"}}
	good := tariffTrigger("good", 2)
	rec := audit.NewRecorder(g.T)
	names := Run(g, []Trigger{bad, good}, fired, rec)
	if len(names) != 1 || names[0] != "good" {
		t.Fatalf("fired = %v", names)
	}
	if _, ok := fired.Disabled["bad"]; !ok {
		t.Fatalf("bad trigger not disabled")
	}
	if len(rec.Finalize().ErrorsOfKind(audit.KindDSLParse)) != 1 {
		t.Fatalf("expected one dsl_parse error")
	}
	rec = audit.NewRecorder(g.T)
	Run(g, []Trigger{bad}, fired, rec)
	if n := len(rec.Finalize().Errors); n != 0 {
		t.Fatalf("disabled trigger re-reported %d errors", n)
	}
}

func TestApply_ValidationErrors(t *testing.T) {
	g := testWorld()
	tr := Trigger{Name: "mixed", Action: Action{
		Patches: []PolicyPatch{
			{Path: "countries.USA.macro.nope", Op: OpSet, Value: 1.0},
			{Path: "countries.USA.macro.unemployment", Op: OpSet, Value: "high"},
			{Path: "countries.USA.macro.unemployment", Op: OpAdd, Value: 2.0},
			{Path: "rules.regimes.monetary.rule", Op: OpMul, Value: 2.0},
			{Path: "countries.USA.macro.sfa", Op: "pow", Value: 2.0},
			{Path: "countries.USA.macro.policy_rate", Op: OpMul, Value: 0},
			{Path: "countries.USA.macro.sfa", Op: OpAdd, Value: 0.02},
		},
		Overrides: []ReducerOverride{
			{Target: "weather", ImplName: "standard"},
			{Target: "monetary_policy", ImplName: "gold"},
			{Target: "inflation", ImplName: "nkpc"},
		},
		NetworkRewrites: []NetworkRewrite{
			{Layer: "gossip", Edits: []Edge{{From: "USA", To: "EUR", Weight: 1}}},
			{Layer: "alliance", Edits: []Edge{{From: "USA", To: "XXX", Weight: 1}}},
			{Layer: "alliance", Edits: []Edge{{From: "USA", To: "EUR", Weight: 0.7}}},
		},
		Events: []EventInject{
			{Kind: ""},
			{Kind: "demand_shock", Payload: map[string]any{"country": "USA", "size": []int{1}}},
			{Kind: "demand_shock", Payload: map[string]any{"country": "USA", "size": 0.01}},
		},
	}}
	rec := audit.NewRecorder(g.T)
	errs := Apply(g, tr, rec)
	if len(errs) != 11 {
		for _, e := range errs {
			t.Log(e)
		}
		t.Fatalf("got %d validation errors, want 11", len(errs))
	}
	for _, err := range errs {
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("not a ValidationError: %v", err)
		}
	}
	us := g.Countries["USA"]
	if us.Macro.SFA != 0.02 || us.Macro.Unemployment != 0.05 {
		t.Fatalf("sfa %v unemployment %v", us.Macro.SFA, us.Macro.Unemployment)
	}
	if g.Rules.InflationImplFor() != state.InflationNKPC {
		t.Fatalf("valid override not applied")
	}
	if g.Alliance.Weight("USA", "EUR") != 0.7 || g.Alliance.Weight("USA", "XXX") != 0 {
		t.Fatalf("alliance = %v", g.Alliance)
	}
	if len(g.Events.Pending) != 1 || g.Events.Pending[0].Turn != g.T {
		t.Fatalf("pending = %+v", g.Events.Pending)
	}
	if err := rec.Finalize().Validate(); err != nil {
		t.Fatalf("audit: %v", err)
	}
}

func TestApply_RejectsNegativeExposure(t *testing.T) {
	g := testWorld()
	g.Interbank.Set("USA", "EUR", 0.3)
	tr := Trigger{Name: "flip", Action: Action{NetworkRewrites: []NetworkRewrite{
		{Layer: "interbank", Edits: []Edge{{From: "USA", To: "EUR", Weight: -0.5}}},
		{Layer: "alliance", Edits: []Edge{{From: "USA", To: "EUR", Weight: -1}}},
		{Layer: "sanctions", Edits: []Edge{{From: "USA", To: "EUR", Weight: 0.5}}},
	}}}
	rec := audit.NewRecorder(g.T)
	errs := Apply(g, tr, rec)
	if len(errs) != 2 {
		t.Fatalf("errs = %v", errs)
	}
	if g.Interbank.Weight("USA", "EUR") != 0.3 || g.Alliance.Weight("USA", "EUR") != 0 {
		t.Fatalf("negative edits applied: interbank %v alliance %v", g.Interbank, g.Alliance)
	}
	if g.Sanctions.Weight("USA", "EUR") != 0.5 {
		t.Fatalf("valid rewrite not applied")
	}
}

func TestRun_DuplicateNamesSkipped(t *testing.T) {
	g := testWorld()
	rec := audit.NewRecorder(g.T)
	names := Run(g, []Trigger{tariffTrigger("x", 2), tariffTrigger("x", 3)}, NewFiredSet(), rec)
	if len(names) != 1 || g.Rules.Regimes.Trade.TariffMultiplier != 2 {
		t.Fatalf("fired %v tariff %v", names, g.Rules.Regimes.Trade.TariffMultiplier)
	}
	if len(rec.Finalize().ErrorsOfKind(audit.KindValidation)) != 1 {
		t.Fatalf("duplicate not reported")
	}
}
