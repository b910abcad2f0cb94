package scenario

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statecraft.ai/internal/sim/kernel"
	"statecraft.ai/internal/sim/state"
	"statecraft.ai/internal/sim/triggers"
)

func TestExample_LoadsAndSteps(t *testing.T) {
	sc, err := Example(state.DefaultRules())
	require.NoError(t, err)

	assert.Equal(t, "three_bloc", sc.Name)
	assert.Equal(t, "USA", sc.BaseCountry)
	assert.Equal(t, 12, sc.Turns)
	require.Len(t, sc.State.Countries, 3)
	assert.Equal(t, int64(2025), sc.State.Rules.RNGSeed)
	assert.Equal(t, 0.002, sc.State.Rules.Regimes.Macro.DemandNoise)
	// Sections the file leaves out come from the defaults.
	assert.Equal(t, 0.7, sc.State.Rules.Regimes.Macro.GapPersistence)
	assert.Equal(t, 0.35, sc.State.Trade.Weight("USA", "EUR"))
	assert.Empty(t, sc.Check())
	require.Len(t, sc.Triggers, 4)

	g := sc.State
	fired := triggers.NewFiredSet()
	for i := 0; i < sc.Turns; i++ {
		next, a := kernel.Step(g, sc.Triggers, fired, sc.BaseCountry)
		require.NoError(t, a.Validate())
		g = next
	}
	assert.Equal(t, sc.Turns, g.T)
	assert.Equal(t, 2.0, g.Rules.Regimes.Trade.TariffMultiplier)
	require.NotNil(t, fired.LastFired["tariff_escalation"])
	assert.Equal(t, 3, *fired.LastFired["tariff_escalation"])
}

func TestParse_CountryDefaultsSurvivePartialInput(t *testing.T) {
	sc, err := Parse([]byte(`{"state":{"countries":{"USA":{"macro":{"inflation":0.04}}}}}`), false, state.DefaultRules())
	require.NoError(t, err)
	c := sc.State.Countries["USA"]
	require.NotNil(t, c)
	assert.Equal(t, "USA", c.Code)
	assert.Equal(t, 0.04, c.Macro.Inflation)
	assert.Equal(t, 1.0, c.Macro.PotentialGDP)
	assert.Equal(t, 0.12, c.Finance.BankTier1Ratio)
	assert.NotNil(t, sc.State.Interbank)
}

func TestParse_Rejects(t *testing.T) {
	cases := map[string]string{
		"no state":       `{"name":"x"}`,
		"no countries":   `{"state":{"countries":{}}}`,
		"string field":   `{"state":{"countries":{"USA":{"macro":{"gdp":"big"}}}}}`,
		"unknown slice":  `{"state":{"countries":{"USA":{"weather":{"rain":1}}}}}`,
		"negative price": `{"state":{"countries":{"USA":{}},"commodities":{"oil":-1}}}`,
		"bad op":         `{"state":{"countries":{"USA":{}}},"triggers":[{"name":"a","condition":{"when":"t>1"},"action":{"patches":[{"path":"t","op":"div","value":1}]}}]}`,
		"missing when":   `{"state":{"countries":{"USA":{}}},"triggers":[{"name":"a","condition":{},"action":{}}]}`,
		"unknown base":   `{"base_country":"CHE","state":{"countries":{"USA":{}}}}`,
		"not json":       `{"state":`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc), false, state.DefaultRules())
			require.Error(t, err)
		})
	}
}

func TestLoad_YAMLFileNamesScenario(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mini.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
state:
  base_ccy: USD
  countries:
    USA: {ccy: USD}
triggers:
  - name: hike
    condition: {when: "t >= 1", once: true}
    action:
      patches:
        - {path: countries.USA.macro.policy_rate, op: add, value: 0.01}
`), 0o644))

	sc, err := Load(path, state.DefaultRules())
	require.NoError(t, err)
	assert.Equal(t, "mini", sc.Name)
	require.Len(t, sc.Triggers, 1)
	assert.Equal(t, triggers.OpAdd, sc.Triggers[0].Action.Patches[0].Op)
	assert.Equal(t, 0.01, sc.Triggers[0].Action.Patches[0].Value)
}

func TestCheck_ReportsBadConditions(t *testing.T) {
	sc, err := Parse([]byte(`{
		"state":{"countries":{"USA":{}}},
		"triggers":[
			{"name":"a","condition":{"when":"countries.FRA.macro.gdp > 1"},"action":{}},
			{"name":"b","condition":{"when":"t >= 1"},"action":{}},
			{"name":"b","condition":{"when":"t >= 2"},"action":{}},
			{"name":"c","condition":{"when":"t >"},"action":{}}
		]}`), false, state.DefaultRules())
	require.NoError(t, err)
	assert.Len(t, sc.Check(), 3)
}

func TestExampleTriggers(t *testing.T) {
	trigs, err := ExampleTriggers()
	require.NoError(t, err)
	names := make([]string, 0, len(trigs))
	for _, tr := range trigs {
		names = append(names, tr.Name)
	}
	assert.Equal(t, []string{"tariff_escalation", "inflation_mandate", "sanctions_round", "oil_supply_cut"}, names)
	require.NotNil(t, trigs[1].ExpiresAfterTurns)
	assert.Equal(t, 12, *trigs[1].ExpiresAfterTurns)
}
