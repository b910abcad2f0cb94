// Package tuning loads the default simulation rules and runner cadence from
// tuning.yaml. Scenarios that omit rules sections inherit these values.
package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"statecraft.ai/internal/sim/state"
)

type Tuning struct {
	Rules state.SimulationRules `yaml:"rules"`

	SnapshotEveryTurns int `yaml:"snapshot_every_turns"`
	DefaultTurns       int `yaml:"default_turns"`
	BatchConcurrency   int `yaml:"batch_concurrency"`
}

// Defaults mirrors configs/tuning.yaml for runs without a config file.
func Defaults() Tuning {
	return Tuning{
		Rules:              state.DefaultRules(),
		SnapshotEveryTurns: 10,
		DefaultTurns:       20,
		BatchConcurrency:   4,
	}
}

// Load overlays the file at path onto Defaults. Keys absent from the file
// keep their default values.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if t.SnapshotEveryTurns < 0 {
		return fmt.Errorf("snapshot_every_turns must be >= 0, got %d", t.SnapshotEveryTurns)
	}
	if t.DefaultTurns < 0 {
		return fmt.Errorf("default_turns must be >= 0, got %d", t.DefaultTurns)
	}
	if t.BatchConcurrency < 0 {
		return fmt.Errorf("batch_concurrency must be >= 0, got %d", t.BatchConcurrency)
	}
	if bad := t.Rules.InvalidImpls(); len(bad) > 0 {
		return fmt.Errorf("rules.active_impls: unknown implementations %v", bad)
	}
	p := t.Rules.Regimes.Prices
	if p.InflationMin > p.InflationMax {
		return fmt.Errorf("rules.regimes.prices: inflation_min %v > inflation_max %v", p.InflationMin, p.InflationMax)
	}
	if !state.ValidFrequency(t.Rules.Calendar.Frequency) {
		return fmt.Errorf("rules.calendar.frequency: unknown value %q", t.Rules.Calendar.Frequency)
	}
	return nil
}
