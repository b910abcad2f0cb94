// Package scenario loads a starting world, its triggers and run parameters
// from JSON or YAML. Input is checked against embedded JSON Schemas before
// it is decoded.
package scenario

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"statecraft.ai/internal/sim/state"
	"statecraft.ai/internal/sim/triggers"
)

const (
	scenarioSchemaURL = "https://statecraft.ai/schemas/scenario.schema.json"
	triggersSchemaURL = "https://statecraft.ai/schemas/triggers.schema.json"
)

//go:embed schemas/*.json
var schemaFS embed.FS

//go:embed examples/three_bloc.yaml examples/triggers.json
var exampleFS embed.FS

type Scenario struct {
	Name        string             `json:"name,omitempty"`
	BaseCountry string             `json:"base_country,omitempty"`
	Turns       int                `json:"turns,omitempty"`
	State       *state.GlobalState `json:"state"`
	Triggers    []triggers.Trigger `json:"triggers,omitempty"`
}

var (
	schemasOnce sync.Once
	scenarioSch *jsonschema.Schema
	triggersSch *jsonschema.Schema
	schemasErr  error
)

func schemas() (*jsonschema.Schema, *jsonschema.Schema, error) {
	schemasOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		for url, name := range map[string]string{
			scenarioSchemaURL: "schemas/scenario.schema.json",
			triggersSchemaURL: "schemas/triggers.schema.json",
		} {
			raw, err := schemaFS.ReadFile(name)
			if err != nil {
				schemasErr = err
				return
			}
			if err := c.AddResource(url, bytes.NewReader(raw)); err != nil {
				schemasErr = fmt.Errorf("schema %s: %w", name, err)
				return
			}
		}
		if scenarioSch, schemasErr = c.Compile(scenarioSchemaURL); schemasErr != nil {
			return
		}
		triggersSch, schemasErr = c.Compile(triggersSchemaURL)
	})
	return scenarioSch, triggersSch, schemasErr
}

// Load reads a scenario file. Files ending in .yaml or .yml are parsed as
// YAML, everything else as JSON. Rules sections the file leaves out are
// taken from defaults.
func Load(path string, defaults state.SimulationRules) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	sc, err := Parse(raw, isYAML(path), defaults)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	if sc.Name == "" {
		sc.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return sc, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Parse validates and decodes one scenario document.
func Parse(raw []byte, asYAML bool, defaults state.SimulationRules) (*Scenario, error) {
	doc, err := toJSON(raw, asYAML)
	if err != nil {
		return nil, err
	}
	sch, _, err := schemas()
	if err != nil {
		return nil, err
	}
	if err := validate(sch, doc); err != nil {
		return nil, err
	}

	sc := &Scenario{State: &state.GlobalState{Rules: defaults.Clone()}}
	if err := json.Unmarshal(doc, sc); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	if err := overlayCountries(sc.State, doc); err != nil {
		return nil, err
	}
	sc.State.Normalize()
	if sc.BaseCountry != "" && sc.State.Countries[sc.BaseCountry] == nil {
		return nil, fmt.Errorf("base_country %q is not in the state", sc.BaseCountry)
	}
	return sc, nil
}

// overlayCountries re-decodes each country onto NewCountry so fields the
// document leaves out keep their construction defaults.
func overlayCountries(g *state.GlobalState, doc []byte) error {
	var shape struct {
		State struct {
			Countries map[string]json.RawMessage `json:"countries"`
		} `json:"state"`
	}
	if err := json.Unmarshal(doc, &shape); err != nil {
		return fmt.Errorf("decode countries: %w", err)
	}
	g.Countries = make(map[string]*state.CountryState, len(shape.State.Countries))
	for code, raw := range shape.State.Countries {
		c := state.NewCountry(code)
		if err := json.Unmarshal(raw, c); err != nil {
			return fmt.Errorf("country %s: %w", code, err)
		}
		c.Code = code
		g.AddCountry(c)
	}
	return nil
}

// ParseTriggers validates and decodes a standalone trigger list.
func ParseTriggers(raw []byte, asYAML bool) ([]triggers.Trigger, error) {
	doc, err := toJSON(raw, asYAML)
	if err != nil {
		return nil, err
	}
	_, sch, err := schemas()
	if err != nil {
		return nil, err
	}
	if err := validate(sch, doc); err != nil {
		return nil, err
	}
	var out []triggers.Trigger
	if err := json.Unmarshal(doc, &out); err != nil {
		return nil, fmt.Errorf("decode triggers: %w", err)
	}
	return out, nil
}

// LoadTriggers reads a trigger list file.
func LoadTriggers(path string) ([]triggers.Trigger, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	out, err := ParseTriggers(raw, isYAML(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return out, nil
}

func toJSON(raw []byte, asYAML bool) ([]byte, error) {
	if !asYAML {
		return raw, nil
	}
	var v any
	if err := yaml.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("yaml to json: %w", err)
	}
	return b, nil
}

func validate(sch *jsonschema.Schema, doc []byte) error {
	var v any
	if err := json.Unmarshal(doc, &v); err != nil {
		return fmt.Errorf("json: %w", err)
	}
	if err := sch.Validate(v); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return fmt.Errorf("schema: %s", ve.Error())
		}
		return fmt.Errorf("schema: %w", err)
	}
	return nil
}

// Check compiles every trigger condition against the scenario's starting
// state and reports the ones the kernel would disable or skip.
func (s *Scenario) Check() []error {
	var errs []error
	seen := map[string]bool{}
	for _, tr := range s.Triggers {
		if seen[tr.Name] {
			errs = append(errs, fmt.Errorf("trigger %q: duplicate name", tr.Name))
			continue
		}
		seen[tr.Name] = true
		if _, err := triggers.Compile(tr.Condition.When, s.State); err != nil {
			errs = append(errs, fmt.Errorf("trigger %q: %w", tr.Name, err))
		}
		if tr.ExpiresAfterTurns != nil && *tr.ExpiresAfterTurns < 0 {
			errs = append(errs, fmt.Errorf("trigger %q: expires_after_turns must not be negative", tr.Name))
		}
	}
	return errs
}

// ExampleTriggers returns the bundled trigger fixtures.
func ExampleTriggers() ([]triggers.Trigger, error) {
	raw, err := exampleFS.ReadFile("examples/triggers.json")
	if err != nil {
		return nil, err
	}
	return ParseTriggers(raw, false)
}

// Example returns the bundled three-bloc scenario with the example
// triggers attached.
func Example(defaults state.SimulationRules) (*Scenario, error) {
	raw, err := exampleFS.ReadFile("examples/three_bloc.yaml")
	if err != nil {
		return nil, err
	}
	sc, err := Parse(raw, true, defaults)
	if err != nil {
		return nil, err
	}
	trigs, err := ExampleTriggers()
	if err != nil {
		return nil, err
	}
	sc.Triggers = append(sc.Triggers, trigs...)
	return sc, nil
}
