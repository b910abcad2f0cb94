// Package audit records what happened during one turn: which reducers ran,
// every field they changed, which triggers fired and what failed.
package audit

import (
	"fmt"
	"math"
)

type ErrorKind string

const (
	KindValidation         ErrorKind = "validation"
	KindReducerComputation ErrorKind = "reducer_computation"
	KindDSLParse           ErrorKind = "dsl_parse"
)

// Reducer names used for mutations that do not come from a reducer.
const (
	SourcePolicyPatch     = "policy_patch"
	SourceReducerOverride = "reducer_override"
	SourceNetworkRewrite  = "network_rewrite"
	SourceEventInjection  = "event_injection"
	SourceAdvanceClock    = "advance_clock"
)

type Params map[string]any

type FieldChange struct {
	FieldPath          string `json:"field_path"`
	OldValue           any    `json:"old_value"`
	NewValue           any    `json:"new_value"`
	ReducerName        string `json:"reducer_name"`
	ReducerParams      Params `json:"reducer_params,omitempty"`
	CalculationDetails Params `json:"calculation_details,omitempty"`
}

type Error struct {
	Kind    ErrorKind `json:"kind"`
	Source  string    `json:"source"`
	Country string    `json:"country,omitempty"`
	Message string    `json:"message"`
	Inputs  Params    `json:"inputs,omitempty"`
}

type StepAudit struct {
	Timestep        int           `json:"timestep"`
	ReducerSequence []string      `json:"reducer_sequence"`
	FieldChanges    []FieldChange `json:"field_changes"`
	TriggersFired   []string      `json:"triggers_fired"`
	Errors          []Error       `json:"errors"`
}

// Validate checks the structural invariants: every change names a reducer
// that ran, and no (reducer, path) pair is recorded twice.
func (a StepAudit) Validate() error {
	ran := make(map[string]bool, len(a.ReducerSequence))
	for _, name := range a.ReducerSequence {
		ran[name] = true
	}
	seen := make(map[changeKey]bool, len(a.FieldChanges))
	for i, fc := range a.FieldChanges {
		if !ran[fc.ReducerName] {
			return fmt.Errorf("field change %d (%s) names reducer %q missing from reducer_sequence", i, fc.FieldPath, fc.ReducerName)
		}
		k := changeKey{fc.ReducerName, fc.FieldPath}
		if seen[k] {
			return fmt.Errorf("field change %d duplicates %s/%s", i, fc.ReducerName, fc.FieldPath)
		}
		seen[k] = true
	}
	return nil
}

// Changes returns the recorded changes of one field path in capture order.
func (a StepAudit) Changes(path string) []FieldChange {
	var out []FieldChange
	for _, fc := range a.FieldChanges {
		if fc.FieldPath == path {
			out = append(out, fc)
		}
	}
	return out
}

func (a StepAudit) Ran(reducer string) bool {
	for _, name := range a.ReducerSequence {
		if name == reducer {
			return true
		}
	}
	return false
}

func (a StepAudit) ErrorsOfKind(kind ErrorKind) []Error {
	var out []Error
	for _, e := range a.Errors {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// Value converts v into a JSON primitive. Non-finite floats become strings
// so an audit always marshals.
func Value(v any) any {
	switch x := v.(type) {
	case nil, bool, string, int, int64:
		return x
	case float64:
		return finiteOrString(x)
	case float32:
		return finiteOrString(float64(x))
	case int32:
		return int64(x)
	case uint64:
		return x
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

func finiteOrString(f float64) any {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "+Inf"
	case math.IsInf(f, -1):
		return "-Inf"
	}
	return f
}

func sanitize(p Params) Params {
	if len(p) == 0 {
		return nil
	}
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = Value(v)
	}
	return out
}
