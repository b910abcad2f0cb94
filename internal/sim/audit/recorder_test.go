package audit

import (
	"encoding/json"
	"math"
	"testing"
)

func TestRecorder_CoalescesSameReducerAndPath(t *testing.T) {
	r := NewRecorder(4)
	r.AddReducer("monetary_policy")
	r.CaptureFieldChange("countries.USA.macro.policy_rate", 0.02, 0.03, "monetary_policy", nil, Params{"step": 1})
	r.CaptureFieldChange("countries.USA.macro.policy_rate", 0.03, 0.04, "monetary_policy", nil, Params{"step": 2})

	a := r.Finalize()
	if len(a.FieldChanges) != 1 {
		t.Fatalf("expected one coalesced change, got %d", len(a.FieldChanges))
	}
	fc := a.FieldChanges[0]
	if fc.OldValue != 0.02 || fc.NewValue != 0.04 {
		t.Fatalf("coalesced old/new = %v/%v", fc.OldValue, fc.NewValue)
	}
	if fc.CalculationDetails["step"] != 2 {
		t.Fatalf("details should come from the latest capture: %v", fc.CalculationDetails)
	}
	if a.Timestep != 4 {
		t.Fatalf("timestep = %d", a.Timestep)
	}
	if err := a.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestRecorder_CollapsesConsecutiveReducerNames(t *testing.T) {
	r := NewRecorder(0)
	for _, n := range []string{"a", "a", "b", "a", "a"} {
		r.AddReducer(n)
	}
	a := r.Finalize()
	want := []string{"a", "b", "a"}
	if len(a.ReducerSequence) != len(want) {
		t.Fatalf("sequence = %v", a.ReducerSequence)
	}
	for i := range want {
		if a.ReducerSequence[i] != want[i] {
			t.Fatalf("sequence = %v", a.ReducerSequence)
		}
	}
}

func TestRecorder_RollbackRestoresCoalescedEntries(t *testing.T) {
	r := NewRecorder(0)
	r.AddReducer("fire_sale")
	r.CaptureFieldChange("countries.A.finance.credit_spread", 0.01, 0.015, "fire_sale", nil, nil)

	m := r.Mark()
	r.CaptureFieldChange("countries.A.finance.credit_spread", 0.015, 0.02, "fire_sale", nil, nil)
	r.CaptureFieldChange("countries.B.finance.credit_spread", 0.01, 0.015, "fire_sale", nil, nil)
	r.Rollback(m)

	a := r.Finalize()
	if len(a.FieldChanges) != 1 {
		t.Fatalf("rollback left %d changes", len(a.FieldChanges))
	}
	if a.FieldChanges[0].NewValue != 0.015 {
		t.Fatalf("coalesced entry not restored: %v", a.FieldChanges[0].NewValue)
	}
	if !a.Ran("fire_sale") {
		t.Fatalf("reducer name should survive rollback")
	}
}

func TestRecorder_RollbackThenRecapture(t *testing.T) {
	r := NewRecorder(0)
	r.AddReducer("x")
	m := r.Mark()
	r.CaptureFieldChange("p", 1.0, 2.0, "x", nil, nil)
	r.Rollback(m)
	r.CaptureFieldChange("p", 1.0, 3.0, "x", nil, nil)
	a := r.Finalize()
	if len(a.FieldChanges) != 1 || a.FieldChanges[0].NewValue != 3.0 {
		t.Fatalf("changes = %+v", a.FieldChanges)
	}
}

func TestFinalize_FreezesRecorder(t *testing.T) {
	r := NewRecorder(0)
	r.AddReducer("x")
	a := r.Finalize()
	r.AddReducer("y")
	r.AddTriggerFired("late")
	r.AddError(Error{Kind: KindValidation, Message: "late"})
	r.CaptureFieldChange("p", 1.0, 2.0, "x", nil, nil)

	if len(a.ReducerSequence) != 1 || len(a.TriggersFired) != 0 || len(a.Errors) != 0 || len(a.FieldChanges) != 0 {
		t.Fatalf("finalized audit mutated: %+v", a)
	}
	b := r.Finalize()
	if len(b.ReducerSequence) != 1 {
		t.Fatalf("calls after finalize were recorded: %v", b.ReducerSequence)
	}
}

func TestValidate_DetectsViolations(t *testing.T) {
	a := StepAudit{
		ReducerSequence: []string{"a"},
		FieldChanges:    []FieldChange{{FieldPath: "p", ReducerName: "b"}},
	}
	if err := a.Validate(); err == nil {
		t.Fatalf("expected missing reducer error")
	}
	a = StepAudit{
		ReducerSequence: []string{"a"},
		FieldChanges:    []FieldChange{{FieldPath: "p", ReducerName: "a"}, {FieldPath: "p", ReducerName: "a"}},
	}
	if err := a.Validate(); err == nil {
		t.Fatalf("expected duplicate error")
	}
}

func TestNonFiniteValuesMarshal(t *testing.T) {
	r := NewRecorder(0)
	r.AddReducer("x")
	r.CaptureFieldChange("p", 1.0, math.NaN(), "x", Params{"k": math.Inf(1)}, nil)
	r.AddError(Error{Kind: KindReducerComputation, Source: "x", Inputs: Params{"g": math.Inf(-1)}})
	a := r.Finalize()
	b, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back map[string]any
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if a.FieldChanges[0].NewValue != "NaN" || a.Errors[0].Inputs["g"] != "-Inf" {
		t.Fatalf("non-finite values not stringified: %+v", a)
	}
}
