package triggers

import (
	"errors"
	"fmt"

	"statecraft.ai/internal/sim/audit"
	"statecraft.ai/internal/sim/state"
)

// Run evaluates every live trigger against g as it stands, then applies the
// actions of the matches in declared order. A later trigger that writes the
// same field as an earlier one wins. It returns the names that fired.
func Run(g *state.GlobalState, triggers []Trigger, fired *FiredSet, rec *audit.Recorder) []string {
	if fired == nil {
		fired = NewFiredSet()
	}
	fired.ensure()

	var matched []Trigger
	seen := map[string]bool{}
	for _, tr := range triggers {
		if tr.Name == "" || seen[tr.Name] {
			rec.AddError(audit.Error{
				Kind:    audit.KindValidation,
				Source:  "trigger",
				Message: fmt.Sprintf("trigger name %q is empty or duplicated; skipped", tr.Name),
			})
			continue
		}
		seen[tr.Name] = true
		if _, off := fired.Disabled[tr.Name]; off {
			continue
		}
		if _, ok := fired.FirstSeen[tr.Name]; !ok {
			fired.FirstSeen[tr.Name] = g.T
		}
		if _, ok := fired.LastFired[tr.Name]; !ok {
			fired.LastFired[tr.Name] = nil
		}
		if tr.ExpiresAfterTurns != nil && *tr.ExpiresAfterTurns < 0 {
			disable(fired, rec, tr.Name, audit.KindValidation, "expires_after_turns must not be negative")
			continue
		}
		if fired.Expired(tr, g.T) {
			continue
		}
		if tr.Condition.Once && fired.Fired(tr.Name) {
			continue
		}

		prog, err := Compile(tr.Condition.When, g)
		if err != nil {
			disable(fired, rec, tr.Name, audit.KindDSLParse, err.Error())
			continue
		}
		ok, err := prog.Eval(g)
		if err != nil {
			rec.AddError(audit.Error{
				Kind:    audit.KindValidation,
				Source:  "trigger:" + tr.Name,
				Message: fmt.Sprintf("condition evaluation: %v", err),
				Inputs:  audit.Params{"when": tr.Condition.When},
			})
			continue
		}
		if ok {
			matched = append(matched, tr)
		}
	}

	names := make([]string, 0, len(matched))
	for _, tr := range matched {
		for _, err := range Apply(g, tr, rec) {
			recordValidation(rec, tr.Name, err)
		}
		t := g.T
		fired.LastFired[tr.Name] = &t
		rec.AddTriggerFired(tr.Name)
		names = append(names, tr.Name)
	}
	return names
}

func disable(fired *FiredSet, rec *audit.Recorder, name string, kind audit.ErrorKind, reason string) {
	fired.Disabled[name] = reason
	rec.AddError(audit.Error{
		Kind:    kind,
		Source:  "trigger:" + name,
		Message: "trigger disabled: " + reason,
	})
}

func recordValidation(rec *audit.Recorder, trigger string, err error) {
	e := audit.Error{
		Kind:    audit.KindValidation,
		Source:  "trigger:" + trigger,
		Message: err.Error(),
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		e.Inputs = audit.Params{"action": ve.Action}
	}
	rec.AddError(e)
}
