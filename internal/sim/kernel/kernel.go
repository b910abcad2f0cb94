// Package kernel advances a world by one turn. Step is deterministic, does
// no I/O and never returns an error: every failure becomes an audit entry.
package kernel

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"statecraft.ai/internal/sim/audit"
	"statecraft.ai/internal/sim/mathx"
	"statecraft.ai/internal/sim/reducers"
	"statecraft.ai/internal/sim/state"
	"statecraft.ai/internal/sim/triggers"
)

const triggerStage = "triggers"

type Kernel struct {
	log zerolog.Logger
}

type Option func(*Kernel)

// WithLogger attaches a logger for rolled-back reducer invocations. Logging
// never changes the numeric outcome of a turn.
func WithLogger(l zerolog.Logger) Option {
	return func(k *Kernel) { k.log = l }
}

func New(opts ...Option) *Kernel {
	k := &Kernel{log: zerolog.Nop()}
	for _, o := range opts {
		o(k)
	}
	return k
}

// Step runs one turn with a default kernel.
func Step(in *state.GlobalState, trigs []triggers.Trigger, fired *triggers.FiredSet, baseCountry string) (*state.GlobalState, audit.StepAudit) {
	return New().Step(in, trigs, fired, baseCountry)
}

// Step clones in, advances the clone by one turn and returns it with the
// turn's audit. fired is updated in place; in is never modified.
//
// Order: triggers, events, social layer, per-country chain, commodity
// prices, FX drift, fire sale, interbank loss, clock. Trigger conditions
// see the incoming state; events they inject wait for the next turn.
func (k *Kernel) Step(in *state.GlobalState, trigs []triggers.Trigger, fired *triggers.FiredSet, baseCountry string) (*state.GlobalState, audit.StepAudit) {
	if in == nil {
		rec := audit.NewRecorder(0)
		rec.AddError(audit.Error{Kind: audit.KindValidation, Source: "step", Message: "nil state"})
		return nil, rec.Finalize()
	}
	g := in.Clone()
	g.Normalize()
	rec := audit.NewRecorder(g.T)

	for _, bad := range g.Rules.InvalidImpls() {
		rec.AddError(audit.Error{
			Kind:    audit.KindValidation,
			Source:  "rules.active_impls",
			Message: "unknown implementation " + bad + "; using the default",
		})
	}

	base := resolveBase(g, baseCountry, rec)
	scratch := reducers.NewScratch()

	if fired == nil {
		fired = triggers.NewFiredSet()
	}
	due := len(g.Events.Pending)
	k.runTriggers(g, fired, rec, func(g *state.GlobalState, fired *triggers.FiredSet, rec *audit.Recorder) {
		triggers.Run(g, trigs, fired, rec)
	})

	wenv := reducers.WorldEnv{T: g.T, BaseCountry: base, Scratch: scratch, Due: due}
	k.runWorld(g, reducers.EventStage, wenv, rec)

	codes := g.CountryCodes()
	env := reducers.Env{T: g.T, Rules: &g.Rules, World: g, BaseCountry: base, Scratch: scratch}

	k.runWorld(g, reducers.BeliefStage, wenv, rec)
	for _, r := range reducers.SocialCountry() {
		for _, code := range codes {
			k.runCountry(g, r, code, env, rec)
		}
	}

	for _, code := range codes {
		for _, r := range reducers.CountryChain() {
			k.runCountry(g, r, code, env, rec)
		}
	}

	for _, r := range []reducers.WorldReducer{
		reducers.CommodityStage,
		reducers.FXStage,
		reducers.FireSaleStage,
		reducers.InterbankStage,
	} {
		k.runWorld(g, r, wenv, rec)
	}

	rec.AddReducer(audit.SourceAdvanceClock)
	rec.CaptureFieldChange("t", g.T, g.T+1, audit.SourceAdvanceClock, nil, nil)
	g.T++

	a := rec.Finalize()
	if len(a.Errors) > 0 {
		k.log.Debug().Int("t", a.Timestep).Int("errors", len(a.Errors)).Msg("turn completed with errors")
	}
	return g, a
}

// resolveBase picks the FX anchor: the argument if it names a country,
// else the country whose currency is base_ccy. "" means none was found.
func resolveBase(g *state.GlobalState, arg string, rec *audit.Recorder) string {
	if arg != "" {
		if g.Countries[arg] != nil {
			return arg
		}
		rec.AddError(audit.Error{
			Kind:    audit.KindValidation,
			Source:  "base_country",
			Message: fmt.Sprintf("base country %q is not in the state", arg),
		})
	}
	if g.BaseCcy == "" {
		return ""
	}
	for _, code := range g.CountryCodes() {
		if c := g.Countries[code]; c != nil && c.Ccy == g.BaseCcy {
			return code
		}
	}
	return ""
}

// runCountry isolates one per-country invocation: on error, panic or a
// non-finite field the country and the audit roll back to where they were.
func (k *Kernel) runCountry(g *state.GlobalState, r reducers.CountryReducer, code string, env reducers.Env, rec *audit.Recorder) {
	c := g.Countries[code]
	if c == nil {
		return
	}
	rec.AddReducer(r.Name)
	saved := *c
	mark := rec.Mark()
	err := guard(r.Name, code, func() error { return r.Fn(c, env, rec) })
	if err == nil {
		if bad := c.NonFinite(); len(bad) > 0 {
			err = &reducers.ComputationError{Reducer: r.Name, Country: code, Reason: "non-finite result in " + strings.Join(bad, ",")}
		}
	}
	if err != nil {
		*c = saved
		rec.Rollback(mark)
		k.recordFailure(rec, r.Name, code, err)
	}
}

// runTriggers isolates trigger evaluation and action application. A panic
// restores the state, the fired set and the audit and is recorded as a
// validation error.
func (k *Kernel) runTriggers(g *state.GlobalState, fired *triggers.FiredSet, rec *audit.Recorder, run func(*state.GlobalState, *triggers.FiredSet, *audit.Recorder)) {
	saved := g.Clone()
	savedFired := fired.Clone()
	mark := rec.Mark()
	err := guard(triggerStage, "", func() error {
		run(g, fired, rec)
		return nil
	})
	if err == nil {
		return
	}
	*g = *saved
	*fired = *savedFired
	rec.Rollback(mark)
	rec.AddError(audit.Error{
		Kind:    audit.KindValidation,
		Source:  triggerStage,
		Message: err.Error(),
	})
	k.log.Debug().Int("t", rec.Timestep()).Err(err).Msg("trigger stage rolled back")
}

// runWorld isolates a world invocation the same way, restoring the whole
// state on failure.
func (k *Kernel) runWorld(g *state.GlobalState, r reducers.WorldReducer, env reducers.WorldEnv, rec *audit.Recorder) {
	rec.AddReducer(r.Name)
	saved := g.Clone()
	mark := rec.Mark()
	err := guard(r.Name, "", func() error { return r.Fn(g, env, rec) })
	if err == nil {
		err = nonFiniteWorld(g, r.Name)
	}
	if err != nil {
		*g = *saved
		rec.Rollback(mark)
		k.recordFailure(rec, r.Name, "", err)
	}
}

func nonFiniteWorld(g *state.GlobalState, reducer string) error {
	for _, code := range g.CountryCodes() {
		c := g.Countries[code]
		if c == nil {
			continue
		}
		if bad := c.NonFinite(); len(bad) > 0 {
			return &reducers.ComputationError{Reducer: reducer, Country: code, Reason: "non-finite result in " + strings.Join(bad, ",")}
		}
	}
	for name, p := range g.Commodities {
		if !mathx.Finite(p) {
			return &reducers.ComputationError{Reducer: reducer, Reason: "non-finite commodity price " + name}
		}
	}
	return nil
}

// guard converts a panic inside fn into a ComputationError.
func guard(reducer, code string, fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &reducers.ComputationError{Reducer: reducer, Country: code, Reason: fmt.Sprintf("panic: %v", p)}
		}
	}()
	return fn()
}

func (k *Kernel) recordFailure(rec *audit.Recorder, reducer, code string, err error) {
	e := audit.Error{
		Kind:    audit.KindReducerComputation,
		Source:  reducer,
		Country: code,
		Message: err.Error(),
	}
	var ce *reducers.ComputationError
	if errors.As(err, &ce) {
		e.Inputs = ce.Inputs
		if e.Country == "" {
			e.Country = ce.Country
		}
	}
	rec.AddError(e)
	k.log.Debug().
		Str("reducer", reducer).
		Str("country", e.Country).
		Int("t", rec.Timestep()).
		Err(err).
		Msg("reducer invocation rolled back")
}
