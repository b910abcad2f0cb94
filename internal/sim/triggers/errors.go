package triggers

import "fmt"

// ParseError reports a condition that cannot be compiled. The owning
// trigger is disabled for the rest of the scenario.
type ParseError struct {
	Input  string
	Pos    int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("condition parse error at %d: %s", e.Pos, e.Reason)
}

// ValidationError reports an action that was skipped because it does not
// fit the state schema.
type ValidationError struct {
	Trigger string
	Action  string
	Reason  string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("trigger %q %s: %s: %v", e.Trigger, e.Action, e.Reason, e.Err)
	}
	return fmt.Sprintf("trigger %q %s: %s", e.Trigger, e.Action, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }
