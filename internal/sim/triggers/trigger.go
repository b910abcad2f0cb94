// Package triggers compiles trigger conditions, decides which triggers fire
// in a turn and applies their actions to the state.
package triggers

type Trigger struct {
	Name              string    `json:"name" yaml:"name"`
	Condition         Condition `json:"condition" yaml:"condition"`
	Action            Action    `json:"action" yaml:"action"`
	ExpiresAfterTurns *int      `json:"expires_after_turns,omitempty" yaml:"expires_after_turns,omitempty"`
}

type Condition struct {
	When string `json:"when" yaml:"when"`
	Once bool   `json:"once,omitempty" yaml:"once,omitempty"`
}

type Action struct {
	Patches         []PolicyPatch     `json:"patches,omitempty" yaml:"patches,omitempty"`
	Overrides       []ReducerOverride `json:"overrides,omitempty" yaml:"overrides,omitempty"`
	NetworkRewrites []NetworkRewrite  `json:"network_rewrites,omitempty" yaml:"network_rewrites,omitempty"`
	Events          []EventInject     `json:"events,omitempty" yaml:"events,omitempty"`
}

type PatchOp string

const (
	OpSet PatchOp = "set"
	OpAdd PatchOp = "add"
	OpMul PatchOp = "mul"
)

type PolicyPatch struct {
	Path  string  `json:"path" yaml:"path"`
	Op    PatchOp `json:"op" yaml:"op"`
	Value any     `json:"value" yaml:"value"`
}

type ReducerOverride struct {
	Target   string `json:"target" yaml:"target"`
	ImplName string `json:"impl_name" yaml:"impl_name"`
}

type NetworkRewrite struct {
	Layer string `json:"layer" yaml:"layer"`
	Edits []Edge `json:"edits" yaml:"edits"`
}

type Edge struct {
	From   string  `json:"from" yaml:"from"`
	To     string  `json:"to" yaml:"to"`
	Weight float64 `json:"weight" yaml:"weight"`
}

type EventInject struct {
	Kind    string         `json:"kind" yaml:"kind"`
	Payload map[string]any `json:"payload,omitempty" yaml:"payload,omitempty"`
}

// FiredSet is the caller-owned lifecycle record of a scenario's triggers.
// It must not be shared between scenarios or used by two Steps at once.
type FiredSet struct {
	// LastFired maps a trigger name to the turn it last fired. A present
	// nil entry means the trigger is known but has not fired.
	LastFired map[string]*int `json:"last_fired"`
	// FirstSeen anchors expiry for triggers that never fired.
	FirstSeen map[string]int `json:"first_seen"`
	// Disabled maps a trigger name to the reason it was switched off.
	Disabled map[string]string `json:"disabled,omitempty"`
}

func NewFiredSet() *FiredSet {
	return &FiredSet{
		LastFired: map[string]*int{},
		FirstSeen: map[string]int{},
		Disabled:  map[string]string{},
	}
}

func (f *FiredSet) ensure() {
	if f.LastFired == nil {
		f.LastFired = map[string]*int{}
	}
	if f.FirstSeen == nil {
		f.FirstSeen = map[string]int{}
	}
	if f.Disabled == nil {
		f.Disabled = map[string]string{}
	}
}

// Fired reports whether name has ever fired.
func (f *FiredSet) Fired(name string) bool {
	return f != nil && f.LastFired[name] != nil
}

func (f *FiredSet) Clone() *FiredSet {
	if f == nil {
		return nil
	}
	out := NewFiredSet()
	for k, v := range f.LastFired {
		if v == nil {
			out.LastFired[k] = nil
			continue
		}
		t := *v
		out.LastFired[k] = &t
	}
	for k, v := range f.FirstSeen {
		out.FirstSeen[k] = v
	}
	for k, v := range f.Disabled {
		out.Disabled[k] = v
	}
	return out
}

// Expired reports whether tr has outlived expires_after_turns at turn t.
// The clock starts at the last fire, or at first sight if it never fired.
func (f *FiredSet) Expired(tr Trigger, t int) bool {
	if tr.ExpiresAfterTurns == nil {
		return false
	}
	anchor, ok := f.FirstSeen[tr.Name]
	if last := f.LastFired[tr.Name]; last != nil {
		anchor, ok = *last, true
	}
	if !ok {
		return false
	}
	return t-anchor >= *tr.ExpiresAfterTurns
}
