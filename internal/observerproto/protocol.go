// Package observerproto defines the JSON messages of the read-only observer
// stream.
package observerproto

// Version is the observer protocol version.
const Version = "0.1"

const (
	TypeSubscribe = "SUBSCRIBE"
	TypeTurn      = "TURN"
)

// Client -> Server. First message on the observer WS connection; may be
// re-sent to change the filter.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// Countries limits summaries and field changes to these codes. Empty
	// means all countries.
	Countries []string `json:"countries,omitempty"`
	// WithChanges asks for the turn's field changes, not just summaries.
	WithChanges bool `json:"with_changes,omitempty"`
	MaxChanges  int  `json:"max_changes,omitempty"`
}

// HTTP response for GET /observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string   `json:"protocol_version"`
	RunID           string   `json:"run_id"`
	Scenario        string   `json:"scenario"`
	BaseCountry     string   `json:"base_country"`
	Turn            int      `json:"turn"`
	Countries       []string `json:"countries"`
}

// Server -> Client. Sent after every turn.
type TurnMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	RunID           string `json:"run_id"`
	Turn            int    `json:"turn"`
	Digest          string `json:"digest"`

	Countries     []CountrySummary `json:"countries"`
	TriggersFired []string         `json:"triggers_fired,omitempty"`
	Errors        []ErrorInfo      `json:"errors,omitempty"`
	Changes       []Change         `json:"changes,omitempty"`
}

type CountrySummary struct {
	Code              string  `json:"code"`
	Inflation         float64 `json:"inflation"`
	PolicyRate        float64 `json:"policy_rate"`
	OutputGap         float64 `json:"output_gap"`
	Unemployment      float64 `json:"unemployment"`
	DebtGDP           float64 `json:"debt_gdp"`
	FXRate            float64 `json:"fx_rate"`
	BankTier1Ratio    float64 `json:"bank_tier1_ratio"`
	ConflictIntensity float64 `json:"conflict_intensity"`
	Approval          float64 `json:"approval"`
}

type ErrorInfo struct {
	Kind    string `json:"kind"`
	Source  string `json:"source"`
	Country string `json:"country,omitempty"`
	Message string `json:"message"`
}

type Change struct {
	FieldPath string `json:"field_path"`
	Reducer   string `json:"reducer"`
	Old       any    `json:"old"`
	New       any    `json:"new"`
}
