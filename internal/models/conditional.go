package models

// Condition compares a submitted value against an expected one. The position
// filter (Field/Offset/Length) narrows which annotation values it applies to.
type Condition struct {
	Value      interface{} `json:"value"`
	Operator   string      `json:"operator,omitempty"` // ==, !=, <, <=, >, >= (default ==)
	Field      string      `json:"field,omitempty"`
	Offset     *int        `json:"offset,omitempty"`
	Length     *int        `json:"length,omitempty"`
	Damage     float64     `json:"damage,omitempty"`
	Submessage string      `json:"submessage,omitempty"`
}

// Conditional is a declarative rule on a unit: the submitted values for
// Variable must satisfy at least one of Conditions. OnSuccess/OnFail
// override the unit-type defaults (applaud/retry/block).
type Conditional struct {
	Variable   string      `json:"variable"`
	Conditions []Condition `json:"conditions"`
	OnSuccess  string      `json:"onSuccess,omitempty"`
	OnFail     string      `json:"onFail,omitempty"`
	Damage     *float64    `json:"damage,omitempty"`
	Message    string      `json:"message,omitempty"`
}

// Feedback actions produced by conditional evaluation
const (
	ActionApplaud = "applaud"
	ActionRetry   = "retry"
	ActionBlock   = "block"
)

// Evaluation is the per-variable outcome of conditional evaluation
type Evaluation struct {
	Action      string            `json:"action,omitempty"`
	Message     string            `json:"message,omitempty"`
	Submessages []string          `json:"submessages,omitempty"`
	Correct     []AnnotationValue `json:"correct,omitempty"`
	Incorrect   []AnnotationValue `json:"incorrect,omitempty"`
}

// DamageReport is included in submit responses when rules.show_damage is set
// (game_over is reported whenever max_damage is configured)
type DamageReport struct {
	Damage      *float64 `json:"damage,omitempty"`
	TotalDamage *float64 `json:"total_damage,omitempty"`
	MaxDamage   *float64 `json:"max_damage,omitempty"`
	GameOver    bool     `json:"game_over,omitempty"`
}

// Report is the client-facing result of submitting an annotation
type Report struct {
	Damage       *DamageReport         `json:"damage,omitempty"`
	Evaluation   map[string]Evaluation `json:"evaluation"`
	Disqualified bool                  `json:"disqualified,omitempty"`
}
