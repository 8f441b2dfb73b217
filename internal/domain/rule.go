package domain

// RuleConfig defines a notice rule evaluated against every estimate.
type RuleConfig struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// CEL expression to evaluate, returning a number or a bool
	Expression string `json:"expression"`

	// Outcome bands for value-to-notice mapping
	Bands []RuleBand `json:"bands"`

	// Whether rule is active
	Enabled bool `json:"enabled"`
}

// RuleBand maps a value range to an outcome. Bounds are inclusive below
// and exclusive above; a nil bound is open.
type RuleBand struct {
	LowerLimit *float64 `json:"lowerLimit,omitempty"`
	UpperLimit *float64 `json:"upperLimit,omitempty"`
	Outcome    string   `json:"outcome"` // ".none", ".notice", ".warn"
	Reason     string   `json:"reason"`
}

// RuleResult is the output of a rule evaluation.
type RuleResult struct {
	RuleID    string  `json:"ruleId"`
	Outcome   string  `json:"outcome"`
	Value     float64 `json:"value"`
	Reason    string  `json:"reason"`
	ProcessMs int64   `json:"processMs"`
}

// Predefined rule outcomes
const (
	RuleOutcomeNone   = ".none"
	RuleOutcomeNotice = ".notice"
	RuleOutcomeWarn   = ".warn"
	RuleOutcomeError  = ".err"
)

// IsNotice reports whether the result should be shown to the user.
func (r RuleResult) IsNotice() bool {
	return r.Outcome != RuleOutcomeNone
}
