package domain

import (
	"time"

	"github.com/opensource-finance/proptax/internal/tax"
)

// Estimate wraps one comparison with its id, status and notices.
type Estimate struct {
	ID         string           `json:"id"`
	Variant    string           `json:"variant"`
	ScenarioID string           `json:"scenarioId,omitempty"`
	Status     string           `json:"status"`
	Comparison tax.Comparison   `json:"comparison"`
	Notices    []RuleResult     `json:"notices,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
	Metadata   EstimateMetadata `json:"metadata"`
}

// EstimateMetadata contains processing information.
type EstimateMetadata struct {
	TraceID        string `json:"traceId,omitempty"`
	CalcMicros     int64  `json:"calcMicros"`
	RulesMicros    int64  `json:"rulesMicros"`
	TotalMicros    int64  `json:"totalMicros"`
	RulesEvaluated int    `json:"rulesEvaluated"`
	Clamped        bool   `json:"clamped,omitempty"`
	EngineVersion  string `json:"engineVersion"`
}

// Estimate status constants
const (
	StatusIncrease      = "INCREASE"
	StatusDecrease      = "DECREASE"
	StatusUnchanged     = "UNCHANGED"
	StatusAwaitingInput = "AWAITING_INPUT"
)
