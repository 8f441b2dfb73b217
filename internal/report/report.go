// Package report turns a comparison and its rule results into an Estimate.
package report

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/proptax/internal/domain"
	"github.com/opensource-finance/proptax/internal/tax"
)

// Processor builds estimate envelopes.
type Processor struct {
	EngineVersion string

	now   func() time.Time
	newID func() string
}

// NewProcessor creates a processor stamping the given engine version.
func NewProcessor(version string) *Processor {
	if version == "" {
		version = "dev"
	}
	return &Processor{
		EngineVersion: "proptax-" + version,
		now:           time.Now,
		newID:         uuid.NewString,
	}
}

// Input is everything the processor needs for one estimate.
type Input struct {
	Variant     string
	ScenarioID  string
	TraceID     string
	Comparison  tax.Comparison
	RuleResults []domain.RuleResult
	Clamped     bool
	StartTime   time.Time
	CalcTime    time.Duration
	RulesTime   time.Duration
}

// Process assembles the estimate. Only rule results that raise a notice
// are kept.
func (p *Processor) Process(ctx context.Context, in *Input) *domain.Estimate {
	est := &domain.Estimate{
		ID:         p.newID(),
		Variant:    in.Variant,
		ScenarioID: in.ScenarioID,
		Status:     Status(in.Comparison),
		Comparison: in.Comparison,
		Notices:    Notices(in.RuleResults),
		Timestamp:  p.now().UTC(),
	}

	var total time.Duration
	if !in.StartTime.IsZero() {
		total = p.now().Sub(in.StartTime)
	}

	est.Metadata = domain.EstimateMetadata{
		TraceID:        in.TraceID,
		CalcMicros:     in.CalcTime.Microseconds(),
		RulesMicros:    in.RulesTime.Microseconds(),
		TotalMicros:    total.Microseconds(),
		RulesEvaluated: len(in.RuleResults),
		Clamped:        in.Clamped,
		EngineVersion:  p.EngineVersion,
	}

	return est
}

// Status classifies a comparison. A zero market value means there was no
// usable price.
func Status(c tax.Comparison) string {
	switch {
	case c.Baseline.MarketValue.IsZero():
		return domain.StatusAwaitingInput
	case c.Difference.IsPositive():
		return domain.StatusIncrease
	case c.Difference.IsNegative():
		return domain.StatusDecrease
	default:
		return domain.StatusUnchanged
	}
}

// Notices keeps the results that should be shown, in input order.
func Notices(results []domain.RuleResult) []domain.RuleResult {
	var out []domain.RuleResult
	for _, r := range results {
		if r.IsNotice() {
			out = append(out, r)
		}
	}
	return out
}

// Reasons extracts the notice reasons of an estimate.
func Reasons(est *domain.Estimate) []string {
	var reasons []string
	for _, n := range est.Notices {
		if n.Reason != "" {
			reasons = append(reasons, n.Reason)
		}
	}
	return reasons
}

// HasWarning reports whether any notice is a warning or an evaluation error.
func HasWarning(est *domain.Estimate) bool {
	for _, n := range est.Notices {
		if n.Outcome == domain.RuleOutcomeWarn || n.Outcome == domain.RuleOutcomeError {
			return true
		}
	}
	return false
}
