// Package tax implements the residential property tax pipeline:
// valuation, assessed value, taxable base and progressive bracket evaluation.
//
// Every function in this package is pure. Money is carried as decimal.Decimal
// so that repeated calls with the same input produce identical results.
package tax

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// FormulaKind selects how a bracket turns a taxable base into tax.
type FormulaKind string

const (
	// FlatWithDeduction computes base × rate − offset, where offset is a
	// progressive deduction (누진공제액).
	FlatWithDeduction FormulaKind = "flat_with_deduction"

	// CumulativeMarginal computes offset + (base − lower) × rate, where offset
	// is the tax accumulated by all lower brackets.
	CumulativeMarginal FormulaKind = "cumulative_marginal"
)

// Bracket is one row of a progressive schedule.
// A base v falls in the bracket when Lower < v <= Upper (or Lower < v when Unbounded).
type Bracket struct {
	Lower     decimal.Decimal `json:"lower"`
	Upper     decimal.Decimal `json:"upper"`
	Unbounded bool            `json:"unbounded"`
	Rate      decimal.Decimal `json:"rate"`
	Offset    decimal.Decimal `json:"offset"`
}

// Contains reports whether v falls inside the bracket.
func (b Bracket) Contains(v decimal.Decimal) bool {
	if !v.GreaterThan(b.Lower) {
		return false
	}
	return b.Unbounded || v.LessThanOrEqual(b.Upper)
}

// Apply evaluates the bracket formula for base without range checks or clamping.
func (b Bracket) Apply(kind FormulaKind, base decimal.Decimal) decimal.Decimal {
	if kind == CumulativeMarginal {
		return b.Offset.Add(base.Sub(b.Lower).Mul(b.Rate))
	}
	return base.Mul(b.Rate).Sub(b.Offset)
}

// Schedule is an ordered, contiguous bracket table.
// A positive Ceiling caps the taxable base before evaluation.
type Schedule struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Kind     FormulaKind     `json:"kind"`
	Brackets []Bracket       `json:"brackets"`
	Ceiling  decimal.Decimal `json:"ceiling"`
}

// Assessment is the outcome of evaluating a base against a schedule.
type Assessment struct {
	Tax  decimal.Decimal
	Rate decimal.Decimal

	// Bracket is the index of the matched bracket, -1 when nothing matched.
	Bracket int
}

// Evaluate finds the bracket holding base and applies the schedule formula.
// The first match in ascending order wins. Bases at or below zero match no
// bracket and yield zero tax at zero rate. Tax is never negative.
func (s *Schedule) Evaluate(base decimal.Decimal) Assessment {
	for i, b := range s.Brackets {
		if !b.Contains(base) {
			continue
		}
		tax := b.Apply(s.Kind, base)
		if tax.IsNegative() {
			tax = decimal.Zero
		}
		return Assessment{Tax: tax, Rate: b.Rate, Bracket: i}
	}
	return Assessment{Tax: decimal.Zero, Rate: decimal.Zero, Bracket: -1}
}

// HasCeiling reports whether the schedule caps the taxable base.
func (s *Schedule) HasCeiling() bool {
	return s.Ceiling.IsPositive()
}

// Cap returns min(base, Ceiling) and whether the ceiling was applied.
func (s *Schedule) Cap(base decimal.Decimal) (decimal.Decimal, bool) {
	if s.HasCeiling() && base.GreaterThan(s.Ceiling) {
		return s.Ceiling, true
	}
	return base, false
}

// Validate checks that the table starts at zero, is contiguous, ends
// unbounded and that adjacent brackets agree on tax at every boundary.
func (s *Schedule) Validate() error {
	if len(s.Brackets) == 0 {
		return fmt.Errorf("%w: schedule %s has no brackets", ErrInvalidSchedule, s.ID)
	}
	if s.Kind != FlatWithDeduction && s.Kind != CumulativeMarginal {
		return fmt.Errorf("%w: schedule %s has unknown kind %q", ErrInvalidSchedule, s.ID, s.Kind)
	}
	if !s.Brackets[0].Lower.IsZero() {
		return fmt.Errorf("%w: schedule %s does not start at zero", ErrInvalidSchedule, s.ID)
	}

	last := len(s.Brackets) - 1
	for i, b := range s.Brackets {
		if b.Rate.IsNegative() {
			return fmt.Errorf("%w: schedule %s bracket %d has negative rate", ErrInvalidSchedule, s.ID, i)
		}
		if b.Unbounded != (i == last) {
			return fmt.Errorf("%w: schedule %s must be unbounded only in its last bracket", ErrInvalidSchedule, s.ID)
		}
		if i == last {
			break
		}
		if !b.Upper.GreaterThan(b.Lower) {
			return fmt.Errorf("%w: schedule %s bracket %d is empty", ErrInvalidSchedule, s.ID, i)
		}

		next := s.Brackets[i+1]
		if !next.Lower.Equal(b.Upper) {
			return fmt.Errorf("%w: schedule %s has a gap at %s", ErrInvalidSchedule, s.ID, b.Upper)
		}
		left := b.Apply(s.Kind, b.Upper)
		right := next.Apply(s.Kind, b.Upper)
		if !left.Equal(right) {
			return fmt.Errorf("%w: schedule %s is discontinuous at %s (%s != %s)",
				ErrInvalidSchedule, s.ID, b.Upper, left, right)
		}
	}
	return nil
}

// Convert rewrites the schedule into the other formula shape.
// For a continuous table both shapes give the same tax for every base:
//
//	cumulative offset = rate × lower − deduction
//	deduction         = rate × lower − cumulative offset
func (s *Schedule) Convert(kind FormulaKind) Schedule {
	out := s.clone()
	if s.Kind == kind {
		return out
	}
	out.Kind = kind
	for i := range out.Brackets {
		b := &out.Brackets[i]
		b.Offset = b.Rate.Mul(b.Lower).Sub(b.Offset)
	}
	return out
}

func (s *Schedule) clone() Schedule {
	out := *s
	out.Brackets = make([]Bracket, len(s.Brackets))
	copy(out.Brackets, s.Brackets)
	return out
}
