package tax

import (
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Result is the outcome of one pass through the pipeline.
type Result struct {
	MarketValue   decimal.Decimal `json:"marketValue"`
	AssessedValue decimal.Decimal `json:"assessedValue"`
	TaxBase       decimal.Decimal `json:"taxBase"`
	TaxBaseCapped decimal.Decimal `json:"taxBaseCapped"`
	Tax           decimal.Decimal `json:"tax"`
	EffectiveRate decimal.Decimal `json:"effectiveRate"`
	IsCapped      bool            `json:"isCapped"`
}

func zeroResult() Result {
	return Result{
		MarketValue:   decimal.Zero,
		AssessedValue: decimal.Zero,
		TaxBase:       decimal.Zero,
		TaxBaseCapped: decimal.Zero,
		Tax:           decimal.Zero,
		EffectiveRate: decimal.Zero,
	}
}

// ParsePrice reads a raw digit string. Empty, non-numeric and non-positive
// input all mean "no input yet" and yield zero.
func ParsePrice(raw string) decimal.Decimal {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(raw)
	if err != nil || !d.IsPositive() {
		return decimal.Zero
	}
	return d
}

// ResolveMarketValue derives the market value from the input price.
// Assessed-entry variants invert the baseline reality rate, never an
// adjusted one.
func ResolveMarketValue(v Variant, price decimal.Decimal) decimal.Decimal {
	if !price.IsPositive() {
		return decimal.Zero
	}
	if v.Entry == EntryAssessed {
		return price.Div(percent(v.Baseline.Reality))
	}
	return price
}

// ProjectAssessedValue applies the reality rate to a market value.
func ProjectAssessedValue(market decimal.Decimal, realityRate int) decimal.Decimal {
	return market.Mul(percent(realityRate))
}

// TaxableBase applies the fair-market rate to an assessed value.
func TaxableBase(assessed decimal.Decimal, fairMarketRate int) decimal.Decimal {
	return assessed.Mul(percent(fairMarketRate))
}

// Calculate runs market value through projection, base, ceiling and schedule.
// A non-positive market value short-circuits to an all-zero result.
func Calculate(market decimal.Decimal, realityRate, fairMarketRate int, s *Schedule) Result {
	if !market.IsPositive() {
		return zeroResult()
	}

	assessed := ProjectAssessedValue(market, realityRate)
	base := TaxableBase(assessed, fairMarketRate)
	taxed, capped := s.Cap(base)
	a := s.Evaluate(taxed)

	return Result{
		MarketValue:   market,
		AssessedValue: assessed,
		TaxBase:       base,
		TaxBaseCapped: taxed,
		Tax:           a.Tax,
		EffectiveRate: a.Rate,
		IsCapped:      capped,
	}
}

func percent(v int) decimal.Decimal {
	return decimal.NewFromInt(int64(v)).Div(hundred)
}
