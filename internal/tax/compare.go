package tax

import (
	"github.com/shopspring/decimal"
)

// Input is everything one comparison needs. Ratios are the adjusted
// scenario; the baseline always comes from the variant.
type Input struct {
	Price      decimal.Decimal
	Ratios     Ratios
	SingleHome bool
}

// Comparison holds the baseline and adjusted results side by side.
type Comparison struct {
	ScheduleID        string          `json:"scheduleId"`
	SingleHome        bool            `json:"singleHome"`
	BaselineRatios    Ratios          `json:"baselineRatios"`
	CurrentRatios     Ratios          `json:"currentRatios"`
	Baseline          Result          `json:"baseline"`
	Current           Result          `json:"current"`
	Difference        decimal.Decimal `json:"difference"`
	DifferencePercent decimal.Decimal `json:"differencePercent"`
}

// Compare runs the pipeline twice, once with the variant baseline ratios
// and once with in.Ratios. Ratios are not bounds-checked here; callers
// reject or clamp them with CheckRatios / ClampRatios first.
func (v Variant) Compare(in Input) (Comparison, error) {
	sched := v.standard
	baseFair, curFair := v.Baseline.FairMarket, in.Ratios.FairMarket
	if in.SingleHome {
		if v.singleHome == nil {
			return Comparison{}, ErrSingleHomeUnsupported
		}
		sched = v.singleHome
		baseFair, curFair = v.Baseline.SingleHomeFairMarket, in.Ratios.SingleHomeFairMarket
	}

	market := ResolveMarketValue(v, in.Price)
	baseline := Calculate(market, v.Baseline.Reality, baseFair, sched)
	current := Calculate(market, in.Ratios.Reality, curFair, sched)
	diff, pct := Difference(baseline.Tax, current.Tax)

	return Comparison{
		ScheduleID:        sched.ID,
		SingleHome:        in.SingleHome,
		BaselineRatios:    v.Baseline,
		CurrentRatios:     in.Ratios,
		Baseline:          baseline,
		Current:           current,
		Difference:        diff,
		DifferencePercent: pct,
	}, nil
}

// Difference returns current − baseline and that delta as a percentage of
// baseline rounded to two places. A zero baseline reports 0%.
func Difference(baseline, current decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	diff := current.Sub(baseline)
	if baseline.IsZero() {
		return diff, decimal.Zero
	}
	return diff, diff.Div(baseline).Mul(hundred).Round(2)
}
