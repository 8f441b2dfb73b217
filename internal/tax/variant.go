package tax

import (
	"fmt"
)

// Entry describes what the input price represents.
type Entry string

const (
	// EntryAssessed takes an official assessed price (공시가격) and derives
	// the market value from the baseline reality rate.
	EntryAssessed Entry = "assessed"

	// EntryMarket takes the market value (시가) directly.
	EntryMarket Entry = "market"
)

// Variant IDs.
const (
	VariantAssessed = "assessed"
	VariantMarket   = "market"
)

// Ratios are integer percentages applied along the pipeline.
type Ratios struct {
	Reality              int `json:"realityRate" yaml:"reality_rate"`
	FairMarket           int `json:"fairMarketRate" yaml:"fair_market_rate"`
	SingleHomeFairMarket int `json:"singleHomeFairMarketRate,omitempty" yaml:"single_home_fair_market_rate,omitempty"`
}

// Bounds is an inclusive integer range.
type Bounds struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Contains reports whether v lies within the bounds.
func (b Bounds) Contains(v int) bool {
	return v >= b.Min && v <= b.Max
}

// Clamp pulls v into the bounds.
func (b Bounds) Clamp(v int) int {
	if v < b.Min {
		return b.Min
	}
	if v > b.Max {
		return b.Max
	}
	return v
}

// IsZero reports whether the bounds are unset.
func (b Bounds) IsZero() bool {
	return b.Min == 0 && b.Max == 0
}

// Variant is one policy configuration of the pipeline: how the price is
// read, which ratios are official, how far they may be adjusted and which
// schedules apply.
type Variant struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Entry    Entry  `json:"entry"`
	Baseline Ratios `json:"baseline"`

	RealityBounds              Bounds `json:"realityBounds"`
	FairMarketBounds           Bounds `json:"fairMarketBounds"`
	SingleHomeFairMarketBounds Bounds `json:"singleHomeFairMarketBounds"`

	standard   *Schedule
	singleHome *Schedule
}

var variants = []*Variant{
	{
		ID:               VariantAssessed,
		Name:             "공시가격 입력 (시가 역산)",
		Entry:            EntryAssessed,
		Baseline:         Ratios{Reality: 69, FairMarket: 60},
		RealityBounds:    Bounds{Min: 60, Max: 100},
		FairMarketBounds: Bounds{Min: 50, Max: 100},
		standard:         standardFlat,
	},
	{
		ID:                         VariantMarket,
		Name:                       "시가 입력",
		Entry:                      EntryMarket,
		Baseline:                   Ratios{Reality: 69, FairMarket: 60, SingleHomeFairMarket: 45},
		RealityBounds:              Bounds{Min: 50, Max: 100},
		FairMarketBounds:           Bounds{Min: 50, Max: 100},
		SingleHomeFairMarketBounds: Bounds{Min: 40, Max: 100},
		standard:                   standardCumulative,
		singleHome:                 singleHome,
	},
}

// Variants returns every built-in variant.
func Variants() []Variant {
	out := make([]Variant, 0, len(variants))
	for _, v := range variants {
		out = append(out, *v)
	}
	return out
}

// LookupVariant returns the built-in variant with the given ID.
func LookupVariant(id string) (Variant, error) {
	for _, v := range variants {
		if v.ID == id {
			return *v, nil
		}
	}
	return Variant{}, fmt.Errorf("%w: %s", ErrUnknownVariant, id)
}

// StandardSchedule returns a copy of the multi-home schedule.
func (v Variant) StandardSchedule() Schedule {
	return v.standard.clone()
}

// SingleHomeSchedule returns a copy of the single-home schedule, if any.
func (v Variant) SingleHomeSchedule() (Schedule, bool) {
	if v.singleHome == nil {
		return Schedule{}, false
	}
	return v.singleHome.clone(), true
}

// SupportsSingleHome reports whether the variant has a single-home schedule.
func (v Variant) SupportsSingleHome() bool {
	return v.singleHome != nil
}

// Overrides are requested ratios. A nil field keeps the variant baseline;
// an explicit value, zero included, is taken as given and bounds-checked later.
type Overrides struct {
	Reality              *int `json:"realityRate,omitempty" yaml:"reality_rate,omitempty"`
	FairMarket           *int `json:"fairMarketRate,omitempty" yaml:"fair_market_rate,omitempty"`
	SingleHomeFairMarket *int `json:"singleHomeFairMarketRate,omitempty" yaml:"single_home_fair_market_rate,omitempty"`
}

// Override sets every field of o from r.
func Override(r Ratios) Overrides {
	return Overrides{Reality: &r.Reality, FairMarket: &r.FairMarket, SingleHomeFairMarket: &r.SingleHomeFairMarket}
}

// Resolve applies o over the variant baseline.
func (v Variant) Resolve(o Overrides) Ratios {
	r := v.Baseline
	if o.Reality != nil {
		r.Reality = *o.Reality
	}
	if o.FairMarket != nil {
		r.FairMarket = *o.FairMarket
	}
	if o.SingleHomeFairMarket != nil {
		r.SingleHomeFairMarket = *o.SingleHomeFairMarket
	}
	return r
}

// CheckRatios rejects ratios outside the variant bounds. The single-home
// ratio is only checked when singleHome is set.
func (v Variant) CheckRatios(r Ratios, singleHome bool) error {
	if !v.RealityBounds.Contains(r.Reality) {
		return fmt.Errorf("%w: realityRate %d not in [%d,%d]",
			ErrRatioOutOfRange, r.Reality, v.RealityBounds.Min, v.RealityBounds.Max)
	}
	if !v.FairMarketBounds.Contains(r.FairMarket) {
		return fmt.Errorf("%w: fairMarketRate %d not in [%d,%d]",
			ErrRatioOutOfRange, r.FairMarket, v.FairMarketBounds.Min, v.FairMarketBounds.Max)
	}
	if !singleHome {
		return nil
	}
	if !v.SupportsSingleHome() {
		return fmt.Errorf("%w: %s", ErrSingleHomeUnsupported, v.ID)
	}
	if !v.SingleHomeFairMarketBounds.Contains(r.SingleHomeFairMarket) {
		return fmt.Errorf("%w: singleHomeFairMarketRate %d not in [%d,%d]",
			ErrRatioOutOfRange, r.SingleHomeFairMarket, v.SingleHomeFairMarketBounds.Min, v.SingleHomeFairMarketBounds.Max)
	}
	return nil
}

// ClampRatios pulls every ratio into the variant bounds.
func (v Variant) ClampRatios(r Ratios) Ratios {
	r.Reality = v.RealityBounds.Clamp(r.Reality)
	r.FairMarket = v.FairMarketBounds.Clamp(r.FairMarket)
	if !v.SingleHomeFairMarketBounds.IsZero() {
		r.SingleHomeFairMarket = v.SingleHomeFairMarketBounds.Clamp(r.SingleHomeFairMarket)
	}
	return r
}
