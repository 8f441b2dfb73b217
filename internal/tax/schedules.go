package tax

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Schedule IDs.
const (
	ScheduleStandardFlat       = "standard-flat"
	ScheduleStandardCumulative = "standard-cumulative"
	ScheduleSingleHome         = "single-home"
)

// SingleHomeCeiling caps the taxable base of the single-home schedule.
var SingleHomeCeiling = decimal.NewFromInt(900_000_000)

var (
	bound60M  = decimal.NewFromInt(60_000_000)
	bound150M = decimal.NewFromInt(150_000_000)
	bound300M = decimal.NewFromInt(300_000_000)
)

// standardFlat is the multi-home table expressed as rate minus progressive
// deduction. Its rates are one hundred times those of standardCumulative;
// both are kept as published and neither is treated as authoritative.
var standardFlat = &Schedule{
	ID:   ScheduleStandardFlat,
	Name: "주택 재산세 (누진공제식)",
	Kind: FlatWithDeduction,
	Brackets: []Bracket{
		{Lower: decimal.Zero, Upper: bound60M, Rate: mustRate("0.10"), Offset: decimal.Zero},
		{Lower: bound60M, Upper: bound150M, Rate: mustRate("0.15"), Offset: decimal.NewFromInt(3_000_000)},
		{Lower: bound150M, Upper: bound300M, Rate: mustRate("0.25"), Offset: decimal.NewFromInt(18_000_000)},
		{Lower: bound300M, Unbounded: true, Rate: mustRate("0.40"), Offset: decimal.NewFromInt(63_000_000)},
	},
}

var standardCumulative = &Schedule{
	ID:   ScheduleStandardCumulative,
	Name: "주택 재산세 (누진누적식)",
	Kind: CumulativeMarginal,
	Brackets: []Bracket{
		{Lower: decimal.Zero, Upper: bound60M, Rate: mustRate("0.001"), Offset: decimal.Zero},
		{Lower: bound60M, Upper: bound150M, Rate: mustRate("0.0015"), Offset: decimal.NewFromInt(60_000)},
		{Lower: bound150M, Upper: bound300M, Rate: mustRate("0.0025"), Offset: decimal.NewFromInt(195_000)},
		{Lower: bound300M, Unbounded: true, Rate: mustRate("0.004"), Offset: decimal.NewFromInt(570_000)},
	},
}

var singleHome = &Schedule{
	ID:   ScheduleSingleHome,
	Name: "1세대 1주택 특례",
	Kind: CumulativeMarginal,
	Brackets: []Bracket{
		{Lower: decimal.Zero, Upper: bound60M, Rate: mustRate("0.0005"), Offset: decimal.Zero},
		{Lower: bound60M, Upper: bound150M, Rate: mustRate("0.001"), Offset: decimal.NewFromInt(30_000)},
		{Lower: bound150M, Upper: bound300M, Rate: mustRate("0.002"), Offset: decimal.NewFromInt(120_000)},
		{Lower: bound300M, Unbounded: true, Rate: mustRate("0.0035"), Offset: decimal.NewFromInt(420_000)},
	},
	Ceiling: SingleHomeCeiling,
}

var schedules = []*Schedule{standardFlat, standardCumulative, singleHome}

func init() {
	for _, s := range schedules {
		if err := s.Validate(); err != nil {
			panic(err)
		}
	}
}

// Schedules returns copies of every built-in schedule.
func Schedules() []Schedule {
	out := make([]Schedule, 0, len(schedules))
	for _, s := range schedules {
		out = append(out, s.clone())
	}
	return out
}

// LookupSchedule returns a copy of the built-in schedule with the given ID.
func LookupSchedule(id string) (Schedule, error) {
	for _, s := range schedules {
		if s.ID == id {
			return s.clone(), nil
		}
	}
	return Schedule{}, fmt.Errorf("%w: %s", ErrUnknownSchedule, id)
}

func mustRate(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
