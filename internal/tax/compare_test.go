package tax

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var decimalEqual = cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) })

func mustVariant(t *testing.T, id string) Variant {
	t.Helper()
	v, err := LookupVariant(id)
	require.NoError(t, err)
	return v
}

func TestMultiHomeFlatExample(t *testing.T) {
	flat, err := LookupSchedule(ScheduleStandardFlat)
	require.NoError(t, err)

	got := Calculate(won(1_300_000_000), 69, 60, &flat)

	assert.True(t, got.AssessedValue.Equal(won(897_000_000)), "assessed %s", got.AssessedValue)
	assert.True(t, got.TaxBase.Equal(won(538_200_000)), "base %s", got.TaxBase)
	assert.True(t, got.Tax.Equal(won(152_280_000)), "tax %s", got.Tax)
	assert.True(t, got.EffectiveRate.Equal(mustRate("0.4")))
	assert.False(t, got.IsCapped)
}

func TestSingleHomeCumulativeExample(t *testing.T) {
	v := mustVariant(t, VariantMarket)

	cmpResult, err := v.Compare(Input{
		Price:      won(1_300_000_000),
		Ratios:     Ratios{Reality: 69, FairMarket: 60, SingleHomeFairMarket: 45},
		SingleHome: true,
	})
	require.NoError(t, err)

	got := cmpResult.Current
	assert.Equal(t, ScheduleSingleHome, cmpResult.ScheduleID)
	assert.True(t, got.AssessedValue.Equal(won(897_000_000)))
	assert.True(t, got.TaxBase.Equal(won(403_650_000)), "base %s", got.TaxBase)
	assert.False(t, got.IsCapped)
	assert.True(t, got.TaxBaseCapped.Equal(got.TaxBase))
	assert.True(t, got.Tax.Equal(won(782_775)), "tax %s", got.Tax)
	assert.True(t, got.EffectiveRate.Equal(mustRate("0.0035")))
}

func TestAssessedEntryInvertsBaselineReality(t *testing.T) {
	v := mustVariant(t, VariantAssessed)

	// The adjusted reality rate must not change the derived market value.
	got, err := v.Compare(Input{
		Price:  ParsePrice("897000000"),
		Ratios: Ratios{Reality: 90, FairMarket: 60},
	})
	require.NoError(t, err)

	assert.True(t, got.Baseline.MarketValue.Equal(won(1_300_000_000)), "market %s", got.Baseline.MarketValue)
	assert.True(t, got.Current.MarketValue.Equal(won(1_300_000_000)))
	assert.True(t, got.Baseline.AssessedValue.Equal(won(897_000_000)))
	assert.True(t, got.Baseline.Tax.Equal(won(152_280_000)))

	// 1.3B × 0.9 × 0.6 = 702,000,000 → 702M × 0.4 − 63M
	assert.True(t, got.Current.Tax.Equal(won(217_800_000)), "current tax %s", got.Current.Tax)
	assert.True(t, got.Difference.Equal(won(65_520_000)))
	assert.True(t, got.DifferencePercent.Equal(mustRate("43.03")), "pct %s", got.DifferencePercent)
}

func TestEmptyInputIsAllZero(t *testing.T) {
	for _, v := range Variants() {
		for _, raw := range []string{"", "   ", "abc", "0", "-5"} {
			got, err := v.Compare(Input{Price: ParsePrice(raw), Ratios: v.Baseline})
			require.NoError(t, err)

			for _, r := range []Result{got.Baseline, got.Current} {
				assert.Empty(t, cmp.Diff(zeroResult(), r, decimalEqual), "variant %s input %q", v.ID, raw)
			}
			assert.True(t, got.Difference.IsZero())
			assert.True(t, got.DifferencePercent.IsZero())
		}
	}
}

func TestCapInvariant(t *testing.T) {
	v := mustVariant(t, VariantMarket)
	ratios := Ratios{Reality: 100, FairMarket: 100, SingleHomeFairMarket: 100}

	for _, price := range []int64{500_000_000, 900_000_000, 900_000_001, 3_000_000_000} {
		got, err := v.Compare(Input{Price: won(price), Ratios: ratios, SingleHome: true})
		require.NoError(t, err)

		r := got.Current
		assert.True(t, r.TaxBaseCapped.Equal(decimal.Min(r.TaxBase, SingleHomeCeiling)), "price %d", price)
		assert.Equal(t, r.TaxBase.GreaterThan(SingleHomeCeiling), r.IsCapped, "price %d", price)
	}

	// Uncapped base is still reported; tax stops growing past the ceiling.
	big, _ := v.Compare(Input{Price: won(3_000_000_000), Ratios: ratios, SingleHome: true})
	bigger, _ := v.Compare(Input{Price: won(6_000_000_000), Ratios: ratios, SingleHome: true})
	assert.True(t, big.Current.TaxBase.Equal(won(3_000_000_000)))
	assert.True(t, big.Current.Tax.Equal(bigger.Current.Tax))
	// 420,000 + 600M × 0.0035
	assert.True(t, big.Current.Tax.Equal(won(2_520_000)), "tax %s", big.Current.Tax)
}

func TestMonotonicInMarketValue(t *testing.T) {
	for _, v := range Variants() {
		for _, single := range []bool{false, true} {
			if single && !v.SupportsSingleHome() {
				continue
			}
			prev := decimal.Zero
			for p := int64(0); p <= 3_000_000_000; p += 13_000_007 {
				got, err := v.Compare(Input{Price: won(p), Ratios: v.Baseline, SingleHome: single})
				require.NoError(t, err)
				require.Falsef(t, got.Current.Tax.LessThan(prev), "%s single=%v: tax fell at %d", v.ID, single, p)
				prev = got.Current.Tax
			}
		}
	}
}

func TestCompareIsIdempotent(t *testing.T) {
	v := mustVariant(t, VariantMarket)
	in := Input{Price: won(1_234_567_891), Ratios: Ratios{Reality: 80, FairMarket: 70, SingleHomeFairMarket: 50}, SingleHome: true}

	first, err := v.Compare(in)
	require.NoError(t, err)
	second, err := v.Compare(in)
	require.NoError(t, err)

	assert.Empty(t, cmp.Diff(first, second, decimalEqual))
	assert.Equal(t, first.Current.Tax.String(), second.Current.Tax.String())
}

func TestDifferencePercentZeroBaseline(t *testing.T) {
	diff, pct := Difference(decimal.Zero, won(1_000))
	assert.True(t, diff.Equal(won(1_000)))
	assert.True(t, pct.IsZero())

	diff, pct = Difference(won(3_000), won(1_000))
	assert.True(t, diff.Equal(won(-2_000)))
	assert.True(t, pct.Equal(mustRate("-66.67")), "pct %s", pct)
}

func TestSingleHomeUnsupported(t *testing.T) {
	v := mustVariant(t, VariantAssessed)
	_, err := v.Compare(Input{Price: won(1), Ratios: v.Baseline, SingleHome: true})
	assert.ErrorIs(t, err, ErrSingleHomeUnsupported)
}

func TestParsePrice(t *testing.T) {
	assert.True(t, ParsePrice("900000000").Equal(won(900_000_000)))
	assert.True(t, ParsePrice(" 12 ").Equal(won(12)))
	assert.True(t, ParsePrice("").IsZero())
	assert.True(t, ParsePrice("1,000").IsZero(), "separators must be stripped by the caller")
	assert.True(t, ParsePrice("-1").IsZero())
}
