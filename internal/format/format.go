// Package format renders amounts, rates and bracket tables for display.
package format

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/opensource-finance/proptax/internal/tax"
)

var printer = message.NewPrinter(language.Korean)

var (
	hundred  = decimal.NewFromInt(100)
	thousand = decimal.NewFromInt(1000)
)

var (
	minInt64 = decimal.NewFromInt(math.MinInt64)
	maxInt64 = decimal.NewFromInt(math.MaxInt64)
)

// Won renders an amount rounded to whole won with thousands separators.
func Won(d decimal.Decimal) string {
	d = d.Round(0)
	if d.GreaterThanOrEqual(minInt64) && d.LessThanOrEqual(maxInt64) {
		return printer.Sprintf("%d", d.IntPart())
	}
	return groupDigits(d.String())
}

// groupDigits inserts a comma every three digits of a signed integer string.
func groupDigits(s string) string {
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	var sb strings.Builder
	sb.WriteString(sign)
	head := len(s) % 3
	if head == 0 {
		head = 3
	}
	sb.WriteString(s[:head])
	for i := head; i < len(s); i += 3 {
		sb.WriteByte(',')
		sb.WriteString(s[i : i+3])
	}
	return sb.String()
}

// SignedWon is Won with a leading "+" for amounts at or above zero.
func SignedWon(d decimal.Decimal) string {
	if d.IsNegative() {
		return Won(d)
	}
	return "+" + Won(d)
}

// Percent renders a percentage with two decimals.
func Percent(d decimal.Decimal) string {
	return d.StringFixed(2) + "%"
}

// SignedPercent is Percent with a leading "+" at or above zero.
func SignedPercent(d decimal.Decimal) string {
	if d.IsNegative() {
		return Percent(d)
	}
	return "+" + Percent(d)
}

// PriceDigits reduces raw price input to the digits of its whole-won part.
// A minus sign before the first digit marks a negative amount and yields "",
// and anything after a decimal point is dropped.
func PriceDigits(raw string) string {
	first := strings.IndexFunc(raw, isDigit)
	if first < 0 || strings.ContainsRune(raw[:first], '-') {
		return ""
	}
	if dot := strings.IndexByte(raw, '.'); dot >= 0 {
		raw = raw[:dot]
	}
	return DigitsOnly(raw)
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

// DigitsOnly drops every character that is not an ASCII digit,
// so "1,300,000,000원" becomes "1300000000".
func DigitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if isDigit(r) {
			return r
		}
		return -1
	}, s)
}

// BracketLabel renders the range of a bracket, e.g.
// "60,000,000원 초과 150,000,000원 이하" or "300,000,000원 초과".
func BracketLabel(b tax.Bracket) string {
	if b.Unbounded {
		return Won(b.Lower) + "원 초과"
	}
	return Won(b.Lower) + "원 초과 " + Won(b.Upper) + "원 이하"
}

// RateLabel describes how a bracket computes tax.
//
//	cumulative: "60,000원+6천만원 초과금액의 1,000분의 1.5"
//	flat:       "과세표준의 15% - 누진공제 3,000,000원"
func RateLabel(kind tax.FormulaKind, b tax.Bracket) string {
	if kind == tax.CumulativeMarginal {
		perMille := "1,000분의 " + b.Rate.Mul(thousand).String()
		if b.Offset.IsZero() && b.Lower.IsZero() {
			return perMille
		}
		return Won(b.Offset) + "원+" + KoreanAmount(b.Lower) + " 초과금액의 " + perMille
	}

	label := "과세표준의 " + b.Rate.Mul(hundred).String() + "%"
	if b.Offset.IsPositive() {
		label += " - 누진공제 " + Won(b.Offset) + "원"
	}
	return label
}

var (
	largeUnits = []struct {
		size decimal.Decimal
		name string
	}{
		{decimal.New(1, 16), "경"},
		{decimal.New(1, 12), "조"},
		{decimal.New(1, 8), "억"},
		{decimal.New(1, 4), "만"},
		{decimal.New(1, 0), ""},
	}
	smallUnits = []struct {
		size int64
		name string
	}{
		{1000, "천"},
		{100, "백"},
		{10, "십"},
		{1, ""},
	}
	tenThousand = decimal.NewFromInt(10_000)
)

// KoreanAmount renders whole won in Korean unit notation,
// e.g. 150,000,000 as "1억5천만원".
func KoreanAmount(d decimal.Decimal) string {
	n := d.Round(0)
	if n.IsZero() {
		return "0원"
	}

	var sb strings.Builder
	if n.IsNegative() {
		sb.WriteByte('-')
		n = n.Neg()
	}
	for _, u := range largeUnits {
		group, rest := n.QuoRem(u.size, 0)
		n = rest
		if group.IsZero() {
			continue
		}
		if group.GreaterThanOrEqual(tenThousand) {
			sb.WriteString(Won(group))
		} else {
			writeGroup(&sb, group.IntPart())
		}
		sb.WriteString(u.name)
	}
	sb.WriteString("원")
	return sb.String()
}

// writeGroup writes a value below 10,000, e.g. 1500 as "1천5백".
func writeGroup(sb *strings.Builder, n int64) {
	for _, u := range smallUnits {
		digit := n / u.size
		n %= u.size
		if digit == 0 {
			continue
		}
		sb.WriteByte(byte('0' + digit))
		sb.WriteString(u.name)
	}
}
