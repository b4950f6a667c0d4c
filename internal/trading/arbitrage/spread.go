package arbitrage

import (
	"sort"

	"github.com/shopspring/decimal"
)

// ComputeSpread is what a short on the high-rate venue collects over a long
// on the low-rate one, per funding interval
func ComputeSpread(longRate, shortRate decimal.Decimal) decimal.Decimal {
	return shortRate.Sub(longRate)
}

// AnnualizeSpread scales a per-payment spread to a yearly rate given the
// hours between payments. A non-positive interval yields zero.
func AnnualizeSpread(spread, intervalHours decimal.Decimal) decimal.Decimal {
	if intervalHours.Sign() <= 0 {
		return decimal.Zero
	}
	return spread.Mul(hoursPerYear.Div(intervalHours))
}

var hoursPerYear = decimal.NewFromInt(365 * 24)

// FundingSpread pairs the highest-funding venue (short) with the lowest (long)
type FundingSpread struct {
	ShortVenue string
	LongVenue  string
	ShortRate  decimal.Decimal
	LongRate   decimal.Decimal
	Spread     decimal.Decimal
}

// WidestFundingSpread picks max minus min across venues. Ties resolve by
// venue name so the choice is stable. Fewer than two venues yields false.
func WidestFundingSpread(rates map[string]decimal.Decimal) (FundingSpread, bool) {
	if len(rates) < 2 {
		return FundingSpread{}, false
	}
	names := make([]string, 0, len(rates))
	for name := range rates {
		names = append(names, name)
	}
	sort.Strings(names)

	hi, lo := names[0], names[0]
	for _, name := range names[1:] {
		if rates[name].GreaterThan(rates[hi]) {
			hi = name
		}
		if rates[name].LessThan(rates[lo]) {
			lo = name
		}
	}
	if hi == lo {
		lo = names[1]
		if hi == names[1] {
			lo = names[0]
		}
	}

	return FundingSpread{
		ShortVenue: hi,
		LongVenue:  lo,
		ShortRate:  rates[hi],
		LongRate:   rates[lo],
		Spread:     ComputeSpread(rates[lo], rates[hi]),
	}, true
}

// SpreadBetween is the current short-minus-long spread of an open pair.
// A missing rate yields false.
func SpreadBetween(rates map[string]decimal.Decimal, shortVenue, longVenue string) (decimal.Decimal, bool) {
	s, okS := rates[shortVenue]
	l, okL := rates[longVenue]
	if !okS || !okL {
		return decimal.Zero, false
	}
	return ComputeSpread(l, s), true
}
