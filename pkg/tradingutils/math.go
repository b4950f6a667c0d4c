package tradingutils

import (
	"math"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// RoundPrice rounds a price to the specified decimals
func RoundPrice(price decimal.Decimal, priceDecimals int) decimal.Decimal {
	return price.Round(int32(priceDecimals))
}

// RoundQuantity truncates a quantity to the venue's step. Truncation never
// asks for more than the balance that sized it.
func RoundQuantity(qty decimal.Decimal, qtyDecimals int) decimal.Decimal {
	return qty.Truncate(int32(qtyDecimals))
}

// PremiumPct returns (price/ref - 1) * 100
func PremiumPct(price, ref decimal.Decimal) decimal.Decimal {
	if ref.IsZero() {
		return decimal.Zero
	}
	return price.Div(ref).Sub(decimal.NewFromInt(1)).Mul(hundred)
}

// CalculateNetProfit computes leg PnL for a buy/sell pair after taker fees.
// Fees are charged on each leg's filled notional.
func CalculateNetProfit(buyPrice, sellPrice, amount, buyFeeRate, sellFeeRate decimal.Decimal) (gross, fee, net decimal.Decimal) {
	gross = sellPrice.Sub(buyPrice).Mul(amount)
	fee = buyPrice.Mul(amount).Mul(buyFeeRate).Add(sellPrice.Mul(amount).Mul(sellFeeRate))
	net = gross.Sub(fee)
	return gross, fee, net
}

// MinDecimal returns the smaller of a and b
func MinDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// ClampDecimal limits v to [lo, hi]
func ClampDecimal(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}

// Clamp limits v to [lo, hi]. NaN maps to lo.
func Clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

// Finite replaces NaN and infinities with zero
func Finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// Lerp interpolates linearly between a and b for t in [0, 1]
func Lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}
