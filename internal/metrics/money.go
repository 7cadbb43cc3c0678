package metrics

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// round2 applies the engine-wide rounding policy: 2 decimal places,
// ties away from zero. Every sum, average, ratio and percentage passes
// through it before leaving the package.
func round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// fromCents converts an integer-cents sum to a 2-decimal amount.
func fromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// pct returns value/total*100 at 2 decimals, 0 when total is 0.
func pct(value, total decimal.Decimal) decimal.Decimal {
	if total.IsZero() {
		return decimal.Zero
	}
	return round2(value.Mul(hundred).Div(total))
}

// PercentChange returns the period-over-period delta as a percentage,
// rounded to 2 decimals. A zero previous value saturates to exactly 0
// rather than erroring or producing infinity, keeping dashboards stable
// when a period has no history.
func PercentChange(current, previous decimal.Decimal) decimal.Decimal {
	if previous.IsZero() {
		return decimal.Zero
	}
	return round2(current.Sub(previous).Div(previous).Mul(hundred))
}
