package trader

import (
	"time"

	"github.com/shopspring/decimal"

	"one-percent-trader-go/internal/alpaca"
)

var (
	one   = decimal.NewFromInt(1)
	cents = int32(2)
)

// VolumeConditionMet reports whether the latest hourly bar traded more than
// threshold times the average hourly volume of the bars given.
// Bars are expected oldest first and all from the current session.
func VolumeConditionMet(bars []alpaca.Bar, threshold float64) (bool, decimal.Decimal, decimal.Decimal) {
	if len(bars) == 0 {
		return false, decimal.Zero, decimal.Zero
	}

	total := decimal.Zero
	for _, b := range bars {
		total = total.Add(decimal.NewFromInt(b.Volume))
	}
	average := total.Div(decimal.NewFromInt(int64(len(bars))))
	latest := decimal.NewFromInt(bars[len(bars)-1].Volume)

	return latest.GreaterThan(average.Mul(decimal.NewFromFloat(threshold))), latest, average
}

// ShareQuantity is the number of whole shares investment buys at price.
func ShareQuantity(investment, price decimal.Decimal) decimal.Decimal {
	if !price.IsPositive() {
		return decimal.Zero
	}
	return investment.Div(price).Floor()
}

// ExitPrices returns the take-profit and stop prices for an entry,
// rounded to cents.
func ExitPrices(entry decimal.Decimal, targetPct, stopPct float64) (target, stop decimal.Decimal) {
	target = entry.Mul(one.Add(decimal.NewFromFloat(targetPct))).Round(cents)
	stop = entry.Mul(one.Sub(decimal.NewFromFloat(stopPct))).Round(cents)
	return target, stop
}

// sessionStart is midnight of t's day in t's location.
func sessionStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
