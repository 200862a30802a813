package shared

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Tolerance is the absolute difference under which two amounts are equal.
var Tolerance = decimal.NewFromFloat(0.01)

// AmountsMatch reports whether a and b differ by at most Tolerance.
func AmountsMatch(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Tolerance)
}

// Covers reports whether paid settles net within Tolerance.
func Covers(paid, net decimal.Decimal) bool {
	return paid.GreaterThanOrEqual(net.Sub(Tolerance))
}

// MaxZero floors d at zero.
func MaxZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

var amountPrinter = message.NewPrinter(language.English)

// FormatAmount renders an amount with thousands separators for ledger text.
func FormatAmount(d decimal.Decimal) string {
	f, _ := d.Round(2).Float64()
	return amountPrinter.Sprintf("%.2f", f)
}
