// Package totals computes invoice amounts from line items.
package totals

import (
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/portal/internal/invoice/domain"
)

var hundred = decimal.NewFromInt(100)

type Totals struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Tax      decimal.Decimal `json:"tax"`
	Discount decimal.Decimal `json:"discount"`
	Total    decimal.Decimal `json:"total"`
}

// Compute sums the computable items and applies the optional tax and
// discount percentages. Items with a negative quantity or unit amount are
// skipped. Each amount is rounded to cents and total is derived from the
// rounded parts, so total == subtotal + tax - discount holds exactly.
func Compute(items []domain.LineItem, taxRatePercent, discountRatePercent *decimal.Decimal) Totals {
	subtotal := decimal.Zero
	for _, item := range items {
		if !item.Computable() {
			continue
		}
		subtotal = subtotal.Add(item.Amount())
	}

	tax := percentOf(subtotal, taxRatePercent)
	discount := percentOf(subtotal, discountRatePercent)

	return Totals{
		Subtotal: subtotal,
		Tax:      tax,
		Discount: discount,
		Total:    subtotal.Add(tax).Sub(discount),
	}
}

// ValidateRate accepts nil or a percentage in [0, 100].
func ValidateRate(rate *decimal.Decimal) bool {
	if rate == nil {
		return true
	}
	return !rate.IsNegative() && rate.LessThanOrEqual(hundred)
}

// ToMinorUnits converts an amount to integer cents, rounding half away from zero.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

func FromMinorUnits(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

func percentOf(base decimal.Decimal, rate *decimal.Decimal) decimal.Decimal {
	if rate == nil || rate.IsZero() {
		return decimal.Zero
	}
	return base.Mul(*rate).Div(hundred).Round(2)
}
