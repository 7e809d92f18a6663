package totals

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/portal/internal/invoice/domain"
	"github.com/stretchr/testify/assert"
)

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func ptr(v string) *decimal.Decimal {
	d := dec(v)
	return &d
}

func item(qty, unit string) domain.LineItem {
	return domain.LineItem{Description: "x", Quantity: dec(qty), UnitAmount: dec(unit)}
}

func TestComputeWithoutRates(t *testing.T) {
	got := Compute([]domain.LineItem{item("2", "150")}, nil, nil)
	assert.True(t, got.Subtotal.Equal(dec("300")))
	assert.True(t, got.Tax.IsZero())
	assert.True(t, got.Discount.IsZero())
	assert.True(t, got.Total.Equal(dec("300")))
}

func TestComputeWithTax(t *testing.T) {
	got := Compute([]domain.LineItem{item("2", "150")}, ptr("10"), nil)
	assert.True(t, got.Tax.Equal(dec("30")))
	assert.True(t, got.Total.Equal(dec("330")))
}

func TestComputeWithTaxAndDiscount(t *testing.T) {
	got := Compute([]domain.LineItem{item("2", "50"), item("1", "25")}, ptr("10"), ptr("20"))
	assert.True(t, got.Subtotal.Equal(dec("125")))
	assert.True(t, got.Tax.Equal(dec("12.5")))
	assert.True(t, got.Discount.Equal(dec("25")))
	assert.True(t, got.Total.Equal(dec("112.5")))
}

func TestComputeSkipsInvalidItems(t *testing.T) {
	got := Compute([]domain.LineItem{item("1", "10"), item("-1", "10"), item("1", "-5")}, nil, nil)
	assert.True(t, got.Subtotal.Equal(dec("10")))
}

func TestComputeIsDeterministic(t *testing.T) {
	items := []domain.LineItem{item("3", "33.33"), item("0.5", "19.99")}
	first := Compute(items, ptr("7.25"), ptr("3"))
	for i := 0; i < 5; i++ {
		again := Compute(items, ptr("7.25"), ptr("3"))
		assert.True(t, first.Total.Equal(again.Total))
		assert.True(t, first.Tax.Equal(again.Tax))
	}
}

func TestTotalInvariantHoldsAfterRounding(t *testing.T) {
	got := Compute([]domain.LineItem{item("1", "0.05"), item("3", "0.07")}, ptr("8.875"), ptr("12.5"))
	assert.True(t, got.Total.Equal(got.Subtotal.Add(got.Tax).Sub(got.Discount)))
}

func TestValidateRate(t *testing.T) {
	assert.True(t, ValidateRate(nil))
	assert.True(t, ValidateRate(ptr("0")))
	assert.True(t, ValidateRate(ptr("100")))
	assert.False(t, ValidateRate(ptr("-1")))
	assert.False(t, ValidateRate(ptr("100.01")))
}

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(15000), ToMinorUnits(dec("150")))
	assert.Equal(t, int64(1), ToMinorUnits(dec("0.005")))
	assert.Equal(t, int64(-1250), ToMinorUnits(dec("-12.5")))
	assert.True(t, FromMinorUnits(12345).Equal(dec("123.45")))
}
