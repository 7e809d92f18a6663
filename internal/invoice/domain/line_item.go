package domain

import (
	"encoding/json"
	"strings"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

const DefaultLineItemDescription = "Line item"

// LineItem is the canonical billable row used past the request boundary.
type LineItem struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitAmount  decimal.Decimal `json:"unit_amount"`
}

// Amount is quantity times unit amount, rounded to cents.
func (l LineItem) Amount() decimal.Decimal {
	return l.Quantity.Mul(l.UnitAmount).Round(2)
}

// Computable reports whether the line can contribute to totals.
func (l LineItem) Computable() bool {
	return !l.Quantity.IsNegative() && !l.UnitAmount.IsNegative()
}

// Billable reports whether the line may be stored on an invoice.
func (l LineItem) Billable() bool {
	return l.Computable() && l.Quantity.IsPositive() && strings.TrimSpace(l.Description) != ""
}

// LineItemInput accepts the loosely shaped line items clients send. Unit
// price may arrive as unit_amount, unitAmount, unit_price, price or amount;
// quantity as quantity or qty; description as description or name. Numbers
// may be JSON numbers or numeric strings.
type LineItemInput struct {
	Description string
	Quantity    *decimal.Decimal
	UnitAmount  *decimal.Decimal
	malformed   bool
}

var (
	descriptionKeys = []string{"description", "name", "title"}
	quantityKeys    = []string{"quantity", "qty"}
	unitAmountKeys  = []string{"unit_amount", "unitAmount", "unit_price", "unitPrice", "price", "amount"}
)

func (in *LineItemInput) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*in = LineItemInput{}
	if value, ok := firstPresent(raw, descriptionKeys); ok {
		var text string
		if err := json.Unmarshal(value, &text); err == nil {
			in.Description = text
		}
	}
	if value, ok := firstPresent(raw, quantityKeys); ok {
		parsed, err := parseDecimal(value)
		if err != nil {
			in.malformed = true
		} else {
			in.Quantity = parsed
		}
	}
	if value, ok := firstPresent(raw, unitAmountKeys); ok {
		parsed, err := parseDecimal(value)
		if err != nil {
			in.malformed = true
		} else {
			in.UnitAmount = parsed
		}
	} else {
		in.malformed = true
	}
	return nil
}

// Normalize converts the input to a LineItem. ok is false when a numeric
// field could not be parsed or the unit amount is missing.
func (in LineItemInput) Normalize() (LineItem, bool) {
	if in.malformed || in.UnitAmount == nil {
		return LineItem{}, false
	}
	item := LineItem{
		Description: strings.TrimSpace(in.Description),
		Quantity:    decimal.NewFromInt(1),
		UnitAmount:  *in.UnitAmount,
	}
	if item.Description == "" {
		item.Description = DefaultLineItemDescription
	}
	if in.Quantity != nil {
		item.Quantity = *in.Quantity
	}
	return item, true
}

// NormalizeLineItems drops inputs that cannot be parsed.
func NormalizeLineItems(inputs []LineItemInput) []LineItem {
	return lo.FilterMap(inputs, func(in LineItemInput, _ int) (LineItem, bool) {
		return in.Normalize()
	})
}

// BillableLineItems keeps the lines that may be stored on an invoice.
func BillableLineItems(items []LineItem) []LineItem {
	return lo.Filter(items, func(item LineItem, _ int) bool {
		return item.Billable()
	})
}

func firstPresent(raw map[string]json.RawMessage, keys []string) (json.RawMessage, bool) {
	for _, key := range keys {
		value, ok := raw[key]
		if !ok || string(value) == "null" {
			continue
		}
		return value, true
	}
	return nil, false
}

func parseDecimal(value json.RawMessage) (*decimal.Decimal, error) {
	text := strings.TrimSpace(string(value))
	if unquoted, err := unquote(value); err == nil {
		text = strings.TrimSpace(unquoted)
	}
	parsed, err := decimal.NewFromString(text)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func unquote(value json.RawMessage) (string, error) {
	var text string
	err := json.Unmarshal(value, &text)
	return text, err
}
