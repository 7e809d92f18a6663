// Package render turns stored invoices into printable document content.
package render

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/portal/internal/config"
	invoicedomain "github.com/smallbiznis/portal/internal/invoice/domain"
	"github.com/smallbiznis/portal/internal/providers/pdf"
)

type DocumentInput struct {
	Title       string
	Number      string
	Status      string
	Currency    string
	IssuedAt    *time.Time
	DueAt       *time.Time
	ClientName  string
	ClientEmail string
	Items       []invoicedomain.LineItem
	Subtotal    decimal.Decimal
	Tax         decimal.Decimal
	Discount    decimal.Decimal
	Total       decimal.Decimal
	Notes       string
	Settings    config.InvoiceSettings
}

// FromInvoice builds the input for a stored invoice.
func FromInvoice(invoice invoicedomain.Invoice, clientName, clientEmail string, settings config.InvoiceSettings) DocumentInput {
	items := make([]invoicedomain.LineItem, 0, len(invoice.Items))
	for _, item := range invoice.Items {
		items = append(items, invoicedomain.LineItem{
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitAmount:  item.UnitAmount,
		})
	}
	return DocumentInput{
		Number:      invoice.Number,
		Status:      string(invoice.Status),
		Currency:    invoice.Currency,
		IssuedAt:    invoice.IssuedAt,
		DueAt:       invoice.DueAt,
		ClientName:  clientName,
		ClientEmail: clientEmail,
		Items:       items,
		Subtotal:    invoice.Subtotal,
		Tax:         invoice.Tax,
		Discount:    invoice.Discount,
		Total:       invoice.Total,
		Notes:       invoice.Notes,
		Settings:    settings,
	}
}

func Document(input DocumentInput) pdf.InvoiceData {
	currency := input.Currency
	if strings.TrimSpace(currency) == "" {
		currency = input.Settings.DefaultCurrency
	}

	data := pdf.InvoiceData{
		BrandName:     input.Settings.BrandName,
		BrandAddress:  input.Settings.BrandAddress,
		BrandEmail:    input.Settings.BrandEmail,
		Title:         input.Title,
		InvoiceNumber: input.Number,
		Status:        input.Status,
		IssueDate:     formatDate(input.IssuedAt),
		DueDate:       formatDate(input.DueAt),
		BillToName:    input.ClientName,
		BillToEmail:   input.ClientEmail,
		Subtotal:      formatMoney(input.Subtotal, currency),
		Total:         formatMoney(input.Total, currency),
		Notes:         input.Notes,
		Footer:        input.Settings.FooterText,
	}
	if input.Tax.IsPositive() {
		data.Tax = formatMoney(input.Tax, currency)
	}
	if input.Discount.IsPositive() {
		data.Discount = formatMoney(input.Discount, currency)
	}
	for _, item := range input.Items {
		data.Items = append(data.Items, pdf.InvoiceItem{
			Description: item.Description,
			Qty:         formatQuantity(item.Quantity),
			UnitPrice:   formatMoney(item.UnitAmount, currency),
			Amount:      formatMoney(item.Amount(), currency),
		})
	}
	return data
}

func formatMoney(amount decimal.Decimal, currency string) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = "USD"
	}
	return currency + " " + amount.StringFixed(2)
}

func formatDate(value *time.Time) string {
	if value == nil || value.IsZero() {
		return ""
	}
	return value.UTC().Format("2006-01-02")
}

func formatQuantity(value decimal.Decimal) string {
	return value.Round(4).String()
}
