package pdf

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleInvoice() InvoiceData {
	return InvoiceData{
		BrandName:     "Acme Studio",
		BrandEmail:    "billing@acme.test",
		InvoiceNumber: "INV-2025-00001",
		Status:        "open",
		IssueDate:     "May 1, 2025",
		DueDate:       "May 31, 2025",
		BillToName:    "Ada",
		BillToEmail:   "ada@example.com",
		Items: []InvoiceItem{
			{Description: "Design", Qty: "2", UnitPrice: "$150.00", Amount: "$300.00"},
		},
		Subtotal: "$300.00",
		Tax:      "$30.00",
		Total:    "$330.00",
		Notes:    "Thanks!",
		Footer:   "Acme Studio LLC",
	}
}

func TestGenerateInvoiceProducesPDF(t *testing.T) {
	doc, err := New().GenerateInvoice(context.Background(), sampleInvoice())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(doc, []byte("%PDF")))
}

func TestGenerateInvoiceRequiresNumber(t *testing.T) {
	data := sampleInvoice()
	data.InvoiceNumber = " "
	_, err := New().GenerateInvoice(context.Background(), data)
	assert.ErrorIs(t, err, ErrEmptyDocument)
}

func TestGenerateInvoiceHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().GenerateInvoice(ctx, sampleInvoice())
	assert.ErrorIs(t, err, context.Canceled)
}
