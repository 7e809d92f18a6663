package domain

import "time"

// InvoicePatch is a partial update. Nil fields are left untouched. Meta keys
// are merged into the stored map rather than replacing it.
type InvoicePatch struct {
	Status          *InvoiceStatus `json:"status,omitempty"`
	IssuedAt        *time.Time     `json:"issued_at,omitempty"`
	DueAt           *time.Time     `json:"due_at,omitempty"`
	PaidAt          *time.Time     `json:"paid_at,omitempty"`
	StripeInvoiceID *string        `json:"stripe_invoice_id,omitempty"`
	HostedURL       *string        `json:"hosted_url,omitempty"`
	PDFURL          *string        `json:"pdf_url,omitempty"`
	Meta            map[string]any `json:"meta,omitempty"`
}

func (p InvoicePatch) IsEmpty() bool {
	return p.Status == nil && p.IssuedAt == nil && p.DueAt == nil && p.PaidAt == nil &&
		p.StripeInvoiceID == nil && p.HostedURL == nil && p.PDFURL == nil && len(p.Meta) == 0
}

// WithStatus returns a copy of p targeting status.
func (p InvoicePatch) WithStatus(status InvoiceStatus) InvoicePatch {
	p.Status = &status
	return p
}
