// Package domain contains persistence models and contracts for invoicing.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Meta keys written by the invoice service.
const (
	MetaStripeCustomerID    = "stripe_customer_id"
	MetaNumberHint          = "number_hint"
	MetaTaxRatePercent      = "tax_rate_percent"
	MetaDiscountRatePercent = "discount_rate_percent"
	MetaLastSendError       = "last_send_error"
	MetaProviderOutcome     = "provider_outcome"
	MetaPDFURL              = "pdfUrl"
	MetaPDFRenderedAt       = "pdf_rendered_at"
)

// InvoiceStatus represents invoice lifecycle states.
type InvoiceStatus string

const (
	InvoiceStatusDraft         InvoiceStatus = "draft"
	InvoiceStatusOpen          InvoiceStatus = "open"
	InvoiceStatusPaid          InvoiceStatus = "paid"
	InvoiceStatusVoid          InvoiceStatus = "void"
	InvoiceStatusUncollectible InvoiceStatus = "uncollectible"
)

// IsTerminal reports whether no further transition is possible.
func (s InvoiceStatus) IsTerminal() bool {
	switch s {
	case InvoiceStatusPaid, InvoiceStatusVoid, InvoiceStatusUncollectible:
		return true
	}
	return false
}

func (s InvoiceStatus) Valid() bool {
	switch s {
	case InvoiceStatusDraft, InvoiceStatusOpen, InvoiceStatusPaid, InvoiceStatusVoid, InvoiceStatusUncollectible:
		return true
	}
	return false
}

// PredecessorsOf lists the statuses an invoice may move to target from.
// open -> open is allowed so resends can refresh provider fields.
func PredecessorsOf(target InvoiceStatus) []InvoiceStatus {
	switch target {
	case InvoiceStatusOpen:
		return []InvoiceStatus{InvoiceStatusDraft, InvoiceStatusOpen}
	case InvoiceStatusPaid, InvoiceStatusVoid, InvoiceStatusUncollectible:
		return []InvoiceStatus{InvoiceStatusDraft, InvoiceStatusOpen}
	}
	return nil
}

// CanTransition encodes draft -> open -> {paid, void, uncollectible}.
func CanTransition(from, to InvoiceStatus) bool {
	for _, allowed := range PredecessorsOf(to) {
		if allowed == from {
			return true
		}
	}
	return false
}

// Invoice represents a client invoice.
type Invoice struct {
	ID              snowflake.ID      `gorm:"primaryKey" json:"id"`
	ClientID        snowflake.ID      `gorm:"not null;index" json:"client_id"`
	Number          string            `gorm:"type:text;not null" json:"number"`
	Currency        string            `gorm:"type:text;not null" json:"currency"`
	Status          InvoiceStatus     `gorm:"type:text;not null;default:'draft'" json:"status"`
	Subtotal        decimal.Decimal   `gorm:"type:numeric(18,2);not null" json:"subtotal"`
	Tax             decimal.Decimal   `gorm:"type:numeric(18,2);not null" json:"tax"`
	Discount        decimal.Decimal   `gorm:"type:numeric(18,2);not null" json:"discount"`
	Total           decimal.Decimal   `gorm:"type:numeric(18,2);not null" json:"total"`
	IssuedAt        *time.Time        `json:"issued_at,omitempty"`
	DueAt           *time.Time        `json:"due_at,omitempty"`
	PaidAt          *time.Time        `json:"paid_at,omitempty"`
	Notes           string            `gorm:"type:text" json:"notes,omitempty"`
	StripeInvoiceID *string           `gorm:"type:text" json:"stripe_invoice_id,omitempty"`
	HostedURL       *string           `gorm:"type:text" json:"hosted_url,omitempty"`
	PDFURL          *string           `gorm:"column:pdf_url;type:text" json:"pdf_url,omitempty"`
	Meta            datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"meta"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`

	Items []InvoiceItem `gorm:"-" json:"items,omitempty"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// InvoiceItem represents a line on an invoice.
type InvoiceItem struct {
	ID          snowflake.ID    `gorm:"primaryKey" json:"id"`
	InvoiceID   snowflake.ID    `gorm:"not null;index" json:"invoice_id"`
	Description string          `gorm:"type:text;not null" json:"description"`
	Quantity    decimal.Decimal `gorm:"type:numeric(18,4);not null" json:"quantity"`
	UnitAmount  decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"unit_amount"`
	Amount      decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"amount"`
	Position    int             `gorm:"not null" json:"position"`
	CreatedAt   time.Time       `json:"created_at"`
}

// TableName sets the database table name.
func (InvoiceItem) TableName() string { return "invoice_items" }

type PaymentStatus string

const PaymentStatusSucceeded PaymentStatus = "succeeded"

// Payment records money received against an invoice. ProviderRef is unique
// per provider so a redelivered webhook never creates a second row.
type Payment struct {
	ID          snowflake.ID    `gorm:"primaryKey" json:"id"`
	InvoiceID   snowflake.ID    `gorm:"not null;index" json:"invoice_id"`
	Provider    string          `gorm:"type:text;not null" json:"provider"`
	Amount      decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"amount"`
	Currency    string          `gorm:"type:text;not null" json:"currency"`
	Status      PaymentStatus   `gorm:"type:text;not null" json:"status"`
	ProviderRef string          `gorm:"type:text;not null" json:"provider_ref"`
	ReceivedAt  time.Time       `gorm:"not null" json:"received_at"`
	CreatedAt   time.Time       `json:"created_at"`
}

// TableName sets the database table name.
func (Payment) TableName() string { return "payments" }

type ReconciliationStatus string

const (
	ReconciliationPending ReconciliationStatus = "pending"
	ReconciliationApplied ReconciliationStatus = "applied"
)

// Reconciliation holds a provider result that could not be written back to
// the invoice right after issuance.
type Reconciliation struct {
	ID        snowflake.ID         `gorm:"primaryKey"`
	InvoiceID snowflake.ID         `gorm:"not null;index"`
	Patch     datatypes.JSON       `gorm:"type:jsonb;not null"`
	Status    ReconciliationStatus `gorm:"type:text;not null"`
	Attempts  int                  `gorm:"not null"`
	LastError string               `gorm:"type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName sets the database table name.
func (Reconciliation) TableName() string { return "invoice_reconciliations" }
