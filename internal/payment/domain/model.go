package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// EventRecord is one received provider webhook. Provider and
// ProviderEventID are unique together, so a redelivery maps to the same row.
type EventRecord struct {
	ID                snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider          string         `json:"provider" gorm:"type:text;not null"`
	ProviderEventID   string         `json:"provider_event_id" gorm:"type:text;not null"`
	EventType         string         `json:"event_type" gorm:"type:text;not null"`
	ProviderInvoiceID *string        `json:"provider_invoice_id" gorm:"type:text"`
	Payload           datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	ReceivedAt        time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt       *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "payment_events" }

// Canonical invoice event types. Adapters map provider-specific names onto
// these.
const (
	EventTypeInvoicePaid          = "invoice.paid"
	EventTypeInvoiceVoided        = "invoice.voided"
	EventTypeInvoiceUncollectible = "invoice.marked_uncollectible"
	EventTypeInvoiceFinalized     = "invoice.finalized"
)

// InvoiceEvent is the canonical invoice event parsed by adapters.
type InvoiceEvent struct {
	Provider          string
	ProviderEventID   string
	ProviderType      string
	Type              string
	ProviderInvoiceID string
	// LocalInvoiceID is the portal invoice id echoed back from provider
	// metadata, when the provider carries it.
	LocalInvoiceID string
	PaymentRef     string
	AmountPaid     decimal.Decimal
	Currency       string
	HostedURL      string
	PDFURL         string
	FinalizedAt    *time.Time
	PaidAt         *time.Time
	DueAt          *time.Time
	OccurredAt     time.Time
	RawPayload     []byte
}
