package domain

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type AdapterConfig struct {
	Provider      string
	WebhookSecret string
	// Tolerance bounds the age of a signed delivery. Zero uses the
	// provider default.
	Tolerance time.Duration
}

// WebhookAdapter verifies and decodes one provider's webhook deliveries.
type WebhookAdapter interface {
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*InvoiceEvent, error)
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (WebhookAdapter, error)
}

type Service interface {
	IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error
	// ListInvoiceEvents returns provider events recorded against a portal
	// invoice, newest first. Admin only.
	ListInvoiceEvents(ctx context.Context, invoiceID string) ([]EventRecord, error)
}

type Repository interface {
	FindEvent(ctx context.Context, db *gorm.DB, provider string, providerEventID string) (*EventRecord, error)
	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error
	ListEventsByProviderInvoice(ctx context.Context, db *gorm.DB, providerInvoiceID string, limit int) ([]EventRecord, error)
}
