// Package events fans invoice lifecycle changes out to downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

const (
	InvoiceCreated       = "invoice.created"
	InvoiceSent          = "invoice.sent"
	InvoicePaid          = "invoice.paid"
	InvoiceVoided        = "invoice.voided"
	InvoiceUncollectible = "invoice.uncollectible"
)

// Event is the envelope written to the bus. InvoiceID is the partition key so
// consumers see one invoice's events in order.
type Event struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	OccurredAt time.Time      `json:"occurred_at"`
	InvoiceID  string         `json:"invoice_id"`
	ClientID   string         `json:"client_id"`
	Data       map[string]any `json:"data,omitempty"`
}

func NewEvent(eventType, invoiceID, clientID string, data map[string]any) Event {
	now := time.Now().UTC()
	return Event{
		ID:         ulid.Make().String(),
		Type:       eventType,
		OccurredAt: now,
		InvoiceID:  invoiceID,
		ClientID:   clientID,
		Data:       data,
	}
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// LoggingPublisher records events in the log only. It backs deployments
// without a broker.
type LoggingPublisher struct {
	log *zap.Logger
}

func NewLoggingPublisher(log *zap.Logger) *LoggingPublisher {
	return &LoggingPublisher{log: log.Named("events.publisher")}
}

func (p *LoggingPublisher) Publish(_ context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	p.log.Debug("event published",
		zap.String("event_type", event.Type),
		zap.String("invoice_id", event.InvoiceID),
		zap.Int("payload_bytes", len(payload)),
	)
	return nil
}

func (p *LoggingPublisher) Close() error { return nil }
