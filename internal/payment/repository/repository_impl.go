package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/portal/internal/payment/domain"
	"gorm.io/gorm"
)

const eventColumns = `id, provider, provider_event_id, event_type, provider_invoice_id,
	payload, received_at, processed_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindEvent(ctx context.Context, db *gorm.DB, provider string, providerEventID string) (*domain.EventRecord, error) {
	var rows []domain.EventRecord
	err := db.WithContext(ctx).Raw(
		`SELECT `+eventColumns+`
		FROM payment_events
		WHERE provider = ? AND provider_event_id = ?
		LIMIT 1`,
		provider,
		providerEventID,
	).Scan(&rows).Error
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return &rows[0], nil
}

// InsertEvent reports false when (provider, provider_event_id) already exists.
// The conflicting row is left untouched so the first payload stays on record.
func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.EventRecord) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO payment_events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, provider_event_id) DO NOTHING`,
		event.ID, event.Provider, event.ProviderEventID, event.EventType,
		event.ProviderInvoiceID, event.Payload, event.ReceivedAt, event.ProcessedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// MarkProcessed only stamps rows that are still pending.
func (r *repo) MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_events SET processed_at = ? WHERE id = ? AND processed_at IS NULL`,
		processedAt,
		id,
	).Error
}

func (r *repo) ListEventsByProviderInvoice(ctx context.Context, db *gorm.DB, providerInvoiceID string, limit int) ([]domain.EventRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	items := []domain.EventRecord{}
	err := db.WithContext(ctx).Raw(
		`SELECT `+eventColumns+`
		FROM payment_events
		WHERE provider_invoice_id = ?
		ORDER BY received_at DESC, id DESC
		LIMIT ?`,
		providerInvoiceID,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
