package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/samber/lo"
	invoicedomain "github.com/smallbiznis/portal/internal/invoice/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	invoiceColumns = `id, client_id, number, currency, status, subtotal, tax, discount, total,
		issued_at, due_at, paid_at, notes, stripe_invoice_id, hosted_url, pdf_url, meta,
		created_at, updated_at`
)

type repo struct{}

func Provide() invoicedomain.Repository {
	return &repo{}
}

func (r *repo) InsertInvoice(ctx context.Context, db *gorm.DB, invoice *invoicedomain.Invoice) error {
	if invoice.Meta == nil {
		invoice.Meta = datatypes.JSONMap{}
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO invoices (`+invoiceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		invoice.ID,
		invoice.ClientID,
		invoice.Number,
		invoice.Currency,
		invoice.Status,
		invoice.Subtotal,
		invoice.Tax,
		invoice.Discount,
		invoice.Total,
		invoice.IssuedAt,
		invoice.DueAt,
		invoice.PaidAt,
		invoice.Notes,
		invoice.StripeInvoiceID,
		invoice.HostedURL,
		invoice.PDFURL,
		invoice.Meta,
		invoice.CreatedAt,
		invoice.UpdatedAt,
	).Error
}

func (r *repo) InsertInvoiceItems(ctx context.Context, db *gorm.DB, items []invoicedomain.InvoiceItem) error {
	for _, item := range items {
		if err := db.WithContext(ctx).Exec(
			`INSERT INTO invoice_items (
				id, invoice_id, description, quantity, unit_amount, amount, position, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			item.ID,
			item.InvoiceID,
			item.Description,
			item.Quantity,
			item.UnitAmount,
			item.Amount,
			item.Position,
			item.CreatedAt,
		).Error; err != nil {
			return err
		}
	}
	return nil
}

// UpdateInvoice applies patch and returns the stored row. A status change
// only lands when the current status is a legal predecessor; otherwise
// ErrInvalidTransition is returned and nothing is written.
func (r *repo) UpdateInvoice(ctx context.Context, db *gorm.DB, id snowflake.ID, patch invoicedomain.InvoicePatch) (*invoicedomain.Invoice, error) {
	current, err := r.GetInvoice(ctx, db, id, false)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, invoicedomain.ErrInvoiceNotFound
	}
	if patch.IsEmpty() {
		return current, nil
	}

	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}
	add := func(column string, value any) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}
	if patch.Status != nil {
		add("status", *patch.Status)
	}
	if patch.IssuedAt != nil {
		add("issued_at", *patch.IssuedAt)
	}
	if patch.DueAt != nil {
		add("due_at", *patch.DueAt)
	}
	if patch.PaidAt != nil {
		add("paid_at", *patch.PaidAt)
	}
	if patch.StripeInvoiceID != nil {
		add("stripe_invoice_id", *patch.StripeInvoiceID)
	}
	if patch.HostedURL != nil {
		add("hosted_url", *patch.HostedURL)
	}
	if patch.PDFURL != nil {
		add("pdf_url", *patch.PDFURL)
	}
	if len(patch.Meta) > 0 {
		merged := datatypes.JSONMap(lo.Assign(map[string]any(current.Meta), patch.Meta))
		add("meta", merged)
	}

	query := "UPDATE invoices SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	args = append(args, id)
	if patch.Status != nil {
		query += " AND status IN ?"
		args = append(args, PredecessorStrings(*patch.Status))
	}

	result := db.WithContext(ctx).Exec(query, args...)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		if patch.Status != nil {
			return nil, fmt.Errorf("%w: %s -> %s", invoicedomain.ErrInvalidTransition, current.Status, *patch.Status)
		}
		return nil, invoicedomain.ErrInvoiceNotFound
	}
	return r.GetInvoice(ctx, db, id, false)
}

func (r *repo) GetInvoice(ctx context.Context, db *gorm.DB, id snowflake.ID, withItems bool) (*invoicedomain.Invoice, error) {
	var rows []invoicedomain.Invoice
	if err := db.WithContext(ctx).Raw(
		`SELECT `+invoiceColumns+` FROM invoices WHERE id = ? LIMIT 1`,
		id,
	).Scan(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	invoice := rows[0]
	if withItems {
		items, err := r.listItems(ctx, db, invoice.ID)
		if err != nil {
			return nil, err
		}
		invoice.Items = items
	}
	return &invoice, nil
}

func (r *repo) listItems(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]invoicedomain.InvoiceItem, error) {
	var items []invoicedomain.InvoiceItem
	err := db.WithContext(ctx).Raw(
		`SELECT id, invoice_id, description, quantity, unit_amount, amount, position, created_at
		FROM invoice_items
		WHERE invoice_id = ?
		ORDER BY position ASC, id ASC`,
		invoiceID,
	).Scan(&items).Error
	return items, err
}

// ListInvoices returns newest first. Snowflake IDs grow with creation time so
// AfterID doubles as a keyset cursor.
func (r *repo) ListInvoices(ctx context.Context, db *gorm.DB, filter invoicedomain.ListFilter) ([]invoicedomain.Invoice, error) {
	var (
		where []string
		args  []any
	)
	if filter.ClientID != 0 {
		where = append(where, "client_id = ?")
		args = append(args, filter.ClientID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.AfterID != 0 {
		where = append(where, "id < ?")
		args = append(args, filter.AfterID)
	}

	query := `SELECT ` + invoiceColumns + ` FROM invoices`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	var rows []invoicedomain.Invoice
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) ListNumbersForYear(ctx context.Context, db *gorm.DB, clientID snowflake.ID, year int) ([]string, error) {
	var numbers []string
	err := db.WithContext(ctx).Raw(
		`SELECT number FROM invoices WHERE client_id = ? AND number LIKE ?`,
		clientID,
		fmt.Sprintf("INV-%04d-%%", year),
	).Scan(&numbers).Error
	return numbers, err
}

func (r *repo) FindByProviderInvoiceID(ctx context.Context, db *gorm.DB, providerInvoiceID string) (*invoicedomain.Invoice, error) {
	providerInvoiceID = strings.TrimSpace(providerInvoiceID)
	if providerInvoiceID == "" {
		return nil, nil
	}
	var rows []invoicedomain.Invoice
	if err := db.WithContext(ctx).Raw(
		`SELECT `+invoiceColumns+` FROM invoices WHERE stripe_invoice_id = ? LIMIT 1`,
		providerInvoiceID,
	).Scan(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// LatestProviderCustomerID looks through the client's recent invoices for a
// customer reference left by an earlier issuance.
func (r *repo) LatestProviderCustomerID(ctx context.Context, db *gorm.DB, clientID snowflake.ID) (string, error) {
	var rows []struct {
		Meta datatypes.JSONMap
	}
	if err := db.WithContext(ctx).Raw(
		`SELECT meta FROM invoices
		WHERE client_id = ? AND stripe_invoice_id IS NOT NULL
		ORDER BY id DESC
		LIMIT 20`,
		clientID,
	).Scan(&rows).Error; err != nil {
		return "", err
	}
	for _, row := range rows {
		if value, ok := row.Meta[invoicedomain.MetaStripeCustomerID].(string); ok && strings.TrimSpace(value) != "" {
			return value, nil
		}
	}
	return "", nil
}

// InsertPayment reports false when a payment with the same provider
// reference already exists.
func (r *repo) InsertPayment(ctx context.Context, db *gorm.DB, payment *invoicedomain.Payment) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`INSERT INTO payments (
			id, invoice_id, provider, amount, currency, status, provider_ref, received_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, provider_ref) DO NOTHING`,
		payment.ID,
		payment.InvoiceID,
		payment.Provider,
		payment.Amount,
		payment.Currency,
		payment.Status,
		payment.ProviderRef,
		payment.ReceivedAt,
		payment.CreatedAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) CountPayments(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM payments WHERE invoice_id = ?`,
		invoiceID,
	).Scan(&count).Error
	return count, err
}

func (r *repo) InsertReconciliation(ctx context.Context, db *gorm.DB, rec *invoicedomain.Reconciliation) error {
	if rec.Status == "" {
		rec.Status = invoicedomain.ReconciliationPending
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO invoice_reconciliations (
			id, invoice_id, patch, status, attempts, last_error, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.InvoiceID,
		rec.Patch,
		rec.Status,
		rec.Attempts,
		rec.LastError,
		rec.CreatedAt,
		rec.UpdatedAt,
	).Error
}

func (r *repo) ListPendingReconciliations(ctx context.Context, db *gorm.DB, limit int) ([]invoicedomain.Reconciliation, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []invoicedomain.Reconciliation
	err := db.WithContext(ctx).Raw(
		`SELECT id, invoice_id, patch, status, attempts, last_error, created_at, updated_at
		FROM invoice_reconciliations
		WHERE status = ?
		ORDER BY id ASC
		LIMIT ?`,
		invoicedomain.ReconciliationPending,
		limit,
	).Scan(&rows).Error
	return rows, err
}

func (r *repo) MarkReconciliation(ctx context.Context, db *gorm.DB, id snowflake.ID, status invoicedomain.ReconciliationStatus, lastErr string) error {
	result := db.WithContext(ctx).Exec(
		`UPDATE invoice_reconciliations
		SET status = ?, attempts = attempts + 1, last_error = ?, updated_at = ?
		WHERE id = ?`,
		status,
		lastErr,
		time.Now().UTC(),
		id,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errors.New("reconciliation_not_found")
	}
	return nil
}

func PredecessorStrings(target invoicedomain.InvoiceStatus) []string {
	return lo.Map(invoicedomain.PredecessorsOf(target), func(s invoicedomain.InvoiceStatus, _ int) string {
		return string(s)
	})
}
