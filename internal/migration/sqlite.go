package migration

import "gorm.io/gorm"

// sqliteSchema mirrors the Postgres migrations for in-memory test databases.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS clients (
		id INTEGER PRIMARY KEY,
		email TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_clients_email ON clients (lower(email))`,
	`CREATE TABLE IF NOT EXISTS invoices (
		id INTEGER PRIMARY KEY,
		client_id INTEGER NOT NULL,
		number TEXT NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'draft'
			CHECK (status IN ('draft', 'open', 'paid', 'void', 'uncollectible')),
		subtotal NUMERIC NOT NULL DEFAULT 0,
		tax NUMERIC NOT NULL DEFAULT 0,
		discount NUMERIC NOT NULL DEFAULT 0,
		total NUMERIC NOT NULL DEFAULT 0,
		issued_at DATETIME,
		due_at DATETIME,
		paid_at DATETIME,
		notes TEXT NOT NULL DEFAULT '',
		stripe_invoice_id TEXT,
		hosted_url TEXT,
		pdf_url TEXT,
		meta TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_invoices_client_number ON invoices (client_id, number)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_invoices_stripe_invoice_id ON invoices (stripe_invoice_id) WHERE stripe_invoice_id IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS invoice_items (
		id INTEGER PRIMARY KEY,
		invoice_id INTEGER NOT NULL,
		description TEXT NOT NULL,
		quantity NUMERIC NOT NULL,
		unit_amount NUMERIC NOT NULL,
		amount NUMERIC NOT NULL,
		position INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME
	)`,
	`CREATE TABLE IF NOT EXISTS payments (
		id INTEGER PRIMARY KEY,
		invoice_id INTEGER NOT NULL,
		provider TEXT NOT NULL,
		amount NUMERIC NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL,
		provider_ref TEXT NOT NULL,
		received_at DATETIME NOT NULL,
		created_at DATETIME
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_payments_provider_ref ON payments (provider, provider_ref)`,
	`CREATE TABLE IF NOT EXISTS payment_events (
		id INTEGER PRIMARY KEY,
		provider TEXT NOT NULL,
		provider_event_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		provider_invoice_id TEXT,
		payload TEXT NOT NULL,
		received_at DATETIME NOT NULL,
		processed_at DATETIME
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_payment_events_provider_event ON payment_events (provider, provider_event_id)`,
	`CREATE INDEX IF NOT EXISTS ix_payment_events_provider_invoice ON payment_events (provider_invoice_id, received_at)`,
	`CREATE TABLE IF NOT EXISTS invoice_reconciliations (
		id INTEGER PRIMARY KEY,
		invoice_id INTEGER NOT NULL,
		patch TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		created_at DATETIME,
		updated_at DATETIME
	)`,
}

// ApplySQLite creates the portal tables on a SQLite connection.
func ApplySQLite(conn *gorm.DB) error {
	for _, stmt := range sqliteSchema {
		if err := conn.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}
