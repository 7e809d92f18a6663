package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/portal/pkg/db/pagination"
	"gorm.io/gorm"
)

type CreateInvoiceRequest struct {
	ClientID            string
	Items               []LineItemInput
	Currency            string
	DueAt               *time.Time
	Notes               string
	TaxRatePercent      *decimal.Decimal
	DiscountRatePercent *decimal.Decimal
	SendNow             bool
	// NumberHint is whatever number the client UI displayed. It is kept in
	// meta for reference and never used as the canonical number.
	NumberHint string
}

type CreateInvoiceResult struct {
	Invoice Invoice `json:"invoice"`
	Note    string  `json:"note,omitempty"`
}

type ResendInvoiceResult struct {
	Invoice Invoice `json:"invoice"`
	Note    string  `json:"note,omitempty"`
	NoOp    bool    `json:"noop"`
}

type ListInvoicesRequest struct {
	ClientID string
	Status   string
	pagination.Pagination
}

type ListInvoicesResponse struct {
	pagination.PageInfo
	Invoices []Invoice `json:"invoices"`
}

type Service interface {
	Create(ctx context.Context, req CreateInvoiceRequest) (CreateInvoiceResult, error)
	Resend(ctx context.Context, invoiceID string) (ResendInvoiceResult, error)
	List(ctx context.Context, req ListInvoicesRequest) (ListInvoicesResponse, error)
	Get(ctx context.Context, invoiceID string) (Invoice, error)
	ReconcilePending(ctx context.Context) (int, error)
}

type RenderStoredResult struct {
	URL     string `json:"url"`
	Path    string `json:"path"`
	Persist bool   `json:"persist"`
}

type PreviewRequest struct {
	ClientID            string
	Number              string
	Items               []LineItemInput
	Currency            string
	DueAt               *time.Time
	Notes               string
	TaxRatePercent      *decimal.Decimal
	DiscountRatePercent *decimal.Decimal
}

type Renderer interface {
	RenderStored(ctx context.Context, invoiceID string) (RenderStoredResult, error)
	RenderPreview(ctx context.Context, req PreviewRequest) (RenderStoredResult, error)
}

type ListFilter struct {
	Status   InvoiceStatus
	AfterID  snowflake.ID
	Limit    int
	ClientID snowflake.ID
}

// Repository persists invoices, items, payments and reconciliation markers.
// Write methods accept the caller's transaction handle.
type Repository interface {
	InsertInvoice(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	InsertInvoiceItems(ctx context.Context, db *gorm.DB, items []InvoiceItem) error
	UpdateInvoice(ctx context.Context, db *gorm.DB, id snowflake.ID, patch InvoicePatch) (*Invoice, error)
	GetInvoice(ctx context.Context, db *gorm.DB, id snowflake.ID, withItems bool) (*Invoice, error)
	ListInvoices(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Invoice, error)
	ListNumbersForYear(ctx context.Context, db *gorm.DB, clientID snowflake.ID, year int) ([]string, error)
	FindByProviderInvoiceID(ctx context.Context, db *gorm.DB, providerInvoiceID string) (*Invoice, error)
	LatestProviderCustomerID(ctx context.Context, db *gorm.DB, clientID snowflake.ID) (string, error)
	InsertPayment(ctx context.Context, db *gorm.DB, payment *Payment) (bool, error)
	CountPayments(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) (int64, error)
	InsertReconciliation(ctx context.Context, db *gorm.DB, rec *Reconciliation) error
	ListPendingReconciliations(ctx context.Context, db *gorm.DB, limit int) ([]Reconciliation, error)
	MarkReconciliation(ctx context.Context, db *gorm.DB, id snowflake.ID, status ReconciliationStatus, lastErr string) error
}
