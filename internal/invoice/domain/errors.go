package domain

import "errors"

var (
	ErrInvalidClient         = errors.New("invalid_client")
	ErrInvalidLineItems      = errors.New("invalid_line_items")
	ErrInvalidCurrency       = errors.New("invalid_currency")
	ErrInvalidTaxRate        = errors.New("invalid_tax_rate")
	ErrInvalidDiscountRate   = errors.New("invalid_discount_rate")
	ErrInvalidDueDate        = errors.New("invalid_due_at")
	ErrInvalidInvoiceID      = errors.New("invalid_invoice_id")
	ErrInvalidStatus         = errors.New("invalid_status")
	ErrInvoiceNotResendable  = errors.New("invoice_not_resendable")
	ErrClientNotFound        = errors.New("client_not_found")
	ErrInvoiceNotFound       = errors.New("invoice_not_found")
	ErrInvalidTransition     = errors.New("invalid_status_transition")
	ErrNumberUnavailable     = errors.New("invoice_number_unavailable")
	ErrReconciliationPending = errors.New("invoice_reconciliation_pending")
)
