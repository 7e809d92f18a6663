// Package domain defines the contract between invoicing and an external
// billing provider.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type OutcomeKind string

const (
	// OutcomeIssued means the provider accepted and sent the invoice.
	OutcomeIssued OutcomeKind = "issued"
	// OutcomeUnconfigured means no usable credentials; callers proceed locally.
	OutcomeUnconfigured OutcomeKind = "unconfigured"
	// OutcomeAlreadyPaid is returned by resend when the provider reports paid.
	OutcomeAlreadyPaid OutcomeKind = "already_paid"
)

const NoteUnconfigured = "billing provider not configured; invoice marked open locally"

var ErrProviderFailure = errors.New("billing_provider_failure")

type Customer struct {
	ClientID           string
	Email              string
	Name               string
	ProviderCustomerID string
}

type Line struct {
	Description string
	Quantity    decimal.Decimal
	UnitAmount  decimal.Decimal
	Amount      decimal.Decimal
}

type IssueRequest struct {
	InvoiceID string
	Number    string
	Customer  Customer
	Currency  string
	Notes     string
	DueAt     *time.Time
	Lines     []Line
	Tax       decimal.Decimal
	Discount  decimal.Decimal
}

type ResendRequest struct {
	IssueRequest
	ProviderInvoiceID string
}

type Outcome struct {
	Kind               OutcomeKind
	ProviderInvoiceID  string
	ProviderCustomerID string
	HostedURL          string
	PDFURL             string
	IssuedAt           *time.Time
	DueAt              *time.Time
	Note               string
}

// IssueError is a provider failure that happened after the provider invoice
// was created. Callers keep ProviderInvoiceID so a resend resumes that
// invoice instead of creating another one.
type IssueError struct {
	ProviderInvoiceID  string
	ProviderCustomerID string
	Err                error
}

func (e *IssueError) Error() string { return e.Err.Error() }

func (e *IssueError) Unwrap() error { return e.Err }

// PartialIssue wraps err with the provider invoice it left behind.
func PartialIssue(providerInvoiceID, providerCustomerID string, err error) error {
	if err == nil || providerInvoiceID == "" {
		return err
	}
	return &IssueError{
		ProviderInvoiceID:  providerInvoiceID,
		ProviderCustomerID: providerCustomerID,
		Err:                err,
	}
}

// PartialIssueFrom returns the provider invoice a failed call left behind.
func PartialIssueFrom(err error) (*IssueError, bool) {
	var issueErr *IssueError
	if !errors.As(err, &issueErr) {
		return nil, false
	}
	return issueErr, true
}

func Unconfigured() Outcome {
	return Outcome{Kind: OutcomeUnconfigured, Note: NoteUnconfigured}
}

// Provider issues invoices at an external billing system. Failures wrap
// ErrProviderFailure; missing credentials are not an error.
type Provider interface {
	Name() string
	IssueInvoice(ctx context.Context, req IssueRequest) (Outcome, error)
	ResendInvoice(ctx context.Context, req ResendRequest) (Outcome, error)
}

// Noop never reaches a provider.
type Noop struct{}

func (Noop) Name() string { return "none" }

func (Noop) IssueInvoice(context.Context, IssueRequest) (Outcome, error) {
	return Unconfigured(), nil
}

func (Noop) ResendInvoice(context.Context, ResendRequest) (Outcome, error) {
	return Unconfigured(), nil
}
