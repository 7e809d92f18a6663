package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/portal/internal/authorization"
	billingdomain "github.com/smallbiznis/portal/internal/billing/domain"
	clientdomain "github.com/smallbiznis/portal/internal/client/domain"
	"github.com/smallbiznis/portal/internal/events"
	invoicedomain "github.com/smallbiznis/portal/internal/invoice/domain"
	"github.com/smallbiznis/portal/internal/observability/logger"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const reconcileBatchSize = 100

// deliver issues the invoice at the billing provider and writes the outcome
// back. The invoice returned is the latest persisted state; on provider
// failure that is still the draft.
func (s *Service) deliver(ctx context.Context, invoice *invoicedomain.Invoice, client clientdomain.Client, resend bool) (*invoicedomain.Invoice, string, error) {
	log := logger.WithContext(ctx, s.log).With(
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("provider", s.provider.Name()),
	)

	release, err := s.locker.InvoiceSend(ctx, invoice.ID.String(), sendLockWait)
	if err != nil {
		return invoice, "", err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("release send lock failed", zap.Error(err))
		}
	}()

	customerID, _ := invoice.Meta[invoicedomain.MetaStripeCustomerID].(string)
	if strings.TrimSpace(customerID) == "" {
		customerID, err = s.repo.LatestProviderCustomerID(ctx, s.db, invoice.ClientID)
		if err != nil {
			log.Warn("lookup provider customer failed", zap.Error(err))
		}
	}

	req := billingdomain.IssueRequest{
		InvoiceID: invoice.ID.String(),
		Number:    invoice.Number,
		Customer: billingdomain.Customer{
			ClientID:           client.ID.String(),
			Email:              client.Email,
			Name:               client.Name,
			ProviderCustomerID: customerID,
		},
		Currency: invoice.Currency,
		Notes:    invoice.Notes,
		DueAt:    invoice.DueAt,
		Lines:    billingLines(invoice.Items),
		Tax:      invoice.Tax,
		Discount: invoice.Discount,
	}

	operation := "issue"
	callCtx, cancel := context.WithTimeout(ctx, s.settings.Get().ProviderTimeout)
	var outcome billingdomain.Outcome
	if resend {
		operation = "resend"
		providerID := ""
		if invoice.StripeInvoiceID != nil {
			providerID = *invoice.StripeInvoiceID
		}
		outcome, err = s.provider.ResendInvoice(callCtx, billingdomain.ResendRequest{IssueRequest: req, ProviderInvoiceID: providerID})
	} else {
		outcome, err = s.provider.IssueInvoice(callCtx, req)
	}
	cancel()

	if err != nil {
		s.metrics.RecordProviderCall(ctx, operation, "failed")
		if !errors.Is(err, billingdomain.ErrProviderFailure) {
			err = fmt.Errorf("%w: %w", billingdomain.ErrProviderFailure, err)
		}
		log.Error("billing provider call failed", zap.String("operation", operation), zap.Error(err))
		s.emitAudit(ctx, "invoice.send_failed", invoice, map[string]any{"error": err.Error()})

		failedPatch := invoicedomain.InvoicePatch{
			Meta: map[string]any{invoicedomain.MetaLastSendError: err.Error()},
		}
		// Keep a provider invoice the failed call left behind so the next
		// resend resumes it rather than issuing a second one.
		if partial, ok := billingdomain.PartialIssueFrom(err); ok {
			providerID := partial.ProviderInvoiceID
			failedPatch.StripeInvoiceID = &providerID
			if customer := strings.TrimSpace(partial.ProviderCustomerID); customer != "" {
				failedPatch.Meta[invoicedomain.MetaStripeCustomerID] = customer
			}
			log.Info("provider invoice kept for resume", zap.String("provider_invoice_id", providerID))
		}

		failed, updateErr := s.repo.UpdateInvoice(ctx, s.db, invoice.ID, failedPatch)
		if updateErr != nil {
			log.Warn("record send error failed", zap.Error(updateErr))
			return invoice, "", err
		}
		failed.Items = invoice.Items
		return failed, "", err
	}
	s.metrics.RecordProviderCall(ctx, operation, string(outcome.Kind))

	patch := s.outcomePatch(invoice, outcome)
	updated, err := s.repo.UpdateInvoice(ctx, s.db, invoice.ID, patch)
	if errors.Is(err, invoicedomain.ErrInvalidTransition) {
		// A webhook moved the invoice on while the provider call was in
		// flight. Keep its status and record the provider fields only.
		log.Info("invoice advanced during send; keeping current status")
		patch.Status = nil
		patch.PaidAt = nil
		updated, err = s.repo.UpdateInvoice(ctx, s.db, invoice.ID, patch)
	}
	if err != nil {
		log.Error("persist provider outcome failed; queued for reconciliation", zap.Error(err))
		if recErr := s.queueReconciliation(ctx, invoice, patch, err); recErr != nil {
			log.Error("queue reconciliation failed", zap.Error(recErr))
		}
		return invoice, outcome.Note, fmt.Errorf("%w: %w", invoicedomain.ErrReconciliationPending, err)
	}
	updated.Items = invoice.Items

	if updated.Status != invoice.Status {
		s.metrics.RecordTransition(ctx, string(updated.Status))
	}
	switch {
	case updated.Status == invoicedomain.InvoiceStatusPaid:
		s.publish(ctx, events.InvoicePaid, updated, map[string]any{"source": operation})
	case outcome.Kind != billingdomain.OutcomeAlreadyPaid:
		s.publish(ctx, events.InvoiceSent, updated, map[string]any{
			"outcome":    string(outcome.Kind),
			"hosted_url": outcome.HostedURL,
		})
	}
	s.emitAudit(ctx, "invoice.sent", updated, map[string]any{
		"operation": operation,
		"outcome":   string(outcome.Kind),
	})
	return updated, outcome.Note, nil
}

func (s *Service) outcomePatch(invoice *invoicedomain.Invoice, outcome billingdomain.Outcome) invoicedomain.InvoicePatch {
	now := s.clock.Now().UTC()
	meta := map[string]any{invoicedomain.MetaProviderOutcome: string(outcome.Kind)}
	if _, ok := invoice.Meta[invoicedomain.MetaLastSendError]; ok {
		meta[invoicedomain.MetaLastSendError] = ""
	}

	patch := invoicedomain.InvoicePatch{Meta: meta}
	switch outcome.Kind {
	case billingdomain.OutcomeAlreadyPaid:
		patch = patch.WithStatus(invoicedomain.InvoiceStatusPaid)
		patch.PaidAt = &now
	default:
		patch = patch.WithStatus(invoicedomain.InvoiceStatusOpen)
	}

	issuedAt := invoice.IssuedAt
	if outcome.IssuedAt != nil {
		issuedAt = outcome.IssuedAt
	}
	if issuedAt == nil {
		issuedAt = &now
	}
	patch.IssuedAt = issuedAt

	if outcome.Kind == billingdomain.OutcomeUnconfigured {
		return patch
	}
	if outcome.DueAt != nil {
		patch.DueAt = outcome.DueAt
	}
	if id := strings.TrimSpace(outcome.ProviderInvoiceID); id != "" {
		patch.StripeInvoiceID = &id
	}
	if url := strings.TrimSpace(outcome.HostedURL); url != "" {
		patch.HostedURL = &url
	}
	if url := strings.TrimSpace(outcome.PDFURL); url != "" {
		patch.PDFURL = &url
	}
	if customer := strings.TrimSpace(outcome.ProviderCustomerID); customer != "" {
		meta[invoicedomain.MetaStripeCustomerID] = customer
	}
	return patch
}

func (s *Service) queueReconciliation(ctx context.Context, invoice *invoicedomain.Invoice, patch invoicedomain.InvoicePatch, cause error) error {
	payload, err := json.Marshal(patch)
	if err != nil {
		return err
	}
	now := s.clock.Now().UTC()
	return s.repo.InsertReconciliation(ctx, s.db, &invoicedomain.Reconciliation{
		ID:        s.genID.Generate(),
		InvoiceID: invoice.ID,
		Patch:     datatypes.JSON(payload),
		Status:    invoicedomain.ReconciliationPending,
		LastError: cause.Error(),
		CreatedAt: now,
		UpdatedAt: now,
	})
}

// ReconcilePending re-applies provider outcomes that could not be written
// back when they happened. It returns how many rows were applied.
func (s *Service) ReconcilePending(ctx context.Context) (int, error) {
	if _, err := s.authorize(ctx, authorization.ObjectInvoice, authorization.ActionReconcile); err != nil {
		return 0, err
	}
	log := logger.WithContext(ctx, s.log)

	rows, err := s.repo.ListPendingReconciliations(ctx, s.db, reconcileBatchSize)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, row := range rows {
		var patch invoicedomain.InvoicePatch
		if err := json.Unmarshal(row.Patch, &patch); err != nil {
			log.Error("undecodable reconciliation patch", zap.String("reconciliation_id", row.ID.String()), zap.Error(err))
			if markErr := s.repo.MarkReconciliation(ctx, s.db, row.ID, invoicedomain.ReconciliationPending, err.Error()); markErr != nil {
				return applied, markErr
			}
			continue
		}

		invoice, err := s.repo.UpdateInvoice(ctx, s.db, row.InvoiceID, patch)
		if errors.Is(err, invoicedomain.ErrInvalidTransition) {
			patch.Status = nil
			patch.PaidAt = nil
			invoice, err = s.repo.UpdateInvoice(ctx, s.db, row.InvoiceID, patch)
		}
		if err != nil {
			log.Warn("reconciliation still failing",
				zap.String("reconciliation_id", row.ID.String()),
				zap.String("invoice_id", row.InvoiceID.String()),
				zap.Error(err),
			)
			if markErr := s.repo.MarkReconciliation(ctx, s.db, row.ID, invoicedomain.ReconciliationPending, err.Error()); markErr != nil {
				return applied, markErr
			}
			continue
		}

		if err := s.repo.MarkReconciliation(ctx, s.db, row.ID, invoicedomain.ReconciliationApplied, ""); err != nil {
			return applied, err
		}
		applied++
		s.emitAudit(ctx, "invoice.reconciled", invoice, map[string]any{
			"reconciliation_id": row.ID.String(),
			"attempts":          row.Attempts + 1,
			"queued_at":         row.CreatedAt.Format(time.RFC3339),
		})
	}
	return applied, nil
}
