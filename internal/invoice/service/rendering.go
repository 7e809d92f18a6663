package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/smallbiznis/portal/internal/authorization"
	clientdomain "github.com/smallbiznis/portal/internal/client/domain"
	invoicedomain "github.com/smallbiznis/portal/internal/invoice/domain"
	"github.com/smallbiznis/portal/internal/invoice/render"
	"github.com/smallbiznis/portal/internal/invoice/totals"
	"github.com/smallbiznis/portal/internal/observability/logger"
	"github.com/smallbiznis/portal/internal/storage"
	"go.uber.org/zap"
)

const previewNumber = "PREVIEW"

// RenderStored renders a stored invoice and writes it to its stable path.
// A provider-hosted PDF URL, when present, is never replaced.
func (s *Service) RenderStored(ctx context.Context, invoiceID string) (invoicedomain.RenderStoredResult, error) {
	scope, err := s.resolveScope(ctx, authorization.ObjectInvoice, authorization.ActionInvoiceRenderAny, authorization.ActionInvoiceRenderOwn)
	if err != nil {
		return invoicedomain.RenderStoredResult{}, err
	}
	invoice, err := s.loadScoped(ctx, scope, invoiceID)
	if err != nil {
		return invoicedomain.RenderStoredResult{}, err
	}

	client, err := s.clients.GetByID(ctx, invoice.ClientID.String())
	if err != nil {
		if errors.Is(err, clientdomain.ErrNotFound) {
			return invoicedomain.RenderStoredResult{}, invoicedomain.ErrClientNotFound
		}
		return invoicedomain.RenderStoredResult{}, err
	}

	input := render.FromInvoice(*invoice, client.Name, client.Email, s.settings.Get())
	doc, err := s.pdf.GenerateInvoice(ctx, render.Document(input))
	if err != nil {
		return invoicedomain.RenderStoredResult{}, err
	}

	path, err := storage.InvoicePath(invoice.ClientID.String(), invoice.ID.String())
	if err != nil {
		return invoicedomain.RenderStoredResult{}, err
	}
	if err := s.store.Upload(ctx, path, doc, storage.ContentTypePDF, true); err != nil {
		return invoicedomain.RenderStoredResult{}, err
	}
	url := s.store.PublicURL(path)

	patch := invoicedomain.InvoicePatch{Meta: map[string]any{
		invoicedomain.MetaPDFURL:        url,
		invoicedomain.MetaPDFRenderedAt: s.clock.Now().UTC().Format(time.RFC3339),
	}}
	if invoice.PDFURL == nil || strings.TrimSpace(*invoice.PDFURL) == "" {
		patch.PDFURL = &url
	}
	if _, err := s.repo.UpdateInvoice(ctx, s.db, invoice.ID, patch); err != nil {
		// The document is already stored; a retry overwrites it in place.
		logger.WithContext(ctx, s.log).Warn("record rendered pdf failed",
			zap.String("invoice_id", invoice.ID.String()),
			zap.Error(err),
		)
	}

	s.metrics.RecordPDFRender(ctx, "stored")
	return invoicedomain.RenderStoredResult{URL: url, Path: path, Persist: true}, nil
}

// RenderPreview renders unsaved invoice data under previews/. It never
// touches invoice rows.
func (s *Service) RenderPreview(ctx context.Context, req invoicedomain.PreviewRequest) (invoicedomain.RenderStoredResult, error) {
	scope, err := s.resolveScope(ctx, authorization.ObjectPreview, authorization.ActionPreviewAny, authorization.ActionPreviewOwn)
	if err != nil {
		return invoicedomain.RenderStoredResult{}, err
	}

	var client clientdomain.Client
	if raw := strings.TrimSpace(req.ClientID); raw != "" {
		clientID, err := parseID(raw)
		if err != nil || clientID == 0 {
			return invoicedomain.RenderStoredResult{}, invoicedomain.ErrInvalidClient
		}
		if !scope.permits(clientID) {
			return invoicedomain.RenderStoredResult{}, authorization.ErrForbidden
		}
		if client, err = s.clients.GetByID(ctx, clientID.String()); err != nil {
			if errors.Is(err, clientdomain.ErrNotFound) {
				return invoicedomain.RenderStoredResult{}, invoicedomain.ErrClientNotFound
			}
			return invoicedomain.RenderStoredResult{}, err
		}
	} else if !scope.any {
		if client, err = s.clients.GetByID(ctx, scope.clientID.String()); err != nil {
			return invoicedomain.RenderStoredResult{}, err
		}
	}

	items := invoicedomain.BillableLineItems(invoicedomain.NormalizeLineItems(req.Items))
	if len(items) == 0 {
		return invoicedomain.RenderStoredResult{}, invoicedomain.ErrInvalidLineItems
	}
	if !totals.ValidateRate(req.TaxRatePercent) {
		return invoicedomain.RenderStoredResult{}, invoicedomain.ErrInvalidTaxRate
	}
	if !totals.ValidateRate(req.DiscountRatePercent) {
		return invoicedomain.RenderStoredResult{}, invoicedomain.ErrInvalidDiscountRate
	}
	settings := s.settings.Get()
	currency, err := normalizeCurrency(req.Currency, settings.DefaultCurrency)
	if err != nil {
		return invoicedomain.RenderStoredResult{}, err
	}

	now := s.clock.Now().UTC()
	dueAt := req.DueAt
	if dueAt == nil {
		due := now.AddDate(0, 0, settings.DefaultDueDays)
		dueAt = &due
	}
	num := strings.TrimSpace(req.Number)
	if num == "" {
		num = previewNumber
	}

	sums := totals.Compute(items, req.TaxRatePercent, req.DiscountRatePercent)
	doc, err := s.pdf.GenerateInvoice(ctx, render.Document(render.DocumentInput{
		Title:       "Invoice preview",
		Number:      num,
		Status:      string(invoicedomain.InvoiceStatusDraft),
		Currency:    currency,
		IssuedAt:    &now,
		DueAt:       dueAt,
		ClientName:  client.Name,
		ClientEmail: client.Email,
		Items:       items,
		Subtotal:    sums.Subtotal,
		Tax:         sums.Tax,
		Discount:    sums.Discount,
		Total:       sums.Total,
		Notes:       strings.TrimSpace(req.Notes),
		Settings:    settings,
	}))
	if err != nil {
		return invoicedomain.RenderStoredResult{}, err
	}

	clientSegment := ""
	if client.ID != 0 {
		clientSegment = client.ID.String()
	}
	path, err := storage.PreviewPath(clientSegment)
	if err != nil {
		return invoicedomain.RenderStoredResult{}, err
	}
	if err := s.store.Upload(ctx, path, doc, storage.ContentTypePDF, false); err != nil {
		return invoicedomain.RenderStoredResult{}, err
	}

	s.metrics.RecordPDFRender(ctx, "preview")
	return invoicedomain.RenderStoredResult{URL: s.store.PublicURL(path), Path: path, Persist: false}, nil
}
