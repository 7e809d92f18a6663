package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	authdomain "github.com/smallbiznis/portal/internal/auth/domain"
	"github.com/smallbiznis/portal/internal/authorization"
	billingdomain "github.com/smallbiznis/portal/internal/billing/domain"
	"github.com/smallbiznis/portal/internal/clock"
	clientdomain "github.com/smallbiznis/portal/internal/client/domain"
	"github.com/smallbiznis/portal/internal/config"
	"github.com/smallbiznis/portal/internal/events"
	invoicedomain "github.com/smallbiznis/portal/internal/invoice/domain"
	"github.com/smallbiznis/portal/internal/invoice/number"
	"github.com/smallbiznis/portal/internal/invoice/totals"
	"github.com/smallbiznis/portal/internal/lock"
	"github.com/smallbiznis/portal/internal/observability/logger"
	"github.com/smallbiznis/portal/internal/observability/metrics"
	"github.com/smallbiznis/portal/internal/providers/pdf"
	"github.com/smallbiznis/portal/internal/storage"
	"github.com/smallbiznis/portal/pkg/db"
	"github.com/smallbiznis/portal/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	maxNumberAttempts = 5
	numberingLockWait = 5 * time.Second
	sendLockWait      = 10 * time.Second
)

var currencyPattern = regexp.MustCompile(`^[a-z]{3}$`)

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     invoicedomain.Repository
	Clients  clientdomain.Service
	Provider billingdomain.Provider
	Authz    authorization.Service
	Store    storage.Store
	PDF      pdf.Provider

	Settings  *config.InvoiceSettingsHolder `optional:"true"`
	Locker    *lock.Locker                  `optional:"true"`
	Publisher events.Publisher              `optional:"true"`
	Metrics   *metrics.Metrics              `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID     *snowflake.Node
	clock     clock.Clock
	repo      invoicedomain.Repository
	clients   clientdomain.Service
	provider  billingdomain.Provider
	authz     authorization.Service
	store     storage.Store
	pdf       pdf.Provider
	settings  *config.InvoiceSettingsHolder
	locker    *lock.Locker
	publisher events.Publisher
	metrics   *metrics.Metrics
}

func NewService(p ServiceParam) *Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.NewSystemClock()
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("invoice.service"),
		genID: p.GenID,
		clock: clk,

		repo:      p.Repo,
		clients:   p.Clients,
		provider:  p.Provider,
		authz:     p.Authz,
		store:     p.Store,
		pdf:       p.PDF,
		settings:  p.Settings,
		locker:    p.Locker,
		publisher: p.Publisher,
		metrics:   p.Metrics,
	}
}

func (s *Service) Create(ctx context.Context, req invoicedomain.CreateInvoiceRequest) (invoicedomain.CreateInvoiceResult, error) {
	if _, err := s.authorize(ctx, authorization.ObjectInvoice, authorization.ActionInvoiceCreate); err != nil {
		return invoicedomain.CreateInvoiceResult{}, err
	}

	clientID, err := parseID(strings.TrimSpace(req.ClientID))
	if err != nil || clientID == 0 {
		return invoicedomain.CreateInvoiceResult{}, invoicedomain.ErrInvalidClient
	}
	items := invoicedomain.BillableLineItems(invoicedomain.NormalizeLineItems(req.Items))
	if len(items) == 0 {
		return invoicedomain.CreateInvoiceResult{}, invoicedomain.ErrInvalidLineItems
	}
	if !totals.ValidateRate(req.TaxRatePercent) {
		return invoicedomain.CreateInvoiceResult{}, invoicedomain.ErrInvalidTaxRate
	}
	if !totals.ValidateRate(req.DiscountRatePercent) {
		return invoicedomain.CreateInvoiceResult{}, invoicedomain.ErrInvalidDiscountRate
	}

	settings := s.settings.Get()
	currency, err := normalizeCurrency(req.Currency, settings.DefaultCurrency)
	if err != nil {
		return invoicedomain.CreateInvoiceResult{}, err
	}

	now := s.clock.Now().UTC()
	dueAt := now.AddDate(0, 0, settings.DefaultDueDays)
	if req.DueAt != nil {
		dueAt = req.DueAt.UTC()
		if dueAt.Before(now.Truncate(24 * time.Hour)) {
			return invoicedomain.CreateInvoiceResult{}, invoicedomain.ErrInvalidDueDate
		}
	}

	client, err := s.clients.GetByID(ctx, clientID.String())
	if err != nil {
		switch {
		case errors.Is(err, clientdomain.ErrNotFound):
			return invoicedomain.CreateInvoiceResult{}, invoicedomain.ErrClientNotFound
		case errors.Is(err, clientdomain.ErrInvalidID):
			return invoicedomain.CreateInvoiceResult{}, invoicedomain.ErrInvalidClient
		}
		return invoicedomain.CreateInvoiceResult{}, err
	}

	sums := totals.Compute(items, req.TaxRatePercent, req.DiscountRatePercent)
	meta := datatypes.JSONMap{}
	if hint := strings.TrimSpace(req.NumberHint); hint != "" {
		meta[invoicedomain.MetaNumberHint] = hint
	}
	if req.TaxRatePercent != nil {
		meta[invoicedomain.MetaTaxRatePercent] = req.TaxRatePercent.String()
	}
	if req.DiscountRatePercent != nil {
		meta[invoicedomain.MetaDiscountRatePercent] = req.DiscountRatePercent.String()
	}

	draft := invoicedomain.Invoice{
		ClientID:  client.ID,
		Currency:  currency,
		Status:    invoicedomain.InvoiceStatusDraft,
		Subtotal:  sums.Subtotal,
		Tax:       sums.Tax,
		Discount:  sums.Discount,
		Total:     sums.Total,
		DueAt:     &dueAt,
		Notes:     strings.TrimSpace(req.Notes),
		Meta:      meta,
		CreatedAt: now,
		UpdatedAt: now,
	}

	invoice, err := s.insertDraft(ctx, draft, items, now)
	if err != nil {
		return invoicedomain.CreateInvoiceResult{}, err
	}

	s.metrics.RecordInvoiceCreated(ctx, invoice.Currency)
	s.metrics.RecordTransition(ctx, string(invoice.Status))
	s.publish(ctx, events.InvoiceCreated, invoice, map[string]any{
		"number": invoice.Number,
		"total":  invoice.Total.StringFixed(2),
	})
	s.emitAudit(ctx, "invoice.created", invoice, map[string]any{"send_now": req.SendNow})

	result := invoicedomain.CreateInvoiceResult{Invoice: *invoice}
	if !req.SendNow {
		return result, nil
	}

	sent, note, err := s.deliver(ctx, invoice, client, false)
	if sent != nil {
		result.Invoice = *sent
	}
	result.Note = note
	return result, err
}

// insertDraft assigns the next number for the client and persists the draft
// with its items. A number taken concurrently surfaces as a unique
// violation, which is retried with a fresh read.
func (s *Service) insertDraft(ctx context.Context, draft invoicedomain.Invoice, items []invoicedomain.LineItem, now time.Time) (*invoicedomain.Invoice, error) {
	release, err := s.locker.ClientNumbering(ctx, draft.ClientID.String(), numberingLockWait)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.log.Warn("release numbering lock failed", zap.Error(err))
		}
	}()

	for attempt := 1; attempt <= maxNumberAttempts; attempt++ {
		invoice := draft
		invoice.ID = s.genID.Generate()

		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			existing, err := s.repo.ListNumbersForYear(ctx, tx, invoice.ClientID, now.Year())
			if err != nil {
				return err
			}
			invoice.Number = number.Next(existing, now.Year())
			if err := s.repo.InsertInvoice(ctx, tx, &invoice); err != nil {
				return err
			}

			rows := make([]invoicedomain.InvoiceItem, 0, len(items))
			for i, item := range items {
				rows = append(rows, invoicedomain.InvoiceItem{
					ID:          s.genID.Generate(),
					InvoiceID:   invoice.ID,
					Description: item.Description,
					Quantity:    item.Quantity,
					UnitAmount:  item.UnitAmount,
					Amount:      item.Amount(),
					Position:    i,
					CreatedAt:   now,
				})
			}
			if err := s.repo.InsertInvoiceItems(ctx, tx, rows); err != nil {
				return err
			}
			invoice.Items = rows
			return nil
		})
		if err == nil {
			return &invoice, nil
		}
		if !db.IsDuplicateKeyErr(err) {
			return nil, err
		}
		s.log.Warn("invoice number collision; retrying",
			zap.String("client_id", invoice.ClientID.String()),
			zap.String("number", invoice.Number),
			zap.Int("attempt", attempt),
		)
	}
	return nil, invoicedomain.ErrNumberUnavailable
}

func (s *Service) Resend(ctx context.Context, invoiceID string) (invoicedomain.ResendInvoiceResult, error) {
	if _, err := s.authorize(ctx, authorization.ObjectInvoice, authorization.ActionInvoiceResend); err != nil {
		return invoicedomain.ResendInvoiceResult{}, err
	}

	id, err := parseID(strings.TrimSpace(invoiceID))
	if err != nil || id == 0 {
		return invoicedomain.ResendInvoiceResult{}, invoicedomain.ErrInvalidInvoiceID
	}
	invoice, err := s.repo.GetInvoice(ctx, s.db, id, true)
	if err != nil {
		return invoicedomain.ResendInvoiceResult{}, err
	}
	if invoice == nil {
		return invoicedomain.ResendInvoiceResult{}, invoicedomain.ErrInvoiceNotFound
	}

	switch invoice.Status {
	case invoicedomain.InvoiceStatusPaid:
		s.emitAudit(ctx, "invoice.resend_noop", invoice, nil)
		return invoicedomain.ResendInvoiceResult{Invoice: *invoice, Note: "invoice already paid", NoOp: true}, nil
	case invoicedomain.InvoiceStatusVoid, invoicedomain.InvoiceStatusUncollectible:
		return invoicedomain.ResendInvoiceResult{Invoice: *invoice}, invoicedomain.ErrInvoiceNotResendable
	}

	client, err := s.clients.GetByID(ctx, invoice.ClientID.String())
	if err != nil {
		if errors.Is(err, clientdomain.ErrNotFound) {
			return invoicedomain.ResendInvoiceResult{}, invoicedomain.ErrClientNotFound
		}
		return invoicedomain.ResendInvoiceResult{}, err
	}

	sent, note, err := s.deliver(ctx, invoice, client, true)
	result := invoicedomain.ResendInvoiceResult{Invoice: *invoice, Note: note}
	if sent != nil {
		result.Invoice = *sent
	}
	return result, err
}

func (s *Service) List(ctx context.Context, req invoicedomain.ListInvoicesRequest) (invoicedomain.ListInvoicesResponse, error) {
	scope, err := s.resolveScope(ctx, authorization.ObjectInvoice, authorization.ActionInvoiceListAny, authorization.ActionInvoiceListOwn)
	if err != nil {
		return invoicedomain.ListInvoicesResponse{}, err
	}

	filter := invoicedomain.ListFilter{}
	if raw := strings.TrimSpace(req.ClientID); raw != "" {
		clientID, err := parseID(raw)
		if err != nil || clientID == 0 {
			return invoicedomain.ListInvoicesResponse{}, invoicedomain.ErrInvalidClient
		}
		if !scope.permits(clientID) {
			return invoicedomain.ListInvoicesResponse{}, authorization.ErrForbidden
		}
		filter.ClientID = clientID
	}
	if !scope.any {
		filter.ClientID = scope.clientID
	}

	if raw := strings.ToLower(strings.TrimSpace(req.Status)); raw != "" {
		status := invoicedomain.InvoiceStatus(raw)
		if !status.Valid() {
			return invoicedomain.ListInvoicesResponse{}, invoicedomain.ErrInvalidStatus
		}
		filter.Status = status
	}

	page := req.Pagination.Normalize()
	if page.PageToken != "" {
		cursor, err := pagination.DecodeCursor(page.PageToken)
		if err != nil {
			return invoicedomain.ListInvoicesResponse{}, err
		}
		afterID, err := parseID(cursor.ID)
		if err != nil {
			return invoicedomain.ListInvoicesResponse{}, pagination.ErrInvalidPageToken
		}
		filter.AfterID = afterID
	}
	filter.Limit = page.PageSize + 1

	rows, err := s.repo.ListInvoices(ctx, s.db, filter)
	if err != nil {
		return invoicedomain.ListInvoicesResponse{}, err
	}
	rows, info := pagination.Trim(rows, page.PageSize, func(inv invoicedomain.Invoice) string {
		return inv.ID.String()
	})
	if rows == nil {
		rows = []invoicedomain.Invoice{}
	}
	return invoicedomain.ListInvoicesResponse{PageInfo: info, Invoices: rows}, nil
}

func (s *Service) Get(ctx context.Context, invoiceID string) (invoicedomain.Invoice, error) {
	scope, err := s.resolveScope(ctx, authorization.ObjectInvoice, authorization.ActionInvoiceListAny, authorization.ActionInvoiceListOwn)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	invoice, err := s.loadScoped(ctx, scope, invoiceID)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	return *invoice, nil
}

func (s *Service) loadScoped(ctx context.Context, scope accessScope, invoiceID string) (*invoicedomain.Invoice, error) {
	id, err := parseID(strings.TrimSpace(invoiceID))
	if err != nil || id == 0 {
		return nil, invoicedomain.ErrInvalidInvoiceID
	}
	invoice, err := s.repo.GetInvoice(ctx, s.db, id, true)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, invoicedomain.ErrInvoiceNotFound
	}
	if !scope.permits(invoice.ClientID) {
		return nil, authorization.ErrForbidden
	}
	return invoice, nil
}

func (s *Service) publish(ctx context.Context, eventType string, invoice *invoicedomain.Invoice, data map[string]any) {
	if s.publisher == nil || invoice == nil {
		return
	}
	event := events.NewEvent(eventType, invoice.ID.String(), invoice.ClientID.String(), data)
	if err := s.publisher.Publish(ctx, event); err != nil {
		logger.WithContext(ctx, s.log).Warn("publish invoice event failed",
			zap.String("event_type", eventType),
			zap.String("invoice_id", invoice.ID.String()),
			zap.Error(err),
		)
	}
}

func (s *Service) emitAudit(ctx context.Context, action string, invoice *invoicedomain.Invoice, extra map[string]any) {
	if invoice == nil {
		return
	}
	fields := []zap.Field{
		zap.String("action", action),
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("client_id", invoice.ClientID.String()),
		zap.String("number", invoice.Number),
		zap.String("status", string(invoice.Status)),
		zap.String("currency", invoice.Currency),
		zap.String("total", invoice.Total.StringFixed(2)),
	}
	if identity, ok := authdomain.IdentityFromContext(ctx); ok {
		fields = append(fields, zap.String("actor", identity.Subject))
	}
	for key, value := range extra {
		if key == "" {
			continue
		}
		fields = append(fields, zap.Any(key, value))
	}
	logger.WithContext(ctx, s.log).Info("invoice audit", fields...)
}

func normalizeCurrency(raw, fallback string) (string, error) {
	currency := strings.ToLower(strings.TrimSpace(raw))
	if currency == "" {
		currency = strings.ToLower(strings.TrimSpace(fallback))
	}
	if !currencyPattern.MatchString(currency) {
		return "", invoicedomain.ErrInvalidCurrency
	}
	return currency, nil
}

func billingLines(items []invoicedomain.InvoiceItem) []billingdomain.Line {
	lines := make([]billingdomain.Line, 0, len(items))
	for _, item := range items {
		lines = append(lines, billingdomain.Line{
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitAmount:  item.UnitAmount,
			Amount:      item.Amount,
		})
	}
	return lines
}

func parseID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(raw)
	if err != nil {
		return 0, fmt.Errorf("parse id %q: %w", raw, err)
	}
	return id, nil
}
