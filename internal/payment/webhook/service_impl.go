package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/portal/internal/clock"
	"github.com/smallbiznis/portal/internal/config"
	"github.com/smallbiznis/portal/internal/events"
	invoicedomain "github.com/smallbiznis/portal/internal/invoice/domain"
	"github.com/smallbiznis/portal/internal/observability/logger"
	"github.com/smallbiznis/portal/internal/observability/metrics"
	"github.com/smallbiznis/portal/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/portal/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Cfg      config.Config
	Adapters *adapters.Registry
	Repo     paymentdomain.Repository
	Invoices invoicedomain.Repository

	Publisher events.Publisher `optional:"true"`
	Metrics   *metrics.Metrics `optional:"true"`
}

// Service reconciles provider invoice events into local invoice state.
type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	adapters  *adapters.Registry
	repo      paymentdomain.Repository
	invoices  invoicedomain.Repository
	publisher events.Publisher
	metrics   *metrics.Metrics
	secrets   map[string]string
	tolerance time.Duration
}

func NewService(p Params) paymentdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.NewSystemClock()
	}
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("payment.webhook"),
		genID:     p.GenID,
		clock:     clk,
		adapters:  p.Adapters,
		repo:      p.Repo,
		invoices:  p.Invoices,
		publisher: p.Publisher,
		metrics:   p.Metrics,
		secrets: map[string]string{
			"stripe": strings.TrimSpace(p.Cfg.Billing.StripeWebhookKey),
		},
		tolerance: p.Cfg.Billing.WebhookTolerance,
	}
}

// transition is a status change applied by an event, published after commit.
type transition struct {
	invoice   *invoicedomain.Invoice
	eventType string
}

func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return paymentdomain.ErrInvalidProvider
	}
	if s.adapters == nil || !s.adapters.ProviderExists(provider) {
		return paymentdomain.ErrProviderNotFound
	}
	log := logger.WithContext(ctx, s.log).With(zap.String("provider", provider))

	secret := s.secrets[provider]
	if secret == "" {
		log.Warn("webhook received but no signing secret configured; ignoring")
		return nil
	}
	if !json.Valid(payload) {
		return paymentdomain.ErrInvalidPayload
	}

	adapter, err := s.adapters.NewAdapter(provider, paymentdomain.AdapterConfig{
		WebhookSecret: secret,
		Tolerance:     s.tolerance,
	})
	if err != nil {
		return err
	}
	if err := adapter.Verify(ctx, payload, headers); err != nil {
		log.Warn("webhook signature rejected", zap.Error(err))
		return err
	}

	event, err := adapter.Parse(ctx, payload)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			log.Debug("webhook event ignored")
			return nil
		}
		return err
	}
	event.Provider = provider
	log = log.With(
		zap.String("provider_event_id", event.ProviderEventID),
		zap.String("event_type", event.ProviderType),
		zap.String("provider_invoice_id", event.ProviderInvoiceID),
	)

	err = s.ProcessEvent(ctx, event)
	switch {
	case errors.Is(err, paymentdomain.ErrEventAlreadyProcessed):
		log.Info("webhook event already processed")
		return nil
	case err != nil:
		log.Error("webhook event failed", zap.Error(err))
		return err
	}
	return nil
}

// ProcessEvent records the event once and applies it to the matching
// invoice. Events for unknown invoices are recorded and acknowledged.
func (s *Service) ProcessEvent(ctx context.Context, event *paymentdomain.InvoiceEvent) error {
	if event == nil || strings.TrimSpace(event.ProviderEventID) == "" {
		return paymentdomain.ErrInvalidEvent
	}
	log := logger.WithContext(ctx, s.log).With(
		zap.String("provider_event_id", event.ProviderEventID),
		zap.String("provider_invoice_id", event.ProviderInvoiceID),
	)
	now := s.clock.Now().UTC()

	var applied *transition
	var matched bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record, err := s.recordEvent(ctx, tx, event, now)
		if err != nil {
			return err
		}

		invoice, err := s.matchInvoice(ctx, tx, event)
		if err != nil {
			return err
		}
		if invoice != nil {
			matched = true
			applied, err = s.apply(ctx, tx, invoice, event, now)
			if err != nil {
				return err
			}
		}
		return s.repo.MarkProcessed(ctx, tx, record.ID, now)
	})
	if err != nil {
		return err
	}

	s.metrics.RecordPaymentEvent(ctx, event.Provider, event.Type)
	if !matched {
		log.Warn("webhook event for unknown invoice")
		return nil
	}
	if applied != nil {
		s.publish(ctx, applied)
		log.Info("invoice updated from webhook", zap.String("status", string(applied.invoice.Status)))
	}
	return nil
}

func (s *Service) recordEvent(ctx context.Context, tx *gorm.DB, event *paymentdomain.InvoiceEvent, now time.Time) (*paymentdomain.EventRecord, error) {
	record := paymentdomain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        event.Provider,
		ProviderEventID: event.ProviderEventID,
		EventType:       event.ProviderType,
		Payload:         datatypes.JSON(event.RawPayload),
		ReceivedAt:      now,
	}
	if event.ProviderInvoiceID != "" {
		providerInvoiceID := event.ProviderInvoiceID
		record.ProviderInvoiceID = &providerInvoiceID
	}
	if len(record.Payload) == 0 {
		record.Payload = datatypes.JSON("{}")
	}

	inserted, err := s.repo.InsertEvent(ctx, tx, &record)
	if err != nil {
		return nil, err
	}
	if inserted {
		return &record, nil
	}

	stored, err := s.repo.FindEvent(ctx, tx, event.Provider, event.ProviderEventID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, paymentdomain.ErrInvalidEvent
	}
	if stored.ProcessedAt != nil {
		return nil, paymentdomain.ErrEventAlreadyProcessed
	}
	return stored, nil
}

// matchInvoice finds the local invoice by provider id, falling back to the
// portal id carried in provider metadata for invoices whose provider id was
// never written back.
func (s *Service) matchInvoice(ctx context.Context, tx *gorm.DB, event *paymentdomain.InvoiceEvent) (*invoicedomain.Invoice, error) {
	if event.ProviderInvoiceID != "" {
		invoice, err := s.invoices.FindByProviderInvoiceID(ctx, tx, event.ProviderInvoiceID)
		if err != nil || invoice != nil {
			return invoice, err
		}
	}
	if event.LocalInvoiceID == "" {
		return nil, nil
	}
	id, err := snowflake.ParseString(event.LocalInvoiceID)
	if err != nil || id == 0 {
		return nil, nil
	}
	invoice, err := s.invoices.GetInvoice(ctx, tx, id, false)
	if err != nil || invoice == nil {
		return nil, err
	}
	if invoice.StripeInvoiceID != nil && *invoice.StripeInvoiceID != event.ProviderInvoiceID {
		return nil, nil
	}
	return invoice, nil
}

func (s *Service) apply(ctx context.Context, tx *gorm.DB, invoice *invoicedomain.Invoice, event *paymentdomain.InvoiceEvent, now time.Time) (*transition, error) {
	patch := providerFields(invoice, event)

	var target invoicedomain.InvoiceStatus
	var lifecycleEvent string
	switch event.Type {
	case paymentdomain.EventTypeInvoicePaid:
		target, lifecycleEvent = invoicedomain.InvoiceStatusPaid, events.InvoicePaid
		paidAt := now
		if event.PaidAt != nil {
			paidAt = *event.PaidAt
		}
		patch.PaidAt = &paidAt
	case paymentdomain.EventTypeInvoiceVoided:
		target, lifecycleEvent = invoicedomain.InvoiceStatusVoid, events.InvoiceVoided
	case paymentdomain.EventTypeInvoiceUncollectible:
		target, lifecycleEvent = invoicedomain.InvoiceStatusUncollectible, events.InvoiceUncollectible
	case paymentdomain.EventTypeInvoiceFinalized:
		if event.FinalizedAt != nil && invoice.IssuedAt == nil {
			patch.IssuedAt = event.FinalizedAt
		}
		if _, err := s.invoices.UpdateInvoice(ctx, tx, invoice.ID, patch); err != nil {
			return nil, err
		}
		return nil, nil
	default:
		return nil, paymentdomain.ErrEventIgnored
	}

	var result *transition
	updated, err := s.invoices.UpdateInvoice(ctx, tx, invoice.ID, patch.WithStatus(target))
	switch {
	case errors.Is(err, invoicedomain.ErrInvalidTransition):
		// Forward-only: a repeat of the current status is a no-op and a
		// backwards move is dropped.
		if invoice.Status != target {
			logger.WithContext(ctx, s.log).Info("webhook transition ignored",
				zap.String("invoice_id", invoice.ID.String()),
				zap.String("from", string(invoice.Status)),
				zap.String("to", string(target)),
			)
		}
		patch.PaidAt = nil
		if _, err := s.invoices.UpdateInvoice(ctx, tx, invoice.ID, patch); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		s.metrics.RecordTransition(ctx, string(target))
		result = &transition{invoice: updated, eventType: lifecycleEvent}
	}

	if target == invoicedomain.InvoiceStatusPaid && (result != nil || invoice.Status == invoicedomain.InvoiceStatusPaid) {
		if err := s.recordPayment(ctx, tx, invoice, event, patch.PaidAt, now); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (s *Service) recordPayment(ctx context.Context, tx *gorm.DB, invoice *invoicedomain.Invoice, event *paymentdomain.InvoiceEvent, paidAt *time.Time, now time.Time) error {
	amount := event.AmountPaid
	if !amount.IsPositive() {
		amount = invoice.Total
	}
	currency := event.Currency
	if currency == "" {
		currency = invoice.Currency
	}
	receivedAt := now
	if paidAt != nil {
		receivedAt = *paidAt
	} else if event.PaidAt != nil {
		receivedAt = *event.PaidAt
	}

	inserted, err := s.invoices.InsertPayment(ctx, tx, &invoicedomain.Payment{
		ID:          s.genID.Generate(),
		InvoiceID:   invoice.ID,
		Provider:    event.Provider,
		Amount:      amount,
		Currency:    currency,
		Status:      invoicedomain.PaymentStatusSucceeded,
		ProviderRef: event.PaymentRef,
		ReceivedAt:  receivedAt,
		CreatedAt:   now,
	})
	if err != nil {
		return err
	}
	if !inserted {
		logger.WithContext(ctx, s.log).Debug("payment already recorded",
			zap.String("invoice_id", invoice.ID.String()),
			zap.String("provider_ref", event.PaymentRef),
		)
	}
	return nil
}

// providerFields links the provider invoice when the local row has none and
// refreshes document links and the due date; the latest event wins.
func providerFields(invoice *invoicedomain.Invoice, event *paymentdomain.InvoiceEvent) invoicedomain.InvoicePatch {
	patch := invoicedomain.InvoicePatch{}
	if invoice.StripeInvoiceID == nil && event.ProviderInvoiceID != "" {
		id := event.ProviderInvoiceID
		patch.StripeInvoiceID = &id
	}
	if event.HostedURL != "" && (invoice.HostedURL == nil || *invoice.HostedURL != event.HostedURL) {
		url := event.HostedURL
		patch.HostedURL = &url
	}
	if event.PDFURL != "" && (invoice.PDFURL == nil || *invoice.PDFURL != event.PDFURL) {
		url := event.PDFURL
		patch.PDFURL = &url
	}
	if event.DueAt != nil && (invoice.DueAt == nil || !invoice.DueAt.Equal(*event.DueAt)) {
		patch.DueAt = event.DueAt
	}
	return patch
}

func (s *Service) publish(ctx context.Context, t *transition) {
	if s.publisher == nil || t == nil || t.invoice == nil {
		return
	}
	event := events.NewEvent(t.eventType, t.invoice.ID.String(), t.invoice.ClientID.String(), map[string]any{
		"status": string(t.invoice.Status),
		"source": "webhook",
	})
	if err := s.publisher.Publish(ctx, event); err != nil {
		logger.WithContext(ctx, s.log).Warn("publish invoice event failed",
			zap.String("event_type", t.eventType),
			zap.Error(err),
		)
	}
}
