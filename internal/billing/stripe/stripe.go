package stripe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	billingdomain "github.com/smallbiznis/portal/internal/billing/domain"
	"github.com/smallbiznis/portal/internal/invoice/totals"
	stripe "github.com/stripe/stripe-go/v82"
	"go.uber.org/zap"
)

const (
	defaultDaysUntilDue = 30
	defaultTimeout      = 20 * time.Second
)

type Config struct {
	SecretKey  string
	APIBase    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

type Adapter struct {
	log        *zap.Logger
	client     *stripe.Client
	configured bool
	timeout    time.Duration
	now        func() time.Time
}

func New(log *zap.Logger, cfg Config) *Adapter {
	a := &Adapter{
		log:     log.Named("billing.stripe"),
		timeout: cfg.Timeout,
		now:     time.Now,
	}
	if a.timeout <= 0 {
		a.timeout = defaultTimeout
	}
	key := strings.TrimSpace(cfg.SecretKey)
	if !usableKey(key) {
		a.log.Warn("stripe secret key missing or malformed; invoices will open locally")
		return a
	}

	backendCfg := &stripe.BackendConfig{
		HTTPClient:        cfg.HTTPClient,
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
	}
	if cfg.APIBase != "" {
		backendCfg.URL = stripe.String(strings.TrimRight(cfg.APIBase, "/"))
	}
	a.client = stripe.NewClient(key, stripe.WithBackends(stripe.NewBackendsWithConfig(backendCfg)))
	a.configured = true
	return a
}

func (a *Adapter) Name() string { return "stripe" }

func (a *Adapter) IssueInvoice(ctx context.Context, req billingdomain.IssueRequest) (billingdomain.Outcome, error) {
	if !a.configured {
		return billingdomain.Unconfigured(), nil
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return a.guard(a.issue(ctx, req, req.InvoiceID))
}

func (a *Adapter) ResendInvoice(ctx context.Context, req billingdomain.ResendRequest) (billingdomain.Outcome, error) {
	if !a.configured {
		return billingdomain.Unconfigured(), nil
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	providerID := strings.TrimSpace(req.ProviderInvoiceID)
	if providerID == "" {
		return a.guard(a.issue(ctx, req.IssueRequest, req.InvoiceID))
	}

	existing, err := a.client.V1Invoices.Retrieve(ctx, providerID, nil)
	if err != nil {
		if isResourceMissing(err) {
			a.log.Info("provider invoice missing; recreating", zap.String("provider_invoice_id", providerID))
			return a.guard(a.issue(ctx, req.IssueRequest, recreateScope(req.InvoiceID, providerID)))
		}
		return a.guard(billingdomain.Outcome{}, providerError("retrieve invoice", err))
	}
	return a.guard(a.advance(ctx, existing, req.IssueRequest))
}

// advance takes an existing provider invoice the rest of the way to sent.
func (a *Adapter) advance(ctx context.Context, existing *stripe.Invoice, req billingdomain.IssueRequest) (billingdomain.Outcome, error) {
	customer := customerID(existing)
	switch existing.Status {
	case stripe.InvoiceStatusDraft:
		if existing.Total != expectedTotal(req) {
			// An earlier attempt stopped before every item was attached.
			a.log.Info("provider draft incomplete; recreating",
				zap.String("provider_invoice_id", existing.ID),
				zap.Int64("provider_total", existing.Total),
			)
			return a.issue(ctx, withCustomer(req, customer), recreateScope(req.InvoiceID, existing.ID))
		}
		return a.finalizeAndSend(ctx, existing.ID, customer)
	case stripe.InvoiceStatusOpen:
		sent, err := a.client.V1Invoices.SendInvoice(ctx, existing.ID, &stripe.InvoiceSendInvoiceParams{})
		if err != nil {
			return billingdomain.Outcome{}, billingdomain.PartialIssue(existing.ID, customer, providerError("send invoice", err))
		}
		return outcomeFrom(sent, customer), nil
	case stripe.InvoiceStatusPaid:
		out := outcomeFrom(existing, customer)
		out.Kind = billingdomain.OutcomeAlreadyPaid
		return out, nil
	default:
		a.log.Info("provider invoice closed; recreating",
			zap.String("provider_invoice_id", existing.ID),
			zap.String("provider_status", string(existing.Status)),
		)
		return a.issue(ctx, withCustomer(req, customer), recreateScope(req.InvoiceID, existing.ID))
	}
}

// issue creates, fills, finalizes and sends a provider invoice. scope keys
// every idempotent request, so a retry with the same scope replays the
// earlier attempt and a recreate gets fresh objects.
func (a *Adapter) issue(ctx context.Context, req billingdomain.IssueRequest, scope string) (billingdomain.Outcome, error) {
	customer, err := a.ensureCustomer(ctx, req)
	if err != nil {
		return billingdomain.Outcome{}, err
	}

	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	params := &stripe.InvoiceCreateParams{
		Customer:                    stripe.String(customer),
		Currency:                    stripe.String(currency),
		CollectionMethod:            stripe.String(string(stripe.InvoiceCollectionMethodSendInvoice)),
		DaysUntilDue:                stripe.Int64(daysUntilDue(req.DueAt, a.now())),
		PendingInvoiceItemsBehavior: stripe.String("exclude"),
		AutoAdvance:                 stripe.Bool(false),
	}
	if notes := strings.TrimSpace(req.Notes); notes != "" {
		params.Description = stripe.String(notes)
	}
	params.AddMetadata("invoice_id", req.InvoiceID)
	params.AddMetadata("invoice_number", req.Number)
	params.AddMetadata("client_id", req.Customer.ClientID)
	params.SetIdempotencyKey("invoice-" + scope)

	created, err := a.client.V1Invoices.Create(ctx, params)
	if err != nil {
		return billingdomain.Outcome{}, providerError("create invoice", err)
	}

	n := 0
	addItem := func(description string, cents int64) error {
		n++
		item := &stripe.InvoiceItemCreateParams{
			Customer:    stripe.String(customer),
			Invoice:     stripe.String(created.ID),
			Currency:    stripe.String(currency),
			Description: stripe.String(description),
			Amount:      stripe.Int64(cents),
		}
		item.SetIdempotencyKey(fmt.Sprintf("item-%s-%d", scope, n))
		if _, err := a.client.V1InvoiceItems.Create(ctx, item); err != nil {
			return billingdomain.PartialIssue(created.ID, customer, providerError("create invoice item", err))
		}
		return nil
	}
	for _, line := range req.Lines {
		if err := addItem(lineDescription(line), totals.ToMinorUnits(line.Amount)); err != nil {
			return billingdomain.Outcome{}, err
		}
	}
	if req.Tax.IsPositive() {
		if err := addItem("Tax", totals.ToMinorUnits(req.Tax)); err != nil {
			return billingdomain.Outcome{}, err
		}
	}
	if req.Discount.IsPositive() {
		if err := addItem("Discount", -totals.ToMinorUnits(req.Discount)); err != nil {
			return billingdomain.Outcome{}, err
		}
	}

	return a.finalizeAndSend(ctx, created.ID, customer)
}

func (a *Adapter) finalizeAndSend(ctx context.Context, providerInvoiceID, customer string) (billingdomain.Outcome, error) {
	if _, err := a.client.V1Invoices.FinalizeInvoice(ctx, providerInvoiceID, &stripe.InvoiceFinalizeInvoiceParams{
		AutoAdvance: stripe.Bool(false),
	}); err != nil {
		// A replayed create returns an invoice an earlier attempt already
		// finalized; carry on to send it.
		current, getErr := a.client.V1Invoices.Retrieve(ctx, providerInvoiceID, nil)
		if getErr != nil || current.Status != stripe.InvoiceStatusOpen {
			return billingdomain.Outcome{}, billingdomain.PartialIssue(providerInvoiceID, customer, providerError("finalize invoice", err))
		}
	}
	sent, err := a.client.V1Invoices.SendInvoice(ctx, providerInvoiceID, &stripe.InvoiceSendInvoiceParams{})
	if err != nil {
		return billingdomain.Outcome{}, billingdomain.PartialIssue(providerInvoiceID, customer, providerError("send invoice", err))
	}
	return outcomeFrom(sent, customer), nil
}

func (a *Adapter) ensureCustomer(ctx context.Context, req billingdomain.IssueRequest) (string, error) {
	if existing := strings.TrimSpace(req.Customer.ProviderCustomerID); existing != "" {
		return existing, nil
	}
	email := strings.ToLower(strings.TrimSpace(req.Customer.Email))
	params := &stripe.CustomerCreateParams{
		Email: stripe.String(email),
	}
	if name := strings.TrimSpace(req.Customer.Name); name != "" {
		params.Name = stripe.String(name)
	}
	params.AddMetadata("client_id", req.Customer.ClientID)
	params.SetIdempotencyKey(customerIdempotencyKey(email, req.InvoiceID))

	customer, err := a.client.V1Customers.Create(ctx, params)
	if err != nil {
		return "", providerError("create customer", err)
	}
	return customer.ID, nil
}

// guard turns authentication failures into the unconfigured outcome.
func (a *Adapter) guard(out billingdomain.Outcome, err error) (billingdomain.Outcome, error) {
	if err == nil {
		return out, nil
	}
	if isAuthenticationError(err) {
		a.log.Warn("stripe rejected credentials; invoices will open locally")
		return billingdomain.Unconfigured(), nil
	}
	return billingdomain.Outcome{}, err
}

func outcomeFrom(inv *stripe.Invoice, customer string) billingdomain.Outcome {
	out := billingdomain.Outcome{
		Kind:               billingdomain.OutcomeIssued,
		ProviderInvoiceID:  inv.ID,
		ProviderCustomerID: customer,
		HostedURL:          inv.HostedInvoiceURL,
		PDFURL:             inv.InvoicePDF,
	}
	if inv.StatusTransitions != nil && inv.StatusTransitions.FinalizedAt > 0 {
		issued := time.Unix(inv.StatusTransitions.FinalizedAt, 0).UTC()
		out.IssuedAt = &issued
	}
	if inv.DueDate > 0 {
		due := time.Unix(inv.DueDate, 0).UTC()
		out.DueAt = &due
	}
	return out
}

func customerID(inv *stripe.Invoice) string {
	if inv == nil || inv.Customer == nil {
		return ""
	}
	return inv.Customer.ID
}

func lineDescription(line billingdomain.Line) string {
	if line.Quantity.Equal(line.Quantity.Truncate(0)) && line.Quantity.IntPart() == 1 {
		return line.Description
	}
	return fmt.Sprintf("%s (%s x %s)", line.Description, line.Quantity.String(), line.UnitAmount.StringFixed(2))
}

// daysUntilDue rounds up to whole days and falls back to the default when the
// due date is absent or already past.
func daysUntilDue(dueAt *time.Time, now time.Time) int64 {
	if dueAt == nil {
		return defaultDaysUntilDue
	}
	remaining := dueAt.Sub(now)
	if remaining <= 0 {
		return defaultDaysUntilDue
	}
	days := int64(math.Ceil(remaining.Hours() / 24))
	return max(days, 1)
}

// expectedTotal is the provider total, in minor units, of a fully issued
// invoice for req.
func expectedTotal(req billingdomain.IssueRequest) int64 {
	var total int64
	for _, line := range req.Lines {
		total += totals.ToMinorUnits(line.Amount)
	}
	if req.Tax.IsPositive() {
		total += totals.ToMinorUnits(req.Tax)
	}
	if req.Discount.IsPositive() {
		total -= totals.ToMinorUnits(req.Discount)
	}
	return total
}

func recreateScope(invoiceID, previousProviderID string) string {
	return invoiceID + "-r-" + previousProviderID
}

func withCustomer(req billingdomain.IssueRequest, customer string) billingdomain.IssueRequest {
	if strings.TrimSpace(req.Customer.ProviderCustomerID) == "" && customer != "" {
		req.Customer.ProviderCustomerID = customer
	}
	return req
}

func customerIdempotencyKey(email, invoiceID string) string {
	sum := sha256.Sum256([]byte(email))
	return fmt.Sprintf("customer-%s-%s", hex.EncodeToString(sum[:])[:16], invoiceID)
}

func usableKey(key string) bool {
	return strings.HasPrefix(key, "sk_") || strings.HasPrefix(key, "rk_")
}

func providerError(op string, err error) error {
	return fmt.Errorf("%w: stripe %s: %w", billingdomain.ErrProviderFailure, op, err)
}

func isAuthenticationError(err error) bool {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return false
	}
	return stripeErr.HTTPStatusCode == http.StatusUnauthorized
}

func isResourceMissing(err error) bool {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return false
	}
	return stripeErr.Code == stripe.ErrorCodeResourceMissing || stripeErr.HTTPStatusCode == http.StatusNotFound
}
