package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/portal/internal/invoice/totals"
	paymentdomain "github.com/smallbiznis/portal/internal/payment/domain"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

const providerName = "stripe"

// invoiceEventTypes maps the Stripe invoice events the portal reacts to.
var invoiceEventTypes = map[string]string{
	"invoice.payment_succeeded":    paymentdomain.EventTypeInvoicePaid,
	"invoice.paid":                 paymentdomain.EventTypeInvoicePaid,
	"invoice.voided":               paymentdomain.EventTypeInvoiceVoided,
	"invoice.marked_uncollectible": paymentdomain.EventTypeInvoiceUncollectible,
	"invoice.finalized":            paymentdomain.EventTypeInvoiceFinalized,
	"invoice.sent":                 paymentdomain.EventTypeInvoiceFinalized,
}

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return providerName
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.WebhookAdapter, error) {
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}
	tolerance := cfg.Tolerance
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &Adapter{webhookSecret: secret, tolerance: tolerance}, nil
}

type Adapter struct {
	webhookSecret string
	tolerance     time.Duration
}

// Verify checks the Stripe-Signature header: an HMAC-SHA256 over
// "<timestamp>.<payload>" that must be younger than the tolerance.
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" || len(payload) == 0 {
		return paymentdomain.ErrInvalidSignature
	}
	if err := webhook.ValidatePayloadWithTolerance(payload, sigHeader, a.webhookSecret, a.tolerance); err != nil {
		return fmt.Errorf("%w: %v", paymentdomain.ErrInvalidSignature, err)
	}
	return nil
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.InvoiceEvent, error) {
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	providerType := strings.TrimSpace(string(event.Type))
	eventType, ok := invoiceEventTypes[providerType]
	if !ok {
		return nil, paymentdomain.ErrEventIgnored
	}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return nil, paymentdomain.ErrInvalidPayload
	}

	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(invoice.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}
	var refs invoiceRefs
	if err := json.Unmarshal(event.Data.Raw, &refs); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}

	parsed := &paymentdomain.InvoiceEvent{
		Provider:          providerName,
		ProviderEventID:   event.ID,
		ProviderType:      providerType,
		Type:              eventType,
		ProviderInvoiceID: invoice.ID,
		AmountPaid:        totals.FromMinorUnits(invoice.AmountPaid),
		Currency:          strings.ToLower(strings.TrimSpace(string(invoice.Currency))),
		HostedURL:         strings.TrimSpace(invoice.HostedInvoiceURL),
		PDFURL:            strings.TrimSpace(invoice.InvoicePDF),
		DueAt:             unixTime(invoice.DueDate),
		OccurredAt:        timestamp(event.Created),
		RawPayload:        payload,
	}
	if invoice.Metadata != nil {
		parsed.LocalInvoiceID = strings.TrimSpace(invoice.Metadata["invoice_id"])
	}
	if invoice.StatusTransitions != nil {
		parsed.FinalizedAt = unixTime(invoice.StatusTransitions.FinalizedAt)
		parsed.PaidAt = unixTime(invoice.StatusTransitions.PaidAt)
	}

	parsed.PaymentRef = expandableID(refs.Charge)
	if parsed.PaymentRef == "" {
		parsed.PaymentRef = expandableID(refs.PaymentIntent)
	}
	if parsed.PaymentRef == "" {
		parsed.PaymentRef = invoice.ID
	}
	return parsed, nil
}

// invoiceRefs picks the payment references older API versions put directly
// on the invoice object.
type invoiceRefs struct {
	Charge        json.RawMessage `json:"charge"`
	PaymentIntent json.RawMessage `json:"payment_intent"`
}

// expandableID reads an expandable field that is either an id string or an
// object carrying an id.
func expandableID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return strings.TrimSpace(id)
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return strings.TrimSpace(obj.ID)
	}
	return ""
}

func unixTime(value int64) *time.Time {
	if value <= 0 {
		return nil
	}
	t := time.Unix(value, 0).UTC()
	return &t
}

func timestamp(value int64) time.Time {
	if value <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(value, 0).UTC()
}
