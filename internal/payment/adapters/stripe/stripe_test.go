package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	paymentdomain "github.com/smallbiznis/portal/internal/payment/domain"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	adapter, err := NewFactory().NewAdapter(paymentdomain.AdapterConfig{WebhookSecret: "whsec_test"})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	return adapter.(*Adapter)
}

func TestVerifySignature(t *testing.T) {
	secret := "whsec_test"
	payload := []byte(`{"id":"evt_123","type":"invoice.paid","data":{"object":{}}}`)
	now := time.Now().Unix()

	reqHeader := http.Header{}
	reqHeader.Set("Stripe-Signature", buildStripeSignatureHeader(secret, payload, now))

	adapter := newTestAdapter(t)
	if err := adapter.Verify(context.Background(), payload, reqHeader); err != nil {
		t.Fatalf("expected valid signature, got error: %v", err)
	}

	reqHeader.Set("Stripe-Signature", buildStripeSignatureHeader("wrong", payload, now))
	if err := adapter.Verify(context.Background(), payload, reqHeader); !errors.Is(err, paymentdomain.ErrInvalidSignature) {
		t.Fatalf("expected invalid signature error, got %v", err)
	}

	stale := time.Now().Add(-10 * time.Minute).Unix()
	reqHeader.Set("Stripe-Signature", buildStripeSignatureHeader(secret, payload, stale))
	if err := adapter.Verify(context.Background(), payload, reqHeader); !errors.Is(err, paymentdomain.ErrInvalidSignature) {
		t.Fatalf("expected stale signature to be rejected, got %v", err)
	}

	if err := adapter.Verify(context.Background(), payload, http.Header{}); !errors.Is(err, paymentdomain.ErrInvalidSignature) {
		t.Fatalf("expected missing header to be rejected, got %v", err)
	}
}

func TestFactoryRequiresSecret(t *testing.T) {
	if _, err := NewFactory().NewAdapter(paymentdomain.AdapterConfig{}); !errors.Is(err, paymentdomain.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestParseInvoiceEvents(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Unix()
	paidAt := created + 60

	tests := []struct {
		name       string
		eventType  string
		object     map[string]any
		wantType   string
		wantRef    string
		wantAmount decimal.Decimal
	}{{
		name:      "payment_succeeded with charge",
		eventType: "invoice.payment_succeeded",
		object: map[string]any{
			"id":                 "in_1",
			"amount_paid":        33000,
			"currency":           "usd",
			"charge":             "ch_1",
			"hosted_invoice_url": "https://pay.example/in_1",
			"status_transitions": map[string]any{"paid_at": paidAt},
			"metadata":           map[string]any{"invoice_id": "42"},
		},
		wantType:   paymentdomain.EventTypeInvoicePaid,
		wantRef:    "ch_1",
		wantAmount: decimal.NewFromInt(330),
	}, {
		name:      "paid without charge falls back to invoice id",
		eventType: "invoice.paid",
		object: map[string]any{
			"id":          "in_2",
			"amount_paid": 1050,
			"currency":    "eur",
		},
		wantType:   paymentdomain.EventTypeInvoicePaid,
		wantRef:    "in_2",
		wantAmount: decimal.RequireFromString("10.5"),
	}, {
		name:       "voided",
		eventType:  "invoice.voided",
		object:     map[string]any{"id": "in_3"},
		wantType:   paymentdomain.EventTypeInvoiceVoided,
		wantRef:    "in_3",
		wantAmount: decimal.Zero,
	}, {
		name:       "sent maps to finalized",
		eventType:  "invoice.sent",
		object:     map[string]any{"id": "in_4", "invoice_pdf": "https://pay.example/in_4.pdf"},
		wantType:   paymentdomain.EventTypeInvoiceFinalized,
		wantRef:    "in_4",
		wantAmount: decimal.Zero,
	}}

	adapter := newTestAdapter(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := buildEvent(t, "evt_"+tt.name, tt.eventType, created, tt.object)
			event, err := adapter.Parse(context.Background(), payload)
			if err != nil {
				t.Fatalf("parse event: %v", err)
			}
			if event.Type != tt.wantType {
				t.Fatalf("expected type %s, got %s", tt.wantType, event.Type)
			}
			if event.PaymentRef != tt.wantRef {
				t.Fatalf("expected payment ref %s, got %s", tt.wantRef, event.PaymentRef)
			}
			if !event.AmountPaid.Equal(tt.wantAmount) {
				t.Fatalf("expected amount %s, got %s", tt.wantAmount, event.AmountPaid)
			}
			if event.OccurredAt.Unix() != created {
				t.Fatalf("expected occurred_at %d, got %d", created, event.OccurredAt.Unix())
			}
		})
	}
}

func TestParsePaidEventDetails(t *testing.T) {
	adapter := newTestAdapter(t)
	paidAt := time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC)
	payload := buildEvent(t, "evt_paid", "invoice.paid", paidAt.Unix(), map[string]any{
		"id":                 "in_9",
		"currency":           "USD",
		"payment_intent":     map[string]any{"id": "pi_9"},
		"invoice_pdf":        "https://pay.example/in_9.pdf",
		"status_transitions": map[string]any{"paid_at": paidAt.Unix(), "finalized_at": paidAt.Add(-time.Hour).Unix()},
		"metadata":           map[string]any{"invoice_id": "1234"},
	})

	event, err := adapter.Parse(context.Background(), payload)
	if err != nil {
		t.Fatalf("parse event: %v", err)
	}
	if event.PaymentRef != "pi_9" {
		t.Fatalf("expected expanded payment intent ref, got %q", event.PaymentRef)
	}
	if event.Currency != "usd" {
		t.Fatalf("expected lowercase currency, got %s", event.Currency)
	}
	if event.PaidAt == nil || !event.PaidAt.Equal(paidAt) {
		t.Fatalf("expected paid_at %s, got %v", paidAt, event.PaidAt)
	}
	if event.FinalizedAt == nil {
		t.Fatalf("expected finalized_at")
	}
	if event.LocalInvoiceID != "1234" {
		t.Fatalf("expected local invoice id from metadata, got %q", event.LocalInvoiceID)
	}
	if event.PDFURL != "https://pay.example/in_9.pdf" {
		t.Fatalf("unexpected pdf url %q", event.PDFURL)
	}
}

func TestParseIgnoresOtherEvents(t *testing.T) {
	adapter := newTestAdapter(t)
	payload := buildEvent(t, "evt_cus", "customer.created", time.Now().Unix(), map[string]any{"id": "cus_1"})
	if _, err := adapter.Parse(context.Background(), payload); !errors.Is(err, paymentdomain.ErrEventIgnored) {
		t.Fatalf("expected ErrEventIgnored, got %v", err)
	}
	if _, err := adapter.Parse(context.Background(), []byte(`not json`)); !errors.Is(err, paymentdomain.ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
}

func buildEvent(t *testing.T, id, eventType string, created int64, object map[string]any) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":      id,
		"object":  "event",
		"type":    eventType,
		"created": created,
		"data":    map[string]any{"object": object},
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return payload
}

func buildStripeSignatureHeader(secret string, payload []byte, timestamp int64) string {
	signedPayload := fmt.Sprintf("%d.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signedPayload))
	signature := hex.EncodeToString(mac.Sum(nil))
	return fmt.Sprintf("t=%d,v1=%s", timestamp, signature)
}
