package tracing

import (
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsSensitiveKeys(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("http.route", "/api/invoices"),
		attribute.String("client.email", "a@example.com"),
		attribute.String("stripe_signature", "t=1"),
	)
	if len(attrs) != 1 || attrs[0].Key != "http.route" {
		t.Fatalf("unexpected attributes: %v", attrs)
	}
}

func TestSafeErrorHidesMessage(t *testing.T) {
	err := SafeError(errors.New("card_declined for a@example.com"))
	if err == nil || err.Error() != "*errors.errorString" {
		t.Fatalf("unexpected safe error %v", err)
	}
	if SafeError(nil) != nil {
		t.Fatalf("expected nil")
	}
}

func TestClampRatio(t *testing.T) {
	if clampRatio(0) != 0.1 || clampRatio(5) != 1 || clampRatio(0.5) != 0.5 {
		t.Fatalf("unexpected clamp results")
	}
}
