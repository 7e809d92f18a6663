package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	authdomain "github.com/smallbiznis/portal/internal/auth/domain"
	"github.com/smallbiznis/portal/internal/authorization"
	"github.com/smallbiznis/portal/internal/clock"
	"github.com/smallbiznis/portal/internal/config"
	invoicedomain "github.com/smallbiznis/portal/internal/invoice/domain"
	invoicerepo "github.com/smallbiznis/portal/internal/invoice/repository"
	"github.com/smallbiznis/portal/internal/migration"
	"github.com/smallbiznis/portal/internal/payment/adapters"
	"github.com/smallbiznis/portal/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/portal/internal/payment/domain"
	"github.com/smallbiznis/portal/internal/payment/repository"
	"github.com/smallbiznis/portal/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const testSecret = "whsec_portal"

type fixture struct {
	db       *gorm.DB
	invoices invoicedomain.Repository
	events   paymentdomain.Repository
	svc      paymentdomain.Service
}

func newFixture(t *testing.T, secret string) *fixture {
	t.Helper()
	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, migration.ApplySQLite(conn))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := config.Config{}
	cfg.Billing.StripeWebhookKey = secret

	f := &fixture{
		db:       conn,
		invoices: invoicerepo.Provide(),
		events:   repository.Provide(),
	}
	f.svc = NewService(Params{
		DB:       conn,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clock.NewFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)),
		Cfg:      cfg,
		Adapters: adapters.NewRegistry(stripe.NewFactory()),
		Repo:     f.events,
		Invoices: f.invoices,
	})
	return f
}

func (f *fixture) seedInvoice(t *testing.T, id int64, status invoicedomain.InvoiceStatus, stripeID string) {
	t.Helper()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	inv := &invoicedomain.Invoice{
		ID:        snowflake.ID(id),
		ClientID:  1,
		Number:    fmt.Sprintf("INV-2026-%05d", id),
		Currency:  "usd",
		Status:    status,
		Subtotal:  decimal.NewFromInt(330),
		Tax:       decimal.Zero,
		Discount:  decimal.Zero,
		Total:     decimal.NewFromInt(330),
		Meta:      datatypes.JSONMap{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if stripeID != "" {
		inv.StripeInvoiceID = &stripeID
	}
	require.NoError(t, f.invoices.InsertInvoice(context.Background(), f.db, inv))
}

func (f *fixture) invoice(t *testing.T, id int64) *invoicedomain.Invoice {
	t.Helper()
	inv, err := f.invoices.GetInvoice(context.Background(), f.db, snowflake.ID(id), false)
	require.NoError(t, err)
	require.NotNil(t, inv)
	return inv
}

func (f *fixture) payments(t *testing.T, id int64) int64 {
	t.Helper()
	count, err := f.invoices.CountPayments(context.Background(), f.db, snowflake.ID(id))
	require.NoError(t, err)
	return count
}

func (f *fixture) deliver(t *testing.T, payload []byte) error {
	t.Helper()
	headers := http.Header{}
	headers.Set("Stripe-Signature", sign(testSecret, payload, time.Now().Unix()))
	return f.svc.IngestWebhook(context.Background(), "stripe", payload, headers)
}

func stripeEvent(t *testing.T, id, eventType string, object map[string]any) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":      id,
		"object":  "event",
		"type":    eventType,
		"created": time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC).Unix(),
		"data":    map[string]any{"object": object},
	})
	require.NoError(t, err)
	return payload
}

func paidObject(stripeID string) map[string]any {
	return map[string]any{
		"id":                 stripeID,
		"amount_paid":        33000,
		"currency":           "usd",
		"charge":             "ch_" + stripeID,
		"hosted_invoice_url": "https://pay.example/" + stripeID,
		"status_transitions": map[string]any{"paid_at": time.Date(2026, 3, 5, 11, 59, 0, 0, time.UTC).Unix()},
	}
}

func sign(secret string, payload []byte, timestamp int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(fmt.Sprintf("%d.%s", timestamp, payload)))
	return fmt.Sprintf("t=%d,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}

func TestPaymentSucceededMarksInvoicePaid(t *testing.T) {
	f := newFixture(t, testSecret)
	f.seedInvoice(t, 10, invoicedomain.InvoiceStatusOpen, "in_10")

	require.NoError(t, f.deliver(t, stripeEvent(t, "evt_1", "invoice.payment_succeeded", paidObject("in_10"))))

	inv := f.invoice(t, 10)
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, inv.Status)
	require.NotNil(t, inv.PaidAt)
	assert.Equal(t, time.Date(2026, 3, 5, 11, 59, 0, 0, time.UTC), inv.PaidAt.UTC())
	require.NotNil(t, inv.HostedURL)
	assert.Equal(t, "https://pay.example/in_10", *inv.HostedURL)
	assert.Equal(t, int64(1), f.payments(t, 10))
}

func TestDuplicateDeliveryRecordsOnePayment(t *testing.T) {
	f := newFixture(t, testSecret)
	f.seedInvoice(t, 11, invoicedomain.InvoiceStatusOpen, "in_11")

	payload := stripeEvent(t, "evt_dup", "invoice.payment_succeeded", paidObject("in_11"))
	require.NoError(t, f.deliver(t, payload))
	require.NoError(t, f.deliver(t, payload))

	assert.Equal(t, invoicedomain.InvoiceStatusPaid, f.invoice(t, 11).Status)
	assert.Equal(t, int64(1), f.payments(t, 11))

	record, err := f.events.FindEvent(context.Background(), f.db, "stripe", "evt_dup")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.NotNil(t, record.ProcessedAt)
}

func TestPaidAndPaymentSucceededShareOnePayment(t *testing.T) {
	f := newFixture(t, testSecret)
	f.seedInvoice(t, 12, invoicedomain.InvoiceStatusOpen, "in_12")

	require.NoError(t, f.deliver(t, stripeEvent(t, "evt_a", "invoice.payment_succeeded", paidObject("in_12"))))
	require.NoError(t, f.deliver(t, stripeEvent(t, "evt_b", "invoice.paid", paidObject("in_12"))))

	assert.Equal(t, invoicedomain.InvoiceStatusPaid, f.invoice(t, 12).Status)
	assert.Equal(t, int64(1), f.payments(t, 12))
}

func TestUnknownInvoiceIsAcknowledged(t *testing.T) {
	f := newFixture(t, testSecret)

	require.NoError(t, f.deliver(t, stripeEvent(t, "evt_unknown", "invoice.payment_succeeded", paidObject("in_missing"))))

	var count int64
	require.NoError(t, f.db.Model(&invoicedomain.Payment{}).Count(&count).Error)
	assert.Zero(t, count)

	record, err := f.events.FindEvent(context.Background(), f.db, "stripe", "evt_unknown")
	require.NoError(t, err)
	require.NotNil(t, record)
}

func TestMetadataMatchesInvoiceWithoutProviderID(t *testing.T) {
	f := newFixture(t, testSecret)
	f.seedInvoice(t, 13, invoicedomain.InvoiceStatusOpen, "")

	object := paidObject("in_13")
	object["metadata"] = map[string]any{"invoice_id": "13"}
	require.NoError(t, f.deliver(t, stripeEvent(t, "evt_meta", "invoice.paid", object)))

	inv := f.invoice(t, 13)
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, inv.Status)
	require.NotNil(t, inv.StripeInvoiceID)
	assert.Equal(t, "in_13", *inv.StripeInvoiceID)
}

func TestVoidAfterPaidIsIgnored(t *testing.T) {
	f := newFixture(t, testSecret)
	f.seedInvoice(t, 14, invoicedomain.InvoiceStatusOpen, "in_14")

	require.NoError(t, f.deliver(t, stripeEvent(t, "evt_paid", "invoice.paid", paidObject("in_14"))))
	require.NoError(t, f.deliver(t, stripeEvent(t, "evt_void", "invoice.voided", map[string]any{"id": "in_14"})))

	assert.Equal(t, invoicedomain.InvoiceStatusPaid, f.invoice(t, 14).Status)
}

func TestLifecycleEventsTransitionOpenInvoices(t *testing.T) {
	f := newFixture(t, testSecret)
	f.seedInvoice(t, 15, invoicedomain.InvoiceStatusOpen, "in_15")
	f.seedInvoice(t, 16, invoicedomain.InvoiceStatusOpen, "in_16")

	require.NoError(t, f.deliver(t, stripeEvent(t, "evt_v", "invoice.voided", map[string]any{"id": "in_15"})))
	require.NoError(t, f.deliver(t, stripeEvent(t, "evt_u", "invoice.marked_uncollectible", map[string]any{"id": "in_16"})))

	assert.Equal(t, invoicedomain.InvoiceStatusVoid, f.invoice(t, 15).Status)
	assert.Equal(t, invoicedomain.InvoiceStatusUncollectible, f.invoice(t, 16).Status)
	assert.Zero(t, f.payments(t, 15))
}

func TestFinalizedFillsProviderFields(t *testing.T) {
	f := newFixture(t, testSecret)
	f.seedInvoice(t, 17, invoicedomain.InvoiceStatusOpen, "in_17")

	finalized := time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC)
	require.NoError(t, f.deliver(t, stripeEvent(t, "evt_f", "invoice.finalized", map[string]any{
		"id":                 "in_17",
		"hosted_invoice_url": "https://pay.example/in_17",
		"invoice_pdf":        "https://pay.example/in_17.pdf",
		"status_transitions": map[string]any{"finalized_at": finalized.Unix()},
	})))

	inv := f.invoice(t, 17)
	assert.Equal(t, invoicedomain.InvoiceStatusOpen, inv.Status)
	require.NotNil(t, inv.PDFURL)
	assert.Equal(t, "https://pay.example/in_17.pdf", *inv.PDFURL)
	require.NotNil(t, inv.IssuedAt)
	assert.Equal(t, finalized, inv.IssuedAt.UTC())
}

func TestLaterEventRefreshesDocumentLinks(t *testing.T) {
	f := newFixture(t, testSecret)
	f.seedInvoice(t, 18, invoicedomain.InvoiceStatusOpen, "in_18")
	oldPDF := "https://pay.example/in_18-v1.pdf"
	oldDue := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)
	_, err := f.invoices.UpdateInvoice(context.Background(), f.db, 18, invoicedomain.InvoicePatch{PDFURL: &oldPDF, DueAt: &oldDue})
	require.NoError(t, err)

	newDue := time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC)
	require.NoError(t, f.deliver(t, stripeEvent(t, "evt_r", "invoice.finalized", map[string]any{
		"id":          "in_18",
		"invoice_pdf": "https://pay.example/in_18-v2.pdf",
		"due_date":    newDue.Unix(),
	})))

	inv := f.invoice(t, 18)
	require.NotNil(t, inv.PDFURL)
	assert.Equal(t, "https://pay.example/in_18-v2.pdf", *inv.PDFURL)
	require.NotNil(t, inv.DueAt)
	assert.Equal(t, newDue, inv.DueAt.UTC())
}

func TestRejectsBadSignature(t *testing.T) {
	f := newFixture(t, testSecret)
	f.seedInvoice(t, 18, invoicedomain.InvoiceStatusOpen, "in_18")

	payload := stripeEvent(t, "evt_forged", "invoice.paid", paidObject("in_18"))
	headers := http.Header{}
	headers.Set("Stripe-Signature", sign("whsec_other", payload, time.Now().Unix()))

	err := f.svc.IngestWebhook(context.Background(), "stripe", payload, headers)
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)
	assert.Equal(t, invoicedomain.InvoiceStatusOpen, f.invoice(t, 18).Status)
}

func TestIngestWebhookInputs(t *testing.T) {
	f := newFixture(t, testSecret)

	assert.ErrorIs(t, f.svc.IngestWebhook(context.Background(), "", nil, nil), paymentdomain.ErrInvalidProvider)
	assert.ErrorIs(t, f.svc.IngestWebhook(context.Background(), "paypal", nil, nil), paymentdomain.ErrProviderNotFound)
	assert.ErrorIs(t, f.svc.IngestWebhook(context.Background(), "stripe", []byte("nope"), http.Header{}), paymentdomain.ErrInvalidPayload)
	assert.NoError(t, f.deliver(t, stripeEvent(t, "evt_cus", "customer.created", map[string]any{"id": "cus_1"})))
}

func TestMissingSecretAcknowledgesWithoutProcessing(t *testing.T) {
	f := newFixture(t, "")
	f.seedInvoice(t, 19, invoicedomain.InvoiceStatusOpen, "in_19")

	require.NoError(t, f.svc.IngestWebhook(context.Background(), "stripe", stripeEvent(t, "evt_x", "invoice.paid", paidObject("in_19")), http.Header{}))
	assert.Equal(t, invoicedomain.InvoiceStatusOpen, f.invoice(t, 19).Status)
}

func TestListInvoiceEventsNewestFirst(t *testing.T) {
	f := newFixture(t, testSecret)
	f.seedInvoice(t, 40, invoicedomain.InvoiceStatusOpen, "in_40")
	f.seedInvoice(t, 41, invoicedomain.InvoiceStatusDraft, "")

	require.NoError(t, f.deliver(t, stripeEvent(t, "evt_40a", "invoice.payment_succeeded", paidObject("in_40"))))
	require.NoError(t, f.deliver(t, stripeEvent(t, "evt_40b", "invoice.paid", paidObject("in_40"))))

	admin := authdomain.WithIdentity(context.Background(), &authdomain.Identity{
		Subject: "admin_1",
		Roles:   []string{authdomain.RoleAdmin},
	})
	items, err := f.svc.ListInvoiceEvents(admin, "40")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "evt_40b", items[0].ProviderEventID)
	assert.Equal(t, "evt_40a", items[1].ProviderEventID)

	items, err = f.svc.ListInvoiceEvents(admin, "41")
	require.NoError(t, err)
	assert.Empty(t, items)

	_, err = f.svc.ListInvoiceEvents(admin, "999")
	assert.ErrorIs(t, err, invoicedomain.ErrInvoiceNotFound)

	_, err = f.svc.ListInvoiceEvents(admin, "abc")
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidInvoiceID)

	client := authdomain.WithIdentity(context.Background(), &authdomain.Identity{
		Subject: "client_1",
		Roles:   []string{authdomain.RoleClient},
	})
	_, err = f.svc.ListInvoiceEvents(client, "40")
	assert.ErrorIs(t, err, authorization.ErrForbidden)

	_, err = f.svc.ListInvoiceEvents(context.Background(), "40")
	assert.ErrorIs(t, err, authorization.ErrInvalidActor)
}
