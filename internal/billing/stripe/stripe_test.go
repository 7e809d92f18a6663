package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	billingdomain "github.com/smallbiznis/portal/internal/billing/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordedCall struct {
	Method         string
	Path           string
	Form           map[string]string
	IdempotencyKey string
}

type replay struct {
	form map[string]string
	code int
	body []byte
}

// fakeStripe answers the handful of endpoints the adapter uses. Requests
// carrying an Idempotency-Key are replayed the way Stripe does: the first
// response is returned again, and reusing a key with different parameters
// is rejected.
type fakeStripe struct {
	mu      sync.Mutex
	calls   []recordedCall
	status  map[string]string
	total   map[string]int64
	replays map[string]replay
	created int
	// authFail makes every call answer 401.
	authFail bool
	// missing lists invoice ids that answer resource_missing.
	missing map[string]bool
	// failSends fails that many send calls before succeeding.
	failSends int
}

func newFakeStripe() *fakeStripe {
	return &fakeStripe{
		status:  map[string]string{},
		total:   map[string]int64{},
		replays: map[string]replay{},
		missing: map[string]bool{},
	}
}

func (f *fakeStripe) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	form := map[string]string{}
	for key, values := range r.PostForm {
		if len(values) > 0 {
			form[key] = values[0]
		}
	}
	key := r.Header.Get("Idempotency-Key")

	f.mu.Lock()
	f.calls = append(f.calls, recordedCall{
		Method:         r.Method,
		Path:           r.URL.Path,
		Form:           form,
		IdempotencyKey: key,
	})
	previous, replayed := f.replays[key]
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if replayed {
		if !reflect.DeepEqual(previous.form, form) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"type":"idempotency_error","message":"Keys for idempotent requests can only be used with the same parameters they were first used with."}}`))
			return
		}
		w.Header().Set("Idempotent-Replayed", "true")
		w.WriteHeader(previous.code)
		_, _ = w.Write(previous.body)
		return
	}

	rec := httptest.NewRecorder()
	f.handle(rec, r, form)
	if key != "" && r.Method == http.MethodPost {
		f.mu.Lock()
		f.replays[key] = replay{form: form, code: rec.Code, body: rec.Body.Bytes()}
		f.mu.Unlock()
	}
	w.WriteHeader(rec.Code)
	_, _ = w.Write(rec.Body.Bytes())
}

func (f *fakeStripe) handle(w http.ResponseWriter, r *http.Request, form map[string]string) {
	if f.authFail {
		writeError(w, http.StatusUnauthorized, `{"error":{"type":"invalid_request_error","message":"Invalid API Key provided"}}`)
		return
	}

	path := r.URL.Path
	switch {
	case r.Method == http.MethodPost && path == "/v1/customers":
		writeJSON(w, map[string]any{"id": "cus_new", "object": "customer"})
	case r.Method == http.MethodPost && path == "/v1/invoices":
		id := f.nextInvoiceID()
		f.setStatus(id, "draft")
		writeJSON(w, f.invoice(id))
	case r.Method == http.MethodPost && path == "/v1/invoiceitems":
		amount, _ := strconv.ParseInt(form["amount"], 10, 64)
		f.addTotal(form["invoice"], amount)
		writeJSON(w, map[string]any{"id": "ii_1", "object": "invoiceitem"})
	case r.Method == http.MethodPost && strings.HasSuffix(path, "/finalize"):
		id := invoiceIDFromPath(path)
		if f.statusOf(id) != "draft" {
			writeError(w, http.StatusBadRequest, `{"error":{"type":"invalid_request_error","message":"This invoice is already finalized, you can't re-finalize a non-draft invoice."}}`)
			return
		}
		f.setStatus(id, "open")
		writeJSON(w, f.invoice(id))
	case r.Method == http.MethodPost && strings.HasSuffix(path, "/send"):
		if f.takeSendFailure() {
			writeError(w, http.StatusInternalServerError, `{"error":{"type":"api_error","message":"temporary outage"}}`)
			return
		}
		writeJSON(w, f.invoice(invoiceIDFromPath(path)))
	case r.Method == http.MethodGet && strings.HasPrefix(path, "/v1/invoices/"):
		id := invoiceIDFromPath(path)
		if f.missing[id] {
			writeError(w, http.StatusNotFound, `{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such invoice"}}`)
			return
		}
		writeJSON(w, f.invoice(id))
	default:
		writeError(w, http.StatusInternalServerError, `{"error":{"type":"api_error","message":"unexpected call"}}`)
	}
}

func (f *fakeStripe) nextInvoiceID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	if f.created == 1 {
		return "in_new"
	}
	return fmt.Sprintf("in_new%d", f.created)
}

func (f *fakeStripe) setStatus(id, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[id] = status
}

func (f *fakeStripe) statusOf(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status[id]
}

func (f *fakeStripe) addTotal(id string, amount int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.total[id] += amount
}

func (f *fakeStripe) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

func (f *fakeStripe) totalOf(id string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.total[id]
}

func (f *fakeStripe) takeSendFailure() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSends <= 0 {
		return false
	}
	f.failSends--
	return true
}

func (f *fakeStripe) invoice(id string) map[string]any {
	f.mu.Lock()
	status := f.status[id]
	total := f.total[id]
	f.mu.Unlock()
	return map[string]any{
		"id":                 id,
		"object":             "invoice",
		"status":             status,
		"total":              total,
		"customer":           "cus_existing",
		"hosted_invoice_url": "https://invoice.stripe.test/" + id,
		"invoice_pdf":        "https://invoice.stripe.test/" + id + "/pdf",
		"due_date":           1767225600,
		"status_transitions": map[string]any{"finalized_at": 1764547200},
	}
}

func (f *fakeStripe) paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, call := range f.calls {
		out = append(out, call.Method+" "+call.Path)
	}
	return out
}

func (f *fakeStripe) callsTo(path string) []recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recordedCall
	for _, call := range f.calls {
		if call.Path == path {
			out = append(out, call)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, body any) {
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, code int, body string) {
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}

func invoiceIDFromPath(path string) string {
	parts := strings.Split(strings.TrimPrefix(path, "/v1/invoices/"), "/")
	return parts[0]
}

func newTestAdapter(t *testing.T, fake *fakeStripe) *Adapter {
	t.Helper()
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)
	return New(zap.NewNop(), Config{
		SecretKey:  "sk_test_123",
		APIBase:    server.URL,
		Timeout:    5 * time.Second,
		HTTPClient: server.Client(),
	})
}

func issueRequest() billingdomain.IssueRequest {
	due := time.Now().Add(10 * 24 * time.Hour)
	return billingdomain.IssueRequest{
		InvoiceID: "1001",
		Number:    "INV-2025-00001",
		Customer:  billingdomain.Customer{ClientID: "7", Email: "Ada@Example.com", Name: "Ada"},
		Currency:  "USD",
		Notes:     "Thanks",
		DueAt:     &due,
		Lines: []billingdomain.Line{{
			Description: "Design",
			Quantity:    decimal.NewFromInt(2),
			UnitAmount:  decimal.NewFromInt(150),
			Amount:      decimal.NewFromInt(300),
		}},
		Tax:      decimal.NewFromInt(30),
		Discount: decimal.RequireFromString("12.5"),
	}
}

func TestIssueInvoiceCreatesAndSends(t *testing.T) {
	fake := newFakeStripe()
	adapter := newTestAdapter(t, fake)

	out, err := adapter.IssueInvoice(context.Background(), issueRequest())
	require.NoError(t, err)
	assert.Equal(t, billingdomain.OutcomeIssued, out.Kind)
	assert.Equal(t, "in_new", out.ProviderInvoiceID)
	assert.Equal(t, "cus_new", out.ProviderCustomerID)
	assert.Equal(t, "https://invoice.stripe.test/in_new", out.HostedURL)
	require.NotNil(t, out.IssuedAt)
	require.NotNil(t, out.DueAt)

	assert.Equal(t, []string{
		"POST /v1/customers",
		"POST /v1/invoices",
		"POST /v1/invoiceitems",
		"POST /v1/invoiceitems",
		"POST /v1/invoiceitems",
		"POST /v1/invoices/in_new/finalize",
		"POST /v1/invoices/in_new/send",
	}, fake.paths())

	customer := fake.callsTo("/v1/customers")[0]
	assert.Equal(t, "ada@example.com", customer.Form["email"])
	assert.Equal(t, customerIdempotencyKey("ada@example.com", "1001"), customer.IdempotencyKey)

	invoice := fake.callsTo("/v1/invoices")[0]
	assert.Equal(t, "send_invoice", invoice.Form["collection_method"])
	assert.Equal(t, "exclude", invoice.Form["pending_invoice_items_behavior"])
	assert.Equal(t, "usd", invoice.Form["currency"])
	assert.Equal(t, "10", invoice.Form["days_until_due"])
	assert.Equal(t, "INV-2025-00001", invoice.Form["metadata[invoice_number]"])
	assert.Equal(t, "invoice-1001", invoice.IdempotencyKey)

	items := fake.callsTo("/v1/invoiceitems")
	assert.Equal(t, "30000", items[0].Form["amount"])
	assert.Equal(t, "item-1001-1", items[0].IdempotencyKey)
	assert.Equal(t, "Tax", items[1].Form["description"])
	assert.Equal(t, "3000", items[1].Form["amount"])
	assert.Equal(t, "Discount", items[2].Form["description"])
	assert.Equal(t, "-1250", items[2].Form["amount"])
}

func TestIssueInvoiceReusesCustomer(t *testing.T) {
	fake := newFakeStripe()
	adapter := newTestAdapter(t, fake)
	req := issueRequest()
	req.Customer.ProviderCustomerID = "cus_known"
	req.Tax = decimal.Zero
	req.Discount = decimal.Zero

	out, err := adapter.IssueInvoice(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "cus_known", out.ProviderCustomerID)
	assert.Empty(t, fake.callsTo("/v1/customers"))
	assert.Len(t, fake.callsTo("/v1/invoiceitems"), 1)
}

func TestUnconfiguredWithoutUsableKey(t *testing.T) {
	for _, key := range []string{"", "pk_test_123", "garbage"} {
		adapter := New(zap.NewNop(), Config{SecretKey: key})
		out, err := adapter.IssueInvoice(context.Background(), issueRequest())
		require.NoError(t, err)
		assert.Equal(t, billingdomain.OutcomeUnconfigured, out.Kind)
		assert.Equal(t, billingdomain.NoteUnconfigured, out.Note)
	}
}

func TestAuthenticationFailureIsUnconfigured(t *testing.T) {
	fake := newFakeStripe()
	fake.authFail = true
	adapter := newTestAdapter(t, fake)

	out, err := adapter.IssueInvoice(context.Background(), issueRequest())
	require.NoError(t, err)
	assert.Equal(t, billingdomain.OutcomeUnconfigured, out.Kind)
}

func TestResendOpenInvoiceSendsAgain(t *testing.T) {
	fake := newFakeStripe()
	fake.setStatus("in_open", "open")
	adapter := newTestAdapter(t, fake)

	out, err := adapter.ResendInvoice(context.Background(), billingdomain.ResendRequest{
		IssueRequest:      issueRequest(),
		ProviderInvoiceID: "in_open",
	})
	require.NoError(t, err)
	assert.Equal(t, billingdomain.OutcomeIssued, out.Kind)
	assert.Equal(t, "cus_existing", out.ProviderCustomerID)
	assert.Equal(t, []string{"GET /v1/invoices/in_open", "POST /v1/invoices/in_open/send"}, fake.paths())
}

func TestResendDraftFinalizesFirst(t *testing.T) {
	fake := newFakeStripe()
	fake.setStatus("in_draft", "draft")
	fake.addTotal("in_draft", 31750)
	adapter := newTestAdapter(t, fake)

	_, err := adapter.ResendInvoice(context.Background(), billingdomain.ResendRequest{
		IssueRequest:      issueRequest(),
		ProviderInvoiceID: "in_draft",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"GET /v1/invoices/in_draft",
		"POST /v1/invoices/in_draft/finalize",
		"POST /v1/invoices/in_draft/send",
	}, fake.paths())
}

func TestResendPaidInvoiceIsReported(t *testing.T) {
	fake := newFakeStripe()
	fake.setStatus("in_paid", "paid")
	adapter := newTestAdapter(t, fake)

	out, err := adapter.ResendInvoice(context.Background(), billingdomain.ResendRequest{
		IssueRequest:      issueRequest(),
		ProviderInvoiceID: "in_paid",
	})
	require.NoError(t, err)
	assert.Equal(t, billingdomain.OutcomeAlreadyPaid, out.Kind)
	assert.Equal(t, []string{"GET /v1/invoices/in_paid"}, fake.paths())
}

func TestResendRecreatesVoidOrMissing(t *testing.T) {
	fake := newFakeStripe()
	fake.setStatus("in_void", "void")
	fake.missing["in_gone"] = true
	adapter := newTestAdapter(t, fake)

	seen := map[string]bool{}
	for _, id := range []string{"in_void", "in_gone"} {
		out, err := adapter.ResendInvoice(context.Background(), billingdomain.ResendRequest{
			IssueRequest:      issueRequest(),
			ProviderInvoiceID: id,
		})
		require.NoError(t, err)
		assert.NotEqual(t, id, out.ProviderInvoiceID)
		assert.False(t, seen[out.ProviderInvoiceID], "recreate returned a previous invoice")
		seen[out.ProviderInvoiceID] = true
	}

	creates := fake.callsTo("/v1/invoices")
	require.Len(t, creates, 2)
	assert.Equal(t, "invoice-1001-r-in_void", creates[0].IdempotencyKey)
	assert.Equal(t, "invoice-1001-r-in_gone", creates[1].IdempotencyKey)
}

func TestRecreateScopesEveryIdempotencyKey(t *testing.T) {
	fake := newFakeStripe()
	adapter := newTestAdapter(t, fake)

	_, err := adapter.IssueInvoice(context.Background(), issueRequest())
	require.NoError(t, err)
	fake.setStatus("in_new", "void")

	out, err := adapter.ResendInvoice(context.Background(), billingdomain.ResendRequest{
		IssueRequest:      issueRequest(),
		ProviderInvoiceID: "in_new",
	})
	require.NoError(t, err)
	assert.Equal(t, "in_new2", out.ProviderInvoiceID)
	assert.Equal(t, "cus_existing", out.ProviderCustomerID)
	assert.Len(t, fake.callsTo("/v1/customers"), 1)

	var keys []string
	for _, call := range fake.callsTo("/v1/invoiceitems") {
		keys = append(keys, call.IdempotencyKey)
	}
	assert.Equal(t, []string{
		"item-1001-1", "item-1001-2", "item-1001-3",
		"item-1001-r-in_new-1", "item-1001-r-in_new-2", "item-1001-r-in_new-3",
	}, keys)
	for _, call := range fake.callsTo("/v1/invoiceitems")[3:] {
		assert.Equal(t, "in_new2", call.Form["invoice"])
	}
}

func TestFailedSendReportsProviderInvoice(t *testing.T) {
	fake := newFakeStripe()
	fake.failSends = 1
	adapter := newTestAdapter(t, fake)

	_, err := adapter.IssueInvoice(context.Background(), issueRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, billingdomain.ErrProviderFailure)
	partial, ok := billingdomain.PartialIssueFrom(err)
	require.True(t, ok)
	assert.Equal(t, "in_new", partial.ProviderInvoiceID)
	assert.Equal(t, "cus_new", partial.ProviderCustomerID)

	out, err := adapter.ResendInvoice(context.Background(), billingdomain.ResendRequest{
		IssueRequest:      issueRequest(),
		ProviderInvoiceID: partial.ProviderInvoiceID,
	})
	require.NoError(t, err)
	assert.Equal(t, billingdomain.OutcomeIssued, out.Kind)
	assert.Equal(t, "in_new", out.ProviderInvoiceID)
	assert.Len(t, fake.callsTo("/v1/invoices"), 1)
	assert.Len(t, fake.callsTo("/v1/invoices/in_new/finalize"), 1)
}

func TestReissueAfterFailedSendContinuesReplayedInvoice(t *testing.T) {
	fake := newFakeStripe()
	fake.failSends = 1
	adapter := newTestAdapter(t, fake)

	_, err := adapter.IssueInvoice(context.Background(), issueRequest())
	require.Error(t, err)

	// Without a stored provider id the same keys are sent again.
	out, err := adapter.ResendInvoice(context.Background(), billingdomain.ResendRequest{IssueRequest: issueRequest()})
	require.NoError(t, err)
	assert.Equal(t, "in_new", out.ProviderInvoiceID)
	assert.Len(t, fake.callsTo("/v1/invoices"), 2)
	assert.Equal(t, 1, fake.createdCount(), "replayed create made a second invoice")
	assert.Equal(t, int64(31750), fake.totalOf("in_new"))
}

func TestResendIncompleteDraftRecreates(t *testing.T) {
	fake := newFakeStripe()
	fake.setStatus("in_draft", "draft")
	fake.addTotal("in_draft", 30000)
	adapter := newTestAdapter(t, fake)

	out, err := adapter.ResendInvoice(context.Background(), billingdomain.ResendRequest{
		IssueRequest:      issueRequest(),
		ProviderInvoiceID: "in_draft",
	})
	require.NoError(t, err)
	assert.Equal(t, "in_new", out.ProviderInvoiceID)
	assert.Empty(t, fake.callsTo("/v1/invoices/in_draft/finalize"))
	creates := fake.callsTo("/v1/invoices")
	require.Len(t, creates, 1)
	assert.Equal(t, "invoice-1001-r-in_draft", creates[0].IdempotencyKey)
}

func TestExpectedTotal(t *testing.T) {
	assert.Equal(t, int64(31750), expectedTotal(issueRequest()))
}

func TestProviderErrorsAreWrapped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"bad currency"}}`))
	}))
	t.Cleanup(server.Close)
	adapter := New(zap.NewNop(), Config{SecretKey: "sk_test_123", APIBase: server.URL, HTTPClient: server.Client()})

	_, err := adapter.IssueInvoice(context.Background(), issueRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, billingdomain.ErrProviderFailure)
	assert.Contains(t, err.Error(), "create customer")
}

func TestDaysUntilDue(t *testing.T) {
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	in := func(d time.Duration) *time.Time {
		v := now.Add(d)
		return &v
	}
	assert.Equal(t, int64(30), daysUntilDue(nil, now))
	assert.Equal(t, int64(30), daysUntilDue(in(-time.Hour), now))
	assert.Equal(t, int64(1), daysUntilDue(in(time.Hour), now))
	assert.Equal(t, int64(14), daysUntilDue(in(14*24*time.Hour), now))
	assert.Equal(t, int64(15), daysUntilDue(in(14*24*time.Hour+time.Minute), now))
}
