package authorization

import (
	"context"
	"errors"

	authdomain "github.com/smallbiznis/portal/internal/auth/domain"
)

const (
	ObjectInvoice = "invoice"
	ObjectPreview = "invoice_preview"
)

const (
	ActionInvoiceCreate    = "invoice.create"
	ActionInvoiceResend    = "invoice.resend"
	ActionInvoiceListAny   = "invoice.list_any"
	ActionInvoiceListOwn   = "invoice.list_own"
	ActionInvoiceRenderAny = "invoice.render_any"
	ActionInvoiceRenderOwn = "invoice.render_own"
	ActionPreviewAny       = "invoice_preview.any"
	ActionPreviewOwn       = "invoice_preview.own"
	ActionReconcile        = "invoice.reconcile"
)

var (
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidActor = errors.New("invalid_actor")
)

type Service interface {
	// Authorize returns ErrForbidden unless one of the identity's roles
	// grants action on object.
	Authorize(ctx context.Context, identity *authdomain.Identity, object, action string) error
	Allowed(ctx context.Context, identity *authdomain.Identity, object, action string) bool
}
