package webhook

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	authdomain "github.com/smallbiznis/portal/internal/auth/domain"
	"github.com/smallbiznis/portal/internal/authorization"
	invoicedomain "github.com/smallbiznis/portal/internal/invoice/domain"
	paymentdomain "github.com/smallbiznis/portal/internal/payment/domain"
)

const maxEventHistory = 100

func (s *Service) ListInvoiceEvents(ctx context.Context, invoiceID string) ([]paymentdomain.EventRecord, error) {
	identity, ok := authdomain.IdentityFromContext(ctx)
	if !ok || identity == nil {
		return nil, authorization.ErrInvalidActor
	}
	if !identity.IsAdmin() {
		return nil, authorization.ErrForbidden
	}

	id, err := snowflake.ParseString(strings.TrimSpace(invoiceID))
	if err != nil || id == 0 {
		return nil, invoicedomain.ErrInvalidInvoiceID
	}
	invoice, err := s.invoices.GetInvoice(ctx, s.db, id, false)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, invoicedomain.ErrInvoiceNotFound
	}
	if invoice.StripeInvoiceID == nil || *invoice.StripeInvoiceID == "" {
		return []paymentdomain.EventRecord{}, nil
	}
	return s.repo.ListEventsByProviderInvoice(ctx, s.db, *invoice.StripeInvoiceID, maxEventHistory)
}
