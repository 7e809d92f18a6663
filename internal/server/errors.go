package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	authdomain "github.com/smallbiznis/portal/internal/auth/domain"
	"github.com/smallbiznis/portal/internal/authorization"
	billingdomain "github.com/smallbiznis/portal/internal/billing/domain"
	clientdomain "github.com/smallbiznis/portal/internal/client/domain"
	invoicedomain "github.com/smallbiznis/portal/internal/invoice/domain"
	paymentdomain "github.com/smallbiznis/portal/internal/payment/domain"
	"github.com/smallbiznis/portal/internal/storage"
	"github.com/smallbiznis/portal/pkg/db/pagination"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrConflict       = errors.New("conflict")
	ErrInternal       = errors.New("internal_error")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
	ErrBodyTooLarge   = errors.New("payload_too_large")
)

var validationMessages = map[string]string{
	"invalid_request":        "invalid request",
	"invalid_client":         "client_id is required",
	"invalid_line_items":     "at least one valid line item required",
	"invalid_currency":       "currency must be a three letter ISO code",
	"invalid_tax_rate":       "tax rate must be between 0 and 100",
	"invalid_discount_rate":  "discount rate must be between 0 and 100",
	"invalid_due_at":         "due date cannot be in the past",
	"invalid_invoice_id":     "invalid invoice id",
	"invalid_status":         "invalid status",
	"invoice_not_resendable": "void or uncollectible invoices cannot be resent",
	"invalid_page_token":     "invalid page token",
	"invalid_client_id":      "invalid client id",
	"invalid_email":          "invalid email",
	"invalid_signature":      "invalid webhook signature",
	"invalid_payload":        "invalid webhook payload",
	"invalid_event":          "invalid webhook event",
	"invalid_provider":       "provider is required",
	"invalid_object_path":    "invalid object path",
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if code, ok := validationErrorCode(err); ok {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: validationErrorMessage(code),
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrBodyTooLarge):
		return http.StatusRequestEntityTooLarge, errorPayload{
			Type:    "payload_too_large",
			Message: "request body too large",
		}
	case isUnauthorizedError(err):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: notFoundMessage(err),
		}
	case errors.Is(err, ErrConflict),
		errors.Is(err, invoicedomain.ErrInvalidTransition),
		errors.Is(err, clientdomain.ErrEmailTaken):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
		}
	case errors.Is(err, billingdomain.ErrProviderFailure):
		return http.StatusInternalServerError, errorPayload{
			Type:    "provider_error",
			Message: err.Error(),
		}
	case errors.Is(err, invoicedomain.ErrReconciliationPending):
		return http.StatusInternalServerError, errorPayload{
			Type:    "reconciliation_pending",
			Message: "invoice was issued at the billing provider; local update is pending reconciliation",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog feeds the request logger with the mapped error type and
// the sentinel code.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	if code, ok := validationErrorCode(err); ok {
		return payload.Type, code
	}
	return payload.Type, strings.TrimSpace(err.Error())
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

var validationSentinels = []error{
	ErrInvalidRequest,
	invoicedomain.ErrInvalidClient,
	invoicedomain.ErrInvalidLineItems,
	invoicedomain.ErrInvalidCurrency,
	invoicedomain.ErrInvalidTaxRate,
	invoicedomain.ErrInvalidDiscountRate,
	invoicedomain.ErrInvalidDueDate,
	invoicedomain.ErrInvalidInvoiceID,
	invoicedomain.ErrInvalidStatus,
	invoicedomain.ErrInvoiceNotResendable,
	pagination.ErrInvalidPageToken,
	clientdomain.ErrInvalidID,
	clientdomain.ErrInvalidEmail,
	paymentdomain.ErrInvalidSignature,
	paymentdomain.ErrInvalidPayload,
	paymentdomain.ErrInvalidEvent,
	paymentdomain.ErrInvalidProvider,
	storage.ErrInvalidPath,
}

// validationErrorCode returns the sentinel code of a caller error. Wrapped
// sentinels report the sentinel, not the wrapping text.
func validationErrorCode(err error) (string, bool) {
	for _, sentinel := range validationSentinels {
		if errors.Is(err, sentinel) {
			return sentinel.Error(), true
		}
	}
	return "", false
}

func isUnauthorizedError(err error) bool {
	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, authdomain.ErrMissingToken),
		errors.Is(err, authdomain.ErrInvalidToken),
		errors.Is(err, authdomain.ErrTokenExpired),
		errors.Is(err, authdomain.ErrNotConfigured),
		errors.Is(err, authorization.ErrInvalidActor):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, invoicedomain.ErrInvoiceNotFound),
		errors.Is(err, invoicedomain.ErrClientNotFound),
		errors.Is(err, clientdomain.ErrNotFound),
		errors.Is(err, paymentdomain.ErrProviderNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func notFoundMessage(err error) string {
	switch {
	case errors.Is(err, invoicedomain.ErrInvoiceNotFound):
		return "invoice not found"
	case errors.Is(err, invoicedomain.ErrClientNotFound),
		errors.Is(err, clientdomain.ErrNotFound):
		return "client not found"
	default:
		return "not found"
	}
}

func validationErrorField(code string) string {
	switch code {
	case "invalid_request":
		return "request"
	case "invalid_client", "invalid_client_id":
		return "client_id"
	case "invoice_not_resendable":
		return "status"
	}
	return strings.TrimPrefix(code, "invalid_")
}

func validationErrorMessage(code string) string {
	if message, ok := validationMessages[code]; ok {
		return message
	}
	return "invalid value"
}
