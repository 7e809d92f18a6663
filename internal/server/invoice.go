package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	invoicedomain "github.com/smallbiznis/portal/internal/invoice/domain"
)

type createInvoiceRequest struct {
	ClientID            string                        `json:"client_id"`
	ClientIDAlias       string                        `json:"clientId"`
	Items               []invoicedomain.LineItemInput `json:"items"`
	Currency            string                        `json:"currency"`
	DueAt               string                        `json:"due_at"`
	Notes               string                        `json:"notes"`
	TaxRatePercent      *decimal.Decimal              `json:"tax_rate_percent"`
	DiscountRatePercent *decimal.Decimal              `json:"discount_rate_percent"`
	SendNow             bool                          `json:"send_now"`
	Number              string                        `json:"number"`
}

type previewInvoiceRequest struct {
	ClientID            string                        `json:"client_id"`
	ClientIDAlias       string                        `json:"clientId"`
	Number              string                        `json:"number"`
	Items               []invoicedomain.LineItemInput `json:"items"`
	Currency            string                        `json:"currency"`
	DueAt               string                        `json:"due_at"`
	Notes               string                        `json:"notes"`
	TaxRatePercent      *decimal.Decimal              `json:"tax_rate_percent"`
	DiscountRatePercent *decimal.Decimal              `json:"discount_rate_percent"`
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func (s *Server) CreateInvoice(c *gin.Context) {
	var req createInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	dueAt, err := parseOptionalTime(req.DueAt, true)
	if err != nil {
		AbortWithError(c, invoicedomain.ErrInvalidDueDate)
		return
	}

	result, err := s.invoiceSvc.Create(c.Request.Context(), invoicedomain.CreateInvoiceRequest{
		ClientID:            firstNonEmpty(req.ClientID, req.ClientIDAlias),
		Items:               req.Items,
		Currency:            req.Currency,
		DueAt:               dueAt,
		Notes:               req.Notes,
		TaxRatePercent:      req.TaxRatePercent,
		DiscountRatePercent: req.DiscountRatePercent,
		SendNow:             req.SendNow,
		NumberHint:          req.Number,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": result.Invoice, "note": result.Note})
}

func (s *Server) ResendInvoice(c *gin.Context) {
	result, err := s.invoiceSvc.Resend(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result.Invoice, "note": result.Note, "noop": result.NoOp})
}

func (s *Server) ListInvoices(c *gin.Context) {
	req := invoicedomain.ListInvoicesRequest{
		ClientID: firstNonEmpty(c.Query("client_id"), c.Query("clientId")),
		Status:   strings.TrimSpace(c.Query("status")),
	}
	req.PageToken = strings.TrimSpace(c.Query("page_token"))

	size, err := parseOptionalInt(firstNonEmpty(c.Query("page_size"), c.Query("limit")))
	if err != nil {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "invalid limit"))
		return
	}
	if size != nil {
		req.PageSize = *size
	}

	resp, err := s.invoiceSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":            resp.Invoices,
		"next_page_token": resp.NextPageToken,
		"has_more":        resp.HasMore,
	})
}

func (s *Server) GetInvoiceByID(c *gin.Context) {
	item, err := s.invoiceSvc.Get(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}

func (s *Server) RenderInvoicePDF(c *gin.Context) {
	result, err := s.renderer.RenderStored(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) RenderPreviewPDF(c *gin.Context) {
	var req previewInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	dueAt, err := parseOptionalTime(req.DueAt, true)
	if err != nil {
		AbortWithError(c, invoicedomain.ErrInvalidDueDate)
		return
	}

	result, err := s.renderer.RenderPreview(c.Request.Context(), invoicedomain.PreviewRequest{
		ClientID:            firstNonEmpty(req.ClientID, req.ClientIDAlias),
		Number:              req.Number,
		Items:               req.Items,
		Currency:            req.Currency,
		DueAt:               dueAt,
		Notes:               req.Notes,
		TaxRatePercent:      req.TaxRatePercent,
		DiscountRatePercent: req.DiscountRatePercent,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}
