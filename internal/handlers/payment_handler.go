package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/seat-booking-core/internal/models"
	"github.com/smarttransit/seat-booking-core/internal/services"
)

// PaymentHandler receives gateway callbacks
type PaymentHandler struct {
	orchestrator *services.BookingOrchestratorService
	logger       *logrus.Logger
}

// NewPaymentHandler creates a new PaymentHandler
func NewPaymentHandler(orchestrator *services.BookingOrchestratorService, logger *logrus.Logger) *PaymentHandler {
	return &PaymentHandler{
		orchestrator: orchestrator,
		logger:       logger,
	}
}

// ============================================================================
// WEBHOOK - POST /api/v1/payments/webhook
// ============================================================================

// Webhook resolves the attempt named by a gateway notification. The status
// in the body is only logged; the outcome is re-read from the gateway.
// @Summary Payment gateway webhook
// @Tags Payments
// @Accept json
// @Produce json
// @Param request body models.PaymentWebhookPayload true "Gateway notification"
// @Success 200 {object} map[string]interface{}
// @Router /payments/webhook [post]
func (h *PaymentHandler) Webhook(c *gin.Context) {
	var payload models.PaymentWebhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.logger.WithError(err).Warn("Malformed payment webhook")
		respondBindError(c, err)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"invoice_id":     payload.InvoiceID,
		"transaction_id": payload.TransactionID,
		"reported":       payload.PaymentStatus,
	}).Info("Payment webhook received")

	attempt, err := h.orchestrator.HandlePaymentCallback(c.Request.Context(), &payload)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "received",
		"attempt_id": attempt.ID,
		"state":      attempt.State,
	})
}

// GetPaymentHistory returns the gateway audit trail of an invoice
// GET /api/v1/admin/payments/:invoice_id/audit
func (h *PaymentHandler) GetPaymentHistory(c *gin.Context) {
	invoiceID := c.Param("invoice_id")
	entries, err := h.orchestrator.PaymentHistory(c.Request.Context(), invoiceID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"invoice_id": invoiceID,
		"events":     entries,
		"count":      len(entries),
	})
}
