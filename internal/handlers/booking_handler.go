package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/seat-booking-core/internal/middleware"
	"github.com/smarttransit/seat-booking-core/internal/models"
	"github.com/smarttransit/seat-booking-core/internal/services"
	"github.com/smarttransit/seat-booking-core/internal/utils"
)

// BookingHandler handles the hold → payment → booking flow for passengers
type BookingHandler struct {
	orchestrator  *services.BookingOrchestratorService
	ticketService *services.TicketService
	limiter       *services.HoldRateLimiter
	logger        *logrus.Logger
}

// NewBookingHandler creates a new BookingHandler
func NewBookingHandler(
	orchestrator *services.BookingOrchestratorService,
	ticketService *services.TicketService,
	logger *logrus.Logger,
) *BookingHandler {
	return &BookingHandler{
		orchestrator:  orchestrator,
		ticketService: ticketService,
		logger:        logger,
	}
}

// SetRateLimiter throttles hold placement. Without one holds are unlimited.
func (h *BookingHandler) SetRateLimiter(limiter *services.HoldRateLimiter) {
	h.limiter = limiter
}

// principal returns the authenticated caller or writes 401
func principal(c *gin.Context) (models.Principal, bool) {
	p, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "user not authenticated"})
	}
	return p, ok
}

// pathUUID parses a UUID path parameter or writes 400
func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   string(models.KindInvalidRequest),
			"message": "invalid " + name,
		})
		return uuid.Nil, false
	}
	return id, true
}

// ============================================================================
// HOLDS - POST /api/v1/holds, DELETE /api/v1/holds/:hold_id
// ============================================================================

// HoldSeats holds seats on a trip and opens a booking attempt
// @Summary Hold seats
// @Tags Booking
// @Accept json
// @Produce json
// @Param Authorization header string true "Bearer token"
// @Param request body models.HoldSeatsRequest true "Seats to hold"
// @Success 201 {object} models.HoldSeatsResponse
// @Failure 409 {object} map[string]interface{} "Seats unavailable"
// @Router /holds [post]
func (h *BookingHandler) HoldSeats(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	var req models.HoldSeatsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	if h.limiter != nil {
		if err := h.limiter.AllowHold(c.Request.Context(), p.ID, utils.GetRealIP(c)); err != nil {
			respondError(c, h.logger, err)
			return
		}
	}

	response, err := h.orchestrator.HoldSeats(c.Request.Context(), p, &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, response)
}

// ReleaseHold frees the seats of a hold before it expires
// @Summary Release hold
// @Tags Booking
// @Param hold_id path string true "Hold ID"
// @Success 200 {object} models.BookingAttempt
// @Router /holds/{hold_id} [delete]
func (h *BookingHandler) ReleaseHold(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	holdID, ok := pathUUID(c, "hold_id")
	if !ok {
		return
	}

	attempt, err := h.orchestrator.ReleaseHold(c.Request.Context(), p, holdID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, attempt)
}

// ============================================================================
// ATTEMPTS - GET /api/v1/attempts/:attempt_id, POST .../payment
// ============================================================================

// GetAttempt returns the state of a booking attempt
func (h *BookingHandler) GetAttempt(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	attemptID, ok := pathUUID(c, "attempt_id")
	if !ok {
		return
	}

	attempt, err := h.orchestrator.GetAttempt(c.Request.Context(), p, attemptID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, attempt)
}

// StartPayment records passengers and submits the charge for a held attempt
// @Summary Start payment
// @Tags Booking
// @Accept json
// @Produce json
// @Param attempt_id path string true "Attempt ID"
// @Param request body models.StartPaymentRequest true "Passengers and payment method"
// @Success 200 {object} models.BookingAttempt
// @Failure 402 {object} map[string]interface{} "Payment declined"
// @Failure 410 {object} map[string]interface{} "Hold expired"
// @Router /attempts/{attempt_id}/payment [post]
func (h *BookingHandler) StartPayment(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	attemptID, ok := pathUUID(c, "attempt_id")
	if !ok {
		return
	}

	var req models.StartPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	attempt, err := h.orchestrator.StartPayment(c.Request.Context(), p, attemptID, &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, attempt)
}

// ============================================================================
// BOOKINGS
// ============================================================================

// ConfirmBooking converts a hold into a booking after a verified payment
// @Summary Confirm booking
// @Tags Booking
// @Accept json
// @Produce json
// @Param request body models.ConfirmBookingRequest true "Hold, passengers and payment result"
// @Success 201 {object} models.Booking
// @Failure 402 {object} map[string]interface{} "Payment not verified"
// @Failure 410 {object} map[string]interface{} "Hold expired"
// @Router /bookings/confirm [post]
func (h *BookingHandler) ConfirmBooking(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	var req models.ConfirmBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	booking, err := h.orchestrator.ConfirmBooking(c.Request.Context(), p, &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, booking)
}

// ListBookings returns the caller's bookings, newest first
func (h *BookingHandler) ListBookings(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	bookings, err := h.orchestrator.ListBookings(c.Request.Context(), p, limit, offset)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"bookings": bookings,
		"count":    len(bookings),
	})
}

// GetBooking returns one of the caller's bookings
func (h *BookingHandler) GetBooking(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	bookingID, ok := pathUUID(c, "booking_id")
	if !ok {
		return
	}

	booking, err := h.orchestrator.GetBooking(c.Request.Context(), p, bookingID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

// GetTicket renders the e-ticket of a confirmed booking as PDF
// @Summary Download e-ticket
// @Tags Booking
// @Produce application/pdf
// @Param booking_id path string true "Booking ID"
// @Success 200 {file} file
// @Router /bookings/{booking_id}/ticket [get]
func (h *BookingHandler) GetTicket(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	bookingID, ok := pathUUID(c, "booking_id")
	if !ok {
		return
	}

	booking, err := h.orchestrator.GetBooking(c.Request.Context(), p, bookingID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	pdf, filename, err := h.ticketService.RenderETicket(booking)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Data(http.StatusOK, "application/pdf", pdf)
}

// CancelBooking cancels one of the caller's bookings and frees its seats
// @Summary Cancel booking
// @Tags Booking
// @Accept json
// @Produce json
// @Param booking_id path string true "Booking ID"
// @Param request body models.CancelBookingRequest true "Reason"
// @Success 200 {object} models.Booking
// @Failure 409 {object} map[string]interface{} "Already cancelled or completed"
// @Failure 422 {object} map[string]interface{} "Trip departed"
// @Router /bookings/{booking_id}/cancel [post]
func (h *BookingHandler) CancelBooking(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	bookingID, ok := pathUUID(c, "booking_id")
	if !ok {
		return
	}

	var req models.CancelBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	booking, err := h.orchestrator.CancelBooking(c.Request.Context(), p, bookingID, req.Reason)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

// ModifyBooking replaces the seats and passengers of a booking
func (h *BookingHandler) ModifyBooking(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	bookingID, ok := pathUUID(c, "booking_id")
	if !ok {
		return
	}

	var req models.ModifyBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	booking, err := h.orchestrator.ModifyBooking(c.Request.Context(), p, bookingID, req.SeatDetails)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

// UpdateBookingStatus marks a departed booking completed or no-show. Admin only.
func (h *BookingHandler) UpdateBookingStatus(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	bookingID, ok := pathUUID(c, "booking_id")
	if !ok {
		return
	}

	var req models.UpdateBookingStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	booking, err := h.orchestrator.MarkBookingStatus(c.Request.Context(), p, bookingID, models.BookingStatus(req.Status))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, booking)
}
