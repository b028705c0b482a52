package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/seat-booking-core/internal/models"
	"github.com/smarttransit/seat-booking-core/internal/services"
)

// BusHandler handles bus registration and seat map editing for operators
type BusHandler struct {
	busService *services.BusService
	logger     *logrus.Logger
}

// NewBusHandler creates a new BusHandler
func NewBusHandler(busService *services.BusService, logger *logrus.Logger) *BusHandler {
	return &BusHandler{
		busService: busService,
		logger:     logger,
	}
}

// RegisterBus registers a bus with its seat map in draft
// @Summary Register bus
// @Tags Buses
// @Accept json
// @Produce json
// @Param request body models.RegisterBusRequest true "Bus and seat map"
// @Success 201 {object} models.Bus
// @Failure 400 {object} map[string]interface{}
// @Router /buses [post]
func (h *BusHandler) RegisterBus(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	var req models.RegisterBusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	bus, err := h.busService.RegisterBus(c.Request.Context(), p, &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, bus)
}

// GetBus returns a bus with its seat map to its owner
func (h *BusHandler) GetBus(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	busID, ok := pathUUID(c, "bus_id")
	if !ok {
		return
	}

	bus, err := h.busService.GetOwnedBus(c.Request.Context(), p, busID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, bus)
}

// UpdateSeatMap replaces the seat map while the bus is not approved
// @Summary Edit seat map
// @Tags Buses
// @Accept json
// @Produce json
// @Param bus_id path string true "Bus ID"
// @Param request body models.UpdateSeatMapRequest true "Seat map"
// @Success 200 {object} models.Bus
// @Failure 403 {object} map[string]interface{} "Not the bus owner"
// @Failure 409 {object} map[string]interface{} "Seat map frozen"
// @Router /buses/{bus_id}/seat-map [put]
func (h *BusHandler) UpdateSeatMap(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	busID, ok := pathUUID(c, "bus_id")
	if !ok {
		return
	}

	var req models.UpdateSeatMapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	bus, err := h.busService.UpdateSeatMap(c.Request.Context(), p, busID, req.SeatMap)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, bus)
}

// SubmitForApproval sends the seat map to the admins for review
func (h *BusHandler) SubmitForApproval(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	busID, ok := pathUUID(c, "bus_id")
	if !ok {
		return
	}

	bus, err := h.busService.SubmitForApproval(c.Request.Context(), p, busID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, bus)
}
