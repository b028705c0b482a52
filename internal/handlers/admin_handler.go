package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/seat-booking-core/internal/models"
	"github.com/smarttransit/seat-booking-core/internal/services"
)

// AdminHandler handles seat map approval, route assignments and job triggers
type AdminHandler struct {
	busService  *services.BusService
	cronService *services.CronService
	logger      *logrus.Logger
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(
	busService *services.BusService,
	cronService *services.CronService,
	logger *logrus.Logger,
) *AdminHandler {
	return &AdminHandler{
		busService:  busService,
		cronService: cronService,
		logger:      logger,
	}
}

// ============================================================================
// SEAT MAP APPROVAL - POST /api/v1/admin/buses/:bus_id/{approve,reject,reopen}
// ============================================================================

// ApproveBus freezes the seat map so trips can be scheduled on the bus
func (h *AdminHandler) ApproveBus(c *gin.Context) {
	busID, ok := pathUUID(c, "bus_id")
	if !ok {
		return
	}

	bus, err := h.busService.Approve(c.Request.Context(), busID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.logger.WithField("bus_id", bus.ID).Info("Seat map approved")
	c.JSON(http.StatusOK, bus)
}

// RejectBus returns the seat map to the operator with a reason
func (h *AdminHandler) RejectBus(c *gin.Context) {
	busID, ok := pathUUID(c, "bus_id")
	if !ok {
		return
	}

	var req models.RejectBusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	bus, err := h.busService.Reject(c.Request.Context(), busID, req.Reason)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, bus)
}

// ReopenBus unfreezes an approved seat map for a new revision. Trips already
// materialized keep their seat tables.
func (h *AdminHandler) ReopenBus(c *gin.Context) {
	busID, ok := pathUUID(c, "bus_id")
	if !ok {
		return
	}

	bus, err := h.busService.ReopenSeatMap(c.Request.Context(), busID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, bus)
}

// ============================================================================
// ASSIGNMENTS - POST /api/v1/admin/assignments
// ============================================================================

// CreateAssignment schedules an approved bus on a route
// @Summary Create bus route assignment
// @Tags Admin
// @Accept json
// @Produce json
// @Param request body models.CreateAssignmentRequest true "Assignment"
// @Success 201 {object} models.BusRouteAssignment
// @Failure 409 {object} map[string]interface{} "Bus not approved"
// @Router /admin/assignments [post]
func (h *AdminHandler) CreateAssignment(c *gin.Context) {
	var req models.CreateAssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	assignment, err := h.busService.CreateAssignment(c.Request.Context(), &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, assignment)
}

// ============================================================================
// JOBS - GET /api/v1/admin/jobs, POST /api/v1/admin/jobs/:job/run
// ============================================================================

// GetJobStatus reports the schedule and last run of each background job
func (h *AdminHandler) GetJobStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.cronService.GetJobStatus())
}

// RunJob runs a background job immediately
func (h *AdminHandler) RunJob(c *gin.Context) {
	run, err := h.cronService.RunJob(c.Request.Context(), c.Param("job"))
	if err != nil && models.KindOf(err) != "" {
		respondError(c, h.logger, err)
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "job_failed",
			"run":   run,
		})
		return
	}
	c.JSON(http.StatusOK, run)
}
