package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/seat-booking-core/internal/models"
	"github.com/smarttransit/seat-booking-core/internal/services"
)

// TripHandler handles trip search and seat availability endpoints
type TripHandler struct {
	searchService *services.SearchService
	seats         services.AvailabilityReader
	logger        *logrus.Logger
}

// NewTripHandler creates a new TripHandler
func NewTripHandler(
	searchService *services.SearchService,
	seats services.AvailabilityReader,
	logger *logrus.Logger,
) *TripHandler {
	return &TripHandler{
		searchService: searchService,
		seats:         seats,
		logger:        logger,
	}
}

// ============================================================================
// SEARCH - GET /api/v1/trips/search
// ============================================================================

// SearchTrips lists trips between two places on a date with indicative
// free seat counts
// @Summary Search trips
// @Tags Trips
// @Produce json
// @Param origin query string true "Origin"
// @Param destination query string true "Destination"
// @Param date query string true "Travel date (YYYY-MM-DD)"
// @Param bus_type query string false "ac, non_ac, semi_luxury or luxury"
// @Param passengers query int false "Seats needed"
// @Param departure_after query string false "HH:MM"
// @Param limit query int false "Max results"
// @Success 200 {object} models.SearchResponse
// @Failure 400 {object} map[string]interface{}
// @Router /trips/search [get]
func (h *TripHandler) SearchTrips(c *gin.Context) {
	var q models.SearchTripsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondBindError(c, err)
		return
	}

	response, err := h.searchService.SearchTrips(c.Request.Context(), &q)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, response)
}

// ============================================================================
// SEAT AVAILABILITY - GET /api/v1/trips/:trip_id/seats
// ============================================================================

// GetSeatAvailability returns the authoritative state of every seat of a
// trip together with the trip version it was read at
// @Summary Seat availability
// @Tags Trips
// @Produce json
// @Param trip_id path string true "Trip ID"
// @Success 200 {object} models.AvailabilitySnapshot
// @Failure 404 {object} map[string]interface{}
// @Router /trips/{trip_id}/seats [get]
func (h *TripHandler) GetSeatAvailability(c *gin.Context) {
	tripID, _, _, err := models.ParseTripID(c.Param("trip_id"))
	if err != nil {
		respondError(c, h.logger, models.NewBookingError(models.KindTripNotFound, nil, "trip %q not found", c.Param("trip_id")))
		return
	}

	snapshot, err := h.seats.GetAvailability(c.Request.Context(), tripID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}
