package handlers

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/seat-booking-core/internal/models"
	"github.com/smarttransit/seat-booking-core/internal/services"
)

// statusFor maps a booking error kind to its HTTP status
func statusFor(kind models.ErrorKind) int {
	switch kind {
	case models.KindSeatConflict, models.KindConcurrentModification,
		models.KindInvalidBookingState, models.KindInvalidBusState:
		return http.StatusConflict
	case models.KindHoldExpired:
		return http.StatusGone
	case models.KindInvalidSeatReference, models.KindInvalidRequest:
		return http.StatusBadRequest
	case models.KindPaymentFailed:
		return http.StatusPaymentRequired
	case models.KindTripDeparted:
		return http.StatusUnprocessableEntity
	case models.KindTripNotFound, models.KindHoldNotFound, models.KindBookingNotFound,
		models.KindAttemptNotFound, models.KindBusNotFound:
		return http.StatusNotFound
	case models.KindForbidden:
		return http.StatusForbidden
	case models.KindRateLimited:
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

// respondError writes err as JSON. Booking errors carry their kind as the
// error code; anything else is logged and reported as an internal error.
func respondError(c *gin.Context, logger *logrus.Logger, err error) {
	kind := models.KindOf(err)
	if kind == "" {
		logger.WithError(err).WithFields(logrus.Fields{
			"path":   c.Request.URL.Path,
			"method": c.Request.Method,
		}).Error("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
		return
	}

	body := gin.H{
		"error":   string(kind),
		"message": err.Error(),
	}
	switch kind {
	case models.KindSeatConflict:
		body["conflicting_seats"] = models.OffendingSeats(err)
	case models.KindInvalidSeatReference:
		body["invalid_seats"] = models.OffendingSeats(err)
	case models.KindHoldExpired:
		if seats := models.OffendingSeats(err); len(seats) > 0 {
			body["released_seats"] = seats
		}
	case models.KindRateLimited:
		var rl *services.RateLimitError
		if errors.As(err, &rl) {
			body["retry_after"] = rl.RetryAfter
			if secs := int(math.Ceil(rl.RetryIn.Seconds())); secs > 0 {
				c.Header("Retry-After", strconv.Itoa(secs))
			}
		}
	}
	c.JSON(statusFor(kind), body)
}

// respondBindError reports a request that failed binding or validation
func respondBindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   string(models.KindInvalidRequest),
		"message": "invalid request: " + err.Error(),
	})
}
