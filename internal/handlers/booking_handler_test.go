package handlers

import (
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/seat-booking-core/internal/models"
	"github.com/smarttransit/seat-booking-core/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHoldSeats_CreatesAttempt(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.holdSeats("1A", "1B")

	assert.Equal(t, models.AttemptHoldPlaced, resp.Attempt.State)
	assert.Equal(t, f.passenger, resp.Attempt.PrincipalID)
	assert.ElementsMatch(t, []string{"1A", "1B"}, []string(resp.Hold.SeatNumbers))
	assert.True(t, f.clock.Now().Add(10*time.Minute).Equal(resp.Hold.ExpiresAt))
	assert.Equal(t, 2000.0, resp.Attempt.Pricing.TotalAmount)
}

func TestHoldSeats_ConflictNamesSeats(t *testing.T) {
	f := newAPIFixture(t)
	f.holdSeats("3C")

	w := f.do(http.MethodPost, "/api/v1/holds", gin.H{
		"trip_id":      f.tripID,
		"seat_numbers": []string{"3C", "3D"},
	}, f.token(uuid.New(), "passenger"))

	require.Equal(t, http.StatusConflict, w.Code)
	var body map[string]interface{}
	decodeJSON(t, w, &body)
	assert.Equal(t, "seat_conflict", body["error"])
	assert.Equal(t, []interface{}{"3C"}, body["conflicting_seats"])
}

func TestHoldSeats_Validation(t *testing.T) {
	f := newAPIFixture(t)

	tests := []struct {
		name   string
		body   gin.H
		status int
		kind   string
	}{
		{"no seats", gin.H{"trip_id": f.tripID, "seat_numbers": []string{}}, http.StatusBadRequest, "invalid_request"},
		{"malformed seat", gin.H{"trip_id": f.tripID, "seat_numbers": []string{"A1"}}, http.StatusBadRequest, "invalid_request"},
		{"unknown seat", gin.H{"trip_id": f.tripID, "seat_numbers": []string{"40A"}}, http.StatusBadRequest, "invalid_seat_reference"},
		{"unknown trip", gin.H{"trip_id": "not-a-trip", "seat_numbers": []string{"1A"}}, http.StatusNotFound, "trip_not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(http.MethodPost, "/api/v1/holds", tt.body, f.passengerToken())
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			var body map[string]interface{}
			decodeJSON(t, w, &body)
			assert.Equal(t, tt.kind, body["error"])
		})
	}
}

func TestHoldSeats_RequiresAuth(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodPost, "/api/v1/holds", gin.H{"trip_id": f.tripID, "seat_numbers": []string{"1A"}}, "")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHoldSeats_RateLimited(t *testing.T) {
	f := newAPIFixture(t)
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	f.bookings.SetRateLimiter(services.NewHoldRateLimiter(services.NewMemoryCounter(), services.RateLimitConfig{
		MaxPrincipalHolds: 2,
		Window:            10 * time.Minute,
	}, f.clock.Now, logger))

	f.holdSeats("1A")
	f.holdSeats("1B")

	w := f.do(http.MethodPost, "/api/v1/holds", gin.H{
		"trip_id":      f.tripID,
		"seat_numbers": []string{"1C"},
	}, f.passengerToken())
	require.Equal(t, http.StatusTooManyRequests, w.Code, w.Body.String())
	assert.Equal(t, "600", w.Header().Get("Retry-After"))

	var body map[string]interface{}
	decodeJSON(t, w, &body)
	assert.Equal(t, "rate_limited", body["error"])

	// The seat was never held
	w = f.do(http.MethodPost, "/api/v1/holds", gin.H{
		"trip_id":      f.tripID,
		"seat_numbers": []string{"1C"},
	}, f.token(uuid.New(), "passenger"))
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestReleaseHold_FreesSeats(t *testing.T) {
	f := newAPIFixture(t)
	held := f.holdSeats("2A")

	w := f.do(http.MethodDelete, "/api/v1/holds/"+held.Hold.ID.String(), nil, f.passengerToken())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var attempt models.BookingAttempt
	decodeJSON(t, w, &attempt)
	assert.Equal(t, models.AttemptCancelled, attempt.State)

	// The seat can be held again straight away
	f.holdSeats("2A")
}

func TestReleaseHold_OtherUserForbidden(t *testing.T) {
	f := newAPIFixture(t)
	held := f.holdSeats("2B")

	w := f.do(http.MethodDelete, "/api/v1/holds/"+held.Hold.ID.String(), nil, f.token(uuid.New(), "passenger"))

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestStartPayment_ConfirmsBooking(t *testing.T) {
	f := newAPIFixture(t)
	attempt := f.book("4A", "4B")

	w := f.do(http.MethodGet, "/api/v1/bookings/"+attempt.BookingID.String(), nil, f.passengerToken())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var booking models.Booking
	decodeJSON(t, w, &booking)
	assert.Equal(t, models.BookingStatusConfirmed, booking.Status)
	assert.ElementsMatch(t, []string{"4A", "4B"}, booking.SeatNumbers())
	assert.NotEmpty(t, booking.BookingReference)

	w = f.do(http.MethodGet, "/api/v1/trips/"+string(f.tripID)+"/seats", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var snap models.AvailabilitySnapshot
	decodeJSON(t, w, &snap)
	assert.Equal(t, 38, snap.FreeSeats)
	assert.Equal(t, 2, snap.ConfirmedSeats)
}

func TestStartPayment_DeclinedReleasesSeats(t *testing.T) {
	f := newAPIFixture(t)
	held := f.holdSeats("5A")
	f.gateway.SetOutcome(held.Attempt.InvoiceID, models.ChargeFailure)

	w := f.do(http.MethodPost, "/api/v1/attempts/"+held.Attempt.ID.String()+"/payment", gin.H{
		"payment_method": "card",
		"seat_details":   passengersFor("5A"),
	}, f.passengerToken())

	assert.Equal(t, http.StatusPaymentRequired, w.Code, w.Body.String())
	f.holdSeats("5A")
}

func TestStartPayment_AfterHoldExpired(t *testing.T) {
	f := newAPIFixture(t)
	held := f.holdSeats("6A")
	f.clock.Advance(11 * time.Minute)

	w := f.do(http.MethodPost, "/api/v1/attempts/"+held.Attempt.ID.String()+"/payment", gin.H{
		"payment_method": "card",
		"seat_details":   passengersFor("6A"),
	}, f.passengerToken())

	assert.Equal(t, http.StatusGone, w.Code, w.Body.String())
}

func TestStartPayment_RejectsBadPassengers(t *testing.T) {
	f := newAPIFixture(t)
	held := f.holdSeats("7A")
	path := "/api/v1/attempts/" + held.Attempt.ID.String() + "/payment"

	badGender := passengersFor("7A")
	badGender[0]["passenger_gender"] = "unknown"
	w := f.do(http.MethodPost, path, gin.H{"payment_method": "card", "seat_details": badGender}, f.passengerToken())
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPost, path, gin.H{
		"payment_method": "card",
		"seat_details":   passengersFor("7A"),
		"contact_phone":  "12345",
	}, f.passengerToken())
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetAttempt(t *testing.T) {
	f := newAPIFixture(t)
	held := f.holdSeats("8A")

	w := f.do(http.MethodGet, "/api/v1/attempts/"+held.Attempt.ID.String(), nil, f.passengerToken())
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodGet, "/api/v1/attempts/"+uuid.NewString(), nil, f.passengerToken())
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodGet, "/api/v1/attempts/not-a-uuid", nil, f.passengerToken())
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCancelBooking(t *testing.T) {
	f := newAPIFixture(t)
	attempt := f.book("9A")
	path := "/api/v1/bookings/" + attempt.BookingID.String() + "/cancel"

	w := f.do(http.MethodPost, path, gin.H{"reason": "plans changed"}, f.passengerToken())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var booking models.Booking
	decodeJSON(t, w, &booking)
	assert.Equal(t, models.BookingStatusCancelled, booking.Status)
	assert.Len(t, f.gateway.Refunds(), 1)

	// Second cancel is an invalid state
	w = f.do(http.MethodPost, path, gin.H{"reason": "again"}, f.passengerToken())
	assert.Equal(t, http.StatusConflict, w.Code)

	f.holdSeats("9A")
}

func TestCancelBooking_AfterDeparture(t *testing.T) {
	f := newAPIFixture(t)
	attempt := f.book("9B")
	f.clock.Advance(3 * time.Hour)

	w := f.do(http.MethodPost, "/api/v1/bookings/"+attempt.BookingID.String()+"/cancel", gin.H{"reason": "late"}, f.passengerToken())

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
}

func TestGetBooking_HiddenFromOtherUsers(t *testing.T) {
	f := newAPIFixture(t)
	attempt := f.book("10A")

	w := f.do(http.MethodGet, "/api/v1/bookings/"+attempt.BookingID.String(), nil, f.token(uuid.New(), "passenger"))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodGet, "/api/v1/bookings/"+attempt.BookingID.String(), nil, f.adminToken())
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestListBookings(t *testing.T) {
	f := newAPIFixture(t)
	f.book("1C")
	f.book("1D")

	w := f.do(http.MethodGet, "/api/v1/bookings?limit=10", nil, f.passengerToken())
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Bookings []models.Booking `json:"bookings"`
		Count    int              `json:"count"`
	}
	decodeJSON(t, w, &body)
	assert.Equal(t, 2, body.Count)
}

func TestModifyBooking_SwapsSeat(t *testing.T) {
	f := newAPIFixture(t)
	attempt := f.book("2C")

	w := f.do(http.MethodPut, "/api/v1/bookings/"+attempt.BookingID.String()+"/seats", gin.H{
		"seat_details": passengersFor("2D"),
	}, f.passengerToken())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var booking models.Booking
	decodeJSON(t, w, &booking)
	assert.Equal(t, []string{"2D"}, booking.SeatNumbers())

	// The released seat is free again
	f.holdSeats("2C")
}

func TestGetTicket(t *testing.T) {
	f := newAPIFixture(t)
	attempt := f.book("3A")

	w := f.do(http.MethodGet, "/api/v1/bookings/"+attempt.BookingID.String()+"/ticket", nil, f.passengerToken())

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "eticket-")
	assert.True(t, len(w.Body.Bytes()) > 4 && string(w.Body.Bytes()[:5]) == "%PDF-")
}

func TestPaymentWebhook_SettlesPendingAttempt(t *testing.T) {
	f := newAPIFixture(t)
	held := f.holdSeats("5C")
	f.gateway.SetOutcome(held.Attempt.InvoiceID, models.ChargePending)

	w := f.do(http.MethodPost, "/api/v1/attempts/"+held.Attempt.ID.String()+"/payment", gin.H{
		"payment_method": "card",
		"seat_details":   passengersFor("5C"),
	}, f.passengerToken())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var attempt models.BookingAttempt
	decodeJSON(t, w, &attempt)
	require.Equal(t, models.AttemptPaymentPending, attempt.State)

	// The webhook body claims success, the gateway is the source of truth
	f.gateway.Settle(held.Attempt.InvoiceID, models.ChargeSuccess)
	w = f.do(http.MethodPost, "/api/v1/payments/webhook", gin.H{
		"invoiceId":     held.Attempt.InvoiceID,
		"paymentStatus": "SUCCESS",
	}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body map[string]interface{}
	decodeJSON(t, w, &body)
	assert.Equal(t, string(models.AttemptConfirmed), body["state"])
}

func TestPaymentWebhook_UnknownInvoice(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodPost, "/api/v1/payments/webhook", gin.H{
		"invoiceId":     "INV-missing",
		"paymentStatus": "SUCCESS",
	}, "")

	assert.Equal(t, http.StatusNotFound, w.Code)
}
