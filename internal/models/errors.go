package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies booking core failures
type ErrorKind string

const (
	KindSeatConflict           ErrorKind = "seat_conflict"
	KindHoldExpired            ErrorKind = "hold_expired"
	KindInvalidSeatReference   ErrorKind = "invalid_seat_reference"
	KindPaymentFailed          ErrorKind = "payment_failed"
	KindTripDeparted           ErrorKind = "trip_departed"
	KindConcurrentModification ErrorKind = "concurrent_modification"
	KindTripNotFound           ErrorKind = "trip_not_found"
	KindHoldNotFound           ErrorKind = "hold_not_found"
	KindBookingNotFound        ErrorKind = "booking_not_found"
	KindAttemptNotFound        ErrorKind = "attempt_not_found"
	KindBusNotFound            ErrorKind = "bus_not_found"
	KindInvalidBusState        ErrorKind = "invalid_bus_state"
	KindInvalidBookingState    ErrorKind = "invalid_booking_state"
	KindForbidden              ErrorKind = "forbidden"
	KindInvalidRequest         ErrorKind = "invalid_request"
	KindRateLimited            ErrorKind = "rate_limited"
)

// BookingError is the structured error returned by the ledger and orchestrator.
// Seats names the offending seat numbers when the failure is seat-specific.
type BookingError struct {
	Kind    ErrorKind
	Seats   []string
	Message string
	Err     error
}

func (e *BookingError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Seats) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(e.Seats, ", "))
		b.WriteString("]")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *BookingError) Unwrap() error {
	return e.Err
}

// Is matches on Kind so callers can use errors.Is(err, models.ErrSeatConflict)
func (e *BookingError) Is(target error) bool {
	t, ok := target.(*BookingError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is
var (
	ErrSeatConflict           = &BookingError{Kind: KindSeatConflict}
	ErrHoldExpired            = &BookingError{Kind: KindHoldExpired}
	ErrInvalidSeatReference   = &BookingError{Kind: KindInvalidSeatReference}
	ErrPaymentFailed          = &BookingError{Kind: KindPaymentFailed}
	ErrTripDeparted           = &BookingError{Kind: KindTripDeparted}
	ErrConcurrentModification = &BookingError{Kind: KindConcurrentModification}
	ErrTripNotFound           = &BookingError{Kind: KindTripNotFound}
	ErrHoldNotFound           = &BookingError{Kind: KindHoldNotFound}
	ErrBookingNotFound        = &BookingError{Kind: KindBookingNotFound}
	ErrAttemptNotFound        = &BookingError{Kind: KindAttemptNotFound}
	ErrBusNotFound            = &BookingError{Kind: KindBusNotFound}
	ErrInvalidBusState        = &BookingError{Kind: KindInvalidBusState}
	ErrInvalidBookingState    = &BookingError{Kind: KindInvalidBookingState}
	ErrForbidden              = &BookingError{Kind: KindForbidden}
	ErrInvalidRequest         = &BookingError{Kind: KindInvalidRequest}
	ErrRateLimited            = &BookingError{Kind: KindRateLimited}
)

// NewBookingError builds a BookingError with a formatted message
func NewBookingError(kind ErrorKind, seats []string, format string, args ...interface{}) *BookingError {
	return &BookingError{
		Kind:    kind,
		Seats:   seats,
		Message: fmt.Sprintf(format, args...),
	}
}

// SeatConflictError names the seats that were not free
func SeatConflictError(seats []string) *BookingError {
	return NewBookingError(KindSeatConflict, seats, "seats are not available")
}

// InvalidSeatError names seats that are not part of the trip's seat map
func InvalidSeatError(seats []string, reason string) *BookingError {
	return NewBookingError(KindInvalidSeatReference, seats, "%s", reason)
}

// KindOf extracts the kind of a BookingError, or "" for other errors
func KindOf(err error) ErrorKind {
	var be *BookingError
	if errors.As(err, &be) {
		return be.Kind
	}
	return ""
}

// OffendingSeats extracts the seat numbers carried by a BookingError
func OffendingSeats(err error) []string {
	var be *BookingError
	if errors.As(err, &be) {
		return be.Seats
	}
	return nil
}
