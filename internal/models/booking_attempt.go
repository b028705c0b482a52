package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// BOOKING ATTEMPT STATES
// ============================================================================

// AttemptState is the orchestrator state of one booking attempt
type AttemptState string

const (
	AttemptSeatSelected   AttemptState = "seat_selected"   // Seats chosen, nothing recorded yet
	AttemptHoldPlaced     AttemptState = "hold_placed"     // Ledger hold recorded
	AttemptPaymentPending AttemptState = "payment_pending" // Charge submitted, awaiting result
	AttemptConfirmed      AttemptState = "confirmed"       // Booking created
	AttemptPaymentFailed  AttemptState = "payment_failed"  // Charge declined, hold released
	AttemptHoldExpired    AttemptState = "hold_expired"    // Hold lapsed before confirmation
	AttemptCancelled      AttemptState = "cancelled"       // Released early or booking cancelled
)

var attemptTransitions = map[AttemptState][]AttemptState{
	AttemptSeatSelected:   {AttemptHoldPlaced},
	AttemptHoldPlaced:     {AttemptPaymentPending, AttemptHoldExpired, AttemptCancelled},
	AttemptPaymentPending: {AttemptConfirmed, AttemptPaymentFailed, AttemptHoldExpired},
	AttemptConfirmed:      {AttemptCancelled},
}

// CanTransition reports whether from -> to is an edge of the attempt state machine
func CanTransition(from, to AttemptState) bool {
	for _, next := range attemptTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further payment-driven transition is possible
func (s AttemptState) IsTerminal() bool {
	switch s {
	case AttemptConfirmed, AttemptPaymentFailed, AttemptHoldExpired, AttemptCancelled:
		return true
	}
	return false
}

// IllegalTransitionError is returned when a transition is not in the table
type IllegalTransitionError struct {
	From AttemptState
	To   AttemptState
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal attempt transition %s -> %s", e.From, e.To)
}

// ============================================================================
// BOOKING ATTEMPT
// ============================================================================

// BookingAttempt tracks one passenger's path from hold to booking
type BookingAttempt struct {
	ID                uuid.UUID       `json:"attempt_id" db:"id"`
	PrincipalID       uuid.UUID       `json:"user_id" db:"principal_id"`
	TripID            TripID          `json:"trip_id" db:"trip_id"`
	HoldID            uuid.UUID       `json:"hold_id" db:"hold_id"`
	SeatNumbers       SeatNumbers     `json:"seat_numbers" db:"seat_numbers"`
	State             AttemptState    `json:"state" db:"state"`
	SeatDetails       SeatDetails     `json:"seat_details,omitempty" db:"seat_details"`
	BoardingPoint     string          `json:"boarding_point,omitempty" db:"boarding_point"`
	DroppingPoint     string          `json:"dropping_point,omitempty" db:"dropping_point"`
	ContactPhone      *string         `json:"contact_phone,omitempty" db:"contact_phone"`
	Pricing           PricingSnapshot `json:"pricing" db:"pricing"`
	InvoiceID         string          `json:"invoice_id" db:"invoice_id"`
	PaymentMethod     *string         `json:"payment_method,omitempty" db:"payment_method"`
	TransactionID     *string         `json:"transaction_id,omitempty" db:"transaction_id"`
	PaymentPageURL    *string         `json:"payment_page_url,omitempty" db:"payment_page_url"`
	GatewayReference  *string         `json:"-" db:"gateway_reference"`
	BookingID         *uuid.UUID      `json:"booking_id,omitempty" db:"booking_id"`
	FailureReason     *string         `json:"failure_reason,omitempty" db:"failure_reason"`
	HoldExpiresAt     time.Time       `json:"hold_expires_at" db:"hold_expires_at"`
	PaymentStartedAt  *time.Time      `json:"payment_started_at,omitempty" db:"payment_started_at"`
	RefundSignalledAt *time.Time      `json:"refund_signalled_at,omitempty" db:"refund_signalled_at"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
}

// NewBookingAttempt starts an attempt in SEAT_SELECTED
func NewBookingAttempt(principalID uuid.UUID, tripID TripID, seats []string, now time.Time) *BookingAttempt {
	id := uuid.New()
	return &BookingAttempt{
		ID:          id,
		PrincipalID: principalID,
		TripID:      tripID,
		SeatNumbers: append(SeatNumbers(nil), seats...),
		State:       AttemptSeatSelected,
		InvoiceID:   InvoiceIDFor(id),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// InvoiceIDFor derives the gateway invoice id of an attempt
func InvoiceIDFor(attemptID uuid.UUID) string {
	hex := strings.ToUpper(strings.ReplaceAll(attemptID.String(), "-", ""))
	return "INV-" + hex[:16]
}

// TransitionTo moves the attempt along an edge of the state table
func (a *BookingAttempt) TransitionTo(to AttemptState, now time.Time) error {
	if !CanTransition(a.State, to) {
		return &IllegalTransitionError{From: a.State, To: to}
	}
	a.State = to
	a.UpdatedAt = now
	return nil
}

// ChargeReference returns the gateway handle of the attempt's charge
func (a *BookingAttempt) ChargeReference() ChargeReference {
	ref := ChargeReference{InvoiceID: a.InvoiceID}
	if a.TransactionID != nil {
		ref.TransactionID = *a.TransactionID
	}
	if a.GatewayReference != nil {
		ref.GatewayReference = *a.GatewayReference
	}
	return ref
}

// IsOwnedBy checks the authenticated principal against the attempt owner
func (a *BookingAttempt) IsOwnedBy(principalID uuid.UUID) bool {
	return a.PrincipalID == principalID
}

// Clone returns a deep copy
func (a *BookingAttempt) Clone() *BookingAttempt {
	if a == nil {
		return nil
	}
	out := *a
	out.SeatNumbers = append(SeatNumbers(nil), a.SeatNumbers...)
	out.SeatDetails = append(SeatDetails(nil), a.SeatDetails...)
	out.Pricing.SeatFares = append([]SeatFare(nil), a.Pricing.SeatFares...)
	return &out
}

// HoldSeatsResponse is returned when seats are held for an attempt
type HoldSeatsResponse struct {
	Attempt *BookingAttempt `json:"attempt"`
	Hold    *Hold           `json:"hold"`
}
