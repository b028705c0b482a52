package models

import (
	"time"

	"github.com/google/uuid"
)

// LedgerEventType names a committed seat-state transition
type LedgerEventType string

const (
	EventHoldPlaced       LedgerEventType = "hold_placed"
	EventHoldReleased     LedgerEventType = "hold_released"
	EventHoldExpired      LedgerEventType = "hold_expired"
	EventHoldConfirmed    LedgerEventType = "hold_confirmed"
	EventBookingCancelled LedgerEventType = "booking_cancelled"
	EventBookingModified  LedgerEventType = "booking_modified"
	EventBookingClosed    LedgerEventType = "booking_closed" // completed or no-show
)

// LedgerEvent is published after a ledger mutation has been committed
type LedgerEvent struct {
	Type      LedgerEventType `json:"type"`
	TripID    TripID          `json:"trip_id"`
	HoldID    *uuid.UUID      `json:"hold_id,omitempty"`
	BookingID *uuid.UUID      `json:"booking_id,omitempty"`
	Seats     []string        `json:"seats"`
	At        time.Time       `json:"at"`
}
