package models

import (
	"time"

	"github.com/google/uuid"
)

// HoldStatus is the lifecycle of a hold record
type HoldStatus string

const (
	HoldActive    HoldStatus = "active"    // Seats are HELD by this hold
	HoldConfirmed HoldStatus = "confirmed" // Converted into a booking
	HoldReleased  HoldStatus = "released"  // Released early by its owner or on payment failure
	HoldExpired   HoldStatus = "expired"   // Released by the sweep after ttl
)

// Hold is a short-lived exclusive claim on seats of one trip
type Hold struct {
	ID          uuid.UUID   `json:"hold_id" db:"id"`
	TripID      TripID      `json:"trip_id" db:"trip_id"`
	SeatNumbers SeatNumbers `json:"seat_numbers" db:"seat_numbers"`
	OwnerDigest string      `json:"-" db:"owner_digest"`
	Status      HoldStatus  `json:"status" db:"status"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
	ExpiresAt   time.Time   `json:"expires_at" db:"expires_at"`
	ResolvedAt  *time.Time  `json:"resolved_at,omitempty" db:"resolved_at"`
}

// IsExpiredAt reports whether the hold's ttl has elapsed at now
func (h *Hold) IsExpiredAt(now time.Time) bool {
	return !now.Before(h.ExpiresAt)
}

// Clone returns a deep copy
func (h *Hold) Clone() *Hold {
	if h == nil {
		return nil
	}
	out := *h
	out.SeatNumbers = append(SeatNumbers(nil), h.SeatNumbers...)
	if h.ResolvedAt != nil {
		t := *h.ResolvedAt
		out.ResolvedAt = &t
	}
	return &out
}

// PlaceHoldRequest is the ledger-level input to placeHold
type PlaceHoldRequest struct {
	TripID      TripID
	SeatNumbers []string
	OwnerToken  string
	TTL         time.Duration
}
