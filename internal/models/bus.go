package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BusType represents the type/category of bus
type BusType string

const (
	BusTypeAC         BusType = "ac"
	BusTypeNonAC      BusType = "non_ac"
	BusTypeSemiLuxury BusType = "semi_luxury"
	BusTypeLuxury     BusType = "luxury"
)

// ParseBusType converts a raw value to a BusType, rejecting unknown values
func ParseBusType(raw string) (BusType, error) {
	switch BusType(raw) {
	case BusTypeAC, BusTypeNonAC, BusTypeSemiLuxury, BusTypeLuxury:
		return BusType(raw), nil
	}
	return "", fmt.Errorf("unknown bus type %q", raw)
}

// BusApprovalStatus tracks the seat map approval cycle
type BusApprovalStatus string

const (
	BusStatusDraft           BusApprovalStatus = "draft"            // Seat map editable
	BusStatusPendingApproval BusApprovalStatus = "pending_approval" // Submitted, still editable
	BusStatusApproved        BusApprovalStatus = "approved"         // Seat map frozen
	BusStatusRejected        BusApprovalStatus = "rejected"         // Back to operator for edits
)

// Bus is a registered vehicle with its seat map
type Bus struct {
	ID              uuid.UUID         `json:"id" db:"id"`
	OwnerID         uuid.UUID         `json:"owner_id" db:"owner_id"` // operator that registered the bus
	BusNumber       string            `json:"bus_number" db:"bus_number"`
	BusType         BusType           `json:"bus_type" db:"bus_type"`
	Status          BusApprovalStatus `json:"status" db:"status"`
	SeatMap         SeatMap           `json:"seat_map" db:"seat_map"`
	SeatMapVersion  int               `json:"seat_map_version" db:"seat_map_version"`
	RejectionReason *string           `json:"rejection_reason,omitempty" db:"rejection_reason"`
	ApprovedAt      *time.Time        `json:"approved_at,omitempty" db:"approved_at"`
	CreatedAt       time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at" db:"updated_at"`
}

// SeatMapEditable reports whether the seat map may still be changed
func (b *Bus) SeatMapEditable() bool {
	return b.Status != BusStatusApproved
}

// IsApproved reports whether trips may be scheduled on this bus
func (b *Bus) IsApproved() bool {
	return b.Status == BusStatusApproved
}

// RegisterBusRequest represents the request to register a bus with its seat map
type RegisterBusRequest struct {
	BusNumber string           `json:"bus_number" binding:"required"`
	BusType   string           `json:"bus_type" binding:"required"`
	SeatMap   []SeatDefinition `json:"seat_map" binding:"required,min=1,dive"`
}

// UpdateSeatMapRequest replaces the seat map of an editable bus
type UpdateSeatMapRequest struct {
	SeatMap []SeatDefinition `json:"seat_map" binding:"required,min=1,dive"`
}

// RejectBusRequest carries the reason an approval was refused
type RejectBusRequest struct {
	Reason string `json:"reason" binding:"required"`
}
