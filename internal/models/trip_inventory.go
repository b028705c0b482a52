package models

import (
	"time"

	"github.com/google/uuid"
)

// SeatStateKind is the closed set of states a seat can be in on one trip
type SeatStateKind string

const (
	SeatFree      SeatStateKind = "free"
	SeatHeld      SeatStateKind = "held"
	SeatConfirmed SeatStateKind = "confirmed"
)

// InventoryStatus tracks whether a trip inventory is live or archived
type InventoryStatus string

const (
	InventoryActive   InventoryStatus = "active"
	InventoryArchived InventoryStatus = "archived"
)

// TripInventory is the seat table of one journey instance, derived from an
// assignment and the bus seat map at materialization time.
type TripInventory struct {
	ID             TripID          `json:"trip_id" db:"id"`
	AssignmentID   uuid.UUID       `json:"assignment_id" db:"assignment_id"`
	BusID          uuid.UUID       `json:"bus_id" db:"bus_id"`
	BusType        BusType         `json:"bus_type" db:"bus_type"`
	Origin         string          `json:"origin" db:"origin"`
	Destination    string          `json:"destination" db:"destination"`
	TripDate       time.Time       `json:"trip_date" db:"trip_date"`
	DepartureAt    time.Time       `json:"departure_at" db:"departure_at"`
	ArrivalAt      time.Time       `json:"arrival_at" db:"arrival_at"`
	BaseFare       float64         `json:"base_fare" db:"base_fare"`
	Currency       string          `json:"currency" db:"currency"`
	SeatMapVersion int             `json:"seat_map_version" db:"seat_map_version"`
	Status         InventoryStatus `json:"status" db:"status"`
	Version        int64           `json:"version" db:"version"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`

	Seats []TripSeat `json:"seats" db:"-"`
}

// TripSeat is one row of the seat table. Exactly one state per seat.
type TripSeat struct {
	TripID          TripID        `json:"-" db:"trip_id"`
	SeatNumber      string        `json:"seat_number" db:"seat_number"`
	Position        int           `json:"-" db:"position"`
	Row             int           `json:"row" db:"row_number"`
	Column          int           `json:"column" db:"column_number"`
	Type            SeatType      `json:"type" db:"seat_type"`
	PriceMultiplier float64       `json:"price_multiplier" db:"price_multiplier"`
	State           SeatStateKind `json:"state" db:"state"`
	HoldID          *uuid.UUID    `json:"-" db:"hold_id"`
	HoldExpiresAt   *time.Time    `json:"hold_expires_at,omitempty" db:"hold_expires_at"`
	BookingID       *uuid.UUID    `json:"-" db:"booking_id"`
}

// EffectiveState folds a lapsed hold into FREE. The sweep has not
// necessarily run yet, but such a seat is claimable.
func (s *TripSeat) EffectiveState(now time.Time) SeatStateKind {
	if s.State == SeatHeld && s.HoldExpiresAt != nil && !now.Before(*s.HoldExpiresAt) {
		return SeatFree
	}
	return s.State
}

// NewTripInventory copies the active seats of a seat map into a fresh inventory
func NewTripInventory(a *BusRouteAssignment, bus *Bus, date, departure time.Time, now time.Time) *TripInventory {
	inv := &TripInventory{
		ID:             NewTripID(a.ID, date),
		AssignmentID:   a.ID,
		BusID:          bus.ID,
		BusType:        bus.BusType,
		Origin:         a.Origin,
		Destination:    a.Destination,
		TripDate:       date,
		DepartureAt:    departure,
		ArrivalAt:      departure.Add(time.Duration(a.DurationMinutes) * time.Minute),
		BaseFare:       a.BaseFare,
		Currency:       a.Currency,
		SeatMapVersion: bus.SeatMapVersion,
		Status:         InventoryActive,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for i, def := range bus.SeatMap.ActiveSeats() {
		inv.Seats = append(inv.Seats, TripSeat{
			TripID:          inv.ID,
			SeatNumber:      def.SeatNumber,
			Position:        i,
			Row:             def.Row,
			Column:          def.Column,
			Type:            def.Type,
			PriceMultiplier: def.PriceMultiplier,
			State:           SeatFree,
		})
	}
	return inv
}

// Clone returns a deep copy safe to hand outside the owning lock
func (inv *TripInventory) Clone() *TripInventory {
	if inv == nil {
		return nil
	}
	out := *inv
	out.Seats = make([]TripSeat, len(inv.Seats))
	for i, s := range inv.Seats {
		out.Seats[i] = s.clone()
	}
	return &out
}

func (s TripSeat) clone() TripSeat {
	if s.HoldID != nil {
		id := *s.HoldID
		s.HoldID = &id
	}
	if s.HoldExpiresAt != nil {
		t := *s.HoldExpiresAt
		s.HoldExpiresAt = &t
	}
	if s.BookingID != nil {
		id := *s.BookingID
		s.BookingID = &id
	}
	return s
}

// SeatIndex maps seat numbers to their position in Seats
func (inv *TripInventory) SeatIndex() map[string]int {
	idx := make(map[string]int, len(inv.Seats))
	for i, s := range inv.Seats {
		idx[s.SeatNumber] = i
	}
	return idx
}

// DepartedAt reports whether the trip is past its departure cutoff at now
func (inv *TripInventory) DepartedAt(now time.Time, cutoff time.Duration) bool {
	return !now.Before(inv.DepartureAt.Add(-cutoff))
}

// CountFree returns the number of seats claimable at now
func (inv *TripInventory) CountFree(now time.Time) int {
	n := 0
	for i := range inv.Seats {
		if inv.Seats[i].EffectiveState(now) == SeatFree {
			n++
		}
	}
	return n
}

// Apply folds a committed mutation into the in-memory table
func (inv *TripInventory) Apply(m *TripMutation, now time.Time) {
	idx := inv.SeatIndex()
	for _, u := range m.SeatUpdates {
		i, ok := idx[u.SeatNumber]
		if !ok {
			continue
		}
		seat := &inv.Seats[i]
		seat.State = u.State
		seat.HoldID = u.HoldID
		seat.HoldExpiresAt = u.HoldExpiresAt
		seat.BookingID = u.BookingID
	}
	inv.Version = m.ExpectedVersion + 1
	inv.UpdatedAt = now
}

// ============================================================================
// MUTATIONS
// ============================================================================

// SeatUpdate is the full new state of one seat
type SeatUpdate struct {
	SeatNumber    string
	State         SeatStateKind
	HoldID        *uuid.UUID
	HoldExpiresAt *time.Time
	BookingID     *uuid.UUID
}

// FreeSeat returns an update releasing a seat
func FreeSeat(seat string) SeatUpdate {
	return SeatUpdate{SeatNumber: seat, State: SeatFree}
}

// HeldSeat returns an update placing a seat under a hold
func HeldSeat(seat string, holdID uuid.UUID, expiresAt time.Time) SeatUpdate {
	return SeatUpdate{SeatNumber: seat, State: SeatHeld, HoldID: &holdID, HoldExpiresAt: &expiresAt}
}

// ConfirmedSeat returns an update assigning a seat to a booking
func ConfirmedSeat(seat string, bookingID uuid.UUID) SeatUpdate {
	return SeatUpdate{SeatNumber: seat, State: SeatConfirmed, BookingID: &bookingID}
}

// HoldTransition moves a hold into a terminal status
type HoldTransition struct {
	HoldID uuid.UUID
	Status HoldStatus
	At     time.Time
}

// TripMutation is one atomic change to a trip's seat table plus the
// hold/booking records that accompany it. Stores apply it all or nothing,
// and only if the stored version still equals ExpectedVersion.
type TripMutation struct {
	TripID          TripID
	ExpectedVersion int64
	SeatUpdates     []SeatUpdate
	NewHold         *Hold
	HoldTransitions []HoldTransition
	NewBooking      *Booking
	BookingUpdate   *Booking
}

// ============================================================================
// READ MODEL
// ============================================================================

// SeatAvailability is the public view of a single seat
type SeatAvailability struct {
	SeatNumber      string        `json:"seat_number"`
	Row             int           `json:"row"`
	Column          int           `json:"column"`
	Type            SeatType      `json:"type"`
	PriceMultiplier float64       `json:"price_multiplier"`
	State           SeatStateKind `json:"state"`
}

// AvailabilitySnapshot is a per-seat view of a trip at AsOf
type AvailabilitySnapshot struct {
	TripID         TripID             `json:"trip_id"`
	DepartureAt    time.Time          `json:"departure_at"`
	Version        int64              `json:"version"`
	TotalSeats     int                `json:"total_seats"`
	FreeSeats      int                `json:"free_seats"`
	HeldSeats      int                `json:"held_seats"`
	ConfirmedSeats int                `json:"confirmed_seats"`
	Seats          []SeatAvailability `json:"seats"`
	AsOf           time.Time          `json:"as_of"`
}

// Snapshot builds the public availability view of an inventory at now
func (inv *TripInventory) Snapshot(now time.Time) *AvailabilitySnapshot {
	snap := &AvailabilitySnapshot{
		TripID:      inv.ID,
		DepartureAt: inv.DepartureAt,
		Version:     inv.Version,
		TotalSeats:  len(inv.Seats),
		Seats:       make([]SeatAvailability, 0, len(inv.Seats)),
		AsOf:        now,
	}
	for i := range inv.Seats {
		s := &inv.Seats[i]
		state := s.EffectiveState(now)
		switch state {
		case SeatFree:
			snap.FreeSeats++
		case SeatHeld:
			snap.HeldSeats++
		case SeatConfirmed:
			snap.ConfirmedSeats++
		}
		snap.Seats = append(snap.Seats, SeatAvailability{
			SeatNumber:      s.SeatNumber,
			Row:             s.Row,
			Column:          s.Column,
			Type:            s.Type,
			PriceMultiplier: s.PriceMultiplier,
			State:           state,
		})
	}
	return snap
}
