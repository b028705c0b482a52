package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DateLayout is the wire format of trip dates
const DateLayout = "2006-01-02"

// BusRouteAssignment binds an approved bus to a route with a daily departure time
type BusRouteAssignment struct {
	ID              uuid.UUID `json:"id" db:"id"`
	BusID           uuid.UUID `json:"bus_id" db:"bus_id"`
	BusType         BusType   `json:"bus_type" db:"bus_type"`
	Origin          string    `json:"origin" db:"origin"`
	Destination     string    `json:"destination" db:"destination"`
	DepartureTime   string    `json:"departure_time" db:"departure_time"` // HH:MM, local trip timezone
	DurationMinutes int       `json:"duration_minutes" db:"duration_minutes"`
	BaseFare        float64   `json:"base_fare" db:"base_fare"`
	Currency        string    `json:"currency" db:"currency"`
	OperatingDays   IntArray  `json:"operating_days" db:"operating_days"` // 0=Sunday..6=Saturday, empty means daily
	Active          bool      `json:"active" db:"active"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// OperatesOn reports whether a trip runs on the given date
func (a *BusRouteAssignment) OperatesOn(date time.Time) bool {
	if !a.Active {
		return false
	}
	if len(a.OperatingDays) == 0 {
		return true
	}
	wd := int(date.Weekday())
	for _, d := range a.OperatingDays {
		if d == wd {
			return true
		}
	}
	return false
}

// DepartureOn returns the departure instant for a trip on date in loc
func (a *BusRouteAssignment) DepartureOn(date time.Time, loc *time.Location) (time.Time, error) {
	clock, err := time.Parse("15:04", a.DepartureTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid departure time %q: %w", a.DepartureTime, err)
	}
	y, m, d := date.Date()
	return time.Date(y, m, d, clock.Hour(), clock.Minute(), 0, 0, loc), nil
}

// CreateAssignmentRequest represents the admin request to create an assignment
type CreateAssignmentRequest struct {
	BusID           string  `json:"bus_id" binding:"required,uuid"`
	Origin          string  `json:"origin" binding:"required"`
	Destination     string  `json:"destination" binding:"required"`
	DepartureTime   string  `json:"departure_time" binding:"required,datetime=15:04"`
	DurationMinutes int     `json:"duration_minutes" binding:"required,gt=0"`
	BaseFare        float64 `json:"base_fare" binding:"required,gt=0"`
	Currency        string  `json:"currency,omitempty"`
	OperatingDays   []int   `json:"operating_days,omitempty" binding:"omitempty,dive,gte=0,lte=6"`
}

// ============================================================================
// TRIP IDENTITY
// ============================================================================

// TripID identifies one journey instance: "<assignmentUUID>_<YYYY-MM-DD>"
type TripID string

// NewTripID builds the trip identifier for an assignment on a date
func NewTripID(assignmentID uuid.UUID, date time.Time) TripID {
	return TripID(assignmentID.String() + "_" + date.Format(DateLayout))
}

// ParseTripID splits a trip identifier into assignment and date
func ParseTripID(raw string) (TripID, uuid.UUID, time.Time, error) {
	idx := strings.LastIndex(raw, "_")
	if idx <= 0 {
		return "", uuid.Nil, time.Time{}, fmt.Errorf("malformed trip id %q", raw)
	}
	assignmentID, err := uuid.Parse(raw[:idx])
	if err != nil {
		return "", uuid.Nil, time.Time{}, fmt.Errorf("malformed trip id %q: %w", raw, err)
	}
	date, err := time.Parse(DateLayout, raw[idx+1:])
	if err != nil {
		return "", uuid.Nil, time.Time{}, fmt.Errorf("malformed trip id %q: %w", raw, err)
	}
	return TripID(raw), assignmentID, date, nil
}

func (t TripID) String() string {
	return string(t)
}
