package models

import (
	"time"
)

// AvailabilityFreshnessNote accompanies every search result
const AvailabilityFreshnessNote = "Seat availability is indicative and may change before seats are held. It is verified when seats are held."

// Availability sources reported on search results
const (
	AvailabilitySourceLedger = "ledger"
	AvailabilitySourceCache  = "cache"
)

// SearchTripsQuery represents a passenger's search query
type SearchTripsQuery struct {
	Origin         string `form:"origin" binding:"required"`
	Destination    string `form:"destination" binding:"required"`
	Date           string `form:"date" binding:"required,datetime=2006-01-02"`
	BusType        string `form:"bus_type" binding:"omitempty,oneof=ac non_ac semi_luxury luxury"`
	Passengers     int    `form:"passengers" binding:"omitempty,gte=1,lte=6"`
	DepartureAfter string `form:"departure_after" binding:"omitempty,datetime=15:04"`
	Limit          int    `form:"limit" binding:"omitempty,gte=1,lte=100"`
}

// TripFilter is the parsed, validated form of a search query
type TripFilter struct {
	Origin         string
	Destination    string
	Date           time.Time
	BusType        *BusType
	MinFreeSeats   int
	DepartureAfter string // HH:MM, empty for any time
}

// TripSummary is one search result
type TripSummary struct {
	TripID             TripID    `json:"trip_id"`
	AssignmentID       string    `json:"assignment_id"`
	Origin             string    `json:"origin"`
	Destination        string    `json:"destination"`
	BusType            BusType   `json:"bus_type"`
	DepartureAt        time.Time `json:"departure_at"`
	ArrivalAt          time.Time `json:"arrival_at"`
	BaseFare           float64   `json:"base_fare"`
	Currency           string    `json:"currency"`
	TotalSeats         int       `json:"total_seats"`
	AvailableSeats     int       `json:"available_seats"`
	AvailabilityAsOf   time.Time `json:"availability_as_of"`
	AvailabilitySource string    `json:"availability_source"`
}

// SearchResponse represents the search results returned to passenger
type SearchResponse struct {
	Results      []TripSummary `json:"results"`
	Count        int           `json:"count"`
	Freshness    string        `json:"freshness"`
	SearchTimeMs int64         `json:"search_time_ms"`
}

// AvailabilityCount is the search-side seat count of a trip. It is a
// read replica of the ledger and may lag behind it.
type AvailabilityCount struct {
	TripID     TripID    `json:"trip_id"`
	Version    int64     `json:"version"`
	TotalSeats int       `json:"total_seats"`
	FreeSeats  int       `json:"free_seats"`
	AsOf       time.Time `json:"as_of"`
}

// Count reduces a snapshot to its search-side counts
func (s *AvailabilitySnapshot) Count() AvailabilityCount {
	return AvailabilityCount{
		TripID:     s.TripID,
		Version:    s.Version,
		TotalSeats: s.TotalSeats,
		FreeSeats:  s.FreeSeats,
		AsOf:       s.AsOf,
	}
}
