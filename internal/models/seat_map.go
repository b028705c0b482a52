package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
)

// SeatType is the commercial class of a seat
type SeatType string

const (
	SeatTypeRegular SeatType = "regular"
	SeatTypeVIP     SeatType = "vip"
	SeatTypeLadies  SeatType = "ladies"
)

// ParseSeatType converts a raw value to a SeatType, rejecting unknown values
func ParseSeatType(raw string) (SeatType, error) {
	switch SeatType(raw) {
	case SeatTypeRegular, SeatTypeVIP, SeatTypeLadies:
		return SeatType(raw), nil
	}
	return "", fmt.Errorf("unknown seat type %q", raw)
}

var seatNumberPattern = regexp.MustCompile(`^[0-9]{1,2}[A-Z]$`)

// IsValidSeatNumber reports whether s looks like a seat label such as "1A" or "12D"
func IsValidSeatNumber(s string) bool {
	return seatNumberPattern.MatchString(s)
}

// SeatDefinition describes one physical seat of a bus
type SeatDefinition struct {
	SeatNumber      string   `json:"seat_number" binding:"required,seatnumber"`
	Row             int      `json:"row" binding:"gte=1"`
	Column          int      `json:"column" binding:"gte=1"`
	Type            SeatType `json:"type" binding:"required,oneof=regular vip ladies"`
	PriceMultiplier float64  `json:"price_multiplier" binding:"gte=0"`
	Active          bool     `json:"active"`
}

// SeatMap is the ordered layout of a bus. Order is row-major as supplied by the operator.
type SeatMap []SeatDefinition

// SeatMapPolicy bounds the number of active seats a bus may offer
type SeatMapPolicy struct {
	MinActiveSeats int
	MaxActiveSeats int
}

// DefaultSeatMapPolicy returns the platform-wide 20..56 seat policy
func DefaultSeatMapPolicy() SeatMapPolicy {
	return SeatMapPolicy{MinActiveSeats: 20, MaxActiveSeats: 56}
}

// ErrSeatMapFrozen is returned when an approved seat map is edited
var ErrSeatMapFrozen = errors.New("seat map is frozen after approval")

// Validate checks the seat map against the policy
func (m SeatMap) Validate(policy SeatMapPolicy) error {
	if len(m) == 0 {
		return errors.New("seat map is empty")
	}

	numbers := make(map[string]struct{}, len(m))
	positions := make(map[[2]int]string, len(m))
	active := 0

	for _, seat := range m {
		if !IsValidSeatNumber(seat.SeatNumber) {
			return fmt.Errorf("invalid seat number %q", seat.SeatNumber)
		}
		if _, dup := numbers[seat.SeatNumber]; dup {
			return fmt.Errorf("duplicate seat number %q", seat.SeatNumber)
		}
		numbers[seat.SeatNumber] = struct{}{}

		if seat.Row < 1 || seat.Column < 1 {
			return fmt.Errorf("seat %s has invalid position (%d,%d)", seat.SeatNumber, seat.Row, seat.Column)
		}
		pos := [2]int{seat.Row, seat.Column}
		if other, taken := positions[pos]; taken {
			return fmt.Errorf("seats %s and %s share position (%d,%d)", other, seat.SeatNumber, seat.Row, seat.Column)
		}
		positions[pos] = seat.SeatNumber

		if _, err := ParseSeatType(string(seat.Type)); err != nil {
			return fmt.Errorf("seat %s: %w", seat.SeatNumber, err)
		}
		if seat.PriceMultiplier < 0 {
			return fmt.Errorf("seat %s has negative price multiplier", seat.SeatNumber)
		}
		if seat.Active {
			active++
		}
	}

	if active < policy.MinActiveSeats || active > policy.MaxActiveSeats {
		return fmt.Errorf("seat map has %d active seats, policy allows %d-%d",
			active, policy.MinActiveSeats, policy.MaxActiveSeats)
	}
	return nil
}

// ActiveSeats returns the active seats in layout order
func (m SeatMap) ActiveSeats() []SeatDefinition {
	out := make([]SeatDefinition, 0, len(m))
	for _, seat := range m {
		if seat.Active {
			out = append(out, seat)
		}
	}
	return out
}

// Sorted returns a copy ordered by row then column
func (m SeatMap) Sorted() SeatMap {
	out := make(SeatMap, len(m))
	copy(out, m)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Row != out[j].Row {
			return out[i].Row < out[j].Row
		}
		return out[i].Column < out[j].Column
	})
	return out
}

// Value implements driver.Valuer so the seat map can live in a JSONB column
func (m SeatMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner
func (m *SeatMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(data, m)
}

// GenerateSeatMap builds a regular layout of rows x seatsPerRow, labelling
// columns A, B, C... Used for seeding and tests.
func GenerateSeatMap(rows, seatsPerRow int) SeatMap {
	m := make(SeatMap, 0, rows*seatsPerRow)
	for r := 1; r <= rows; r++ {
		for c := 1; c <= seatsPerRow; c++ {
			m = append(m, SeatDefinition{
				SeatNumber:      fmt.Sprintf("%d%c", r, 'A'+c-1),
				Row:             r,
				Column:          c,
				Type:            SeatTypeRegular,
				PriceMultiplier: 1.0,
				Active:          true,
			})
		}
	}
	return m
}
