package models

import (
	"database/sql/driver"

	"github.com/lib/pq"
)

// IntArray is a custom type for handling INTEGER[] arrays in PostgreSQL
type IntArray []int

// Value implements the driver.Valuer interface
func (a IntArray) Value() (driver.Value, error) {
	if a == nil {
		return nil, nil
	}
	out := make([]int64, len(a))
	for i, v := range a {
		out[i] = int64(v)
	}
	return pq.Array(out).Value()
}

// Scan implements the sql.Scanner interface
func (a *IntArray) Scan(src interface{}) error {
	if src == nil {
		*a = nil
		return nil
	}
	var raw pq.Int64Array
	if err := raw.Scan(src); err != nil {
		return err
	}
	out := make(IntArray, len(raw))
	for i, v := range raw {
		out[i] = int(v)
	}
	*a = out
	return nil
}

// SeatNumbers is a TEXT[] column of seat labels
type SeatNumbers []string

// Value implements the driver.Valuer interface
func (s SeatNumbers) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	return pq.Array([]string(s)).Value()
}

// Scan implements the sql.Scanner interface
func (s *SeatNumbers) Scan(src interface{}) error {
	if src == nil {
		*s = nil
		return nil
	}
	slice := (*[]string)(s)
	return pq.Array(slice).Scan(src)
}

// Contains reports whether seat is in the list
func (s SeatNumbers) Contains(seat string) bool {
	for _, v := range s {
		if v == seat {
			return true
		}
	}
	return false
}
