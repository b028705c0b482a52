package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PaymentStatus represents the payment status of a booking
type PaymentStatus string

const (
	PaymentStatusPending       PaymentStatus = "pending"
	PaymentStatusPaid          PaymentStatus = "paid"
	PaymentStatusFailed        PaymentStatus = "failed"
	PaymentStatusRefundPending PaymentStatus = "refund_pending"
	PaymentStatusRefunded      PaymentStatus = "refunded"
)

// BookingStatus represents the status of a booking
type BookingStatus string

const (
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCancelled BookingStatus = "cancelled"
	BookingStatusCompleted BookingStatus = "completed"
	BookingStatusNoShow    BookingStatus = "no_show"
)

// ParseBookingStatus converts a raw value to a BookingStatus, rejecting unknown values
func ParseBookingStatus(raw string) (BookingStatus, error) {
	switch BookingStatus(raw) {
	case BookingStatusConfirmed, BookingStatusCancelled, BookingStatusCompleted, BookingStatusNoShow:
		return BookingStatus(raw), nil
	}
	return "", fmt.Errorf("unknown booking status %q", raw)
}

// Gender of a passenger as captured on the ticket
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
)

// ParseGender converts a raw value to a Gender, rejecting unknown values
func ParseGender(raw string) (Gender, error) {
	switch Gender(strings.ToLower(raw)) {
	case GenderMale, GenderFemale, GenderOther:
		return Gender(strings.ToLower(raw)), nil
	}
	return "", fmt.Errorf("unknown gender %q", raw)
}

// ============================================================================
// JSONB TYPES
// ============================================================================

// SeatDetail assigns one passenger to one seat
type SeatDetail struct {
	SeatNumber      string `json:"seat_number" binding:"required,seatnumber"`
	PassengerName   string `json:"passenger_name" binding:"required,max=100"`
	PassengerAge    int    `json:"passenger_age" binding:"gte=0,lte=120"`
	PassengerGender Gender `json:"passenger_gender" binding:"required,gender"`
}

// Validate checks a single passenger entry
func (d *SeatDetail) Validate() error {
	if strings.TrimSpace(d.PassengerName) == "" {
		return fmt.Errorf("seat %s: passenger name is required", d.SeatNumber)
	}
	if d.PassengerAge < 0 || d.PassengerAge > 120 {
		return fmt.Errorf("seat %s: passenger age %d out of range", d.SeatNumber, d.PassengerAge)
	}
	if _, err := ParseGender(string(d.PassengerGender)); err != nil {
		return fmt.Errorf("seat %s: %w", d.SeatNumber, err)
	}
	return nil
}

// SeatDetails is the ordered passenger list of a booking
type SeatDetails []SeatDetail

// SeatNumbers returns the seats in passenger order
func (d SeatDetails) SeatNumbers() []string {
	out := make([]string, len(d))
	for i, s := range d {
		out[i] = s.SeatNumber
	}
	return out
}

// Value implements driver.Valuer
func (d SeatDetails) Value() (driver.Value, error) {
	if d == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(d)
}

// Scan implements sql.Scanner
func (d *SeatDetails) Scan(value interface{}) error {
	return scanJSON(value, d)
}

// JourneyDetails is the journey information printed on a ticket
type JourneyDetails struct {
	Origin        string    `json:"origin"`
	Destination   string    `json:"destination"`
	BoardingPoint string    `json:"boarding_point,omitempty"`
	DroppingPoint string    `json:"dropping_point,omitempty"`
	JourneyDate   string    `json:"journey_date"`
	DepartureAt   time.Time `json:"departure_at"`
	ArrivalAt     time.Time `json:"arrival_at"`
	BusType       BusType   `json:"bus_type"`
}

// Value implements driver.Valuer
func (j JourneyDetails) Value() (driver.Value, error) {
	return json.Marshal(j)
}

// Scan implements sql.Scanner
func (j *JourneyDetails) Scan(value interface{}) error {
	return scanJSON(value, j)
}

// SeatFare is the price of one seat in a pricing snapshot
type SeatFare struct {
	SeatNumber string   `json:"seat_number"`
	Type       SeatType `json:"type"`
	Multiplier float64  `json:"multiplier"`
	Fare       float64  `json:"fare"`
}

// PricingSnapshot captures pricing at the time of hold
type PricingSnapshot struct {
	BaseFare    float64    `json:"base_fare"`
	SeatFares   []SeatFare `json:"seat_fares"`
	Subtotal    float64    `json:"subtotal"`
	Taxes       float64    `json:"taxes"`
	Discount    float64    `json:"discount"`
	TotalAmount float64    `json:"total_amount"`
	Currency    string     `json:"currency"`
}

// Value implements driver.Valuer
func (p PricingSnapshot) Value() (driver.Value, error) {
	return json.Marshal(p)
}

// Scan implements sql.Scanner
func (p *PricingSnapshot) Scan(value interface{}) error {
	return scanJSON(value, p)
}

func scanJSON(value interface{}, dest interface{}) error {
	if value == nil {
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
	return json.Unmarshal(data, dest)
}

// ============================================================================
// BOOKING
// ============================================================================

// Booking represents a confirmed reservation of seats for passengers
type Booking struct {
	ID                 uuid.UUID       `json:"booking_id" db:"id"`
	BookingReference   string          `json:"booking_reference" db:"booking_reference"`
	TripID             TripID          `json:"trip_id" db:"trip_id"`
	PrincipalID        uuid.UUID       `json:"user_id" db:"principal_id"`
	HoldID             uuid.UUID       `json:"hold_id" db:"hold_id"`
	AttemptID          *uuid.UUID      `json:"attempt_id,omitempty" db:"attempt_id"`
	SeatDetails        SeatDetails     `json:"seat_details" db:"seat_details"`
	Journey            JourneyDetails  `json:"journey_details" db:"journey_details"`
	Pricing            PricingSnapshot `json:"pricing" db:"pricing"`
	PaymentStatus      PaymentStatus   `json:"payment_status" db:"payment_status"`
	PaymentMethod      *string         `json:"payment_method,omitempty" db:"payment_method"`
	TransactionID      *string         `json:"transaction_id,omitempty" db:"transaction_id"`
	PaidAt             *time.Time      `json:"paid_at,omitempty" db:"paid_at"`
	Status             BookingStatus   `json:"status" db:"status"`
	CancellationReason *string         `json:"cancellation_reason,omitempty" db:"cancellation_reason"`
	CancelledAt        *time.Time      `json:"cancelled_at,omitempty" db:"cancelled_at"`
	CreatedAt          time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at" db:"updated_at"`
}

// SeatNumbers returns the seats this booking occupies
func (b *Booking) SeatNumbers() []string {
	return b.SeatDetails.SeatNumbers()
}

// CanBeCancelled checks if the booking can be cancelled
func (b *Booking) CanBeCancelled() bool {
	return b.Status == BookingStatusConfirmed
}

// Cancel marks the booking cancelled at now
func (b *Booking) Cancel(reason string, now time.Time) error {
	if !b.CanBeCancelled() {
		return fmt.Errorf("booking is %s", b.Status)
	}
	b.Status = BookingStatusCancelled
	b.CancelledAt = &now
	if reason != "" {
		b.CancellationReason = &reason
	}
	if b.PaymentStatus == PaymentStatusPaid {
		b.PaymentStatus = PaymentStatusRefundPending
	}
	b.UpdatedAt = now
	return nil
}

// IsPaid checks if the booking is paid
func (b *Booking) IsPaid() bool {
	return b.PaymentStatus == PaymentStatusPaid
}

// NeedsRefund checks if the booking needs a refund
func (b *Booking) NeedsRefund() bool {
	return b.Status == BookingStatusCancelled && b.PaymentStatus == PaymentStatusRefundPending
}

// Clone returns a deep copy
func (b *Booking) Clone() *Booking {
	if b == nil {
		return nil
	}
	out := *b
	out.SeatDetails = append(SeatDetails(nil), b.SeatDetails...)
	out.Pricing.SeatFares = append([]SeatFare(nil), b.Pricing.SeatFares...)
	return &out
}

// BookingPayload is what the ledger needs to turn a hold into a booking
type BookingPayload struct {
	PrincipalID   uuid.UUID
	AttemptID     *uuid.UUID
	SeatDetails   SeatDetails
	BoardingPoint string
	DroppingPoint string
	Pricing       PricingSnapshot
	Payment       *ChargeResult
	PaymentMethod string
}

// ============================================================================
// REQUEST/RESPONSE TYPES
// ============================================================================

// HoldSeatsRequest represents the request to hold seats on a trip
type HoldSeatsRequest struct {
	TripID      string   `json:"trip_id" binding:"required"`
	SeatNumbers []string `json:"seat_numbers" binding:"required,min=1,dive,seatnumber"`
	OwnerToken  string   `json:"owner_token,omitempty" binding:"omitempty,max=128"`
}

// StartPaymentRequest moves a held attempt into payment
type StartPaymentRequest struct {
	PaymentMethod string       `json:"payment_method" binding:"required,oneof=card wallet bank_transfer"`
	SeatDetails   []SeatDetail `json:"seat_details" binding:"required,min=1,dive"`
	BoardingPoint string       `json:"boarding_point,omitempty"`
	DroppingPoint string       `json:"dropping_point,omitempty"`
	ContactPhone  string       `json:"contact_phone,omitempty" binding:"omitempty,lkphone"`
}

// PaymentResultInput is the client-reported outcome of an off-band payment
type PaymentResultInput struct {
	TransactionID string `json:"transaction_id" binding:"required"`
	PaymentMethod string `json:"payment_method,omitempty"`
}

// ConfirmBookingRequest converts a hold into a booking after payment
type ConfirmBookingRequest struct {
	HoldID        string             `json:"hold_id" binding:"required,uuid"`
	SeatDetails   []SeatDetail       `json:"seat_details" binding:"required,min=1,dive"`
	BoardingPoint string             `json:"boarding_point,omitempty"`
	DroppingPoint string             `json:"dropping_point,omitempty"`
	ContactPhone  string             `json:"contact_phone,omitempty" binding:"omitempty,lkphone"`
	PaymentResult PaymentResultInput `json:"payment_result" binding:"required"`
}

// CancelBookingRequest represents the request to cancel a booking
type CancelBookingRequest struct {
	Reason string `json:"reason" binding:"required,max=500"`
}

// ModifyBookingRequest replaces seats and passengers of a booking
type ModifyBookingRequest struct {
	SeatDetails []SeatDetail `json:"seat_details" binding:"required,min=1,dive"`
}

// UpdateBookingStatusRequest closes a booking after departure
type UpdateBookingStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=completed no_show"`
}
