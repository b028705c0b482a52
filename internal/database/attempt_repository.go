package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/smarttransit/seat-booking-core/internal/models"
)

// AttemptRepository handles booking attempt database operations
type AttemptRepository struct {
	db *sqlx.DB
}

// NewAttemptRepository creates a new AttemptRepository
func NewAttemptRepository(db *sqlx.DB) *AttemptRepository {
	return &AttemptRepository{db: db}
}

const attemptColumns = `
	id, principal_id, trip_id, hold_id, seat_numbers, state, seat_details,
	boarding_point, dropping_point, contact_phone, pricing, invoice_id, payment_method,
	transaction_id, payment_page_url, gateway_reference, booking_id, failure_reason,
	hold_expires_at, payment_started_at, refund_signalled_at, created_at, updated_at`

// CreateAttempt inserts a new booking attempt
func (r *AttemptRepository) CreateAttempt(ctx context.Context, a *models.BookingAttempt) error {
	query := `
		INSERT INTO booking_attempts (` + attemptColumns + `)
		VALUES (
			:id, :principal_id, :trip_id, :hold_id, :seat_numbers, :state, :seat_details,
			:boarding_point, :dropping_point, :contact_phone, :pricing, :invoice_id, :payment_method,
			:transaction_id, :payment_page_url, :gateway_reference, :booking_id, :failure_reason,
			:hold_expires_at, :payment_started_at, :refund_signalled_at, :created_at, :updated_at
		)`
	if _, err := r.db.NamedExecContext(ctx, query, a); err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("attempt for hold %s: %w", a.HoldID, ErrDuplicate)
		}
		return fmt.Errorf("failed to create booking attempt: %w", err)
	}
	return nil
}

// UpdateAttempt writes the attempt if its stored state still equals
// expected. A concurrent transition makes this return ErrVersionConflict.
func (r *AttemptRepository) UpdateAttempt(ctx context.Context, a *models.BookingAttempt, expected models.AttemptState) error {
	query := `
		UPDATE booking_attempts SET
			state = $1,
			seat_details = $2,
			boarding_point = $3,
			dropping_point = $4,
			contact_phone = $5,
			payment_method = $6,
			transaction_id = $7,
			payment_page_url = $8,
			gateway_reference = $9,
			booking_id = $10,
			failure_reason = $11,
			payment_started_at = $12,
			refund_signalled_at = $13,
			updated_at = $14
		WHERE id = $15 AND state = $16`

	result, err := r.db.ExecContext(ctx, query,
		a.State, a.SeatDetails, a.BoardingPoint, a.DroppingPoint, a.ContactPhone,
		a.PaymentMethod, a.TransactionID, a.PaymentPageURL, a.GatewayReference, a.BookingID,
		a.FailureReason, a.PaymentStartedAt, a.RefundSignalledAt, a.UpdatedAt,
		a.ID, expected,
	)
	if err != nil {
		return fmt.Errorf("failed to update booking attempt: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrVersionConflict
	}
	return nil
}

// GetAttempt returns an attempt by ID
func (r *AttemptRepository) GetAttempt(ctx context.Context, id uuid.UUID) (*models.BookingAttempt, error) {
	return r.getBy(ctx, "id", id)
}

// GetAttemptByHold returns the attempt that owns a hold
func (r *AttemptRepository) GetAttemptByHold(ctx context.Context, holdID uuid.UUID) (*models.BookingAttempt, error) {
	return r.getBy(ctx, "hold_id", holdID)
}

// GetAttemptByInvoice returns the attempt a gateway invoice belongs to
func (r *AttemptRepository) GetAttemptByInvoice(ctx context.Context, invoiceID string) (*models.BookingAttempt, error) {
	return r.getBy(ctx, "invoice_id", invoiceID)
}

// GetAttemptByBooking returns the attempt that produced a booking
func (r *AttemptRepository) GetAttemptByBooking(ctx context.Context, bookingID uuid.UUID) (*models.BookingAttempt, error) {
	return r.getBy(ctx, "booking_id", bookingID)
}

func (r *AttemptRepository) getBy(ctx context.Context, column string, value interface{}) (*models.BookingAttempt, error) {
	var a models.BookingAttempt
	query := `SELECT ` + attemptColumns + ` FROM booking_attempts WHERE ` + column + ` = $1`
	if err := r.db.GetContext(ctx, &a, query, value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get booking attempt: %w", err)
	}
	return &a, nil
}

// ListStalePaymentAttempts returns attempts stuck in PAYMENT_PENDING since before cutoff
func (r *AttemptRepository) ListStalePaymentAttempts(ctx context.Context, cutoff time.Time, limit int) ([]models.BookingAttempt, error) {
	var attempts []models.BookingAttempt
	query := `
		SELECT ` + attemptColumns + ` FROM booking_attempts
		WHERE state = $1 AND payment_started_at < $2
		ORDER BY payment_started_at
		LIMIT $3`
	if err := r.db.SelectContext(ctx, &attempts, query, models.AttemptPaymentPending, cutoff, limit); err != nil {
		return nil, fmt.Errorf("failed to list stale payment attempts: %w", err)
	}
	return attempts, nil
}
