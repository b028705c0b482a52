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

// LedgerRepository persists trip inventories, holds and bookings in Postgres
type LedgerRepository struct {
	db *sqlx.DB
}

// NewLedgerRepository creates a new LedgerRepository
func NewLedgerRepository(db *sqlx.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

const inventoryColumns = `
	id, assignment_id, bus_id, bus_type, origin, destination, trip_date,
	departure_at, arrival_at, base_fare, currency, seat_map_version,
	status, version, created_at, updated_at`

const tripSeatColumns = `
	trip_id, seat_number, position, row_number, column_number, seat_type,
	price_multiplier, state, hold_id, hold_expires_at, booking_id`

const holdColumns = `
	id, trip_id, seat_numbers, owner_digest, status, created_at, expires_at, resolved_at`

const bookingColumns = `
	id, booking_reference, trip_id, principal_id, hold_id, attempt_id,
	seat_details, journey_details, pricing, payment_status, payment_method,
	transaction_id, paid_at, status, cancellation_reason, cancelled_at,
	created_at, updated_at`

// ============================================================================
// TRIP INVENTORY
// ============================================================================

// CreateInventoryIfAbsent inserts the inventory and its seats unless a row
// for (assignment_id, trip_date) already exists. It returns the stored
// inventory and whether this call created it.
func (r *LedgerRepository) CreateInventoryIfAbsent(ctx context.Context, inv *models.TripInventory) (*models.TripInventory, bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO trip_inventories (` + inventoryColumns + `)
		VALUES (
			:id, :assignment_id, :bus_id, :bus_type, :origin, :destination, :trip_date,
			:departure_at, :arrival_at, :base_fare, :currency, :seat_map_version,
			:status, :version, :created_at, :updated_at
		)
		ON CONFLICT DO NOTHING`

	result, err := tx.NamedExecContext(ctx, query, inv)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert trip inventory: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, false, err
	}

	if rows == 0 {
		// Lost the race: another worker materialized this trip first
		tx.Rollback()
		existing, err := r.GetInventory(ctx, inv.ID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	if len(inv.Seats) > 0 {
		seatQuery := `
			INSERT INTO trip_seats (` + tripSeatColumns + `)
			VALUES (
				:trip_id, :seat_number, :position, :row_number, :column_number, :seat_type,
				:price_multiplier, :state, :hold_id, :hold_expires_at, :booking_id
			)`
		if _, err := tx.NamedExecContext(ctx, seatQuery, inv.Seats); err != nil {
			return nil, false, fmt.Errorf("failed to insert trip seats: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit trip inventory: %w", err)
	}
	return inv, true, nil
}

// GetInventory loads an inventory with its seat table
func (r *LedgerRepository) GetInventory(ctx context.Context, tripID models.TripID) (*models.TripInventory, error) {
	var inv models.TripInventory
	query := `SELECT ` + inventoryColumns + ` FROM trip_inventories WHERE id = $1`
	if err := r.db.GetContext(ctx, &inv, query, tripID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get trip inventory: %w", err)
	}

	seatQuery := `SELECT ` + tripSeatColumns + ` FROM trip_seats WHERE trip_id = $1 ORDER BY position`
	if err := r.db.SelectContext(ctx, &inv.Seats, seatQuery, tripID); err != nil {
		return nil, fmt.Errorf("failed to get trip seats: %w", err)
	}
	return &inv, nil
}

// GetInventoryVersion returns the current optimistic version of a trip
func (r *LedgerRepository) GetInventoryVersion(ctx context.Context, tripID models.TripID) (int64, error) {
	var version int64
	query := `SELECT version FROM trip_inventories WHERE id = $1`
	if err := r.db.GetContext(ctx, &version, query, tripID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("failed to get inventory version: %w", err)
	}
	return version, nil
}

// ArchiveInventories marks trips that departed before cutoff as archived
// and drops their resolved hold records. Bookings are kept.
func (r *LedgerRepository) ArchiveInventories(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var ids []string
	query := `
		UPDATE trip_inventories
		SET status = 'archived', updated_at = NOW()
		WHERE status = 'active' AND departure_at < $1
		RETURNING id`
	if err := tx.SelectContext(ctx, &ids, query, cutoff); err != nil {
		return 0, fmt.Errorf("failed to archive trip inventories: %w", err)
	}

	if len(ids) > 0 {
		purge, args, err := sqlx.In(`DELETE FROM seat_holds WHERE status <> 'active' AND trip_id IN (?)`, ids)
		if err != nil {
			return 0, fmt.Errorf("failed to build purge query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(purge), args...); err != nil {
			return 0, fmt.Errorf("failed to purge archived holds: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit archive: %w", err)
	}
	return int64(len(ids)), nil
}

// ============================================================================
// MUTATIONS
// ============================================================================

// ApplyMutation commits a trip mutation in one transaction. The version
// bump comes first, so two writers racing on the same trip serialize on
// the inventory row and the loser sees ErrVersionConflict.
func (r *LedgerRepository) ApplyMutation(ctx context.Context, m *models.TripMutation) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE trip_inventories
		SET version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2`,
		m.TripID, m.ExpectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to bump inventory version: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrVersionConflict
	}

	for _, u := range m.SeatUpdates {
		_, err := tx.ExecContext(ctx, `
			UPDATE trip_seats
			SET state = $1, hold_id = $2, hold_expires_at = $3, booking_id = $4
			WHERE trip_id = $5 AND seat_number = $6`,
			u.State, u.HoldID, u.HoldExpiresAt, u.BookingID, m.TripID, u.SeatNumber,
		)
		if err != nil {
			return fmt.Errorf("failed to update seat %s: %w", u.SeatNumber, err)
		}
	}

	if h := m.NewHold; h != nil {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO seat_holds (`+holdColumns+`)
			VALUES (:id, :trip_id, :seat_numbers, :owner_digest, :status, :created_at, :expires_at, :resolved_at)`,
			h,
		)
		if err != nil {
			return fmt.Errorf("failed to insert hold: %w", err)
		}
	}

	for _, t := range m.HoldTransitions {
		result, err := tx.ExecContext(ctx, `
			UPDATE seat_holds SET status = $1, resolved_at = $2
			WHERE id = $3 AND status = 'active'`,
			t.Status, t.At, t.HoldID,
		)
		if err != nil {
			return fmt.Errorf("failed to resolve hold: %w", err)
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return ErrVersionConflict
		}
	}

	if b := m.NewBooking; b != nil {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO bookings (`+bookingColumns+`)
			VALUES (
				:id, :booking_reference, :trip_id, :principal_id, :hold_id, :attempt_id,
				:seat_details, :journey_details, :pricing, :payment_status, :payment_method,
				:transaction_id, :paid_at, :status, :cancellation_reason, :cancelled_at,
				:created_at, :updated_at
			)`,
			b,
		)
		if err != nil {
			if IsUniqueViolation(err) {
				return fmt.Errorf("booking %s: %w", b.BookingReference, ErrDuplicate)
			}
			return fmt.Errorf("failed to insert booking: %w", err)
		}
	}

	if b := m.BookingUpdate; b != nil {
		_, err := tx.NamedExecContext(ctx, `
			UPDATE bookings SET
				seat_details = :seat_details,
				pricing = :pricing,
				payment_status = :payment_status,
				status = :status,
				cancellation_reason = :cancellation_reason,
				cancelled_at = :cancelled_at,
				updated_at = :updated_at
			WHERE id = :id`,
			b,
		)
		if err != nil {
			return fmt.Errorf("failed to update booking: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit trip mutation: %w", err)
	}
	return nil
}

// ============================================================================
// HOLDS
// ============================================================================

// GetHold returns a hold in any status
func (r *LedgerRepository) GetHold(ctx context.Context, holdID uuid.UUID) (*models.Hold, error) {
	var h models.Hold
	query := `SELECT ` + holdColumns + ` FROM seat_holds WHERE id = $1`
	if err := r.db.GetContext(ctx, &h, query, holdID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get hold: %w", err)
	}
	return &h, nil
}

// ListActiveHolds returns the unresolved holds of a trip
func (r *LedgerRepository) ListActiveHolds(ctx context.Context, tripID models.TripID) ([]models.Hold, error) {
	var holds []models.Hold
	query := `SELECT ` + holdColumns + ` FROM seat_holds WHERE trip_id = $1 AND status = 'active'`
	if err := r.db.SelectContext(ctx, &holds, query, tripID); err != nil {
		return nil, fmt.Errorf("failed to list active holds: %w", err)
	}
	return holds, nil
}

// ListExpiredHolds returns active holds whose ttl elapsed at or before now
func (r *LedgerRepository) ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]models.Hold, error) {
	var holds []models.Hold
	query := `
		SELECT ` + holdColumns + ` FROM seat_holds
		WHERE status = 'active' AND expires_at <= $1
		ORDER BY expires_at
		LIMIT $2`
	if err := r.db.SelectContext(ctx, &holds, query, now, limit); err != nil {
		return nil, fmt.Errorf("failed to list expired holds: %w", err)
	}
	return holds, nil
}

// ============================================================================
// BOOKINGS
// ============================================================================

// GetBooking returns a booking by ID
func (r *LedgerRepository) GetBooking(ctx context.Context, bookingID uuid.UUID) (*models.Booking, error) {
	var b models.Booking
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`
	if err := r.db.GetContext(ctx, &b, query, bookingID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return &b, nil
}

// GetBookingByHold returns the booking a hold was confirmed into
func (r *LedgerRepository) GetBookingByHold(ctx context.Context, holdID uuid.UUID) (*models.Booking, error) {
	var b models.Booking
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE hold_id = $1`
	if err := r.db.GetContext(ctx, &b, query, holdID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get booking by hold: %w", err)
	}
	return &b, nil
}

// ListBookingsByPrincipal returns a passenger's bookings, newest first
func (r *LedgerRepository) ListBookingsByPrincipal(ctx context.Context, principalID uuid.UUID, limit, offset int) ([]models.Booking, error) {
	var bookings []models.Booking
	query := `
		SELECT ` + bookingColumns + ` FROM bookings
		WHERE principal_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`
	if err := r.db.SelectContext(ctx, &bookings, query, principalID, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	return bookings, nil
}
