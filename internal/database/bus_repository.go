package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/smarttransit/seat-booking-core/internal/models"
)

// BusRepository handles bus and seat map database operations
type BusRepository struct {
	db *sqlx.DB
}

// NewBusRepository creates a new BusRepository
func NewBusRepository(db *sqlx.DB) *BusRepository {
	return &BusRepository{db: db}
}

const busColumns = `
	id, owner_id, bus_number, bus_type, status, seat_map, seat_map_version,
	rejection_reason, approved_at, created_at, updated_at`

// CreateBus inserts a newly registered bus
func (r *BusRepository) CreateBus(ctx context.Context, bus *models.Bus) error {
	query := `
		INSERT INTO buses (` + busColumns + `)
		VALUES (
			:id, :owner_id, :bus_number, :bus_type, :status, :seat_map, :seat_map_version,
			:rejection_reason, :approved_at, :created_at, :updated_at
		)`
	if _, err := r.db.NamedExecContext(ctx, query, bus); err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("bus %s: %w", bus.BusNumber, ErrDuplicate)
		}
		return fmt.Errorf("failed to create bus: %w", err)
	}
	return nil
}

// GetBus returns a bus with its seat map
func (r *BusRepository) GetBus(ctx context.Context, id uuid.UUID) (*models.Bus, error) {
	var bus models.Bus
	query := `SELECT ` + busColumns + ` FROM buses WHERE id = $1`
	if err := r.db.GetContext(ctx, &bus, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get bus: %w", err)
	}
	return &bus, nil
}

// UpdateBus writes the bus if its stored status still equals expected
func (r *BusRepository) UpdateBus(ctx context.Context, bus *models.Bus, expected models.BusApprovalStatus) error {
	query := `
		UPDATE buses SET
			status = $1,
			seat_map = $2,
			seat_map_version = $3,
			rejection_reason = $4,
			approved_at = $5,
			updated_at = $6
		WHERE id = $7 AND status = $8`

	result, err := r.db.ExecContext(ctx, query,
		bus.Status, bus.SeatMap, bus.SeatMapVersion, bus.RejectionReason,
		bus.ApprovedAt, bus.UpdatedAt, bus.ID, expected,
	)
	if err != nil {
		return fmt.Errorf("failed to update bus: %w", err)
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
