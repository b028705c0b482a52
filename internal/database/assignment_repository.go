package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/smarttransit/seat-booking-core/internal/models"
)

// AssignmentRepository handles bus route assignment database operations
type AssignmentRepository struct {
	db *sqlx.DB
}

// NewAssignmentRepository creates a new AssignmentRepository
func NewAssignmentRepository(db *sqlx.DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

const assignmentColumns = `
	id, bus_id, bus_type, origin, destination, departure_time, duration_minutes,
	base_fare, currency, operating_days, active, created_at, updated_at`

// AssignmentQuery filters assignments for search. Results are ordered by
// (departure_time, id) and paged with the After* keyset cursor.
type AssignmentQuery struct {
	Origin         string
	Destination    string
	BusType        *models.BusType
	Weekday        int
	DepartureAfter string // HH:MM inclusive lower bound, empty for any

	AfterDeparture string
	AfterID        uuid.UUID
	Limit          int
}

// CreateAssignment inserts a new assignment
func (r *AssignmentRepository) CreateAssignment(ctx context.Context, a *models.BusRouteAssignment) error {
	query := `
		INSERT INTO bus_route_assignments (` + assignmentColumns + `)
		VALUES (
			:id, :bus_id, :bus_type, :origin, :destination, :departure_time, :duration_minutes,
			:base_fare, :currency, :operating_days, :active, :created_at, :updated_at
		)`
	if _, err := r.db.NamedExecContext(ctx, query, a); err != nil {
		return fmt.Errorf("failed to create assignment: %w", err)
	}
	return nil
}

// GetAssignment returns an assignment by ID
func (r *AssignmentRepository) GetAssignment(ctx context.Context, id uuid.UUID) (*models.BusRouteAssignment, error) {
	var a models.BusRouteAssignment
	query := `SELECT ` + assignmentColumns + ` FROM bus_route_assignments WHERE id = $1`
	if err := r.db.GetContext(ctx, &a, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}
	return &a, nil
}

// ListAssignments returns one page of active assignments matching q
func (r *AssignmentRepository) ListAssignments(ctx context.Context, q AssignmentQuery) ([]models.BusRouteAssignment, error) {
	conditions := []string{
		"active = TRUE",
		"LOWER(origin) = LOWER(?)",
		"LOWER(destination) = LOWER(?)",
		"(cardinality(operating_days) = 0 OR ? = ANY(operating_days))",
	}
	args := []interface{}{q.Origin, q.Destination, q.Weekday}

	if q.BusType != nil {
		conditions = append(conditions, "bus_type = ?")
		args = append(args, *q.BusType)
	}
	if q.DepartureAfter != "" {
		conditions = append(conditions, "departure_time >= ?")
		args = append(args, q.DepartureAfter)
	}
	if q.AfterID != uuid.Nil {
		conditions = append(conditions, "(departure_time, id) > (?, ?)")
		args = append(args, q.AfterDeparture, q.AfterID)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit)

	query := `SELECT ` + assignmentColumns + ` FROM bus_route_assignments
		WHERE ` + strings.Join(conditions, " AND ") + `
		ORDER BY departure_time, id
		LIMIT ?`

	var out []models.BusRouteAssignment
	if err := r.db.SelectContext(ctx, &out, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	return out, nil
}

// ListActiveAssignments returns every active assignment
func (r *AssignmentRepository) ListActiveAssignments(ctx context.Context) ([]models.BusRouteAssignment, error) {
	var out []models.BusRouteAssignment
	query := `SELECT ` + assignmentColumns + ` FROM bus_route_assignments WHERE active = TRUE ORDER BY id`
	if err := r.db.SelectContext(ctx, &out, query); err != nil {
		return nil, fmt.Errorf("failed to list active assignments: %w", err)
	}
	return out, nil
}
