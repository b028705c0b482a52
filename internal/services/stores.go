package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/smarttransit/seat-booking-core/internal/database"
	"github.com/smarttransit/seat-booking-core/internal/models"
)

// InventoryStore persists materialized trip inventories
type InventoryStore interface {
	CreateInventoryIfAbsent(ctx context.Context, inv *models.TripInventory) (*models.TripInventory, bool, error)
	GetInventory(ctx context.Context, tripID models.TripID) (*models.TripInventory, error)
	ArchiveInventories(ctx context.Context, cutoff time.Time) (int64, error)
}

// LedgerStore is the durable side of the reservation ledger
type LedgerStore interface {
	InventoryStore
	GetInventoryVersion(ctx context.Context, tripID models.TripID) (int64, error)
	ApplyMutation(ctx context.Context, m *models.TripMutation) error
	GetHold(ctx context.Context, holdID uuid.UUID) (*models.Hold, error)
	ListActiveHolds(ctx context.Context, tripID models.TripID) ([]models.Hold, error)
	ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]models.Hold, error)
	GetBooking(ctx context.Context, bookingID uuid.UUID) (*models.Booking, error)
	GetBookingByHold(ctx context.Context, holdID uuid.UUID) (*models.Booking, error)
	ListBookingsByPrincipal(ctx context.Context, principalID uuid.UUID, limit, offset int) ([]models.Booking, error)
}

// AttemptStore persists orchestrator state
type AttemptStore interface {
	CreateAttempt(ctx context.Context, a *models.BookingAttempt) error
	UpdateAttempt(ctx context.Context, a *models.BookingAttempt, expected models.AttemptState) error
	GetAttempt(ctx context.Context, id uuid.UUID) (*models.BookingAttempt, error)
	GetAttemptByHold(ctx context.Context, holdID uuid.UUID) (*models.BookingAttempt, error)
	GetAttemptByInvoice(ctx context.Context, invoiceID string) (*models.BookingAttempt, error)
	GetAttemptByBooking(ctx context.Context, bookingID uuid.UUID) (*models.BookingAttempt, error)
	ListStalePaymentAttempts(ctx context.Context, cutoff time.Time, limit int) ([]models.BookingAttempt, error)
}

// PaymentAuditStore appends and reads the gateway audit trail
type PaymentAuditStore interface {
	LogPaymentAudit(ctx context.Context, audit *models.PaymentAudit) error
	ListPaymentAudits(ctx context.Context, invoiceID string) ([]models.PaymentAudit, error)
}

// BusStore persists buses and their seat maps
type BusStore interface {
	CreateBus(ctx context.Context, bus *models.Bus) error
	GetBus(ctx context.Context, id uuid.UUID) (*models.Bus, error)
	UpdateBus(ctx context.Context, bus *models.Bus, expected models.BusApprovalStatus) error
}

// AssignmentStore persists bus route assignments
type AssignmentStore interface {
	CreateAssignment(ctx context.Context, a *models.BusRouteAssignment) error
	GetAssignment(ctx context.Context, id uuid.UUID) (*models.BusRouteAssignment, error)
	ListAssignments(ctx context.Context, q database.AssignmentQuery) ([]models.BusRouteAssignment, error)
	ListActiveAssignments(ctx context.Context) ([]models.BusRouteAssignment, error)
}

// Clock returns the current time. Tests substitute a controllable clock.
type Clock func() time.Time
