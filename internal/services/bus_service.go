package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/seat-booking-core/internal/database"
	"github.com/smarttransit/seat-booking-core/internal/models"
)

// BusService manages buses, their seat map approval cycle and the route
// assignments trips are derived from
type BusService struct {
	buses       BusStore
	assignments AssignmentStore
	policy      models.SeatMapPolicy
	currency    string
	clock       Clock
	logger      *logrus.Logger
}

// NewBusService creates a new BusService
func NewBusService(
	buses BusStore,
	assignments AssignmentStore,
	policy models.SeatMapPolicy,
	currency string,
	clock Clock,
	logger *logrus.Logger,
) *BusService {
	if clock == nil {
		clock = time.Now
	}
	if currency == "" {
		currency = "LKR"
	}
	return &BusService{
		buses:       buses,
		assignments: assignments,
		policy:      policy,
		currency:    currency,
		clock:       clock,
		logger:      logger,
	}
}

// ============================================================================
// SEAT MAP LIFECYCLE
// ============================================================================

// RegisterBus creates a bus in draft with its initial seat map. The caller
// becomes the bus owner.
func (s *BusService) RegisterBus(ctx context.Context, owner models.Principal, req *models.RegisterBusRequest) (*models.Bus, error) {
	busType, err := models.ParseBusType(req.BusType)
	if err != nil {
		return nil, models.NewBookingError(models.KindInvalidRequest, nil, "%v", err)
	}
	busNumber := strings.ToUpper(strings.TrimSpace(req.BusNumber))
	if busNumber == "" {
		return nil, models.NewBookingError(models.KindInvalidRequest, nil, "bus number is required")
	}

	seatMap := models.SeatMap(req.SeatMap)
	if err := seatMap.Validate(s.policy); err != nil {
		return nil, models.NewBookingError(models.KindInvalidRequest, nil, "%v", err)
	}

	now := s.clock()
	bus := &models.Bus{
		ID:             uuid.New(),
		OwnerID:        owner.ID,
		BusNumber:      busNumber,
		BusType:        busType,
		Status:         models.BusStatusDraft,
		SeatMap:        seatMap,
		SeatMapVersion: 1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.buses.CreateBus(ctx, bus); err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			return nil, models.NewBookingError(models.KindInvalidRequest, nil, "bus %s is already registered", busNumber)
		}
		return nil, fmt.Errorf("failed to register bus: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"bus_id":     bus.ID,
		"owner_id":   bus.OwnerID,
		"bus_number": bus.BusNumber,
		"seats":      len(bus.SeatMap.ActiveSeats()),
	}).Info("Bus registered")
	return bus, nil
}

// GetBus returns a bus with its seat map
func (s *BusService) GetBus(ctx context.Context, busID uuid.UUID) (*models.Bus, error) {
	bus, err := s.buses.GetBus(ctx, busID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, models.NewBookingError(models.KindBusNotFound, nil, "bus %s not found", busID)
		}
		return nil, err
	}
	return bus, nil
}

// GetOwnedBus returns a bus the principal owns. Admins may read any bus.
func (s *BusService) GetOwnedBus(ctx context.Context, principal models.Principal, busID uuid.UUID) (*models.Bus, error) {
	bus, err := s.GetBus(ctx, busID)
	if err != nil {
		return nil, err
	}
	if err := checkOwner(principal, bus); err != nil {
		return nil, err
	}
	return bus, nil
}

func checkOwner(principal models.Principal, bus *models.Bus) error {
	if !principal.CanAccess(bus.OwnerID) {
		return models.NewBookingError(models.KindForbidden, nil, "bus %s belongs to another operator", bus.BusNumber)
	}
	return nil
}

// UpdateSeatMap replaces the seat map of a bus that is not approved
func (s *BusService) UpdateSeatMap(ctx context.Context, principal models.Principal, busID uuid.UUID, seats []models.SeatDefinition) (*models.Bus, error) {
	seatMap := models.SeatMap(seats)
	if err := seatMap.Validate(s.policy); err != nil {
		return nil, models.NewBookingError(models.KindInvalidRequest, nil, "%v", err)
	}

	return s.transition(ctx, busID, "update seat map", func(bus *models.Bus) error {
		if err := checkOwner(principal, bus); err != nil {
			return err
		}
		if !bus.SeatMapEditable() {
			return &models.BookingError{
				Kind:    models.KindInvalidBusState,
				Message: "reopen the seat map before editing",
				Err:     models.ErrSeatMapFrozen,
			}
		}
		bus.SeatMap = seatMap
		return nil
	})
}

// SubmitForApproval sends a draft or rejected seat map to the admins
func (s *BusService) SubmitForApproval(ctx context.Context, principal models.Principal, busID uuid.UUID) (*models.Bus, error) {
	return s.transition(ctx, busID, "submit", func(bus *models.Bus) error {
		if err := checkOwner(principal, bus); err != nil {
			return err
		}
		if bus.Status != models.BusStatusDraft && bus.Status != models.BusStatusRejected {
			return invalidBusState(bus, "submit")
		}
		bus.Status = models.BusStatusPendingApproval
		return nil
	})
}

// Approve freezes the seat map. Trips may be derived from the bus afterwards.
func (s *BusService) Approve(ctx context.Context, busID uuid.UUID) (*models.Bus, error) {
	return s.transition(ctx, busID, "approve", func(bus *models.Bus) error {
		if bus.Status != models.BusStatusPendingApproval {
			return invalidBusState(bus, "approve")
		}
		if err := bus.SeatMap.Validate(s.policy); err != nil {
			return models.NewBookingError(models.KindInvalidRequest, nil, "%v", err)
		}
		now := s.clock()
		bus.Status = models.BusStatusApproved
		bus.ApprovedAt = &now
		bus.RejectionReason = nil
		return nil
	})
}

// Reject sends a pending seat map back to the operator
func (s *BusService) Reject(ctx context.Context, busID uuid.UUID, reason string) (*models.Bus, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, models.NewBookingError(models.KindInvalidRequest, nil, "a rejection reason is required")
	}
	return s.transition(ctx, busID, "reject", func(bus *models.Bus) error {
		if bus.Status != models.BusStatusPendingApproval {
			return invalidBusState(bus, "reject")
		}
		bus.Status = models.BusStatusRejected
		bus.RejectionReason = &reason
		return nil
	})
}

// ReopenSeatMap moves an approved bus back to draft and starts a new seat
// map version. Trip inventories already derived keep their own seat table.
func (s *BusService) ReopenSeatMap(ctx context.Context, busID uuid.UUID) (*models.Bus, error) {
	return s.transition(ctx, busID, "reopen", func(bus *models.Bus) error {
		if bus.Status != models.BusStatusApproved {
			return invalidBusState(bus, "reopen")
		}
		bus.Status = models.BusStatusDraft
		bus.SeatMapVersion++
		bus.ApprovedAt = nil
		return nil
	})
}

// transition loads the bus, applies fn and writes it back only if nobody
// moved the bus to another status in between
func (s *BusService) transition(ctx context.Context, busID uuid.UUID, action string, fn func(bus *models.Bus) error) (*models.Bus, error) {
	bus, err := s.GetBus(ctx, busID)
	if err != nil {
		return nil, err
	}
	from := bus.Status

	if err := fn(bus); err != nil {
		return nil, err
	}
	bus.UpdatedAt = s.clock()

	if err := s.buses.UpdateBus(ctx, bus, from); err != nil {
		if errors.Is(err, database.ErrVersionConflict) {
			return nil, models.NewBookingError(models.KindConcurrentModification, nil, "bus %s changed during %s, retry", busID, action)
		}
		return nil, fmt.Errorf("failed to %s bus: %w", action, err)
	}

	s.logger.WithFields(logrus.Fields{
		"bus_id": bus.ID,
		"action": action,
		"from":   from,
		"to":     bus.Status,
	}).Info("Bus updated")
	return bus, nil
}

func invalidBusState(bus *models.Bus, action string) error {
	return models.NewBookingError(models.KindInvalidBusState, nil, "cannot %s a bus in status %s", action, bus.Status)
}

// ============================================================================
// ROUTE ASSIGNMENTS
// ============================================================================

// CreateAssignment binds an approved bus to a route and daily departure
func (s *BusService) CreateAssignment(ctx context.Context, req *models.CreateAssignmentRequest) (*models.BusRouteAssignment, error) {
	busID, err := uuid.Parse(req.BusID)
	if err != nil {
		return nil, models.NewBookingError(models.KindInvalidRequest, nil, "invalid bus id")
	}
	if _, err := time.Parse("15:04", req.DepartureTime); err != nil {
		return nil, models.NewBookingError(models.KindInvalidRequest, nil, "departure_time must be HH:MM")
	}
	if req.DurationMinutes <= 0 || req.BaseFare <= 0 {
		return nil, models.NewBookingError(models.KindInvalidRequest, nil, "duration and base fare must be positive")
	}
	origin := strings.TrimSpace(req.Origin)
	destination := strings.TrimSpace(req.Destination)
	if origin == "" || destination == "" || strings.EqualFold(origin, destination) {
		return nil, models.NewBookingError(models.KindInvalidRequest, nil, "origin and destination must be set and differ")
	}
	days, err := normalizeOperatingDays(req.OperatingDays)
	if err != nil {
		return nil, err
	}

	bus, err := s.GetBus(ctx, busID)
	if err != nil {
		return nil, err
	}
	if !bus.IsApproved() {
		return nil, models.NewBookingError(models.KindInvalidBusState, nil, "bus %s seat map is not approved", bus.BusNumber)
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.currency
	}

	now := s.clock()
	a := &models.BusRouteAssignment{
		ID:              uuid.New(),
		BusID:           bus.ID,
		BusType:         bus.BusType,
		Origin:          origin,
		Destination:     destination,
		DepartureTime:   req.DepartureTime,
		DurationMinutes: req.DurationMinutes,
		BaseFare:        req.BaseFare,
		Currency:        currency,
		OperatingDays:   days,
		Active:          true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.assignments.CreateAssignment(ctx, a); err != nil {
		return nil, fmt.Errorf("failed to create assignment: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"assignment_id": a.ID,
		"bus_id":        a.BusID,
		"route":         a.Origin + " -> " + a.Destination,
		"departure":     a.DepartureTime,
	}).Info("Route assignment created")
	return a, nil
}

func normalizeOperatingDays(raw []int) (models.IntArray, error) {
	seen := make(map[int]bool, len(raw))
	days := models.IntArray{}
	for _, d := range raw {
		if d < 0 || d > 6 {
			return nil, models.NewBookingError(models.KindInvalidRequest, nil, "operating day %d is outside 0-6", d)
		}
		if !seen[d] {
			seen[d] = true
			days = append(days, d)
		}
	}
	sort.Ints(days)
	return days, nil
}
