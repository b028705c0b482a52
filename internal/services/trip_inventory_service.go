package services

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smarttransit/seat-booking-core/internal/database"
	"github.com/smarttransit/seat-booking-core/internal/models"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/sync/singleflight"
)

// TripInventoryService derives trip inventories from bus route assignments
// and approved seat maps. Inventories are created on first reference and
// ahead of time by the materialize job.
type TripInventoryService struct {
	store       InventoryStore
	assignments AssignmentStore
	buses       BusStore
	location    *time.Location
	clock       Clock
	logger      *logrus.Logger

	group singleflight.Group
}

// NewTripInventoryService creates a new TripInventoryService
func NewTripInventoryService(
	store InventoryStore,
	assignments AssignmentStore,
	buses BusStore,
	location *time.Location,
	clock Clock,
	logger *logrus.Logger,
) *TripInventoryService {
	if location == nil {
		location = time.UTC
	}
	if clock == nil {
		clock = time.Now
	}
	return &TripInventoryService{
		store:       store,
		assignments: assignments,
		buses:       buses,
		location:    location,
		clock:       clock,
		logger:      logger,
	}
}

// EnsureInventory returns the stored inventory of a trip, materializing it
// if this is the first reference. Concurrent first references share one
// materialization.
func (s *TripInventoryService) EnsureInventory(ctx context.Context, tripID models.TripID) (*models.TripInventory, error) {
	inv, err := s.store.GetInventory(ctx, tripID)
	if err == nil {
		return inv, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("failed to load trip inventory: %w", err)
	}

	v, err, _ := s.group.Do(string(tripID), func() (interface{}, error) {
		inv, _, err := s.materialize(ctx, tripID)
		return inv, err
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.TripInventory).Clone(), nil
}

func (s *TripInventoryService) materialize(ctx context.Context, tripID models.TripID) (*models.TripInventory, bool, error) {
	// 1. Trip identity names an assignment and a date
	_, assignmentID, date, err := models.ParseTripID(string(tripID))
	if err != nil {
		return nil, false, &models.BookingError{Kind: models.KindTripNotFound, Message: "unknown trip", Err: err}
	}

	// 2. The assignment must run that day
	a, err := s.assignments.GetAssignment(ctx, assignmentID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, false, models.NewBookingError(models.KindTripNotFound, nil, "trip %s not found", tripID)
		}
		return nil, false, fmt.Errorf("failed to load assignment: %w", err)
	}
	if !a.OperatesOn(date) {
		return nil, false, models.NewBookingError(models.KindTripNotFound, nil, "assignment does not run on %s", date.Format(models.DateLayout))
	}

	// 3. The bus seat map must be approved and therefore frozen
	bus, err := s.buses.GetBus(ctx, a.BusID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, false, models.NewBookingError(models.KindTripNotFound, nil, "bus for trip %s not found", tripID)
		}
		return nil, false, fmt.Errorf("failed to load bus: %w", err)
	}
	if !bus.IsApproved() {
		return nil, false, models.NewBookingError(models.KindTripNotFound, nil, "bus %s is not approved for service", bus.BusNumber)
	}

	departure, err := a.DepartureOn(date, s.location)
	if err != nil {
		return nil, false, err
	}

	inv := models.NewTripInventory(a, bus, date, departure, s.clock())
	stored, created, err := s.store.CreateInventoryIfAbsent(ctx, inv)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create trip inventory: %w", err)
	}
	if created {
		s.logger.WithFields(logrus.Fields{
			"trip_id":      tripID,
			"bus_id":       bus.ID,
			"seats":        len(inv.Seats),
			"departure_at": departure,
		}).Info("Trip inventory materialized")
	}
	return stored, created, nil
}

// MaterializeUpcoming creates inventories for every active assignment over
// the next days, starting today in the trip timezone. It returns how many
// inventories were created by this call.
func (s *TripInventoryService) MaterializeUpcoming(ctx context.Context, days int) (int, error) {
	assignments, err := s.assignments.ListActiveAssignments(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list active assignments: %w", err)
	}

	now := s.clock().In(s.location)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	var created atomic.Int64
	p := pool.New().WithErrors().WithMaxGoroutines(4)
	for i := range assignments {
		a := assignments[i]
		p.Go(func() error {
			for d := 0; d < days; d++ {
				date := today.AddDate(0, 0, d)
				if !a.OperatesOn(date) {
					continue
				}
				if departure, err := a.DepartureOn(date, s.location); err == nil && departure.Before(now) {
					continue
				}
				tripID := models.NewTripID(a.ID, date)
				if _, err := s.store.GetInventory(ctx, tripID); err == nil {
					continue
				}
				_, ok, err := s.materialize(ctx, tripID)
				if err != nil {
					if models.KindOf(err) == models.KindTripNotFound {
						s.logger.WithError(err).WithField("trip_id", tripID).Warn("Skipping trip")
						return nil
					}
					return fmt.Errorf("trip %s: %w", tripID, err)
				}
				if ok {
					created.Add(1)
				}
			}
			return nil
		})
	}
	err = p.Wait()
	return int(created.Load()), err
}

// ArchiveDeparted archives inventories whose trips departed more than
// retention ago
func (s *TripInventoryService) ArchiveDeparted(ctx context.Context, retention time.Duration) (int64, time.Time, error) {
	cutoff := s.clock().Add(-retention)
	n, err := s.store.ArchiveInventories(ctx, cutoff)
	if err != nil {
		return 0, cutoff, fmt.Errorf("failed to archive trip inventories: %w", err)
	}
	if n > 0 {
		s.logger.WithFields(logrus.Fields{
			"archived": n,
			"cutoff":   cutoff,
		}).Info("Archived departed trip inventories")
	}
	return n, cutoff, nil
}
