package services

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/seat-booking-core/internal/database"
	"github.com/smarttransit/seat-booking-core/internal/models"
	"github.com/stretchr/testify/require"
)

// tripDay is the operating date used by the fixtures. The assignment leaves
// at 08:00 UTC and the clock starts at 06:00 the same day.
var tripDay = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(start time.Time) *testClock {
	return &testClock{now: start}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type fixture struct {
	ctx        context.Context
	store      *database.MemoryStore
	clock      *testClock
	logger     *logrus.Logger
	bus        *models.Bus
	assignment *models.BusRouteAssignment
	inventory  *TripInventoryService
	ledger     *ReservationLedger
	tripID     models.TripID
}

func testLedgerConfig() LedgerConfig {
	return LedgerConfig{
		DefaultHoldTTL:     10 * time.Minute,
		MaxHoldTTL:         30 * time.Minute,
		MaxSeatsPerBooking: 6,
		SweepBatchSize:     100,
	}
}

// newFixture builds an approved 40-seat bus running Colombo → Kandy daily
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := database.NewMemoryStore()
	clock := newTestClock(tripDay.Add(6 * time.Hour))
	logger := testLogger()

	bus := &models.Bus{
		ID:             uuid.New(),
		BusNumber:      "NB-1234",
		BusType:        models.BusTypeAC,
		Status:         models.BusStatusApproved,
		SeatMap:        models.GenerateSeatMap(10, 4),
		SeatMapVersion: 1,
		CreatedAt:      clock.Now(),
		UpdatedAt:      clock.Now(),
	}
	require.NoError(t, store.CreateBus(ctx, bus))

	assignment := &models.BusRouteAssignment{
		ID:              uuid.New(),
		BusID:           bus.ID,
		BusType:         bus.BusType,
		Origin:          "Colombo",
		Destination:     "Kandy",
		DepartureTime:   "08:00",
		DurationMinutes: 180,
		BaseFare:        1000,
		Currency:        "LKR",
		Active:          true,
	}
	require.NoError(t, store.CreateAssignment(ctx, assignment))

	inventory := NewTripInventoryService(store, store, store, time.UTC, clock.Now, logger)
	ledger := NewReservationLedger(store, inventory, testLedgerConfig(), clock.Now, logger)

	return &fixture{
		ctx:        ctx,
		store:      store,
		clock:      clock,
		logger:     logger,
		bus:        bus,
		assignment: assignment,
		inventory:  inventory,
		ledger:     ledger,
		tripID:     models.NewTripID(assignment.ID, tripDay),
	}
}

func (f *fixture) hold(t *testing.T, seats ...string) *models.Hold {
	t.Helper()
	h, err := f.ledger.PlaceHold(f.ctx, models.PlaceHoldRequest{
		TripID:      f.tripID,
		SeatNumbers: seats,
		OwnerToken:  "owner",
	})
	require.NoError(t, err)
	return h
}

func passengers(seats ...string) models.SeatDetails {
	out := make(models.SeatDetails, len(seats))
	for i, s := range seats {
		out[i] = models.SeatDetail{
			SeatNumber:      s,
			PassengerName:   "Passenger " + s,
			PassengerAge:    30,
			PassengerGender: models.GenderFemale,
		}
	}
	return out
}

func (f *fixture) paidPayload(seats ...string) *models.BookingPayload {
	return &models.BookingPayload{
		PrincipalID: uuid.New(),
		SeatDetails: passengers(seats...),
		Pricing:     models.PricingSnapshot{BaseFare: 1000, TotalAmount: 1000 * float64(len(seats)), Currency: "LKR"},
		Payment: &models.ChargeResult{
			Status:        models.ChargeSuccess,
			TransactionID: "TX-1",
			CheckedAt:     f.clock.Now(),
		},
		PaymentMethod: "card",
	}
}

func (f *fixture) book(t *testing.T, seats ...string) *models.Booking {
	t.Helper()
	h := f.hold(t, seats...)
	b, err := f.ledger.ConfirmHold(f.ctx, h.ID, f.paidPayload(seats...))
	require.NoError(t, err)
	return b
}

func (f *fixture) seatState(t *testing.T, seat string) models.SeatStateKind {
	t.Helper()
	snap, err := f.ledger.GetAvailability(f.ctx, f.tripID)
	require.NoError(t, err)
	for _, s := range snap.Seats {
		if s.SeatNumber == seat {
			return s.State
		}
	}
	t.Fatalf("seat %s not in snapshot", seat)
	return ""
}
