package services

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/smarttransit/seat-booking-core/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureInventory_MaterializesOnce(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	results := make([]*models.TripInventory, 20)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			inv, err := f.inventory.EnsureInventory(f.ctx, f.tripID)
			if err != nil {
				t.Errorf("ensure inventory: %v", err)
				return
			}
			results[i] = inv
		}(i)
	}
	wg.Wait()

	for _, inv := range results {
		require.NotNil(t, inv)
		assert.Equal(t, int64(1), inv.Version)
		assert.Len(t, inv.Seats, 40)
	}
	inv := results[0]
	assert.Equal(t, tripDay.Add(8*time.Hour), inv.DepartureAt)
	assert.Equal(t, tripDay.Add(11*time.Hour), inv.ArrivalAt)
	assert.Equal(t, 1000.0, inv.BaseFare)
	assert.Equal(t, "1A", inv.Seats[0].SeatNumber)
	assert.Equal(t, models.SeatFree, inv.Seats[0].State)
}

func TestEnsureInventory_Rejections(t *testing.T) {
	f := newFixture(t)

	// Draft bus
	draft := &models.Bus{ID: uuid.New(), BusNumber: "NB-0001", BusType: models.BusTypeAC, Status: models.BusStatusDraft, SeatMap: models.GenerateSeatMap(5, 4)}
	require.NoError(t, f.store.CreateBus(f.ctx, draft))
	onDraft := &models.BusRouteAssignment{ID: uuid.New(), BusID: draft.ID, Origin: "Galle", Destination: "Matara", DepartureTime: "09:00", DurationMinutes: 60, BaseFare: 300, Active: true}
	require.NoError(t, f.store.CreateAssignment(f.ctx, onDraft))

	// Weekday-only assignment; tripDay is a Monday
	weekend := &models.BusRouteAssignment{ID: uuid.New(), BusID: f.bus.ID, Origin: "Kandy", Destination: "Colombo", DepartureTime: "15:00", DurationMinutes: 180, BaseFare: 1000, Active: true, OperatingDays: models.IntArray{0, 6}}
	require.NoError(t, f.store.CreateAssignment(f.ctx, weekend))

	tests := []struct {
		name   string
		tripID models.TripID
	}{
		{"malformed", models.TripID("garbage")},
		{"unknown assignment", models.NewTripID(uuid.New(), tripDay)},
		{"draft bus", models.NewTripID(onDraft.ID, tripDay)},
		{"not operating", models.NewTripID(weekend.ID, tripDay)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.inventory.EnsureInventory(f.ctx, tt.tripID)
			assert.ErrorIs(t, err, models.ErrTripNotFound)
		})
	}
}

func TestMaterializeUpcoming(t *testing.T) {
	f := newFixture(t)

	// Today's 08:00 departure is still ahead at 06:00
	n, err := f.inventory.MaterializeUpcoming(f.ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = f.inventory.MaterializeUpcoming(f.ctx, 3)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = f.store.GetInventory(f.ctx, models.NewTripID(f.assignment.ID, tripDay.AddDate(0, 0, 2)))
	assert.NoError(t, err)
}

func TestArchiveDeparted(t *testing.T) {
	f := newFixture(t)
	_, err := f.inventory.EnsureInventory(f.ctx, f.tripID)
	require.NoError(t, err)

	n, _, err := f.inventory.ArchiveDeparted(f.ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(4 * time.Hour)
	n, _, err = f.inventory.ArchiveDeparted(f.ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	inv, err := f.store.GetInventory(f.ctx, f.tripID)
	require.NoError(t, err)
	assert.Equal(t, models.InventoryArchived, inv.Status)
}

func TestDefaultPricing(t *testing.T) {
	f := newFixture(t)
	inv, err := f.inventory.EnsureInventory(f.ctx, f.tripID)
	require.NoError(t, err)
	inv.Seats[0].PriceMultiplier = 1.5
	inv.Seats[0].Type = models.SeatTypeVIP

	snap, err := DefaultPricing(0.1)(inv, []string{"1A", "1B"})
	require.NoError(t, err)
	assert.Equal(t, 2500.0, snap.Subtotal)
	assert.Equal(t, 250.0, snap.Taxes)
	assert.Equal(t, 2750.0, snap.TotalAmount)
	assert.Equal(t, "LKR", snap.Currency)
	require.Len(t, snap.SeatFares, 2)
	assert.Equal(t, models.SeatTypeVIP, snap.SeatFares[0].Type)

	_, err = DefaultPricing(0)(inv, []string{"1A", "42Z"})
	assert.ErrorIs(t, err, models.ErrInvalidSeatReference)
}
