package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/smarttransit/seat-booking-core/internal/database"
	"github.com/smarttransit/seat-booking-core/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlaceHold_HoldsAllSeats(t *testing.T) {
	f := newFixture(t)

	h := f.hold(t, "1a", "1B")

	assert.Equal(t, models.SeatNumbers{"1A", "1B"}, h.SeatNumbers)
	assert.Equal(t, models.HoldActive, h.Status)
	assert.Equal(t, f.clock.Now().Add(10*time.Minute), h.ExpiresAt)
	assert.NotEqual(t, "owner", h.OwnerDigest)
	assert.Len(t, h.OwnerDigest, 64)
	assert.Equal(t, models.SeatHeld, f.seatState(t, "1A"))
	assert.Equal(t, models.SeatHeld, f.seatState(t, "1B"))
	assert.Equal(t, models.SeatFree, f.seatState(t, "1C"))
}

// Scenario A
func TestPlaceHold_ConcurrentOverlapExactlyOneWins(t *testing.T) {
	f := newFixture(t)
	// materialize first so both requests race on the seat table only
	_, err := f.ledger.GetAvailability(f.ctx, f.tripID)
	require.NoError(t, err)

	requests := [][]string{{"1A", "1B"}, {"1B", "1C"}}
	errs := make([]error, len(requests))
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i, seats := range requests {
		wg.Add(1)
		go func(i int, seats []string) {
			defer wg.Done()
			<-start
			_, errs[i] = f.ledger.PlaceHold(f.ctx, models.PlaceHoldRequest{TripID: f.tripID, SeatNumbers: seats})
		}(i, seats)
	}
	close(start)
	wg.Wait()

	var failures []error
	for _, err := range errs {
		if err != nil {
			failures = append(failures, err)
		}
	}
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0], models.ErrSeatConflict)
	assert.Equal(t, []string{"1B"}, models.OffendingSeats(failures[0]))
}

// Scenario E
func TestPlaceHold_UnknownSeatCreatesNothing(t *testing.T) {
	f := newFixture(t)

	_, err := f.ledger.PlaceHold(f.ctx, models.PlaceHoldRequest{
		TripID:      f.tripID,
		SeatNumbers: []string{"1A", "99Z"},
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInvalidSeatReference)
	assert.Equal(t, []string{"99Z"}, models.OffendingSeats(err))
	assert.Equal(t, models.SeatFree, f.seatState(t, "1A"))

	holds, err := f.store.ListActiveHolds(f.ctx, f.tripID)
	require.NoError(t, err)
	assert.Empty(t, holds)
}

func TestPlaceHold_Validation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name  string
		seats []string
		want  error
	}{
		{"empty", nil, models.ErrInvalidSeatReference},
		{"duplicate", []string{"1A", "1a"}, models.ErrInvalidSeatReference},
		{"too many", []string{"1A", "1B", "1C", "1D", "2A", "2B", "2C"}, models.ErrInvalidSeatReference},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ledger.PlaceHold(f.ctx, models.PlaceHoldRequest{TripID: f.tripID, SeatNumbers: tt.seats})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestPlaceHold_UnknownTrip(t *testing.T) {
	f := newFixture(t)

	_, err := f.ledger.PlaceHold(f.ctx, models.PlaceHoldRequest{
		TripID:      models.NewTripID(uuid.New(), tripDay),
		SeatNumbers: []string{"1A"},
	})
	assert.ErrorIs(t, err, models.ErrTripNotFound)
}

func TestPlaceHold_DepartedTrip(t *testing.T) {
	f := newFixture(t)
	f.clock.Advance(3 * time.Hour)

	_, err := f.ledger.PlaceHold(f.ctx, models.PlaceHoldRequest{TripID: f.tripID, SeatNumbers: []string{"1A"}})
	assert.ErrorIs(t, err, models.ErrTripDeparted)
}

func TestPlaceHold_LapsedHoldSeatsAreClaimable(t *testing.T) {
	f := newFixture(t)
	first, err := f.ledger.PlaceHold(f.ctx, models.PlaceHoldRequest{
		TripID: f.tripID, SeatNumbers: []string{"2A"}, TTL: time.Minute,
	})
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	second := f.hold(t, "2A")

	assert.NotEqual(t, first.ID, second.ID)
	stored, err := f.store.GetHold(f.ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.HoldExpired, stored.Status)
}

func TestPlaceHold_TTLIsCapped(t *testing.T) {
	f := newFixture(t)

	h, err := f.ledger.PlaceHold(f.ctx, models.PlaceHoldRequest{
		TripID: f.tripID, SeatNumbers: []string{"3A"}, TTL: 2 * time.Hour,
	})
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now().Add(30*time.Minute), h.ExpiresAt)
}

func TestPlaceHold_ConcurrentHoldsAreDisjoint(t *testing.T) {
	f := newFixture(t)

	var mu sync.Mutex
	var held [][]string
	var wg sync.WaitGroup
	for g := 0; g < 50; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			row := g%10 + 1
			col := g % 3
			seats := []string{
				fmt.Sprintf("%d%c", row, 'A'+col),
				fmt.Sprintf("%d%c", row, 'A'+col+1),
			}
			h, err := f.ledger.PlaceHold(f.ctx, models.PlaceHoldRequest{TripID: f.tripID, SeatNumbers: seats})
			if err != nil {
				if !errors.Is(err, models.ErrSeatConflict) {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			mu.Lock()
			held = append(held, h.SeatNumbers)
			mu.Unlock()
		}(g)
	}
	wg.Wait()

	owner := make(map[string]int)
	total := 0
	for i, seats := range held {
		for _, s := range seats {
			prev, taken := owner[s]
			assert.False(t, taken, "seat %s held by holds %d and %d", s, prev, i)
			owner[s] = i
			total++
		}
	}
	require.NotEmpty(t, held)

	snap, err := f.ledger.GetAvailability(f.ctx, f.tripID)
	require.NoError(t, err)
	assert.Equal(t, total, snap.HeldSeats)
	assert.Equal(t, 40, snap.FreeSeats+snap.HeldSeats)
}

func TestConfirmHold_RoundTrip(t *testing.T) {
	f := newFixture(t)
	h := f.hold(t, "4A", "4B")

	b, err := f.ledger.ConfirmHold(f.ctx, h.ID, f.paidPayload("4B", "4A"))
	require.NoError(t, err)

	assert.ElementsMatch(t, []string(h.SeatNumbers), b.SeatNumbers())
	assert.Equal(t, models.BookingStatusConfirmed, b.Status)
	assert.Equal(t, models.PaymentStatusPaid, b.PaymentStatus)
	assert.Regexp(t, `^BK[0-9A-Z]{8}$`, b.BookingReference)
	assert.Equal(t, "Colombo", b.Journey.Origin)
	assert.Equal(t, "2026-03-02", b.Journey.JourneyDate)
	assert.Equal(t, models.SeatConfirmed, f.seatState(t, "4A"))
	assert.Equal(t, models.SeatConfirmed, f.seatState(t, "4B"))

	stored, err := f.store.GetHold(f.ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, models.HoldConfirmed, stored.Status)
}

func TestConfirmHold_RequiresSuccessfulPayment(t *testing.T) {
	f := newFixture(t)
	h := f.hold(t, "4C")

	payload := f.paidPayload("4C")
	payload.Payment.Status = models.ChargePending
	_, err := f.ledger.ConfirmHold(f.ctx, h.ID, payload)

	assert.ErrorIs(t, err, models.ErrPaymentFailed)
	assert.Equal(t, models.SeatHeld, f.seatState(t, "4C"))
}

func TestConfirmHold_SeatDetailsMustMatchHold(t *testing.T) {
	f := newFixture(t)
	h := f.hold(t, "5A", "5B")

	_, err := f.ledger.ConfirmHold(f.ctx, h.ID, f.paidPayload("5A", "5C"))
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInvalidSeatReference)
	assert.Equal(t, []string{"5C"}, models.OffendingSeats(err))

	_, err = f.ledger.ConfirmHold(f.ctx, h.ID, f.paidPayload("5A"))
	require.Error(t, err)
	assert.Equal(t, []string{"5B"}, models.OffendingSeats(err))
}

// Scenario B
func TestConfirmHold_AfterTTLIsHoldExpired(t *testing.T) {
	f := newFixture(t)
	h, err := f.ledger.PlaceHold(f.ctx, models.PlaceHoldRequest{
		TripID: f.tripID, SeatNumbers: []string{"6A"}, TTL: 60 * time.Second,
	})
	require.NoError(t, err)

	f.clock.Advance(61 * time.Second)
	_, err = f.ledger.ConfirmHold(f.ctx, h.ID, f.paidPayload("6A"))

	assert.ErrorIs(t, err, models.ErrHoldExpired)
	assert.Equal(t, models.SeatFree, f.seatState(t, "6A"))

	// Repeating the confirm stays HoldExpired
	_, err = f.ledger.ConfirmHold(f.ctx, h.ID, f.paidPayload("6A"))
	assert.ErrorIs(t, err, models.ErrHoldExpired)
}

func TestConfirmHold_ReleasedHold(t *testing.T) {
	f := newFixture(t)
	h := f.hold(t, "6B")
	require.NoError(t, f.ledger.ReleaseHold(f.ctx, h.ID))

	_, err := f.ledger.ConfirmHold(f.ctx, h.ID, f.paidPayload("6B"))
	assert.ErrorIs(t, err, models.ErrHoldExpired)
}

func TestConfirmHold_Twice(t *testing.T) {
	f := newFixture(t)
	h := f.hold(t, "6C")
	_, err := f.ledger.ConfirmHold(f.ctx, h.ID, f.paidPayload("6C"))
	require.NoError(t, err)

	_, err = f.ledger.ConfirmHold(f.ctx, h.ID, f.paidPayload("6C"))
	assert.ErrorIs(t, err, models.ErrInvalidBookingState)
}

func TestConfirmHold_UnknownHold(t *testing.T) {
	f := newFixture(t)
	_, err := f.ledger.ConfirmHold(f.ctx, uuid.New(), f.paidPayload("1A"))
	assert.ErrorIs(t, err, models.ErrHoldNotFound)
}

func TestReleaseHold_Idempotent(t *testing.T) {
	f := newFixture(t)
	h := f.hold(t, "7A", "7B")

	require.NoError(t, f.ledger.ReleaseHold(f.ctx, h.ID))
	snapOnce, err := f.ledger.GetAvailability(f.ctx, f.tripID)
	require.NoError(t, err)

	require.NoError(t, f.ledger.ReleaseHold(f.ctx, h.ID))
	snapTwice, err := f.ledger.GetAvailability(f.ctx, f.tripID)
	require.NoError(t, err)

	assert.Equal(t, snapOnce.Version, snapTwice.Version)
	assert.Equal(t, snapOnce.FreeSeats, snapTwice.FreeSeats)
	assert.Equal(t, 40, snapTwice.FreeSeats)

	// Unknown holds are a no-op as well
	assert.NoError(t, f.ledger.ReleaseHold(f.ctx, uuid.New()))
}

func TestReleaseHold_ConfirmedHoldKeepsBooking(t *testing.T) {
	f := newFixture(t)
	b := f.book(t, "7C")

	require.NoError(t, f.ledger.ReleaseHold(f.ctx, b.HoldID))
	assert.Equal(t, models.SeatConfirmed, f.seatState(t, "7C"))
}

func TestExpireHolds_FreesLapsedHolds(t *testing.T) {
	f := newFixture(t)
	short, err := f.ledger.PlaceHold(f.ctx, models.PlaceHoldRequest{
		TripID: f.tripID, SeatNumbers: []string{"8A"}, TTL: time.Minute,
	})
	require.NoError(t, err)
	f.hold(t, "8B")

	f.clock.Advance(2 * time.Minute)
	n, err := f.ledger.ExpireHolds(f.ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := f.store.GetHold(f.ctx, short.ID)
	require.NoError(t, err)
	assert.Equal(t, models.HoldExpired, stored.Status)
	assert.Equal(t, models.SeatFree, f.seatState(t, "8A"))
	assert.Equal(t, models.SeatHeld, f.seatState(t, "8B"))

	n, err = f.ledger.ExpireHolds(f.ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestExpireHolds_Batches(t *testing.T) {
	f := newFixture(t)
	cfg := testLedgerConfig()
	cfg.SweepBatchSize = 2
	f.ledger = NewReservationLedger(f.store, f.inventory, cfg, f.clock.Now, f.logger)

	for row := 1; row <= 5; row++ {
		_, err := f.ledger.PlaceHold(f.ctx, models.PlaceHoldRequest{
			TripID: f.tripID, SeatNumbers: []string{fmt.Sprintf("%dD", row)}, TTL: time.Minute,
		})
		require.NoError(t, err)
	}

	f.clock.Advance(time.Minute)
	n, err := f.ledger.ExpireHolds(f.ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestLedger_PublishesEvents(t *testing.T) {
	f := newFixture(t)

	var mu sync.Mutex
	var seen []models.LedgerEventType
	f.ledger.Subscribe(func(ev models.LedgerEvent) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, ev.Type)
	})

	h := f.hold(t, "9A")
	require.NoError(t, f.ledger.ReleaseHold(f.ctx, h.ID))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []models.LedgerEventType{models.EventHoldPlaced, models.EventHoldReleased}, seen)
}

type recordingScheduler struct {
	mu  sync.Mutex
	ats []time.Time
}

func (r *recordingScheduler) ScheduleSweep(at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ats = append(r.ats, at)
}

func TestPlaceHold_SchedulesSweep(t *testing.T) {
	f := newFixture(t)
	sched := &recordingScheduler{}
	f.ledger.SetSweepScheduler(sched)

	h := f.hold(t, "9B")

	sched.mu.Lock()
	defer sched.mu.Unlock()
	assert.Equal(t, []time.Time{h.ExpiresAt}, sched.ats)
}

// ============================================================================
// CANCEL / MODIFY / MARK
// ============================================================================

// Scenario C
func TestCancelBooking_FreesSeats(t *testing.T) {
	f := newFixture(t)
	b := f.book(t, "10A", "10B")

	cancelled, err := f.ledger.CancelBooking(f.ctx, b.ID, "plans changed")
	require.NoError(t, err)

	assert.Equal(t, models.BookingStatusCancelled, cancelled.Status)
	assert.Equal(t, models.PaymentStatusRefundPending, cancelled.PaymentStatus)
	assert.True(t, cancelled.NeedsRefund())
	assert.Equal(t, models.SeatFree, f.seatState(t, "10A"))
	assert.Equal(t, models.SeatFree, f.seatState(t, "10B"))

	// Immediately holdable again
	f.hold(t, "10A", "10B")

	_, err = f.ledger.CancelBooking(f.ctx, b.ID, "again")
	assert.ErrorIs(t, err, models.ErrInvalidBookingState)
}

// Scenario D
func TestCancelBooking_AfterDeparture(t *testing.T) {
	f := newFixture(t)
	b := f.book(t, "10C")
	f.clock.Advance(2 * time.Hour)

	_, err := f.ledger.CancelBooking(f.ctx, b.ID, "too late")
	assert.ErrorIs(t, err, models.ErrTripDeparted)

	stored, err := f.ledger.GetBooking(f.ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusConfirmed, stored.Status)
	assert.Equal(t, models.SeatConfirmed, f.seatState(t, "10C"))
}

func TestCancelBooking_Cutoff(t *testing.T) {
	f := newFixture(t)
	cfg := testLedgerConfig()
	cfg.CancellationCutoff = 3 * time.Hour
	f.ledger = NewReservationLedger(f.store, f.inventory, cfg, f.clock.Now, f.logger)
	b := f.book(t, "10D")

	_, err := f.ledger.CancelBooking(f.ctx, b.ID, "inside cutoff")
	assert.ErrorIs(t, err, models.ErrTripDeparted)
}

func TestCancelBooking_Unknown(t *testing.T) {
	f := newFixture(t)
	_, err := f.ledger.CancelBooking(f.ctx, uuid.New(), "x")
	assert.ErrorIs(t, err, models.ErrBookingNotFound)
}

func TestModifyBooking_MovesSeats(t *testing.T) {
	f := newFixture(t)
	b := f.book(t, "2A", "2B")

	updated, err := f.ledger.ModifyBooking(f.ctx, b.ID, passengers("2B", "3C"))
	require.NoError(t, err)

	assert.Equal(t, []string{"2B", "3C"}, updated.SeatNumbers())
	assert.Equal(t, models.SeatFree, f.seatState(t, "2A"))
	assert.Equal(t, models.SeatConfirmed, f.seatState(t, "2B"))
	assert.Equal(t, models.SeatConfirmed, f.seatState(t, "3C"))
}

func TestModifyBooking_NormalizesPassengerDetails(t *testing.T) {
	f := newFixture(t)
	b := f.book(t, "2A")

	details := passengers("2b")
	details[0].PassengerGender = "FEMALE"
	_, err := f.ledger.ModifyBooking(f.ctx, b.ID, details)
	require.NoError(t, err)

	stored, err := f.store.GetBooking(f.ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, stored.SeatDetails, 1)
	assert.Equal(t, "2B", stored.SeatDetails[0].SeatNumber)
	assert.Equal(t, models.GenderFemale, stored.SeatDetails[0].PassengerGender)
}

func TestModifyBooking_Rejections(t *testing.T) {
	f := newFixture(t)
	b := f.book(t, "2A")
	f.hold(t, "2C")

	_, err := f.ledger.ModifyBooking(f.ctx, b.ID, passengers("2C"))
	assert.ErrorIs(t, err, models.ErrSeatConflict)

	_, err = f.ledger.ModifyBooking(f.ctx, b.ID, passengers("2D", "3D"))
	assert.ErrorIs(t, err, models.ErrInvalidRequest)

	_, err = f.ledger.ModifyBooking(f.ctx, b.ID, passengers("77Q"))
	assert.ErrorIs(t, err, models.ErrInvalidSeatReference)

	f.clock.Advance(2 * time.Hour)
	_, err = f.ledger.ModifyBooking(f.ctx, b.ID, passengers("2D"))
	assert.ErrorIs(t, err, models.ErrTripDeparted)
	assert.Equal(t, models.SeatConfirmed, f.seatState(t, "2A"))
}

func TestMarkBookingStatus(t *testing.T) {
	f := newFixture(t)
	b := f.book(t, "3A")

	_, err := f.ledger.MarkBookingStatus(f.ctx, b.ID, models.BookingStatusCompleted)
	assert.ErrorIs(t, err, models.ErrInvalidBookingState, "not departed yet")

	f.clock.Advance(3 * time.Hour)
	updated, err := f.ledger.MarkBookingStatus(f.ctx, b.ID, models.BookingStatusNoShow)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusNoShow, updated.Status)

	_, err = f.ledger.MarkBookingStatus(f.ctx, b.ID, models.BookingStatusCompleted)
	assert.ErrorIs(t, err, models.ErrInvalidBookingState)

	_, err = f.ledger.MarkBookingStatus(f.ctx, b.ID, models.BookingStatusCancelled)
	assert.ErrorIs(t, err, models.ErrInvalidBookingState)
}

// ============================================================================
// OPTIMISTIC VERSIONING
// ============================================================================

func TestLedger_SharedStoreSeesOtherWriters(t *testing.T) {
	f := newFixture(t)
	other := NewReservationLedger(f.store, f.inventory, testLedgerConfig(), f.clock.Now, f.logger)

	f.hold(t, "1A")
	_, err := other.PlaceHold(f.ctx, models.PlaceHoldRequest{TripID: f.tripID, SeatNumbers: []string{"1A"}})
	assert.ErrorIs(t, err, models.ErrSeatConflict)

	h, err := other.PlaceHold(f.ctx, models.PlaceHoldRequest{TripID: f.tripID, SeatNumbers: []string{"1B"}})
	require.NoError(t, err)

	// The first ledger reloads before its next decision
	_, err = f.ledger.PlaceHold(f.ctx, models.PlaceHoldRequest{TripID: f.tripID, SeatNumbers: []string{"1B"}})
	assert.ErrorIs(t, err, models.ErrSeatConflict)
	require.NoError(t, f.ledger.ReleaseHold(f.ctx, h.ID))
	assert.Equal(t, models.SeatFree, f.seatState(t, "1B"))
}

// conflictingStore reports a version conflict on every write
type conflictingStore struct {
	*database.MemoryStore
	writes atomic.Int32
}

func (s *conflictingStore) ApplyMutation(_ context.Context, _ *models.TripMutation) error {
	s.writes.Add(1)
	return database.ErrVersionConflict
}

func TestLedger_ConflictRetriedOnceThenSurfaced(t *testing.T) {
	f := newFixture(t)
	store := &conflictingStore{MemoryStore: f.store}
	ledger := NewReservationLedger(store, f.inventory, testLedgerConfig(), f.clock.Now, f.logger)

	_, err := ledger.PlaceHold(f.ctx, models.PlaceHoldRequest{TripID: f.tripID, SeatNumbers: []string{"1A"}})

	assert.ErrorIs(t, err, models.ErrConcurrentModification)
	assert.Equal(t, int32(2), store.writes.Load())
	assert.Equal(t, models.SeatFree, f.seatState(t, "1A"))
}

func TestNewBookingReference(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		ref := NewBookingReference()
		assert.Regexp(t, `^BK[0-9ABCDEFGHJKMNPQRSTVWXYZ]{8}$`, ref)
		seen[ref] = true
	}
	assert.Greater(t, len(seen), 990)
}

func TestEvictDeparted(t *testing.T) {
	f := newFixture(t)
	f.hold(t, "1A")

	assert.Zero(t, f.ledger.EvictDeparted(f.clock.Now()))
	assert.Equal(t, 1, f.ledger.EvictDeparted(f.clock.Now().Add(24*time.Hour)))

	// Evicted trips reload from the store
	assert.Equal(t, models.SeatHeld, f.seatState(t, "1A"))
}
