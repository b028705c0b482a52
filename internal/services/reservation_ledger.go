package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/seat-booking-core/internal/config"
	"github.com/smarttransit/seat-booking-core/internal/database"
	"github.com/smarttransit/seat-booking-core/internal/models"
	"golang.org/x/crypto/blake2b"
)

// LedgerConfig holds the hold and cancellation policy of the ledger
type LedgerConfig struct {
	DefaultHoldTTL     time.Duration
	MaxHoldTTL         time.Duration
	MaxSeatsPerBooking int
	CancellationCutoff time.Duration
	SweepBatchSize     int
}

// LedgerConfigFrom maps the booking section of the app config
func LedgerConfigFrom(cfg config.BookingConfig) LedgerConfig {
	return LedgerConfig{
		DefaultHoldTTL:     cfg.HoldTTL,
		MaxHoldTTL:         cfg.MaxHoldTTL,
		MaxSeatsPerBooking: cfg.MaxSeatsPerBooking,
		CancellationCutoff: cfg.CancellationCutoff,
		SweepBatchSize:     cfg.SweepBatchSize,
	}
}

// InventoryProvider returns the stored inventory of a trip, materializing
// it from the assignment and bus seat map on first reference.
type InventoryProvider interface {
	EnsureInventory(ctx context.Context, tripID models.TripID) (*models.TripInventory, error)
}

// SweepScheduler is told about every new hold deadline
type SweepScheduler interface {
	ScheduleSweep(at time.Time)
}

// tripLedger is the in-memory seat table of one trip. Every read and
// write of a trip goes through its mutex.
type tripLedger struct {
	mu    sync.Mutex
	inv   *models.TripInventory
	holds map[uuid.UUID]*models.Hold
}

// ReservationLedger is the single source of truth for seat state. Writers on
// different trips never contend; writers on the same trip are serialized and
// every committed change bumps the trip version in the store.
type ReservationLedger struct {
	store       LedgerStore
	inventories InventoryProvider
	config      LedgerConfig
	clock       Clock
	logger      *logrus.Logger

	mu    sync.Mutex
	trips map[models.TripID]*tripLedger

	subMu       sync.RWMutex
	subscribers []func(models.LedgerEvent)
	scheduler   SweepScheduler
}

// NewReservationLedger creates a new ReservationLedger
func NewReservationLedger(
	store LedgerStore,
	inventories InventoryProvider,
	config LedgerConfig,
	clock Clock,
	logger *logrus.Logger,
) *ReservationLedger {
	if clock == nil {
		clock = time.Now
	}
	if config.SweepBatchSize <= 0 {
		config.SweepBatchSize = 100
	}
	return &ReservationLedger{
		store:       store,
		inventories: inventories,
		config:      config,
		clock:       clock,
		logger:      logger,
		trips:       make(map[models.TripID]*tripLedger),
	}
}

// Subscribe registers fn for every committed ledger event. Events are
// delivered on a separate goroutine after the trip lock is released.
func (l *ReservationLedger) Subscribe(fn func(models.LedgerEvent)) {
	l.subMu.Lock()
	defer l.subMu.Unlock()
	l.subscribers = append(l.subscribers, fn)
}

// SetSweepScheduler wires the expiration service's timer
func (l *ReservationLedger) SetSweepScheduler(s SweepScheduler) {
	l.subMu.Lock()
	defer l.subMu.Unlock()
	l.scheduler = s
}

// ============================================================================
// PLACE HOLD
// ============================================================================

// PlaceHold atomically moves every requested seat from FREE to HELD, or
// changes nothing. Seats whose hold has lapsed count as FREE.
func (l *ReservationLedger) PlaceHold(ctx context.Context, req models.PlaceHoldRequest) (*models.Hold, error) {
	seats, err := l.normalizeSeats(req.SeatNumbers)
	if err != nil {
		return nil, err
	}
	ttl := l.resolveTTL(req.TTL)
	digest := ownerDigest(req.OwnerToken)

	var hold *models.Hold
	var events []models.LedgerEvent

	err = l.withTrip(ctx, req.TripID, func(t *tripLedger, now time.Time) (*models.TripMutation, error) {
		events = nil

		// 1. Trip must still be bookable
		if t.inv.Status != models.InventoryActive || t.inv.DepartedAt(now, 0) {
			return nil, models.NewBookingError(models.KindTripDeparted, nil, "trip %s has departed", t.inv.ID)
		}

		// 2. Every seat must exist in the seat map
		idx := t.inv.SeatIndex()
		var unknown []string
		for _, s := range seats {
			if _, ok := idx[s]; !ok {
				unknown = append(unknown, s)
			}
		}
		if len(unknown) > 0 {
			return nil, models.InvalidSeatError(unknown, "seats are not part of this trip")
		}

		// 3. Every seat must be claimable; lapsed holds are expired on the way
		m := &models.TripMutation{}
		lapsed := make(map[uuid.UUID]bool)
		var conflicts []string
		for _, s := range seats {
			seat := &t.inv.Seats[idx[s]]
			switch {
			case seat.State == models.SeatFree:
			case seat.EffectiveState(now) == models.SeatFree && seat.HoldID != nil:
				lapsed[*seat.HoldID] = true
			default:
				conflicts = append(conflicts, s)
			}
		}
		if len(conflicts) > 0 {
			sort.Slice(conflicts, func(i, j int) bool { return idx[conflicts[i]] < idx[conflicts[j]] })
			return nil, models.SeatConflictError(conflicts)
		}
		for holdID := range lapsed {
			if ev, ok := expireInto(t, m, holdID, now); ok {
				events = append(events, ev)
			}
		}

		// 4. Claim
		hold = &models.Hold{
			ID:          uuid.New(),
			TripID:      t.inv.ID,
			SeatNumbers: append(models.SeatNumbers(nil), seats...),
			OwnerDigest: digest,
			Status:      models.HoldActive,
			CreatedAt:   now,
			ExpiresAt:   now.Add(ttl),
		}
		for _, s := range seats {
			m.SeatUpdates = append(m.SeatUpdates, models.HeldSeat(s, hold.ID, hold.ExpiresAt))
		}
		m.NewHold = hold
		events = append(events, holdEvent(models.EventHoldPlaced, hold, now))
		return m, nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.WithFields(logrus.Fields{
		"trip_id":    req.TripID,
		"hold_id":    hold.ID,
		"seats":      seats,
		"expires_at": hold.ExpiresAt,
	}).Info("Seats held")

	l.publish(events)
	l.subMu.RLock()
	scheduler := l.scheduler
	l.subMu.RUnlock()
	if scheduler != nil {
		scheduler.ScheduleSweep(hold.ExpiresAt)
	}
	return hold.Clone(), nil
}

// ============================================================================
// CONFIRM HOLD
// ============================================================================

// ConfirmHold converts an active hold into a booking. The hold must be
// unexpired and the payment must have succeeded. Seat details must name
// exactly the held seats.
func (l *ReservationLedger) ConfirmHold(ctx context.Context, holdID uuid.UUID, payload *models.BookingPayload) (*models.Booking, error) {
	if payload == nil || !payload.Payment.Succeeded() {
		return nil, models.NewBookingError(models.KindPaymentFailed, nil, "payment for hold %s has not succeeded", holdID)
	}
	if err := validateSeatDetails(payload.SeatDetails, l.config.MaxSeatsPerBooking); err != nil {
		return nil, err
	}

	stored, err := l.store.GetHold(ctx, holdID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, models.NewBookingError(models.KindHoldNotFound, nil, "hold %s not found", holdID)
		}
		return nil, err
	}

	var booking *models.Booking
	for attempt := 0; attempt < maxReferenceAttempts; attempt++ {
		var events []models.LedgerEvent
		expired := false

		err = l.withTrip(ctx, stored.TripID, func(t *tripLedger, now time.Time) (*models.TripMutation, error) {
			events = nil
			expired = false

			h, ok := t.holds[holdID]
			if !ok {
				return nil, l.resolvedHoldError(ctx, holdID)
			}

			// A lapsed hold is expired in place and reported as such
			if h.IsExpiredAt(now) {
				m := &models.TripMutation{}
				if ev, ok := expireInto(t, m, holdID, now); ok {
					events = append(events, ev)
				}
				expired = true
				return m, nil
			}

			if err := matchHeldSeats(h, payload.SeatDetails); err != nil {
				return nil, err
			}

			booking = newBooking(t.inv, h, payload, now)
			m := &models.TripMutation{
				NewBooking:      booking,
				HoldTransitions: []models.HoldTransition{{HoldID: holdID, Status: models.HoldConfirmed, At: now}},
			}
			for _, s := range h.SeatNumbers {
				m.SeatUpdates = append(m.SeatUpdates, models.ConfirmedSeat(s, booking.ID))
			}
			ev := holdEvent(models.EventHoldConfirmed, h, now)
			ev.BookingID = &booking.ID
			events = append(events, ev)
			return m, nil
		})
		if errors.Is(err, database.ErrDuplicate) {
			l.logger.WithField("hold_id", holdID).Warn("Booking reference collision, regenerating")
			continue
		}
		if err != nil {
			return nil, err
		}

		l.publish(events)
		if expired {
			return nil, models.NewBookingError(models.KindHoldExpired, stored.SeatNumbers, "hold %s expired before confirmation", holdID)
		}

		l.logger.WithFields(logrus.Fields{
			"hold_id":           holdID,
			"booking_id":        booking.ID,
			"booking_reference": booking.BookingReference,
			"trip_id":           booking.TripID,
		}).Info("Hold confirmed into booking")
		return booking.Clone(), nil
	}
	return nil, fmt.Errorf("failed to allocate a unique booking reference: %w", err)
}

const maxReferenceAttempts = 3

// resolvedHoldError explains why a hold is no longer active
func (l *ReservationLedger) resolvedHoldError(ctx context.Context, holdID uuid.UUID) error {
	h, err := l.store.GetHold(ctx, holdID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return models.NewBookingError(models.KindHoldNotFound, nil, "hold %s not found", holdID)
		}
		return err
	}
	switch h.Status {
	case models.HoldConfirmed:
		return models.NewBookingError(models.KindInvalidBookingState, nil, "hold %s is already confirmed", holdID)
	case models.HoldReleased:
		return models.NewBookingError(models.KindHoldExpired, h.SeatNumbers, "hold %s was released", holdID)
	default:
		return models.NewBookingError(models.KindHoldExpired, h.SeatNumbers, "hold %s has expired", holdID)
	}
}

func newBooking(inv *models.TripInventory, h *models.Hold, payload *models.BookingPayload, now time.Time) *models.Booking {
	b := &models.Booking{
		ID:               uuid.New(),
		BookingReference: NewBookingReference(),
		TripID:           inv.ID,
		PrincipalID:      payload.PrincipalID,
		HoldID:           h.ID,
		AttemptID:        payload.AttemptID,
		SeatDetails:      append(models.SeatDetails(nil), payload.SeatDetails...),
		Journey: models.JourneyDetails{
			Origin:        inv.Origin,
			Destination:   inv.Destination,
			BoardingPoint: payload.BoardingPoint,
			DroppingPoint: payload.DroppingPoint,
			JourneyDate:   inv.TripDate.Format(models.DateLayout),
			DepartureAt:   inv.DepartureAt,
			ArrivalAt:     inv.ArrivalAt,
			BusType:       inv.BusType,
		},
		Pricing:       payload.Pricing,
		PaymentStatus: models.PaymentStatusPaid,
		Status:        models.BookingStatusConfirmed,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if payload.PaymentMethod != "" {
		method := payload.PaymentMethod
		b.PaymentMethod = &method
	}
	if tx := payload.Payment.TransactionID; tx != "" {
		b.TransactionID = &tx
	}
	paidAt := payload.Payment.CheckedAt
	if paidAt.IsZero() {
		paidAt = now
	}
	b.PaidAt = &paidAt
	return b
}

// ============================================================================
// RELEASE / EXPIRE
// ============================================================================

// ReleaseHold frees the seats of an active hold. Releasing an unknown,
// released, expired or confirmed hold is a no-op.
func (l *ReservationLedger) ReleaseHold(ctx context.Context, holdID uuid.UUID) error {
	stored, err := l.store.GetHold(ctx, holdID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil
		}
		return err
	}
	if stored.Status != models.HoldActive {
		return nil
	}

	var events []models.LedgerEvent
	err = l.withTrip(ctx, stored.TripID, func(t *tripLedger, now time.Time) (*models.TripMutation, error) {
		events = nil
		h, ok := t.holds[holdID]
		if !ok {
			return nil, nil
		}
		m := &models.TripMutation{
			HoldTransitions: []models.HoldTransition{{HoldID: holdID, Status: models.HoldReleased, At: now}},
		}
		m.SeatUpdates = freeHoldSeats(t.inv, holdID)
		events = append(events, holdEvent(models.EventHoldReleased, h, now))
		return m, nil
	})
	if err != nil {
		return err
	}

	if len(events) > 0 {
		l.logger.WithFields(logrus.Fields{
			"hold_id": holdID,
			"trip_id": stored.TripID,
		}).Info("Hold released")
	}
	l.publish(events)
	return nil
}

// ExpireHolds releases every active hold whose ttl elapsed at or before now
// and returns how many were expired. Errors on one trip do not stop the sweep
// of the others.
func (l *ReservationLedger) ExpireHolds(ctx context.Context, now time.Time) (int, error) {
	total := 0
	var firstErr error

	for {
		candidates, err := l.store.ListExpiredHolds(ctx, now, l.config.SweepBatchSize)
		if err != nil {
			return total, fmt.Errorf("failed to list expired holds: %w", err)
		}
		if len(candidates) == 0 {
			break
		}

		byTrip := make(map[models.TripID][]uuid.UUID)
		var order []models.TripID
		for _, h := range candidates {
			if _, seen := byTrip[h.TripID]; !seen {
				order = append(order, h.TripID)
			}
			byTrip[h.TripID] = append(byTrip[h.TripID], h.ID)
		}

		expiredThisRound := 0
		for _, tripID := range order {
			n, err := l.expireTripHolds(ctx, tripID, byTrip[tripID], now)
			if err != nil {
				l.logger.WithError(err).WithField("trip_id", tripID).Error("Failed to expire holds")
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			expiredThisRound += n
		}
		total += expiredThisRound

		if len(candidates) < l.config.SweepBatchSize || expiredThisRound == 0 {
			break
		}
	}

	if total > 0 {
		l.logger.WithField("expired", total).Info("Expired lapsed holds")
	}
	return total, firstErr
}

func (l *ReservationLedger) expireTripHolds(ctx context.Context, tripID models.TripID, holdIDs []uuid.UUID, now time.Time) (int, error) {
	var events []models.LedgerEvent
	err := l.withTrip(ctx, tripID, func(t *tripLedger, _ time.Time) (*models.TripMutation, error) {
		events = nil
		m := &models.TripMutation{}
		for _, id := range holdIDs {
			h, ok := t.holds[id]
			if !ok || !h.IsExpiredAt(now) {
				continue
			}
			if ev, ok := expireInto(t, m, id, now); ok {
				events = append(events, ev)
			}
		}
		if len(m.HoldTransitions) == 0 {
			return nil, nil
		}
		return m, nil
	})
	if err != nil {
		return 0, err
	}
	l.publish(events)
	return len(events), nil
}

// expireInto adds the expiry of an active hold to m
func expireInto(t *tripLedger, m *models.TripMutation, holdID uuid.UUID, now time.Time) (models.LedgerEvent, bool) {
	h, ok := t.holds[holdID]
	if !ok {
		return models.LedgerEvent{}, false
	}
	m.SeatUpdates = append(m.SeatUpdates, freeHoldSeats(t.inv, holdID)...)
	m.HoldTransitions = append(m.HoldTransitions, models.HoldTransition{HoldID: holdID, Status: models.HoldExpired, At: now})
	return holdEvent(models.EventHoldExpired, h, now), true
}

// freeHoldSeats frees the seats still held by holdID
func freeHoldSeats(inv *models.TripInventory, holdID uuid.UUID) []models.SeatUpdate {
	var updates []models.SeatUpdate
	for i := range inv.Seats {
		s := &inv.Seats[i]
		if s.State == models.SeatHeld && s.HoldID != nil && *s.HoldID == holdID {
			updates = append(updates, models.FreeSeat(s.SeatNumber))
		}
	}
	return updates
}

// ============================================================================
// BOOKING CHANGES
// ============================================================================

// CancelBooking frees a booking's seats. It is rejected once the trip is
// within the cancellation cutoff of departure.
func (l *ReservationLedger) CancelBooking(ctx context.Context, bookingID uuid.UUID, reason string) (*models.Booking, error) {
	tripID, err := l.tripOfBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	var updated *models.Booking
	var events []models.LedgerEvent
	err = l.withTrip(ctx, tripID, func(t *tripLedger, now time.Time) (*models.TripMutation, error) {
		events = nil
		current, err := l.store.GetBooking(ctx, bookingID)
		if err != nil {
			return nil, err
		}
		if !current.CanBeCancelled() {
			return nil, models.NewBookingError(models.KindInvalidBookingState, nil, "booking %s is %s", bookingID, current.Status)
		}
		if t.inv.DepartedAt(now, l.config.CancellationCutoff) {
			return nil, models.NewBookingError(models.KindTripDeparted, nil, "trip %s can no longer be cancelled", tripID)
		}

		updated = current.Clone()
		if err := updated.Cancel(reason, now); err != nil {
			return nil, models.NewBookingError(models.KindInvalidBookingState, nil, "%s", err.Error())
		}
		m := &models.TripMutation{
			BookingUpdate: updated,
			SeatUpdates:   freeBookingSeats(t.inv, bookingID),
		}
		events = append(events, bookingEvent(models.EventBookingCancelled, updated, now))
		return m, nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.WithFields(logrus.Fields{
		"booking_id": bookingID,
		"trip_id":    tripID,
	}).Info("Booking cancelled")
	l.publish(events)
	return updated.Clone(), nil
}

// ModifyBooking moves a confirmed booking onto different seats of the same
// trip. The seat count and fare must not change.
func (l *ReservationLedger) ModifyBooking(ctx context.Context, bookingID uuid.UUID, details models.SeatDetails) (*models.Booking, error) {
	if err := validateSeatDetails(details, l.config.MaxSeatsPerBooking); err != nil {
		return nil, err
	}
	tripID, err := l.tripOfBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	var updated *models.Booking
	var events []models.LedgerEvent
	err = l.withTrip(ctx, tripID, func(t *tripLedger, now time.Time) (*models.TripMutation, error) {
		events = nil
		current, err := l.store.GetBooking(ctx, bookingID)
		if err != nil {
			return nil, err
		}
		if current.Status != models.BookingStatusConfirmed {
			return nil, models.NewBookingError(models.KindInvalidBookingState, nil, "booking %s is %s", bookingID, current.Status)
		}
		if t.inv.DepartedAt(now, l.config.CancellationCutoff) {
			return nil, models.NewBookingError(models.KindTripDeparted, nil, "trip %s can no longer be modified", tripID)
		}
		if len(details) != len(current.SeatDetails) {
			return nil, models.NewBookingError(models.KindInvalidRequest, nil,
				"booking has %d seats, modification names %d", len(current.SeatDetails), len(details))
		}

		idx := t.inv.SeatIndex()
		newSeats := details.SeatNumbers()
		var unknown []string
		for _, s := range newSeats {
			if _, ok := idx[s]; !ok {
				unknown = append(unknown, s)
			}
		}
		if len(unknown) > 0 {
			return nil, models.InvalidSeatError(unknown, "seats are not part of this trip")
		}

		m := &models.TripMutation{}
		lapsed := make(map[uuid.UUID]bool)
		var conflicts []string
		for _, s := range newSeats {
			seat := &t.inv.Seats[idx[s]]
			switch {
			case seat.State == models.SeatConfirmed && seat.BookingID != nil && *seat.BookingID == bookingID:
			case seat.State == models.SeatFree:
			case seat.EffectiveState(now) == models.SeatFree && seat.HoldID != nil:
				lapsed[*seat.HoldID] = true
			default:
				conflicts = append(conflicts, s)
			}
		}
		if len(conflicts) > 0 {
			sort.Slice(conflicts, func(i, j int) bool { return idx[conflicts[i]] < idx[conflicts[j]] })
			return nil, models.SeatConflictError(conflicts)
		}

		pricing, ok := repriceSeats(current.Pricing, t.inv, idx, newSeats)
		if !ok {
			return nil, models.NewBookingError(models.KindInvalidRequest, nil, "seat change must keep the same fare")
		}

		for holdID := range lapsed {
			if ev, ok := expireInto(t, m, holdID, now); ok {
				events = append(events, ev)
			}
		}

		keep := make(map[string]bool, len(newSeats))
		for _, s := range newSeats {
			keep[s] = true
		}
		for _, s := range current.SeatNumbers() {
			if !keep[s] {
				m.SeatUpdates = append(m.SeatUpdates, models.FreeSeat(s))
			}
		}
		for _, s := range newSeats {
			seat := &t.inv.Seats[idx[s]]
			if seat.State != models.SeatConfirmed {
				m.SeatUpdates = append(m.SeatUpdates, models.ConfirmedSeat(s, bookingID))
			}
		}

		updated = current.Clone()
		updated.SeatDetails = append(models.SeatDetails(nil), details...)
		updated.Pricing = pricing
		updated.UpdatedAt = now
		m.BookingUpdate = updated
		events = append(events, bookingEvent(models.EventBookingModified, updated, now))
		return m, nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.WithFields(logrus.Fields{
		"booking_id": bookingID,
		"seats":      details.SeatNumbers(),
	}).Info("Booking modified")
	l.publish(events)
	return updated.Clone(), nil
}

// MarkBookingStatus closes a confirmed booking as COMPLETED or NO_SHOW once
// its trip has departed. Seats stay CONFIRMED.
func (l *ReservationLedger) MarkBookingStatus(ctx context.Context, bookingID uuid.UUID, status models.BookingStatus) (*models.Booking, error) {
	if status != models.BookingStatusCompleted && status != models.BookingStatusNoShow {
		return nil, models.NewBookingError(models.KindInvalidBookingState, nil, "cannot mark a booking %s", status)
	}
	tripID, err := l.tripOfBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	var updated *models.Booking
	var events []models.LedgerEvent
	err = l.withTrip(ctx, tripID, func(t *tripLedger, now time.Time) (*models.TripMutation, error) {
		events = nil
		current, err := l.store.GetBooking(ctx, bookingID)
		if err != nil {
			return nil, err
		}
		if current.Status != models.BookingStatusConfirmed {
			return nil, models.NewBookingError(models.KindInvalidBookingState, nil, "booking %s is %s", bookingID, current.Status)
		}
		if !t.inv.DepartedAt(now, 0) {
			return nil, models.NewBookingError(models.KindInvalidBookingState, nil, "trip %s has not departed yet", tripID)
		}
		updated = current.Clone()
		updated.Status = status
		updated.UpdatedAt = now
		events = append(events, bookingEvent(models.EventBookingClosed, updated, now))
		return &models.TripMutation{BookingUpdate: updated}, nil
	})
	if err != nil {
		return nil, err
	}
	l.publish(events)
	return updated.Clone(), nil
}

func freeBookingSeats(inv *models.TripInventory, bookingID uuid.UUID) []models.SeatUpdate {
	var updates []models.SeatUpdate
	for i := range inv.Seats {
		s := &inv.Seats[i]
		if s.State == models.SeatConfirmed && s.BookingID != nil && *s.BookingID == bookingID {
			updates = append(updates, models.FreeSeat(s.SeatNumber))
		}
	}
	return updates
}

// repriceSeats moves the seat fares of a snapshot onto new seats. It fails
// when the new seats do not carry the same multipliers as the old ones.
func repriceSeats(p models.PricingSnapshot, inv *models.TripInventory, idx map[string]int, seats []string) (models.PricingSnapshot, bool) {
	if len(p.SeatFares) == 0 {
		return p, true
	}
	if len(p.SeatFares) != len(seats) {
		return p, false
	}
	oldFares := append([]models.SeatFare(nil), p.SeatFares...)
	sort.Slice(oldFares, func(i, j int) bool { return oldFares[i].Multiplier < oldFares[j].Multiplier })

	newSeats := append([]string(nil), seats...)
	sort.SliceStable(newSeats, func(i, j int) bool {
		return seatMultiplier(inv.Seats[idx[newSeats[i]]]) < seatMultiplier(inv.Seats[idx[newSeats[j]]])
	})

	fares := make([]models.SeatFare, len(oldFares))
	for i, s := range newSeats {
		seat := inv.Seats[idx[s]]
		if seatMultiplier(seat) != oldFares[i].Multiplier {
			return p, false
		}
		fares[i] = oldFares[i]
		fares[i].SeatNumber = s
		fares[i].Type = seat.Type
	}
	out := p
	out.SeatFares = fares
	return out, true
}

// ============================================================================
// READS
// ============================================================================

// GetAvailability returns the authoritative per-seat view of a trip
func (l *ReservationLedger) GetAvailability(ctx context.Context, tripID models.TripID) (*models.AvailabilitySnapshot, error) {
	var snap *models.AvailabilitySnapshot
	err := l.withTrip(ctx, tripID, func(t *tripLedger, now time.Time) (*models.TripMutation, error) {
		snap = t.inv.Snapshot(now)
		return nil, nil
	})
	return snap, err
}

// TripInventory returns a copy of a trip's seat table
func (l *ReservationLedger) TripInventory(ctx context.Context, tripID models.TripID) (*models.TripInventory, error) {
	var inv *models.TripInventory
	err := l.withTrip(ctx, tripID, func(t *tripLedger, _ time.Time) (*models.TripMutation, error) {
		inv = t.inv.Clone()
		return nil, nil
	})
	return inv, err
}

// GetHold returns a hold record in any status
func (l *ReservationLedger) GetHold(ctx context.Context, holdID uuid.UUID) (*models.Hold, error) {
	h, err := l.store.GetHold(ctx, holdID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, models.NewBookingError(models.KindHoldNotFound, nil, "hold %s not found", holdID)
		}
		return nil, err
	}
	return h, nil
}

// GetBooking returns a booking record
func (l *ReservationLedger) GetBooking(ctx context.Context, bookingID uuid.UUID) (*models.Booking, error) {
	b, err := l.store.GetBooking(ctx, bookingID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, models.NewBookingError(models.KindBookingNotFound, nil, "booking %s not found", bookingID)
		}
		return nil, err
	}
	return b, nil
}

// BookingForHold returns the booking a confirmed hold produced
func (l *ReservationLedger) BookingForHold(ctx context.Context, holdID uuid.UUID) (*models.Booking, error) {
	b, err := l.store.GetBookingByHold(ctx, holdID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, models.NewBookingError(models.KindBookingNotFound, nil, "no booking for hold %s", holdID)
		}
		return nil, err
	}
	return b, nil
}

// ListBookings returns a principal's bookings, newest first
func (l *ReservationLedger) ListBookings(ctx context.Context, principalID uuid.UUID, limit, offset int) ([]models.Booking, error) {
	return l.store.ListBookingsByPrincipal(ctx, principalID, limit, offset)
}

// EvictDeparted drops cached seat tables of trips that departed before cutoff
func (l *ReservationLedger) EvictDeparted(cutoff time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for id, t := range l.trips {
		t.mu.Lock()
		stale := t.inv != nil && t.inv.DepartureAt.Before(cutoff)
		t.mu.Unlock()
		if stale {
			delete(l.trips, id)
			n++
		}
	}
	return n
}

func (l *ReservationLedger) tripOfBooking(ctx context.Context, bookingID uuid.UUID) (models.TripID, error) {
	b, err := l.GetBooking(ctx, bookingID)
	if err != nil {
		return "", err
	}
	return b.TripID, nil
}

// ============================================================================
// TRIP LOCKING
// ============================================================================

func (l *ReservationLedger) tripFor(tripID models.TripID) *tripLedger {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.trips[tripID]
	if !ok {
		t = &tripLedger{}
		l.trips[tripID] = t
	}
	return t
}

// withTrip runs fn under the trip's lock against a seat table that matches
// the stored version. A non-nil mutation from fn is committed to the store
// and then folded into memory. If another writer committed first, the table
// is reloaded and fn runs once more before the conflict is surfaced.
func (l *ReservationLedger) withTrip(
	ctx context.Context,
	tripID models.TripID,
	fn func(t *tripLedger, now time.Time) (*models.TripMutation, error),
) error {
	t := l.tripFor(tripID)
	t.mu.Lock()
	defer t.mu.Unlock()

	for attempt := 0; attempt < 2; attempt++ {
		if err := l.refresh(ctx, tripID, t); err != nil {
			return err
		}

		now := l.clock()
		m, err := fn(t, now)
		if err != nil || m == nil {
			return err
		}
		m.TripID = tripID
		m.ExpectedVersion = t.inv.Version

		err = l.store.ApplyMutation(ctx, m)
		if err == nil {
			t.inv.Apply(m, now)
			if m.NewHold != nil {
				t.holds[m.NewHold.ID] = m.NewHold.Clone()
			}
			for _, tr := range m.HoldTransitions {
				delete(t.holds, tr.HoldID)
			}
			return nil
		}
		if !errors.Is(err, database.ErrVersionConflict) {
			return err
		}

		l.logger.WithFields(logrus.Fields{
			"trip_id":          tripID,
			"expected_version": m.ExpectedVersion,
		}).Warn("Trip changed by another writer, reloading seat table")
		t.inv = nil
	}

	return models.NewBookingError(models.KindConcurrentModification, nil, "trip %s kept changing, retry the request", tripID)
}

// refresh loads the trip on first use and reloads it whenever the stored
// version moved past the cached one
func (l *ReservationLedger) refresh(ctx context.Context, tripID models.TripID, t *tripLedger) error {
	if t.inv != nil {
		version, err := l.store.GetInventoryVersion(ctx, tripID)
		if err != nil {
			return fmt.Errorf("failed to check trip version: %w", err)
		}
		if version == t.inv.Version {
			return nil
		}
	}

	inv, err := l.inventories.EnsureInventory(ctx, tripID)
	if err != nil {
		return err
	}
	holds, err := l.store.ListActiveHolds(ctx, tripID)
	if err != nil {
		return fmt.Errorf("failed to load active holds: %w", err)
	}

	t.inv = inv
	t.holds = make(map[uuid.UUID]*models.Hold, len(holds))
	for i := range holds {
		t.holds[holds[i].ID] = holds[i].Clone()
	}
	return nil
}

// ============================================================================
// EVENTS
// ============================================================================

func (l *ReservationLedger) publish(events []models.LedgerEvent) {
	if len(events) == 0 {
		return
	}
	l.subMu.RLock()
	subs := slices.Clone(l.subscribers)
	l.subMu.RUnlock()
	if len(subs) == 0 {
		return
	}

	go func() {
		for _, ev := range events {
			for _, fn := range subs {
				fn(ev)
			}
		}
	}()
}

func holdEvent(typ models.LedgerEventType, h *models.Hold, now time.Time) models.LedgerEvent {
	id := h.ID
	return models.LedgerEvent{
		Type:   typ,
		TripID: h.TripID,
		HoldID: &id,
		Seats:  append([]string(nil), h.SeatNumbers...),
		At:     now,
	}
}

func bookingEvent(typ models.LedgerEventType, b *models.Booking, now time.Time) models.LedgerEvent {
	id := b.ID
	return models.LedgerEvent{
		Type:      typ,
		TripID:    b.TripID,
		BookingID: &id,
		Seats:     b.SeatNumbers(),
		At:        now,
	}
}

// ============================================================================
// INPUT HELPERS
// ============================================================================

// normalizeSeats upper-cases seat numbers and rejects empty, oversized and
// duplicated selections
func (l *ReservationLedger) normalizeSeats(raw []string) ([]string, error) {
	if len(raw) == 0 {
		return nil, models.InvalidSeatError(nil, "at least one seat is required")
	}
	if l.config.MaxSeatsPerBooking > 0 && len(raw) > l.config.MaxSeatsPerBooking {
		return nil, models.InvalidSeatError(nil, fmt.Sprintf("at most %d seats per booking", l.config.MaxSeatsPerBooking))
	}
	seen := make(map[string]bool, len(raw))
	seats := make([]string, 0, len(raw))
	var dupes []string
	for _, s := range raw {
		s = strings.ToUpper(strings.TrimSpace(s))
		if seen[s] {
			dupes = append(dupes, s)
			continue
		}
		seen[s] = true
		seats = append(seats, s)
	}
	if len(dupes) > 0 {
		return nil, models.InvalidSeatError(dupes, "seats are listed more than once")
	}
	return seats, nil
}

func (l *ReservationLedger) resolveTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		ttl = l.config.DefaultHoldTTL
	}
	if l.config.MaxHoldTTL > 0 && ttl > l.config.MaxHoldTTL {
		ttl = l.config.MaxHoldTTL
	}
	return ttl
}

// validateSeatDetails checks passengers, normalizes seat and gender, and
// rejects duplicated seats
func validateSeatDetails(details models.SeatDetails, maxSeats int) error {
	if len(details) == 0 {
		return models.InvalidSeatError(nil, "at least one passenger is required")
	}
	if maxSeats > 0 && len(details) > maxSeats {
		return models.InvalidSeatError(nil, fmt.Sprintf("at most %d seats per booking", maxSeats))
	}
	seen := make(map[string]bool, len(details))
	for i := range details {
		d := &details[i]
		d.SeatNumber = strings.ToUpper(strings.TrimSpace(d.SeatNumber))
		if seen[d.SeatNumber] {
			return models.InvalidSeatError([]string{d.SeatNumber}, "seat is assigned to more than one passenger")
		}
		seen[d.SeatNumber] = true
		if err := d.Validate(); err != nil {
			return &models.BookingError{Kind: models.KindInvalidRequest, Message: "invalid passenger details", Err: err}
		}
		d.PassengerGender, _ = models.ParseGender(string(d.PassengerGender))
	}
	return nil
}

// matchHeldSeats requires the passenger list to cover exactly the held seats
func matchHeldSeats(h *models.Hold, details models.SeatDetails) error {
	held := make(map[string]bool, len(h.SeatNumbers))
	for _, s := range h.SeatNumbers {
		held[s] = true
	}
	var stray []string
	for _, d := range details {
		if !held[d.SeatNumber] {
			stray = append(stray, d.SeatNumber)
		}
		delete(held, d.SeatNumber)
	}
	if len(stray) > 0 {
		return models.InvalidSeatError(stray, "seats are not covered by the hold")
	}
	if len(held) > 0 {
		var missing []string
		for _, s := range h.SeatNumbers {
			if held[s] {
				missing = append(missing, s)
			}
		}
		return models.InvalidSeatError(missing, "held seats have no passenger")
	}
	return nil
}

// ownerDigest stores a one-way fingerprint of the caller's owner token
func ownerDigest(token string) string {
	if token == "" {
		return ""
	}
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

const referenceAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// NewBookingReference returns a human-readable reference such as BK7Q2M9XKD
func NewBookingReference() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms
		panic(err)
	}
	out := make([]byte, 0, 10)
	out = append(out, 'B', 'K')
	for _, b := range buf {
		out = append(out, referenceAlphabet[int(b)%len(referenceAlphabet)])
	}
	return string(out)
}
