package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/seat-booking-core/internal/config"
	"github.com/smarttransit/seat-booking-core/internal/database"
	"github.com/smarttransit/seat-booking-core/internal/models"
	"github.com/smarttransit/seat-booking-core/internal/utils"
	"github.com/smarttransit/seat-booking-core/pkg/validator"
)

// SeatLedger is the ledger surface the orchestrator drives
type SeatLedger interface {
	PlaceHold(ctx context.Context, req models.PlaceHoldRequest) (*models.Hold, error)
	ConfirmHold(ctx context.Context, holdID uuid.UUID, payload *models.BookingPayload) (*models.Booking, error)
	ReleaseHold(ctx context.Context, holdID uuid.UUID) error
	GetHold(ctx context.Context, holdID uuid.UUID) (*models.Hold, error)
	TripInventory(ctx context.Context, tripID models.TripID) (*models.TripInventory, error)
	CancelBooking(ctx context.Context, bookingID uuid.UUID, reason string) (*models.Booking, error)
	ModifyBooking(ctx context.Context, bookingID uuid.UUID, details models.SeatDetails) (*models.Booking, error)
	MarkBookingStatus(ctx context.Context, bookingID uuid.UUID, status models.BookingStatus) (*models.Booking, error)
	GetBooking(ctx context.Context, bookingID uuid.UUID) (*models.Booking, error)
	BookingForHold(ctx context.Context, holdID uuid.UUID) (*models.Booking, error)
	ListBookings(ctx context.Context, principalID uuid.UUID, limit, offset int) ([]models.Booking, error)
}

// BookingOrchestratorConfig holds configuration for the orchestrator
type BookingOrchestratorConfig struct {
	DefaultCurrency string        // Default currency (default LKR)
	ReconcileAfter  time.Duration // PAYMENT_PENDING age before the status is re-queried
	ReconcileBatch  int
	StatusRetries   int // Attempts per idempotent status query
	StatusBackoff   time.Duration
	NotifyTimeout   time.Duration
}

// DefaultOrchestratorConfig returns default configuration
func DefaultOrchestratorConfig() BookingOrchestratorConfig {
	return BookingOrchestratorConfig{
		DefaultCurrency: "LKR",
		ReconcileAfter:  2 * time.Minute,
		ReconcileBatch:  50,
		StatusRetries:   3,
		StatusBackoff:   500 * time.Millisecond,
		NotifyTimeout:   10 * time.Second,
	}
}

// OrchestratorConfigFrom maps the app config onto orchestrator settings
func OrchestratorConfigFrom(cfg *config.Config) BookingOrchestratorConfig {
	out := DefaultOrchestratorConfig()
	out.DefaultCurrency = cfg.Booking.DefaultCurrency
	out.ReconcileAfter = cfg.Booking.PaymentReconcileAfter
	out.StatusRetries = cfg.Payment.StatusRetries
	out.StatusBackoff = cfg.Payment.StatusBackoff
	return out
}

// BookingOrchestratorService drives one booking attempt at a time through
// SEAT_SELECTED → HOLD_PLACED → PAYMENT_PENDING → {CONFIRMED | PAYMENT_FAILED | HOLD_EXPIRED}.
// Every transition of an attempt happens under that attempt's lock and is
// persisted with a compare-and-set on the previous state.
type BookingOrchestratorService struct {
	ledger   SeatLedger
	attempts AttemptStore
	gateway  PaymentGateway
	notifier Notifier
	pricing  PricingFunc
	config   BookingOrchestratorConfig
	clock    Clock
	logger   *logrus.Logger
	locks    *utils.KeyedMutex[uuid.UUID]

	auditTrail PaymentAuditStore
}

// NewBookingOrchestratorService creates a new orchestrator service
func NewBookingOrchestratorService(
	ledger SeatLedger,
	attempts AttemptStore,
	gateway PaymentGateway,
	notifier Notifier,
	pricing PricingFunc,
	config BookingOrchestratorConfig,
	clock Clock,
	logger *logrus.Logger,
) *BookingOrchestratorService {
	if clock == nil {
		clock = time.Now
	}
	if pricing == nil {
		pricing = DefaultPricing(0)
	}
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}
	if config.StatusRetries < 1 {
		config.StatusRetries = 1
	}
	if config.NotifyTimeout <= 0 {
		config.NotifyTimeout = 10 * time.Second
	}
	if config.ReconcileBatch <= 0 {
		config.ReconcileBatch = 50
	}
	return &BookingOrchestratorService{
		ledger:   ledger,
		attempts: attempts,
		gateway:  gateway,
		notifier: notifier,
		pricing:  pricing,
		config:   config,
		clock:    clock,
		logger:   logger,
		locks:    utils.NewKeyedMutex[uuid.UUID](),
	}
}

// SetAuditTrail records every gateway exchange to store. Without it no
// audit entries are written.
func (s *BookingOrchestratorService) SetAuditTrail(store PaymentAuditStore) {
	s.auditTrail = store
}

// ============================================================================
// HOLD SEATS (SEAT_SELECTED → HOLD_PLACED)
// ============================================================================

// HoldSeats places a ledger hold and records a new attempt for it. A rejected
// hold persists nothing.
func (s *BookingOrchestratorService) HoldSeats(
	ctx context.Context,
	principal models.Principal,
	req *models.HoldSeatsRequest,
) (*models.HoldSeatsResponse, error) {
	tripID, _, _, err := models.ParseTripID(req.TripID)
	if err != nil {
		return nil, models.NewBookingError(models.KindTripNotFound, nil, "trip %q not found", req.TripID)
	}

	owner := req.OwnerToken
	if owner == "" {
		owner = principal.ID.String()
	}

	// 1. Place the hold; conflicts come back naming the seats
	hold, err := s.ledger.PlaceHold(ctx, models.PlaceHoldRequest{
		TripID:      tripID,
		SeatNumbers: req.SeatNumbers,
		OwnerToken:  owner,
	})
	if err != nil {
		return nil, err
	}

	// 2. Price the held seats against the trip's seat table
	inv, err := s.ledger.TripInventory(ctx, tripID)
	if err != nil {
		s.rollbackHold(hold.ID)
		return nil, fmt.Errorf("failed to load trip for pricing: %w", err)
	}
	pricing, err := s.pricing(inv, hold.SeatNumbers)
	if err != nil {
		s.rollbackHold(hold.ID)
		return nil, err
	}
	if pricing.Currency == "" {
		pricing.Currency = s.config.DefaultCurrency
	}

	// 3. Build the attempt
	now := s.clock()
	attempt := models.NewBookingAttempt(principal.ID, tripID, hold.SeatNumbers, now)
	attempt.HoldID = hold.ID
	attempt.HoldExpiresAt = hold.ExpiresAt
	attempt.Pricing = pricing
	if err := attempt.TransitionTo(models.AttemptHoldPlaced, now); err != nil {
		s.rollbackHold(hold.ID)
		return nil, err
	}

	// 4. Save it; a hold without an attempt is released
	if err := s.attempts.CreateAttempt(ctx, attempt); err != nil {
		s.rollbackHold(hold.ID)
		return nil, fmt.Errorf("failed to create booking attempt: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"attempt_id": attempt.ID,
		"hold_id":    hold.ID,
		"trip_id":    tripID,
		"seats":      hold.SeatNumbers,
		"total":      pricing.TotalAmount,
	}).Info("Seats held for booking attempt")

	s.notify(attemptNote(attempt, NotifyHoldPlaced))
	return &models.HoldSeatsResponse{Attempt: attempt, Hold: hold}, nil
}

// rollbackHold releases a hold whose attempt could not be recorded
func (s *BookingOrchestratorService) rollbackHold(holdID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.ledger.ReleaseHold(ctx, holdID); err != nil {
		s.logger.WithError(err).WithField("hold_id", holdID).Error("Failed to roll back hold")
	}
}

// ============================================================================
// START PAYMENT (HOLD_PLACED → PAYMENT_PENDING)
// ============================================================================

// StartPayment records passenger details, moves the attempt to
// PAYMENT_PENDING and submits the charge exactly once. Calling it again on a
// pending or confirmed attempt returns the attempt unchanged.
func (s *BookingOrchestratorService) StartPayment(
	ctx context.Context,
	principal models.Principal,
	attemptID uuid.UUID,
	req *models.StartPaymentRequest,
) (*models.BookingAttempt, error) {
	unlock := s.locks.Lock(attemptID)
	defer unlock()

	// 1. Load and authorize
	a, err := s.loadAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if !principal.CanAccess(a.PrincipalID) {
		return nil, models.NewBookingError(models.KindForbidden, nil, "attempt belongs to another user")
	}

	// 2. Idempotent replay
	switch a.State {
	case models.AttemptPaymentPending, models.AttemptConfirmed:
		return a, nil
	case models.AttemptHoldPlaced:
	default:
		return nil, stateError(a)
	}

	now := s.clock()
	if !now.Before(a.HoldExpiresAt) {
		if err := s.expire(ctx, a, nil); err != nil {
			return nil, err
		}
		return nil, models.NewBookingError(models.KindHoldExpired, a.SeatNumbers, "hold expired before payment started")
	}

	// 3. Passenger details must name exactly the held seats
	if err := s.recordDetails(a, req.SeatDetails, req.BoardingPoint, req.DroppingPoint, req.ContactPhone); err != nil {
		return nil, err
	}
	method := req.PaymentMethod
	a.PaymentMethod = &method
	a.PaymentStartedAt = &now

	// 4. Persist PAYMENT_PENDING before any money moves
	if err := s.transition(ctx, a, models.AttemptPaymentPending, now); err != nil {
		return nil, err
	}

	// 5. Charge once. An unknown outcome leaves the attempt pending for
	// the webhook or reconciliation to resolve.
	result, err := s.gateway.Charge(ctx, &models.ChargeRequest{
		InvoiceID:     a.InvoiceID,
		Amount:        a.Pricing.TotalAmount,
		Currency:      a.Pricing.Currency,
		Method:        method,
		Description:   fmt.Sprintf("Bus ticket %s (%d seats)", a.TripID, len(a.SeatNumbers)),
		CustomerName:  a.SeatDetails[0].PassengerName,
		CustomerPhone: strValue(a.ContactPhone),
	})
	if err != nil {
		s.recordPayment(ctx, models.NewPaymentAudit(models.PaymentEventChargeUnknown, models.PaymentSourceGatewayAPI, a, s.clock()).SetError(err))
		s.logger.WithError(err).WithFields(logrus.Fields{
			"attempt_id": a.ID,
			"invoice_id": a.InvoiceID,
		}).Warn("Charge outcome unknown, leaving attempt pending")
		return a, nil
	}
	s.recordPayment(ctx, models.NewPaymentAudit(models.PaymentEventChargeSubmitted, models.PaymentSourceGatewayAPI, a, s.clock()).
		SetChargeResult(result, a.Pricing.TotalAmount, a.Pricing.Currency))

	a, _, err = s.applyChargeResult(ctx, a, result)
	return a, err
}

// recordDetails validates passengers against the held seats and stores them
func (s *BookingOrchestratorService) recordDetails(a *models.BookingAttempt, passengers []models.SeatDetail, boarding, dropping, phone string) error {
	details := models.SeatDetails(append([]models.SeatDetail(nil), passengers...))
	if err := validateSeatDetails(details, 0); err != nil {
		return err
	}
	if err := matchHeldSeats(&models.Hold{SeatNumbers: a.SeatNumbers}, details); err != nil {
		return err
	}
	if phone != "" {
		normalized, err := validator.NormalizePhone(phone)
		if err != nil {
			return &models.BookingError{Kind: models.KindInvalidRequest, Message: "invalid contact phone", Err: err}
		}
		a.ContactPhone = &normalized
	}
	a.SeatDetails = details
	a.BoardingPoint = boarding
	a.DroppingPoint = dropping
	return nil
}

// ============================================================================
// PAYMENT RESOLUTION (PAYMENT_PENDING → terminal)
// ============================================================================

// applyChargeResult resolves a pending attempt from a gateway answer.
// Caller holds the attempt lock.
func (s *BookingOrchestratorService) applyChargeResult(
	ctx context.Context,
	a *models.BookingAttempt,
	result *models.ChargeResult,
) (*models.BookingAttempt, *models.Booking, error) {
	if result.TransactionID != "" {
		tx := result.TransactionID
		a.TransactionID = &tx
	}
	if result.GatewayReference != "" {
		ref := result.GatewayReference
		a.GatewayReference = &ref
	}
	if result.PaymentPageURL != "" {
		page := result.PaymentPageURL
		a.PaymentPageURL = &page
	}

	switch result.Status {
	case models.ChargeSuccess:
		return s.confirm(ctx, a, result)
	case models.ChargeFailure:
		return a, nil, s.fail(ctx, a, firstNonEmpty(result.Reason, "payment declined"))
	default:
		// Still pending; keep the references for status queries
		a.UpdatedAt = s.clock()
		if err := s.save(ctx, a, models.AttemptPaymentPending); err != nil {
			return nil, nil, err
		}
		return a, nil, nil
	}
}

// confirm converts the hold into a booking after a verified successful
// charge. A hold that lapsed first moves the attempt to HOLD_EXPIRED and
// signals a refund.
func (s *BookingOrchestratorService) confirm(
	ctx context.Context,
	a *models.BookingAttempt,
	result *models.ChargeResult,
) (*models.BookingAttempt, *models.Booking, error) {
	booking, err := s.ledger.ConfirmHold(ctx, a.HoldID, &models.BookingPayload{
		PrincipalID:   a.PrincipalID,
		AttemptID:     &a.ID,
		SeatDetails:   a.SeatDetails,
		BoardingPoint: a.BoardingPoint,
		DroppingPoint: a.DroppingPoint,
		Pricing:       a.Pricing,
		Payment:       result,
		PaymentMethod: strValue(a.PaymentMethod),
	})
	if err != nil {
		existing, ok := s.bookingFromEarlierConfirm(ctx, a, err)
		if !ok {
			if errors.Is(err, models.ErrHoldExpired) {
				if expErr := s.expire(ctx, a, result); expErr != nil {
					return nil, nil, expErr
				}
			}
			return a, nil, err
		}
		booking = existing
	}

	now := s.clock()
	a.BookingID = &booking.ID
	if err := s.transition(ctx, a, models.AttemptConfirmed, now); err != nil {
		// The booking stands; a later reconcile or confirm completes the attempt
		s.logger.WithError(err).WithFields(logrus.Fields{
			"attempt_id": a.ID,
			"booking_id": booking.ID,
		}).Error("Booking created but attempt not updated")
		return a, booking, nil
	}

	s.logger.WithFields(logrus.Fields{
		"attempt_id":        a.ID,
		"booking_id":        booking.ID,
		"booking_reference": booking.BookingReference,
	}).Info("Booking confirmed")

	note := attemptNote(a, NotifyBookingConfirmed)
	note.BookingReference = booking.BookingReference
	s.notify(note)
	return a, booking, nil
}

// bookingFromEarlierConfirm finds the booking of a hold this attempt already
// confirmed when the attempt write that followed did not land
func (s *BookingOrchestratorService) bookingFromEarlierConfirm(ctx context.Context, a *models.BookingAttempt, confirmErr error) (*models.Booking, bool) {
	if models.KindOf(confirmErr) != models.KindInvalidBookingState {
		return nil, false
	}
	booking, err := s.ledger.BookingForHold(ctx, a.HoldID)
	if err != nil {
		s.logger.WithError(err).WithField("hold_id", a.HoldID).Warn("Hold confirmed but booking not found")
		return nil, false
	}
	if booking.AttemptID == nil || *booking.AttemptID != a.ID {
		return nil, false
	}
	s.logger.WithFields(logrus.Fields{
		"attempt_id": a.ID,
		"booking_id": booking.ID,
	}).Info("Resuming attempt for an already confirmed hold")
	return booking, true
}

// fail records a declined payment and releases the hold
func (s *BookingOrchestratorService) fail(ctx context.Context, a *models.BookingAttempt, reason string) error {
	now := s.clock()
	a.FailureReason = &reason
	if err := s.transition(ctx, a, models.AttemptPaymentFailed, now); err != nil {
		return err
	}
	if err := s.ledger.ReleaseHold(ctx, a.HoldID); err != nil {
		// The sweep frees the seats at ttl
		s.logger.WithError(err).WithField("hold_id", a.HoldID).Warn("Failed to release hold after payment failure")
	}

	s.logger.WithFields(logrus.Fields{
		"attempt_id": a.ID,
		"reason":     reason,
	}).Info("Payment failed, hold released")

	s.notify(attemptNote(a, NotifyPaymentFailed))
	return models.NewBookingError(models.KindPaymentFailed, nil, "%s", reason)
}

// expire moves the attempt to HOLD_EXPIRED. If money was taken a refund is
// signalled to the gateway.
func (s *BookingOrchestratorService) expire(ctx context.Context, a *models.BookingAttempt, result *models.ChargeResult) error {
	now := s.clock()
	reason := "hold expired before payment completed"
	a.FailureReason = &reason
	if result.Succeeded() {
		s.signalRefund(ctx, a, result.Amount, reason)
	}
	if err := s.transition(ctx, a, models.AttemptHoldExpired, now); err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"attempt_id": a.ID,
		"hold_id":    a.HoldID,
		"refunded":   a.RefundSignalledAt != nil,
	}).Info("Booking attempt expired")

	s.notify(attemptNote(a, NotifyHoldExpired))
	return nil
}

// signalRefund asks the gateway to return money for the attempt. Refunds are
// not retried; a failed signal stays visible as a nil refund_signalled_at.
func (s *BookingOrchestratorService) signalRefund(ctx context.Context, a *models.BookingAttempt, amount float64, reason string) {
	if amount <= 0 {
		amount = a.Pricing.TotalAmount
	}
	entry := models.NewPaymentAudit(models.PaymentEventRefundSignalled, models.PaymentSourceBackend, a, s.clock())
	entry.ExpectedAmount = &amount
	if err := s.gateway.Refund(ctx, a.ChargeReference(), amount, reason); err != nil {
		entry.EventType = models.PaymentEventRefundFailed
		s.recordPayment(ctx, entry.SetError(err))
		s.logger.WithError(err).WithFields(logrus.Fields{
			"attempt_id": a.ID,
			"invoice_id": a.InvoiceID,
			"amount":     amount,
		}).Error("Failed to signal refund")
		return
	}
	s.recordPayment(ctx, entry)
	now := s.clock()
	a.RefundSignalledAt = &now

	note := attemptNote(a, NotifyRefundInitiated)
	note.Amount = amount
	s.notify(note)
}

// ============================================================================
// CONFIRM BOOKING (client-reported payment)
// ============================================================================

// ConfirmBooking converts a hold into a booking once the reported payment is
// verified with the gateway. The verification is a status query, retried
// with backoff; the charge itself is never resubmitted.
func (s *BookingOrchestratorService) ConfirmBooking(
	ctx context.Context,
	principal models.Principal,
	req *models.ConfirmBookingRequest,
) (*models.Booking, error) {
	holdID, err := uuid.Parse(req.HoldID)
	if err != nil {
		return nil, models.NewBookingError(models.KindInvalidRequest, nil, "invalid hold id")
	}
	found, err := s.attempts.GetAttemptByHold(ctx, holdID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, models.NewBookingError(models.KindHoldNotFound, nil, "hold %s not found", holdID)
		}
		return nil, fmt.Errorf("failed to load attempt: %w", err)
	}

	unlock := s.locks.Lock(found.ID)
	defer unlock()

	// 1. Reload under the lock
	a, err := s.loadAttempt(ctx, found.ID)
	if err != nil {
		return nil, err
	}
	if !principal.CanAccess(a.PrincipalID) {
		return nil, models.NewBookingError(models.KindForbidden, nil, "hold belongs to another user")
	}

	// 2. Bring the attempt to PAYMENT_PENDING with the reported payment
	now := s.clock()
	switch a.State {
	case models.AttemptConfirmed:
		return s.ledger.GetBooking(ctx, *a.BookingID)
	case models.AttemptHoldPlaced, models.AttemptPaymentPending:
		prev := a.State
		if err := s.recordDetails(a, req.SeatDetails, req.BoardingPoint, req.DroppingPoint, req.ContactPhone); err != nil {
			return nil, err
		}
		if a.TransactionID == nil {
			tx := req.PaymentResult.TransactionID
			a.TransactionID = &tx
		}
		if req.PaymentResult.PaymentMethod != "" && a.PaymentMethod == nil {
			method := req.PaymentResult.PaymentMethod
			a.PaymentMethod = &method
		}
		if prev == models.AttemptHoldPlaced {
			a.PaymentStartedAt = &now
			if err := s.transition(ctx, a, models.AttemptPaymentPending, now); err != nil {
				return nil, err
			}
		} else {
			a.UpdatedAt = now
			if err := s.save(ctx, a, prev); err != nil {
				return nil, err
			}
		}
	default:
		return nil, stateError(a)
	}

	// 3. Verify with the gateway
	result, err := s.chargeStatus(ctx, a, models.PaymentSourceBackend)
	if err != nil {
		return nil, fmt.Errorf("failed to verify payment: %w", err)
	}

	// 4. Resolve
	if result.Status == models.ChargePending {
		return nil, models.NewBookingError(models.KindPaymentFailed, nil, "payment for %s has not completed", a.InvoiceID)
	}
	_, booking, err := s.applyChargeResult(ctx, a, result)
	if err != nil {
		return nil, err
	}
	return booking, nil
}

// chargeStatus queries the attempt's charge with bounded retries
func (s *BookingOrchestratorService) chargeStatus(ctx context.Context, a *models.BookingAttempt, source models.PaymentEventSource) (*models.ChargeResult, error) {
	ref := a.ChargeReference()
	result, err := retryIdempotent(ctx, s.config.StatusRetries, s.config.StatusBackoff, func(ctx context.Context) (*models.ChargeResult, error) {
		return s.gateway.GetChargeStatus(ctx, ref)
	})

	entry := models.NewPaymentAudit(models.PaymentEventStatusChecked, source, a, s.clock())
	if err != nil {
		entry.EventType = models.PaymentEventStatusFailed
		entry.SetError(err)
	} else {
		entry.SetChargeResult(result, a.Pricing.TotalAmount, a.Pricing.Currency)
	}
	s.recordPayment(ctx, entry)
	return result, err
}

// ============================================================================
// PAYMENT CALLBACK
// ============================================================================

// HandlePaymentCallback resolves the attempt named by a gateway webhook. The
// payload only identifies the invoice; the outcome is re-read from the
// gateway. A success that arrives after the attempt ended triggers a refund.
func (s *BookingOrchestratorService) HandlePaymentCallback(
	ctx context.Context,
	payload *models.PaymentWebhookPayload,
) (*models.BookingAttempt, error) {
	found, err := s.attempts.GetAttemptByInvoice(ctx, payload.InvoiceID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, models.NewBookingError(models.KindAttemptNotFound, nil, "no attempt for invoice %s", payload.InvoiceID)
		}
		return nil, fmt.Errorf("failed to load attempt: %w", err)
	}

	unlock := s.locks.Lock(found.ID)
	defer unlock()

	a, err := s.loadAttempt(ctx, found.ID)
	if err != nil {
		return nil, err
	}
	if a.TransactionID == nil && payload.TransactionID != "" {
		tx := payload.TransactionID
		a.TransactionID = &tx
	}
	s.recordPayment(ctx, webhookAudit(a, payload, s.clock()))

	switch a.State {
	case models.AttemptPaymentPending:
		result, err := s.chargeStatus(ctx, a, models.PaymentSourceGatewayWebhook)
		if err != nil {
			return nil, fmt.Errorf("failed to verify payment: %w", err)
		}
		a, _, err = s.applyChargeResult(ctx, a, result)
		// The callback itself succeeded even when the payment did not
		if errors.Is(err, models.ErrPaymentFailed) || errors.Is(err, models.ErrHoldExpired) {
			return a, nil
		}
		return a, err

	case models.AttemptHoldExpired, models.AttemptPaymentFailed, models.AttemptCancelled:
		if a.BookingID != nil || a.RefundSignalledAt != nil {
			return a, nil
		}
		result, err := s.chargeStatus(ctx, a, models.PaymentSourceGatewayWebhook)
		if err != nil {
			return nil, fmt.Errorf("failed to verify payment: %w", err)
		}
		if !result.Succeeded() {
			return a, nil
		}
		s.logger.WithFields(logrus.Fields{
			"attempt_id": a.ID,
			"state":      a.State,
		}).Warn("Payment succeeded after attempt ended, signalling refund")
		prev := a.State
		s.signalRefund(ctx, a, result.Amount, "payment completed after booking attempt ended")
		a.UpdatedAt = s.clock()
		if err := s.save(ctx, a, prev); err != nil {
			return nil, err
		}
		return a, nil

	default:
		return a, nil
	}
}

// webhookAudit records what the gateway claimed in a callback. The claimed
// amount is compared with the attempt total but never trusted for state.
func webhookAudit(a *models.BookingAttempt, payload *models.PaymentWebhookPayload, now time.Time) *models.PaymentAudit {
	entry := models.NewPaymentAudit(models.PaymentEventWebhookReceived, models.PaymentSourceGatewayWebhook, a, now)
	status := payload.PaymentStatus
	entry.ChargeStatus = &status
	if payload.Reason != "" {
		reason := payload.Reason
		entry.ErrorMessage = &reason
	}
	if payload.Amount != "" {
		if amount, err := strconv.ParseFloat(payload.Amount, 64); err == nil {
			entry.SetAmounts(a.Pricing.TotalAmount, amount, firstNonEmpty(payload.CurrencyCode, a.Pricing.Currency))
		}
	}
	return entry
}

// ============================================================================
// RECONCILIATION AND LEDGER EVENTS
// ============================================================================

// ReconcilePendingPayments re-queries attempts stuck in PAYMENT_PENDING and
// returns how many reached a terminal state
func (s *BookingOrchestratorService) ReconcilePendingPayments(ctx context.Context) (int, error) {
	cutoff := s.clock().Add(-s.config.ReconcileAfter)
	stale, err := s.attempts.ListStalePaymentAttempts(ctx, cutoff, s.config.ReconcileBatch)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending payments: %w", err)
	}

	resolved := 0
	for i := range stale {
		if s.reconcileOne(ctx, stale[i].ID) {
			resolved++
		}
	}
	if len(stale) > 0 {
		s.logger.WithFields(logrus.Fields{
			"pending":  len(stale),
			"resolved": resolved,
		}).Info("Reconciled pending payments")
	}
	return resolved, nil
}

func (s *BookingOrchestratorService) reconcileOne(ctx context.Context, attemptID uuid.UUID) bool {
	unlock := s.locks.Lock(attemptID)
	defer unlock()

	a, err := s.loadAttempt(ctx, attemptID)
	if err != nil || a.State != models.AttemptPaymentPending {
		return false
	}

	result, err := s.chargeStatus(ctx, a, models.PaymentSourceReconciliation)
	if err != nil {
		s.logger.WithError(err).WithField("attempt_id", a.ID).Warn("Payment status still unknown")
		return false
	}

	if result.Status == models.ChargePending {
		if s.clock().Before(a.HoldExpiresAt) {
			return false
		}
		// Seats are gone; a later success is refunded by the callback path
		return s.expire(ctx, a, nil) == nil
	}

	a, _, _ = s.applyChargeResult(ctx, a, result)
	return a != nil && a.State.IsTerminal()
}

// HandleLedgerEvent moves attempts whose hold was expired by the ledger to
// HOLD_EXPIRED. Register it with ReservationLedger.Subscribe.
func (s *BookingOrchestratorService) HandleLedgerEvent(ev models.LedgerEvent) {
	if ev.Type != models.EventHoldExpired || ev.HoldID == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	found, err := s.attempts.GetAttemptByHold(ctx, *ev.HoldID)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			s.logger.WithError(err).WithField("hold_id", *ev.HoldID).Warn("Failed to load attempt for expired hold")
		}
		return
	}

	unlock := s.locks.Lock(found.ID)
	defer unlock()

	a, err := s.loadAttempt(ctx, found.ID)
	if err != nil {
		return
	}

	switch a.State {
	case models.AttemptHoldPlaced:
		if err := s.expire(ctx, a, nil); err != nil {
			s.logger.WithError(err).WithField("attempt_id", a.ID).Warn("Failed to expire attempt")
		}
	case models.AttemptPaymentPending:
		// Seats are already free; refund if the money was taken
		result, err := s.chargeStatus(ctx, a, models.PaymentSourceReconciliation)
		if err != nil {
			s.logger.WithError(err).WithField("attempt_id", a.ID).Warn("Payment status unknown at hold expiry")
		}
		if err := s.expire(ctx, a, result); err != nil {
			s.logger.WithError(err).WithField("attempt_id", a.ID).Warn("Failed to expire attempt")
		}
	}
}

// ============================================================================
// EARLY RELEASE
// ============================================================================

// ReleaseAttempt cancels an attempt that has not started payment and frees
// its seats. Releasing an already ended attempt is a no-op.
func (s *BookingOrchestratorService) ReleaseAttempt(
	ctx context.Context,
	principal models.Principal,
	attemptID uuid.UUID,
) (*models.BookingAttempt, error) {
	unlock := s.locks.Lock(attemptID)
	defer unlock()

	a, err := s.loadAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if !principal.CanAccess(a.PrincipalID) {
		return nil, models.NewBookingError(models.KindForbidden, nil, "attempt belongs to another user")
	}

	switch a.State {
	case models.AttemptHoldPlaced:
	case models.AttemptPaymentPending, models.AttemptConfirmed:
		return nil, models.NewBookingError(models.KindInvalidBookingState, nil, "attempt is %s", a.State)
	default:
		return a, nil
	}

	if err := s.transition(ctx, a, models.AttemptCancelled, s.clock()); err != nil {
		return nil, err
	}
	if err := s.ledger.ReleaseHold(ctx, a.HoldID); err != nil {
		return nil, fmt.Errorf("failed to release hold: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"attempt_id": a.ID,
		"hold_id":    a.HoldID,
	}).Info("Booking attempt released")
	return a, nil
}

// ReleaseHold releases the hold behind an attempt
func (s *BookingOrchestratorService) ReleaseHold(
	ctx context.Context,
	principal models.Principal,
	holdID uuid.UUID,
) (*models.BookingAttempt, error) {
	a, err := s.attempts.GetAttemptByHold(ctx, holdID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, models.NewBookingError(models.KindHoldNotFound, nil, "hold %s not found", holdID)
		}
		return nil, fmt.Errorf("failed to load attempt: %w", err)
	}
	return s.ReleaseAttempt(ctx, principal, a.ID)
}

// ============================================================================
// BOOKINGS
// ============================================================================

// CancelBooking cancels a confirmed booking, frees its seats and signals a
// refund when it was paid
func (s *BookingOrchestratorService) CancelBooking(
	ctx context.Context,
	principal models.Principal,
	bookingID uuid.UUID,
	reason string,
) (*models.Booking, error) {
	booking, err := s.GetBooking(ctx, principal, bookingID)
	if err != nil {
		return nil, err
	}

	// The attempt is optional; bookings outlive attempt retention
	a, err := s.attempts.GetAttemptByBooking(ctx, bookingID)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("failed to load attempt: %w", err)
	}
	if a != nil {
		unlock := s.locks.Lock(a.ID)
		defer unlock()
		if a, err = s.loadAttempt(ctx, a.ID); err != nil {
			return nil, err
		}
	}

	cancelled, err := s.ledger.CancelBooking(ctx, bookingID, reason)
	if err != nil {
		return nil, err
	}

	if a != nil && a.State == models.AttemptConfirmed {
		if cancelled.NeedsRefund() {
			s.signalRefund(ctx, a, cancelled.Pricing.TotalAmount, "booking cancelled: "+reason)
		}
		if err := s.transition(ctx, a, models.AttemptCancelled, s.clock()); err != nil {
			s.logger.WithError(err).WithField("attempt_id", a.ID).Warn("Booking cancelled but attempt not updated")
		}
	} else if cancelled.NeedsRefund() {
		ref := models.ChargeReference{TransactionID: strValue(booking.TransactionID)}
		entry := models.NewPaymentAudit(models.PaymentEventRefundSignalled, models.PaymentSourceBackend, nil, s.clock())
		entry.BookingID = &cancelled.ID
		entry.TransactionID = booking.TransactionID
		entry.ExpectedAmount = &cancelled.Pricing.TotalAmount
		if err := s.gateway.Refund(ctx, ref, cancelled.Pricing.TotalAmount, "booking cancelled: "+reason); err != nil {
			entry.EventType = models.PaymentEventRefundFailed
			entry.SetError(err)
			s.logger.WithError(err).WithField("booking_id", bookingID).Error("Failed to signal refund")
		}
		s.recordPayment(ctx, entry)
	}

	note := Notification{
		Type:             NotifyBookingCancelled,
		PrincipalID:      cancelled.PrincipalID,
		BookingReference: cancelled.BookingReference,
		Amount:           cancelled.Pricing.TotalAmount,
		Currency:         cancelled.Pricing.Currency,
	}
	if a != nil {
		note.AttemptID = a.ID
		note.Phone = strValue(a.ContactPhone)
	}
	s.notify(note)
	return cancelled, nil
}

// ModifyBooking changes seats and passengers of the principal's booking
func (s *BookingOrchestratorService) ModifyBooking(
	ctx context.Context,
	principal models.Principal,
	bookingID uuid.UUID,
	details []models.SeatDetail,
) (*models.Booking, error) {
	if _, err := s.GetBooking(ctx, principal, bookingID); err != nil {
		return nil, err
	}
	return s.ledger.ModifyBooking(ctx, bookingID, models.SeatDetails(details))
}

// MarkBookingStatus closes a booking after departure. Admin only.
func (s *BookingOrchestratorService) MarkBookingStatus(
	ctx context.Context,
	principal models.Principal,
	bookingID uuid.UUID,
	status models.BookingStatus,
) (*models.Booking, error) {
	if !principal.IsAdmin() {
		return nil, models.NewBookingError(models.KindForbidden, nil, "admin role required")
	}
	return s.ledger.MarkBookingStatus(ctx, bookingID, status)
}

// GetBooking returns a booking owned by the principal
func (s *BookingOrchestratorService) GetBooking(ctx context.Context, principal models.Principal, bookingID uuid.UUID) (*models.Booking, error) {
	b, err := s.ledger.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !principal.CanAccess(b.PrincipalID) {
		// Not leaking existence of other users' bookings
		return nil, models.NewBookingError(models.KindBookingNotFound, nil, "booking %s not found", bookingID)
	}
	return b, nil
}

// ListBookings returns the principal's bookings, newest first
func (s *BookingOrchestratorService) ListBookings(ctx context.Context, principal models.Principal, limit, offset int) ([]models.Booking, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.ledger.ListBookings(ctx, principal.ID, limit, offset)
}

// GetAttempt returns an attempt owned by the principal
func (s *BookingOrchestratorService) GetAttempt(ctx context.Context, principal models.Principal, attemptID uuid.UUID) (*models.BookingAttempt, error) {
	a, err := s.loadAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if !principal.CanAccess(a.PrincipalID) {
		return nil, models.NewBookingError(models.KindForbidden, nil, "attempt belongs to another user")
	}
	return a, nil
}

// ============================================================================
// HELPERS
// ============================================================================

func (s *BookingOrchestratorService) loadAttempt(ctx context.Context, id uuid.UUID) (*models.BookingAttempt, error) {
	a, err := s.attempts.GetAttempt(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, models.NewBookingError(models.KindAttemptNotFound, nil, "attempt %s not found", id)
		}
		return nil, fmt.Errorf("failed to load attempt: %w", err)
	}
	return a, nil
}

// transition moves the attempt along the state table and persists it
// against its previous state
func (s *BookingOrchestratorService) transition(ctx context.Context, a *models.BookingAttempt, to models.AttemptState, now time.Time) error {
	prev := a.State
	if err := a.TransitionTo(to, now); err != nil {
		return models.NewBookingError(models.KindInvalidBookingState, nil, "%s", err.Error())
	}
	if err := s.save(ctx, a, prev); err != nil {
		a.State = prev
		return err
	}
	return nil
}

func (s *BookingOrchestratorService) save(ctx context.Context, a *models.BookingAttempt, expected models.AttemptState) error {
	if err := s.attempts.UpdateAttempt(ctx, a, expected); err != nil {
		if errors.Is(err, database.ErrVersionConflict) {
			return models.NewBookingError(models.KindConcurrentModification, nil, "attempt %s changed concurrently", a.ID)
		}
		return fmt.Errorf("failed to update attempt: %w", err)
	}
	return nil
}

// recordPayment appends to the audit trail. A write failure is logged and
// never blocks the booking flow.
func (s *BookingOrchestratorService) recordPayment(ctx context.Context, entry *models.PaymentAudit) {
	if s.auditTrail == nil {
		return
	}
	if entry.Mismatched() {
		s.logger.WithFields(logrus.Fields{
			"invoice_id":      entry.InvoiceID,
			"event_type":      entry.EventType,
			"expected_amount": *entry.ExpectedAmount,
			"received_amount": *entry.ReceivedAmount,
		}).Warn("Gateway amount differs from attempt total")
	}
	if err := s.auditTrail.LogPaymentAudit(ctx, entry); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"invoice_id": entry.InvoiceID,
			"event_type": entry.EventType,
		}).Error("Failed to write payment audit")
	}
}

// PaymentHistory returns the audit trail of an invoice, oldest first
func (s *BookingOrchestratorService) PaymentHistory(ctx context.Context, invoiceID string) ([]models.PaymentAudit, error) {
	if _, err := s.attempts.GetAttemptByInvoice(ctx, invoiceID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, models.NewBookingError(models.KindAttemptNotFound, nil, "no attempt for invoice %s", invoiceID)
		}
		return nil, fmt.Errorf("failed to load attempt: %w", err)
	}
	if s.auditTrail == nil {
		return []models.PaymentAudit{}, nil
	}
	return s.auditTrail.ListPaymentAudits(ctx, invoiceID)
}

// notify dispatches a notification without blocking the caller
func (s *BookingOrchestratorService) notify(n Notification) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.config.NotifyTimeout)
		defer cancel()
		if err := s.notifier.Notify(ctx, n); err != nil {
			s.logger.WithError(err).WithField("type", n.Type).Warn("Notification not delivered")
		}
	}()
}

func attemptNote(a *models.BookingAttempt, typ NotificationType) Notification {
	return Notification{
		Type:        typ,
		PrincipalID: a.PrincipalID,
		Phone:       strValue(a.ContactPhone),
		AttemptID:   a.ID,
		Amount:      a.Pricing.TotalAmount,
		Currency:    a.Pricing.Currency,
	}
}

// stateError explains why an attempt cannot move forward
func stateError(a *models.BookingAttempt) error {
	switch a.State {
	case models.AttemptHoldExpired:
		return models.NewBookingError(models.KindHoldExpired, a.SeatNumbers, "hold expired before payment completed")
	case models.AttemptPaymentFailed:
		return models.NewBookingError(models.KindPaymentFailed, nil, "%s", strValue(a.FailureReason))
	default:
		return models.NewBookingError(models.KindInvalidBookingState, nil, "attempt is %s", a.State)
	}
}

func strValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
