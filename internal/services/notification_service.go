package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/seat-booking-core/pkg/sms"
)

// NotificationType names a passenger-facing booking outcome
type NotificationType string

const (
	NotifyHoldPlaced       NotificationType = "hold_placed"
	NotifyBookingConfirmed NotificationType = "booking_confirmed"
	NotifyBookingCancelled NotificationType = "booking_cancelled"
	NotifyPaymentFailed    NotificationType = "payment_failed"
	NotifyHoldExpired      NotificationType = "hold_expired"
	NotifyRefundInitiated  NotificationType = "refund_initiated"
)

// Notification is one message for a passenger
type Notification struct {
	Type             NotificationType
	PrincipalID      uuid.UUID
	Phone            string
	AttemptID        uuid.UUID
	BookingReference string
	Amount           float64
	Currency         string
	Message          string
}

// Notifier delivers passenger notifications. Delivery failures never
// affect booking state.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Text renders the notification as a short SMS body
func (n Notification) Text() string {
	if n.Message != "" {
		return n.Message
	}
	switch n.Type {
	case NotifyHoldPlaced:
		return "SmartTransit: your seats are held. Complete payment to confirm."
	case NotifyBookingConfirmed:
		return fmt.Sprintf("SmartTransit: booking %s confirmed. Paid %s %.2f.", n.BookingReference, n.Currency, n.Amount)
	case NotifyBookingCancelled:
		return fmt.Sprintf("SmartTransit: booking %s cancelled.", n.BookingReference)
	case NotifyPaymentFailed:
		return "SmartTransit: your payment failed and the held seats were released."
	case NotifyHoldExpired:
		return "SmartTransit: your seat hold expired before payment completed."
	case NotifyRefundInitiated:
		return fmt.Sprintf("SmartTransit: a refund of %s %.2f has been initiated.", n.Currency, n.Amount)
	}
	return "SmartTransit: booking update."
}

// ============================================================================
// LOG NOTIFIER
// ============================================================================

// LogNotifier writes notifications to the application log
type LogNotifier struct {
	logger *logrus.Logger
}

// NewLogNotifier creates a notifier backed by the logger
func NewLogNotifier(logger *logrus.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs the notification
func (n *LogNotifier) Notify(_ context.Context, note Notification) error {
	n.logger.WithFields(logrus.Fields{
		"type":              note.Type,
		"principal_id":      note.PrincipalID,
		"attempt_id":        note.AttemptID,
		"booking_reference": note.BookingReference,
		"amount":            note.Amount,
	}).Info("Passenger notification")
	return nil
}

// ============================================================================
// SMS NOTIFIER
// ============================================================================

// SMSNotifier sends notifications by SMS when the passenger left a phone
// number and logs them otherwise
type SMSNotifier struct {
	sender   sms.Sender
	fallback *LogNotifier
	logger   *logrus.Logger
}

// NewSMSNotifier creates a notifier backed by an SMS sender
func NewSMSNotifier(sender sms.Sender, logger *logrus.Logger) *SMSNotifier {
	return &SMSNotifier{
		sender:   sender,
		fallback: NewLogNotifier(logger),
		logger:   logger,
	}
}

// Notify sends the notification text to the passenger's phone
func (n *SMSNotifier) Notify(ctx context.Context, note Notification) error {
	if note.Phone == "" {
		return n.fallback.Notify(ctx, note)
	}
	if err := n.sender.Send(ctx, note.Phone, note.Text()); err != nil {
		n.logger.WithError(err).WithFields(logrus.Fields{
			"type":    note.Type,
			"gateway": n.sender.Name(),
		}).Warn("Failed to send SMS notification")
		return fmt.Errorf("send %s sms: %w", note.Type, err)
	}
	return nil
}
