package models

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// PaymentEventType represents the type of payment event
type PaymentEventType string

const (
	PaymentEventChargeSubmitted PaymentEventType = "charge_submitted"
	PaymentEventChargeUnknown   PaymentEventType = "charge_outcome_unknown"
	PaymentEventWebhookReceived PaymentEventType = "webhook_received"
	PaymentEventStatusChecked   PaymentEventType = "status_checked"
	PaymentEventStatusFailed    PaymentEventType = "status_check_failed"
	PaymentEventRefundSignalled PaymentEventType = "refund_signalled"
	PaymentEventRefundFailed    PaymentEventType = "refund_failed"
)

// PaymentEventSource identifies where the event originated
type PaymentEventSource string

const (
	PaymentSourceBackend        PaymentEventSource = "backend"
	PaymentSourceGatewayWebhook PaymentEventSource = "gateway_webhook"
	PaymentSourceGatewayAPI     PaymentEventSource = "gateway_api"
	PaymentSourceReconciliation PaymentEventSource = "reconciliation"
)

// amountTolerance absorbs float rounding between our totals and the gateway's
const amountTolerance = 0.01

// PaymentAudit is an append-only record of one exchange with the payment
// gateway. Entries are never updated.
type PaymentAudit struct {
	ID          uuid.UUID          `json:"id" db:"id"`
	AttemptID   *uuid.UUID         `json:"attempt_id,omitempty" db:"attempt_id"`
	BookingID   *uuid.UUID         `json:"booking_id,omitempty" db:"booking_id"`
	InvoiceID   string             `json:"invoice_id" db:"invoice_id"`
	EventType   PaymentEventType   `json:"event_type" db:"event_type"`
	EventSource PaymentEventSource `json:"event_source" db:"event_source"`

	// Amount tracking
	ExpectedAmount *float64 `json:"expected_amount,omitempty" db:"expected_amount"`
	ReceivedAmount *float64 `json:"received_amount,omitempty" db:"received_amount"`
	Currency       *string  `json:"currency,omitempty" db:"currency"`
	AmountsMatch   *bool    `json:"amounts_match,omitempty" db:"amounts_match"`

	ChargeStatus  *string `json:"charge_status,omitempty" db:"charge_status"`
	TransactionID *string `json:"transaction_id,omitempty" db:"transaction_id"`
	ErrorMessage  *string `json:"error_message,omitempty" db:"error_message"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// NewPaymentAudit creates an audit entry for an attempt's invoice
func NewPaymentAudit(eventType PaymentEventType, source PaymentEventSource, a *BookingAttempt, now time.Time) *PaymentAudit {
	pa := &PaymentAudit{
		ID:          uuid.New(),
		EventType:   eventType,
		EventSource: source,
		CreatedAt:   now,
	}
	if a != nil {
		id := a.ID
		pa.AttemptID = &id
		pa.BookingID = a.BookingID
		pa.InvoiceID = a.InvoiceID
		pa.TransactionID = a.TransactionID
	}
	return pa
}

// SetAmounts records both amounts and returns whether they agree
func (pa *PaymentAudit) SetAmounts(expected, received float64, currency string) bool {
	pa.ExpectedAmount = &expected
	pa.ReceivedAmount = &received
	if currency != "" {
		pa.Currency = &currency
	}
	match := math.Abs(expected-received) < amountTolerance
	pa.AmountsMatch = &match
	return match
}

// SetChargeResult copies the gateway's answer onto the entry. The received
// amount is only compared when money was taken.
func (pa *PaymentAudit) SetChargeResult(result *ChargeResult, expected float64, currency string) *PaymentAudit {
	if result == nil {
		return pa
	}
	status := string(result.Status)
	pa.ChargeStatus = &status
	if result.TransactionID != "" {
		tx := result.TransactionID
		pa.TransactionID = &tx
	}
	if result.Reason != "" {
		reason := result.Reason
		pa.ErrorMessage = &reason
	}
	if result.Succeeded() && result.Amount > 0 {
		pa.SetAmounts(expected, result.Amount, currency)
	}
	return pa
}

// SetError sets error information
func (pa *PaymentAudit) SetError(err error) *PaymentAudit {
	if err != nil {
		msg := err.Error()
		pa.ErrorMessage = &msg
	}
	return pa
}

// Mismatched reports whether the gateway disagreed with our total
func (pa *PaymentAudit) Mismatched() bool {
	return pa.AmountsMatch != nil && !*pa.AmountsMatch
}
