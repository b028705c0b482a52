package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/seat-booking-core/internal/models"
)

// PaymentAuditRepository appends and reads the payment audit trail
type PaymentAuditRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewPaymentAuditRepository creates a new payment audit repository
func NewPaymentAuditRepository(db *sqlx.DB, logger *logrus.Logger) *PaymentAuditRepository {
	return &PaymentAuditRepository{
		db:     db,
		logger: logger,
	}
}

const paymentAuditColumns = `
	id, attempt_id, booking_id, invoice_id, event_type, event_source,
	expected_amount, received_amount, currency, amounts_match,
	charge_status, transaction_id, error_message, created_at`

// LogPaymentAudit appends an entry to the trail
func (r *PaymentAuditRepository) LogPaymentAudit(ctx context.Context, audit *models.PaymentAudit) error {
	if audit == nil {
		return fmt.Errorf("audit entry cannot be nil")
	}
	if audit.ID == uuid.Nil {
		audit.ID = uuid.New()
	}

	query := `
		INSERT INTO payment_audits (` + paymentAuditColumns + `)
		VALUES (
			:id, :attempt_id, :booking_id, :invoice_id, :event_type, :event_source,
			:expected_amount, :received_amount, :currency, :amounts_match,
			:charge_status, :transaction_id, :error_message, :created_at
		)`
	if _, err := r.db.NamedExecContext(ctx, query, audit); err != nil {
		return fmt.Errorf("failed to log payment audit: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"audit_id":   audit.ID,
		"event_type": audit.EventType,
		"invoice_id": audit.InvoiceID,
	}).Debug("Payment audit logged")
	return nil
}

// ListPaymentAudits returns the trail of one invoice, oldest first
func (r *PaymentAuditRepository) ListPaymentAudits(ctx context.Context, invoiceID string) ([]models.PaymentAudit, error) {
	audits := []models.PaymentAudit{}
	query := `
		SELECT ` + paymentAuditColumns + ` FROM payment_audits
		WHERE invoice_id = $1
		ORDER BY created_at ASC`
	if err := r.db.SelectContext(ctx, &audits, query, invoiceID); err != nil {
		return nil, fmt.Errorf("failed to list payment audits: %w", err)
	}
	return audits, nil
}
