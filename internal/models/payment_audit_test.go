package models

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentAudit_SetAmounts(t *testing.T) {
	tests := []struct {
		name     string
		expected float64
		received float64
		match    bool
	}{
		{"exact", 1500, 1500, true},
		{"rounding", 1500, 1500.004, true},
		{"short paid", 1500, 1499.5, false},
		{"over paid", 1500, 1600, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pa := &PaymentAudit{}
			assert.Equal(t, tt.match, pa.SetAmounts(tt.expected, tt.received, "LKR"))
			assert.Equal(t, !tt.match, pa.Mismatched())
			require.NotNil(t, pa.Currency)
			assert.Equal(t, "LKR", *pa.Currency)
		})
	}
}

func TestPaymentAudit_FromAttempt(t *testing.T) {
	now := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	tx := "TX-1"
	a := &BookingAttempt{ID: uuid.New(), InvoiceID: "INV-1", TransactionID: &tx}

	pa := NewPaymentAudit(PaymentEventStatusChecked, PaymentSourceReconciliation, a, now)
	require.NotNil(t, pa.AttemptID)
	assert.Equal(t, a.ID, *pa.AttemptID)
	assert.Equal(t, "INV-1", pa.InvoiceID)
	assert.Equal(t, now, pa.CreatedAt)
	assert.False(t, pa.Mismatched())

	pa.SetChargeResult(&ChargeResult{Status: ChargeSuccess, TransactionID: "TX-2", Amount: 900}, 1000, "LKR")
	require.NotNil(t, pa.ChargeStatus)
	assert.Equal(t, string(ChargeSuccess), *pa.ChargeStatus)
	assert.Equal(t, "TX-2", *pa.TransactionID)
	assert.True(t, pa.Mismatched())

	pa.SetError(errors.New("gateway timeout"))
	require.NotNil(t, pa.ErrorMessage)
	assert.Equal(t, "gateway timeout", *pa.ErrorMessage)
}

func TestPaymentAudit_PendingResultSkipsAmounts(t *testing.T) {
	pa := NewPaymentAudit(PaymentEventChargeSubmitted, PaymentSourceBackend, nil, time.Now())
	pa.SetChargeResult(&ChargeResult{Status: ChargePending, Amount: 1000}, 1000, "LKR")
	assert.Nil(t, pa.AmountsMatch)
	assert.Nil(t, pa.AttemptID)
}
