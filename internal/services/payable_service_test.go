package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/smarttransit/seat-booking-core/internal/config"
	"github.com/smarttransit/seat-booking-core/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPAYable(t *testing.T, handler http.HandlerFunc) *PAYableGateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	g := NewPAYableGateway(config.PaymentConfig{
		Environment:   "sandbox",
		MerchantKey:   "MK",
		MerchantToken: "MT",
		ReturnURL:     "https://app.local/return",
		WebhookURL:    "https://api.local/api/v1/payments/webhook",
	}, testLogger())
	g.endpoint = srv.URL + "/ipg/sandbox"
	return g
}

func TestNewPAYableGateway_UnknownEnvironmentFallsBackToSandbox(t *testing.T) {
	g := NewPAYableGateway(config.PaymentConfig{Environment: "staging"}, testLogger())
	assert.Equal(t, PAYableEnvironmentURLs["sandbox"], g.endpoint)
}

func TestGenerateCheckValue_IsStable(t *testing.T) {
	g := NewPAYableGateway(config.PaymentConfig{MerchantKey: "MK", MerchantToken: "MT"}, testLogger())

	v1 := g.GenerateCheckValue("INV-1", "1000.00", "LKR")
	v2 := g.GenerateCheckValue("INV-1", "1000.00", "LKR")
	v3 := g.GenerateCheckValue("INV-1", "1000.01", "LKR")

	assert.Len(t, v1, 128)
	assert.Equal(t, v1, v2)
	assert.NotEqual(t, v1, v3)
	assert.Regexp(t, `^[0-9A-F]+$`, v1)
}

func TestPAYableCharge_ReturnsPendingWithPaymentPage(t *testing.T) {
	var got payablePaymentRequest
	g := newTestPAYable(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ipg/sandbox", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(payablePaymentResponse{
			Status:          "PENDING",
			UID:             "UID-1",
			StatusIndicator: "SI-1",
			PaymentPage:     "https://pay.local/UID-1",
		})
	})

	res, err := g.Charge(context.Background(), &models.ChargeRequest{
		InvoiceID:    "INV-1",
		Amount:       1500,
		Currency:     "LKR",
		CustomerName: "Nimal Perera Silva",
	})
	require.NoError(t, err)

	assert.Equal(t, models.ChargePending, res.Status)
	assert.Equal(t, "UID-1", res.TransactionID)
	assert.Equal(t, "SI-1", res.GatewayReference)
	assert.Equal(t, "https://pay.local/UID-1", res.PaymentPageURL)

	assert.Equal(t, "1500.00", got.Amount)
	assert.Equal(t, "Nimal", got.CustomerFirstName)
	assert.Equal(t, "Perera Silva", got.CustomerLastName)
	assert.Equal(t, "0770000000", got.CustomerMobilePhone)
	assert.Equal(t, g.GenerateCheckValue("INV-1", "1500.00", "LKR"), got.CheckValue)
}

func TestPAYableCharge_Rejected(t *testing.T) {
	g := newTestPAYable(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(payablePaymentResponse{Status: "FAILED", Message: "invalid check value"})
	})

	res, err := g.Charge(context.Background(), &models.ChargeRequest{InvoiceID: "INV-2", Amount: 10, Currency: "LKR"})
	require.NoError(t, err)
	assert.Equal(t, models.ChargeFailure, res.Status)
	assert.Equal(t, "invalid check value", res.Reason)
}

func TestPAYableCharge_HTTPErrorIsUnknownOutcome(t *testing.T) {
	g := newTestPAYable(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	})

	_, err := g.Charge(context.Background(), &models.ChargeRequest{InvoiceID: "INV-3", Amount: 10, Currency: "LKR"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestPAYableCharge_RequiresCredentials(t *testing.T) {
	g := NewPAYableGateway(config.PaymentConfig{}, testLogger())
	_, err := g.Charge(context.Background(), &models.ChargeRequest{InvoiceID: "INV-4"})
	assert.Error(t, err)
}

func TestPAYableGetChargeStatus(t *testing.T) {
	tests := []struct {
		raw  string
		want models.ChargeStatus
	}{
		{"SUCCESS", models.ChargeSuccess},
		{"success", models.ChargeSuccess},
		{"FAILED", models.ChargeFailure},
		{"cancelled", models.ChargeFailure},
		{"pending", models.ChargePending},
		{"", models.ChargePending},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			var got payableStatusRequest
			g := newTestPAYable(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/check-status/sandbox", r.URL.Path)
				require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
				_ = json.NewEncoder(w).Encode(payableStatusResponse{
					Status:        "OK",
					PaymentStatus: tt.raw,
					Amount:        "1500.00",
					InvoiceID:     "INV-1",
				})
			})

			res, err := g.GetChargeStatus(context.Background(), models.ChargeReference{
				InvoiceID:        "INV-1",
				TransactionID:    "UID-1",
				GatewayReference: "SI-1",
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Status)
			assert.Equal(t, 1500.0, res.Amount)
			assert.Equal(t, "UID-1", res.TransactionID)
			assert.Equal(t, payableStatusRequest{UID: "UID-1", StatusIndicator: "SI-1"}, got)
		})
	}
}

func TestPAYableGetChargeStatus_NeedsTransaction(t *testing.T) {
	g := newTestPAYable(t, func(w http.ResponseWriter, _ *http.Request) {
		t.Error("gateway must not be called")
	})
	_, err := g.GetChargeStatus(context.Background(), models.ChargeReference{InvoiceID: "INV-1"})
	assert.Error(t, err)
}

func TestSplitName(t *testing.T) {
	first, last := splitName("")
	assert.Equal(t, "Customer", first)
	assert.Equal(t, ".", last)

	first, last = splitName("Kamal")
	assert.Equal(t, "Kamal", first)
	assert.Equal(t, ".", last)
}
