package services

import (
	"bytes"
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smarttransit/seat-booking-core/internal/config"
	"github.com/smarttransit/seat-booking-core/internal/models"
)

// PAYableEnvironmentURLs maps environment names to their IPG endpoint URLs
var PAYableEnvironmentURLs = map[string]string{
	"dev":        "https://payable-ipg-dev.web.app/ipg/dev",
	"sandbox":    "https://sandboxipgpayment.payable.lk/ipg/sandbox",
	"production": "https://ipgpayment.payable.lk/ipg/pro",
}

// PAYableGateway charges through the PAYable hosted payment page. A charge
// starts PENDING with a payment page URL; the outcome arrives by webhook or
// status query.
type PAYableGateway struct {
	config   config.PaymentConfig
	endpoint string
	logger   *logrus.Logger
	client   *http.Client
	clock    Clock
}

// payablePaymentRequest is the request sent to PAYable IPG.
// merchantToken is never sent; it only feeds the checkValue.
type payablePaymentRequest struct {
	MerchantKey     string `json:"merchantKey"`
	ReturnURL       string `json:"returnUrl"`
	WebhookURL      string `json:"webhookUrl,omitempty"`
	StatusReturnURL string `json:"statusReturnUrl,omitempty"`

	PaymentType      int    `json:"paymentType"` // 1 = one-time
	InvoiceID        string `json:"invoiceId"`
	Amount           string `json:"amount"`
	CurrencyCode     string `json:"currencyCode"`
	OrderDescription string `json:"orderDescription,omitempty"`

	CustomerFirstName   string `json:"customerFirstName"`
	CustomerLastName    string `json:"customerLastName"`
	CustomerEmail       string `json:"customerEmail"`
	CustomerMobilePhone string `json:"customerMobilePhone"`

	BillingAddressStreet      string `json:"billingAddressStreet"`
	BillingAddressCity        string `json:"billingAddressCity"`
	BillingAddressCountry     string `json:"billingAddressCountry"`
	BillingAddressPostcodeZip string `json:"billingAddressPostcodeZip"`

	CheckValue string `json:"checkValue"`

	IsMobilePayment    int    `json:"isMobilePayment"`
	IntegrationType    string `json:"integrationType"` // Max 20 chars
	IntegrationVersion string `json:"integrationVersion"`
	PackageName        string `json:"packageName"`
}

type payablePaymentResponse struct {
	Status          string `json:"status"`
	UID             string `json:"uid"`
	StatusIndicator string `json:"statusIndicator"`
	PaymentPage     string `json:"paymentPage"`
	Message         string `json:"message,omitempty"`
}

type payableStatusRequest struct {
	UID             string `json:"uid"`
	StatusIndicator string `json:"statusIndicator"`
}

type payableStatusResponse struct {
	Status        string `json:"status"`
	PaymentStatus string `json:"paymentStatus"` // pending, success, failed, cancelled
	Amount        string `json:"amount"`
	InvoiceID     string `json:"invoiceId"`
	TransactionID string `json:"transactionId,omitempty"`
	Message       string `json:"message,omitempty"`
}

// NewPAYableGateway creates a new PAYable payment gateway
func NewPAYableGateway(cfg config.PaymentConfig, logger *logrus.Logger) *PAYableGateway {
	endpoint, ok := PAYableEnvironmentURLs[cfg.Environment]
	if !ok {
		endpoint = PAYableEnvironmentURLs["sandbox"]
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PAYableGateway{
		config:   cfg,
		endpoint: endpoint,
		logger:   logger,
		client:   &http.Client{Timeout: timeout},
		clock:    time.Now,
	}
}

// GenerateCheckValue creates the SHA-512 checkValue for PAYable authentication
// Step 1: hash1 = SHA512(merchantToken) uppercase hex
// Step 2: hash2 = SHA512("merchantKey|invoiceId|amount|currencyCode|hash1") uppercase hex
func (g *PAYableGateway) GenerateCheckValue(invoiceID, amount, currencyCode string) string {
	hash1 := sha512.Sum512([]byte(g.config.MerchantToken))
	hash1Hex := strings.ToUpper(hex.EncodeToString(hash1[:]))

	data := fmt.Sprintf("%s|%s|%s|%s|%s", g.config.MerchantKey, invoiceID, amount, currencyCode, hash1Hex)
	hash2 := sha512.Sum512([]byte(data))
	return strings.ToUpper(hex.EncodeToString(hash2[:]))
}

// Charge opens a hosted payment for the invoice
func (g *PAYableGateway) Charge(ctx context.Context, req *models.ChargeRequest) (*models.ChargeResult, error) {
	if g.config.MerchantKey == "" || g.config.MerchantToken == "" {
		return nil, fmt.Errorf("payment gateway not configured: missing merchant credentials")
	}

	amount := fmt.Sprintf("%.2f", req.Amount)
	firstName, lastName := splitName(req.CustomerName)

	phone := req.CustomerPhone
	if phone == "" {
		phone = "0770000000" // PAYable requires a phone
	}

	body := &payablePaymentRequest{
		MerchantKey:               g.config.MerchantKey,
		ReturnURL:                 g.config.ReturnURL,
		WebhookURL:                g.config.WebhookURL,
		StatusReturnURL:           g.endpoint + "/status-view",
		PaymentType:               1,
		InvoiceID:                 req.InvoiceID,
		Amount:                    amount,
		CurrencyCode:              req.Currency,
		OrderDescription:          req.Description,
		CustomerFirstName:         firstName,
		CustomerLastName:          lastName,
		CustomerEmail:             "customer@smarttransit.lk",
		CustomerMobilePhone:       phone,
		BillingAddressStreet:      "Sri Lanka",
		BillingAddressCity:        "Colombo",
		BillingAddressCountry:     "LK",
		BillingAddressPostcodeZip: "00000",
		CheckValue:                g.GenerateCheckValue(req.InvoiceID, amount, req.Currency),
		IsMobilePayment:           1,
		IntegrationType:           "SmartTransit",
		IntegrationVersion:        "1.0.0",
		PackageName:               "lk.smarttransit.passenger",
	}

	g.logger.WithFields(logrus.Fields{
		"invoice_id": req.InvoiceID,
		"amount":     amount,
		"currency":   req.Currency,
	}).Info("Initiating PAYable payment")

	var resp payablePaymentResponse
	status, raw, err := g.post(ctx, g.endpoint, body, &resp)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("payment gateway returned status %d: %s", status, raw)
	}

	// PAYable answers "PENDING" when the payment page is ready
	if resp.Status != "success" && resp.Status != "PENDING" {
		return &models.ChargeResult{
			Status:    models.ChargeFailure,
			InvoiceID: req.InvoiceID,
			Amount:    req.Amount,
			Reason:    firstNonEmpty(resp.Message, "payment initiation rejected"),
			CheckedAt: g.clock(),
		}, nil
	}
	if resp.PaymentPage == "" {
		return nil, fmt.Errorf("payment initiation failed: no payment page URL returned")
	}

	return &models.ChargeResult{
		Status:           models.ChargePending,
		TransactionID:    resp.UID,
		InvoiceID:        req.InvoiceID,
		Amount:           req.Amount,
		PaymentPageURL:   resp.PaymentPage,
		GatewayReference: resp.StatusIndicator,
		CheckedAt:        g.clock(),
	}, nil
}

// GetChargeStatus queries the current status of a payment
func (g *PAYableGateway) GetChargeStatus(ctx context.Context, ref models.ChargeReference) (*models.ChargeResult, error) {
	if ref.TransactionID == "" {
		return nil, fmt.Errorf("invoice %s has no PAYable transaction", ref.InvoiceID)
	}

	statusURL := strings.Replace(g.endpoint, "/ipg/", "/check-status/", 1)
	var resp payableStatusResponse
	status, raw, err := g.post(ctx, statusURL, &payableStatusRequest{
		UID:             ref.TransactionID,
		StatusIndicator: ref.GatewayReference,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if status >= http.StatusInternalServerError {
		return nil, fmt.Errorf("status check returned %d: %s", status, raw)
	}

	result := &models.ChargeResult{
		Status:           payableChargeStatus(resp.PaymentStatus),
		TransactionID:    firstNonEmpty(resp.TransactionID, ref.TransactionID),
		InvoiceID:        firstNonEmpty(resp.InvoiceID, ref.InvoiceID),
		GatewayReference: ref.GatewayReference,
		Reason:           resp.Message,
		CheckedAt:        g.clock(),
	}
	fmt.Sscanf(resp.Amount, "%f", &result.Amount)
	return result, nil
}

// Refund records a refund request. PAYable IPG exposes no refund API, so
// refunds are settled from the merchant portal.
func (g *PAYableGateway) Refund(_ context.Context, ref models.ChargeReference, amount float64, reason string) error {
	g.logger.WithFields(logrus.Fields{
		"invoice_id":     ref.InvoiceID,
		"transaction_id": ref.TransactionID,
		"amount":         amount,
		"reason":         reason,
	}).Warn("Refund required, settle from PAYable merchant portal")
	return nil
}

func (g *PAYableGateway) post(ctx context.Context, url string, body, out interface{}) (int, string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, "", fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.WithError(err).Error("Failed to call PAYable endpoint")
		return 0, "", fmt.Errorf("failed to call payment gateway: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode == http.StatusOK {
		if err := json.Unmarshal(raw, out); err != nil {
			return 0, "", fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return resp.StatusCode, string(raw), nil
}

// payableChargeStatus maps PAYable payment states onto charge states
func payableChargeStatus(raw string) models.ChargeStatus {
	switch strings.ToUpper(raw) {
	case "SUCCESS":
		return models.ChargeSuccess
	case "FAILED", "CANCELLED":
		return models.ChargeFailure
	default:
		return models.ChargePending
	}
}

// splitName splits a full name into first and last name
func splitName(fullName string) (firstName, lastName string) {
	parts := strings.Fields(fullName)
	if len(parts) == 0 {
		return "Customer", "."
	}
	if len(parts) == 1 {
		return parts[0], "." // PAYable requires last name
	}
	return parts[0], strings.Join(parts[1:], " ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
