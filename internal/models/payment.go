package models

import "time"

// ChargeStatus is the gateway-side state of a charge
type ChargeStatus string

const (
	ChargePending ChargeStatus = "pending"
	ChargeSuccess ChargeStatus = "success"
	ChargeFailure ChargeStatus = "failure"
)

// ChargeRequest asks the payment collaborator to take money.
// InvoiceID doubles as the gateway idempotency key.
type ChargeRequest struct {
	InvoiceID     string
	Amount        float64
	Currency      string
	Method        string
	Description   string
	CustomerName  string
	CustomerPhone string
}

// ChargeResult is the outcome of a charge or a status query.
// GatewayReference is the gateway's handle for later status queries.
type ChargeResult struct {
	Status           ChargeStatus `json:"status"`
	TransactionID    string       `json:"transaction_id,omitempty"`
	InvoiceID        string       `json:"invoice_id,omitempty"`
	Amount           float64      `json:"amount,omitempty"`
	Reason           string       `json:"reason,omitempty"`
	PaymentPageURL   string       `json:"payment_page_url,omitempty"`
	GatewayReference string       `json:"-"`
	CheckedAt        time.Time    `json:"checked_at"`
}

// ChargeReference identifies a submitted charge for status and refund calls
type ChargeReference struct {
	InvoiceID        string
	TransactionID    string
	GatewayReference string
}

// Succeeded reports whether money was taken
func (r *ChargeResult) Succeeded() bool {
	return r != nil && r.Status == ChargeSuccess
}

// PaymentWebhookPayload is the asynchronous callback from the gateway
type PaymentWebhookPayload struct {
	InvoiceID     string `json:"invoiceId" binding:"required"`
	TransactionID string `json:"transactionId"`
	PaymentStatus string `json:"paymentStatus" binding:"required"` // SUCCESS, FAILED, CANCELLED
	Amount        string `json:"amount"`
	CurrencyCode  string `json:"currencyCode"`
	Reason        string `json:"reason,omitempty"`
}
