package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/smarttransit/seat-booking-core/internal/models"
)

// PaymentGateway is the payment collaborator. Charge is not idempotent from
// the caller's side and is never retried; status queries are.
type PaymentGateway interface {
	Charge(ctx context.Context, req *models.ChargeRequest) (*models.ChargeResult, error)
	GetChargeStatus(ctx context.Context, ref models.ChargeReference) (*models.ChargeResult, error)
	Refund(ctx context.Context, ref models.ChargeReference, amount float64, reason string) error
}

// retryIdempotent runs fn up to attempts times with linear backoff. Only
// safe for calls that do not move money.
func retryIdempotent[T any](ctx context.Context, attempts int, backoff time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(time.Duration(i) * backoff):
			}
		}
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
	}
	return zero, fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}

// ============================================================================
// SIMULATED GATEWAY
// ============================================================================

// SimulatedRefund records a refund signal received by the simulated gateway
type SimulatedRefund struct {
	InvoiceID string
	Amount    float64
	Reason    string
}

// SimulatedGateway settles charges in process. Charges succeed unless an
// outcome was set for the invoice. Used with PAYMENT_GATEWAY=simulated and
// in tests.
type SimulatedGateway struct {
	mu       sync.Mutex
	outcomes map[string]models.ChargeStatus
	charges  map[string]*models.ChargeResult
	refunds  []SimulatedRefund
	failNext error
	clock    Clock
}

// NewSimulatedGateway creates a gateway that approves every charge
func NewSimulatedGateway(clock Clock) *SimulatedGateway {
	if clock == nil {
		clock = time.Now
	}
	return &SimulatedGateway{
		outcomes: make(map[string]models.ChargeStatus),
		charges:  make(map[string]*models.ChargeResult),
		clock:    clock,
	}
}

// SetOutcome fixes the result of the next charge for an invoice
func (g *SimulatedGateway) SetOutcome(invoiceID string, status models.ChargeStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.outcomes[invoiceID] = status
}

// Settle moves a pending charge to its final status, as the real gateway
// does when the passenger completes the payment page
func (g *SimulatedGateway) Settle(invoiceID string, status models.ChargeStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.charges[invoiceID]; ok {
		c.Status = status
		if status == models.ChargeFailure {
			c.Reason = "declined"
		}
	}
}

// FailNext makes the next gateway call return err
func (g *SimulatedGateway) FailNext(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failNext = err
}

// Refunds returns the refunds signalled so far
func (g *SimulatedGateway) Refunds() []SimulatedRefund {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]SimulatedRefund(nil), g.refunds...)
}

func (g *SimulatedGateway) takeFailure() error {
	err := g.failNext
	g.failNext = nil
	return err
}

// Charge records a charge for the invoice. Repeated charges of the same
// invoice return the first result.
func (g *SimulatedGateway) Charge(_ context.Context, req *models.ChargeRequest) (*models.ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.takeFailure(); err != nil {
		return nil, err
	}
	if existing, ok := g.charges[req.InvoiceID]; ok {
		out := *existing
		return &out, nil
	}

	status, ok := g.outcomes[req.InvoiceID]
	if !ok {
		status = models.ChargeSuccess
	}
	result := &models.ChargeResult{
		Status:           status,
		TransactionID:    "SIM-" + uuid.NewString()[:8],
		InvoiceID:        req.InvoiceID,
		Amount:           req.Amount,
		GatewayReference: req.InvoiceID,
		CheckedAt:        g.clock(),
	}
	switch status {
	case models.ChargeFailure:
		result.Reason = "declined"
	case models.ChargePending:
		result.PaymentPageURL = "https://pay.simulated.local/" + req.InvoiceID
	}
	g.charges[req.InvoiceID] = result

	out := *result
	return &out, nil
}

// GetChargeStatus returns the current state of an invoice's charge
func (g *SimulatedGateway) GetChargeStatus(_ context.Context, ref models.ChargeReference) (*models.ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.takeFailure(); err != nil {
		return nil, err
	}
	c, ok := g.charges[ref.InvoiceID]
	if !ok {
		return &models.ChargeResult{Status: models.ChargePending, InvoiceID: ref.InvoiceID, CheckedAt: g.clock()}, nil
	}
	out := *c
	out.CheckedAt = g.clock()
	return &out, nil
}

// Refund records the refund signal
func (g *SimulatedGateway) Refund(_ context.Context, ref models.ChargeReference, amount float64, reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.takeFailure(); err != nil {
		return err
	}
	g.refunds = append(g.refunds, SimulatedRefund{InvoiceID: ref.InvoiceID, Amount: amount, Reason: reason})
	return nil
}
