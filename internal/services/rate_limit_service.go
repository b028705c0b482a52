package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/seat-booking-core/internal/config"
	"github.com/smarttransit/seat-booking-core/internal/models"
)

// RequestCounter counts requests per key in fixed windows
type RequestCounter interface {
	// Hit records one request and returns the count in the current window
	// and when that window resets
	Hit(ctx context.Context, key string, window time.Duration, now time.Time) (int, time.Time, error)
}

// RateLimitConfig holds hold placement limits. A zero max disables that limit.
type RateLimitConfig struct {
	MaxPrincipalHolds int           // Max hold requests per principal
	MaxIPHolds        int           // Max hold requests per client IP
	Window            time.Duration // Time window for both limits
}

// DefaultRateLimitConfig returns the default hold placement limits
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxPrincipalHolds: 10,               // 10 holds
		MaxIPHolds:        30,               // 30 holds
		Window:            10 * time.Minute, // per 10 minutes
	}
}

// RateLimitConfigFrom reads the limits from the booking configuration
func RateLimitConfigFrom(cfg config.BookingConfig) RateLimitConfig {
	return RateLimitConfig{
		MaxPrincipalHolds: cfg.HoldLimitPerPrincipal,
		MaxIPHolds:        cfg.HoldLimitPerIP,
		Window:            cfg.HoldLimitWindow,
	}
}

// RateLimitError represents a rate limit exceeded error
type RateLimitError struct {
	Message    string
	RetryAfter time.Time
	RetryIn    time.Duration
	Type       string // "principal" or "ip"
}

func (e *RateLimitError) Error() string {
	return e.Message
}

// Unwrap lets errors.Is(err, models.ErrRateLimited) match
func (e *RateLimitError) Unwrap() error {
	return models.ErrRateLimited
}

// HoldRateLimiter throttles hold placement so one caller cannot lock up a
// trip's seats by holding and abandoning them repeatedly
type HoldRateLimiter struct {
	counter RequestCounter
	config  RateLimitConfig
	clock   func() time.Time
	logger  *logrus.Logger
}

// NewHoldRateLimiter creates a new hold rate limiter
func NewHoldRateLimiter(counter RequestCounter, cfg RateLimitConfig, clock func() time.Time, logger *logrus.Logger) *HoldRateLimiter {
	return &HoldRateLimiter{
		counter: counter,
		config:  cfg,
		clock:   clock,
		logger:  logger,
	}
}

// Enabled reports whether any limit is configured
func (l *HoldRateLimiter) Enabled() bool {
	return l.config.MaxPrincipalHolds > 0 || l.config.MaxIPHolds > 0
}

// AllowHold records a hold request and returns a *RateLimitError once the
// principal or the IP is over its limit. Counter failures let the request
// through.
func (l *HoldRateLimiter) AllowHold(ctx context.Context, principalID uuid.UUID, ip string) error {
	now := l.clock()

	// Check principal-based rate limit
	if l.config.MaxPrincipalHolds > 0 && principalID != uuid.Nil {
		if err := l.check(ctx, "principal", principalID.String(), l.config.MaxPrincipalHolds, now); err != nil {
			return err
		}
	}

	// Check IP-based rate limit
	if l.config.MaxIPHolds > 0 && ip != "" {
		if err := l.check(ctx, "ip", ip, l.config.MaxIPHolds, now); err != nil {
			return err
		}
	}

	return nil
}

func (l *HoldRateLimiter) check(ctx context.Context, identifierType, identifier string, limit int, now time.Time) error {
	key := "holds:" + identifierType + ":" + identifier
	count, resetAt, err := l.counter.Hit(ctx, key, l.config.Window, now)
	if err != nil {
		l.logger.WithError(err).WithField("type", identifierType).Warn("Hold rate limit check failed, allowing request")
		return nil
	}
	if count <= limit {
		return nil
	}

	l.logger.WithFields(logrus.Fields{
		"type":        identifierType,
		"identifier":  identifier,
		"count":       count,
		"retry_after": resetAt,
	}).Warn("Hold rate limit exceeded")

	subject := "this account"
	if identifierType == "ip" {
		subject = "this IP address"
	}
	return &RateLimitError{
		Message:    fmt.Sprintf("Too many seat holds from %s. Please try again after %s", subject, resetAt.Format("15:04:05")),
		RetryAfter: resetAt,
		RetryIn:    resetAt.Sub(now),
		Type:       identifierType,
	}
}

// ============================================================================
// IN-MEMORY COUNTER
// ============================================================================

// pruneThreshold is the number of tracked keys that triggers a cleanup of
// windows that have already reset
const pruneThreshold = 4096

type rateWindow struct {
	count   int
	resetAt time.Time
}

// MemoryCounter is a RequestCounter for a single instance
type MemoryCounter struct {
	mu      sync.Mutex
	windows map[string]*rateWindow
}

// NewMemoryCounter creates an empty in-memory counter
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{windows: make(map[string]*rateWindow)}
}

// Hit implements RequestCounter
func (m *MemoryCounter) Hit(_ context.Context, key string, d time.Duration, now time.Time) (int, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.windows) >= pruneThreshold {
		m.cleanupExpired(now)
	}

	w, ok := m.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &rateWindow{resetAt: now.Add(d)}
		m.windows[key] = w
	}
	w.count++
	return w.count, w.resetAt, nil
}

// Len returns the number of tracked keys
func (m *MemoryCounter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}

func (m *MemoryCounter) cleanupExpired(now time.Time) {
	for key, w := range m.windows {
		if !now.Before(w.resetAt) {
			delete(m.windows, key)
		}
	}
}
