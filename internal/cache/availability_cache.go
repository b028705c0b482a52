package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/seat-booking-core/internal/models"
)

const (
	keyPrefix         = "availability:"
	defaultTTL        = 30 * time.Second
	invalidateTimeout = 2 * time.Second
)

// AvailabilityCache is the search-side replica of per-trip seat counts.
// Entries live for at most ttl and are dropped on every ledger event of
// their trip, so staleness is bounded by ttl.
type AvailabilityCache struct {
	client redis.Cmdable
	ttl    time.Duration
	logger *logrus.Logger
}

// NewAvailabilityCache creates a new cache on top of a redis client
func NewAvailabilityCache(client redis.Cmdable, ttl time.Duration, logger *logrus.Logger) *AvailabilityCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &AvailabilityCache{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// Key returns the redis key of a trip's counts
func Key(tripID models.TripID) string {
	return keyPrefix + tripID.String()
}

// GetCount returns the cached counts of a trip, or nil on a miss
func (c *AvailabilityCache) GetCount(ctx context.Context, tripID models.TripID) (*models.AvailabilityCount, error) {
	raw, err := c.client.Get(ctx, Key(tripID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read availability cache: %w", err)
	}

	var count models.AvailabilityCount
	if err := json.Unmarshal([]byte(raw), &count); err != nil {
		// A corrupt entry behaves like a miss and is overwritten on refill
		c.logger.WithError(err).WithField("trip_id", tripID).Warn("Discarding unreadable availability cache entry")
		return nil, nil
	}
	return &count, nil
}

// SetCount stores the counts of a trip for the cache ttl
func (c *AvailabilityCache) SetCount(ctx context.Context, count models.AvailabilityCount) error {
	data, err := json.Marshal(count)
	if err != nil {
		return fmt.Errorf("failed to encode availability: %w", err)
	}
	if err := c.client.Set(ctx, Key(count.TripID), string(data), c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write availability cache: %w", err)
	}
	return nil
}

// Invalidate drops a trip's cached counts
func (c *AvailabilityCache) Invalidate(ctx context.Context, tripID models.TripID) error {
	if err := c.client.Del(ctx, Key(tripID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate availability cache: %w", err)
	}
	return nil
}

// HandleLedgerEvent is subscribed to the reservation ledger. Every committed
// seat change invalidates the trip's entry.
func (c *AvailabilityCache) HandleLedgerEvent(ev models.LedgerEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), invalidateTimeout)
	defer cancel()

	if err := c.Invalidate(ctx, ev.TripID); err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"trip_id": ev.TripID,
			"event":   ev.Type,
		}).Warn("Availability cache invalidation failed, entry expires with its ttl")
	}
}

// Ping checks the redis connection
func (c *AvailabilityCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
