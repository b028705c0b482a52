package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const rateKeyPrefix = "ratelimit:"

// RateCounter keeps fixed-window request counts in redis so every instance
// of the service shares the same limits
type RateCounter struct {
	client redis.Cmdable
}

// NewRateCounter creates a counter on top of a redis client
func NewRateCounter(client redis.Cmdable) *RateCounter {
	return &RateCounter{client: client}
}

// Hit increments the key's counter, starting its window on the first hit,
// and returns the count and when the window resets
func (r *RateCounter) Hit(ctx context.Context, key string, window time.Duration, now time.Time) (int, time.Time, error) {
	key = rateKeyPrefix + key

	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to increment rate counter: %w", err)
	}
	if count == 1 {
		if err := r.client.PExpire(ctx, key, window).Err(); err != nil {
			return 0, time.Time{}, fmt.Errorf("failed to start rate window: %w", err)
		}
		return 1, now.Add(window), nil
	}

	ttl, err := r.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to read rate window: %w", err)
	}
	if ttl < 0 {
		// The expiry was lost (crash between INCR and PEXPIRE), restart the window
		if err := r.client.PExpire(ctx, key, window).Err(); err != nil {
			return 0, time.Time{}, fmt.Errorf("failed to start rate window: %w", err)
		}
		ttl = window
	}
	return int(count), now.Add(ttl), nil
}
