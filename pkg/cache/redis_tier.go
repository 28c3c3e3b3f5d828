package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sony/gobreaker"

	"github.com/cachemesh/cachemesh/pkg/observability"
)

// RedisTier is the shared L2 tier over Redis. Entries are stored as JSON
// under a configurable prefix and expire through Redis's native TTL.
//
// Every call is bounded by the configured timeout and guarded by a
// circuit breaker: when Redis is down the breaker opens and calls fail
// closed immediately instead of waiting out the timeout each time.
type RedisTier struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
	logger  observability.Logger
}

// RedisTierConfig configures the L2 tier
type RedisTierConfig struct {
	Prefix  string        `mapstructure:"prefix"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// NewRedisTier creates the L2 tier over an existing Redis client
func NewRedisTier(client *redis.Client, cfg RedisTierConfig, logger observability.Logger) (*RedisTier, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if logger == nil {
		logger = observability.NewLogger("cache.tier.l2")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "cachemesh"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}

	t := &RedisTier{
		client:  client,
		prefix:  cfg.Prefix,
		timeout: cfg.Timeout,
		logger:  logger,
	}
	t.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "cache.l2",
		MaxRequests: 3,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", map[string]interface{}{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
		IsSuccessful: func(err error) bool {
			// A miss is a healthy backend
			return err == nil || errors.Is(err, redis.Nil)
		},
	})
	return t, nil
}

// Tier returns TierL2
func (t *RedisTier) Tier() Tier { return TierL2 }

// Get returns the entry for key. Backend errors, timeouts, and an open
// breaker all degrade to a miss.
func (t *RedisTier) Get(ctx context.Context, key string) (*Entry, bool) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	result, err := t.breaker.Execute(func() (interface{}, error) {
		return t.client.Get(ctx, t.storageKey(key)).Bytes()
	})
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			t.logger.Debug("l2 get degraded to miss", map[string]interface{}{
				"key":   key,
				"error": err.Error(),
			})
		}
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal(result.([]byte), &entry); err != nil {
		t.logger.Warn("l2 entry unreadable, treating as miss", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		return nil, false
	}

	if entry.Expired(time.Now()) {
		return nil, false
	}

	entry.Tier = TierL2
	entry.AccessCount++
	entry.HitCount++
	entry.LastAccessedAt = time.Now()
	return &entry, true
}

// Set stores the entry under the tier prefix with Redis-native expiry
func (t *RedisTier) Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error {
	e := entry.CloneForTier(TierL2)
	if ttl <= 0 {
		ttl = e.TTLRemaining(time.Now())
		if ttl <= 0 {
			return nil // already expired, nothing to store
		}
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSerializationFailed, err)
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	_, err = t.breaker.Execute(func() (interface{}, error) {
		return nil, t.client.Set(ctx, t.storageKey(key), data, ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTierUnavailable, err)
	}
	return nil
}

// Delete removes the entry for key
func (t *RedisTier) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	_, err := t.breaker.Execute(func() (interface{}, error) {
		return nil, t.client.Del(ctx, t.storageKey(key)).Err()
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTierUnavailable, err)
	}
	return nil
}

// Flush removes every entry under the tier prefix. Each scan batch runs
// through the breaker with its own timeout, same as the point operations,
// so a down backend cannot stall the whole pass.
func (t *RedisTier) Flush(ctx context.Context) error {
	var cursor uint64
	for {
		next, err := t.flushBatch(ctx, cursor)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTierUnavailable, err)
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (t *RedisTier) flushBatch(ctx context.Context, cursor uint64) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	result, err := t.breaker.Execute(func() (interface{}, error) {
		keys, next, err := t.client.Scan(ctx, cursor, t.prefix+":*", 100).Result()
		if err != nil {
			return nil, err
		}
		if len(keys) > 0 {
			if err := t.client.Del(ctx, keys...).Err(); err != nil {
				return nil, err
			}
		}
		return next, nil
	})
	if err != nil {
		return 0, err
	}
	return result.(uint64), nil
}

// Close closes the underlying Redis client
func (t *RedisTier) Close() error {
	return t.client.Close()
}

func (t *RedisTier) storageKey(key string) string {
	return t.prefix + ":" + key
}
