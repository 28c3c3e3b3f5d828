package cache

import (
	"context"
	"time"
)

// TierStore is the uniform contract one cache tier implements.
//
// Get fails closed: any backend error or timeout degrades to a miss for
// that tier, never an error surfaced to the caller. Set and Delete return
// errors for callers that want them, but the optimizer absorbs and logs
// them; a cache failure must not fail a request.
type TierStore interface {
	// Tier identifies which layer this store serves
	Tier() Tier

	// Get returns the entry for key, or false on a miss, an expired
	// entry, or any backend failure.
	Get(ctx context.Context, key string) (*Entry, bool)

	// Set overwrites any existing entry for key in this tier. The entry's
	// ExpiresAt is authoritative; ttl is passed along for backends with
	// native expiry.
	Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error

	// Delete removes the entry for key, if present
	Delete(ctx context.Context, key string) error

	// Flush removes every entry in this tier
	Flush(ctx context.Context) error

	// Close releases backend resources
	Close() error
}

// ExpiredPurger is implemented by tiers that can bulk-remove expired
// entries. The optimization worker calls it periodically; tiers with
// native TTL expiry (Redis) don't need it.
type ExpiredPurger interface {
	PurgeExpired(ctx context.Context) (int, error)
}
