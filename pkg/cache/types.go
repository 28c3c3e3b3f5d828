// Package cache implements a multi-layer adaptive cache: a bounded
// in-process L1, a shared L2 (Redis), and a persistent L3 (Postgres).
// Placement, time-to-live, and eviction decisions adapt to the observed
// access pattern of each key. Background workers expire stale entries,
// rebalance keys between tiers, and warm correlated keys ahead of demand.
package cache

import (
	"encoding/json"
	"fmt"
	"time"
)

// Tier identifies one layer of the cache hierarchy, ordered fastest and
// smallest (L1) to slowest and largest (L3).
type Tier int

// Cache tiers. TierAuto lets the placement policy choose.
const (
	TierAuto Tier = iota
	TierL1
	TierL2
	TierL3
)

// String returns the tier name
func (t Tier) String() string {
	switch t {
	case TierL1:
		return "l1"
	case TierL2:
		return "l2"
	case TierL3:
		return "l3"
	default:
		return "auto"
	}
}

// AccessPattern classifies how frequently a key has recently been read
type AccessPattern string

// Access pattern classifications. The hot path only ever produces
// hot/warm/cold; temporal and sequential come from the pattern analyzer.
const (
	PatternHot        AccessPattern = "hot"
	PatternWarm       AccessPattern = "warm"
	PatternCold       AccessPattern = "cold"
	PatternTemporal   AccessPattern = "temporal"
	PatternSequential AccessPattern = "sequential"
)

// Entry is the stored record for one key in a given tier. Promotion and
// demotion create a new Entry per tier; an Entry is never shared across
// tiers in place.
type Entry struct {
	Key              string        `json:"key" db:"cache_key"`
	Payload          []byte        `json:"payload,omitempty" db:"payload"`
	CreatedAt        time.Time     `json:"created_at" db:"created_at"`
	ExpiresAt        time.Time     `json:"expires_at" db:"expires_at"`
	Tier             Tier          `json:"tier" db:"-"`
	AccessCount      int64         `json:"access_count" db:"access_count"`
	HitCount         int64         `json:"hit_count" db:"hit_count"`
	LastAccessedAt   time.Time     `json:"last_accessed_at" db:"last_accessed_at"`
	Pattern          AccessPattern `json:"access_pattern" db:"access_pattern"`
	Compressed       bool          `json:"compressed" db:"compressed"`
	CompressionRatio float64       `json:"compression_ratio" db:"compression_ratio"`
	Deduplicated     bool          `json:"deduplicated" db:"deduplicated"`

	// AliasOf points at the key holding the physical payload when this
	// entry was deduplicated. Empty for entries that own their payload.
	AliasOf string `json:"alias_of,omitempty" db:"alias_of"`
}

// Expired reports whether the entry's TTL has elapsed at the given time
func (e *Entry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// TTLRemaining returns the time left before expiry, floored at zero
func (e *Entry) TTLRemaining(now time.Time) time.Duration {
	if e.Expired(now) {
		return 0
	}
	return e.ExpiresAt.Sub(now)
}

// Size returns the payload size in bytes
func (e *Entry) Size() int {
	return len(e.Payload)
}

// CloneForTier copies the entry for placement in another tier. Per-tier
// read counters start fresh; write-time attributes carry over.
func (e *Entry) CloneForTier(tier Tier) *Entry {
	clone := *e
	clone.Tier = tier
	clone.AccessCount = 0
	clone.HitCount = 0
	return &clone
}

// Serializer converts values of type V to and from bytes. Implementations
// must be safe for concurrent use.
type Serializer[V any] interface {
	Marshal(value V) ([]byte, error)
	Unmarshal(data []byte) (V, error)
}

// JSONSerializer serializes values as JSON. It is the default serializer.
type JSONSerializer[V any] struct{}

// Marshal encodes the value as JSON
func (JSONSerializer[V]) Marshal(value V) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerializationFailed, err)
	}
	return data, nil
}

// Unmarshal decodes the value from JSON
func (JSONSerializer[V]) Unmarshal(data []byte) (V, error) {
	var value V
	if err := json.Unmarshal(data, &value); err != nil {
		return value, fmt.Errorf("%w: %v", ErrDeserializationFailed, err)
	}
	return value, nil
}
