package cache

import "time"

// minAdaptiveTTL floors cold-key TTLs so an entry is never born expired
const minAdaptiveTTL = time.Second

// PlacementPolicy decides which tier a payload belongs in and how long it
// should live, based on the key's access pattern and payload size. Hot
// data survives longer in the fastest tier; cold data expires quickly to
// bound memory.
type PlacementPolicy struct {
	l1MaxValueBytes int
	l2MaxValueBytes int
	baseTTL         time.Duration
}

// NewPlacementPolicy creates a placement policy with the given size
// thresholds and default base TTL.
func NewPlacementPolicy(l1MaxValueBytes, l2MaxValueBytes int, baseTTL time.Duration) *PlacementPolicy {
	if l1MaxValueBytes <= 0 {
		l1MaxValueBytes = 100 * 1024
	}
	if l2MaxValueBytes <= 0 {
		l2MaxValueBytes = 1024 * 1024
	}
	if baseTTL <= 0 {
		baseTTL = 5 * time.Minute
	}
	return &PlacementPolicy{
		l1MaxValueBytes: l1MaxValueBytes,
		l2MaxValueBytes: l2MaxValueBytes,
		baseTTL:         baseTTL,
	}
}

// TargetTier returns the tier a payload with the given pattern and size
// should be written to.
func (p *PlacementPolicy) TargetTier(pattern AccessPattern, sizeBytes int) Tier {
	if pattern == PatternHot && sizeBytes < p.l1MaxValueBytes {
		return TierL1
	}
	if (pattern == PatternHot || pattern == PatternWarm) && sizeBytes < p.l2MaxValueBytes {
		return TierL2
	}
	return TierL3
}

// AdaptiveTTL scales the base TTL by the key's access pattern. A
// non-positive base falls back to the policy default.
func (p *PlacementPolicy) AdaptiveTTL(pattern AccessPattern, base time.Duration) time.Duration {
	if base <= 0 {
		base = p.baseTTL
	}

	switch pattern {
	case PatternHot:
		return 3 * base
	case PatternWarm:
		return 2 * base
	case PatternCold:
		ttl := base / 2
		if ttl < minAdaptiveTTL {
			ttl = minAdaptiveTTL
		}
		return ttl
	default:
		return base
	}
}

// FasterTier reports whether a is a faster tier than b
func FasterTier(a, b Tier) bool {
	return a != TierAuto && b != TierAuto && a < b
}
