package cache

import "errors"

var (
	// Key errors
	ErrInvalidKey = errors.New("invalid cache key")

	// Tier errors. ErrTierUnavailable never crosses the TierStore boundary:
	// a failing backend degrades to a miss for that tier.
	ErrTierUnavailable = errors.New("cache tier unavailable")
	ErrTierTimeout     = errors.New("cache tier operation timeout")

	// Serialization errors
	ErrSerializationFailed   = errors.New("serialization failed")
	ErrDeserializationFailed = errors.New("deserialization failed")

	// Lifecycle errors
	ErrCacheClosed = errors.New("cache is closed")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
)
