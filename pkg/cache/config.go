package cache

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config configures the cache optimizer. Use DefaultConfig() for
// production-ready settings and override individual fields as needed.
//
// The placement and eviction thresholds are tunable defaults, not derived
// constants; measure before changing them.
type Config struct {
	// L1MaxEntries bounds the in-process tier
	L1MaxEntries int `mapstructure:"l1_max_entries"`

	// CompressionEnabled turns on payload compression above CompressionMinSize
	CompressionEnabled bool `mapstructure:"compression_enabled"`
	// CompressionMinSize is the smallest payload worth compressing, in bytes
	CompressionMinSize int `mapstructure:"compression_min_size"`
	// CompressionCutoff keeps the original payload unless
	// compressed/original falls below this ratio
	CompressionCutoff float64 `mapstructure:"compression_cutoff"`

	// PredictionEnabled turns on the predictive preloader
	PredictionEnabled bool `mapstructure:"prediction_enabled"`
	// PreloadQueueSize bounds the preload signal queue; signals beyond it
	// are dropped, never backpressured onto callers
	PreloadQueueSize int `mapstructure:"preload_queue_size"`
	// PreloadRate and PreloadBurst rate-limit preload fetches per second
	PreloadRate  float64 `mapstructure:"preload_rate"`
	PreloadBurst int     `mapstructure:"preload_burst"`
	// CoAccessMapSize bounds the co-access correlation map
	CoAccessMapSize int `mapstructure:"co_access_map_size"`

	// PatternAnalysisWindow is the sliding window used to classify access
	// patterns
	PatternAnalysisWindow time.Duration `mapstructure:"pattern_analysis_window"`
	// BaseTTL is the default time-to-live before adaptive scaling
	BaseTTL time.Duration `mapstructure:"base_ttl"`

	// L1MaxValueBytes is the largest payload the placement policy will put
	// in L1; L2MaxValueBytes likewise for L2
	L1MaxValueBytes int `mapstructure:"l1_max_value_bytes"`
	L2MaxValueBytes int `mapstructure:"l2_max_value_bytes"`

	// EvictionFraction is the share of L1 entries evicted per pass
	EvictionFraction float64 `mapstructure:"eviction_fraction"`
	// DemotionTTL is the TTL used when an evicted entry is written through
	// to L2 instead of being discarded
	DemotionTTL time.Duration `mapstructure:"demotion_ttl"`
	// MemoryHighWatermark is the L1 occupancy fraction at which the memory
	// manager evicts proactively
	MemoryHighWatermark float64 `mapstructure:"memory_high_watermark"`

	// DedupHashLen is the hex length of the truncated content hash used for
	// deduplication. 16 hex chars = 64 bits; see Deduplicator for the
	// collision bound.
	DedupHashLen int `mapstructure:"dedup_hash_len"`

	// TierTimeout bounds every L2/L3 backend call
	TierTimeout time.Duration `mapstructure:"tier_timeout"`

	// Worker intervals
	OptimizeInterval    time.Duration `mapstructure:"optimize_interval"`
	PatternInterval     time.Duration `mapstructure:"pattern_interval"`
	MemoryCheckInterval time.Duration `mapstructure:"memory_check_interval"`
}

// DefaultConfig returns the default cache optimizer configuration
func DefaultConfig() Config {
	return Config{
		L1MaxEntries:          1000,
		CompressionEnabled:    true,
		CompressionMinSize:    1024,
		CompressionCutoff:     0.8,
		PredictionEnabled:     true,
		PreloadQueueSize:      256,
		PreloadRate:           50,
		PreloadBurst:          10,
		CoAccessMapSize:       1024,
		PatternAnalysisWindow: time.Hour,
		BaseTTL:               5 * time.Minute,
		L1MaxValueBytes:       100 * 1024,
		L2MaxValueBytes:       1024 * 1024,
		EvictionFraction:      0.25,
		DemotionTTL:           time.Hour,
		MemoryHighWatermark:   0.9,
		DedupHashLen:          16,
		TierTimeout:           2 * time.Second,
		OptimizeInterval:      30 * time.Second,
		PatternInterval:       time.Minute,
		MemoryCheckInterval:   10 * time.Second,
	}
}

// Validate checks the configuration for invalid values
func (c Config) Validate() error {
	if c.L1MaxEntries <= 0 {
		return fmt.Errorf("%w: l1_max_entries must be positive", ErrInvalidConfig)
	}
	if c.CompressionCutoff <= 0 || c.CompressionCutoff > 1 {
		return fmt.Errorf("%w: compression_cutoff must be in (0, 1]", ErrInvalidConfig)
	}
	if c.EvictionFraction <= 0 || c.EvictionFraction > 1 {
		return fmt.Errorf("%w: eviction_fraction must be in (0, 1]", ErrInvalidConfig)
	}
	if c.MemoryHighWatermark <= 0 || c.MemoryHighWatermark > 1 {
		return fmt.Errorf("%w: memory_high_watermark must be in (0, 1]", ErrInvalidConfig)
	}
	if c.PatternAnalysisWindow <= 0 {
		return fmt.Errorf("%w: pattern_analysis_window must be positive", ErrInvalidConfig)
	}
	if c.BaseTTL <= 0 {
		return fmt.Errorf("%w: base_ttl must be positive", ErrInvalidConfig)
	}
	if c.DedupHashLen < 8 || c.DedupHashLen > 64 {
		return fmt.Errorf("%w: dedup_hash_len must be between 8 and 64", ErrInvalidConfig)
	}
	if c.TierTimeout <= 0 {
		return fmt.Errorf("%w: tier_timeout must be positive", ErrInvalidConfig)
	}
	if c.L1MaxValueBytes <= 0 || c.L2MaxValueBytes < c.L1MaxValueBytes {
		return fmt.Errorf("%w: value size thresholds must be positive and ordered", ErrInvalidConfig)
	}
	return nil
}

// LoadConfigFromViper loads cache optimizer configuration from viper under
// the "cache.optimizer" key, applying defaults for anything unset.
func LoadConfigFromViper() (Config, error) {
	config := DefaultConfig()

	if !viper.IsSet("cache.optimizer") {
		return config, nil
	}

	if err := viper.UnmarshalKey("cache.optimizer", &config); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal cache optimizer config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return Config{}, err
	}

	return config, nil
}
