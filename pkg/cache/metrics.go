package cache

import (
	"sync/atomic"
	"time"
)

// TierMetrics is the read-only snapshot of one tier's counters
type TierMetrics struct {
	Hits             int64         `json:"hits"`
	Misses           int64         `json:"misses"`
	HitRate          float64       `json:"hit_rate"`
	AvgLookupLatency time.Duration `json:"avg_lookup_latency"`
}

// OptimizationMetrics is the process-wide aggregate snapshot returned by
// Cache.Metrics(). Counters reset only at process start.
type OptimizationMetrics struct {
	L1 TierMetrics `json:"l1"`
	L2 TierMetrics `json:"l2"`
	L3 TierMetrics `json:"l3"`

	Sets        int64 `json:"sets"`
	Deletes     int64 `json:"deletes"`
	Evictions   int64 `json:"evictions"`
	Demotions   int64 `json:"demotions"`
	Promotions  int64 `json:"promotions"`
	Expirations int64 `json:"expirations"`

	ProducerCalls int64 `json:"producer_calls"`

	CompressedWrites      int64 `json:"compressed_writes"`
	CompressionSavedBytes int64 `json:"compression_saved_bytes"`
	DedupWrites           int64 `json:"dedup_writes"`
	DedupSavedBytes       int64 `json:"dedup_saved_bytes"`

	PreloadSignals int64 `json:"preload_signals"`
	PreloadDropped int64 `json:"preload_dropped"`
	PreloadFetches int64 `json:"preload_fetches"`

	InternalErrors int64 `json:"internal_errors"`
}

// tierCounters aggregates per-tier lookup outcomes and latency
type tierCounters struct {
	hits         atomic.Int64
	misses       atomic.Int64
	lookups      atomic.Int64
	latencyNanos atomic.Int64
}

func (c *tierCounters) observe(hit bool, elapsed time.Duration) {
	if hit {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	c.lookups.Add(1)
	c.latencyNanos.Add(elapsed.Nanoseconds())
}

func (c *tierCounters) snapshot() TierMetrics {
	hits := c.hits.Load()
	misses := c.misses.Load()
	m := TierMetrics{Hits: hits, Misses: misses}
	if total := hits + misses; total > 0 {
		m.HitRate = float64(hits) / float64(total)
	}
	if lookups := c.lookups.Load(); lookups > 0 {
		m.AvgLookupLatency = time.Duration(c.latencyNanos.Load() / lookups)
	}
	return m
}

// optimizerMetrics owns every counter behind OptimizationMetrics. All
// fields are atomics; Snapshot is a consistent-enough point-in-time copy
// for monitoring.
type optimizerMetrics struct {
	l1 tierCounters
	l2 tierCounters
	l3 tierCounters

	sets        atomic.Int64
	deletes     atomic.Int64
	evictions   atomic.Int64
	demotions   atomic.Int64
	promotions  atomic.Int64
	expirations atomic.Int64

	producerCalls atomic.Int64

	compressedWrites      atomic.Int64
	compressionSavedBytes atomic.Int64
	dedupWrites           atomic.Int64
	dedupSavedBytes       atomic.Int64

	preloadSignals atomic.Int64
	preloadDropped atomic.Int64
	preloadFetches atomic.Int64

	internalErrors atomic.Int64
}

func newOptimizerMetrics() *optimizerMetrics {
	return &optimizerMetrics{}
}

func (m *optimizerMetrics) tier(t Tier) *tierCounters {
	switch t {
	case TierL1:
		return &m.l1
	case TierL2:
		return &m.l2
	default:
		return &m.l3
	}
}

// Snapshot returns the read-only aggregate view
func (m *optimizerMetrics) Snapshot() OptimizationMetrics {
	return OptimizationMetrics{
		L1: m.l1.snapshot(),
		L2: m.l2.snapshot(),
		L3: m.l3.snapshot(),

		Sets:        m.sets.Load(),
		Deletes:     m.deletes.Load(),
		Evictions:   m.evictions.Load(),
		Demotions:   m.demotions.Load(),
		Promotions:  m.promotions.Load(),
		Expirations: m.expirations.Load(),

		ProducerCalls: m.producerCalls.Load(),

		CompressedWrites:      m.compressedWrites.Load(),
		CompressionSavedBytes: m.compressionSavedBytes.Load(),
		DedupWrites:           m.dedupWrites.Load(),
		DedupSavedBytes:       m.dedupSavedBytes.Load(),

		PreloadSignals: m.preloadSignals.Load(),
		PreloadDropped: m.preloadDropped.Load(),
		PreloadFetches: m.preloadFetches.Load(),

		InternalErrors: m.internalErrors.Load(),
	}
}
