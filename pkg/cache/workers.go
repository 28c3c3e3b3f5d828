package cache

import (
	"context"
	"time"
)

// optimizeLoop is the periodic optimization worker: it purges expired
// entries across the tiers and exports a metrics snapshot.
func (c *Cache[V]) optimizeLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.OptimizeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.runOptimizationPass(context.Background())
		}
	}
}

// patternLoop is the pattern-analysis worker: it reclassifies every
// tracked key and rebalances L1 residency to match.
func (c *Cache[V]) patternLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.PatternInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.analyzePatterns(context.Background())
		}
	}
}

// memoryLoop is the memory-manager worker: it evicts proactively when L1
// occupancy crosses the high watermark, so the write path rarely has to
// evict reactively.
func (c *Cache[V]) memoryLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.MemoryCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			if n := c.l1.EvictToWatermark(c.cfg.MemoryHighWatermark); n > 0 {
				c.logger.Debug("memory watermark eviction", map[string]interface{}{
					"evicted": n,
					"size":    c.l1.Size(),
				})
			}
		}
	}
}

// runOptimizationPass purges expired entries from every tier that supports
// it and exports the metrics snapshot. L2 expiry is native to Redis, so
// only L1 and L3 need purging.
func (c *Cache[V]) runOptimizationPass(ctx context.Context) {
	expired := 0
	if n, err := c.l1.PurgeExpired(ctx); err == nil {
		expired += n
	}
	if c.l3 != nil {
		if purger, ok := c.l3.(ExpiredPurger); ok {
			n, err := purger.PurgeExpired(ctx)
			if err != nil {
				c.logger.Debug("l3 expiry purge failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
			expired += n
		}
	}
	if expired > 0 {
		c.metrics.expirations.Add(int64(expired))
	}

	c.exportMetrics()
}

// analyzePatterns reclassifies every key with recent accesses and
// rebalances L1 residency: hot keys living in slower tiers are pulled in,
// cold multi-read keys still occupying L1 are pushed out to L2.
func (c *Cache[V]) analyzePatterns(ctx context.Context) {
	promotions := 0
	for _, key := range c.tracker.Keys() {
		pattern := c.tracker.AnalyzePattern(key)

		// A key reached predominantly right after one specific other key
		// is sequential; hot keys keep their classification since it
		// places them better.
		if c.preloader != nil && pattern != PatternHot {
			if pred, share := c.preloader.dominantPredecessor(key); pred != "" && share >= sequentialDominance {
				pattern = PatternSequential
			}
		}

		c.l1.UpdatePattern(key, pattern)

		if pattern == PatternHot && promotions < maxPromotionsPerPass && !c.l1.Contains(key) {
			c.warmKey(ctx, key)
			promotions++
		}
	}

	if c.l2 == nil {
		return
	}
	for _, entry := range c.l1.Entries() {
		if entry.Pattern != PatternCold || entry.AccessCount <= 1 {
			continue
		}
		ttl := entry.TTLRemaining(time.Now())
		if ttl <= 0 {
			continue
		}
		if err := c.l2.Set(ctx, entry.Key, entry, ttl); err != nil {
			continue
		}
		_ = c.l1.Delete(ctx, entry.Key)
		c.metrics.demotions.Add(1)
	}
}

// exportMetrics pushes the aggregate snapshot to the metrics client
func (c *Cache[V]) exportMetrics() {
	snapshot := c.metrics.Snapshot()

	c.obs.RecordGauge("cache.l1.entries", float64(c.l1.Size()), nil)
	c.obs.RecordGauge("cache.l1.hit_rate", snapshot.L1.HitRate, nil)
	c.obs.RecordGauge("cache.l2.hit_rate", snapshot.L2.HitRate, nil)
	c.obs.RecordGauge("cache.l3.hit_rate", snapshot.L3.HitRate, nil)
	c.obs.RecordGauge("cache.evictions", float64(snapshot.Evictions), nil)
	c.obs.RecordGauge("cache.demotions", float64(snapshot.Demotions), nil)
	c.obs.RecordGauge("cache.promotions", float64(snapshot.Promotions), nil)
	c.obs.RecordGauge("cache.expirations", float64(snapshot.Expirations), nil)
	c.obs.RecordGauge("cache.compression.saved_bytes", float64(snapshot.CompressionSavedBytes), nil)
	c.obs.RecordGauge("cache.dedup.saved_bytes", float64(snapshot.DedupSavedBytes), nil)
	c.obs.RecordGauge("cache.internal_errors", float64(snapshot.InternalErrors), nil)

	c.logger.Debug("optimization pass", map[string]interface{}{
		"l1_entries":  c.l1.Size(),
		"l1_hit_rate": snapshot.L1.HitRate,
		"l2_hit_rate": snapshot.L2.HitRate,
		"l3_hit_rate": snapshot.L3.HitRate,
		"evictions":   snapshot.Evictions,
		"demotions":   snapshot.Demotions,
		"promotions":  snapshot.Promotions,
	})
}
