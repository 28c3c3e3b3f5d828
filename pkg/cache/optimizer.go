package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/cachemesh/cachemesh/pkg/observability"
)

// maxPromotionsPerPass bounds how many keys one pattern-analysis run will
// pull into faster tiers.
const maxPromotionsPerPass = 32

// sequentialDominance is the predecessor share above which a key is
// classified as sequential.
const sequentialDominance = 0.8

// ProducerFunc computes the value for a key on a total cache miss
type ProducerFunc[V any] func(ctx context.Context) (V, error)

// Cache is the multi-layer adaptive cache optimizer. It owns the L1 tier
// and coordinates the optional L2/L3 tiers, the access tracker, the
// deduplication index, and four background workers.
//
// Construct with New, wire tiers through options, call Start to run the
// background workers, and Stop on shutdown. All methods are safe for
// concurrent use.
//
// The only failures Get and Set surface are ErrInvalidKey for malformed
// input and the producer's own error. Every cache-internal failure is
// absorbed and logged: a total cache outage degrades to latency, never to
// an application error.
type Cache[V any] struct {
	id         string
	cfg        Config
	codec      KeyCodec
	tracker    *AccessTracker
	compressor *Compressor
	dedup      *Deduplicator
	placement  *PlacementPolicy
	l1         *MemoryTier
	l2         TierStore
	l3         TierStore
	serializer Serializer[V]
	metrics    *optimizerMetrics
	obs        observability.MetricsClient
	logger     observability.Logger
	startSpan  observability.StartSpanFunc
	preloader  *preloader

	mu      sync.Mutex
	started bool
	closed  bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// Option configures a Cache during construction
type Option[V any] func(*Cache[V])

// WithL2 wires the shared L2 tier
func WithL2[V any](store TierStore) Option[V] {
	return func(c *Cache[V]) { c.l2 = store }
}

// WithL3 wires the persistent L3 tier
func WithL3[V any](store TierStore) Option[V] {
	return func(c *Cache[V]) { c.l3 = store }
}

// WithSerializer replaces the default JSON serializer
func WithSerializer[V any](s Serializer[V]) Option[V] {
	return func(c *Cache[V]) { c.serializer = s }
}

// WithLogger sets the logger
func WithLogger[V any](logger observability.Logger) Option[V] {
	return func(c *Cache[V]) { c.logger = logger }
}

// WithMetricsClient sets the metrics client
func WithMetricsClient[V any](m observability.MetricsClient) Option[V] {
	return func(c *Cache[V]) { c.obs = m }
}

// WithTracer sets the span factory
func WithTracer[V any](fn observability.StartSpanFunc) Option[V] {
	return func(c *Cache[V]) { c.startSpan = fn }
}

// New creates a cache optimizer. The L1 tier is always present; L2 and L3
// are optional and wired through options.
func New[V any](cfg Config, opts ...Option[V]) (*Cache[V], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Cache[V]{
		id:         uuid.NewString(),
		cfg:        cfg,
		serializer: JSONSerializer[V]{},
		metrics:    newOptimizerMetrics(),
		obs:        observability.NewMetricsClient(),
		startSpan:  observability.NoopStartSpan,
		stopCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = observability.NewLogger("cache.optimizer")
	}
	c.logger = c.logger.With(map[string]interface{}{"cache_id": c.id})

	c.tracker = NewAccessTracker(cfg.PatternAnalysisWindow)
	c.compressor = NewCompressor(cfg.CompressionMinSize, cfg.CompressionCutoff, c.logger)
	c.dedup = NewDeduplicator(cfg.DedupHashLen)
	c.placement = NewPlacementPolicy(cfg.L1MaxValueBytes, cfg.L2MaxValueBytes, cfg.BaseTTL)

	evictionPolicy := NewEvictionPolicy(cfg.EvictionFraction, c.tracker.Frequency)
	c.l1 = NewMemoryTier(cfg.L1MaxEntries, evictionPolicy, c.handleEvicted)

	if cfg.PredictionEnabled {
		p, err := newPreloader(cfg, c.warmKey, c.metrics, c.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create preloader: %w", err)
		}
		c.preloader = p
	}

	return c, nil
}

// Start launches the background workers. Idempotent.
func (c *Cache[V]) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrCacheClosed
	}
	if c.started {
		return nil
	}
	c.started = true

	if c.preloader != nil {
		c.preloader.start()
	}

	c.wg.Add(3)
	go c.optimizeLoop()
	go c.patternLoop()
	go c.memoryLoop()

	c.logger.Info("cache optimizer started", map[string]interface{}{
		"l1_max_entries": c.cfg.L1MaxEntries,
		"l2_configured":  c.l2 != nil,
		"l3_configured":  c.l3 != nil,
		"prediction":     c.preloader != nil,
	})
	return nil
}

// Stop shuts the background workers down gracefully: no new work is
// accepted, in-flight iterations finish, then Stop returns. The context
// bounds how long to wait.
func (c *Cache[V]) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	started := c.started
	close(c.stopCh)
	c.mu.Unlock()

	if c.preloader != nil && started {
		c.preloader.stop()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("cache optimizer stopped", nil)
		return nil
	case <-ctx.Done():
		c.logger.Warn("shutdown timeout, some workers may be incomplete", nil)
		return ctx.Err()
	}
}

// Close stops the workers and closes the tier backends
func (c *Cache[V]) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = c.Stop(ctx)

	if c.l2 != nil {
		if err := c.l2.Close(); err != nil {
			return err
		}
	}
	if c.l3 != nil {
		if err := c.l3.Close(); err != nil {
			return err
		}
	}
	return nil
}

// getOptions carries per-call Get settings
type getOptions struct {
	preload bool
}

// GetOption configures a single Get call
type GetOption func(*getOptions)

// WithoutPreload suppresses the predictive-preload signal for this call
func WithoutPreload() GetOption {
	return func(o *getOptions) { o.preload = false }
}

// setOptions carries per-call Set settings
type setOptions struct {
	forceTier Tier
}

// SetOption configures a single Set call
type SetOption func(*setOptions)

// WithForceTier overrides the placement policy's tier choice
func WithForceTier(tier Tier) SetOption {
	return func(o *setOptions) { o.forceTier = tier }
}

// Get returns the cached value for (namespace, key), probing L1 then L2
// then L3. On a total miss the producer, when supplied, computes the
// value, which is stored with adaptive TTL and placement before being
// returned. ttl <= 0 means the configured base TTL.
//
// The boolean reports whether a value is being returned (from cache or
// producer). The only errors are ErrInvalidKey and the producer's own.
func (c *Cache[V]) Get(ctx context.Context, namespace, key string, producer ProducerFunc[V], ttl time.Duration, opts ...GetOption) (V, bool, error) {
	var zero V
	options := getOptions{preload: true}
	for _, opt := range opts {
		opt(&options)
	}

	cacheKey, err := c.codec.BuildKey(namespace, key)
	if err != nil {
		return zero, false, err
	}

	ctx, span := c.startSpan(ctx, "cache.Get")
	defer span.End()
	span.SetAttribute("cache.key", cacheKey)

	start := time.Now()
	c.tracker.Record(cacheKey)
	if c.preloader != nil {
		c.preloader.observe(cacheKey)
	}

	if entry, foundTier, ok := c.probe(ctx, cacheKey); ok {
		value, err := c.materialize(ctx, entry)
		if err == nil {
			c.maybePromote(ctx, cacheKey, entry, foundTier)
			if options.preload && c.preloader != nil {
				c.preloader.signal(cacheKey)
			}
			span.SetAttribute("cache.tier", foundTier.String())
			c.obs.RecordCacheOperation("get", true, time.Since(start).Seconds())
			return value, true, nil
		}
		// Unreadable entry degrades to a miss
		c.metrics.internalErrors.Add(1)
		c.logger.Warn("cached entry unreadable, falling through", map[string]interface{}{
			"key":   cacheKey,
			"tier":  foundTier.String(),
			"error": err.Error(),
		})
	}

	c.obs.RecordCacheOperation("get", false, time.Since(start).Seconds())

	if producer == nil {
		return zero, false, nil
	}

	c.metrics.producerCalls.Add(1)
	value, err := producer(ctx)
	if err != nil {
		// Producer errors are the caller's business, not the cache's
		return zero, false, err
	}

	c.storeValue(ctx, cacheKey, value, ttl, TierAuto)
	return value, true, nil
}

// Set stores a value under (namespace, key). The write runs through
// compression, deduplication, and placement; ttl <= 0 means the
// configured base TTL, scaled by the key's access pattern either way.
func (c *Cache[V]) Set(ctx context.Context, namespace, key string, value V, ttl time.Duration, opts ...SetOption) error {
	options := setOptions{forceTier: TierAuto}
	for _, opt := range opts {
		opt(&options)
	}

	cacheKey, err := c.codec.BuildKey(namespace, key)
	if err != nil {
		return err
	}

	ctx, span := c.startSpan(ctx, "cache.Set")
	defer span.End()
	span.SetAttribute("cache.key", cacheKey)

	start := time.Now()
	c.tracker.Record(cacheKey)
	c.storeValue(ctx, cacheKey, value, ttl, options.forceTier)
	c.obs.RecordCacheOperation("set", true, time.Since(start).Seconds())
	return nil
}

// Delete invalidates (namespace, key) across every tier and drops it from
// the deduplication index and access tracker.
func (c *Cache[V]) Delete(ctx context.Context, namespace, key string) error {
	cacheKey, err := c.codec.BuildKey(namespace, key)
	if err != nil {
		return err
	}

	for _, store := range c.stores() {
		if err := store.Delete(ctx, cacheKey); err != nil {
			c.logger.Warn("tier delete failed", map[string]interface{}{
				"key":   cacheKey,
				"tier":  store.Tier().String(),
				"error": err.Error(),
			})
		}
	}
	c.dedup.Remove(cacheKey)
	c.tracker.Forget(cacheKey)
	c.metrics.deletes.Add(1)
	return nil
}

// Flush empties every tier and resets the deduplication index. Access
// history is kept: patterns describe the keys, not the cached bytes.
func (c *Cache[V]) Flush(ctx context.Context) error {
	var firstErr error
	for _, store := range c.stores() {
		if err := store.Flush(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.dedup.Reset()
	return firstErr
}

// Metrics returns a read-only snapshot of the aggregate counters
func (c *Cache[V]) Metrics() OptimizationMetrics {
	return c.metrics.Snapshot()
}

// probe checks the tiers in L1, L2, L3 order and returns the first
// unexpired entry. Per-tier hit/miss/latency counters cover exactly the
// tiers that were actually probed.
func (c *Cache[V]) probe(ctx context.Context, key string) (*Entry, Tier, bool) {
	for _, store := range c.stores() {
		lookupStart := time.Now()
		entry, ok := store.Get(ctx, key)
		c.metrics.tier(store.Tier()).observe(ok, time.Since(lookupStart))
		if ok {
			return entry, store.Tier(), true
		}
	}
	return nil, TierAuto, false
}

// lookup is probe without metrics, for alias resolution and warming
func (c *Cache[V]) lookup(ctx context.Context, key string) (*Entry, bool) {
	for _, store := range c.stores() {
		if entry, ok := store.Get(ctx, key); ok {
			return entry, true
		}
	}
	return nil, false
}

// materialize turns a stored entry back into a value: alias resolution,
// decompression, deserialization.
func (c *Cache[V]) materialize(ctx context.Context, entry *Entry) (V, error) {
	var zero V

	payload := entry.Payload
	compressed := entry.Compressed
	if entry.AliasOf != "" {
		canonical, ok := c.lookup(ctx, entry.AliasOf)
		if !ok || canonical.AliasOf != "" {
			// The canonical copy is gone; the alias dangles and the key
			// misses until rewritten
			return zero, fmt.Errorf("dangling dedup alias %q", entry.AliasOf)
		}
		payload = canonical.Payload
		compressed = canonical.Compressed
	}

	raw := c.compressor.Decompress(payload, compressed)
	return c.serializer.Unmarshal(raw)
}

// maybePromote writes the entry one or more tiers forward when its access
// pattern says it belongs there. The slower copy stays and ages out on
// its own TTL. Best effort: losing a race with an eviction just means no
// promotion this time.
func (c *Cache[V]) maybePromote(ctx context.Context, key string, entry *Entry, foundTier Tier) {
	pattern := c.tracker.Pattern(key)
	if pattern != PatternHot && pattern != PatternWarm {
		return
	}

	var target Tier
	switch {
	case foundTier > TierL1 && entry.Size() < c.cfg.L1MaxValueBytes:
		target = TierL1
	case foundTier > TierL2 && entry.Size() < c.cfg.L2MaxValueBytes:
		target = TierL2
	default:
		return
	}

	store := c.storeFor(target)
	if store == nil {
		return
	}

	promoted := entry.CloneForTier(target)
	promoted.Pattern = pattern
	ttl := promoted.TTLRemaining(time.Now())
	if ttl <= 0 {
		return
	}
	if err := store.Set(ctx, key, promoted, ttl); err != nil {
		c.logger.Debug("promotion failed", map[string]interface{}{
			"key":   key,
			"tier":  target.String(),
			"error": err.Error(),
		})
		return
	}
	c.metrics.promotions.Add(1)
}

// storeValue runs the write pipeline: serialize, compress, deduplicate,
// place, store. Internal failures are logged and absorbed.
func (c *Cache[V]) storeValue(ctx context.Context, key string, value V, ttl time.Duration, forceTier Tier) {
	data, err := c.serializer.Marshal(value)
	if err != nil {
		c.metrics.internalErrors.Add(1)
		c.logger.Warn("value not serializable, skipping store", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		return
	}

	payload, ratio, compressed := data, 1.0, false
	if c.cfg.CompressionEnabled {
		payload, ratio, compressed = c.compressor.Compress(data)
	}
	if compressed {
		c.metrics.compressedWrites.Add(1)
		c.metrics.compressionSavedBytes.Add(int64(len(data) - len(payload)))
	}

	pattern := c.tracker.Pattern(key)
	adaptiveTTL := c.placement.AdaptiveTTL(pattern, ttl)

	now := time.Now()
	entry := &Entry{
		Key:              key,
		Payload:          payload,
		CreatedAt:        now,
		ExpiresAt:        now.Add(adaptiveTTL),
		LastAccessedAt:   now,
		Pattern:          pattern,
		Compressed:       compressed,
		CompressionRatio: ratio,
	}

	if alias := c.dedup.Check(key, payload); alias != "" {
		// The index may still name a canonical whose entry has since
		// expired or vanished; aliasing to it would make this key
		// unreadable. Only alias to a canonical that actually resolves,
		// otherwise this key takes over the physical payload.
		if canonical, ok := c.lookup(ctx, alias); ok && canonical.AliasOf == "" {
			// Identical content already cached: store a key indirection
			// instead of a second copy of the bytes
			entry.Payload = nil
			entry.AliasOf = alias
			entry.Deduplicated = true
			entry.Compressed = false
			entry.CompressionRatio = 1.0
			c.metrics.dedupWrites.Add(1)
			c.metrics.dedupSavedBytes.Add(int64(len(payload)))
		} else {
			c.dedup.MakeCanonical(key)
		}
	}

	target := forceTier
	if target == TierAuto {
		target = c.placement.TargetTier(pattern, len(payload))
	}
	store := c.storeForWithFallback(target)

	if err := store.Set(ctx, key, entry, adaptiveTTL); err != nil {
		c.metrics.internalErrors.Add(1)
		c.logger.Warn("tier set failed", map[string]interface{}{
			"key":   key,
			"tier":  store.Tier().String(),
			"error": err.Error(),
		})
		return
	}
	c.metrics.sets.Add(1)
}

// warmKey pulls a key from the slower tiers into L1, if it fits
func (c *Cache[V]) warmKey(ctx context.Context, key string) {
	if c.l1.Contains(key) {
		return
	}

	var entry *Entry
	var ok bool
	for _, store := range []TierStore{c.l2, c.l3} {
		if store == nil {
			continue
		}
		if entry, ok = store.Get(ctx, key); ok {
			break
		}
	}
	if !ok || entry.Size() >= c.cfg.L1MaxValueBytes {
		return
	}

	ttl := entry.TTLRemaining(time.Now())
	if ttl <= 0 {
		return
	}
	if err := c.l1.Set(ctx, key, entry.CloneForTier(TierL1), ttl); err == nil {
		c.metrics.promotions.Add(1)
	}
}

// handleEvicted receives L1 eviction victims. Entries that were read more
// than once are demoted to L2 with a fixed TTL instead of discarded.
func (c *Cache[V]) handleEvicted(entries []*Entry) {
	c.metrics.evictions.Add(int64(len(entries)))
	if c.l2 == nil {
		return
	}

	demotable := make([]*Entry, 0, len(entries))
	for _, e := range entries {
		if e.AccessCount > 1 {
			demotable = append(demotable, e)
		}
	}
	if len(demotable) == 0 {
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		c.demote(demotable)
	}()
}

// demote writes evicted entries through to L2, retrying transient
// failures off the request path.
func (c *Cache[V]) demote(entries []*Entry) {
	ctx := context.Background()
	for _, e := range entries {
		entry := e
		op := func() error {
			return c.l2.Set(ctx, entry.Key, entry, c.cfg.DemotionTTL)
		}
		policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2)
		if err := backoff.Retry(op, policy); err != nil {
			c.logger.Debug("demotion failed", map[string]interface{}{
				"key":   entry.Key,
				"error": err.Error(),
			})
			continue
		}
		c.metrics.demotions.Add(1)
	}
}

func (c *Cache[V]) stores() []TierStore {
	stores := make([]TierStore, 0, 3)
	stores = append(stores, c.l1)
	if c.l2 != nil {
		stores = append(stores, c.l2)
	}
	if c.l3 != nil {
		stores = append(stores, c.l3)
	}
	return stores
}

func (c *Cache[V]) storeFor(tier Tier) TierStore {
	switch tier {
	case TierL1:
		return c.l1
	case TierL2:
		return c.l2
	case TierL3:
		return c.l3
	default:
		return nil
	}
}

// storeForWithFallback returns the store for the target tier, falling
// back to the next-faster configured tier so a write always lands
// somewhere.
func (c *Cache[V]) storeForWithFallback(tier Tier) TierStore {
	if tier >= TierL3 && c.l3 != nil {
		return c.l3
	}
	if tier >= TierL2 && c.l2 != nil {
		return c.l2
	}
	return c.l1
}
