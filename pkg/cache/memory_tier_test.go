package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storedEntry(key string, pattern AccessPattern, ttl time.Duration) *Entry {
	now := time.Now()
	return &Entry{
		Key:       key,
		Payload:   []byte("payload-" + key),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		Pattern:   pattern,
	}
}

func TestMemoryTier_SetGet(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryTier(10, nil, nil)

	require.NoError(t, m.Set(ctx, "k", storedEntry("k", PatternCold, time.Minute), time.Minute))

	got, ok := m.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("payload-k"), got.Payload)
	assert.Equal(t, TierL1, got.Tier)
	assert.Equal(t, int64(1), got.AccessCount)
	assert.Equal(t, int64(1), got.HitCount)
}

func TestMemoryTier_GetReturnsSnapshot(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryTier(10, nil, nil)

	require.NoError(t, m.Set(ctx, "k", storedEntry("k", PatternCold, time.Minute), time.Minute))

	first, _ := m.Get(ctx, "k")
	first.Payload[0] = 'X'
	first.Pattern = PatternHot

	second, _ := m.Get(ctx, "k")
	assert.Equal(t, PatternCold, second.Pattern)
	assert.Equal(t, int64(2), second.AccessCount)
}

func TestMemoryTier_ExpiredEntryIsMiss(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryTier(10, nil, nil)

	entry := storedEntry("k", PatternCold, time.Minute)
	entry.ExpiresAt = time.Now().Add(-time.Second)
	require.NoError(t, m.Set(ctx, "k", entry, 0))

	// No purge pass has run; expiry is still enforced at read time
	_, ok := m.Get(ctx, "k")
	assert.False(t, ok)
	assert.Equal(t, 0, m.Size())
}

func TestMemoryTier_CapacityBound(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryTier(8, NewEvictionPolicy(0.25, nil), nil)

	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("k%d", i)
		require.NoError(t, m.Set(ctx, key, storedEntry(key, PatternCold, time.Minute), time.Minute))
		assert.LessOrEqual(t, m.Size(), 8, "capacity bound violated after insert %d", i)
	}
}

func TestMemoryTier_ReplaceResidentDoesNotEvict(t *testing.T) {
	ctx := context.Background()
	var evicted []*Entry
	m := NewMemoryTier(2, NewEvictionPolicy(0.25, nil), func(entries []*Entry) {
		evicted = append(evicted, entries...)
	})

	require.NoError(t, m.Set(ctx, "a", storedEntry("a", PatternCold, time.Minute), time.Minute))
	require.NoError(t, m.Set(ctx, "b", storedEntry("b", PatternCold, time.Minute), time.Minute))
	// Tier is full; rewriting a resident key must not trigger eviction
	require.NoError(t, m.Set(ctx, "a", storedEntry("a", PatternCold, time.Minute), time.Minute))

	assert.Empty(t, evicted)
	assert.Equal(t, 2, m.Size())
}

func TestMemoryTier_EvictionPrefersExpiredThenLowScore(t *testing.T) {
	ctx := context.Background()
	var evicted []*Entry
	m := NewMemoryTier(3, NewEvictionPolicy(0.25, nil), func(entries []*Entry) {
		evicted = append(evicted, entries...)
	})

	expired := storedEntry("expired", PatternHot, time.Minute)
	expired.ExpiresAt = time.Now().Add(-time.Second)
	require.NoError(t, m.Set(ctx, "expired", expired, 0))
	require.NoError(t, m.Set(ctx, "hot", storedEntry("hot", PatternHot, time.Minute), time.Minute))
	require.NoError(t, m.Set(ctx, "cold", storedEntry("cold", PatternCold, time.Minute), time.Minute))

	// Tier full: the expired entry is purged silently, making room without
	// touching live entries
	require.NoError(t, m.Set(ctx, "new1", storedEntry("new1", PatternWarm, time.Minute), time.Minute))
	assert.Empty(t, evicted)
	assert.False(t, m.Contains("expired"))

	// Full again with live entries only: the cold one is score-evicted
	require.NoError(t, m.Set(ctx, "new2", storedEntry("new2", PatternWarm, time.Minute), time.Minute))
	require.Len(t, evicted, 1)
	assert.Equal(t, "cold", evicted[0].Key)
	assert.True(t, m.Contains("hot"))
}

func TestMemoryTier_EvictedSnapshotKeepsCounters(t *testing.T) {
	ctx := context.Background()
	var evicted []*Entry
	m := NewMemoryTier(1, NewEvictionPolicy(0.25, nil), func(entries []*Entry) {
		evicted = append(evicted, entries...)
	})

	require.NoError(t, m.Set(ctx, "a", storedEntry("a", PatternCold, time.Minute), time.Minute))
	m.Get(ctx, "a")
	m.Get(ctx, "a")

	require.NoError(t, m.Set(ctx, "b", storedEntry("b", PatternCold, time.Minute), time.Minute))

	// The demotion decision downstream needs the read counters
	require.Len(t, evicted, 1)
	assert.Equal(t, "a", evicted[0].Key)
	assert.Equal(t, int64(2), evicted[0].AccessCount)
}

func TestMemoryTier_PurgeExpired(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryTier(10, nil, nil)

	for i := 0; i < 3; i++ {
		key := fmt.Sprintf("live%d", i)
		require.NoError(t, m.Set(ctx, key, storedEntry(key, PatternCold, time.Minute), time.Minute))
	}
	for i := 0; i < 2; i++ {
		key := fmt.Sprintf("dead%d", i)
		entry := storedEntry(key, PatternCold, time.Minute)
		entry.ExpiresAt = time.Now().Add(-time.Second)
		require.NoError(t, m.Set(ctx, key, entry, 0))
	}

	n, err := m.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 3, m.Size())
}

func TestMemoryTier_EvictToWatermark(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryTier(10, NewEvictionPolicy(0.25, nil), nil)

	for i := 0; i < 7; i++ {
		key := fmt.Sprintf("k%d", i)
		require.NoError(t, m.Set(ctx, key, storedEntry(key, PatternCold, time.Minute), time.Minute))
	}

	// 7/10 is below the watermark; nothing happens
	assert.Equal(t, 0, m.EvictToWatermark(0.9))

	for i := 7; i < 9; i++ {
		key := fmt.Sprintf("k%d", i)
		require.NoError(t, m.Set(ctx, key, storedEntry(key, PatternCold, time.Minute), time.Minute))
	}

	// 9/10 crosses the watermark while still below hard capacity; the
	// proactive pass must evict here, before the write path has to
	n := m.EvictToWatermark(0.9)
	assert.Greater(t, n, 0)
	assert.Less(t, m.Size(), 9)
}

func TestMemoryTier_UpdatePattern(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryTier(10, nil, nil)

	require.NoError(t, m.Set(ctx, "k", storedEntry("k", PatternCold, time.Minute), time.Minute))
	m.UpdatePattern("k", PatternHot)

	got, ok := m.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, PatternHot, got.Pattern)

	// Unknown keys are a no-op
	m.UpdatePattern("missing", PatternHot)
}

func TestMemoryTier_DeleteAndFlush(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryTier(10, nil, nil)

	require.NoError(t, m.Set(ctx, "a", storedEntry("a", PatternCold, time.Minute), time.Minute))
	require.NoError(t, m.Set(ctx, "b", storedEntry("b", PatternCold, time.Minute), time.Minute))

	require.NoError(t, m.Delete(ctx, "a"))
	assert.False(t, m.Contains("a"))
	require.NoError(t, m.Delete(ctx, "a")) // idempotent

	require.NoError(t, m.Flush(ctx))
	assert.Equal(t, 0, m.Size())
}
