package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// EvictFunc receives entries removed from L1 by eviction, so the
// optimizer can demote warm-ish data to L2 instead of discarding it.
// Called outside the tier's lock.
type EvictFunc func(entries []*Entry)

// MemoryTier is the bounded in-process L1 tier. A most-recently-used list
// provides O(1) touch-on-read recency bookkeeping; eviction itself is
// score-based through the EvictionPolicy, not LRU order.
//
// One mutex serializes the tier. Structural mutations (insert, evict)
// need it anyway, and reads touch the recency list; a sharded design
// would cut contention further but makes the capacity bound approximate.
type MemoryTier struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*list.Element
	order    *list.List // front = most recently used
	policy   *EvictionPolicy
	onEvict  EvictFunc
	now      func() time.Time
}

// NewMemoryTier creates the L1 tier with the given entry capacity and
// eviction policy. onEvict may be nil.
func NewMemoryTier(capacity int, policy *EvictionPolicy, onEvict EvictFunc) *MemoryTier {
	if capacity <= 0 {
		capacity = 1000
	}
	if policy == nil {
		policy = NewEvictionPolicy(0.25, nil)
	}
	return &MemoryTier{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		order:    list.New(),
		policy:   policy,
		onEvict:  onEvict,
		now:      time.Now,
	}
}

// Tier returns TierL1
func (m *MemoryTier) Tier() Tier { return TierL1 }

// Get returns a copy of the entry for key. Expired entries are removed
// and reported as misses even before any purge pass runs.
func (m *MemoryTier) Get(_ context.Context, key string) (*Entry, bool) {
	m.mu.Lock()

	elem, ok := m.items[key]
	if !ok {
		m.mu.Unlock()
		return nil, false
	}

	entry := elem.Value.(*Entry)
	if entry.Expired(m.now()) {
		m.removeLocked(key, elem)
		m.mu.Unlock()
		return nil, false
	}

	entry.AccessCount++
	entry.HitCount++
	entry.LastAccessedAt = m.now()
	m.order.MoveToFront(elem)

	snapshot := *entry
	m.mu.Unlock()
	return &snapshot, true
}

// Set stores the entry, evicting low-scoring entries first when the tier
// is full and key is not already resident. The capacity bound holds when
// Set returns.
func (m *MemoryTier) Set(_ context.Context, key string, entry *Entry, _ time.Duration) error {
	e := *entry
	e.Tier = TierL1

	m.mu.Lock()

	if elem, ok := m.items[key]; ok {
		elem.Value = &e
		m.order.MoveToFront(elem)
		m.mu.Unlock()
		return nil
	}

	var evicted []*Entry
	if len(m.items) >= m.capacity {
		evicted = m.evictLocked(m.capacity)
	}
	m.items[key] = m.order.PushFront(&e)
	m.mu.Unlock()

	m.reportEvicted(evicted)
	return nil
}

// Delete removes the entry for key, if present
func (m *MemoryTier) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if elem, ok := m.items[key]; ok {
		m.removeLocked(key, elem)
	}
	return nil
}

// Flush removes every entry
func (m *MemoryTier) Flush(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = make(map[string]*list.Element)
	m.order.Init()
	return nil
}

// Close is a no-op for the in-process tier
func (m *MemoryTier) Close() error { return nil }

// Size returns the current entry count
func (m *MemoryTier) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Contains reports whether key is resident and unexpired, without
// touching recency or counters.
func (m *MemoryTier) Contains(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	elem, ok := m.items[key]
	if !ok {
		return false
	}
	return !elem.Value.(*Entry).Expired(m.now())
}

// Entries returns a snapshot of every resident entry
func (m *MemoryTier) Entries() []*Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := make([]*Entry, 0, len(m.items))
	for _, elem := range m.items {
		snapshot := *elem.Value.(*Entry)
		entries = append(entries, &snapshot)
	}
	return entries
}

// UpdatePattern rewrites the stored access pattern for key, if resident.
// Used by the pattern analyzer; callers never set patterns directly.
func (m *MemoryTier) UpdatePattern(key string, pattern AccessPattern) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if elem, ok := m.items[key]; ok {
		elem.Value.(*Entry).Pattern = pattern
	}
}

// PurgeExpired removes every expired entry and returns how many went
func (m *MemoryTier) PurgeExpired(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.purgeExpiredLocked(), nil
}

// EvictToWatermark runs an eviction pass when occupancy is at or above
// the given fraction of capacity. The memory manager calls this to smooth
// out latency spikes from reactive eviction on the write path, so the
// pass evicts at the watermark, not just at hard capacity.
func (m *MemoryTier) EvictToWatermark(watermark float64) int {
	threshold := int(watermark * float64(m.capacity))
	if threshold < 1 {
		threshold = 1
	}

	m.mu.Lock()
	var evicted []*Entry
	if len(m.items) >= threshold {
		evicted = m.evictLocked(threshold)
	}
	m.mu.Unlock()

	m.reportEvicted(evicted)
	return len(evicted)
}

// evictLocked clears expired entries first; if the tier is still at or
// over the occupancy threshold it removes the policy's victims. Returns
// what was score-evicted (not the expired entries) for demotion.
func (m *MemoryTier) evictLocked(threshold int) []*Entry {
	m.purgeExpiredLocked()
	if len(m.items) < threshold {
		return nil
	}

	entries := make([]*Entry, 0, len(m.items))
	for _, elem := range m.items {
		entries = append(entries, elem.Value.(*Entry))
	}

	victims := m.policy.SelectVictims(entries, m.now())
	evicted := make([]*Entry, 0, len(victims))
	for _, victim := range victims {
		if elem, ok := m.items[victim.Key]; ok {
			snapshot := *elem.Value.(*Entry)
			evicted = append(evicted, &snapshot)
			m.removeLocked(victim.Key, elem)
		}
	}
	return evicted
}

func (m *MemoryTier) purgeExpiredLocked() int {
	now := m.now()
	removed := 0
	for key, elem := range m.items {
		if elem.Value.(*Entry).Expired(now) {
			m.removeLocked(key, elem)
			removed++
		}
	}
	return removed
}

func (m *MemoryTier) removeLocked(key string, elem *list.Element) {
	delete(m.items, key)
	m.order.Remove(elem)
}

func (m *MemoryTier) reportEvicted(evicted []*Entry) {
	if len(evicted) > 0 && m.onEvict != nil {
		m.onEvict(evicted)
	}
}
