package cache

import (
	"hash/fnv"
	"math"
	"sync"
	"time"
)

// trackerShards is the size of the tracker's lock table. Every get and set
// records an access, so contention here is spread across shards instead of
// funneled through one mutex.
const trackerShards = 32

// Pattern classification thresholds in accesses per hour
const (
	hotThreshold  = 10.0
	warmThreshold = 1.0
)

// minFrequencyHours floors the frequency divisor so very short windows
// don't blow up the accesses-per-hour figure.
const minFrequencyHours = 0.01

// AccessTracker records timestamped accesses per key inside a sliding
// window and classifies each key's current access pattern. Safe for
// concurrent use; keys are distributed across a sharded lock table.
type AccessTracker struct {
	window time.Duration
	now    func() time.Time
	shards [trackerShards]trackerShard
}

type trackerShard struct {
	mu      sync.Mutex
	windows map[string][]time.Time
}

// NewAccessTracker creates a tracker with the given sliding window
func NewAccessTracker(window time.Duration) *AccessTracker {
	t := &AccessTracker{
		window: window,
		now:    time.Now,
	}
	for i := range t.shards {
		t.shards[i].windows = make(map[string][]time.Time)
	}
	return t
}

func (t *AccessTracker) shard(key string) *trackerShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &t.shards[h.Sum32()%trackerShards]
}

// Record appends an access for key and prunes timestamps that fell out of
// the window. Amortized O(1): each timestamp is appended once and pruned
// once.
func (t *AccessTracker) Record(key string) {
	now := t.now()
	cutoff := now.Add(-t.window)

	s := t.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	window := s.windows[key]
	start := 0
	for start < len(window) && window[start].Before(cutoff) {
		start++
	}
	if start > 0 {
		window = window[start:]
	}
	s.windows[key] = append(window, now)
}

// Frequency returns the key's accesses per hour over the sliding window
func (t *AccessTracker) Frequency(key string) float64 {
	s := t.shard(key)
	s.mu.Lock()
	count := t.countInWindowLocked(s, key)
	s.mu.Unlock()

	hours := t.window.Hours()
	if hours < minFrequencyHours {
		hours = minFrequencyHours
	}
	return float64(count) / hours
}

// Pattern classifies the key's current access pattern. A key with no
// recorded accesses is cold by definition.
func (t *AccessTracker) Pattern(key string) AccessPattern {
	return classifyFrequency(t.Frequency(key))
}

// AnalyzePattern is the bulk-analysis classification. On top of the
// frequency classes it detects temporal keys, whose accesses arrive at
// regular intervals, by the coefficient of variation of inter-access
// gaps.
func (t *AccessTracker) AnalyzePattern(key string) AccessPattern {
	s := t.shard(key)
	s.mu.Lock()
	t.pruneLocked(s, key)
	window := append([]time.Time(nil), s.windows[key]...)
	s.mu.Unlock()

	if len(window) >= 4 {
		if cv, ok := intervalVariation(window); ok && cv < 0.3 {
			return PatternTemporal
		}
	}

	hours := t.window.Hours()
	if hours < minFrequencyHours {
		hours = minFrequencyHours
	}
	return classifyFrequency(float64(len(window)) / hours)
}

// Keys returns every key with at least one access still inside the window
func (t *AccessTracker) Keys() []string {
	var keys []string
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		for key := range s.windows {
			if t.countInWindowLocked(s, key) > 0 {
				keys = append(keys, key)
			}
		}
		s.mu.Unlock()
	}
	return keys
}

// Forget drops all recorded accesses for key
func (t *AccessTracker) Forget(key string) {
	s := t.shard(key)
	s.mu.Lock()
	delete(s.windows, key)
	s.mu.Unlock()
}

// pruneLocked drops expired timestamps and empty windows for key
func (t *AccessTracker) pruneLocked(s *trackerShard, key string) {
	cutoff := t.now().Add(-t.window)
	window := s.windows[key]
	start := 0
	for start < len(window) && window[start].Before(cutoff) {
		start++
	}
	if start == len(window) {
		delete(s.windows, key)
		return
	}
	if start > 0 {
		s.windows[key] = window[start:]
	}
}

func (t *AccessTracker) countInWindowLocked(s *trackerShard, key string) int {
	cutoff := t.now().Add(-t.window)
	window := s.windows[key]
	start := 0
	for start < len(window) && window[start].Before(cutoff) {
		start++
	}
	return len(window) - start
}

func classifyFrequency(perHour float64) AccessPattern {
	switch {
	case perHour > hotThreshold:
		return PatternHot
	case perHour > warmThreshold:
		return PatternWarm
	default:
		return PatternCold
	}
}

// intervalVariation returns the coefficient of variation of the gaps
// between consecutive accesses. Low variation means metronome-like access.
func intervalVariation(window []time.Time) (float64, bool) {
	if len(window) < 3 {
		return 0, false
	}

	intervals := make([]float64, 0, len(window)-1)
	for i := 1; i < len(window); i++ {
		intervals = append(intervals, window[i].Sub(window[i-1]).Seconds())
	}

	var sum float64
	for _, iv := range intervals {
		sum += iv
	}
	mean := sum / float64(len(intervals))
	if mean <= 0 {
		return 0, false
	}

	var variance float64
	for _, iv := range intervals {
		variance += (iv - mean) * (iv - mean)
	}
	variance /= float64(len(intervals))

	return math.Sqrt(variance) / mean, true
}
