package cache

import (
	"sort"
	"time"
)

// patternWeights biases eviction scoring toward keeping hot entries.
// Higher weight means less likely to be evicted.
var patternWeights = map[AccessPattern]float64{
	PatternHot:      10,
	PatternWarm:     5,
	PatternTemporal: 3,
	PatternCold:     1,
}

const defaultPatternWeight = 2

// FrequencyFunc returns a key's current accesses per hour
type FrequencyFunc func(key string) float64

// EvictionPolicy computes a composite retain-score per L1 entry and
// selects a bottom fraction to evict or demote. Scoring combines access
// frequency, recency, and pattern weight; expired entries go first
// without scoring at all.
type EvictionPolicy struct {
	fraction  float64
	frequency FrequencyFunc
}

// NewEvictionPolicy creates a policy evicting the given fraction of
// entries per pass, scored using the supplied frequency source.
func NewEvictionPolicy(fraction float64, frequency FrequencyFunc) *EvictionPolicy {
	if fraction <= 0 || fraction > 1 {
		fraction = 0.25
	}
	if frequency == nil {
		frequency = func(string) float64 { return 0 }
	}
	return &EvictionPolicy{
		fraction:  fraction,
		frequency: frequency,
	}
}

// Score computes the retain-score for an entry. Lower scores are evicted
// first.
func (p *EvictionPolicy) Score(e *Entry, now time.Time) float64 {
	age := now.Sub(e.CreatedAt).Seconds()
	if age < 1 {
		age = 1
	}
	weight, ok := patternWeights[e.Pattern]
	if !ok {
		weight = defaultPatternWeight
	}
	return p.frequency(e.Key) + 1/age + weight
}

// SelectVictims returns the lowest-scoring fraction of entries, at least
// one, in eviction order. Expired entries are expected to have been
// removed already; pass the survivors.
func (p *EvictionPolicy) SelectVictims(entries []*Entry, now time.Time) []*Entry {
	if len(entries) == 0 {
		return nil
	}

	scored := make([]*Entry, len(entries))
	copy(scored, entries)
	scores := make(map[string]float64, len(scored))
	for _, e := range scored {
		scores[e.Key] = p.Score(e, now)
	}
	sort.Slice(scored, func(i, j int) bool {
		return scores[scored[i].Key] < scores[scored[j].Key]
	})

	// 25% of a small tier rounds to zero; evicting at least one entry
	// guarantees forward progress for the incoming insert.
	n := int(float64(len(scored)) * p.fraction)
	if n < 1 {
		n = 1
	}
	return scored[:n]
}
