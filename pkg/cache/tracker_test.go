package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock drives the tracker's notion of time in tests
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestTracker(window time.Duration) (*AccessTracker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	tracker := NewAccessTracker(window)
	tracker.now = clock.Now
	return tracker, clock
}

func TestAccessTracker_ColdByDefault(t *testing.T) {
	tracker, _ := newTestTracker(time.Hour)
	assert.Equal(t, PatternCold, tracker.Pattern("never-seen"))
	assert.Equal(t, 0.0, tracker.Frequency("never-seen"))
}

func TestAccessTracker_FrequencyClassification(t *testing.T) {
	tests := []struct {
		name     string
		accesses int
		want     AccessPattern
	}{
		{name: "single access is cold", accesses: 1, want: PatternCold},
		{name: "one per hour is cold", accesses: 1, want: PatternCold},
		{name: "two per hour is warm", accesses: 2, want: PatternWarm},
		{name: "ten per hour is warm", accesses: 10, want: PatternWarm},
		{name: "eleven per hour is hot", accesses: 11, want: PatternHot},
		{name: "twenty per hour is hot", accesses: 20, want: PatternHot},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker, clock := newTestTracker(time.Hour)
			for i := 0; i < tt.accesses; i++ {
				tracker.Record("k")
				clock.Advance(time.Second)
			}
			assert.Equal(t, tt.want, tracker.Pattern("k"))
		})
	}
}

func TestAccessTracker_WindowSlides(t *testing.T) {
	tracker, clock := newTestTracker(time.Hour)

	for i := 0; i < 20; i++ {
		tracker.Record("k")
	}
	assert.Equal(t, PatternHot, tracker.Pattern("k"))

	// All 20 accesses age out of the window
	clock.Advance(2 * time.Hour)
	assert.Equal(t, PatternCold, tracker.Pattern("k"))
	assert.Equal(t, 0.0, tracker.Frequency("k"))
}

func TestAccessTracker_AnalyzeTemporal(t *testing.T) {
	tracker, clock := newTestTracker(time.Hour)

	// Metronome access: every 5 minutes exactly
	for i := 0; i < 8; i++ {
		tracker.Record("cron-job")
		clock.Advance(5 * time.Minute)
	}

	assert.Equal(t, PatternTemporal, tracker.AnalyzePattern("cron-job"))
}

func TestAccessTracker_AnalyzeIrregularIsFrequencyClass(t *testing.T) {
	tracker, clock := newTestTracker(time.Hour)

	// Irregular gaps: high coefficient of variation
	gaps := []time.Duration{time.Second, 9 * time.Minute, 2 * time.Second, 14 * time.Minute, time.Second, 11 * time.Minute}
	for _, gap := range gaps {
		tracker.Record("bursty")
		clock.Advance(gap)
	}
	tracker.Record("bursty")

	// 7 accesses inside the hour window classifies warm, not temporal
	assert.Equal(t, PatternWarm, tracker.AnalyzePattern("bursty"))
}

func TestAccessTracker_AnalyzeNeedsFourSamples(t *testing.T) {
	tracker, clock := newTestTracker(time.Hour)

	for i := 0; i < 3; i++ {
		tracker.Record("k")
		clock.Advance(5 * time.Minute)
	}

	// Three evenly spaced samples are not enough to call it temporal
	assert.Equal(t, PatternWarm, tracker.AnalyzePattern("k"))
}

func TestAccessTracker_Keys(t *testing.T) {
	tracker, clock := newTestTracker(time.Hour)

	tracker.Record("a")
	tracker.Record("b")
	assert.ElementsMatch(t, []string{"a", "b"}, tracker.Keys())

	clock.Advance(2 * time.Hour)
	tracker.Record("c")
	assert.ElementsMatch(t, []string{"c"}, tracker.Keys())
}

func TestAccessTracker_Forget(t *testing.T) {
	tracker, _ := newTestTracker(time.Hour)

	for i := 0; i < 5; i++ {
		tracker.Record("k")
	}
	tracker.Forget("k")

	assert.Equal(t, 0.0, tracker.Frequency("k"))
	assert.Empty(t, tracker.Keys())
}

func TestAccessTracker_ConcurrentRecord(t *testing.T) {
	tracker := NewAccessTracker(time.Hour)

	done := make(chan struct{})
	for g := 0; g < 8; g++ {
		go func(n int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 100; i++ {
				tracker.Record("shared")
				tracker.Record("other")
				_ = tracker.Frequency("shared")
			}
		}(g)
	}
	for g := 0; g < 8; g++ {
		<-done
	}

	assert.Equal(t, 800.0, tracker.Frequency("shared"))
}
