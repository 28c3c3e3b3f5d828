package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cachemesh/cachemesh/pkg/observability"
)

type warmRecorder struct {
	mu   sync.Mutex
	keys []string
}

func (r *warmRecorder) warm(_ context.Context, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, key)
}

func (r *warmRecorder) warmed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.keys...)
}

func preloadConfig() Config {
	cfg := DefaultConfig()
	cfg.PreloadQueueSize = 4
	cfg.PreloadRate = 1000
	cfg.PreloadBurst = 100
	return cfg
}

func TestPreloader_WarmsCorrelatedKeys(t *testing.T) {
	rec := &warmRecorder{}
	p, err := newPreloader(preloadConfig(), rec.warm, newOptimizerMetrics(), observability.NewNoopLogger())
	require.NoError(t, err)

	// "profile" consistently follows "user"
	for i := 0; i < 3; i++ {
		p.observe("user")
		p.observe("profile")
	}

	p.process("user")
	assert.Equal(t, []string{"profile"}, rec.warmed())
}

func TestPreloader_SingleObservationNotCorrelated(t *testing.T) {
	rec := &warmRecorder{}
	p, err := newPreloader(preloadConfig(), rec.warm, newOptimizerMetrics(), observability.NewNoopLogger())
	require.NoError(t, err)

	p.observe("a")
	p.observe("b")

	// One co-access is coincidence, not correlation
	p.process("a")
	assert.Empty(t, rec.warmed())
}

func TestPreloader_FanOutBounded(t *testing.T) {
	rec := &warmRecorder{}
	p, err := newPreloader(preloadConfig(), rec.warm, newOptimizerMetrics(), observability.NewNoopLogger())
	require.NoError(t, err)

	// Five followers, with f0 the strongest and f4 the weakest
	for follower := 0; follower < 5; follower++ {
		for n := 0; n < 10-follower; n++ {
			p.observe("head")
			p.observe(map[int]string{0: "f0", 1: "f1", 2: "f2", 3: "f3", 4: "f4"}[follower])
		}
	}

	p.process("head")
	warmed := rec.warmed()
	assert.Len(t, warmed, maxWarmPerSignal)
	assert.ElementsMatch(t, []string{"f0", "f1", "f2"}, warmed)
}

func TestPreloader_SignalQueueDropsWhenFull(t *testing.T) {
	rec := &warmRecorder{}
	metrics := newOptimizerMetrics()
	cfg := preloadConfig()
	cfg.PreloadQueueSize = 2
	p, err := newPreloader(cfg, rec.warm, metrics, observability.NewNoopLogger())
	require.NoError(t, err)

	// Not started: nothing drains the queue
	for i := 0; i < 5; i++ {
		p.signal("k")
	}

	snapshot := metrics.Snapshot()
	assert.Equal(t, int64(2), snapshot.PreloadSignals)
	assert.Equal(t, int64(3), snapshot.PreloadDropped)
}

func TestPreloader_DominantPredecessor(t *testing.T) {
	p, err := newPreloader(preloadConfig(), func(context.Context, string) {}, newOptimizerMetrics(), observability.NewNoopLogger())
	require.NoError(t, err)

	// "detail" almost always follows "list"
	for i := 0; i < 9; i++ {
		p.observe("list")
		p.observe("detail")
	}
	p.observe("search")
	p.observe("detail")

	pred, share := p.dominantPredecessor("detail")
	assert.Equal(t, "list", pred)
	assert.InDelta(t, 0.9, share, 0.01)
}

func TestPreloader_DominantPredecessorNeedsData(t *testing.T) {
	p, err := newPreloader(preloadConfig(), func(context.Context, string) {}, newOptimizerMetrics(), observability.NewNoopLogger())
	require.NoError(t, err)

	pred, share := p.dominantPredecessor("unseen")
	assert.Empty(t, pred)
	assert.Zero(t, share)

	p.observe("a")
	p.observe("b")
	pred, _ = p.dominantPredecessor("b")
	assert.Empty(t, pred, "one observation is below the correlation floor")
}

func TestPreloader_RepeatAccessNotSelfCorrelated(t *testing.T) {
	p, err := newPreloader(preloadConfig(), func(context.Context, string) {}, newOptimizerMetrics(), observability.NewNoopLogger())
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		p.observe("k")
	}

	pred, _ := p.dominantPredecessor("k")
	assert.Empty(t, pred)
}

func TestPreloader_RateLimiterBoundsFetches(t *testing.T) {
	rec := &warmRecorder{}
	cfg := preloadConfig()
	cfg.PreloadRate = 0.001
	cfg.PreloadBurst = 1
	p, err := newPreloader(cfg, rec.warm, newOptimizerMetrics(), observability.NewNoopLogger())
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		p.observe("head")
		p.observe("follower")
	}

	p.process("head")
	p.process("head")
	p.process("head")

	// Burst of one, negligible refill: only the first fetch goes through
	assert.Len(t, rec.warmed(), 1)
}

func TestPreloader_StartStop(t *testing.T) {
	rec := &warmRecorder{}
	p, err := newPreloader(preloadConfig(), rec.warm, newOptimizerMetrics(), observability.NewNoopLogger())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		p.observe("user")
		p.observe("profile")
	}

	p.start()
	p.signal("user")

	assert.Eventually(t, func() bool {
		warmed := rec.warmed()
		return len(warmed) == 1 && warmed[0] == "profile"
	}, time.Second, 5*time.Millisecond)

	p.stop()
}
