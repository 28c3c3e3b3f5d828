package cache

import (
	"context"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/cachemesh/cachemesh/pkg/observability"
)

// maxWarmPerSignal bounds the fan-out of one preload signal
const maxWarmPerSignal = 3

// minCoAccessCount is the observation floor before a follower is
// considered correlated rather than coincidental.
const minCoAccessCount = 2

// WarmFunc pulls a key from the slower tiers into L1
type WarmFunc func(ctx context.Context, key string)

// preloader consumes "this key was just accessed" signals from a bounded
// queue and warms correlated keys ahead of demand. Correlation is plain
// co-access: the keys most often observed immediately after this one.
//
// Signals beyond the queue bound are dropped, never backpressured onto
// callers, and warming fetches are rate limited so a hot burst can't
// swamp the backend tiers.
type preloader struct {
	signals chan string
	co      *lru.Cache[string, *followerSet]
	limiter *rate.Limiter
	warm    WarmFunc
	metrics *optimizerMetrics
	logger  observability.Logger

	lastMu  sync.Mutex
	lastKey string

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// followerSet counts which keys are observed immediately after one key
type followerSet struct {
	mu     sync.Mutex
	counts map[string]int
}

func newPreloader(cfg Config, warm WarmFunc, metrics *optimizerMetrics, logger observability.Logger) (*preloader, error) {
	co, err := lru.New[string, *followerSet](cfg.CoAccessMapSize)
	if err != nil {
		return nil, err
	}

	return &preloader{
		signals: make(chan string, cfg.PreloadQueueSize),
		co:      co,
		limiter: rate.NewLimiter(rate.Limit(cfg.PreloadRate), cfg.PreloadBurst),
		warm:    warm,
		metrics: metrics,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}, nil
}

func (p *preloader) start() {
	p.wg.Add(1)
	go p.run()
}

func (p *preloader) stop() {
	close(p.stopCh)
	p.wg.Wait()
}

// observe records the co-access pair (previous key, this key). Called on
// every access, hit or miss, so correlations form before keys get hot.
func (p *preloader) observe(key string) {
	p.lastMu.Lock()
	prev := p.lastKey
	p.lastKey = key
	p.lastMu.Unlock()

	if prev == "" || prev == key {
		return
	}

	set, ok := p.co.Get(prev)
	if !ok {
		set = &followerSet{counts: make(map[string]int)}
		p.co.Add(prev, set)
	}
	set.mu.Lock()
	set.counts[key]++
	set.mu.Unlock()
}

// signal queues a preload request for the keys correlated with key.
// Non-blocking: a full queue drops the signal.
func (p *preloader) signal(key string) {
	select {
	case p.signals <- key:
		p.metrics.preloadSignals.Add(1)
	default:
		p.metrics.preloadDropped.Add(1)
	}
}

// dominantPredecessor returns the key most often observed immediately
// before key, and the share of key's observed arrivals it accounts for.
// The pattern analyzer uses this to classify sequential keys.
func (p *preloader) dominantPredecessor(key string) (string, float64) {
	var best string
	var bestCount, total int

	for _, pred := range p.co.Keys() {
		set, ok := p.co.Peek(pred)
		if !ok {
			continue
		}
		set.mu.Lock()
		count := set.counts[key]
		set.mu.Unlock()
		if count == 0 {
			continue
		}
		total += count
		if count > bestCount {
			bestCount = count
			best = pred
		}
	}

	if total < minCoAccessCount || best == "" {
		return "", 0
	}
	return best, float64(bestCount) / float64(total)
}

func (p *preloader) run() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		case key := <-p.signals:
			p.process(key)
		}
	}
}

func (p *preloader) process(key string) {
	set, ok := p.co.Get(key)
	if !ok {
		return
	}

	set.mu.Lock()
	type follower struct {
		key   string
		count int
	}
	followers := make([]follower, 0, len(set.counts))
	for k, c := range set.counts {
		if c >= minCoAccessCount {
			followers = append(followers, follower{key: k, count: c})
		}
	}
	set.mu.Unlock()

	sort.Slice(followers, func(i, j int) bool {
		return followers[i].count > followers[j].count
	})
	if len(followers) > maxWarmPerSignal {
		followers = followers[:maxWarmPerSignal]
	}

	for _, f := range followers {
		if !p.limiter.Allow() {
			return
		}
		p.metrics.preloadFetches.Add(1)
		p.warm(context.Background(), f.key)
	}
}
