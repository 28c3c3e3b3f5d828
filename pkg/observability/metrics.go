package observability

import (
	"sync"
	"time"
)

// MetricsClient defines the interface for metrics collection
type MetricsClient interface {
	IncrementCounterWithLabels(name string, value float64, labels map[string]string)
	RecordGauge(name string, value float64, labels map[string]string)
	RecordHistogram(name string, value float64, labels map[string]string)
	RecordTimer(name string, duration time.Duration, labels map[string]string)

	// Operation-specific metrics
	RecordCacheOperation(operation string, hit bool, durationSeconds float64)
}

// InMemoryMetricsClient is an in-memory MetricsClient. It aggregates counters and
// gauges so tests and diagnostics can read them back.
type InMemoryMetricsClient struct {
	mu       sync.Mutex
	counters map[string]float64
	gauges   map[string]float64
}

// NewMetricsClient creates a new in-memory metrics client
func NewMetricsClient() MetricsClient {
	return &InMemoryMetricsClient{
		counters: make(map[string]float64),
		gauges:   make(map[string]float64),
	}
}

// NewInMemoryMetricsClient creates a new in-memory metrics client with the
// concrete type exposed, so callers can read aggregated values back.
func NewInMemoryMetricsClient() *InMemoryMetricsClient {
	return &InMemoryMetricsClient{
		counters: make(map[string]float64),
		gauges:   make(map[string]float64),
	}
}

// IncrementCounterWithLabels increments a counter metric by a given value
func (m *InMemoryMetricsClient) IncrementCounterWithLabels(name string, value float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name] += value
}

// RecordGauge records a gauge metric
func (m *InMemoryMetricsClient) RecordGauge(name string, value float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[name] = value
}

// RecordHistogram records a histogram metric
func (m *InMemoryMetricsClient) RecordHistogram(name string, value float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name+".count"]++
	m.counters[name+".sum"] += value
}

// RecordTimer records a duration metric
func (m *InMemoryMetricsClient) RecordTimer(name string, duration time.Duration, labels map[string]string) {
	m.RecordHistogram(name, duration.Seconds(), labels)
}

// RecordCacheOperation records a cache operation metric
func (m *InMemoryMetricsClient) RecordCacheOperation(operation string, hit bool, durationSeconds float64) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.IncrementCounterWithLabels("cache.operations."+operation+"."+outcome, 1, nil)
	m.RecordHistogram("cache.operations."+operation+".duration", durationSeconds, nil)
}

// CounterValue returns the current value of a counter. Intended for tests.
func (m *InMemoryMetricsClient) CounterValue(name string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name]
}

// GaugeValue returns the current value of a gauge. Intended for tests.
func (m *InMemoryMetricsClient) GaugeValue(name string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gauges[name]
}
