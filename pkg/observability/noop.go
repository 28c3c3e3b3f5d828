package observability

import "time"

// noopLogger is a logger that discards all messages
type noopLogger struct{}

// NewNoopLogger creates a logger that discards all messages. Useful in tests.
func NewNoopLogger() Logger {
	return &noopLogger{}
}

func (l *noopLogger) Debug(msg string, fields map[string]interface{}) {}
func (l *noopLogger) Info(msg string, fields map[string]interface{})  {}
func (l *noopLogger) Warn(msg string, fields map[string]interface{})  {}
func (l *noopLogger) Error(msg string, fields map[string]interface{}) {}

func (l *noopLogger) WithPrefix(prefix string) Logger           { return l }
func (l *noopLogger) With(fields map[string]interface{}) Logger { return l }

// noopMetricsClient is a MetricsClient that discards all metrics
type noopMetricsClient struct{}

// NewNoopMetricsClient creates a metrics client that discards all metrics
func NewNoopMetricsClient() MetricsClient {
	return &noopMetricsClient{}
}

func (m *noopMetricsClient) IncrementCounterWithLabels(name string, value float64, labels map[string]string) {
}
func (m *noopMetricsClient) RecordGauge(name string, value float64, labels map[string]string) {}
func (m *noopMetricsClient) RecordHistogram(name string, value float64, labels map[string]string) {
}
func (m *noopMetricsClient) RecordTimer(name string, duration time.Duration, labels map[string]string) {
}
func (m *noopMetricsClient) RecordCacheOperation(operation string, hit bool, durationSeconds float64) {
}
