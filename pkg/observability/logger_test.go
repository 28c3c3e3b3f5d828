package observability

import (
	"bytes"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
)

func captureOutput(t *testing.T, fn func()) string {
	t.Helper()

	var buf bytes.Buffer
	prev := log.Writer()
	log.SetOutput(&buf)
	defer log.SetOutput(prev)

	fn()
	return buf.String()
}

func TestStandardLogger_LevelFiltering(t *testing.T) {
	logger := NewLogger("test")

	out := captureOutput(t, func() {
		logger.Debug("hidden", nil)
		logger.Info("shown", nil)
	})

	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "[INFO]")
	assert.Contains(t, out, "[test]")
}

func TestStandardLogger_DebugLevel(t *testing.T) {
	logger := NewLogger("test").(*StandardLogger).WithLevel(LogLevelDebug)

	out := captureOutput(t, func() {
		logger.Debug("visible now", nil)
	})

	assert.Contains(t, out, "visible now")
	assert.Contains(t, out, "[DEBUG]")
}

func TestStandardLogger_FieldsSortedDeterministically(t *testing.T) {
	logger := NewLogger("test")

	out := captureOutput(t, func() {
		logger.Info("msg", map[string]interface{}{
			"zebra": 1,
			"alpha": "two",
			"mid":   true,
		})
	})

	assert.Contains(t, out, "alpha=two mid=true zebra=1")
}

func TestStandardLogger_WithMergesFields(t *testing.T) {
	logger := NewLogger("test").With(map[string]interface{}{"cache_id": "abc"})

	out := captureOutput(t, func() {
		logger.Warn("msg", map[string]interface{}{"key": "k"})
	})

	assert.Contains(t, out, "cache_id=abc")
	assert.Contains(t, out, "key=k")
	assert.Contains(t, out, "[WARN]")
}

func TestStandardLogger_WithPrefix(t *testing.T) {
	logger := NewLogger("outer").WithPrefix("inner")

	out := captureOutput(t, func() {
		logger.Info("msg", nil)
	})

	assert.Contains(t, out, "[inner]")
	assert.NotContains(t, out, "[outer]")
}
