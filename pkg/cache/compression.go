package cache

import (
	"bytes"
	"compress/gzip"
	"io"

	"github.com/cachemesh/cachemesh/pkg/observability"
)

// maxDecompressedBytes caps decompression output to guard against
// decompression bombs.
const maxDecompressedBytes = 100 * 1024 * 1024

// Compressor conditionally compresses serialized payloads. Payloads below
// the minimum size, and payloads that don't shrink below the cutoff ratio,
// are stored uncompressed. Compression failures degrade to the raw bytes
// and are logged; they never surface to callers.
type Compressor struct {
	minSizeBytes int
	cutoff       float64
	level        int
	logger       observability.Logger
}

// NewCompressor creates a compressor. minSizeBytes is the smallest payload
// worth compressing; cutoff is the compressed/original ratio above which
// the original is kept.
func NewCompressor(minSizeBytes int, cutoff float64, logger observability.Logger) *Compressor {
	if logger == nil {
		logger = observability.NewLogger("cache.compressor")
	}
	if minSizeBytes <= 0 {
		minSizeBytes = 1024
	}
	if cutoff <= 0 || cutoff > 1 {
		cutoff = 0.8
	}
	return &Compressor{
		minSizeBytes: minSizeBytes,
		cutoff:       cutoff,
		level:        gzip.BestSpeed, // fast compression for cache
		logger:       logger,
	}
}

// Compress returns the payload to store, the compression ratio, and whether
// the payload is compressed. The compressed flag must be carried on the
// entry; decompression is not self-describing.
func (c *Compressor) Compress(data []byte) (payload []byte, ratio float64, compressed bool) {
	if len(data) <= c.minSizeBytes {
		return data, 1.0, false
	}

	var buf bytes.Buffer
	gz, err := gzip.NewWriterLevel(&buf, c.level)
	if err != nil {
		c.logger.Warn("compression unavailable, storing raw payload", map[string]interface{}{
			"error": err.Error(),
		})
		return data, 1.0, false
	}

	if _, err := gz.Write(data); err != nil {
		_ = gz.Close()
		c.logger.Warn("compression write failed, storing raw payload", map[string]interface{}{
			"error": err.Error(),
		})
		return data, 1.0, false
	}
	if err := gz.Close(); err != nil {
		c.logger.Warn("compression flush failed, storing raw payload", map[string]interface{}{
			"error": err.Error(),
		})
		return data, 1.0, false
	}

	ratio = float64(buf.Len()) / float64(len(data))
	if ratio >= c.cutoff {
		// Not worth the CPU on the read path
		return data, 1.0, false
	}

	return buf.Bytes(), ratio, true
}

// Decompress is the exact inverse of Compress. The compressed flag must be
// the one recorded at write time. On decompression failure the raw bytes
// are returned so a corrupt entry degrades to a deserialization miss
// instead of an error.
func (c *Compressor) Decompress(data []byte, compressed bool) []byte {
	if !compressed {
		return data
	}
	if !isGzip(data) {
		// Flag and payload disagree; trust the payload
		c.logger.Warn("entry flagged compressed but payload is not gzip", nil)
		return data
	}

	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		c.logger.Warn("decompression failed, returning raw payload", map[string]interface{}{
			"error": err.Error(),
		})
		return data
	}
	defer func() {
		_ = gz.Close()
	}()

	out, err := io.ReadAll(io.LimitReader(gz, maxDecompressedBytes))
	if err != nil {
		c.logger.Warn("decompression read failed, returning raw payload", map[string]interface{}{
			"error": err.Error(),
		})
		return data
	}
	return out
}

func isGzip(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}
