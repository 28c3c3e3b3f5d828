package cache

import (
	"fmt"
	"strings"
)

// keyDelimiter separates the namespace from the key inside a cache key
const keyDelimiter = ":"

// KeyCodec builds stable cache keys from (namespace, key) pairs. The
// delimiter is escaped rather than rejected, so any namespace and key
// content round-trips without colliding with another pair.
type KeyCodec struct{}

// escaper encodes the escape character first so decoding is unambiguous
var escaper = strings.NewReplacer("%", "%25", keyDelimiter, "%3A")

var unescaper = strings.NewReplacer("%3A", keyDelimiter, "%25", "%")

// BuildKey constructs the cache key for a namespace and key
func (KeyCodec) BuildKey(namespace, key string) (string, error) {
	if namespace == "" {
		return "", fmt.Errorf("%w: empty namespace", ErrInvalidKey)
	}
	if key == "" {
		return "", fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	return escaper.Replace(namespace) + keyDelimiter + escaper.Replace(key), nil
}

// SplitKey recovers the namespace and key from a cache key
func (KeyCodec) SplitKey(cacheKey string) (namespace, key string, err error) {
	idx := strings.Index(cacheKey, keyDelimiter)
	if idx <= 0 || idx == len(cacheKey)-1 {
		return "", "", fmt.Errorf("%w: malformed cache key %q", ErrInvalidKey, cacheKey)
	}
	return unescaper.Replace(cacheKey[:idx]), unescaper.Replace(cacheKey[idx+1:]), nil
}
