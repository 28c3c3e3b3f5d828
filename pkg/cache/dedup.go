package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// Deduplicator maps content hashes to the set of keys sharing that
// content, so identical payloads are stored once and every later key
// becomes an alias of the first.
//
// The content hash is sha256 truncated to hashLen hex characters. At the
// default 16 chars (64 bits) the birthday bound puts the collision odds
// for a million distinct payloads around 2.7e-8; raise hashLen if the
// keyspace grows far beyond that.
type Deduplicator struct {
	mu      sync.Mutex
	hashLen int
	byHash  map[string]*dedupBucket
	byKey   map[string]string
}

// dedupBucket tracks the keys sharing one content hash. The canonical key
// is the first registrant and owns the physical payload.
type dedupBucket struct {
	canonical string
	keys      map[string]struct{}
}

// NewDeduplicator creates a deduplication index with the given truncated
// hash length in hex characters.
func NewDeduplicator(hashLen int) *Deduplicator {
	if hashLen < 8 || hashLen > 64 {
		hashLen = 16
	}
	return &Deduplicator{
		hashLen: hashLen,
		byHash:  make(map[string]*dedupBucket),
		byKey:   make(map[string]string),
	}
}

// Check registers key under the payload's content hash. If another key
// already holds identical content, the canonical key is returned and the
// caller should store an alias instead of a second copy. An empty return
// means key is the new canonical owner.
func (d *Deduplicator) Check(key string, payload []byte) string {
	h := d.hash(payload)

	d.mu.Lock()
	defer d.mu.Unlock()

	// Re-registering a key under new content moves it out of its old bucket
	if prev, ok := d.byKey[key]; ok && prev != h {
		d.removeLocked(key, prev)
	}

	bucket, ok := d.byHash[h]
	if !ok {
		d.byHash[h] = &dedupBucket{
			canonical: key,
			keys:      map[string]struct{}{key: {}},
		}
		d.byKey[key] = h
		return ""
	}

	bucket.keys[key] = struct{}{}
	d.byKey[key] = h

	if bucket.canonical == key {
		return ""
	}
	return bucket.canonical
}

// Remove drops key from the index. The hash bucket survives while other
// keys still reference it; only an empty bucket is dropped.
func (d *Deduplicator) Remove(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	h, ok := d.byKey[key]
	if !ok {
		return
	}
	d.removeLocked(key, h)
}

func (d *Deduplicator) removeLocked(key, h string) {
	delete(d.byKey, key)
	bucket, ok := d.byHash[h]
	if !ok {
		return
	}
	delete(bucket.keys, key)
	if len(bucket.keys) == 0 {
		delete(d.byHash, h)
		return
	}
	// A canonical key may be removed while aliases remain; promote any
	// surviving key so later writes of the same content keep one bucket.
	// Existing aliases of the removed canonical dangle and resolve as
	// misses, which is acceptable cache behavior.
	if bucket.canonical == key {
		for k := range bucket.keys {
			bucket.canonical = k
			break
		}
	}
}

// MakeCanonical points key's content bucket at key itself. Callers use
// this when the previous canonical entry no longer resolves in any tier
// and the physical payload is being stored under key instead.
func (d *Deduplicator) MakeCanonical(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	h, ok := d.byKey[key]
	if !ok {
		return
	}
	if bucket, ok := d.byHash[h]; ok {
		bucket.canonical = key
	}
}

// Reset drops the whole index. Used when the cache is flushed.
func (d *Deduplicator) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byHash = make(map[string]*dedupBucket)
	d.byKey = make(map[string]string)
}

// AliasCount returns the number of keys sharing the payload's content
// hash. Intended for diagnostics and tests.
func (d *Deduplicator) AliasCount(payload []byte) int {
	h := d.hash(payload)

	d.mu.Lock()
	defer d.mu.Unlock()

	bucket, ok := d.byHash[h]
	if !ok {
		return 0
	}
	return len(bucket.keys)
}

// Len returns the number of distinct content hashes tracked
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.byHash)
}

func (d *Deduplicator) hash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])[:d.hashLen]
}
