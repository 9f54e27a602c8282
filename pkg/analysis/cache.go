package analysis

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// HashRequest derives the stable cache key for a request. Identical
// (text, sessionID, counterpartText) triples always map to the same key;
// the NUL separators keep field boundaries unambiguous.
func HashRequest(req AnalysisRequest) uint64 {
	var d xxhash.Digest
	d.Reset()
	_, _ = d.WriteString(req.Text)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(req.SessionID)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(req.CounterpartText)
	return d.Sum64()
}

type cacheEntry struct {
	verdict   AnalysisVerdict
	storedAt  time.Time
	expiresAt time.Time
	seq       uint64 // Insertion sequence; breaks eviction ties
}

// ResultCache is a content-addressed, TTL-bounded, size-bounded verdict
// cache. Expiry is checked lazily on Get; capacity pressure evicts the
// entry with the oldest insertion time (insertion order, not access order).
// Get and Put are the only operations; with no iteration or snapshot API
// the single lock is never held across a scan.
type ResultCache struct {
	mu       sync.Mutex
	entries  map[uint64]*cacheEntry
	ttl      time.Duration
	capacity int
	seq      uint64
	now      func() time.Time // Injectable for TTL tests
}

// NewResultCache creates a cache with the given TTL and capacity.
func NewResultCache(ttl time.Duration, capacity int) *ResultCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if capacity <= 0 {
		capacity = 1024
	}
	return &ResultCache{
		entries:  make(map[uint64]*cacheEntry, capacity),
		ttl:      ttl,
		capacity: capacity,
		now:      time.Now,
	}
}

// Get returns the cached verdict for key, expiring it lazily if its TTL has
// passed.
func (c *ResultCache) Get(key uint64) (AnalysisVerdict, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return AnalysisVerdict{}, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		return AnalysisVerdict{}, false
	}
	return e.verdict, true
}

// Put stores a verdict. If the cache is at capacity the oldest-inserted
// entry is evicted first.
func (c *ResultCache) Put(key uint64, verdict AnalysisVerdict) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.capacity {
		c.evictOldestLocked()
	}

	now := c.now()
	c.seq++
	c.entries[key] = &cacheEntry{
		verdict:   verdict,
		storedAt:  now,
		expiresAt: now.Add(c.ttl),
		seq:       c.seq,
	}
}

// evictOldestLocked removes the entry with the lowest insertion sequence.
// O(n) over the map, acceptable at the configured capacities; the lock is
// already held.
func (c *ResultCache) evictOldestLocked() {
	var oldestKey uint64
	var oldestSeq uint64
	found := false
	for k, e := range c.entries {
		if !found || e.seq < oldestSeq {
			oldestKey, oldestSeq = k, e.seq
			found = true
		}
	}
	if found {
		delete(c.entries, oldestKey)
	}
}

// Len returns the current entry count, counting entries that have expired
// but not yet been lazily removed.
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
