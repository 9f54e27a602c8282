package analysis

import (
	"fmt"
	"testing"
	"time"
)

func TestHashRequestStability(t *testing.T) {
	a := AnalysisRequest{Text: "hello", SessionID: "s1", CounterpartText: "hi"}
	b := AnalysisRequest{Text: "hello", SessionID: "s1", CounterpartText: "hi"}
	if HashRequest(a) != HashRequest(b) {
		t.Error("identical requests must hash identically")
	}

	// Fields that do not participate in the key must not change it.
	c := a
	c.IdentityID = "alice"
	c.Source = "email"
	c.ReceivedAt = time.Now()
	if HashRequest(a) != HashRequest(c) {
		t.Error("identity, source, and timestamp must not affect the cache key")
	}
}

func TestHashRequestFieldBoundaries(t *testing.T) {
	// "ab"+"c" vs "a"+"bc" across the field separator must differ.
	a := AnalysisRequest{Text: "ab", SessionID: "c"}
	b := AnalysisRequest{Text: "a", SessionID: "bc"}
	if HashRequest(a) == HashRequest(b) {
		t.Error("field boundary ambiguity in cache key")
	}
}

func TestResultCacheRoundTrip(t *testing.T) {
	c := NewResultCache(time.Minute, 10)
	key := uint64(42)

	if _, ok := c.Get(key); ok {
		t.Fatal("empty cache returned a hit")
	}

	verdict := AnalysisVerdict{ID: "v1", AggregateScore: 0.5, Escalation: EscalationMedium}
	c.Put(key, verdict)

	got, ok := c.Get(key)
	if !ok {
		t.Fatal("expected a hit")
	}
	if got.ID != "v1" || got.AggregateScore != 0.5 || got.Escalation != EscalationMedium {
		t.Errorf("cached verdict mutated: %+v", got)
	}
}

func TestResultCacheTTLExpiry(t *testing.T) {
	c := NewResultCache(time.Minute, 10)
	current := time.Unix(1000, 0)
	c.now = func() time.Time { return current }

	c.Put(1, AnalysisVerdict{ID: "v1"})

	current = current.Add(59 * time.Second)
	if _, ok := c.Get(1); !ok {
		t.Error("entry expired before its TTL")
	}

	current = current.Add(2 * time.Second)
	if _, ok := c.Get(1); ok {
		t.Error("entry survived past its TTL")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry not removed on Get, Len = %d", c.Len())
	}
}

func TestResultCacheCapacityEvictsOldest(t *testing.T) {
	c := NewResultCache(time.Hour, 3)

	for i := 1; i <= 3; i++ {
		c.Put(uint64(i), AnalysisVerdict{ID: fmt.Sprintf("v%d", i)})
	}
	c.Put(4, AnalysisVerdict{ID: "v4"})

	if _, ok := c.Get(1); ok {
		t.Error("oldest entry should have been evicted")
	}
	for i := 2; i <= 4; i++ {
		if _, ok := c.Get(uint64(i)); !ok {
			t.Errorf("entry %d missing, only the oldest should be evicted", i)
		}
	}
	if c.Len() != 3 {
		t.Errorf("Len = %d, want capacity 3", c.Len())
	}
}

func TestResultCacheOverwriteDoesNotEvict(t *testing.T) {
	c := NewResultCache(time.Hour, 2)
	c.Put(1, AnalysisVerdict{ID: "v1"})
	c.Put(2, AnalysisVerdict{ID: "v2"})

	// Re-putting an existing key at capacity must not evict a peer.
	c.Put(2, AnalysisVerdict{ID: "v2b"})

	if _, ok := c.Get(1); !ok {
		t.Error("overwrite of existing key evicted another entry")
	}
	got, _ := c.Get(2)
	if got.ID != "v2b" {
		t.Errorf("overwrite did not take effect, got %s", got.ID)
	}
}

func TestResultCacheOverwriteRefreshesEvictionOrder(t *testing.T) {
	c := NewResultCache(time.Hour, 2)
	c.Put(1, AnalysisVerdict{ID: "v1"})
	c.Put(2, AnalysisVerdict{ID: "v2"})
	c.Put(1, AnalysisVerdict{ID: "v1b"}) // Key 1 is now the newest insertion
	c.Put(3, AnalysisVerdict{ID: "v3"})

	if _, ok := c.Get(2); ok {
		t.Error("key 2 should now be the oldest insertion and evicted")
	}
	if _, ok := c.Get(1); !ok {
		t.Error("re-inserted key should survive")
	}
}
