package filter

import (
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
)

// dedupeCache is a bloom filter plus a TTL-swept timestamp map, the
// same two-layer scheme kernel/core/mesh.GossipManager uses to avoid
// reprocessing a message it has already seen: the bloom filter gives a
// fast probabilistic membership check, the timestamp map confirms a hit
// within ttl, and Sweep evicts map entries older than ttl so the map
// doesn't grow without bound over a long-running process.
type dedupeCache struct {
	mu         sync.Mutex
	seenFilter *bloom.BloomFilter
	seenAt     map[string]time.Time
	ttl        time.Duration
}

func newDedupeCache(expectedItems uint, falsePositiveRate float64, ttl time.Duration) *dedupeCache {
	return &dedupeCache{
		seenFilter: bloom.NewWithEstimates(expectedItems, falsePositiveRate),
		seenAt:     make(map[string]time.Time),
		ttl:        ttl,
	}
}

// SeenRecently reports whether id was already recorded within ttl, and
// records it if not (single-check-and-set, like sync.Map.LoadOrStore).
func (d *dedupeCache) SeenRecently(id string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.seenFilter.TestString(id) {
		if ts, ok := d.seenAt[id]; ok && now.Sub(ts) < d.ttl {
			return true
		}
	}
	d.seenFilter.AddString(id)
	d.seenAt[id] = now
	return false
}

// Sweep evicts timestamp entries older than ttl. The bloom filter
// itself is never cleared (it has no delete operation); a long enough
// Sweep-free run degrades to more false positives, which only costs an
// extra map lookup, never a correctness problem for the caller.
func (d *dedupeCache) Sweep(now time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	evicted := 0
	for id, ts := range d.seenAt {
		if now.Sub(ts) >= d.ttl {
			delete(d.seenAt, id)
			evicted++
		}
	}
	return evicted
}
