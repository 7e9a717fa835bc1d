package pipeline

import (
	"sync"
	"time"
)

const (
	defaultDedupTTL    = 10 * time.Minute
	defaultDedupBucket = 4000
)

// DedupCache is the last line of defense against re-delivery from
// overlapping polls: a per-pair membership set of recently seen event
// identities with a TTL. It is a correctness mechanism only within the TTL
// window; the cursor store handles everything older.
type DedupCache struct {
	mu        sync.Mutex
	buckets   map[string]map[string]time.Time
	ttl       time.Duration
	maxBucket int
	now       func() time.Time
}

// DedupOption configures the cache.
type DedupOption func(*DedupCache)

// WithDedupTTL sets how long an identity stays seen.
func WithDedupTTL(ttl time.Duration) DedupOption {
	return func(d *DedupCache) {
		if ttl > 0 {
			d.ttl = ttl
		}
	}
}

// WithDedupMaxBucket sets the per-pair entry count that triggers an expiry
// sweep.
func WithDedupMaxBucket(n int) DedupOption {
	return func(d *DedupCache) {
		if n > 0 {
			d.maxBucket = n
		}
	}
}

// WithDedupClock injects a clock, for tests.
func WithDedupClock(now func() time.Time) DedupOption {
	return func(d *DedupCache) {
		d.now = now
	}
}

// NewDedupCache creates an empty cache.
func NewDedupCache(opts ...DedupOption) *DedupCache {
	d := &DedupCache{
		buckets:   make(map[string]map[string]time.Time),
		ttl:       defaultDedupTTL,
		maxBucket: defaultDedupBucket,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SeenRecently reports whether the identity was marked within the TTL.
func (d *DedupCache) SeenRecently(pairID, identity string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	bucket, ok := d.buckets[pairID]
	if !ok {
		return false
	}

	ts, ok := bucket[identity]
	return ok && d.now().Sub(ts) < d.ttl
}

// MarkSeen records the identity. Marking an identity twice is a no-op with
// respect to future SeenRecently results.
func (d *DedupCache) MarkSeen(pairID, identity string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	bucket, ok := d.buckets[pairID]
	if !ok {
		bucket = make(map[string]time.Time)
		d.buckets[pairID] = bucket
	}

	if len(bucket) >= d.maxBucket {
		d.sweepLocked(bucket)
	}

	bucket[identity] = d.now()
}

// RemovePair drops all entries for a removed pair.
func (d *DedupCache) RemovePair(pairID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.buckets, pairID)
}

// Len reports the entry count for a pair.
func (d *DedupCache) Len(pairID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buckets[pairID])
}

// sweepLocked removes expired entries. Maintenance only: TTL comparison in
// SeenRecently is what guarantees correctness.
func (d *DedupCache) sweepLocked(bucket map[string]time.Time) {
	now := d.now()
	for id, ts := range bucket {
		if now.Sub(ts) >= d.ttl {
			delete(bucket, id)
		}
	}
}
