package pipeline

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDedup_MarkAndSee(t *testing.T) {
	cache := NewDedupCache()

	require.False(t, cache.SeenRecently("pair", "tx1"))
	cache.MarkSeen("pair", "tx1")
	require.True(t, cache.SeenRecently("pair", "tx1"))

	// Other pairs are isolated.
	require.False(t, cache.SeenRecently("other", "tx1"))
}

func TestDedup_MarkTwiceIsIdempotent(t *testing.T) {
	cache := NewDedupCache()

	cache.MarkSeen("pair", "tx1")
	cache.MarkSeen("pair", "tx1")
	require.True(t, cache.SeenRecently("pair", "tx1"))
	require.Equal(t, 1, cache.Len("pair"))
}

func TestDedup_TTLExpiry(t *testing.T) {
	now := time.Now()
	cache := NewDedupCache(
		WithDedupTTL(10*time.Minute),
		WithDedupClock(func() time.Time { return now }),
	)

	cache.MarkSeen("pair", "tx1")
	require.True(t, cache.SeenRecently("pair", "tx1"))

	now = now.Add(9 * time.Minute)
	require.True(t, cache.SeenRecently("pair", "tx1"))

	now = now.Add(2 * time.Minute)
	require.False(t, cache.SeenRecently("pair", "tx1"))
}

func TestDedup_SweepOnOverflow(t *testing.T) {
	now := time.Now()
	cache := NewDedupCache(
		WithDedupTTL(10*time.Minute),
		WithDedupMaxBucket(100),
		WithDedupClock(func() time.Time { return now }),
	)

	for i := 0; i < 100; i++ {
		cache.MarkSeen("pair", fmt.Sprintf("old-%d", i))
	}
	require.Equal(t, 100, cache.Len("pair"))

	// Once everything is expired the next insert sweeps the bucket.
	now = now.Add(11 * time.Minute)
	cache.MarkSeen("pair", "fresh")
	require.Equal(t, 1, cache.Len("pair"))
	require.True(t, cache.SeenRecently("pair", "fresh"))
}

func TestDedup_RemovePair(t *testing.T) {
	cache := NewDedupCache()

	cache.MarkSeen("pair", "tx1")
	cache.RemovePair("pair")
	require.False(t, cache.SeenRecently("pair", "tx1"))
	require.Equal(t, 0, cache.Len("pair"))
}
