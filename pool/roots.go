package pool

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"umbra-relayer/buckets"
)

// Historical root retention. Roots must outlive the longest withdrawal
// delay (24 hours), so they are kept for at least 48 hours with a hard
// cap as a safety limit.
const (
	rootRetention      = 48 * time.Hour
	maxHistoricalRoots = 1000
)

// HistoricalRoots is an advisory per-bucket cache of recent merkle
// roots with their insertion times. The on-chain program holds the
// authoritative list.
type HistoricalRoots struct {
	mu      sync.RWMutex
	entries [buckets.Count]map[[32]byte]time.Time
}

// NewHistoricalRoots creates an empty cache.
func NewHistoricalRoots() *HistoricalRoots {
	hr := &HistoricalRoots{}
	for i := range hr.entries {
		hr.entries[i] = make(map[[32]byte]time.Time)
	}
	return hr
}

// Record remembers a root for the bucket, pruning entries older than
// the retention window and evicting the oldest when the cap is hit.
func (hr *HistoricalRoots) Record(bucket uint8, root [32]byte) {
	if int(bucket) >= buckets.Count {
		return
	}

	hr.mu.Lock()
	defer hr.mu.Unlock()

	entries := hr.entries[bucket]
	now := time.Now()

	for r, added := range entries {
		if now.Sub(added) >= rootRetention {
			delete(entries, r)
		}
	}

	if len(entries) >= maxHistoricalRoots {
		for len(entries) >= maxHistoricalRoots {
			var oldest [32]byte
			var oldestAt time.Time
			first := true
			for r, added := range entries {
				if first || added.Before(oldestAt) {
					oldest, oldestAt = r, added
					first = false
				}
			}
			delete(entries, oldest)
		}
		log.Warnf("Historical roots limit reached for bucket %d, pruned oldest entries", bucket)
	}

	entries[root] = now
}

// Contains reports whether the root is a recognised recent root for
// the bucket.
func (hr *HistoricalRoots) Contains(bucket uint8, root [32]byte) bool {
	if int(bucket) >= buckets.Count {
		return false
	}

	hr.mu.RLock()
	defer hr.mu.RUnlock()

	_, ok := hr.entries[bucket][root]
	return ok
}

// Len returns the number of cached roots for a bucket.
func (hr *HistoricalRoots) Len(bucket uint8) int {
	if int(bucket) >= buckets.Count {
		return 0
	}

	hr.mu.RLock()
	defer hr.mu.RUnlock()
	return len(hr.entries[bucket])
}
