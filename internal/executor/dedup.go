package executor

import (
	"sync"
	"time"
)

// Dedup suppresses repeated signals for the same symbol and action within a
// time-to-live window. Safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time
	ttl  time.Duration
	mu   sync.Mutex
}

// NewDedup creates a Dedup that treats a key as duplicate when it was seen
// within ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
	}
}

// IsDuplicate reports whether key was seen within the TTL window. Unseen or
// expired keys are recorded and reported as fresh.
func (d *Dedup) IsDuplicate(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if lastSeen, ok := d.seen[key]; ok {
		if now.Sub(lastSeen) < d.ttl {
			return true
		}
	}

	d.seen[key] = now
	return false
}

// Cleanup removes expired entries. Call periodically to bound memory.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	for key, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, key)
		}
	}
}
