package memorystore

import (
	"sync"
	"time"
)

// CooldownLedger remembers, per "{symbol}:{direction}" key, when a signal
// last fired.
//
// A scan pass never holds the same symbol twice, so two goroutines of one
// pass cannot race between Allow and Record on the same key.
type CooldownLedger struct {
	mu      sync.Mutex
	entries map[string]int64 // unix ms
	now     func() time.Time
}

func NewCooldownLedger() *CooldownLedger {
	return &CooldownLedger{
		entries: make(map[string]int64),
		now:     time.Now,
	}
}

// WithClock replaces the ledger clock.
func (l *CooldownLedger) WithClock(now func() time.Time) *CooldownLedger {
	l.now = now
	return l
}

// Allow reports whether key may fire: no entry yet, or the last one is older
// than cooldown. It never updates the ledger.
func (l *CooldownLedger) Allow(key string, cooldown time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	last, ok := l.entries[key]
	if !ok {
		return true
	}
	return last < l.now().Add(-cooldown).UnixMilli()
}

// Record stores at as the last firing time of key.
func (l *CooldownLedger) Record(key string, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[key] = at.UnixMilli()
}

// Snapshot returns a copy of all entries.
func (l *CooldownLedger) Snapshot() map[string]int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]int64, len(l.entries))
	for k, v := range l.entries {
		out[k] = v
	}
	return out
}

// Restore merges persisted entries, keeping the newer timestamp per key.
func (l *CooldownLedger) Restore(entries map[string]int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, v := range entries {
		if cur, ok := l.entries[k]; !ok || v > cur {
			l.entries[k] = v
		}
	}
}

// Prune drops entries older than maxAge.
func (l *CooldownLedger) Prune(maxAge time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-maxAge).UnixMilli()
	removed := 0
	for k, v := range l.entries {
		if v < cutoff {
			delete(l.entries, k)
			removed++
		}
	}
	return removed
}
