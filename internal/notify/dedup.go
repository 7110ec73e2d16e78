package notify

import (
	"sync"
	"time"
)

// RequestDedup suppresses identical (destination, text) pairs inside a
// window.
type RequestDedup struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[string]time.Time
	now    func() time.Time
}

func NewRequestDedup(window time.Duration) *RequestDedup {
	return &RequestDedup{
		window: window,
		seen:   make(map[string]time.Time),
		now:    time.Now,
	}
}

// WithClock replaces the clock.
func (d *RequestDedup) WithClock(now func() time.Time) *RequestDedup {
	d.now = now
	return d
}

func dedupKey(destination, text string) string {
	return destination + "\x00" + text
}

// Acquire marks the pair and reports true, or reports false when the same
// pair was marked less than window ago.
func (d *RequestDedup) Acquire(destination, text string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for k, at := range d.seen {
		if now.Sub(at) >= d.window {
			delete(d.seen, k)
		}
	}

	key := dedupKey(destination, text)
	if _, ok := d.seen[key]; ok {
		return false
	}
	d.seen[key] = now
	return true
}

// Release forgets the pair so a failed send can be retried later.
func (d *RequestDedup) Release(destination, text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, dedupKey(destination, text))
}
