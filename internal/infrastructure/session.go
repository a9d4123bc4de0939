package infrastructure

import (
	"sync"
	"time"
)

// InboundDeduper remembers provider message ids so webhook replays are
// dropped before they reach the relay.
type InboundDeduper struct {
	mu      sync.Mutex
	seen    map[string]time.Time
	ttl     time.Duration
	inserts int
	now     func() time.Time
}

func NewInboundDeduper(ttl time.Duration) *InboundDeduper {
	return &InboundDeduper{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Seen records key and reports whether it was already recorded within the
// TTL. Empty keys are never considered duplicates.
func (d *InboundDeduper) Seen(key string) bool {
	if key == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if at, ok := d.seen[key]; ok && now.Sub(at) < d.ttl {
		return true
	}
	d.seen[key] = now

	d.inserts++
	if d.inserts%256 == 0 {
		d.sweep(now)
	}
	return false
}

// Forget drops key so a later replay of the same message is admitted
func (d *InboundDeduper) Forget(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, key)
}

func (d *InboundDeduper) sweep(now time.Time) {
	for k, at := range d.seen {
		if now.Sub(at) >= d.ttl {
			delete(d.seen, k)
		}
	}
}

func (d *InboundDeduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
