package news

import (
	"sync"

	"newstrader/src/model"
)

// Deduper remembers the most recent keys up to a fixed capacity.
// The oldest key is forgotten first.
type Deduper struct {
	mu   sync.Mutex
	seen map[string]struct{}
	ring []string
	next int
}

func NewDeduper(capacity int) *Deduper {
	if capacity <= 0 {
		capacity = 4096
	}
	return &Deduper{
		seen: make(map[string]struct{}, capacity),
		ring: make([]string, capacity),
	}
}

// Key returns the dedupe key of an event: its id, or its normalized link when the id is empty.
func Key(ev model.NewsEvent) string {
	if ev.ID != "" {
		return ev.ID
	}
	return model.NormalizeLink(ev.Link)
}

// Seen records key and reports whether it was already present. Empty keys are never duplicates.
func (d *Deduper) Seen(key string) bool {
	if key == "" {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[key]; ok {
		return true
	}

	if old := d.ring[d.next]; old != "" {
		delete(d.seen, old)
	}
	d.ring[d.next] = key
	d.next = (d.next + 1) % len(d.ring)
	d.seen[key] = struct{}{}
	return false
}

func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
