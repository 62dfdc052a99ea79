package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryDedup is the in-process dedup window used when Redis is not configured.
type MemoryDedup struct {
	mu     sync.Mutex
	claims map[string]time.Time
	now    func() time.Time
}

func NewMemoryDedup() *MemoryDedup {
	return &MemoryDedup{claims: make(map[string]time.Time), now: time.Now}
}

func (d *MemoryDedup) ClaimEvent(_ context.Context, eventID, checksum string, ttl time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for k, exp := range d.claims {
		if !now.Before(exp) {
			delete(d.claims, k)
		}
	}

	key := eventKey(eventID, checksum)
	if _, ok := d.claims[key]; ok {
		return false, nil
	}
	d.claims[key] = now.Add(ttl)
	return true, nil
}

func (d *MemoryDedup) ReleaseEvent(_ context.Context, eventID, checksum string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.claims, eventKey(eventID, checksum))
	return nil
}
