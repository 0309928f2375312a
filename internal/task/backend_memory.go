package task

import (
	"context"
	"sync"
	"time"

	"github.com/phrazzld/kit/internal/store"
)

// MemoryBackend keeps records in a map. Finished records older than the
// expiry are dropped on access.
type MemoryBackend struct {
	expires time.Duration

	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryBackend returns an empty backend.
func NewMemoryBackend(expires time.Duration) *MemoryBackend {
	return &MemoryBackend{expires: expires, records: make(map[string]*Record)}
}

func (b *MemoryBackend) expired(r *Record, now time.Time) bool {
	return b.expires > 0 && r.Status.Ready() && now.Sub(r.UpdatedAt) > b.expires
}

// Save implements Backend.
func (b *MemoryBackend) Save(_ context.Context, rec *Record) error {
	cp := *rec
	b.mu.Lock()
	b.records[rec.ID] = &cp
	b.mu.Unlock()
	return nil
}

// Get implements Backend.
func (b *MemoryBackend) Get(_ context.Context, id string) (*Record, error) {
	b.mu.RLock()
	r, ok := b.records[id]
	b.mu.RUnlock()
	if !ok || b.expired(r, time.Now()) {
		return nil, store.ErrTaskNotFound
	}
	cp := *r
	return &cp, nil
}

func (b *MemoryBackend) snapshot() []*Record {
	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Record, 0, len(b.records))
	for id, r := range b.records {
		if b.expired(r, now) {
			delete(b.records, id)
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	return out
}

// List implements Backend.
func (b *MemoryBackend) List(_ context.Context, opts ListOptions) ([]*Record, error) {
	return filterRecords(b.snapshot(), opts), nil
}

// ByStatus implements Backend.
func (b *MemoryBackend) ByStatus(_ context.Context, status Status, olderThan time.Duration) ([]*Record, error) {
	return staleRecords(b.snapshot(), status, olderThan), nil
}

// Close implements Backend.
func (b *MemoryBackend) Close() error { return nil }
