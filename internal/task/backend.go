package task

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DatabaseBackend is the result_backend value selecting the SQL backend.
const DatabaseBackend = "database"

// ListOptions filters Backend.List.
type ListOptions struct {
	Status Status
	Name   string
	Limit  int
}

// Backend stores the state and result of every task.
type Backend interface {
	// Save inserts or replaces rec.
	Save(ctx context.Context, rec *Record) error

	// Get returns store.ErrTaskNotFound for unknown IDs.
	Get(ctx context.Context, id string) (*Record, error)

	// List returns the matching records, most recently updated first.
	List(ctx context.Context, opts ListOptions) ([]*Record, error)

	// ByStatus returns the records in status whose last update is older than
	// olderThan, oldest first. Zero returns them all.
	ByStatus(ctx context.Context, status Status, olderThan time.Duration) ([]*Record, error)

	Close() error
}

// Purger is implemented by backends that need explicit expiry of finished
// records.
type Purger interface {
	Purge(ctx context.Context, before time.Time) (int, error)
}

// NewBackend returns the backend for url: memory://, redis://... or
// badger:///path (relative paths resolved against root, no path meaning in
// memory). Finished records expire after expires. The SQL backend is built
// by the caller owning the database engine.
func NewBackend(url, root string, expires time.Duration) (Backend, error) {
	switch {
	case url == "" || strings.HasPrefix(url, "memory://"):
		return NewMemoryBackend(expires), nil
	case strings.HasPrefix(url, "redis://"), strings.HasPrefix(url, "rediss://"):
		opts, err := redis.ParseURL(url)
		if err != nil {
			return nil, fmt.Errorf("invalid result backend url: %w", err)
		}
		return NewRedisBackend(redis.NewClient(opts), expires), nil
	case strings.HasPrefix(url, "badger://"):
		// same path rules as sqlite urls
		path := strings.TrimPrefix(strings.TrimPrefix(url, "badger://"), "/")
		if path != "" && !filepath.IsAbs(path) {
			path = filepath.Join(root, path)
		}
		return OpenBadgerBackend(path, expires)
	case url == DatabaseBackend:
		return nil, fmt.Errorf("the %q result backend needs a database engine", DatabaseBackend)
	}
	return nil, fmt.Errorf("unsupported result backend %q", url)
}

// filterRecords applies opts to recs sorted by UpdatedAt descending.
func filterRecords(recs []*Record, opts ListOptions) []*Record {
	sort.Slice(recs, func(i, j int) bool { return recs[i].UpdatedAt.After(recs[j].UpdatedAt) })
	out := recs[:0]
	for _, r := range recs {
		if opts.Status != "" && r.Status != opts.Status {
			continue
		}
		if opts.Name != "" && r.Name != opts.Name {
			continue
		}
		out = append(out, r)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out
}

// staleRecords keeps the records of recs in status older than olderThan,
// oldest first.
func staleRecords(recs []*Record, status Status, olderThan time.Duration) []*Record {
	cutoff := time.Now().Add(-olderThan)
	out := make([]*Record, 0)
	for _, r := range recs {
		if r.Status != status {
			continue
		}
		if olderThan > 0 && !r.UpdatedAt.Before(cutoff) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out
}
