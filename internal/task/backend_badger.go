package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/phrazzld/kit/internal/store"
)

var badgerTaskPrefix = []byte("task:")

// BadgerBackend stores records in an embedded badger database, finished
// ones with a TTL.
type BadgerBackend struct {
	db      *badger.DB
	expires time.Duration
}

// OpenBadgerBackend opens the database at path; an empty path keeps it in
// memory.
func OpenBadgerBackend(path string, expires time.Duration) (*BadgerBackend, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger result backend: %w", err)
	}
	return &BadgerBackend{db: db, expires: expires}, nil
}

func badgerKey(id string) []byte {
	return append(append([]byte{}, badgerTaskPrefix...), id...)
}

// Save implements Backend.
func (b *BadgerBackend) Save(_ context.Context, rec *Record) error {
	buf, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode task record: %w", err)
	}
	entry := badger.NewEntry(badgerKey(rec.ID), buf)
	if rec.Status.Ready() && b.expires > 0 {
		entry = entry.WithTTL(b.expires)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(entry)
	})
}

// Get implements Backend.
func (b *BadgerBackend) Get(_ context.Context, id string) (*Record, error) {
	var out Record
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &out)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, store.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read task %s: %w", id, err)
	}
	return &out, nil
}

func (b *BadgerBackend) scan() ([]*Record, error) {
	var out []*Record
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(badgerTaskPrefix); it.ValidForPrefix(badgerTaskPrefix); it.Next() {
			var rec Record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			out = append(out, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan tasks: %w", err)
	}
	return out, nil
}

// List implements Backend.
func (b *BadgerBackend) List(_ context.Context, opts ListOptions) ([]*Record, error) {
	recs, err := b.scan()
	if err != nil {
		return nil, err
	}
	return filterRecords(recs, opts), nil
}

// ByStatus implements Backend.
func (b *BadgerBackend) ByStatus(_ context.Context, status Status, olderThan time.Duration) ([]*Record, error) {
	recs, err := b.scan()
	if err != nil {
		return nil, err
	}
	return staleRecords(recs, status, olderThan), nil
}

// Close implements Backend.
func (b *BadgerBackend) Close() error { return b.db.Close() }
