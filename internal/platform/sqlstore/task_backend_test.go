package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/phrazzld/kit/internal/database"
	"github.com/phrazzld/kit/internal/store"
	"github.com/phrazzld/kit/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRecord(t *testing.T, name string, status task.Status, age time.Duration) *task.Record {
	t.Helper()
	msg, err := task.NewMessage(name, "celery", map[string]int{"n": 1})
	require.NoError(t, err)
	rec := task.NewRecord(msg)
	rec.Status = status
	rec.UpdatedAt = time.Now().UTC().Add(-age)
	return rec
}

func recordIDs(recs []*task.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}

func TestTaskBackendSaveAndGet(t *testing.T) {
	ctx := context.Background()
	b := NewTaskBackend(database.OpenTestEngine(t))
	rec := newTestRecord(t, "add", task.StatusPending, 0)

	require.NoError(t, b.Save(ctx, rec))
	rec.Status = task.StatusSuccess
	rec.Result = json.RawMessage(`{"sum":3}`)
	rec.Worker = "w1.example.org"
	rec.Retries = 1
	require.NoError(t, b.Save(ctx, rec), "Save must update existing records")

	got, err := b.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusSuccess, got.Status)
	assert.JSONEq(t, `{"sum":3}`, string(got.Result))
	assert.JSONEq(t, `{"n":1}`, string(got.Payload))
	assert.Equal(t, "w1.example.org", got.Worker)
	assert.Equal(t, 1, got.Retries)
	assert.WithinDuration(t, rec.UpdatedAt, got.UpdatedAt, time.Millisecond)

	_, err = b.Get(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}

func TestTaskBackendList(t *testing.T) {
	ctx := context.Background()
	b := NewTaskBackend(database.OpenTestEngine(t))
	old := newTestRecord(t, "add", task.StatusSuccess, 2*time.Minute)
	mid := newTestRecord(t, "mul", task.StatusFailure, time.Minute)
	recent := newTestRecord(t, "add", task.StatusPending, 0)
	for _, r := range []*task.Record{old, mid, recent} {
		require.NoError(t, b.Save(ctx, r))
	}

	testCases := []struct {
		name string
		opts task.ListOptions
		want []string
	}{
		{name: "All", opts: task.ListOptions{}, want: []string{recent.ID, mid.ID, old.ID}},
		{name: "By name", opts: task.ListOptions{Name: "add"}, want: []string{recent.ID, old.ID}},
		{name: "By status", opts: task.ListOptions{Status: task.StatusFailure}, want: []string{mid.ID}},
		{name: "Limit", opts: task.ListOptions{Limit: 2}, want: []string{recent.ID, mid.ID}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			recs, err := b.List(ctx, tc.opts)
			require.NoError(t, err)
			assert.Equal(t, tc.want, recordIDs(recs))
		})
	}
}

func TestTaskBackendByStatusAndPurge(t *testing.T) {
	ctx := context.Background()
	b := NewTaskBackend(database.OpenTestEngine(t))
	stuck := newTestRecord(t, "slow", task.StatusStarted, time.Hour)
	fresh := newTestRecord(t, "slow", task.StatusStarted, 0)
	expired := newTestRecord(t, "slow", task.StatusSuccess, 2*time.Hour)
	kept := newTestRecord(t, "slow", task.StatusFailure, time.Minute)
	for _, r := range []*task.Record{stuck, fresh, expired, kept} {
		require.NoError(t, b.Save(ctx, r))
	}

	recs, err := b.ByStatus(ctx, task.StatusStarted, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []string{stuck.ID}, recordIDs(recs))

	recs, err = b.ByStatus(ctx, task.StatusStarted, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{stuck.ID, fresh.ID}, recordIDs(recs), "Oldest first")

	n, err := b.Purge(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = b.Get(ctx, expired.ID)
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
	_, err = b.Get(ctx, stuck.ID)
	assert.NoError(t, err, "Unfinished tasks are never purged")
}

func TestUpsertTaskStatement(t *testing.T) {
	assert.Contains(t, upsertTask("mysql"), "ON DUPLICATE KEY UPDATE status = VALUES(status)")
	assert.Contains(t, upsertTask("postgres"), "ON CONFLICT (id) DO UPDATE SET status = excluded.status")
	assert.Contains(t, upsertTask("sqlite"), "ON CONFLICT (id) DO UPDATE SET")
}

func TestMapError(t *testing.T) {
	assert.NoError(t, MapError(nil))
	assert.ErrorIs(t, MapError(sql.ErrNoRows), store.ErrNotFound)

	plain := errors.New("network down")
	assert.Equal(t, plain, MapError(plain))
}
