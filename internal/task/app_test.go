package task

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/phrazzld/kit/internal/config"
	"github.com/phrazzld/kit/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTasksConfig() config.TasksConfig {
	return config.TasksConfig{
		BrokerURL:          "memory://",
		ResultBackend:      "memory://",
		DefaultQueue:       "celery",
		Concurrency:        2,
		PrefetchMultiplier: 1,
		WorkerDirect:       true,
		ResultExpires:      time.Hour,
		HeartbeatInterval:  time.Second,
		QueueSize:          100,
	}
}

// newTestApp returns an app over the in-memory broker and backend.
func newTestApp(t *testing.T, cfg config.TasksConfig) *App {
	t.Helper()
	_, log := logger.SetupTestLogger(t)
	app := NewApp(cfg, NewMemoryBroker(cfg.QueueSize), NewMemoryBackend(cfg.ResultExpires), nil, log)
	t.Cleanup(func() { _ = app.Close() })
	return app
}

func noop(context.Context, json.RawMessage) (any, error) { return nil, nil }

func TestAppRegister(t *testing.T) {
	app := newTestApp(t, testTasksConfig())

	require.NoError(t, app.Register("b", noop))
	require.NoError(t, app.Register("a", noop, WithQueue("fast")))
	require.NoError(t, app.Periodic("tick", time.Minute, noop))

	assert.Equal(t, []string{"a", "b", "tick"}, app.Names())
	assert.ErrorIs(t, app.Register("a", noop), ErrDuplicateJob)
	assert.Error(t, app.Register("", noop))
	assert.Error(t, app.Register("c", nil))
	assert.Error(t, app.Periodic("never", 0, noop))

	assert.Equal(t, []PeriodicTask{{Name: "tick", Queue: "celery", Every: time.Minute}}, app.PeriodicTasks())
}

func TestAppDelay(t *testing.T) {
	ctx := context.Background()
	app := newTestApp(t, testTasksConfig())
	require.NoError(t, app.Register("add", noop))
	require.NoError(t, app.Register("fast", noop, WithQueue("priority")))

	res, err := app.Delay(ctx, "add", []int{1, 2})
	require.NoError(t, err)

	rec, err := res.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, rec.Status)
	assert.Equal(t, "celery", rec.Queue)
	assert.JSONEq(t, `[1,2]`, string(rec.Payload))

	_, err = app.Delay(ctx, "fast", nil)
	require.NoError(t, err)

	lengths, err := app.Broker().QueueLengths(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, lengths["celery"])
	assert.Equal(t, 1, lengths["priority"], "Tasks go to their registered queue")

	_, err = app.Delay(ctx, "unknown", nil)
	assert.ErrorIs(t, err, ErrUnknownTask)
}

func TestAppSendUnregistered(t *testing.T) {
	ctx := context.Background()
	app := newTestApp(t, testTasksConfig())

	res, err := app.Send(ctx, "remote.task", "", nil)
	require.NoError(t, err)

	rec, err := app.Result(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, "celery", rec.Queue, "Empty queue means the default queue")
}

type failingBroker struct{ *MemoryBroker }

func (failingBroker) Publish(context.Context, string, *Message) error {
	return errors.New("connection refused")
}

func TestAppPublishFailure(t *testing.T) {
	ctx := context.Background()
	cfg := testTasksConfig()
	backend := NewMemoryBackend(time.Hour)
	app := NewApp(cfg, failingBroker{NewMemoryBroker(1)}, backend, nil, nil)
	require.NoError(t, app.Register("add", noop))

	_, err := app.Delay(ctx, "add", nil)
	require.Error(t, err)

	recs, err := backend.List(ctx, ListOptions{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, StatusFailure, recs[0].Status, "Publish failures are recorded")
	assert.Contains(t, recs[0].Error, "connection refused")
}

func TestAsyncResultWait(t *testing.T) {
	ctx := context.Background()
	app := newTestApp(t, testTasksConfig())
	res, err := app.Send(ctx, "add", "", nil)
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		rec, _ := app.Result(ctx, res.ID)
		rec.Status = StatusSuccess
		rec.Result = json.RawMessage(`7`)
		_ = app.Backend().Save(ctx, rec)
	}()

	rec, err := res.Wait(ctx, 5*time.Millisecond)
	require.NoError(t, err)
	var n int
	require.NoError(t, rec.Decode(&n))
	assert.Equal(t, 7, n)

	pending, err := app.Send(ctx, "never", "", nil)
	require.NoError(t, err)
	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	rec, err = pending.Wait(short, 5*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StatusPending, rec.Status)
}
