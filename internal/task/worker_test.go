package task

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/phrazzld/kit/internal/database"
	"github.com/phrazzld/kit/internal/events"
	"github.com/phrazzld/kit/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type addArgs struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func testWorkerOptions(app *App) WorkerOptions {
	opts := DefaultWorkerOptions(app.Config(), "w1.example.org")
	opts.HeartbeatInterval = 10 * time.Millisecond
	opts.ReceiveTimeout = 20 * time.Millisecond
	return opts
}

// startWorker starts a worker and stops it at the end of the test.
func startWorker(t *testing.T, app *App, opts WorkerOptions) *Worker {
	t.Helper()
	w := NewWorker(app, opts)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop(context.Background()) })
	return w
}

func waitResult(t *testing.T, res *AsyncResult) *Record {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rec, err := res.Wait(ctx, 5*time.Millisecond)
	require.NoError(t, err, "Task did not finish in time")
	return rec
}

func TestWorkerRunsTasks(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	app := newTestApp(t, testTasksConfig())
	require.NoError(t, app.Register("add", Typed(func(_ context.Context, a addArgs) (any, error) {
		return a.X + a.Y, nil
	})))
	w := NewWorker(app, testWorkerOptions(app))
	require.NoError(t, w.Start(context.Background()))

	res, err := app.Delay(context.Background(), "add", addArgs{X: 2, Y: 3})
	require.NoError(t, err)
	rec := waitResult(t, res)

	assert.Equal(t, StatusSuccess, rec.Status)
	assert.Equal(t, "w1.example.org", rec.Worker)
	var sum int
	require.NoError(t, rec.Decode(&sum))
	assert.Equal(t, 5, sum)

	require.NoError(t, w.Stop(context.Background()))
	assert.EqualValues(t, 1, w.Info().Processed)
}

func TestWorkerFailures(t *testing.T) {
	testCases := []struct {
		name      string
		handler   Handler
		wantError string
	}{
		{
			name: "Error",
			handler: func(context.Context, json.RawMessage) (any, error) {
				return nil, errors.New("boom")
			},
			wantError: "boom",
		},
		{
			name: "Panic",
			handler: func(context.Context, json.RawMessage) (any, error) {
				panic("kaboom")
			},
			wantError: "task panicked: kaboom",
		},
		{
			name: "Unencodable result",
			handler: func(context.Context, json.RawMessage) (any, error) {
				return make(chan int), nil
			},
			wantError: "failed to encode result",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			app := newTestApp(t, testTasksConfig())
			require.NoError(t, app.Register("job", func(ctx context.Context, p json.RawMessage) (any, error) {
				return tc.handler(ctx, p)
			}))
			startWorker(t, app, testWorkerOptions(app))

			res, err := app.Delay(context.Background(), "job", nil)
			require.NoError(t, err)
			rec := waitResult(t, res)

			assert.Equal(t, StatusFailure, rec.Status)
			assert.Contains(t, rec.Error, tc.wantError)
		})
	}
}

func TestWorkerUnknownTask(t *testing.T) {
	app := newTestApp(t, testTasksConfig())
	startWorker(t, app, testWorkerOptions(app))

	res, err := app.Send(context.Background(), "elsewhere", "", nil)
	require.NoError(t, err)
	rec := waitResult(t, res)

	assert.Equal(t, StatusFailure, rec.Status)
	assert.Contains(t, rec.Error, ErrUnknownTask.Error())
}

func TestWorkerRetries(t *testing.T) {
	app := newTestApp(t, testTasksConfig())
	var calls atomic.Int32
	require.NoError(t, app.Register("flaky", func(context.Context, json.RawMessage) (any, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("not yet")
		}
		return "ok", nil
	}, WithMaxRetries(5)))
	require.NoError(t, app.Register("hopeless", func(context.Context, json.RawMessage) (any, error) {
		return nil, errors.New("never")
	}, WithMaxRetries(2)))
	startWorker(t, app, testWorkerOptions(app))

	res, err := app.Delay(context.Background(), "flaky", nil)
	require.NoError(t, err)
	rec := waitResult(t, res)
	assert.Equal(t, StatusSuccess, rec.Status)
	assert.Equal(t, 2, rec.Retries)
	assert.EqualValues(t, 3, calls.Load())

	res, err = app.Delay(context.Background(), "hopeless", nil)
	require.NoError(t, err)
	rec = waitResult(t, res)
	assert.Equal(t, StatusFailure, rec.Status)
	assert.Equal(t, 2, rec.Retries, "Retries stop at the maximum")
}

func TestWorkerSignals(t *testing.T) {
	cfg := testTasksConfig()
	emitter := events.NewInMemoryEmitter(nil)
	app := NewApp(cfg, NewMemoryBroker(10), NewMemoryBackend(time.Hour), emitter, nil)

	var mu sync.Mutex
	var got []string
	record := func(_ context.Context, e *events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, string(e.Signal)+":"+e.State)
		return nil
	}
	for _, s := range []events.Signal{events.WorkerReady, events.TaskPrerun, events.TaskPostrun, events.WorkerShutdown} {
		emitter.ConnectFunc(s, record)
	}
	var scoped atomic.Bool
	require.NoError(t, app.Register("job", func(ctx context.Context, _ json.RawMessage) (any, error) {
		scoped.Store(database.HasScope(ctx))
		return nil, nil
	}))

	w := NewWorker(app, testWorkerOptions(app))
	require.NoError(t, w.Start(context.Background()))
	res, err := app.Delay(context.Background(), "job", nil)
	require.NoError(t, err)
	waitResult(t, res)
	require.NoError(t, w.Stop(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		string(events.WorkerReady) + ":",
		string(events.TaskPrerun) + ":started",
		string(events.TaskPostrun) + ":success",
		string(events.WorkerShutdown) + ":",
	}, got)
	assert.True(t, scoped.Load(), "Each task runs in its own session scope")
}

func TestWorkerPostrunErrorFailsTask(t *testing.T) {
	emitter := events.NewInMemoryEmitter(nil)
	app := NewApp(testTasksConfig(), NewMemoryBroker(10), NewMemoryBackend(time.Hour), emitter, nil)
	emitter.ConnectFunc(events.TaskPostrun, func(context.Context, *events.Event) error {
		return errors.New("commit failed")
	})
	require.NoError(t, app.Register("job", noop))
	startWorker(t, app, testWorkerOptions(app))

	res, err := app.Delay(context.Background(), "job", nil)
	require.NoError(t, err)
	rec := waitResult(t, res)

	assert.Equal(t, StatusFailure, rec.Status)
	assert.Equal(t, "commit failed", rec.Error)
}

func TestWorkerPrerunErrorIsLogged(t *testing.T) {
	buf, log := logger.SetupTestLogger(t)
	emitter := events.NewInMemoryEmitter(log)
	app := NewApp(testTasksConfig(), NewMemoryBroker(10), NewMemoryBackend(time.Hour), emitter, log)
	emitter.ConnectFunc(events.TaskPrerun, func(context.Context, *events.Event) error {
		return errors.New("session unavailable")
	})
	require.NoError(t, app.Register("job", noop))
	startWorker(t, app, testWorkerOptions(app))

	res, err := app.Delay(context.Background(), "job", nil)
	require.NoError(t, err)
	rec := waitResult(t, res)

	assert.Equal(t, StatusSuccess, rec.Status, "A prerun failure does not stop the task")
	entries, err := buf.Entries()
	require.NoError(t, err)
	found := false
	for _, e := range entries {
		if e["msg"] == "task_prerun handler failed" {
			found = true
			assert.Equal(t, "WARN", e["level"])
			assert.Equal(t, "session unavailable", e["error"])
		}
	}
	assert.True(t, found, "The prerun error must be logged")
}

func TestWorkerDirectQueue(t *testing.T) {
	app := newTestApp(t, testTasksConfig())
	require.NoError(t, app.Register("job", noop))
	w := startWorker(t, app, testWorkerOptions(app))

	assert.Equal(t, []string{"celery", "w1.example.org.dq"}, w.Queues())

	res, err := app.Send(context.Background(), "job", DirectQueue(w.Hostname()), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, waitResult(t, res).Status)
}

func TestWorkerHeartbeat(t *testing.T) {
	ctx := context.Background()
	app := newTestApp(t, testTasksConfig())
	w := NewWorker(app, testWorkerOptions(app))
	require.NoError(t, w.Start(ctx))

	workers, err := app.Broker().Workers(ctx)
	require.NoError(t, err)
	require.Len(t, workers, 1)
	assert.Equal(t, "w1.example.org", workers[0].Hostname)
	assert.Equal(t, 2, workers[0].Concurrency)

	require.NoError(t, w.Stop(ctx))
	workers, err = app.Broker().Workers(ctx)
	require.NoError(t, err)
	assert.Empty(t, workers, "Stopped workers unregister")
}

func TestWorkerRecover(t *testing.T) {
	ctx := context.Background()
	app := newTestApp(t, testTasksConfig())
	require.NoError(t, app.Register("job", noop))

	mine := newTestRecord(t, "job", StatusStarted, time.Minute)
	mine.Worker = "w1.example.org"
	theirs := newTestRecord(t, "job", StatusStarted, time.Minute)
	theirs.Worker = "w2.example.org"
	require.NoError(t, app.Backend().Save(ctx, mine))
	require.NoError(t, app.Backend().Save(ctx, theirs))

	startWorker(t, app, testWorkerOptions(app))

	assert.Equal(t, StatusSuccess, waitResult(t, app.AsyncResult(mine.ID)).Status)
	rec, err := app.Result(ctx, theirs.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusStarted, rec.Status, "Tasks of other workers are left alone")
}

func TestWorkerStuckTasks(t *testing.T) {
	ctx := context.Background()
	app := newTestApp(t, testTasksConfig())
	opts := testWorkerOptions(app)
	opts.StuckTaskAge = 30 * time.Minute
	w := NewWorker(app, opts)

	stuck := newTestRecord(t, "job", StatusStarted, time.Hour)
	stuck.Worker = "w9.example.org"
	fresh := newTestRecord(t, "job", StatusStarted, time.Minute)
	require.NoError(t, app.Backend().Save(ctx, stuck))
	require.NoError(t, app.Backend().Save(ctx, fresh))

	w.checkStuckTasks(ctx)

	rec, err := app.Result(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, rec.Status)
	assert.Empty(t, rec.Worker)
	rec, err = app.Result(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusStarted, rec.Status)

	msg, err := app.Broker().Receive(ctx, []string{"celery"}, time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, stuck.ID, msg.ID, "Stuck tasks are republished")
}

func TestWorkerStopDrainsRunningTasks(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	app := newTestApp(t, testTasksConfig())
	started := make(chan struct{})
	require.NoError(t, app.Register("slow", func(context.Context, json.RawMessage) (any, error) {
		close(started)
		time.Sleep(50 * time.Millisecond)
		return "done", nil
	}))
	w := NewWorker(app, testWorkerOptions(app))
	require.NoError(t, w.Start(context.Background()))

	res, err := app.Delay(context.Background(), "slow", nil)
	require.NoError(t, err)
	<-started
	require.NoError(t, w.Stop(context.Background()))

	rec, err := res.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, rec.Status, "Stop waits for running tasks")
}

func TestWorkerRunStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	app := newTestApp(t, testTasksConfig())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewWorker(app, testWorkerOptions(app)).Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
