package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/phrazzld/kit/internal/config"
	"github.com/phrazzld/kit/internal/events"
	"github.com/phrazzld/kit/internal/metrics"
)

// registration is a registered task.
type registration struct {
	name       string
	handler    Handler
	queue      string
	maxRetries int
	every      time.Duration
}

// Option configures a registered task.
type Option func(*registration)

// WithQueue routes the task to queue instead of the default queue.
func WithQueue(queue string) Option {
	return func(r *registration) { r.queue = queue }
}

// WithMaxRetries sets how many times a failed run is retried.
func WithMaxRetries(n int) Option {
	return func(r *registration) { r.maxRetries = n }
}

// PeriodicTask describes a task published by the scheduler.
type PeriodicTask struct {
	Name  string
	Queue string
	Every time.Duration
}

// App is the task application: the registry of named handlers plus the
// broker and result backend they are sent through.
type App struct {
	cfg     config.TasksConfig
	broker  Broker
	backend Backend
	emitter events.Emitter
	logger  *slog.Logger

	mu    sync.RWMutex
	tasks map[string]*registration
}

// NewApp returns a task application. emitter receives the task and worker
// signals and may be nil.
func NewApp(cfg config.TasksConfig, broker Broker, backend Backend, emitter events.Emitter, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	if emitter == nil {
		emitter = events.NewInMemoryEmitter(logger)
	}
	return &App{
		cfg:     cfg,
		broker:  broker,
		backend: backend,
		emitter: emitter,
		logger:  logger.With("component", "tasks"),
		tasks:   make(map[string]*registration),
	}
}

// Config returns the tasks configuration.
func (a *App) Config() config.TasksConfig { return a.cfg }

// Broker returns the message broker.
func (a *App) Broker() Broker { return a.broker }

// Backend returns the result backend.
func (a *App) Backend() Backend { return a.backend }

// Emitter returns the signal emitter.
func (a *App) Emitter() events.Emitter { return a.emitter }

// Register adds a task. Names are unique.
func (a *App) Register(name string, h Handler, opts ...Option) error {
	return a.register(name, 0, h, opts)
}

// Periodic adds a task the scheduler publishes every interval.
func (a *App) Periodic(name string, every time.Duration, h Handler, opts ...Option) error {
	if every <= 0 {
		return fmt.Errorf("periodic task %s: interval must be positive", name)
	}
	return a.register(name, every, h, opts)
}

func (a *App) register(name string, every time.Duration, h Handler, opts []Option) error {
	if name == "" || h == nil {
		return errors.New("task name and handler are required")
	}
	r := &registration{
		name:       name,
		handler:    h,
		queue:      a.cfg.DefaultQueue,
		maxRetries: a.cfg.MaxRetries,
		every:      every,
	}
	for _, opt := range opts {
		opt(r)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.tasks[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, name)
	}
	a.tasks[name] = r
	a.logger.Debug("registered task", "task", name, "queue", r.queue, "every", every)
	return nil
}

func (a *App) lookup(name string) (*registration, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	r, ok := a.tasks[name]
	return r, ok
}

// Names returns the registered task names, sorted.
func (a *App) Names() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, 0, len(a.tasks))
	for name := range a.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PeriodicTasks returns the periodic tasks, sorted by name.
func (a *App) PeriodicTasks() []PeriodicTask {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []PeriodicTask
	for _, r := range a.tasks {
		if r.every > 0 {
			out = append(out, PeriodicTask{Name: r.name, Queue: r.queue, Every: r.every})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Delay sends a registered task to its queue.
func (a *App) Delay(ctx context.Context, name string, payload any) (*AsyncResult, error) {
	r, ok := a.lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	return a.Send(ctx, name, r.queue, payload)
}

// Send publishes a task to queue. The task does not need to be registered
// in this process.
func (a *App) Send(ctx context.Context, name, queue string, payload any) (*AsyncResult, error) {
	if queue == "" {
		queue = a.cfg.DefaultQueue
	}
	msg, err := NewMessage(name, queue, payload)
	if err != nil {
		return nil, err
	}
	if err := a.publish(ctx, msg); err != nil {
		return nil, err
	}
	return a.AsyncResult(msg.ID), nil
}

// publish records msg as pending and hands it to the broker.
func (a *App) publish(ctx context.Context, msg *Message) error {
	rec := NewRecord(msg)
	if err := a.backend.Save(ctx, rec); err != nil {
		return fmt.Errorf("failed to record task %s: %w", msg.Name, err)
	}

	if err := a.broker.Publish(ctx, msg.Queue, msg); err != nil {
		rec.Status = StatusFailure
		rec.Error = err.Error()
		rec.UpdatedAt = time.Now().UTC()
		if saveErr := a.backend.Save(ctx, rec); saveErr != nil {
			a.logger.Error("failed to record publish failure", "task_id", msg.ID, "error", saveErr)
		}
		return fmt.Errorf("failed to publish task %s: %w", msg.Name, err)
	}

	metrics.TasksPublishedTotal.WithLabelValues(msg.Name).Inc()
	a.logger.Debug("task published", "task", msg.Name, "task_id", msg.ID, "queue", msg.Queue)
	return nil
}

// Result returns the current record of a task.
func (a *App) Result(ctx context.Context, id string) (*Record, error) {
	return a.backend.Get(ctx, id)
}

// AsyncResult returns a handle on the task id.
func (a *App) AsyncResult(id string) *AsyncResult {
	return &AsyncResult{ID: id, app: a}
}

// Close closes the broker and the backend.
func (a *App) Close() error {
	return errors.Join(a.broker.Close(), a.backend.Close())
}

// AsyncResult is a handle on a sent task.
type AsyncResult struct {
	ID  string
	app *App
}

// Get returns the current record.
func (r *AsyncResult) Get(ctx context.Context) (*Record, error) {
	return r.app.Result(ctx, r.ID)
}

// Wait polls the backend every interval until the task is finished or ctx
// is done.
func (r *AsyncResult) Wait(ctx context.Context, interval time.Duration) (*Record, error) {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		rec, err := r.Get(ctx)
		if err != nil {
			return nil, err
		}
		if rec.Status.Ready() {
			return rec, nil
		}
		select {
		case <-ctx.Done():
			return rec, ctx.Err()
		case <-ticker.C:
		}
	}
}
