package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phrazzld/kit/internal/config"
	"github.com/phrazzld/kit/internal/database"
	"github.com/phrazzld/kit/internal/events"
	"github.com/phrazzld/kit/internal/metrics"
	"github.com/phrazzld/kit/internal/platform/logger"
	"github.com/phrazzld/kit/internal/store"
	"github.com/phrazzld/kit/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/phrazzld/kit/internal/task"

// WorkerOptions configures a Worker.
type WorkerOptions struct {
	Hostname string

	// Queues are consumed in order of priority.
	Queues []string

	Concurrency        int
	PrefetchMultiplier int

	// Beat embeds the periodic task scheduler.
	Beat bool

	HeartbeatInterval time.Duration

	// StuckTaskAge is how long a task may stay started before the monitor
	// requeues it. Zero disables the monitor.
	StuckTaskAge       time.Duration
	StuckCheckInterval time.Duration

	// ResultExpires is passed to backends implementing Purger.
	ResultExpires time.Duration

	// ReceiveTimeout bounds every broker wait so that Stop is noticed.
	ReceiveTimeout time.Duration
}

// DefaultWorkerOptions derives the options of worker hostname from the
// configuration: the default queue, plus the direct queue when
// worker_direct is on.
func DefaultWorkerOptions(cfg config.TasksConfig, hostname string) WorkerOptions {
	queues := []string{cfg.DefaultQueue}
	if cfg.WorkerDirect {
		queues = append(queues, DirectQueue(hostname))
	}
	return WorkerOptions{
		Hostname:           hostname,
		Queues:             queues,
		Concurrency:        cfg.Concurrency,
		PrefetchMultiplier: cfg.PrefetchMultiplier,
		HeartbeatInterval:  cfg.HeartbeatInterval,
		StuckTaskAge:       cfg.StuckTaskAge,
		ResultExpires:      cfg.ResultExpires,
	}
}

// Worker consumes queues and runs the tasks of an App.
type Worker struct {
	app    *App
	opts   WorkerOptions
	logger *slog.Logger

	jobs chan *Message

	// baseCtx is not cancelled by Stop so that in-flight tasks finish.
	baseCtx     context.Context
	fetchCtx    context.Context
	stopFetch   context.CancelFunc
	loopsCtx    context.Context
	stopLoops   context.CancelFunc
	fetchWG     sync.WaitGroup
	processWG   sync.WaitGroup
	loopsWG     sync.WaitGroup
	startedAt   time.Time
	active      atomic.Int32
	processed   atomic.Int64
	inFlight    sync.Map
	startOnce   sync.Once
	stopOnce    sync.Once
	startCalled atomic.Bool
}

// NewWorker returns a worker for app. Zero options get defaults.
func NewWorker(app *App, opts WorkerOptions) *Worker {
	if opts.Hostname == "" {
		opts.Hostname = "w1.localhost"
	}
	if len(opts.Queues) == 0 {
		opts.Queues = []string{app.cfg.DefaultQueue}
	}
	if opts.Concurrency <= 0 {
		app.logger.Warn("invalid worker concurrency specified, using default",
			"specified_count", opts.Concurrency,
			"default_count", 1)
		opts.Concurrency = 1
	}
	if opts.PrefetchMultiplier <= 0 {
		opts.PrefetchMultiplier = 1
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 5 * time.Second
	}
	if opts.StuckCheckInterval <= 0 {
		opts.StuckCheckInterval = 5 * time.Minute
	}
	if opts.ReceiveTimeout <= 0 {
		opts.ReceiveTimeout = time.Second
	}

	return &Worker{
		app:    app,
		opts:   opts,
		logger: app.logger.With("worker", opts.Hostname),
		jobs:   make(chan *Message, opts.Concurrency*opts.PrefetchMultiplier),
	}
}

// Hostname returns the worker name.
func (w *Worker) Hostname() string { return w.opts.Hostname }

// Queues returns the consumed queues.
func (w *Worker) Queues() []string { return append([]string(nil), w.opts.Queues...) }

// Info returns what the worker announces in its heartbeats.
func (w *Worker) Info() WorkerInfo {
	return WorkerInfo{
		Hostname:    w.opts.Hostname,
		Queues:      w.Queues(),
		Concurrency: w.opts.Concurrency,
		Active:      int(w.active.Load()),
		Processed:   w.processed.Load(),
		StartedAt:   w.startedAt,
	}
}

// Run starts the worker and stops it gracefully when ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return w.Stop(context.WithoutCancel(ctx))
}

// Start recovers the tasks a previous worker of the same hostname left
// started, then starts consuming. It returns immediately.
func (w *Worker) Start(ctx context.Context) error {
	var err error
	w.startOnce.Do(func() {
		w.startCalled.Store(true)
		w.baseCtx = context.WithoutCancel(ctx)
		w.fetchCtx, w.stopFetch = context.WithCancel(w.baseCtx)
		w.loopsCtx, w.stopLoops = context.WithCancel(w.baseCtx)
		w.startedAt = time.Now().UTC()

		if _, rerr := w.Recover(ctx); rerr != nil {
			err = fmt.Errorf("failed to recover tasks: %w", rerr)
			return
		}

		for i := 0; i < w.opts.Concurrency; i++ {
			w.processWG.Add(1)
			go w.processLoop(i)
		}

		w.fetchWG.Add(1)
		go w.fetchLoop()

		w.heartbeat()
		w.goLoop(w.heartbeatLoop)
		if w.opts.StuckTaskAge > 0 {
			w.goLoop(w.stuckTaskMonitor)
		}
		if w.opts.Beat {
			w.goLoop(func() {
				if err := NewScheduler(w.app).Run(w.loopsCtx); err != nil {
					w.logger.Error("beat stopped", "error", err)
				}
			})
		}

		w.logger.Info("worker ready",
			"queues", w.opts.Queues,
			"concurrency", w.opts.Concurrency,
			"beat", w.opts.Beat)
		w.emit(w.baseCtx, events.NewEvent(events.WorkerReady, w.opts.Hostname))
	})
	return err
}

// Stop stops fetching, lets the fetched and running tasks finish, then
// stops the background loops and unregisters the worker.
func (w *Worker) Stop(ctx context.Context) error {
	if !w.startCalled.Load() {
		return nil
	}
	var err error
	w.stopOnce.Do(func() {
		w.logger.Info("worker stopping", "active", w.active.Load())
		w.stopFetch()
		w.fetchWG.Wait()
		close(w.jobs)
		w.processWG.Wait()

		w.stopLoops()
		w.loopsWG.Wait()

		err = w.app.broker.Unregister(ctx, w.opts.Hostname)
		w.emit(ctx, events.NewEvent(events.WorkerShutdown, w.opts.Hostname))
		w.logger.Info("worker stopped", "processed", w.processed.Load())
	})
	return err
}

func (w *Worker) goLoop(fn func()) {
	w.loopsWG.Add(1)
	go func() {
		defer w.loopsWG.Done()
		fn()
	}()
}

func (w *Worker) emit(ctx context.Context, event *events.Event) error {
	return w.app.emitter.Emit(ctx, event)
}

// Recover requeues the tasks recorded as started by this hostname, which a
// crashed or killed worker left behind. It returns how many were requeued.
func (w *Worker) Recover(ctx context.Context) (int, error) {
	started, err := w.app.backend.ByStatus(ctx, StatusStarted, 0)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, rec := range started {
		if rec.Worker != w.opts.Hostname {
			continue
		}
		if err := w.requeue(ctx, rec, "requeued after worker restart"); err != nil {
			w.logger.Error("failed to requeue unfinished task", "task_id", rec.ID, "task", rec.Name, "error", err)
			continue
		}
		n++
	}
	if n > 0 {
		w.logger.Info("recovered unfinished tasks", "count", n)
	}
	return n, nil
}

func (w *Worker) requeue(ctx context.Context, rec *Record, reason string) error {
	rec.Status = StatusPending
	rec.Error = reason
	rec.Worker = ""
	rec.UpdatedAt = time.Now().UTC()
	if err := w.app.backend.Save(ctx, rec); err != nil {
		return err
	}
	return w.app.broker.Publish(ctx, rec.Queue, rec.Message())
}

func (w *Worker) fetchLoop() {
	defer w.fetchWG.Done()
	ctx := w.fetchCtx

	for ctx.Err() == nil {
		msg, err := w.app.broker.Receive(ctx, w.opts.Queues, w.opts.ReceiveTimeout)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrQueueClosed) {
				return
			}
			w.logger.Error("failed to receive task", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if msg == nil {
			continue
		}

		select {
		case w.jobs <- msg:
		case <-ctx.Done():
			// hand the message back rather than lose it
			if err := w.app.broker.Publish(w.baseCtx, msg.Queue, msg); err != nil {
				w.logger.Error("failed to give back task on shutdown", "task_id", msg.ID, "error", err)
			}
			return
		}
	}
}

func (w *Worker) processLoop(id int) {
	defer w.processWG.Done()
	w.logger.Debug("starting process loop", "process_id", id)
	for msg := range w.jobs {
		w.process(msg)
	}
}

// process runs one task in its own session scope.
func (w *Worker) process(msg *Message) {
	start := time.Now()
	log := w.logger.With("task", msg.Name, "task_id", msg.ID)
	ctx := database.NewScope(logger.WithLogger(w.baseCtx, log))
	ctx, span := telemetry.Tracer(tracerName).Start(ctx, "task "+msg.Name,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(telemetry.TaskAttributes(msg.ID, msg.Name, msg.Queue, w.opts.Hostname, msg.Retries)...))
	defer span.End()

	w.inFlight.Store(msg.ID, struct{}{})
	w.active.Add(1)
	metrics.TasksActive.Inc()
	defer func() {
		w.inFlight.Delete(msg.ID)
		w.active.Add(-1)
		w.processed.Add(1)
		metrics.TasksActive.Dec()
	}()

	rec, err := w.app.backend.Get(ctx, msg.ID)
	if err != nil {
		if !errors.Is(err, store.ErrTaskNotFound) {
			log.Error("failed to read task record", "error", err)
		}
		rec = NewRecord(msg)
	}
	rec.Status = StatusStarted
	rec.Worker = w.opts.Hostname
	rec.Retries = msg.Retries
	rec.Error = ""
	rec.UpdatedAt = time.Now().UTC()
	if err := w.app.backend.Save(ctx, rec); err != nil {
		log.Error("failed to record task start", "error", err)
	}

	reg, known := w.app.lookup(msg.Name)

	pre := events.NewEvent(events.TaskPrerun, msg.Name)
	pre.TaskID, pre.State = msg.ID, string(StatusStarted)
	if err := w.emit(ctx, pre); err != nil {
		log.Warn("task_prerun handler failed", "error", err)
	}

	log.Info("processing task", "retries", msg.Retries)
	var result any
	var runErr error
	if known {
		result, runErr = w.execute(ctx, reg.handler, msg)
	} else {
		runErr = fmt.Errorf("%w: %s", ErrUnknownTask, msg.Name)
	}

	var raw json.RawMessage
	if runErr == nil && result != nil {
		if raw, err = json.Marshal(result); err != nil {
			runErr = fmt.Errorf("failed to encode result: %w", err)
		}
	}

	post := events.NewEvent(events.TaskPostrun, msg.Name)
	post.TaskID, post.Err = msg.ID, runErr
	post.State = string(StatusSuccess)
	if runErr != nil {
		post.State = string(StatusFailure)
	}
	if err := w.emit(ctx, post); err != nil && runErr == nil {
		runErr = err
	}

	state := StatusSuccess
	switch {
	case runErr == nil:
		rec.Result = raw
	case known && msg.Retries < reg.maxRetries:
		state = StatusRetry
		rec.Error = runErr.Error()
	default:
		state = StatusFailure
		rec.Error = runErr.Error()
	}
	rec.Status = state
	rec.UpdatedAt = time.Now().UTC()
	span.SetAttributes(attribute.String(telemetry.TaskStatusKey, string(state)))
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
	}
	if err := w.app.backend.Save(ctx, rec); err != nil {
		log.Error("failed to record task result", "status", state, "error", err)
	}

	if state == StatusRetry {
		next := *msg
		next.Retries++
		if err := w.app.broker.Publish(ctx, next.Queue, &next); err != nil {
			log.Error("failed to publish retry", "error", err)
		}
	}

	elapsed := time.Since(start)
	metrics.TasksTotal.WithLabelValues(msg.Name, string(state)).Inc()
	metrics.TaskDuration.WithLabelValues(msg.Name).Observe(elapsed.Seconds())
	if runErr != nil {
		log.Error("task execution failed", "status", state, "error", runErr, "duration_ms", elapsed.Milliseconds())
		return
	}
	log.Info("task completed successfully", "duration_ms", elapsed.Milliseconds())
}

// execute runs h, turning a panic into an error.
func (w *Worker) execute(ctx context.Context, h Handler, msg *Message) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			logger.FromContext(ctx).Error("task panicked",
				"panic", p,
				"stack", string(debug.Stack()))
			err = fmt.Errorf("task panicked: %v", p)
		}
	}()
	return h(ctx, msg.Payload)
}

func (w *Worker) heartbeat() {
	ttl := 3 * w.opts.HeartbeatInterval
	if err := w.app.broker.Heartbeat(w.loopsCtx, w.Info(), ttl); err != nil && w.loopsCtx.Err() == nil {
		w.logger.Warn("failed to send heartbeat", "error", err)
	}
}

func (w *Worker) heartbeatLoop() {
	ticker := time.NewTicker(w.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.loopsCtx.Done():
			return
		case <-ticker.C:
			w.heartbeat()
		}
	}
}

// stuckTaskMonitor periodically requeues tasks started longer than
// StuckTaskAge ago by any worker, except the ones running here, and purges
// expired results.
func (w *Worker) stuckTaskMonitor() {
	ticker := time.NewTicker(w.opts.StuckCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.loopsCtx.Done():
			return
		case <-ticker.C:
			w.checkStuckTasks(w.loopsCtx)
		}
	}
}

func (w *Worker) checkStuckTasks(ctx context.Context) {
	stuck, err := w.app.backend.ByStatus(ctx, StatusStarted, w.opts.StuckTaskAge)
	if err != nil {
		w.logger.Error("failed to check for stuck tasks", "error", err)
		return
	}
	for _, rec := range stuck {
		if _, running := w.inFlight.Load(rec.ID); running {
			continue
		}
		if err := w.requeue(ctx, rec, "requeued after being stuck in started state"); err != nil {
			w.logger.Error("failed to requeue stuck task", "task_id", rec.ID, "task", rec.Name, "error", err)
			continue
		}
		w.logger.Info("requeued stuck task", "task_id", rec.ID, "task", rec.Name)
	}

	if p, ok := w.app.backend.(Purger); ok && w.opts.ResultExpires > 0 {
		n, err := p.Purge(ctx, time.Now().Add(-w.opts.ResultExpires))
		if err != nil {
			w.logger.Error("failed to purge expired results", "error", err)
		} else if n > 0 {
			w.logger.Debug("purged expired results", "count", n)
		}
	}
}
