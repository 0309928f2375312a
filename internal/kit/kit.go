package kit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/phrazzld/kit/internal/api"
	"github.com/phrazzld/kit/internal/config"
	"github.com/phrazzld/kit/internal/database"
	"github.com/phrazzld/kit/internal/events"
	"github.com/phrazzld/kit/internal/platform/logger"
	"github.com/phrazzld/kit/internal/platform/sqlstore"
	"github.com/phrazzld/kit/internal/service/auth"
	"github.com/phrazzld/kit/internal/task"
	"github.com/phrazzld/kit/internal/telemetry"
)

// ErrComponentDisabled is returned when asking for a component the
// configuration disables.
var ErrComponentDisabled = errors.New("component is disabled")

// Hook runs once every module is loaded.
type Hook func(ctx context.Context, k *Kit) error

// Option customizes New.
type Option func(*options)

type options struct {
	debug     *bool
	logger    *slog.Logger
	brokerURL string
}

// WithDebug overrides the debug flag of the configuration file.
func WithDebug(debug bool) Option {
	return func(o *options) { o.debug = &debug }
}

// WithLogger uses l instead of the logger described by the configuration.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithBrokerURL overrides tasks.broker_url of the configuration file.
func WithBrokerURL(url string) Option {
	return func(o *options) { o.brokerURL = url }
}

// Kit holds the configuration of a project and the components built from
// it. Components are created on first use, once, and are safe to ask for
// concurrently.
type Kit struct {
	cfg       *config.Config
	logger    *slog.Logger
	logCloser io.Closer
	emitter   *events.InMemoryEmitter
	ctx       context.Context
	tracing   *telemetry.Provider

	engineOnce  sync.Once
	engine      *database.Engine
	sessions    *database.Registry
	engineErr   error
	engineReady atomic.Bool

	authOnce sync.Once
	auth     *auth.Service
	authErr  error

	webOnce sync.Once
	web     *api.App
	webErr  error

	tasksOnce  sync.Once
	tasks      *task.App
	tasksErr   error
	tasksReady atomic.Bool

	mu          sync.Mutex
	loading     bool
	loaded      bool
	hooks       []Hook
	closeOnce   sync.Once
	closeResult error
}

// New loads the configuration file at path and returns the kit it
// describes. Modules are not loaded; see LoadModules.
func New(path string, opts ...Option) (*Kit, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return NewFromConfig(cfg, opts...)
}

// NewFromConfig returns the kit described by cfg.
func NewFromConfig(cfg *config.Config, opts ...Option) (*Kit, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.debug != nil {
		cfg.Debug = *o.debug
	}
	if o.brokerURL != "" {
		cfg.Tasks.BrokerURL = o.brokerURL
	}

	k := &Kit{cfg: cfg, logger: o.logger, logCloser: nopCloser{}}
	if k.logger == nil {
		l, closer, err := logger.Setup(cfg.Log, cfg.Debug)
		if err != nil {
			return nil, fmt.Errorf("failed to set up logging: %w", err)
		}
		k.logger, k.logCloser = l, closer
	}
	k.ctx = logger.WithLogger(context.Background(), k.logger)

	tracing, err := telemetry.NewProvider(k.ctx, cfg.Telemetry, cfg.ProjectName())
	if err != nil {
		_ = k.logCloser.Close()
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}
	k.tracing = tracing

	k.emitter = events.NewInMemoryEmitter(k.logger)
	k.emitter.ConnectFunc(events.RequestTearingDown, func(ctx context.Context, _ *events.Event) error {
		return k.RemoveSession(ctx, OriginWeb)
	})
	k.emitter.ConnectFunc(events.TaskPostrun, func(ctx context.Context, _ *events.Event) error {
		return k.RemoveSession(ctx, OriginTasks)
	})

	k.logger.Debug("kit created", "path", cfg.Path, "modules", cfg.Modules)
	return k, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// String describes the kit by its configuration file.
func (k *Kit) String() string { return fmt.Sprintf("<Kit %q>", k.cfg.Path) }

// Config returns the configuration.
func (k *Kit) Config() *config.Config { return k.cfg }

// Logger returns the kit logger.
func (k *Kit) Logger() *slog.Logger { return k.logger }

// Emitter returns the emitter carrying the request, task and worker
// signals. Modules may connect their own handlers.
func (k *Kit) Emitter() *events.InMemoryEmitter { return k.emitter }

// Context returns a background context carrying the kit logger.
func (k *Kit) Context() context.Context { return k.ctx }

// LoadModules loads the configured modules in order, then runs the
// AfterModules hooks. During loading, Current returns k. Loading happens
// once; later calls return nil.
func (k *Kit) LoadModules(ctx context.Context) error {
	k.mu.Lock()
	if k.loaded || k.loading {
		k.mu.Unlock()
		return nil
	}
	k.loading = true
	k.mu.Unlock()

	err := k.loadModules(ctx)

	k.mu.Lock()
	k.loading, k.loaded = false, err == nil
	hooks := k.hooks
	k.hooks = nil
	k.mu.Unlock()

	if err != nil {
		return err
	}
	for _, h := range hooks {
		if err := h(ctx, k); err != nil {
			return fmt.Errorf("after modules hook failed: %w", err)
		}
	}
	return nil
}

func (k *Kit) loadModules(ctx context.Context) error {
	push(k)
	defer pop()

	for _, name := range k.cfg.Modules {
		m, err := lookupModule(name)
		if err != nil {
			return err
		}
		k.logger.Debug("importing module", "module", name)
		if err := m.Load(ctx, k); err != nil {
			return fmt.Errorf("failed to load module %s: %w", name, err)
		}
	}
	return nil
}

// AfterModules adds a hook run once every module is loaded. Hooks added
// after loading run immediately; their error is logged.
func (k *Kit) AfterModules(h Hook) {
	k.mu.Lock()
	if !k.loaded {
		k.hooks = append(k.hooks, h)
		k.mu.Unlock()
		return
	}
	k.mu.Unlock()
	if err := h(k.ctx, k); err != nil {
		k.logger.Error("after modules hook failed", "error", err)
	}
}

// Engine returns the database engine, connecting on first use.
func (k *Kit) Engine() (*database.Engine, error) {
	k.engineOnce.Do(func() {
		k.engine, k.engineErr = database.Open(k.ctx, k.cfg.Database, k.cfg.RootDir())
		if k.engineErr != nil {
			return
		}
		k.sessions = database.NewRegistry(k.engine)
		k.engineReady.Store(true)
		k.logger.Debug("session loaded")
	})
	return k.engine, k.engineErr
}

// Sessions returns the scoped session registry.
func (k *Kit) Sessions() (*database.Registry, error) {
	if _, err := k.Engine(); err != nil {
		return nil, err
	}
	return k.sessions, nil
}

// Session returns the session of ctx's scope.
func (k *Kit) Session(ctx context.Context) (*database.Session, error) {
	reg, err := k.Sessions()
	if err != nil {
		return nil, err
	}
	return reg.Session(ctx), nil
}

// Auth returns the user service. It can sign tokens only when auth is
// enabled.
func (k *Kit) Auth() (*auth.Service, error) {
	k.authOnce.Do(func() {
		engine, err := k.Engine()
		if err != nil {
			k.authErr = err
			return
		}
		var tokens auth.JWTService
		if k.cfg.Auth.Enabled {
			if tokens, err = auth.NewJWTService(k.cfg.Auth); err != nil {
				k.authErr = err
				return
			}
		}
		k.auth = auth.NewService(sqlstore.NewUserStore(engine), nil, tokens)
	})
	return k.auth, k.authErr
}

// Web returns the web application.
func (k *Kit) Web() (*api.App, error) {
	k.webOnce.Do(func() {
		k.web, k.webErr = k.buildWeb()
		if k.webErr == nil {
			k.logger.Debug("web app loaded")
		}
	})
	return k.web, k.webErr
}

func (k *Kit) buildWeb() (*api.App, error) {
	if k.cfg.Web.Disabled {
		return nil, fmt.Errorf("%w: web", ErrComponentDisabled)
	}
	deps := api.Deps{Emitter: k.emitter, Logger: k.logger, Ping: k.ping}
	if k.cfg.Auth.Enabled {
		svc, err := k.Auth()
		if err != nil {
			return nil, err
		}
		deps.Auth = svc
	}
	return api.NewApp(k.cfg, deps)
}

// ping checks the database once it is in use.
func (k *Kit) ping(ctx context.Context) error {
	if !k.engineReady.Load() {
		return nil
	}
	return k.engine.Ping(ctx)
}

// Tasks returns the task application.
func (k *Kit) Tasks() (*task.App, error) {
	k.tasksOnce.Do(func() {
		k.tasks, k.tasksErr = k.buildTasks()
		if k.tasksErr == nil {
			k.tasksReady.Store(true)
			k.logger.Debug("task app loaded")
		}
	})
	return k.tasks, k.tasksErr
}

func (k *Kit) buildTasks() (*task.App, error) {
	cfg := k.cfg.Tasks
	if cfg.Disabled {
		return nil, fmt.Errorf("%w: tasks", ErrComponentDisabled)
	}
	broker, err := task.NewBroker(cfg.BrokerURL, cfg.QueueSize)
	if err != nil {
		return nil, err
	}
	backend, err := k.newBackend()
	if err != nil {
		_ = broker.Close()
		return nil, err
	}
	return task.NewApp(cfg, broker, backend, k.emitter, k.logger), nil
}

// newBackend returns the result backend. The database backend stores
// results in kit_tasks, except on a private in-memory database that other
// processes could not read anyway and whose only connection belongs to the
// sessions.
func (k *Kit) newBackend() (task.Backend, error) {
	cfg := k.cfg.Tasks
	if cfg.ResultBackend != task.DatabaseBackend {
		return task.NewBackend(cfg.ResultBackend, k.cfg.RootDir(), cfg.ResultExpires)
	}
	engine, err := k.Engine()
	if err != nil {
		return nil, err
	}
	if engine.InMemory() {
		k.logger.Warn("in-memory database, keeping task results in memory")
		return task.NewMemoryBackend(cfg.ResultExpires), nil
	}
	return sqlstore.NewTaskBackend(engine), nil
}

// WorkerHostname names a new worker of domain after the live workers:
// w<N>.<domain> with the smallest free N.
func (k *Kit) WorkerHostname(ctx context.Context, domain string) (string, error) {
	app, err := k.Tasks()
	if err != nil {
		return "", err
	}
	live, err := app.Broker().Workers(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to ping workers: %w", err)
	}
	names := make([]string, 0, len(live))
	for _, w := range live {
		names = append(names, w.Hostname)
	}
	return task.WorkerHostname(task.NextWorkerNumber(names, domain), domain), nil
}

// WatchConfig logs every change of the configuration file. Changes need a
// restart to apply.
func (k *Kit) WatchConfig() error {
	if k.cfg.Path == "" {
		return nil
	}
	return config.Watch(k.cfg.Path, func(cfg *config.Config, err error) {
		if err != nil {
			k.logger.Error("configuration file changed but is invalid", "path", k.cfg.Path, "error", err)
			return
		}
		k.logger.Info("configuration file changed, restart to apply",
			"path", cfg.Path, "modules", cfg.Modules)
	})
}

// Close releases every component that was built.
func (k *Kit) Close() error {
	k.closeOnce.Do(func() {
		var errs []error
		if k.tasksReady.Load() {
			errs = append(errs, k.tasks.Close())
		}
		if k.engineReady.Load() {
			errs = append(errs, k.sessions.Close(), k.engine.Close())
		}
		errs = append(errs, k.tracing.Shutdown(context.Background()), k.logCloser.Close())
		k.closeResult = errors.Join(errs...)
	})
	return k.closeResult
}
