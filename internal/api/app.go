package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/kit/internal/api/middleware"
	"github.com/phrazzld/kit/internal/api/shared"
	"github.com/phrazzld/kit/internal/config"
	"github.com/phrazzld/kit/internal/events"
	"github.com/phrazzld/kit/internal/service/auth"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultStaticURL is where static files are served when static_url is
// not configured.
const DefaultStaticURL = "/static"

// Deps holds the collaborators of the web application.
type Deps struct {
	// Emitter receives request_tearing_down after every request. Required.
	Emitter events.Emitter

	// Logger is the base request logger. Defaults to slog.Default().
	Logger *slog.Logger

	// Auth enables the /auth routes when auth is enabled in the config.
	Auth *auth.Service

	// Ping reports the health of the database for /health. Optional.
	Ping func(ctx context.Context) error
}

// App is the web application. Module routes are registered through the
// forwarding methods (Get, Post, Route, Group, ...), which follow chi
// semantics: Use must be called before the first route.
type App struct {
	cfg       *config.Config
	logger    *slog.Logger
	emitter   events.Emitter
	auth      *auth.Service
	authMW    *middleware.AuthMiddleware
	ping      func(ctx context.Context) error
	staticURL string

	root    *chi.Mux
	routes  *chi.Mux
	handler http.Handler

	templates *templateSet
}

// NewApp builds the web application described by cfg.Web.
func NewApp(cfg *config.Config, deps Deps) (*App, error) {
	if cfg == nil {
		return nil, errors.New("api: nil config")
	}
	if deps.Emitter == nil {
		return nil, errors.New("api: nil emitter")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.Auth.Enabled && (deps.Auth == nil || deps.Auth.Tokens() == nil) {
		return nil, errors.New("api: auth is enabled but no auth service was provided")
	}

	a := &App{
		cfg:       cfg,
		logger:    deps.Logger.With("component", "web"),
		emitter:   deps.Emitter,
		ping:      deps.Ping,
		staticURL: staticURL(cfg.Web.StaticURL),
		root:      chi.NewRouter(),
		routes:    chi.NewRouter(),
	}
	if cfg.Auth.Enabled {
		a.auth = deps.Auth
		a.authMW = middleware.NewAuthMiddleware(deps.Auth.Tokens())
	}
	a.templates = newTemplateSet(
		resolveDir(cfg.RootDir(), cfg.Web.TemplateFolder),
		cfg.Debug,
		a.templateFuncs(),
	)

	a.mountMiddleware()
	a.mountRoutes()
	a.handler = middleware.OTelHTTP(cfg.Web.Name)(a.root)
	return a, nil
}

func (a *App) mountMiddleware() {
	r := a.root
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewTraceMiddleware(a.logger))
	r.Use(chimw.RequestLogger(&chimw.DefaultLogFormatter{
		Logger:  slog.NewLogLogger(a.logger.Handler(), slog.LevelInfo),
		NoColor: true,
	}))
	r.Use(middleware.Metrics)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Teardown(a.emitter, a.cfg.Web.Name))
	if rl := a.cfg.Web.RateLimit; rl.Requests > 0 {
		r.Use(middleware.RateLimit(rl.Requests, rl.Window))
	}
	if a.authMW != nil {
		r.Use(a.authMW.Authenticate)
	}
}

func (a *App) mountRoutes() {
	r := a.root
	r.Get("/health", a.health)
	r.Handle("/metrics", promhttp.Handler())

	if strings.HasPrefix(a.staticURL, "/") {
		dir := resolveDir(a.cfg.RootDir(), a.cfg.Web.StaticFolder)
		r.Handle(a.staticURL+"/*", http.StripPrefix(a.staticURL, http.FileServer(http.Dir(dir))))
	}

	if a.auth != nil {
		r.Post("/auth/login", a.login)
		r.Post("/auth/logout", a.logout)
		r.With(a.authMW.RequireUser).Get("/auth/me", a.me)
	}

	r.Mount("/", a.routes)
}

// staticURL trims the trailing slash of the configured URL.
func staticURL(configured string) string {
	if configured == "" {
		return DefaultStaticURL
	}
	if u := strings.TrimRight(configured, "/"); u != "" {
		return u
	}
	return DefaultStaticURL
}

// resolveDir resolves a folder relative to the module root.
func resolveDir(root, dir string) string {
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(root, dir)
}

func (a *App) health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}
	if a.ping != nil {
		if err := a.ping(r.Context()); err != nil {
			resp.Status, resp.Database = "unavailable", "unreachable"
			shared.RespondWithErrorAndLog(w, r, http.StatusServiceUnavailable, "Database unavailable", err)
			return
		}
		resp.Database = "ok"
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// Name returns the configured application name.
func (a *App) Name() string { return a.cfg.Web.Name }

// Config returns the kit configuration.
func (a *App) Config() *config.Config { return a.cfg }

// Logger returns the web logger.
func (a *App) Logger() *slog.Logger { return a.logger }

// StaticURL returns the URL prefix of static files.
func (a *App) StaticURL() string { return a.staticURL }

// ServeHTTP makes App an http.Handler.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.handler.ServeHTTP(w, r)
}

// Handler returns the instrumented root handler.
func (a *App) Handler() http.Handler { return a.handler }

// Router returns the router modules register their routes on.
func (a *App) Router() chi.Router { return a.routes }

// Use appends middleware to the module routes.
func (a *App) Use(middlewares ...func(http.Handler) http.Handler) {
	a.routes.Use(middlewares...)
}

// With returns a router applying the extra middlewares to its routes.
func (a *App) With(middlewares ...func(http.Handler) http.Handler) chi.Router {
	return a.routes.With(middlewares...)
}

// Get registers a GET route.
func (a *App) Get(pattern string, h http.HandlerFunc) { a.routes.Get(pattern, h) }

// Post registers a POST route.
func (a *App) Post(pattern string, h http.HandlerFunc) { a.routes.Post(pattern, h) }

// Put registers a PUT route.
func (a *App) Put(pattern string, h http.HandlerFunc) { a.routes.Put(pattern, h) }

// Patch registers a PATCH route.
func (a *App) Patch(pattern string, h http.HandlerFunc) { a.routes.Patch(pattern, h) }

// Delete registers a DELETE route.
func (a *App) Delete(pattern string, h http.HandlerFunc) { a.routes.Delete(pattern, h) }

// Handle registers h for every method on pattern.
func (a *App) Handle(pattern string, h http.Handler) { a.routes.Handle(pattern, h) }

// HandleFunc registers fn for every method on pattern.
func (a *App) HandleFunc(pattern string, fn http.HandlerFunc) { a.routes.HandleFunc(pattern, fn) }

// Route mounts a sub-router built by fn on pattern.
func (a *App) Route(pattern string, fn func(r chi.Router)) chi.Router {
	return a.routes.Route(pattern, fn)
}

// Group adds an inline group of routes sharing middlewares.
func (a *App) Group(fn func(r chi.Router)) chi.Router { return a.routes.Group(fn) }

// Mount attaches h under pattern.
func (a *App) Mount(pattern string, h http.Handler) { a.routes.Mount(pattern, h) }

// RequireUser returns the middleware rejecting anonymous requests. When
// auth is disabled every request is rejected.
func (a *App) RequireUser() func(http.Handler) http.Handler {
	if a.authMW != nil {
		return a.authMW.RequireUser
	}
	return func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Authentication is disabled")
		})
	}
}

// Routes lists the registered routes, sorted as chi walks them.
func (a *App) Routes() ([]Route, error) {
	var routes []Route
	walk := func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		route = strings.ReplaceAll(route, "/*/", "/")
		if route != "/" {
			route = strings.TrimSuffix(route, "/")
		}
		routes = append(routes, Route{Method: method, Pattern: path.Clean(route)})
		return nil
	}
	if err := chi.Walk(a.root, walk); err != nil {
		return nil, fmt.Errorf("failed to walk routes: %w", err)
	}
	return routes, nil
}
