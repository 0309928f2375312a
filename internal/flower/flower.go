// Package flower implements the task monitoring dashboard: an HTML
// overview plus a small JSON API over the broker and the result backend.
package flower

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/kit/internal/api"
	"github.com/phrazzld/kit/internal/api/middleware"
	"github.com/phrazzld/kit/internal/api/shared"
	"github.com/phrazzld/kit/internal/metrics"
	"github.com/phrazzld/kit/internal/store"
	"github.com/phrazzld/kit/internal/task"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultPort is the port the dashboard listens on when none is given.
const DefaultPort = 5555

const (
	defaultTaskLimit = 50
	maxTaskLimit     = 1000
	maxPayloadBytes  = 1 << 20
)

// QueueInfo is the number of messages waiting in a queue.
type QueueInfo struct {
	Name   string `json:"name"`
	Length int    `json:"length"`
}

// ApplyResponse is returned when a task is sent from the dashboard.
type ApplyResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Queue string `json:"queue"`
}

// Dashboard serves the monitoring pages of a task application.
type Dashboard struct {
	app    *task.App
	logger *slog.Logger
	router *chi.Mux
}

// New returns the dashboard of app.
func New(app *task.App, logger *slog.Logger) *Dashboard {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dashboard{
		app:    app,
		logger: logger.With("component", "flower"),
		router: chi.NewRouter(),
	}

	r := d.router
	r.Use(chimw.RequestID)
	r.Use(middleware.NewTraceMiddleware(d.logger))
	r.Use(middleware.Metrics)
	r.Use(chimw.Recoverer)

	r.Get("/", d.overview)
	r.Route("/api", func(r chi.Router) {
		r.Get("/workers", d.workers)
		r.Get("/queues", d.queues)
		r.Get("/tasks", d.tasks)
		r.Get("/tasks/{id}", d.task)
		r.Post("/tasks/{name}/apply", d.apply)
	})
	r.Handle("/metrics", d.refreshing(promhttp.Handler()))
	return d
}

// ServeHTTP makes Dashboard an http.Handler.
func (d *Dashboard) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.router.ServeHTTP(w, r)
}

// ListenAndServe serves the dashboard on addr until ctx is canceled or the
// process is interrupted.
func (d *Dashboard) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return api.Serve(ctx, ln, middleware.OTelHTTP("flower")(d), d.logger)
}

// Refresh updates the worker and queue gauges.
func (d *Dashboard) Refresh(ctx context.Context) ([]task.WorkerInfo, []QueueInfo, error) {
	broker := d.app.Broker()
	workers, err := broker.Workers(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list workers: %w", err)
	}
	lengths, err := broker.QueueLengths(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read queue lengths: %w", err)
	}

	sort.Slice(workers, func(i, j int) bool { return workers[i].Hostname < workers[j].Hostname })
	queues := make([]QueueInfo, 0, len(lengths))
	for name, n := range lengths {
		queues = append(queues, QueueInfo{Name: name, Length: n})
	}
	sort.Slice(queues, func(i, j int) bool { return queues[i].Name < queues[j].Name })

	metrics.WorkersOnline.Set(float64(len(workers)))
	// drained redis queues disappear from the lengths
	metrics.QueueLength.Reset()
	for _, q := range queues {
		metrics.QueueLength.WithLabelValues(q.Name).Set(float64(q.Length))
	}
	return workers, queues, nil
}

func (d *Dashboard) refreshing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, _, err := d.Refresh(r.Context()); err != nil {
			d.logger.Warn("failed to refresh gauges", "error", err)
		}
		next.ServeHTTP(w, r)
	})
}

func (d *Dashboard) workers(w http.ResponseWriter, r *http.Request) {
	workers, _, err := d.Refresh(r.Context())
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadGateway, "Broker unavailable", err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, workers)
}

func (d *Dashboard) queues(w http.ResponseWriter, r *http.Request) {
	_, queues, err := d.Refresh(r.Context())
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadGateway, "Broker unavailable", err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, queues)
}

func (d *Dashboard) tasks(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	recs, err := d.app.Backend().List(r.Context(), opts)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Failed to list tasks", err)
		return
	}
	if recs == nil {
		recs = []*task.Record{}
	}
	shared.RespondWithJSON(w, r, http.StatusOK, recs)
}

func listOptions(r *http.Request) (task.ListOptions, error) {
	var opts task.ListOptions
	if state := r.URL.Query().Get("state"); state != "" {
		status, err := task.ParseStatus(state)
		if err != nil {
			return opts, err
		}
		opts.Status = status
	}
	opts.Name = r.URL.Query().Get("name")
	limit, err := api.QueryInt(r, "limit", defaultTaskLimit, 1, maxTaskLimit)
	if err != nil {
		return opts, err
	}
	opts.Limit = limit
	return opts, nil
}

func (d *Dashboard) task(w http.ResponseWriter, r *http.Request) {
	rec, err := d.app.Result(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		shared.RespondWithError(w, r, http.StatusNotFound, "Task not found")
		return
	}
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Failed to read task", err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, rec)
}

// apply sends the task name with the request body as payload, to the
// queue query parameter or the default queue.
func (d *Dashboard) apply(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusRequestEntityTooLarge, "Payload too large")
		return
	}
	var payload any
	if len(body) > 0 {
		if !json.Valid(body) {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Payload must be JSON")
			return
		}
		payload = json.RawMessage(body)
	}

	name := chi.URLParam(r, "name")
	queue := r.URL.Query().Get("queue")
	if queue == "" {
		queue = d.app.Config().DefaultQueue
	}
	res, err := d.app.Send(r.Context(), name, queue, payload)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadGateway, "Failed to send task", err)
		return
	}
	d.logger.Info("task sent from dashboard", "task", name, "task_id", res.ID, "queue", queue)
	shared.RespondWithJSON(w, r, http.StatusAccepted, ApplyResponse{ID: res.ID, Name: name, Queue: queue})
}

type overviewData struct {
	Workers []task.WorkerInfo
	Queues  []QueueInfo
	Tasks   []*task.Record
	Now     time.Time
}

func (d *Dashboard) overview(w http.ResponseWriter, r *http.Request) {
	workers, queues, err := d.Refresh(r.Context())
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadGateway, "Broker unavailable", err)
		return
	}
	recs, err := d.app.Backend().List(r.Context(), task.ListOptions{Limit: defaultTaskLimit})
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Failed to list tasks", err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data := overviewData{Workers: workers, Queues: queues, Tasks: recs, Now: time.Now().UTC()}
	if err := overviewTemplate.Execute(w, data); err != nil {
		d.logger.Error("failed to render overview", "error", err)
	}
}

var overviewTemplate = template.Must(template.New("overview").Funcs(template.FuncMap{
	"ago": func(now, t time.Time) string { return now.Sub(t).Truncate(time.Second).String() },
}).Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Flower</title></head>
<body>
<h1>Workers ({{len .Workers}})</h1>
<table>
<tr><th>Hostname</th><th>Queues</th><th>Concurrency</th><th>Active</th><th>Processed</th><th>Last seen</th></tr>
{{range .Workers}}<tr><td>{{.Hostname}}</td><td>{{range $i, $q := .Queues}}{{if $i}}, {{end}}{{$q}}{{end}}</td><td>{{.Concurrency}}</td><td>{{.Active}}</td><td>{{.Processed}}</td><td>{{ago $.Now .LastSeen}} ago</td></tr>
{{else}}<tr><td colspan="6">No worker online</td></tr>
{{end}}</table>
<h1>Queues</h1>
<table>
<tr><th>Name</th><th>Length</th></tr>
{{range .Queues}}<tr><td>{{.Name}}</td><td>{{.Length}}</td></tr>
{{end}}</table>
<h1>Tasks</h1>
<table>
<tr><th>ID</th><th>Name</th><th>Queue</th><th>State</th><th>Worker</th><th>Updated</th></tr>
{{range .Tasks}}<tr><td><a href="api/tasks/{{.ID}}">{{.ID}}</a></td><td>{{.Name}}</td><td>{{.Queue}}</td><td>{{.Status}}</td><td>{{.Worker}}</td><td>{{.UpdatedAt.Format "2006-01-02 15:04:05"}}</td></tr>
{{end}}</table>
</body>
</html>
`))
