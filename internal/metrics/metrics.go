// Package metrics declares the Prometheus metrics of the kit. They are
// registered on the default registry and served on /metrics by the web app
// and the dashboard.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Labels stay low cardinality: routes are chi patterns, never raw paths.

var (
	// HTTPRequestsTotal counts web requests by method, route pattern and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kit_http_requests_total",
		Help: "Total number of HTTP requests, by method, route and status code.",
	}, []string{"method", "route", "status"})

	// HTTPRequestDuration observes request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kit_http_request_duration_seconds",
		Help:    "HTTP request latency, by method and route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	// TasksPublishedTotal counts messages sent to the broker.
	TasksPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kit_tasks_published_total",
		Help: "Total number of published tasks, by task name.",
	}, []string{"task"})

	// TasksTotal counts finished task runs by outcome.
	TasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kit_tasks_total",
		Help: "Total number of task runs, by task name and final state.",
	}, []string{"task", "state"})

	// TaskDuration observes handler run time.
	TaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kit_task_duration_seconds",
		Help:    "Task handler run time, by task name.",
		Buckets: []float64{.005, .01, .05, .1, .5, 1, 5, 15, 60, 300},
	}, []string{"task"})

	// TasksActive is the number of handlers currently running in this process.
	TasksActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kit_tasks_active",
		Help: "Number of task handlers currently running.",
	})

	// SessionsRemovedTotal counts session teardowns by origin and outcome.
	SessionsRemovedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kit_sessions_removed_total",
		Help: "Total number of removed database sessions, by origin (web, tasks) and outcome.",
	}, []string{"origin", "outcome"})

	// WorkersOnline is the number of workers with a live heartbeat.
	WorkersOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kit_workers_online",
		Help: "Number of workers with a live heartbeat.",
	})

	// QueueLength is the number of waiting messages per queue.
	QueueLength = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "kit_queue_length",
		Help: "Number of messages waiting in a queue.",
	}, []string{"queue"})
)
