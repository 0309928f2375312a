package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Signal names a lifecycle event.
type Signal string

const (
	// RequestTearingDown is emitted after every web request, even when the
	// handler panicked.
	RequestTearingDown Signal = "request_tearing_down"

	// TaskPrerun is emitted before a task handler runs.
	TaskPrerun Signal = "task_prerun"

	// TaskPostrun is emitted after a task handler returned or panicked.
	TaskPostrun Signal = "task_postrun"

	// WorkerReady is emitted once a worker consumes its queues.
	WorkerReady Signal = "worker_ready"

	// WorkerShutdown is emitted when a worker stops.
	WorkerShutdown Signal = "worker_shutdown"
)

// Event is one emission of a signal.
type Event struct {
	ID     uuid.UUID
	Signal Signal

	// Sender names the emitter: the web app name, a task name or a worker
	// hostname.
	Sender string

	// TaskID and State are set for task signals.
	TaskID string
	State  string

	// Err is the error the request or task ended with, if any.
	Err error

	CreatedAt time.Time
}

// NewEvent returns an event of signal sent by sender.
func NewEvent(signal Signal, sender string) *Event {
	return &Event{
		ID:        uuid.New(),
		Signal:    signal,
		Sender:    sender,
		CreatedAt: time.Now().UTC(),
	}
}

// Handler processes an event.
type Handler interface {
	HandleEvent(ctx context.Context, event *Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, event *Event) error

// HandleEvent calls f.
func (f HandlerFunc) HandleEvent(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

// Emitter publishes events to the handlers connected to their signal.
type Emitter interface {
	Emit(ctx context.Context, event *Event) error
}
