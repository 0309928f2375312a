package events

import (
	"context"
	"log/slog"
	"sync"
)

// InMemoryEmitter keeps the connected handlers in memory and calls them
// synchronously.
type InMemoryEmitter struct {
	mu       sync.RWMutex
	handlers map[Signal][]Handler
	logger   *slog.Logger
}

// NewInMemoryEmitter returns an emitter without handlers.
func NewInMemoryEmitter(logger *slog.Logger) *InMemoryEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &InMemoryEmitter{
		handlers: make(map[Signal][]Handler),
		logger:   logger.With("component", "signals"),
	}
}

// Connect registers handler for signal. Handlers run in registration order.
func (e *InMemoryEmitter) Connect(signal Signal, handler Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[signal] = append(e.handlers[signal], handler)
	e.logger.Debug("connected signal handler",
		"signal", signal,
		"handler_count", len(e.handlers[signal]))
}

// ConnectFunc registers fn for signal.
func (e *InMemoryEmitter) ConnectFunc(signal Signal, fn func(ctx context.Context, event *Event) error) {
	e.Connect(signal, HandlerFunc(fn))
}

// Receivers returns the number of handlers connected to signal.
func (e *InMemoryEmitter) Receivers(signal Signal) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.handlers[signal])
}

// Emit calls every handler connected to event.Signal. A failing handler
// does not stop the others; the first error is returned.
func (e *InMemoryEmitter) Emit(ctx context.Context, event *Event) error {
	e.mu.RLock()
	handlers := make([]Handler, len(e.handlers[event.Signal]))
	copy(handlers, e.handlers[event.Signal])
	e.mu.RUnlock()

	if len(handlers) == 0 {
		return nil
	}

	var firstErr error
	for i, handler := range handlers {
		if err := handler.HandleEvent(ctx, event); err != nil {
			e.logger.Error("signal handler failed",
				"error", err,
				"handler_index", i,
				"signal", event.Signal,
				"sender", event.Sender)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
