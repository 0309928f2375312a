package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the state of a task in the result backend.
type Status string

// Task states.
const (
	StatusPending Status = "pending"
	StatusStarted Status = "started"
	StatusRetry   Status = "retry"
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Ready reports whether s is a final state.
func (s Status) Ready() bool {
	return s == StatusSuccess || s == StatusFailure
}

// ParseStatus validates a state name.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusStarted, StatusRetry, StatusSuccess, StatusFailure:
		return st, nil
	}
	return "", fmt.Errorf("unknown task state %q", s)
}

// Common task errors.
var (
	ErrUnknownTask  = errors.New("task is not registered")
	ErrQueueFull    = errors.New("task queue is full")
	ErrQueueClosed  = errors.New("task queue is closed")
	ErrTaskFailed   = errors.New("task failed")
	ErrDuplicateJob = errors.New("task is already registered")
)

// Message is what travels through the broker.
type Message struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Queue     string          `json:"queue"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Retries   int             `json:"retries"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewMessage builds a message with a fresh ID. payload is encoded as JSON;
// json.RawMessage and nil are passed through.
func NewMessage(name, queue string, payload any) (*Message, error) {
	raw, err := encode(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload of %s: %w", name, err)
	}
	return &Message{
		ID:        uuid.NewString(),
		Name:      name,
		Queue:     queue,
		Payload:   raw,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func encode(v any) (json.RawMessage, error) {
	switch p := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	case []byte:
		if !json.Valid(p) {
			return nil, errors.New("payload is not valid JSON")
		}
		return p, nil
	}
	return json.Marshal(v)
}

// Record is the result backend entry of a task.
type Record struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Queue     string          `json:"queue"`
	Status    Status          `json:"status"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	Retries   int             `json:"retries"`
	Worker    string          `json:"worker,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// NewRecord returns the pending record of msg.
func NewRecord(msg *Message) *Record {
	now := time.Now().UTC()
	return &Record{
		ID:        msg.ID,
		Name:      msg.Name,
		Queue:     msg.Queue,
		Status:    StatusPending,
		Payload:   msg.Payload,
		Retries:   msg.Retries,
		CreatedAt: msg.CreatedAt,
		UpdatedAt: now,
	}
}

// Message rebuilds the message of a record, for requeueing.
func (r *Record) Message() *Message {
	return &Message{
		ID:        r.ID,
		Name:      r.Name,
		Queue:     r.Queue,
		Payload:   r.Payload,
		Retries:   r.Retries,
		CreatedAt: r.CreatedAt,
	}
}

// Decode unmarshals the task result into v.
func (r *Record) Decode(v any) error {
	if r.Status == StatusFailure {
		return fmt.Errorf("%w: %s", ErrTaskFailed, r.Error)
	}
	if len(r.Result) == 0 {
		return nil
	}
	return json.Unmarshal(r.Result, v)
}

// Handler runs a task. Its result is stored as JSON.
type Handler func(ctx context.Context, payload json.RawMessage) (any, error)

// Typed adapts a handler taking a decoded payload.
func Typed[In any](fn func(ctx context.Context, in In) (any, error)) Handler {
	return func(ctx context.Context, payload json.RawMessage) (any, error) {
		var in In
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &in); err != nil {
				return nil, fmt.Errorf("failed to decode payload: %w", err)
			}
		}
		return fn(ctx, in)
	}
}
