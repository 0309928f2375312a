package telemetry

import "go.opentelemetry.io/otel/attribute"

// Span attribute keys of task spans.
const (
	TaskNameKey    = "task.name"
	TaskIDKey      = "task.id"
	TaskQueueKey   = "task.queue"
	TaskRetriesKey = "task.retries"
	TaskStatusKey  = "task.status"
	WorkerKey      = "worker.hostname"
)

// TaskAttributes describes a task execution.
func TaskAttributes(id, name, queue, worker string, retries int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(TaskIDKey, id),
		attribute.String(TaskNameKey, name),
		attribute.String(TaskQueueKey, queue),
		attribute.Int(TaskRetriesKey, retries),
	}
	if worker != "" {
		attrs = append(attrs, attribute.String(WorkerKey, worker))
	}
	return attrs
}
