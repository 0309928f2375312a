package task

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// WorkerInfo is what a worker announces with every heartbeat.
type WorkerInfo struct {
	Hostname    string    `json:"hostname"`
	Queues      []string  `json:"queues"`
	Concurrency int       `json:"concurrency"`
	Active      int       `json:"active"`
	Processed   int64     `json:"processed"`
	StartedAt   time.Time `json:"started_at"`
	LastSeen    time.Time `json:"last_seen"`
}

// Broker transports messages between publishers and workers.
type Broker interface {
	// Publish appends msg to queue.
	Publish(ctx context.Context, queue string, msg *Message) error

	// Receive pops the next message of the first non-empty queue, waiting
	// up to timeout. It returns nil without error when nothing arrived.
	Receive(ctx context.Context, queues []string, timeout time.Duration) (*Message, error)

	// Heartbeat records that a worker is alive for ttl.
	Heartbeat(ctx context.Context, info WorkerInfo, ttl time.Duration) error

	// Unregister forgets a worker.
	Unregister(ctx context.Context, hostname string) error

	// Workers returns the workers whose heartbeat has not expired.
	Workers(ctx context.Context) ([]WorkerInfo, error)

	// QueueLengths returns the number of waiting messages per queue.
	QueueLengths(ctx context.Context) (map[string]int, error)

	Close() error
}

// NewBroker returns the broker for url: memory:// or redis://.
// queueSize bounds every in-memory queue.
func NewBroker(url string, queueSize int) (Broker, error) {
	switch {
	case url == "" || strings.HasPrefix(url, "memory://"):
		return NewMemoryBroker(queueSize), nil
	case strings.HasPrefix(url, "redis://"), strings.HasPrefix(url, "rediss://"):
		opts, err := redis.ParseURL(url)
		if err != nil {
			return nil, fmt.Errorf("invalid broker url: %w", err)
		}
		return NewRedisBroker(redis.NewClient(opts)), nil
	}
	return nil, fmt.Errorf("unsupported broker url %q", url)
}
