package task

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryBroker keeps one bounded channel per queue. It only connects
// publishers and workers of the same process.
type MemoryBroker struct {
	size int

	mu      sync.Mutex
	queues  map[string]chan *Message
	notify  chan struct{}
	workers map[string]memoryWorker
	closed  bool
}

type memoryWorker struct {
	info    WorkerInfo
	expires time.Time
}

// NewMemoryBroker returns a broker whose queues hold up to size messages.
func NewMemoryBroker(size int) *MemoryBroker {
	if size <= 0 {
		size = 1000
	}
	return &MemoryBroker{
		size:    size,
		queues:  make(map[string]chan *Message),
		notify:  make(chan struct{}),
		workers: make(map[string]memoryWorker),
	}
}

func (b *MemoryBroker) queueLocked(name string) chan *Message {
	q, ok := b.queues[name]
	if !ok {
		q = make(chan *Message, b.size)
		b.queues[name] = q
	}
	return q
}

// Publish adds msg to queue. It fails with ErrQueueFull instead of blocking.
func (b *MemoryBroker) Publish(_ context.Context, queue string, msg *Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrQueueClosed
	}

	select {
	case b.queueLocked(queue) <- msg:
	default:
		return fmt.Errorf("%w: queue %s capacity %d reached", ErrQueueFull, queue, b.size)
	}

	// wake every waiting receiver
	close(b.notify)
	b.notify = make(chan struct{})
	return nil
}

// Receive implements Broker. Queues are tried in order.
func (b *MemoryBroker) Receive(ctx context.Context, queues []string, timeout time.Duration) (*Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return nil, ErrQueueClosed
		}
		for _, name := range queues {
			select {
			case msg := <-b.queueLocked(name):
				b.mu.Unlock()
				return msg, nil
			default:
			}
		}
		wait := b.notify
		b.mu.Unlock()

		select {
		case <-wait:
		case <-timer.C:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Heartbeat implements Broker.
func (b *MemoryBroker) Heartbeat(_ context.Context, info WorkerInfo, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	info.LastSeen = time.Now().UTC()
	b.workers[info.Hostname] = memoryWorker{info: info, expires: time.Now().Add(ttl)}
	return nil
}

// Unregister implements Broker.
func (b *MemoryBroker) Unregister(_ context.Context, hostname string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.workers, hostname)
	return nil
}

// Workers implements Broker.
func (b *MemoryBroker) Workers(context.Context) ([]WorkerInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	out := make([]WorkerInfo, 0, len(b.workers))
	for name, w := range b.workers {
		if now.After(w.expires) {
			delete(b.workers, name)
			continue
		}
		out = append(out, w.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hostname < out[j].Hostname })
	return out, nil
}

// QueueLengths implements Broker.
func (b *MemoryBroker) QueueLengths(context.Context) (map[string]int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]int, len(b.queues))
	for name, q := range b.queues {
		out[name] = len(q)
	}
	return out, nil
}

// Close makes Publish and Receive fail with ErrQueueClosed. Waiting
// receivers return immediately.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.notify)
		b.notify = make(chan struct{})
	}
	return nil
}
