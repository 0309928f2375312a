package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisQueuePrefix  = "kit:queue:"
	redisWorkerPrefix = "kit:worker:"
)

// RedisBroker stores every queue in a redis list: LPUSH to publish, BRPOP to
// receive. Worker heartbeats are keys with a TTL.
type RedisBroker struct {
	client *redis.Client
}

// NewRedisBroker wraps client. Close closes the client.
func NewRedisBroker(client *redis.Client) *RedisBroker {
	return &RedisBroker{client: client}
}

// Publish implements Broker.
func (b *RedisBroker) Publish(ctx context.Context, queue string, msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	if err := b.client.LPush(ctx, redisQueuePrefix+queue, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", queue, err)
	}
	return nil
}

// Receive implements Broker. BRPOP serves the first non-empty key.
func (b *RedisBroker) Receive(ctx context.Context, queues []string, timeout time.Duration) (*Message, error) {
	keys := make([]string, len(queues))
	for i, q := range queues {
		keys[i] = redisQueuePrefix + q
	}

	res, err := b.client.BRPop(ctx, timeout, keys...).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to receive: %w", err)
	}

	var msg Message
	if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
		return nil, fmt.Errorf("failed to decode message from %s: %w", res[0], err)
	}
	return &msg, nil
}

// Heartbeat implements Broker.
func (b *RedisBroker) Heartbeat(ctx context.Context, info WorkerInfo, ttl time.Duration) error {
	info.LastSeen = time.Now().UTC()
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return b.client.Set(ctx, redisWorkerPrefix+info.Hostname, data, ttl).Err()
}

// Unregister implements Broker.
func (b *RedisBroker) Unregister(ctx context.Context, hostname string) error {
	return b.client.Del(ctx, redisWorkerPrefix+hostname).Err()
}

func (b *RedisBroker) scan(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := b.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Workers implements Broker.
func (b *RedisBroker) Workers(ctx context.Context) ([]WorkerInfo, error) {
	keys, err := b.scan(ctx, redisWorkerPrefix)
	if err != nil || len(keys) == 0 {
		return nil, err
	}

	values, err := b.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read workers: %w", err)
	}

	out := make([]WorkerInfo, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			// expired between SCAN and MGET
			continue
		}
		var info WorkerInfo
		if err := json.Unmarshal([]byte(s), &info); err != nil {
			continue
		}
		out = append(out, info)
	}
	return out, nil
}

// QueueLengths implements Broker.
func (b *RedisBroker) QueueLengths(ctx context.Context) (map[string]int, error) {
	keys, err := b.scan(ctx, redisQueuePrefix)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(keys))
	for _, key := range keys {
		n, err := b.client.LLen(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read length of %s: %w", key, err)
		}
		out[strings.TrimPrefix(key, redisQueuePrefix)] = int(n)
	}
	return out, nil
}

// Close implements Broker.
func (b *RedisBroker) Close() error {
	return b.client.Close()
}
