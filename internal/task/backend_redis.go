package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/phrazzld/kit/internal/store"
	"github.com/redis/go-redis/v9"
)

const (
	redisTaskPrefix = "kit:task:"
	redisTaskIndex  = "kit:tasks"
)

// RedisBackend stores records as JSON strings, finished ones with an
// expiry, and indexes them in a sorted set scored by update time.
type RedisBackend struct {
	client  *redis.Client
	expires time.Duration
}

// NewRedisBackend wraps client. Close closes the client.
func NewRedisBackend(client *redis.Client, expires time.Duration) *RedisBackend {
	return &RedisBackend{client: client, expires: expires}
}

// Save implements Backend.
func (b *RedisBackend) Save(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode task record: %w", err)
	}
	var ttl time.Duration
	if rec.Status.Ready() {
		ttl = b.expires
	}

	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, redisTaskPrefix+rec.ID, data, ttl)
		pipe.ZAdd(ctx, redisTaskIndex, redis.Z{Score: float64(rec.UpdatedAt.UnixNano()), Member: rec.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save task %s: %w", rec.ID, err)
	}
	return nil
}

// Get implements Backend.
func (b *RedisBackend) Get(ctx context.Context, id string) (*Record, error) {
	data, err := b.client.Get(ctx, redisTaskPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read task %s: %w", id, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode task %s: %w", id, err)
	}
	return &rec, nil
}

// load fetches the records of ids, pruning index entries whose record
// expired.
func (b *RedisBackend) load(ctx context.Context, ids []string) ([]*Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = redisTaskPrefix + id
	}
	values, err := b.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read tasks: %w", err)
	}

	var stale []any
	out := make([]*Record, 0, len(values))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			continue
		}
		out = append(out, &rec)
	}
	if len(stale) > 0 {
		b.client.ZRem(ctx, redisTaskIndex, stale...)
	}
	return out, nil
}

// List implements Backend.
func (b *RedisBackend) List(ctx context.Context, opts ListOptions) ([]*Record, error) {
	ids, err := b.client.ZRevRange(ctx, redisTaskIndex, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	recs, err := b.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	return filterRecords(recs, opts), nil
}

// ByStatus implements Backend.
func (b *RedisBackend) ByStatus(ctx context.Context, status Status, olderThan time.Duration) ([]*Record, error) {
	upper := "+inf"
	if olderThan > 0 {
		upper = strconv.FormatInt(time.Now().Add(-olderThan).UnixNano(), 10)
	}
	ids, err := b.client.ZRangeByScore(ctx, redisTaskIndex, &redis.ZRangeBy{Min: "-inf", Max: upper}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	recs, err := b.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	return staleRecords(recs, status, olderThan), nil
}

// Close implements Backend.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}
