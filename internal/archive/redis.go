package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/cortex-sre/cortex/pkg/domain"
)

// Redis implements Store using Redis. Records carry a TTL so finished
// workflows age out on their own; a ZSET index supports listing with lazy
// pruning of expired entries.
type Redis struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

// RedisOption configures the Redis archive.
type RedisOption func(*Redis)

// WithRedisTTL sets record expiration.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) { r.ttl = ttl }
}

// WithRedisPrefix sets the key prefix.
func WithRedisPrefix(prefix string) RedisOption {
	return func(r *Redis) { r.prefix = prefix }
}

// NewRedis creates a Redis archive.
func NewRedis(address string, db int, opts ...RedisOption) *Redis {
	client := backend.NewClient(&backend.Options{
		Addr: address,
		DB:   db,
	})
	return NewRedisFromClient(client, opts...)
}

// NewRedisFromClient creates a Redis archive from an existing client.
func NewRedisFromClient(client *backend.Client, opts ...RedisOption) *Redis {
	r := &Redis{
		client: client,
		prefix: "cortex:archive:",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) key(workflowID string) string {
	return r.prefix + workflowID
}

func (r *Redis) indexKey() string {
	return r.prefix + "index"
}

// Save persists the record with TTL and indexes it.
func (r *Redis) Save(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	pipe := r.client.Pipeline()
	pipe.Set(ctx, r.key(rec.WorkflowID), data, r.ttl)

	score := float64(time.Now().Add(r.ttl).Unix())
	if r.ttl == 0 {
		score = 4102444800 // 2100-01-01, effectively never
	}
	pipe.ZAdd(ctx, r.indexKey(), backend.Z{
		Score:  score,
		Member: rec.WorkflowID,
	})

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	return nil
}

// Load retrieves a record.
func (r *Redis) Load(ctx context.Context, workflowID string) (*Record, error) {
	val, err := r.client.Get(ctx, r.key(workflowID)).Result()
	if err != nil {
		if err == backend.Nil {
			return nil, domain.ErrUnknownWorkflow
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	var rec Record
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return &rec, nil
}

// List prunes expired index entries and returns the rest.
func (r *Redis) List(ctx context.Context) ([]string, error) {
	now := float64(time.Now().Unix())
	if err := r.client.ZRemRangeByScore(ctx, r.indexKey(), "-inf", fmt.Sprintf("%f", now)).Err(); err != nil {
		return nil, fmt.Errorf("failed to prune expired records: %w", err)
	}

	ids, err := r.client.ZRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	return ids, nil
}

// Delete removes a record and its index entry.
func (r *Redis) Delete(ctx context.Context, workflowID string) error {
	pipe := r.client.Pipeline()
	pipe.Del(ctx, r.key(workflowID))
	pipe.ZRem(ctx, r.indexKey(), workflowID)
	_, err := pipe.Exec(ctx)
	return err
}

// Close closes the redis client.
func (r *Redis) Close() error {
	return r.client.Close()
}
