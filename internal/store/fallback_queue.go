package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// FallbackQueue is the MQTT publisher's persistent fallback queue (spec.md
// §4.6): same bounded, drop-oldest shape as the Data Queue, but durable
// across restart. Grounded on the teacher's internal/storage/redis_context.go
// client setup, reworked from a generic key-value context store into a
// Redis list used as the durable ring.
type FallbackQueue struct {
	client   *redis.Client
	key      string
	capacity int64
}

// FallbackQueueConfig configures the Redis connection backing a
// FallbackQueue.
type FallbackQueueConfig struct {
	Addr     string
	Password string
	DB       int
	KeyName  string
	Capacity int64
}

// NewFallbackQueue dials Redis and returns a FallbackQueue; it fails fast
// if the broker is unreachable so the caller can run without a fallback
// queue instead.
func NewFallbackQueue(cfg FallbackQueueConfig) (*FallbackQueue, error) {
	if cfg.KeyName == "" {
		cfg.KeyName = "gatewaycore:mqtt:fallback"
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = 100
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("store: connect fallback queue redis: %w", err)
	}

	return &FallbackQueue{client: client, key: cfg.KeyName, capacity: cfg.Capacity}, nil
}

// Push appends payload to the tail of the queue, trimming the head if the
// list has grown past capacity (drop-oldest, mirroring the Data Queue's
// eviction rule).
func (q *FallbackQueue) Push(ctx context.Context, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("store: encode fallback entry: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.RPush(ctx, q.key, data)
	pipe.LTrim(ctx, q.key, -q.capacity, -1)
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("store: push fallback entry: %w", err)
	}
	return nil
}

// DrainAll removes and returns every queued payload, oldest first, as the
// raw JSON bytes Push stored; callers decode each entry themselves.
func (q *FallbackQueue) DrainAll(ctx context.Context) ([][]byte, error) {
	pipe := q.client.TxPipeline()
	rangeCmd := pipe.LRange(ctx, q.key, 0, -1)
	pipe.Del(ctx, q.key)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("store: drain fallback queue: %w", err)
	}

	raw, err := rangeCmd.Result()
	if err != nil {
		return nil, fmt.Errorf("store: read drained fallback entries: %w", err)
	}
	out := make([][]byte, len(raw))
	for i, s := range raw {
		out[i] = []byte(s)
	}
	return out, nil
}

// Len reports how many entries are currently persisted.
func (q *FallbackQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("store: fallback queue length: %w", err)
	}
	return n, nil
}

// ClearExpired drops entries older than maxAge. Entries are stored without
// per-entry timestamps at the list level, so this walks the list and
// re-pushes only the surviving JSON objects that carry a top-level
// "timestamp" (epoch seconds) field newer than the cutoff; it is invoked by
// the Memory Guard's tiered ladder (spec.md §4.10 "clear expired MQTT
// fallback entries").
func (q *FallbackQueue) ClearExpired(ctx context.Context, maxAge time.Duration) (dropped int, err error) {
	raw, err := q.client.LRange(ctx, q.key, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("store: scan fallback queue: %w", err)
	}

	cutoff := time.Now().Add(-maxAge).Unix()
	keep := make([]interface{}, 0, len(raw))
	for _, s := range raw {
		var probe struct {
			Timestamp int64 `json:"timestamp"`
		}
		if err := json.Unmarshal([]byte(s), &probe); err == nil && probe.Timestamp < cutoff {
			dropped++
			continue
		}
		keep = append(keep, s)
	}
	if dropped == 0 {
		return 0, nil
	}

	pipe := q.client.TxPipeline()
	pipe.Del(ctx, q.key)
	if len(keep) > 0 {
		pipe.RPush(ctx, q.key, keep...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("store: rewrite fallback queue: %w", err)
	}
	return dropped, nil
}

// Close releases the underlying Redis connection.
func (q *FallbackQueue) Close() error { return q.client.Close() }
