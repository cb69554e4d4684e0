// Package persist appends detected opportunities to a Redis Stream. The log
// is best-effort: a lost append never propagates back into the pipeline.
package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"spotarb/internal/emitter"
)

const (
	streamKey = "opportunities"
	maxLen    = 100000
)

// RedisLog is the append-only opportunity log on Redis Streams.
type RedisLog struct {
	client *redis.Client
}

// NewRedisLog connects and pings the Redis instance.
func NewRedisLog(ctx context.Context, addr string) (*RedisLog, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &RedisLog{client: client}, nil
}

// Append writes one record with XADD, trimming the stream approximately.
func (l *RedisLog) Append(ctx context.Context, rec emitter.Record) error {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("marshal opportunity %d: %w", rec.ID, err)
	}
	err = l.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey,
		MaxLen: maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"id":           strconv.FormatUint(rec.ID, 10),
			"t_detected":   rec.Detected.UnixMilli(),
			"kind":         rec.Kind,
			"payload_json": string(payload),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", streamKey, err)
	}
	return nil
}

// Close releases the connection pool.
func (l *RedisLog) Close() error {
	return l.client.Close()
}
