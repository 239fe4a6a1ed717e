package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/config"
	"github.com/redis/go-redis/v9"
)

// DefaultAuditStream is used when no stream name is configured
const DefaultAuditStream = "itm:audit"

// RedisStreamShipper appends audit entries to a Redis stream with XADD. Each stream
// message carries the action plus the full entry as JSON under "entry".
type RedisStreamShipper struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisStreamShipper connects to Redis and verifies the connection
func NewRedisStreamShipper(cfg *config.AuditRedisConfig) (*RedisStreamShipper, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close() // nolint:errcheck
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	return NewRedisStreamShipperWithClient(client, cfg.Stream, cfg.MaxLen), nil
}

// NewRedisStreamShipperWithClient wraps an existing client
func NewRedisStreamShipperWithClient(client *redis.Client, stream string, maxLen int64) *RedisStreamShipper {
	if stream == "" {
		stream = DefaultAuditStream
	}
	return &RedisStreamShipper{client: client, stream: stream, maxLen: maxLen}
}

// Ship appends the entry to the stream. With a positive MaxLen the stream is trimmed
// approximately to that length.
func (rs *RedisStreamShipper) Ship(ctx context.Context, entry *LogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: rs.stream,
		Values: map[string]interface{}{
			"action":    entry.Action,
			"tenant_id": entry.TenantID,
			"entry":     string(data),
		},
	}
	if rs.maxLen > 0 {
		args.MaxLen = rs.maxLen
		args.Approx = true
	}

	if err := rs.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to append to audit stream %s: %w", rs.stream, err)
	}
	return nil
}

// Close closes the Redis client
func (rs *RedisStreamShipper) Close() error {
	return rs.client.Close()
}
