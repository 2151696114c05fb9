// Package usage keeps shared counters of generation provider calls so every
// worker replica reports into the same totals.
package usage

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cuongbtq/asset-forge/internal/domain"
)

const (
	ActiveKey    = "vertex_ai:active_requests"
	CompletedKey = "vertex_ai:completed_requests"

	// RequestLimit is the number of concurrent provider calls a worker runs.
	RequestLimit = 1

	writeTimeout = time.Second
)

// Client is the subset of go-redis the counter needs.
type Client interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Decr(ctx context.Context, key string) *redis.IntCmd
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
}

// Stats is a snapshot of the counters.
type Stats struct {
	Active    int64
	Completed int64
	Limit     int64
}

// RedisCounter tracks provider calls in Redis. Write failures are logged and
// never reach the tracked call.
type RedisCounter struct {
	rdb    Client
	logger *slog.Logger
}

func NewRedisCounter(rdb Client, logger *slog.Logger) *RedisCounter {
	return &RedisCounter{rdb: rdb, logger: logger}
}

// Start marks one call as in flight.
func (c *RedisCounter) Start(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	if err := c.rdb.Incr(ctx, ActiveKey).Err(); err != nil {
		c.logger.Warn("Failed to count request start", slog.Any("error", err))
	}
}

// Finish moves one call from in flight to completed. It runs even when the
// caller's context is already cancelled.
func (c *RedisCounter) Finish(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	if err := c.rdb.Decr(ctx, ActiveKey).Err(); err != nil {
		c.logger.Warn("Failed to count request finish", slog.String("key", ActiveKey), slog.Any("error", err))
	}
	if err := c.rdb.Incr(ctx, CompletedKey).Err(); err != nil {
		c.logger.Warn("Failed to count request finish", slog.String("key", CompletedKey), slog.Any("error", err))
	}
}

// Stats reads both counters. Missing keys count as zero.
func (c *RedisCounter) Stats(ctx context.Context) (Stats, error) {
	vals, err := c.rdb.MGet(ctx, ActiveKey, CompletedKey).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("failed to read usage counters: %w", err)
	}
	if len(vals) != 2 {
		return Stats{}, fmt.Errorf("failed to read usage counters: got %d values", len(vals))
	}

	active, err := parseCount(vals[0])
	if err != nil {
		return Stats{}, err
	}
	completed, err := parseCount(vals[1])
	if err != nil {
		return Stats{}, err
	}
	return Stats{Active: active, Completed: completed, Limit: RequestLimit}, nil
}

func parseCount(v any) (int64, error) {
	switch val := v.(type) {
	case nil:
		return 0, nil
	case string:
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("malformed usage counter %q: %w", val, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unexpected usage counter type %T", v)
	}
}

var _ domain.RequestTracker = (*RedisCounter)(nil)
