// Package events broadcasts job status changes to live subscribers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cuongbtq/asset-forge/internal/domain"
)

const (
	// DefaultPublishTimeout bounds how long a status write waits on the broker.
	DefaultPublishTimeout = 1500 * time.Millisecond

	subscriberBuffer = 32
)

// RedisBroadcaster publishes events over Redis pub/sub. It must be connected
// before use and closed on shutdown.
type RedisBroadcaster struct {
	url            string
	publishTimeout time.Duration
	logger         *slog.Logger

	mu  sync.RWMutex
	rdb *redis.Client
}

// NewRedisBroadcaster creates an unconnected broadcaster
func NewRedisBroadcaster(url string, publishTimeout time.Duration, logger *slog.Logger) *RedisBroadcaster {
	if publishTimeout <= 0 {
		publishTimeout = DefaultPublishTimeout
	}
	return &RedisBroadcaster{
		url:            url,
		publishTimeout: publishTimeout,
		logger:         logger,
	}
}

// Connect opens the client and verifies the server answers.
func (b *RedisBroadcaster) Connect(ctx context.Context) error {
	opt, err := redis.ParseURL(b.url)
	if err != nil {
		return fmt.Errorf("failed to parse redis url: %w", err)
	}

	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return fmt.Errorf("failed to ping redis: %w", err)
	}

	b.mu.Lock()
	b.rdb = rdb
	b.mu.Unlock()

	b.logger.Info("Event broadcaster connected", slog.String("addr", opt.Addr))
	return nil
}

// Close releases the client. Open subscriptions end.
func (b *RedisBroadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.rdb == nil {
		return nil
	}
	err := b.rdb.Close()
	b.rdb = nil
	return err
}

// Ping reports whether the server still answers.
func (b *RedisBroadcaster) Ping(ctx context.Context) error {
	rdb := b.client()
	if rdb == nil {
		return domain.ErrNotConnected
	}
	return rdb.Ping(ctx).Err()
}

// Redis returns the connected client so other components can share the
// connection pool. It is nil before Connect and after Close.
func (b *RedisBroadcaster) Redis() *redis.Client {
	return b.client()
}

func (b *RedisBroadcaster) client() *redis.Client {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.rdb
}

// Publish sends the event with a bounded wait. Failures are logged only.
func (b *RedisBroadcaster) Publish(ctx context.Context, topic string, event domain.StatusEvent) {
	rdb := b.client()
	if rdb == nil {
		b.logger.Warn("Dropping event, broadcaster not connected", slog.String("job_id", event.JobID))
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		b.logger.Warn("Failed to encode event", slog.String("job_id", event.JobID), slog.Any("error", err))
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.publishTimeout)
	defer cancel()

	if err := rdb.Publish(ctx, topic, payload).Err(); err != nil {
		b.logger.Warn("Failed to publish event",
			slog.String("topic", topic),
			slog.String("job_id", event.JobID),
			slog.Any("error", err),
		)
		return
	}

	b.logger.Debug("Event published",
		slog.String("topic", topic),
		slog.String("job_id", event.JobID),
		slog.String("status", string(event.Status)),
	)
}

// Subscribe listens on topic until ctx is cancelled, then unsubscribes and
// closes the returned channel.
func (b *RedisBroadcaster) Subscribe(ctx context.Context, topic string) (<-chan domain.StatusEvent, error) {
	rdb := b.client()
	if rdb == nil {
		return nil, domain.ErrNotConnected
	}

	ps := rdb.Subscribe(ctx, topic)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	out := make(chan domain.StatusEvent, subscriberBuffer)
	go func() {
		defer close(out)
		defer ps.Close()

		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				event, err := DecodeEvent([]byte(msg.Payload))
				if err != nil {
					b.logger.Warn("Skipping malformed event", slog.String("topic", topic), slog.Any("error", err))
					continue
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// DecodeEvent parses a wire event and validates its status.
func DecodeEvent(data []byte) (domain.StatusEvent, error) {
	var raw struct {
		JobID     string    `json:"job_id"`
		Status    string    `json:"status"`
		ResultURL *string   `json:"result_url"`
		Error     *string   `json:"error"`
		UpdatedAt time.Time `json:"updated_at"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return domain.StatusEvent{}, fmt.Errorf("failed to decode event: %w", err)
	}
	if raw.JobID == "" {
		return domain.StatusEvent{}, domain.NewValidationError("event without job_id")
	}
	status, err := domain.ParseStatus(raw.Status)
	if err != nil {
		return domain.StatusEvent{}, err
	}
	return domain.StatusEvent{
		JobID:     raw.JobID,
		Status:    status,
		ResultURL: raw.ResultURL,
		Error:     raw.Error,
		UpdatedAt: raw.UpdatedAt,
	}, nil
}

var _ domain.Broadcaster = (*RedisBroadcaster)(nil)
