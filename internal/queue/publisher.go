// Package queue publishes background tasks to RabbitMQ.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/asset-forge/internal/domain"
)

const contentTypeJSON = "application/json"

// Transport is the subset of the RabbitMQ client the publisher needs.
type Transport interface {
	PublishWithRetry(ctx context.Context, routingKey string, body []byte, contentType string) error
	PublishDelayed(ctx context.Context, routingKey string, body []byte, contentType string, delay time.Duration) error
}

// RoutingKeys names where each task kind goes.
type RoutingKeys struct {
	Generation string
	Indexing   string
}

// Publisher encodes tasks as JSON and hands them to the transport.
type Publisher struct {
	transport Transport
	keys      RoutingKeys
	logger    *slog.Logger
}

// NewPublisher creates a new Publisher
func NewPublisher(transport Transport, keys RoutingKeys, logger *slog.Logger) *Publisher {
	return &Publisher{transport: transport, keys: keys, logger: logger}
}

func (p *Publisher) EnqueueGeneration(ctx context.Context, task domain.GenerationTask, delay time.Duration) error {
	if err := p.send(ctx, p.keys.Generation, task, delay); err != nil {
		return fmt.Errorf("enqueue generation %s: %w", task.JobID, err)
	}
	p.logger.Debug("Generation task enqueued",
		slog.String("job_id", task.JobID),
		slog.Int("retry_count", task.RetryCount),
		slog.Duration("delay", delay),
	)
	return nil
}

func (p *Publisher) EnqueueIndexing(ctx context.Context, task domain.IndexTask, delay time.Duration) error {
	if err := p.send(ctx, p.keys.Indexing, task, delay); err != nil {
		return fmt.Errorf("enqueue indexing %s: %w", task.JobID, err)
	}
	p.logger.Debug("Indexing task enqueued",
		slog.String("job_id", task.JobID),
		slog.Int("retry_count", task.RetryCount),
	)
	return nil
}

func (p *Publisher) send(ctx context.Context, routingKey string, task any, delay time.Duration) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	if delay > 0 {
		return p.transport.PublishDelayed(ctx, routingKey, body, contentTypeJSON, delay)
	}
	return p.transport.PublishWithRetry(ctx, routingKey, body, contentTypeJSON)
}

var _ domain.TaskQueue = (*Publisher)(nil)
