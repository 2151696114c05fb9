// Package worker consumes background tasks and drives generation jobs to a
// terminal state.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Source delivers messages from a named queue.
type Source interface {
	Consume(queue, consumerTag string) (<-chan amqp.Delivery, error)
}

// Config holds worker configuration
type Config struct {
	Name        string
	Queue       string
	Concurrency int
	Source      Source
	Handler     Handler
	Logger      *slog.Logger
}

// Worker consumes one queue with a fixed pool of goroutines
type Worker struct {
	name        string
	workerID    string
	queue       string
	concurrency int
	source      Source
	handler     Handler
	logger      *slog.Logger

	jobsChan chan amqp.Delivery
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	workerID := fmt.Sprintf("%s-%s", cfg.Name, uuid.NewString()[:8])
	return &Worker{
		name:        cfg.Name,
		workerID:    workerID,
		queue:       cfg.Queue,
		concurrency: concurrency,
		source:      cfg.Source,
		handler:     cfg.Handler,
		logger:      cfg.Logger.With(slog.String("worker_id", workerID)),
		jobsChan:    make(chan amqp.Delivery),
		stopChan:    make(chan struct{}),
	}
}

// Start subscribes to the queue, spawns the pool and blocks until ctx is done.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("queue", w.queue),
		slog.Int("concurrency", w.concurrency),
	)

	deliveries, err := w.source.Consume(w.queue, w.workerID)
	if err != nil {
		return fmt.Errorf("failed to start consuming %s: %w", w.queue, err)
	}

	w.spawnWorkerPool(ctx)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.startMessageDispatcher(ctx, deliveries)
	}()

	<-ctx.Done()
	w.logger.Info("Worker context canceled, stopping...")
	return nil
}

// Stop signals the pool and waits for in-flight messages to finish.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.logger.Info("Stopping worker...")
		close(w.stopChan)
	})
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
