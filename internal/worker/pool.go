package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
	w.logger.Info("Worker pool spawned", slog.Int("worker_count", w.concurrency))
}

// workerLoop is the main processing loop for each worker goroutine
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	logger := w.logger.With(slog.String("worker_name", workerName))

	for {
		select {
		case <-w.stopChan:
			logger.Debug("Worker goroutine stopping - stopChan closed")
			return

		case <-ctx.Done():
			logger.Debug("Worker goroutine stopping - context canceled")
			return

		case delivery := <-w.jobsChan:
			w.settle(ctx, logger, delivery)
		}
	}
}

// settle runs the handler and acks or nacks the delivery.
func (w *Worker) settle(ctx context.Context, logger *slog.Logger, delivery amqp.Delivery) {
	err := w.handler.Handle(ctx, delivery.Body)
	if err == nil {
		if ackErr := delivery.Ack(false); ackErr != nil {
			logger.Error("Failed to ACK message", slog.Any("error", ackErr))
		}
		return
	}

	requeue := shouldRequeue(err)
	logger.Error("Message processing failed",
		slog.Uint64("delivery_tag", delivery.DeliveryTag),
		slog.Bool("requeue", requeue),
		slog.Any("error", err),
	)
	if nackErr := delivery.Nack(false, requeue); nackErr != nil {
		logger.Error("Failed to NACK message", slog.Any("error", nackErr))
	}
}

// shouldRequeue only puts a message back when it was interrupted by
// shutdown. Malformed messages and anything else are dropped.
func shouldRequeue(err error) bool {
	if errors.Is(err, ErrMalformedTask) {
		return false
	}
	return errors.Is(err, context.Canceled)
}
