package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/cuongbtq/asset-forge/internal/domain"
)

// ErrMalformedTask is returned for messages that can never be processed
var ErrMalformedTask = errors.New("malformed task message")

// Handler processes one message body. A nil error acks the message.
type Handler interface {
	Handle(ctx context.Context, body []byte) error
}

// GenerationHandler decodes generation tasks and runs them through the Executor.
type GenerationHandler struct {
	executor *Executor
	logger   *slog.Logger
}

// NewGenerationHandler creates a GenerationHandler
func NewGenerationHandler(executor *Executor, logger *slog.Logger) *GenerationHandler {
	return &GenerationHandler{executor: executor, logger: logger}
}

func (h *GenerationHandler) Handle(ctx context.Context, body []byte) error {
	var task domain.GenerationTask
	if err := json.Unmarshal(body, &task); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedTask, err)
	}
	if _, err := uuid.Parse(task.JobID); err != nil {
		return fmt.Errorf("%w: job_id %q is not a UUID", ErrMalformedTask, task.JobID)
	}

	outcome := h.executor.Execute(ctx, task)
	h.logger.Info("Generation attempt finished",
		slog.String("job_id", task.JobID),
		slog.String("outcome", outcome.Kind.String()),
		slog.String("reason", outcome.Reason),
	)
	return nil
}

// IndexRunner enriches a completed job.
type IndexRunner interface {
	Index(ctx context.Context, jobID string) error
}

// IndexHandler runs the indexer with its own retry ceiling. Indexing failure
// never touches the job status.
type IndexHandler struct {
	indexer    IndexRunner
	queue      domain.TaskQueue
	maxRetries int
	logger     *slog.Logger
}

// NewIndexHandler creates an IndexHandler
func NewIndexHandler(indexer IndexRunner, queue domain.TaskQueue, maxRetries int, logger *slog.Logger) *IndexHandler {
	return &IndexHandler{indexer: indexer, queue: queue, maxRetries: maxRetries, logger: logger}
}

func (h *IndexHandler) Handle(ctx context.Context, body []byte) error {
	var task domain.IndexTask
	if err := json.Unmarshal(body, &task); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedTask, err)
	}
	if task.JobID == "" {
		return fmt.Errorf("%w: missing job_id", ErrMalformedTask)
	}

	logger := h.logger.With(slog.String("job_id", task.JobID), slog.Int("retry_count", task.RetryCount))

	err := h.indexer.Index(ctx, task.JobID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrNotFound), domain.IsValidation(err):
		logger.Warn("Indexing abandoned", slog.Any("error", err))
		return nil
	case h.maxRetries > task.RetryCount:
		next := domain.IndexTask{JobID: task.JobID, RetryCount: task.RetryCount + 1}
		delay := domain.Backoff(task.RetryCount)
		if qerr := h.queue.EnqueueIndexing(ctx, next, delay); qerr != nil {
			logger.Error("Failed to schedule indexing retry", slog.Any("error", qerr))
			return nil
		}
		logger.Warn("Indexing failed, retry scheduled", slog.Duration("delay", delay), slog.Any("error", err))
		return nil
	default:
		logger.Error("Indexing failed permanently", slog.Any("error", err))
		return nil
	}
}
