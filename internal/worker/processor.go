package worker

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/asset-forge/internal/domain"
)

// ExecutorConfig holds the retry policy and per-attempt limits.
type ExecutorConfig struct {
	MaxRetries int
	JobTimeout time.Duration
}

// Executor drives one generation attempt through the job state machine and
// decides what happens next.
type Executor struct {
	store     domain.RecordStore
	generator domain.Generator
	files     domain.FileStore
	finalizer *Finalizer
	queue     domain.TaskQueue
	cfg       ExecutorConfig
	logger    *slog.Logger
}

// NewExecutor creates a new Executor
func NewExecutor(
	store domain.RecordStore,
	generator domain.Generator,
	files domain.FileStore,
	finalizer *Finalizer,
	queue domain.TaskQueue,
	cfg ExecutorConfig,
	logger *slog.Logger,
) *Executor {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Executor{
		store:     store,
		generator: generator,
		files:     files,
		finalizer: finalizer,
		queue:     queue,
		cfg:       cfg,
		logger:    logger,
	}
}

// Execute runs one attempt of task. Status writes use ctx; the generation
// call itself is bounded by the job timeout.
func (e *Executor) Execute(ctx context.Context, task domain.GenerationTask) Outcome {
	logger := e.logger.With(
		slog.String("job_id", task.JobID),
		slog.Int("retry_count", task.RetryCount),
	)

	asset, err := e.store.GetByJobID(ctx, task.JobID)
	if errors.Is(err, domain.ErrNotFound) {
		logger.Error("Task references unknown job, dropping")
		return failed("job record not found")
	}
	if err != nil {
		return e.handleFailure(ctx, logger, task, err)
	}
	if asset.Status.IsTerminal() {
		logger.Info("Job already terminal, skipping redelivered task", slog.String("status", string(asset.Status)))
		return skipped("job already " + string(asset.Status))
	}

	// A retried attempt finds the record PROCESSING with a retry annotation
	// the previous attempt wrote; leave it as is.
	if task.RetryCount == 0 {
		err := e.finalizer.Finalize(ctx, task.JobID, domain.StatusUpdate{Status: domain.StatusProcessing})
		if errors.Is(err, ErrStaleWrite) {
			logger.Info("Job closed before it started, skipping")
			return skipped("job closed before start")
		}
		if err != nil {
			return e.handleFailure(ctx, logger, task, err)
		}
	}

	logger.Info("Generating asset", slog.String("mode", string(task.Mode)))

	genCtx := ctx
	if e.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, e.cfg.JobTimeout)
		defer cancel()
	}

	mode, data, err := e.generate(genCtx, task)
	if err != nil {
		return e.handleFailure(ctx, logger, task, err)
	}

	update := domain.StatusUpdate{Status: domain.StatusCompleted}
	if mode.AssetType() == domain.AssetTypeImage {
		if w, h, err := imageDimensions(data); err != nil {
			logger.Warn("Could not read image dimensions", slog.Any("error", err))
		} else {
			update.Width, update.Height = &w, &h
		}
	}

	location, err := e.files.Save(ctx, task.JobID+mode.Extension(), data)
	if err != nil {
		return e.handleFailure(ctx, logger, task, fmt.Errorf("save output: %w", err))
	}
	update.FilePath = &location

	err = e.finalizer.Finalize(ctx, task.JobID, update)
	if errors.Is(err, ErrStaleWrite) {
		logger.Warn("Job closed while generating, result discarded", slog.String("file_path", location))
		return skipped("job closed while generating")
	}
	if err != nil {
		return e.handleFailure(ctx, logger, task, fmt.Errorf("complete job: %w", err))
	}
	logger.Info("Job completed", slog.String("file_path", location))

	if err := e.queue.EnqueueIndexing(ctx, domain.IndexTask{JobID: task.JobID}, 0); err != nil {
		logger.Warn("Failed to enqueue indexing", slog.Any("error", err))
	}
	return completed()
}

func (e *Executor) generate(ctx context.Context, task domain.GenerationTask) (domain.Mode, []byte, error) {
	mode, err := domain.ParseMode(string(task.Mode))
	if err != nil {
		return "", nil, domain.NewValidationError("unsupported generation mode %q", task.Mode)
	}

	var data []byte
	switch mode {
	case domain.ModeTextToImage:
		data, err = e.generator.GenerateImage(ctx, task.Prompt)
	case domain.ModeTextToVideo:
		data, err = e.generator.GenerateVideo(ctx, task.Prompt)
	case domain.ModeImageToVideo:
		if task.SourceImage == "" {
			return mode, nil, domain.NewValidationError("image-to-video requires a source image")
		}
		image, decErr := base64.StdEncoding.DecodeString(task.SourceImage)
		if decErr != nil {
			return mode, nil, domain.NewValidationError("source image is not valid base64: %v", decErr)
		}
		data, err = e.generator.GenerateVideoFromImage(ctx, task.Prompt, image, task.SourceImageMIME)
	}
	if err != nil {
		return mode, nil, err
	}
	if len(data) == 0 {
		return mode, nil, domain.NewExternalServiceError("generation", errors.New("empty result"))
	}
	return mode, data, nil
}

// handleFailure classifies err and either schedules another attempt or
// finalizes the job as FAILED.
func (e *Executor) handleFailure(ctx context.Context, logger *slog.Logger, task domain.GenerationTask, err error) Outcome {
	switch {
	case domain.IsValidation(err):
		logger.Warn("Job rejected", slog.Any("error", err))
		return e.fail(ctx, logger, task.JobID, err.Error())

	case domain.IsExternal(err):
		if task.RetryCount >= e.cfg.MaxRetries {
			logger.Error("Job exhausted retries", slog.Int("max_retries", e.cfg.MaxRetries), slog.Any("error", err))
			return e.fail(ctx, logger, task.JobID,
				fmt.Sprintf("generation failed after %d retries: %v", e.cfg.MaxRetries, err))
		}

		next := task
		next.RetryCount++
		delay := domain.Backoff(task.RetryCount)
		note := fmt.Sprintf("retrying (%d/%d): %v", next.RetryCount, e.cfg.MaxRetries, err)

		aerr := e.finalizer.Annotate(ctx, task.JobID, note)
		if errors.Is(aerr, ErrStaleWrite) {
			logger.Info("Job closed during attempt, not retrying", slog.Any("error", err))
			return skipped("job closed during attempt")
		}
		if aerr != nil {
			logger.Warn("Failed to record retry annotation", slog.Any("error", aerr))
		}
		if qerr := e.queue.EnqueueGeneration(ctx, next, delay); qerr != nil {
			logger.Error("Failed to schedule retry", slog.Any("error", qerr))
			return e.fail(ctx, logger, task.JobID, fmt.Sprintf("failed to schedule retry after %v: %v", err, qerr))
		}

		logger.Warn("Job scheduled for retry", slog.Duration("delay", delay), slog.Any("error", err))
		return retryAfter(delay, note)

	default:
		logger.Error("Job failed unexpectedly", slog.Any("error", err))
		return e.fail(ctx, logger, task.JobID, fmt.Sprintf("unexpected error: %v", err))
	}
}

func (e *Executor) fail(ctx context.Context, logger *slog.Logger, jobID, message string) Outcome {
	err := e.finalizer.Finalize(ctx, jobID, domain.StatusUpdate{
		Status:       domain.StatusFailed,
		ErrorMessage: &message,
	})
	if errors.Is(err, ErrStaleWrite) {
		logger.Info("Job already terminal, failure not recorded")
		return skipped("job already terminal")
	}
	if err != nil {
		logger.Error("Failed to mark job as failed", slog.Any("error", err))
	}
	return failed(message)
}
