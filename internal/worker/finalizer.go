package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cuongbtq/asset-forge/internal/domain"
)

// ErrStaleWrite reports that a status write was not applied because the
// record has already moved past it, for example a job the stale sweep failed
// while its generation was still running.
var ErrStaleWrite = errors.New("status write superseded")

// Finalizer is the single place job status is written from the worker. The
// primary path is the store's transactional update followed by a broadcast.
// When that path fails for a terminal FAILED write, the direct writer is used
// so the job never stays in flight.
type Finalizer struct {
	store       domain.RecordStore
	fallback    domain.DirectStatusWriter
	files       domain.FileStore
	broadcaster domain.Broadcaster
	logger      *slog.Logger
}

// NewFinalizer creates a Finalizer. fallback may be nil.
func NewFinalizer(store domain.RecordStore, fallback domain.DirectStatusWriter, files domain.FileStore, broadcaster domain.Broadcaster, logger *slog.Logger) *Finalizer {
	return &Finalizer{
		store:       store,
		fallback:    fallback,
		files:       files,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// Finalize applies update to the job. It is idempotent: a write the current
// status no longer allows changes nothing, announces nothing and returns
// ErrStaleWrite.
func (f *Finalizer) Finalize(ctx context.Context, jobID string, update domain.StatusUpdate) error {
	asset, err := f.store.UpdateStatus(ctx, jobID, update)
	switch {
	case err == nil:
		f.announce(ctx, asset)
		return nil
	case errors.Is(err, domain.ErrInvalidTransition):
		f.logger.Debug("Status write skipped, record already past it",
			slog.String("job_id", jobID),
			slog.String("status", string(update.Status)),
		)
		return ErrStaleWrite
	case errors.Is(err, domain.ErrNotFound):
		return err
	}

	if update.Status != domain.StatusFailed || f.fallback == nil {
		return err
	}

	f.logger.Error("Primary status write failed, using direct write path",
		slog.String("job_id", jobID),
		slog.Any("error", err),
	)
	message := ""
	if update.ErrorMessage != nil {
		message = *update.ErrorMessage
	}
	updatedAt, ferr := f.fallback.WriteFailed(ctx, jobID, message)
	if errors.Is(ferr, domain.ErrInvalidTransition) {
		return ErrStaleWrite
	}
	if ferr != nil {
		return errors.Join(err, ferr)
	}

	f.publish(ctx, domain.StatusEvent{
		JobID:     jobID,
		Status:    domain.StatusFailed,
		Error:     &message,
		UpdatedAt: updatedAt,
	})
	return nil
}

// Annotate rewrites the informative message of a PROCESSING job without
// changing its status.
func (f *Finalizer) Annotate(ctx context.Context, jobID, message string) error {
	return f.Finalize(ctx, jobID, domain.StatusUpdate{
		Status:       domain.StatusProcessing,
		ErrorMessage: &message,
	})
}

func (f *Finalizer) announce(ctx context.Context, asset domain.Asset) {
	event := domain.StatusEvent{
		JobID:     asset.JobID,
		Status:    asset.Status,
		Error:     asset.ErrorMessage,
		UpdatedAt: asset.UpdatedAt,
	}
	if asset.Status == domain.StatusCompleted && asset.FilePath != nil && f.files != nil {
		url, err := f.files.Resolve(ctx, *asset.FilePath)
		if err != nil {
			f.logger.Warn("Failed to resolve result url", slog.String("job_id", asset.JobID), slog.Any("error", err))
		} else {
			event.ResultURL = &url
		}
	}
	f.publish(ctx, event)
}

func (f *Finalizer) publish(ctx context.Context, event domain.StatusEvent) {
	if f.broadcaster == nil {
		return
	}
	if event.UpdatedAt.IsZero() {
		event.UpdatedAt = time.Now().UTC()
	}
	f.broadcaster.Publish(ctx, domain.TopicAssetUpdates, event)
}
