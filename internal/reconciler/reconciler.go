// Package reconciler fails jobs that no worker will ever finish.
package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/asset-forge/internal/domain"
)

const (
	AbortedByRestartMessage = "aborted by restart"
	StaleTaskMessage        = "stale task"
)

// Config controls the periodic sweep. A zero SweepInterval disables it.
type Config struct {
	SweepInterval time.Duration
	StaleAfter    time.Duration
}

// Reconciler moves in-flight records to FAILED in bulk.
type Reconciler struct {
	store  domain.RecordStore
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// New creates a new Reconciler
func New(store domain.RecordStore, cfg Config, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:  store,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Run fails every PENDING or PROCESSING record. It is meant to run once at
// process start, before traffic is served. Errors are logged and returned
// so the caller can decide, but startup should continue.
func (r *Reconciler) Run(ctx context.Context) (int64, error) {
	n, err := r.failInFlight(ctx, time.Time{}, AbortedByRestartMessage)
	if err != nil {
		r.logger.Error("Startup reconciliation failed", slog.Any("error", err))
		return 0, err
	}
	if n > 0 {
		r.logger.Warn("Failed zombie jobs left by a previous run", slog.Int64("count", n))
	} else {
		r.logger.Info("No zombie jobs found")
	}
	return n, nil
}

// Sweep fails records that have been in flight longer than StaleAfter.
func (r *Reconciler) Sweep(ctx context.Context) (int64, error) {
	cutoff := r.now().Add(-r.cfg.StaleAfter)
	n, err := r.failInFlight(ctx, cutoff, StaleTaskMessage)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.logger.Warn("Failed stale jobs", slog.Int64("count", n), slog.Time("cutoff", cutoff))
	}
	return n, nil
}

// Start runs Sweep every SweepInterval until ctx is done.
func (r *Reconciler) Start(ctx context.Context) {
	if r.cfg.SweepInterval <= 0 || r.cfg.StaleAfter <= 0 {
		r.logger.Info("Periodic stale job sweep disabled")
		return
	}

	r.logger.Info("Starting stale job sweep",
		slog.Duration("interval", r.cfg.SweepInterval),
		slog.Duration("stale_after", r.cfg.StaleAfter),
	)
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Stale job sweep stopped")
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				r.logger.Error("Stale job sweep failed", slog.Any("error", err))
			}
		}
	}
}

func (r *Reconciler) failInFlight(ctx context.Context, updatedBefore time.Time, message string) (int64, error) {
	assets, err := r.store.ListInFlight(ctx, updatedBefore)
	if err != nil {
		return 0, fmt.Errorf("list in-flight jobs: %w", err)
	}
	if len(assets) == 0 {
		return 0, nil
	}

	ids := make([]int64, len(assets))
	for i, a := range assets {
		ids[i] = a.ID
	}
	n, err := r.store.FailJobs(ctx, ids, message)
	if err != nil {
		return 0, fmt.Errorf("fail in-flight jobs: %w", err)
	}
	return n, nil
}
