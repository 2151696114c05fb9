package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/cuongbtq/asset-forge/internal/domain"
)

// DirectWriter is the fallback write path for terminal failures. Each call
// checks out its own connection and issues a single autocommit UPDATE, so it
// does not depend on the transaction or connection state the primary path
// may have left broken.
type DirectWriter struct {
	db      *sqlx.DB
	timeout time.Duration
	logger  *slog.Logger
}

// NewDirectWriter creates a DirectWriter. timeout bounds each write.
func NewDirectWriter(db *sqlx.DB, timeout time.Duration, logger *slog.Logger) *DirectWriter {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &DirectWriter{db: db, timeout: timeout, logger: logger}
}

// WriteFailed moves an in-flight record to FAILED. Detached from the caller's
// cancellation so a dying worker context cannot abort it.
func (w *DirectWriter) WriteFailed(ctx context.Context, jobID, message string) (time.Time, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.timeout)
	defer cancel()

	conn, err := w.db.Connx(ctx)
	if err != nil {
		return time.Time{}, domain.NewPersistenceError("acquire direct connection", err)
	}
	defer conn.Close()

	var updatedAt time.Time
	err = conn.QueryRowxContext(ctx, `
		UPDATE assets
		SET status = $2, error_message = $3, updated_at = NOW()
		WHERE job_id = $1 AND status = ANY($4)
		RETURNING updated_at`,
		jobID,
		string(domain.StatusFailed),
		message,
		pq.Array(statusStrings(domain.InFlightStatuses)),
	).Scan(&updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, domain.ErrInvalidTransition
	}
	if err != nil {
		return time.Time{}, domain.NewPersistenceError("direct fail write", err)
	}

	w.logger.Warn("Job failed through direct write path", slog.String("job_id", jobID))
	return updatedAt, nil
}

var _ domain.DirectStatusWriter = (*DirectWriter)(nil)
