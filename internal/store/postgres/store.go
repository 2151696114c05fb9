// Package postgres implements the RecordStore on PostgreSQL with pgvector.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/cuongbtq/asset-forge/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

const assetColumns = `id, job_id, prompt, model, asset_type, status, file_path, width, height,
	error_message, search_document, embedding, created_at, updated_at`

// assetRow is the scan target for one assets row.
type assetRow struct {
	ID             int64            `db:"id"`
	JobID          string           `db:"job_id"`
	Prompt         string           `db:"prompt"`
	Model          string           `db:"model"`
	AssetType      string           `db:"asset_type"`
	Status         string           `db:"status"`
	FilePath       sql.NullString   `db:"file_path"`
	Width          sql.NullInt64    `db:"width"`
	Height         sql.NullInt64    `db:"height"`
	ErrorMessage   sql.NullString   `db:"error_message"`
	SearchDocument sql.NullString   `db:"search_document"`
	Embedding      *pgvector.Vector `db:"embedding"`
	CreatedAt      time.Time        `db:"created_at"`
	UpdatedAt      time.Time        `db:"updated_at"`
}

type scoredRow struct {
	assetRow
	Score float64 `db:"score"`
}

// toDomain converts a row, rejecting status or type strings the domain does not know.
func (r assetRow) toDomain() (domain.Asset, error) {
	status, err := domain.ParseStatus(r.Status)
	if err != nil {
		return domain.Asset{}, err
	}
	assetType, err := domain.ParseAssetType(r.AssetType)
	if err != nil {
		return domain.Asset{}, err
	}

	a := domain.Asset{
		ID:        r.ID,
		JobID:     r.JobID,
		Prompt:    r.Prompt,
		Model:     r.Model,
		AssetType: assetType,
		Status:    status,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.FilePath.Valid {
		a.FilePath = &r.FilePath.String
	}
	if r.Width.Valid {
		a.Width = domain.IntPtr(int(r.Width.Int64))
	}
	if r.Height.Valid {
		a.Height = domain.IntPtr(int(r.Height.Int64))
	}
	if r.ErrorMessage.Valid {
		a.ErrorMessage = &r.ErrorMessage.String
	}
	if r.SearchDocument.Valid {
		a.SearchDocument = &r.SearchDocument.String
	}
	if r.Embedding != nil {
		a.Embedding = r.Embedding.Slice()
	}
	return a, nil
}

// Store handles all asset persistence
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store instance
func NewStore(db *sqlx.DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// EnsureSchema creates the assets table and its vector and text indexes.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return domain.NewPersistenceError("ensure schema", err)
	}
	return nil
}

func (s *Store) Create(ctx context.Context, in domain.NewAsset) (domain.Asset, error) {
	query := `
		INSERT INTO assets (job_id, prompt, model, asset_type, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + assetColumns

	var row assetRow
	err := s.db.GetContext(ctx, &row, query, in.JobID, in.Prompt, in.Model, string(in.AssetType), string(domain.StatusPending))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return domain.Asset{}, domain.ErrDuplicateJob
		}
		return domain.Asset{}, domain.NewPersistenceError("create asset", err)
	}

	s.logger.Debug("Asset created", slog.String("job_id", in.JobID), slog.Int64("asset_id", row.ID))
	return row.toDomain()
}

func (s *Store) FindReusable(ctx context.Context, prompt, model string, assetType domain.AssetType) (domain.Asset, error) {
	query := `
		SELECT ` + assetColumns + `
		FROM assets
		WHERE prompt = $1 AND model = $2 AND asset_type = $3 AND status <> $4
		ORDER BY id DESC
		LIMIT 1`

	return s.getOne(ctx, "find reusable", query, prompt, model, string(assetType), string(domain.StatusFailed))
}

func (s *Store) GetByID(ctx context.Context, id int64) (domain.Asset, error) {
	query := `SELECT ` + assetColumns + ` FROM assets WHERE id = $1`
	return s.getOne(ctx, "get asset", query, id)
}

func (s *Store) GetByJobID(ctx context.Context, jobID string) (domain.Asset, error) {
	query := `SELECT ` + assetColumns + ` FROM assets WHERE job_id = $1`
	return s.getOne(ctx, "get asset by job", query, jobID)
}

func (s *Store) GetByJobIDs(ctx context.Context, jobIDs []string) ([]domain.Asset, error) {
	if len(jobIDs) == 0 {
		return nil, nil
	}
	query := `SELECT ` + assetColumns + ` FROM assets WHERE job_id = ANY($1)`
	return s.selectMany(ctx, "get assets by jobs", query, pq.Array(jobIDs))
}

// UpdateStatus runs the forward-only write in its own short transaction. The
// WHERE guard makes the write a no-op when the row has moved past the target.
func (s *Store) UpdateStatus(ctx context.Context, jobID string, u domain.StatusUpdate) (domain.Asset, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return domain.Asset{}, domain.NewPersistenceError("begin status update", err)
	}
	defer tx.Rollback()

	query := `
		UPDATE assets
		SET status = $2,
			file_path = COALESCE($3, file_path),
			width = COALESCE($4, width),
			height = COALESCE($5, height),
			error_message = CASE WHEN $2 = 'COMPLETED' THEN NULL ELSE COALESCE($6, error_message) END,
			updated_at = NOW()
		WHERE job_id = $1 AND status = ANY($7)
		RETURNING ` + assetColumns

	var row assetRow
	err = tx.GetContext(ctx, &row, query,
		jobID,
		string(u.Status),
		nullString(u.FilePath),
		nullInt(u.Width),
		nullInt(u.Height),
		nullString(u.ErrorMessage),
		pq.Array(statusStrings(domain.PredecessorsOf(u.Status))),
	)
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if err := tx.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM assets WHERE job_id = $1)`, jobID); err != nil {
			return domain.Asset{}, domain.NewPersistenceError("check asset", err)
		}
		if !exists {
			return domain.Asset{}, domain.ErrNotFound
		}
		return domain.Asset{}, domain.ErrInvalidTransition
	}
	if err != nil {
		return domain.Asset{}, domain.NewPersistenceError("update status", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.Asset{}, domain.NewPersistenceError("commit status update", err)
	}
	return row.toDomain()
}

func (s *Store) UpdateMetadata(ctx context.Context, jobID string, u domain.MetadataUpdate) (domain.Asset, error) {
	var embedding any
	if len(u.Embedding) > 0 {
		v := pgvector.NewVector(u.Embedding)
		embedding = &v
	}

	query := `
		UPDATE assets
		SET search_document = COALESCE($2, search_document),
			embedding = COALESCE($3, embedding),
			updated_at = NOW()
		WHERE job_id = $1
		RETURNING ` + assetColumns

	var row assetRow
	err := s.db.GetContext(ctx, &row, query, jobID, nullString(u.SearchDocument), embedding)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Asset{}, domain.ErrNotFound
	}
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Constraint == "embedding_requires_document" {
			return domain.Asset{}, domain.NewValidationError("embedding requires a search document")
		}
		return domain.Asset{}, domain.NewPersistenceError("update metadata", err)
	}
	return row.toDomain()
}

func (s *Store) List(ctx context.Context, cursor *int64, limit int) ([]domain.Asset, error) {
	if cursor != nil {
		query := `
			SELECT ` + assetColumns + `
			FROM assets
			WHERE status <> $1 AND id < $2
			ORDER BY id DESC
			LIMIT $3`
		return s.selectMany(ctx, "list assets", query, string(domain.StatusFailed), *cursor, limit)
	}

	query := `
		SELECT ` + assetColumns + `
		FROM assets
		WHERE status <> $1
		ORDER BY id DESC
		LIMIT $2`
	return s.selectMany(ctx, "list assets", query, string(domain.StatusFailed), limit)
}

func (s *Store) NearestByVector(ctx context.Context, vector []float32, limit int) ([]domain.ScoredAsset, error) {
	query := `
		SELECT ` + assetColumns + `, embedding <=> $1 AS score
		FROM assets
		WHERE embedding IS NOT NULL
		ORDER BY embedding <=> $1
		LIMIT $2`

	return s.selectScored(ctx, "vector search", query, pgvector.NewVector(vector), limit)
}

func (s *Store) MatchKeyword(ctx context.Context, query string, limit int) ([]domain.ScoredAsset, error) {
	q := `
		SELECT ` + assetColumns + `,
			ts_rank_cd(to_tsvector('simple', prompt || ' ' || coalesce(search_document, '')),
				websearch_to_tsquery('simple', $1)) AS score
		FROM assets
		WHERE to_tsvector('simple', prompt || ' ' || coalesce(search_document, ''))
			@@ websearch_to_tsquery('simple', $1)
		ORDER BY score DESC, id DESC
		LIMIT $2`

	return s.selectScored(ctx, "keyword search", q, query, limit)
}

func (s *Store) ListInFlight(ctx context.Context, updatedBefore time.Time) ([]domain.Asset, error) {
	statuses := pq.Array(statusStrings(domain.InFlightStatuses))
	if updatedBefore.IsZero() {
		query := `SELECT ` + assetColumns + ` FROM assets WHERE status = ANY($1) ORDER BY id`
		return s.selectMany(ctx, "list in-flight", query, statuses)
	}

	query := `
		SELECT ` + assetColumns + `
		FROM assets
		WHERE status = ANY($1) AND updated_at < $2
		ORDER BY id`
	return s.selectMany(ctx, "list stale", query, statuses, updatedBefore)
}

func (s *Store) FailJobs(ctx context.Context, ids []int64, message string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query := `
		UPDATE assets
		SET status = $1, error_message = $2, updated_at = NOW()
		WHERE id = ANY($3) AND status = ANY($4)`

	res, err := s.db.ExecContext(ctx, query,
		string(domain.StatusFailed),
		message,
		pq.Array(ids),
		pq.Array(statusStrings(domain.InFlightStatuses)),
	)
	if err != nil {
		return 0, domain.NewPersistenceError("fail jobs", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, domain.NewPersistenceError("fail jobs", err)
	}
	return n, nil
}

func (s *Store) getOne(ctx context.Context, op, query string, args ...any) (domain.Asset, error) {
	var row assetRow
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Asset{}, domain.ErrNotFound
		}
		return domain.Asset{}, domain.NewPersistenceError(op, err)
	}
	return row.toDomain()
}

func (s *Store) selectMany(ctx context.Context, op, query string, args ...any) ([]domain.Asset, error) {
	var rows []assetRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, domain.NewPersistenceError(op, err)
	}

	out := make([]domain.Asset, 0, len(rows))
	for _, r := range rows {
		a, err := r.toDomain()
		if err != nil {
			return nil, fmt.Errorf("%s: asset %d: %w", op, r.ID, err)
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *Store) selectScored(ctx context.Context, op, query string, args ...any) ([]domain.ScoredAsset, error) {
	var rows []scoredRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, domain.NewPersistenceError(op, err)
	}

	out := make([]domain.ScoredAsset, 0, len(rows))
	for _, r := range rows {
		a, err := r.toDomain()
		if err != nil {
			return nil, fmt.Errorf("%s: asset %d: %w", op, r.ID, err)
		}
		out = append(out, domain.ScoredAsset{Asset: a, Score: r.Score})
	}
	return out, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func statusStrings(statuses []domain.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

var _ domain.RecordStore = (*Store)(nil)
