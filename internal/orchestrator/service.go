// Package orchestrator accepts generation requests and serves job reads.
package orchestrator

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/cuongbtq/asset-forge/internal/domain"
)

const (
	MaxPromptLength  = 1000
	MaxBatchStatusID = 100
	DefaultPageSize  = 20
	MaxPageSize      = 100
)

// SubmitRequest is one generation request.
type SubmitRequest struct {
	Prompt          string
	Mode            string
	SourceImage     []byte
	SourceImageMIME string
}

// SubmitResult identifies the job that will serve the request.
type SubmitResult struct {
	JobID        string
	Status       domain.Status
	Deduplicated bool
}

// AssetView is a record together with its resolved result URL.
type AssetView struct {
	domain.Asset
	ResultURL *string
}

// Service is the generation orchestrator.
type Service struct {
	store  domain.RecordStore
	queue  domain.TaskQueue
	files  domain.FileStore
	logger *slog.Logger
	newID  func() string
}

// NewService creates a new orchestrator Service
func NewService(store domain.RecordStore, queue domain.TaskQueue, files domain.FileStore, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		queue:  queue,
		files:  files,
		logger: logger,
		newID:  uuid.NewString,
	}
}

// Submit validates req, returns an existing job for an identical request,
// or records a new PENDING job and enqueues its first attempt.
//
// The insert and the enqueue are not atomic. When the enqueue fails the
// record stays PENDING until the reconciler fails it.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	mode, err := s.validate(req)
	if err != nil {
		return SubmitResult{}, err
	}
	logger := s.logger.With(slog.String("mode", string(mode)))

	if !mode.IsImageConditioned() {
		existing, err := s.store.FindReusable(ctx, req.Prompt, mode.Model(), mode.AssetType())
		switch {
		case err == nil:
			logger.Info("Reusing existing job",
				slog.String("job_id", existing.JobID),
				slog.String("status", string(existing.Status)),
			)
			return SubmitResult{JobID: existing.JobID, Status: existing.Status, Deduplicated: true}, nil
		case !errors.Is(err, domain.ErrNotFound):
			return SubmitResult{}, fmt.Errorf("dedup lookup: %w", err)
		}
	}

	asset, err := s.store.Create(ctx, domain.NewAsset{
		JobID:     s.newID(),
		Prompt:    req.Prompt,
		Model:     mode.Model(),
		AssetType: mode.AssetType(),
	})
	if err != nil {
		return SubmitResult{}, fmt.Errorf("create job: %w", err)
	}
	logger = logger.With(slog.String("job_id", asset.JobID))

	task := domain.GenerationTask{
		JobID:  asset.JobID,
		Prompt: req.Prompt,
		Mode:   mode,
	}
	if len(req.SourceImage) > 0 {
		task.SourceImage = base64.StdEncoding.EncodeToString(req.SourceImage)
		task.SourceImageMIME = req.SourceImageMIME
	}

	if err := s.queue.EnqueueGeneration(ctx, task, 0); err != nil {
		logger.Error("Job recorded but enqueue failed", slog.Any("error", err))
		return SubmitResult{}, fmt.Errorf("enqueue job %s: %w", asset.JobID, err)
	}

	logger.Info("Job submitted")
	return SubmitResult{JobID: asset.JobID, Status: asset.Status}, nil
}

func (s *Service) validate(req SubmitRequest) (domain.Mode, error) {
	n := utf8.RuneCountInString(req.Prompt)
	if n == 0 {
		return "", domain.NewValidationError("prompt is required")
	}
	if n > MaxPromptLength {
		return "", domain.NewValidationError("prompt must be at most %d characters", MaxPromptLength)
	}

	raw := req.Mode
	if raw == "" {
		raw = string(domain.ModeTextToImage)
	}
	mode, err := domain.ParseMode(raw)
	if err != nil {
		return "", domain.NewValidationError("unsupported mode %q", req.Mode)
	}
	return mode, nil
}

// GetByID returns one record by its numeric id.
func (s *Service) GetByID(ctx context.Context, id int64) (AssetView, error) {
	asset, err := s.store.GetByID(ctx, id)
	if err != nil {
		return AssetView{}, err
	}
	return s.view(ctx, asset), nil
}

// GetByJobID returns one record by its job id.
func (s *Service) GetByJobID(ctx context.Context, jobID string) (AssetView, error) {
	asset, err := s.store.GetByJobID(ctx, jobID)
	if err != nil {
		return AssetView{}, err
	}
	return s.view(ctx, asset), nil
}

// BatchStatus returns the records for jobIDs in client order. Duplicate ids
// are collapsed and unknown ids are omitted.
func (s *Service) BatchStatus(ctx context.Context, jobIDs []string) ([]AssetView, error) {
	if len(jobIDs) > MaxBatchStatusID {
		return nil, domain.NewValidationError("at most %d job ids per request", MaxBatchStatusID)
	}

	seen := make(map[string]struct{}, len(jobIDs))
	ordered := make([]string, 0, len(jobIDs))
	for _, id := range jobIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ordered = append(ordered, id)
	}
	if len(ordered) == 0 {
		return []AssetView{}, nil
	}

	assets, err := s.store.GetByJobIDs(ctx, ordered)
	if err != nil {
		return nil, fmt.Errorf("batch status: %w", err)
	}
	byJob := make(map[string]domain.Asset, len(assets))
	for _, a := range assets {
		byJob[a.JobID] = a
	}

	out := make([]AssetView, 0, len(assets))
	for _, id := range ordered {
		if a, ok := byJob[id]; ok {
			out = append(out, s.view(ctx, a))
		}
	}
	return out, nil
}

// List returns one page of non-FAILED records with id below cursor.
func (s *Service) List(ctx context.Context, cursor *int64, limit int) ([]AssetView, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	assets, err := s.store.List(ctx, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	return s.views(ctx, assets), nil
}

// Views attaches result URLs to assets.
func (s *Service) Views(ctx context.Context, assets []domain.Asset) []AssetView {
	return s.views(ctx, assets)
}

func (s *Service) views(ctx context.Context, assets []domain.Asset) []AssetView {
	out := make([]AssetView, 0, len(assets))
	for _, a := range assets {
		out = append(out, s.view(ctx, a))
	}
	return out
}

func (s *Service) view(ctx context.Context, asset domain.Asset) AssetView {
	v := AssetView{Asset: asset}
	if asset.Status != domain.StatusCompleted || asset.FilePath == nil || s.files == nil {
		return v
	}
	url, err := s.files.Resolve(ctx, *asset.FilePath)
	if err != nil {
		s.logger.Warn("Failed to resolve result url",
			slog.String("job_id", asset.JobID),
			slog.Any("error", err),
		)
		return v
	}
	v.ResultURL = &url
	return v
}
