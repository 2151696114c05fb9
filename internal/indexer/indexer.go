// Package indexer enriches completed assets with a search document and an
// embedding so they can be found by hybrid search.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gabriel-vasile/mimetype"

	"github.com/cuongbtq/asset-forge/internal/domain"
)

// DefaultMaxFileBytes keeps description payloads under upstream request limits.
const DefaultMaxFileBytes int64 = 20 * 1024 * 1024

// Indexer runs the describe and embed stages for one asset.
type Indexer struct {
	store        domain.RecordStore
	files        domain.FileStore
	describer    domain.Describer
	encoder      domain.Encoder
	maxFileBytes int64
	logger       *slog.Logger
}

// New creates an Indexer. maxFileBytes <= 0 selects DefaultMaxFileBytes.
func New(store domain.RecordStore, files domain.FileStore, describer domain.Describer, encoder domain.Encoder, maxFileBytes int64, logger *slog.Logger) *Indexer {
	if maxFileBytes <= 0 {
		maxFileBytes = DefaultMaxFileBytes
	}
	return &Indexer{
		store:        store,
		files:        files,
		describer:    describer,
		encoder:      encoder,
		maxFileBytes: maxFileBytes,
		logger:       logger,
	}
}

// Index enriches the asset owned by jobID.
func (ix *Indexer) Index(ctx context.Context, jobID string) error {
	asset, err := ix.store.GetByJobID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load asset %s: %w", jobID, err)
	}
	return ix.index(ctx, asset)
}

// IndexByID enriches the asset with the given record id.
func (ix *Indexer) IndexByID(ctx context.Context, id int64) error {
	asset, err := ix.store.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load asset %d: %w", id, err)
	}
	return ix.index(ctx, asset)
}

// index is safe to run repeatedly: a stored document is reused and an
// existing embedding for an unchanged document is kept.
func (ix *Indexer) index(ctx context.Context, asset domain.Asset) error {
	logger := ix.logger.With(slog.Int64("asset_id", asset.ID), slog.String("job_id", asset.JobID))

	if asset.FilePath == nil || *asset.FilePath == "" {
		logger.Warn("Asset has no output file, skipping indexing")
		return nil
	}

	size, err := ix.files.Size(ctx, *asset.FilePath)
	if errors.Is(err, domain.ErrNotFound) {
		logger.Warn("Output file is missing, skipping indexing", slog.String("file_path", *asset.FilePath))
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat output file: %w", err)
	}
	if size > ix.maxFileBytes {
		logger.Warn("Output file too large, skipping indexing",
			slog.Int64("size", size),
			slog.Int64("max_file_bytes", ix.maxFileBytes),
		)
		return nil
	}

	var document string
	if asset.SearchDocument != nil && *asset.SearchDocument != "" {
		logger.Debug("Reusing stored search document")
		document = *asset.SearchDocument
	} else {
		data, err := ix.files.Read(ctx, *asset.FilePath)
		if err != nil {
			return fmt.Errorf("read output file: %w", err)
		}
		mediaType := mimetype.Detect(data).String()
		logger.Info("Describing asset", slog.String("media_type", mediaType))

		document, err = ix.describer.Describe(ctx, data, mediaType)
		if err != nil {
			return fmt.Errorf("describe asset: %w", err)
		}
		if document == "" {
			return domain.NewExternalServiceError("describer", errors.New("empty description"))
		}
	}

	if len(asset.Embedding) > 0 && asset.SearchDocument != nil && *asset.SearchDocument == document {
		logger.Debug("Embedding already current, nothing to do")
		return nil
	}

	vector, err := ix.encoder.Encode(ctx, document)
	if err != nil {
		return fmt.Errorf("embed search document: %w", err)
	}

	if _, err := ix.store.UpdateMetadata(ctx, asset.JobID, domain.MetadataUpdate{
		SearchDocument: &document,
		Embedding:      vector,
	}); err != nil {
		return fmt.Errorf("store metadata: %w", err)
	}

	logger.Info("Asset indexed", slog.Int("dimension", len(vector)))
	return nil
}
