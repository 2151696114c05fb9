// Package search ranks assets by vector similarity, optionally fused with
// keyword relevance.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/cuongbtq/asset-forge/internal/domain"
)

const (
	// RRFK damps the weight of top ranks in reciprocal rank fusion.
	RRFK = 60
	// CandidateLimit caps each ranking before fusion.
	CandidateLimit = 100

	DefaultLimit = 20
	MaxLimit     = 100
)

// Engine answers search queries.
type Engine struct {
	store   domain.RecordStore
	encoder domain.Encoder
	logger  *slog.Logger
}

// NewEngine creates a new search Engine
func NewEngine(store domain.RecordStore, encoder domain.Encoder, logger *slog.Logger) *Engine {
	return &Engine{store: store, encoder: encoder, logger: logger}
}

// Search returns at most limit assets, best first. In vector-only mode the
// score is the cosine similarity; in hybrid mode it is the fused RRF score.
func (e *Engine) Search(ctx context.Context, query string, limit int, hybrid bool) ([]domain.ScoredAsset, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, domain.NewValidationError("query is required")
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	if !hybrid {
		return e.vectorOnly(ctx, query, limit)
	}

	var vectorHits, keywordHits []domain.ScoredAsset
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vector, err := e.encoder.Encode(gctx, query)
		if err != nil {
			return fmt.Errorf("embed query: %w", err)
		}
		vectorHits, err = e.store.NearestByVector(gctx, vector, CandidateLimit)
		if err != nil {
			return fmt.Errorf("vector ranking: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		keywordHits, err = e.store.MatchKeyword(gctx, query, CandidateLimit)
		if err != nil {
			return fmt.Errorf("keyword ranking: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fused := Fuse(vectorHits, keywordHits, RRFK)
	if len(fused) > limit {
		fused = fused[:limit]
	}
	e.logger.Debug("Hybrid search",
		slog.String("query", query),
		slog.Int("vector_candidates", len(vectorHits)),
		slog.Int("keyword_candidates", len(keywordHits)),
		slog.Int("results", len(fused)),
	)
	return fused, nil
}

func (e *Engine) vectorOnly(ctx context.Context, query string, limit int) ([]domain.ScoredAsset, error) {
	vector, err := e.encoder.Encode(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := e.store.NearestByVector(ctx, vector, limit)
	if err != nil {
		return nil, fmt.Errorf("vector ranking: %w", err)
	}
	out := make([]domain.ScoredAsset, len(hits))
	for i, h := range hits {
		out[i] = domain.ScoredAsset{Asset: h.Asset, Score: 1 - h.Score}
	}
	return out, nil
}

// Fuse combines two best-first rankings with reciprocal rank fusion. A
// record contributes 1/(rank+k) for each list it appears in, rank being
// 1-based. Ties keep the vector ranking's order, then the keyword ranking's.
func Fuse(vector, keyword []domain.ScoredAsset, k int) []domain.ScoredAsset {
	type entry struct {
		asset domain.Asset
		score float64
		order int
	}
	entries := make(map[int64]*entry, len(vector)+len(keyword))
	order := 0
	add := func(list []domain.ScoredAsset) {
		for i, hit := range list {
			contribution := 1 / float64(i+1+k)
			if e, ok := entries[hit.Asset.ID]; ok {
				e.score += contribution
				continue
			}
			entries[hit.Asset.ID] = &entry{asset: hit.Asset, score: contribution, order: order}
			order++
		}
	}
	add(vector)
	add(keyword)

	all := make([]*entry, 0, len(entries))
	for _, e := range entries {
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		return all[i].order < all[j].order
	})

	out := make([]domain.ScoredAsset, len(all))
	for i, e := range all {
		out[i] = domain.ScoredAsset{Asset: e.asset, Score: e.score}
	}
	return out
}
