package search

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/asset-forge/internal/domain"
	"github.com/cuongbtq/asset-forge/internal/store/memstore"
)

func scored(ids ...int64) []domain.ScoredAsset {
	out := make([]domain.ScoredAsset, len(ids))
	for i, id := range ids {
		out[i] = domain.ScoredAsset{Asset: domain.Asset{ID: id}}
	}
	return out
}

func TestFuse_ReciprocalRankScores(t *testing.T) {
	// id 1 is 1st in the vector list and 3rd in the keyword list.
	vector := scored(1, 2)
	keyword := scored(4, 5, 1)

	fused := Fuse(vector, keyword, RRFK)
	require.Len(t, fused, 4)

	scores := map[int64]float64{}
	for _, f := range fused {
		scores[f.Asset.ID] = f.Score
	}
	assert.InDelta(t, 1.0/61+1.0/63, scores[1], 1e-12)
	assert.InDelta(t, 1.0/62, scores[2], 1e-12)
	assert.InDelta(t, 1.0/61, scores[4], 1e-12)
	assert.InDelta(t, 1.0/62, scores[5], 1e-12)

	assert.Equal(t, int64(1), fused[0].Asset.ID)
	for i := 1; i < len(fused); i++ {
		assert.GreaterOrEqual(t, fused[i-1].Score, fused[i].Score)
	}
}

func TestFuse_Empty(t *testing.T) {
	assert.Empty(t, Fuse(nil, nil, RRFK))
}

type fixedEncoder struct {
	vectors map[string][]float32
	err     error
}

func (e fixedEncoder) Encode(_ context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.vectors[text], nil
}

func (e fixedEncoder) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Encode(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func seedStore(t *testing.T) *memstore.Store {
	t.Helper()
	store := memstore.New()
	ctx := context.Background()

	add := func(jobID, prompt string, doc *string, emb []float32) {
		_, err := store.Create(ctx, domain.NewAsset{JobID: jobID, Prompt: prompt, Model: domain.ImageModel, AssetType: domain.AssetTypeImage})
		require.NoError(t, err)
		if doc != nil || emb != nil {
			_, err = store.UpdateMetadata(ctx, jobID, domain.MetadataUpdate{SearchDocument: doc, Embedding: emb})
			require.NoError(t, err)
		}
	}
	add("cat", "a cat on a sofa", domain.StringPtr("an orange cat"), []float32{1, 0})
	add("dog", "a dog in the park", domain.StringPtr("a brown dog"), []float32{0, 1})
	add("plain", "sunset over the sea", nil, nil)
	add("unrelated", "city skyline", nil, nil)
	return store
}

func newEngine(store domain.RecordStore, enc domain.Encoder) *Engine {
	return NewEngine(store, enc, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSearch_VectorOnlyScoresSimilarity(t *testing.T) {
	store := seedStore(t)
	engine := newEngine(store, fixedEncoder{vectors: map[string][]float32{"kitten": {1, 0}}})

	got, err := engine.Search(context.Background(), "kitten", 10, false)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "cat", got[0].Asset.JobID)
	assert.InDelta(t, 1.0, got[0].Score, 1e-6)
	assert.InDelta(t, 0.0, got[1].Score, 1e-6)
}

func TestSearch_HybridIncludesKeywordOnlyMatches(t *testing.T) {
	store := seedStore(t)
	engine := newEngine(store, fixedEncoder{vectors: map[string][]float32{"sunset": {1, 0}}})

	got, err := engine.Search(context.Background(), "sunset", 10, true)
	require.NoError(t, err)

	ids := make([]string, 0, len(got))
	for _, g := range got {
		ids = append(ids, g.Asset.JobID)
	}
	assert.Contains(t, ids, "plain")
	assert.Contains(t, ids, "cat")
	assert.NotContains(t, ids, "unrelated")
}

func TestSearch_HybridLimit(t *testing.T) {
	store := seedStore(t)
	engine := newEngine(store, fixedEncoder{vectors: map[string][]float32{"dog": {0, 1}}})

	got, err := engine.Search(context.Background(), "dog", 1, true)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "dog", got[0].Asset.JobID)
	assert.InDelta(t, 1.0/61+1.0/61, got[0].Score, 1e-12)
}

func TestSearch_Errors(t *testing.T) {
	engine := newEngine(memstore.New(), fixedEncoder{err: domain.NewExternalServiceError("embedding", errors.New("down"))})

	_, err := engine.Search(context.Background(), "  ", 10, true)
	assert.True(t, domain.IsValidation(err))

	_, err = engine.Search(context.Background(), "q", 10, true)
	assert.True(t, domain.IsExternal(err))
}
