//go:build integration

package postgres

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/asset-forge/internal/domain"
)

const embeddingDim = 1024

// openTestStore connects to the database named by ASSET_FORGE_TEST_DATABASE_URL
// and applies the schema. Tests use fresh job ids so runs do not collide.
func openTestStore(t *testing.T) (*Store, *sqlx.DB) {
	t.Helper()
	dsn := os.Getenv("ASSET_FORGE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("Skipping PostgreSQL integration test: ASSET_FORGE_TEST_DATABASE_URL not set")
	}

	db, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := NewStore(db, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, store.EnsureSchema(ctx))
	return store, db
}

func createJob(t *testing.T, store *Store, prompt string) domain.Asset {
	t.Helper()
	a, err := store.Create(context.Background(), domain.NewAsset{
		JobID:     "it-" + uuid.NewString(),
		Prompt:    prompt,
		Model:     domain.ImageModel,
		AssetType: domain.AssetTypeImage,
	})
	require.NoError(t, err)
	return a
}

func ptr[T any](v T) *T { return &v }

func TestIntegration_CreateRejectsDuplicateJob(t *testing.T) {
	store, _ := openTestStore(t)
	a := createJob(t, store, "a lighthouse")
	assert.Equal(t, domain.StatusPending, a.Status)

	_, err := store.Create(context.Background(), domain.NewAsset{
		JobID: a.JobID, Prompt: "other", Model: domain.ImageModel, AssetType: domain.AssetTypeImage,
	})
	assert.ErrorIs(t, err, domain.ErrDuplicateJob)
}

func TestIntegration_UpdateStatusIsForwardOnly(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	a := createJob(t, store, "a lighthouse")

	_, err := store.UpdateStatus(ctx, a.JobID, domain.StatusUpdate{Status: domain.StatusProcessing})
	require.NoError(t, err)
	done, err := store.UpdateStatus(ctx, a.JobID, domain.StatusUpdate{
		Status:   domain.StatusCompleted,
		FilePath: ptr(a.JobID + ".png"),
		Width:    ptr(64),
		Height:   ptr(64),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, done.Status)

	for _, next := range []domain.Status{domain.StatusPending, domain.StatusProcessing, domain.StatusFailed} {
		_, err := store.UpdateStatus(ctx, a.JobID, domain.StatusUpdate{Status: next, ErrorMessage: ptr("late")})
		assert.ErrorIs(t, err, domain.ErrInvalidTransition, next)
	}

	got, err := store.GetByJobID(ctx, a.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Nil(t, got.ErrorMessage)
	assert.Equal(t, 64, *got.Width)

	_, err = store.UpdateStatus(ctx, "it-missing-"+uuid.NewString(), domain.StatusUpdate{Status: domain.StatusFailed})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestIntegration_CompletionClearsAnnotation(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	a := createJob(t, store, "a lighthouse")

	annotated, err := store.UpdateStatus(ctx, a.JobID, domain.StatusUpdate{
		Status:       domain.StatusProcessing,
		ErrorMessage: ptr("retrying (1/3): 503"),
	})
	require.NoError(t, err)
	require.NotNil(t, annotated.ErrorMessage)

	// PROCESSING to PROCESSING without a message keeps the annotation.
	same, err := store.UpdateStatus(ctx, a.JobID, domain.StatusUpdate{Status: domain.StatusProcessing})
	require.NoError(t, err)
	require.NotNil(t, same.ErrorMessage)

	done, err := store.UpdateStatus(ctx, a.JobID, domain.StatusUpdate{
		Status:       domain.StatusCompleted,
		FilePath:     ptr(a.JobID + ".png"),
		ErrorMessage: ptr("ignored"),
	})
	require.NoError(t, err)
	assert.Nil(t, done.ErrorMessage)
}

func TestIntegration_DirectWriterSharesGuard(t *testing.T) {
	store, db := openTestStore(t)
	ctx := context.Background()
	w := NewDirectWriter(db, 5*time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))

	a := createJob(t, store, "a lighthouse")
	updatedAt, err := w.WriteFailed(ctx, a.JobID, "worker lost")
	require.NoError(t, err)
	assert.False(t, updatedAt.IsZero())

	_, err = w.WriteFailed(ctx, a.JobID, "again")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	got, err := store.GetByJobID(ctx, a.JobID)
	require.NoError(t, err)
	assert.Equal(t, "worker lost", *got.ErrorMessage)
}

func TestIntegration_EmbeddingRequiresDocument(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	a := createJob(t, store, "a lighthouse")

	vec := make([]float32, embeddingDim)
	vec[0] = 1

	_, err := store.UpdateMetadata(ctx, a.JobID, domain.MetadataUpdate{Embedding: vec})
	assert.True(t, domain.IsValidation(err), "got %v", err)

	got, err := store.UpdateMetadata(ctx, a.JobID, domain.MetadataUpdate{
		SearchDocument: ptr("a white lighthouse on a cliff"),
		Embedding:      vec,
	})
	require.NoError(t, err)
	require.NotNil(t, got.SearchDocument)

	hits, err := store.NearestByVector(ctx, vec, 50)
	require.NoError(t, err)
	var found bool
	for _, h := range hits {
		if h.Asset.JobID == a.JobID {
			found = true
			assert.InDelta(t, 0, h.Score, 1e-6)
		}
	}
	assert.True(t, found)
}

func TestIntegration_MatchKeywordRanksByRelevance(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	// A token unique to this run keeps earlier rows out of the result.
	token := "kw" + strings.ReplaceAll(uuid.NewString(), "-", "")
	strong := createJob(t, store, token+" harbor at dusk")
	weak := createJob(t, store, "mountain lake")
	createJob(t, store, "unrelated desert")

	_, err := store.UpdateMetadata(ctx, strong.JobID, domain.MetadataUpdate{SearchDocument: ptr(token + " boats " + token)})
	require.NoError(t, err)
	_, err = store.UpdateMetadata(ctx, weak.JobID, domain.MetadataUpdate{SearchDocument: ptr("a calm lake, " + token)})
	require.NoError(t, err)

	hits, err := store.MatchKeyword(ctx, token, 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, strong.JobID, hits[0].Asset.JobID)
	assert.Equal(t, weak.JobID, hits[1].Asset.JobID)
	assert.Greater(t, hits[0].Score, hits[1].Score)
}
