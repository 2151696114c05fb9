package indexer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/asset-forge/internal/domain"
	"github.com/cuongbtq/asset-forge/internal/filestore"
	genmock "github.com/cuongbtq/asset-forge/internal/generation/mock"
	"github.com/cuongbtq/asset-forge/internal/store/memstore"
)

type mockDescriber struct{ mock.Mock }

func (m *mockDescriber) Describe(ctx context.Context, data []byte, mediaType string) (string, error) {
	args := m.Called(ctx, data, mediaType)
	return args.String(0), args.Error(1)
}

type mockEncoder struct{ mock.Mock }

func (m *mockEncoder) Encode(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	v, _ := args.Get(0).([]float32)
	return v, args.Error(1)
}

func (m *mockEncoder) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	v, _ := args.Get(0).([][]float32)
	return v, args.Error(1)
}

type fixture struct {
	store     *memstore.Store
	files     *filestore.LocalStore
	describer *mockDescriber
	encoder   *mockEncoder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	files, err := filestore.NewLocalStore(t.TempDir(), "http://files")
	require.NoError(t, err)
	return &fixture{
		store:     memstore.New(),
		files:     files,
		describer: &mockDescriber{},
		encoder:   &mockEncoder{},
	}
}

func (f *fixture) indexer(maxBytes int64) *Indexer {
	return New(f.store, f.files, f.describer, f.encoder, maxBytes, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// completedAsset stores a real PNG and marks the job COMPLETED.
func (f *fixture) completedAsset(t *testing.T, jobID string) domain.Asset {
	t.Helper()
	ctx := context.Background()
	_, err := f.store.Create(ctx, domain.NewAsset{
		JobID: jobID, Prompt: "red square", Model: domain.ImageModel, AssetType: domain.AssetTypeImage,
	})
	require.NoError(t, err)

	data, err := genmock.New(8).GenerateImage(ctx, "red square")
	require.NoError(t, err)
	location, err := f.files.Save(ctx, jobID+".png", data)
	require.NoError(t, err)

	asset, err := f.store.UpdateStatus(ctx, jobID, domain.StatusUpdate{
		Status:   domain.StatusCompleted,
		FilePath: &location,
	})
	require.NoError(t, err)
	return asset
}

func TestIndex_DescribesAndEmbedsOnce(t *testing.T) {
	f := newFixture(t)
	asset := f.completedAsset(t, "job-1")
	ctx := context.Background()

	f.describer.On("Describe", mock.Anything, mock.Anything, "image/png").Return("a red square", nil).Once()
	f.encoder.On("Encode", mock.Anything, "a red square").Return([]float32{1, 0, 0}, nil).Once()

	ix := f.indexer(0)
	require.NoError(t, ix.Index(ctx, "job-1"))
	require.NoError(t, ix.IndexByID(ctx, asset.ID))

	f.describer.AssertNumberOfCalls(t, "Describe", 1)
	f.encoder.AssertNumberOfCalls(t, "Encode", 1)

	got, err := f.store.GetByJobID(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, got.SearchDocument)
	assert.Equal(t, "a red square", *got.SearchDocument)
	assert.Equal(t, []float32{1, 0, 0}, got.Embedding)
	assert.Equal(t, domain.StatusCompleted, got.Status)
}

func TestIndex_ReusesDocumentWhenEmbeddingMissing(t *testing.T) {
	f := newFixture(t)
	f.completedAsset(t, "job-2")
	ctx := context.Background()

	doc := "existing description"
	_, err := f.store.UpdateMetadata(ctx, "job-2", domain.MetadataUpdate{SearchDocument: &doc})
	require.NoError(t, err)

	f.encoder.On("Encode", mock.Anything, doc).Return([]float32{0, 1}, nil).Once()

	require.NoError(t, f.indexer(0).Index(ctx, "job-2"))
	f.describer.AssertNotCalled(t, "Describe", mock.Anything, mock.Anything, mock.Anything)
	f.encoder.AssertExpectations(t)
}

func TestIndex_SkipsOversizedFile(t *testing.T) {
	f := newFixture(t)
	f.completedAsset(t, "job-3")

	require.NoError(t, f.indexer(10).Index(context.Background(), "job-3"))
	f.describer.AssertNotCalled(t, "Describe", mock.Anything, mock.Anything, mock.Anything)
	f.encoder.AssertNotCalled(t, "Encode", mock.Anything, mock.Anything)
}

func TestIndex_SkipsAssetWithoutFile(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.Create(context.Background(), domain.NewAsset{
		JobID: "job-4", Prompt: "p", Model: domain.ImageModel, AssetType: domain.AssetTypeImage,
	})
	require.NoError(t, err)

	require.NoError(t, f.indexer(0).Index(context.Background(), "job-4"))
	f.describer.AssertNotCalled(t, "Describe", mock.Anything, mock.Anything, mock.Anything)
}

func TestIndex_UnknownJob(t *testing.T) {
	f := newFixture(t)
	err := f.indexer(0).Index(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestIndex_DescribeFailureLeavesRecordUntouched(t *testing.T) {
	f := newFixture(t)
	f.completedAsset(t, "job-5")
	ctx := context.Background()

	f.describer.On("Describe", mock.Anything, mock.Anything, mock.Anything).
		Return("", domain.NewExternalServiceError("vertex", errors.New("quota"))).Once()

	err := f.indexer(0).Index(ctx, "job-5")
	require.Error(t, err)
	assert.True(t, domain.IsExternal(err))

	got, err := f.store.GetByJobID(ctx, "job-5")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Nil(t, got.SearchDocument)
	assert.Nil(t, got.Embedding)
}
