package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/asset-forge/internal/api/dto"
	"github.com/cuongbtq/asset-forge/internal/api/handler"
	"github.com/cuongbtq/asset-forge/internal/domain"
	"github.com/cuongbtq/asset-forge/internal/events/eventstest"
	"github.com/cuongbtq/asset-forge/internal/filestore"
	"github.com/cuongbtq/asset-forge/internal/orchestrator"
	"github.com/cuongbtq/asset-forge/internal/search"
	"github.com/cuongbtq/asset-forge/internal/store/memstore"
	"github.com/cuongbtq/asset-forge/internal/usage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type nopQueue struct {
	mu    sync.Mutex
	tasks []domain.GenerationTask
}

func (q *nopQueue) EnqueueGeneration(_ context.Context, task domain.GenerationTask, _ time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *nopQueue) EnqueueIndexing(context.Context, domain.IndexTask, time.Duration) error {
	return nil
}

type unitEncoder struct{}

func (unitEncoder) Encode(context.Context, string) ([]float32, error) { return []float32{1, 0}, nil }

func (unitEncoder) EncodeBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

type testServer struct {
	engine *gin.Engine
	store  *memstore.Store
	files  *filestore.LocalStore
	hub    *eventstest.Hub
	queue  *nopQueue
}

func newTestServer(t *testing.T, checks ...handler.HealthCheck) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memstore.New()
	files, err := filestore.NewLocalStore(t.TempDir(), "http://localhost/files")
	require.NoError(t, err)
	hub := eventstest.NewHub(logger)
	queue := &nopQueue{}

	deps := &handler.Dependencies{
		Logger:          logger,
		Assets:          orchestrator.NewService(store, queue, files, logger),
		Search:          search.NewEngine(store, unitEncoder{}, logger),
		Broadcaster:     hub,
		Files:           files,
		HealthChecks:    checks,
		StreamKeepAlive: time.Hour,
		LocalFilesDir:   files.Root(),
	}
	return &testServer{engine: SetupRouter(deps), store: store, files: files, hub: hub, queue: queue}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func multipartRequest(t *testing.T, fields map[string]string, image []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if image != nil {
		fw, err := mw.CreateFormFile("source_image", "source.png")
		require.NoError(t, err)
		_, err = fw.Write(image)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/assets/generate", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestGenerate_DeduplicatesIdenticalRequests(t *testing.T) {
	s := newTestServer(t)

	w := s.do(multipartRequest(t, map[string]string{"prompt": "a fox", "mode": "text-to-image"}, nil))
	require.Equal(t, http.StatusOK, w.Code)
	first := decode[dto.JobResponse](t, w)
	assert.Equal(t, "PENDING", first.Status)
	assert.Empty(t, first.Message)

	w = s.do(multipartRequest(t, map[string]string{"prompt": "a fox"}, nil))
	require.Equal(t, http.StatusOK, w.Code)
	second := decode[dto.JobResponse](t, w)
	assert.Equal(t, first.JobID, second.JobID)
	assert.NotEmpty(t, second.Message)

	assert.Len(t, s.queue.tasks, 1)
}

func TestGenerate_ImageToVideoCarriesUpload(t *testing.T) {
	s := newTestServer(t)
	png := []byte("\x89PNG\r\n\x1a\n0000")

	w := s.do(multipartRequest(t, map[string]string{"prompt": "animate", "mode": "image-to-video"}, png))
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, s.queue.tasks, 1)
	assert.NotEmpty(t, s.queue.tasks[0].SourceImage)
	assert.Equal(t, domain.ModeImageToVideo, s.queue.tasks[0].Mode)
}

func TestGenerate_ValidationErrors(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		fields map[string]string
	}{
		{name: "missing prompt", fields: map[string]string{"mode": "text-to-image"}},
		{name: "bad mode", fields: map[string]string{"prompt": "p", "mode": "text-to-audio"}},
		{name: "prompt too long", fields: map[string]string{"prompt": strings.Repeat("a", 1001)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(multipartRequest(t, tt.fields, nil))
			assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
			body := decode[dto.ErrorResponse](t, w)
			assert.False(t, body.Success)
			assert.Nil(t, body.Data)
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestGetAsset(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	created, err := s.store.Create(ctx, domain.NewAsset{JobID: "job-1", Prompt: "p", Model: domain.ImageModel, AssetType: domain.AssetTypeImage})
	require.NoError(t, err)

	location, err := s.files.Save(ctx, "job-1.png", []byte("data"))
	require.NoError(t, err)
	w, h := 4, 4
	_, err = s.store.UpdateStatus(ctx, "job-1", domain.StatusUpdate{Status: domain.StatusCompleted, FilePath: &location, Width: &w, Height: &h})
	require.NoError(t, err)

	resp := s.do(httptest.NewRequest(http.MethodGet, "/api/assets/job/job-1", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	asset := decode[dto.AssetDTO](t, resp)
	assert.Equal(t, created.ID, asset.ID)
	assert.Equal(t, "COMPLETED", asset.Status)
	require.NotNil(t, asset.ResultURL)
	assert.Equal(t, "http://localhost/files/job-1.png", *asset.ResultURL)

	resp = s.do(httptest.NewRequest(http.MethodGet, "/api/assets/1", nil))
	assert.Equal(t, http.StatusOK, resp.Code)

	resp = s.do(httptest.NewRequest(http.MethodGet, "/api/assets/999", nil))
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = s.do(httptest.NewRequest(http.MethodGet, "/api/assets/abc", nil))
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = s.do(httptest.NewRequest(http.MethodGet, "/api/assets/job/nope", nil))
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = s.do(httptest.NewRequest(http.MethodGet, "/api/assets/1/download", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "data", resp.Body.String())
	assert.Contains(t, resp.Header().Get("Content-Disposition"), "generated-1.png")

	resp = s.do(httptest.NewRequest(http.MethodGet, "/files/job-1.png", nil))
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestListAssets_Pagination(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		_, err := s.store.Create(ctx, domain.NewAsset{JobID: id, Prompt: id, Model: domain.ImageModel, AssetType: domain.AssetTypeImage})
		require.NoError(t, err)
	}

	var seen []int64
	cursor := ""
	for i := 0; i < 5; i++ {
		url := "/api/assets?limit=2"
		if cursor != "" {
			url += "&cursor=" + cursor
		}
		w := s.do(httptest.NewRequest(http.MethodGet, url, nil))
		require.Equal(t, http.StatusOK, w.Code)
		page := decode[dto.ListAssetsResponse](t, w)
		if len(page.Assets) == 0 {
			break
		}
		for _, a := range page.Assets {
			seen = append(seen, a.ID)
		}
		cursor = page.NextCursor
	}
	assert.Equal(t, []int64{5, 4, 3, 2, 1}, seen)

	w := s.do(httptest.NewRequest(http.MethodGet, "/api/assets?cursor=zero", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListAssets_CursorBelowMinimum(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		_, err := s.store.Create(ctx, domain.NewAsset{JobID: id, Prompt: id, Model: domain.ImageModel, AssetType: domain.AssetTypeImage})
		require.NoError(t, err)
	}

	for _, cursor := range []string{"1", "0", "-5"} {
		t.Run("cursor "+cursor, func(t *testing.T) {
			w := s.do(httptest.NewRequest(http.MethodGet, "/api/assets?limit=3&cursor="+cursor, nil))
			require.Equal(t, http.StatusOK, w.Code)
			page := decode[dto.ListAssetsResponse](t, w)
			assert.Empty(t, page.Assets)
			assert.Empty(t, page.NextCursor)
		})
	}
}

func TestBatchStatus(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		_, err := s.store.Create(ctx, domain.NewAsset{JobID: id, Prompt: id, Model: domain.ImageModel, AssetType: domain.AssetTypeImage})
		require.NoError(t, err)
	}

	body := `{"task_ids":["b","x","a","b"]}`
	w := s.do(httptest.NewRequest(http.MethodPost, "/api/assets/batch-status", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[dto.BatchStatusResponse](t, w)
	require.Len(t, resp.Tasks, 2)
	assert.Equal(t, "b", resp.Tasks[0].JobID)
	assert.Equal(t, "a", resp.Tasks[1].JobID)

	ids := make([]string, 101)
	for i := range ids {
		ids[i] = "x"
	}
	payload, _ := json.Marshal(map[string]any{"task_ids": ids})
	w = s.do(httptest.NewRequest(http.MethodPost, "/api/assets/batch-status", bytes.NewReader(payload)))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestSearchAssets(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	_, err := s.store.Create(ctx, domain.NewAsset{JobID: "a", Prompt: "red kite", Model: domain.ImageModel, AssetType: domain.AssetTypeImage})
	require.NoError(t, err)
	_, err = s.store.UpdateMetadata(ctx, "a", domain.MetadataUpdate{SearchDocument: domain.StringPtr("a red kite"), Embedding: []float32{1, 0}})
	require.NoError(t, err)

	w := s.do(httptest.NewRequest(http.MethodGet, "/api/assets/search?q=kite", nil))
	require.Equal(t, http.StatusOK, w.Code)
	hits := decode[[]dto.AssetDTO](t, w)
	require.Len(t, hits, 1)
	require.NotNil(t, hits[0].SimilarityScore)
	assert.InDelta(t, 2.0/61, *hits[0].SimilarityScore, 1e-9)

	w = s.do(httptest.NewRequest(http.MethodGet, "/api/assets/search?q=kite&hybrid=false", nil))
	require.Equal(t, http.StatusOK, w.Code)
	hits = decode[[]dto.AssetDTO](t, w)
	require.Len(t, hits, 1)
	assert.InDelta(t, 1.0, *hits[0].SimilarityScore, 1e-6)

	w = s.do(httptest.NewRequest(http.MethodGet, "/api/assets/search", nil))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestStream_DeliversStatusEvents(t *testing.T) {
	s := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/assets/stream", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		s.engine.ServeHTTP(w, req)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return s.hub.Subscribers(domain.TopicAssetUpdates) == 1
	}, time.Second, 5*time.Millisecond)

	s.hub.Publish(context.Background(), domain.TopicAssetUpdates, domain.StatusEvent{
		JobID: "job-1", Status: domain.StatusProcessing, UpdatedAt: time.Now(),
	})

	// Give the handler a moment to write before the client goes away.
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	body := w.Body.String()
	assert.Contains(t, w.Header().Get("Content-Type"), "text/event-stream")
	assert.Contains(t, body, "event:message")
	assert.Contains(t, body, `"job_id":"job-1"`)
	assert.Contains(t, body, `"status":"PROCESSING"`)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, handler.HealthCheck{Name: "database", Check: func(context.Context) error { return nil }})
	w := s.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	s = newTestServer(t, handler.HealthCheck{Name: "redis", Check: func(context.Context) error { return errors.New("down") }})
	w = s.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "down")
}

func TestListModels(t *testing.T) {
	srv := newTestServer(t)

	w := srv.do(httptest.NewRequest(http.MethodGet, "/api/system/models?asset_type=video", nil))
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[dto.ModelsResponse](t, w)
	assert.Equal(t, "VIDEO", resp.AssetType)
	assert.Len(t, resp.Models, 8)
	assert.Contains(t, resp.Models, dto.ModelInfo{Name: domain.VideoModel, Model: domain.VideoModel})

	w = srv.do(httptest.NewRequest(http.MethodGet, "/api/system/models?asset_type=IMAGE", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[dto.ModelsResponse](t, w).Models, 7)

	for _, q := range []string{"", "?asset_type=AUDIO"} {
		w = srv.do(httptest.NewRequest(http.MethodGet, "/api/system/models"+q, nil))
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code, q)
	}
}

type stubStats struct {
	stats usage.Stats
	err   error
}

func (s stubStats) Stats(context.Context) (usage.Stats, error) { return s.stats, s.err }

func TestSystemStats(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tests := []struct {
		name   string
		reader handler.StatsReader
		want   dto.StatsResponse
	}{
		{
			name:   "counters",
			reader: stubStats{stats: usage.Stats{Active: 1, Completed: 9, Limit: 1}},
			want:   dto.StatsResponse{Success: true, Data: dto.UsageStats{ActiveRequests: 1, CompletedRequests: 9, LimitRequests: 1}},
		},
		{
			name:   "redis down",
			reader: stubStats{err: errors.New("connection refused")},
			want:   dto.StatsResponse{Data: dto.UsageStats{LimitRequests: 1}},
		},
		{
			name: "no counter configured",
			want: dto.StatsResponse{Data: dto.UsageStats{LimitRequests: 1}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := SetupRouter(&handler.Dependencies{Logger: logger, Usage: tt.reader})
			w := httptest.NewRecorder()
			engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/system/stats", nil))

			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.want, decode[dto.StatsResponse](t, w))
		})
	}
}
