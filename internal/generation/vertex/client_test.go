package vertex

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/asset-forge/internal/domain"
)

func newTestClient(srv *httptest.Server) *Client {
	return NewClientWithHTTP(srv.Client(), Config{
		ProjectID:    "proj",
		Region:       "us-central1",
		BaseURL:      srv.URL + "/v1",
		PollInterval: 10 * time.Millisecond,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestGenerateImage(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G'}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/models/"+domain.ImageModel+":predict"))

		var req predictRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "a cat", req.Instances[0].Prompt)

		json.NewEncoder(w).Encode(map[string]any{
			"predictions": []map[string]string{{"bytesBase64Encoded": base64.StdEncoding.EncodeToString(png)}},
		})
	}))
	defer srv.Close()

	data, err := newTestClient(srv).GenerateImage(context.Background(), "a cat")
	require.NoError(t, err)
	assert.Equal(t, png, data)
}

func TestGenerateImage_EmptyPredictionsIsExternal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"predictions":[]}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv).GenerateImage(context.Background(), "a cat")
	assert.True(t, domain.IsExternal(err))
}

func TestGenerateVideo_PollsUntilDone(t *testing.T) {
	video := []byte("mp4-bytes")
	opName := "projects/proj/locations/us-central1/publishers/google/models/" + domain.VideoModel + "/operations/op-1"
	var polls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, ":predictLongRunning"):
			json.NewEncoder(w).Encode(map[string]string{"name": opName})
		case strings.HasSuffix(r.URL.Path, ":fetchPredictOperation"):
			if polls.Add(1) < 3 {
				w.Write([]byte(`{"done":false}`))
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"done": true,
				"response": map[string]any{
					"videos": []map[string]string{{"bytesBase64Encoded": base64.StdEncoding.EncodeToString(video)}},
				},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	data, err := newTestClient(srv).GenerateVideoFromImage(context.Background(), "waves", []byte("img"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, video, data)
	assert.Equal(t, int32(3), polls.Load())
}

func TestGenerateVideo_OperationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, ":predictLongRunning") {
			w.Write([]byte(`{"name":"projects/p/locations/l/publishers/google/models/m/operations/x"}`))
			return
		}
		w.Write([]byte(`{"done":true,"error":{"code":3,"message":"blocked"}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv).GenerateVideo(context.Background(), "waves")
	require.Error(t, err)
	assert.True(t, domain.IsExternal(err))
	assert.Contains(t, err.Error(), "blocked")
}

func TestDescribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, ":generateContent"))
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":" A cat "},{"text":"on a mat."}]}}]}`))
	}))
	defer srv.Close()

	text, err := newTestClient(srv).Describe(context.Background(), []byte("x"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "A cat on a mat.", text)
}

func TestPost_HTTPErrorIsExternal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).Describe(context.Background(), []byte("x"), "")
	require.Error(t, err)
	assert.True(t, domain.IsExternal(err))
	assert.Contains(t, err.Error(), "429")
}

type countingTracker struct {
	started  atomic.Int32
	finished atomic.Int32
}

func (c *countingTracker) Start(context.Context)  { c.started.Add(1) }
func (c *countingTracker) Finish(context.Context) { c.finished.Add(1) }

func TestTracker_CountsOneRequestPerCall(t *testing.T) {
	opName := "projects/proj/locations/us-central1/publishers/google/models/" + domain.VideoModel + "/operations/op-2"
	var polls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, ":predict"):
			w.WriteHeader(http.StatusInternalServerError)
		case strings.HasSuffix(r.URL.Path, ":predictLongRunning"):
			json.NewEncoder(w).Encode(map[string]string{"name": opName})
		case strings.HasSuffix(r.URL.Path, ":fetchPredictOperation"):
			if polls.Add(1) < 2 {
				w.Write([]byte(`{"done":false}`))
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"done":     true,
				"response": map[string]any{"videos": []map[string]string{{"bytesBase64Encoded": base64.StdEncoding.EncodeToString([]byte("v"))}}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	tracker := &countingTracker{}
	client := newTestClient(srv).WithTracker(tracker)

	_, err := client.GenerateVideo(context.Background(), "waves")
	require.NoError(t, err)
	assert.Equal(t, int32(1), tracker.started.Load())
	assert.Equal(t, int32(1), tracker.finished.Load())

	// Failed calls still finish.
	_, err = client.GenerateImage(context.Background(), "a cat")
	require.Error(t, err)
	assert.Equal(t, int32(2), tracker.started.Load())
	assert.Equal(t, int32(2), tracker.finished.Load())
}
