package queue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/asset-forge/internal/domain"
)

type mockTransport struct {
	mock.Mock
}

func (m *mockTransport) PublishWithRetry(ctx context.Context, routingKey string, body []byte, contentType string) error {
	args := m.Called(ctx, routingKey, body, contentType)
	return args.Error(0)
}

func (m *mockTransport) PublishDelayed(ctx context.Context, routingKey string, body []byte, contentType string, delay time.Duration) error {
	args := m.Called(ctx, routingKey, body, contentType, delay)
	return args.Error(0)
}

var keys = RoutingKeys{Generation: "generation", Indexing: "analysis"}

func newPublisher(tr Transport) *Publisher {
	return NewPublisher(tr, keys, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestPublisher_EnqueueGenerationImmediate(t *testing.T) {
	tr := &mockTransport{}
	tr.On("PublishWithRetry", mock.Anything, "generation", mock.MatchedBy(func(body []byte) bool {
		var task domain.GenerationTask
		require.NoError(t, json.Unmarshal(body, &task))
		return task.JobID == "job-1" && task.Mode == domain.ModeTextToImage && task.RetryCount == 0
	}), contentTypeJSON).Return(nil).Once()

	err := newPublisher(tr).EnqueueGeneration(context.Background(), domain.GenerationTask{
		JobID:  "job-1",
		Prompt: "cat",
		Mode:   domain.ModeTextToImage,
	}, 0)
	require.NoError(t, err)
	tr.AssertExpectations(t)
}

func TestPublisher_EnqueueGenerationDelayed(t *testing.T) {
	tr := &mockTransport{}
	tr.On("PublishDelayed", mock.Anything, "generation", mock.Anything, contentTypeJSON, 4*time.Second).Return(nil).Once()

	err := newPublisher(tr).EnqueueGeneration(context.Background(), domain.GenerationTask{JobID: "job-1", RetryCount: 2}, 4*time.Second)
	require.NoError(t, err)
	tr.AssertExpectations(t)
	tr.AssertNotCalled(t, "PublishWithRetry", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPublisher_EnqueueIndexingError(t *testing.T) {
	tr := &mockTransport{}
	tr.On("PublishWithRetry", mock.Anything, "analysis", mock.Anything, contentTypeJSON).Return(errors.New("channel closed"))

	err := newPublisher(tr).EnqueueIndexing(context.Background(), domain.IndexTask{JobID: "job-9"}, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job-9")
	assert.Contains(t, err.Error(), "channel closed")
}
