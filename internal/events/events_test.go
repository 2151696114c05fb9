package events

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/asset-forge/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDecodeEvent(t *testing.T) {
	url := "http://files/job-1.png"
	payload, err := json.Marshal(domain.StatusEvent{
		JobID:     "job-1",
		Status:    domain.StatusCompleted,
		ResultURL: &url,
		UpdatedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	ev, err := DecodeEvent(payload)
	require.NoError(t, err)
	assert.Equal(t, "job-1", ev.JobID)
	assert.Equal(t, url, *ev.ResultURL)
	assert.Nil(t, ev.Error)

	_, err = DecodeEvent([]byte(`{"job_id":"x","status":"RUNNING"}`))
	assert.True(t, domain.IsValidation(err))

	_, err = DecodeEvent([]byte(`{"status":"FAILED"}`))
	assert.True(t, domain.IsValidation(err))

	_, err = DecodeEvent([]byte(`not json`))
	assert.Error(t, err)
}

func TestRedisBroadcaster_NotConnected(t *testing.T) {
	b := NewRedisBroadcaster("redis://localhost:6379/0", 0, discardLogger())
	assert.Nil(t, b.Redis())

	// Publish swallows the failure.
	b.Publish(context.Background(), domain.TopicAssetUpdates, domain.StatusEvent{JobID: "job-1"})

	_, err := b.Subscribe(context.Background(), domain.TopicAssetUpdates)
	assert.ErrorIs(t, err, domain.ErrNotConnected)
	assert.NoError(t, b.Close())
}
