package mock

import (
	"bytes"
	"context"
	"image/png"
	"testing"

	"github.com/gabriel-vasile/mimetype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/asset-forge/internal/domain"
)

func TestBackend_GenerateImage(t *testing.T) {
	b := New(16)

	first, err := b.GenerateImage(context.Background(), "sunset")
	require.NoError(t, err)
	second, err := b.GenerateImage(context.Background(), "sunset")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	cfg, err := png.DecodeConfig(bytes.NewReader(first))
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Width)
	assert.Equal(t, 16, cfg.Height)
}

func TestBackend_GenerateVideoIsMP4(t *testing.T) {
	b := New(0)

	data, err := b.GenerateVideo(context.Background(), "waves")
	require.NoError(t, err)
	assert.Equal(t, "video/mp4", mimetype.Detect(data).String())

	_, err = b.GenerateVideoFromImage(context.Background(), "waves", nil, "image/png")
	assert.True(t, domain.IsValidation(err))
}

func TestBackend_Describe(t *testing.T) {
	text, err := New(0).Describe(context.Background(), []byte("abc"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "A generated image/png asset of 3 bytes.", text)
}
