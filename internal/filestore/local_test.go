package filestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/asset-forge/internal/domain"
)

func TestLocalStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewLocalStore(dir, "http://localhost:8080/files/")
	require.NoError(t, err)

	loc, err := store.Save(ctx, "job-1.png", []byte("pixels"))
	require.NoError(t, err)
	assert.Equal(t, "job-1.png", loc)

	_, err = os.Stat(filepath.Join(dir, "job-1.png.part"))
	assert.True(t, os.IsNotExist(err))

	size, err := store.Size(ctx, loc)
	require.NoError(t, err)
	assert.Equal(t, int64(6), size)

	data, err := store.Read(ctx, loc)
	require.NoError(t, err)
	assert.Equal(t, []byte("pixels"), data)

	url, err := store.Resolve(ctx, loc)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/files/job-1.png", url)
}

func TestLocalStore_Missing(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "")
	require.NoError(t, err)

	_, err = store.Size(context.Background(), "nope.mp4")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = store.Read(context.Background(), "nope.mp4")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCleanKey(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "a.png", want: "a.png"},
		{in: "/nested/b.mp4", want: "nested/b.mp4"},
		{in: `win\path.png`, want: "win/path.png"},
		{in: "./x/../y.png", want: "y.png"},
		{in: "../escape.png", wantErr: true},
		{in: "  ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := cleanKey(tt.in)
			if tt.wantErr {
				assert.True(t, domain.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
