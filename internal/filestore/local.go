// Package filestore persists generated media on disk or in an S3-compatible bucket.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cuongbtq/asset-forge/internal/domain"
)

// LocalStore keeps files under a root directory and resolves them to URLs
// under publicBaseURL, which the API serves statically.
type LocalStore struct {
	root          string
	publicBaseURL string
}

// NewLocalStore creates the root directory if needed
func NewLocalStore(root, publicBaseURL string) (*LocalStore, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("filestore: root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("filestore: ensure root: %w", err)
	}
	return &LocalStore{root: root, publicBaseURL: strings.TrimRight(publicBaseURL, "/")}, nil
}

// Root returns the directory files are written to.
func (s *LocalStore) Root() string {
	return s.root
}

func (s *LocalStore) Save(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key, err := cleanKey(name)
	if err != nil {
		return "", err
	}
	full := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("filestore: ensure directory: %w", err)
	}

	// Write to a temp file first so a crash never leaves a partial output.
	tmp := full + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("filestore: write file: %w", err)
	}
	if err := os.Rename(tmp, full); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("filestore: commit file: %w", err)
	}
	return key, nil
}

func (s *LocalStore) Resolve(_ context.Context, location string) (string, error) {
	key, err := cleanKey(location)
	if err != nil {
		return "", err
	}
	return s.publicBaseURL + "/" + key, nil
}

func (s *LocalStore) Size(_ context.Context, location string) (int64, error) {
	full, err := s.path(location)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(full)
	if errors.Is(err, os.ErrNotExist) {
		return 0, domain.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("filestore: stat: %w", err)
	}
	return info.Size(), nil
}

func (s *LocalStore) Read(_ context.Context, location string) ([]byte, error) {
	full, err := s.path(location)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, os.ErrNotExist) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("filestore: read: %w", err)
	}
	return data, nil
}

func (s *LocalStore) path(location string) (string, error) {
	key, err := cleanKey(location)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

// cleanKey normalizes a key and refuses anything escaping the root.
func cleanKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", domain.NewValidationError("file key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimLeft(strings.TrimPrefix(key, "./"), "/")
	cleaned := filepath.ToSlash(filepath.Clean(key))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", domain.NewValidationError("invalid file key %q", key)
	}
	return cleaned, nil
}

var _ domain.FileStore = (*LocalStore)(nil)
