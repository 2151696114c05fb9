// Package embedding turns text into L2-normalized vectors.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/cuongbtq/asset-forge/internal/domain"
)

const serviceName = "embedding"

// Backend is the model runtime behind the service.
type Backend interface {
	// Load prepares the model. Called at most once per successful load.
	Load(ctx context.Context) error
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Config tunes the service.
type Config struct {
	Dimension   int
	Concurrency int
}

// Service is created once per process and shared. The backend is loaded
// lazily on first use; concurrent first calls load it exactly once.
// Inference runs on a bounded set of goroutines so callers only wait on a
// channel and stay responsive to cancellation.
type Service struct {
	backend   Backend
	dimension int
	sem       *semaphore.Weighted
	logger    *slog.Logger

	mu     sync.Mutex
	loaded bool
}

// NewService creates a Service
func NewService(backend Backend, cfg Config, logger *slog.Logger) *Service {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	return &Service{
		backend:   backend,
		dimension: cfg.Dimension,
		sem:       semaphore.NewWeighted(int64(cfg.Concurrency)),
		logger:    logger,
	}
}

func (s *Service) ensureLoaded(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loaded {
		return nil
	}
	s.logger.Info("Loading embedding model")
	if err := s.backend.Load(ctx); err != nil {
		return domain.NewExternalServiceError(serviceName, fmt.Errorf("load model: %w", err))
	}
	s.loaded = true
	return nil
}

// Warmup loads the model and runs one inference so the first real request
// does not pay the startup cost.
func (s *Service) Warmup(ctx context.Context) error {
	if _, err := s.Encode(ctx, "warmup"); err != nil {
		return err
	}
	s.logger.Info("Embedding model warmed up", slog.Int("dimension", s.dimension))
	return nil
}

// Encode embeds a single text.
func (s *Service) Encode(ctx context.Context, text string) ([]float32, error) {
	vecs, err := s.EncodeBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EncodeBatch embeds texts, one normalized vector per input.
func (s *Service) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	type result struct {
		vecs [][]float32
		err  error
	}
	done := make(chan result, 1)
	go func() {
		defer s.sem.Release(1)
		vecs, err := s.backend.Embed(ctx, texts)
		done <- result{vecs: vecs, err: err}
	}()

	var res result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-done:
	}

	if res.err != nil {
		return nil, domain.NewExternalServiceError(serviceName, res.err)
	}
	if len(res.vecs) != len(texts) {
		return nil, domain.NewExternalServiceError(serviceName,
			fmt.Errorf("got %d vectors for %d inputs", len(res.vecs), len(texts)))
	}

	for i, v := range res.vecs {
		if s.dimension > 0 && len(v) != s.dimension {
			s.logger.Warn("Embedding dimension mismatch",
				slog.Int("expected", s.dimension),
				slog.Int("actual", len(v)),
			)
		}
		if err := Normalize(v); err != nil {
			return nil, domain.NewExternalServiceError(serviceName, err)
		}
		res.vecs[i] = v
	}
	return res.vecs, nil
}

// ErrZeroVector is returned when a vector cannot be normalized.
var ErrZeroVector = errors.New("zero-length embedding vector")

// Normalize scales v in place to unit L2 norm.
func Normalize(v []float32) error {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return ErrZeroVector
	}
	norm := math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return nil
}

var _ domain.Encoder = (*Service)(nil)
