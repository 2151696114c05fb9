// Package memstore is an in-memory RecordStore for tests and local runs.
package memstore

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cuongbtq/asset-forge/internal/domain"
)

// Store keeps records in memory. It mirrors the postgres store's guards.
type Store struct {
	mu      sync.RWMutex
	nextID  int64
	byID    map[int64]*domain.Asset
	byJobID map[string]int64
	now     func() time.Time
}

// New creates an empty Store
func New() *Store {
	return &Store{
		byID:    make(map[int64]*domain.Asset),
		byJobID: make(map[string]int64),
		now:     time.Now,
	}
}

// SetClock overrides the timestamp source.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) Create(_ context.Context, in domain.NewAsset) (domain.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byJobID[in.JobID]; ok {
		return domain.Asset{}, domain.ErrDuplicateJob
	}
	s.nextID++
	ts := s.now()
	a := &domain.Asset{
		ID:        s.nextID,
		JobID:     in.JobID,
		Prompt:    in.Prompt,
		Model:     in.Model,
		AssetType: in.AssetType,
		Status:    domain.StatusPending,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	s.byID[a.ID] = a
	s.byJobID[a.JobID] = a.ID
	return clone(a), nil
}

func (s *Store) FindReusable(_ context.Context, prompt, model string, assetType domain.AssetType) (domain.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *domain.Asset
	for _, a := range s.byID {
		if a.Prompt != prompt || a.Model != model || a.AssetType != assetType || a.Status == domain.StatusFailed {
			continue
		}
		if best == nil || a.ID > best.ID {
			best = a
		}
	}
	if best == nil {
		return domain.Asset{}, domain.ErrNotFound
	}
	return clone(best), nil
}

func (s *Store) GetByID(_ context.Context, id int64) (domain.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.byID[id]
	if !ok {
		return domain.Asset{}, domain.ErrNotFound
	}
	return clone(a), nil
}

func (s *Store) GetByJobID(_ context.Context, jobID string) (domain.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byJobID[jobID]
	if !ok {
		return domain.Asset{}, domain.ErrNotFound
	}
	return clone(s.byID[id]), nil
}

func (s *Store) GetByJobIDs(_ context.Context, jobIDs []string) ([]domain.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Asset, 0, len(jobIDs))
	seen := make(map[string]bool, len(jobIDs))
	for _, jobID := range jobIDs {
		if seen[jobID] {
			continue
		}
		seen[jobID] = true
		if id, ok := s.byJobID[jobID]; ok {
			out = append(out, clone(s.byID[id]))
		}
	}
	return out, nil
}

func (s *Store) UpdateStatus(_ context.Context, jobID string, u domain.StatusUpdate) (domain.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byJobID[jobID]
	if !ok {
		return domain.Asset{}, domain.ErrNotFound
	}
	a := s.byID[id]
	if !a.Status.CanTransitionTo(u.Status) {
		return domain.Asset{}, domain.ErrInvalidTransition
	}
	a.Status = u.Status
	if u.FilePath != nil {
		a.FilePath = u.FilePath
	}
	if u.Width != nil {
		a.Width = u.Width
	}
	if u.Height != nil {
		a.Height = u.Height
	}
	if u.ErrorMessage != nil {
		a.ErrorMessage = u.ErrorMessage
	}
	if u.Status == domain.StatusCompleted {
		a.ErrorMessage = nil
	}
	a.UpdatedAt = s.now()
	return clone(a), nil
}

// WriteFailed is the direct fallback write. It shares the forward-only guard.
func (s *Store) WriteFailed(ctx context.Context, jobID, message string) (time.Time, error) {
	a, err := s.UpdateStatus(ctx, jobID, domain.StatusUpdate{
		Status:       domain.StatusFailed,
		ErrorMessage: &message,
	})
	if err != nil {
		return time.Time{}, err
	}
	return a.UpdatedAt, nil
}

func (s *Store) UpdateMetadata(_ context.Context, jobID string, u domain.MetadataUpdate) (domain.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byJobID[jobID]
	if !ok {
		return domain.Asset{}, domain.ErrNotFound
	}
	a := s.byID[id]
	if len(u.Embedding) > 0 && u.SearchDocument == nil && a.SearchDocument == nil {
		return domain.Asset{}, domain.NewValidationError("embedding requires a search document")
	}
	if u.SearchDocument != nil {
		a.SearchDocument = u.SearchDocument
	}
	if len(u.Embedding) > 0 {
		a.Embedding = append([]float32(nil), u.Embedding...)
	}
	a.UpdatedAt = s.now()
	return clone(a), nil
}

func (s *Store) List(_ context.Context, cursor *int64, limit int) ([]domain.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Asset, 0, limit)
	for _, a := range s.sortedDesc() {
		if len(out) >= limit {
			break
		}
		if a.Status == domain.StatusFailed {
			continue
		}
		if cursor != nil && a.ID >= *cursor {
			continue
		}
		out = append(out, clone(a))
	}
	return out, nil
}

func (s *Store) NearestByVector(_ context.Context, vector []float32, limit int) ([]domain.ScoredAsset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.ScoredAsset
	for _, a := range s.sortedDesc() {
		if len(a.Embedding) == 0 {
			continue
		}
		out = append(out, domain.ScoredAsset{Asset: clone(a), Score: cosineDistance(vector, a.Embedding)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score < out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MatchKeyword scores records by the fraction of query tokens found in the
// prompt and search document.
func (s *Store) MatchKeyword(_ context.Context, query string, limit int) ([]domain.ScoredAsset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil, nil
	}

	var out []domain.ScoredAsset
	for _, a := range s.sortedDesc() {
		text := a.Prompt
		if a.SearchDocument != nil {
			text += " " + *a.SearchDocument
		}
		tokens := make(map[string]bool)
		for _, tok := range strings.Fields(strings.ToLower(text)) {
			tokens[strings.Trim(tok, ".,;:!?\"'()")] = true
		}
		hits := 0
		for _, term := range terms {
			if tokens[term] {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		out = append(out, domain.ScoredAsset{Asset: clone(a), Score: float64(hits) / float64(len(terms))})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListInFlight(_ context.Context, updatedBefore time.Time) ([]domain.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Asset
	for _, a := range s.sortedDesc() {
		if a.Status.IsTerminal() {
			continue
		}
		if !updatedBefore.IsZero() && !a.UpdatedAt.Before(updatedBefore) {
			continue
		}
		out = append(out, clone(a))
	}
	return out, nil
}

func (s *Store) FailJobs(_ context.Context, ids []int64, message string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	ts := s.now()
	for _, id := range ids {
		a, ok := s.byID[id]
		if !ok || a.Status.IsTerminal() {
			continue
		}
		msg := message
		a.Status = domain.StatusFailed
		a.ErrorMessage = &msg
		a.UpdatedAt = ts
		n++
	}
	return n, nil
}

func (s *Store) sortedDesc() []*domain.Asset {
	out := make([]*domain.Asset, 0, len(s.byID))
	for _, a := range s.byID {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func clone(a *domain.Asset) domain.Asset {
	c := *a
	if a.Embedding != nil {
		c.Embedding = append([]float32(nil), a.Embedding...)
	}
	return c
}

func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) {
		return 2
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

var (
	_ domain.RecordStore        = (*Store)(nil)
	_ domain.DirectStatusWriter = (*Store)(nil)
)
