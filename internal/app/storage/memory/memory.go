package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/yiwugan/sort-smart/internal/app/domain/advice"
	"github.com/yiwugan/sort-smart/internal/app/domain/guide"
	"github.com/yiwugan/sort-smart/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local
// development, where running without PostgreSQL keeps the service
// self-contained.
type Store struct {
	mu     sync.RWMutex
	nextID int64
	guides map[string]guide.Guide
	advice map[string]advice.Record
}

var _ storage.GuideStore = (*Store)(nil)
var _ storage.AdviceStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID: 1,
		guides: make(map[string]guide.Guide),
		advice: make(map[string]advice.Record),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

// GuideStore implementation ----------------------------------------------------

func (s *Store) UpsertGuide(_ context.Context, g guide.Guide) (guide.Guide, error) {
	if g.Key == "" {
		return guide.Guide{}, fmt.Errorf("guide key required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	g.UpdatedAt = time.Now().UTC()
	s.guides[g.Key] = g
	return g, nil
}

func (s *Store) GetGuide(_ context.Context, key string) (guide.Guide, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.guides[key]
	if !ok {
		return guide.Guide{}, fmt.Errorf("guide %s: %w", key, storage.ErrNotFound)
	}
	return g, nil
}

func (s *Store) ListGuides(_ context.Context) ([]guide.Guide, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]guide.Guide, 0, len(s.guides))
	for _, g := range s.guides {
		result = append(result, g)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result, nil
}

func (s *Store) DeleteGuide(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.guides[key]; !ok {
		return fmt.Errorf("guide %s: %w", key, storage.ErrNotFound)
	}
	delete(s.guides, key)
	return nil
}

// AdviceStore implementation ---------------------------------------------------

func (s *Store) CreateAdvice(_ context.Context, rec advice.Record) (advice.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = s.nextIDLocked()
	} else if _, exists := s.advice[rec.ID]; exists {
		return advice.Record{}, fmt.Errorf("advice %s already exists", rec.ID)
	}

	rec.CreatedAt = time.Now().UTC()
	s.advice[rec.ID] = rec
	return rec, nil
}

func (s *Store) GetAdvice(_ context.Context, id string) (advice.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.advice[id]
	if !ok {
		return advice.Record{}, fmt.Errorf("advice %s: %w", id, storage.ErrNotFound)
	}
	return rec, nil
}

func (s *Store) ListAdvice(_ context.Context, limit int) ([]advice.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]advice.Record, 0, len(s.advice))
	for _, rec := range s.advice {
		result = append(result, rec)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CountAdviceByStatus(_ context.Context) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int64)
	for _, rec := range s.advice {
		counts[rec.Status]++
	}
	return counts, nil
}
