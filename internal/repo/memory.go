package repo

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/miradorstack/mirador-incident/internal/models"
)

// MemoryStore is an ephemeral Store used when no persistent store is reachable.
type MemoryStore struct {
	mu      sync.RWMutex
	metrics map[string][]models.MetricSample
	changes []models.ChangeEvent
	byID    map[string]int
	alerts  []models.Alert
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		metrics: make(map[string][]models.MetricSample),
		byID:    make(map[string]int),
	}
}

// Kind identifies the implementation.
func (s *MemoryStore) Kind() string { return "memory" }

// InsertMetric appends a sample.
func (s *MemoryStore) InsertMetric(ctx context.Context, sample models.MetricSample) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics[sample.Service] = append(s.metrics[sample.Service], sample)
	return nil
}

// InsertChange appends a change event; change ids are unique.
func (s *MemoryStore) InsertChange(ctx context.Context, change models.ChangeEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[change.ChangeID]; exists {
		return fmt.Errorf("%w: change %s already recorded", models.ErrInvalidInput, change.ChangeID)
	}
	s.byID[change.ChangeID] = len(s.changes)
	s.changes = append(s.changes, change)
	return nil
}

// InsertAlert appends an alert.
func (s *MemoryStore) InsertAlert(ctx context.Context, alert models.Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, alert)
	return nil
}

// FindMetrics returns the samples matching q, sorted and limited.
func (s *MemoryStore) FindMetrics(ctx context.Context, q MetricQuery) ([]models.MetricSample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	matched := make([]models.MetricSample, 0)
	for _, sample := range s.metrics[q.Service] {
		if q.matches(sample) {
			matched = append(matched, sample)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if q.Order == OrderDescending {
			return matched[i].Timestamp.After(matched[j].Timestamp)
		}
		return matched[i].Timestamp.Before(matched[j].Timestamp)
	})
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

// FindChange looks a change up by id.
func (s *MemoryStore) FindChange(ctx context.Context, changeID string) (models.ChangeEvent, error) {
	if err := ctx.Err(); err != nil {
		return models.ChangeEvent{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byID[changeID]
	if !ok {
		return models.ChangeEvent{}, fmt.Errorf("%w: %s", models.ErrChangeNotFound, changeID)
	}
	return s.changes[idx], nil
}

// ListChanges returns the most recent changes first.
func (s *MemoryStore) ListChanges(ctx context.Context, limit int) ([]models.ChangeEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := append([]models.ChangeEvent(nil), s.changes...)
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return truncate(out, limit), nil
}

// ListAlerts returns the most recent alerts first.
func (s *MemoryStore) ListAlerts(ctx context.Context, limit int) ([]models.Alert, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := append([]models.Alert(nil), s.alerts...)
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return truncate(out, limit), nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
