package memory

import (
	"context"
	"sort"
	"sync"

	"market-rollup/internal/domain"
	"market-rollup/internal/storage"
)

// PointStore is an in-memory implementation of storage.PointStore.
type PointStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Point // keyed by content hash
}

// NewPointStore creates a new in-memory point store.
func NewPointStore() *PointStore {
	return &PointStore{
		data: make(map[string]*domain.Point),
	}
}

// Insert adds a new point. Returns ErrDuplicateKey if exists.
func (s *PointStore) Insert(_ context.Context, p *domain.Point) error {
	if p == nil || p.ID == "" || p.MarketKey == "" || p.SeriesKey == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[p.ID]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *p
	s.data[p.ID] = &copy
	return nil
}

// InsertBulk adds multiple points, skipping redelivered duplicates.
func (s *PointStore) InsertBulk(_ context.Context, points []*domain.Point) error {
	if len(points) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range points {
		if p == nil || p.ID == "" || p.MarketKey == "" || p.SeriesKey == "" {
			return storage.ErrInvalidInput
		}
		if _, exists := s.data[p.ID]; exists {
			continue
		}
		copy := *p
		s.data[p.ID] = &copy
	}

	return nil
}

// GetByMarketRange retrieves points for a market with timestamp in
// [from, to), ordered by (timestamp, version) ASC.
func (s *PointStore) GetByMarketRange(_ context.Context, marketKey string, from, to int64) ([]*domain.Point, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Point
	for _, p := range s.data {
		if p.MarketKey == marketKey && p.Timestamp >= from && p.Timestamp < to {
			copy := *p
			result = append(result, &copy)
		}
	}

	sortPoints(result)
	return result, nil
}

// GetBySeries retrieves all points for one (market_key, series_key),
// ordered by (timestamp, version) ASC.
func (s *PointStore) GetBySeries(_ context.Context, marketKey, seriesKey string) ([]*domain.Point, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Point
	for _, p := range s.data {
		if p.MarketKey == marketKey && p.SeriesKey == seriesKey {
			copy := *p
			result = append(result, &copy)
		}
	}

	sortPoints(result)
	return result, nil
}

func sortPoints(points []*domain.Point) {
	sort.Slice(points, func(i, j int) bool {
		if points[i].Timestamp != points[j].Timestamp {
			return points[i].Timestamp < points[j].Timestamp
		}
		return points[i].Version < points[j].Version
	})
}

// GetTimeBounds returns the min and max point timestamp for a market.
func (s *PointStore) GetTimeBounds(_ context.Context, marketKey string) (int64, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		found    bool
		min, max int64
	)
	for _, p := range s.data {
		if p.MarketKey != marketKey {
			continue
		}
		if !found || p.Timestamp < min {
			min = p.Timestamp
		}
		if !found || p.Timestamp > max {
			max = p.Timestamp
		}
		found = true
	}

	if !found {
		return 0, 0, storage.ErrNotFound
	}
	return min, max, nil
}

// RetagMarketKey rewrites the market_key of matching points.
func (s *PointStore) RetagMarketKey(_ context.Context, oldKey, newKey string) (int64, error) {
	if oldKey == "" || newKey == "" {
		return 0, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for _, p := range s.data {
		if p.MarketKey == oldKey {
			p.MarketKey = newKey
			count++
		}
	}
	return count, nil
}

// DeleteByMarket removes all points for a market.
func (s *PointStore) DeleteByMarket(_ context.Context, marketKey string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for id, p := range s.data {
		if p.MarketKey == marketKey {
			delete(s.data, id)
			count++
		}
	}
	return count, nil
}

var _ storage.PointStore = (*PointStore)(nil)
