package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"market-rollup/internal/dedup"
	"market-rollup/internal/domain"
	"market-rollup/internal/storage"
)

// LatestValueStore is an in-memory implementation of
// storage.LatestValueStore.
type LatestValueStore struct {
	mu   sync.RWMutex
	data map[string]*domain.LatestValue // keyed by natural key
}

// NewLatestValueStore creates a new in-memory latest value store.
func NewLatestValueStore() *LatestValueStore {
	return &LatestValueStore{
		data: make(map[string]*domain.LatestValue),
	}
}

// latestValueKey generates a unique key for a point natural key.
func latestValueKey(marketKey, seriesKey string, timestamp, x int64) string {
	return fmt.Sprintf("%s|%s|%d|%d", marketKey, seriesKey, timestamp, x)
}

// Merge folds one candidate into the store.
func (s *LatestValueStore) Merge(_ context.Context, lv *domain.LatestValue) error {
	if lv == nil || lv.MarketKey == "" || lv.SeriesKey == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.mergeLocked(lv)
	return nil
}

// MergeBulk folds multiple candidates into the store.
func (s *LatestValueStore) MergeBulk(_ context.Context, lvs []*domain.LatestValue) error {
	if len(lvs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, lv := range lvs {
		if lv == nil || lv.MarketKey == "" || lv.SeriesKey == "" {
			return storage.ErrInvalidInput
		}
		s.mergeLocked(lv)
	}

	return nil
}

func (s *LatestValueStore) mergeLocked(lv *domain.LatestValue) {
	key := latestValueKey(lv.MarketKey, lv.SeriesKey, lv.Timestamp, lv.X)
	copy := *lv
	s.data[key] = dedup.Merge(s.data[key], &copy)
}

// Get retrieves the authoritative value for one natural key. Returns
// ErrNotFound if the key has never been written.
func (s *LatestValueStore) Get(_ context.Context, marketKey, seriesKey string, timestamp, x int64) (*domain.LatestValue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lv, exists := s.data[latestValueKey(marketKey, seriesKey, timestamp, x)]
	if !exists {
		return nil, storage.ErrNotFound
	}

	copy := *lv
	return &copy, nil
}

// GetSeries retrieves the authoritative value of every key under one
// (market_key, series_key), ordered by (timestamp, x) ASC.
func (s *LatestValueStore) GetSeries(_ context.Context, marketKey, seriesKey string) ([]*domain.LatestValue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.LatestValue
	for _, lv := range s.data {
		if lv.MarketKey == marketKey && lv.SeriesKey == seriesKey {
			copy := *lv
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Timestamp != result[j].Timestamp {
			return result[i].Timestamp < result[j].Timestamp
		}
		return result[i].X < result[j].X
	})

	return result, nil
}

// DeleteByMarket removes all latest values for a market.
func (s *LatestValueStore) DeleteByMarket(_ context.Context, marketKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, lv := range s.data {
		if lv.MarketKey == marketKey {
			delete(s.data, key)
		}
	}
	return nil
}

var _ storage.LatestValueStore = (*LatestValueStore)(nil)
