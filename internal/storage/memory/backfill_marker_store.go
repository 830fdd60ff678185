package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"market-rollup/internal/storage"
)

// BackfillMarkerStore is an in-memory implementation of
// storage.BackfillMarkerStore.
type BackfillMarkerStore struct {
	mu   sync.RWMutex
	data map[string]*storage.BackfillMarker // keyed by (market_key, target)
}

// NewBackfillMarkerStore creates a new in-memory backfill marker store.
func NewBackfillMarkerStore() *BackfillMarkerStore {
	return &BackfillMarkerStore{
		data: make(map[string]*storage.BackfillMarker),
	}
}

func markerKey(marketKey, target string) string {
	return fmt.Sprintf("%s|%s", marketKey, target)
}

// Get returns the marker for one (market_key, target).
func (s *BackfillMarkerStore) Get(_ context.Context, marketKey, target string) (*storage.BackfillMarker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, exists := s.data[markerKey(marketKey, target)]
	if !exists {
		return nil, storage.ErrNotFound
	}

	copy := *m
	return &copy, nil
}

// Set overwrites the marker for (marker.MarketKey, marker.Target).
func (s *BackfillMarkerStore) Set(_ context.Context, marker *storage.BackfillMarker) error {
	if marker == nil || marker.MarketKey == "" || marker.Target == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *marker
	s.data[markerKey(marker.MarketKey, marker.Target)] = &copy
	return nil
}

// GetByMarket returns all markers for a market, ordered by target ASC.
func (s *BackfillMarkerStore) GetByMarket(_ context.Context, marketKey string) ([]*storage.BackfillMarker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*storage.BackfillMarker
	for _, m := range s.data {
		if m.MarketKey == marketKey {
			copy := *m
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Target < result[j].Target
	})

	return result, nil
}

// DeleteByMarket removes all markers for a market.
func (s *BackfillMarkerStore) DeleteByMarket(_ context.Context, marketKey string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for key, m := range s.data {
		if m.MarketKey == marketKey {
			delete(s.data, key)
			count++
		}
	}
	return count, nil
}

var _ storage.BackfillMarkerStore = (*BackfillMarkerStore)(nil)
