package memory

import (
	"context"
	"sort"
	"sync"

	"market-rollup/internal/domain"
	"market-rollup/internal/storage"
)

// TickStore is an in-memory implementation of storage.TickStore.
type TickStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Tick // keyed by content hash
}

// NewTickStore creates a new in-memory tick store.
func NewTickStore() *TickStore {
	return &TickStore{
		data: make(map[string]*domain.Tick),
	}
}

// Insert adds a new tick. Returns ErrDuplicateKey if exists.
func (s *TickStore) Insert(_ context.Context, t *domain.Tick) error {
	if t == nil || t.ID == "" || t.MarketKey == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[t.ID]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *t
	s.data[t.ID] = &copy
	return nil
}

// InsertBulk adds multiple ticks, skipping redelivered duplicates.
func (s *TickStore) InsertBulk(_ context.Context, ticks []*domain.Tick) error {
	if len(ticks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range ticks {
		if t == nil || t.ID == "" || t.MarketKey == "" {
			return storage.ErrInvalidInput
		}
		if _, exists := s.data[t.ID]; exists {
			continue
		}
		copy := *t
		s.data[t.ID] = &copy
	}

	return nil
}

// GetByMarketRange retrieves ticks for a market with timestamp in
// [from, to), ordered by (timestamp, arrival_seq) ASC.
func (s *TickStore) GetByMarketRange(_ context.Context, marketKey string, from, to int64) ([]*domain.Tick, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Tick
	for _, t := range s.data {
		if t.MarketKey == marketKey && t.Timestamp >= from && t.Timestamp < to {
			copy := *t
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Timestamp != result[j].Timestamp {
			return result[i].Timestamp < result[j].Timestamp
		}
		return result[i].ArrivalSeq < result[j].ArrivalSeq
	})

	return result, nil
}

// GetTimeBounds returns the min and max tick timestamp for a market.
func (s *TickStore) GetTimeBounds(_ context.Context, marketKey string) (int64, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		found    bool
		min, max int64
	)
	for _, t := range s.data {
		if t.MarketKey != marketKey {
			continue
		}
		if !found || t.Timestamp < min {
			min = t.Timestamp
		}
		if !found || t.Timestamp > max {
			max = t.Timestamp
		}
		found = true
	}

	if !found {
		return 0, 0, storage.ErrNotFound
	}
	return min, max, nil
}

// MaxArrivalSeq returns the largest arrival_seq recorded, or 0 when empty.
func (s *TickStore) MaxArrivalSeq(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var max int64
	for _, t := range s.data {
		if t.ArrivalSeq > max {
			max = t.ArrivalSeq
		}
	}
	return max, nil
}

// RetagMarketKey rewrites the market_key of matching ticks.
func (s *TickStore) RetagMarketKey(_ context.Context, oldKey, newKey string) (int64, error) {
	if oldKey == "" || newKey == "" {
		return 0, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for _, t := range s.data {
		if t.MarketKey == oldKey {
			t.MarketKey = newKey
			count++
		}
	}
	return count, nil
}

// DeleteByMarket removes all ticks for a market.
func (s *TickStore) DeleteByMarket(_ context.Context, marketKey string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for id, t := range s.data {
		if t.MarketKey == marketKey {
			delete(s.data, id)
			count++
		}
	}
	return count, nil
}

var _ storage.TickStore = (*TickStore)(nil)
