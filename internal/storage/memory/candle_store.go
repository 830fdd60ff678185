package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"market-rollup/internal/domain"
	"market-rollup/internal/storage"
)

// CandleStore is an in-memory implementation of storage.CandleStore.
type CandleStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Candle // keyed by composite slot key
}

// NewCandleStore creates a new in-memory candle store.
func NewCandleStore() *CandleStore {
	return &CandleStore{
		data: make(map[string]*domain.Candle),
	}
}

// candleKey generates a unique key for a candle slot.
func candleKey(marketKey string, tf domain.Timeframe, bucketStart int64) string {
	return fmt.Sprintf("%s|%s|%d", marketKey, tf, bucketStart)
}

// Upsert writes one candle. An existing row for the same slot is
// replaced unless it carries a strictly greater version.
func (s *CandleStore) Upsert(_ context.Context, c *domain.Candle) error {
	if c == nil || c.MarketKey == "" || !c.Timeframe.Valid() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.upsertLocked(c)
	return nil
}

// UpsertBulk writes multiple candles.
func (s *CandleStore) UpsertBulk(_ context.Context, candles []*domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range candles {
		if c == nil || c.MarketKey == "" || !c.Timeframe.Valid() {
			return storage.ErrInvalidInput
		}
		s.upsertLocked(c)
	}

	return nil
}

func (s *CandleStore) upsertLocked(c *domain.Candle) {
	key := candleKey(c.MarketKey, c.Timeframe, c.BucketStart)
	if existing, ok := s.data[key]; ok && existing.Version > c.Version {
		return
	}
	copy := *c
	s.data[key] = &copy
}

// GetBucket retrieves the candle for one bucket. Returns ErrNotFound
// if the bucket has no candle.
func (s *CandleStore) GetBucket(_ context.Context, marketKey string, tf domain.Timeframe, bucketStart int64) (*domain.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, exists := s.data[candleKey(marketKey, tf, bucketStart)]
	if !exists {
		return nil, storage.ErrNotFound
	}

	copy := *c
	return &copy, nil
}

// GetRange retrieves candles with bucket_start in [from, to), ordered
// by bucket_start ASC.
func (s *CandleStore) GetRange(_ context.Context, marketKey string, tf domain.Timeframe, from, to int64) ([]*domain.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Candle
	for _, c := range s.data {
		if c.MarketKey == marketKey && c.Timeframe == tf && c.BucketStart >= from && c.BucketStart < to {
			copy := *c
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].BucketStart < result[j].BucketStart
	})

	return result, nil
}

// DeleteByMarket removes all candles for a market across every timeframe.
func (s *CandleStore) DeleteByMarket(_ context.Context, marketKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, c := range s.data {
		if c.MarketKey == marketKey {
			delete(s.data, key)
		}
	}
	return nil
}

var _ storage.CandleStore = (*CandleStore)(nil)
