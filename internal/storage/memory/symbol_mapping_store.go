package memory

import (
	"context"
	"sort"
	"sync"

	"market-rollup/internal/domain"
	"market-rollup/internal/storage"
)

// SymbolMappingStore is an in-memory implementation of
// storage.SymbolMappingStore.
type SymbolMappingStore struct {
	mu   sync.RWMutex
	data map[string]*domain.SymbolMapping // keyed by symbol
}

// NewSymbolMappingStore creates a new in-memory symbol mapping store.
func NewSymbolMappingStore() *SymbolMappingStore {
	return &SymbolMappingStore{
		data: make(map[string]*domain.SymbolMapping),
	}
}

// Insert adds a new mapping. Returns ErrDuplicateKey if the symbol is
// already mapped.
func (s *SymbolMappingStore) Insert(_ context.Context, m *domain.SymbolMapping) error {
	if m == nil || m.Symbol == "" || m.MarketKey == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[m.Symbol]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *m
	s.data[m.Symbol] = &copy
	return nil
}

// GetBySymbol retrieves the mapping for a symbol. Returns ErrNotFound
// if unmapped.
func (s *SymbolMappingStore) GetBySymbol(_ context.Context, symbol string) (*domain.SymbolMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, exists := s.data[symbol]
	if !exists {
		return nil, storage.ErrNotFound
	}

	copy := *m
	return &copy, nil
}

// GetAll retrieves every mapping, ordered by symbol ASC.
func (s *SymbolMappingStore) GetAll(_ context.Context) ([]*domain.SymbolMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.SymbolMapping, 0, len(s.data))
	for _, m := range s.data {
		copy := *m
		result = append(result, &copy)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Symbol < result[j].Symbol
	})

	return result, nil
}

var _ storage.SymbolMappingStore = (*SymbolMappingStore)(nil)
