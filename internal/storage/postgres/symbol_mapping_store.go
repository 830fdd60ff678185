package postgres

import (
	"context"
	"fmt"

	"market-rollup/internal/domain"
	"market-rollup/internal/storage"
)

// SymbolMappingStore implements storage.SymbolMappingStore using PostgreSQL.
type SymbolMappingStore struct {
	pool *Pool
}

// NewSymbolMappingStore creates a new SymbolMappingStore.
func NewSymbolMappingStore(pool *Pool) *SymbolMappingStore {
	return &SymbolMappingStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SymbolMappingStore = (*SymbolMappingStore)(nil)

// Insert adds a new mapping. Returns ErrDuplicateKey if the symbol is
// already mapped.
func (s *SymbolMappingStore) Insert(ctx context.Context, m *domain.SymbolMapping) error {
	query := `INSERT INTO symbol_mappings (symbol, market_key, created_at) VALUES ($1, $2, $3)`

	_, err := s.pool.Exec(ctx, query, m.Symbol, m.MarketKey, m.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert symbol mapping: %w", err)
	}
	return nil
}

// GetBySymbol retrieves the mapping for a symbol. Returns ErrNotFound
// if unmapped.
func (s *SymbolMappingStore) GetBySymbol(ctx context.Context, symbol string) (*domain.SymbolMapping, error) {
	query := `SELECT symbol, market_key, created_at FROM symbol_mappings WHERE symbol = $1`

	var m domain.SymbolMapping
	err := s.pool.QueryRow(ctx, query, symbol).Scan(&m.Symbol, &m.MarketKey, &m.CreatedAt)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get symbol mapping: %w", err)
	}
	return &m, nil
}

// GetAll retrieves every mapping, ordered by symbol ASC.
func (s *SymbolMappingStore) GetAll(ctx context.Context) ([]*domain.SymbolMapping, error) {
	query := `SELECT symbol, market_key, created_at FROM symbol_mappings ORDER BY symbol ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get all symbol mappings: %w", err)
	}
	defer rows.Close()

	var mappings []*domain.SymbolMapping
	for rows.Next() {
		var m domain.SymbolMapping
		if err := rows.Scan(&m.Symbol, &m.MarketKey, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan symbol mapping row: %w", err)
		}
		mappings = append(mappings, &m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate symbol mapping rows: %w", err)
	}

	return mappings, nil
}
