package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"market-rollup/internal/domain"
	"market-rollup/internal/idhash"
	"market-rollup/internal/observability"
	"market-rollup/internal/storage"
)

// Resolver maps human-readable symbols to stable market keys.
//
// A symbol may be unknown at ingestion time: that is a deferred-identity
// state, not an error. Ticks stay keyed by the bare symbol until a
// resolution event registers the mapping, after which a backfill re-tags
// the historical rows.
type Resolver struct {
	mu           sync.RWMutex
	cache        map[string]string // symbol -> market key
	mappingStore storage.SymbolMappingStore
}

// NewResolver creates a resolver backed by the given mapping store.
func NewResolver(store storage.SymbolMappingStore) *Resolver {
	return &Resolver{
		cache:        make(map[string]string),
		mappingStore: store,
	}
}

// Warm loads every stored mapping into the in-memory cache.
// Returns the number of mappings loaded.
func (r *Resolver) Warm(ctx context.Context) (int, error) {
	mappings, err := r.mappingStore.GetAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("load mappings: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range mappings {
		r.cache[m.Symbol] = m.MarketKey
	}
	return len(mappings), nil
}

// Resolve returns the market key for a symbol, with ok=false while the
// symbol is unresolved. Misses are not cached: another process may register
// the mapping at any time.
func (r *Resolver) Resolve(ctx context.Context, symbol string) (string, bool, error) {
	r.mu.RLock()
	key, hit := r.cache[symbol]
	r.mu.RUnlock()
	if hit {
		return key, true, nil
	}

	mapping, err := r.mappingStore.GetBySymbol(ctx, symbol)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", false, nil
		}
		return "", false, err
	}

	r.mu.Lock()
	r.cache[symbol] = mapping.MarketKey
	r.mu.Unlock()

	return mapping.MarketKey, true, nil
}

// KeyFor returns the ingest key for a symbol: the resolved market key when
// a mapping exists, otherwise the bare symbol itself.
func (r *Resolver) KeyFor(ctx context.Context, symbol string) (string, error) {
	key, ok, err := r.Resolve(ctx, symbol)
	if err != nil {
		return "", err
	}
	if !ok {
		return symbol, nil
	}
	return key, nil
}

// Register records a symbol -> market key mapping. An empty marketKey
// derives one from the symbol. Mappings are append-only: registering the
// same pair again is an idempotent no-op, while re-mapping a symbol to a
// different key returns ErrDuplicateKey.
func (r *Resolver) Register(ctx context.Context, symbol, marketKey string) (*domain.SymbolMapping, error) {
	if symbol == "" {
		return nil, fmt.Errorf("%w: empty symbol", storage.ErrInvalidInput)
	}
	if marketKey == "" {
		marketKey = idhash.ComputeMarketKey(symbol)
	}

	existing, found, err := r.lookupExisting(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if found {
		return r.checkConflict(existing, marketKey)
	}

	mapping := &domain.SymbolMapping{
		Symbol:    symbol,
		MarketKey: marketKey,
		CreatedAt: time.Now().UnixMilli(),
	}

	err = r.mappingStore.Insert(ctx, mapping)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			// Another writer registered the symbol first.
			stored, getErr := r.mappingStore.GetBySymbol(ctx, symbol)
			if getErr != nil {
				return nil, getErr
			}
			return r.checkConflict(stored, marketKey)
		}
		return nil, err
	}

	r.mu.Lock()
	r.cache[symbol] = marketKey
	r.mu.Unlock()

	observability.RecordMappingRegistered()
	return mapping, nil
}

// CacheSize returns the number of cached mappings.
func (r *Resolver) CacheSize() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}

func (r *Resolver) lookupExisting(ctx context.Context, symbol string) (*domain.SymbolMapping, bool, error) {
	r.mu.RLock()
	key, hit := r.cache[symbol]
	r.mu.RUnlock()
	if hit {
		return &domain.SymbolMapping{Symbol: symbol, MarketKey: key}, true, nil
	}

	mapping, err := r.mappingStore.GetBySymbol(ctx, symbol)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return mapping, true, nil
}

func (r *Resolver) checkConflict(existing *domain.SymbolMapping, marketKey string) (*domain.SymbolMapping, error) {
	if existing.MarketKey == marketKey {
		r.mu.Lock()
		r.cache[existing.Symbol] = existing.MarketKey
		r.mu.Unlock()
		return existing, nil
	}
	return nil, fmt.Errorf("%w: symbol %q already mapped to %q", storage.ErrDuplicateKey, existing.Symbol, existing.MarketKey)
}
