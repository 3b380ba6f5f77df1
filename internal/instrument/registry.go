// Package instrument maps exchange-native symbols and units into the
// canonical per-instrument fixed-point system.
package instrument

import (
	"context"
	"fmt"
	"sync"

	"orderflow-lab/internal/domain"
)

// MetadataSource provides tick size, lot size, and canonical symbol per
// (exchange, native symbol). Consulted once at subscription time.
type MetadataSource interface {
	Fetch(ctx context.Context, exchange, nativeSymbol string) (*domain.Instrument, error)
}

// Registry is the canonical instrument registry: read-mostly, written once
// per new subscription. An instrument is only visible to lookups after it is
// fully registered, so normalization never runs against partial metadata.
type Registry struct {
	mu     sync.RWMutex
	byID   map[domain.InstrumentID]*domain.Instrument
	source MetadataSource
}

// NewRegistry creates an empty registry backed by the metadata source.
func NewRegistry(source MetadataSource) *Registry {
	return &Registry{
		byID:   make(map[domain.InstrumentID]*domain.Instrument),
		source: source,
	}
}

// Register fetches metadata for (exchange, nativeSymbol), assigns the
// canonical id, and publishes the instrument. Registering an already-known
// pair returns the existing instrument, keeping the id mapping injective
// for the session.
func (r *Registry) Register(ctx context.Context, exchange, nativeSymbol string) (*domain.Instrument, error) {
	id := domain.CanonicalID(exchange, nativeSymbol)

	r.mu.RLock()
	existing, ok := r.byID[id]
	r.mu.RUnlock()
	if ok {
		return existing, nil
	}

	meta, err := r.source.Fetch(ctx, exchange, nativeSymbol)
	if err != nil {
		return nil, fmt.Errorf("fetch instrument metadata %s/%s: %w", exchange, nativeSymbol, err)
	}
	if meta.TickSize.Sign() <= 0 {
		return nil, fmt.Errorf("%w: non-positive tick size for %s/%s", domain.ErrInvalidEvent, exchange, nativeSymbol)
	}

	inst := *meta
	inst.ID = id
	inst.Exchange = exchange
	inst.NativeSymbol = nativeSymbol

	r.mu.Lock()
	defer r.mu.Unlock()
	if racing, ok := r.byID[id]; ok {
		return racing, nil
	}
	r.byID[id] = &inst
	return &inst, nil
}

// Lookup resolves a native (exchange, symbol) pair to its instrument.
func (r *Registry) Lookup(exchange, nativeSymbol string) (*domain.Instrument, bool) {
	return r.Get(domain.CanonicalID(exchange, nativeSymbol))
}

// Get resolves a canonical instrument id.
func (r *Registry) Get(id domain.InstrumentID) (*domain.Instrument, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.byID[id]
	return inst, ok
}

// Unregister removes an instrument at unsubscribe time.
func (r *Registry) Unregister(id domain.InstrumentID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
}
