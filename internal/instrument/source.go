package instrument

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"orderflow-lab/internal/domain"
	"orderflow-lab/internal/storage"
)

// StaticSource serves instrument metadata from a fixed table keyed by
// canonical id. Used for config-defined venues and in tests.
type StaticSource struct {
	byID map[domain.InstrumentID]domain.Instrument
}

// NewStaticSource creates a source over the given instruments.
func NewStaticSource(instruments []domain.Instrument) *StaticSource {
	byID := make(map[domain.InstrumentID]domain.Instrument, len(instruments))
	for _, in := range instruments {
		id := in.ID
		if id == "" {
			id = domain.CanonicalID(in.Exchange, in.NativeSymbol)
		}
		byID[id] = in
	}
	return &StaticSource{byID: byID}
}

func (s *StaticSource) Fetch(_ context.Context, exchange, nativeSymbol string) (*domain.Instrument, error) {
	in, ok := s.byID[domain.CanonicalID(exchange, nativeSymbol)]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", domain.ErrUnknownInstrument, exchange, nativeSymbol)
	}
	out := in
	return &out, nil
}

// UniformSource serves the same tick and lot size for every symbol. Useful
// when a venue quotes all listed symbols on one grid.
type UniformSource struct {
	TickSize decimal.Decimal
	LotSize  decimal.Decimal
	Symbol   func(exchange, nativeSymbol string) string
}

func (s *UniformSource) Fetch(_ context.Context, exchange, nativeSymbol string) (*domain.Instrument, error) {
	symbol := nativeSymbol
	if s.Symbol != nil {
		symbol = s.Symbol(exchange, nativeSymbol)
	}
	return &domain.Instrument{
		Exchange:     exchange,
		NativeSymbol: nativeSymbol,
		Symbol:       symbol,
		TickSize:     s.TickSize,
		LotSize:      s.LotSize,
	}, nil
}

// StoreSource reads metadata from an instrument store and falls back to an
// inner source on a miss, persisting what the fallback returns. Restarting
// the daemon then reuses the persisted metadata even when the fallback is
// unavailable.
type StoreSource struct {
	store    storage.InstrumentStore
	fallback MetadataSource
}

// NewStoreSource creates a store-backed source. fallback may be nil, in
// which case misses are errors.
func NewStoreSource(store storage.InstrumentStore, fallback MetadataSource) *StoreSource {
	return &StoreSource{store: store, fallback: fallback}
}

func (s *StoreSource) Fetch(ctx context.Context, exchange, nativeSymbol string) (*domain.Instrument, error) {
	id := domain.CanonicalID(exchange, nativeSymbol)

	inst, err := s.store.GetByID(ctx, id)
	if err == nil {
		return inst, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("load instrument %s: %w", id, err)
	}
	if s.fallback == nil {
		return nil, fmt.Errorf("%w: %s/%s", domain.ErrUnknownInstrument, exchange, nativeSymbol)
	}

	inst, err = s.fallback.Fetch(ctx, exchange, nativeSymbol)
	if err != nil {
		return nil, err
	}
	persisted := *inst
	persisted.ID = id
	persisted.Exchange = exchange
	persisted.NativeSymbol = nativeSymbol
	if err := s.store.Insert(ctx, &persisted); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
		return nil, fmt.Errorf("persist instrument %s: %w", id, err)
	}
	return &persisted, nil
}

var (
	_ MetadataSource = (*StaticSource)(nil)
	_ MetadataSource = (*UniformSource)(nil)
	_ MetadataSource = (*StoreSource)(nil)
)
