// Package memory provides in-memory storage implementations used by unit
// tests and live-only deployments without an archive database.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"orderflow-lab/internal/domain"
	"orderflow-lab/internal/idhash"
	"orderflow-lab/internal/storage"
)

// TradeStore is an in-memory implementation of storage.TradeStore.
type TradeStore struct {
	mu     sync.RWMutex
	byKey  map[string]*domain.Trade
	byInst map[domain.InstrumentID][]*domain.Trade
}

// NewTradeStore creates an empty in-memory trade store.
func NewTradeStore() *TradeStore {
	return &TradeStore{
		byKey:  make(map[string]*domain.Trade),
		byInst: make(map[domain.InstrumentID][]*domain.Trade),
	}
}

// Insert adds a trade. Returns ErrDuplicateKey if the dedup key exists.
func (s *TradeStore) Insert(_ context.Context, t *domain.Trade) error {
	if err := validateTrade(t); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(t)
}

// InsertBulk adds multiple trades, skipping duplicates.
func (s *TradeStore) InsertBulk(_ context.Context, trades []*domain.Trade) (int, error) {
	for _, t := range trades {
		if err := validateTrade(t); err != nil {
			return 0, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := 0
	for _, t := range trades {
		if err := s.insertLocked(t); err == nil {
			inserted++
		}
	}
	return inserted, nil
}

// GetByTimeRange retrieves trades within [start, end) ordered by
// (timestamp, dedup key) ASC.
func (s *TradeStore) GetByTimeRange(_ context.Context, instrument domain.InstrumentID, start, end int64) ([]*domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Trade
	for _, t := range s.byInst[instrument] {
		if t.Time >= start && t.Time < end {
			dup := *t
			out = append(out, &dup)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Time != out[j].Time {
			return out[i].Time < out[j].Time
		}
		return idhash.TradeKey(out[i]) < idhash.TradeKey(out[j])
	})
	return out, nil
}

func (s *TradeStore) insertLocked(t *domain.Trade) error {
	key := idhash.TradeKey(t)
	if _, exists := s.byKey[key]; exists {
		return fmt.Errorf("%w: trade %s", storage.ErrDuplicateKey, key)
	}
	dup := *t
	s.byKey[key] = &dup
	s.byInst[t.Instrument] = append(s.byInst[t.Instrument], &dup)
	return nil
}

func validateTrade(t *domain.Trade) error {
	if t == nil {
		return fmt.Errorf("%w: nil trade", storage.ErrInvalidInput)
	}
	if t.Instrument == "" {
		return fmt.Errorf("%w: empty instrument", storage.ErrInvalidInput)
	}
	if t.Qty <= 0 {
		return fmt.Errorf("%w: non-positive qty %f", storage.ErrInvalidInput, t.Qty)
	}
	return nil
}
