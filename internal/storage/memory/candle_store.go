package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"orderflow-lab/internal/domain"
	"orderflow-lab/internal/storage"
)

// CandleStore is an in-memory implementation of storage.CandleStore.
type CandleStore struct {
	mu     sync.RWMutex
	byInst map[domain.InstrumentID]map[int64]*domain.FootprintCandle
}

// NewCandleStore creates an empty in-memory candle store.
func NewCandleStore() *CandleStore {
	return &CandleStore{byInst: make(map[domain.InstrumentID]map[int64]*domain.FootprintCandle)}
}

// Upsert writes a closed candle, replacing any prior version.
func (s *CandleStore) Upsert(_ context.Context, c *domain.FootprintCandle) error {
	if c == nil || c.Instrument == "" {
		return fmt.Errorf("%w: candle missing instrument", storage.ErrInvalidInput)
	}
	if !c.Closed {
		return fmt.Errorf("%w: open candle", storage.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byInst[c.Instrument]
	if !ok {
		m = make(map[int64]*domain.FootprintCandle)
		s.byInst[c.Instrument] = m
	}
	m[c.Start] = c.Clone()
	return nil
}

// GetByTimeRange retrieves candles overlapping [start, end) ordered by
// start ASC.
func (s *CandleStore) GetByTimeRange(_ context.Context, instrument domain.InstrumentID, start, end int64) ([]*domain.FootprintCandle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.FootprintCandle
	for _, c := range s.byInst[instrument] {
		if c.End > start && c.Start < end {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out, nil
}
