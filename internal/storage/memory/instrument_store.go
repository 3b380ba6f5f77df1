package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"orderflow-lab/internal/domain"
	"orderflow-lab/internal/storage"
)

// InstrumentStore is an in-memory implementation of storage.InstrumentStore.
type InstrumentStore struct {
	mu   sync.RWMutex
	byID map[domain.InstrumentID]*domain.Instrument
}

// NewInstrumentStore creates an empty in-memory instrument store.
func NewInstrumentStore() *InstrumentStore {
	return &InstrumentStore{byID: make(map[domain.InstrumentID]*domain.Instrument)}
}

// Insert adds an instrument. Returns ErrDuplicateKey if the id exists.
func (s *InstrumentStore) Insert(_ context.Context, in *domain.Instrument) error {
	if in == nil || in.ID == "" {
		return fmt.Errorf("%w: instrument missing id", storage.ErrInvalidInput)
	}
	if in.TickSize.Sign() <= 0 {
		return fmt.Errorf("%w: non-positive tick size", storage.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[in.ID]; exists {
		return fmt.Errorf("%w: instrument %s", storage.ErrDuplicateKey, in.ID)
	}
	dup := *in
	s.byID[in.ID] = &dup
	return nil
}

// GetByID retrieves an instrument. Returns ErrNotFound if not exists.
func (s *InstrumentStore) GetByID(_ context.Context, id domain.InstrumentID) (*domain.Instrument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	in, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: instrument %s", storage.ErrNotFound, id)
	}
	dup := *in
	return &dup, nil
}

// GetByExchange retrieves all instruments of an exchange, ordered by id ASC.
func (s *InstrumentStore) GetByExchange(_ context.Context, exchange string) ([]*domain.Instrument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Instrument
	for _, in := range s.byID {
		if in.Exchange == exchange {
			dup := *in
			out = append(out, &dup)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
