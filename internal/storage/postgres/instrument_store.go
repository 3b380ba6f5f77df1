package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"orderflow-lab/internal/domain"
	"orderflow-lab/internal/observability"
	"orderflow-lab/internal/storage"
)

// InstrumentStore implements storage.InstrumentStore using PostgreSQL.
type InstrumentStore struct {
	pool    *Pool
	metrics *observability.Metrics
}

// NewInstrumentStore creates a new InstrumentStore. metrics may be nil.
func NewInstrumentStore(pool *Pool, metrics *observability.Metrics) *InstrumentStore {
	return &InstrumentStore{pool: pool, metrics: metrics}
}

// Compile-time interface check.
var _ storage.InstrumentStore = (*InstrumentStore)(nil)

// Insert adds an instrument. Returns ErrDuplicateKey if the id exists.
func (s *InstrumentStore) Insert(ctx context.Context, in *domain.Instrument) error {
	if in == nil || in.ID == "" {
		return fmt.Errorf("%w: instrument missing id", storage.ErrInvalidInput)
	}
	if in.TickSize.Sign() <= 0 {
		return fmt.Errorf("%w: non-positive tick size", storage.ErrInvalidInput)
	}

	began := time.Now()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO instruments (id, exchange, native_symbol, symbol, tick_size, lot_size)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		string(in.ID), in.Exchange, in.NativeSymbol, in.Symbol,
		in.TickSize.String(), in.LotSize.String(),
	)
	s.metrics.ObserveDBQuery("postgres", "insert_instrument", began, err)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("%w: instrument %s", storage.ErrDuplicateKey, in.ID)
		}
		return fmt.Errorf("insert instrument: %w", err)
	}
	return nil
}

// GetByID retrieves an instrument. Returns ErrNotFound if not exists.
func (s *InstrumentStore) GetByID(ctx context.Context, id domain.InstrumentID) (out *domain.Instrument, err error) {
	began := time.Now()
	defer func() { s.metrics.ObserveDBQuery("postgres", "select_instrument", began, err) }()

	row := s.pool.QueryRow(ctx, `
		SELECT id, exchange, native_symbol, symbol, tick_size::text, lot_size::text
		FROM instruments
		WHERE id = $1
	`, string(id))

	in, err := scanInstrument(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, fmt.Errorf("%w: instrument %s", storage.ErrNotFound, id)
		}
		return nil, fmt.Errorf("get instrument by id: %w", err)
	}
	return in, nil
}

// GetByExchange retrieves all instruments of an exchange, ordered by id ASC.
func (s *InstrumentStore) GetByExchange(ctx context.Context, exchange string) (out []*domain.Instrument, err error) {
	began := time.Now()
	defer func() { s.metrics.ObserveDBQuery("postgres", "select_instruments", began, err) }()

	rows, err := s.pool.Query(ctx, `
		SELECT id, exchange, native_symbol, symbol, tick_size::text, lot_size::text
		FROM instruments
		WHERE exchange = $1
		ORDER BY id ASC
	`, exchange)
	if err != nil {
		return nil, fmt.Errorf("query instruments by exchange: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		in, err := scanInstrument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan instrument row: %w", err)
		}
		out = append(out, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate instrument rows: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInstrument(row rowScanner) (*domain.Instrument, error) {
	var (
		in            domain.Instrument
		id, tick, lot string
	)
	if err := row.Scan(&id, &in.Exchange, &in.NativeSymbol, &in.Symbol, &tick, &lot); err != nil {
		return nil, err
	}
	in.ID = domain.InstrumentID(id)

	var err error
	if in.TickSize, err = decimal.NewFromString(tick); err != nil {
		return nil, fmt.Errorf("parse tick size %q: %w", tick, err)
	}
	if in.LotSize, err = decimal.NewFromString(lot); err != nil {
		return nil, fmt.Errorf("parse lot size %q: %w", lot, err)
	}
	return &in, nil
}
