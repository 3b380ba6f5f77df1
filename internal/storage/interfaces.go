package storage

import (
	"context"

	"orderflow-lab/internal/domain"
)

// TradeStore provides access to the trade archive. Trades are keyed by
// their dedup key (native trade id, or a content hash when the venue emits
// none), so a backfill replay never double-inserts.
type TradeStore interface {
	// Insert adds a trade. Returns ErrDuplicateKey if the dedup key exists.
	Insert(ctx context.Context, t *domain.Trade) error

	// InsertBulk adds multiple trades, skipping duplicates. Returns the
	// number actually inserted.
	InsertBulk(ctx context.Context, trades []*domain.Trade) (int, error)

	// GetByTimeRange retrieves trades for an instrument within [start, end)
	// ordered by (timestamp, dedup key) ASC.
	GetByTimeRange(ctx context.Context, instrument domain.InstrumentID, start, end int64) ([]*domain.Trade, error)
}

// CandleStore provides access to closed footprint candle storage.
type CandleStore interface {
	// Upsert writes a closed candle, replacing any prior version of the
	// same (instrument, start). Candles are rewritten by backfills.
	Upsert(ctx context.Context, c *domain.FootprintCandle) error

	// GetByTimeRange retrieves candles for an instrument whose interval
	// overlaps [start, end), ordered by start ASC.
	GetByTimeRange(ctx context.Context, instrument domain.InstrumentID, start, end int64) ([]*domain.FootprintCandle, error)
}

// InstrumentStore provides access to instrument metadata storage.
type InstrumentStore interface {
	// Insert adds an instrument. Returns ErrDuplicateKey if the id exists.
	Insert(ctx context.Context, in *domain.Instrument) error

	// GetByID retrieves an instrument. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id domain.InstrumentID) (*domain.Instrument, error)

	// GetByExchange retrieves all instruments of an exchange, ordered by id ASC.
	GetByExchange(ctx context.Context, exchange string) ([]*domain.Instrument, error)
}
