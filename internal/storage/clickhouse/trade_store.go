package clickhouse

import (
	"context"
	"fmt"
	"time"

	"orderflow-lab/internal/domain"
	"orderflow-lab/internal/idhash"
	"orderflow-lab/internal/observability"
	"orderflow-lab/internal/storage"
)

// TradeStore implements storage.TradeStore using ClickHouse. The trades
// table is a ReplacingMergeTree keyed by (instrument, timestamp_ms,
// dedup_key); duplicate inserts are additionally rejected up front so the
// store keeps the ErrDuplicateKey contract before background merges run.
type TradeStore struct {
	conn    *Conn
	metrics *observability.Metrics
}

// NewTradeStore creates a new TradeStore. metrics may be nil.
func NewTradeStore(conn *Conn, metrics *observability.Metrics) *TradeStore {
	return &TradeStore{conn: conn, metrics: metrics}
}

// Compile-time interface check.
var _ storage.TradeStore = (*TradeStore)(nil)

// Insert adds a trade. Returns ErrDuplicateKey if the dedup key exists.
func (s *TradeStore) Insert(ctx context.Context, t *domain.Trade) (err error) {
	if err := validateTrade(t); err != nil {
		return err
	}
	began := time.Now()
	defer func() { s.metrics.ObserveDBQuery("clickhouse", "insert_trade", began, err) }()

	key := idhash.TradeKey(t)
	exists, err := s.exists(ctx, t.Instrument, key)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists {
		return fmt.Errorf("%w: trade %s", storage.ErrDuplicateKey, key)
	}
	return s.send(ctx, []*domain.Trade{t})
}

// InsertBulk adds multiple trades, skipping duplicates. Returns the number
// actually inserted.
func (s *TradeStore) InsertBulk(ctx context.Context, trades []*domain.Trade) (n int, err error) {
	for _, t := range trades {
		if err := validateTrade(t); err != nil {
			return 0, err
		}
	}
	began := time.Now()
	defer func() { s.metrics.ObserveDBQuery("clickhouse", "insert_trades_bulk", began, err) }()

	seen := make(map[string]struct{}, len(trades))
	fresh := make([]*domain.Trade, 0, len(trades))
	for _, t := range trades {
		key := idhash.TradeKey(t)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		exists, err := s.exists(ctx, t.Instrument, key)
		if err != nil {
			return 0, fmt.Errorf("check exists: %w", err)
		}
		if exists {
			continue
		}
		fresh = append(fresh, t)
	}
	if len(fresh) == 0 {
		return 0, nil
	}
	if err := s.send(ctx, fresh); err != nil {
		return 0, err
	}
	return len(fresh), nil
}

// GetByTimeRange retrieves trades within [start, end) ordered by
// (timestamp, dedup key) ASC.
func (s *TradeStore) GetByTimeRange(ctx context.Context, instrument domain.InstrumentID, start, end int64) (out []*domain.Trade, err error) {
	began := time.Now()
	defer func() { s.metrics.ObserveDBQuery("clickhouse", "select_trades", began, err) }()

	query := `
		SELECT instrument, dedup_key, timestamp_ms, ingested_ms, price, qty, side, trade_id
		FROM trades FINAL
		WHERE instrument = ? AND timestamp_ms >= ? AND timestamp_ms < ?
		ORDER BY timestamp_ms ASC, dedup_key ASC
	`

	rows, err := s.conn.Query(ctx, query, string(instrument), uint64(start), uint64(end))
	if err != nil {
		return nil, fmt.Errorf("query trades by time range: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			t            domain.Trade
			inst, key    string
			ts, ingested uint64
			price        int64
			side         int8
		)
		if err := rows.Scan(&inst, &key, &ts, &ingested, &price, &t.Qty, &side, &t.TradeID); err != nil {
			return nil, fmt.Errorf("scan trade row: %w", err)
		}
		t.Instrument = domain.InstrumentID(inst)
		t.Time = int64(ts)
		t.Ingested = int64(ingested)
		t.Price = domain.Price(price)
		t.Side = domain.Side(side)
		out = append(out, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade rows: %w", err)
	}
	return out, nil
}

func (s *TradeStore) send(ctx context.Context, trades []*domain.Trade) error {
	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO trades (
			instrument, dedup_key, timestamp_ms, ingested_ms, price, qty, side, trade_id
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	for _, t := range trades {
		err = batch.Append(
			string(t.Instrument), idhash.TradeKey(t),
			uint64(t.Time), uint64(t.Ingested),
			int64(t.Price), t.Qty, int8(t.Side), t.TradeID,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

func (s *TradeStore) exists(ctx context.Context, instrument domain.InstrumentID, key string) (bool, error) {
	var count uint64
	err := s.conn.QueryRow(ctx, `
		SELECT count(*) FROM trades
		WHERE instrument = ? AND dedup_key = ?
	`, string(instrument), key).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
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
