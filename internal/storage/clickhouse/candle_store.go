package clickhouse

import (
	"context"
	"fmt"
	"time"

	"orderflow-lab/internal/domain"
	"orderflow-lab/internal/observability"
	"orderflow-lab/internal/storage"
)

// CandleStore implements storage.CandleStore using ClickHouse. Cells are
// stored as parallel arrays; a ReplacingMergeTree versioned by write time
// makes Upsert a plain insert, with FINAL reads resolving to the newest
// version.
type CandleStore struct {
	conn    *Conn
	metrics *observability.Metrics
}

// NewCandleStore creates a new CandleStore. metrics may be nil.
func NewCandleStore(conn *Conn, metrics *observability.Metrics) *CandleStore {
	return &CandleStore{conn: conn, metrics: metrics}
}

// Compile-time interface check.
var _ storage.CandleStore = (*CandleStore)(nil)

// Upsert writes a closed candle, replacing any prior version.
func (s *CandleStore) Upsert(ctx context.Context, c *domain.FootprintCandle) error {
	if c == nil || c.Instrument == "" {
		return fmt.Errorf("%w: candle missing instrument", storage.ErrInvalidInput)
	}
	if !c.Closed {
		return fmt.Errorf("%w: open candle", storage.ErrInvalidInput)
	}

	began := time.Now()
	prices := make([]int64, 0, len(c.Cells))
	buys := make([]float64, 0, len(c.Cells))
	sells := make([]float64, 0, len(c.Cells))
	counts := make([]uint32, 0, len(c.Cells))
	for price, cell := range c.Cells {
		prices = append(prices, int64(price))
		buys = append(buys, cell.BuyQty)
		sells = append(sells, cell.SellQty)
		counts = append(counts, uint32(cell.Trades))
	}

	err := s.conn.Exec(ctx, `
		INSERT INTO footprint_candles (
			instrument, start_ms, end_ms,
			open, high, low, close,
			first_trade_ms, last_trade_ms, trade_count,
			cell_prices, cell_buy_qty, cell_sell_qty, cell_trades,
			version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		string(c.Instrument), uint64(c.Start), uint64(c.End),
		int64(c.Open), int64(c.High), int64(c.Low), int64(c.Close),
		uint64(c.FirstTradeAt), uint64(c.LastTradeAt), uint32(c.TradeCount),
		prices, buys, sells, counts,
		uint64(time.Now().UnixNano()),
	)
	s.metrics.ObserveDBQuery("clickhouse", "upsert_candle", began, err)
	if err != nil {
		return fmt.Errorf("insert candle: %w", err)
	}
	return nil
}

// GetByTimeRange retrieves candles overlapping [start, end) ordered by
// start ASC.
func (s *CandleStore) GetByTimeRange(ctx context.Context, instrument domain.InstrumentID, start, end int64) (out []*domain.FootprintCandle, err error) {
	began := time.Now()
	defer func() { s.metrics.ObserveDBQuery("clickhouse", "select_candles", began, err) }()

	query := `
		SELECT instrument, start_ms, end_ms,
			open, high, low, close,
			first_trade_ms, last_trade_ms, trade_count,
			cell_prices, cell_buy_qty, cell_sell_qty, cell_trades
		FROM footprint_candles FINAL
		WHERE instrument = ? AND end_ms > ? AND start_ms < ?
		ORDER BY start_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, string(instrument), uint64(start), uint64(end))
	if err != nil {
		return nil, fmt.Errorf("query candles by time range: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			inst                        string
			startMs, endMs              uint64
			open, high, low, closePrice int64
			firstMs, lastMs             uint64
			tradeCount                  uint32
			prices                      []int64
			buys, sells                 []float64
			counts                      []uint32
		)
		err := rows.Scan(
			&inst, &startMs, &endMs,
			&open, &high, &low, &closePrice,
			&firstMs, &lastMs, &tradeCount,
			&prices, &buys, &sells, &counts,
		)
		if err != nil {
			return nil, fmt.Errorf("scan candle row: %w", err)
		}
		if len(buys) != len(prices) || len(sells) != len(prices) || len(counts) != len(prices) {
			return nil, fmt.Errorf("candle %s/%d: ragged cell arrays", inst, startMs)
		}

		c := &domain.FootprintCandle{
			Instrument:   domain.InstrumentID(inst),
			Start:        int64(startMs),
			End:          int64(endMs),
			Open:         domain.Price(open),
			High:         domain.Price(high),
			Low:          domain.Price(low),
			Close:        domain.Price(closePrice),
			FirstTradeAt: int64(firstMs),
			LastTradeAt:  int64(lastMs),
			TradeCount:   int(tradeCount),
			Cells:        make(map[domain.Price]domain.Cell, len(prices)),
			Closed:       true,
		}
		for i, p := range prices {
			c.Cells[domain.Price(p)] = domain.Cell{
				BuyQty:  buys[i],
				SellQty: sells[i],
				Trades:  int(counts[i]),
			}
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candle rows: %w", err)
	}
	return out, nil
}
