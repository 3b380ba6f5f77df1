// Package footprint builds per-price buy/sell volume candles out of the
// normalized trade stream.
package footprint

import (
	"fmt"
	"sort"

	"orderflow-lab/internal/domain"
)

// defaultRetainedCandles bounds the closed-candle ring when the caller
// does not override it.
const defaultRetainedCandles = 2880

// Options configures an Aggregator.
type Options struct {
	Instrument domain.InstrumentID
	Interval   domain.Interval
	// RetainCandles caps how many closed candles stay queryable. Zero
	// means defaultRetainedCandles.
	RetainCandles int
	// OnClose, if set, receives a detached copy of every candle at the
	// moment it closes.
	OnClose func(*domain.FootprintCandle)
}

// Aggregator folds trades into footprint candles for one instrument at one
// interval. At most one candle is open at a time; closed candles are
// retained for reads and only ever change through MergeTrade during a
// backfill reconciliation, in which case the affected candle is re-emitted.
//
// Not safe for concurrent use; the owning pipeline goroutine serializes
// all calls.
type Aggregator struct {
	instrument domain.InstrumentID
	interval   domain.Interval
	retain     int
	onClose    func(*domain.FootprintCandle)

	open   *domain.FootprintCandle
	closed []*domain.FootprintCandle // ascending by Start

	// tick-basis cumulative trade index; Start/End of tick candles are
	// expressed in this index space.
	tradeIndex int64
}

// New validates the interval and creates an aggregator.
func New(opts Options) (*Aggregator, error) {
	switch opts.Interval.Kind {
	case domain.IntervalTime:
		if opts.Interval.DurationMs <= 0 {
			return nil, fmt.Errorf("%w: time interval duration %dms", domain.ErrInvalidEvent, opts.Interval.DurationMs)
		}
	case domain.IntervalTick:
		if opts.Interval.TradeCount <= 0 {
			return nil, fmt.Errorf("%w: tick interval size %d", domain.ErrInvalidEvent, opts.Interval.TradeCount)
		}
	default:
		return nil, fmt.Errorf("%w: interval kind %d", domain.ErrInvalidEvent, opts.Interval.Kind)
	}
	retain := opts.RetainCandles
	if retain <= 0 {
		retain = defaultRetainedCandles
	}
	return &Aggregator{
		instrument: opts.Instrument,
		interval:   opts.Interval,
		retain:     retain,
		onClose:    opts.OnClose,
	}, nil
}

// Ingest applies one live trade. For time intervals a trade at or past the
// open candle's End first closes it; the interval is half-open, so a trade
// exactly at End opens the next candle. For tick intervals the candle
// closes once it holds the configured trade count.
func (a *Aggregator) Ingest(t *domain.Trade) {
	switch a.interval.Kind {
	case domain.IntervalTime:
		start := bucketStart(t.Time, a.interval.DurationMs)
		if a.open != nil && start < a.open.Start {
			// Late print behind the open candle: merge into whichever
			// closed candle covers it rather than corrupting the open one.
			a.mergeIntoClosed(t, start)
			return
		}
		if a.open != nil && t.Time >= a.open.End {
			a.closeOpen()
		}
		if a.open == nil {
			a.open = a.newCandle(start, start+a.interval.DurationMs)
		}
		applyTrade(a.open, t)

	case domain.IntervalTick:
		if a.open == nil {
			a.open = a.newCandle(a.tradeIndex, a.tradeIndex+int64(a.interval.TradeCount))
		}
		applyTrade(a.open, t)
		a.tradeIndex++
		if a.open.TradeCount >= a.interval.TradeCount {
			a.closeOpen()
		}
	}
}

// CloseDue closes the open time-based candle if now has moved past its End,
// so candles close on schedule even when no trade arrives. Tick candles
// only close by trade count and are unaffected.
func (a *Aggregator) CloseDue(now int64) {
	if a.interval.Kind != domain.IntervalTime || a.open == nil {
		return
	}
	if now >= a.open.End {
		a.closeOpen()
	}
}

// MergeTrade folds a backfilled trade into the candle covering its
// timestamp, reopening a closed candle if needed. The reworked candle is
// re-emitted through OnClose so downstream studies recompute. Tick-basis
// aggregators cannot place historical trades by index and report
// ErrBackfillConflict.
func (a *Aggregator) MergeTrade(t *domain.Trade) error {
	if a.interval.Kind != domain.IntervalTime {
		return fmt.Errorf("%w: tick-interval candles cannot absorb historical trades", domain.ErrBackfillConflict)
	}
	start := bucketStart(t.Time, a.interval.DurationMs)
	if a.open != nil && start >= a.open.Start {
		a.Ingest(t)
		return nil
	}
	a.mergeIntoClosed(t, start)
	return nil
}

// Open returns a detached copy of the open candle, or nil.
func (a *Aggregator) Open() *domain.FootprintCandle {
	if a.open == nil {
		return nil
	}
	return a.open.Clone()
}

// Closed returns detached copies of up to n most recent closed candles in
// ascending Start order. n <= 0 means all retained candles.
func (a *Aggregator) Closed(n int) []*domain.FootprintCandle {
	if n <= 0 || n > len(a.closed) {
		n = len(a.closed)
	}
	out := make([]*domain.FootprintCandle, 0, n)
	for _, c := range a.closed[len(a.closed)-n:] {
		out = append(out, c.Clone())
	}
	return out
}

// ClosedRange returns detached copies of closed candles whose interval
// overlaps [from, to).
func (a *Aggregator) ClosedRange(from, to int64) []*domain.FootprintCandle {
	var out []*domain.FootprintCandle
	for _, c := range a.closed {
		if c.End > from && c.Start < to {
			out = append(out, c.Clone())
		}
	}
	return out
}

func (a *Aggregator) newCandle(start, end int64) *domain.FootprintCandle {
	return &domain.FootprintCandle{
		Instrument: a.instrument,
		Start:      start,
		End:        end,
		Cells:      make(map[domain.Price]domain.Cell),
	}
}

func (a *Aggregator) closeOpen() {
	c := a.open
	a.open = nil
	c.Closed = true
	a.closed = append(a.closed, c)
	if len(a.closed) > a.retain {
		a.closed = a.closed[len(a.closed)-a.retain:]
	}
	a.emit(c)
}

// mergeIntoClosed places a late or backfilled trade into the retained
// candle covering start, creating the candle if the interval traded but was
// never seen live. Candles older than the retention ring are dropped.
func (a *Aggregator) mergeIntoClosed(t *domain.Trade, start int64) {
	i := sort.Search(len(a.closed), func(i int) bool {
		return a.closed[i].Start >= start
	})
	if i < len(a.closed) && a.closed[i].Start == start {
		applyTrade(a.closed[i], t)
		a.emit(a.closed[i])
		return
	}
	if len(a.closed) > 0 && start < a.closed[0].Start {
		return // beyond retention
	}
	c := a.newCandle(start, start+a.interval.DurationMs)
	c.Closed = true
	applyTrade(c, t)
	a.closed = append(a.closed, nil)
	copy(a.closed[i+1:], a.closed[i:])
	a.closed[i] = c
	a.emit(c)
}

func (a *Aggregator) emit(c *domain.FootprintCandle) {
	if a.onClose != nil {
		a.onClose(c.Clone())
	}
}

// applyTrade updates cells, OHLC, and trade bookkeeping. Open/Close follow
// trade timestamps, not arrival order, so merged out-of-order trades land
// correctly.
func applyTrade(c *domain.FootprintCandle, t *domain.Trade) {
	cell := c.Cells[t.Price]
	switch t.Side {
	case domain.Sell:
		cell.SellQty += t.Qty
	default:
		cell.BuyQty += t.Qty
	}
	cell.Trades++
	c.Cells[t.Price] = cell

	if c.TradeCount == 0 {
		c.Open, c.High, c.Low, c.Close = t.Price, t.Price, t.Price, t.Price
		c.FirstTradeAt, c.LastTradeAt = t.Time, t.Time
	} else {
		if t.Price > c.High {
			c.High = t.Price
		}
		if t.Price < c.Low {
			c.Low = t.Price
		}
		if t.Time <= c.FirstTradeAt {
			c.Open = t.Price
			c.FirstTradeAt = t.Time
		}
		if t.Time >= c.LastTradeAt {
			c.Close = t.Price
			c.LastTradeAt = t.Time
		}
	}
	c.TradeCount++
}

// bucketStart aligns ts down to the interval grid.
func bucketStart(ts, durationMs int64) int64 {
	start := ts - ts%durationMs
	if ts < 0 && ts%durationMs != 0 {
		start -= durationMs
	}
	return start
}
