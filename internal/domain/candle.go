package domain

// IntervalKind selects how trades are bucketed along the x-axis.
type IntervalKind int8

const (
	// IntervalTime buckets trades into fixed wall-clock windows.
	IntervalTime IntervalKind = iota + 1
	// IntervalTick buckets trades into fixed trade-count windows.
	IntervalTick
)

// Interval is a candle bucketing rule. Exactly one of DurationMs or
// TradeCount is meaningful, depending on Kind.
type Interval struct {
	Kind       IntervalKind
	DurationMs int64 // time-based: bucket width in milliseconds
	TradeCount int   // tick-based: trades per bucket
}

// Cell is the per-price-level breakdown inside a footprint candle.
// Volumes are raw and unscaled; every scaling mode derives from them.
type Cell struct {
	BuyQty  float64
	SellQty float64
	Trades  int
}

// TotalQty returns combined buy and sell volume of the cell.
func (c Cell) TotalQty() float64 {
	return c.BuyQty + c.SellQty
}

// Delta returns buy volume minus sell volume of the cell.
func (c Cell) Delta() float64 {
	return c.BuyQty - c.SellQty
}

// FootprintCandle is one OHLC interval broken down by per-price buy/sell
// volume. The interval is half-open [Start, End): a trade exactly at End
// belongs to the next candle. For tick-based intervals Start/End carry the
// cumulative trade index instead of wall-clock time.
//
// The aggregator mutates exactly one open candle per instrument; a candle
// handed to consumers is closed and never changes again.
type FootprintCandle struct {
	Instrument InstrumentID
	Start      int64
	End        int64

	Open  Price
	High  Price
	Low   Price
	Close Price

	Cells map[Price]Cell

	// FirstTradeAt/LastTradeAt are the exchange timestamps of the earliest
	// and latest trade in the candle. They keep open/close assignment
	// correct when a backfill merges an out-of-order trade.
	FirstTradeAt int64
	LastTradeAt  int64

	TradeCount int
	Closed     bool
}

// Volume returns the total traded quantity of the candle.
func (c *FootprintCandle) Volume() float64 {
	var v float64
	for _, cell := range c.Cells {
		v += cell.TotalQty()
	}
	return v
}

// Delta returns the candle-level buy minus sell volume.
func (c *FootprintCandle) Delta() float64 {
	var d float64
	for _, cell := range c.Cells {
		d += cell.Delta()
	}
	return d
}

// PointOfControl returns the price level carrying the most volume and that
// volume. Ties resolve to the lower price so the result is deterministic.
// ok is false for a candle without trades.
func (c *FootprintCandle) PointOfControl() (poc Price, qty float64, ok bool) {
	for price, cell := range c.Cells {
		total := cell.TotalQty()
		if !ok || total > qty || (total == qty && price < poc) {
			poc, qty, ok = price, total, true
		}
	}
	return poc, qty, ok
}

// Clone returns a deep copy, used when handing candles across the snapshot
// boundary.
func (c *FootprintCandle) Clone() *FootprintCandle {
	dup := *c
	dup.Cells = make(map[Price]Cell, len(c.Cells))
	for p, cell := range c.Cells {
		dup.Cells[p] = cell
	}
	return &dup
}
