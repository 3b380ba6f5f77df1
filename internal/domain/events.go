package domain

// Price is a fixed-point price: the integer count of an instrument's min
// ticks. Arithmetic on Price never loses precision; conversion to float
// happens only at read time.
type Price int64

// Side distinguishes the aggressor side of a trade or the book side of a
// depth level.
type Side int8

const (
	Buy Side = iota + 1
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// Trade is a single normalized trade print. Immutable once created.
type Trade struct {
	Instrument InstrumentID
	Price      Price // tick-aligned
	Qty        float64
	Side       Side
	Time       int64  // exchange timestamp (ms)
	Ingested   int64  // local ingestion timestamp (ms)
	TradeID    string // exchange-native id; empty if the venue omits it
}

// PriceLevel is one (price, resting quantity) pair of a book side.
type PriceLevel struct {
	Price Price
	Qty   float64
}

// BookDelta is one incremental depth update. Qty 0 removes the level.
// Consumed exactly once by the reconstructor.
type BookDelta struct {
	Instrument InstrumentID
	Side       Side
	Price      Price
	Qty        float64
	Sequence   uint64
	Time       int64 // exchange timestamp (ms)
}

// BookSnapshot is a full depth image that replaces all prior book state.
type BookSnapshot struct {
	Instrument InstrumentID
	Bids       []PriceLevel // descending by price
	Asks       []PriceLevel // ascending by price
	Sequence   uint64
	Time       int64
}
