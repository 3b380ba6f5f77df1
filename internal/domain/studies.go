package domain

// VolumeProfileNode accumulates volume at one price level over a profile's
// window.
type VolumeProfileNode struct {
	Price Price
	Qty   float64 // buy + sell volume
	Delta float64 // buy - sell volume
}

// VolumeProfile is a computed profile over a candle window plus the value
// area derived from it.
type VolumeProfile struct {
	Nodes []VolumeProfileNode // ascending by price

	POC Price // price with maximum accumulated volume
	VAH Price // value area high
	VAL Price // value area low
}

// CVDPoint is one step of the cumulative volume delta series, recorded at
// each candle close.
type CVDPoint struct {
	Time  int64
	Value float64 // running sum of (buy - sell) volume
}

// NPoCMarker marks a closed candle's point of control and whether price has
// traded back through it since.
type NPoCMarker struct {
	CandleStart int64
	Price       Price
	Qty         float64
	Naked       bool  // true until price trades through the level
	FilledAt    int64 // close time of the candle that filled it, 0 while naked
}

// ImbalanceMarker flags a price level whose buy/sell ratio exceeded the
// configured threshold.
type ImbalanceMarker struct {
	CandleStart int64
	Price       Price
	Side        Side    // dominant side
	Ratio       float64 // dominant volume / opposing volume
}

// LargeTradeMarker flags a footprint cell whose one-sided volume crossed the
// configured threshold.
type LargeTradeMarker struct {
	CandleStart int64
	Price       Price
	Side        Side
	Qty         float64
}
