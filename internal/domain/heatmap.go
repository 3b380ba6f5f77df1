package domain

// HeatmapLevel is one price row of a heatmap frame.
type HeatmapLevel struct {
	Price   Price
	BidQty  float64 // resting bid liquidity
	AskQty  float64 // resting ask liquidity
	BuyQty  float64 // trade heat: taker buy volume since the previous frame
	SellQty float64 // trade heat: taker sell volume since the previous frame
}

// HeatmapFrame is one cadence sample of resting liquidity and trade heat.
// Frames are append-only and evicted from the tail by the retention window.
// Levels are already projected to the grouping granularity active at sample
// time; the underlying book keeps full tick precision.
type HeatmapFrame struct {
	Instrument InstrumentID
	Time       int64 // sample timestamp (ms)
	GroupTicks int   // grouping granularity in ticks (>= 1)
	Mid        Price // mid price at sample time, 0 if one side empty
	Levels     []HeatmapLevel
}
