package engine

import "orderflow-lab/internal/domain"

// ChartView is one instrument's published state: everything a renderer
// needs for a footprint chart, heatmap, and studies pane. Views are
// immutable snapshots swapped in atomically; readers never contend with
// the pipeline and never see a half-updated candle.
//
// Views refresh at the heatmap cadence and on candle close, snapshot, and
// backfill events, so reads are at most one cadence period stale.
type ChartView struct {
	Instrument domain.InstrumentID

	// Book is the current depth, nil until the first snapshot lands.
	Book *domain.BookView

	// OpenCandle is the in-progress candle, nil before the first trade.
	OpenCandle *domain.FootprintCandle
	// Candles are the retained closed candles in ascending Start order.
	Candles []*domain.FootprintCandle

	Profile     domain.VolumeProfile
	CVD         []domain.CVDPoint
	NPoC        []domain.NPoCMarker
	Imbalances  []domain.ImbalanceMarker
	LargeTrades []domain.LargeTradeMarker

	// Frames are the retained heatmap frames in sample order.
	Frames []*domain.HeatmapFrame

	// Trades is the time & sales tape within the retention window,
	// oldest first.
	Trades []*domain.Trade

	// AsOf is when the view was built (unix ms).
	AsOf int64
}
