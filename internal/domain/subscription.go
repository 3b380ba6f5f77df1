package domain

import "time"

// ScalingMode selects how footprint cell volumes are normalized at read
// time. The aggregator stores raw volumes; every mode is a projection over
// the same cells.
type ScalingMode int8

const (
	// ScaleVisibleRange normalizes against the max cell volume across the
	// queried candle range.
	ScaleVisibleRange ScalingMode = iota + 1
	// ScalePerCandle normalizes each candle against its own max cell.
	ScalePerCandle
	// ScaleHybrid blends the visible-range and per-candle factors.
	ScaleHybrid
)

// ImbalanceConfig controls the imbalance study.
type ImbalanceConfig struct {
	// Threshold is the minimum dominant/opposing volume ratio to flag,
	// e.g. 3.0 flags levels with 3x one-sided volume.
	Threshold float64
	// Lookback is how many most recent closed candles are scanned.
	Lookback int
	// Diagonal compares buy volume at a level against sell volume one level
	// below (bid/ask diagonal) instead of the same level.
	Diagonal bool
}

// SubscriptionConfig parameterizes one instrument's pipeline. It is fixed at
// subscribe time and passed to read-time computations; there are no global
// mutable settings.
type SubscriptionConfig struct {
	Interval Interval

	// HeatmapCadence is the fixed sampling period for heatmap frames.
	HeatmapCadence time.Duration
	// HeatmapGroupTicks merges this many raw ticks into one heatmap row.
	HeatmapGroupTicks int
	// HeatmapRetention bounds the retained frame history.
	HeatmapRetention time.Duration

	// TradeRetention bounds the time & sales feed (1-60 minutes typical).
	TradeRetention time.Duration

	// ProfileCandles is the trailing closed-candle window of the fixed
	// volume profile.
	ProfileCandles int
	// ValueAreaPct is the volume share of the profile's value area.
	ValueAreaPct float64

	Imbalance ImbalanceConfig

	// LargeTradeQty flags footprint cells whose one-sided volume reaches
	// this quantity. Zero disables the markers.
	LargeTradeQty float64

	Scaling ScalingMode
}

// DefaultSubscriptionConfig mirrors the defaults a fresh chart opens with.
func DefaultSubscriptionConfig() SubscriptionConfig {
	return SubscriptionConfig{
		Interval:          Interval{Kind: IntervalTime, DurationMs: time.Minute.Milliseconds()},
		HeatmapCadence:    500 * time.Millisecond,
		HeatmapGroupTicks: 1,
		HeatmapRetention:  30 * time.Minute,
		TradeRetention:    10 * time.Minute,
		ProfileCandles:    60,
		ValueAreaPct:      0.7,
		Imbalance:         ImbalanceConfig{Threshold: 3.0, Lookback: 20},
		Scaling:           ScaleVisibleRange,
	}
}
