package footprint

import "orderflow-lab/internal/domain"

// CellIntensity maps a cell's raw volume to a render intensity in [0, 1]
// under the chosen scaling mode. Scaling is a pure read-time projection;
// stored cells stay raw, so switching modes never touches candle state.
type CellIntensity func(candle *domain.FootprintCandle, cell domain.Cell) float64

// Scaler builds a CellIntensity for a window of candles. The visible-range
// mode normalizes against the largest cell across the whole window, the
// per-candle mode against each candle's own largest cell, and the hybrid
// mode against the mean of the two references.
func Scaler(mode domain.ScalingMode, candles []*domain.FootprintCandle) CellIntensity {
	visibleMax := maxCellQty(candles)

	perCandle := make(map[int64]float64, len(candles))
	for _, c := range candles {
		perCandle[c.Start] = maxCellQty([]*domain.FootprintCandle{c})
	}

	return func(candle *domain.FootprintCandle, cell domain.Cell) float64 {
		var ref float64
		switch mode {
		case domain.ScalePerCandle:
			ref = perCandle[candle.Start]
		case domain.ScaleHybrid:
			ref = (visibleMax + perCandle[candle.Start]) / 2
		default:
			ref = visibleMax
		}
		if ref <= 0 {
			return 0
		}
		v := cell.TotalQty() / ref
		if v > 1 {
			v = 1
		}
		return v
	}
}

func maxCellQty(candles []*domain.FootprintCandle) float64 {
	var max float64
	for _, c := range candles {
		for _, cell := range c.Cells {
			if q := cell.TotalQty(); q > max {
				max = q
			}
		}
	}
	return max
}
