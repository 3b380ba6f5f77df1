package studies

import (
	"math"
	"sort"

	"orderflow-lab/internal/domain"
)

// ScanImbalances flags price levels whose aggressor volume dominates the
// opposing side by at least cfg.Threshold across the last cfg.Lookback
// candles of the window. In same-level mode buys and sells at one price are
// compared; in diagonal mode a level's buys face the sells one tick below,
// following the bid/ask stacking of a footprint column. A diagonal marker
// sits on the dominant side's own level: the buy level when buys dominate,
// the sell level one tick below when sells do.
//
// A level with dominant volume and zero opposition reports an infinite
// ratio. Markers come back ordered by candle start, then price.
func ScanImbalances(candles []*domain.FootprintCandle, cfg domain.ImbalanceConfig) []domain.ImbalanceMarker {
	if cfg.Threshold <= 0 || len(candles) == 0 {
		return nil
	}
	if cfg.Lookback > 0 && len(candles) > cfg.Lookback {
		candles = candles[len(candles)-cfg.Lookback:]
	}

	var out []domain.ImbalanceMarker
	for _, c := range candles {
		for price, cell := range c.Cells {
			buy := cell.BuyQty
			sell := cell.SellQty
			if cfg.Diagonal {
				sell = c.Cells[price-1].SellQty
			}
			if m, ok := imbalance(c.Start, price, buy, sell, cfg.Threshold); ok {
				if cfg.Diagonal && m.Side == domain.Sell {
					m.Price = price - 1
				}
				out = append(out, m)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CandleStart != out[j].CandleStart {
			return out[i].CandleStart < out[j].CandleStart
		}
		return out[i].Price < out[j].Price
	})
	return out
}

func imbalance(start int64, price domain.Price, buy, sell, threshold float64) (domain.ImbalanceMarker, bool) {
	dominant, opposing := buy, sell
	side := domain.Buy
	if sell > buy {
		dominant, opposing = sell, buy
		side = domain.Sell
	}
	if dominant <= 0 {
		return domain.ImbalanceMarker{}, false
	}
	ratio := math.Inf(1)
	if opposing > 0 {
		ratio = dominant / opposing
	}
	if ratio < threshold {
		return domain.ImbalanceMarker{}, false
	}
	return domain.ImbalanceMarker{CandleStart: start, Price: price, Side: side, Ratio: ratio}, true
}

// ScanLargeTrades flags footprint cells whose one-sided volume reached
// minQty. Both sides of one cell can fire independently. minQty <= 0
// disables the study.
func ScanLargeTrades(candles []*domain.FootprintCandle, minQty float64) []domain.LargeTradeMarker {
	if minQty <= 0 {
		return nil
	}
	var out []domain.LargeTradeMarker
	for _, c := range candles {
		for price, cell := range c.Cells {
			if cell.BuyQty >= minQty {
				out = append(out, domain.LargeTradeMarker{
					CandleStart: c.Start, Price: price, Side: domain.Buy, Qty: cell.BuyQty,
				})
			}
			if cell.SellQty >= minQty {
				out = append(out, domain.LargeTradeMarker{
					CandleStart: c.Start, Price: price, Side: domain.Sell, Qty: cell.SellQty,
				})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CandleStart != out[j].CandleStart {
			return out[i].CandleStart < out[j].CandleStart
		}
		if out[i].Price != out[j].Price {
			return out[i].Price < out[j].Price
		}
		return out[i].Side < out[j].Side
	})
	return out
}
