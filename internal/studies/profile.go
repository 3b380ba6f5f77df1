// Package studies derives profile, delta, and marker series from closed
// footprint candles.
package studies

import (
	"sort"

	"orderflow-lab/internal/domain"
)

// Profile maintains a fixed-window volume profile over the trailing N
// closed candles. Candles enter at close; a candle reworked by a backfill
// is swapped in place, so node volumes stay an exact sum over the window
// without replaying trades.
//
// Not safe for concurrent use.
type Profile struct {
	maxCandles   int
	valueAreaPct float64

	order   []int64 // candle starts, ascending
	candles map[int64]*domain.FootprintCandle

	nodes map[domain.Price]*domain.VolumeProfileNode
}

// NewProfile creates a profile over the trailing maxCandles closed candles
// with the given value-area volume share (0.7 for the classic 70%).
func NewProfile(maxCandles int, valueAreaPct float64) (*Profile, error) {
	if maxCandles <= 0 {
		return nil, domain.ErrCapacityExceeded
	}
	if valueAreaPct <= 0 || valueAreaPct > 1 {
		valueAreaPct = 0.7
	}
	return &Profile{
		maxCandles:   maxCandles,
		valueAreaPct: valueAreaPct,
		candles:      make(map[int64]*domain.FootprintCandle),
		nodes:        make(map[domain.Price]*domain.VolumeProfileNode),
	}, nil
}

// ProfileOf computes a one-shot profile over an explicit candle range, the
// visible-range counterpart to the trailing window. Same accumulation and
// value-area algorithm, no retained state.
func ProfileOf(candles []*domain.FootprintCandle, valueAreaPct float64) domain.VolumeProfile {
	n := len(candles)
	if n == 0 {
		n = 1
	}
	p, _ := NewProfile(n, valueAreaPct)
	for _, c := range candles {
		p.AddCandle(c)
	}
	return p.Compute()
}

// AddCandle folds a closed candle into the profile. A candle already in the
// window (same Start) replaces its previous version; otherwise the oldest
// candle falls out once the window is full.
func (p *Profile) AddCandle(c *domain.FootprintCandle) {
	if prev, ok := p.candles[c.Start]; ok {
		p.apply(prev, -1)
	} else {
		p.order = append(p.order, c.Start)
		sort.Slice(p.order, func(i, j int) bool { return p.order[i] < p.order[j] })
		if len(p.order) > p.maxCandles {
			evicted := p.order[0]
			p.order = p.order[1:]
			p.apply(p.candles[evicted], -1)
			delete(p.candles, evicted)
		}
	}
	clone := c.Clone()
	p.candles[c.Start] = clone
	p.apply(clone, 1)
}

// Compute returns the current profile with its value area. The value area
// grows outward from the point of control, taking the heavier neighbor row
// first, until it holds the configured volume share. Empty profiles return
// a profile with no nodes.
func (p *Profile) Compute() domain.VolumeProfile {
	nodes := make([]domain.VolumeProfileNode, 0, len(p.nodes))
	var total float64
	for _, n := range p.nodes {
		if n.Qty <= 0 {
			continue
		}
		nodes = append(nodes, *n)
		total += n.Qty
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Price < nodes[j].Price })

	out := domain.VolumeProfile{Nodes: nodes}
	if len(nodes) == 0 || total <= 0 {
		return out
	}

	poc := 0
	for i, n := range nodes {
		if n.Qty > nodes[poc].Qty {
			poc = i
		}
	}
	out.POC = nodes[poc].Price

	covered := nodes[poc].Qty
	lo, hi := poc, poc
	for covered < p.valueAreaPct*total {
		below, above := -1.0, -1.0
		if lo > 0 {
			below = nodes[lo-1].Qty
		}
		if hi < len(nodes)-1 {
			above = nodes[hi+1].Qty
		}
		if below < 0 && above < 0 {
			break
		}
		// Ties expand downward, matching the point-of-control tie rule.
		if below >= above {
			lo--
			covered += below
		} else {
			hi++
			covered += above
		}
	}
	out.VAL = nodes[lo].Price
	out.VAH = nodes[hi].Price
	return out
}

func (p *Profile) apply(c *domain.FootprintCandle, sign float64) {
	for price, cell := range c.Cells {
		n, ok := p.nodes[price]
		if !ok {
			n = &domain.VolumeProfileNode{Price: price}
			p.nodes[price] = n
		}
		n.Qty += sign * cell.TotalQty()
		n.Delta += sign * cell.Delta()
		if n.Qty <= 1e-12 && n.Qty >= -1e-12 {
			delete(p.nodes, price)
		}
	}
}
