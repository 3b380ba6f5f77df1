// Package heatmap samples resting depth and trade heat into fixed-cadence
// frames.
package heatmap

import (
	"fmt"
	"sort"
	"time"

	"orderflow-lab/internal/domain"
	"orderflow-lab/internal/window"
)

// Accumulator collects trade heat between samples and, on each sampling
// tick, fuses it with the current book depth into one HeatmapFrame. Frames
// are retained for a bounded age and served as detached copies.
//
// Price grouping is a sample-time projection: heat is accumulated at raw
// tick prices and collapsed into GroupTicks-wide buckets only when a frame
// is built, so regrouping needs no replay.
//
// Not safe for concurrent use; the owning pipeline goroutine serializes
// all calls.
type Accumulator struct {
	instrument domain.InstrumentID
	groupTicks domain.Price

	heatBuy  map[domain.Price]float64
	heatSell map[domain.Price]float64

	frames *window.Window[*domain.HeatmapFrame]
}

// New creates an accumulator with the given grouping and frame retention.
func New(instrument domain.InstrumentID, groupTicks int64, retention time.Duration) (*Accumulator, error) {
	if groupTicks <= 0 {
		return nil, fmt.Errorf("%w: heatmap group %d ticks", domain.ErrInvalidEvent, groupTicks)
	}
	frames, err := window.ByAge[*domain.HeatmapFrame](retention)
	if err != nil {
		return nil, err
	}
	return &Accumulator{
		instrument: instrument,
		groupTicks: domain.Price(groupTicks),
		heatBuy:    make(map[domain.Price]float64),
		heatSell:   make(map[domain.Price]float64),
		frames:     frames,
	}, nil
}

// RecordTrade adds a trade's quantity to the heat of its price level. Heat
// lives until the next Sample, which folds it into a frame and resets it.
func (a *Accumulator) RecordTrade(t *domain.Trade) {
	if t.Side == domain.Sell {
		a.heatSell[t.Price] += t.Qty
	} else {
		a.heatBuy[t.Price] += t.Qty
	}
}

// Sample builds the frame for now from the book view plus accumulated
// heat, resets the heat, retains the frame, and returns a detached copy.
// A nil view samples trade heat against an empty book.
func (a *Accumulator) Sample(view *domain.BookView, now int64) *domain.HeatmapFrame {
	buckets := make(map[domain.Price]*domain.HeatmapLevel)
	level := func(p domain.Price) *domain.HeatmapLevel {
		g := a.group(p)
		l, ok := buckets[g]
		if !ok {
			l = &domain.HeatmapLevel{Price: g}
			buckets[g] = l
		}
		return l
	}

	var mid domain.Price
	if view != nil {
		for _, b := range view.Bids {
			level(b.Price).BidQty += b.Qty
		}
		for _, ask := range view.Asks {
			level(ask.Price).AskQty += ask.Qty
		}
		mid = view.Mid()
	}
	for p, q := range a.heatBuy {
		level(p).BuyQty += q
	}
	for p, q := range a.heatSell {
		level(p).SellQty += q
	}
	a.heatBuy = make(map[domain.Price]float64)
	a.heatSell = make(map[domain.Price]float64)

	levels := make([]domain.HeatmapLevel, 0, len(buckets))
	for _, l := range buckets {
		levels = append(levels, *l)
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i].Price < levels[j].Price })

	frame := &domain.HeatmapFrame{
		Instrument: a.instrument,
		Time:       now,
		GroupTicks: int(a.groupTicks),
		Mid:        mid,
		Levels:     levels,
	}
	a.frames.Push(frame, now)
	return cloneFrame(frame)
}

// Frames returns detached copies of retained frames in sample order,
// after evicting those older than the retention bound relative to now.
func (a *Accumulator) Frames(now int64) []*domain.HeatmapFrame {
	kept := a.frames.Items(now)
	out := make([]*domain.HeatmapFrame, 0, len(kept))
	for _, f := range kept {
		out = append(out, cloneFrame(f))
	}
	return out
}

// group aligns a tick price down to its bucket floor.
func (a *Accumulator) group(p domain.Price) domain.Price {
	g := p - p%a.groupTicks
	if p < 0 && p%a.groupTicks != 0 {
		g -= a.groupTicks
	}
	return g
}

func cloneFrame(f *domain.HeatmapFrame) *domain.HeatmapFrame {
	dup := *f
	dup.Levels = make([]domain.HeatmapLevel, len(f.Levels))
	copy(dup.Levels, f.Levels)
	return &dup
}
