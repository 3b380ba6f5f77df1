package footprint

import (
	"errors"
	"math"
	"testing"

	"orderflow-lab/internal/domain"
)

const testInstrument = domain.InstrumentID("test:btcusdt")

func trade(ts int64, price domain.Price, qty float64, side domain.Side) *domain.Trade {
	return &domain.Trade{
		Instrument: testInstrument,
		Price:      price,
		Qty:        qty,
		Side:       side,
		Time:       ts,
	}
}

func timeAggregator(t *testing.T, onClose func(*domain.FootprintCandle)) *Aggregator {
	t.Helper()
	a, err := New(Options{
		Instrument: testInstrument,
		Interval:   domain.Interval{Kind: domain.IntervalTime, DurationMs: 60_000},
		OnClose:    onClose,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestNewRejectsBadIntervals(t *testing.T) {
	cases := []domain.Interval{
		{Kind: domain.IntervalTime, DurationMs: 0},
		{Kind: domain.IntervalTime, DurationMs: -60_000},
		{Kind: domain.IntervalTick, TradeCount: 0},
		{Kind: 0},
	}
	for i, iv := range cases {
		if _, err := New(Options{Instrument: testInstrument, Interval: iv}); err == nil {
			t.Errorf("case %d: interval %+v accepted", i, iv)
		}
	}
}

// A trade exactly on a minute boundary closes the prior candle and opens
// the next one: intervals are half-open [start, end).
func TestMinuteBoundaryIsHalfOpen(t *testing.T) {
	var closed []*domain.FootprintCandle
	a := timeAggregator(t, func(c *domain.FootprintCandle) { closed = append(closed, c) })

	// tick size 0.1: price 100.0 is 1000 ticks, 100.1 is 1001.
	a.Ingest(trade(500, 1000, 2, domain.Buy))      // 0:00.5
	a.Ingest(trade(30_000, 1001, 1, domain.Sell))  // 0:30
	a.Ingest(trade(60_000, 1000, 3, domain.Buy))   // 1:00.0 exactly

	if len(closed) != 1 {
		t.Fatalf("closed candles = %d, want 1", len(closed))
	}
	first := closed[0]
	if first.Start != 0 || first.End != 60_000 {
		t.Errorf("first candle interval [%d, %d), want [0, 60000)", first.Start, first.End)
	}
	if !first.Closed {
		t.Error("emitted candle not marked closed")
	}
	if got := first.Cells[1000]; got.BuyQty != 2 || got.SellQty != 0 {
		t.Errorf("cell 1000 = %+v, want buy 2", got)
	}
	if got := first.Cells[1001]; got.SellQty != 1 || got.BuyQty != 0 {
		t.Errorf("cell 1001 = %+v, want sell 1", got)
	}
	if first.Open != 1000 || first.Close != 1001 {
		t.Errorf("open/close = %d/%d, want 1000/1001", first.Open, first.Close)
	}

	second := a.Open()
	if second == nil {
		t.Fatal("no open candle after boundary trade")
	}
	if second.Start != 60_000 || second.End != 120_000 {
		t.Errorf("second candle interval [%d, %d), want [60000, 120000)", second.Start, second.End)
	}
	if got := second.Cells[1000]; got.BuyQty != 3 {
		t.Errorf("second candle cell 1000 = %+v, want buy 3", got)
	}
}

func TestTickIntervalClosesByTradeCount(t *testing.T) {
	var closed []*domain.FootprintCandle
	a, err := New(Options{
		Instrument: testInstrument,
		Interval:   domain.Interval{Kind: domain.IntervalTick, TradeCount: 3},
		OnClose:    func(c *domain.FootprintCandle) { closed = append(closed, c) },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for i := int64(0); i < 7; i++ {
		a.Ingest(trade(i*100, 1000+domain.Price(i), 1, domain.Buy))
	}

	if len(closed) != 2 {
		t.Fatalf("closed candles = %d, want 2", len(closed))
	}
	if closed[0].Start != 0 || closed[0].End != 3 {
		t.Errorf("first tick candle index range [%d, %d), want [0, 3)", closed[0].Start, closed[0].End)
	}
	if closed[1].Start != 3 || closed[1].End != 6 {
		t.Errorf("second tick candle index range [%d, %d), want [3, 6)", closed[1].Start, closed[1].End)
	}
	if open := a.Open(); open == nil || open.TradeCount != 1 {
		t.Errorf("open candle = %+v, want 1 trade", open)
	}
}

func TestCloseDueClosesIdleCandle(t *testing.T) {
	var closed []*domain.FootprintCandle
	a := timeAggregator(t, func(c *domain.FootprintCandle) { closed = append(closed, c) })

	a.Ingest(trade(100, 1000, 1, domain.Buy))

	a.CloseDue(59_999)
	if len(closed) != 0 {
		t.Fatal("candle closed before its End")
	}
	a.CloseDue(60_000)
	if len(closed) != 1 {
		t.Fatalf("closed candles = %d, want 1", len(closed))
	}
	if a.Open() != nil {
		t.Fatal("open candle remained after CloseDue")
	}
}

// Volume conservation: every closed candle's cell volumes sum to the total
// quantity of the trades that fell inside its interval.
func TestVolumeConservation(t *testing.T) {
	a := timeAggregator(t, nil)

	perBucket := make(map[int64]float64)
	prices := []domain.Price{998, 999, 1000, 1001, 1002}
	for i := int64(0); i < 500; i++ {
		ts := i * 733 // strides across several minute buckets
		qty := 0.5 + float64(i%7)
		side := domain.Buy
		if i%3 == 0 {
			side = domain.Sell
		}
		a.Ingest(trade(ts, prices[i%5], qty, side))
		perBucket[bucketStart(ts, 60_000)] += qty
	}
	a.CloseDue(math.MaxInt64)

	for _, c := range a.Closed(0) {
		want := perBucket[c.Start]
		if diff := math.Abs(c.Volume() - want); diff > 1e-9 {
			t.Errorf("candle [%d, %d): volume %f, want %f", c.Start, c.End, c.Volume(), want)
		}
	}
}

func TestLateTradeMergesIntoClosedCandle(t *testing.T) {
	var emits []*domain.FootprintCandle
	a := timeAggregator(t, func(c *domain.FootprintCandle) { emits = append(emits, c) })

	a.Ingest(trade(1000, 1000, 2, domain.Buy))
	a.Ingest(trade(61_000, 1001, 1, domain.Buy)) // closes the first candle
	emits = nil

	// A print from 0:30 arrives after the first candle closed.
	a.Ingest(trade(30_000, 1002, 4, domain.Sell))

	if len(emits) != 1 {
		t.Fatalf("re-emits = %d, want 1", len(emits))
	}
	merged := emits[0]
	if merged.Start != 0 {
		t.Fatalf("merged candle start = %d, want 0", merged.Start)
	}
	if got := merged.Cells[1002]; got.SellQty != 4 {
		t.Errorf("cell 1002 = %+v, want sell 4", got)
	}
	if merged.High != 1002 || merged.Close != 1002 {
		t.Errorf("high/close = %d/%d, want 1002/1002", merged.High, merged.Close)
	}
	if merged.Open != 1000 {
		t.Errorf("open = %d, want 1000", merged.Open)
	}
}

func TestMergeTradeCreatesMissedCandle(t *testing.T) {
	a := timeAggregator(t, nil)

	a.Ingest(trade(1000, 1000, 1, domain.Buy))
	a.Ingest(trade(121_000, 1000, 1, domain.Buy)) // minute 0 closes, minute 2 opens

	// Minute 1 never traded live; a backfilled print materializes it.
	if err := a.MergeTrade(trade(75_000, 1005, 2, domain.Buy)); err != nil {
		t.Fatalf("MergeTrade: %v", err)
	}

	got := a.ClosedRange(60_000, 120_000)
	if len(got) != 1 {
		t.Fatalf("candles in [60000, 120000) = %d, want 1", len(got))
	}
	if got[0].Start != 60_000 || !got[0].Closed {
		t.Errorf("materialized candle = %+v", got[0])
	}
	if got[0].Cells[1005].BuyQty != 2 {
		t.Errorf("cell 1005 = %+v, want buy 2", got[0].Cells[1005])
	}

	// Closed list stays ordered.
	all := a.Closed(0)
	for i := 1; i < len(all); i++ {
		if all[i].Start <= all[i-1].Start {
			t.Fatalf("closed candles out of order: %d after %d", all[i].Start, all[i-1].Start)
		}
	}
}

func TestMergeTradeRejectsTickIntervals(t *testing.T) {
	a, err := New(Options{
		Instrument: testInstrument,
		Interval:   domain.Interval{Kind: domain.IntervalTick, TradeCount: 10},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.MergeTrade(trade(1000, 1000, 1, domain.Buy)); !errors.Is(err, domain.ErrBackfillConflict) {
		t.Fatalf("expected ErrBackfillConflict, got %v", err)
	}
}

func TestRetentionDropsOldestCandles(t *testing.T) {
	a, err := New(Options{
		Instrument:    testInstrument,
		Interval:      domain.Interval{Kind: domain.IntervalTime, DurationMs: 60_000},
		RetainCandles: 2,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for m := int64(0); m < 5; m++ {
		a.Ingest(trade(m*60_000, 1000, 1, domain.Buy))
	}

	closed := a.Closed(0)
	if len(closed) != 2 {
		t.Fatalf("retained candles = %d, want 2", len(closed))
	}
	if closed[0].Start != 120_000 {
		t.Errorf("oldest retained start = %d, want 120000", closed[0].Start)
	}
}

func TestClosedCandlesAreDetached(t *testing.T) {
	a := timeAggregator(t, nil)
	a.Ingest(trade(1000, 1000, 2, domain.Buy))
	a.Ingest(trade(61_000, 1000, 1, domain.Buy))

	copy1 := a.Closed(1)[0]
	copy1.Cells[1000] = domain.Cell{BuyQty: 999}

	copy2 := a.Closed(1)[0]
	if copy2.Cells[1000].BuyQty == 999 {
		t.Fatal("mutating a returned candle leaked into aggregator state")
	}
}

func TestScalerModes(t *testing.T) {
	big := &domain.FootprintCandle{
		Start: 0,
		Cells: map[domain.Price]domain.Cell{
			1000: {BuyQty: 10},
			1001: {BuyQty: 5},
		},
	}
	small := &domain.FootprintCandle{
		Start: 60_000,
		Cells: map[domain.Price]domain.Cell{
			1000: {BuyQty: 2},
			1001: {BuyQty: 1},
		},
	}
	candles := []*domain.FootprintCandle{big, small}

	visible := Scaler(domain.ScaleVisibleRange, candles)
	if got := visible(small, small.Cells[1000]); got != 0.2 {
		t.Errorf("visible-range intensity = %f, want 0.2", got)
	}

	per := Scaler(domain.ScalePerCandle, candles)
	if got := per(small, small.Cells[1000]); got != 1.0 {
		t.Errorf("per-candle intensity = %f, want 1.0", got)
	}

	hybrid := Scaler(domain.ScaleHybrid, candles)
	// reference = (10 + 2) / 2 = 6
	if got := hybrid(small, small.Cells[1000]); math.Abs(got-2.0/6.0) > 1e-12 {
		t.Errorf("hybrid intensity = %f, want %f", got, 2.0/6.0)
	}

	if got := visible(big, domain.Cell{}); got != 0 {
		t.Errorf("empty cell intensity = %f, want 0", got)
	}
}

func TestScalerEmptyWindow(t *testing.T) {
	fn := Scaler(domain.ScaleVisibleRange, nil)
	if got := fn(&domain.FootprintCandle{}, domain.Cell{BuyQty: 1}); got != 0 {
		t.Errorf("intensity with zero reference = %f, want 0", got)
	}
}
