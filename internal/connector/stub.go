package connector

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"orderflow-lab/internal/instrument"
)

// StubFeed generates a synthetic market for local runs without a venue
// connection. It pushes an initial depth snapshot per symbol and then a
// random walk of trades and depth deltas straight into the sink, sequenced
// the way a real venue stream would be.
type StubFeed struct {
	exchange string
	symbols  []string
	sink     Sink
	rate     time.Duration
	rng      *rand.Rand

	mu    sync.Mutex
	seq   uint64
	now   int64
	mid   map[string]int64 // price in hundredths
	depth int
}

// NewStubFeed creates a synthetic feed. rate is the time between events;
// zero defaults to 50ms.
func NewStubFeed(exchange string, symbols []string, sink Sink, rate time.Duration, seed int64) *StubFeed {
	if rate <= 0 {
		rate = 50 * time.Millisecond
	}
	mid := make(map[string]int64, len(symbols))
	for _, s := range symbols {
		mid[s] = 10_000 // 100.00
	}
	return &StubFeed{
		exchange: exchange,
		symbols:  symbols,
		sink:     sink,
		rate:     rate,
		rng:      rand.New(rand.NewSource(seed)),
		now:      time.Now().UnixMilli(),
		mid:      mid,
		depth:    10,
	}
}

// Run emits events until ctx is canceled.
func (f *StubFeed) Run(ctx context.Context) error {
	for _, s := range f.symbols {
		f.mu.Lock()
		snap := f.snapshot(s)
		f.mu.Unlock()
		f.sink.OnBookSnapshot(snap)
	}

	ticker := time.NewTicker(f.rate)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			f.step()
		}
	}
}

// RequestResync emits a fresh snapshot, mirroring what a venue does when
// asked to resend depth.
func (f *StubFeed) RequestResync(symbol string) {
	f.mu.Lock()
	_, ok := f.mid[symbol]
	var snap instrument.RawBookSnapshot
	if ok {
		snap = f.snapshot(symbol)
	}
	f.mu.Unlock()
	if ok {
		f.sink.OnBookSnapshot(snap)
	}
}

func (f *StubFeed) step() {
	f.mu.Lock()
	trade, delta := f.next()
	f.mu.Unlock()
	f.sink.OnTrade(trade)
	f.sink.OnBookDelta(delta)
}

func (f *StubFeed) next() (instrument.RawTrade, instrument.RawBookDelta) {
	f.now += f.rate.Milliseconds()
	symbol := f.symbols[f.rng.Intn(len(f.symbols))]

	// Drift the mid a tick either way, then emit one trade and one delta
	// around it.
	f.mid[symbol] += int64(f.rng.Intn(3) - 1)
	mid := f.mid[symbol]

	side := "buy"
	price := mid + 1
	if f.rng.Intn(2) == 0 {
		side = "sell"
		price = mid - 1
	}
	trade := instrument.RawTrade{
		Exchange: f.exchange,
		Symbol:   symbol,
		Price:    hundredths(price),
		Qty:      strconv.FormatFloat(0.1+f.rng.Float64()*5, 'f', 4, 64),
		Side:     side,
		Time:     f.now,
		TradeID:  fmt.Sprintf("stub-%d", f.nextSeq()),
	}

	bookSide := "bid"
	levelPrice := mid - 1 - int64(f.rng.Intn(f.depth))
	if f.rng.Intn(2) == 0 {
		bookSide = "ask"
		levelPrice = mid + 1 + int64(f.rng.Intn(f.depth))
	}
	qty := f.rng.Float64() * 20
	if f.rng.Intn(10) == 0 {
		qty = 0 // level removal
	}
	delta := instrument.RawBookDelta{
		Exchange: f.exchange,
		Symbol:   symbol,
		Side:     bookSide,
		Level:    instrument.RawLevel{Price: hundredths(levelPrice), Qty: strconv.FormatFloat(qty, 'f', 4, 64)},
		Sequence: f.nextSeq(),
		Time:     f.now,
	}
	return trade, delta
}

func (f *StubFeed) snapshot(symbol string) instrument.RawBookSnapshot {
	mid := f.mid[symbol]
	bids := make([]instrument.RawLevel, 0, f.depth)
	asks := make([]instrument.RawLevel, 0, f.depth)
	for i := 1; i <= f.depth; i++ {
		qty := strconv.FormatFloat(1+f.rng.Float64()*10, 'f', 4, 64)
		bids = append(bids, instrument.RawLevel{Price: hundredths(mid - int64(i)), Qty: qty})
		asks = append(asks, instrument.RawLevel{Price: hundredths(mid + int64(i)), Qty: qty})
	}
	return instrument.RawBookSnapshot{
		Exchange: f.exchange,
		Symbol:   symbol,
		Bids:     bids,
		Asks:     asks,
		Sequence: f.nextSeq(),
		Time:     f.now,
	}
}

func (f *StubFeed) nextSeq() uint64 {
	f.seq++
	return f.seq
}

// hundredths renders a price expressed in hundredths as a decimal string,
// e.g. 10001 -> "100.01".
func hundredths(v int64) string {
	neg := ""
	if v < 0 {
		neg = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", neg, v/100, v%100)
}
