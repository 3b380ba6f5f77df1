// Package book reconstructs a sequence-consistent depth-of-market view per
// instrument from snapshot + delta streams.
package book

import (
	"fmt"
	"sort"

	"orderflow-lab/internal/domain"
)

// State is the reconstructor's sync state for one instrument.
type State int8

const (
	// Uninitialized: no snapshot seen yet; deltas are discarded.
	Uninitialized State = iota
	// Synced: deltas apply in strict sequence order.
	Synced
	// Desynced: a gap or invariant violation occurred; deltas are discarded
	// until a fresh snapshot arrives.
	Desynced
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Synced:
		return "synced"
	case Desynced:
		return "desynced"
	default:
		return "unknown"
	}
}

// Book owns the live depth state of one instrument. It is single-writer:
// only the instrument's pipeline goroutine mutates it. Consumers read
// through Snapshot, never the live maps.
type Book struct {
	instrument domain.InstrumentID
	state      State
	bids       map[domain.Price]float64
	asks       map[domain.Price]float64
	lastSeq    uint64
	time       int64

	// requestResync asks the external connector for a fresh snapshot.
	// Invoked once per transition into Desynced.
	requestResync func()
}

// New creates an Uninitialized book. requestResync may be nil when no
// connector is attached (replay, tests).
func New(instrument domain.InstrumentID, requestResync func()) *Book {
	return &Book{
		instrument:    instrument,
		bids:          make(map[domain.Price]float64),
		asks:          make(map[domain.Price]float64),
		requestResync: requestResync,
	}
}

// State reports the current sync state.
func (b *Book) State() State {
	return b.state
}

// LastSequence reports the sequence of the last applied snapshot or delta.
func (b *Book) LastSequence() uint64 {
	return b.lastSeq
}

// ApplySnapshot replaces all prior state and transitions to Synced. A
// snapshot that arrives already crossed (best bid >= best ask) is rejected:
// the book desyncs and a fresh snapshot is requested rather than serving
// impossible depth.
func (b *Book) ApplySnapshot(snap *domain.BookSnapshot) {
	b.bids = make(map[domain.Price]float64, len(snap.Bids))
	for _, lvl := range snap.Bids {
		if lvl.Qty > 0 {
			b.bids[lvl.Price] = lvl.Qty
		}
	}
	b.asks = make(map[domain.Price]float64, len(snap.Asks))
	for _, lvl := range snap.Asks {
		if lvl.Qty > 0 {
			b.asks[lvl.Price] = lvl.Qty
		}
	}
	b.lastSeq = snap.Sequence
	b.time = snap.Time
	if b.crossed() {
		b.desync()
		return
	}
	b.state = Synced
}

// ApplyDelta applies one depth update. While not Synced every delta is
// discarded. A delta at sequence <= lastSeq is a duplicate and is dropped
// silently. A delta ahead of lastSeq+1 desyncs the book, requests a resync,
// and returns ErrSequenceGap; no partial or speculative application happens.
// A crossed book after apply (bid >= ask) also forces Desynced.
func (b *Book) ApplyDelta(d *domain.BookDelta) error {
	if b.state != Synced {
		return nil
	}
	if d.Sequence <= b.lastSeq {
		return nil
	}
	if d.Sequence != b.lastSeq+1 {
		b.desync()
		return fmt.Errorf("%w: expected %d, got %d", domain.ErrSequenceGap, b.lastSeq+1, d.Sequence)
	}

	side := b.bids
	if d.Side == domain.Sell {
		side = b.asks
	}
	if d.Qty == 0 {
		delete(side, d.Price)
	} else {
		side[d.Price] = d.Qty
	}

	b.lastSeq = d.Sequence
	b.time = d.Time

	if b.crossed() {
		b.desync()
		return fmt.Errorf("%w: crossed book after seq %d", domain.ErrSequenceGap, d.Sequence)
	}
	return nil
}

// Snapshot returns a detached, sorted copy of the current depth.
func (b *Book) Snapshot() *domain.BookView {
	view := &domain.BookView{
		Instrument: b.instrument,
		Bids:       make([]domain.PriceLevel, 0, len(b.bids)),
		Asks:       make([]domain.PriceLevel, 0, len(b.asks)),
		Sequence:   b.lastSeq,
		Time:       b.time,
	}
	for price, qty := range b.bids {
		view.Bids = append(view.Bids, domain.PriceLevel{Price: price, Qty: qty})
	}
	for price, qty := range b.asks {
		view.Asks = append(view.Asks, domain.PriceLevel{Price: price, Qty: qty})
	}
	sort.Slice(view.Bids, func(i, j int) bool { return view.Bids[i].Price > view.Bids[j].Price })
	sort.Slice(view.Asks, func(i, j int) bool { return view.Asks[i].Price < view.Asks[j].Price })
	return view
}

func (b *Book) desync() {
	b.state = Desynced
	b.bids = make(map[domain.Price]float64)
	b.asks = make(map[domain.Price]float64)
	if b.requestResync != nil {
		b.requestResync()
	}
}

// crossed reports whether max bid >= min ask with both sides non-empty.
func (b *Book) crossed() bool {
	if len(b.bids) == 0 || len(b.asks) == 0 {
		return false
	}
	var maxBid domain.Price
	first := true
	for price := range b.bids {
		if first || price > maxBid {
			maxBid = price
			first = false
		}
	}
	minAsk := domain.Price(0)
	first = true
	for price := range b.asks {
		if first || price < minAsk {
			minAsk = price
			first = false
		}
	}
	return maxBid >= minAsk
}
