package instrument

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"orderflow-lab/internal/domain"
)

// staticSource is a MetadataSource backed by a fixed table.
type staticSource struct {
	table map[string]*domain.Instrument
}

func (s *staticSource) Fetch(_ context.Context, exchange, symbol string) (*domain.Instrument, error) {
	inst, ok := s.table[exchange+"/"+symbol]
	if !ok {
		return nil, errors.New("no metadata")
	}
	return inst, nil
}

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	source := &staticSource{table: map[string]*domain.Instrument{
		"test/btcusdt": {
			Symbol:   "BTCUSD",
			TickSize: decimal.RequireFromString("0.1"),
			LotSize:  decimal.RequireFromString("0.001"),
		},
	}}
	r := NewRegistry(source)
	if _, err := r.Register(context.Background(), "test", "btcusdt"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return r
}

func TestRegisterIsInjectiveAndIdempotent(t *testing.T) {
	r := testRegistry(t)

	first, ok := r.Lookup("test", "btcusdt")
	if !ok {
		t.Fatal("registered instrument not found")
	}
	again, err := r.Register(context.Background(), "test", "btcusdt")
	if err != nil {
		t.Fatalf("re-register failed: %v", err)
	}
	if again.ID != first.ID {
		t.Errorf("re-registration changed canonical id: %s vs %s", again.ID, first.ID)
	}
	if first.ID != domain.CanonicalID("test", "btcusdt") {
		t.Errorf("unexpected canonical id %s", first.ID)
	}
}

func TestNormalizeTrade(t *testing.T) {
	n := NewNormalizer(testRegistry(t), nil)

	trade, err := n.Trade(RawTrade{
		Exchange: "test", Symbol: "btcusdt",
		Price: "100.1", Qty: "2.5", Side: "buy", Time: 1000, TradeID: "t-1",
	})
	if err != nil {
		t.Fatalf("Trade failed: %v", err)
	}

	// tick size 0.1 -> 100.1 is 1001 ticks
	if trade.Price != 1001 {
		t.Errorf("price = %d ticks, want 1001", trade.Price)
	}
	if trade.Qty != 2.5 {
		t.Errorf("qty = %f, want 2.5", trade.Qty)
	}
	if trade.Side != domain.Buy {
		t.Errorf("side = %v, want Buy", trade.Side)
	}
	if trade.Ingested == 0 {
		t.Error("ingestion timestamp not set")
	}
}

func TestNormalizeTrade_UnknownInstrument(t *testing.T) {
	n := NewNormalizer(testRegistry(t), nil)

	_, err := n.Trade(RawTrade{Exchange: "test", Symbol: "ethusdt", Price: "1", Qty: "1", Side: "buy"})
	if !errors.Is(err, domain.ErrUnknownInstrument) {
		t.Fatalf("expected ErrUnknownInstrument, got %v", err)
	}
}

func TestNormalizeTrade_InvalidValues(t *testing.T) {
	n := NewNormalizer(testRegistry(t), nil)

	cases := []RawTrade{
		{Exchange: "test", Symbol: "btcusdt", Price: "abc", Qty: "1", Side: "buy"},
		{Exchange: "test", Symbol: "btcusdt", Price: "-5", Qty: "1", Side: "buy"},
		{Exchange: "test", Symbol: "btcusdt", Price: "100", Qty: "0", Side: "buy"},
		{Exchange: "test", Symbol: "btcusdt", Price: "100", Qty: "1", Side: "hold"},
	}
	for i, raw := range cases {
		if _, err := n.Trade(raw); !errors.Is(err, domain.ErrInvalidEvent) {
			t.Errorf("case %d: expected ErrInvalidEvent, got %v", i, err)
		}
	}
}

func TestNormalizeDelta_ZeroQtyIsRemoval(t *testing.T) {
	n := NewNormalizer(testRegistry(t), nil)

	d, err := n.Delta(RawBookDelta{
		Exchange: "test", Symbol: "btcusdt",
		Side: "bid", Level: RawLevel{Price: "100.0", Qty: "0"},
		Sequence: 7, Time: 500,
	})
	if err != nil {
		t.Fatalf("Delta failed: %v", err)
	}
	if d.Qty != 0 {
		t.Errorf("qty = %f, want 0", d.Qty)
	}
	if d.Price != 1000 {
		t.Errorf("price = %d ticks, want 1000", d.Price)
	}
	if d.Side != domain.Buy {
		t.Errorf("side = %v, want Buy", d.Side)
	}
}

func TestNormalizeSnapshot_TickAlignsLevels(t *testing.T) {
	n := NewNormalizer(testRegistry(t), nil)

	snap, err := n.Snapshot(RawBookSnapshot{
		Exchange: "test", Symbol: "btcusdt",
		Bids:     []RawLevel{{Price: "99.97", Qty: "3"}},
		Asks:     []RawLevel{{Price: "100.12", Qty: "1"}},
		Sequence: 42,
	})
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	// Off-grid prices round to the nearest tick.
	if snap.Bids[0].Price != 1000 {
		t.Errorf("bid price = %d ticks, want 1000 (99.97 -> 100.0)", snap.Bids[0].Price)
	}
	if snap.Asks[0].Price != 1001 {
		t.Errorf("ask price = %d ticks, want 1001 (100.12 -> 100.1)", snap.Asks[0].Price)
	}
}

func TestNormalizeSnapshot_MalformedLevelPoisonsSnapshot(t *testing.T) {
	n := NewNormalizer(testRegistry(t), nil)

	_, err := n.Snapshot(RawBookSnapshot{
		Exchange: "test", Symbol: "btcusdt",
		Bids: []RawLevel{{Price: "100.0", Qty: "3"}, {Price: "oops", Qty: "1"}},
	})
	if !errors.Is(err, domain.ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
}

func TestUnregisterRemovesLookup(t *testing.T) {
	r := testRegistry(t)
	id := domain.CanonicalID("test", "btcusdt")

	r.Unregister(id)
	if _, ok := r.Get(id); ok {
		t.Fatal("instrument still resolvable after Unregister")
	}
}
