package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"orderflow-lab/internal/domain"
	"orderflow-lab/internal/storage"
)

func storedTrade(ts int64, id string) *domain.Trade {
	return &domain.Trade{
		Instrument: "test:btcusdt",
		Price:      1000,
		Qty:        1.5,
		Side:       domain.Buy,
		Time:       ts,
		TradeID:    id,
	}
}

func TestTradeStoreInsertAndDuplicate(t *testing.T) {
	s := NewTradeStore()
	ctx := context.Background()

	if err := s.Insert(ctx, storedTrade(1000, "t-1")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.Insert(ctx, storedTrade(1000, "t-1")); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
	// Same shape without a native id hashes to the same content key.
	if err := s.Insert(ctx, storedTrade(1000, "")); err != nil {
		t.Fatalf("Insert content-keyed: %v", err)
	}
	if err := s.Insert(ctx, storedTrade(1000, "")); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("expected content-hash duplicate, got %v", err)
	}
}

func TestTradeStoreBulkSkipsDuplicates(t *testing.T) {
	s := NewTradeStore()
	ctx := context.Background()

	_ = s.Insert(ctx, storedTrade(1000, "t-1"))
	n, err := s.InsertBulk(ctx, []*domain.Trade{
		storedTrade(1000, "t-1"),
		storedTrade(2000, "t-2"),
		storedTrade(3000, "t-3"),
	})
	if err != nil {
		t.Fatalf("InsertBulk: %v", err)
	}
	if n != 2 {
		t.Errorf("inserted = %d, want 2", n)
	}
}

func TestTradeStoreTimeRangeIsHalfOpenAndOrdered(t *testing.T) {
	s := NewTradeStore()
	ctx := context.Background()

	for _, ts := range []int64{3000, 1000, 2000, 4000} {
		if err := s.Insert(ctx, storedTrade(ts, "")); err != nil {
			t.Fatalf("Insert %d: %v", ts, err)
		}
	}

	got, err := s.GetByTimeRange(ctx, "test:btcusdt", 1000, 4000)
	if err != nil {
		t.Fatalf("GetByTimeRange: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("trades = %d, want 3 (end excluded)", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Time < got[i-1].Time {
			t.Fatal("trades not ordered by time")
		}
	}
}

func TestTradeStoreValidation(t *testing.T) {
	s := NewTradeStore()
	ctx := context.Background()

	bad := storedTrade(1000, "t-1")
	bad.Qty = 0
	if err := s.Insert(ctx, bad); !errors.Is(err, storage.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestCandleStoreUpsertReplaces(t *testing.T) {
	s := NewCandleStore()
	ctx := context.Background()

	c := &domain.FootprintCandle{
		Instrument: "test:btcusdt",
		Start:      0,
		End:        60_000,
		Cells:      map[domain.Price]domain.Cell{1000: {BuyQty: 2}},
		Closed:     true,
	}
	if err := s.Upsert(ctx, c); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	reworked := c.Clone()
	reworked.Cells[1000] = domain.Cell{BuyQty: 5}
	if err := s.Upsert(ctx, reworked); err != nil {
		t.Fatalf("Upsert replacement: %v", err)
	}

	got, err := s.GetByTimeRange(ctx, "test:btcusdt", 0, 60_000)
	if err != nil {
		t.Fatalf("GetByTimeRange: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("candles = %d, want 1 after upsert", len(got))
	}
	if got[0].Cells[1000].BuyQty != 5 {
		t.Errorf("cell = %+v, want replaced buy 5", got[0].Cells[1000])
	}
}

func TestCandleStoreRejectsOpenCandle(t *testing.T) {
	s := NewCandleStore()
	open := &domain.FootprintCandle{Instrument: "test:btcusdt", Start: 0, End: 60_000}
	if err := s.Upsert(context.Background(), open); !errors.Is(err, storage.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestInstrumentStoreRoundTrip(t *testing.T) {
	s := NewInstrumentStore()
	ctx := context.Background()

	in := &domain.Instrument{
		ID:           domain.CanonicalID("test", "btcusdt"),
		Exchange:     "test",
		NativeSymbol: "btcusdt",
		Symbol:       "BTCUSD",
		TickSize:     decimal.RequireFromString("0.1"),
		LotSize:      decimal.RequireFromString("0.001"),
	}
	if err := s.Insert(ctx, in); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.Insert(ctx, in); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}

	got, err := s.GetByID(ctx, in.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !got.TickSize.Equal(in.TickSize) {
		t.Errorf("tick size = %s, want %s", got.TickSize, in.TickSize)
	}

	if _, err := s.GetByID(ctx, "test:missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	all, err := s.GetByExchange(ctx, "test")
	if err != nil || len(all) != 1 {
		t.Fatalf("GetByExchange = %v, %v", all, err)
	}
}
