package instrument

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"orderflow-lab/internal/domain"
	"orderflow-lab/internal/storage/memory"
)

func TestStaticSourceFetch(t *testing.T) {
	src := NewStaticSource([]domain.Instrument{{
		Exchange:     "test",
		NativeSymbol: "btcusdt",
		Symbol:       "BTCUSD",
		TickSize:     decimal.RequireFromString("0.1"),
	}})

	inst, err := src.Fetch(context.Background(), "test", "btcusdt")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if inst.Symbol != "BTCUSD" || !inst.TickSize.Equal(decimal.RequireFromString("0.1")) {
		t.Errorf("instrument = %+v", inst)
	}

	if _, err := src.Fetch(context.Background(), "test", "unknown"); !errors.Is(err, domain.ErrUnknownInstrument) {
		t.Errorf("err = %v, want ErrUnknownInstrument", err)
	}
}

func TestStoreSourcePersistsFallbackResult(t *testing.T) {
	store := memory.NewInstrumentStore()
	fallback := &UniformSource{TickSize: decimal.RequireFromString("0.01")}
	src := NewStoreSource(store, fallback)

	inst, err := src.Fetch(context.Background(), "test", "btcusdt")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if inst.ID != domain.CanonicalID("test", "btcusdt") {
		t.Errorf("id = %q", inst.ID)
	}

	// The fallback result must now be in the store.
	stored, err := store.GetByID(context.Background(), inst.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !stored.TickSize.Equal(inst.TickSize) {
		t.Errorf("stored tick = %s, want %s", stored.TickSize, inst.TickSize)
	}

	// A second fetch serves from the store even with a broken fallback.
	src = NewStoreSource(store, nil)
	if _, err := src.Fetch(context.Background(), "test", "btcusdt"); err != nil {
		t.Fatalf("Fetch from store: %v", err)
	}
}

func TestStoreSourceWithoutFallback(t *testing.T) {
	src := NewStoreSource(memory.NewInstrumentStore(), nil)
	if _, err := src.Fetch(context.Background(), "test", "btcusdt"); !errors.Is(err, domain.ErrUnknownInstrument) {
		t.Errorf("err = %v, want ErrUnknownInstrument", err)
	}
}
