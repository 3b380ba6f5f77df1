package postgres

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"orderflow-lab/internal/domain"
	"orderflow-lab/internal/storage"
)

func storedInstrument(symbol string) *domain.Instrument {
	return &domain.Instrument{
		ID:           domain.CanonicalID("test", symbol),
		Exchange:     "test",
		NativeSymbol: symbol,
		Symbol:       "BTCUSD",
		TickSize:     decimal.RequireFromString("0.1"),
		LotSize:      decimal.RequireFromString("0.001"),
	}
}

func TestInstrumentStoreRoundTrip(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewInstrumentStore(pool, nil)
	ctx := context.Background()

	want := storedInstrument("btcusdt")
	require.NoError(t, store.Insert(ctx, want))

	err := store.Insert(ctx, want)
	require.ErrorIs(t, err, storage.ErrDuplicateKey)

	got, err := store.GetByID(ctx, want.ID)
	require.NoError(t, err)
	require.Equal(t, want.ID, got.ID)
	require.True(t, got.TickSize.Equal(want.TickSize), "tick size %s", got.TickSize)
	require.True(t, got.LotSize.Equal(want.LotSize), "lot size %s", got.LotSize)
}

func TestInstrumentStoreNotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewInstrumentStore(pool, nil)
	_, err := store.GetByID(context.Background(), "test:missing")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestInstrumentStoreGetByExchange(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewInstrumentStore(pool, nil)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, storedInstrument("btcusdt")))
	require.NoError(t, store.Insert(ctx, storedInstrument("ethusdt")))

	got, err := store.GetByExchange(ctx, "test")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Less(t, string(got[0].ID), string(got[1].ID))

	none, err := store.GetByExchange(ctx, "other")
	require.NoError(t, err)
	require.Empty(t, none)
}
