package clickhouse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"orderflow-lab/internal/domain"
	"orderflow-lab/internal/storage"
)

func archivedTrade(ts int64, id string) *domain.Trade {
	return &domain.Trade{
		Instrument: "test:btcusdt",
		Price:      1001,
		Qty:        2.5,
		Side:       domain.Buy,
		Time:       ts,
		Ingested:   ts + 5,
		TradeID:    id,
	}
}

func TestTradeStoreInsertAndGet(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewTradeStore(conn, nil)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, archivedTrade(1000, "t-1")))
	require.NoError(t, store.Insert(ctx, archivedTrade(2000, "t-2")))

	err := store.Insert(ctx, archivedTrade(1000, "t-1"))
	require.ErrorIs(t, err, storage.ErrDuplicateKey)

	got, err := store.GetByTimeRange(ctx, "test:btcusdt", 0, 3000)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "t-1", got[0].TradeID)
	require.Equal(t, domain.Price(1001), got[0].Price)
	require.Equal(t, domain.Buy, got[0].Side)
	require.Equal(t, 2.5, got[0].Qty)
}

func TestTradeStoreBulkSkipsDuplicates(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewTradeStore(conn, nil)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, archivedTrade(1000, "t-1")))

	n, err := store.InsertBulk(ctx, []*domain.Trade{
		archivedTrade(1000, "t-1"), // already stored
		archivedTrade(2000, "t-2"),
		archivedTrade(2000, "t-2"), // intra-batch duplicate
		archivedTrade(3000, "t-3"),
	})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	got, err := store.GetByTimeRange(ctx, "test:btcusdt", 0, 10_000)
	require.NoError(t, err)
	require.Len(t, got, 3)
}

func TestTradeStoreTimeRangeExcludesEnd(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewTradeStore(conn, nil)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, archivedTrade(1000, "t-1")))
	require.NoError(t, store.Insert(ctx, archivedTrade(2000, "t-2")))

	got, err := store.GetByTimeRange(ctx, "test:btcusdt", 1000, 2000)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, int64(1000), got[0].Time)
}
