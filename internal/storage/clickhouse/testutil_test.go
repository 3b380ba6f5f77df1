package clickhouse

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestDB creates a ClickHouse container and returns a connection.
// Returns a cleanup function that must be called when done.
func setupTestDB(t *testing.T) (*Conn, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "clickhouse/clickhouse-server:24.1-alpine",
		ExposedPorts: []string{"9000/tcp", "8123/tcp"},
		WaitingFor: wait.ForAll(
			wait.ForLog("Application: Ready for connections").
				WithStartupTimeout(60 * time.Second),
			wait.ForListeningPort("9000/tcp"),
		),
		Env: map[string]string{
			"CLICKHOUSE_DB":       "test",
			"CLICKHOUSE_USER":     "default",
			"CLICKHOUSE_PASSWORD": "",
		},
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)

	dsn := fmt.Sprintf("clickhouse://%s:%s/test", host, port.Port())

	conn, err := NewConn(ctx, dsn)
	require.NoError(t, err)

	runMigrations(t, conn)

	cleanup := func() {
		conn.Close()
		_ = container.Terminate(ctx)
	}

	return conn, cleanup
}

func runMigrations(t *testing.T, conn *Conn) {
	t.Helper()
	ctx := context.Background()

	err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS trades (
			instrument      String,
			dedup_key       String,
			timestamp_ms    UInt64,
			ingested_ms     UInt64,
			price           Int64,
			qty             Float64,
			side            Int8,
			trade_id        String
		) ENGINE = ReplacingMergeTree()
		ORDER BY (instrument, timestamp_ms, dedup_key)
		SETTINGS index_granularity = 8192
	`)
	require.NoError(t, err)

	err = conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS footprint_candles (
			instrument      String,
			start_ms        UInt64,
			end_ms          UInt64,
			open            Int64,
			high            Int64,
			low             Int64,
			close           Int64,
			first_trade_ms  UInt64,
			last_trade_ms   UInt64,
			trade_count     UInt32,
			cell_prices     Array(Int64),
			cell_buy_qty    Array(Float64),
			cell_sell_qty   Array(Float64),
			cell_trades     Array(UInt32),
			version         UInt64
		) ENGINE = ReplacingMergeTree(version)
		ORDER BY (instrument, start_ms)
		SETTINGS index_granularity = 8192
	`)
	require.NoError(t, err)
}
