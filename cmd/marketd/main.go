// Package main runs the market data daemon: venue feeds in, aggregation
// pipelines per instrument, chart views and Prometheus metrics out.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"orderflow-lab/internal/backfill"
	"orderflow-lab/internal/config"
	"orderflow-lab/internal/connector"
	"orderflow-lab/internal/domain"
	"orderflow-lab/internal/engine"
	"orderflow-lab/internal/instrument"
	"orderflow-lab/internal/logging"
	"orderflow-lab/internal/observability"
	"orderflow-lab/internal/storage"
	chstore "orderflow-lab/internal/storage/clickhouse"
	"orderflow-lab/internal/storage/memory"
	pgstore "orderflow-lab/internal/storage/postgres"
)

// feed is the common surface of real and stub venue connections.
type feed interface {
	Run(ctx context.Context) error
	RequestResync(symbol string)
}

// stores bundles the storage backends the engine persists into.
type stores struct {
	trades      storage.TradeStore
	candles     storage.CandleStore
	instruments storage.InstrumentStore
	cleanup     func()
}

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics("orderflow_lab")
		go serveMetrics(cfg.Metrics.Addr, logger)
	}

	st, err := createStores(ctx, cfg.Storage, metrics)
	if err != nil {
		logger.Error("creating stores failed", "error", err)
		os.Exit(1)
	}
	defer st.cleanup()

	registry := instrument.NewRegistry(
		instrument.NewStoreSource(st.instruments, metadataSource(cfg.Exchanges)))

	// Feeds are created before the engine so book resyncs can route to
	// them, and started after subscriptions so no event beats its pipeline.
	feeds := make(map[string]feed, len(cfg.Exchanges))

	eng, err := engine.New(engine.Options{
		Registry:    registry,
		Logger:      logger,
		Metrics:     metrics,
		Provider:    historyProvider(cfg.Exchanges, registry),
		TradeStore:  st.trades,
		CandleStore: st.candles,
		RequestResync: func(id domain.InstrumentID) {
			inst, ok := registry.Get(id)
			if !ok {
				return
			}
			if f, ok := feeds[inst.Exchange]; ok {
				f.RequestResync(inst.NativeSymbol)
			}
		},
	})
	if err != nil {
		logger.Error("creating engine failed", "error", err)
		os.Exit(1)
	}
	defer eng.Close()

	for _, ex := range cfg.Exchanges {
		if ex.WSURL == "stub" {
			feeds[ex.Name] = connector.NewStubFeed(ex.Name, ex.Symbols, eng, 0, time.Now().UnixNano())
			continue
		}
		feeds[ex.Name] = connector.NewStreamClient(
			ex.WSURL, ex.Symbols, connector.NewJSONCodec(ex.Name), eng, cfg.Feed, logger)
	}

	subCfg := cfg.Chart.Subscription()
	for _, ex := range cfg.Exchanges {
		for _, symbol := range ex.Symbols {
			if _, err := eng.Subscribe(ctx, ex.Name, symbol, subCfg); err != nil {
				logger.Error("subscribe failed", "exchange", ex.Name, "symbol", symbol, "error", err)
				os.Exit(1)
			}
			logger.Info("subscribed", "exchange", ex.Name, "symbol", symbol)
		}
	}

	errCh := make(chan error, len(feeds))
	for name, f := range feeds {
		go func(name string, f feed) {
			if err := f.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("feed %s: %w", name, err)
			}
		}(name, f)
	}
	logger.Info("market daemon started", "exchanges", len(feeds))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		logger.Error("feed failed", "error", err)
	}
	cancel()
}

// metadataSource builds the fallback metadata table from the venue config.
func metadataSource(exchanges []config.ExchangeEntry) instrument.MetadataSource {
	var instruments []domain.Instrument
	for _, ex := range exchanges {
		tick := decimal.RequireFromString("0.01")
		if ex.TickSize != "" {
			tick = decimal.RequireFromString(ex.TickSize)
		}
		lot := decimal.Zero
		if ex.LotSize != "" {
			lot = decimal.RequireFromString(ex.LotSize)
		}
		for _, symbol := range ex.Symbols {
			instruments = append(instruments, domain.Instrument{
				Exchange:     ex.Name,
				NativeSymbol: symbol,
				Symbol:       symbol,
				TickSize:     tick,
				LotSize:      lot,
			})
		}
	}
	return instrument.NewStaticSource(instruments)
}

// historyRouter dispatches backfill fetches to per-venue history clients.
type historyRouter struct {
	registry *instrument.Registry
	clients  map[string]*connector.HistoryClient
}

func (r *historyRouter) FetchTrades(ctx context.Context, id domain.InstrumentID, from, to int64) ([]*domain.Trade, error) {
	inst, ok := r.registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownInstrument, id)
	}
	client, ok := r.clients[inst.Exchange]
	if !ok {
		// Venue exposes no history endpoint; reconcile with what we have.
		return nil, nil
	}
	return client.FetchTrades(ctx, id, from, to)
}

// historyProvider wires rest_url entries into one provider, or nil when no
// venue exposes history so pipelines degrade to live-only.
func historyProvider(exchanges []config.ExchangeEntry, registry *instrument.Registry) backfill.HistoricalProvider {
	clients := make(map[string]*connector.HistoryClient)
	for _, ex := range exchanges {
		if ex.RESTURL != "" {
			clients[ex.Name] = connector.NewHistoryClient(ex.RESTURL, registry, nil)
		}
	}
	if len(clients) == 0 {
		return nil
	}
	return &historyRouter{registry: registry, clients: clients}
}

func createStores(ctx context.Context, cfg config.StorageConfig, metrics *observability.Metrics) (*stores, error) {
	st := &stores{
		trades:      memory.NewTradeStore(),
		candles:     memory.NewCandleStore(),
		instruments: memory.NewInstrumentStore(),
		cleanup:     func() {},
	}

	var closers []func()
	if cfg.ClickHouseDSN != "" {
		conn, err := chstore.NewConn(ctx, cfg.ClickHouseDSN)
		if err != nil {
			return nil, fmt.Errorf("connect to clickhouse: %w", err)
		}
		closers = append(closers, func() { conn.Close() })
		st.trades = chstore.NewTradeStore(conn, metrics)
		st.candles = chstore.NewCandleStore(conn, metrics)
	}
	if cfg.PostgresDSN != "" {
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			for _, c := range closers {
				c()
			}
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		closers = append(closers, pool.Close)
		st.instruments = pgstore.NewInstrumentStore(pool, metrics)
	}

	st.cleanup = func() {
		for _, c := range closers {
			c()
		}
	}
	return st, nil
}

func serveMetrics(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", observability.Handler())

	logger.Info("metrics server listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server failed", "error", err)
	}
}
