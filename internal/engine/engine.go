// Package engine runs one aggregation pipeline per subscribed instrument
// and publishes immutable chart views.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"orderflow-lab/internal/backfill"
	"orderflow-lab/internal/domain"
	"orderflow-lab/internal/instrument"
	"orderflow-lab/internal/observability"
	"orderflow-lab/internal/storage"
)

// Options configures an Engine.
type Options struct {
	Registry *instrument.Registry
	Logger   *slog.Logger
	Metrics  *observability.Metrics

	// Provider fetches trade history for gap reconciliation. Nil degrades
	// every pipeline to live-only.
	Provider backfill.HistoricalProvider
	// TradeStore, if set, archives live and backfilled trades.
	TradeStore storage.TradeStore
	// CandleStore, if set, persists closed candles.
	CandleStore storage.CandleStore

	// RequestResync is called when an instrument's book desyncs and needs
	// a fresh snapshot from the connector.
	RequestResync func(domain.InstrumentID)
}

// Engine multiplexes normalized market data onto per-instrument pipelines.
// Each pipeline runs in its own goroutine; the engine itself only routes,
// so ingestion for different instruments never serializes against each
// other while per-instrument order is preserved.
type Engine struct {
	registry   *instrument.Registry
	normalizer *instrument.Normalizer
	logger     *slog.Logger
	opts       Options

	mu        sync.Mutex
	pipelines map[domain.InstrumentID]*pipeline
	subs      map[uuid.UUID]*Subscription
	closed    bool
}

// Subscription is a live handle onto one instrument's pipeline. Updates
// pulses whenever a new view is published; read the view with Engine.View.
type Subscription struct {
	ID         uuid.UUID
	Instrument domain.InstrumentID
	Updates    <-chan struct{}

	engine *Engine
	once   sync.Once
}

// Close tears the subscription down. The last subscription on an
// instrument stops its pipeline synchronously; when Close returns, no
// goroutine is processing the instrument anymore.
func (s *Subscription) Close() {
	s.once.Do(func() { s.engine.unsubscribe(s) })
}

// New creates an engine. Registry is required.
func New(opts Options) (*Engine, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("%w: engine needs an instrument registry", domain.ErrInvalidEvent)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		registry:   opts.Registry,
		normalizer: instrument.NewNormalizer(opts.Registry, logger),
		logger:     logger,
		opts:       opts,
		pipelines:  make(map[domain.InstrumentID]*pipeline),
		subs:       make(map[uuid.UUID]*Subscription),
	}, nil
}

// Subscribe registers the instrument and attaches to its pipeline,
// starting one if none runs. The config binds at pipeline start; later
// subscribers to the same instrument share the first subscriber's
// parameters.
func (e *Engine) Subscribe(ctx context.Context, exchange, nativeSymbol string, cfg domain.SubscriptionConfig) (*Subscription, error) {
	inst, err := e.registry.Register(ctx, exchange, nativeSymbol)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, fmt.Errorf("%w: engine closed", domain.ErrInvalidEvent)
	}

	p, ok := e.pipelines[inst.ID]
	if !ok {
		p, err = newPipeline(inst.ID, cfg, pipelineDeps{
			logger:        e.logger,
			metrics:       e.opts.Metrics,
			provider:      e.opts.Provider,
			tradeStore:    e.opts.TradeStore,
			candleStore:   e.opts.CandleStore,
			requestResync: e.opts.RequestResync,
		})
		if err != nil {
			return nil, fmt.Errorf("start pipeline %s: %w", inst.ID, err)
		}
		e.pipelines[inst.ID] = p
		if e.opts.Metrics != nil {
			e.opts.Metrics.ActivePipelines.Set(float64(len(e.pipelines)))
		}
		e.logger.Info("pipeline started", "instrument", inst.ID)
	}

	sub := &Subscription{
		ID:         uuid.New(),
		Instrument: inst.ID,
		engine:     e,
	}
	sub.Updates = p.addSubscriber(sub.ID)
	e.subs[sub.ID] = sub
	if e.opts.Metrics != nil {
		e.opts.Metrics.ActiveSubscriptions.Set(float64(len(e.subs)))
	}
	return sub, nil
}

func (e *Engine) unsubscribe(sub *Subscription) {
	e.mu.Lock()
	delete(e.subs, sub.ID)
	if e.opts.Metrics != nil {
		e.opts.Metrics.ActiveSubscriptions.Set(float64(len(e.subs)))
	}
	p, ok := e.pipelines[sub.Instrument]
	var last bool
	if ok {
		last = p.removeSubscriber(sub.ID) == 0
		if last {
			delete(e.pipelines, sub.Instrument)
			if e.opts.Metrics != nil {
				e.opts.Metrics.ActivePipelines.Set(float64(len(e.pipelines)))
			}
		}
	}
	e.mu.Unlock()

	if ok && last {
		p.shutdown()
		e.registry.Unregister(sub.Instrument)
		e.logger.Info("pipeline stopped", "instrument", sub.Instrument)
	}
}

// OnTrade normalizes and routes a raw trade. Events for unknown
// instruments or with malformed values are dropped with a log line; the
// feed must keep flowing.
func (e *Engine) OnTrade(raw instrument.RawTrade) {
	t, err := e.normalizer.Trade(raw)
	if err != nil {
		e.dropped(raw.Exchange, raw.Symbol, "trade", err)
		return
	}
	if p, ok := e.pipeline(t.Instrument); ok {
		p.send(event{trade: t})
	}
}

// OnBookDelta normalizes and routes a raw depth update.
func (e *Engine) OnBookDelta(raw instrument.RawBookDelta) {
	d, err := e.normalizer.Delta(raw)
	if err != nil {
		e.dropped(raw.Exchange, raw.Symbol, "delta", err)
		return
	}
	if p, ok := e.pipeline(d.Instrument); ok {
		p.send(event{delta: d})
	}
}

// OnBookSnapshot normalizes and routes a raw depth image.
func (e *Engine) OnBookSnapshot(raw instrument.RawBookSnapshot) {
	s, err := e.normalizer.Snapshot(raw)
	if err != nil {
		e.dropped(raw.Exchange, raw.Symbol, "snapshot", err)
		return
	}
	if p, ok := e.pipeline(s.Instrument); ok {
		p.send(event{snapshot: s})
	}
}

// View returns the instrument's latest published view. ok is false when no
// pipeline runs or nothing has been published yet.
func (e *Engine) View(id domain.InstrumentID) (*ChartView, bool) {
	p, ok := e.pipeline(id)
	if !ok {
		return nil, false
	}
	v := p.view.Load()
	if v == nil {
		return nil, false
	}
	return v, true
}

// Reconcile runs a backfill pass over [from, to) on the instrument's
// pipeline and waits for the result.
func (e *Engine) Reconcile(ctx context.Context, id domain.InstrumentID, from, to int64) (backfill.Result, error) {
	p, ok := e.pipeline(id)
	if !ok {
		return backfill.Result{}, fmt.Errorf("%w: %s", domain.ErrUnknownInstrument, id)
	}
	cmd := &reconcileCmd{from: from, to: to, resp: make(chan reconcileResp, 1)}
	p.send(event{reconcile: cmd})
	select {
	case r := <-cmd.resp:
		return r.res, r.err
	case <-p.done:
		return backfill.Result{}, fmt.Errorf("%w: pipeline %s stopped", domain.ErrUnknownInstrument, id)
	case <-ctx.Done():
		return backfill.Result{}, ctx.Err()
	}
}

// Close stops every pipeline and invalidates all subscriptions.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	pipelines := e.pipelines
	e.pipelines = make(map[domain.InstrumentID]*pipeline)
	e.subs = make(map[uuid.UUID]*Subscription)
	e.mu.Unlock()

	for id, p := range pipelines {
		p.shutdown()
		e.registry.Unregister(id)
	}
}

func (e *Engine) pipeline(id domain.InstrumentID) (*pipeline, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.pipelines[id]
	return p, ok
}

func (e *Engine) dropped(exchange, symbol, kind string, err error) {
	e.logger.Warn("dropping event", "kind", kind, "exchange", exchange, "symbol", symbol, "error", err)
	if e.opts.Metrics != nil {
		e.opts.Metrics.EventsDropped.
			WithLabelValues(string(domain.CanonicalID(exchange, symbol)), "invalid").Inc()
	}
}
