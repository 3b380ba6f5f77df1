package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"orderflow-lab/internal/backfill"
	"orderflow-lab/internal/book"
	"orderflow-lab/internal/domain"
	"orderflow-lab/internal/footprint"
	"orderflow-lab/internal/heatmap"
	"orderflow-lab/internal/observability"
	"orderflow-lab/internal/storage"
	"orderflow-lab/internal/studies"
	"orderflow-lab/internal/window"
)

const (
	persistTimeout  = 5 * time.Second
	backfillTimeout = 30 * time.Second
)

// event is one unit of pipeline work. Exactly one field is set.
type event struct {
	trade     *domain.Trade
	delta     *domain.BookDelta
	snapshot  *domain.BookSnapshot
	reconcile *reconcileCmd
}

type reconcileCmd struct {
	from, to int64
	resp     chan reconcileResp
}

type reconcileResp struct {
	res backfill.Result
	err error
}

// pipeline owns all mutable state of one instrument. A single goroutine
// consumes the inbox, so events apply in arrival order and no component
// behind it needs locks.
type pipeline struct {
	instrument domain.InstrumentID
	cfg        domain.SubscriptionConfig
	logger     *slog.Logger
	metrics    *observability.Metrics

	inbox chan event
	stop  chan struct{}
	done  chan struct{}

	book    *book.Book
	agg     *footprint.Aggregator
	heat    *heatmap.Accumulator
	profile *studies.Profile
	cvd     *studies.CVD
	npoc    *studies.NPoC
	tape    *window.Window[*domain.Trade]
	recon   *backfill.Reconciler

	candleStore storage.CandleStore
	tradeStore  storage.TradeStore

	// desyncedAt is the exchange time of the delta that broke the book,
	// zero while synced. The next snapshot triggers a backfill over the gap.
	desyncedAt int64
	lastEvent  int64
	// lastSampled is the event time of the newest heatmap frame. Sampling
	// waits for the timeline to advance so a stalled feed cannot pile up
	// identical frames that age-based retention would never evict.
	lastSampled int64

	view atomic.Pointer[ChartView]

	subMu sync.Mutex
	subs  map[uuid.UUID]chan struct{}
}

type pipelineDeps struct {
	logger        *slog.Logger
	metrics       *observability.Metrics
	provider      backfill.HistoricalProvider
	tradeStore    storage.TradeStore
	candleStore   storage.CandleStore
	requestResync func(domain.InstrumentID)
}

func newPipeline(instrument domain.InstrumentID, cfg domain.SubscriptionConfig, deps pipelineDeps) (*pipeline, error) {
	p := &pipeline{
		instrument:  instrument,
		cfg:         cfg,
		logger:      deps.logger.With("instrument", instrument),
		metrics:     deps.metrics,
		inbox:       make(chan event, 1024),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		candleStore: deps.candleStore,
		tradeStore:  deps.tradeStore,
		subs:        make(map[uuid.UUID]chan struct{}),
	}

	p.book = book.New(instrument, func() {
		p.desyncedAt = p.lastEvent
		if p.metrics != nil {
			p.metrics.BookDesyncs.WithLabelValues(string(instrument)).Inc()
			p.metrics.ResyncRequests.WithLabelValues(string(instrument)).Inc()
		}
		if deps.requestResync != nil {
			go deps.requestResync(instrument)
		}
	})

	var err error
	p.agg, err = footprint.New(footprint.Options{
		Instrument: instrument,
		Interval:   cfg.Interval,
		OnClose:    p.onCandleClosed,
	})
	if err != nil {
		return nil, err
	}
	p.heat, err = heatmap.New(instrument, int64(cfg.HeatmapGroupTicks), cfg.HeatmapRetention)
	if err != nil {
		return nil, err
	}
	p.profile, err = studies.NewProfile(cfg.ProfileCandles, cfg.ValueAreaPct)
	if err != nil {
		return nil, err
	}
	p.cvd, err = studies.NewCVD(cfg.ProfileCandles)
	if err != nil {
		return nil, err
	}
	p.npoc, err = studies.NewNPoC(cfg.ProfileCandles)
	if err != nil {
		return nil, err
	}
	p.tape, err = window.ByAge[*domain.Trade](cfg.TradeRetention)
	if err != nil {
		return nil, err
	}
	p.recon, err = backfill.New(backfill.Options{
		Instrument: instrument,
		Provider:   deps.provider,
		Merger:     p.agg,
		Archive:    deps.tradeStore,
		Logger:     p.logger,
	})
	if err != nil {
		return nil, err
	}

	go p.run()
	return p, nil
}

func (p *pipeline) run() {
	defer close(p.done)

	ticker := time.NewTicker(p.cfg.HeatmapCadence)
	defer ticker.Stop()

	for {
		select {
		case ev := <-p.inbox:
			p.handle(ev)
		case <-ticker.C:
			p.tick()
		case <-p.stop:
			return
		}
	}
}

// send enqueues an event unless the pipeline has stopped.
func (p *pipeline) send(ev event) {
	select {
	case p.inbox <- ev:
	case <-p.stop:
	}
}

func (p *pipeline) shutdown() {
	close(p.stop)
	<-p.done
}

func (p *pipeline) handle(ev event) {
	switch {
	case ev.trade != nil:
		p.handleTrade(ev.trade)
	case ev.delta != nil:
		p.handleDelta(ev.delta)
	case ev.snapshot != nil:
		p.handleSnapshot(ev.snapshot)
	case ev.reconcile != nil:
		ctx, cancel := context.WithTimeout(context.Background(), backfillTimeout)
		res, err := p.recon.Reconcile(ctx, ev.reconcile.from, ev.reconcile.to)
		cancel()
		p.recordBackfill(res, err)
		ev.reconcile.resp <- reconcileResp{res: res, err: err}
		p.publish(p.lastEvent)
	}
}

func (p *pipeline) handleTrade(t *domain.Trade) {
	if t.Time > p.lastEvent {
		p.lastEvent = t.Time
	}
	if !p.recon.RecordLive(t) {
		if p.metrics != nil {
			p.metrics.EventsDropped.WithLabelValues(string(p.instrument), "duplicate").Inc()
		}
		return
	}

	p.agg.Ingest(t)
	p.heat.RecordTrade(t)
	p.tape.Push(t, t.Time)

	if p.metrics != nil {
		p.metrics.TradesProcessed.WithLabelValues(string(p.instrument)).Inc()
		if t.Ingested > t.Time {
			p.metrics.EventLatency.Observe(float64(t.Ingested-t.Time) / 1000)
		}
	}

	if p.tradeStore != nil {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		if err := p.tradeStore.Insert(ctx, t); err != nil {
			p.logger.Warn("archiving trade failed", "error", err)
		}
		cancel()
	}
}

func (p *pipeline) handleDelta(d *domain.BookDelta) {
	if d.Time > p.lastEvent {
		p.lastEvent = d.Time
	}
	if err := p.book.ApplyDelta(d); err != nil {
		p.logger.Warn("book delta desynced the book",
			"sequence", d.Sequence, "error", err)
		p.publish(p.lastEvent)
		return
	}
	if p.metrics != nil {
		p.metrics.BookDeltasProcessed.WithLabelValues(string(p.instrument)).Inc()
	}
}

func (p *pipeline) handleSnapshot(s *domain.BookSnapshot) {
	if s.Time > p.lastEvent {
		p.lastEvent = s.Time
	}
	gapStart := p.desyncedAt
	p.book.ApplySnapshot(s)
	p.desyncedAt = 0

	// A snapshot after a desync means trades may have been missed while
	// the stream was broken; reconcile the gap back one full interval.
	if gapStart > 0 {
		from := gapStart
		if p.cfg.Interval.Kind == domain.IntervalTime {
			from -= p.cfg.Interval.DurationMs
		}
		ctx, cancel := context.WithTimeout(context.Background(), backfillTimeout)
		res, err := p.recon.Reconcile(ctx, from, s.Time)
		cancel()
		p.recordBackfill(res, err)
		if err != nil {
			p.logger.Warn("gap reconciliation failed", "error", err)
		}
	}
	p.publish(p.lastEvent)
}

// tick advances the pipeline along the exchange timeline. Candle close and
// retention run on event time, not the local clock, so clock skew between
// the venue and this host never truncates candles; an active feed keeps
// event time moving through depth updates even without trades.
func (p *pipeline) tick() {
	now := p.lastEvent
	if now == 0 {
		// Nothing has arrived; there is no timeline to sample yet.
		p.publish(0)
		return
	}

	p.agg.CloseDue(now)
	if now != p.lastSampled {
		p.heat.Sample(p.book.Snapshot(), now)
		p.lastSampled = now
		if p.metrics != nil {
			p.metrics.FramesSampled.WithLabelValues(string(p.instrument)).Inc()
		}
	}
	p.recon.Prune(now - p.cfg.TradeRetention.Milliseconds())

	if p.metrics != nil {
		p.metrics.PipelineInbox.WithLabelValues(string(p.instrument)).Set(float64(len(p.inbox)))
	}

	p.publish(now)
}

// onCandleClosed fires from inside the aggregator for both live closes and
// backfill re-closes; the studies treat a repeated Start as a correction.
func (p *pipeline) onCandleClosed(c *domain.FootprintCandle) {
	p.profile.AddCandle(c)
	p.cvd.AddCandle(c)
	p.npoc.AddCandle(c)

	if p.metrics != nil {
		p.metrics.CandlesClosed.WithLabelValues(string(p.instrument)).Inc()
	}
	if p.candleStore != nil {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		if err := p.candleStore.Upsert(ctx, c); err != nil {
			p.logger.Warn("persisting closed candle failed", "start", c.Start, "error", err)
		}
		cancel()
	}

	p.publish(p.lastEvent)
}

func (p *pipeline) publish(now int64) {
	candles := p.agg.Closed(0)
	bookView := p.book.Snapshot()

	view := &ChartView{
		Instrument:  p.instrument,
		Book:        bookView,
		OpenCandle:  p.agg.Open(),
		Candles:     candles,
		Profile:     p.profile.Compute(),
		CVD:         p.cvd.Series(),
		NPoC:        p.npoc.Markers(),
		Imbalances:  studies.ScanImbalances(candles, p.cfg.Imbalance),
		LargeTrades: studies.ScanLargeTrades(candles, p.cfg.LargeTradeQty),
		Frames:      p.heat.Frames(now),
		Trades:      p.tape.Items(now),
		AsOf:        now,
	}
	p.view.Store(view)

	if p.metrics != nil {
		p.metrics.BookDepth.WithLabelValues(string(p.instrument), "bid").Set(float64(len(bookView.Bids)))
		p.metrics.BookDepth.WithLabelValues(string(p.instrument), "ask").Set(float64(len(bookView.Asks)))
	}

	p.notifyAll()
}

func (p *pipeline) recordBackfill(res backfill.Result, err error) {
	if p.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	p.metrics.BackfillRuns.WithLabelValues(string(p.instrument), status).Inc()
	p.metrics.BackfillMerged.WithLabelValues(string(p.instrument)).Add(float64(res.Merged))
	p.metrics.BackfillDuplicates.WithLabelValues(string(p.instrument)).Add(float64(res.Duplicates))
}

func (p *pipeline) addSubscriber(id uuid.UUID) chan struct{} {
	ch := make(chan struct{}, 1)
	p.subMu.Lock()
	p.subs[id] = ch
	p.subMu.Unlock()
	return ch
}

// removeSubscriber returns the number of remaining subscribers.
func (p *pipeline) removeSubscriber(id uuid.UUID) int {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	delete(p.subs, id)
	return len(p.subs)
}

// notifyAll signals subscribers without blocking; a slow consumer just
// coalesces updates into the one pending signal.
func (p *pipeline) notifyAll() {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	for _, ch := range p.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
