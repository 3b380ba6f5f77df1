// Package backfill reconciles historical trade fetches against the live
// stream.
package backfill

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"orderflow-lab/internal/domain"
	"orderflow-lab/internal/idhash"
	"orderflow-lab/internal/storage"
)

// HistoricalProvider fetches archived trades from a venue's REST history
// endpoint. Implementations return trades within [from, to) in any order.
type HistoricalProvider interface {
	FetchTrades(ctx context.Context, instrument domain.InstrumentID, from, to int64) ([]*domain.Trade, error)
}

// Merger folds a reconciled trade into downstream aggregation. Returns
// ErrBackfillConflict when the trade cannot be placed.
type Merger interface {
	MergeTrade(t *domain.Trade) error
}

// Result summarizes one reconciliation pass.
type Result struct {
	Fetched    int
	Merged     int
	Duplicates int
	Archived   int
}

// Options configures a Reconciler.
type Options struct {
	Instrument domain.InstrumentID
	// Provider fetches venue history. Nil means the venue has none; the
	// pipeline then runs live-only and Reconcile is a no-op.
	Provider HistoricalProvider
	// Merger receives every trade not already seen live.
	Merger Merger
	// Archive, if set, receives reconciled trades for durable storage.
	Archive storage.TradeStore
	Logger  *slog.Logger
}

// Reconciler merges historical trade fetches into the live aggregation
// without double counting. Every live trade is registered by its dedup key;
// a reconciliation pass fetches the gap range, drops trades already seen,
// and merges the remainder. Running the same pass twice is a no-op.
//
// Not safe for concurrent use; the owning pipeline goroutine serializes
// all calls.
type Reconciler struct {
	instrument domain.InstrumentID
	provider   HistoricalProvider
	merger     Merger
	archive    storage.TradeStore
	logger     *slog.Logger

	seen map[string]int64 // dedup key -> trade time, for pruning
}

// New creates a reconciler. Merger is required.
func New(opts Options) (*Reconciler, error) {
	if opts.Merger == nil {
		return nil, fmt.Errorf("%w: reconciler needs a merger", domain.ErrInvalidEvent)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		instrument: opts.Instrument,
		provider:   opts.Provider,
		merger:     opts.Merger,
		archive:    opts.Archive,
		logger:     logger,
		seen:       make(map[string]int64),
	}, nil
}

// RecordLive registers a live trade's dedup key. Returns false if the key
// was already seen, which marks the trade as a duplicate to drop.
func (r *Reconciler) RecordLive(t *domain.Trade) bool {
	key := idhash.TradeKey(t)
	if _, dup := r.seen[key]; dup {
		return false
	}
	r.seen[key] = t.Time
	return true
}

// Reconcile fetches [from, to) from the historical provider and merges
// every trade not already seen. Venues without a provider degrade to
// live-only: the call succeeds and merges nothing. Trades the merger
// cannot place surface as ErrBackfillConflict after the rest of the batch
// has been applied.
func (r *Reconciler) Reconcile(ctx context.Context, from, to int64) (Result, error) {
	var res Result
	if r.provider == nil {
		r.logger.Debug("no historical provider, running live-only",
			"instrument", r.instrument)
		return res, nil
	}

	fetched, err := r.provider.FetchTrades(ctx, r.instrument, from, to)
	if err != nil {
		return res, fmt.Errorf("fetch history %s [%d, %d): %w", r.instrument, from, to, err)
	}
	res.Fetched = len(fetched)

	// Apply in timestamp order so open/close fields settle deterministically.
	sort.SliceStable(fetched, func(i, j int) bool { return fetched[i].Time < fetched[j].Time })

	conflicts := 0
	var toArchive []*domain.Trade
	for _, t := range fetched {
		if t.Instrument != r.instrument {
			continue
		}
		if !r.RecordLive(t) {
			res.Duplicates++
			continue
		}
		if err := r.merger.MergeTrade(t); err != nil {
			conflicts++
			r.logger.Warn("backfilled trade rejected",
				"instrument", r.instrument, "time", t.Time, "error", err)
			continue
		}
		res.Merged++
		toArchive = append(toArchive, t)
	}

	if r.archive != nil && len(toArchive) > 0 {
		n, err := r.archive.InsertBulk(ctx, toArchive)
		if err != nil {
			r.logger.Warn("archiving backfilled trades failed",
				"instrument", r.instrument, "error", err)
		} else {
			res.Archived = n
		}
	}

	r.logger.Info("backfill reconciled",
		"instrument", r.instrument, "from", from, "to", to,
		"fetched", res.Fetched, "merged", res.Merged, "duplicates", res.Duplicates)

	if conflicts > 0 {
		return res, fmt.Errorf("%w: %d of %d trades unplaceable", domain.ErrBackfillConflict, conflicts, res.Fetched)
	}
	return res, nil
}

// Prune drops dedup keys for trades older than cutoff, bounding memory to
// the retention horizon. Trades older than the horizon can no longer be
// merged anyway.
func (r *Reconciler) Prune(cutoff int64) {
	for key, ts := range r.seen {
		if ts < cutoff {
			delete(r.seen, key)
		}
	}
}
