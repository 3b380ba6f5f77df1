// Package window provides a generic bounded rolling buffer with time- or
// count-based eviction. It backs the time & sales feed, the ladder trade
// overlay, and the heatmap frame history.
package window

import (
	"time"

	"orderflow-lab/internal/domain"
)

type entry[T any] struct {
	ts   int64
	item T
}

// Window retains items in push order and evicts from the tail once the
// configured bound is exceeded. Eviction is lazy: it runs on the next push
// or on query, never on a background timer. Not safe for concurrent use;
// each instrument pipeline owns its windows.
type Window[T any] struct {
	maxAgeMs int64 // 0 = no age bound
	maxCount int   // 0 = no count bound
	entries  []entry[T]
}

// ByAge creates a window evicting entries older than maxAge relative to the
// newest observed timestamp. Returns ErrCapacityExceeded for a non-positive
// bound.
func ByAge[T any](maxAge time.Duration) (*Window[T], error) {
	if maxAge <= 0 {
		return nil, domain.ErrCapacityExceeded
	}
	return &Window[T]{maxAgeMs: maxAge.Milliseconds()}, nil
}

// ByCount creates a window retaining at most maxCount entries.
func ByCount[T any](maxCount int) (*Window[T], error) {
	if maxCount <= 0 {
		return nil, domain.ErrCapacityExceeded
	}
	return &Window[T]{maxCount: maxCount}, nil
}

// Push appends an item stamped with ts (ms) and applies pending eviction.
// Timestamps are expected non-decreasing; a lagging ts still enters the
// buffer but cannot resurrect already-evicted entries.
func (w *Window[T]) Push(item T, ts int64) {
	w.entries = append(w.entries, entry[T]{ts: ts, item: item})
	w.evict(ts)
}

// EvictOlderThan drops every entry with timestamp < cutoff.
func (w *Window[T]) EvictOlderThan(cutoff int64) {
	idx := 0
	for idx < len(w.entries) && w.entries[idx].ts < cutoff {
		idx++
	}
	if idx > 0 {
		w.entries = w.entries[idx:]
	}
}

// Items returns a copy of the retained entries in push order, applying age
// eviction against now (ms) first so no stale entry is served.
func (w *Window[T]) Items(now int64) []T {
	if w.maxAgeMs > 0 {
		w.EvictOlderThan(now - w.maxAgeMs)
	}
	out := make([]T, len(w.entries))
	for i, e := range w.entries {
		out[i] = e.item
	}
	return out
}

// Len reports the retained entry count without forcing eviction.
func (w *Window[T]) Len() int {
	return len(w.entries)
}

// Last returns the most recent entry.
func (w *Window[T]) Last() (T, bool) {
	var zero T
	if len(w.entries) == 0 {
		return zero, false
	}
	return w.entries[len(w.entries)-1].item, true
}

func (w *Window[T]) evict(latest int64) {
	if w.maxAgeMs > 0 {
		w.EvictOlderThan(latest - w.maxAgeMs)
	}
	if w.maxCount > 0 && len(w.entries) > w.maxCount {
		w.entries = w.entries[len(w.entries)-w.maxCount:]
	}
}
