package window

import (
	"errors"
	"testing"
	"time"

	"orderflow-lab/internal/domain"
)

func TestByAge_RejectsNonPositiveBound(t *testing.T) {
	if _, err := ByAge[int](0); !errors.Is(err, domain.ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
	if _, err := ByAge[int](-time.Second); !errors.Is(err, domain.ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
}

func TestByCount_RejectsNonPositiveBound(t *testing.T) {
	if _, err := ByCount[int](0); !errors.Is(err, domain.ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
}

func TestByAge_FiveMinuteBound(t *testing.T) {
	w, err := ByAge[int](5 * time.Minute)
	if err != nil {
		t.Fatalf("ByAge failed: %v", err)
	}

	// Samples at t=0,100,...,400s.
	for i, ts := range []int64{0, 100_000, 200_000, 300_000, 400_000} {
		w.Push(i, ts)
	}

	// After t=400s nothing older than t=100s (400-300) may remain.
	items := w.Items(400_000)
	if len(items) != 4 {
		t.Fatalf("expected 4 retained items, got %d", len(items))
	}
	if items[0] != 1 {
		t.Errorf("expected oldest retained item 1 (t=100s), got %d", items[0])
	}
}

func TestByCount_EvictsOverCapacity(t *testing.T) {
	w, err := ByCount[int](3)
	if err != nil {
		t.Fatalf("ByCount failed: %v", err)
	}

	for i := 0; i < 10; i++ {
		w.Push(i, int64(i))
	}

	items := w.Items(10)
	if len(items) != 3 {
		t.Fatalf("expected 3 retained items, got %d", len(items))
	}
	for i, want := range []int{7, 8, 9} {
		if items[i] != want {
			t.Errorf("items[%d] = %d, want %d", i, items[i], want)
		}
	}
}

func TestItems_EvictsStaleEntriesWithoutPush(t *testing.T) {
	w, err := ByAge[string](time.Minute)
	if err != nil {
		t.Fatalf("ByAge failed: %v", err)
	}

	w.Push("old", 0)
	w.Push("new", 30_000)

	// No pushes since; a query far in the future must not serve "old".
	// At t=90s the entry from t=30s sits exactly at the 60s bound and
	// survives; one millisecond later it is gone too.
	items := w.Items(90_000)
	if len(items) != 1 || items[0] != "new" {
		t.Fatalf("expected only \"new\" retained, got %v", items)
	}
	if items := w.Items(90_001); len(items) != 0 {
		t.Fatalf("expected nothing retained past the bound, got %v", items)
	}
}

func TestEvictOlderThan_Explicit(t *testing.T) {
	w, err := ByCount[int](100)
	if err != nil {
		t.Fatalf("ByCount failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		w.Push(i, int64(i*1000))
	}

	w.EvictOlderThan(2500)
	if w.Len() != 2 {
		t.Fatalf("expected 2 entries after explicit eviction, got %d", w.Len())
	}

	last, ok := w.Last()
	if !ok || last != 4 {
		t.Errorf("Last() = %v, %v; want 4, true", last, ok)
	}
}
