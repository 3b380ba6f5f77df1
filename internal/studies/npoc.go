package studies

import (
	"sort"

	"orderflow-lab/internal/domain"
)

// NPoC tracks naked points of control: each closed candle's highest-volume
// price stays "naked" until a later candle's range trades through it. A
// filled marker stays filled; backfill corrections re-derive the level but
// never resurrect nakedness, so consumers see markers flip one way only.
//
// Not safe for concurrent use.
type NPoC struct {
	maxMarkers int

	order   []int64
	markers map[int64]*domain.NPoCMarker
}

// NewNPoC creates a tracker retaining at most maxMarkers candle markers.
func NewNPoC(maxMarkers int) (*NPoC, error) {
	if maxMarkers <= 0 {
		return nil, domain.ErrCapacityExceeded
	}
	return &NPoC{maxMarkers: maxMarkers, markers: make(map[int64]*domain.NPoCMarker)}, nil
}

// AddCandle derives the closed candle's point-of-control marker and then
// fills any older naked marker whose level falls inside the candle's range.
// A re-closed candle (backfill) updates its own marker's level in place.
func (s *NPoC) AddCandle(c *domain.FootprintCandle) {
	poc, qty, ok := c.PointOfControl()
	if !ok {
		return
	}

	m, seen := s.markers[c.Start]
	if !seen {
		m = &domain.NPoCMarker{CandleStart: c.Start, Naked: true}
		s.markers[c.Start] = m
		s.order = append(s.order, c.Start)
		sort.Slice(s.order, func(i, j int) bool { return s.order[i] < s.order[j] })
		if len(s.order) > s.maxMarkers {
			delete(s.markers, s.order[0])
			s.order = s.order[1:]
		}
	}
	m.Price = poc
	m.Qty = qty

	for _, start := range s.order {
		if start >= c.Start {
			break
		}
		prior := s.markers[start]
		if prior.Naked && prior.Price >= c.Low && prior.Price <= c.High {
			prior.Naked = false
			prior.FilledAt = c.End
		}
	}
}

// Markers returns copies of all tracked markers in candle order.
func (s *NPoC) Markers() []domain.NPoCMarker {
	out := make([]domain.NPoCMarker, 0, len(s.order))
	for _, start := range s.order {
		out = append(out, *s.markers[start])
	}
	return out
}

// Naked returns copies of the still-naked markers in candle order.
func (s *NPoC) Naked() []domain.NPoCMarker {
	var out []domain.NPoCMarker
	for _, start := range s.order {
		if m := s.markers[start]; m.Naked {
			out = append(out, *m)
		}
	}
	return out
}
