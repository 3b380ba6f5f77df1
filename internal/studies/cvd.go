package studies

import (
	"sort"

	"orderflow-lab/internal/domain"
)

// CVD tracks the cumulative volume delta series, one point per closed
// candle. Per-candle deltas are stored individually and prefix-summed on
// read, so a backfill that rewrites one historical candle corrects every
// later point without replay.
//
// Not safe for concurrent use.
type CVD struct {
	maxPoints int

	order  []int64 // candle starts, ascending
	deltas map[int64]cvdEntry
}

type cvdEntry struct {
	end   int64
	delta float64
}

// NewCVD creates a delta series retaining at most maxPoints candles.
func NewCVD(maxPoints int) (*CVD, error) {
	if maxPoints <= 0 {
		return nil, domain.ErrCapacityExceeded
	}
	return &CVD{maxPoints: maxPoints, deltas: make(map[int64]cvdEntry)}, nil
}

// AddCandle records (or corrects) the delta contributed by a closed candle.
func (s *CVD) AddCandle(c *domain.FootprintCandle) {
	if _, ok := s.deltas[c.Start]; !ok {
		s.order = append(s.order, c.Start)
		sort.Slice(s.order, func(i, j int) bool { return s.order[i] < s.order[j] })
		if len(s.order) > s.maxPoints {
			delete(s.deltas, s.order[0])
			s.order = s.order[1:]
		}
	}
	s.deltas[c.Start] = cvdEntry{end: c.End, delta: c.Delta()}
}

// Series returns the cumulative series in candle order. Point times are
// candle close times; each value is the running sum of deltas up to and
// including that candle.
func (s *CVD) Series() []domain.CVDPoint {
	out := make([]domain.CVDPoint, 0, len(s.order))
	var run float64
	for _, start := range s.order {
		e := s.deltas[start]
		run += e.delta
		out = append(out, domain.CVDPoint{Time: e.end, Value: run})
	}
	return out
}

// Last returns the most recent point, if any.
func (s *CVD) Last() (domain.CVDPoint, bool) {
	series := s.Series()
	if len(series) == 0 {
		return domain.CVDPoint{}, false
	}
	return series[len(series)-1], true
}
