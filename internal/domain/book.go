package domain

// BookView is a detached, read-only copy of one instrument's depth. It is
// produced by the reconstructor on demand and never aliases live state.
type BookView struct {
	Instrument InstrumentID
	Bids       []PriceLevel // descending by price
	Asks       []PriceLevel // ascending by price
	Sequence   uint64
	Time       int64
}

// BestBid returns the highest bid level.
func (v *BookView) BestBid() (PriceLevel, bool) {
	if len(v.Bids) == 0 {
		return PriceLevel{}, false
	}
	return v.Bids[0], true
}

// BestAsk returns the lowest ask level.
func (v *BookView) BestAsk() (PriceLevel, bool) {
	if len(v.Asks) == 0 {
		return PriceLevel{}, false
	}
	return v.Asks[0], true
}

// Mid returns the midpoint of the best bid and ask in ticks, or 0 if either
// side is empty.
func (v *BookView) Mid() Price {
	bid, okB := v.BestBid()
	ask, okA := v.BestAsk()
	if !okB || !okA {
		return 0
	}
	return (bid.Price + ask.Price) / 2
}
