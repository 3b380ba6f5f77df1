package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// InstrumentID is the canonical identifier assigned at subscription time.
// The mapping (exchange, native symbol) -> InstrumentID is injective for
// the lifetime of a session.
type InstrumentID string

// Instrument describes one tradable market in canonical units.
type Instrument struct {
	ID           InstrumentID
	Exchange     string // venue name, e.g. "binance", "bybit"
	NativeSymbol string // exchange-native symbol, e.g. "btcusdt"
	Symbol       string // canonical display symbol, e.g. "BTCUSD"

	// TickSize is the minimum price increment. All canonical prices are
	// expressed as integer multiples of it.
	TickSize decimal.Decimal

	// LotSize is the minimum quantity increment, used to validate incoming
	// quantities. Zero means quantities are not lot-aligned.
	LotSize decimal.Decimal
}

// CanonicalID derives the session-stable instrument id from the venue and
// native symbol.
func CanonicalID(exchange, nativeSymbol string) InstrumentID {
	return InstrumentID(fmt.Sprintf("%s:%s", exchange, nativeSymbol))
}

// PriceOf converts an exchange-native decimal price into a tick-aligned
// canonical Price. Prices off the tick grid are rounded to the nearest tick,
// matching how depth levels are bucketed.
func (in *Instrument) PriceOf(native decimal.Decimal) Price {
	return Price(native.DivRound(in.TickSize, 0).IntPart())
}

// PriceFloat converts a canonical Price back to a float for display and
// derived float computations.
func (in *Instrument) PriceFloat(p Price) float64 {
	f, _ := in.TickSize.Mul(decimal.NewFromInt(int64(p))).Float64()
	return f
}
