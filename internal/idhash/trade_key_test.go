package idhash

import (
	"testing"

	"orderflow-lab/internal/domain"
)

func TestTradeKeyUsesNativeID(t *testing.T) {
	trade := &domain.Trade{Instrument: "test:btcusdt", TradeID: "t-1", Price: 1000, Qty: 1, Time: 500}
	if got := TradeKey(trade); got != "test:btcusdt|t-1" {
		t.Errorf("TradeKey = %q", got)
	}
}

func TestTradeKeyContentHashIsDeterministic(t *testing.T) {
	a := &domain.Trade{Instrument: "test:btcusdt", Price: 1000, Qty: 1.5, Side: domain.Buy, Time: 500}
	b := &domain.Trade{Instrument: "test:btcusdt", Price: 1000, Qty: 1.5, Side: domain.Buy, Time: 500}
	if TradeKey(a) != TradeKey(b) {
		t.Error("identical trades produced different keys")
	}

	c := &domain.Trade{Instrument: "test:btcusdt", Price: 1000, Qty: 1.5, Side: domain.Sell, Time: 500}
	if TradeKey(a) == TradeKey(c) {
		t.Error("differing side collapsed to one key")
	}
}
