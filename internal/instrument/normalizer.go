package instrument

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"orderflow-lab/internal/domain"
)

// RawTrade is an exchange-native trade print, already decoded from the wire
// by the connector but still in native units.
type RawTrade struct {
	Exchange string
	Symbol   string
	Price    string // native decimal string
	Qty      string
	Side     string // "buy" or "sell" (aggressor)
	Time     int64  // exchange timestamp (ms)
	TradeID  string // optional native id
}

// RawLevel is a native (price, qty) depth pair.
type RawLevel struct {
	Price string
	Qty   string
}

// RawBookDelta is an exchange-native incremental depth update.
type RawBookDelta struct {
	Exchange string
	Symbol   string
	Side     string
	Level    RawLevel
	Sequence uint64
	Time     int64
}

// RawBookSnapshot is an exchange-native full depth image.
type RawBookSnapshot struct {
	Exchange string
	Symbol   string
	Bids     []RawLevel
	Asks     []RawLevel
	Sequence uint64
	Time     int64
}

// Normalizer converts native events to canonical fixed-point events. It is
// a pure transformation over registry metadata; rejected events are dropped
// and logged, never fatal.
type Normalizer struct {
	registry *Registry
	logger   *slog.Logger
	clock    func() time.Time
}

// NewNormalizer creates a normalizer over the registry.
func NewNormalizer(registry *Registry, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{registry: registry, logger: logger, clock: time.Now}
}

// Trade normalizes a raw trade print. Returns ErrUnknownInstrument for an
// unregistered symbol and ErrInvalidEvent for malformed values.
func (n *Normalizer) Trade(raw RawTrade) (*domain.Trade, error) {
	inst, ok := n.registry.Lookup(raw.Exchange, raw.Symbol)
	if !ok {
		n.logger.Warn("dropping trade for unknown instrument",
			"exchange", raw.Exchange, "symbol", raw.Symbol)
		return nil, fmt.Errorf("%w: %s/%s", domain.ErrUnknownInstrument, raw.Exchange, raw.Symbol)
	}

	price, err := parsePositive(raw.Price)
	if err != nil {
		return nil, fmt.Errorf("%w: trade price %q", domain.ErrInvalidEvent, raw.Price)
	}
	qty, err := parsePositive(raw.Qty)
	if err != nil {
		return nil, fmt.Errorf("%w: trade qty %q", domain.ErrInvalidEvent, raw.Qty)
	}
	side, err := parseSide(raw.Side)
	if err != nil {
		return nil, err
	}

	qtyF, _ := qty.Float64()
	return &domain.Trade{
		Instrument: inst.ID,
		Price:      inst.PriceOf(price),
		Qty:        qtyF,
		Side:       side,
		Time:       raw.Time,
		Ingested:   n.clock().UnixMilli(),
		TradeID:    raw.TradeID,
	}, nil
}

// Delta normalizes a raw depth update. Qty 0 is a valid removal.
func (n *Normalizer) Delta(raw RawBookDelta) (*domain.BookDelta, error) {
	inst, ok := n.registry.Lookup(raw.Exchange, raw.Symbol)
	if !ok {
		n.logger.Warn("dropping book delta for unknown instrument",
			"exchange", raw.Exchange, "symbol", raw.Symbol)
		return nil, fmt.Errorf("%w: %s/%s", domain.ErrUnknownInstrument, raw.Exchange, raw.Symbol)
	}

	price, err := parsePositive(raw.Level.Price)
	if err != nil {
		return nil, fmt.Errorf("%w: delta price %q", domain.ErrInvalidEvent, raw.Level.Price)
	}
	qty, err := decimal.NewFromString(raw.Level.Qty)
	if err != nil || qty.Sign() < 0 {
		return nil, fmt.Errorf("%w: delta qty %q", domain.ErrInvalidEvent, raw.Level.Qty)
	}
	side, err := parseSide(raw.Side)
	if err != nil {
		return nil, err
	}

	qtyF, _ := qty.Float64()
	return &domain.BookDelta{
		Instrument: inst.ID,
		Side:       side,
		Price:      inst.PriceOf(price),
		Qty:        qtyF,
		Sequence:   raw.Sequence,
		Time:       raw.Time,
	}, nil
}

// Snapshot normalizes a raw depth image. Levels that fail to parse poison
// the whole snapshot: a partially converted image would silently drop
// liquidity.
func (n *Normalizer) Snapshot(raw RawBookSnapshot) (*domain.BookSnapshot, error) {
	inst, ok := n.registry.Lookup(raw.Exchange, raw.Symbol)
	if !ok {
		n.logger.Warn("dropping book snapshot for unknown instrument",
			"exchange", raw.Exchange, "symbol", raw.Symbol)
		return nil, fmt.Errorf("%w: %s/%s", domain.ErrUnknownInstrument, raw.Exchange, raw.Symbol)
	}

	bids, err := n.levels(inst, raw.Bids)
	if err != nil {
		return nil, err
	}
	asks, err := n.levels(inst, raw.Asks)
	if err != nil {
		return nil, err
	}

	return &domain.BookSnapshot{
		Instrument: inst.ID,
		Bids:       bids,
		Asks:       asks,
		Sequence:   raw.Sequence,
		Time:       raw.Time,
	}, nil
}

func (n *Normalizer) levels(inst *domain.Instrument, raw []RawLevel) ([]domain.PriceLevel, error) {
	out := make([]domain.PriceLevel, 0, len(raw))
	for _, lvl := range raw {
		price, err := parsePositive(lvl.Price)
		if err != nil {
			return nil, fmt.Errorf("%w: snapshot price %q", domain.ErrInvalidEvent, lvl.Price)
		}
		qty, err := decimal.NewFromString(lvl.Qty)
		if err != nil || qty.Sign() < 0 {
			return nil, fmt.Errorf("%w: snapshot qty %q", domain.ErrInvalidEvent, lvl.Qty)
		}
		qtyF, _ := qty.Float64()
		out = append(out, domain.PriceLevel{Price: inst.PriceOf(price), Qty: qtyF})
	}
	return out, nil
}

func parsePositive(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if d.Sign() <= 0 {
		return decimal.Decimal{}, fmt.Errorf("non-positive value %s", s)
	}
	return d, nil
}

func parseSide(s string) (domain.Side, error) {
	switch s {
	case "buy", "BUY", "bid":
		return domain.Buy, nil
	case "sell", "SELL", "ask":
		return domain.Sell, nil
	default:
		return 0, fmt.Errorf("%w: side %q", domain.ErrInvalidEvent, s)
	}
}
