// Package connector bridges venue data streams into the engine.
package connector

import (
	"encoding/json"
	"fmt"

	"orderflow-lab/internal/domain"
	"orderflow-lab/internal/instrument"
)

// Sink receives decoded raw events. The engine implements it.
type Sink interface {
	OnTrade(instrument.RawTrade)
	OnBookDelta(instrument.RawBookDelta)
	OnBookSnapshot(instrument.RawBookSnapshot)
}

// Codec translates between a venue's wire frames and raw events.
type Codec interface {
	// Exchange is the venue name used in canonical instrument ids.
	Exchange() string
	// SubscribeFrames builds the messages that open the streams.
	SubscribeFrames(symbols []string) ([][]byte, error)
	// ResyncFrames builds the messages that request a fresh depth snapshot.
	ResyncFrames(symbol string) ([][]byte, error)
	// Decode parses one frame and forwards its events to the sink.
	// Unknown frame kinds are ignored; malformed frames return an error.
	Decode(frame []byte, sink Sink) error
}

// wireMessage is the bridge feed's frame envelope. One frame carries one
// trade, one depth delta, or one full snapshot.
type wireMessage struct {
	Type     string      `json:"type"`
	Symbol   string      `json:"symbol"`
	Price    string      `json:"price,omitempty"`
	Qty      string      `json:"qty,omitempty"`
	Side     string      `json:"side,omitempty"`
	Time     int64       `json:"ts,omitempty"`
	TradeID  string      `json:"id,omitempty"`
	Sequence uint64      `json:"seq,omitempty"`
	Bids     [][2]string `json:"bids,omitempty"`
	Asks     [][2]string `json:"asks,omitempty"`
}

// JSONCodec speaks the lab's JSON bridge protocol, the format the feed
// relay emits for every venue it normalizes.
type JSONCodec struct {
	exchange string
}

// NewJSONCodec creates a codec tagged with the venue name.
func NewJSONCodec(exchange string) *JSONCodec {
	return &JSONCodec{exchange: exchange}
}

func (c *JSONCodec) Exchange() string { return c.exchange }

func (c *JSONCodec) SubscribeFrames(symbols []string) ([][]byte, error) {
	var frames [][]byte
	for _, s := range symbols {
		frame, err := json.Marshal(map[string]any{
			"op":      "subscribe",
			"symbol":  s,
			"streams": []string{"trades", "depth"},
		})
		if err != nil {
			return nil, err
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

func (c *JSONCodec) ResyncFrames(symbol string) ([][]byte, error) {
	frame, err := json.Marshal(map[string]any{
		"op":     "snapshot",
		"symbol": symbol,
	})
	if err != nil {
		return nil, err
	}
	return [][]byte{frame}, nil
}

func (c *JSONCodec) Decode(frame []byte, sink Sink) error {
	var msg wireMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		return fmt.Errorf("%w: decode frame: %v", domain.ErrInvalidEvent, err)
	}

	switch msg.Type {
	case "trade":
		sink.OnTrade(instrument.RawTrade{
			Exchange: c.exchange,
			Symbol:   msg.Symbol,
			Price:    msg.Price,
			Qty:      msg.Qty,
			Side:     msg.Side,
			Time:     msg.Time,
			TradeID:  msg.TradeID,
		})
	case "delta":
		sink.OnBookDelta(instrument.RawBookDelta{
			Exchange: c.exchange,
			Symbol:   msg.Symbol,
			Side:     msg.Side,
			Level:    instrument.RawLevel{Price: msg.Price, Qty: msg.Qty},
			Sequence: msg.Sequence,
			Time:     msg.Time,
		})
	case "snapshot":
		sink.OnBookSnapshot(instrument.RawBookSnapshot{
			Exchange: c.exchange,
			Symbol:   msg.Symbol,
			Bids:     levels(msg.Bids),
			Asks:     levels(msg.Asks),
			Sequence: msg.Sequence,
			Time:     msg.Time,
		})
	case "ping", "subscribed":
		// control frames carry no market data
	default:
		return fmt.Errorf("%w: frame type %q", domain.ErrInvalidEvent, msg.Type)
	}
	return nil
}

func levels(raw [][2]string) []instrument.RawLevel {
	out := make([]instrument.RawLevel, 0, len(raw))
	for _, l := range raw {
		out = append(out, instrument.RawLevel{Price: l[0], Qty: l[1]})
	}
	return out
}
