package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"orderflow-lab/internal/domain"
)

// TradeKey computes the canonical dedup key for a trade.
// If the venue supplied a native trade id, the key is instrument|trade_id.
// Otherwise it is SHA256(instrument|price|qty|side|timestamp), so two prints
// with identical observable fields collapse to one key.
func TradeKey(t *domain.Trade) string {
	if t.TradeID != "" {
		return fmt.Sprintf("%s|%s", t.Instrument, t.TradeID)
	}

	data := fmt.Sprintf("%s|%d|%.10f|%d|%d",
		t.Instrument,
		t.Price,
		t.Qty,
		t.Side,
		t.Time,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
