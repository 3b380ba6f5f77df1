package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"orderflow-lab/internal/domain"
	"orderflow-lab/internal/instrument"
)

// HistoryClient fetches archived trades over the bridge REST API and
// normalizes them into canonical trades. It implements
// backfill.HistoricalProvider for venues that expose trade history.
type HistoryClient struct {
	baseURL  string
	registry *instrument.Registry
	client   *http.Client
}

// historyRequestTimeout bounds every history request made through the
// default client. http.DefaultClient has no timeout, and a stalled
// endpoint would block the reconciling pipeline with it.
const historyRequestTimeout = 30 * time.Second

// NewHistoryClient creates a history client. A nil httpClient gets a
// client with a request timeout.
func NewHistoryClient(baseURL string, registry *instrument.Registry, httpClient *http.Client) *HistoryClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: historyRequestTimeout}
	}
	return &HistoryClient{baseURL: baseURL, registry: registry, client: httpClient}
}

// FetchTrades retrieves trades for [from, to) and converts them to tick
// prices using the instrument's registered metadata.
func (h *HistoryClient) FetchTrades(ctx context.Context, id domain.InstrumentID, from, to int64) ([]*domain.Trade, error) {
	inst, ok := h.registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownInstrument, id)
	}

	q := url.Values{}
	q.Set("symbol", inst.NativeSymbol)
	q.Set("from", strconv.FormatInt(from, 10))
	q.Set("to", strconv.FormatInt(to, 10))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/trades?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build history request: %w", err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch trade history: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("trade history endpoint returned %s", resp.Status)
	}

	var raw []wireMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode trade history: %w", err)
	}

	out := make([]*domain.Trade, 0, len(raw))
	for _, m := range raw {
		price, err := decimal.NewFromString(m.Price)
		if err != nil {
			return nil, fmt.Errorf("%w: history price %q", domain.ErrInvalidEvent, m.Price)
		}
		qty, err := decimal.NewFromString(m.Qty)
		if err != nil || qty.Sign() <= 0 {
			return nil, fmt.Errorf("%w: history qty %q", domain.ErrInvalidEvent, m.Qty)
		}
		side := domain.Buy
		if m.Side == "sell" {
			side = domain.Sell
		}
		qtyF, _ := qty.Float64()
		out = append(out, &domain.Trade{
			Instrument: id,
			Price:      inst.PriceOf(price),
			Qty:        qtyF,
			Side:       side,
			Time:       m.Time,
			TradeID:    m.TradeID,
		})
	}
	return out, nil
}
