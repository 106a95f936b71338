// Package broker is the Broker Bridge Client of §4.2: an HTTP(+WS)
// client to an external broker process, with retry/backoff, a
// connection-state flag, and a serialized reconnect path.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/twtrader/orchestrator/pkg/types"
)

// backoffSchedule is the exponential retry schedule of §4.2: 2,4,8,16,32s,
// one wait before each of up to 5 retries.
var backoffSchedule = []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 32 * time.Second}

// Signal is the bridge's /signal response (§6).
type Signal struct {
	CurrentPrice       decimal.Decimal `json:"current_price"`
	Direction          string          `json:"direction"`
	Confidence         decimal.Decimal `json:"confidence"`
	ExitSignal         bool            `json:"exit_signal"`
	Momentum3Min       decimal.Decimal `json:"momentum_3min"`
	Momentum5Min       decimal.Decimal `json:"momentum_5min"`
	VolumeRatio        decimal.Decimal `json:"volume_ratio"`
	RSI                decimal.Decimal `json:"rsi"`
	ConsecutiveSignals int             `json:"consecutive_signals"`
	InCooldown         bool            `json:"in_cooldown"`
}

// MarketData is the bridge's /marketdata/{symbol} response (§6).
type MarketData struct {
	Symbol    string            `json:"symbol"`
	Prices    []decimal.Decimal `json:"prices"`
	Volumes   []decimal.Decimal `json:"volumes"`
	Timeframe string            `json:"timeframe"`
}

// NewsSignal is the bridge's /signal/news response (§6).
type NewsSignal struct {
	NewsVeto      bool            `json:"news_veto"`
	NewsScore     decimal.Decimal `json:"news_score"`
	NewsReason    string          `json:"news_reason"`
	HeadlinesCount int            `json:"headlines_count"`
}

// EarningsCalendar is the bridge's /calendar/earnings response: the
// per-ticker set of upcoming announcement dates the blackout refresh
// (§4.1, §3) folds into EarningsBlackoutMeta.
type EarningsCalendar struct {
	Tickers []string `json:"tickers_checked"`
	Dates   []string `json:"dates"` // "2006-01-02", one per upcoming announcement
}

// Account is the bridge's /account response.
type Account struct {
	Equity decimal.Decimal `json:"equity"`
	Cash   decimal.Decimal `json:"cash"`
}

// OrderEcho is the validated order the dry-run and live endpoints
// return (§4.2, §6): the dry-run and live endpoints share this shape,
// fixing the historic dry-run/live payload mismatch.
type OrderEcho struct {
	Valid   bool           `json:"valid"`
	Order   map[string]any `json:"order"`
	OrderID string         `json:"order_id,omitempty"`
	Reason  string         `json:"reason,omitempty"`
}

// Client talks HTTP+JSON to the broker bridge.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	logger     *zap.Logger

	mu          sync.RWMutex
	connected   bool
	reconnectMu sync.Mutex
}

// New constructs a Client. It starts in the connected state; the first
// failed call flips it to disconnected per §4.2.
func New(baseURL string, timeout time.Duration, maxRetries int, logger *zap.Logger) *Client {
	if maxRetries <= 0 || maxRetries > len(backoffSchedule) {
		maxRetries = len(backoffSchedule)
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		logger:     logger.Named("broker"),
		connected:  true,
	}
}

// Connected reports the current connection-state flag under a
// read-write discipline: readers take a shared (RLock) view (§5).
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	was := c.connected
	c.connected = v
	c.mu.Unlock()
	if was != v {
		if v {
			c.logger.Info("broker bridge reconnected")
		} else {
			c.logger.Error("broker bridge disconnected")
		}
	}
}

// doWithRetry executes req, retrying on timeout or 5xx per the
// exponential backoff schedule, up to c.maxRetries times
// (c.maxRetries+1 attempts in all). On final
// failure it serializes exactly one reconnect call (§4.2) before
// returning BrokerUnavailable.
func (c *Client) doWithRetry(ctx context.Context, method, path string, body any) ([]byte, error) {
	var payload []byte
	var err error
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, types.NewError(types.KindValidation, "broker", "marshaling request body", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		req, reqErr := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
		if reqErr != nil {
			return nil, types.NewError(types.KindValidation, "broker", "building request", reqErr)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, doErr := c.httpClient.Do(req)
		if doErr == nil && resp.StatusCode < 500 {
			defer resp.Body.Close()
			b, readErr := io.ReadAll(resp.Body)
			if readErr != nil {
				return nil, types.NewError(types.KindTransport, "broker", "reading response body", readErr)
			}
			if resp.StatusCode >= 400 {
				return b, fmt.Errorf("broker returned %d: %s", resp.StatusCode, string(b))
			}
			c.setConnected(true)
			return b, nil
		}

		if doErr != nil {
			lastErr = doErr
		} else {
			lastErr = fmt.Errorf("broker returned %d", resp.StatusCode)
			resp.Body.Close()
		}

		if attempt == c.maxRetries {
			break
		}
		select {
		case <-time.After(backoffSchedule[attempt]):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c.setConnected(false)
	c.triggerReconnect(ctx)
	return nil, fmt.Errorf("%w: %v", types.BrokerUnavailable, lastErr)
}

// triggerReconnect invokes /reconnect once per outage, serialized by a
// mutex so concurrent callers do not stampede (§4.2, §5).
func (c *Client) triggerReconnect(ctx context.Context) {
	if !c.reconnectMu.TryLock() {
		return
	}
	defer c.reconnectMu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/reconnect", nil)
	if err != nil {
		return
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("reconnect attempt failed", zap.Error(err))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode < 400 {
		c.setConnected(true)
	}
}

// Health calls GET /health.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.doWithRetry(ctx, http.MethodGet, "/health", nil)
	return err
}

// GetSignal calls GET /signal.
func (c *Client) GetSignal(ctx context.Context) (*Signal, error) {
	body, err := c.doWithRetry(ctx, http.MethodGet, "/signal", nil)
	if err != nil {
		return nil, err
	}
	var s Signal
	if err := json.Unmarshal(body, &s); err != nil {
		return nil, types.NewError(types.KindValidation, "broker", "decoding signal response", err)
	}
	return &s, nil
}

// GetMarketData calls GET /marketdata/{symbol}.
func (c *Client) GetMarketData(ctx context.Context, symbol string) (*MarketData, error) {
	body, err := c.doWithRetry(ctx, http.MethodGet, "/marketdata/"+symbol, nil)
	if err != nil {
		return nil, err
	}
	var md MarketData
	if err := json.Unmarshal(body, &md); err != nil {
		return nil, types.NewError(types.KindValidation, "broker", "decoding market data response", err)
	}
	return &md, nil
}

// GetNews calls GET /signal/news.
func (c *Client) GetNews(ctx context.Context) (*NewsSignal, error) {
	body, err := c.doWithRetry(ctx, http.MethodGet, "/signal/news", nil)
	if err != nil {
		return nil, err
	}
	var n NewsSignal
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, types.NewError(types.KindValidation, "broker", "decoding news response", err)
	}
	return &n, nil
}

// DryRunOrder calls POST /order/dry-run with a generic payload and
// returns the validated echo (§4.2 mandatory pre-flight).
func (c *Client) DryRunOrder(ctx context.Context, order map[string]any) (*OrderEcho, error) {
	body, err := c.doWithRetry(ctx, http.MethodPost, "/order/dry-run", order)
	if err != nil {
		return nil, err
	}
	var echo OrderEcho
	if err := json.Unmarshal(body, &echo); err != nil {
		return nil, types.NewError(types.KindValidation, "broker", "decoding dry-run echo", err)
	}
	return &echo, nil
}

// PlaceOrder calls POST /order with the same payload shape as the
// dry-run call (§4.2's explicit fix for the historic 422 mismatch).
func (c *Client) PlaceOrder(ctx context.Context, order map[string]any) (*OrderEcho, error) {
	body, err := c.doWithRetry(ctx, http.MethodPost, "/order", order)
	if err != nil {
		return nil, err
	}
	var echo OrderEcho
	if err := json.Unmarshal(body, &echo); err != nil {
		return nil, types.NewError(types.KindValidation, "broker", "decoding order echo", err)
	}
	return &echo, nil
}

// GetEarningsCalendar calls POST /calendar/earnings with the tickers to
// check and returns their upcoming announcement dates.
func (c *Client) GetEarningsCalendar(ctx context.Context, tickers []string) (*EarningsCalendar, error) {
	body, err := c.doWithRetry(ctx, http.MethodPost, "/calendar/earnings", map[string]any{"tickers": tickers})
	if err != nil {
		return nil, err
	}
	var cal EarningsCalendar
	if err := json.Unmarshal(body, &cal); err != nil {
		return nil, types.NewError(types.KindValidation, "broker", "decoding earnings calendar response", err)
	}
	return &cal, nil
}

// CancelOrder calls POST /order/{id}/cancel.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	_, err := c.doWithRetry(ctx, http.MethodPost, "/order/"+orderID+"/cancel", nil)
	return err
}

// GetPositions calls GET /positions.
func (c *Client) GetPositions(ctx context.Context) ([]map[string]any, error) {
	body, err := c.doWithRetry(ctx, http.MethodGet, "/positions", nil)
	if err != nil {
		return nil, err
	}
	var positions []map[string]any
	if err := json.Unmarshal(body, &positions); err != nil {
		return nil, types.NewError(types.KindValidation, "broker", "decoding positions response", err)
	}
	return positions, nil
}

// GetAccount calls GET /account.
func (c *Client) GetAccount(ctx context.Context) (*Account, error) {
	body, err := c.doWithRetry(ctx, http.MethodGet, "/account", nil)
	if err != nil {
		return nil, err
	}
	var a Account
	if err := json.Unmarshal(body, &a); err != nil {
		return nil, types.NewError(types.KindValidation, "broker", "decoding account response", err)
	}
	return &a, nil
}
