package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/twtrader/orchestrator/pkg/types"
)

// Tick is one push update on the market data websocket stream (§6).
type Tick struct {
	Symbol    string          `json:"symbol"`
	Price     json.Number     `json:"price"`
	Volume    json.Number     `json:"volume"`
	Timestamp time.Time       `json:"timestamp"`
}

// SubscribeMarketStream opens a websocket connection to the bridge's
// market feed for the given symbols and invokes onTick for every
// message until ctx is cancelled or the connection drops. Callers are
// expected to re-subscribe after a drop; this method does not retry
// internally since the reconnection cadence belongs to the caller's
// tick loop (§4.2, §5).
func (c *Client) SubscribeMarketStream(ctx context.Context, symbols []string, onTick func(Tick)) error {
	wsURL := strings.Replace(c.baseURL, "http://", "ws://", 1)
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)
	wsURL += "/stream?symbols=" + strings.Join(symbols, ",")

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		c.setConnected(false)
		return fmt.Errorf("%w: dialing market stream: %v", types.BrokerUnavailable, err)
	}
	defer conn.Close()
	c.setConnected(true)

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("market stream read error", zap.Error(err))
			c.setConnected(false)
			return err
		}
		var tick Tick
		if err := json.Unmarshal(message, &tick); err != nil {
			c.logger.Warn("discarding malformed stream message", zap.Error(err))
			continue
		}
		onTick(tick)
	}
}
