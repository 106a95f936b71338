// Package notify is the Notification Client of §4.12: an outbound
// fire-and-forget send plus inbound command polling against a
// chat-bot style HTTP transport, keyed by an auth token.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Update is one inbound message delivered by the transport's long-poll
// endpoint.
type Update struct {
	UpdateID int64  `json:"update_id"`
	ChatID   string `json:"chat_id"`
	Text     string `json:"text"`
}

type sendRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type updatesResponse struct {
	Updates []Update `json:"updates"`
}

// Client talks to the configured chat transport over stdlib net/http;
// there is no vendor SDK for this kind of bridge, same as the broker
// and LLM clients.
type Client struct {
	baseURL    string
	authToken  string
	chatID     string
	httpClient *http.Client
	logger     *zap.Logger

	mu        sync.Mutex
	lastSeen  int64
}

// New constructs a Client.
func New(baseURL, authToken, chatID string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		authToken:  authToken,
		chatID:     chatID,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("notify"),
	}
}

// Send posts text to the configured chat, fire-and-forget: a failure
// is logged, never returned to callers on the hot trading path (§4.12).
func (c *Client) Send(ctx context.Context, text string) {
	body, err := json.Marshal(sendRequest{ChatID: c.chatID, Text: text})
	if err != nil {
		c.logger.Error("marshaling notify payload", zap.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/send", bytes.NewReader(body))
	if err != nil {
		c.logger.Error("building notify request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("notification send failed", zap.Error(err))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		c.logger.Warn("notification transport rejected message", zap.Int("status", resp.StatusCode))
	}
}

// PollUpdates fetches new inbound messages since the last call,
// deduplicated by monotonically increasing update ID and filtered to
// the configured chat identifier (§4.12, §6).
func (c *Client) PollUpdates(ctx context.Context) ([]Update, error) {
	c.mu.Lock()
	since := c.lastSeen
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/updates?since=%d", c.baseURL, since), nil)
	if err != nil {
		return nil, fmt.Errorf("building poll request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("polling updates: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("poll updates returned %d", resp.StatusCode)
	}

	var out updatesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding updates response: %w", err)
	}

	var maxID int64
	var filtered []Update
	for _, u := range out.Updates {
		if u.UpdateID > maxID {
			maxID = u.UpdateID
		}
		if u.ChatID == c.chatID {
			filtered = append(filtered, u)
		}
	}
	if maxID > since {
		c.mu.Lock()
		c.lastSeen = maxID
		c.mu.Unlock()
	}
	return filtered, nil
}
