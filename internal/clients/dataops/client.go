// Package dataops is a thin client to the external data operations
// service that owns historical population, backtesting, and strategy
// selection (§4.11: "delegate to the data operations service, out of
// core scope; surface only the result"). Grounded on the same simple
// JSON-over-HTTP idiom as internal/clients/broker.
package dataops

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Result is the data operations service's generic job response.
type Result struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// Client talks HTTP+JSON to the data operations service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// New constructs a Client.
func New(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("dataops"),
	}
}

// Trigger fires one of populate-data/run-backtests/select-best-strategy/
// full-pipeline against the service's matching endpoint and returns its
// result verbatim for relay back to the chat transport.
func (c *Client) Trigger(ctx context.Context, op string) (Result, error) {
	return c.post(ctx, "/data/"+op)
}

// Status fetches data-status.
func (c *Client) Status(ctx context.Context) (Result, error) {
	return c.post(ctx, "/data/status")
}

func (c *Client) post(ctx context.Context, path string) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(nil))
	if err != nil {
		return Result{}, fmt.Errorf("building data ops request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("calling data ops service: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("reading data ops response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return Result{OK: false, Message: fmt.Sprintf("data ops returned %d", resp.StatusCode), Detail: string(body)}, nil
	}

	var out Result
	if err := json.Unmarshal(body, &out); err != nil {
		return Result{OK: true, Message: string(body)}, nil
	}
	return out, nil
}
