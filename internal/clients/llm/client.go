// Package llm is the LLM Client of §4.6: a thin wrapper around a local
// Ollama-compatible runtime's /api/generate endpoint, used for the news
// veto pipeline, risk-approval prompts, and optional narration.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/twtrader/orchestrator/internal/persistence"
	"github.com/twtrader/orchestrator/pkg/types"
)

// markdownFenceRE strips a ```json ... ``` or ``` ... ``` wrapper some
// models put around otherwise-valid JSON.
var markdownFenceRE = regexp.MustCompile("(?s)^```(?:json)?\\s*\\n?(.*?)\\n?```$")

func stripMarkdownFence(response string) string {
	response = strings.TrimSpace(response)
	if matches := markdownFenceRE.FindStringSubmatch(response); len(matches) > 1 {
		return strings.TrimSpace(matches[1])
	}
	return response
}

// Purpose selects the sampling temperature for a call (§4.3): 0.3 is
// the default for structured veto/approval decisions, 0.5 for daily
// statistics narration, 0.7 for conversational tutor replies.
type Purpose int

const (
	PurposeNewsVeto Purpose = iota
	PurposeRiskApproval
	PurposeStatsNarration
	PurposeTutor
)

func (p Purpose) temperature() float64 {
	switch p {
	case PurposeStatsNarration:
		return 0.5
	case PurposeTutor:
		return 0.7
	default:
		return 0.3
	}
}

// timeout returns the default per-call timeout of §4.3: 5s for veto
// decisions (news veto and risk approval), 30s for narration.
func (p Purpose) timeout() time.Duration {
	if p == PurposeStatsNarration || p == PurposeTutor {
		return 30 * time.Second
	}
	return 5 * time.Second
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Client talks to the Ollama-compatible /api/generate endpoint.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
	insights   *persistence.LlmInsightRepository
	logger     *zap.Logger
}

// New constructs a Client. Per-call timeouts are governed by Purpose
// (§4.3), not a fixed client-wide deadline.
func New(baseURL, model string, insights *persistence.LlmInsightRepository, logger *zap.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{},
		insights:   insights,
		logger:     logger.Named("llm"),
	}
}

// EvaluateStructured sends prompt to the runtime, validates the
// response contains every key in expectedSchema, and persists an
// LlmInsight row (success or failure) regardless of outcome — the LLM
// path must never fail silently (§4.6, §4.9).
func (c *Client) EvaluateStructured(ctx context.Context, purpose Purpose, prompt string, expectedSchema []string, insightType, source, symbol string) (map[string]any, error) {
	start := time.Now()
	raw, callErr := c.generate(ctx, purpose, prompt)

	insight := types.LlmInsight{
		Timestamp:        start,
		InsightType:      insightType,
		Source:           source,
		Symbol:           symbol,
		Prompt:           prompt,
		ModelName:        c.model,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}

	if callErr != nil {
		insight.Success = false
		insight.ErrorMessage = callErr.Error()
		if _, err := c.insights.Create(insight); err != nil {
			c.logger.Error("failed to persist llm insight on call failure", zap.Error(err))
		}
		return nil, types.NewError(types.KindLLMSchema, "llm", "generate call failed", callErr)
	}

	cleaned := stripMarkdownFence(raw)
	var parsed map[string]any
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		insight.Success = false
		insight.ResponseJSON = raw
		insight.ErrorMessage = fmt.Sprintf("invalid json: %v", err)
		if _, cerr := c.insights.Create(insight); cerr != nil {
			c.logger.Error("failed to persist llm insight on parse failure", zap.Error(cerr))
		}
		return nil, types.NewError(types.KindLLMSchema, "llm", "response is not valid json", err)
	}

	var missing []string
	for _, key := range expectedSchema {
		if _, ok := parsed[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		insight.Success = false
		insight.ResponseJSON = raw
		insight.ErrorMessage = fmt.Sprintf("missing schema keys: %s", strings.Join(missing, ", "))
		if _, cerr := c.insights.Create(insight); cerr != nil {
			c.logger.Error("failed to persist llm insight on schema failure", zap.Error(cerr))
		}
		return nil, types.NewError(types.KindLLMSchema, "llm", insight.ErrorMessage, nil)
	}

	insight.Success = true
	insight.ResponseJSON = raw
	if _, err := c.insights.Create(insight); err != nil {
		c.logger.Error("failed to persist llm insight on success", zap.Error(err))
	}
	return parsed, nil
}

// GenerateText sends prompt and returns the free-form response, for
// callers that have no fixed JSON schema to validate against (the
// `talk`/`insight` commands of §4.11). It persists an LlmInsight row
// on every outcome, same as EvaluateStructured, just without the
// schema-key check.
func (c *Client) GenerateText(ctx context.Context, purpose Purpose, prompt, insightType, source, symbol string) (string, error) {
	start := time.Now()
	raw, callErr := c.generate(ctx, purpose, prompt)

	insight := types.LlmInsight{
		Timestamp:        start,
		InsightType:      insightType,
		Source:           source,
		Symbol:           symbol,
		Prompt:           prompt,
		ModelName:        c.model,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}

	if callErr != nil {
		insight.Success = false
		insight.ErrorMessage = callErr.Error()
		if _, err := c.insights.Create(insight); err != nil {
			c.logger.Error("failed to persist llm insight on call failure", zap.Error(err))
		}
		return "", types.NewError(types.KindLLMSchema, "llm", "generate call failed", callErr)
	}

	cleaned := stripMarkdownFence(raw)
	insight.Success = true
	insight.ResponseJSON = raw
	if _, err := c.insights.Create(insight); err != nil {
		c.logger.Error("failed to persist llm insight on success", zap.Error(err))
	}
	return cleaned, nil
}

func (c *Client) generate(ctx context.Context, purpose Purpose, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, purpose.timeout())
	defer cancel()

	body, err := json.Marshal(generateRequest{
		Model:   c.model,
		Prompt:  prompt,
		Stream:  false,
		Options: generateOptions{Temperature: purpose.temperature()},
	})
	if err != nil {
		return "", fmt.Errorf("marshaling generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling llm runtime: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("llm runtime returned %d", resp.StatusCode)
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding generate response: %w", err)
	}
	return out.Response, nil
}
