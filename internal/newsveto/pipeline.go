// Package newsveto is the News & LLM Veto Pipeline of §4.6: a
// periodically refreshed, TTL-cached verdict on whether news sentiment
// should veto new entries, plus the risk-manager LLM approval call
// invoked immediately before order submission.
package newsveto

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/twtrader/orchestrator/internal/clients/broker"
	"github.com/twtrader/orchestrator/internal/clients/llm"
	"github.com/twtrader/orchestrator/internal/persistence"
	"github.com/twtrader/orchestrator/pkg/types"
)

// verdict is the cached refresh outcome.
type verdict struct {
	veto           bool
	score          float64
	reason         string
	headlinesCount int
	refreshedAt    time.Time
	lastVetoTrue   time.Time
}

// Pipeline refreshes the news veto verdict on a timer and serves the
// cached value to callers.
type Pipeline struct {
	broker *broker.Client
	llm    *llm.Client
	events *persistence.EventRepository
	ttl    time.Duration
	logger *zap.Logger

	mu    sync.RWMutex
	state verdict
}

// New constructs a Pipeline. ttl is the refresh cache lifetime (§4.6);
// a sticky veto=true verdict is retained for up to 2×ttl past the last
// successful refresh.
func New(brokerClient *broker.Client, llmClient *llm.Client, events *persistence.EventRepository, ttl time.Duration, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		broker: brokerClient,
		llm:    llmClient,
		events: events,
		ttl:    ttl,
		logger: logger.Named("newsveto"),
	}
}

// Refresh performs one news-ingestion + LLM-scoring cycle, called every
// 10 minutes by the scheduler.
func (p *Pipeline) Refresh(ctx context.Context) {
	news, err := p.broker.GetNews(ctx)
	if err != nil {
		p.logger.Warn("fetching news from broker bridge failed", zap.Error(err))
		return
	}

	prompt := fmt.Sprintf(
		"Evaluate the current news sentiment for trading risk. %d headlines observed. "+
			"Respond strictly as JSON: {\"veto\": boolean, \"score\": number between 0 and 1, \"reason\": string}.",
		news.HeadlinesCount,
	)

	result, err := p.llm.EvaluateStructured(ctx, llm.PurposeNewsVeto, prompt, []string{"veto", "score", "reason"}, "news_veto", "scheduled_refresh", "")
	if err != nil {
		p.logger.Warn("news veto llm evaluation failed; retaining cached verdict until ttl", zap.Error(err))
		return
	}

	veto, _ := result["veto"].(bool)
	score, _ := result["score"].(float64)
	reason, _ := result["reason"].(string)

	p.mu.Lock()
	defer p.mu.Unlock()
	lastVetoTrue := p.state.lastVetoTrue
	p.state = verdict{
		veto:           veto,
		score:          score,
		reason:         reason,
		headlinesCount: news.HeadlinesCount,
		refreshedAt:    time.Now(),
		lastVetoTrue:   lastVetoTrue,
	}
	if veto {
		p.state.lastVetoTrue = time.Now()
	}
}

// Current returns the veto flag, score, and reason applicable right
// now, applying the TTL expiry and sticky-veto rules of §4.6.
func (p *Pipeline) Current() (veto bool, score float64, reason string) {
	p.mu.RLock()
	s := p.state
	p.mu.RUnlock()

	now := time.Now()
	if s.refreshedAt.IsZero() {
		return false, 0.5, "no verdict yet"
	}

	age := now.Sub(s.refreshedAt)
	if age <= p.ttl {
		return s.veto, s.score, s.reason
	}

	if s.veto && age <= 2*p.ttl {
		return true, s.score, s.reason + " (sticky, awaiting refresh)"
	}

	p.logStaleEvent(s, age)
	return false, 0.5, "verdict stale; defaulting to do-not-block"
}

func (p *Pipeline) logStaleEvent(s verdict, age time.Duration) {
	if p.events == nil {
		return
	}
	_, err := p.events.Create(types.Event{
		Timestamp: time.Now(),
		Type:      types.EventWarning,
		Component: "newsveto",
		Message:   fmt.Sprintf("news verdict stale (age %s, ttl %s); defaulting to do-not-block", age, p.ttl),
	})
	if err != nil {
		p.logger.Error("failed to persist stale news verdict event", zap.Error(err))
	}
}

// ApproveTrade invokes the risk-manager LLM approval path immediately
// before order submission (§4.6). The model must respond exactly
// APPROVE or VETO: <reason>; anything else is treated as a veto.
func (p *Pipeline) ApproveTrade(ctx context.Context, snapshot RiskSnapshot) (approved bool, reason string) {
	prompt := snapshot.prompt()
	result, err := p.llm.EvaluateStructured(ctx, llm.PurposeRiskApproval, prompt, []string{"decision"}, "risk_approval", "order_preflight", snapshot.Symbol)
	if err != nil {
		return false, "llm approval call failed: " + err.Error()
	}

	decision, _ := result["decision"].(string)
	decision = strings.TrimSpace(decision)
	if decision == "APPROVE" {
		return true, ""
	}
	if strings.HasPrefix(decision, "VETO:") {
		return false, strings.TrimSpace(strings.TrimPrefix(decision, "VETO:"))
	}
	return false, "unrecognized llm response treated as veto"
}

// RiskSnapshot is the state handed to the risk-approval LLM call
// (§4.6): it must include the resolved share size with no implicit cap
// (Open Question 3).
type RiskSnapshot struct {
	Symbol          string
	Direction       string
	ShareSize       int64
	DailyPnL        string
	WeeklyPnL       string
	MonthlyPnL      string
	DrawdownPct     string
	TradeCount24h   int
	StrategyAgeDays int
	VolatilityTier  string
}

func (s RiskSnapshot) prompt() string {
	return fmt.Sprintf(
		"Trade proposal: %s %s, share size %d (final, not a cap to apply).\n"+
			"Daily P&L: %s, Weekly P&L: %s, Monthly P&L: %s, Drawdown: %s%%.\n"+
			"Trades in last 24h: %d. Strategy age: %d days. Volatility tier: %s.\n"+
			"Respond strictly as JSON: {\"decision\": \"APPROVE\" or \"VETO: <short reason>\"}.",
		s.Direction, s.Symbol, s.ShareSize, s.DailyPnL, s.WeeklyPnL, s.MonthlyPnL,
		s.DrawdownPct, s.TradeCount24h, s.StrategyAgeDays, s.VolatilityTier,
	)
}
