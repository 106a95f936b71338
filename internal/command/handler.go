// Package command is the inbound half of §4.11: it polls the
// notification transport for chat updates, enforces chat-identity
// authorization and per-user daily rate limits, and dispatches the
// recognized command table.
package command

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/twtrader/orchestrator/internal/clients/dataops"
	"github.com/twtrader/orchestrator/internal/clients/llm"
	"github.com/twtrader/orchestrator/internal/clients/notify"
	"github.com/twtrader/orchestrator/internal/execution"
	"github.com/twtrader/orchestrator/internal/persistence"
	"github.com/twtrader/orchestrator/internal/risk"
	"github.com/twtrader/orchestrator/internal/strategy"
	"github.com/twtrader/orchestrator/pkg/types"
)

const (
	maxTalkPerDay    = 10
	maxInsightPerDay = 3
	goLiveTTL        = 5 * time.Minute
)

// Handler dispatches the inbound chat command table.
type Handler struct {
	notifier     *notify.Client
	riskMgr      *risk.Manager
	executor     *execution.Executor
	llmClient    *llm.Client
	dataOps      *dataops.Client
	settings     *persistence.BotSettingsRepository
	trades       *persistence.TradeRepository
	active       *persistence.ActiveStrategyConfigRepository
	registry     *strategy.Registry
	events       *persistence.EventRepository
	stockMapping *persistence.StrategyStockMappingRepository
	loc          *time.Location

	authorizedChatID string
	logger           *zap.Logger

	mu     sync.Mutex
	limits map[string]*dailyLimit
}

type dailyLimit struct {
	date         string
	talkCount    int
	insightCount int
}

// New constructs a Handler.
func New(
	notifier *notify.Client,
	riskMgr *risk.Manager,
	executor *execution.Executor,
	llmClient *llm.Client,
	dataOps *dataops.Client,
	settings *persistence.BotSettingsRepository,
	trades *persistence.TradeRepository,
	active *persistence.ActiveStrategyConfigRepository,
	registry *strategy.Registry,
	events *persistence.EventRepository,
	stockMapping *persistence.StrategyStockMappingRepository,
	authorizedChatID string,
	loc *time.Location,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		notifier:         notifier,
		riskMgr:          riskMgr,
		executor:         executor,
		llmClient:        llmClient,
		dataOps:          dataOps,
		settings:         settings,
		trades:           trades,
		active:           active,
		registry:         registry,
		events:           events,
		stockMapping:     stockMapping,
		loc:              loc,
		authorizedChatID: authorizedChatID,
		logger:           logger.Named("command"),
		limits:           make(map[string]*dailyLimit),
	}
}

// PollAndDispatch polls the transport once and dispatches every
// authorized update; it never returns an error from an individual
// command failure (the user gets an error reply instead).
func (h *Handler) PollAndDispatch(ctx context.Context) error {
	updates, err := h.notifier.PollUpdates(ctx)
	if err != nil {
		return fmt.Errorf("polling chat updates: %w", err)
	}

	for _, u := range updates {
		h.dispatchOne(ctx, u)
	}
	return nil
}

func (h *Handler) dispatchOne(ctx context.Context, u notify.Update) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("command handler panicked", zap.Any("recovered", r), zap.String("chat_id", u.ChatID))
		}
	}()

	if u.ChatID != h.authorizedChatID {
		h.logEvent(fmt.Sprintf("unauthorized command from chat %s: %q", u.ChatID, u.Text))
		return
	}

	fields := strings.Fields(strings.TrimSpace(u.Text))
	if len(fields) == 0 {
		return
	}
	name := strings.ToLower(fields[0])
	args := fields[1:]

	reply := h.run(ctx, u.ChatID, name, args)
	if reply != "" {
		h.notifier.Send(ctx, reply)
	}
}

func (h *Handler) run(ctx context.Context, chatID, name string, args []string) string {
	switch name {
	case "status":
		return h.status()
	case "pause":
		h.riskMgr.Pause()
		return "bot paused: no new trades will be opened, open positions are kept"
	case "resume":
		h.riskMgr.Resume()
		return "bot resumed"
	case "close":
		h.executor.FlattenOpenPositions(ctx)
		return "flattening all open live positions"
	case "shutdown":
		h.riskMgr.Stop()
		h.executor.FlattenOpenPositions(ctx)
		return "bot stopped and flattened; the process itself keeps running"
	case "agent":
		return h.agentList()
	case "talk":
		return h.talk(ctx, chatID, strings.Join(args, " "))
	case "insight":
		return h.insight(ctx, chatID)
	case "golive":
		return h.goLive(ctx)
	case "confirmlive":
		return h.confirmLive()
	case "backtosim":
		if err := h.settings.Set(types.SettingTradeMode, string(types.ModeSimulation)); err != nil {
			return fmt.Sprintf("failed to switch to simulation: %v", err)
		}
		return "switched to SIMULATION mode"
	case "change-share":
		return h.changeSetting(types.SettingBaseShareQuantity, "base share quantity", args)
	case "change-increment":
		return h.changeSetting(types.SettingShareIncrementStep, "share increment step", args)
	case "populate-data", "run-backtests", "select-best-strategy", "full-pipeline":
		return h.delegateDataOp(ctx, name)
	case "data-status":
		return h.delegateDataOp(ctx, "status")
	default:
		return fmt.Sprintf("unrecognized command: %s", name)
	}
}

func (h *Handler) status() string {
	mode := "SIMULATION"
	if h.executor != nil {
		mode = string(h.executor.CurrentMode())
	}

	activeStrategy := "none"
	if cfg, err := h.active.Get(); err == nil && cfg != nil {
		activeStrategy = cfg.StrategyName
	}

	symbol, _ := h.settings.ActiveStock()
	qty, avgEntry, _ := h.trades.CurrentPosition(symbol)

	since := time.Now().In(h.loc)
	since = time.Date(since.Year(), since.Month(), since.Day(), 0, 0, 0, 0, h.loc)
	pnl, _ := h.trades.RealizedPnLSince(since)

	backtestedBest := "none on record"
	if h.stockMapping != nil && symbol != "" {
		if m, err := h.stockMapping.BestForSymbol(symbol); err == nil && m != nil {
			backtestedBest = fmt.Sprintf("%s (sharpe %s)", m.StrategyName, m.Sharpe.String())
		}
	}

	return fmt.Sprintf(
		"mode: %s\nactive strategy: %s\nsymbol: %s\nposition: %s @ %s\ntoday's realized P&L: %s\nbacktested best for symbol: %s",
		mode, activeStrategy, symbol, qty.String(), avgEntry.String(), pnl.String(), backtestedBest,
	)
}

func (h *Handler) agentList() string {
	names := h.registry.Names()
	sort.Strings(names)
	return "registered strategies: " + strings.Join(names, ", ")
}

// tryConsumeTalk reports whether chatID still has talk quota left for
// today and, if so, consumes one unit of it.
func (h *Handler) tryConsumeTalk(chatID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	l := h.limitLocked(chatID)
	if l.talkCount >= maxTalkPerDay {
		return false
	}
	l.talkCount++
	return true
}

// tryConsumeInsight is tryConsumeTalk's insight-quota counterpart.
func (h *Handler) tryConsumeInsight(chatID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	l := h.limitLocked(chatID)
	if l.insightCount >= maxInsightPerDay {
		return false
	}
	l.insightCount++
	return true
}

// limitLocked returns chatID's counter, resetting it if the day has
// rolled over. Callers must hold h.mu.
func (h *Handler) limitLocked(chatID string) *dailyLimit {
	today := time.Now().In(h.loc).Format("2006-01-02")
	l, ok := h.limits[chatID]
	if !ok || l.date != today {
		l = &dailyLimit{date: today}
		h.limits[chatID] = l
	}
	return l
}

func (h *Handler) talk(ctx context.Context, chatID, question string) string {
	if question == "" {
		return "usage: talk <question>"
	}
	if !h.tryConsumeTalk(chatID) {
		return fmt.Sprintf("daily talk limit reached (%d/day)", maxTalkPerDay)
	}

	answer, err := h.llmClient.GenerateText(ctx, llm.PurposeTutor, question, "chat_talk", "command", "")
	if err != nil {
		return fmt.Sprintf("could not reach the assistant: %v", err)
	}
	return answer
}

func (h *Handler) insight(ctx context.Context, chatID string) string {
	if !h.tryConsumeInsight(chatID) {
		return fmt.Sprintf("daily insight limit reached (%d/day)", maxInsightPerDay)
	}

	prompt := "Summarize today's trading activity and give one actionable observation for tomorrow."
	answer, err := h.llmClient.GenerateText(ctx, llm.PurposeStatsNarration, prompt, "chat_insight", "command", "")
	if err != nil {
		return fmt.Sprintf("could not generate insight: %v", err)
	}
	return answer
}

func (h *Handler) goLive(ctx context.Context) string {
	eligible, reason, err := h.riskMgr.GoLiveEligible()
	if err != nil {
		return fmt.Sprintf("go-live check failed: %v", err)
	}
	if !eligible {
		return "not eligible for live trading: " + reason
	}

	until := time.Now().Add(goLiveTTL)
	if err := h.settings.Set(types.SettingPendingGoLiveUntil, until.UTC().Format(time.RFC3339)); err != nil {
		return fmt.Sprintf("eligible, but failed to record pending go-live: %v", err)
	}
	return fmt.Sprintf("eligible for live trading. send confirmlive within %s to switch", goLiveTTL)
}

func (h *Handler) confirmLive() string {
	v, ok, err := h.settings.Get(types.SettingPendingGoLiveUntil)
	if err != nil || !ok || v == "" {
		return "no pending go-live request; send golive first"
	}
	until, err := time.Parse(time.RFC3339, v)
	if err != nil || time.Now().After(until) {
		return "pending go-live request has expired; send golive again"
	}

	if err := h.settings.Set(types.SettingTradeMode, string(types.ModeLive)); err != nil {
		return fmt.Sprintf("failed to switch to live: %v", err)
	}
	_ = h.settings.Set(types.SettingPendingGoLiveUntil, "")
	return "switched to LIVE trading"
}

func (h *Handler) changeSetting(key, label string, args []string) string {
	if len(args) != 1 {
		return fmt.Sprintf("usage: %s <n>", label)
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n <= 0 {
		return fmt.Sprintf("%s must be a positive integer", label)
	}
	if err := h.settings.Set(key, strconv.Itoa(n)); err != nil {
		return fmt.Sprintf("failed to update %s: %v", label, err)
	}
	return fmt.Sprintf("%s updated to %d", label, n)
}

func (h *Handler) delegateDataOp(ctx context.Context, op string) string {
	if h.dataOps == nil {
		return "data operations service is not configured"
	}

	var (
		res dataops.Result
		err error
	)
	if op == "status" {
		res, err = h.dataOps.Status(ctx)
	} else {
		res, err = h.dataOps.Trigger(ctx, op)
	}
	if err != nil {
		return fmt.Sprintf("data operations request failed: %v", err)
	}
	return res.Message
}

func (h *Handler) logEvent(message string) {
	if h.events == nil {
		return
	}
	if _, err := h.events.Create(types.Event{
		Timestamp: time.Now(),
		Type:      types.EventWarning,
		Category:  "command",
		Message:   message,
		Component: "command",
	}); err != nil {
		h.logger.Error("failed to persist command event", zap.Error(err))
	}
}
