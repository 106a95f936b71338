// Package risk is the Risk Manager of §4.7: a bot-state machine and an
// ordered pre-trade gate pipeline (gate ordering, a violation/result
// shape per check, and a kill-switch state transition).
package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/twtrader/orchestrator/internal/clients/broker"
	"github.com/twtrader/orchestrator/internal/clients/notify"
	"github.com/twtrader/orchestrator/internal/metrics"
	"github.com/twtrader/orchestrator/internal/newsveto"
	"github.com/twtrader/orchestrator/internal/persistence"
	"github.com/twtrader/orchestrator/pkg/types"
)

// GateResult is the outcome of the 9-gate pre-trade pipeline (§4.7).
type GateResult struct {
	Approved bool
	Gate     string
	Reason   string
}

func approved() GateResult { return GateResult{Approved: true} }

func refused(gate, reason string) GateResult {
	metrics.RecordRiskRefusal(gate)
	return GateResult{Approved: false, Gate: gate, Reason: reason}
}

// OrderProposal is the candidate order the gate pipeline evaluates.
type OrderProposal struct {
	Symbol           string
	Direction        types.Direction
	ShareSize        int64
	PositionAfter    decimal.Decimal
	StrategyName     string
	StrategyAgeDays  int
	VolatilityTier   string
}

// Manager owns the bot state machine and runs the pre-trade gates.
// Every field it depends on (broker connectivity, news veto, blackout
// freshness, LLM approval) is read fresh on every call — the Manager
// itself holds no cached risk state beyond the state machine value.
type Manager struct {
	trades    *persistence.TradeRepository
	blackout  *persistence.EarningsBlackoutRepository
	settings  *persistence.BotSettingsRepository
	events    *persistence.EventRepository
	broker    *broker.Client
	veto      *newsveto.Pipeline
	notifier  *notify.Client
	logger    *zap.Logger

	mu               sync.RWMutex
	state            types.BotState
	emergencyHalted  bool
	maxPosition      decimal.Decimal
	tradingMode      types.TradingMode
}

// New constructs a Manager starting in RUNNING state.
func New(
	trades *persistence.TradeRepository,
	blackout *persistence.EarningsBlackoutRepository,
	settings *persistence.BotSettingsRepository,
	events *persistence.EventRepository,
	brokerClient *broker.Client,
	veto *newsveto.Pipeline,
	notifier *notify.Client,
	maxPosition decimal.Decimal,
	tradingMode types.TradingMode,
	logger *zap.Logger,
) *Manager {
	return &Manager{
		trades:      trades,
		blackout:    blackout,
		settings:    settings,
		events:      events,
		broker:      brokerClient,
		veto:        veto,
		notifier:    notifier,
		maxPosition: maxPosition,
		tradingMode: tradingMode,
		logger:      logger.Named("risk"),
		state:       types.BotStateRunning,
	}
}

// State returns the current bot state.
func (m *Manager) State() types.BotState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Pause transitions RUNNING -> PAUSED.
func (m *Manager) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == types.BotStateRunning {
		m.state = types.BotStatePaused
		metrics.SetBotState(string(m.state))
	}
}

// Resume transitions PAUSED -> RUNNING.
func (m *Manager) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == types.BotStatePaused {
		m.state = types.BotStateRunning
		metrics.SetBotState(string(m.state))
	}
}

// Stop transitions to STOPPED, terminal until process restart.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = types.BotStateStopped
	metrics.SetBotState(string(m.state))
}

func (m *Manager) limit(key string, fallback decimal.Decimal) decimal.Decimal {
	v, ok, err := m.settings.Get(key)
	if err != nil || !ok {
		return fallback
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return fallback
	}
	return d
}

// CheckOrder runs the 9 ordered pre-trade gates of §4.7; the first
// failing gate short-circuits the rest.
func (m *Manager) CheckOrder(ctx context.Context, proposal OrderProposal) GateResult {
	m.mu.RLock()
	state := m.state
	halted := m.emergencyHalted
	maxPosition := m.maxPosition
	tradingMode := m.tradingMode
	m.mu.RUnlock()

	// Gate 1: bot state.
	if state == types.BotStatePaused || state == types.BotStateStopped {
		return refused("bot_state", fmt.Sprintf("bot is %s", state))
	}

	// Gate 2: broker connectivity (fail-closed).
	connected := m.broker != nil && m.broker.Connected()
	metrics.SetBrokerConnected(connected)
	if !connected {
		return refused("broker_connectivity", "broker bridge not connected")
	}

	// Gate 3: emergency shutdown.
	if halted || state == types.BotStateEmergencyHalt {
		return refused("emergency_shutdown", "bot is in emergency halt")
	}

	// Gate 4: projected P&L vs. configured limits.
	dailyLimit := m.limit(types.SettingDailyLossLimit, decimal.NewFromInt(-1))
	weeklyLimit := m.limit(types.SettingWeeklyLossLimit, decimal.NewFromInt(-1))
	monthlyLimit := m.limit(types.SettingMonthlyLossLimit, decimal.NewFromInt(-1))

	now := time.Now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	weekStart := dayStart.AddDate(0, 0, -int(dayStart.Weekday()))
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	if dailyLimit.IsPositive() {
		if pnl, err := m.trades.RealizedPnLSince(dayStart); err == nil && pnl.LessThan(dailyLimit.Neg()) {
			return refused("daily_loss_limit", "projected daily P&L breaches limit")
		}
	}
	if weeklyLimit.IsPositive() {
		if pnl, err := m.trades.RealizedPnLSince(weekStart); err == nil && pnl.LessThan(weeklyLimit.Neg()) {
			return refused("weekly_loss_limit", "projected weekly P&L breaches limit")
		}
	}
	if monthlyLimit.IsPositive() {
		if pnl, err := m.trades.RealizedPnLSince(monthStart); err == nil && pnl.LessThan(monthlyLimit.Neg()) {
			return refused("monthly_loss_limit", "projected monthly P&L breaches limit")
		}
	}

	// Gate 5: absolute position cap after execution.
	if !maxPosition.IsZero() && proposal.PositionAfter.Abs().GreaterThan(maxPosition) {
		return refused("max_position", "position after execution exceeds configured maximum")
	}

	// Gate 6: earnings blackout, only if the snapshot is fresh.
	if m.blackout != nil {
		if meta, err := m.blackout.Load(); err == nil && meta != nil && !meta.Stale(now) {
			if meta.IsDateBlackout(now, now) {
				return refused("earnings_blackout", "trade date is in the earnings blackout set")
			}
		}
	}

	// Gate 7: Taiwan regulatory rule — no SHORT in stock mode.
	if tradingMode == types.TradingModeStock && proposal.Direction == types.DirectionShort {
		return refused("regulatory_short_in_stock_mode", "short signals are not allowed in stock mode")
	}

	// Gate 8: news veto cache.
	if m.veto != nil {
		if veto, _, reason := m.veto.Current(); veto {
			return refused("news_veto", reason)
		}
	}

	// Gate 9: LLM risk approval.
	if m.veto != nil {
		dailyPnL, _ := m.trades.RealizedPnLSince(dayStart)
		weeklyPnL, _ := m.trades.RealizedPnLSince(weekStart)
		monthlyPnL, _ := m.trades.RealizedPnLSince(monthStart)
		snapshot := newsveto.RiskSnapshot{
			Symbol:          proposal.Symbol,
			Direction:       string(proposal.Direction),
			ShareSize:       proposal.ShareSize,
			DailyPnL:        dailyPnL.String(),
			WeeklyPnL:       weeklyPnL.String(),
			MonthlyPnL:      monthlyPnL.String(),
			StrategyAgeDays: proposal.StrategyAgeDays,
			VolatilityTier:  proposal.VolatilityTier,
		}
		if ok, reason := m.veto.ApproveTrade(ctx, snapshot); !ok {
			return refused("llm_risk_approval", reason)
		}
	}

	return approved()
}

// RecordFill updates in-memory state after every fill and transitions
// to EMERGENCY_HALT if any loss limit — daily, weekly, or monthly — was
// crossed (§4.7 post-trade: "if any loss limit crossed").
func (m *Manager) RecordFill(ctx context.Context, realizedPnL decimal.Decimal) {
	now := time.Now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	weekStart := dayStart.AddDate(0, 0, -int(dayStart.Weekday()))
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	dailyLimit := m.limit(types.SettingDailyLossLimit, decimal.Zero)
	weeklyLimit := m.limit(types.SettingWeeklyLossLimit, decimal.Zero)
	monthlyLimit := m.limit(types.SettingMonthlyLossLimit, decimal.Zero)

	windows := []struct {
		limit  decimal.Decimal
		since  time.Time
		reason string
	}{
		{dailyLimit, dayStart, "daily loss limit crossed after fill"},
		{weeklyLimit, weekStart, "weekly loss limit crossed after fill"},
		{monthlyLimit, monthStart, "monthly loss limit crossed after fill"},
	}

	for _, w := range windows {
		if w.limit.IsZero() {
			continue
		}
		pnl, err := m.trades.RealizedPnLSince(w.since)
		if err != nil {
			m.logger.Error("reading realized pnl for post-trade check", zap.Error(err))
			continue
		}
		if pnl.LessThan(w.limit.Neg()) {
			m.triggerEmergencyHalt(ctx, w.reason)
			return
		}
	}

	if realizedPnL.IsPositive() {
		m.recordProfitEvent(realizedPnL)
	}
}

func (m *Manager) recordProfitEvent(pnl decimal.Decimal) {
	if m.events == nil {
		return
	}
	if _, err := m.events.Create(types.Event{
		Timestamp: time.Now(),
		Type:      types.EventSuccess,
		Component: "risk",
		Message:   fmt.Sprintf("realized profit %s", pnl.String()),
	}); err != nil {
		m.logger.Error("failed to persist profit event", zap.Error(err))
	}
}

// triggerEmergencyHalt transitions to EMERGENCY_HALT, on which gate 3
// refuses every later order, and notifies. The transition does not
// flatten open positions; they stay open until the next window-end
// flatten or a `close` command.
func (m *Manager) triggerEmergencyHalt(ctx context.Context, reason string) {
	m.mu.Lock()
	m.state = types.BotStateEmergencyHalt
	m.emergencyHalted = true
	m.mu.Unlock()
	metrics.SetBotState(string(types.BotStateEmergencyHalt))

	m.logger.Error("emergency halt triggered", zap.String("reason", reason))
	if m.events != nil {
		if _, err := m.events.Create(types.Event{
			Timestamp: time.Now(),
			Type:      types.EventError,
			Component: "risk",
			Severity:  "CRITICAL",
			Message:   "emergency halt: " + reason,
		}); err != nil {
			m.logger.Error("failed to persist emergency halt event", zap.Error(err))
		}
	}
	if m.notifier != nil {
		m.notifier.Send(ctx, "EMERGENCY HALT: "+reason)
	}
}

// GoLiveEligible reports whether the bot qualifies to trade live,
// per the separate read-only query of §4.7 (not a pre-trade gate):
// at least 20 closed simulation trades, win rate >= 55%, max drawdown
// <= 5% of a 100,000 base.
func (m *Manager) GoLiveEligible() (eligible bool, reason string, err error) {
	count, err := m.trades.CountClosedSimulationTrades()
	if err != nil {
		return false, "", fmt.Errorf("counting closed simulation trades: %w", err)
	}
	if count < 20 {
		return false, fmt.Sprintf("only %d closed simulation trades, need 20", count), nil
	}

	winRate, maxDD, err := m.trades.SimulationWinRateAndDrawdown()
	if err != nil {
		return false, "", fmt.Errorf("computing simulation win rate/drawdown: %w", err)
	}
	if winRate.LessThan(decimal.NewFromInt(55)) {
		return false, fmt.Sprintf("win rate %s%% below 55%%", winRate.String()), nil
	}
	if maxDD.GreaterThan(decimal.NewFromInt(5)) {
		return false, fmt.Sprintf("max drawdown %s%% above 5%%", maxDD.String()), nil
	}
	return true, "", nil
}
