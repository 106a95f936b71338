// Package selector is the Strategy Selector & Drawdown Monitor of
// §4.9: a scheduled (and on-demand) re-ranking of strategies against
// persisted performance, and a 7-day rolling drawdown watchdog on the
// Active Strategy. Uses a read-then-rank shape (load every candidate's
// performance row, sort, cut at the threshold) reading from
// internal/persistence's relational StrategyPerformance table as the
// source of truth.
package selector

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/twtrader/orchestrator/internal/clients/notify"
	"github.com/twtrader/orchestrator/internal/config"
	"github.com/twtrader/orchestrator/internal/execution"
	"github.com/twtrader/orchestrator/internal/persistence"
	"github.com/twtrader/orchestrator/pkg/types"
)

// Selector ranks strategies and watches the Active Strategy's rolling
// drawdown.
type Selector struct {
	perf     *persistence.StrategyPerformanceRepository
	active   *persistence.ActiveStrategyConfigRepository
	shadow   *persistence.ShadowModeStockRepository
	trades   *persistence.TradeRepository
	events   *persistence.EventRepository
	executor *execution.Executor
	notifier *notify.Client
	config   config.SelectorConfig
	baseEquity decimal.Decimal
	logger   *zap.Logger
}

// New constructs a Selector.
func New(
	perf *persistence.StrategyPerformanceRepository,
	active *persistence.ActiveStrategyConfigRepository,
	shadow *persistence.ShadowModeStockRepository,
	trades *persistence.TradeRepository,
	events *persistence.EventRepository,
	executor *execution.Executor,
	notifier *notify.Client,
	cfg config.SelectorConfig,
	baseEquity decimal.Decimal,
	logger *zap.Logger,
) *Selector {
	return &Selector{
		perf: perf, active: active, shadow: shadow, trades: trades, events: events,
		executor: executor, notifier: notifier, config: cfg, baseEquity: baseEquity,
		logger: logger.Named("selector"),
	}
}

type candidate struct {
	name string
	perf types.StrategyPerformance
}

// rankedCandidates reads the lookback window, filters by threshold, and
// ranks sharpe desc -> total return desc -> win rate desc (§4.9 steps
// 1-3). exclude, if non-empty, drops a strategy name from contention
// (used by the drawdown monitor's replacement selection).
func (s *Selector) rankedCandidates(exclude string) ([]candidate, error) {
	since := time.Now().AddDate(0, 0, -s.config.LookbackDays)
	rows, err := s.perf.RecentByMode(types.PerfModeMain, since)
	if err != nil {
		return nil, fmt.Errorf("reading recent strategy performance: %w", err)
	}

	latest := make(map[string]types.StrategyPerformance)
	for _, p := range rows {
		if p.StrategyName == exclude {
			continue
		}
		if existing, ok := latest[p.StrategyName]; !ok || p.CalculatedAt.After(existing.CalculatedAt) {
			latest[p.StrategyName] = p
		}
	}

	var out []candidate
	for name, p := range latest {
		if p.TotalReturnPct.LessThanOrEqual(s.config.MinExpectedReturnPct) {
			continue
		}
		if p.Sharpe.LessThanOrEqual(s.config.MinSharpe) {
			continue
		}
		if p.WinRatePct.LessThanOrEqual(s.config.MinWinRatePct) {
			continue
		}
		if p.MaxDrawdownPct.GreaterThanOrEqual(s.config.MaxDrawdownPct) {
			continue
		}
		out = append(out, candidate{name: name, perf: p})
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].perf.Sharpe.Equal(out[j].perf.Sharpe) {
			return out[i].perf.Sharpe.GreaterThan(out[j].perf.Sharpe)
		}
		if !out[i].perf.TotalReturnPct.Equal(out[j].perf.TotalReturnPct) {
			return out[i].perf.TotalReturnPct.GreaterThan(out[j].perf.TotalReturnPct)
		}
		return out[i].perf.WinRatePct.GreaterThan(out[j].perf.WinRatePct)
	})
	return out, nil
}

type snapshotMetrics struct {
	Sharpe         string `json:"sharpe"`
	TotalReturnPct string `json:"total_return_pct"`
	WinRatePct     string `json:"win_rate_pct"`
	MaxDrawdownPct string `json:"max_drawdown_pct"`
}

// Run executes §4.9 steps 1-5: rank, upsert the Active Strategy, and
// atomically rebuild the ShadowModeStock set from the runners-up.
// manual distinguishes a command-triggered switch (autoSwitched=false)
// from the scheduled/automatic one.
func (s *Selector) Run(exclude string, manual bool, switchReason string) error {
	ranked, err := s.rankedCandidates(exclude)
	if err != nil {
		return err
	}
	if len(ranked) == 0 {
		return fmt.Errorf("no strategy meets the selection thresholds")
	}

	winner := ranked[0]
	metrics, _ := json.Marshal(snapshotMetrics{
		Sharpe:         winner.perf.Sharpe.String(),
		TotalReturnPct: winner.perf.TotalReturnPct.String(),
		WinRatePct:     winner.perf.WinRatePct.String(),
		MaxDrawdownPct: winner.perf.MaxDrawdownPct.String(),
	})

	if err := s.active.Upsert(types.ActiveStrategyConfig{
		StrategyName:    winner.name,
		AutoSwitched:    !manual,
		SwitchReason:    switchReason,
		SnapshotMetrics: string(metrics),
		UpdatedAt:       time.Now(),
	}); err != nil {
		return fmt.Errorf("upserting active strategy config: %w", err)
	}

	runnersUp := ranked[1:]
	if len(runnersUp) > s.config.ShadowStockCount {
		runnersUp = runnersUp[:s.config.ShadowStockCount]
	}
	shadowRows := make([]types.ShadowModeStock, 0, len(runnersUp))
	for i, c := range runnersUp {
		shadowRows = append(shadowRows, types.ShadowModeStock{
			Symbol:            c.perf.Symbol,
			StrategyName:      c.name,
			RankPosition:      i + 1,
			Enabled:           true,
			ExpectedReturnPct: c.perf.TotalReturnPct,
		})
	}
	if err := s.shadow.ReplaceAll(shadowRows); err != nil {
		return fmt.Errorf("rebuilding shadow mode stock: %w", err)
	}

	s.logger.Info("active strategy selected", zap.String("strategy", winner.name), zap.Bool("auto", !manual))
	return nil
}

// CheckDrawdown is the 5-minute drawdown monitor of §4.9: if the
// Active Strategy's 7-day max drawdown exceeds the configured breach
// threshold, it flattens all positions, selects a replacement, notifies
// with old/new metrics, and records the switch_reason.
func (s *Selector) CheckDrawdown(ctx context.Context) error {
	active, err := s.active.Get()
	if err != nil {
		return fmt.Errorf("reading active strategy: %w", err)
	}
	if active == nil {
		return nil
	}

	since := time.Now().AddDate(0, 0, -7)
	dd, err := s.trades.DrawdownSince(active.StrategyName, since, s.baseEquity)
	if err != nil {
		return fmt.Errorf("computing 7-day drawdown: %w", err)
	}
	if dd.LessThanOrEqual(s.config.DrawdownBreachPct) {
		return nil
	}

	s.logger.Warn("drawdown breach on active strategy", zap.String("strategy", active.StrategyName), zap.String("drawdown_pct", dd.String()))

	if s.executor != nil {
		s.executor.FlattenOpenPositions(ctx)
	}

	reason := fmt.Sprintf("drawdown %s%% breached %s%% threshold on %s", dd.String(), s.config.DrawdownBreachPct.String(), active.StrategyName)
	if err := s.Run(active.StrategyName, false, reason); err != nil {
		s.logEvent(fmt.Sprintf("drawdown breach on %s but no replacement available: %v", active.StrategyName, err))
		if s.notifier != nil {
			s.notifier.Send(ctx, fmt.Sprintf("DRAWDOWN ALERT: %s breached %s%%, no eligible replacement found", active.StrategyName, s.config.DrawdownBreachPct.String()))
		}
		return err
	}

	replacement, _ := s.active.Get()
	newName := "unknown"
	newMetrics := "{}"
	if replacement != nil {
		newName = replacement.StrategyName
		newMetrics = replacement.SnapshotMetrics
	}
	if s.notifier != nil {
		s.notifier.Send(ctx, fmt.Sprintf("strategy switched: %s -> %s (%s); old metrics %s, new metrics %s",
			active.StrategyName, newName, reason, active.SnapshotMetrics, newMetrics))
	}
	s.logEvent(reason)
	return nil
}

func (s *Selector) logEvent(message string) {
	if s.events == nil {
		return
	}
	if _, err := s.events.Create(types.Event{
		Timestamp: time.Now(),
		Type:      types.EventWarning,
		Category:  "selector",
		Message:   message,
		Component: "selector",
	}); err != nil {
		s.logger.Error("failed to persist selector event", zap.Error(err))
	}
}
