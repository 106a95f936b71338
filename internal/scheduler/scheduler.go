// Package scheduler is the single dispatch authority of §4.1: one
// robfig/cron/v3 entry per cadence, each body guarded by a per-task
// try-lock so a slow run is skipped rather than queued (ticks are
// edge-triggered, never caught up), and reading the shared bot state
// before acting. Grounded on the pack's aristath-sentinel
// trader-go/internal/scheduler, adapted from its generic Job interface
// to direct closures over this bot's own components.
package scheduler

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/twtrader/orchestrator/internal/config"
	"github.com/twtrader/orchestrator/internal/execution"
	"github.com/twtrader/orchestrator/internal/marketcontext"
	"github.com/twtrader/orchestrator/internal/metrics"
	"github.com/twtrader/orchestrator/internal/newsveto"
	"github.com/twtrader/orchestrator/internal/persistence"
	"github.com/twtrader/orchestrator/internal/risk"
	"github.com/twtrader/orchestrator/internal/selector"
	"github.com/twtrader/orchestrator/internal/stratmanager"
	"github.com/twtrader/orchestrator/pkg/types"
)

// ReportFunc is a hook for a cadence whose body lives outside this
// package (the daily/weekly reports of §4.12, built in internal/eod).
// A nil hook is a no-op so the Scheduler can be assembled before its
// dependents exist.
type ReportFunc func(ctx context.Context) error

// Scheduler wires §4.1's seven cadences onto a single cron.Cron.
type Scheduler struct {
	cron *cron.Cron
	loc  *time.Location

	cfg        *config.Config
	marketCtx  *marketcontext.Provider
	strategies *stratmanager.Manager
	executor   *execution.Executor
	riskMgr    *risk.Manager
	veto       *newsveto.Pipeline
	sel        *selector.Selector
	settings   *persistence.BotSettingsRepository
	active     *persistence.ActiveStrategyConfigRepository
	signals    *persistence.SignalRepository

	dailyStats   ReportFunc
	weeklyReport ReportFunc
	blackout     ReportFunc

	logger *zap.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New constructs a Scheduler. Asia/Taipei is loaded once here; every
// cadence below and every window check in tradingTick reads time
// through it.
func New(
	cfg *config.Config,
	marketCtx *marketcontext.Provider,
	strategies *stratmanager.Manager,
	executor *execution.Executor,
	riskMgr *risk.Manager,
	veto *newsveto.Pipeline,
	sel *selector.Selector,
	settings *persistence.BotSettingsRepository,
	active *persistence.ActiveStrategyConfigRepository,
	signals *persistence.SignalRepository,
	logger *zap.Logger,
) (*Scheduler, error) {
	loc, err := time.LoadLocation("Asia/Taipei")
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		cron:       cron.New(cron.WithLocation(loc)),
		loc:        loc,
		cfg:        cfg,
		marketCtx:  marketCtx,
		strategies: strategies,
		executor:   executor,
		riskMgr:    riskMgr,
		veto:       veto,
		sel:        sel,
		settings:   settings,
		active:     active,
		signals:    signals,
		logger:     logger.Named("scheduler"),
		locks:      make(map[string]*sync.Mutex),
	}, nil
}

// SetReportHooks wires the daily statistics, weekly execution-quality
// report, and blackout-refresh bodies once their owning package
// exists; call before Start.
func (s *Scheduler) SetReportHooks(dailyStats, weeklyReport, blackout ReportFunc) {
	s.dailyStats = dailyStats
	s.weeklyReport = weeklyReport
	s.blackout = blackout
}

func (s *Scheduler) lockFor(task string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	m, ok := s.locks[task]
	if !ok {
		m = &sync.Mutex{}
		s.locks[task] = m
	}
	return m
}

// tryRun skips task entirely (no queueing, no catch-up) if a prior run
// is still in flight (§4.1's "only one instance of each may be in
// flight at a time").
func (s *Scheduler) tryRun(task string, fn func()) {
	m := s.lockFor(task)
	if !m.TryLock() {
		s.logger.Debug("skipping tick, previous run still in flight", zap.String("task", task))
		return
	}
	defer m.Unlock()
	fn()
}

// Start registers every cadence of §4.1 and starts the cron.
func (s *Scheduler) Start(ctx context.Context) error {
	entries := []struct {
		spec string
		task string
		fn   func()
	}{
		{"@every 30s", "trading_tick", func() { s.tryRun("trading_tick", func() { s.tradingTick(ctx) }) }},
		{"@every 10m", "news_refresh", func() { s.tryRun("news_refresh", func() { s.veto.Refresh(ctx) }) }},
		{"0 9 * * *", "blackout_refresh", func() { s.tryRun("blackout_refresh", func() { s.runHook("blackout_refresh", s.blackout, ctx) }) }},
		{"5 13 * * 1-5", "eod_stats", func() { s.tryRun("eod_stats", func() { s.runHook("eod_stats", s.dailyStats, ctx) }) }},
		{"30 8 * * 1-5", "auto_selector", func() {
			s.tryRun("auto_selector", func() {
				if err := s.sel.Run("", false, "scheduled daily selection"); err != nil {
					s.logger.Warn("scheduled selection found no eligible strategy", zap.Error(err))
				}
			})
		}},
		{"@every 5m", "drawdown_monitor", func() {
			s.tryRun("drawdown_monitor", func() {
				if !s.withinWindow(time.Now().In(s.loc)) {
					return
				}
				if err := s.sel.CheckDrawdown(ctx); err != nil {
					s.logger.Warn("drawdown check failed", zap.Error(err))
				}
			})
		}},
		{"0 8 * * 1", "execution_report", func() { s.tryRun("execution_report", func() { s.runHook("execution_report", s.weeklyReport, ctx) }) }},
	}

	for _, e := range entries {
		if _, err := s.cron.AddFunc(e.spec, e.fn); err != nil {
			return err
		}
		s.logger.Info("cadence registered", zap.String("task", e.task), zap.String("schedule", e.spec))
	}

	s.cron.Start()
	s.logger.Info("scheduler started")
	return nil
}

// Stop drains in-flight cron runs before returning.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) runHook(name string, fn ReportFunc, ctx context.Context) {
	if fn == nil {
		s.logger.Debug("no hook registered, skipping", zap.String("task", name))
		return
	}
	if err := fn(ctx); err != nil {
		s.logger.Error("report hook failed", zap.String("task", name), zap.Error(err))
	}
}

// parseClock parses an "HH:MM" window boundary against the date of on.
func parseClock(hhmm string, on time.Time, loc *time.Location) (time.Time, bool) {
	t, err := time.ParseInLocation("15:04", hhmm, loc)
	if err != nil {
		return time.Time{}, false
	}
	return time.Date(on.Year(), on.Month(), on.Day(), t.Hour(), t.Minute(), 0, 0, loc), true
}

func (s *Scheduler) windowBounds(now time.Time) (start, end time.Time, ok bool) {
	win := s.cfg.ActiveWindow()
	start, ok1 := parseClock(win.Start, now, s.loc)
	end, ok2 := parseClock(win.End, now, s.loc)
	return start, end, ok1 && ok2
}

func (s *Scheduler) withinWindow(now time.Time) bool {
	start, end, ok := s.windowBounds(now)
	if !ok {
		return false
	}
	return !now.Before(start) && !now.After(end)
}

// nearWindowClose reports whether now falls in the flatten-at-close
// span (§4.1): from 10 seconds before the window end until 20 seconds
// after it, a 30-second span that one 30s tick lands in.
func (s *Scheduler) nearWindowClose(now time.Time) bool {
	_, end, ok := s.windowBounds(now)
	if !ok {
		return false
	}
	flattenAt := end.Add(-10 * time.Second)
	return !now.Before(flattenAt) && now.Before(end.Add(20*time.Second))
}

// tradingTick is the every-30s entry of §4.1: the tick that lands in
// the flatten-at-close span (starting ten seconds before close) only
// flattens open live positions; any other tick outside the window is a
// no-op, and a tick inside it runs a full build-tick-execute cycle
// gated by bot state.
func (s *Scheduler) tradingTick(ctx context.Context) {
	start := time.Now()
	defer func() { metrics.RecordTick(time.Since(start).Seconds()) }()

	now := time.Now().In(s.loc)

	if s.nearWindowClose(now) {
		s.executor.FlattenOpenPositions(ctx)
		return
	}
	if !s.withinWindow(now) {
		return
	}

	if s.riskMgr.State() != types.BotStateRunning {
		return
	}

	symbol, err := s.settings.ActiveStock()
	if err != nil {
		s.logger.Warn("no active stock configured, skipping tick", zap.Error(err))
		return
	}

	mc, err := s.marketCtx.Build(ctx, symbol, s.cfg.TradingMode)
	if err != nil {
		s.logger.Error("failed to build market context", zap.Error(err))
		return
	}

	activeName := ""
	if cfg, err := s.active.Get(); err == nil && cfg != nil {
		activeName = cfg.StrategyName
	}

	result := s.strategies.Tick(mc, activeName)

	// Every actionable signal of the tick gets a persisted shadow Trade
	// and a Signal row — including the Active Strategy's own, whether or
	// not it also becomes a live candidate below (§8, §3).
	for _, sig := range result.StrategySignals {
		s.recordSignal(sig, mc)
		s.executor.RecordShadowFill(sig, mc.CurrentPrice)
	}

	if result.LiveCandidate == nil {
		return
	}

	portfolio := s.strategies.PortfolioFor(activeName)
	s.executor.ExecuteCandidate(ctx, *result.LiveCandidate, mc.CurrentPrice, portfolio)
}

// recordSignal persists a SignalRecord for a non-neutral signal (§3).
func (s *Scheduler) recordSignal(sig types.TradeSignal, mc *types.MarketContext) {
	if s.signals == nil {
		return
	}
	indicatorsJSON, err := json.Marshal(mc.Indicators)
	if err != nil {
		s.logger.Error("failed to marshal indicators for signal record", zap.Error(err))
	}
	record := types.SignalRecord{
		Timestamp:      time.Now(),
		Symbol:         sig.Symbol,
		StrategyName:   sig.StrategyName,
		Direction:      sig.Direction,
		Confidence:     sig.Confidence,
		Price:          mc.CurrentPrice,
		IndicatorsJSON: string(indicatorsJSON),
		Reason:         sig.Reason,
		NewsVeto:       mc.NewsVeto,
	}
	if _, err := s.signals.Create(record); err != nil {
		s.logger.Error("failed to persist signal record", zap.Error(err))
	}
}
