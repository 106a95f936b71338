// Package stratmanager is the Strategy Manager of §4.5: it walks the
// Strategy Registry every tick, isolates each strategy behind a
// recover boundary, collects actionable signals, aggregates them into
// a single tick-level verdict by a confidence-weighted vote across the
// tick's actionable signals, and produces the two output tracks — a
// shadow trade per actionable strategy and a candidate live signal,
// which is the Active Strategy's own actionable signal, not the vote.
package stratmanager

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/twtrader/orchestrator/internal/persistence"
	"github.com/twtrader/orchestrator/internal/strategy"
	"github.com/twtrader/orchestrator/pkg/types"
)

var (
	aggregationThreshold = decimal.NewFromFloat(0.65)
	maxAggregateConf     = decimal.NewFromFloat(0.95)
	shadowAllocationFrac = decimal.NewFromFloat(0.1)
)

// TickResult is everything the tick produced: the aggregated verdict,
// every actionable per-strategy signal, and the candidate live signal
// (if the Active Strategy itself fired).
type TickResult struct {
	Symbol        string
	Aggregated    types.TradeSignal
	StrategySignals []types.TradeSignal
	LiveCandidate *types.TradeSignal
}

// Manager fans a tick out across the registry.
type Manager struct {
	registry *strategy.Registry
	settings *persistence.BotSettingsRepository
	events   *persistence.EventRepository
	logger   *zap.Logger

	mu         sync.Mutex
	portfolios map[string]*types.Portfolio
}

// New constructs a Manager over registry, checking per-strategy enable
// flags against settings (a "strategy_enabled:<name>" key of "false"
// disables a strategy; absence defaults to enabled, per §4.5 step 1).
func New(registry *strategy.Registry, settings *persistence.BotSettingsRepository, events *persistence.EventRepository, logger *zap.Logger) *Manager {
	return &Manager{
		registry:   registry,
		settings:   settings,
		events:     events,
		logger:     logger.Named("stratmanager"),
		portfolios: make(map[string]*types.Portfolio),
	}
}

func (m *Manager) isEnabled(name string) bool {
	v, ok, err := m.settings.Get(fmt.Sprintf("strategy_enabled:%s", name))
	if err != nil || !ok {
		return true
	}
	return v != "false"
}

func (m *Manager) portfolioFor(name string) *types.Portfolio {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.portfolios[name]
	if !ok {
		p = types.NewPortfolio(name)
		m.portfolios[name] = p
	}
	return p
}

// PortfolioFor exposes a strategy's shadow portfolio for reporting.
func (m *Manager) PortfolioFor(name string) *types.Portfolio {
	return m.portfolioFor(name)
}

// Tick runs every enabled strategy against mc, isolating panics and
// errors per strategy (§4.5 step 2), aggregates actionable signals
// (§4.5 steps 3-4), and records shadow trades plus the live candidate
// for activeStrategy (§4.5 step 5).
func (m *Manager) Tick(mc *types.MarketContext, activeStrategy string) TickResult {
	var actionable []types.TradeSignal

	for _, s := range m.registry.All() {
		if !m.isEnabled(s.Name()) {
			continue
		}

		signal := m.runStrategy(s, mc)
		if !signal.Actionable() {
			continue
		}
		actionable = append(actionable, signal)
		m.recordShadowTrade(s.Name(), signal, mc)
	}

	result := TickResult{Symbol: mc.Symbol, StrategySignals: actionable}
	result.Aggregated = aggregate(mc.Symbol, actionable)

	for _, sig := range actionable {
		if sig.StrategyName == activeStrategy {
			candidate := sig
			result.LiveCandidate = &candidate
			break
		}
	}

	return result
}

// runStrategy isolates one strategy's Execute call behind a recover
// boundary so a single strategy's panic cannot abort the tick (§4.5
// step 2).
func (m *Manager) runStrategy(s strategy.Strategy, mc *types.MarketContext) (signal types.TradeSignal) {
	signal = types.TradeSignal{Symbol: mc.Symbol, Direction: types.DirectionNeutral, StrategyName: s.Name()}

	defer func() {
		if r := recover(); r != nil {
			m.logStrategyError(s.Name(), fmt.Errorf("panic: %v", r))
			signal = types.TradeSignal{Symbol: mc.Symbol, Direction: types.DirectionNeutral, StrategyName: s.Name()}
			s.Reset()
		}
	}()

	portfolio := m.portfolioFor(s.Name())
	out, err := s.Execute(portfolio, mc)
	if err != nil {
		m.logStrategyError(s.Name(), err)
		return signal
	}
	out.StrategyName = s.Name()
	return out
}

func (m *Manager) logStrategyError(name string, err error) {
	m.logger.Error("strategy execution failed", zap.String("strategy", name), zap.Error(err))
	if m.events == nil {
		return
	}
	if _, cerr := m.events.Create(types.Event{
		Timestamp: time.Now(),
		Type:      types.EventError,
		Severity:  "ERROR",
		Category:  "strategy",
		Message:   fmt.Sprintf("strategy %s failed: %v", name, err),
		Component: "stratmanager",
	}); cerr != nil {
		m.logger.Error("failed to persist strategy error event", zap.Error(cerr))
	}
}

// recordShadowTrade opens or flips a position in the strategy's
// private shadow portfolio, realizing P&L on a direction flip.
func (m *Manager) recordShadowTrade(name string, signal types.TradeSignal, mc *types.MarketContext) {
	portfolio := m.portfolioFor(name)

	m.mu.Lock()
	defer m.mu.Unlock()

	pos, open := portfolio.Positions[signal.Symbol]
	wantLong := signal.Direction == types.DirectionLong

	if open {
		posLong := pos.Quantity.IsPositive()
		if posLong == wantLong {
			return
		}
		pnl := mc.CurrentPrice.Sub(pos.EntryPrice).Mul(pos.Quantity)
		portfolio.DailyRealizedPnL = portfolio.DailyRealizedPnL.Add(pnl)
		delete(portfolio.Positions, signal.Symbol)
	}

	qty := shadowQuantity(portfolio.BaseEquity, mc.CurrentPrice)
	if qty.IsZero() {
		return
	}
	if !wantLong {
		qty = qty.Neg()
	}

	portfolio.Positions[signal.Symbol] = &types.Position{
		Symbol:     signal.Symbol,
		Quantity:   qty,
		EntryPrice: mc.CurrentPrice,
		EntryTime:  mc.Timestamp,
	}
}

func shadowQuantity(baseEquity, price decimal.Decimal) decimal.Decimal {
	if price.IsZero() {
		return decimal.Zero
	}
	return baseEquity.Mul(shadowAllocationFrac).Div(price).Truncate(0)
}

// aggregate implements §4.5 step 4: sum confidence by direction, the
// stronger side wins if its score exceeds the threshold and strictly
// exceeds the other side.
func aggregate(symbol string, signals []types.TradeSignal) types.TradeSignal {
	neutral := types.TradeSignal{Symbol: symbol, Direction: types.DirectionNeutral, StrategyName: "aggregate"}
	if len(signals) == 0 {
		return neutral
	}

	longScore, shortScore := decimal.Zero, decimal.Zero
	for _, s := range signals {
		switch s.Direction {
		case types.DirectionLong:
			longScore = longScore.Add(s.Confidence)
		case types.DirectionShort:
			shortScore = shortScore.Add(s.Confidence)
		}
	}

	total := decimal.NewFromInt(int64(len(signals)))

	if longScore.GreaterThan(aggregationThreshold) && longScore.GreaterThan(shortScore) {
		return types.TradeSignal{
			Symbol: symbol, Direction: types.DirectionLong,
			Confidence:   decimal.Min(maxAggregateConf, longScore.Div(total)),
			Reason:       "aggregated long consensus",
			StrategyName: "aggregate",
		}
	}
	if shortScore.GreaterThan(aggregationThreshold) && shortScore.GreaterThan(longScore) {
		return types.TradeSignal{
			Symbol: symbol, Direction: types.DirectionShort,
			Confidence:   decimal.Min(maxAggregateConf, shortScore.Div(total)),
			Reason:       "aggregated short consensus",
			StrategyName: "aggregate",
		}
	}
	return neutral
}
