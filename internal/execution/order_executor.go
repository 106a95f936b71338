// Package execution is the Order Executor of §4.8: it turns an
// approved candidate signal into a live order against the broker
// bridge, or a synthesized shadow fill, and records the resulting
// Trade row either way (state under a mutex, a metrics struct, retry
// deference to the transport layer).
package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/twtrader/orchestrator/internal/clients/broker"
	"github.com/twtrader/orchestrator/internal/clients/notify"
	"github.com/twtrader/orchestrator/internal/metrics"
	"github.com/twtrader/orchestrator/internal/persistence"
	"github.com/twtrader/orchestrator/internal/risk"
	"github.com/twtrader/orchestrator/internal/sizing"
	"github.com/twtrader/orchestrator/pkg/types"
)

// Metrics tracks execution outcomes for the admin surface and the
// weekly execution-quality report (§4.12).
type Metrics struct {
	OrdersSubmitted int
	OrdersFilled    int
	OrdersAborted   int
	ShadowFills     int
	TotalSlippageBps decimal.Decimal
}

// Executor owns live order submission and shadow fill synthesis.
type Executor struct {
	broker   *broker.Client
	trades   *persistence.TradeRepository
	settings *persistence.BotSettingsRepository
	events   *persistence.EventRepository
	risk     *risk.Manager
	sizer    *sizing.PositionSizer
	notifier *notify.Client
	logger   *zap.Logger

	mu      sync.Mutex
	metrics Metrics
}

// New constructs an Executor.
func New(
	brokerClient *broker.Client,
	trades *persistence.TradeRepository,
	settings *persistence.BotSettingsRepository,
	events *persistence.EventRepository,
	riskMgr *risk.Manager,
	sizer *sizing.PositionSizer,
	notifier *notify.Client,
	logger *zap.Logger,
) *Executor {
	return &Executor{
		broker:   brokerClient,
		trades:   trades,
		settings: settings,
		events:   events,
		risk:     riskMgr,
		sizer:    sizer,
		notifier: notifier,
		logger:   logger.Named("executor"),
	}
}

// currentTradeMode reads the SIMULATION/LIVE toggle the command handler
// flips via golive/confirmlive/backtosim; absent or malformed defaults
// to SIMULATION, the safe default.
func (e *Executor) currentTradeMode() types.TradeMode {
	v, ok, err := e.settings.Get(types.SettingTradeMode)
	if err != nil || !ok || types.TradeMode(v) != types.TradeMode(types.ModeLive) {
		return types.ModeSimulation
	}
	return types.ModeLive
}

// CurrentMode exposes the SIMULATION/LIVE toggle for reporting
// surfaces (the `status` command, §4.11; the admin API, §4.13).
func (e *Executor) CurrentMode() types.TradeMode {
	return e.currentTradeMode()
}

// quantityFor sizes a candidate order against the sizer using the
// strategy's private portfolio as the base equity, a symmetric stop
// distance as a placeholder risk band, and the signal's own confidence.
func quantityFor(sizer *sizing.PositionSizer, portfolio *types.Portfolio, price decimal.Decimal, confidence decimal.Decimal) int64 {
	if sizer == nil || price.IsZero() {
		return 0
	}
	priceFloat, _ := price.Float64()
	stopDistance := priceFloat * 0.02
	confFloat, _ := confidence.Float64()

	result := sizer.CalculateSize(&sizing.SizingRequest{
		Symbol:         portfolio.StrategyName,
		PortfolioValue: portfolio.BaseEquity,
		CurrentPrice:   price,
		StopLoss:       decimal.NewFromFloat(priceFloat - stopDistance),
		TakeProfit:     decimal.NewFromFloat(priceFloat + 2*stopDistance),
		Confidence:     confFloat,
	})
	units, _ := result.PositionUnits.Truncate(0).Float64()
	if units < 1 {
		return 1
	}
	return int64(units)
}

// ExecuteCandidate runs §4.8's steps for the Active Strategy's live
// candidate: a pre-flight dry-run, the live submit, and the resulting
// Trade row. The scheduler persists a mode=SIMULATION shadow Trade for
// every actionable signal of the tick, including this one, via
// RecordShadowFill before ExecuteCandidate is ever called — so in
// bot-wide SIMULATION mode there is nothing left for this call to do.
func (e *Executor) ExecuteCandidate(ctx context.Context, signal types.TradeSignal, priceHint decimal.Decimal, portfolio *types.Portfolio) {
	mode := e.currentTradeMode()
	if mode == types.ModeSimulation {
		return
	}

	action := types.TradeActionBuy
	if signal.Direction == types.DirectionShort {
		action = types.TradeActionSell
	}

	shares := quantityFor(e.sizer, portfolio, priceHint, signal.Confidence)

	qty, _, _ := e.trades.CurrentPosition(signal.Symbol)
	proposal := risk.OrderProposal{
		Symbol:        signal.Symbol,
		Direction:     signal.Direction,
		ShareSize:     shares,
		PositionAfter: qty.Add(decimal.NewFromInt(shares)),
		StrategyName:  signal.StrategyName,
	}
	gate := e.risk.CheckOrder(ctx, proposal)
	if !gate.Approved {
		e.logEvent(types.EventVeto, "NEWS", fmt.Sprintf("candidate refused at gate %s: %s", gate.Gate, gate.Reason))
		return
	}

	payload := map[string]any{
		"symbol":          signal.Symbol,
		"side":            string(action),
		"quantity":        shares,
		"price":           priceHint.String(),
		"order_type":      "market",
		"client_order_id": uuid.New().String(),
	}

	echo, err := e.broker.DryRunOrder(ctx, payload)
	if err != nil || echo == nil || !echo.Valid {
		reason := "dry-run rejected"
		if echo != nil {
			reason = echo.Reason
		}
		metrics.RecordOrderOutcome("dry_run_rejected")
		e.logEvent(types.EventWarning, "EXECUTION", fmt.Sprintf("dry-run abort for %s: %v %s", signal.Symbol, err, reason))
		return
	}

	live, err := e.broker.PlaceOrder(ctx, payload)
	if err != nil {
		metrics.RecordOrderOutcome("aborted")
		e.logEvent(types.EventError, "EXECUTION", fmt.Sprintf("live submit failed for %s: %v", signal.Symbol, err))
		if e.notifier != nil {
			e.notifier.Send(ctx, fmt.Sprintf("order submit failed for %s: %v", signal.Symbol, err))
		}
		e.recordAborted()
		return
	}

	e.recordSubmitted()
	entryPrice := priceHint
	if live != nil && live.Order != nil {
		if p, ok := live.Order["price"]; ok {
			if ps, ok := p.(string); ok {
				if d, derr := decimal.NewFromString(ps); derr == nil {
					entryPrice = d
				}
			}
		}
	}

	bps := SlippageBps(priceHint, entryPrice)
	trade := types.Trade{
		Timestamp:    time.Now(),
		Symbol:       signal.Symbol,
		Action:       action,
		Quantity:     decimal.NewFromInt(shares),
		EntryPrice:   entryPrice,
		StrategyName: signal.StrategyName,
		EntryReason:  signal.Reason,
		Mode:         types.ModeLive,
		Status:       types.TradeStatusOpen,
		SlippageBps:  bps,
	}
	if _, err := e.trades.Create(trade); err != nil {
		e.logger.Error("failed to persist live trade", zap.Error(err))
		return
	}

	e.recordFilled(bps)
	metrics.RecordOrderOutcome("filled")
	e.logEvent(types.EventSuccess, "EXECUTION", fmt.Sprintf("order filled for %s at %s", signal.Symbol, entryPrice.String()))
}

// RecordShadowFill is the shadow path of §4.8 step 5: no broker
// contact, an immediate fill at currentPrice, and a Trade row with
// mode=SIMULATION. The scheduler calls this once per actionable signal
// of a tick (§4.5), whether or not that strategy is the Active Strategy
// and whether or not a live trade was also submitted for it (§8).
func (e *Executor) RecordShadowFill(signal types.TradeSignal, price decimal.Decimal) {
	action := types.TradeActionBuy
	if signal.Direction == types.DirectionShort {
		action = types.TradeActionSell
	}

	trade := types.Trade{
		Timestamp:    time.Now(),
		Symbol:       signal.Symbol,
		Action:       action,
		Quantity:     decimal.NewFromInt(1),
		EntryPrice:   price,
		StrategyName: signal.StrategyName,
		EntryReason:  signal.Reason,
		Mode:         types.ModeSimulation,
		Status:       types.TradeStatusOpen,
	}
	if _, err := e.trades.Create(trade); err != nil {
		e.logger.Error("failed to persist simulated trade", zap.Error(err))
		return
	}

	e.mu.Lock()
	e.metrics.ShadowFills++
	e.mu.Unlock()
	metrics.RecordShadowFill()
}

// FlattenOpenPositions enumerates open live positions and submits
// closing orders; a failed close retries once, then notifies and
// leaves the trade OPEN with a prominent alert (§4.8 step 4 — window-
// end flatten; also reused by the Drawdown Monitor's "flatten all
// positions" step, §4.9). Shadow positions are never flattened here —
// §9 Open Question 4 resolves the ambiguity in the sources as "shadow
// positions carry over".
func (e *Executor) FlattenOpenPositions(ctx context.Context) {
	open, err := e.trades.OpenLiveTrades()
	if err != nil {
		e.logger.Error("failed to list open live trades for flatten", zap.Error(err))
		return
	}

	for _, t := range open {
		if err := e.closeOnce(ctx, t); err != nil {
			if err2 := e.closeOnce(ctx, t); err2 != nil {
				e.logEvent(types.EventError, "EXECUTION", fmt.Sprintf("flatten-at-close failed twice for %s: %v", t.Symbol, err2))
				if e.notifier != nil {
					e.notifier.Send(ctx, fmt.Sprintf("ALERT: could not flatten %s at close, trade %d remains OPEN", t.Symbol, t.ID))
				}
			}
		}
	}
}

func (e *Executor) closeOnce(ctx context.Context, t types.Trade) error {
	side := "sell"
	if t.Action == types.TradeActionSell {
		side = "buy"
	}
	_, err := e.broker.PlaceOrder(ctx, map[string]any{
		"symbol":    t.Symbol,
		"side":      side,
		"quantity":  t.Quantity.String(),
		"order_type": "market",
	})
	return err
}

func (e *Executor) recordSubmitted() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metrics.OrdersSubmitted++
}

func (e *Executor) recordAborted() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metrics.OrdersAborted++
}

// recordFilled updates fill metrics with a fill's realized slippage in
// basis points (§4.8).
func (e *Executor) recordFilled(bps decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metrics.OrdersFilled++
	e.metrics.TotalSlippageBps = e.metrics.TotalSlippageBps.Add(bps)
}

// Snapshot returns a copy of the current metrics.
func (e *Executor) Snapshot() Metrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.metrics
}

func (e *Executor) logEvent(typ types.EventType, category, message string) {
	e.logger.Info(message, zap.String("category", category))
	if e.events == nil {
		return
	}
	if _, err := e.events.Create(types.Event{
		Timestamp: time.Now(),
		Type:      typ,
		Category:  category,
		Message:   message,
		Component: "executor",
	}); err != nil {
		e.logger.Error("failed to persist executor event", zap.Error(err))
	}
}
