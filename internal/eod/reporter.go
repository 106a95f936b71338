// Package eod is the End-of-Day Reporter of §4.12: it computes and
// persists the daily DailyStatistics row for the Active Strategy's
// symbol at 13:05 Mon-Fri, and assembles the weekly execution-quality
// report every Monday at 08:00, using the same win-rate/profit-factor
// arithmetic a backtest metrics pass would, but computed over a live
// day's closed trades read back from persistence instead of a single
// backtest run's trade slice.
package eod

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/twtrader/orchestrator/internal/clients/llm"
	"github.com/twtrader/orchestrator/internal/clients/notify"
	"github.com/twtrader/orchestrator/internal/execution"
	"github.com/twtrader/orchestrator/internal/marketcontext"
	"github.com/twtrader/orchestrator/internal/persistence"
	"github.com/twtrader/orchestrator/pkg/types"
)

// rollingWindowDays bounds how far back a cumulative P&L/trades/streak
// seed is trusted; a gap wider than this resets the rolling window
// instead of carrying a stale number forward.
const rollingWindowDays = 365

// infiniteProfitFactor stands in for +∞ when grossLoss is zero and
// grossProfit is positive. decimal.Decimal has no infinity value, so a
// large finite sentinel is used instead; any report surface narrating
// this value should treat it as "no losing trades" rather than a real
// ratio.
var infiniteProfitFactor = decimal.NewFromInt(999999)

// Reporter computes and persists DailyStatistics and the weekly
// execution-quality report.
type Reporter struct {
	trades     *persistence.TradeRepository
	signals    *persistence.SignalRepository
	dailyStats *persistence.DailyStatisticsRepository
	settings   *persistence.BotSettingsRepository
	active     *persistence.ActiveStrategyConfigRepository
	marketCtx  *marketcontext.Provider
	executor   *execution.Executor
	llmClient  *llm.Client
	notifier   *notify.Client
	tradingMode types.TradingMode
	loc        *time.Location
	logger     *zap.Logger
}

// New constructs a Reporter.
func New(
	trades *persistence.TradeRepository,
	signals *persistence.SignalRepository,
	dailyStats *persistence.DailyStatisticsRepository,
	settings *persistence.BotSettingsRepository,
	active *persistence.ActiveStrategyConfigRepository,
	marketCtx *marketcontext.Provider,
	executor *execution.Executor,
	llmClient *llm.Client,
	notifier *notify.Client,
	tradingMode types.TradingMode,
	loc *time.Location,
	logger *zap.Logger,
) *Reporter {
	return &Reporter{
		trades:      trades,
		signals:     signals,
		dailyStats:  dailyStats,
		settings:    settings,
		active:      active,
		marketCtx:   marketCtx,
		executor:    executor,
		llmClient:   llmClient,
		notifier:    notifier,
		tradingMode: tradingMode,
		loc:         loc,
		logger:      logger.Named("eod"),
	}
}

// RunDailyStatistics is the 13:05 Mon-Fri hook: it rolls up the Active
// Strategy's closed trades for today into a DailyStatistics row (§4.12).
func (r *Reporter) RunDailyStatistics(ctx context.Context) error {
	symbol, err := r.settings.ActiveStock()
	if err != nil {
		return fmt.Errorf("reading active stock: %w", err)
	}
	if symbol == "" {
		return nil
	}

	cfg, err := r.active.Get()
	if err != nil {
		return fmt.Errorf("reading active strategy config: %w", err)
	}
	if cfg == nil {
		return nil
	}
	strategyName := cfg.StrategyName

	now := time.Now().In(r.loc)
	tradeDate := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, r.loc)

	closed, err := r.trades.ClosedTradesOnDate(symbol, tradeDate)
	if err != nil {
		return fmt.Errorf("reading closed trades for %s: %w", symbol, err)
	}
	strategyClosed := closed[:0]
	for _, t := range closed {
		if t.StrategyName == strategyName {
			strategyClosed = append(strategyClosed, t)
		}
	}
	closed = strategyClosed

	stats := types.DailyStatistics{
		TradeDate:    tradeDate,
		Symbol:       symbol,
		StrategyName: strategyName,
	}
	populateTradeStats(&stats, closed)

	generated, acted, vetoed, err := r.signals.CountsOnDate(symbol, strategyName, tradeDate)
	if err != nil {
		r.logger.Warn("failed to count signals for daily statistics", zap.Error(err))
	}
	stats.SignalsGenerated, stats.SignalsActed, stats.NewsVetos = generated, acted, vetoed

	if mc, mcErr := r.marketCtx.Build(ctx, symbol, r.tradingMode); mcErr == nil && mc != nil {
		stats.Open, stats.High, stats.Low, stats.Close = mc.Session.Open, mc.Session.High, mc.Session.Low, mc.Session.Close
		stats.RSI, stats.SMA, stats.VWAP = mc.Indicators.RSI, mc.Indicators.SMA20, mc.Indicators.VWAP
		// MACD and ATR are not produced by the indicator engine; the
		// columns stay zero until that's wired up.
	} else if mcErr != nil {
		r.logger.Warn("failed to build market context for daily statistics", zap.Error(mcErr))
	}

	prior, err := r.dailyStats.PriorDay(symbol, strategyName, tradeDate)
	if err != nil {
		return fmt.Errorf("reading prior daily statistics: %w", err)
	}
	seedCumulative(&stats, prior, tradeDate)
	applyStreaks(&stats, prior, closed)

	stats.LlamaInsight = r.narrate(ctx, stats)

	if err := r.dailyStats.Upsert(stats); err != nil {
		return fmt.Errorf("upserting daily statistics: %w", err)
	}
	return nil
}

// populateTradeStats fills in the per-trade rollup fields (win/loss
// counts, profit factor, average hold time) from today's closed trades.
// UnrealizedPnL is left at zero: the position is expected to be flat by
// the time this runs, after the window-close flatten (§4.8 step 4).
func populateTradeStats(stats *types.DailyStatistics, closed []types.Trade) {
	stats.TradeCount = len(closed)
	if len(closed) == 0 {
		stats.ProfitFactor = decimal.Zero
		return
	}

	var grossProfit, grossLoss, holdTotal decimal.Decimal
	for _, t := range closed {
		switch {
		case t.RealizedPnL.GreaterThan(decimal.Zero):
			stats.WinningTrades++
			grossProfit = grossProfit.Add(t.RealizedPnL)
		case t.RealizedPnL.LessThan(decimal.Zero):
			stats.LosingTrades++
			grossLoss = grossLoss.Add(t.RealizedPnL.Abs())
		}
		stats.RealizedPnL = stats.RealizedPnL.Add(t.RealizedPnL)
		holdTotal = holdTotal.Add(decimal.NewFromInt(int64(t.HoldDurationMinutes)))
	}

	stats.WinRate = decimal.NewFromInt(int64(stats.WinningTrades)).Div(decimal.NewFromInt(int64(stats.TradeCount)))
	stats.TotalPnL = stats.RealizedPnL.Add(stats.UnrealizedPnL)
	stats.AvgHoldMinutes = holdTotal.Div(decimal.NewFromInt(int64(stats.TradeCount)))

	switch {
	case !grossLoss.IsZero():
		stats.ProfitFactor = grossProfit.Div(grossLoss)
	case grossProfit.GreaterThan(decimal.Zero):
		stats.ProfitFactor = infiniteProfitFactor
	default:
		stats.ProfitFactor = decimal.Zero
	}
}

// seedCumulative carries yesterday's rolling cumulative P&L/trades
// forward, resetting the window if the prior row is stale or missing.
func seedCumulative(stats *types.DailyStatistics, prior *types.DailyStatistics, tradeDate time.Time) {
	if prior == nil || tradeDate.Sub(prior.TradeDate) > rollingWindowDays*24*time.Hour {
		stats.CumulativePnL = stats.TotalPnL
		stats.CumulativeTrades = stats.TradeCount
		stats.EquityHighWatermark = stats.TotalPnL
		if stats.EquityHighWatermark.LessThan(decimal.Zero) {
			stats.EquityHighWatermark = decimal.Zero
		}
		return
	}

	stats.CumulativePnL = prior.CumulativePnL.Add(stats.TotalPnL)
	stats.CumulativeTrades = prior.CumulativeTrades + stats.TradeCount
	stats.EquityHighWatermark = prior.EquityHighWatermark
	if stats.CumulativePnL.GreaterThan(stats.EquityHighWatermark) {
		stats.EquityHighWatermark = stats.CumulativePnL
	}
	stats.MaxDrawdown = stats.EquityHighWatermark.Sub(stats.CumulativePnL)
}

// applyStreaks walks today's closed trades in order, continuing
// yesterday's win/loss streak into today rather than resetting it at
// midnight.
func applyStreaks(stats *types.DailyStatistics, prior *types.DailyStatistics, closed []types.Trade) {
	wins, losses := 0, 0
	if prior != nil {
		wins, losses = prior.ConsecutiveWins, prior.ConsecutiveLosses
	}

	for _, t := range closed {
		switch {
		case t.RealizedPnL.GreaterThan(decimal.Zero):
			wins++
			losses = 0
		case t.RealizedPnL.LessThan(decimal.Zero):
			losses++
			wins = 0
		}
	}
	stats.ConsecutiveWins, stats.ConsecutiveLosses = wins, losses
}

// narrate asks the assistant for a one-paragraph summary of today's
// DailyStatistics row. A failure here must never block the Upsert, so
// errors are logged and the insight is left blank.
func (r *Reporter) narrate(ctx context.Context, stats types.DailyStatistics) string {
	if r.llmClient == nil {
		return ""
	}
	prompt := fmt.Sprintf(
		"Summarize today's trading performance for %s under strategy %q: %d trades, win rate %s, realized P&L %s, profit factor %s. One short paragraph.",
		stats.Symbol, stats.StrategyName, stats.TradeCount, stats.WinRate.String(), stats.RealizedPnL.String(), stats.ProfitFactor.String(),
	)
	insight, err := r.llmClient.GenerateText(ctx, llm.PurposeStatsNarration, prompt, "daily_statistics", "eod", stats.Symbol)
	if err != nil {
		r.logger.Warn("failed to narrate daily statistics", zap.Error(err))
		return ""
	}
	return insight
}

// ExecutionReport is the Monday 08:00 weekly execution-quality
// assessment of §4.12.
type ExecutionReport struct {
	TradeCount        int
	MeanSlippageBps   decimal.Decimal
	MaxSlippageBps    decimal.Decimal
	FillRate          decimal.Decimal
	HighSlippageSymbols []string
	BestHourUTC       int
	WorstHourUTC      int
	Grade             string
	Narration         string
}

// acceptableSlippageBps and minAcceptableFillRate are the thresholds
// §4.12 grades execution quality against.
var (
	acceptableSlippageBps = decimal.NewFromInt(15)
	minAcceptableFillRate = decimal.NewFromFloat(0.95)
)

// RunWeeklyExecutionReport is the Monday 08:00 hook: it assesses the
// trailing week's fill quality and sends the result over the
// notification transport.
func (r *Reporter) RunWeeklyExecutionReport(ctx context.Context) error {
	since := time.Now().In(r.loc).AddDate(0, 0, -7)
	closed, err := r.trades.ClosedTradesSince(since)
	if err != nil {
		return fmt.Errorf("reading closed trades for execution report: %w", err)
	}

	report := buildExecutionReport(closed, r.executor)
	report.Narration = r.narrateExecutionReport(ctx, report)

	if r.notifier != nil {
		r.notifier.Send(ctx, formatExecutionReport(report))
	}
	return nil
}

// buildExecutionReport computes slippage, fill-rate, and time-of-day
// rollups. Fill rate is read from the in-process execution.Metrics
// snapshot rather than the week's trade rows: it is the only place
// aborted/dry-run-rejected orders are counted, at the cost of not being
// strictly scoped to the trailing 7 days (it resets only on restart).
func buildExecutionReport(closed []types.Trade, executor *execution.Executor) ExecutionReport {
	report := ExecutionReport{TradeCount: len(closed)}
	if len(closed) == 0 {
		report.Grade = "N/A"
		return report
	}

	bySymbol := make(map[string]decimal.Decimal)
	byHour := make(map[int]decimal.Decimal)
	var total, max decimal.Decimal
	for _, t := range closed {
		total = total.Add(t.SlippageBps)
		bySymbol[t.Symbol] = bySymbol[t.Symbol].Add(t.SlippageBps)
		hour := t.Timestamp.UTC().Hour()
		byHour[hour] = byHour[hour].Add(t.RealizedPnL)
		if t.SlippageBps.GreaterThan(max) {
			max = t.SlippageBps
		}
	}

	report.MeanSlippageBps = total.Div(decimal.NewFromInt(int64(len(closed))))
	report.MaxSlippageBps = max

	for symbol, sum := range bySymbol {
		count := 0
		for _, t := range closed {
			if t.Symbol == symbol {
				count++
			}
		}
		mean := sum.Div(decimal.NewFromInt(int64(count)))
		if mean.GreaterThan(acceptableSlippageBps) {
			report.HighSlippageSymbols = append(report.HighSlippageSymbols, symbol)
		}
	}
	sort.Strings(report.HighSlippageSymbols)

	report.BestHourUTC, report.WorstHourUTC = rankHours(byHour)

	if executor != nil {
		snap := executor.Snapshot()
		attempted := snap.OrdersSubmitted + snap.OrdersAborted
		if attempted > 0 {
			report.FillRate = decimal.NewFromInt(int64(snap.OrdersFilled)).Div(decimal.NewFromInt(int64(attempted)))
		}
	}

	report.Grade = gradeReport(report)
	return report
}

// rankHours returns the UTC hour with the highest and lowest cumulative
// realized P&L.
func rankHours(byHour map[int]decimal.Decimal) (best, worst int) {
	first := true
	var bestPnL, worstPnL decimal.Decimal
	for hour, pnl := range byHour {
		if first || pnl.GreaterThan(bestPnL) {
			best, bestPnL = hour, pnl
		}
		if first || pnl.LessThan(worstPnL) {
			worst, worstPnL = hour, pnl
		}
		first = false
	}
	return best, worst
}

// gradeReport assigns an A+ through D letter grade from slippage and
// fill-rate against the §4.12 thresholds.
func gradeReport(report ExecutionReport) string {
	slippageOK := report.MeanSlippageBps.LessThanOrEqual(acceptableSlippageBps)
	fillOK := report.FillRate.GreaterThanOrEqual(minAcceptableFillRate)

	switch {
	case slippageOK && fillOK && report.MeanSlippageBps.LessThan(acceptableSlippageBps.Div(decimal.NewFromInt(2))):
		return "A+"
	case slippageOK && fillOK:
		return "A"
	case slippageOK || fillOK:
		return "B"
	case report.MeanSlippageBps.LessThan(acceptableSlippageBps.Mul(decimal.NewFromInt(2))):
		return "C"
	default:
		return "D"
	}
}

func (r *Reporter) narrateExecutionReport(ctx context.Context, report ExecutionReport) string {
	if r.llmClient == nil {
		return ""
	}
	prompt := fmt.Sprintf(
		"Summarize this week's execution quality: grade %s, %d trades, mean slippage %s bps, fill rate %s, high-slippage symbols %v. Give one avoidance recommendation.",
		report.Grade, report.TradeCount, report.MeanSlippageBps.String(), report.FillRate.String(), report.HighSlippageSymbols,
	)
	insight, err := r.llmClient.GenerateText(ctx, llm.PurposeStatsNarration, prompt, "execution_report", "eod", "")
	if err != nil {
		r.logger.Warn("failed to narrate execution report", zap.Error(err))
		return ""
	}
	return insight
}

func formatExecutionReport(report ExecutionReport) string {
	msg := fmt.Sprintf(
		"weekly execution quality: %s\ntrades: %d\nmean slippage: %s bps\nmax slippage: %s bps\nfill rate: %s",
		report.Grade, report.TradeCount, report.MeanSlippageBps.String(), report.MaxSlippageBps.String(), report.FillRate.String(),
	)
	if len(report.HighSlippageSymbols) > 0 {
		msg += fmt.Sprintf("\nhigh-slippage symbols: %v", report.HighSlippageSymbols)
	}
	if report.Narration != "" {
		msg += "\n\n" + report.Narration
	}
	return msg
}
