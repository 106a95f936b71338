package eod

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	brokerclient "github.com/twtrader/orchestrator/internal/clients/broker"
	"github.com/twtrader/orchestrator/internal/clients/llm"
	"github.com/twtrader/orchestrator/internal/marketcontext"
	"github.com/twtrader/orchestrator/internal/persistence"
	"github.com/twtrader/orchestrator/pkg/types"
)

func testReporter(t *testing.T, llmResponse string) (*Reporter, *persistence.TradeRepository, *persistence.BotSettingsRepository, *persistence.ActiveStrategyConfigRepository, *time.Location) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "eod.db")
	db, err := persistence.Open(dbPath, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })

	logger := zap.NewNop()
	trades := persistence.NewTradeRepository(db, logger)
	signals := persistence.NewSignalRepository(db, logger)
	dailyStats := persistence.NewDailyStatisticsRepository(db, logger)
	settings := persistence.NewBotSettingsRepository(db, logger)
	active := persistence.NewActiveStrategyConfigRepository(db, logger)
	insights := persistence.NewLlmInsightRepository(db, logger)

	brokerServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(brokerclient.Signal{CurrentPrice: decimal.NewFromInt(100)})
	}))
	t.Cleanup(brokerServer.Close)
	bc := brokerclient.New(brokerServer.URL, 3*time.Second, 1, logger)
	bars := persistence.NewBarRepository(db, logger, nil)
	mc := marketcontext.New(bc, trades, nil, bars, logger)

	llmServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"response": llmResponse})
	}))
	t.Cleanup(llmServer.Close)
	llmClient := llm.New(llmServer.URL, "test-model", insights, logger)

	loc, err := time.LoadLocation("Asia/Taipei")
	require.NoError(t, err)

	r := New(trades, signals, dailyStats, settings, active, mc, nil, llmClient, nil, types.TradingModeStock, loc, logger)
	return r, trades, settings, active, loc
}

func TestReporter_RunDailyStatistics_RollsUpTodaysClosedTrades(t *testing.T) {
	r, trades, settings, active, loc := testReporter(t, "solid day")
	require.NoError(t, settings.Set(types.SettingCurrentActiveStock, "2330.TW"))
	require.NoError(t, active.Upsert(types.ActiveStrategyConfig{StrategyName: "MA Crossover", UpdatedAt: time.Now()}))

	now := time.Now().In(loc)
	closedAt := now.Add(-time.Hour)
	_, err := trades.Create(types.Trade{
		Timestamp: now.Add(-2 * time.Hour), Symbol: "2330.TW", Action: types.TradeActionBuy,
		Quantity: decimal.NewFromInt(1000), EntryPrice: decimal.NewFromInt(100), ExitPrice: decimal.NewFromInt(105),
		RealizedPnL: decimal.NewFromInt(5000), StrategyName: "MA Crossover", Mode: types.ModeLive,
		Status: types.TradeStatusClosed, HoldDurationMinutes: 60, ClosedAt: &closedAt,
	})
	require.NoError(t, err)
	_, err = trades.Create(types.Trade{
		Timestamp: now.Add(-90 * time.Minute), Symbol: "2330.TW", Action: types.TradeActionBuy,
		Quantity: decimal.NewFromInt(1000), EntryPrice: decimal.NewFromInt(100), ExitPrice: decimal.NewFromInt(98),
		RealizedPnL: decimal.NewFromInt(-2000), StrategyName: "MA Crossover", Mode: types.ModeLive,
		Status: types.TradeStatusClosed, HoldDurationMinutes: 30, ClosedAt: &closedAt,
	})
	require.NoError(t, err)

	require.NoError(t, r.RunDailyStatistics(context.Background()))

	tradeDate := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	row, err := r.dailyStats.PriorDay("2330.TW", "MA Crossover", tradeDate.Add(24*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, row)
	require.Equal(t, 2, row.CumulativeTrades)
}

func TestReporter_RunDailyStatistics_NoActiveSymbolIsNoop(t *testing.T) {
	r, _, _, _, _ := testReporter(t, "")
	require.NoError(t, r.RunDailyStatistics(context.Background()))
}

func TestPopulateTradeStats_ProfitFactorIsInfiniteSentinelWhenNoLosses(t *testing.T) {
	stats := types.DailyStatistics{}
	populateTradeStats(&stats, []types.Trade{
		{RealizedPnL: decimal.NewFromInt(100)},
		{RealizedPnL: decimal.NewFromInt(200)},
	})
	require.True(t, stats.ProfitFactor.Equal(infiniteProfitFactor))
	require.Equal(t, 2, stats.WinningTrades)
	require.Equal(t, 0, stats.LosingTrades)
}

func TestPopulateTradeStats_ProfitFactorIsZeroWithNoTrades(t *testing.T) {
	stats := types.DailyStatistics{}
	populateTradeStats(&stats, nil)
	require.True(t, stats.ProfitFactor.IsZero())
	require.Equal(t, 0, stats.TradeCount)
}

func TestSeedCumulative_ResetsAfterStaleGap(t *testing.T) {
	stats := types.DailyStatistics{TotalPnL: decimal.NewFromInt(500)}
	prior := &types.DailyStatistics{
		TradeDate: time.Now().AddDate(-2, 0, 0), CumulativePnL: decimal.NewFromInt(10000), CumulativeTrades: 400,
	}
	seedCumulative(&stats, prior, time.Now())
	require.True(t, stats.CumulativePnL.Equal(decimal.NewFromInt(500)))
	require.Equal(t, 0, stats.CumulativeTrades)
}

func TestSeedCumulative_CarriesForwardRecentPrior(t *testing.T) {
	stats := types.DailyStatistics{TotalPnL: decimal.NewFromInt(500)}
	prior := &types.DailyStatistics{
		TradeDate: time.Now().AddDate(0, 0, -1), CumulativePnL: decimal.NewFromInt(1000), CumulativeTrades: 10,
		EquityHighWatermark: decimal.NewFromInt(1000),
	}
	seedCumulative(&stats, prior, time.Now())
	require.True(t, stats.CumulativePnL.Equal(decimal.NewFromInt(1500)))
	require.Equal(t, 10, stats.CumulativeTrades)
}

func TestApplyStreaks_ContinuesFromPriorDay(t *testing.T) {
	stats := types.DailyStatistics{}
	prior := &types.DailyStatistics{ConsecutiveWins: 3, ConsecutiveLosses: 0}
	applyStreaks(&stats, prior, []types.Trade{
		{RealizedPnL: decimal.NewFromInt(10)},
		{RealizedPnL: decimal.NewFromInt(-5)},
	})
	require.Equal(t, 0, stats.ConsecutiveWins)
	require.Equal(t, 1, stats.ConsecutiveLosses)
}

func TestBuildExecutionReport_GradesOnSlippageAndFillRate(t *testing.T) {
	closed := []types.Trade{
		{Symbol: "2330.TW", SlippageBps: decimal.NewFromInt(5), Timestamp: time.Date(2026, 1, 5, 1, 0, 0, 0, time.UTC), RealizedPnL: decimal.NewFromInt(100)},
		{Symbol: "2330.TW", SlippageBps: decimal.NewFromInt(7), Timestamp: time.Date(2026, 1, 5, 2, 0, 0, 0, time.UTC), RealizedPnL: decimal.NewFromInt(-20)},
	}
	report := buildExecutionReport(closed, nil)
	require.Equal(t, 2, report.TradeCount)
	require.True(t, report.MeanSlippageBps.Equal(decimal.NewFromInt(6)))
	require.Empty(t, report.HighSlippageSymbols)
}

func TestBuildExecutionReport_FlagsHighSlippageSymbols(t *testing.T) {
	closed := []types.Trade{
		{Symbol: "2330.TW", SlippageBps: decimal.NewFromInt(40), Timestamp: time.Date(2026, 1, 5, 1, 0, 0, 0, time.UTC), RealizedPnL: decimal.NewFromInt(10)},
	}
	report := buildExecutionReport(closed, nil)
	require.Contains(t, report.HighSlippageSymbols, "2330.TW")
	require.Equal(t, "D", report.Grade)
}

func TestBuildExecutionReport_EmptyTradesGradeIsNA(t *testing.T) {
	report := buildExecutionReport(nil, nil)
	require.Equal(t, "N/A", report.Grade)
}
