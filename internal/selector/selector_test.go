package selector

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/twtrader/orchestrator/internal/config"
	"github.com/twtrader/orchestrator/internal/persistence"
	"github.com/twtrader/orchestrator/pkg/types"
)

func testSelectorConfig() config.SelectorConfig {
	return config.SelectorConfig{
		LookbackDays:         30,
		MinExpectedReturnPct: decimal.NewFromInt(5),
		MinSharpe:            decimal.NewFromFloat(1.0),
		MinWinRatePct:        decimal.NewFromInt(50),
		MaxDrawdownPct:       decimal.NewFromInt(20),
		ShadowStockCount:     10,
		DrawdownBreachPct:    decimal.NewFromInt(15),
	}
}

type testRepos struct {
	perf   *persistence.StrategyPerformanceRepository
	active *persistence.ActiveStrategyConfigRepository
	shadow *persistence.ShadowModeStockRepository
	trades *persistence.TradeRepository
	events *persistence.EventRepository
}

func newTestRepos(t *testing.T) *testRepos {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "selector.db")
	db, err := persistence.Open(dbPath, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })

	logger := zap.NewNop()
	return &testRepos{
		perf:   persistence.NewStrategyPerformanceRepository(db, logger),
		active: persistence.NewActiveStrategyConfigRepository(db, logger),
		shadow: persistence.NewShadowModeStockRepository(db, logger),
		trades: persistence.NewTradeRepository(db, logger),
		events: persistence.NewEventRepository(db, logger),
	}
}

func perfRow(name, symbol string, sharpe, ret, winRate, maxDD int64) types.StrategyPerformance {
	now := time.Now()
	return types.StrategyPerformance{
		StrategyName:   name,
		Symbol:         symbol,
		Mode:           types.PerfModeMain,
		TotalReturnPct: decimal.NewFromInt(ret),
		Sharpe:         decimal.NewFromInt(sharpe),
		MaxDrawdownPct: decimal.NewFromInt(maxDD),
		WinRatePct:     decimal.NewFromInt(winRate),
		TotalTrades:    20,
		PeriodStart:    now.Add(-24 * time.Hour),
		PeriodEnd:      now,
		CalculatedAt:   now,
	}
}

func TestSelector_Run_PicksHighestSharpeAboveThresholds(t *testing.T) {
	repos := newTestRepos(t)
	_, err := repos.perf.Create(perfRow("MA Crossover", "2330", 2, 10, 60, 5))
	require.NoError(t, err)
	_, err = repos.perf.Create(perfRow("RSI", "2317", 3, 8, 55, 10))
	require.NoError(t, err)

	sel := New(repos.perf, repos.active, repos.shadow, repos.trades, repos.events, nil, nil, testSelectorConfig(), decimal.NewFromInt(100000), zap.NewNop())
	require.NoError(t, sel.Run("", false, "scheduled selection"))

	active, err := repos.active.Get()
	require.NoError(t, err)
	require.Equal(t, "RSI", active.StrategyName)
	require.True(t, active.AutoSwitched)

	shadow, err := repos.shadow.All()
	require.NoError(t, err)
	require.Len(t, shadow, 1)
	require.Equal(t, "MA Crossover", shadow[0].StrategyName)
	require.Equal(t, 1, shadow[0].RankPosition)
}

func TestSelector_Run_NoneMeetsThresholdsIsAnError(t *testing.T) {
	repos := newTestRepos(t)
	_, err := repos.perf.Create(perfRow("MA Crossover", "2330", 0, 1, 40, 25))
	require.NoError(t, err)

	sel := New(repos.perf, repos.active, repos.shadow, repos.trades, repos.events, nil, nil, testSelectorConfig(), decimal.NewFromInt(100000), zap.NewNop())
	err = sel.Run("", false, "scheduled selection")
	require.Error(t, err)
}

func TestSelector_CheckDrawdown_NoBreachWhenBelowThreshold(t *testing.T) {
	repos := newTestRepos(t)
	require.NoError(t, repos.active.Upsert(types.ActiveStrategyConfig{StrategyName: "MA Crossover", UpdatedAt: time.Now()}))

	sel := New(repos.perf, repos.active, repos.shadow, repos.trades, repos.events, nil, nil, testSelectorConfig(), decimal.NewFromInt(100000), zap.NewNop())
	require.NoError(t, sel.CheckDrawdown(context.Background()))

	active, err := repos.active.Get()
	require.NoError(t, err)
	require.Equal(t, "MA Crossover", active.StrategyName, "no breach must leave the active strategy untouched")
}

func TestSelector_CheckDrawdown_BreachTriggersReselection(t *testing.T) {
	repos := newTestRepos(t)
	require.NoError(t, repos.active.Upsert(types.ActiveStrategyConfig{StrategyName: "MA Crossover", UpdatedAt: time.Now()}))
	_, err := repos.perf.Create(perfRow("RSI", "2317", 2, 8, 55, 5))
	require.NoError(t, err)

	_, err = repos.trades.Create(types.Trade{
		Timestamp: time.Now(), Symbol: "2330", Action: types.TradeActionBuy,
		Quantity: decimal.NewFromInt(10), EntryPrice: decimal.NewFromInt(500),
		StrategyName: "MA Crossover", Mode: types.ModeLive, Status: types.TradeStatusOpen,
	})
	require.NoError(t, err)
	require.NoError(t, repos.trades.CloseTrade(1, decimal.NewFromInt(400), decimal.NewFromInt(-20000), "stop loss", time.Now(), 60))

	sel := New(repos.perf, repos.active, repos.shadow, repos.trades, repos.events, nil, nil, testSelectorConfig(), decimal.NewFromInt(100000), zap.NewNop())
	require.NoError(t, sel.CheckDrawdown(context.Background()))

	active, err := repos.active.Get()
	require.NoError(t, err)
	require.Equal(t, "RSI", active.StrategyName)
	require.False(t, active.AutoSwitched == false && active.SwitchReason == "", "switch reason must be recorded")
	require.Contains(t, active.SwitchReason, "drawdown")
}
