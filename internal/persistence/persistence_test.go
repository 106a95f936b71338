package persistence

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/twtrader/orchestrator/pkg/types"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestTradeRepository_CreateAndClose(t *testing.T) {
	db := newTestDB(t)
	repo := NewTradeRepository(db, zap.NewNop())

	id, err := repo.Create(types.Trade{
		Timestamp:    time.Now(),
		Symbol:       "2330.TW",
		Action:       types.TradeActionBuy,
		Quantity:     decimal.NewFromInt(1),
		EntryPrice:   decimal.NewFromInt(1430),
		StrategyName: "MA Crossover",
		Mode:         types.ModeLive,
		Status:       types.TradeStatusOpen,
	})
	require.NoError(t, err)
	require.NotZero(t, id)

	err = repo.CloseTrade(id, decimal.NewFromInt(1450), decimal.NewFromInt(20), "take profit", time.Now(), 15)
	require.NoError(t, err)

	open, err := repo.OpenLiveTrades()
	require.NoError(t, err)
	require.Empty(t, open)
}

func TestBotSettingsRepository_ActiveStockRoundTrip(t *testing.T) {
	db := newTestDB(t)
	repo := NewBotSettingsRepository(db, zap.NewNop())

	_, ok, err := repo.Get(types.SettingCurrentActiveStock)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, repo.Set(types.SettingCurrentActiveStock, "2330.TW"))
	v, err := repo.ActiveStock()
	require.NoError(t, err)
	require.Equal(t, "2330.TW", v)
}

func TestShadowModeStockRepository_ReplaceAllIsAtomic(t *testing.T) {
	db := newTestDB(t)
	repo := NewShadowModeStockRepository(db, zap.NewNop())

	require.NoError(t, repo.ReplaceAll([]types.ShadowModeStock{
		{Symbol: "2330.TW", StrategyName: "RSI", RankPosition: 1, Enabled: true, ExpectedReturnPct: decimal.NewFromInt(8)},
		{Symbol: "2454.TW", StrategyName: "VWAP", RankPosition: 2, Enabled: true, ExpectedReturnPct: decimal.NewFromInt(6)},
	}))
	all, err := repo.All()
	require.NoError(t, err)
	require.Len(t, all, 2)

	require.NoError(t, repo.ReplaceAll([]types.ShadowModeStock{
		{Symbol: "2317.TW", StrategyName: "Momentum", RankPosition: 1, Enabled: true, ExpectedReturnPct: decimal.NewFromInt(9)},
	}))
	all, err = repo.All()
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, "2317.TW", all[0].Symbol)
}

func TestEarningsBlackoutMeta_Staleness(t *testing.T) {
	db := newTestDB(t)
	repo := NewEarningsBlackoutRepository(db, zap.NewNop())

	future := time.Now().AddDate(0, 0, 3)
	require.NoError(t, repo.Replace(types.EarningsBlackoutMeta{
		LastUpdated: time.Now().AddDate(0, 0, -10),
		TTLDays:     7,
		Source:      "test",
		Dates:       []time.Time{future},
	}))

	meta, err := repo.Load()
	require.NoError(t, err)
	require.True(t, meta.Stale(time.Now()))
	require.False(t, meta.IsDateBlackout(time.Now(), future))
}

func TestDailyStatisticsRepository_UpsertReplacesRow(t *testing.T) {
	db := newTestDB(t)
	repo := NewDailyStatisticsRepository(db, zap.NewNop())

	date := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	base := types.DailyStatistics{
		TradeDate:    date,
		Symbol:       "2330.TW",
		StrategyName: "MA Crossover",
		TradeCount:   3,
		WinningTrades: 2,
		LosingTrades:  1,
	}
	require.NoError(t, repo.Upsert(base))
	base.TradeCount = 5
	require.NoError(t, repo.Upsert(base))

	var count int
	err := db.Conn().QueryRow(`SELECT COUNT(*) FROM daily_statistics WHERE trade_date = ? AND symbol = ? AND strategy_name = ?`,
		date.Format("2006-01-02"), "2330.TW", "MA Crossover").Scan(&count)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}
