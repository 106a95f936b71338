package stratmanager

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/twtrader/orchestrator/internal/persistence"
	"github.com/twtrader/orchestrator/internal/strategy"
	"github.com/twtrader/orchestrator/pkg/types"
)

func newTestManager(t *testing.T, reg *strategy.Registry) *Manager {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "stratmanager.db")
	db, err := persistence.Open(dbPath, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })

	logger := zap.NewNop()
	settings := persistence.NewBotSettingsRepository(db, logger)
	events := persistence.NewEventRepository(db, logger)
	return New(reg, settings, events, logger)
}

type fakeStrategy struct {
	name   string
	signal types.TradeSignal
	err    error
	panics bool
}

func (f *fakeStrategy) Name() string            { return f.name }
func (f *fakeStrategy) Type() types.StrategyType { return types.StrategyShortTerm }
func (f *fakeStrategy) Reset()                   {}
func (f *fakeStrategy) Execute(portfolio *types.Portfolio, mc *types.MarketContext) (types.TradeSignal, error) {
	if f.panics {
		panic("boom")
	}
	return f.signal, f.err
}

func TestManager_Tick_AggregatesLongConsensus(t *testing.T) {
	reg := strategy.NewRegistry()
	reg.Register("A", func() strategy.Strategy {
		return &fakeStrategy{name: "A", signal: types.TradeSignal{Symbol: "2330", Direction: types.DirectionLong, Confidence: decimal.NewFromFloat(0.7)}}
	})
	reg.Register("B", func() strategy.Strategy {
		return &fakeStrategy{name: "B", signal: types.TradeSignal{Symbol: "2330", Direction: types.DirectionLong, Confidence: decimal.NewFromFloat(0.8)}}
	})

	mgr := newTestManager(t, reg)
	mc := &types.MarketContext{Symbol: "2330", CurrentPrice: decimal.NewFromInt(500)}

	result := mgr.Tick(mc, "A")
	require.Equal(t, types.DirectionLong, result.Aggregated.Direction)
	require.Len(t, result.StrategySignals, 2)
	require.NotNil(t, result.LiveCandidate)
	require.Equal(t, "A", result.LiveCandidate.StrategyName)
}

func TestManager_Tick_SplitVoteStrongerSideWins(t *testing.T) {
	reg := strategy.NewRegistry()
	reg.Register("A", func() strategy.Strategy {
		return &fakeStrategy{name: "A", signal: types.TradeSignal{Symbol: "2330", Direction: types.DirectionLong, Confidence: decimal.NewFromFloat(0.7)}}
	})
	reg.Register("B", func() strategy.Strategy {
		return &fakeStrategy{name: "B", signal: types.TradeSignal{Symbol: "2330", Direction: types.DirectionShort, Confidence: decimal.NewFromFloat(0.9)}}
	})

	mgr := newTestManager(t, reg)
	mc := &types.MarketContext{Symbol: "2330", CurrentPrice: decimal.NewFromInt(500)}

	result := mgr.Tick(mc, "")
	require.Equal(t, types.DirectionShort, result.Aggregated.Direction, "short's 0.9 exceeds the 0.65 threshold and long's 0.7, so short wins")
}

func TestManager_Tick_IsolatesPanickingStrategy(t *testing.T) {
	reg := strategy.NewRegistry()
	reg.Register("Boom", func() strategy.Strategy { return &fakeStrategy{name: "Boom", panics: true} })
	reg.Register("Good", func() strategy.Strategy {
		return &fakeStrategy{name: "Good", signal: types.TradeSignal{Symbol: "2330", Direction: types.DirectionLong, Confidence: decimal.NewFromFloat(0.9)}}
	})

	mgr := newTestManager(t, reg)
	mc := &types.MarketContext{Symbol: "2330", CurrentPrice: decimal.NewFromInt(500)}

	result := mgr.Tick(mc, "Good")
	require.Len(t, result.StrategySignals, 1, "the panicking strategy must not abort the tick")
	require.Equal(t, "Good", result.StrategySignals[0].StrategyName)
}

func TestManager_Tick_LogsErrorStrategyFailure(t *testing.T) {
	reg := strategy.NewRegistry()
	reg.Register("Failing", func() strategy.Strategy {
		return &fakeStrategy{name: "Failing", err: errors.New("indicator unavailable")}
	})

	mgr := newTestManager(t, reg)
	mc := &types.MarketContext{Symbol: "2330", CurrentPrice: decimal.NewFromInt(500)}

	result := mgr.Tick(mc, "")
	require.Empty(t, result.StrategySignals)

	events, err := mgr.events.RecentByType(types.EventError, 5)
	require.NoError(t, err)
	require.NotEmpty(t, events)
}

func TestManager_RecordShadowTrade_OpensAndFlipsPosition(t *testing.T) {
	reg := strategy.NewRegistry()
	reg.Register("A", func() strategy.Strategy {
		return &fakeStrategy{name: "A", signal: types.TradeSignal{Symbol: "2330", Direction: types.DirectionLong, Confidence: decimal.NewFromFloat(0.9)}}
	})

	mgr := newTestManager(t, reg)
	mc := &types.MarketContext{Symbol: "2330", CurrentPrice: decimal.NewFromInt(500)}
	mgr.Tick(mc, "A")

	portfolio := mgr.PortfolioFor("A")
	pos, ok := portfolio.Positions["2330"]
	require.True(t, ok)
	require.True(t, pos.Quantity.IsPositive())
}
