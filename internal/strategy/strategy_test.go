package strategy

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/twtrader/orchestrator/pkg/types"
)

func TestDefaultRegistry_RegistersInOrder(t *testing.T) {
	r := DefaultRegistry()
	require.Equal(t, []string{
		"MA Crossover", "Bollinger Mean-Reversion", "RSI", "Momentum",
		"VWAP", "Pairs Arbitrage", "DCA", "Rebalancing",
	}, r.Names())
}

func TestRegistry_GetIsSingleton(t *testing.T) {
	r := NewRegistry()
	r.Register("MA Crossover", func() Strategy { return NewMACrossoverStrategy() })

	a, ok := r.Get("MA Crossover")
	require.True(t, ok)
	b, ok := r.Get("MA Crossover")
	require.True(t, ok)
	require.Same(t, a, b)
}

func TestRegistry_AllPreservesRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	r.Register("z", func() Strategy { return NewDCAStrategy() })
	r.Register("a", func() Strategy { return NewMomentumStrategy() })

	all := r.All()
	require.Len(t, all, 2)
	require.Equal(t, "DCA", all[0].Name())
	require.Equal(t, "Momentum", all[1].Name())
}

func TestMACrossoverStrategy_SignalsOnCrossEdge(t *testing.T) {
	s := NewMACrossoverStrategy()
	mc := &types.MarketContext{Symbol: "2330", Indicators: types.Indicators{SMA5: decimal.NewFromInt(100), SMA20: decimal.NewFromInt(105)}}

	sig, err := s.Execute(nil, mc)
	require.NoError(t, err)
	require.Equal(t, types.DirectionNeutral, sig.Direction, "first observation only seeds state, no crossover yet")

	mc.Indicators.SMA5 = decimal.NewFromInt(110)
	sig, err = s.Execute(nil, mc)
	require.NoError(t, err)
	require.Equal(t, types.DirectionLong, sig.Direction)
	require.True(t, sig.Actionable())
}

func TestRSIStrategy_OversoldGoesLong(t *testing.T) {
	s := NewRSIStrategy()
	mc := &types.MarketContext{Symbol: "2330", Indicators: types.Indicators{RSI: decimal.NewFromInt(20)}}

	sig, err := s.Execute(nil, mc)
	require.NoError(t, err)
	require.Equal(t, types.DirectionLong, sig.Direction)
}

func TestRSIStrategy_NeutralBand(t *testing.T) {
	s := NewRSIStrategy()
	mc := &types.MarketContext{Symbol: "2330", Indicators: types.Indicators{RSI: decimal.NewFromInt(50)}}

	sig, err := s.Execute(nil, mc)
	require.NoError(t, err)
	require.Equal(t, types.DirectionNeutral, sig.Direction)
}

func TestDCAStrategy_BuysOnScheduleAndDip(t *testing.T) {
	s := NewDCAStrategy()
	mc := &types.MarketContext{Symbol: "2330", CurrentPrice: decimal.NewFromInt(100)}

	sig, err := s.Execute(nil, mc)
	require.NoError(t, err)
	require.Equal(t, types.DirectionLong, sig.Direction)
	require.Equal(t, "scheduled DCA buy", sig.Reason)

	for i := 0; i < 22; i++ {
		_, err := s.Execute(nil, mc)
		require.NoError(t, err)
	}

	mc.CurrentPrice = decimal.NewFromInt(90)
	sig, err = s.Execute(nil, mc)
	require.NoError(t, err)
	require.Equal(t, types.DirectionLong, sig.Direction)
	require.Equal(t, "DCA dip buy opportunity", sig.Reason)
}

func TestRebalancingStrategy_SignalsOnDrift(t *testing.T) {
	s := NewRebalancingStrategy()
	portfolio := types.NewPortfolio("Rebalancing")
	mc := &types.MarketContext{
		Symbol:       "2330",
		CurrentPrice: decimal.NewFromInt(100),
		PositionQty:  decimal.NewFromInt(200),
	}

	sig, err := s.Execute(portfolio, mc)
	require.NoError(t, err)
	require.Equal(t, types.DirectionShort, sig.Direction, "200*100=20000 exposure far exceeds 10% of 80000 target")
}
