package strategy

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/twtrader/orchestrator/pkg/types"
)

// DCAStrategy dollar-cost-averages into a long position on a fixed
// tick interval, with an extra buy on a sharp drop.
type DCAStrategy struct {
	mu            sync.Mutex
	interval      int
	dropThreshold decimal.Decimal
	tickCount     int
	lastBuyTick   int
	lastPrice     decimal.Decimal
}

// NewDCAStrategy constructs a DCAStrategy with its default cadence
// (buy on the first tick and then 24 ticks after each buy, extra buy on
// a drop of more than 5% since the last buy).
func NewDCAStrategy() *DCAStrategy {
	return &DCAStrategy{interval: 24, dropThreshold: decimal.NewFromFloat(0.05)}
}

func (s *DCAStrategy) Name() string            { return "DCA" }
func (s *DCAStrategy) Type() types.StrategyType { return types.StrategyLongTerm }

func (s *DCAStrategy) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickCount = 0
	s.lastBuyTick = 0
	s.lastPrice = decimal.Zero
}

func (s *DCAStrategy) Execute(portfolio *types.Portfolio, mc *types.MarketContext) (types.TradeSignal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	neutral := types.TradeSignal{Symbol: mc.Symbol, Direction: types.DirectionNeutral, StrategyName: s.Name()}
	s.tickCount++

	if s.tickCount == 1 || s.tickCount-s.lastBuyTick >= s.interval {
		s.lastBuyTick = s.tickCount
		s.lastPrice = mc.CurrentPrice
		return types.TradeSignal{
			Symbol: mc.Symbol, Direction: types.DirectionLong, Confidence: decimal.NewFromFloat(0.65),
			Reason: "scheduled DCA buy", StrategyName: s.Name(),
		}, nil
	}

	if !s.lastPrice.IsZero() {
		drop := s.lastPrice.Sub(mc.CurrentPrice).Div(s.lastPrice)
		if drop.GreaterThan(s.dropThreshold) {
			s.lastBuyTick = s.tickCount
			s.lastPrice = mc.CurrentPrice
			confidence := decimal.Min(decimal.NewFromFloat(0.95), decimal.NewFromFloat(0.65).Add(drop.Sub(s.dropThreshold)))
			return types.TradeSignal{
				Symbol: mc.Symbol, Direction: types.DirectionLong, Confidence: confidence,
				Reason: "DCA dip buy opportunity", StrategyName: s.Name(),
			}, nil
		}
	} else {
		s.lastPrice = mc.CurrentPrice
	}

	return neutral, nil
}
