package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/twtrader/orchestrator/pkg/types"
)

// RebalancingStrategy signals a correction when a symbol's exposure
// within its own shadow portfolio drifts away from a fixed target
// allocation, using a grid-level-trigger idiom.
type RebalancingStrategy struct{}

// NewRebalancingStrategy constructs a RebalancingStrategy.
func NewRebalancingStrategy() *RebalancingStrategy { return &RebalancingStrategy{} }

func (s *RebalancingStrategy) Name() string            { return "Rebalancing" }
func (s *RebalancingStrategy) Type() types.StrategyType { return types.StrategySwing }
func (s *RebalancingStrategy) Reset()                   {}

var (
	rebalanceTargetAllocation = decimal.NewFromFloat(0.1)
	rebalanceDriftThreshold   = decimal.NewFromFloat(0.03)
)

func (s *RebalancingStrategy) Execute(portfolio *types.Portfolio, mc *types.MarketContext) (types.TradeSignal, error) {
	neutral := types.TradeSignal{Symbol: mc.Symbol, Direction: types.DirectionNeutral, StrategyName: s.Name()}

	if portfolio == nil || portfolio.BaseEquity.IsZero() || mc.CurrentPrice.IsZero() {
		return neutral, nil
	}

	exposure := mc.PositionQty.Mul(mc.CurrentPrice)
	target := portfolio.BaseEquity.Mul(rebalanceTargetAllocation)
	drift := exposure.Sub(target).Div(portfolio.BaseEquity)

	if drift.Abs().LessThan(rebalanceDriftThreshold) {
		return neutral, nil
	}

	confidence := decimal.Min(decimal.NewFromFloat(0.95), decimal.NewFromFloat(0.65).Add(drift.Abs().Sub(rebalanceDriftThreshold)))

	if drift.IsPositive() {
		return types.TradeSignal{
			Symbol: mc.Symbol, Direction: types.DirectionShort, Confidence: confidence,
			Reason: "exposure above target allocation", StrategyName: s.Name(),
		}, nil
	}
	return types.TradeSignal{
		Symbol: mc.Symbol, Direction: types.DirectionLong, Confidence: confidence,
		Reason: "exposure below target allocation", StrategyName: s.Name(),
	}, nil
}
