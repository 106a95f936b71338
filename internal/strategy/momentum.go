package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/twtrader/orchestrator/pkg/types"
)

// MomentumStrategy trades price momentum over a fixed lookback.
type MomentumStrategy struct {
	period    int
	threshold decimal.Decimal
}

// NewMomentumStrategy constructs a MomentumStrategy with the default
// 14-bar lookback and 2% threshold.
func NewMomentumStrategy() *MomentumStrategy {
	return &MomentumStrategy{period: 14, threshold: decimal.NewFromFloat(0.02)}
}

func (s *MomentumStrategy) Name() string            { return "Momentum" }
func (s *MomentumStrategy) Type() types.StrategyType { return types.StrategyShortTerm }
func (s *MomentumStrategy) Reset()                   {}

func (s *MomentumStrategy) Execute(portfolio *types.Portfolio, mc *types.MarketContext) (types.TradeSignal, error) {
	neutral := types.TradeSignal{Symbol: mc.Symbol, Direction: types.DirectionNeutral, StrategyName: s.Name()}

	history := mc.PriceHistory
	if len(history) < s.period {
		return neutral, nil
	}

	current := history[len(history)-1]
	past := history[len(history)-s.period]
	if past.IsZero() {
		return neutral, nil
	}

	momentum := current.Sub(past).Div(past)

	if momentum.GreaterThan(s.threshold) {
		excess := momentum.Sub(s.threshold).Div(s.threshold)
		confidence := decimal.Min(decimal.NewFromFloat(0.95), decimal.NewFromFloat(0.65).Add(excess.Mul(decimal.NewFromFloat(0.1))))
		return types.TradeSignal{
			Symbol: mc.Symbol, Direction: types.DirectionLong, Confidence: confidence,
			Reason: "strong positive momentum", StrategyName: s.Name(),
		}, nil
	}
	if momentum.LessThan(s.threshold.Neg()) {
		excess := momentum.Abs().Sub(s.threshold).Div(s.threshold)
		confidence := decimal.Min(decimal.NewFromFloat(0.95), decimal.NewFromFloat(0.65).Add(excess.Mul(decimal.NewFromFloat(0.1))))
		return types.TradeSignal{
			Symbol: mc.Symbol, Direction: types.DirectionShort, Confidence: confidence,
			Reason: "strong negative momentum", StrategyName: s.Name(),
		}, nil
	}
	return neutral, nil
}
