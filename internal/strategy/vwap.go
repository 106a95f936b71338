package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/twtrader/orchestrator/pkg/types"
)

// VWAPStrategy trades reversion toward the session VWAP. The standard
// deviation band is approximated from recent price history, since the
// Market Context Provider already supplies VWAP directly.
type VWAPStrategy struct{}

// NewVWAPStrategy constructs a VWAPStrategy.
func NewVWAPStrategy() *VWAPStrategy { return &VWAPStrategy{} }

func (s *VWAPStrategy) Name() string            { return "VWAP" }
func (s *VWAPStrategy) Type() types.StrategyType { return types.StrategyIntraday }
func (s *VWAPStrategy) Reset()                   {}

func (s *VWAPStrategy) Execute(portfolio *types.Portfolio, mc *types.MarketContext) (types.TradeSignal, error) {
	neutral := types.TradeSignal{Symbol: mc.Symbol, Direction: types.DirectionNeutral, StrategyName: s.Name()}

	vwap := mc.Indicators.VWAP
	if vwap.IsZero() || len(mc.PriceHistory) < 10 {
		return neutral, nil
	}

	variance := decimal.Zero
	for _, p := range mc.PriceHistory {
		diff := p.Sub(vwap)
		variance = variance.Add(diff.Mul(diff))
	}
	variance = variance.Div(decimal.NewFromInt(int64(len(mc.PriceHistory))))
	stdDev := sqrtDecimal(variance)
	if stdDev.IsZero() {
		return neutral, nil
	}

	current := mc.CurrentPrice
	upper := vwap.Add(stdDev.Mul(decimal.NewFromInt(2)))
	lower := vwap.Sub(stdDev.Mul(decimal.NewFromInt(2)))

	if current.LessThan(lower) {
		deviation := lower.Sub(current).Div(stdDev)
		confidence := decimal.Min(decimal.NewFromFloat(0.95), decimal.NewFromFloat(0.65).Add(deviation.Mul(decimal.NewFromFloat(0.05))))
		return types.TradeSignal{
			Symbol: mc.Symbol, Direction: types.DirectionLong, Confidence: confidence,
			Reason: "price below VWAP lower band", StrategyName: s.Name(),
		}, nil
	}
	if current.GreaterThan(upper) {
		deviation := current.Sub(upper).Div(stdDev)
		confidence := decimal.Min(decimal.NewFromFloat(0.95), decimal.NewFromFloat(0.65).Add(deviation.Mul(decimal.NewFromFloat(0.05))))
		return types.TradeSignal{
			Symbol: mc.Symbol, Direction: types.DirectionShort, Confidence: confidence,
			Reason: "price above VWAP upper band", StrategyName: s.Name(),
		}, nil
	}
	return neutral, nil
}
