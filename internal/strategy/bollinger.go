package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/twtrader/orchestrator/pkg/types"
)

// BollingerMeanReversionStrategy trades Bollinger Band extremes.
type BollingerMeanReversionStrategy struct{}

// NewBollingerMeanReversionStrategy constructs one.
func NewBollingerMeanReversionStrategy() *BollingerMeanReversionStrategy {
	return &BollingerMeanReversionStrategy{}
}

func (s *BollingerMeanReversionStrategy) Name() string            { return "Bollinger Mean-Reversion" }
func (s *BollingerMeanReversionStrategy) Type() types.StrategyType { return types.StrategyIntraday }
func (s *BollingerMeanReversionStrategy) Reset()                  {}

func (s *BollingerMeanReversionStrategy) Execute(portfolio *types.Portfolio, mc *types.MarketContext) (types.TradeSignal, error) {
	neutral := types.TradeSignal{Symbol: mc.Symbol, Direction: types.DirectionNeutral, StrategyName: s.Name()}

	upper, lower := mc.Indicators.BollingerUpper, mc.Indicators.BollingerLower
	if upper.IsZero() && lower.IsZero() {
		return neutral, nil
	}

	current := mc.CurrentPrice
	band := upper.Sub(lower)
	if band.LessThanOrEqual(decimal.Zero) {
		return neutral, nil
	}

	if current.LessThan(lower) {
		deviation := lower.Sub(current).Div(band)
		confidence := decimal.Min(decimal.NewFromFloat(0.95), decimal.NewFromFloat(0.65).Add(deviation))
		return types.TradeSignal{
			Symbol: mc.Symbol, Direction: types.DirectionLong, Confidence: confidence,
			Reason: "price below lower Bollinger band", StrategyName: s.Name(),
		}, nil
	}
	if current.GreaterThan(upper) {
		deviation := current.Sub(upper).Div(band)
		confidence := decimal.Min(decimal.NewFromFloat(0.95), decimal.NewFromFloat(0.65).Add(deviation))
		return types.TradeSignal{
			Symbol: mc.Symbol, Direction: types.DirectionShort, Confidence: confidence,
			Reason: "price above upper Bollinger band", StrategyName: s.Name(),
		}, nil
	}
	return neutral, nil
}
