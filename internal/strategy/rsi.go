package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/twtrader/orchestrator/pkg/types"
)

// RSIStrategy trades oversold/overbought RSI extremes at the standard
// thresholds (oversold 30, overbought 70).
type RSIStrategy struct{}

// NewRSIStrategy constructs an RSIStrategy.
func NewRSIStrategy() *RSIStrategy { return &RSIStrategy{} }

func (s *RSIStrategy) Name() string            { return "RSI" }
func (s *RSIStrategy) Type() types.StrategyType { return types.StrategyIntraday }
func (s *RSIStrategy) Reset()                  {}

var (
	rsiOversold   = decimal.NewFromInt(30)
	rsiOverbought = decimal.NewFromInt(70)
)

func (s *RSIStrategy) Execute(portfolio *types.Portfolio, mc *types.MarketContext) (types.TradeSignal, error) {
	neutral := types.TradeSignal{Symbol: mc.Symbol, Direction: types.DirectionNeutral, StrategyName: s.Name()}

	rsi := mc.Indicators.RSI
	if rsi.IsZero() {
		return neutral, nil
	}

	if rsi.LessThan(rsiOversold) {
		confidence := decimal.Min(decimal.NewFromFloat(0.95), decimal.NewFromFloat(0.65).Add(rsiOversold.Sub(rsi).Div(decimal.NewFromInt(100))))
		return types.TradeSignal{
			Symbol: mc.Symbol, Direction: types.DirectionLong, Confidence: confidence,
			Reason: "RSI oversold", StrategyName: s.Name(),
		}, nil
	}
	if rsi.GreaterThan(rsiOverbought) {
		confidence := decimal.Min(decimal.NewFromFloat(0.95), decimal.NewFromFloat(0.65).Add(rsi.Sub(rsiOverbought).Div(decimal.NewFromInt(100))))
		return types.TradeSignal{
			Symbol: mc.Symbol, Direction: types.DirectionShort, Confidence: confidence,
			Reason: "RSI overbought", StrategyName: s.Name(),
		}, nil
	}
	return neutral, nil
}
