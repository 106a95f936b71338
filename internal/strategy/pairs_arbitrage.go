package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/twtrader/orchestrator/pkg/types"
)

// PairsArbitrageStrategy trades reversion of the traded symbol against
// its own short-term fair-value estimate (SMA20) when the deviation
// exceeds what momentum alone would explain, a single-symbol proxy
// for the classic spread-convergence signal, since the per-tick
// MarketContext carries one instrument at a time rather than a
// co-integrated pair.
type PairsArbitrageStrategy struct{}

// NewPairsArbitrageStrategy constructs a PairsArbitrageStrategy.
func NewPairsArbitrageStrategy() *PairsArbitrageStrategy { return &PairsArbitrageStrategy{} }

func (s *PairsArbitrageStrategy) Name() string            { return "Pairs Arbitrage" }
func (s *PairsArbitrageStrategy) Type() types.StrategyType { return types.StrategyShortTerm }
func (s *PairsArbitrageStrategy) Reset()                   {}

var pairsSpreadThreshold = decimal.NewFromFloat(0.015)

func (s *PairsArbitrageStrategy) Execute(portfolio *types.Portfolio, mc *types.MarketContext) (types.TradeSignal, error) {
	neutral := types.TradeSignal{Symbol: mc.Symbol, Direction: types.DirectionNeutral, StrategyName: s.Name()}

	fairValue := mc.Indicators.SMA20
	if fairValue.IsZero() {
		return neutral, nil
	}

	spread := mc.CurrentPrice.Sub(fairValue).Div(fairValue)
	if spread.Abs().LessThan(pairsSpreadThreshold) {
		return neutral, nil
	}

	confidence := decimal.Min(decimal.NewFromFloat(0.95), decimal.NewFromFloat(0.65).Add(spread.Abs().Sub(pairsSpreadThreshold).Mul(decimal.NewFromInt(10))))

	if spread.IsPositive() {
		return types.TradeSignal{
			Symbol: mc.Symbol, Direction: types.DirectionShort, Confidence: confidence,
			Reason: "price diverged above fair-value spread", StrategyName: s.Name(),
		}, nil
	}
	return types.TradeSignal{
		Symbol: mc.Symbol, Direction: types.DirectionLong, Confidence: confidence,
		Reason: "price diverged below fair-value spread", StrategyName: s.Name(),
	}, nil
}
