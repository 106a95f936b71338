package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/twtrader/orchestrator/pkg/types"
)

// MACrossoverStrategy trades SMA5/SMA20 crossovers, using the same
// slope-of-the-faster-average signal shape as an EMA trend follower.
type MACrossoverStrategy struct {
	lastFastAboveSlow *bool
}

// NewMACrossoverStrategy constructs a MACrossoverStrategy.
func NewMACrossoverStrategy() *MACrossoverStrategy { return &MACrossoverStrategy{} }

func (s *MACrossoverStrategy) Name() string            { return "MA Crossover" }
func (s *MACrossoverStrategy) Type() types.StrategyType { return types.StrategyShortTerm }
func (s *MACrossoverStrategy) Reset()                   { s.lastFastAboveSlow = nil }

func (s *MACrossoverStrategy) Execute(portfolio *types.Portfolio, mc *types.MarketContext) (types.TradeSignal, error) {
	neutral := types.TradeSignal{Symbol: mc.Symbol, Direction: types.DirectionNeutral, StrategyName: s.Name()}

	fast, slow := mc.Indicators.SMA5, mc.Indicators.SMA20
	if fast.IsZero() || slow.IsZero() {
		return neutral, nil
	}

	fastAboveSlow := fast.GreaterThan(slow)
	crossed := s.lastFastAboveSlow != nil && *s.lastFastAboveSlow != fastAboveSlow
	s.lastFastAboveSlow = &fastAboveSlow

	if !crossed {
		return neutral, nil
	}

	spread := fast.Sub(slow).Abs().Div(slow)
	confidence := decimal.Min(decimal.NewFromFloat(0.95), decimal.NewFromFloat(0.65).Add(spread.Mul(decimal.NewFromInt(10))))

	direction := types.DirectionShort
	reason := "SMA5 crossed below SMA20"
	if fastAboveSlow {
		direction = types.DirectionLong
		reason = "SMA5 crossed above SMA20"
	}

	return types.TradeSignal{
		Symbol:       mc.Symbol,
		Direction:    direction,
		Confidence:   confidence,
		Reason:       reason,
		StrategyName: s.Name(),
	}, nil
}
