// Package marketcontext is the Market Context Provider of §4.4: it
// assembles the immutable MarketContext snapshot each strategy tick
// executes against, from the broker bridge signal bundle, a bounded
// per-symbol rolling buffer, locally-computed indicators, and the
// current position.
package marketcontext

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/twtrader/orchestrator/internal/clients/broker"
	"github.com/twtrader/orchestrator/internal/newsveto"
	"github.com/twtrader/orchestrator/internal/persistence"
	"github.com/twtrader/orchestrator/internal/ringbuffer"
	"github.com/twtrader/orchestrator/pkg/types"
)

// bufferCapacity is the minimum rolling-window length required for
// indicator calculation (§3).
const bufferCapacity = 600

// tick is one price/volume observation retained in a symbol's buffer.
type tick struct {
	price  decimal.Decimal
	volume decimal.Decimal
}

// Provider builds MarketContext snapshots for the Strategy Manager.
type Provider struct {
	broker *broker.Client
	trades *persistence.TradeRepository
	veto   *newsveto.Pipeline
	bars   *persistence.BarRepository
	logger *zap.Logger

	mu      sync.Mutex
	buffers map[string]*ringbuffer.Buffer[tick]
}

// New constructs a Provider. bars may be nil, in which case the
// rolling buffer starts empty and ticks are not persisted — useful in
// tests that only exercise indicator math.
func New(brokerClient *broker.Client, trades *persistence.TradeRepository, veto *newsveto.Pipeline, bars *persistence.BarRepository, logger *zap.Logger) *Provider {
	return &Provider{
		broker:  brokerClient,
		trades:  trades,
		veto:    veto,
		bars:    bars,
		logger:  logger.Named("marketcontext"),
		buffers: make(map[string]*ringbuffer.Buffer[tick]),
	}
}

// bufferFor returns symbol's rolling buffer, seeding it from persisted
// market_data history on first use so indicators are meaningful
// immediately after a restart rather than only after bufferCapacity
// fresh ticks arrive.
func (p *Provider) bufferFor(symbol string) *ringbuffer.Buffer[tick] {
	p.mu.Lock()
	defer p.mu.Unlock()
	buf, ok := p.buffers[symbol]
	if !ok {
		buf = ringbuffer.New[tick](bufferCapacity)
		if p.bars != nil {
			if history, err := p.bars.Recent("market_data", symbol, bufferCapacity); err == nil {
				for _, b := range history {
					buf.Push(tick{price: b.Close, volume: b.Volume})
				}
			} else {
				p.logger.Warn("failed to seed rolling buffer from history", zap.String("symbol", symbol), zap.Error(err))
			}
		}
		p.buffers[symbol] = buf
	}
	return buf
}

// Build assembles a MarketContext for symbol, per §4.4's five steps.
func (p *Provider) Build(ctx context.Context, symbol string, mode types.TradingMode) (*types.MarketContext, error) {
	sig, err := p.broker.GetSignal(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching bridge signal for %s: %w", symbol, err)
	}

	buf := p.bufferFor(symbol)
	buf.Push(tick{price: sig.CurrentPrice, volume: sig.VolumeRatio})

	if p.bars != nil {
		now := time.Now()
		bar := types.Bar{Symbol: symbol, Timestamp: now, Open: sig.CurrentPrice, High: sig.CurrentPrice, Low: sig.CurrentPrice, Close: sig.CurrentPrice, Volume: sig.VolumeRatio}
		if err := p.bars.InsertBatch("market_data", []types.Bar{bar}); err != nil {
			p.logger.Warn("failed to persist market data tick", zap.String("symbol", symbol), zap.Error(err))
		}
	}

	prices := make([]decimal.Decimal, 0, buf.Len())
	volumes := make([]decimal.Decimal, 0, buf.Len())
	for _, t := range buf.Slice() {
		prices = append(prices, t.price)
		volumes = append(volumes, t.volume)
	}

	indicators := types.Indicators{
		RSI:  sig.RSI,
		VWAP: decimal.Zero,
	}
	if indicators.RSI.IsZero() {
		indicators.RSI = computeRSI(prices, 14)
	}
	indicators.SMA5 = computeSMA(prices, 5)
	indicators.SMA20 = computeSMA(prices, 20)
	upper, lower := computeBollinger(prices, 20, decimal.NewFromInt(2))
	indicators.BollingerUpper = upper
	indicators.BollingerLower = lower

	qty, avgEntry, err := p.trades.CurrentPosition(symbol)
	if err != nil {
		return nil, fmt.Errorf("resolving current position for %s: %w", symbol, err)
	}

	newsVeto := false
	if p.veto != nil {
		newsVeto, _, _ = p.veto.Current()
	}

	session := computeSessionOHLC(prices)

	return &types.MarketContext{
		Symbol:        symbol,
		CurrentPrice:  sig.CurrentPrice,
		PriceHistory:  prices,
		VolumeHistory: volumes,
		Indicators:    indicators,
		Session:       session,
		PositionQty:   qty,
		PositionEntry: avgEntry,
		TradingMode:   mode,
		NewsVeto:      newsVeto,
	}, nil
}

func computeSessionOHLC(prices []decimal.Decimal) types.SessionOHLC {
	if len(prices) == 0 {
		return types.SessionOHLC{}
	}
	session := types.SessionOHLC{Open: prices[0], High: prices[0], Low: prices[0], Close: prices[len(prices)-1]}
	for _, p := range prices {
		if p.GreaterThan(session.High) {
			session.High = p
		}
		if p.LessThan(session.Low) {
			session.Low = p
		}
	}
	return session
}

func computeSMA(prices []decimal.Decimal, period int) decimal.Decimal {
	if len(prices) < period {
		return decimal.Zero
	}
	window := prices[len(prices)-period:]
	sum := decimal.Zero
	for _, p := range window {
		sum = sum.Add(p)
	}
	return sum.Div(decimal.NewFromInt(int64(period)))
}

func computeRSI(prices []decimal.Decimal, period int) decimal.Decimal {
	if len(prices) < period+1 {
		return decimal.NewFromInt(50)
	}
	gains, losses := decimal.Zero, decimal.Zero
	start := len(prices) - period
	for i := start; i < len(prices); i++ {
		change := prices[i].Sub(prices[i-1])
		if change.GreaterThan(decimal.Zero) {
			gains = gains.Add(change)
		} else {
			losses = losses.Sub(change)
		}
	}
	if losses.IsZero() {
		return decimal.NewFromInt(100)
	}
	rs := gains.Div(losses)
	hundred := decimal.NewFromInt(100)
	return hundred.Sub(hundred.Div(decimal.NewFromInt(1).Add(rs)))
}

func computeBollinger(prices []decimal.Decimal, period int, numStdDev decimal.Decimal) (upper, lower decimal.Decimal) {
	sma := computeSMA(prices, period)
	if sma.IsZero() || len(prices) < period {
		return decimal.Zero, decimal.Zero
	}
	window := prices[len(prices)-period:]
	variance := decimal.Zero
	for _, p := range window {
		diff := p.Sub(sma)
		variance = variance.Add(diff.Mul(diff))
	}
	variance = variance.Div(decimal.NewFromInt(int64(period)))
	stdDev := sqrtDecimal(variance)
	band := stdDev.Mul(numStdDev)
	return sma.Add(band), sma.Sub(band)
}

// sqrtDecimal computes an approximate square root via Newton's method;
// decimal has no built-in Sqrt.
func sqrtDecimal(d decimal.Decimal) decimal.Decimal {
	if d.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	x := d
	two := decimal.NewFromInt(2)
	for i := 0; i < 30; i++ {
		x = x.Add(d.Div(x)).Div(two)
	}
	return x
}
