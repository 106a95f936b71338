package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/twtrader/orchestrator/pkg/types"
)

// DailyStatisticsRepository persists and replaces DailyStatistics rows
// (§3), keyed by (tradeDate, symbol, strategyName).
type DailyStatisticsRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewDailyStatisticsRepository constructs a DailyStatisticsRepository.
func NewDailyStatisticsRepository(db *DB, logger *zap.Logger) *DailyStatisticsRepository {
	return &DailyStatisticsRepository{db: db, logger: logger.Named("daily_statistics")}
}

// Upsert replaces the (tradeDate, symbol, strategyName) row, satisfying
// the §8 idempotence requirement: re-running end-of-day for the same
// date replaces the prior row without duplication.
func (r *DailyStatisticsRepository) Upsert(s types.DailyStatistics) error {
	_, err := r.db.Conn().Exec(`
		INSERT INTO daily_statistics
		(trade_date, symbol, strategy_name, open, high, low, close, volume, trade_count,
		 winning_trades, losing_trades, win_rate, realized_pnl, unrealized_pnl, total_pnl,
		 max_drawdown, profit_factor, avg_hold_minutes, signals_generated, signals_acted,
		 news_vetos, rsi, macd, sma, atr, vwap, cumulative_pnl, cumulative_trades,
		 consecutive_wins, consecutive_losses, equity_high_watermark, llama_insight)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(trade_date, symbol, strategy_name) DO UPDATE SET
			open=excluded.open, high=excluded.high, low=excluded.low, close=excluded.close,
			volume=excluded.volume, trade_count=excluded.trade_count,
			winning_trades=excluded.winning_trades, losing_trades=excluded.losing_trades,
			win_rate=excluded.win_rate, realized_pnl=excluded.realized_pnl,
			unrealized_pnl=excluded.unrealized_pnl, total_pnl=excluded.total_pnl,
			max_drawdown=excluded.max_drawdown, profit_factor=excluded.profit_factor,
			avg_hold_minutes=excluded.avg_hold_minutes, signals_generated=excluded.signals_generated,
			signals_acted=excluded.signals_acted, news_vetos=excluded.news_vetos,
			rsi=excluded.rsi, macd=excluded.macd, sma=excluded.sma, atr=excluded.atr, vwap=excluded.vwap,
			cumulative_pnl=excluded.cumulative_pnl, cumulative_trades=excluded.cumulative_trades,
			consecutive_wins=excluded.consecutive_wins, consecutive_losses=excluded.consecutive_losses,
			equity_high_watermark=excluded.equity_high_watermark, llama_insight=excluded.llama_insight`,
		s.TradeDate.UTC().Format("2006-01-02"), s.Symbol, s.StrategyName,
		s.Open.String(), s.High.String(), s.Low.String(), s.Close.String(), s.Volume.String(),
		s.TradeCount, s.WinningTrades, s.LosingTrades, s.WinRate.String(),
		s.RealizedPnL.String(), s.UnrealizedPnL.String(), s.TotalPnL.String(),
		s.MaxDrawdown.String(), s.ProfitFactor.String(), s.AvgHoldMinutes.String(),
		s.SignalsGenerated, s.SignalsActed, s.NewsVetos,
		s.RSI.String(), s.MACD.String(), s.SMA.String(), s.ATR.String(), s.VWAP.String(),
		s.CumulativePnL.String(), s.CumulativeTrades, s.ConsecutiveWins, s.ConsecutiveLosses,
		s.EquityHighWatermark.String(), s.LlamaInsight,
	)
	if err != nil {
		return fmt.Errorf("upserting daily statistics: %w", err)
	}
	return nil
}

// PriorDay returns the most recent row for (symbol, strategyName) dated
// before `before` (not necessarily the day before), used to seed
// cumulative P&L/trades and win/loss streaks.
func (r *DailyStatisticsRepository) PriorDay(symbol, strategyName string, before time.Time) (*types.DailyStatistics, error) {
	row := r.db.Conn().QueryRow(`
		SELECT trade_date, cumulative_pnl, cumulative_trades, consecutive_wins, consecutive_losses, equity_high_watermark
		FROM daily_statistics
		WHERE symbol = ? AND strategy_name = ? AND trade_date < ?
		ORDER BY trade_date DESC LIMIT 1`,
		symbol, strategyName, before.UTC().Format("2006-01-02"))

	var s types.DailyStatistics
	var dateStr, cumPnl, eqHwm string
	err := row.Scan(&dateStr, &cumPnl, &s.CumulativeTrades, &s.ConsecutiveWins, &s.ConsecutiveLosses, &eqHwm)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading prior daily statistics: %w", err)
	}
	s.TradeDate, _ = time.Parse("2006-01-02", dateStr)
	s.CumulativePnL, _ = decimal.NewFromString(cumPnl)
	s.EquityHighWatermark, _ = decimal.NewFromString(eqHwm)
	s.Symbol, s.StrategyName = symbol, strategyName
	return &s, nil
}
