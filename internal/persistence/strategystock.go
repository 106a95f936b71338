package persistence

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/twtrader/orchestrator/pkg/types"
)

// StrategyStockMappingRepository upserts the most-recent best strategy
// per symbol (§3), after every backtest result for the (symbol,
// strategy) pair.
type StrategyStockMappingRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewStrategyStockMappingRepository constructs the repository.
func NewStrategyStockMappingRepository(db *DB, logger *zap.Logger) *StrategyStockMappingRepository {
	return &StrategyStockMappingRepository{db: db, logger: logger.Named("strategy_stock_mapping")}
}

// Upsert writes or replaces the (symbol, strategyName) row. A symbol
// with no known name mapping is still inserted, matching §4.10's
// "rows without a known mapping are inserted as-is and logged" rule.
func (r *StrategyStockMappingRepository) Upsert(m types.StrategyStockMapping) error {
	_, err := r.db.Conn().Exec(`
		INSERT INTO strategy_stock_mapping
		(symbol, strategy_name, sharpe, return_pct, win_rate_pct, max_dd_pct, trade_count, avg_profit, period_start, period_end)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, strategy_name) DO UPDATE SET
			sharpe=excluded.sharpe, return_pct=excluded.return_pct, win_rate_pct=excluded.win_rate_pct,
			max_dd_pct=excluded.max_dd_pct, trade_count=excluded.trade_count, avg_profit=excluded.avg_profit,
			period_start=excluded.period_start, period_end=excluded.period_end`,
		m.Symbol, m.StrategyName, m.Sharpe.String(), m.ReturnPct.String(), m.WinRatePct.String(),
		m.MaxDDPct.String(), m.TradeCount, m.AvgProfit.String(),
		m.PeriodStart.UTC().Format("2006-01-02"), m.PeriodEnd.UTC().Format("2006-01-02"),
	)
	if err != nil {
		return fmt.Errorf("upserting strategy stock mapping: %w", err)
	}
	return nil
}

// BestForSymbol returns the current best mapping for a symbol, if any.
func (r *StrategyStockMappingRepository) BestForSymbol(symbol string) (*types.StrategyStockMapping, error) {
	row := r.db.Conn().QueryRow(`
		SELECT symbol, strategy_name, sharpe, return_pct, win_rate_pct, max_dd_pct, trade_count, avg_profit
		FROM strategy_stock_mapping WHERE symbol = ? ORDER BY CAST(sharpe AS REAL) DESC LIMIT 1`, symbol)

	var m types.StrategyStockMapping
	var sharpe, ret, wr, dd, avg string
	if err := row.Scan(&m.Symbol, &m.StrategyName, &sharpe, &ret, &wr, &dd, &m.TradeCount, &avg); err != nil {
		return nil, fmt.Errorf("reading strategy stock mapping: %w", err)
	}
	m.Sharpe, _ = decimal.NewFromString(sharpe)
	m.ReturnPct, _ = decimal.NewFromString(ret)
	m.WinRatePct, _ = decimal.NewFromString(wr)
	m.MaxDDPct, _ = decimal.NewFromString(dd)
	m.AvgProfit, _ = decimal.NewFromString(avg)
	return &m, nil
}
