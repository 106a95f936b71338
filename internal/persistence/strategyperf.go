package persistence

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/twtrader/orchestrator/pkg/types"
)

// StrategyPerformanceRepository persists StrategyPerformance rows
// (§3). Rows are immutable once written — this repository exposes no
// update or delete method, only Create and reads.
type StrategyPerformanceRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewStrategyPerformanceRepository constructs a StrategyPerformanceRepository.
func NewStrategyPerformanceRepository(db *DB, logger *zap.Logger) *StrategyPerformanceRepository {
	return &StrategyPerformanceRepository{db: db, logger: logger.Named("strategy_performance")}
}

// Create inserts a new, immutable StrategyPerformance row.
func (r *StrategyPerformanceRepository) Create(p types.StrategyPerformance) (int64, error) {
	if !p.PeriodEnd.After(p.PeriodStart) {
		return 0, fmt.Errorf("invalid strategy performance period: end %s not after start %s", p.PeriodEnd, p.PeriodStart)
	}
	res, err := r.db.Conn().Exec(`
		INSERT INTO strategy_performance
		(strategy_name, symbol, mode, total_return_pct, sharpe, max_drawdown_pct, win_rate_pct,
		 total_trades, total_pnl, profit_factor, period_start, period_end, calculated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.StrategyName, p.Symbol, string(p.Mode), p.TotalReturnPct.String(), p.Sharpe.String(),
		p.MaxDrawdownPct.String(), p.WinRatePct.String(), p.TotalTrades, p.TotalPnL.String(),
		p.ProfitFactor.String(), p.PeriodStart.UTC().Format(time.RFC3339), p.PeriodEnd.UTC().Format(time.RFC3339),
		p.CalculatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting strategy performance: %w", err)
	}
	return res.LastInsertId()
}

// RecentByMode returns rows calculated within the lookback window,
// used by the Strategy Selector (§4.9 step 1).
func (r *StrategyPerformanceRepository) RecentByMode(mode types.StrategyMode, since time.Time) ([]types.StrategyPerformance, error) {
	rows, err := r.db.Conn().Query(`
		SELECT strategy_name, symbol, mode, total_return_pct, sharpe, max_drawdown_pct, win_rate_pct,
		       total_trades, total_pnl, profit_factor, period_start, period_end, calculated_at
		FROM strategy_performance WHERE mode = ? AND calculated_at >= ?
		ORDER BY calculated_at DESC`, string(mode), since.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("querying strategy performance: %w", err)
	}
	defer rows.Close()

	var out []types.StrategyPerformance
	for rows.Next() {
		var p types.StrategyPerformance
		var tr, sh, dd, wr, pnl, pf, ps, pe, ca string
		if err := rows.Scan(&p.StrategyName, &p.Symbol, &p.Mode, &tr, &sh, &dd, &wr, &p.TotalTrades, &pnl, &pf, &ps, &pe, &ca); err != nil {
			return nil, fmt.Errorf("scanning strategy performance: %w", err)
		}
		p.TotalReturnPct, _ = decimal.NewFromString(tr)
		p.Sharpe, _ = decimal.NewFromString(sh)
		p.MaxDrawdownPct, _ = decimal.NewFromString(dd)
		p.WinRatePct, _ = decimal.NewFromString(wr)
		p.TotalPnL, _ = decimal.NewFromString(pnl)
		p.ProfitFactor, _ = decimal.NewFromString(pf)
		p.PeriodStart, _ = time.Parse(time.RFC3339, ps)
		p.PeriodEnd, _ = time.Parse(time.RFC3339, pe)
		p.CalculatedAt, _ = time.Parse(time.RFC3339, ca)
		out = append(out, p)
	}
	return out, rows.Err()
}
