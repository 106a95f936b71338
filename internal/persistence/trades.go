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

// TradeRepository persists Trade rows (§3).
type TradeRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewTradeRepository constructs a TradeRepository.
func NewTradeRepository(db *DB, logger *zap.Logger) *TradeRepository {
	return &TradeRepository{db: db, logger: logger.Named("trades")}
}

// Create inserts a new Trade row and returns its assigned ID.
func (r *TradeRepository) Create(t types.Trade) (int64, error) {
	var closedAt sql.NullString
	if t.ClosedAt != nil {
		closedAt = nullString(t.ClosedAt.UTC().Format(time.RFC3339))
	}
	var exitPrice, realizedPnL sql.NullString
	if !t.ExitPrice.IsZero() || t.Status == types.TradeStatusClosed {
		exitPrice = nullString(t.ExitPrice.String())
		realizedPnL = nullString(t.RealizedPnL.String())
	}

	res, err := r.db.Conn().Exec(`
		INSERT INTO trades
		(timestamp, symbol, action, quantity, entry_price, exit_price, realized_pnl,
		 strategy_name, entry_reason, exit_reason, mode, status, market_code,
		 hold_duration_minutes, slippage_bps, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Timestamp.UTC().Format(time.RFC3339), t.Symbol, string(t.Action), t.Quantity.String(),
		t.EntryPrice.String(), exitPrice, realizedPnL, t.StrategyName, t.EntryReason,
		t.ExitReason, string(t.Mode), string(t.Status), t.MarketCode,
		t.HoldDurationMinutes, t.SlippageBps.String(), closedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting trade: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading trade id: %w", err)
	}
	r.logger.Debug("trade recorded", zap.Int64("id", id), zap.String("symbol", t.Symbol), zap.String("mode", string(t.Mode)))
	return id, nil
}

// CloseTrade updates an OPEN trade to CLOSED with exit details, per
// §4.8 step 3.
func (r *TradeRepository) CloseTrade(id int64, exitPrice, realizedPnL decimal.Decimal, exitReason string, closedAt time.Time, holdMinutes int) error {
	_, err := r.db.Conn().Exec(`
		UPDATE trades
		SET exit_price = ?, realized_pnl = ?, exit_reason = ?, status = ?, closed_at = ?, hold_duration_minutes = ?
		WHERE id = ?`,
		exitPrice.String(), realizedPnL.String(), exitReason, string(types.TradeStatusClosed),
		closedAt.UTC().Format(time.RFC3339), holdMinutes, id,
	)
	if err != nil {
		return fmt.Errorf("closing trade %d: %w", id, err)
	}
	return nil
}

// OpenLiveTrades returns OPEN live (mode=LIVE) trades, used by
// flatten-at-close (§4.8 step 4).
func (r *TradeRepository) OpenLiveTrades() ([]types.Trade, error) {
	rows, err := r.db.Conn().Query(`
		SELECT id, timestamp, symbol, action, quantity, entry_price, strategy_name,
		       entry_reason, mode, status, market_code
		FROM trades WHERE status = ? AND mode = ?`,
		string(types.TradeStatusOpen), string(types.ModeLive))
	if err != nil {
		return nil, fmt.Errorf("querying open live trades: %w", err)
	}
	defer rows.Close()

	var out []types.Trade
	for rows.Next() {
		var t types.Trade
		var ts string
		var qty, entry string
		if err := rows.Scan(&t.ID, &ts, &t.Symbol, &t.Action, &qty, &entry, &t.StrategyName,
			&t.EntryReason, &t.Mode, &t.Status, &t.MarketCode); err != nil {
			return nil, fmt.Errorf("scanning open trade: %w", err)
		}
		t.Timestamp, _ = time.Parse(time.RFC3339, ts)
		t.Quantity, _ = decimal.NewFromString(qty)
		t.EntryPrice, _ = decimal.NewFromString(entry)
		out = append(out, t)
	}
	return out, rows.Err()
}

// CurrentPosition derives the live net position and average entry
// price for a symbol from OPEN live trades, used by the Market Context
// Provider (§4.4 step d).
func (r *TradeRepository) CurrentPosition(symbol string) (quantity, avgEntry decimal.Decimal, err error) {
	rows, err := r.db.Conn().Query(`
		SELECT action, quantity, entry_price FROM trades
		WHERE symbol = ? AND status = ? AND mode = ?`,
		symbol, string(types.TradeStatusOpen), string(types.ModeLive))
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("querying current position: %w", err)
	}
	defer rows.Close()

	qty := decimal.Zero
	weightedSum := decimal.Zero
	for rows.Next() {
		var action, qtyStr, entryStr string
		if err := rows.Scan(&action, &qtyStr, &entryStr); err != nil {
			return decimal.Zero, decimal.Zero, fmt.Errorf("scanning position row: %w", err)
		}
		q, _ := decimal.NewFromString(qtyStr)
		p, _ := decimal.NewFromString(entryStr)
		if types.TradeAction(action) == types.TradeActionSell {
			q = q.Neg()
		}
		qty = qty.Add(q)
		weightedSum = weightedSum.Add(q.Mul(p))
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	if qty.IsZero() {
		return decimal.Zero, decimal.Zero, nil
	}
	return qty, weightedSum.Div(qty), nil
}

// RealizedPnLSince sums realized_pnl for CLOSED live trades whose
// closed_at is at or after since, used by the Risk Manager's
// daily/weekly/monthly P&L gates (§4.7).
func (r *TradeRepository) RealizedPnLSince(since time.Time) (decimal.Decimal, error) {
	var pnl sql.NullString
	err := r.db.Conn().QueryRow(`
		SELECT COALESCE(SUM(CAST(realized_pnl AS REAL)), 0)
		FROM trades WHERE status = ? AND mode = ? AND closed_at >= ?`,
		string(types.TradeStatusClosed), string(types.ModeLive), since.UTC().Format(time.RFC3339),
	).Scan(&pnl)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("summing realized pnl: %w", err)
	}
	if !pnl.Valid || pnl.String == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(pnl.String)
	if err != nil {
		return decimal.Zero, nil
	}
	return d, nil
}

// CountClosedSimulationTrades supports the go-live eligibility query
// (§4.7): at least 20 closed simulation trades.
func (r *TradeRepository) CountClosedSimulationTrades() (int, error) {
	var count int
	err := r.db.Conn().QueryRow(`
		SELECT COUNT(*) FROM trades WHERE status = ? AND mode = ?`,
		string(types.TradeStatusClosed), string(types.ModeSimulation),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting closed simulation trades: %w", err)
	}
	return count, nil
}

// SimulationWinRateAndDrawdown computes the go-live win rate and max
// drawdown (against a 100,000 base, §4.7) from closed simulation trades.
func (r *TradeRepository) SimulationWinRateAndDrawdown() (winRate, maxDrawdownPct decimal.Decimal, err error) {
	rows, err := r.db.Conn().Query(`
		SELECT realized_pnl FROM trades WHERE status = ? AND mode = ? ORDER BY closed_at ASC`,
		string(types.TradeStatusClosed), string(types.ModeSimulation))
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("reading simulation trades: %w", err)
	}
	defer rows.Close()

	base := decimal.NewFromInt(100000)
	equity := base
	peak := base
	maxDD := decimal.Zero
	wins, total := 0, 0
	for rows.Next() {
		var pnlStr sql.NullString
		if err := rows.Scan(&pnlStr); err != nil {
			return decimal.Zero, decimal.Zero, fmt.Errorf("scanning simulation pnl: %w", err)
		}
		if !pnlStr.Valid {
			continue
		}
		pnl, convErr := decimal.NewFromString(pnlStr.String)
		if convErr != nil {
			continue
		}
		total++
		if pnl.GreaterThan(decimal.Zero) {
			wins++
		}
		equity = equity.Add(pnl)
		if equity.GreaterThan(peak) {
			peak = equity
		}
		if peak.GreaterThan(decimal.Zero) {
			dd := peak.Sub(equity).Div(peak).Mul(decimal.NewFromInt(100))
			if dd.GreaterThan(maxDD) {
				maxDD = dd
			}
		}
	}
	if total == 0 {
		return decimal.Zero, decimal.Zero, rows.Err()
	}
	winRate = decimal.NewFromInt(int64(wins)).Div(decimal.NewFromInt(int64(total))).Mul(decimal.NewFromInt(100))
	return winRate, maxDD, rows.Err()
}

// ClosedTradesOnDate returns closed LIVE trades for symbol whose
// closed_at falls on tradeDate (in tradeDate's own location), feeding
// the 13:05 DailyStatistics computation (§4.12).
func (r *TradeRepository) ClosedTradesOnDate(symbol string, tradeDate time.Time) ([]types.Trade, error) {
	start := time.Date(tradeDate.Year(), tradeDate.Month(), tradeDate.Day(), 0, 0, 0, 0, tradeDate.Location())
	end := start.Add(24 * time.Hour)

	rows, err := r.db.Conn().Query(`
		SELECT quantity, entry_price, exit_price, realized_pnl, strategy_name,
		       hold_duration_minutes, closed_at
		FROM trades
		WHERE symbol = ? AND status = ? AND mode = ? AND closed_at >= ? AND closed_at < ?
		ORDER BY closed_at ASC`,
		symbol, string(types.TradeStatusClosed), string(types.ModeLive),
		start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("querying closed trades on date: %w", err)
	}
	defer rows.Close()

	var out []types.Trade
	for rows.Next() {
		var t types.Trade
		var qty, entry, exit, pnl, closedAt string
		if err := rows.Scan(&qty, &entry, &exit, &pnl, &t.StrategyName, &t.HoldDurationMinutes, &closedAt); err != nil {
			return nil, fmt.Errorf("scanning closed trade: %w", err)
		}
		t.Symbol = symbol
		t.Quantity, _ = decimal.NewFromString(qty)
		t.EntryPrice, _ = decimal.NewFromString(entry)
		t.ExitPrice, _ = decimal.NewFromString(exit)
		t.RealizedPnL, _ = decimal.NewFromString(pnl)
		if parsed, perr := time.Parse(time.RFC3339, closedAt); perr == nil {
			t.ClosedAt = &parsed
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ClosedTradesSince returns closed LIVE trades since a cutoff, feeding
// the weekly execution-quality report's slippage and time-of-day
// rollups (§4.12).
func (r *TradeRepository) ClosedTradesSince(since time.Time) ([]types.Trade, error) {
	rows, err := r.db.Conn().Query(`
		SELECT symbol, timestamp, slippage_bps, realized_pnl
		FROM trades
		WHERE status = ? AND mode = ? AND closed_at >= ?
		ORDER BY closed_at ASC`,
		string(types.TradeStatusClosed), string(types.ModeLive), since.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("querying closed trades since: %w", err)
	}
	defer rows.Close()

	var out []types.Trade
	for rows.Next() {
		var t types.Trade
		var ts, slippage, pnl string
		if err := rows.Scan(&t.Symbol, &ts, &slippage, &pnl); err != nil {
			return nil, fmt.Errorf("scanning closed trade: %w", err)
		}
		t.Timestamp, _ = time.Parse(time.RFC3339, ts)
		t.SlippageBps, _ = decimal.NewFromString(slippage)
		t.RealizedPnL, _ = decimal.NewFromString(pnl)
		out = append(out, t)
	}
	return out, rows.Err()
}

// DrawdownSince computes max drawdown (against baseEquity) from closed
// LIVE trades of strategyName since the given time, feeding the
// Drawdown Monitor's 7-day rolling check (§4.9).
func (r *TradeRepository) DrawdownSince(strategyName string, since time.Time, baseEquity decimal.Decimal) (maxDrawdownPct decimal.Decimal, err error) {
	rows, err := r.db.Conn().Query(`
		SELECT realized_pnl FROM trades
		WHERE status = ? AND mode = ? AND strategy_name = ? AND closed_at >= ?
		ORDER BY closed_at ASC`,
		string(types.TradeStatusClosed), string(types.ModeLive), strategyName, since.UTC().Format(time.RFC3339))
	if err != nil {
		return decimal.Zero, fmt.Errorf("reading live trades for drawdown: %w", err)
	}
	defer rows.Close()

	equity := baseEquity
	peak := baseEquity
	maxDD := decimal.Zero
	for rows.Next() {
		var pnlStr sql.NullString
		if err := rows.Scan(&pnlStr); err != nil {
			return decimal.Zero, fmt.Errorf("scanning live pnl: %w", err)
		}
		if !pnlStr.Valid {
			continue
		}
		pnl, convErr := decimal.NewFromString(pnlStr.String)
		if convErr != nil {
			continue
		}
		equity = equity.Add(pnl)
		if equity.GreaterThan(peak) {
			peak = equity
		}
		if peak.GreaterThan(decimal.Zero) {
			dd := peak.Sub(equity).Div(peak).Mul(decimal.NewFromInt(100))
			if dd.GreaterThan(maxDD) {
				maxDD = dd
			}
		}
	}
	return maxDD, rows.Err()
}
