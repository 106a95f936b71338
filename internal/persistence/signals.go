package persistence

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/twtrader/orchestrator/pkg/types"
)

// SignalRepository persists SignalRecord rows (§3).
type SignalRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewSignalRepository constructs a SignalRepository.
func NewSignalRepository(db *DB, logger *zap.Logger) *SignalRepository {
	return &SignalRepository{db: db, logger: logger.Named("signals")}
}

// Create inserts a SignalRecord, persisted whenever any strategy emits
// a non-neutral signal (§3).
func (r *SignalRepository) Create(s types.SignalRecord) (int64, error) {
	vetoInt := 0
	if s.NewsVeto {
		vetoInt = 1
	}
	res, err := r.db.Conn().Exec(`
		INSERT INTO signals (timestamp, symbol, strategy_name, direction, confidence, price, indicators_json, reason, news_veto)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.Timestamp.UTC().Format(time.RFC3339), s.Symbol, s.StrategyName, string(s.Direction),
		s.Confidence.String(), s.Price.String(), s.IndicatorsJSON, s.Reason, vetoInt,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting signal: %w", err)
	}
	return res.LastInsertId()
}

// CountsOnDate returns the number of non-neutral signals recorded for
// (symbol, strategyName) on tradeDate, how many were acted on (not
// vetoed), and how many were news-vetoed, for the 13:05 DailyStatistics
// computation (§4.12).
func (r *SignalRepository) CountsOnDate(symbol, strategyName string, tradeDate time.Time) (generated, acted, vetoed int, err error) {
	start := time.Date(tradeDate.Year(), tradeDate.Month(), tradeDate.Day(), 0, 0, 0, 0, tradeDate.Location())
	end := start.Add(24 * time.Hour)

	row := r.db.Conn().QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN news_veto = 0 THEN 1 ELSE 0 END), 0), COALESCE(SUM(news_veto), 0)
		FROM signals
		WHERE symbol = ? AND strategy_name = ? AND timestamp >= ? AND timestamp < ?`,
		symbol, strategyName, start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))

	if err := row.Scan(&generated, &acted, &vetoed); err != nil {
		return 0, 0, 0, fmt.Errorf("counting signals on date: %w", err)
	}
	return generated, acted, vetoed, nil
}
