package persistence

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/twtrader/orchestrator/pkg/types"
)

// ShadowModeStockRepository manages the ranked ShadowModeStock set
// (§3). ReplaceAll is the only write path: the set is replaced
// atomically, never appended (§4.9 step 5).
type ShadowModeStockRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewShadowModeStockRepository constructs the repository.
func NewShadowModeStockRepository(db *DB, logger *zap.Logger) *ShadowModeStockRepository {
	return &ShadowModeStockRepository{db: db, logger: logger.Named("shadow_mode_stock")}
}

// ReplaceAll deletes every existing row and inserts the new set inside
// a single transaction, the atomic delete-all+insert-all rule of §4.9
// step 5.
func (r *ShadowModeStockRepository) ReplaceAll(stocks []types.ShadowModeStock) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning shadow stock replace transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM shadow_mode_stock`); err != nil {
		return fmt.Errorf("clearing shadow mode stock: %w", err)
	}
	for _, s := range stocks {
		enabledInt := 0
		if s.Enabled {
			enabledInt = 1
		}
		if _, err := tx.Exec(`
			INSERT INTO shadow_mode_stock (symbol, strategy_name, rank_position, enabled, expected_return_pct)
			VALUES (?, ?, ?, ?, ?)`,
			s.Symbol, s.StrategyName, s.RankPosition, enabledInt, s.ExpectedReturnPct.String(),
		); err != nil {
			return fmt.Errorf("inserting shadow mode stock rank %d: %w", s.RankPosition, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing shadow stock replace: %w", err)
	}
	r.logger.Info("shadow mode stock set replaced", zap.Int("count", len(stocks)))
	return nil
}

// All returns the current ranked set, ordered by rank.
func (r *ShadowModeStockRepository) All() ([]types.ShadowModeStock, error) {
	rows, err := r.db.Conn().Query(`
		SELECT symbol, strategy_name, rank_position, enabled, expected_return_pct
		FROM shadow_mode_stock ORDER BY rank_position ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying shadow mode stock: %w", err)
	}
	defer rows.Close()

	var out []types.ShadowModeStock
	for rows.Next() {
		var s types.ShadowModeStock
		var enabledInt int
		var expReturn string
		if err := rows.Scan(&s.Symbol, &s.StrategyName, &s.RankPosition, &enabledInt, &expReturn); err != nil {
			return nil, fmt.Errorf("scanning shadow mode stock: %w", err)
		}
		s.Enabled = enabledInt != 0
		s.ExpectedReturnPct, _ = decimal.NewFromString(expReturn)
		out = append(out, s)
	}
	return out, rows.Err()
}
