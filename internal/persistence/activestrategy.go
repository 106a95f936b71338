package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/twtrader/orchestrator/pkg/types"
)

// ActiveStrategyConfigRepository manages the single-row
// ActiveStrategyConfig (§3).
type ActiveStrategyConfigRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewActiveStrategyConfigRepository constructs the repository.
func NewActiveStrategyConfigRepository(db *DB, logger *zap.Logger) *ActiveStrategyConfigRepository {
	return &ActiveStrategyConfigRepository{db: db, logger: logger.Named("active_strategy_config")}
}

// Upsert writes the single active-strategy row (§4.9 step 4): auto
// selection sets autoSwitched=true, manual switches set it false.
func (r *ActiveStrategyConfigRepository) Upsert(c types.ActiveStrategyConfig) error {
	autoInt := 0
	if c.AutoSwitched {
		autoInt = 1
	}
	_, err := r.db.Conn().Exec(`
		INSERT INTO active_strategy_config (id, strategy_name, parameters_json, auto_switched, switch_reason, snapshot_metrics, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			strategy_name=excluded.strategy_name, parameters_json=excluded.parameters_json,
			auto_switched=excluded.auto_switched, switch_reason=excluded.switch_reason,
			snapshot_metrics=excluded.snapshot_metrics, updated_at=excluded.updated_at`,
		c.StrategyName, c.ParametersJSON, autoInt, c.SwitchReason, c.SnapshotMetrics,
		c.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting active strategy config: %w", err)
	}
	return nil
}

// Get returns the current active strategy, or nil if none has been set.
func (r *ActiveStrategyConfigRepository) Get() (*types.ActiveStrategyConfig, error) {
	row := r.db.Conn().QueryRow(`
		SELECT strategy_name, parameters_json, auto_switched, switch_reason, snapshot_metrics, updated_at
		FROM active_strategy_config WHERE id = 1`)

	var c types.ActiveStrategyConfig
	var autoInt int
	var updatedAt string
	err := row.Scan(&c.StrategyName, &c.ParametersJSON, &autoInt, &c.SwitchReason, &c.SnapshotMetrics, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading active strategy config: %w", err)
	}
	c.AutoSwitched = autoInt != 0
	c.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &c, nil
}
