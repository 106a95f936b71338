package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/twtrader/orchestrator/pkg/types"
)

// EarningsBlackoutRepository persists the EarningsBlackoutMeta snapshot
// and its child blackout dates (§3).
type EarningsBlackoutRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewEarningsBlackoutRepository constructs the repository.
func NewEarningsBlackoutRepository(db *DB, logger *zap.Logger) *EarningsBlackoutRepository {
	return &EarningsBlackoutRepository{db: db, logger: logger.Named("earnings_blackout")}
}

// Replace writes a fresh snapshot plus its de-duplicated, sorted date
// set, atomically.
func (r *EarningsBlackoutRepository) Replace(meta types.EarningsBlackoutMeta) error {
	tickersJSON, err := json.Marshal(meta.TickersChecked)
	if err != nil {
		return fmt.Errorf("marshaling tickers checked: %w", err)
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning blackout replace transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO earnings_blackout_meta (id, last_updated, ttl_days, source, tickers_checked_json)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_updated=excluded.last_updated, ttl_days=excluded.ttl_days,
			source=excluded.source, tickers_checked_json=excluded.tickers_checked_json`,
		meta.LastUpdated.UTC().Format(time.RFC3339), meta.TTLDays, meta.Source, string(tickersJSON),
	); err != nil {
		return fmt.Errorf("writing blackout meta: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM earnings_blackout_date WHERE meta_id = 1`); err != nil {
		return fmt.Errorf("clearing blackout dates: %w", err)
	}

	dedup := dedupSortDates(meta.Dates)
	for _, d := range dedup {
		if _, err := tx.Exec(`INSERT INTO earnings_blackout_date (meta_id, date) VALUES (1, ?)`, d.UTC().Format("2006-01-02")); err != nil {
			return fmt.Errorf("inserting blackout date: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing blackout replace: %w", err)
	}
	return nil
}

func dedupSortDates(dates []time.Time) []time.Time {
	seen := make(map[string]time.Time)
	for _, d := range dates {
		key := d.UTC().Format("2006-01-02")
		seen[key] = d
	}
	out := make([]time.Time, 0, len(seen))
	for _, d := range seen {
		out = append(out, d)
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].Before(out[i]) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}

// Load returns the current snapshot, or nil if none exists yet.
func (r *EarningsBlackoutRepository) Load() (*types.EarningsBlackoutMeta, error) {
	row := r.db.Conn().QueryRow(`
		SELECT last_updated, ttl_days, source, tickers_checked_json FROM earnings_blackout_meta WHERE id = 1`)

	var meta types.EarningsBlackoutMeta
	var lastUpdated, tickersJSON string
	err := row.Scan(&lastUpdated, &meta.TTLDays, &meta.Source, &tickersJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading blackout meta: %w", err)
	}
	meta.LastUpdated, _ = time.Parse(time.RFC3339, lastUpdated)
	_ = json.Unmarshal([]byte(tickersJSON), &meta.TickersChecked)

	rows, err := r.db.Conn().Query(`SELECT date FROM earnings_blackout_date WHERE meta_id = 1 ORDER BY date ASC`)
	if err != nil {
		return nil, fmt.Errorf("reading blackout dates: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var dateStr string
		if err := rows.Scan(&dateStr); err != nil {
			return nil, fmt.Errorf("scanning blackout date: %w", err)
		}
		d, err := time.Parse("2006-01-02", dateStr)
		if err == nil {
			meta.Dates = append(meta.Dates, d)
		}
	}
	return &meta, rows.Err()
}
