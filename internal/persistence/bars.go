package persistence

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/twtrader/orchestrator/pkg/types"
)

// BarRepository persists Bar/MarketData rows (§3), back-filling a
// missing name from a local symbol->name map before insert (§4.10).
type BarRepository struct {
	db          *DB
	logger      *zap.Logger
	symbolNames map[string]string
}

// NewBarRepository constructs a BarRepository. symbolNames is the
// local symbol-to-name lookup used for missing-name backfill.
func NewBarRepository(db *DB, logger *zap.Logger, symbolNames map[string]string) *BarRepository {
	if symbolNames == nil {
		symbolNames = make(map[string]string)
	}
	return &BarRepository{db: db, logger: logger.Named("bars"), symbolNames: symbolNames}
}

// InsertBatch inserts bars into the given table ("bar" or
// "market_data"), back-filling empty names first; rows without a known
// mapping are inserted as-is and logged, per §4.10.
func (r *BarRepository) InsertBatch(table string, bars []types.Bar) error {
	if table != "bar" && table != "market_data" {
		return fmt.Errorf("unknown bar table %q", table)
	}
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning bar insert transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(fmt.Sprintf(`
		INSERT INTO %s (symbol, timestamp, open, high, low, close, volume, name)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, table))
	if err != nil {
		return fmt.Errorf("preparing bar insert: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		name := b.Name
		if name == "" {
			if mapped, ok := r.symbolNames[b.Symbol]; ok {
				name = mapped
			} else {
				r.logger.Warn("bar has no name and no known symbol mapping; inserting as-is", zap.String("symbol", b.Symbol))
			}
		}
		if _, err := stmt.Exec(b.Symbol, b.Timestamp.UTC().Format(time.RFC3339), b.Open.String(), b.High.String(), b.Low.String(), b.Close.String(), b.Volume.String(), name); err != nil {
			return fmt.Errorf("inserting bar for %s: %w", b.Symbol, err)
		}
	}
	return tx.Commit()
}

// Recent returns the most recent N bars for a symbol, oldest first —
// used to seed the Market Context Provider's rolling buffer on start.
func (r *BarRepository) Recent(table, symbol string, n int) ([]types.Bar, error) {
	if table != "bar" && table != "market_data" {
		return nil, fmt.Errorf("unknown bar table %q", table)
	}
	rows, err := r.db.Conn().Query(fmt.Sprintf(`
		SELECT symbol, timestamp, open, high, low, close, volume, name
		FROM %s WHERE symbol = ? ORDER BY timestamp DESC LIMIT ?`, table), symbol, n)
	if err != nil {
		return nil, fmt.Errorf("querying recent bars: %w", err)
	}
	defer rows.Close()

	var out []types.Bar
	for rows.Next() {
		var b types.Bar
		var ts, o, h, l, c, v string
		if err := rows.Scan(&b.Symbol, &ts, &o, &h, &l, &c, &v, &b.Name); err != nil {
			return nil, fmt.Errorf("scanning bar: %w", err)
		}
		b.Timestamp, _ = time.Parse(time.RFC3339, ts)
		b.Open = mustDecimal(o)
		b.High = mustDecimal(h)
		b.Low = mustDecimal(l)
		b.Close = mustDecimal(c)
		b.Volume = mustDecimal(v)
		out = append(out, b)
	}
	// reverse to oldest-first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}
