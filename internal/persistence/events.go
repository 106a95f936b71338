package persistence

import (
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/twtrader/orchestrator/pkg/types"
)

// EventRepository persists the append-only Event audit log (§3).
type EventRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewEventRepository constructs an EventRepository.
func NewEventRepository(db *DB, logger *zap.Logger) *EventRepository {
	return &EventRepository{db: db, logger: logger.Named("events")}
}

// Create inserts an Event row. Per §7, every failure, even a recovered
// one, must produce at least one Event row — callers are expected to
// call this on every error path, not just terminal ones.
func (r *EventRepository) Create(e types.Event) (int64, error) {
	var userID, errorCode sql.NullString
	var responseTime sql.NullInt64
	if e.UserID != "" {
		userID = nullString(e.UserID)
	}
	if e.ErrorCode != "" {
		errorCode = nullString(e.ErrorCode)
	}
	if e.ResponseTimeMs != nil {
		responseTime = sql.NullInt64{Int64: *e.ResponseTimeMs, Valid: true}
	}

	res, err := r.db.Conn().Exec(`
		INSERT INTO events (timestamp, type, severity, category, message, details_json, component, user_id, response_time_ms, error_code)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Timestamp.UTC().Format(time.RFC3339), string(e.Type), e.Severity, e.Category, e.Message,
		e.DetailsJSON, e.Component, userID, responseTime, errorCode,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading event id: %w", err)
	}
	if e.Type == types.EventError || e.Type == types.EventWarning {
		r.logger.Warn("event recorded", zap.String("type", string(e.Type)), zap.String("category", e.Category), zap.String("message", e.Message))
	}
	return id, nil
}

// RecentByType returns the most recent N events of the given type,
// newest first — used by the command handler's `status`/`agent` reads
// and by tests asserting an Event(ERROR)/Event(VETO) was recorded.
func (r *EventRepository) RecentByType(eventType types.EventType, limit int) ([]types.Event, error) {
	rows, err := r.db.Conn().Query(`
		SELECT id, timestamp, type, severity, category, message, details_json, component
		FROM events WHERE type = ? ORDER BY id DESC LIMIT ?`, string(eventType), limit)
	if err != nil {
		return nil, fmt.Errorf("querying events by type: %w", err)
	}
	defer rows.Close()

	var out []types.Event
	for rows.Next() {
		var e types.Event
		var ts string
		if err := rows.Scan(&e.ID, &ts, &e.Type, &e.Severity, &e.Category, &e.Message, &e.DetailsJSON, &e.Component); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		e.Timestamp, _ = time.Parse(time.RFC3339, ts)
		out = append(out, e)
	}
	return out, rows.Err()
}
