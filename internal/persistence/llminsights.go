package persistence

import (
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/twtrader/orchestrator/pkg/types"
)

// LlmInsightRepository persists every LLM round-trip (§3): a row is
// written on both success and failure paths.
type LlmInsightRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewLlmInsightRepository constructs an LlmInsightRepository.
func NewLlmInsightRepository(db *DB, logger *zap.Logger) *LlmInsightRepository {
	return &LlmInsightRepository{db: db, logger: logger.Named("llm_insights")}
}

// Create inserts an LlmInsight row.
func (r *LlmInsightRepository) Create(i types.LlmInsight) (int64, error) {
	var symbol, confidence, recommendation, explanation, errMsg sql.NullString
	if i.Symbol != "" {
		symbol = nullString(i.Symbol)
	}
	if i.Confidence != nil {
		confidence = nullString(i.Confidence.String())
	}
	if i.Recommendation != "" {
		recommendation = nullString(i.Recommendation)
	}
	if i.Explanation != "" {
		explanation = nullString(i.Explanation)
	}
	if i.ErrorMessage != "" {
		errMsg = nullString(i.ErrorMessage)
	}
	successInt := 0
	if i.Success {
		successInt = 1
	}

	res, err := r.db.Conn().Exec(`
		INSERT INTO llm_insights
		(timestamp, insight_type, source, symbol, prompt, model_name, response_json,
		 confidence, recommendation, explanation, processing_time_ms, success, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		i.Timestamp.UTC().Format(time.RFC3339), i.InsightType, i.Source, symbol, i.Prompt,
		i.ModelName, i.ResponseJSON, confidence, recommendation, explanation,
		i.ProcessingTimeMs, successInt, errMsg,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting llm insight: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading llm insight id: %w", err)
	}
	if !i.Success {
		r.logger.Warn("llm call failed", zap.String("insightType", i.InsightType), zap.String("error", i.ErrorMessage))
	}
	return id, nil
}
