package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/twtrader/orchestrator/internal/persistence"
)

func newTestInsightRepo(t *testing.T) *persistence.LlmInsightRepository {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := persistence.Open(path, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })
	return persistence.NewLlmInsightRepository(db, zap.NewNop())
}

func TestStripMarkdownFence(t *testing.T) {
	require.Equal(t, `{"a":1}`, stripMarkdownFence("```json\n{\"a\":1}\n```"))
	require.Equal(t, `{"a":1}`, stripMarkdownFence(`{"a":1}`))
}

func TestClient_EvaluateStructured_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(generateResponse{Response: "```json\n{\"veto\":false,\"score\":0.8}\n```", Done: true})
	}))
	defer srv.Close()

	c := New(srv.URL, "llama3", newTestInsightRepo(t), zap.NewNop())
	result, err := c.EvaluateStructured(context.Background(), PurposeNewsVeto, "evaluate", []string{"veto", "score"}, "news_veto", "test", "2330.TW")
	require.NoError(t, err)
	require.Equal(t, false, result["veto"])
}

func TestClient_EvaluateStructured_MissingSchemaKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(generateResponse{Response: `{"veto":false}`, Done: true})
	}))
	defer srv.Close()

	c := New(srv.URL, "llama3", newTestInsightRepo(t), zap.NewNop())
	_, err := c.EvaluateStructured(context.Background(), PurposeNewsVeto, "evaluate", []string{"veto", "score"}, "news_veto", "test", "2330.TW")
	require.Error(t, err)
}
