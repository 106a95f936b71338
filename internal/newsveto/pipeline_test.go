package newsveto

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	brokerclient "github.com/twtrader/orchestrator/internal/clients/broker"
	llmclient "github.com/twtrader/orchestrator/internal/clients/llm"
	"github.com/twtrader/orchestrator/internal/persistence"
)

func newTestRepos(t *testing.T) (*persistence.DB, *persistence.LlmInsightRepository, *persistence.EventRepository) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := persistence.Open(path, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })
	return db, persistence.NewLlmInsightRepository(db, zap.NewNop()), persistence.NewEventRepository(db, zap.NewNop())
}

func TestPipeline_Refresh_CachesVerdict(t *testing.T) {
	_, insights, events := newTestRepos(t)

	brokerSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(brokerclient.NewsSignal{HeadlinesCount: 5})
	}))
	defer brokerSrv.Close()

	llmSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":"{\"veto\":false,\"score\":0.8,\"reason\":\"calm\"}"}`))
	}))
	defer llmSrv.Close()

	bc := brokerclient.New(brokerSrv.URL, 3*time.Second, 1, zap.NewNop())
	lc := llmclient.New(llmSrv.URL, "llama3", insights, zap.NewNop())
	p := New(bc, lc, events, 10*time.Minute, zap.NewNop())

	p.Refresh(context.Background())
	veto, score, _ := p.Current()
	require.False(t, veto)
	require.Equal(t, 0.8, score)
}

func TestPipeline_Current_DefaultsNeutralWithNoVerdict(t *testing.T) {
	_, _, events := newTestRepos(t)
	p := New(nil, nil, events, 10*time.Minute, zap.NewNop())
	veto, score, _ := p.Current()
	require.False(t, veto)
	require.Equal(t, 0.5, score)
}
