package adminapi

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

	"github.com/twtrader/orchestrator/internal/persistence"
	"github.com/twtrader/orchestrator/pkg/types"
)

func TestServer_Healthz_ReportsOK(t *testing.T) {
	s := New(":0", nil, nil, nil, nil, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, "ok", body["status"])
}

func TestServer_Status_ReportsActiveStrategyAndSymbol(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "adminapi.db")
	db, err := persistence.Open(dbPath, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })

	settings := persistence.NewBotSettingsRepository(db, zap.NewNop())
	active := persistence.NewActiveStrategyConfigRepository(db, zap.NewNop())
	trades := persistence.NewTradeRepository(db, zap.NewNop())

	require.NoError(t, settings.Set(types.SettingCurrentActiveStock, "2330.TW"))
	require.NoError(t, active.Upsert(types.ActiveStrategyConfig{StrategyName: "MA Crossover", UpdatedAt: time.Now()}))

	s := New(":0", nil, nil, trades, settings, active, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, "2330.TW", body["symbol"])
	require.Equal(t, "MA Crossover", body["active_strategy"])
}

func TestServer_Metrics_ServesPrometheusFormat(t *testing.T) {
	s := New(":0", nil, nil, nil, nil, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_StartStop_BindsAndShutsDownCleanly(t *testing.T) {
	s := New("127.0.0.1:0", nil, nil, nil, nil, nil, zap.NewNop())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, <-errCh)
}
