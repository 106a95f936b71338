package risk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	brokerclient "github.com/twtrader/orchestrator/internal/clients/broker"
	llmclient "github.com/twtrader/orchestrator/internal/clients/llm"
	"github.com/twtrader/orchestrator/internal/newsveto"
	"github.com/twtrader/orchestrator/internal/persistence"
	"github.com/twtrader/orchestrator/pkg/types"
)

func newTestManager(t *testing.T, approveLLM bool) (*Manager, *persistence.TradeRepository) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := persistence.Open(path, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })

	logger := zap.NewNop()
	trades := persistence.NewTradeRepository(db, logger)
	blackout := persistence.NewEarningsBlackoutRepository(db, logger)
	settings := persistence.NewBotSettingsRepository(db, logger)
	events := persistence.NewEventRepository(db, logger)
	insights := persistence.NewLlmInsightRepository(db, logger)

	brokerSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(brokerclient.Account{})
	}))
	t.Cleanup(brokerSrv.Close)
	broker := brokerclient.New(brokerSrv.URL, 0, 1, logger)
	_ = broker.Health(context.Background())

	decision := "APPROVE"
	if !approveLLM {
		decision = "VETO: too risky"
	}
	llmSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]string{"response": `{"decision":"` + decision + `"}`}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(llmSrv.Close)
	llm := llmclient.New(llmSrv.URL, "test-model", insights, logger)
	veto := newsveto.New(broker, llm, events, 0, logger)

	mgr := New(trades, blackout, settings, events, broker, veto, nil, decimal.NewFromInt(1000), types.TradingModeStock, logger)
	return mgr, trades
}

func TestManager_CheckOrder_ApprovesWhenAllGatesPass(t *testing.T) {
	mgr, _ := newTestManager(t, true)
	result := mgr.CheckOrder(context.Background(), OrderProposal{
		Symbol: "2330", Direction: types.DirectionLong, ShareSize: 100, PositionAfter: decimal.NewFromInt(100),
	})
	require.True(t, result.Approved)
}

func TestManager_CheckOrder_RefusesWhenPaused(t *testing.T) {
	mgr, _ := newTestManager(t, true)
	mgr.Pause()
	result := mgr.CheckOrder(context.Background(), OrderProposal{Symbol: "2330", Direction: types.DirectionLong})
	require.False(t, result.Approved)
	require.Equal(t, "bot_state", result.Gate)
}

func TestManager_CheckOrder_RefusesShortInStockMode(t *testing.T) {
	mgr, _ := newTestManager(t, true)
	result := mgr.CheckOrder(context.Background(), OrderProposal{Symbol: "2330", Direction: types.DirectionShort})
	require.False(t, result.Approved)
	require.Equal(t, "regulatory_short_in_stock_mode", result.Gate)
}

func TestManager_CheckOrder_RefusesOnLLMVeto(t *testing.T) {
	mgr, _ := newTestManager(t, false)
	result := mgr.CheckOrder(context.Background(), OrderProposal{Symbol: "2330", Direction: types.DirectionLong})
	require.False(t, result.Approved)
	require.Equal(t, "llm_risk_approval", result.Gate)
}

func TestManager_CheckOrder_RefusesWhenBrokerDisconnected(t *testing.T) {
	mgr, _ := newTestManager(t, true)
	// exhaust retries against an unreachable address to flip the
	// connection flag, then exercise the gate
	disconnected := brokerclient.New("http://127.0.0.1:1", 100*time.Millisecond, 1, zap.NewNop())
	_ = disconnected.Health(context.Background())
	mgr.broker = disconnected

	result := mgr.CheckOrder(context.Background(), OrderProposal{Symbol: "2330", Direction: types.DirectionLong})
	require.False(t, result.Approved)
	require.Equal(t, "broker_connectivity", result.Gate)
}

func TestManager_GoLiveEligible_FailsBelowTradeCount(t *testing.T) {
	mgr, _ := newTestManager(t, true)
	eligible, reason, err := mgr.GoLiveEligible()
	require.NoError(t, err)
	require.False(t, eligible)
	require.Contains(t, reason, "closed simulation trades")
}

func TestManager_PauseResume_RoundTrips(t *testing.T) {
	mgr, _ := newTestManager(t, true)
	require.Equal(t, types.BotStateRunning, mgr.State())
	mgr.Pause()
	require.Equal(t, types.BotStatePaused, mgr.State())
	mgr.Resume()
	require.Equal(t, types.BotStateRunning, mgr.State())
}
