package execution

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
	"github.com/twtrader/orchestrator/internal/risk"
	"github.com/twtrader/orchestrator/internal/sizing"
	"github.com/twtrader/orchestrator/pkg/types"
)

type testHarness struct {
	executor *Executor
	trades   *persistence.TradeRepository
	settings *persistence.BotSettingsRepository
}

func newTestHarness(t *testing.T, brokerURL string, dryRunValid bool) *testHarness {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "execution.db")
	db, err := persistence.Open(dbPath, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })

	logger := zap.NewNop()
	trades := persistence.NewTradeRepository(db, logger)
	settings := persistence.NewBotSettingsRepository(db, logger)
	events := persistence.NewEventRepository(db, logger)
	blackout := persistence.NewEarningsBlackoutRepository(db, logger)
	insights := persistence.NewLlmInsightRepository(db, logger)

	broker := brokerclient.New(brokerURL, 3*time.Second, 1, logger)
	_ = broker.Health(context.Background())

	llmSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]string{"response": `{"decision":"APPROVE"}`}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(llmSrv.Close)
	llm := llmclient.New(llmSrv.URL, "test-model", insights, logger)
	veto := newsveto.New(broker, llm, events, 0, logger)

	riskMgr := risk.New(trades, blackout, settings, events, broker, veto, nil, decimal.NewFromInt(1000), types.TradingModeStock, logger)
	sizer := sizing.NewPositionSizer(logger, sizing.DefaultSizingConfig())

	return &testHarness{
		executor: New(broker, trades, settings, events, riskMgr, sizer, nil, logger),
		trades:   trades,
		settings: settings,
	}
}

func TestExecutor_ExecuteCandidate_SimulationModeIsNoop(t *testing.T) {
	h := newTestHarness(t, "http://127.0.0.1:1", true)
	signal := types.TradeSignal{Symbol: "2330", Direction: types.DirectionLong, Confidence: decimal.NewFromFloat(0.8), StrategyName: "MA Crossover"}

	h.executor.ExecuteCandidate(context.Background(), signal, decimal.NewFromInt(500), types.NewPortfolio("MA Crossover"))

	open, err := h.trades.OpenLiveTrades()
	require.NoError(t, err)
	require.Empty(t, open, "bot-wide simulation mode never opens a live trade")
	require.Equal(t, 0, h.executor.Snapshot().ShadowFills, "the scheduler, not ExecuteCandidate, records the shadow fill")
}

func TestExecutor_RecordShadowFill_PersistsSimulationTrade(t *testing.T) {
	h := newTestHarness(t, "http://127.0.0.1:1", true)
	signal := types.TradeSignal{Symbol: "2330", Direction: types.DirectionLong, Confidence: decimal.NewFromFloat(0.8), StrategyName: "MA Crossover"}

	h.executor.RecordShadowFill(signal, decimal.NewFromInt(500))

	open, err := h.trades.OpenLiveTrades()
	require.NoError(t, err)
	require.Empty(t, open, "simulated fills must never appear as open live trades")
	require.Equal(t, 1, h.executor.Snapshot().ShadowFills)
}

func TestExecutor_ExecuteCandidate_LiveModeApprovedSubmitsAndRecords(t *testing.T) {
	brokerSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/order/dry-run":
			_ = json.NewEncoder(w).Encode(brokerclient.OrderEcho{Valid: true})
		case "/order":
			_ = json.NewEncoder(w).Encode(brokerclient.OrderEcho{Valid: true, OrderID: "ord-1"})
		default:
			_ = json.NewEncoder(w).Encode(brokerclient.Account{})
		}
	}))
	defer brokerSrv.Close()

	h := newTestHarness(t, brokerSrv.URL, true)
	require.NoError(t, h.settings.Set(types.SettingTradeMode, string(types.ModeLive)))

	signal := types.TradeSignal{Symbol: "2330", Direction: types.DirectionLong, Confidence: decimal.NewFromFloat(0.8), StrategyName: "MA Crossover"}
	h.executor.ExecuteCandidate(context.Background(), signal, decimal.NewFromInt(500), types.NewPortfolio("MA Crossover"))

	open, err := h.trades.OpenLiveTrades()
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.Equal(t, types.ModeLive, open[0].Mode)
	require.Equal(t, 1, h.executor.Snapshot().OrdersFilled)
}

func TestExecutor_ExecuteCandidate_DryRunRejectionAborts(t *testing.T) {
	brokerSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/order/dry-run":
			_ = json.NewEncoder(w).Encode(brokerclient.OrderEcho{Valid: false, Reason: "insufficient margin"})
		default:
			_ = json.NewEncoder(w).Encode(brokerclient.Account{})
		}
	}))
	defer brokerSrv.Close()

	h := newTestHarness(t, brokerSrv.URL, false)
	require.NoError(t, h.settings.Set(types.SettingTradeMode, string(types.ModeLive)))

	signal := types.TradeSignal{Symbol: "2330", Direction: types.DirectionLong, Confidence: decimal.NewFromFloat(0.8), StrategyName: "MA Crossover"}
	h.executor.ExecuteCandidate(context.Background(), signal, decimal.NewFromInt(500), types.NewPortfolio("MA Crossover"))

	open, err := h.trades.OpenLiveTrades()
	require.NoError(t, err)
	require.Empty(t, open)
	require.Equal(t, 0, h.executor.Snapshot().OrdersFilled)
}

func TestSlippageBps_ComputesBasisPoints(t *testing.T) {
	bps := SlippageBps(decimal.NewFromInt(500), decimal.NewFromInt(505))
	require.True(t, bps.Equal(decimal.NewFromInt(100)), "5 on 500 is 1%% = 100bps, got %s", bps)
}
