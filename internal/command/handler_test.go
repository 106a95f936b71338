package command

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
	"github.com/twtrader/orchestrator/internal/clients/llm"
	"github.com/twtrader/orchestrator/internal/clients/notify"
	"github.com/twtrader/orchestrator/internal/execution"
	"github.com/twtrader/orchestrator/internal/newsveto"
	"github.com/twtrader/orchestrator/internal/persistence"
	"github.com/twtrader/orchestrator/internal/risk"
	"github.com/twtrader/orchestrator/internal/sizing"
	"github.com/twtrader/orchestrator/internal/strategy"
	"github.com/twtrader/orchestrator/pkg/types"
)

const testChatID = "chat-42"

type testHandler struct {
	h        *Handler
	settings *persistence.BotSettingsRepository
	active   *persistence.ActiveStrategyConfigRepository
	trades   *persistence.TradeRepository
	notifier *notify.Client
}

func newTestHandler(t *testing.T, llmResponse string) *testHandler {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "command.db")
	db, err := persistence.Open(dbPath, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })

	logger := zap.NewNop()
	settings := persistence.NewBotSettingsRepository(db, logger)
	trades := persistence.NewTradeRepository(db, logger)
	activeRepo := persistence.NewActiveStrategyConfigRepository(db, logger)
	events := persistence.NewEventRepository(db, logger)
	insights := persistence.NewLlmInsightRepository(db, logger)
	blackout := persistence.NewEarningsBlackoutRepository(db, logger)
	stockMapping := persistence.NewStrategyStockMappingRepository(db, logger)

	notifyServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/updates":
			_ = json.NewEncoder(w).Encode(map[string]any{"updates": []notify.Update{}})
		case "/send":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(notifyServer.Close)
	notifier := notify.New(notifyServer.URL, "test-token", testChatID, 3*time.Second, logger)

	llmServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"response": llmResponse})
	}))
	t.Cleanup(llmServer.Close)
	llmClient := llm.New(llmServer.URL, "test-model", insights, logger)

	brokerServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
	}))
	t.Cleanup(brokerServer.Close)
	brokerClient := brokerclient.New(brokerServer.URL, 3*time.Second, 1, logger)

	veto := newsveto.New(brokerClient, llmClient, events, 10*time.Minute, logger)
	riskMgr := risk.New(trades, blackout, settings, events, brokerClient, veto, notifier, decimal.NewFromInt(1000), types.TradingModeStock, logger)
	executor := execution.New(brokerClient, trades, settings, events, riskMgr, sizing.NewPositionSizer(logger, sizing.DefaultSizingConfig()), notifier, logger)

	registry := strategy.NewRegistry()
	registry.Register("MA Crossover", func() strategy.Strategy { return nil })

	loc, err := time.LoadLocation("Asia/Taipei")
	require.NoError(t, err)

	h := New(notifier, riskMgr, executor, llmClient, nil, settings, trades, activeRepo, registry, events, stockMapping, testChatID, loc, logger)
	return &testHandler{h: h, settings: settings, active: activeRepo, trades: trades, notifier: notifier}
}

func TestHandler_Run_StatusReportsModeAndStrategy(t *testing.T) {
	th := newTestHandler(t, "{}")
	require.NoError(t, th.active.Upsert(types.ActiveStrategyConfig{StrategyName: "MA Crossover", UpdatedAt: time.Now()}))
	require.NoError(t, th.settings.Set(types.SettingCurrentActiveStock, "2330"))

	out := th.h.run(context.Background(), testChatID, "status", nil)
	require.Contains(t, out, "SIMULATION")
	require.Contains(t, out, "MA Crossover")
}

func TestHandler_Run_PauseThenResume(t *testing.T) {
	th := newTestHandler(t, "{}")
	out := th.h.run(context.Background(), testChatID, "pause", nil)
	require.Contains(t, out, "paused")
	require.Equal(t, types.BotStatePaused, th.h.riskMgr.State())

	out = th.h.run(context.Background(), testChatID, "resume", nil)
	require.Contains(t, out, "resumed")
	require.Equal(t, types.BotStateRunning, th.h.riskMgr.State())
}

func TestHandler_Run_ChangeShareRejectsNonPositive(t *testing.T) {
	th := newTestHandler(t, "{}")
	out := th.h.run(context.Background(), testChatID, "change-share", []string{"-5"})
	require.Contains(t, out, "positive")

	out = th.h.run(context.Background(), testChatID, "change-share", []string{"10"})
	require.Contains(t, out, "updated to 10")
	v, ok, err := th.settings.Get(types.SettingBaseShareQuantity)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "10", v)
}

func TestHandler_Run_GoLiveRequiresEligibility(t *testing.T) {
	th := newTestHandler(t, "{}")
	out := th.h.run(context.Background(), testChatID, "golive", nil)
	require.Contains(t, out, "not eligible")
}

func TestHandler_Run_ConfirmLiveWithoutPendingGoLiveFails(t *testing.T) {
	th := newTestHandler(t, "{}")
	out := th.h.run(context.Background(), testChatID, "confirmlive", nil)
	require.Contains(t, out, "no pending go-live")
}

func TestHandler_Run_TalkRateLimitsPerUser(t *testing.T) {
	th := newTestHandler(t, "the answer")
	for i := 0; i < maxTalkPerDay; i++ {
		out := th.h.run(context.Background(), testChatID, "talk", []string{"question"})
		require.Equal(t, "the answer", out)
	}
	out := th.h.run(context.Background(), testChatID, "talk", []string{"one more"})
	require.Contains(t, out, "limit reached")
}

func TestHandler_DispatchOne_IgnoresUnauthorizedChat(t *testing.T) {
	th := newTestHandler(t, "{}")
	th.h.dispatchOne(context.Background(), notify.Update{ChatID: "someone-else", Text: "shutdown"})
	require.NotEqual(t, types.BotStateStopped, th.h.riskMgr.State())
}
