// Package main is the entry point for the Taiwan equity/futures trading
// orchestration core: it wires persistence, the broker bridge and LLM
// clients, the risk/execution/selector pipeline, the scheduler, the
// chat command handler, and the read-only admin API, then runs until a
// shutdown signal arrives.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/twtrader/orchestrator/internal/adminapi"
	"github.com/twtrader/orchestrator/internal/blackout"
	"github.com/twtrader/orchestrator/internal/clients/broker"
	"github.com/twtrader/orchestrator/internal/clients/dataops"
	"github.com/twtrader/orchestrator/internal/clients/llm"
	"github.com/twtrader/orchestrator/internal/clients/notify"
	"github.com/twtrader/orchestrator/internal/command"
	"github.com/twtrader/orchestrator/internal/config"
	"github.com/twtrader/orchestrator/internal/eod"
	"github.com/twtrader/orchestrator/internal/execution"
	"github.com/twtrader/orchestrator/internal/marketcontext"
	"github.com/twtrader/orchestrator/internal/metrics"
	"github.com/twtrader/orchestrator/internal/newsveto"
	"github.com/twtrader/orchestrator/internal/persistence"
	"github.com/twtrader/orchestrator/internal/risk"
	"github.com/twtrader/orchestrator/internal/scheduler"
	"github.com/twtrader/orchestrator/internal/selector"
	"github.com/twtrader/orchestrator/internal/sizing"
	"github.com/twtrader/orchestrator/internal/strategy"
	"github.com/twtrader/orchestrator/internal/stratmanager"
	"github.com/twtrader/orchestrator/pkg/types"
)

// notifyHTTPTimeout bounds the chat transport's own HTTP round-trips;
// the polling cadence itself is config.NotifyConfig.PollInterval.
const notifyHTTPTimeout = 10 * time.Second

// symbolNames backfills the Bar/MarketData name column (§4.10) for the
// handful of Taiwan tickers this core is expected to trade; an unlisted
// symbol is inserted as-is and logged, never rejected.
var symbolNames = map[string]string{
	"2330.TW": "Taiwan Semiconductor Manufacturing",
	"2317.TW": "Hon Hai Precision Industry",
	"2454.TW": "MediaTek",
	"2881.TW": "Fubon Financial Holding",
	"2882.TW": "Cathay Financial Holding",
	"1301.TW": "Formosa Plastics",
	"2412.TW": "Chunghwa Telecom",
	"TXF": "Taiwan Stock Exchange Futures",
}

func main() {
	configPath := flag.String("config", "", "Path to the YAML config file")
	passphrase := flag.String("passphrase", "", "Secret passphrase (recorded only; decryption is out of scope)")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	cfg, err := config.Load(*configPath, *passphrase, logger)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	loc, err := time.LoadLocation("Asia/Taipei")
	if err != nil {
		logger.Fatal("failed to load Asia/Taipei location", zap.Error(err))
	}

	metrics.Init()

	db, err := persistence.Open(cfg.DatabasePath, logger)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer func() { _ = db.Close() }()
	if err := db.Migrate(); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	trades := persistence.NewTradeRepository(db, logger)
	signalsRepo := persistence.NewSignalRepository(db, logger)
	events := persistence.NewEventRepository(db, logger)
	insights := persistence.NewLlmInsightRepository(db, logger)
	blackoutRepo := persistence.NewEarningsBlackoutRepository(db, logger)
	dailyStats := persistence.NewDailyStatisticsRepository(db, logger)
	settings := persistence.NewBotSettingsRepository(db, logger)
	active := persistence.NewActiveStrategyConfigRepository(db, logger)
	perf := persistence.NewStrategyPerformanceRepository(db, logger)
	stockMapping := persistence.NewStrategyStockMappingRepository(db, logger)
	shadow := persistence.NewShadowModeStockRepository(db, logger)
	bars := persistence.NewBarRepository(db, logger, symbolNames)

	seedRiskLimits(settings, cfg, logger)

	brokerClient := broker.New(cfg.Broker.BaseURL, cfg.Broker.RequestTimeout, cfg.Broker.MaxRetries, logger)
	llmClient := llm.New(cfg.LLM.BaseURL, cfg.LLM.Model, insights, logger)
	notifyClient := notify.New(cfg.Notify.BaseURL, cfg.Notify.AuthToken, cfg.Notify.AuthorizedChatID, notifyHTTPTimeout, logger)

	var dataOpsClient *dataops.Client
	if cfg.DataOps.BaseURL != "" {
		dataOpsClient = dataops.New(cfg.DataOps.BaseURL, cfg.DataOps.Timeout, logger)
	} else {
		logger.Warn("data operations service not configured; populate-data/run-backtests/select-best-strategy/full-pipeline commands will report unconfigured")
	}

	vetoPipeline := newsveto.New(brokerClient, llmClient, events, cfg.NewsVetoTTL, logger)
	riskMgr := risk.New(trades, blackoutRepo, settings, events, brokerClient, vetoPipeline, notifyClient, cfg.RiskLimits.MaxPositionQty, cfg.TradingMode, logger)
	sizer := sizing.NewPositionSizer(logger, sizing.DefaultSizingConfig())
	executor := execution.New(brokerClient, trades, settings, events, riskMgr, sizer, notifyClient, logger)
	marketCtx := marketcontext.New(brokerClient, trades, vetoPipeline, bars, logger)

	registry := strategy.DefaultRegistry()
	stratMgr := stratmanager.New(registry, settings, events, logger)
	sel := selector.New(perf, active, shadow, trades, events, executor, notifyClient, cfg.Selector, cfg.ShadowBaseEquity, logger)

	sched, err := scheduler.New(cfg, marketCtx, stratMgr, executor, riskMgr, vetoPipeline, sel, settings, active, signalsRepo, logger)
	if err != nil {
		logger.Fatal("failed to construct scheduler", zap.Error(err))
	}

	reporter := eod.New(trades, signalsRepo, dailyStats, settings, active, marketCtx, executor, llmClient, notifyClient, cfg.TradingMode, loc, logger)
	blackoutRefresher := blackout.New(brokerClient, blackoutRepo, settings, shadow, cfg.BlackoutTTLDays, logger)
	sched.SetReportHooks(reporter.RunDailyStatistics, reporter.RunWeeklyExecutionReport, blackoutRefresher.Refresh)

	cmdHandler := command.New(notifyClient, riskMgr, executor, llmClient, dataOpsClient, settings, trades, active, registry, events, stockMapping, cfg.Notify.AuthorizedChatID, loc, logger)

	adminServer := adminapi.New(cfg.AdminAPI.Addr, riskMgr, executor, trades, settings, active, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sched.Start(ctx); err != nil {
		logger.Fatal("failed to start scheduler", zap.Error(err))
	}

	go func() {
		if err := adminServer.Start(); err != nil {
			logger.Error("admin API server error", zap.Error(err))
		}
	}()

	go runCommandPoller(ctx, cmdHandler, cfg.Notify.PollInterval, logger)

	logger.Info("orchestrator started",
		zap.String("trading_mode", string(cfg.TradingMode)),
		zap.String("admin_api_addr", cfg.AdminAPI.Addr),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutdown signal received")

	cancel()
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := adminServer.Stop(shutdownCtx); err != nil {
		logger.Error("error shutting down admin API", zap.Error(err))
	}

	logger.Info("orchestrator stopped")
}

// runCommandPoller drives Handler.PollAndDispatch on the configured
// cadence until ctx is cancelled; a poll failure is logged and the
// loop continues rather than exiting the process.
func runCommandPoller(ctx context.Context, h *command.Handler, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.PollAndDispatch(ctx); err != nil {
				logger.Warn("command poll failed", zap.Error(err))
			}
		}
	}
}

// seedRiskLimits writes the configured loss/profit limits into
// BotSettings on first boot only: an already-present key is left
// untouched so a limit already stored in BotSettings survives a
// restart unchanged.
func seedRiskLimits(settings *persistence.BotSettingsRepository, cfg *config.Config, logger *zap.Logger) {
	seed := map[string]decimal.Decimal{
		types.SettingDailyLossLimit:     cfg.RiskLimits.DailyLossLimit,
		types.SettingWeeklyLossLimit:    cfg.RiskLimits.WeeklyLossLimit,
		types.SettingMonthlyLossLimit:   cfg.RiskLimits.MonthlyLossLimit,
		types.SettingWeeklyProfitLimit:  cfg.RiskLimits.WeeklyProfitLimit,
		types.SettingMonthlyProfitLimit: cfg.RiskLimits.MonthlyProfitLimit,
	}
	for key, value := range seed {
		if _, ok, err := settings.Get(key); err == nil && ok {
			continue
		}
		if err := settings.Set(key, value.String()); err != nil {
			logger.Warn("failed to seed risk limit setting", zap.String("key", key), zap.Error(err))
		}
	}
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
