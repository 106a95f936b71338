// Package adminapi is the read-only diagnostic HTTP surface of §4.13:
// /healthz, /status, and a Prometheus /metrics endpoint. Built on a
// mux.NewRouter route registration with rs/cors wrapping and an
// http.Server with Start/Stop, trimmed to this read-only subset — a
// websocket hub or backtest run/cancel endpoints have no place in a
// live-trading diagnostic surface.
package adminapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/twtrader/orchestrator/internal/execution"
	"github.com/twtrader/orchestrator/internal/metrics"
	"github.com/twtrader/orchestrator/internal/persistence"
	"github.com/twtrader/orchestrator/internal/risk"
	"github.com/twtrader/orchestrator/pkg/types"
)

// Server is the admin API's HTTP server.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	logger     *zap.Logger

	riskMgr  *risk.Manager
	executor *execution.Executor
	trades   *persistence.TradeRepository
	settings *persistence.BotSettingsRepository
	active   *persistence.ActiveStrategyConfigRepository
}

// New constructs a Server bound to addr.
func New(
	addr string,
	riskMgr *risk.Manager,
	executor *execution.Executor,
	trades *persistence.TradeRepository,
	settings *persistence.BotSettingsRepository,
	active *persistence.ActiveStrategyConfigRepository,
	logger *zap.Logger,
) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		logger:   logger.Named("adminapi"),
		riskMgr:  riskMgr,
		executor: executor,
		trades:   trades,
		settings: settings,
		active:   active,
	}
	s.setupRoutes()

	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods("GET")
	s.router.HandleFunc("/status", s.handleStatus).Methods("GET")
	s.router.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})).Methods("GET")
}

// Start runs the HTTP server; it blocks until Stop shuts it down.
func (s *Server) Start() error {
	s.logger.Info("starting admin API", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("admin API server: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStatus reports bot state, trade mode, active strategy/symbol,
// and current position for dashboards that would rather poll HTTP.
// Unlike the chat `status` command (§4.11) it does not report today's
// P&L or the backtested best strategy.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	mode := types.ModeSimulation
	if s.executor != nil {
		mode = s.executor.CurrentMode()
	}

	state := types.BotState("")
	if s.riskMgr != nil {
		state = s.riskMgr.State()
	}

	activeStrategy := ""
	if s.active != nil {
		if cfg, err := s.active.Get(); err == nil && cfg != nil {
			activeStrategy = cfg.StrategyName
		}
	}

	symbol := ""
	if s.settings != nil {
		symbol, _ = s.settings.ActiveStock()
	}

	qty, avgEntry := "0", "0"
	if s.trades != nil && symbol != "" {
		if q, a, err := s.trades.CurrentPosition(symbol); err == nil {
			qty, avgEntry = q.String(), a.String()
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"bot_state":       state,
		"trade_mode":      mode,
		"active_strategy": activeStrategy,
		"symbol":          symbol,
		"position_qty":    qty,
		"position_entry":  avgEntry,
	})
}
