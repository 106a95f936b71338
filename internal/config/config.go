// Package config loads the single YAML-shaped configuration store:
// all process configuration, beyond the passphrase flag, is sourced
// from one file (§6).
package config

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/twtrader/orchestrator/pkg/types"
)

// BrokerConfig is the Broker Bridge Client's dial target and timeouts.
type BrokerConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
	MaxRetries     int
}

// LLMConfig is the LLM Client's dial target and per-purpose timeouts.
type LLMConfig struct {
	BaseURL          string
	Model            string
	VetoTimeout      time.Duration
	NarrationTimeout time.Duration
	VetoTemperature       float64
	NarrationTemperature  float64
	TutorTemperature      float64
}

// NotifyConfig is the notification transport's dial target, auth, and
// the single authorized chat identifier.
type NotifyConfig struct {
	BaseURL           string
	AuthToken         string
	AuthorizedChatID  string
	PollInterval      time.Duration
}

// WindowConfig is one named trading window (start/end, local time-of-day).
type WindowConfig struct {
	Start string // "HH:MM"
	End   string // "HH:MM"
}

// DataOpsConfig is the external data operations service's dial target
// for the populate-data/run-backtests/select-best-strategy/
// full-pipeline chat commands (§4.11). An empty BaseURL disables
// delegation; the command handler reports the service as unconfigured.
type DataOpsConfig struct {
	BaseURL string
	Timeout time.Duration
}

// AdminAPIConfig is the read-only diagnostic HTTP surface's bind
// address (§4.13).
type AdminAPIConfig struct {
	Addr string
}

// RiskLimitsConfig seeds the BotSettings loss/profit limit rows.
type RiskLimitsConfig struct {
	DailyLossLimit    decimal.Decimal
	WeeklyLossLimit   decimal.Decimal
	MonthlyLossLimit  decimal.Decimal
	WeeklyProfitLimit decimal.Decimal
	MonthlyProfitLimit decimal.Decimal
	MaxPositionQty    decimal.Decimal
}

// SelectorConfig parameterizes the Strategy Selector's thresholds (§4.9).
type SelectorConfig struct {
	LookbackDays       int
	MinExpectedReturnPct decimal.Decimal
	MinSharpe          decimal.Decimal
	MinWinRatePct      decimal.Decimal
	MaxDrawdownPct     decimal.Decimal
	ShadowStockCount   int
	DrawdownBreachPct  decimal.Decimal
}

// Config is the full process configuration.
type Config struct {
	TradingMode types.TradingMode

	StockWindow   WindowConfig
	LegacyWindow  WindowConfig

	Broker   BrokerConfig
	LLM      LLMConfig
	Notify   NotifyConfig
	DataOps  DataOpsConfig
	AdminAPI AdminAPIConfig

	DatabasePath string

	RiskLimits RiskLimitsConfig
	Selector   SelectorConfig

	NewsVetoTTL      time.Duration
	BlackoutTTLDays  int
	GoLiveTTL        time.Duration
	ShadowBaseEquity decimal.Decimal

	// Passphrase is accepted from the CLI per §6 but secret decryption
	// is an explicit non-goal (§1); it is recorded, never decrypted.
	Passphrase string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("trading_mode", "stock")

	v.SetDefault("windows.stock.start", "09:00")
	v.SetDefault("windows.stock.end", "13:30")
	v.SetDefault("windows.legacy.start", "11:30")
	v.SetDefault("windows.legacy.end", "13:00")

	v.SetDefault("broker.base_url", "http://127.0.0.1:8888")
	v.SetDefault("broker.request_timeout_ms", 3000)
	v.SetDefault("broker.max_retries", 5)

	v.SetDefault("llm.base_url", "http://127.0.0.1:11434")
	v.SetDefault("llm.model", "llama3")
	v.SetDefault("llm.veto_timeout_seconds", 5)
	v.SetDefault("llm.narration_timeout_seconds", 30)
	v.SetDefault("llm.veto_temperature", 0.3)
	v.SetDefault("llm.narration_temperature", 0.5)
	v.SetDefault("llm.tutor_temperature", 0.7)

	v.SetDefault("notify.base_url", "")
	v.SetDefault("notify.auth_token", "")
	v.SetDefault("notify.authorized_chat_id", "")
	v.SetDefault("notify.poll_interval_seconds", 5)

	v.SetDefault("data_ops.base_url", "")
	v.SetDefault("data_ops.timeout_seconds", 30)

	v.SetDefault("admin_api.addr", "127.0.0.1:9090")

	v.SetDefault("database.path", "./data/orchestrator.db")

	v.SetDefault("risk.daily_loss_limit", "2500")
	v.SetDefault("risk.weekly_loss_limit", "7500")
	v.SetDefault("risk.monthly_loss_limit", "20000")
	v.SetDefault("risk.weekly_profit_limit", "15000")
	v.SetDefault("risk.monthly_profit_limit", "40000")
	v.SetDefault("risk.max_position_qty", "10")

	v.SetDefault("selector.lookback_days", 30)
	v.SetDefault("selector.min_expected_return_pct", "5")
	v.SetDefault("selector.min_sharpe", "1.0")
	v.SetDefault("selector.min_win_rate_pct", "50")
	v.SetDefault("selector.max_drawdown_pct", "20")
	v.SetDefault("selector.shadow_stock_count", 10)
	v.SetDefault("selector.drawdown_breach_pct", "15")

	v.SetDefault("news_veto_ttl_minutes", 10)
	v.SetDefault("blackout_ttl_days", 7)
	v.SetDefault("go_live_ttl_minutes", 5)
	v.SetDefault("shadow_base_equity", "80000")
}

func decOr(v *viper.Viper, key string, fallback decimal.Decimal) decimal.Decimal {
	s := v.GetString(key)
	if s == "" {
		return fallback
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fallback
	}
	return d
}

// Load reads path (if present) layered over defaults and environment
// overrides, and returns a validated Config. passphrase is the CLI
// secret passphrase flag (§6) — recorded only, never decrypted here.
func Load(path, passphrase string, logger *zap.Logger) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	v.AutomaticEnv()
	v.SetEnvPrefix("TWTRADER")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
			logger.Warn("config file not found, using defaults", zap.String("path", path))
		}
	}

	cfg := &Config{
		TradingMode: types.TradingMode(v.GetString("trading_mode")),
		StockWindow: WindowConfig{
			Start: v.GetString("windows.stock.start"),
			End:   v.GetString("windows.stock.end"),
		},
		LegacyWindow: WindowConfig{
			Start: v.GetString("windows.legacy.start"),
			End:   v.GetString("windows.legacy.end"),
		},
		Broker: BrokerConfig{
			BaseURL:        v.GetString("broker.base_url"),
			RequestTimeout: time.Duration(v.GetInt("broker.request_timeout_ms")) * time.Millisecond,
			MaxRetries:     v.GetInt("broker.max_retries"),
		},
		LLM: LLMConfig{
			BaseURL:              v.GetString("llm.base_url"),
			Model:                v.GetString("llm.model"),
			VetoTimeout:          time.Duration(v.GetInt("llm.veto_timeout_seconds")) * time.Second,
			NarrationTimeout:     time.Duration(v.GetInt("llm.narration_timeout_seconds")) * time.Second,
			VetoTemperature:      v.GetFloat64("llm.veto_temperature"),
			NarrationTemperature: v.GetFloat64("llm.narration_temperature"),
			TutorTemperature:     v.GetFloat64("llm.tutor_temperature"),
		},
		Notify: NotifyConfig{
			BaseURL:          v.GetString("notify.base_url"),
			AuthToken:        v.GetString("notify.auth_token"),
			AuthorizedChatID: v.GetString("notify.authorized_chat_id"),
			PollInterval:     time.Duration(v.GetInt("notify.poll_interval_seconds")) * time.Second,
		},
		DataOps: DataOpsConfig{
			BaseURL: v.GetString("data_ops.base_url"),
			Timeout: time.Duration(v.GetInt("data_ops.timeout_seconds")) * time.Second,
		},
		AdminAPI: AdminAPIConfig{
			Addr: v.GetString("admin_api.addr"),
		},
		DatabasePath: v.GetString("database.path"),
		RiskLimits: RiskLimitsConfig{
			DailyLossLimit:     decOr(v, "risk.daily_loss_limit", decimal.NewFromInt(2500)),
			WeeklyLossLimit:    decOr(v, "risk.weekly_loss_limit", decimal.NewFromInt(7500)),
			MonthlyLossLimit:   decOr(v, "risk.monthly_loss_limit", decimal.NewFromInt(20000)),
			WeeklyProfitLimit:  decOr(v, "risk.weekly_profit_limit", decimal.NewFromInt(15000)),
			MonthlyProfitLimit: decOr(v, "risk.monthly_profit_limit", decimal.NewFromInt(40000)),
			MaxPositionQty:     decOr(v, "risk.max_position_qty", decimal.NewFromInt(10)),
		},
		Selector: SelectorConfig{
			LookbackDays:         v.GetInt("selector.lookback_days"),
			MinExpectedReturnPct: decOr(v, "selector.min_expected_return_pct", decimal.NewFromInt(5)),
			MinSharpe:            decOr(v, "selector.min_sharpe", decimal.NewFromFloat(1.0)),
			MinWinRatePct:        decOr(v, "selector.min_win_rate_pct", decimal.NewFromInt(50)),
			MaxDrawdownPct:       decOr(v, "selector.max_drawdown_pct", decimal.NewFromInt(20)),
			ShadowStockCount:     v.GetInt("selector.shadow_stock_count"),
			DrawdownBreachPct:    decOr(v, "selector.drawdown_breach_pct", decimal.NewFromInt(15)),
		},
		NewsVetoTTL:      time.Duration(v.GetInt("news_veto_ttl_minutes")) * time.Minute,
		BlackoutTTLDays:  v.GetInt("blackout_ttl_days"),
		GoLiveTTL:        time.Duration(v.GetInt("go_live_ttl_minutes")) * time.Minute,
		ShadowBaseEquity: decOr(v, "shadow_base_equity", decimal.NewFromInt(80000)),
		Passphrase:       passphrase,
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if passphrase == "" {
		logger.Warn("no secret passphrase supplied; secret decryption is out of scope for this core and is never performed")
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.TradingMode {
	case types.TradingModeStock, types.TradingModeFutures, types.TradingModeStockFutures:
	default:
		return fmt.Errorf("invalid trading mode %q: must be stock, futures, or stock+futures", c.TradingMode)
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database.path must not be empty")
	}
	return nil
}

// ActiveWindow returns the trading window to use for the configured
// mode: stock mode uses the 09:00-13:30 window, anything else uses
// the legacy 11:30-13:00 window.
func (c *Config) ActiveWindow() WindowConfig {
	if c.TradingMode == types.TradingModeStock {
		return c.StockWindow
	}
	return c.LegacyWindow
}
