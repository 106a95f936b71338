// Package types holds the entities shared across the orchestration core:
// the data model of §3, expressed as Go structs with decimal.Decimal for
// every money or quantity field.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// SymbolCategory classifies a Symbol.
type SymbolCategory string

const (
	SymbolStock   SymbolCategory = "STOCK"
	SymbolFutures SymbolCategory = "FUTURES"
	SymbolIndex   SymbolCategory = "INDEX"
)

// Symbol identifies a tradable instrument.
type Symbol struct {
	Code     string
	Name     string
	Category SymbolCategory
}

// Bar is one OHLCV candle for a symbol.
type Bar struct {
	Symbol    string
	Timestamp time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
	Name      string
}

// Quote is the latest observed tick for a symbol.
type Quote struct {
	Symbol    string
	Price     decimal.Decimal
	Volume    decimal.Decimal
	Timestamp time.Time
}

// Direction is a trade signal's bias.
type Direction string

const (
	DirectionLong    Direction = "LONG"
	DirectionShort   Direction = "SHORT"
	DirectionNeutral Direction = "NEUTRAL"
)

// TradeMode distinguishes simulated from live capital.
type TradeMode string

const (
	ModeSimulation TradeMode = "SIMULATION"
	ModeLive       TradeMode = "LIVE"
)

// TradingMode is the instrument-class mode the process is configured for.
type TradingMode string

const (
	TradingModeStock        TradingMode = "stock"
	TradingModeFutures      TradingMode = "futures"
	TradingModeStockFutures TradingMode = "stock+futures"
)

// StrategyType classifies a strategy's holding-period intent.
type StrategyType string

const (
	StrategyLongTerm StrategyType = "LONG_TERM"
	StrategyShortTerm StrategyType = "SHORT_TERM"
	StrategyIntraday  StrategyType = "INTRADAY"
	StrategySwing     StrategyType = "SWING"
)

// Indicators is the cached indicator bundle attached to a MarketContext.
type Indicators struct {
	SMA5           decimal.Decimal
	SMA20          decimal.Decimal
	RSI            decimal.Decimal
	VWAP           decimal.Decimal
	BollingerUpper decimal.Decimal
	BollingerLower decimal.Decimal
}

// SessionOHLC is the running open/high/low/close for the current session.
type SessionOHLC struct {
	Open  decimal.Decimal
	High  decimal.Decimal
	Low   decimal.Decimal
	Close decimal.Decimal
}

// MarketContext is the immutable per-tick snapshot strategies execute
// against. It is never mutated after construction by the Market Context
// Provider; the Strategy Manager distributes it by value/pointer but no
// strategy may write through it.
type MarketContext struct {
	Symbol          string
	CurrentPrice    decimal.Decimal
	Timestamp       time.Time
	PriceHistory    []decimal.Decimal
	VolumeHistory   []decimal.Decimal
	Indicators      Indicators
	Session         SessionOHLC
	PositionQty     decimal.Decimal
	PositionEntry   decimal.Decimal
	TradingMode     TradingMode
	NewsVeto        bool
}

// TradeSignal is what a strategy's Execute returns.
type TradeSignal struct {
	Symbol     string
	Direction  Direction
	Confidence decimal.Decimal
	Reason     string
	ExitSignal bool
	Metadata   map[string]any
	StrategyName string
}

// Actionable reports whether the signal is eligible for aggregation,
// per §4.5 step 3: direction != NEUTRAL and confidence >= 0.65.
func (s TradeSignal) Actionable() bool {
	return s.Direction != DirectionNeutral && s.Confidence.GreaterThanOrEqual(decimal.NewFromFloat(0.65))
}

// Position is a strategy portfolio's open position in one symbol.
type Position struct {
	Symbol     string
	Quantity   decimal.Decimal
	EntryPrice decimal.Decimal
	EntryTime  time.Time
}

// Portfolio is a per-strategy, per-symbol book of positions and P&L.
// Base equity is 80,000 per §3; shadow portfolios are in-memory only.
type Portfolio struct {
	StrategyName     string
	BaseEquity       decimal.Decimal
	AvailableMargin  decimal.Decimal
	Positions        map[string]*Position
	DailyRealizedPnL decimal.Decimal
	WeeklyRealizedPnL decimal.Decimal
	Mode             TradeMode
}

// NewPortfolio constructs an empty shadow portfolio with the default
// 80,000 base equity from §3.
func NewPortfolio(strategyName string) *Portfolio {
	base := decimal.NewFromInt(80000)
	return &Portfolio{
		StrategyName:    strategyName,
		BaseEquity:      base,
		AvailableMargin: base,
		Positions:       make(map[string]*Position),
		Mode:            ModeSimulation,
	}
}

// TradeAction is BUY or SELL.
type TradeAction string

const (
	TradeActionBuy  TradeAction = "BUY"
	TradeActionSell TradeAction = "SELL"
)

// TradeStatus is a Trade's lifecycle state.
type TradeStatus string

const (
	TradeStatusOpen      TradeStatus = "OPEN"
	TradeStatusClosed    TradeStatus = "CLOSED"
	TradeStatusCancelled TradeStatus = "CANCELLED"
)

// Trade is a recorded fill, live or simulated.
type Trade struct {
	ID                 int64
	Timestamp          time.Time
	Symbol             string
	Action             TradeAction
	Quantity           decimal.Decimal
	EntryPrice         decimal.Decimal
	ExitPrice          decimal.Decimal
	RealizedPnL        decimal.Decimal
	StrategyName       string
	EntryReason        string
	ExitReason         string
	Mode               TradeMode
	Status             TradeStatus
	MarketCode         string
	HoldDurationMinutes int
	SlippageBps        decimal.Decimal
	ClosedAt           *time.Time
}

// SignalRecord is the persisted form of a non-neutral strategy signal.
type SignalRecord struct {
	ID           int64
	Timestamp    time.Time
	Symbol       string
	StrategyName string
	Direction    Direction
	Confidence   decimal.Decimal
	Price        decimal.Decimal
	IndicatorsJSON string
	Reason       string
	NewsVeto     bool
}

// EventType classifies an Event row.
type EventType string

const (
	EventInfo    EventType = "INFO"
	EventWarning EventType = "WARNING"
	EventError   EventType = "ERROR"
	EventCommand EventType = "COMMAND"
	EventVeto    EventType = "VETO"
	EventSuccess EventType = "SUCCESS"
)

// Event is an append-only audit log entry.
type Event struct {
	ID             int64
	Timestamp      time.Time
	Type           EventType
	Severity       string
	Category       string
	Message        string
	DetailsJSON    string
	Component      string
	UserID         string
	ResponseTimeMs *int64
	ErrorCode      string
}

// LlmInsight is one recorded LLM round-trip, success or failure.
type LlmInsight struct {
	ID               int64
	Timestamp        time.Time
	InsightType      string
	Source           string
	Symbol           string
	Prompt           string
	ModelName        string
	ResponseJSON     string
	Confidence       *decimal.Decimal
	Recommendation   string
	Explanation      string
	ProcessingTimeMs int64
	Success          bool
	ErrorMessage     string
}

// DailyStatistics is the per (tradeDate, symbol, strategyName)
// close-of-session aggregate of §3.
type DailyStatistics struct {
	TradeDate            time.Time
	Symbol               string
	StrategyName         string
	Open, High, Low, Close decimal.Decimal
	Volume               decimal.Decimal
	TradeCount           int
	WinningTrades        int
	LosingTrades         int
	WinRate              decimal.Decimal
	RealizedPnL          decimal.Decimal
	UnrealizedPnL        decimal.Decimal
	TotalPnL             decimal.Decimal
	MaxDrawdown          decimal.Decimal
	ProfitFactor         decimal.Decimal
	AvgHoldMinutes       decimal.Decimal
	SignalsGenerated     int
	SignalsActed         int
	NewsVetos            int
	RSI, MACD, SMA, ATR, VWAP decimal.Decimal
	CumulativePnL        decimal.Decimal
	CumulativeTrades     int
	ConsecutiveWins      int
	ConsecutiveLosses    int
	EquityHighWatermark  decimal.Decimal
	LlamaInsight         string
}

// StrategyMode is the provenance of a StrategyPerformance row.
type StrategyMode string

const (
	PerfModeMain     StrategyMode = "MAIN"
	PerfModeShadow   StrategyMode = "SHADOW"
	PerfModeBacktest StrategyMode = "BACKTEST"
)

// StrategyPerformance is an immutable-once-written performance snapshot.
type StrategyPerformance struct {
	ID               int64
	StrategyName     string
	Symbol           string
	Mode             StrategyMode
	TotalReturnPct   decimal.Decimal
	Sharpe           decimal.Decimal
	MaxDrawdownPct   decimal.Decimal
	WinRatePct       decimal.Decimal
	TotalTrades      int
	TotalPnL         decimal.Decimal
	ProfitFactor     decimal.Decimal
	PeriodStart      time.Time
	PeriodEnd        time.Time
	CalculatedAt     time.Time
}

// StrategyStockMapping is the most-recent best strategy per symbol.
type StrategyStockMapping struct {
	Symbol       string
	StrategyName string
	Sharpe       decimal.Decimal
	ReturnPct    decimal.Decimal
	WinRatePct   decimal.Decimal
	MaxDDPct     decimal.Decimal
	TradeCount   int
	AvgProfit    decimal.Decimal
	PeriodStart  time.Time
	PeriodEnd    time.Time
}

// ShadowModeStock is one ranked shadow-mode entry.
type ShadowModeStock struct {
	Symbol             string
	StrategyName       string
	RankPosition       int
	Enabled            bool
	ExpectedReturnPct  decimal.Decimal
}

// ActiveStrategyConfig is the single-row active strategy record.
type ActiveStrategyConfig struct {
	StrategyName    string
	ParametersJSON  string
	AutoSwitched    bool
	SwitchReason    string
	SnapshotMetrics string
	UpdatedAt       time.Time
}

// BotSettings key constants — §3 lists these as a key/value registry;
// CURRENT_ACTIVE_STOCK's lowercase form is authoritative, see DESIGN.md
// Open Question 1.
const (
	SettingDailyLossLimit    = "DAILY_LOSS_LIMIT"
	SettingWeeklyLossLimit   = "WEEKLY_LOSS_LIMIT"
	SettingMonthlyLossLimit  = "MONTHLY_LOSS_LIMIT"
	SettingWeeklyProfitLimit = "WEEKLY_PROFIT_LIMIT"
	SettingMonthlyProfitLimit = "MONTHLY_PROFIT_LIMIT"
	SettingCurrentActiveStock = "current_active_stock"
	settingCurrentActiveStockLegacy = "CURRENT_ACTIVE_STOCK"
	SettingTradeMode         = "trade_mode"
	SettingPendingGoLiveUntil = "pending_golive_until"
	SettingBaseShareQuantity = "base_share_quantity"
	SettingShareIncrementStep = "share_increment_step"
)

// LegacyActiveStockKey exposes the deprecated uppercase key so the
// persistence layer can warn when it is detected, without exporting a
// second canonical constant.
func LegacyActiveStockKey() string { return settingCurrentActiveStockLegacy }

// BotState is the Risk Manager's process-wide state machine value.
type BotState string

const (
	BotStateRunning        BotState = "RUNNING"
	BotStatePaused         BotState = "PAUSED"
	BotStateStopped        BotState = "STOPPED"
	BotStateEmergencyHalt  BotState = "EMERGENCY_HALT"
)

// EarningsBlackoutMeta is the blackout snapshot of §3.
type EarningsBlackoutMeta struct {
	LastUpdated    time.Time
	TTLDays        int
	Source         string
	TickersChecked []string
	Dates          []time.Time // sorted, de-duplicated future LocalDates
}

// Stale reports whether this snapshot is older than its TTL and must
// not be used to block trading (§3, §8).
func (m EarningsBlackoutMeta) Stale(now time.Time) bool {
	if m.TTLDays <= 0 {
		return true
	}
	return now.Sub(m.LastUpdated) > time.Duration(m.TTLDays)*24*time.Hour
}

// IsDateBlackout reports whether d falls in the blackout date set. Per
// §8, a stale snapshot must answer false for every date.
func (m EarningsBlackoutMeta) IsDateBlackout(now time.Time, d time.Time) bool {
	if m.Stale(now) {
		return false
	}
	y1, m1, d1 := d.Date()
	for _, bd := range m.Dates {
		y2, m2, d2 := bd.Date()
		if y1 == y2 && m1 == m2 && d1 == d2 {
			return true
		}
	}
	return false
}
