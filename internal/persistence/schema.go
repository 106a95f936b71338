package persistence

import "fmt"

// schema is the full relational layout of §3's entities. bar/market_data
// carries the mandated secondary index on (symbol, timestamp);
// strategy_performance is append-only (no UPDATE/DELETE statement in
// this package ever targets it).
const schema = `
CREATE TABLE IF NOT EXISTS symbols (
	code TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS bar (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	open TEXT NOT NULL,
	high TEXT NOT NULL,
	low TEXT NOT NULL,
	close TEXT NOT NULL,
	volume TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_bar_symbol_ts ON bar(symbol, timestamp);

CREATE TABLE IF NOT EXISTS market_data (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	open TEXT NOT NULL,
	high TEXT NOT NULL,
	low TEXT NOT NULL,
	close TEXT NOT NULL,
	volume TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_market_data_symbol_ts ON market_data(symbol, timestamp);

CREATE TABLE IF NOT EXISTS trades (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	symbol TEXT NOT NULL,
	action TEXT NOT NULL,
	quantity TEXT NOT NULL,
	entry_price TEXT NOT NULL,
	exit_price TEXT,
	realized_pnl TEXT,
	strategy_name TEXT NOT NULL,
	entry_reason TEXT NOT NULL DEFAULT '',
	exit_reason TEXT NOT NULL DEFAULT '',
	mode TEXT NOT NULL,
	status TEXT NOT NULL,
	market_code TEXT NOT NULL DEFAULT '',
	hold_duration_minutes INTEGER NOT NULL DEFAULT 0,
	slippage_bps TEXT NOT NULL DEFAULT '0',
	closed_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
CREATE INDEX IF NOT EXISTS idx_trades_strategy ON trades(strategy_name);
CREATE INDEX IF NOT EXISTS idx_trades_mode_status ON trades(mode, status);

CREATE TABLE IF NOT EXISTS signals (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	symbol TEXT NOT NULL,
	strategy_name TEXT NOT NULL,
	direction TEXT NOT NULL,
	confidence TEXT NOT NULL,
	price TEXT NOT NULL,
	indicators_json TEXT NOT NULL DEFAULT '{}',
	reason TEXT NOT NULL DEFAULT '',
	news_veto INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_signals_symbol ON signals(symbol);

CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	type TEXT NOT NULL,
	severity TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL DEFAULT '',
	message TEXT NOT NULL,
	details_json TEXT NOT NULL DEFAULT '{}',
	component TEXT NOT NULL DEFAULT '',
	user_id TEXT,
	response_time_ms INTEGER,
	error_code TEXT
);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);
CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);

CREATE TABLE IF NOT EXISTS llm_insights (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	insight_type TEXT NOT NULL,
	source TEXT NOT NULL,
	symbol TEXT,
	prompt TEXT NOT NULL,
	model_name TEXT NOT NULL,
	response_json TEXT NOT NULL DEFAULT '',
	confidence TEXT,
	recommendation TEXT,
	explanation TEXT,
	processing_time_ms INTEGER NOT NULL DEFAULT 0,
	success INTEGER NOT NULL,
	error_message TEXT
);

CREATE TABLE IF NOT EXISTS daily_statistics (
	trade_date TEXT NOT NULL,
	symbol TEXT NOT NULL,
	strategy_name TEXT NOT NULL,
	open TEXT NOT NULL DEFAULT '0',
	high TEXT NOT NULL DEFAULT '0',
	low TEXT NOT NULL DEFAULT '0',
	close TEXT NOT NULL DEFAULT '0',
	volume TEXT NOT NULL DEFAULT '0',
	trade_count INTEGER NOT NULL DEFAULT 0,
	winning_trades INTEGER NOT NULL DEFAULT 0,
	losing_trades INTEGER NOT NULL DEFAULT 0,
	win_rate TEXT NOT NULL DEFAULT '0',
	realized_pnl TEXT NOT NULL DEFAULT '0',
	unrealized_pnl TEXT NOT NULL DEFAULT '0',
	total_pnl TEXT NOT NULL DEFAULT '0',
	max_drawdown TEXT NOT NULL DEFAULT '0',
	profit_factor TEXT NOT NULL DEFAULT '0',
	avg_hold_minutes TEXT NOT NULL DEFAULT '0',
	signals_generated INTEGER NOT NULL DEFAULT 0,
	signals_acted INTEGER NOT NULL DEFAULT 0,
	news_vetos INTEGER NOT NULL DEFAULT 0,
	rsi TEXT NOT NULL DEFAULT '0',
	macd TEXT NOT NULL DEFAULT '0',
	sma TEXT NOT NULL DEFAULT '0',
	atr TEXT NOT NULL DEFAULT '0',
	vwap TEXT NOT NULL DEFAULT '0',
	cumulative_pnl TEXT NOT NULL DEFAULT '0',
	cumulative_trades INTEGER NOT NULL DEFAULT 0,
	consecutive_wins INTEGER NOT NULL DEFAULT 0,
	consecutive_losses INTEGER NOT NULL DEFAULT 0,
	equity_high_watermark TEXT NOT NULL DEFAULT '0',
	llama_insight TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (trade_date, symbol, strategy_name)
);

CREATE TABLE IF NOT EXISTS strategy_performance (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	strategy_name TEXT NOT NULL,
	symbol TEXT NOT NULL,
	mode TEXT NOT NULL,
	total_return_pct TEXT NOT NULL,
	sharpe TEXT NOT NULL,
	max_drawdown_pct TEXT NOT NULL,
	win_rate_pct TEXT NOT NULL,
	total_trades INTEGER NOT NULL,
	total_pnl TEXT NOT NULL,
	profit_factor TEXT NOT NULL,
	period_start TEXT NOT NULL,
	period_end TEXT NOT NULL,
	calculated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_strategy_performance_lookup ON strategy_performance(symbol, mode, calculated_at);

CREATE TABLE IF NOT EXISTS strategy_stock_mapping (
	symbol TEXT NOT NULL,
	strategy_name TEXT NOT NULL,
	sharpe TEXT NOT NULL,
	return_pct TEXT NOT NULL,
	win_rate_pct TEXT NOT NULL,
	max_dd_pct TEXT NOT NULL,
	trade_count INTEGER NOT NULL,
	avg_profit TEXT NOT NULL,
	period_start TEXT NOT NULL,
	period_end TEXT NOT NULL,
	PRIMARY KEY (symbol, strategy_name)
);

CREATE TABLE IF NOT EXISTS shadow_mode_stock (
	symbol TEXT NOT NULL,
	strategy_name TEXT NOT NULL,
	rank_position INTEGER NOT NULL,
	enabled INTEGER NOT NULL DEFAULT 1,
	expected_return_pct TEXT NOT NULL DEFAULT '0',
	PRIMARY KEY (rank_position)
);

CREATE TABLE IF NOT EXISTS active_strategy_config (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	strategy_name TEXT NOT NULL,
	parameters_json TEXT NOT NULL DEFAULT '{}',
	auto_switched INTEGER NOT NULL DEFAULT 0,
	switch_reason TEXT NOT NULL DEFAULT '',
	snapshot_metrics TEXT NOT NULL DEFAULT '{}',
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS bot_settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS earnings_blackout_meta (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	last_updated TEXT NOT NULL,
	ttl_days INTEGER NOT NULL DEFAULT 7,
	source TEXT NOT NULL DEFAULT '',
	tickers_checked_json TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS earnings_blackout_date (
	meta_id INTEGER NOT NULL DEFAULT 1,
	date TEXT NOT NULL,
	PRIMARY KEY (meta_id, date)
);
`

// Migrate applies the full schema; every statement is idempotent
// (CREATE ... IF NOT EXISTS) so Migrate is safe to call on every start.
func (db *DB) Migrate() error {
	if _, err := db.conn.Exec(schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}
