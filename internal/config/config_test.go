package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/twtrader/orchestrator/pkg/types"
)

func TestLoad_DefaultsWhenNoFile(t *testing.T) {
	cfg, err := Load("", "", zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, types.TradingModeStock, cfg.TradingMode)
	assert.Equal(t, "09:00", cfg.StockWindow.Start)
	assert.Equal(t, "13:30", cfg.StockWindow.End)
	assert.Equal(t, 5, cfg.Broker.MaxRetries)
}

func TestLoad_InvalidTradingMode(t *testing.T) {
	_, err := Load("testdata/bad_mode.yaml", "", zap.NewNop())
	require.Error(t, err)
}

func TestActiveWindow_FuturesUsesLegacy(t *testing.T) {
	cfg, err := Load("", "", zap.NewNop())
	require.NoError(t, err)
	cfg.TradingMode = types.TradingModeFutures
	w := cfg.ActiveWindow()
	assert.Equal(t, "11:30", w.Start)
	assert.Equal(t, "13:00", w.End)
}

func TestActiveWindow_StockUsesStockWindow(t *testing.T) {
	cfg, err := Load("", "", zap.NewNop())
	require.NoError(t, err)
	w := cfg.ActiveWindow()
	assert.Equal(t, "09:00", w.Start)
}
