package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/twtrader/orchestrator/internal/config"
	"github.com/twtrader/orchestrator/pkg/types"
)

func testScheduler(t *testing.T) *Scheduler {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Taipei")
	require.NoError(t, err)
	return &Scheduler{
		cfg: &config.Config{
			TradingMode: types.TradingModeStock,
			StockWindow: config.WindowConfig{Start: "09:00", End: "13:30"},
		},
		loc:    loc,
		logger: zap.NewNop(),
		locks:  make(map[string]*sync.Mutex),
	}
}

func TestScheduler_WithinWindow_InsideBoundsIsTrue(t *testing.T) {
	s := testScheduler(t)
	noon := time.Date(2026, 7, 31, 10, 0, 0, 0, s.loc)
	require.True(t, s.withinWindow(noon))
}

func TestScheduler_WithinWindow_OutsideBoundsIsFalse(t *testing.T) {
	s := testScheduler(t)
	before := time.Date(2026, 7, 31, 8, 0, 0, 0, s.loc)
	after := time.Date(2026, 7, 31, 14, 0, 0, 0, s.loc)
	require.False(t, s.withinWindow(before))
	require.False(t, s.withinWindow(after))
}

func TestScheduler_NearWindowClose_TenSecondsBeforeEndIsTrue(t *testing.T) {
	s := testScheduler(t)
	almostClosed := time.Date(2026, 7, 31, 13, 29, 55, 0, s.loc)
	require.True(t, s.nearWindowClose(almostClosed))
}

func TestScheduler_NearWindowClose_WellBeforeEndIsFalse(t *testing.T) {
	s := testScheduler(t)
	midSession := time.Date(2026, 7, 31, 11, 0, 0, 0, s.loc)
	require.False(t, s.nearWindowClose(midSession))
}

func TestScheduler_TryRun_SkipsWhileAlreadyInFlight(t *testing.T) {
	s := testScheduler(t)
	var ran int
	var mu sync.Mutex

	release := make(chan struct{})
	go s.tryRun("task", func() {
		mu.Lock()
		ran++
		mu.Unlock()
		<-release
	})
	// give the goroutine a moment to acquire the lock
	time.Sleep(20 * time.Millisecond)

	s.tryRun("task", func() {
		mu.Lock()
		ran++
		mu.Unlock()
	})

	mu.Lock()
	require.Equal(t, 1, ran, "second run must be skipped while the first is still in flight")
	mu.Unlock()
	close(release)
}
