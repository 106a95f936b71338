// Package blackout is the daily earnings-blackout refresh of §4.1/§3:
// it asks the broker bridge for upcoming announcement dates on every
// ticker currently in play (the active stock plus the shadow roster)
// and replaces the persisted EarningsBlackoutMeta snapshot.
package blackout

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/twtrader/orchestrator/internal/clients/broker"
	"github.com/twtrader/orchestrator/internal/persistence"
	"github.com/twtrader/orchestrator/pkg/types"
)

// Refresher rebuilds the blackout snapshot on the scheduler's daily
// cadence.
type Refresher struct {
	broker   *broker.Client
	blackout *persistence.EarningsBlackoutRepository
	settings *persistence.BotSettingsRepository
	shadow   *persistence.ShadowModeStockRepository
	ttlDays  int
	logger   *zap.Logger
}

// New constructs a Refresher. ttlDays seeds every snapshot it writes
// (§3's default of 7).
func New(
	brokerClient *broker.Client,
	blackoutRepo *persistence.EarningsBlackoutRepository,
	settings *persistence.BotSettingsRepository,
	shadow *persistence.ShadowModeStockRepository,
	ttlDays int,
	logger *zap.Logger,
) *Refresher {
	return &Refresher{
		broker:   brokerClient,
		blackout: blackoutRepo,
		settings: settings,
		shadow:   shadow,
		ttlDays:  ttlDays,
		logger:   logger.Named("blackout"),
	}
}

// Refresh gathers the active stock and every shadow-roster symbol,
// asks the bridge for their upcoming announcement dates, and replaces
// the persisted snapshot. A bridge failure leaves the prior snapshot
// in place; §8's fail-safe default treats an unrefreshed, now-stale
// snapshot as "no blackout in effect" rather than blocking trading on
// stale data.
func (r *Refresher) Refresh(ctx context.Context) error {
	tickers, err := r.tickersInPlay()
	if err != nil {
		return fmt.Errorf("gathering tickers for blackout refresh: %w", err)
	}
	if len(tickers) == 0 {
		r.logger.Debug("no tickers in play, skipping blackout refresh")
		return nil
	}

	cal, err := r.broker.GetEarningsCalendar(ctx, tickers)
	if err != nil {
		return fmt.Errorf("fetching earnings calendar: %w", err)
	}

	dates := make([]time.Time, 0, len(cal.Dates))
	for _, s := range cal.Dates {
		d, err := time.Parse("2006-01-02", s)
		if err != nil {
			r.logger.Warn("skipping unparseable earnings date", zap.String("date", s))
			continue
		}
		dates = append(dates, d)
	}

	meta := types.EarningsBlackoutMeta{
		LastUpdated:    time.Now(),
		TTLDays:        r.ttlDays,
		Source:         "broker_bridge",
		TickersChecked: tickers,
		Dates:          dates,
	}
	if err := r.blackout.Replace(meta); err != nil {
		return fmt.Errorf("persisting blackout snapshot: %w", err)
	}

	r.logger.Info("blackout snapshot refreshed",
		zap.Int("tickers", len(tickers)), zap.Int("dates", len(dates)))
	return nil
}

func (r *Refresher) tickersInPlay() ([]string, error) {
	seen := make(map[string]bool)
	var tickers []string

	if symbol, err := r.settings.ActiveStock(); err == nil && symbol != "" {
		seen[symbol] = true
		tickers = append(tickers, symbol)
	}

	shadows, err := r.shadow.All()
	if err != nil {
		return nil, err
	}
	for _, s := range shadows {
		if s.Symbol == "" || seen[s.Symbol] {
			continue
		}
		seen[s.Symbol] = true
		tickers = append(tickers, s.Symbol)
	}
	return tickers, nil
}
