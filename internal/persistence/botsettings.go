package persistence

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/twtrader/orchestrator/pkg/types"
)

// BotSettingsRepository is the key/value registry of §3, cached with
// 1-second coherence per §4.10's hot-path read requirement.
type BotSettingsRepository struct {
	db     *DB
	logger *zap.Logger

	mu        sync.RWMutex
	cache     map[string]string
	cachedAt  time.Time
	cacheTTL  time.Duration
}

// NewBotSettingsRepository constructs the repository.
func NewBotSettingsRepository(db *DB, logger *zap.Logger) *BotSettingsRepository {
	return &BotSettingsRepository{
		db:       db,
		logger:   logger.Named("bot_settings"),
		cache:    make(map[string]string),
		cacheTTL: time.Second,
	}
}

func (r *BotSettingsRepository) refreshLocked() error {
	rows, err := r.db.Conn().Query(`SELECT key, value FROM bot_settings`)
	if err != nil {
		return fmt.Errorf("querying bot settings: %w", err)
	}
	defer rows.Close()

	fresh := make(map[string]string)
	sawLegacyKey := false
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return fmt.Errorf("scanning bot setting: %w", err)
		}
		if k == types.LegacyActiveStockKey() {
			sawLegacyKey = true
			continue
		}
		fresh[k] = v
	}
	if sawLegacyKey {
		r.logger.Warn("detected legacy uppercase CURRENT_ACTIVE_STOCK key; current_active_stock (lowercase) is authoritative and the legacy key is ignored")
	}
	r.cache = fresh
	r.cachedAt = time.Now()
	return rows.Err()
}

// Get reads a setting, refreshing the cache if it is older than 1s.
func (r *BotSettingsRepository) Get(key string) (string, bool, error) {
	r.mu.RLock()
	fresh := time.Since(r.cachedAt) < r.cacheTTL
	if fresh {
		v, ok := r.cache[key]
		r.mu.RUnlock()
		return v, ok, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if time.Since(r.cachedAt) >= r.cacheTTL {
		if err := r.refreshLocked(); err != nil {
			return "", false, err
		}
	}
	v, ok := r.cache[key]
	return v, ok, nil
}

// Set writes a setting and invalidates the cache.
func (r *BotSettingsRepository) Set(key, value string) error {
	_, err := r.db.Conn().Exec(`
		INSERT INTO bot_settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("writing bot setting %s: %w", key, err)
	}
	r.mu.Lock()
	r.cachedAt = time.Time{}
	r.mu.Unlock()
	return nil
}

// ActiveStock returns the value of current_active_stock, the sole
// source of the active symbol per §8 — no silent fallback to a
// default when the key is missing.
func (r *BotSettingsRepository) ActiveStock() (string, error) {
	v, ok, err := r.Get(types.SettingCurrentActiveStock)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("bot setting %s is not set", types.SettingCurrentActiveStock)
	}
	return v, nil
}
