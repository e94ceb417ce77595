package services

import (
	"context"
	"time"

	"go-spacewx/internal/domain"

	"go.uber.org/zap"
)

// DefaultCooldown is how long a delivered event suppresses its repeats
const DefaultCooldown = 15 * time.Minute

// CooldownStore is a TTL key store shared across ticks
type CooldownStore interface {
	CooldownActive(ctx context.Context, key string) (bool, error)
	MarkCooldown(ctx context.Context, key string, ttl time.Duration) error
}

// Cooldown suppresses re-delivery of the same event to the same device
type Cooldown struct {
	store CooldownStore
	ttl   time.Duration
	log   *zap.Logger
}

// NewCooldown creates a cooldown controller. A non-positive ttl uses DefaultCooldown.
func NewCooldown(store CooldownStore, ttl time.Duration, log *zap.Logger) *Cooldown {
	if ttl <= 0 {
		ttl = DefaultCooldown
	}
	return &Cooldown{store: store, ttl: ttl, log: log.Named("cooldown")}
}

// CooldownKey builds the store key for one device and dedupe key
func CooldownKey(installID, dedupeKey string) string {
	return "cooldown:" + installID + ":" + dedupeKey
}

// Active reports whether the event is inside its cooldown window. Lookup
// errors are logged and treated as inactive so alerts still go out.
func (c *Cooldown) Active(ctx context.Context, installID string, e domain.AlertEvent) bool {
	key := CooldownKey(installID, e.DedupeKey)
	active, err := c.store.CooldownActive(ctx, key)
	if err != nil {
		c.log.Warn("cooldown lookup failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return active
}

// Mark starts the cooldown window from now
func (c *Cooldown) Mark(ctx context.Context, installID string, e domain.AlertEvent) {
	key := CooldownKey(installID, e.DedupeKey)
	if err := c.store.MarkCooldown(ctx, key, c.ttl); err != nil {
		c.log.Warn("cooldown write failed", zap.String("key", key), zap.Error(err))
	}
}
