package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go-spacewx/internal/domain"

	"github.com/redis/go-redis/v9"
)

// Cache keys shared with collaborators reading Redis directly
const (
	KeyLatestSnapshot = "latest-space-weather"
	KeyLatestFlares   = "latest-flares"
	KeyBaseline       = "last-evaluated-snapshot"

	maxCachedFlares = 100
	maxFlareRetries = 5
)

// RedisOpts configures the key-value tier
type RedisOpts struct {
	Addr     string
	Password string
	DB       int
	Timeout  time.Duration
	TTL      time.Duration
}

// RedisStore is the key-value tier and the shared cooldown store
type RedisStore struct {
	rdb     *redis.Client
	timeout time.Duration
	ttl     time.Duration
}

// NewRedisStore creates a Redis-backed store
func NewRedisStore(o RedisOpts) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:         o.Addr,
		Password:     o.Password,
		DB:           o.DB,
		DialTimeout:  o.Timeout,
		ReadTimeout:  o.Timeout,
		WriteTimeout: o.Timeout,
	})
	return newRedisStore(rdb, o.Timeout, o.TTL)
}

func newRedisStore(rdb *redis.Client, timeout, ttl time.Duration) *RedisStore {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &RedisStore{rdb: rdb, timeout: timeout, ttl: ttl}
}

func (r *RedisStore) Name() string  { return "redis" }
func (r *RedisStore) Durable() bool { return false }

func (r *RedisStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

// PutSnapshot overwrites the latest snapshot key
func (r *RedisStore) PutSnapshot(ctx context.Context, s *domain.Snapshot) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return r.rdb.Set(ctx, KeyLatestSnapshot, raw, r.ttl).Err()
}

// LatestSnapshot returns nil on a cache miss
func (r *RedisStore) LatestSnapshot(ctx context.Context) (*domain.Snapshot, error) {
	return r.getSnapshot(ctx, KeyLatestSnapshot)
}

// PutBaseline stores the evaluation baseline without expiry
func (r *RedisStore) PutBaseline(ctx context.Context, s *domain.Snapshot) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return r.rdb.Set(ctx, KeyBaseline, raw, 0).Err()
}

// LatestBaseline returns nil when no tick has stored a baseline
func (r *RedisStore) LatestBaseline(ctx context.Context) (*domain.Snapshot, error) {
	return r.getSnapshot(ctx, KeyBaseline)
}

func (r *RedisStore) getSnapshot(ctx context.Context, key string) (*domain.Snapshot, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	raw, err := r.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	var s domain.Snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &s, nil
}

// PutFlares merges items into the cached flare array by id. The
// read-merge-write runs under WATCH so concurrent writers retry instead of
// dropping each other's items. A value that no longer decodes is replaced.
func (r *RedisStore) PutFlares(ctx context.Context, items []domain.FlareTimelineItem) error {
	if len(items) == 0 {
		return nil
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	merge := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, KeyLatestFlares).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("redis get %s: %w", KeyLatestFlares, err)
		}
		var existing []domain.FlareTimelineItem
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &existing); err != nil {
				existing = nil
			}
		}
		seen := make(map[string]bool, len(existing))
		for _, it := range existing {
			seen[it.ID] = true
		}
		for _, it := range items {
			if !seen[it.ID] {
				existing = append(existing, it)
				seen[it.ID] = true
			}
		}
		out, err := json.Marshal(newestFlares(existing, maxCachedFlares))
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, KeyLatestFlares, out, r.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxFlareRetries; i++ {
		err := r.rdb.Watch(ctx, merge, KeyLatestFlares)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("redis set %s: %w", KeyLatestFlares, redis.TxFailedErr)
}

// RecentFlares returns the cached array trimmed to limit; limit <= 0 returns all
func (r *RedisStore) RecentFlares(ctx context.Context, limit int) ([]domain.FlareTimelineItem, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	raw, err := r.rdb.Get(ctx, KeyLatestFlares).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", KeyLatestFlares, err)
	}
	var items []domain.FlareTimelineItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode %s: %w", KeyLatestFlares, err)
	}
	return newestFlares(items, limit), nil
}

// CooldownActive reports whether key exists
func (r *RedisStore) CooldownActive(ctx context.Context, key string) (bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	n, err := r.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkCooldown sets key with the given expiry
func (r *RedisStore) MarkCooldown(ctx context.Context, key string, ttl time.Duration) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return r.rdb.Set(ctx, key, "1", ttl).Err()
}

// Ping checks connectivity
func (r *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return r.rdb.Ping(ctx).Err()
}

// Close releases the client
func (r *RedisStore) Close() error {
	return r.rdb.Close()
}
