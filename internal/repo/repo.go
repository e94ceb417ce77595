// Package repo provides the storage tiers: PostgreSQL, Redis and the
// in-process memory fallback
package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go-spacewx/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the relational tier
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new relational store
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (r *PostgresStore) Name() string  { return "postgres" }
func (r *PostgresStore) Durable() bool { return true }

// PutSnapshot appends one row to the snapshot history
func (r *PostgresStore) PutSnapshot(ctx context.Context, s *domain.Snapshot) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO space_weather_snapshots (captured_at, last_updated_at, condition, source, payload)
		VALUES ($1, $2, $3, $4, $5)`,
		s.CapturedAt, s.LastUpdatedAt, string(s.Condition), s.Source, payload)
	return err
}

// LatestSnapshot retrieves the most recent snapshot row
func (r *PostgresStore) LatestSnapshot(ctx context.Context) (*domain.Snapshot, error) {
	row := r.pool.QueryRow(ctx,
		"SELECT payload FROM space_weather_snapshots ORDER BY id DESC LIMIT 1")

	var payload json.RawMessage
	err := row.Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s domain.Snapshot
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot row: %w", err)
	}
	return &s, nil
}

// PutBaseline upserts the single evaluation baseline row
func (r *PostgresStore) PutBaseline(ctx context.Context, s *domain.Snapshot) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO evaluation_baseline (id, captured_at, payload, updated_at)
		VALUES (1, $1, $2, now())
		ON CONFLICT (id) DO UPDATE
		SET captured_at=EXCLUDED.captured_at, payload=EXCLUDED.payload, updated_at=EXCLUDED.updated_at`,
		s.CapturedAt, payload)
	return err
}

// LatestBaseline returns nil when no tick has stored a baseline yet
func (r *PostgresStore) LatestBaseline(ctx context.Context) (*domain.Snapshot, error) {
	var payload json.RawMessage
	err := r.pool.QueryRow(ctx, "SELECT payload FROM evaluation_baseline WHERE id = 1").Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s domain.Snapshot
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, fmt.Errorf("decode baseline row: %w", err)
	}
	return &s, nil
}

// PutFlares inserts flare events, ignoring ids already stored
func (r *PostgresStore) PutFlares(ctx context.Context, items []domain.FlareTimelineItem) error {
	if len(items) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, it := range items {
		batch.Queue(`
			INSERT INTO flare_events (id, observed_at, class, short_flux, long_flux, scale, summary, source)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO NOTHING`,
			it.ID, it.Timestamp, it.Class, it.ShortFlux, it.LongFlux, it.Scale, it.Summary, it.Source)
	}
	return r.pool.SendBatch(ctx, batch).Close()
}

// RecentFlares lists flare events newest first
func (r *PostgresStore) RecentFlares(ctx context.Context, limit int) ([]domain.FlareTimelineItem, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, observed_at, class, short_flux, long_flux, scale, summary, source
		FROM flare_events ORDER BY observed_at DESC, id LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.FlareTimelineItem
	for rows.Next() {
		var it domain.FlareTimelineItem
		if err := rows.Scan(&it.ID, &it.Timestamp, &it.Class, &it.ShortFlux, &it.LongFlux, &it.Scale, &it.Summary, &it.Source); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

const deviceColumns = `install_id, push_token, timezone, platform, app_version, preferences,
	last_notification_at, created_at, updated_at`

// UpsertDevice inserts a device or updates every mutable column on conflict
func (r *PostgresStore) UpsertDevice(ctx context.Context, d domain.DeviceSubscription) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO device_subscriptions (install_id, push_token, timezone, platform, app_version, preferences, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (install_id) DO UPDATE
		SET push_token=EXCLUDED.push_token, timezone=EXCLUDED.timezone,
		    platform=EXCLUDED.platform, app_version=EXCLUDED.app_version,
		    preferences=EXCLUDED.preferences, updated_at=EXCLUDED.updated_at`,
		d.InstallID, d.PushToken, d.Timezone, d.Platform, d.AppVersion, d.PreferencesJSON, d.CreatedAt, d.UpdatedAt)
	return err
}

// GetDevice returns domain.ErrDeviceNotFound when no row exists
func (r *PostgresStore) GetDevice(ctx context.Context, installID string) (*domain.DeviceSubscription, error) {
	row := r.pool.QueryRow(ctx,
		"SELECT "+deviceColumns+" FROM device_subscriptions WHERE install_id = $1", installID)
	d, err := scanDevice(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrDeviceNotFound
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

// UpdatePreferences full-replaces the preference document
func (r *PostgresStore) UpdatePreferences(ctx context.Context, installID string, prefs []byte, updatedAt time.Time) error {
	tag, err := r.pool.Exec(ctx,
		"UPDATE device_subscriptions SET preferences = $2, updated_at = $3 WHERE install_id = $1",
		installID, json.RawMessage(prefs), updatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDeviceNotFound
	}
	return nil
}

// DeleteDevice removes a device row
func (r *PostgresStore) DeleteDevice(ctx context.Context, installID string) error {
	tag, err := r.pool.Exec(ctx, "DELETE FROM device_subscriptions WHERE install_id = $1", installID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDeviceNotFound
	}
	return nil
}

// ListDevices returns every registered device
func (r *PostgresStore) ListDevices(ctx context.Context) ([]domain.DeviceSubscription, error) {
	rows, err := r.pool.Query(ctx,
		"SELECT "+deviceColumns+" FROM device_subscriptions ORDER BY install_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DeviceSubscription
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// TouchLastNotification bumps last_notification_at
func (r *PostgresStore) TouchLastNotification(ctx context.Context, installID string, at time.Time) error {
	tag, err := r.pool.Exec(ctx,
		"UPDATE device_subscriptions SET last_notification_at = $2 WHERE install_id = $1", installID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDeviceNotFound
	}
	return nil
}

// InsertLog writes a delivery row unless (install_id, event_id) exists
func (r *PostgresStore) InsertLog(ctx context.Context, e domain.NotificationLogEntry) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO notification_log (install_id, event_id, status, reason, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (install_id, event_id) DO NOTHING`,
		e.InstallID, e.EventID, e.Status, e.Reason, e.CreatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Ping checks connectivity
func (r *PostgresStore) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func scanDevice(row pgx.Row) (*domain.DeviceSubscription, error) {
	var d domain.DeviceSubscription
	var prefs []byte
	err := row.Scan(&d.InstallID, &d.PushToken, &d.Timezone, &d.Platform, &d.AppVersion, &prefs,
		&d.LastNotificationAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	d.PreferencesJSON = prefs
	return &d, nil
}
