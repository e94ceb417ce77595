package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"go-spacewx/internal/cache"
	"go-spacewx/internal/domain"
)

const defaultMemorySnapshots = 32

type logKey struct {
	installID string
	eventID   string
}

// MemoryStore is the process-lifetime fallback for every durable table. It
// is constructed once and injected; it does not survive restarts.
type MemoryStore struct {
	mu        sync.RWMutex
	capacity  int
	snapshots []*domain.Snapshot // most recent first
	baseline  *domain.Snapshot
	flares    map[string]domain.FlareTimelineItem
	devices   map[string]domain.DeviceSubscription
	logs      map[logKey]domain.NotificationLogEntry
	logOrder  []logKey
	cooldowns *cache.TTLCache[string, struct{}]
}

// NewMemoryStore creates a memory store whose snapshot ring holds at most
// capacity entries. now drives cooldown expiry; nil uses time.Now.
func NewMemoryStore(capacity int, now func() time.Time) *MemoryStore {
	if capacity <= 0 {
		capacity = defaultMemorySnapshots
	}
	return &MemoryStore{
		capacity:  capacity,
		flares:    make(map[string]domain.FlareTimelineItem),
		devices:   make(map[string]domain.DeviceSubscription),
		logs:      make(map[logKey]domain.NotificationLogEntry),
		cooldowns: cache.NewTTLCache[string, struct{}](now),
	}
}

func (m *MemoryStore) Name() string  { return "memory" }
func (m *MemoryStore) Durable() bool { return false }

// PutSnapshot prepends to the ring buffer and drops the oldest beyond capacity
func (m *MemoryStore) PutSnapshot(_ context.Context, s *domain.Snapshot) error {
	c := *s
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = append([]*domain.Snapshot{&c}, m.snapshots...)
	if len(m.snapshots) > m.capacity {
		m.snapshots = m.snapshots[:m.capacity]
	}
	return nil
}

// LatestSnapshot returns the most recent snapshot or nil
func (m *MemoryStore) LatestSnapshot(_ context.Context) (*domain.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.snapshots) == 0 {
		return nil, nil
	}
	c := *m.snapshots[0]
	return &c, nil
}

// PutBaseline replaces the evaluation baseline
func (m *MemoryStore) PutBaseline(_ context.Context, s *domain.Snapshot) error {
	c := *s
	m.mu.Lock()
	m.baseline = &c
	m.mu.Unlock()
	return nil
}

// LatestBaseline returns the evaluation baseline or nil
func (m *MemoryStore) LatestBaseline(_ context.Context) (*domain.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.baseline == nil {
		return nil, nil
	}
	c := *m.baseline
	return &c, nil
}

// SnapshotCount reports how many snapshots the ring holds
func (m *MemoryStore) SnapshotCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.snapshots)
}

// PutFlares inserts items whose id is not yet known
func (m *MemoryStore) PutFlares(_ context.Context, items []domain.FlareTimelineItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range items {
		if _, ok := m.flares[it.ID]; !ok {
			m.flares[it.ID] = it
		}
	}
	return nil
}

// RecentFlares returns up to limit flares, newest first
func (m *MemoryStore) RecentFlares(_ context.Context, limit int) ([]domain.FlareTimelineItem, error) {
	m.mu.RLock()
	items := make([]domain.FlareTimelineItem, 0, len(m.flares))
	for _, it := range m.flares {
		items = append(items, it)
	}
	m.mu.RUnlock()
	return newestFlares(items, limit), nil
}

// UpsertDevice inserts or replaces every mutable column of a device
func (m *MemoryStore) UpsertDevice(_ context.Context, d domain.DeviceSubscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.devices[d.InstallID]; ok {
		d.CreatedAt = prev.CreatedAt
		d.LastNotificationAt = prev.LastNotificationAt
	}
	m.devices[d.InstallID] = d
	return nil
}

// GetDevice returns domain.ErrDeviceNotFound when absent
func (m *MemoryStore) GetDevice(_ context.Context, installID string) (*domain.DeviceSubscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[installID]
	if !ok {
		return nil, domain.ErrDeviceNotFound
	}
	return &d, nil
}

// UpdatePreferences replaces the preference document
func (m *MemoryStore) UpdatePreferences(_ context.Context, installID string, prefs []byte, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[installID]
	if !ok {
		return domain.ErrDeviceNotFound
	}
	d.PreferencesJSON = append([]byte(nil), prefs...)
	d.UpdatedAt = updatedAt
	m.devices[installID] = d
	return nil
}

// DeleteDevice removes a device
func (m *MemoryStore) DeleteDevice(_ context.Context, installID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.devices[installID]; !ok {
		return domain.ErrDeviceNotFound
	}
	delete(m.devices, installID)
	return nil
}

// ListDevices returns every device ordered by install id
func (m *MemoryStore) ListDevices(_ context.Context) ([]domain.DeviceSubscription, error) {
	m.mu.RLock()
	out := make([]domain.DeviceSubscription, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, d)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].InstallID < out[j].InstallID })
	return out, nil
}

// TouchLastNotification bumps lastNotificationAt
func (m *MemoryStore) TouchLastNotification(_ context.Context, installID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[installID]
	if !ok {
		return domain.ErrDeviceNotFound
	}
	d.LastNotificationAt = &at
	m.devices[installID] = d
	return nil
}

// InsertLog appends an entry unless (installId, eventId) is already logged.
// It reports whether a row was written.
func (m *MemoryStore) InsertLog(_ context.Context, e domain.NotificationLogEntry) (bool, error) {
	k := logKey{installID: e.InstallID, eventID: e.EventID}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.logs[k]; ok {
		return false, nil
	}
	m.logs[k] = e
	m.logOrder = append(m.logOrder, k)
	return true, nil
}

// ListLogs returns the entries for one device in insertion order
func (m *MemoryStore) ListLogs(_ context.Context, installID string) ([]domain.NotificationLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.NotificationLogEntry
	for _, k := range m.logOrder {
		if k.installID == installID {
			out = append(out, m.logs[k])
		}
	}
	return out, nil
}

// CooldownActive reports whether key was marked and has not expired
func (m *MemoryStore) CooldownActive(_ context.Context, key string) (bool, error) {
	_, ok := m.cooldowns.Get(key)
	return ok, nil
}

// MarkCooldown starts a cooldown window for key
func (m *MemoryStore) MarkCooldown(_ context.Context, key string, ttl time.Duration) error {
	m.cooldowns.Set(key, struct{}{}, ttl)
	return nil
}

func newestFlares(items []domain.FlareTimelineItem, limit int) []domain.FlareTimelineItem {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Timestamp.Equal(items[j].Timestamp) {
			return items[i].ID < items[j].ID
		}
		return items[i].Timestamp.After(items[j].Timestamp)
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
