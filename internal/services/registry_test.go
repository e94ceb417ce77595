package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"go-spacewx/internal/domain"
	"go-spacewx/internal/repo"

	"go.uber.org/zap"
)

// brokenRepo fails every call the way an unreachable database would
type brokenRepo struct{ calls int }

var errDBDown = errors.New("dial tcp: connection refused")

func (b *brokenRepo) Name() string { return "postgres" }
func (b *brokenRepo) UpsertDevice(context.Context, domain.DeviceSubscription) error {
	b.calls++
	return errDBDown
}
func (b *brokenRepo) GetDevice(context.Context, string) (*domain.DeviceSubscription, error) {
	b.calls++
	return nil, errDBDown
}
func (b *brokenRepo) UpdatePreferences(context.Context, string, []byte, time.Time) error {
	b.calls++
	return errDBDown
}
func (b *brokenRepo) DeleteDevice(context.Context, string) error {
	b.calls++
	return errDBDown
}
func (b *brokenRepo) ListDevices(context.Context) ([]domain.DeviceSubscription, error) {
	b.calls++
	return nil, errDBDown
}
func (b *brokenRepo) TouchLastNotification(context.Context, string, time.Time) error {
	b.calls++
	return errDBDown
}

func newTestRegistry(clock *fixedClock, repos ...DeviceRepo) *Registry {
	return NewRegistry(repos, clock, zap.NewNop())
}

func TestRegisterTwiceUpserts(t *testing.T) {
	clock := newClock(t0)
	mem := repo.NewMemoryStore(4, clock.Now)
	reg := newTestRegistry(clock, mem)
	ctx := context.Background()

	first, err := reg.Register(ctx, RegisterInput{InstallID: "dev-1", PushToken: "tok-a", Timezone: "Europe/Oslo"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	clock.Advance(time.Hour)
	second, err := reg.Register(ctx, RegisterInput{InstallID: "dev-1", PushToken: "tok-b", Timezone: "Europe/Oslo"})
	if err != nil {
		t.Fatalf("Register again: %v", err)
	}

	devices, _ := reg.List(ctx)
	if len(devices) != 1 {
		t.Fatalf("devices = %d, want 1", len(devices))
	}
	if second.PushToken != "tok-b" {
		t.Errorf("pushToken = %q, want tok-b", second.PushToken)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("createdAt changed: %v -> %v", first.CreatedAt, second.CreatedAt)
	}
	if !second.UpdatedAt.After(first.UpdatedAt) {
		t.Errorf("updatedAt not bumped")
	}
}

func TestRegisterSynthesizesDefaults(t *testing.T) {
	clock := newClock(t0)
	reg := newTestRegistry(clock, repo.NewMemoryStore(4, clock.Now))

	d, err := reg.Register(context.Background(), RegisterInput{InstallID: "dev-1", PushToken: "tok", Timezone: "Mars/Olympus", Platform: "Android"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if d.Timezone != "UTC" {
		t.Errorf("timezone = %q, want UTC", d.Timezone)
	}
	if d.Platform != "android" {
		t.Errorf("platform = %q, want android", d.Platform)
	}
	want := domain.DefaultPreferences()
	if d.Preferences.Thresholds.Kp != want.Thresholds.Kp || !d.Preferences.AlertsEnabled {
		t.Errorf("preferences = %+v, want defaults", d.Preferences)
	}
}

func TestRegisterRequiresIDAndToken(t *testing.T) {
	clock := newClock(t0)
	reg := newTestRegistry(clock, repo.NewMemoryStore(4, clock.Now))

	for _, in := range []RegisterInput{
		{InstallID: "dev-1"},
		{PushToken: "tok"},
		{InstallID: "  ", PushToken: "tok"},
	} {
		if _, err := reg.Register(context.Background(), in); !errors.Is(err, domain.ErrInvalidPayload) {
			t.Errorf("Register(%+v) err = %v, want ErrInvalidPayload", in, err)
		}
	}
}

func TestUpdatePreferencesUnknownDevice(t *testing.T) {
	clock := newClock(t0)
	reg := newTestRegistry(clock, repo.NewMemoryStore(4, clock.Now))

	_, err := reg.UpdatePreferences(context.Background(), "ghost", domain.DefaultPreferences())
	if !errors.Is(err, domain.ErrDeviceNotFound) {
		t.Fatalf("err = %v, want ErrDeviceNotFound", err)
	}
	if err := reg.Unregister(context.Background(), "ghost"); !errors.Is(err, domain.ErrDeviceNotFound) {
		t.Fatalf("Unregister err = %v, want ErrDeviceNotFound", err)
	}
}

func TestUpdatePreferencesReplacesDocument(t *testing.T) {
	clock := newClock(t0)
	reg := newTestRegistry(clock, repo.NewMemoryStore(4, clock.Now))
	ctx := context.Background()
	if _, err := reg.Register(ctx, RegisterInput{InstallID: "dev-1", PushToken: "tok"}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	prefs := domain.Preferences{
		AlertsEnabled: true,
		Thresholds:    domain.Thresholds{Kp: 7, BzSouth: 15, FlareClasses: []string{"x", "m", "X"}},
	}
	d, err := reg.UpdatePreferences(ctx, "dev-1", prefs)
	if err != nil {
		t.Fatalf("UpdatePreferences: %v", err)
	}
	if d.Preferences.Thresholds.Kp != 7 {
		t.Errorf("kp = %v, want 7", d.Preferences.Thresholds.Kp)
	}
	got := d.Preferences.Thresholds.FlareClasses
	if len(got) != 2 || got[0] != "M" || got[1] != "X" {
		t.Errorf("flareClasses = %v, want [M X]", got)
	}
}

func TestRegistryFallsThroughUnreachableRepo(t *testing.T) {
	clock := newClock(t0)
	broken := &brokenRepo{}
	mem := repo.NewMemoryStore(4, clock.Now)
	reg := newTestRegistry(clock, broken, mem)

	d, err := reg.Register(context.Background(), RegisterInput{InstallID: "dev-1", PushToken: "tok"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if d.InstallID != "dev-1" || broken.calls == 0 {
		t.Errorf("device = %+v, broken calls = %d", d, broken.calls)
	}
	if _, err := mem.GetDevice(context.Background(), "dev-1"); err != nil {
		t.Errorf("memory fallback missing device: %v", err)
	}
}

// outageRepo is a memory-backed repository that can be taken offline
type outageRepo struct {
	*repo.MemoryStore
	down bool
}

func (o *outageRepo) Name() string { return "postgres" }
func (o *outageRepo) UpsertDevice(ctx context.Context, d domain.DeviceSubscription) error {
	if o.down {
		return errDBDown
	}
	return o.MemoryStore.UpsertDevice(ctx, d)
}
func (o *outageRepo) GetDevice(ctx context.Context, id string) (*domain.DeviceSubscription, error) {
	if o.down {
		return nil, errDBDown
	}
	return o.MemoryStore.GetDevice(ctx, id)
}
func (o *outageRepo) UpdatePreferences(ctx context.Context, id string, prefs []byte, at time.Time) error {
	if o.down {
		return errDBDown
	}
	return o.MemoryStore.UpdatePreferences(ctx, id, prefs, at)
}
func (o *outageRepo) DeleteDevice(ctx context.Context, id string) error {
	if o.down {
		return errDBDown
	}
	return o.MemoryStore.DeleteDevice(ctx, id)
}
func (o *outageRepo) ListDevices(ctx context.Context) ([]domain.DeviceSubscription, error) {
	if o.down {
		return nil, errDBDown
	}
	return o.MemoryStore.ListDevices(ctx)
}

func TestRegistryKeepsDevicesRegisteredDuringOutage(t *testing.T) {
	clock := newClock(t0)
	db := &outageRepo{MemoryStore: repo.NewMemoryStore(4, clock.Now), down: true}
	mem := repo.NewMemoryStore(4, clock.Now)
	reg := newTestRegistry(clock, db, mem)
	ctx := context.Background()

	if _, err := reg.Register(ctx, RegisterInput{InstallID: "dev-outage", PushToken: "tok-a"}); err != nil {
		t.Fatalf("Register during outage: %v", err)
	}
	db.down = false
	if _, err := reg.Register(ctx, RegisterInput{InstallID: "dev-db", PushToken: "tok-b"}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	devices, err := reg.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(devices) != 2 || devices[0].InstallID != "dev-db" || devices[1].InstallID != "dev-outage" {
		t.Fatalf("devices = %+v, want both tiers merged", devices)
	}

	prefs := domain.DefaultPreferences()
	prefs.Thresholds.Kp = 8
	d, err := reg.UpdatePreferences(ctx, "dev-outage", prefs)
	if err != nil {
		t.Fatalf("UpdatePreferences: %v", err)
	}
	if d.Preferences.Thresholds.Kp != 8 {
		t.Errorf("kp = %v, want 8", d.Preferences.Thresholds.Kp)
	}

	if err := reg.Unregister(ctx, "dev-outage"); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	if devices, _ := reg.List(ctx); len(devices) != 1 || devices[0].InstallID != "dev-db" {
		t.Errorf("devices after unregister = %+v", devices)
	}
	if err := reg.Unregister(ctx, "ghost"); !errors.Is(err, domain.ErrDeviceNotFound) {
		t.Errorf("Unregister(ghost) err = %v, want ErrDeviceNotFound", err)
	}
}

func TestRegistryListPrefersHigherTierCopy(t *testing.T) {
	clock := newClock(t0)
	db := repo.NewMemoryStore(4, clock.Now)
	mem := repo.NewMemoryStore(4, clock.Now)
	ctx := context.Background()
	_ = mem.UpsertDevice(ctx, domain.DeviceSubscription{InstallID: "dev-1", PushToken: "stale"})
	_ = db.UpsertDevice(ctx, domain.DeviceSubscription{InstallID: "dev-1", PushToken: "current"})

	devices, err := newTestRegistry(clock, db, mem).List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(devices) != 1 || devices[0].PushToken != "current" {
		t.Errorf("devices = %+v, want the first tier's copy", devices)
	}
}

func TestRegistryAllReposDown(t *testing.T) {
	reg := newTestRegistry(newClock(t0), &brokenRepo{})
	_, err := reg.List(context.Background())
	if !errors.Is(err, domain.ErrTierUnavailable) || !errors.Is(err, errDBDown) {
		t.Fatalf("err = %v, want ErrTierUnavailable wrapping the cause", err)
	}
}

func TestNormalizeTimezone(t *testing.T) {
	tests := map[string]string{
		"":                 "UTC",
		"Local":            "UTC",
		"Not/AZone":        "UTC",
		"America/New_York": "America/New_York",
		" Asia/Tokyo ":     "Asia/Tokyo",
	}
	for in, want := range tests {
		if got := NormalizeTimezone(in); got != want {
			t.Errorf("NormalizeTimezone(%q) = %q, want %q", in, got, want)
		}
	}
}
