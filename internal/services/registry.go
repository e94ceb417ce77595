package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go-spacewx/internal/domain"

	"go.uber.org/zap"
)

// DeviceRepo is one storage backend for device subscriptions
type DeviceRepo interface {
	Name() string
	UpsertDevice(ctx context.Context, d domain.DeviceSubscription) error
	GetDevice(ctx context.Context, installID string) (*domain.DeviceSubscription, error)
	UpdatePreferences(ctx context.Context, installID string, prefs []byte, updatedAt time.Time) error
	DeleteDevice(ctx context.Context, installID string) error
	ListDevices(ctx context.Context) ([]domain.DeviceSubscription, error)
	TouchLastNotification(ctx context.Context, installID string, at time.Time) error
}

const defaultPlatform = "ios"

var knownPlatforms = map[string]bool{"ios": true, "android": true, "web": true}

// RegisterInput is the registration request after transport decoding
type RegisterInput struct {
	InstallID   string
	PushToken   string
	Timezone    string
	Platform    string
	AppVersion  *string
	Preferences *domain.Preferences
}

// Registry manages device subscriptions over repositories tried in order.
// Not-found and infrastructure errors both move on to the next repository,
// so a device written to the memory tier during an outage stays reachable
// once the database is back. ErrDeviceNotFound is returned only when no
// repository holds the device and at least one of them answered.
type Registry struct {
	repos []DeviceRepo
	clock domain.Clock
	log   *zap.Logger
}

// NewRegistry creates a registry over repos, highest priority first
func NewRegistry(repos []DeviceRepo, clock domain.Clock, log *zap.Logger) *Registry {
	return &Registry{repos: repos, clock: clock, log: log.Named("registry")}
}

// try stops at the first repository that succeeds
func (r *Registry) try(op string, fn func(DeviceRepo) error) error {
	return r.run(op, true, fn)
}

// each runs fn against every repository and succeeds if any of them did
func (r *Registry) each(op string, fn func(DeviceRepo) error) error {
	return r.run(op, false, fn)
}

func (r *Registry) run(op string, first bool, fn func(DeviceRepo) error) error {
	var last error = domain.ErrTierUnavailable
	ok, notFound := false, false
	for _, repo := range r.repos {
		err := fn(repo)
		switch {
		case err == nil:
			if first {
				return nil
			}
			ok = true
		case errors.Is(err, domain.ErrDeviceNotFound):
			notFound = true
		default:
			r.log.Warn("device repository failed", zap.String("op", op), zap.String("tier", repo.Name()), zap.Error(err))
			last = err
		}
	}
	switch {
	case ok:
		return nil
	case notFound:
		return domain.ErrDeviceNotFound
	}
	return fmt.Errorf("%s: %w", op, errors.Join(domain.ErrTierUnavailable, last))
}

// Register validates, normalizes and upserts a device
func (r *Registry) Register(ctx context.Context, in RegisterInput) (*domain.DeviceSubscription, error) {
	in.InstallID = strings.TrimSpace(in.InstallID)
	in.PushToken = strings.TrimSpace(in.PushToken)
	if in.InstallID == "" || in.PushToken == "" {
		return nil, fmt.Errorf("%w: installId and pushToken are required", domain.ErrInvalidPayload)
	}

	prefs := domain.DefaultPreferences()
	if in.Preferences != nil {
		prefs = NormalizePreferences(*in.Preferences)
	}
	raw, err := json.Marshal(prefs)
	if err != nil {
		return nil, err
	}

	now := r.clock.Now()
	d := domain.DeviceSubscription{
		InstallID:       in.InstallID,
		PushToken:       in.PushToken,
		Timezone:        NormalizeTimezone(in.Timezone),
		Platform:        NormalizePlatform(in.Platform),
		AppVersion:      in.AppVersion,
		Preferences:     prefs,
		PreferencesJSON: raw,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := r.try("register", func(repo DeviceRepo) error { return repo.UpsertDevice(ctx, d) }); err != nil {
		return nil, err
	}
	return r.Get(ctx, d.InstallID)
}

// UpdatePreferences full-replaces a device's preferences
func (r *Registry) UpdatePreferences(ctx context.Context, installID string, prefs domain.Preferences) (*domain.DeviceSubscription, error) {
	prefs = NormalizePreferences(prefs)
	raw, err := json.Marshal(prefs)
	if err != nil {
		return nil, err
	}
	now := r.clock.Now()
	if err := r.try("update_preferences", func(repo DeviceRepo) error {
		return repo.UpdatePreferences(ctx, installID, raw, now)
	}); err != nil {
		return nil, err
	}
	return r.Get(ctx, installID)
}

// Unregister deletes a device from every repository holding a copy
func (r *Registry) Unregister(ctx context.Context, installID string) error {
	return r.each("unregister", func(repo DeviceRepo) error { return repo.DeleteDevice(ctx, installID) })
}

// Get returns a device with decoded preferences
func (r *Registry) Get(ctx context.Context, installID string) (*domain.DeviceSubscription, error) {
	var d *domain.DeviceSubscription
	err := r.try("get", func(repo DeviceRepo) error {
		var err error
		d, err = repo.GetDevice(ctx, installID)
		return err
	})
	if err != nil {
		return nil, err
	}
	prefs, err := d.DecodePreferences()
	if err != nil {
		return nil, fmt.Errorf("decode preferences for %s: %w", installID, err)
	}
	d.Preferences = prefs
	return d, nil
}

// List merges the devices of every reachable repository, the higher
// priority copy winning. Preferences are not decoded, so one corrupt row
// cannot fail the listing.
func (r *Registry) List(ctx context.Context) ([]domain.DeviceSubscription, error) {
	var out []domain.DeviceSubscription
	seen := map[string]bool{}
	err := r.each("list", func(repo DeviceRepo) error {
		devices, err := repo.ListDevices(ctx)
		if err != nil {
			return err
		}
		for _, d := range devices {
			if !seen[d.InstallID] {
				seen[d.InstallID] = true
				out = append(out, d)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstallID < out[j].InstallID })
	return out, nil
}

// TouchLastNotification records a successful delivery time
func (r *Registry) TouchLastNotification(ctx context.Context, installID string, at time.Time) error {
	return r.try("touch", func(repo DeviceRepo) error { return repo.TouchLastNotification(ctx, installID, at) })
}

// NormalizeTimezone returns tz when it names an IANA zone, UTC otherwise
func NormalizeTimezone(tz string) string {
	tz = strings.TrimSpace(tz)
	if tz == "" || tz == "Local" {
		return "UTC"
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return "UTC"
	}
	return tz
}

// NormalizePlatform lowercases known platforms and defaults the rest
func NormalizePlatform(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	if knownPlatforms[p] {
		return p
	}
	return defaultPlatform
}

// NormalizePreferences uppercases, dedupes and orders flare classes and
// keeps quiet-hour bounds inside a day
func NormalizePreferences(p domain.Preferences) domain.Preferences {
	seen := map[string]bool{}
	classes := make([]string, 0, len(p.Thresholds.FlareClasses))
	for _, c := range p.Thresholds.FlareClasses {
		letter := domain.FlareLetter(strings.TrimSpace(c))
		if domain.FlareRank(letter) == 0 || seen[letter] {
			continue
		}
		seen[letter] = true
		classes = append(classes, letter)
	}
	sort.Slice(classes, func(i, j int) bool { return domain.FlareRank(classes[i]) < domain.FlareRank(classes[j]) })
	p.Thresholds.FlareClasses = classes
	p.QuietHours.StartHour = ((p.QuietHours.StartHour % 24) + 24) % 24
	p.QuietHours.EndHour = ((p.QuietHours.EndHour % 24) + 24) % 24
	return p
}
