package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"go-spacewx/internal/clients"
	"go-spacewx/internal/domain"

	"go.uber.org/zap"
)

var t0 = time.Date(2024, 5, 10, 18, 0, 0, 0, time.UTC)

func TestAggregatePartialOutageKeepsPreviousFields(t *testing.T) {
	clock := newClock(t0)
	prevWind := &domain.SolarWind{Velocity: f64(450), Density: f64(5), Bz: f64(-1), Timestamp: t0.Add(-5 * time.Minute)}
	previous, err := domain.NewSnapshot(t0.Add(-5*time.Minute), domain.SourceLive, prevWind,
		&domain.Geomagnetic{Kp: f64(3), Timestamp: t0.Add(-5 * time.Minute)}, nil)
	if err != nil {
		t.Fatalf("NewSnapshot: %v", err)
	}

	feeds := &feedStub{
		plasmaErr: errUpstream,
		mag:       &clients.MagReading{Bz: f64(-12), Bt: f64(14), Time: t0.Add(-time.Minute)},
		kp:        &clients.KpReading{Kp: f64(4.33), Time: t0.Add(-time.Minute)},
		xrayErr:   errUpstream,
	}
	agg := NewAggregator(feeds.feeds(), clock, 15*time.Minute, zap.NewNop())

	snap, err := agg.Aggregate(context.Background(), previous)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if snap.Source != domain.SourceLive {
		t.Errorf("source = %q, want live", snap.Source)
	}
	if snap.SolarWind == nil || snap.SolarWind.Velocity == nil || *snap.SolarWind.Velocity != 450 {
		t.Fatalf("velocity not carried from previous: %+v", snap.SolarWind)
	}
	if *snap.SolarWind.Density != 5 {
		t.Errorf("density = %v, want 5", *snap.SolarWind.Density)
	}
	if *snap.SolarWind.Bz != -12 {
		t.Errorf("bz = %v, want -12", *snap.SolarWind.Bz)
	}
	if *snap.Geomagnetic.Kp != 4.33 {
		t.Errorf("kp = %v, want 4.33", *snap.Geomagnetic.Kp)
	}
	if snap.Condition != domain.ConditionStorm {
		t.Errorf("condition = %q, want storm (bz -12)", snap.Condition)
	}
	if snap.Stale {
		t.Error("fresh partial snapshot marked stale")
	}
}

func TestAggregateAllFeedsDownServesCachedCopy(t *testing.T) {
	clock := newClock(t0)
	previous := kpSnapshot(t0.Add(-10*time.Minute), 3)

	feeds := &feedStub{}
	feeds.failAll()
	agg := NewAggregator(feeds.feeds(), clock, 15*time.Minute, zap.NewNop())

	snap, err := agg.Aggregate(context.Background(), previous)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if snap.Source != domain.SourceCached {
		t.Errorf("source = %q, want cached", snap.Source)
	}
	if !snap.Stale {
		t.Error("cached snapshot must be stale")
	}
	if snap.StaleSeconds < 595 || snap.StaleSeconds > 605 {
		t.Errorf("staleSeconds = %d, want about 600", snap.StaleSeconds)
	}
	if previous.Source != domain.SourceLive {
		t.Error("previous snapshot was mutated")
	}
}

func TestAggregateAllFeedsDownWithoutCache(t *testing.T) {
	feeds := &feedStub{}
	feeds.failAll()
	agg := NewAggregator(feeds.feeds(), newClock(t0), 15*time.Minute, zap.NewNop())

	_, err := agg.Aggregate(context.Background(), nil)
	if !errors.Is(err, domain.ErrNoUpstreamData) {
		t.Fatalf("err = %v, want ErrNoUpstreamData", err)
	}
}

func TestAggregateUnconfiguredFeedCountsAsFailed(t *testing.T) {
	feeds := &feedStub{kp: &clients.KpReading{Kp: f64(2), Time: t0}}
	agg := NewAggregator(Feeds{Kp: feeds}, newClock(t0), 15*time.Minute, zap.NewNop())

	res := agg.Fetch(context.Background())
	failed := res.Failed()
	if len(failed) != 3 {
		t.Fatalf("failed = %v, want plasma, mag and xray", failed)
	}
	if !errors.Is(failed["plasma"], errFeedNotConfigured) {
		t.Errorf("plasma err = %v", failed["plasma"])
	}
}

func TestAggregateDropsReadingReturnedWithError(t *testing.T) {
	feeds := &feedStub{
		kp:    &clients.KpReading{Kp: f64(9), Time: t0},
		kpErr: errUpstream,
		mag:   &clients.MagReading{Bz: f64(1), Time: t0},
	}
	agg := NewAggregator(feeds.feeds(), newClock(t0), 15*time.Minute, zap.NewNop())

	snap, err := agg.Aggregate(context.Background(), nil)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if snap.Geomagnetic != nil {
		t.Errorf("geomagnetic = %+v, want nil", snap.Geomagnetic)
	}
}

func TestMergeSnapshotBuildsFlareFromXray(t *testing.T) {
	res := FeedResults{Xray: &clients.XrayReading{Short: f64(3e-6), Long: f64(2.3e-5), Time: t0}}

	snap, err := MergeSnapshot(nil, res, t0)
	if err != nil {
		t.Fatalf("MergeSnapshot: %v", err)
	}
	if snap.Flare == nil || snap.Flare.Class != "M2.3" {
		t.Fatalf("flare = %+v, want M2.3", snap.Flare)
	}
	if snap.Flare.Scale != "R1" {
		t.Errorf("scale = %q, want R1", snap.Flare.Scale)
	}
	if !snap.LastUpdatedAt.Equal(t0) {
		t.Errorf("lastUpdatedAt = %v", snap.LastUpdatedAt)
	}
}
