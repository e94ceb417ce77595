package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go-spacewx/internal/clients"
	"go-spacewx/internal/domain"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type PlasmaFetcher interface {
	FetchPlasma(ctx context.Context) (*clients.PlasmaReading, error)
}

type MagFetcher interface {
	FetchMag(ctx context.Context) (*clients.MagReading, error)
}

type KpFetcher interface {
	FetchKp(ctx context.Context) (*clients.KpReading, error)
}

type XrayFetcher interface {
	FetchXray(ctx context.Context) (*clients.XrayReading, error)
}

// Feeds groups the four upstream sources. A nil feed counts as failed.
type Feeds struct {
	Plasma PlasmaFetcher
	Mag    MagFetcher
	Kp     KpFetcher
	Xray   XrayFetcher
}

var errFeedNotConfigured = errors.New("feed not configured")

// FeedResults holds each feed's outcome independently
type FeedResults struct {
	Plasma    *clients.PlasmaReading
	PlasmaErr error
	Mag       *clients.MagReading
	MagErr    error
	Kp        *clients.KpReading
	KpErr     error
	Xray      *clients.XrayReading
	XrayErr   error
}

// AllFailed reports whether no feed produced a reading
func (r FeedResults) AllFailed() bool {
	return r.Plasma == nil && r.Mag == nil && r.Kp == nil && r.Xray == nil
}

// Failed lists the feeds that produced no reading
func (r FeedResults) Failed() map[string]error {
	out := map[string]error{}
	if r.Plasma == nil {
		out["plasma"] = r.PlasmaErr
	}
	if r.Mag == nil {
		out["mag"] = r.MagErr
	}
	if r.Kp == nil {
		out["kp"] = r.KpErr
	}
	if r.Xray == nil {
		out["xray"] = r.XrayErr
	}
	return out
}

// Aggregator assembles one snapshot from the upstream feeds
type Aggregator struct {
	feeds      Feeds
	clock      domain.Clock
	staleAfter time.Duration
	log        *zap.Logger
}

// NewAggregator creates a new aggregator
func NewAggregator(feeds Feeds, clock domain.Clock, staleAfter time.Duration, log *zap.Logger) *Aggregator {
	return &Aggregator{
		feeds:      feeds,
		clock:      clock,
		staleAfter: staleAfter,
		log:        log.Named("aggregator"),
	}
}

// Fetch issues every feed request concurrently and waits for all of them.
// Goroutines never return an error so one failure cannot cancel the rest.
func (a *Aggregator) Fetch(ctx context.Context) FeedResults {
	var res FeedResults
	var g errgroup.Group

	g.Go(func() error {
		if a.feeds.Plasma == nil {
			res.PlasmaErr = errFeedNotConfigured
			return nil
		}
		res.Plasma, res.PlasmaErr = a.feeds.Plasma.FetchPlasma(ctx)
		return nil
	})
	g.Go(func() error {
		if a.feeds.Mag == nil {
			res.MagErr = errFeedNotConfigured
			return nil
		}
		res.Mag, res.MagErr = a.feeds.Mag.FetchMag(ctx)
		return nil
	})
	g.Go(func() error {
		if a.feeds.Kp == nil {
			res.KpErr = errFeedNotConfigured
			return nil
		}
		res.Kp, res.KpErr = a.feeds.Kp.FetchKp(ctx)
		return nil
	})
	g.Go(func() error {
		if a.feeds.Xray == nil {
			res.XrayErr = errFeedNotConfigured
			return nil
		}
		res.Xray, res.XrayErr = a.feeds.Xray.FetchXray(ctx)
		return nil
	})
	_ = g.Wait()

	// a reading returned alongside an error is not trusted
	if res.PlasmaErr != nil {
		res.Plasma = nil
	}
	if res.MagErr != nil {
		res.Mag = nil
	}
	if res.KpErr != nil {
		res.Kp = nil
	}
	if res.XrayErr != nil {
		res.Xray = nil
	}
	return res
}

// Aggregate fetches all feeds and merges them over previous. With every
// feed down it returns previous marked cached and stale, or
// domain.ErrNoUpstreamData when there is no previous snapshot.
func (a *Aggregator) Aggregate(ctx context.Context, previous *domain.Snapshot) (*domain.Snapshot, error) {
	res := a.Fetch(ctx)
	now := a.clock.Now()

	failed := res.Failed()
	if res.AllFailed() {
		a.log.Warn("all upstream feeds failed", feedErrorFields(failed)...)
		if previous == nil {
			return nil, domain.ErrNoUpstreamData
		}
		return previous.AsCached(now, a.staleAfter), nil
	}
	if len(failed) > 0 {
		a.log.Warn("partial upstream outage, falling back to previous fields", feedErrorFields(failed)...)
	}

	snap, err := MergeSnapshot(previous, res, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrNoUpstreamData, err)
	}
	return snap.Normalize(now, a.staleAfter), nil
}

func feedErrorFields(failed map[string]error) []zap.Field {
	fields := make([]zap.Field, 0, len(failed))
	for name, err := range failed {
		msg := "no reading"
		if err != nil {
			msg = err.Error()
		}
		fields = append(fields, zap.String(name, msg))
	}
	return fields
}

// MergeSnapshot builds a live snapshot from feed results. Every field a feed
// did not supply is taken from previous, never defaulted to zero.
func MergeSnapshot(previous *domain.Snapshot, res FeedResults, now time.Time) (*domain.Snapshot, error) {
	var prevWind domain.SolarWind
	var prevGeo domain.Geomagnetic
	var prevFlare domain.Flare
	if previous != nil {
		if previous.SolarWind != nil {
			prevWind = *previous.SolarWind
		}
		if previous.Geomagnetic != nil {
			prevGeo = *previous.Geomagnetic
		}
		if previous.Flare != nil {
			prevFlare = *previous.Flare
		}
	}

	var plasma clients.PlasmaReading
	if res.Plasma != nil {
		plasma = *res.Plasma
	}
	var mag clients.MagReading
	if res.Mag != nil {
		mag = *res.Mag
	}
	wind := &domain.SolarWind{
		Velocity:    pick(plasma.Speed, prevWind.Velocity),
		Density:     pick(plasma.Density, prevWind.Density),
		Temperature: pick(plasma.Temperature, prevWind.Temperature),
		Bz:          pick(mag.Bz, prevWind.Bz),
		Bt:          pick(mag.Bt, prevWind.Bt),
		Timestamp:   newest(prevWind.Timestamp, plasma.Time, mag.Time),
	}
	if wind.Velocity == nil && wind.Density == nil && wind.Temperature == nil && wind.Bz == nil && wind.Bt == nil {
		wind = nil
	}

	var geo *domain.Geomagnetic
	if res.Kp != nil {
		geo = &domain.Geomagnetic{
			Kp:        pick(res.Kp.Kp, prevGeo.Kp),
			ARunning:  pick(res.Kp.ARunning, prevGeo.ARunning),
			Timestamp: newest(prevGeo.Timestamp, res.Kp.Time),
		}
	} else if prevGeo.Kp != nil || prevGeo.ARunning != nil {
		g := prevGeo
		geo = &g
	}

	var flare *domain.Flare
	if res.Xray != nil {
		flare = domain.NewFlare(
			pick(res.Xray.Short, prevFlare.ShortFlux),
			pick(res.Xray.Long, prevFlare.LongFlux),
			newest(prevFlare.Timestamp, res.Xray.Time),
		)
		if flare != nil {
			flare.TrackEvent(&prevFlare)
		}
	} else if previous != nil && previous.Flare != nil {
		f := prevFlare
		flare = &f
	}

	return domain.NewSnapshot(now, domain.SourceLive, wind, geo, flare)
}

func pick(live, fallback *float64) *float64 {
	if live != nil {
		return live
	}
	return fallback
}

func newest(ts ...time.Time) time.Time {
	var out time.Time
	for _, t := range ts {
		if t.After(out) {
			out = t
		}
	}
	return out
}
