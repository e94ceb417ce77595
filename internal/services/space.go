package services

import (
	"context"
	"fmt"
	"time"

	"go-spacewx/internal/domain"

	"go.uber.org/zap"
)

const (
	DefaultFlareLimit = 20
	MaxFlareLimit     = 100
)

// SpaceService serves the read-side endpoints
type SpaceService struct {
	aggregator *Aggregator
	store      *SnapshotStore
	clock      domain.Clock
	nowCache   time.Duration
	log        *zap.Logger
}

// NewSpaceService creates a new space service. Stored live snapshots younger
// than nowCache are served without refetching.
func NewSpaceService(aggregator *Aggregator, store *SnapshotStore, clock domain.Clock, nowCache time.Duration, log *zap.Logger) *SpaceService {
	return &SpaceService{
		aggregator: aggregator,
		store:      store,
		clock:      clock,
		nowCache:   nowCache,
		log:        log.Named("space"),
	}
}

// Current returns the freshest snapshot available
func (s *SpaceService) Current(ctx context.Context) (*domain.Snapshot, error) {
	latest, err := s.store.Latest(ctx)
	if err != nil {
		s.log.Warn("stored snapshot unavailable", zap.Error(err))
	}
	if latest != nil && latest.Source == domain.SourceLive && s.clock.Now().Sub(latest.CapturedAt) < s.nowCache {
		return latest, nil
	}

	snap, err := s.aggregator.Aggregate(ctx, latest)
	if err != nil {
		return nil, err
	}
	s.store.Persist(ctx, snap)
	return snap, nil
}

// Flares returns the most recent flare observations, newest first
func (s *SpaceService) Flares(ctx context.Context, limit int) ([]domain.FlareTimelineItem, error) {
	return s.store.RecentFlares(ctx, ClampFlareLimit(limit))
}

// ClampFlareLimit applies the default and the upper bound
func ClampFlareLimit(limit int) int {
	if limit <= 0 {
		return DefaultFlareLimit
	}
	if limit > MaxFlareLimit {
		return MaxFlareLimit
	}
	return limit
}

// Learn returns the current snapshot with cards explaining it
func (s *SpaceService) Learn(ctx context.Context) (*domain.LearnContext, error) {
	snap, err := s.Current(ctx)
	if err != nil {
		return nil, err
	}
	return &domain.LearnContext{Snapshot: snap, Cards: LearnCards(snap)}, nil
}

// LearnCards derives the educational cards for a snapshot. Only metrics the
// snapshot carries get a card.
func LearnCards(s *domain.Snapshot) []domain.LearnCard {
	cards := []domain.LearnCard{{
		ID:    "condition",
		Title: "Overall conditions",
		Body:  conditionText(s.Condition),
		Level: string(s.Condition),
	}}

	if s.Geomagnetic != nil && s.Geomagnetic.Kp != nil {
		kp := *s.Geomagnetic.Kp
		cards = append(cards, domain.LearnCard{
			ID:     "kp",
			Title:  "Planetary K-index",
			Body:   "Kp measures global geomagnetic disturbance on a 0 to 9 scale. Values of 5 and above are storm level and push aurora toward mid latitudes.",
			Metric: fmt.Sprintf("Kp %.1f", kp),
			Level:  string(domain.Classify(&kp, nil, nil)),
		})
	}

	if s.SolarWind != nil && s.SolarWind.Bz != nil {
		bz := *s.SolarWind.Bz
		cards = append(cards, domain.LearnCard{
			ID:     "bz",
			Title:  "Interplanetary magnetic field Bz",
			Body:   "When Bz points south (negative) the solar wind couples into Earth's magnetic field. Sustained values below -10 nT often precede storms.",
			Metric: fmt.Sprintf("%.1f nT", bz),
			Level:  string(domain.Classify(nil, nil, &bz)),
		})
	}

	if s.SolarWind != nil && s.SolarWind.Velocity != nil {
		v := *s.SolarWind.Velocity
		cards = append(cards, domain.LearnCard{
			ID:     "solar-wind",
			Title:  "Solar wind speed",
			Body:   "Typical solar wind flows at around 400 km/s. Fast streams from coronal holes or CMEs deliver more energy to the magnetosphere.",
			Metric: fmt.Sprintf("%.0f km/s", v),
			Level:  string(domain.Classify(nil, &v, nil)),
		})
	}

	if s.Flare != nil && s.Flare.Class != "" {
		cards = append(cards, domain.LearnCard{
			ID:     "flare",
			Title:  "Solar flares and radio blackouts",
			Body:   "Flares are graded A, B, C, M and X by peak X-ray flux, each ten times stronger than the last. M and X flares can black out HF radio on the sunlit side of Earth. " + s.Flare.Impact,
			Metric: fmt.Sprintf("%s (%s)", s.Flare.Class, s.Flare.Scale),
			Level:  flareLevel(s.Flare.Scale),
		})
	}
	return cards
}

func conditionText(c domain.Condition) string {
	switch c {
	case domain.ConditionExtreme:
		return "Space weather is extreme. Expect aurora far from the poles and possible disruption to GPS, radio and power systems."
	case domain.ConditionStorm:
		return "A geomagnetic storm is under way. Aurora is likely at high and mid latitudes."
	case domain.ConditionModerate:
		return "Conditions are unsettled. Aurora may be visible at high latitudes."
	default:
		return "Space weather is quiet. No significant impacts are expected."
	}
}

func flareLevel(scale string) string {
	switch scale {
	case "R4", "R5":
		return string(domain.ConditionExtreme)
	case "R2", "R3":
		return string(domain.ConditionStorm)
	case "R1":
		return string(domain.ConditionModerate)
	default:
		return string(domain.ConditionQuiet)
	}
}
