package services

import (
	"context"
	"time"

	"go-spacewx/internal/domain"

	"go.uber.org/zap"
)

// SnapshotTier is one storage backend for snapshots and flares. The
// baseline is the snapshot the last tick evaluated; only ticks write it.
// Latest, LatestBaseline and Recent return nil without error on a miss.
type SnapshotTier interface {
	Name() string
	Durable() bool
	PutSnapshot(ctx context.Context, s *domain.Snapshot) error
	LatestSnapshot(ctx context.Context) (*domain.Snapshot, error)
	PutBaseline(ctx context.Context, s *domain.Snapshot) error
	LatestBaseline(ctx context.Context) (*domain.Snapshot, error)
	PutFlares(ctx context.Context, items []domain.FlareTimelineItem) error
	RecentFlares(ctx context.Context, limit int) ([]domain.FlareTimelineItem, error)
}

// WriteReport records which tiers accepted a write
type WriteReport struct {
	Written  []string
	Failed   map[string]error
	Fallback bool
}

// SnapshotStore reads and writes through tiers in priority order, with the
// memory tier catching writes no durable tier accepted.
type SnapshotStore struct {
	tiers      []SnapshotTier
	fallback   SnapshotTier
	clock      domain.Clock
	staleAfter time.Duration
	log        *zap.Logger
}

// NewSnapshotStore creates a store over tiers, highest priority first
func NewSnapshotStore(tiers []SnapshotTier, fallback SnapshotTier, clock domain.Clock, staleAfter time.Duration, log *zap.Logger) *SnapshotStore {
	return &SnapshotStore{
		tiers:      tiers,
		fallback:   fallback,
		clock:      clock,
		staleAfter: staleAfter,
		log:        log.Named("snapshot_store"),
	}
}

// Save writes the snapshot to every tier independently
func (s *SnapshotStore) Save(ctx context.Context, snap *domain.Snapshot) WriteReport {
	return s.write(ctx, "snapshot", func(t SnapshotTier) error {
		return t.PutSnapshot(ctx, snap)
	})
}

// SaveBaseline records snap as the previous reading for the next tick
func (s *SnapshotStore) SaveBaseline(ctx context.Context, snap *domain.Snapshot) WriteReport {
	if snap == nil {
		return WriteReport{}
	}
	return s.write(ctx, "baseline", func(t SnapshotTier) error {
		return t.PutBaseline(ctx, snap)
	})
}

// SaveFlares writes flare items to every tier independently
func (s *SnapshotStore) SaveFlares(ctx context.Context, items []domain.FlareTimelineItem) WriteReport {
	if len(items) == 0 {
		return WriteReport{}
	}
	return s.write(ctx, "flares", func(t SnapshotTier) error {
		return t.PutFlares(ctx, items)
	})
}

func (s *SnapshotStore) write(ctx context.Context, what string, put func(SnapshotTier) error) WriteReport {
	report := WriteReport{Failed: map[string]error{}}
	durable := false
	for _, t := range s.tiers {
		if err := put(t); err != nil {
			report.Failed[t.Name()] = err
			s.log.Warn("cache write failed", zap.String("kind", what), zap.String("tier", t.Name()), zap.Error(err))
			continue
		}
		report.Written = append(report.Written, t.Name())
		if t.Durable() {
			durable = true
		}
	}
	if !durable && s.fallback != nil {
		if err := put(s.fallback); err != nil {
			report.Failed[s.fallback.Name()] = err
			s.log.Error("memory fallback write failed", zap.String("kind", what), zap.Error(err))
		} else {
			report.Written = append(report.Written, s.fallback.Name())
			report.Fallback = true
		}
	}
	return report
}

func (s *SnapshotStore) readOrder() []SnapshotTier {
	order := append([]SnapshotTier(nil), s.tiers...)
	if s.fallback != nil {
		order = append(order, s.fallback)
	}
	return order
}

// Latest returns the first snapshot found in priority order, normalized
// against now, or nil when no tier holds one
func (s *SnapshotStore) Latest(ctx context.Context) (*domain.Snapshot, error) {
	return s.read(ctx, "snapshot", SnapshotTier.LatestSnapshot)
}

// Baseline returns the snapshot the last tick evaluated, or nil before the
// first tick. On-demand reads never move it.
func (s *SnapshotStore) Baseline(ctx context.Context) (*domain.Snapshot, error) {
	return s.read(ctx, "baseline", SnapshotTier.LatestBaseline)
}

func (s *SnapshotStore) read(ctx context.Context, what string, get func(SnapshotTier, context.Context) (*domain.Snapshot, error)) (*domain.Snapshot, error) {
	for _, t := range s.readOrder() {
		snap, err := get(t, ctx)
		if err != nil {
			s.log.Warn("cache read failed", zap.String("kind", what), zap.String("tier", t.Name()), zap.Error(err))
			continue
		}
		if snap != nil {
			return snap.Normalize(s.clock.Now(), s.staleAfter), nil
		}
	}
	return nil, nil
}

// RecentFlares returns the first non-empty flare list in priority order
func (s *SnapshotStore) RecentFlares(ctx context.Context, limit int) ([]domain.FlareTimelineItem, error) {
	for _, t := range s.readOrder() {
		items, err := t.RecentFlares(ctx, limit)
		if err != nil {
			s.log.Warn("flare read failed", zap.String("tier", t.Name()), zap.Error(err))
			continue
		}
		if len(items) > 0 {
			return items, nil
		}
	}
	return []domain.FlareTimelineItem{}, nil
}

// FlareSource tags flare timeline items derived from the X-ray feed
const FlareSource = "goes-xray"

// Persist stores a live snapshot and, when the X-ray reading is at flare
// level, its timeline item. A cached copy is already stored and is not
// written again.
func (s *SnapshotStore) Persist(ctx context.Context, snap *domain.Snapshot) WriteReport {
	if snap == nil || snap.Source != domain.SourceLive {
		return WriteReport{}
	}
	report := s.Save(ctx, snap)
	if snap.Flare.Elevated() {
		s.SaveFlares(ctx, []domain.FlareTimelineItem{snap.Flare.TimelineItem(FlareSource)})
	}
	return report
}
