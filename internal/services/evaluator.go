package services

import (
	"fmt"
	"math"
	"sort"
	"time"

	"go-spacewx/internal/domain"
)

// EvaluationInput is everything the evaluator looks at for one device
type EvaluationInput struct {
	Previous           *domain.Snapshot
	Current            *domain.Snapshot
	Preferences        domain.Preferences
	Timezone           string
	Now                time.Time
	LastNotificationAt *time.Time
}

// Evaluate returns the alert events for one device, highest severity first.
// Thresholds fire only on a crossing between Previous and Current, so a
// cold start without Previous yields nothing.
func Evaluate(in EvaluationInput, ids domain.IDGenerator) []domain.AlertEvent {
	p := in.Preferences
	if !p.AlertsEnabled {
		return nil
	}
	if in.Previous == nil || in.Current == nil {
		return nil
	}
	if in.LastNotificationAt != nil && !in.LastNotificationAt.Before(in.Current.CapturedAt) {
		return nil
	}
	if InQuietHours(p.QuietHours, in.Timezone, in.Now) {
		return nil
	}

	var events []domain.AlertEvent
	if e, ok := kpCrossing(in.Previous, in.Current, p.Thresholds.Kp); ok {
		events = append(events, e)
	}
	if e, ok := bzCrossing(in.Previous, in.Current, p.Thresholds.BzSouth); ok {
		events = append(events, e)
	}
	if e, ok := flareCrossing(in.Previous, in.Current, p.Thresholds.FlareClasses); ok {
		events = append(events, e)
	}

	for i := range events {
		events[i].ID = ids.New()
		events[i].Condition = in.Current.Condition
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].Severity > events[j].Severity })
	return events
}

// InQuietHours reports whether now falls inside the device-local window.
// A window whose start is after its end wraps midnight.
func InQuietHours(q domain.QuietHours, timezone string, now time.Time) bool {
	if !q.Enabled || q.StartHour == q.EndHour {
		return false
	}
	loc, err := time.LoadLocation(NormalizeTimezone(timezone))
	if err != nil {
		loc = time.UTC
	}
	hour := now.In(loc).Hour()
	if q.StartHour > q.EndHour {
		return hour >= q.StartHour || hour < q.EndHour
	}
	return hour >= q.StartHour && hour < q.EndHour
}

func kpOf(s *domain.Snapshot) *float64 {
	if s.Geomagnetic == nil {
		return nil
	}
	return s.Geomagnetic.Kp
}

func bzOf(s *domain.Snapshot) *float64 {
	if s.SolarWind == nil {
		return nil
	}
	return s.SolarWind.Bz
}

func kpCrossing(prev, cur *domain.Snapshot, threshold float64) (domain.AlertEvent, bool) {
	before, now := kpOf(prev), kpOf(cur)
	if before == nil || now == nil || !(*before < threshold && *now >= threshold) {
		return domain.AlertEvent{}, false
	}
	return domain.AlertEvent{
		DedupeKey: fmt.Sprintf("kp:%g", threshold),
		Kind:      domain.EventKpThreshold,
		Title:     fmt.Sprintf("Geomagnetic activity: Kp %.1f", *now),
		Body:      fmt.Sprintf("The Kp index rose from %.1f to %.1f, reaching your alert level of %g.", *before, *now, threshold),
		Severity:  int(math.Floor(*now)),
	}, true
}

func bzCrossing(prev, cur *domain.Snapshot, threshold float64) (domain.AlertEvent, bool) {
	before, now := bzOf(prev), bzOf(cur)
	if before == nil || now == nil {
		return domain.AlertEvent{}, false
	}
	southBefore, southNow := -*before, -*now
	if !(southBefore < threshold && southNow >= threshold) {
		return domain.AlertEvent{}, false
	}
	return domain.AlertEvent{
		DedupeKey: fmt.Sprintf("bz-south:%g", threshold),
		Kind:      domain.EventBzThreshold,
		Title:     fmt.Sprintf("Southward magnetic field: Bz %.1f nT", *now),
		Body:      fmt.Sprintf("Bz turned %.1f nT south, past your alert level of %g nT. Aurora chances are rising.", southNow, threshold),
		Severity:  int(math.Floor(southNow / 4)),
	}, true
}

// flareRankMatch is the rank a class letter qualifies at, or 0. A letter
// qualifies when it is watched or ranks above every watched letter.
func flareRankMatch(letter string, watched []string) int {
	rank := domain.FlareRank(letter)
	if rank == 0 || len(watched) == 0 {
		return 0
	}
	top := 0
	for _, w := range watched {
		if w == letter {
			return rank
		}
		if r := domain.FlareRank(w); r > top {
			top = r
		}
	}
	if rank > top {
		return rank
	}
	return 0
}

func flareCrossing(prev, cur *domain.Snapshot, watched []string) (domain.AlertEvent, bool) {
	if cur.Flare == nil || cur.Flare.Class == "" {
		return domain.AlertEvent{}, false
	}
	letter := domain.FlareLetter(cur.Flare.Class)
	rank := flareRankMatch(letter, watched)
	if rank == 0 {
		return domain.AlertEvent{}, false
	}
	if prev.Flare != nil {
		if !cur.Flare.Timestamp.After(prev.Flare.Timestamp) {
			return domain.AlertEvent{}, false
		}
		if flareRankMatch(domain.FlareLetter(prev.Flare.Class), watched) >= rank {
			return domain.AlertEvent{}, false
		}
	}
	return domain.AlertEvent{
		DedupeKey: fmt.Sprintf("flare:%s", letter),
		Kind:      domain.EventFlareClass,
		Title:     fmt.Sprintf("%s-class solar flare", letter),
		Body:      fmt.Sprintf("A %s flare is in progress (%s). %s.", cur.Flare.Class, cur.Flare.Scale, cur.Flare.Impact),
		Severity:  rank * 2,
	}, true
}
