package services

import (
	"testing"
	"time"

	"go-spacewx/internal/domain"
)

func windSnapshot(t time.Time, bz float64) *domain.Snapshot {
	s, err := domain.NewSnapshot(t, domain.SourceLive, &domain.SolarWind{Bz: f64(bz), Timestamp: t}, nil, nil)
	if err != nil {
		panic(err)
	}
	return s
}

func flareSnapshot(t time.Time, long float64) *domain.Snapshot {
	s, err := domain.NewSnapshot(t, domain.SourceLive, nil, nil, domain.NewFlare(nil, f64(long), t))
	if err != nil {
		panic(err)
	}
	return s
}

func kpPrefs(threshold float64) domain.Preferences {
	p := domain.DefaultPreferences()
	p.Thresholds.Kp = threshold
	return p
}

func TestEvaluateKpCrossing(t *testing.T) {
	in := EvaluationInput{
		Previous:    kpSnapshot(t0.Add(-5*time.Minute), 2),
		Current:     kpSnapshot(t0, 6),
		Preferences: kpPrefs(5),
		Timezone:    "UTC",
		Now:         t0,
	}
	events := Evaluate(in, &seqIDs{})
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	e := events[0]
	if e.Kind != domain.EventKpThreshold || e.DedupeKey != "kp:5" {
		t.Errorf("event = %+v", e)
	}
	if e.ID != "evt-1" || e.Condition != domain.ConditionStorm {
		t.Errorf("id = %q condition = %q", e.ID, e.Condition)
	}
}

func TestEvaluateNoEvents(t *testing.T) {
	last := t0
	disabled := kpPrefs(5)
	disabled.AlertsEnabled = false

	tests := []struct {
		name string
		in   EvaluationInput
	}{
		{"alerts disabled", EvaluationInput{
			Previous: kpSnapshot(t0.Add(-time.Minute), 2), Current: kpSnapshot(t0, 8),
			Preferences: disabled, Now: t0,
		}},
		{"cold start", EvaluationInput{
			Current: kpSnapshot(t0, 8), Preferences: kpPrefs(5), Now: t0,
		}},
		{"still above threshold", EvaluationInput{
			Previous: kpSnapshot(t0.Add(-time.Minute), 6), Current: kpSnapshot(t0, 7),
			Preferences: kpPrefs(5), Now: t0,
		}},
		{"already notified for this snapshot", EvaluationInput{
			Previous: kpSnapshot(t0.Add(-time.Minute), 2), Current: kpSnapshot(t0, 8),
			Preferences: kpPrefs(5), Now: t0, LastNotificationAt: &last,
		}},
		{"missing kp on previous", EvaluationInput{
			Previous: windSnapshot(t0.Add(-time.Minute), 0), Current: kpSnapshot(t0, 8),
			Preferences: kpPrefs(5), Now: t0,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if events := Evaluate(tt.in, &seqIDs{}); len(events) != 0 {
				t.Errorf("events = %+v, want none", events)
			}
		})
	}
}

func TestEvaluateBzSouthCrossing(t *testing.T) {
	p := domain.DefaultPreferences()
	p.Thresholds.BzSouth = 10

	events := Evaluate(EvaluationInput{
		Previous:    windSnapshot(t0.Add(-time.Minute), -4),
		Current:     windSnapshot(t0, -12),
		Preferences: p,
		Now:         t0,
	}, &seqIDs{})
	if len(events) != 1 || events[0].Kind != domain.EventBzThreshold {
		t.Fatalf("events = %+v, want one bz event", events)
	}
	if events[0].DedupeKey != "bz-south:10" {
		t.Errorf("dedupeKey = %q", events[0].DedupeKey)
	}

	northward := Evaluate(EvaluationInput{
		Previous:    windSnapshot(t0.Add(-time.Minute), 4),
		Current:     windSnapshot(t0, 12),
		Preferences: p,
		Now:         t0,
	}, &seqIDs{})
	if len(northward) != 0 {
		t.Errorf("northward bz fired: %+v", northward)
	}
}

func TestEvaluateFlareClass(t *testing.T) {
	p := domain.DefaultPreferences() // watches M and X

	tests := []struct {
		name     string
		previous *domain.Snapshot
		current  *domain.Snapshot
		want     string
	}{
		{"C to M", flareSnapshot(t0.Add(-time.Minute), 3e-6), flareSnapshot(t0, 2e-5), "flare:M"},
		{"M to X", flareSnapshot(t0.Add(-time.Minute), 2e-5), flareSnapshot(t0, 1.5e-4), "flare:X"},
		{"M stays M", flareSnapshot(t0.Add(-time.Minute), 2e-5), flareSnapshot(t0, 3e-5), ""},
		{"same timestamp", flareSnapshot(t0, 3e-6), flareSnapshot(t0, 2e-5), ""},
		{"unwatched C", flareSnapshot(t0.Add(-time.Minute), 2e-7), flareSnapshot(t0, 5e-6), ""},
		{"no previous flare", kpSnapshot(t0.Add(-time.Minute), 1), flareSnapshot(t0, 2e-5), "flare:M"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := Evaluate(EvaluationInput{Previous: tt.previous, Current: tt.current, Preferences: p, Now: t0}, &seqIDs{})
			if tt.want == "" {
				if len(events) != 0 {
					t.Errorf("events = %+v, want none", events)
				}
				return
			}
			if len(events) != 1 || events[0].DedupeKey != tt.want {
				t.Errorf("events = %+v, want %s", events, tt.want)
			}
		})
	}
}

func TestEvaluateOrdersBySeverity(t *testing.T) {
	p := domain.DefaultPreferences()
	p.Thresholds.Kp = 5
	p.Thresholds.BzSouth = 10

	prev, _ := domain.NewSnapshot(t0.Add(-time.Minute), domain.SourceLive,
		&domain.SolarWind{Bz: f64(-2), Timestamp: t0.Add(-time.Minute)},
		&domain.Geomagnetic{Kp: f64(3), Timestamp: t0.Add(-time.Minute)},
		domain.NewFlare(nil, f64(1e-6), t0.Add(-time.Minute)))
	cur, _ := domain.NewSnapshot(t0, domain.SourceLive,
		&domain.SolarWind{Bz: f64(-20), Timestamp: t0},
		&domain.Geomagnetic{Kp: f64(5.33), Timestamp: t0},
		domain.NewFlare(nil, f64(2e-4), t0))

	events := Evaluate(EvaluationInput{Previous: prev, Current: cur, Preferences: p, Now: t0}, &seqIDs{})
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}
	// flare X ranks 5 -> severity 10, kp 5.33 -> 5, bz -20 -> 5
	if events[0].Kind != domain.EventFlareClass {
		t.Errorf("first event = %s, want flare", events[0].Kind)
	}
	if events[1].Kind != domain.EventKpThreshold || events[2].Kind != domain.EventBzThreshold {
		t.Errorf("order = %s, %s; want kp then bz on equal severity", events[1].Kind, events[2].Kind)
	}
	for i := 1; i < len(events); i++ {
		if events[i].Severity > events[i-1].Severity {
			t.Errorf("events not sorted by severity: %+v", events)
		}
	}
}

func TestQuietHours(t *testing.T) {
	window := domain.QuietHours{Enabled: true, StartHour: 22, EndHour: 7}
	at := func(h int) time.Time { return time.Date(2024, 5, 10, h, 30, 0, 0, time.UTC) }

	tests := []struct {
		name string
		q    domain.QuietHours
		tz   string
		now  time.Time
		want bool
	}{
		{"late evening", window, "UTC", at(23), true},
		{"early morning", window, "UTC", at(5), true},
		{"mid morning", window, "UTC", at(10), false},
		{"end hour exclusive", window, "UTC", at(7), false},
		{"disabled", domain.QuietHours{StartHour: 22, EndHour: 7}, "UTC", at(23), false},
		{"same-day window", domain.QuietHours{Enabled: true, StartHour: 9, EndHour: 17}, "UTC", at(12), true},
		{"empty window", domain.QuietHours{Enabled: true, StartHour: 9, EndHour: 9}, "UTC", at(9), false},
		// 10:30 UTC is 19:30 in Tokyo
		{"device timezone", domain.QuietHours{Enabled: true, StartHour: 19, EndHour: 20}, "Asia/Tokyo", at(10), true},
		{"invalid timezone is utc", window, "Nowhere/Special", at(23), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InQuietHours(tt.q, tt.tz, tt.now); got != tt.want {
				t.Errorf("InQuietHours = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluateQuietHoursSuppressesEverything(t *testing.T) {
	p := kpPrefs(5)
	p.QuietHours = domain.QuietHours{Enabled: true, StartHour: 22, EndHour: 7}
	night := time.Date(2024, 5, 10, 23, 0, 0, 0, time.UTC)

	events := Evaluate(EvaluationInput{
		Previous:    kpSnapshot(night.Add(-time.Minute), 2),
		Current:     kpSnapshot(night, 9),
		Preferences: p,
		Timezone:    "UTC",
		Now:         night,
	}, &seqIDs{})
	if len(events) != 0 {
		t.Errorf("events = %+v, want none in quiet hours", events)
	}
}
