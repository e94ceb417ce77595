package domain

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// NewSnapshot builds a snapshot from its readings, deriving condition,
// impacts and lastUpdatedAt. At least one reading must be present.
func NewSnapshot(capturedAt time.Time, source string, wind *SolarWind, geo *Geomagnetic, flare *Flare) (*Snapshot, error) {
	if wind == nil && geo == nil && flare == nil {
		return nil, ErrInvalidSnapshot
	}
	s := &Snapshot{
		CapturedAt:  capturedAt.UTC(),
		Source:      source,
		SolarWind:   wind,
		Geomagnetic: geo,
		Flare:       flare,
	}
	var kp, velocity, bz *float64
	if geo != nil {
		kp = geo.Kp
	}
	if wind != nil {
		velocity = wind.Velocity
		bz = wind.Bz
	}
	s.Condition = Classify(kp, velocity, bz)
	s.Impacts = Impacts(s)
	s.LastUpdatedAt = lastUpdated(s)
	return s, nil
}

// lastUpdated picks the timestamp of the most authoritative reading: solar
// wind first, then the K-index, then X-ray flux.
func lastUpdated(s *Snapshot) time.Time {
	switch {
	case s.SolarWind != nil && !s.SolarWind.Timestamp.IsZero():
		return s.SolarWind.Timestamp.UTC()
	case s.Geomagnetic != nil && !s.Geomagnetic.Timestamp.IsZero():
		return s.Geomagnetic.Timestamp.UTC()
	case s.Flare != nil && !s.Flare.Timestamp.IsZero():
		return s.Flare.Timestamp.UTC()
	}
	return s.CapturedAt
}

// Normalize returns a copy with staleness recomputed against now.
func (s *Snapshot) Normalize(now time.Time, staleAfter time.Duration) *Snapshot {
	if s == nil {
		return nil
	}
	c := *s
	c.Impacts = append([]string(nil), s.Impacts...)
	ref := c.LastUpdatedAt
	if ref.IsZero() {
		ref = c.CapturedAt
	}
	age := now.Sub(ref)
	if age < 0 {
		age = 0
	}
	c.StaleSeconds = int64(age / time.Second)
	c.Stale = c.Source == SourceCached || age > staleAfter
	return &c
}

// AsCached marks a normalized copy as served from cache after a total
// upstream outage.
func (s *Snapshot) AsCached(now time.Time, staleAfter time.Duration) *Snapshot {
	c := *s
	c.Source = SourceCached
	n := c.Normalize(now, staleAfter)
	n.Stale = true
	return n
}

// Classify maps (Kp, velocity, bz) onto a condition using fixed breakpoints.
// Missing values do not contribute.
func Classify(kp, velocity, bz *float64) Condition {
	ge := func(v *float64, limit float64) bool { return v != nil && *v >= limit }
	le := func(v *float64, limit float64) bool { return v != nil && *v <= limit }

	switch {
	case ge(kp, 7) || ge(velocity, 800) || le(bz, -20):
		return ConditionExtreme
	case ge(kp, 5) || ge(velocity, 600) || le(bz, -10):
		return ConditionStorm
	case ge(kp, 4) || ge(velocity, 500) || le(bz, -5):
		return ConditionModerate
	}
	return ConditionQuiet
}

var flareBands = []struct {
	letter string
	base   float64
}{
	{"X", 1e-4},
	{"M", 1e-5},
	{"C", 1e-6},
	{"B", 1e-7},
	{"A", 1e-8},
}

// effectiveFlux prefers the long-wave channel; short-wave alone is scaled
// by ten to approximate it.
func effectiveFlux(short, long *float64) (float64, bool) {
	if long != nil && *long > 0 {
		return *long, true
	}
	if short != nil && *short > 0 {
		return *short * 10, true
	}
	return 0, false
}

// FlareClass derives a GOES class string such as "M2.3" from X-ray flux.
func FlareClass(short, long *float64) string {
	flux, ok := effectiveFlux(short, long)
	if !ok {
		return ""
	}
	for _, b := range flareBands {
		if flux >= b.base || b.letter == "A" {
			return fmt.Sprintf("%s%.1f", b.letter, flux/b.base)
		}
	}
	return ""
}

// RadioBlackoutScale derives the NOAA R-scale from X-ray flux.
func RadioBlackoutScale(short, long *float64) string {
	flux, ok := effectiveFlux(short, long)
	if !ok {
		return "R0"
	}
	switch {
	case flux >= 2e-3:
		return "R5"
	case flux >= 1e-3:
		return "R4"
	case flux >= 1e-4:
		return "R3"
	case flux >= 5e-5:
		return "R2"
	case flux >= 1e-5:
		return "R1"
	}
	return "R0"
}

// RadioBlackoutImpact is the human summary for an R-scale level.
func RadioBlackoutImpact(scale string) string {
	switch scale {
	case "R5":
		return "Extreme radio blackout: HF radio unusable on the entire sunlit side for hours"
	case "R4":
		return "Severe radio blackout: HF radio lost on most of the sunlit side for one to two hours"
	case "R3":
		return "Strong radio blackout: wide-area HF outage on the sunlit side for about an hour"
	case "R2":
		return "Moderate radio blackout: limited HF outages on the sunlit side for tens of minutes"
	case "R1":
		return "Minor radio blackout: weak HF degradation on the sunlit side"
	}
	return "No radio blackout expected"
}

// FlareRank orders class letters A < B < C < M < X; unknown letters rank 0.
func FlareRank(letter string) int {
	switch strings.ToUpper(letter) {
	case "A":
		return 1
	case "B":
		return 2
	case "C":
		return 3
	case "M":
		return 4
	case "X":
		return 5
	}
	return 0
}

// FlareLetter returns the leading class letter of a class string.
func FlareLetter(class string) string {
	if class == "" {
		return ""
	}
	return strings.ToUpper(class[:1])
}

// Impacts builds the human-readable bullet list for a snapshot.
func Impacts(s *Snapshot) []string {
	var out []string
	switch s.Condition {
	case ConditionExtreme:
		out = append(out, "Extreme geomagnetic activity: aurora possible at low latitudes, power grid and satellite operators on alert")
	case ConditionStorm:
		out = append(out, "Geomagnetic storm in progress: aurora likely at high and mid latitudes")
	case ConditionModerate:
		out = append(out, "Unsettled conditions: aurora possible at high latitudes")
	default:
		out = append(out, "Quiet conditions: no significant space-weather impacts expected")
	}
	if s.Geomagnetic != nil && s.Geomagnetic.Kp != nil && *s.Geomagnetic.Kp >= 5 {
		out = append(out, fmt.Sprintf("Kp %.1f: GPS accuracy and HF propagation may degrade at high latitudes", *s.Geomagnetic.Kp))
	}
	if s.SolarWind != nil && s.SolarWind.Bz != nil && *s.SolarWind.Bz <= -10 {
		out = append(out, fmt.Sprintf("Strongly southward Bz (%.1f nT) is coupling solar wind energy into the magnetosphere", *s.SolarWind.Bz))
	}
	if s.SolarWind != nil && s.SolarWind.Velocity != nil && *s.SolarWind.Velocity >= 600 {
		out = append(out, fmt.Sprintf("Fast solar wind at %.0f km/s", *s.SolarWind.Velocity))
	}
	if s.Flare != nil && s.Flare.Scale != "" && s.Flare.Scale != "R0" {
		out = append(out, fmt.Sprintf("%s flare: %s", s.Flare.Class, s.Flare.Impact))
	}
	return out
}

// NewFlare derives class, scale and impact from the two X-ray channels.
func NewFlare(short, long *float64, ts time.Time) *Flare {
	if short == nil && long == nil {
		return nil
	}
	scale := RadioBlackoutScale(short, long)
	return &Flare{
		Class:     FlareClass(short, long),
		ShortFlux: short,
		LongFlux:  long,
		Scale:     scale,
		Impact:    RadioBlackoutImpact(scale),
		Timestamp: ts.UTC(),
	}
}

// FlareID synthesizes the insert-or-ignore key for a flare observation from
// its timestamp, class and a flux fingerprint.
func FlareID(ts time.Time, class string, short, long *float64) string {
	fingerprint := func(v *float64) string {
		if v == nil {
			return "-"
		}
		return fmt.Sprintf("%.3e", *v)
	}
	h := sha1.New()
	fmt.Fprintf(h, "%s|%s|%s|%s", ts.UTC().Format(time.RFC3339), class, fingerprint(short), fingerprint(long))
	return "flr_" + hex.EncodeToString(h.Sum(nil))[:16]
}

// FlareEventGap is the longest silence between two elevated readings that
// still belong to one flare event.
const FlareEventGap = 30 * time.Minute

// Elevated reports whether the reading reaches radio-blackout level R1.
func (f *Flare) Elevated() bool {
	return f != nil && f.Scale != "" && f.Scale != "R0"
}

// TrackEvent assigns the event id. An elevated reading continues the event
// of an elevated prev seen within FlareEventGap; otherwise it opens a new
// event keyed on its own onset. Background readings carry no event.
func (f *Flare) TrackEvent(prev *Flare) {
	if f == nil {
		return
	}
	if !f.Elevated() {
		f.EventID = ""
		return
	}
	if prev.Elevated() && prev.EventID != "" && !f.Timestamp.Before(prev.Timestamp) &&
		f.Timestamp.Sub(prev.Timestamp) <= FlareEventGap {
		f.EventID = prev.EventID
		return
	}
	f.EventID = FlareID(f.Timestamp, f.Class, f.ShortFlux, f.LongFlux)
}

// TimelineItem converts a flare reading into its timeline record. Readings
// of one event share the id of its onset.
func (f *Flare) TimelineItem(source string) FlareTimelineItem {
	id := f.EventID
	if id == "" {
		id = FlareID(f.Timestamp, f.Class, f.ShortFlux, f.LongFlux)
	}
	return FlareTimelineItem{
		ID:        id,
		Timestamp: f.Timestamp,
		Class:     f.Class,
		ShortFlux: f.ShortFlux,
		LongFlux:  f.LongFlux,
		Scale:     f.Scale,
		Summary:   f.Impact,
		Source:    source,
	}
}
