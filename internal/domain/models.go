// Package domain provides domain models for the space-weather pipeline
package domain

import (
	"encoding/json"
	"time"
)

// Condition is the coarse space-weather classification of a snapshot
type Condition string

const (
	ConditionQuiet    Condition = "quiet"
	ConditionModerate Condition = "moderate"
	ConditionStorm    Condition = "storm"
	ConditionExtreme  Condition = "extreme"
)

// Snapshot source values
const (
	SourceLive   = "live"
	SourceCached = "cached"
)

// SolarWind is the merged plasma and magnetic field reading
type SolarWind struct {
	Velocity    *float64  `json:"velocity"`
	Density     *float64  `json:"density"`
	Bz          *float64  `json:"bz"`
	Bt          *float64  `json:"bt"`
	Temperature *float64  `json:"temperature"`
	Timestamp   time.Time `json:"timestamp"`
}

// Geomagnetic holds the planetary K-index reading
type Geomagnetic struct {
	Kp        *float64  `json:"kp"`
	ARunning  *float64  `json:"aRunning"`
	Timestamp time.Time `json:"timestamp"`
}

// Flare holds the GOES X-ray reading and what it implies
type Flare struct {
	Class     string    `json:"class"`
	ShortFlux *float64  `json:"shortFlux"`
	LongFlux  *float64  `json:"longFlux"`
	Scale     string    `json:"scale"`
	Impact    string    `json:"impact"`
	Timestamp time.Time `json:"timestamp"`
	EventID   string    `json:"eventId,omitempty"`
}

// Snapshot is one aggregated space-weather reading
type Snapshot struct {
	CapturedAt    time.Time    `json:"capturedAt"`
	Stale         bool         `json:"stale"`
	StaleSeconds  int64        `json:"staleSeconds"`
	Source        string       `json:"source"`
	Condition     Condition    `json:"condition"`
	SolarWind     *SolarWind   `json:"solarWind,omitempty"`
	Geomagnetic   *Geomagnetic `json:"geomagnetic,omitempty"`
	Flare         *Flare       `json:"flare,omitempty"`
	Impacts       []string     `json:"impacts"`
	LastUpdatedAt time.Time    `json:"lastUpdatedAt"`
}

// Preferences is the per-device alert configuration
type Preferences struct {
	AlertsEnabled   bool       `json:"alertsEnabled"`
	Thresholds      Thresholds `json:"thresholds"`
	QuietHours      QuietHours `json:"quietHours"`
	BackgroundAudio bool       `json:"backgroundAudio"`
}

// Thresholds are the levels a reading must cross to alert
type Thresholds struct {
	Kp           float64  `json:"kp" binding:"gte=0,lte=9"`
	BzSouth      float64  `json:"bzSouth" binding:"gte=0,lte=100"`
	FlareClasses []string `json:"flareClasses" binding:"dive,oneof=A B C M X a b c m x"`
}

// QuietHours is a device-local window during which alerts are held back
type QuietHours struct {
	Enabled   bool `json:"enabled"`
	StartHour int  `json:"startHour" binding:"gte=0,lte=23"`
	EndHour   int  `json:"endHour" binding:"gte=0,lte=23"`
}

// DefaultPreferences returns the preferences synthesized on registration
func DefaultPreferences() Preferences {
	return Preferences{
		AlertsEnabled: true,
		Thresholds: Thresholds{
			Kp:           5,
			BzSouth:      8,
			FlareClasses: []string{"M", "X"},
		},
		QuietHours: QuietHours{
			Enabled:   false,
			StartHour: 22,
			EndHour:   7,
		},
		BackgroundAudio: true,
	}
}

// DeviceSubscription represents one installed app instance
type DeviceSubscription struct {
	InstallID          string      `json:"installId"`
	PushToken          string      `json:"pushToken"`
	Timezone           string      `json:"timezone"`
	Platform           string      `json:"platform"`
	AppVersion         *string     `json:"appVersion,omitempty"`
	Preferences        Preferences `json:"preferences"`
	LastNotificationAt *time.Time  `json:"lastNotificationAt,omitempty"`
	CreatedAt          time.Time   `json:"createdAt"`
	UpdatedAt          time.Time   `json:"updatedAt"`

	// PreferencesJSON is the stored preference document; repositories fill it
	// and callers decode it so that one corrupt row only affects its device.
	PreferencesJSON json.RawMessage `json:"-"`
}

// DecodePreferences parses the stored preference document
func (d DeviceSubscription) DecodePreferences() (Preferences, error) {
	var p Preferences
	if len(d.PreferencesJSON) == 0 {
		return d.Preferences, nil
	}
	if err := json.Unmarshal(d.PreferencesJSON, &p); err != nil {
		return Preferences{}, err
	}
	return p, nil
}

// Alert event kinds
const (
	EventKpThreshold = "kp_threshold"
	EventBzThreshold = "bz_threshold"
	EventFlareClass  = "flare_class"
)

// AlertEvent is a candidate notification computed for one device
type AlertEvent struct {
	ID        string    `json:"id"`
	DedupeKey string    `json:"dedupeKey"`
	Kind      string    `json:"kind"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Severity  int       `json:"severity"`
	Condition Condition `json:"condition"`
}

// Notification log statuses
const (
	StatusSent    = "sent"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)

// ReasonDedupeCooldown is logged when a cooldown key suppresses a send
const ReasonDedupeCooldown = "dedupe_cooldown"

// NotificationLogEntry is one append-only delivery audit record
type NotificationLogEntry struct {
	InstallID string    `json:"installId"`
	EventID   string    `json:"eventId"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"createdAt"`
}

// FlareTimelineItem is a normalized historical flare record
type FlareTimelineItem struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Class     string    `json:"class"`
	ShortFlux *float64  `json:"shortFlux"`
	LongFlux  *float64  `json:"longFlux"`
	Scale     string    `json:"scale"`
	Summary   string    `json:"summary"`
	Source    string    `json:"source"`
}

// LearnCard is a snapshot-derived educational card
type LearnCard struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	Metric string `json:"metric,omitempty"`
	Level  string `json:"level"`
}

// LearnContext is the payload of the learn endpoint
type LearnContext struct {
	Snapshot *Snapshot   `json:"snapshot"`
	Cards    []LearnCard `json:"cards"`
}

// Health represents health check response
type Health struct {
	Status string    `json:"status"`
	Now    time.Time `json:"now"`
}

// ApiResponse wraps API responses
type ApiResponse struct {
	Ok        bool        `json:"ok"`
	Data      interface{} `json:"data,omitempty"`
	Error     *ApiError   `json:"error,omitempty"`
	RequestID string      `json:"requestId,omitempty"`
}

// ApiError represents an error response
type ApiError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// SuccessResponse creates a successful response
func SuccessResponse(data interface{}) ApiResponse {
	return ApiResponse{Ok: true, Data: data}
}

// ErrorResponse creates an error response
func ErrorResponse(code, message string) ApiResponse {
	return ApiResponse{Ok: false, Error: &ApiError{Code: code, Message: message}}
}
