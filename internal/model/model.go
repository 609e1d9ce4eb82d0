package model

import (
	"time"

	"github.com/google/uuid"
)

// Sensors is the fixed record of sensor fields compared between polls.
type Sensors struct {
	PIR1   bool `json:"pir1"`
	PIR2   bool `json:"pir2"`
	Motion bool `json:"motion"`
	IsDark bool `json:"isDark"`
}

// Diff returns the names of the fields whose value differs from prev, in
// declaration order. An empty result means the two records are identical.
func (s Sensors) Diff(prev Sensors) []string {
	var changed []string
	if s.PIR1 != prev.PIR1 {
		changed = append(changed, "pir1")
	}
	if s.PIR2 != prev.PIR2 {
		changed = append(changed, "pir2")
	}
	if s.Motion != prev.Motion {
		changed = append(changed, "motion")
	}
	if s.IsDark != prev.IsDark {
		changed = append(changed, "isDark")
	}
	return changed
}

// StatusSnapshot is one poll result. ObservedAt is the client capture time,
// not device time. Snapshots are passed by value and never mutated.
type StatusSnapshot struct {
	Sensors
	LightsOn     bool      `json:"lightsOn"`
	IsManualMode bool      `json:"isManualMode"`
	ObservedAt   time.Time `json:"observedAt"`
}

// DeviceRecord is the device-state record as the ESP32 writes it to the store.
type DeviceRecord struct {
	PIR1Detected   bool `json:"pir1Detected"`
	PIR2Detected   bool `json:"pir2Detected"`
	MotionDetected bool `json:"motionDetected"`
	IsDark         bool `json:"isDark"`
	LightsOn       bool `json:"lightsOn"`
	IsManualMode   bool `json:"isManualMode"`
}

func (r DeviceRecord) Snapshot(observedAt time.Time) StatusSnapshot {
	return StatusSnapshot{
		Sensors: Sensors{
			PIR1:   r.PIR1Detected,
			PIR2:   r.PIR2Detected,
			Motion: r.MotionDetected,
			IsDark: r.IsDark,
		},
		LightsOn:     r.LightsOn,
		IsManualMode: r.IsManualMode,
		ObservedAt:   observedAt,
	}
}

type AlertKind string

const (
	AlertStale        AlertKind = "stale"
	AlertFault        AlertKind = "fault"
	AlertMode         AlertKind = "mode"
	AlertLamp         AlertKind = "lamp"
	AlertCommandFault AlertKind = "command_fault"
)

// AlertEntry is one user-facing event. Entries are read-only once created.
type AlertEntry struct {
	ID        string    `json:"id"`
	Kind      AlertKind `json:"kind"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func NewAlert(kind AlertKind, title, message string, at time.Time) AlertEntry {
	return AlertEntry{
		ID:        uuid.NewString(),
		Kind:      kind,
		Title:     title,
		Message:   message,
		Timestamp: at,
	}
}

// Envelope is the response body shared by every relay endpoint.
type Envelope struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
	Message   string `json:"message,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// View is the display projection of the latest poll.
type View struct {
	UpdatedAt             time.Time       `json:"updated_at"`
	SourceOnline          bool            `json:"source_online"`
	LastFault             *string         `json:"last_fault"`
	Stale                 bool            `json:"stale"`
	Light                 string          `json:"light"`
	Motion                string          `json:"motion"`
	Mode                  string          `json:"mode"`
	Lamp                  string          `json:"lamp"`
	ManualControlsVisible bool            `json:"manual_controls_visible"`
	PendingModeChange     bool            `json:"pending_mode_change"`
	Snapshot              *StatusSnapshot `json:"snapshot"`
}

// Project renders a snapshot into display labels.
func Project(s StatusSnapshot) View {
	v := View{
		UpdatedAt:             s.ObservedAt,
		SourceOnline:          true,
		Light:                 label(s.IsDark, "Dark", "Bright"),
		Motion:                label(s.Motion, "Detected", "None"),
		Mode:                  label(s.IsManualMode, "Manual", "Automatic"),
		Lamp:                  label(s.LightsOn, "On", "Off"),
		ManualControlsVisible: s.IsManualMode,
	}
	snap := s
	v.Snapshot = &snap
	return v
}

func label(v bool, yes, no string) string {
	if v {
		return yes
	}
	return no
}
