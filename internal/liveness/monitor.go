// Package liveness decides when polled device data has gone stale and when a
// fetch fault deserves an alert. Both decisions are edge-triggered: one alert
// per episode, re-armed when the condition clears.
package liveness

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"streetlamp/internal/model"
)

// DefaultStaleThreshold is how long the sensor fields may stay unchanged
// before the data source is considered stale.
const DefaultStaleThreshold = 30 * time.Second

const errorTitle = "Street Lamp Error"

// State is a copy of the monitor's running memory.
type State struct {
	LastKnown        model.Sensors
	LastChangeAt     time.Time
	StaleAlertActive bool
	Initialized      bool
}

// Monitor tracks sensor changes across successive snapshots.
type Monitor struct {
	threshold time.Duration
	logger    *slog.Logger

	mu           sync.Mutex
	lastKnown    model.Sensors
	lastChangeAt time.Time
	stale        Latch
	initialized  bool
}

func NewMonitor(threshold time.Duration, logger *slog.Logger) *Monitor {
	if threshold <= 0 {
		threshold = DefaultStaleThreshold
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Monitor{threshold: threshold, logger: logger}
}

// Absorb folds one snapshot into the monitor and returns a staleness alert
// when the snapshot crosses the threshold for the first time in an episode.
func (m *Monitor) Absorb(s model.StatusSnapshot) *model.AlertEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		m.lastKnown = s.Sensors
		m.lastChangeAt = s.ObservedAt
		m.initialized = true
		return nil
	}

	if changed := s.Sensors.Diff(m.lastKnown); len(changed) > 0 {
		m.lastKnown = s.Sensors
		m.lastChangeAt = s.ObservedAt
		if m.stale.Clear() {
			m.logger.Info("sensors_resumed", "changed", changed)
		} else {
			m.logger.Debug("sensors_changed", "changed", changed)
		}
		return nil
	}

	elapsed := s.ObservedAt.Sub(m.lastChangeAt)
	if elapsed <= m.threshold || !m.stale.Trip() {
		return nil
	}

	m.logger.Warn("sensors_stale", "elapsed", elapsed.String(), "threshold", m.threshold.String())
	alert := model.NewAlert(model.AlertStale, errorTitle, fmt.Sprintf(
		"Sensor data may not be arriving from the ESP32. Sensors have not updated for %d seconds.",
		int(m.threshold/time.Second),
	), s.ObservedAt)
	return &alert
}

func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{
		LastKnown:        m.lastKnown,
		LastChangeAt:     m.lastChangeAt,
		StaleAlertActive: m.stale.Active(),
		Initialized:      m.initialized,
	}
}

func (m *Monitor) Threshold() time.Duration {
	return m.threshold
}
