package liveness

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"streetlamp/internal/model"
	"streetlamp/internal/relay"
)

// FaultWatch dedups poll fetch faults. It is independent of the staleness
// latch: a fetch fault and stale sensors can coexist.
type FaultWatch struct {
	logger *slog.Logger

	mu    sync.Mutex
	latch Latch
	last  string
}

func NewFaultWatch(logger *slog.Logger) *FaultWatch {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &FaultWatch{logger: logger}
}

// Observe records a failed fetch and returns an alert on the first failure of
// an episode.
func (w *FaultWatch) Observe(err error, at time.Time) *model.AlertEntry {
	msg := FaultMessage(err)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.last = msg
	if !w.latch.Trip() {
		return nil
	}

	w.logger.Warn("poll_fault", "error", err)
	alert := model.NewAlert(model.AlertFault, errorTitle, msg, at)
	return &alert
}

// Recover clears the latch after a successful fetch.
func (w *FaultWatch) Recover() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.latch.Clear() {
		w.logger.Info("poll_recovered", "last_fault", w.last)
	}
	w.last = ""
}

func (w *FaultWatch) Active() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.latch.Active()
}

// FaultMessage renders the user-facing text for a fetch failure.
func FaultMessage(err error) string {
	var fault *relay.Fault
	if !errors.As(err, &fault) {
		return "Could not fetch data: " + err.Error()
	}
	if fault.Unreachable {
		return "Could not connect to the backend. The backend service may not be running."
	}
	if fault.Kind == relay.FaultApplication {
		return "Could not fetch data: " + fault.Message
	}
	if fault.Err != nil {
		return "Could not fetch data: " + fault.Err.Error()
	}
	return "Could not fetch data: " + fault.Message
}
