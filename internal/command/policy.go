// Package command gates lamp commands on the client's belief about the
// device's operating mode and keeps that belief in step with the relay.
package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"streetlamp/internal/model"
)

var (
	// ErrNotInManualMode rejects a lamp command before it reaches the network.
	ErrNotInManualMode = errors.New("lamp commands require manual mode")
	// ErrTransitionInFlight rejects a command while one of the same kind is outstanding.
	ErrTransitionInFlight = errors.New("a command of this kind is already in flight")
)

type Mode int

const (
	ModeAutomatic Mode = iota
	ModeManual
)

func (m Mode) String() string {
	if m == ModeManual {
		return "manual"
	}
	return "automatic"
}

// ModeState is a copy of the policy's belief.
type ModeState struct {
	IsManualMode      bool `json:"isManualMode"`
	PendingTransition bool `json:"pendingTransition"`
}

func (s ModeState) Mode() Mode {
	if s.IsManualMode {
		return ModeManual
	}
	return ModeAutomatic
}

// Relay is the subset of the relay client the policy drives.
type Relay interface {
	SetMode(ctx context.Context, manual bool) (bool, error)
	SetLamp(ctx context.Context, on bool) (bool, error)
}

type Options struct {
	// Refresh forces an immediate status poll after a lamp command lands.
	Refresh func()
	// Emit receives the alert entry for every successful command.
	Emit   func(model.AlertEntry)
	Now    func() time.Time
	Logger *slog.Logger
}

// Policy holds the mode belief. Its lock is never held across a relay call,
// so a mode change and a lamp command may be in flight together.
type Policy struct {
	relay   Relay
	refresh func()
	emit    func(model.AlertEntry)
	now     func() time.Time
	logger  *slog.Logger

	mu          sync.Mutex
	manual      bool
	pendingMode bool
	pendingLamp bool
	// epoch counts confirmed mode changes
	epoch uint64
}

func NewPolicy(relay Relay, opts Options) *Policy {
	p := &Policy{
		relay:   relay,
		refresh: opts.Refresh,
		emit:    opts.Emit,
		now:     opts.Now,
		logger:  opts.Logger,
	}
	if p.refresh == nil {
		p.refresh = func() {}
	}
	if p.emit == nil {
		p.emit = func(model.AlertEntry) {}
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.logger == nil {
		p.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return p
}

func (p *Policy) State() ModeState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stateLocked()
}

func (p *Policy) stateLocked() ModeState {
	return ModeState{IsManualMode: p.manual, PendingTransition: p.pendingMode}
}

// RequestModeChange asks the relay to switch modes. The belief only changes
// when the relay confirms.
func (p *Policy) RequestModeChange(ctx context.Context, wantManual bool) (ModeState, error) {
	p.mu.Lock()
	if p.pendingMode {
		st := p.stateLocked()
		p.mu.Unlock()
		return st, ErrTransitionInFlight
	}
	p.pendingMode = true
	p.mu.Unlock()

	confirmed, err := p.relay.SetMode(ctx, wantManual)

	p.mu.Lock()
	p.pendingMode = false
	if err != nil {
		st := p.stateLocked()
		p.mu.Unlock()
		p.logger.Warn("mode_change_failed", "want", modeOf(wantManual).String(), "error", err)
		return st, fmt.Errorf("set mode: %w", err)
	}
	p.manual = confirmed
	p.epoch++
	st := p.stateLocked()
	p.mu.Unlock()

	p.logger.Info("mode_changed", "mode", st.Mode().String())
	p.emit(model.NewAlert(model.AlertMode, "Mode Change",
		fmt.Sprintf("Command sent to switch to %s mode", st.Mode()), p.now()))
	return st, nil
}

// ToggleMode requests the opposite of the current belief.
func (p *Policy) ToggleMode(ctx context.Context) (ModeState, error) {
	return p.RequestModeChange(ctx, !p.State().IsManualMode)
}

// IssueLampCommand switches the lamp. It fails fast when the policy does not
// believe the device is in manual mode; the relay remains the real gate.
func (p *Policy) IssueLampCommand(ctx context.Context, turnOn bool) error {
	p.mu.Lock()
	if !p.manual {
		p.mu.Unlock()
		return ErrNotInManualMode
	}
	if p.pendingLamp {
		p.mu.Unlock()
		return ErrTransitionInFlight
	}
	p.pendingLamp = true
	p.mu.Unlock()

	_, err := p.relay.SetLamp(ctx, turnOn)

	p.mu.Lock()
	p.pendingLamp = false
	p.mu.Unlock()

	if err != nil {
		p.logger.Warn("lamp_command_failed", "on", turnOn, "error", err)
		return fmt.Errorf("set lamp: %w", err)
	}

	p.logger.Info("lamp_command_sent", "on", turnOn)
	p.refresh()
	msg := "Command sent to turn the lamp off"
	if turnOn {
		msg = "Command sent to turn the lamp on"
	}
	p.emit(model.NewAlert(model.AlertLamp, "Lamp Control", msg, p.now()))
	return nil
}

// Epoch identifies the latest confirmed mode change. A poll captures it when
// its fetch begins and hands it back to Reconcile.
func (p *Policy) Epoch() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.epoch
}

// Reconcile adopts the mode reported by a polled snapshot. The snapshot is
// ignored while a mode request is outstanding, and when its fetch began
// before the latest confirmed mode change, so a poll that raced the write
// cannot undo it. Reports whether the belief changed.
func (p *Policy) Reconcile(s model.StatusSnapshot, epoch uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pendingMode || epoch != p.epoch || p.manual == s.IsManualMode {
		return false
	}
	p.manual = s.IsManualMode
	p.logger.Info("mode_reconciled", "mode", modeOf(p.manual).String())
	return true
}

func modeOf(manual bool) Mode {
	if manual {
		return ModeManual
	}
	return ModeAutomatic
}
