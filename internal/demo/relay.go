// Package demo simulates the street lamp device so the client can run
// without a relay.
package demo

import (
	"context"
	"sync"

	"streetlamp/internal/model"
	"streetlamp/internal/relay"
)

const (
	defaultCycle  = 150
	defaultFreeze = 45
	darkPeriod    = 60
)

type Option func(*Relay)

// WithFreeze sets the sensor spell: in every cycle of polls the last freeze
// polls repeat the previous sensor readings.
func WithFreeze(cycle, freeze int) Option {
	return func(r *Relay) {
		r.cycle = cycle
		r.freeze = freeze
	}
}

// Relay is an in-process stand-in for the relay and the ESP32 behind it.
// Each FetchStatus advances the simulation by one step.
type Relay struct {
	cycle  int
	freeze int

	mu     sync.Mutex
	tick   int
	rec    model.DeviceRecord
	tokens []string
	sent   []string
}

func NewRelay(opts ...Option) *Relay {
	r := &Relay{cycle: defaultCycle, freeze: defaultFreeze}
	for _, opt := range opts {
		opt(r)
	}
	if r.cycle <= 0 {
		r.cycle = defaultCycle
	}
	if r.freeze < 0 || r.freeze >= r.cycle {
		r.freeze = 0
	}
	r.rec = sensorsAt(0, r.rec)
	return r
}

func (r *Relay) FetchStatus(ctx context.Context) (model.DeviceRecord, error) {
	if err := ctx.Err(); err != nil {
		return model.DeviceRecord{}, &relay.Fault{Kind: relay.FaultTransport, Op: "status", Message: "request failed", Err: err}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.tick++
	if !r.frozen() {
		r.rec = sensorsAt(r.tick, r.rec)
	}
	return r.rec, nil
}

func (r *Relay) SetMode(ctx context.Context, manual bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rec.IsManualMode = manual
	if !manual {
		r.rec.LightsOn = r.rec.IsDark && r.rec.MotionDetected
	}
	return manual, nil
}

// SetLamp writes the lamp field. In automatic mode the device overrides it
// on the next step, as the hardware does.
func (r *Relay) SetLamp(ctx context.Context, on bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rec.LightsOn = on
	return on, nil
}

func (r *Relay) RegisterToken(ctx context.Context, token string) error {
	if token == "" {
		return &relay.Fault{Kind: relay.FaultApplication, Op: "register-token", Message: "token required"}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens = append(r.tokens, token)
	return nil
}

// SendNotification records the message when at least one target is
// registered, matching the relay's rejection of an empty target list.
func (r *Relay) SendNotification(ctx context.Context, title, body string) error {
	if title == "" || body == "" {
		return &relay.Fault{Kind: relay.FaultApplication, Op: "send-notification", Message: "title and body required"}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.tokens) == 0 {
		return &relay.Fault{Kind: relay.FaultApplication, Op: "send-notification", Message: "no registered tokens"}
	}
	r.sent = append(r.sent, title+": "+body)
	return nil
}

// Sent lists the notifications accepted so far.
func (r *Relay) Sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.sent))
	copy(out, r.sent)
	return out
}

func (r *Relay) Tokens() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.tokens))
	copy(out, r.tokens)
	return out
}

func (r *Relay) frozen() bool {
	if r.freeze == 0 {
		return false
	}
	return r.tick%r.cycle >= r.cycle-r.freeze
}

// sensorsAt derives the sensor readings for a step. The two PIR sensors
// trigger on different periods so motion comes and goes irregularly.
func sensorsAt(tick int, prev model.DeviceRecord) model.DeviceRecord {
	next := prev
	next.PIR1Detected = tick%7 == 2 || tick%7 == 3
	next.PIR2Detected = tick%11 >= 5 && tick%11 <= 7
	next.MotionDetected = next.PIR1Detected || next.PIR2Detected
	next.IsDark = (tick/darkPeriod)%2 == 0
	if !next.IsManualMode {
		next.LightsOn = next.IsDark && next.MotionDetected
	}
	return next
}
