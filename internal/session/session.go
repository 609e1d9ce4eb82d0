// Package session wires the poller, the liveness checks, the command policy
// and the alert sink into one running client.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"streetlamp/internal/alerts"
	"streetlamp/internal/command"
	"streetlamp/internal/liveness"
	"streetlamp/internal/model"
	"streetlamp/internal/poller"
	"streetlamp/internal/relay"
)

const (
	commandFaultTitle = "Command Failed"
	notifyTimeout     = 10 * time.Second
)

// Relay is everything the session needs from the backend.
type Relay interface {
	poller.Fetcher
	command.Relay
	RegisterToken(ctx context.Context, token string) error
	SendNotification(ctx context.Context, title, body string) error
}

// Notifier forwards liveness alerts outside the process.
type Notifier interface {
	Notify(ctx context.Context, entry model.AlertEntry) error
}

// Recorder receives counters for metrics.
type Recorder interface {
	poller.Observer
	AlertRecorded(kind model.AlertKind)
	CommandFinished(command string, err error)
}

type Config struct {
	PollInterval   time.Duration
	StaleThreshold time.Duration
	AlertCapacity  int
}

type Options struct {
	Notifier Notifier
	Recorder Recorder
	Logger   *slog.Logger
	Now      func() time.Time
}

type Session struct {
	relay    Relay
	poller   *poller.Poller
	monitor  *liveness.Monitor
	faults   *liveness.FaultWatch
	policy   *command.Policy
	sink     *alerts.Sink
	notifier Notifier
	rec      Recorder
	logger   *slog.Logger
	now      func() time.Time

	mu    sync.RWMutex
	view  model.View
	ready bool

	notifies sync.WaitGroup
}

func New(r Relay, cfg Config, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 800 * time.Millisecond
	}

	s := &Session{
		relay:    r,
		monitor:  liveness.NewMonitor(cfg.StaleThreshold, logger),
		faults:   liveness.NewFaultWatch(logger),
		sink:     alerts.NewSink(cfg.AlertCapacity),
		notifier: opts.Notifier,
		rec:      opts.Recorder,
		logger:   logger,
		now:      now,
	}

	pollOpts := []poller.Option{
		poller.WithClock(now),
		poller.WithLogger(logger),
		poller.WithEpoch(func() uint64 { return s.policy.Epoch() }),
	}
	if s.rec != nil {
		pollOpts = append(pollOpts, poller.WithObserver(s.rec))
	}
	s.poller = poller.New(r, cfg.PollInterval, pollOpts...)
	s.poller.Subscribe(s.handle)

	s.policy = command.NewPolicy(r, command.Options{
		Refresh: s.poller.Refresh,
		Emit:    func(e model.AlertEntry) { s.raise(e, false) },
		Now:     now,
		Logger:  logger,
	})
	return s
}

// Start begins polling. The first fetch is issued immediately.
func (s *Session) Start(ctx context.Context) {
	s.logger.Info("session_started", "poll_interval", s.poller.Interval().String(), "stale_threshold", s.monitor.Threshold().String())
	s.poller.Start(ctx)
}

// Stop halts polling and waits for outstanding fetches and notifications.
func (s *Session) Stop() {
	s.poller.Stop()
	s.poller.Wait()
	s.notifies.Wait()
	s.logger.Info("session_stopped")
}

// Ready reports whether at least one poll has completed.
func (s *Session) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// View returns the current projection, overlaid with the live staleness and
// mode belief.
func (s *Session) View() (model.View, bool) {
	s.mu.RLock()
	v, ready := s.view, s.ready
	s.mu.RUnlock()
	if !ready {
		return model.View{}, false
	}

	st := s.policy.State()
	v.Stale = s.monitor.State().StaleAlertActive
	v.PendingModeChange = st.PendingTransition
	v.ManualControlsVisible = st.IsManualMode
	if st.IsManualMode {
		v.Mode = "Manual"
	} else {
		v.Mode = "Automatic"
	}
	return v, true
}

func (s *Session) Alerts() []model.AlertEntry {
	return s.sink.All()
}

// Subscribe streams alert entries pushed after the call.
func (s *Session) Subscribe(buffer int) (<-chan model.AlertEntry, func()) {
	return s.sink.Subscribe(buffer)
}

func (s *Session) ModeState() command.ModeState {
	return s.policy.State()
}

func (s *Session) RequestModeChange(ctx context.Context, wantManual bool) (command.ModeState, error) {
	st, err := s.policy.RequestModeChange(ctx, wantManual)
	s.finish("mode", fmt.Sprintf("Could not switch to %s mode", modeName(wantManual)), err)
	return st, err
}

func (s *Session) ToggleMode(ctx context.Context) (command.ModeState, error) {
	want := !s.policy.State().IsManualMode
	return s.RequestModeChange(ctx, want)
}

func (s *Session) IssueLampCommand(ctx context.Context, turnOn bool) error {
	err := s.policy.IssueLampCommand(ctx, turnOn)
	action := "Could not turn the lamp off"
	if turnOn {
		action = "Could not turn the lamp on"
	}
	s.finish("lamp", action, err)
	return err
}

// RegisterToken registers a push target with the relay.
func (s *Session) RegisterToken(ctx context.Context, token string) error {
	if err := s.relay.RegisterToken(ctx, token); err != nil {
		s.logger.Warn("token_register_failed", "error", err)
		return fmt.Errorf("register token: %w", err)
	}
	s.logger.Info("token_registered")
	return nil
}

// SendNotification asks the relay to push a message to every registered
// target.
func (s *Session) SendNotification(ctx context.Context, title, body string) error {
	if err := s.relay.SendNotification(ctx, title, body); err != nil {
		s.logger.Warn("notification_send_failed", "error", err)
		return fmt.Errorf("send notification: %w", err)
	}
	s.logger.Info("notification_sent", "title", title)
	return nil
}

// finish records a command outcome. Faults that reached the relay are
// surfaced once in the sink; local rejections are only returned.
func (s *Session) finish(name, action string, err error) {
	if s.rec != nil {
		s.rec.CommandFinished(name, err)
	}
	if err == nil || errors.Is(err, command.ErrNotInManualMode) || errors.Is(err, command.ErrTransitionInFlight) {
		return
	}
	s.raise(model.NewAlert(model.AlertCommandFault, commandFaultTitle,
		action+": "+commandFaultDetail(err), s.now()), false)
}

func (s *Session) handle(res poller.Result) {
	if res.Err != nil {
		msg := liveness.FaultMessage(res.Err)
		s.mu.Lock()
		s.view.SourceOnline = false
		s.view.LastFault = &msg
		s.ready = true
		s.mu.Unlock()

		if alert := s.faults.Observe(res.Err, s.now()); alert != nil {
			s.raise(*alert, true)
		}
		return
	}

	snap := *res.Snapshot
	s.faults.Recover()
	s.policy.Reconcile(snap, res.Epoch)
	alert := s.monitor.Absorb(snap)

	view := model.Project(snap)
	s.mu.Lock()
	s.view = view
	s.ready = true
	s.mu.Unlock()

	if alert != nil {
		s.raise(*alert, true)
	}
}

func (s *Session) raise(entry model.AlertEntry, notify bool) {
	s.sink.Push(entry)
	if s.rec != nil {
		s.rec.AlertRecorded(entry.Kind)
	}
	s.logger.Info("alert_raised", "kind", string(entry.Kind), "title", entry.Title, "message", entry.Message)

	if !notify || s.notifier == nil {
		return
	}
	s.notifies.Add(1)
	go func() {
		defer s.notifies.Done()
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := s.notifier.Notify(ctx, entry); err != nil {
			s.logger.Warn("notify_failed", "kind", string(entry.Kind), "error", err)
		}
	}()
}

func commandFaultDetail(err error) string {
	var fault *relay.Fault
	if !errors.As(err, &fault) {
		return err.Error()
	}
	if fault.Unreachable {
		return "the backend is not reachable"
	}
	if fault.Kind == relay.FaultApplication && fault.Message != "" {
		return fault.Message
	}
	if fault.Err != nil {
		return fault.Err.Error()
	}
	return fault.Message
}

func modeName(manual bool) string {
	if manual {
		return command.ModeManual.String()
	}
	return command.ModeAutomatic.String()
}
