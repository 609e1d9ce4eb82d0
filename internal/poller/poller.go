// Package poller fetches device status on a fixed cadence and hands each
// result to its subscribers.
package poller

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"streetlamp/internal/model"
)

// Fetcher reads the device-state record.
type Fetcher interface {
	FetchStatus(ctx context.Context) (model.DeviceRecord, error)
}

// Result carries exactly one of Snapshot or Err. Epoch is the value the
// epoch source reported when the fetch began.
type Result struct {
	Snapshot *model.StatusSnapshot
	Err      error
	Epoch    uint64
}

type Handler func(Result)

// Observer is notified of poll outcomes, for metrics.
type Observer interface {
	PollCompleted(ok bool)
	PollSkipped()
}

type Option func(*Poller)

// WithClock sets the clock used to stamp snapshots.
func WithClock(now func() time.Time) Option {
	return func(p *Poller) { p.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Poller) { p.logger = logger }
}

func WithObserver(obs Observer) Option {
	return func(p *Poller) { p.obs = obs }
}

// WithEpoch sets a source sampled as each fetch begins and echoed in its
// Result, so consumers can tell which state the fetch may have missed.
func WithEpoch(epoch func() uint64) Option {
	return func(p *Poller) { p.epoch = epoch }
}

// Poller runs at most one fetch at a time. A tick that finds a fetch still
// outstanding is skipped, never queued, and failures do not change the
// cadence.
type Poller struct {
	fetcher  Fetcher
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
	obs      Observer
	epoch    func() uint64

	mu       sync.Mutex
	handlers []Handler
	cancel   context.CancelFunc
	done     chan struct{}

	gen      atomic.Uint64
	inFlight atomic.Bool
	refresh  chan struct{}
	fetches  sync.WaitGroup

	// refreshPending records a refresh that arrived during a fetch; the
	// fetch requests another cycle when it returns.
	refreshPending atomic.Bool
}

func New(fetcher Fetcher, interval time.Duration, opts ...Option) *Poller {
	p := &Poller{
		fetcher:  fetcher,
		interval: interval,
		now:      time.Now,
		refresh:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if p.epoch == nil {
		p.epoch = func() uint64 { return 0 }
	}
	return p
}

// Subscribe registers h for every dispatched result.
func (p *Poller) Subscribe(h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, h)
}

func (p *Poller) Interval() time.Duration {
	return p.interval
}

// Start polls once immediately, then every interval until Stop or ctx ends.
// Calling Start on a running poller is a no-op.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done
	gen := p.gen.Load()
	p.mu.Unlock()

	p.tick(loopCtx, gen)

	ticker := time.NewTicker(p.interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				p.tick(loopCtx, gen)
			case <-p.refresh:
				p.refreshPending.Store(true)
				if p.tick(loopCtx, gen) {
					ticker.Reset(p.interval)
				}
			}
		}
	}()
}

// Stop cancels future ticks. A fetch already in flight finishes on its own
// and its result is discarded.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.gen.Add(1)
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Refresh asks the running loop to poll now instead of waiting out the
// interval. Repeated requests before the loop reacts collapse into one. A
// refresh that finds a fetch outstanding runs as soon as that fetch returns.
func (p *Poller) Refresh() {
	select {
	case p.refresh <- struct{}{}:
	default:
	}
}

// PollOnce runs one synchronous cycle under the same skip rule as the loop.
// It reports false when a fetch was already outstanding.
func (p *Poller) PollOnce(ctx context.Context) bool {
	epoch, ok := p.begin()
	if !ok {
		return false
	}
	p.fetches.Add(1)
	p.run(ctx, p.gen.Load(), epoch)
	return true
}

// Wait blocks until every started fetch has returned.
func (p *Poller) Wait() {
	p.fetches.Wait()
}

func (p *Poller) tick(ctx context.Context, gen uint64) bool {
	epoch, ok := p.begin()
	if !ok {
		return false
	}
	p.fetches.Add(1)
	go p.run(ctx, gen, epoch)
	return true
}

// begin claims the in-flight slot. Any fetch that starts satisfies a
// pending refresh.
func (p *Poller) begin() (uint64, bool) {
	if p.inFlight.CompareAndSwap(false, true) {
		p.refreshPending.Store(false)
		return p.epoch(), true
	}
	p.logger.Debug("poll_skipped", "reason", "fetch in flight")
	if p.obs != nil {
		p.obs.PollSkipped()
	}
	return 0, false
}

func (p *Poller) run(ctx context.Context, gen, epoch uint64) {
	defer p.fetches.Done()

	func() {
		defer p.inFlight.Store(false)
		p.fetchAndDispatch(ctx, gen, epoch)
	}()

	if p.refreshPending.CompareAndSwap(true, false) && p.gen.Load() == gen && ctx.Err() == nil {
		p.logger.Debug("poll_refresh_deferred")
		p.Refresh()
	}
}

func (p *Poller) fetchAndDispatch(ctx context.Context, gen, epoch uint64) {
	rec, err := p.fetcher.FetchStatus(context.WithoutCancel(ctx))
	if p.gen.Load() != gen || ctx.Err() != nil {
		p.logger.Debug("poll_discarded", "reason", "poller stopped")
		return
	}
	if p.obs != nil {
		p.obs.PollCompleted(err == nil)
	}

	res := Result{Epoch: epoch}
	if err != nil {
		res.Err = err
	} else {
		s := rec.Snapshot(p.now())
		res.Snapshot = &s
	}

	p.mu.Lock()
	handlers := make([]Handler, len(p.handlers))
	copy(handlers, p.handlers)
	p.mu.Unlock()

	for _, h := range handlers {
		h(res)
	}
}
