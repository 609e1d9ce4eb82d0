// Package metrics exposes Prometheus counters for the client and the relay.
// Each process owns its registry so tests can build as many as they like.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"streetlamp/internal/command"
	"streetlamp/internal/model"
)

type Client struct {
	registry     *prometheus.Registry
	polls        *prometheus.CounterVec
	pollsSkipped prometheus.Counter
	alerts       *prometheus.CounterVec
	commands     *prometheus.CounterVec
}

func NewClient() *Client {
	m := &Client{
		registry: prometheus.NewRegistry(),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lamp_polls_total",
			Help: "Completed status polls by outcome.",
		}, []string{"outcome"}),
		pollsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lamp_polls_skipped_total",
			Help: "Poll ticks skipped because a fetch was still outstanding.",
		}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lamp_alerts_total",
			Help: "Alert entries pushed to the sink by kind.",
		}, []string{"kind"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lamp_commands_total",
			Help: "Mode and lamp commands by outcome.",
		}, []string{"command", "outcome"}),
	}
	m.registry.MustRegister(m.polls, m.pollsSkipped, m.alerts, m.commands)
	return m
}

func (m *Client) PollCompleted(ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "fault"
	}
	m.polls.WithLabelValues(outcome).Inc()
}

func (m *Client) PollSkipped() {
	if m == nil {
		return
	}
	m.pollsSkipped.Inc()
}

func (m *Client) AlertRecorded(kind model.AlertKind) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(string(kind)).Inc()
}

func (m *Client) CommandFinished(name string, err error) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(name, commandOutcome(err)).Inc()
}

func (m *Client) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Client) Registry() *prometheus.Registry {
	return m.registry
}

func commandOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, command.ErrNotInManualMode):
		return "not_manual"
	case errors.Is(err, command.ErrTransitionInFlight):
		return "in_flight"
	default:
		return "fault"
	}
}

type Relay struct {
	registry     *prometheus.Registry
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	pushes       *prometheus.CounterVec
}

func NewRelay() *Relay {
	m := &Relay{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lamp_relay_http_requests_total",
			Help: "HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lamp_relay_http_request_duration_seconds",
			Help:    "HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lamp_relay_push_total",
			Help: "Push notification fan-outs by outcome.",
		}, []string{"outcome"}),
	}
	m.registry.MustRegister(m.httpRequests, m.httpDuration, m.pushes)
	return m
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// WrapHandler counts requests and their latency under route.
func (m *Relay) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		if m != nil {
			m.httpRequests.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
			m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	})
}

func (m *Relay) PushResult(ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.pushes.WithLabelValues(outcome).Inc()
}

func (m *Relay) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Relay) Registry() *prometheus.Registry {
	return m.registry
}
