// Package relayapi serves the relay endpoints the client and the mobile app
// talk to. Every handler is a single store read or write wrapped in the
// response envelope.
package relayapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"streetlamp/internal/events"
	"streetlamp/internal/metrics"
	"streetlamp/internal/model"
	"streetlamp/internal/push"
	"streetlamp/internal/store"
)

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

type Options struct {
	Pusher      push.Pusher
	Events      events.Publisher
	Metrics     *metrics.Relay
	Logger      *slog.Logger
	AccessLog   io.Writer
	Now         func() time.Time
	PushTimeout time.Duration
}

type API struct {
	store       store.Store
	pusher      push.Pusher
	events      events.Publisher
	metrics     *metrics.Relay
	logger      *slog.Logger
	now         func() time.Time
	pushTimeout time.Duration

	handler http.Handler
	fanouts sync.WaitGroup
}

func New(st store.Store, opts Options) *API {
	a := &API{
		store:       st,
		pusher:      opts.Pusher,
		events:      opts.Events,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		now:         opts.Now,
		pushTimeout: opts.PushTimeout,
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if a.pusher == nil {
		a.pusher = push.NewLog(a.logger)
	}
	if a.events == nil {
		a.events = events.Nop{}
	}
	if a.now == nil {
		a.now = time.Now
	}
	if a.pushTimeout <= 0 {
		a.pushTimeout = 10 * time.Second
	}

	r := mux.NewRouter()
	r.Use(a.recoverJSON)
	a.route(r, "/status", http.MethodGet, a.handleStatus)
	a.route(r, "/lights/on", http.MethodPost, a.handleLamp(true))
	a.route(r, "/lights/off", http.MethodPost, a.handleLamp(false))
	a.route(r, "/lights/mode", http.MethodPost, a.handleMode)
	a.route(r, "/register-token", http.MethodPost, a.handleRegisterToken)
	a.route(r, "/send-notification", http.MethodPost, a.handleSendNotification)
	r.HandleFunc("/healthz", a.handleHealthz).Methods(http.MethodGet)
	if a.metrics != nil {
		r.Handle("/metrics", a.metrics.Handler()).Methods(http.MethodGet)
	}
	r.NotFoundHandler = http.HandlerFunc(notFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)

	var h http.Handler = r
	h = handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)(h)
	if opts.AccessLog != nil {
		h = handlers.CombinedLoggingHandler(opts.AccessLog, h)
	}
	a.handler = h
	return a
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.handler.ServeHTTP(w, r)
}

// Wait blocks until every notification fan-out has finished.
func (a *API) Wait() {
	a.fanouts.Wait()
}

func (a *API) route(r *mux.Router, path, method string, h http.HandlerFunc) {
	r.Handle(path, a.metrics.WrapHandler(path, h)).Methods(method)
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	rec, err := a.store.Status(r.Context())
	if err != nil {
		a.serverError(w, "status", err)
		return
	}

	env := model.Envelope{Success: true, Timestamp: a.timestamp()}
	if rec != nil {
		env.Data = rec
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, env)
}

func (a *API) handleLamp(on bool) http.HandlerFunc {
	title, body, message := "Lamp Status", "No motion! Lamp turned off.", "Lamp turned off."
	if on {
		body, message = "Motion detected! Lamp turned on.", "Lamp turned on."
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if err := a.store.SetField(r.Context(), store.FieldLightsOn, on); err != nil {
			a.serverError(w, "lights", err)
			return
		}
		a.logger.Info("lamp_written", "lights_on", on)
		a.publish("lamp", on)
		a.fanOut(push.Message{Title: title, Body: body, Data: map[string]string{"lightsOn": strconv.FormatBool(on)}})

		writeJSON(w, http.StatusOK, model.Envelope{
			Success:   true,
			Message:   message,
			Data:      map[string]bool{"lightsOn": on},
			Timestamp: a.timestamp(),
		})
	}
}

func (a *API) handleMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IsManualMode *bool `json:"isManualMode"`
	}
	if err := decodeBody(r, &req); err != nil || req.IsManualMode == nil {
		writeError(w, http.StatusBadRequest, "isManualMode must be a boolean")
		return
	}
	manual := *req.IsManualMode

	if err := a.store.SetField(r.Context(), store.FieldManualMode, manual); err != nil {
		a.serverError(w, "mode", err)
		return
	}
	name := modeName(manual)
	a.logger.Info("mode_written", "mode", name)
	a.publish("mode", manual)
	a.fanOut(push.Message{
		Title: "Mode Change",
		Body:  fmt.Sprintf("Lamp mode changed to %s.", name),
		Data:  map[string]string{"isManualMode": strconv.FormatBool(manual)},
	})

	writeJSON(w, http.StatusOK, model.Envelope{
		Success:   true,
		Message:   fmt.Sprintf("Mode changed to %s.", name),
		Data:      map[string]bool{"isManualMode": manual},
		Timestamp: a.timestamp(),
	})
}

func (a *API) handleRegisterToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := decodeBody(r, &req); err != nil || req.Token == "" {
		writeError(w, http.StatusBadRequest, "token required")
		return
	}
	if err := a.store.AddToken(r.Context(), req.Token); err != nil {
		a.serverError(w, "register-token", err)
		return
	}
	a.logger.Info("token_registered")
	writeJSON(w, http.StatusOK, model.Envelope{Success: true, Message: "Token registered", Timestamp: a.timestamp()})
}

func (a *API) handleSendNotification(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	}
	if err := decodeBody(r, &req); err != nil || req.Title == "" || req.Body == "" {
		writeError(w, http.StatusBadRequest, "title and body required")
		return
	}

	tokens, err := a.store.Tokens(r.Context())
	if err != nil {
		a.serverError(w, "send-notification", err)
		return
	}
	if len(tokens) == 0 {
		writeError(w, http.StatusBadRequest, "no registered tokens")
		return
	}

	res, err := a.pusher.Send(r.Context(), tokens, push.Message{Title: req.Title, Body: req.Body})
	a.metrics.PushResult(err == nil)
	if err != nil {
		a.serverError(w, "send-notification", err)
		return
	}
	writeJSON(w, http.StatusOK, model.Envelope{
		Success:   true,
		Message:   "Notification sent",
		Data:      res,
		Timestamp: a.timestamp(),
	})
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// fanOut notifies every registered token after the response is written.
// Failures are logged only.
func (a *API) fanOut(msg push.Message) {
	a.fanouts.Add(1)
	go func() {
		defer a.fanouts.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.pushTimeout)
		defer cancel()

		tokens, err := a.store.Tokens(ctx)
		if err != nil {
			a.logger.Warn("push_tokens_failed", "error", err)
			return
		}
		if len(tokens) == 0 {
			a.logger.Debug("push_skipped", "reason", "no registered tokens")
			return
		}
		res, err := a.pusher.Send(ctx, tokens, msg)
		a.metrics.PushResult(err == nil)
		if err != nil {
			a.logger.Warn("push_failed", "title", msg.Title, "error", err)
			return
		}
		a.logger.Info("push_sent", "title", msg.Title, "success", res.SuccessCount, "failure", res.FailureCount)
	}()
}

// publish records a command event off the request path. Like fanOut it is
// bounded by the push timeout and tracked by Wait.
func (a *API) publish(command string, value bool) {
	ev := events.CommandEvent{Command: command, Value: value, At: a.now().UTC()}
	a.fanouts.Add(1)
	go func() {
		defer a.fanouts.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.pushTimeout)
		defer cancel()

		if err := a.events.Publish(ctx, ev); err != nil {
			a.logger.Warn("command_event_failed", "command", command, "error", err)
		}
	}()
}

func (a *API) recoverJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				a.logger.Error("handler_panic", "path", r.URL.Path, "panic", fmt.Sprint(rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (a *API) serverError(w http.ResponseWriter, op string, err error) {
	a.logger.Error("store_failed", "op", op, "error", err)
	writeError(w, http.StatusInternalServerError, err.Error())
}

func (a *API) timestamp() string {
	return a.now().UTC().Format(timestampLayout)
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 64<<10))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty body")
		}
		return err
	}
	return nil
}

func modeName(manual bool) string {
	if manual {
		return "manual"
	}
	return "automatic"
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "endpoint not found")
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.Envelope{Success: false, Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
