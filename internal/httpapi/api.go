package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"streetlamp/internal/command"
	"streetlamp/internal/model"
	"streetlamp/internal/relay"
)

type lampService interface {
	View() (model.View, bool)
	Ready() bool
	Alerts() []model.AlertEntry
	Subscribe(buffer int) (<-chan model.AlertEntry, func())
	RequestModeChange(ctx context.Context, wantManual bool) (command.ModeState, error)
	ToggleMode(ctx context.Context) (command.ModeState, error)
	IssueLampCommand(ctx context.Context, turnOn bool) error
	RegisterToken(ctx context.Context, token string) error
	SendNotification(ctx context.Context, title, body string) error
}

// API hosts the client's status, alert and command endpoints.
type API struct {
	svc          lampService
	pollInterval time.Duration
	logger       *slog.Logger
	mux          *http.ServeMux
}

// New builds the API. metrics may be nil.
func New(svc lampService, pollInterval time.Duration, metrics http.Handler, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	api := &API{
		svc:          svc,
		pollInterval: pollInterval,
		logger:       logger,
		mux:          http.NewServeMux(),
	}

	api.mux.HandleFunc("/api/v1/status", api.handleStatus)
	api.mux.HandleFunc("/api/v1/alerts", api.handleAlerts)
	api.mux.HandleFunc("/api/v1/mode", api.handleMode)
	api.mux.HandleFunc("/api/v1/lamp", api.handleLamp)
	api.mux.HandleFunc("/api/v1/register-token", api.handleRegisterToken)
	api.mux.HandleFunc("/api/v1/notify", api.handleNotify)
	api.mux.HandleFunc("/api/v1/stream", api.handleStream)
	api.mux.HandleFunc("/healthz", api.handleHealthz)
	api.mux.HandleFunc("/readyz", api.handleReadyz)
	if metrics != nil {
		api.mux.Handle("/metrics", metrics)
	}

	return api
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mux.ServeHTTP(w, r)
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	view, ok := a.svc.View()
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "status unavailable"})
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, statusResponse{
		View:           view,
		PollIntervalMS: a.pollInterval.Milliseconds(),
	})
}

func (a *API) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, map[string][]model.AlertEntry{"alerts": a.svc.Alerts()})
}

// handleMode sets the requested mode, or toggles when the body is empty.
func (a *API) handleMode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req struct {
		IsManualMode *bool `json:"isManualMode"`
	}
	empty, err := decodeOptional(r, &req)
	if err != nil || (!empty && req.IsManualMode == nil) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "isManualMode must be a boolean"})
		return
	}

	var st command.ModeState
	if empty {
		st, err = a.svc.ToggleMode(r.Context())
	} else {
		st, err = a.svc.RequestModeChange(r.Context(), *req.IsManualMode)
	}
	if err != nil {
		commandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) handleLamp(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req struct {
		On *bool `json:"on"`
	}
	if empty, err := decodeOptional(r, &req); err != nil || empty || req.On == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "on must be a boolean"})
		return
	}

	if err := a.svc.IssueLampCommand(r.Context(), *req.On); err != nil {
		commandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true, "on": *req.On})
}

func (a *API) handleRegisterToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req struct {
		Token string `json:"token"`
	}
	if _, err := decodeOptional(r, &req); err != nil || req.Token == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "token required"})
		return
	}
	if err := a.svc.RegisterToken(r.Context(), req.Token); err != nil {
		commandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleNotify relays an explicit push message to every registered target.
func (a *API) handleNotify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	}
	if _, err := decodeOptional(r, &req); err != nil || req.Title == "" || req.Body == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "title and body required"})
		return
	}
	if err := a.svc.SendNotification(r.Context(), req.Title, req.Body); err != nil {
		commandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (a *API) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if !a.svc.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]bool{"ready": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ready": true})
}

// commandError maps policy rejections and relay faults to status codes.
func commandError(w http.ResponseWriter, err error) {
	var fault *relay.Fault
	switch {
	case errors.Is(err, command.ErrTransitionInFlight):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, command.ErrNotInManualMode):
		writeJSON(w, http.StatusPreconditionFailed, map[string]string{"error": err.Error()})
	case errors.As(err, &fault):
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error(), "fault": fault.Kind.String()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

// decodeOptional decodes a JSON body and reports whether it was empty.
func decodeOptional(r *http.Request, v any) (bool, error) {
	if r.Body == nil {
		return true, nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(v)
	if errors.Is(err, io.EOF) {
		return true, nil
	}
	return false, err
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type statusResponse struct {
	model.View
	PollIntervalMS int64 `json:"poll_interval_ms"`
}
