package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streetlamp/internal/command"
	"streetlamp/internal/model"
	"streetlamp/internal/relay"
)

type fakeService struct {
	view    model.View
	ok      bool
	ready   bool
	alerts  []model.AlertEntry
	live    chan model.AlertEntry
	modeErr error
	lampErr error

	modeCalls   []bool
	toggleCalls int
	lampCalls   []bool
	tokens      []string
	notified    []string
	notifyErr   error
}

func (f *fakeService) View() (model.View, bool) { return f.view, f.ok }
func (f *fakeService) Ready() bool { return f.ready }
func (f *fakeService) Alerts() []model.AlertEntry { return f.alerts }

func (f *fakeService) Subscribe(buffer int) (<-chan model.AlertEntry, func()) {
	if f.live == nil {
		f.live = make(chan model.AlertEntry, buffer)
	}
	return f.live, func() {}
}

func (f *fakeService) RequestModeChange(ctx context.Context, wantManual bool) (command.ModeState, error) {
	f.modeCalls = append(f.modeCalls, wantManual)
	if f.modeErr != nil {
		return command.ModeState{}, f.modeErr
	}
	return command.ModeState{IsManualMode: wantManual}, nil
}

func (f *fakeService) ToggleMode(ctx context.Context) (command.ModeState, error) {
	f.toggleCalls++
	return command.ModeState{IsManualMode: true}, f.modeErr
}

func (f *fakeService) IssueLampCommand(ctx context.Context, turnOn bool) error {
	f.lampCalls = append(f.lampCalls, turnOn)
	return f.lampErr
}

func (f *fakeService) RegisterToken(ctx context.Context, token string) error {
	f.tokens = append(f.tokens, token)
	return nil
}

func (f *fakeService) SendNotification(ctx context.Context, title, body string) error {
	f.notified = append(f.notified, title+"|"+body)
	return f.notifyErr
}

func serve(api *API, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rr := httptest.NewRecorder()
	api.ServeHTTP(rr, req)
	return rr
}

func TestStatusEndpointReturnsView(t *testing.T) {
	svc := &fakeService{
		view: model.View{
			UpdatedAt:    time.Date(2024, 5, 1, 21, 0, 0, 0, time.UTC),
			SourceOnline: true,
			Light:        "Dark",
			Mode:         "Manual",
		},
		ok: true,
	}
	api := New(svc, 800*time.Millisecond, nil, nil)

	rr := serve(api, http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))

	var payload statusResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload))
	assert.True(t, payload.SourceOnline)
	assert.Equal(t, "Dark", payload.Light)
	assert.Equal(t, int64(800), payload.PollIntervalMS)
}

func TestStatusEndpointUnavailableBeforeFirstPoll(t *testing.T) {
	api := New(&fakeService{}, time.Second, nil, nil)
	rr := serve(api, http.MethodGet, "/api/v1/status", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestStatusEndpointMethodNotAllowed(t *testing.T) {
	api := New(&fakeService{ok: true}, time.Second, nil, nil)
	rr := serve(api, http.MethodPost, "/api/v1/status", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestAlertsEndpoint(t *testing.T) {
	entry := model.NewAlert(model.AlertStale, "Street Lamp Error", "stale", time.Unix(0, 0))
	api := New(&fakeService{alerts: []model.AlertEntry{entry}}, time.Second, nil, nil)

	rr := serve(api, http.MethodGet, "/api/v1/alerts", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var payload struct {
		Alerts []model.AlertEntry `json:"alerts"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload))
	require.Len(t, payload.Alerts, 1)
	assert.Equal(t, entry.ID, payload.Alerts[0].ID)
}

func TestModeEndpointSetsOrToggles(t *testing.T) {
	svc := &fakeService{}
	api := New(svc, time.Second, nil, nil)

	rr := serve(api, http.MethodPost, "/api/v1/mode", `{"isManualMode":true}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []bool{true}, svc.modeCalls)

	rr = serve(api, http.MethodPost, "/api/v1/mode", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, svc.toggleCalls)

	rr = serve(api, http.MethodPost, "/api/v1/mode", `{"isManualMode":"on"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestModeEndpointInFlightIsConflict(t *testing.T) {
	api := New(&fakeService{modeErr: command.ErrTransitionInFlight}, time.Second, nil, nil)
	rr := serve(api, http.MethodPost, "/api/v1/mode", `{"isManualMode":false}`)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestLampEndpointStatusCodes(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"ok", nil, http.StatusOK},
		{"not manual", command.ErrNotInManualMode, http.StatusPreconditionFailed},
		{"in flight", command.ErrTransitionInFlight, http.StatusConflict},
		{"relay fault", &relay.Fault{Kind: relay.FaultTransport, Op: "lights/on", Message: "request failed"}, http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &fakeService{lampErr: tc.err}
			api := New(svc, time.Second, nil, nil)
			rr := serve(api, http.MethodPost, "/api/v1/lamp", `{"on":true}`)
			assert.Equal(t, tc.want, rr.Code)
			assert.Equal(t, []bool{true}, svc.lampCalls)
		})
	}
}

func TestLampEndpointRequiresOn(t *testing.T) {
	svc := &fakeService{}
	api := New(svc, time.Second, nil, nil)

	assert.Equal(t, http.StatusBadRequest, serve(api, http.MethodPost, "/api/v1/lamp", "").Code)
	assert.Equal(t, http.StatusBadRequest, serve(api, http.MethodPost, "/api/v1/lamp", `{}`).Code)
	assert.Empty(t, svc.lampCalls)
}

func TestRegisterTokenEndpoint(t *testing.T) {
	svc := &fakeService{}
	api := New(svc, time.Second, nil, nil)

	assert.Equal(t, http.StatusBadRequest, serve(api, http.MethodPost, "/api/v1/register-token", `{}`).Code)
	assert.Equal(t, http.StatusOK, serve(api, http.MethodPost, "/api/v1/register-token", `{"token":"t1"}`).Code)
	assert.Equal(t, []string{"t1"}, svc.tokens)
}

func TestNotifyEndpoint(t *testing.T) {
	svc := &fakeService{}
	api := New(svc, time.Second, nil, nil)

	assert.Equal(t, http.StatusBadRequest, serve(api, http.MethodPost, "/api/v1/notify", `{"title":"Hi"}`).Code)
	assert.Empty(t, svc.notified)

	assert.Equal(t, http.StatusOK, serve(api, http.MethodPost, "/api/v1/notify", `{"title":"Hi","body":"there"}`).Code)
	assert.Equal(t, []string{"Hi|there"}, svc.notified)

	svc.notifyErr = &relay.Fault{Kind: relay.FaultApplication, Op: "/send-notification", Message: "no registered tokens"}
	assert.Equal(t, http.StatusBadGateway, serve(api, http.MethodPost, "/api/v1/notify", `{"title":"Hi","body":"there"}`).Code)
}

func TestReadyz(t *testing.T) {
	api := New(&fakeService{ready: false}, time.Second, nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, serve(api, http.MethodGet, "/readyz", "").Code)

	api = New(&fakeService{ready: true}, time.Second, nil, nil)
	assert.Equal(t, http.StatusOK, serve(api, http.MethodGet, "/readyz", "").Code)
}

func TestHealthz(t *testing.T) {
	api := New(&fakeService{}, time.Second, nil, nil)
	assert.Equal(t, http.StatusOK, serve(api, http.MethodGet, "/healthz", "").Code)
}

func TestStreamSendsBacklogThenLiveAlerts(t *testing.T) {
	older := model.NewAlert(model.AlertMode, "Mode Change", "older", time.Unix(1, 0))
	newer := model.NewAlert(model.AlertLamp, "Lamp Control", "newer", time.Unix(2, 0))
	svc := &fakeService{alerts: []model.AlertEntry{newer, older}, live: make(chan model.AlertEntry, 4)}
	srv := httptest.NewServer(New(svc, time.Second, nil, nil))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/v1/stream", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var got model.AlertEntry
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "older", got.Message)
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "newer", got.Message)

	svc.live <- newer
	fresh := model.NewAlert(model.AlertStale, "Street Lamp Error", "fresh", time.Unix(3, 0))
	svc.live <- fresh
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "fresh", got.Message)
}
