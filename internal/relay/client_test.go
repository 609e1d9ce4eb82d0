package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchStatusDecodesDeviceRecord(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/status", r.URL.Path)
		require.Equal(t, http.MethodGet, r.Method)
		_, _ = w.Write([]byte(`{"success":true,"data":{"pir1Detected":true,"pir2Detected":false,"motionDetected":true,"isDark":true,"lightsOn":true,"isManualMode":false},"timestamp":"2026-03-01T20:00:00Z"}`))
	}))
	defer ts.Close()

	rec, err := NewClient(ts.URL, 2*time.Second).FetchStatus(context.Background())
	require.NoError(t, err)
	assert.True(t, rec.PIR1Detected)
	assert.True(t, rec.MotionDetected)
	assert.True(t, rec.IsDark)
	assert.True(t, rec.LightsOn)
	assert.False(t, rec.IsManualMode)
}

func TestFetchStatusApplicationFault(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"success":false,"error":"permission denied"}`))
	}))
	defer ts.Close()

	_, err := NewClient(ts.URL, 2*time.Second).FetchStatus(context.Background())

	var fault *Fault
	require.True(t, errors.As(err, &fault))
	assert.Equal(t, FaultApplication, fault.Kind)
	assert.Equal(t, "permission denied", fault.Message)
}

func TestFetchStatusSuccessFalseWithOKStatusIsApplicationFault(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"message":"device offline"}`))
	}))
	defer ts.Close()

	_, err := NewClient(ts.URL, 2*time.Second).FetchStatus(context.Background())

	var fault *Fault
	require.True(t, errors.As(err, &fault))
	assert.Equal(t, FaultApplication, fault.Kind)
	assert.Equal(t, "device offline", fault.Message)
}

func TestFetchStatusMissingDataIsApplicationFault(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"data":null}`))
	}))
	defer ts.Close()

	_, err := NewClient(ts.URL, 2*time.Second).FetchStatus(context.Background())

	var fault *Fault
	require.True(t, errors.As(err, &fault))
	assert.Equal(t, FaultApplication, fault.Kind)
}

func TestFetchStatusMalformedPayloadIsTransportFault(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>gateway</html>`))
	}))
	defer ts.Close()

	_, err := NewClient(ts.URL, 2*time.Second).FetchStatus(context.Background())

	var fault *Fault
	require.True(t, errors.As(err, &fault))
	assert.Equal(t, FaultTransport, fault.Kind)
	assert.False(t, fault.Unreachable)
}

func TestFetchStatusUnreachableRelay(t *testing.T) {
	_, err := NewClient("http://127.0.0.1:1", 200*time.Millisecond).FetchStatus(context.Background())

	var fault *Fault
	require.True(t, errors.As(err, &fault))
	assert.Equal(t, FaultTransport, fault.Kind)
	assert.True(t, fault.Unreachable)
}

func TestSetModePostsBodyAndReturnsConfirmedMode(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/lights/mode", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		var body map[string]bool
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.True(t, body["isManualMode"])
		_, _ = w.Write([]byte(`{"success":true,"message":"mode changed","data":{"isManualMode":true}}`))
	}))
	defer ts.Close()

	manual, err := NewClient(ts.URL, 2*time.Second).SetMode(context.Background(), true)
	require.NoError(t, err)
	assert.True(t, manual)
}

func TestSetModeWithoutDataAssumesRequestedMode(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"message":"mode changed"}`))
	}))
	defer ts.Close()

	manual, err := NewClient(ts.URL, 2*time.Second).SetMode(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, manual)
}

func TestSetLampUsesOnOffPaths(t *testing.T) {
	var paths []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer ts.Close()

	c := NewClient(ts.URL, 2*time.Second)
	on, err := c.SetLamp(context.Background(), true)
	require.NoError(t, err)
	assert.True(t, on)
	on, err = c.SetLamp(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, on)

	assert.Equal(t, []string{"/lights/on", "/lights/off"}, paths)
}

func TestRegisterTokenSendsToken(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/register-token", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "tok-1", body["token"])
		_, _ = w.Write([]byte(`{"success":true,"message":"token saved"}`))
	}))
	defer ts.Close()

	require.NoError(t, NewClient(ts.URL, 2*time.Second).RegisterToken(context.Background(), "tok-1"))
}

func TestSendNotificationWithoutTargetsIsApplicationFault(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/send-notification", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "Lamp", body["title"])
		require.Equal(t, "back online", body["body"])
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"success":false,"error":"no registered tokens"}`))
	}))
	defer ts.Close()

	err := NewClient(ts.URL, 2*time.Second).SendNotification(context.Background(), "Lamp", "back online")

	var fault *Fault
	require.True(t, errors.As(err, &fault))
	assert.Equal(t, FaultApplication, fault.Kind)
	assert.Equal(t, "no registered tokens", fault.Message)
}

func TestCallRejectsUnknownPath(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", time.Second)
	err := c.call(context.Background(), "/admin/reset", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a relay endpoint")
}
