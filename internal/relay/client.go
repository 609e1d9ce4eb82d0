package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"streetlamp/internal/model"
)

const maxBodyBytes = 1 << 20

var allowedPaths = map[string]string{
	"/status":            http.MethodGet,
	"/lights/on":         http.MethodPost,
	"/lights/off":        http.MethodPost,
	"/lights/mode":       http.MethodPost,
	"/register-token":    http.MethodPost,
	"/send-notification": http.MethodPost,
}

// Client talks to the lamp relay over its JSON envelope.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout:   timeout,
			Transport: http.DefaultTransport.(*http.Transport).Clone(),
		},
	}
}

// FetchStatus reads the device-state record.
func (c *Client) FetchStatus(ctx context.Context) (model.DeviceRecord, error) {
	var out *model.DeviceRecord
	if err := c.call(ctx, "/status", nil, &out); err != nil {
		return model.DeviceRecord{}, err
	}
	if out == nil {
		return model.DeviceRecord{}, &Fault{Kind: FaultApplication, Op: "/status", Message: "no device data"}
	}
	return *out, nil
}

// SetMode writes the operating mode and returns the mode the relay confirmed.
func (c *Client) SetMode(ctx context.Context, manual bool) (bool, error) {
	var out *struct {
		IsManualMode *bool `json:"isManualMode"`
	}
	if err := c.call(ctx, "/lights/mode", map[string]bool{"isManualMode": manual}, &out); err != nil {
		return false, err
	}
	if out == nil || out.IsManualMode == nil {
		return manual, nil
	}
	return *out.IsManualMode, nil
}

// SetLamp switches the lamp and returns the confirmed lamp state.
func (c *Client) SetLamp(ctx context.Context, on bool) (bool, error) {
	path := "/lights/off"
	if on {
		path = "/lights/on"
	}
	var out *struct {
		LightsOn *bool `json:"lightsOn"`
	}
	if err := c.call(ctx, path, struct{}{}, &out); err != nil {
		return false, err
	}
	if out == nil || out.LightsOn == nil {
		return on, nil
	}
	return *out.LightsOn, nil
}

// RegisterToken adds a push target. Duplicates are accepted by the relay.
func (c *Client) RegisterToken(ctx context.Context, token string) error {
	return c.call(ctx, "/register-token", map[string]string{"token": token}, nil)
}

// SendNotification asks the relay to push a message to every registered target.
func (c *Client) SendNotification(ctx context.Context, title, body string) error {
	return c.call(ctx, "/send-notification", map[string]string{"title": title, "body": body}, nil)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

func (c *Client) call(ctx context.Context, path string, payload any, out any) error {
	method, ok := allowedPaths[path]
	if !ok {
		return fmt.Errorf("path %q is not a relay endpoint", path)
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request %s: %w", path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request %s: %w", path, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &Fault{Kind: FaultTransport, Op: path, Message: "request failed", Unreachable: isDialError(err), Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &Fault{Kind: FaultTransport, Op: path, Message: "read response", Err: err}
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if decodeErr == nil && !env.Success && env.errorText() != "" {
			return &Fault{Kind: FaultApplication, Op: path, Message: env.errorText()}
		}
		return &Fault{
			Kind:    FaultTransport,
			Op:      path,
			Message: fmt.Sprintf("status %d: %s", resp.StatusCode, snippet(raw)),
		}
	}

	if decodeErr != nil {
		return &Fault{Kind: FaultTransport, Op: path, Message: "malformed response", Err: decodeErr}
	}
	if !env.Success {
		msg := env.errorText()
		if msg == "" {
			msg = "relay reported failure"
		}
		return &Fault{Kind: FaultApplication, Op: path, Message: msg}
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return &Fault{Kind: FaultTransport, Op: path, Message: "malformed data", Err: err}
		}
	}
	return nil
}

func (e envelope) errorText() string {
	if e.Error != "" {
		return e.Error
	}
	return e.Message
}

func isDialError(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

func snippet(raw []byte) string {
	if len(raw) > 512 {
		raw = raw[:512]
	}
	return strings.TrimSpace(string(raw))
}
