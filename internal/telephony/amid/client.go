package amid

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Client relays manager actions through the action gateway's HTTP API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Message is one manager response or event, flattened to strings.
type Message map[string]string

// ErrActionFailed is returned for non-2xx gateway responses.
var ErrActionFailed = errors.New("amid: action failed")

// StatusError is a non-2xx gateway response. It matches ErrActionFailed.
type StatusError struct {
	Action string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %s: status %d: %s", ErrActionFailed, e.Action, e.Code, e.Body)
}

func (e *StatusError) Unwrap() error { return ErrActionFailed }

// rejected reports whether err is the gateway refusing the action itself,
// as opposed to the gateway or the manager being unavailable.
func rejected(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code >= 400 && se.Code < 500
}

// Action sends one manager action and returns the messages it produced.
func (c *Client) Action(ctx context.Context, name string, params map[string]string) ([]Message, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("amid: encode %s: %w", name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/1.0/action/"+name, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("amid: build %s: %w", name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("X-Auth-Token", c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("amid: %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{Action: name, Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	var raw []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("amid: decode %s: %w", name, err)
	}
	out := make([]Message, 0, len(raw))
	for _, r := range raw {
		m := make(Message, len(r))
		for k, v := range r {
			m[k] = fmt.Sprint(v)
		}
		out = append(out, m)
	}
	return out, nil
}

// ExtensionExists reports whether exten has the given priority in the
// dialplan context. A lookup the manager rejects (4xx, or a "Response:
// Error" reply) counts as absent; an unavailable gateway is an error.
func (c *Client) ExtensionExists(ctx context.Context, dialplanContext, exten string, priority int) (bool, error) {
	msgs, err := c.Action(ctx, "ShowDialplan", map[string]string{"Context": dialplanContext, "Extension": exten})
	if err != nil {
		if rejected(err) {
			return false, nil
		}
		return false, err
	}
	if len(msgs) > 0 && strings.EqualFold(msgs[0]["Response"], "Error") {
		return false, nil
	}
	for _, m := range msgs {
		if m["Event"] != "ListDialplan" {
			continue
		}
		if p, err := strconv.Atoi(m["Priority"]); err == nil && p == priority {
			return true, nil
		}
	}
	return false, nil
}

func (c *Client) Mute(ctx context.Context, channel string) error {
	return c.muteAudio(ctx, channel, "on")
}

func (c *Client) Unmute(ctx context.Context, channel string) error {
	return c.muteAudio(ctx, channel, "off")
}

func (c *Client) muteAudio(ctx context.Context, channel, state string) error {
	_, err := c.Action(ctx, "MuteAudio", map[string]string{"Channel": channel, "Direction": "in", "State": state})
	return err
}

func (c *Client) SendDTMF(ctx context.Context, channel, digit string) error {
	_, err := c.Action(ctx, "PlayDTMF", map[string]string{"Channel": channel, "Digit": digit})
	return err
}

func (c *Client) RecordStart(ctx context.Context, channel, filename, options string) error {
	params := map[string]string{"Channel": channel, "File": filename}
	if options != "" {
		params["options"] = options
	}
	_, err := c.Action(ctx, "MixMonitor", params)
	return err
}

func (c *Client) RecordStop(ctx context.Context, channel string) error {
	_, err := c.Action(ctx, "StopMixMonitor", map[string]string{"Channel": channel})
	return err
}
