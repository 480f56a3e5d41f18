package phoned

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrRequestFailed is returned for non-2xx responses.
var ErrRequestFailed = errors.New("phoned: request failed")

// Client drives desk phones through the phone gateway.
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

func (c *Client) Hold(ctx context.Context, iface string) error {
	return c.put(ctx, iface, "hold/start")
}

func (c *Client) Unhold(ctx context.Context, iface string) error {
	return c.put(ctx, iface, "hold/stop")
}

func (c *Client) Answer(ctx context.Context, iface string) error {
	return c.put(ctx, iface, "answer")
}

func (c *Client) put(ctx context.Context, iface, action string) error {
	path := "/0.1/endpoints/" + url.PathEscape(iface) + "/" + action
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("phoned: build %s: %w", action, err)
	}
	if c.token != "" {
		req.Header.Set("X-Auth-Token", c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("phoned: %s %s: %w", action, iface, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s %s: status %d: %s", ErrRequestFailed, action, iface, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
