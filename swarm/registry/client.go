package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"peerchat/datamodel/peer"
	"strings"
	"time"
)

// Client talks to a registry Server over HTTP.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		HTTP: &http.Client{
			Timeout: timeout,
		},
	}
}

// postJSON sends v and returns the response status code.
func (c *Client) postJSON(ctx context.Context, path string, v any) (int, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	return resp.StatusCode, nil
}

func (c *Client) Register(ctx context.Context, id string, port int) error {
	status, err := c.postJSON(ctx, "/register", registerRequest{Username: id, Port: port})
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	if status/100 != 2 {
		return fmt.Errorf("register: status %d", status)
	}
	return nil
}

// KeepAlive sends a heartbeat. Returns ErrUnknownPeer if the registry no longer knows id.
func (c *Client) KeepAlive(ctx context.Context, id string) error {
	status, err := c.postJSON(ctx, "/keep_alive", keepAliveRequest{Username: id})
	if err != nil {
		return fmt.Errorf("keep_alive: %w", err)
	}
	switch {
	case status == http.StatusGone:
		return ErrUnknownPeer
	case status/100 != 2:
		return fmt.Errorf("keep_alive: status %d", status)
	}
	return nil
}

func (c *Client) ListLive(ctx context.Context) (peer.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/users", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("users: %w", err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("users: status %s", resp.Status)
	}

	snapshot := peer.Snapshot{}
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		return nil, fmt.Errorf("users: %w", err)
	}
	return snapshot, nil
}

func (c *Client) Block(ctx context.Context, blocker, blockee string) error {
	status, err := c.postJSON(ctx, "/block", blockRequest{Blocker: blocker, Blockee: blockee})
	if err != nil {
		return fmt.Errorf("block: %w", err)
	}
	if status/100 != 2 {
		return fmt.Errorf("block: status %d", status)
	}
	return nil
}
