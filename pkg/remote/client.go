package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultTimeout = 10 * time.Second

// ErrNotFound reports that the upstream has no value for the key.
var ErrNotFound = errors.New("remote: not found")

// Client talks to the upstream sync service. Queue items are pushed to
// /ops/{type}, reads come from /data/{key}, and /healthz serves as the
// connectivity probe target.
type Client struct {
	base  string
	httpc *http.Client
}

// NewClient returns a client bound to baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		base:  strings.TrimRight(baseURL, "/"),
		httpc: &http.Client{Timeout: timeout},
	}
}

// Push submits one queued operation. The payload is a JSON document and
// may be empty.
func (c *Client) Push(ctx context.Context, typ string, payload []byte) error {
	u := fmt.Sprintf("%s/ops/%s", c.base, url.PathEscape(typ))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("remote: build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("remote: push %s: %w", typ, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("remote: push %s: status %d", typ, resp.StatusCode)
	}
	return nil
}

// Fetch reads the upstream value for key. A 404 maps to ErrNotFound.
func (c *Client) Fetch(ctx context.Context, key string) ([]byte, error) {
	u := fmt.Sprintf("%s/data/%s", c.base, url.PathEscape(key))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("remote: build fetch request: %w", err)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote: fetch %s: %w", key, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("remote: fetch %s: status %d", key, resp.StatusCode)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("remote: fetch %s: read body: %w", key, err)
	}
	return b, nil
}

// HealthURL returns the upstream health endpoint for connectivity
// probing.
func (c *Client) HealthURL() string {
	return c.base + "/healthz"
}
