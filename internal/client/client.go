// Package client is the blocking request/response client for a ctxsync
// server. Every call is bounded by the client timeout and by the caller's
// context; failures surface as one of ErrConnection, ErrTimeout or an
// *APIError matching ErrRejected (and ErrNotFound for 404s).
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-ports/ctxsync/internal/models"
	"github.com/go-ports/ctxsync/internal/value"
)

// DefaultTimeout bounds every call when no timeout is configured.
const DefaultTimeout = 10 * time.Second

var (
	// ErrConnection reports that the server could not be reached or the
	// connection dropped.
	ErrConnection = errors.New("connection error")
	// ErrTimeout reports that a call exceeded its deadline.
	ErrTimeout = errors.New("request timed out")
	// ErrRejected is matched by every *APIError.
	ErrRejected = errors.New("request rejected by server")
	// ErrNotFound is matched by *APIError values with status 404.
	ErrNotFound = errors.New("not found")
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
	Retryable  bool
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server rejected request (HTTP %d): %s", e.StatusCode, e.Message)
}

// Is makes errors.Is match ErrRejected, and ErrNotFound for 404s.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrRejected:
		return true
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	}
	return false
}

// Client talks to one ctxsync server.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-call timeout. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client. A zero Timeout on hc is
// replaced with DefaultTimeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		cp := *hc
		if cp.Timeout <= 0 {
			cp.Timeout = DefaultTimeout
		}
		c.http = &cp
	}
}

// New returns a Client for the server at baseURL, e.g. "http://127.0.0.1:5050".
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("client.New: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, fmt.Errorf("client.New: server URL %q must be http(s)://host[:port]", baseURL)
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: DefaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// BaseURL returns the server URL without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// Timeout returns the per-call timeout.
func (c *Client) Timeout() time.Duration { return c.http.Timeout }

// PushURL returns the websocket URL of the server's push channel.
func (c *Client) PushURL() string {
	if rest, ok := strings.CutPrefix(c.baseURL, "https://"); ok {
		return "wss://" + rest + "/ws"
	}
	return "ws://" + strings.TrimPrefix(c.baseURL, "http://") + "/ws"
}

// ---------------------------------------------------------------------------
// Context
// ---------------------------------------------------------------------------

// Get returns the value stored under key. found is false when the key is
// absent; that is not an error.
func (c *Client) Get(ctx context.Context, key string) (v value.Value, found bool, err error) {
	return c.GetPath(ctx, key, "")
}

// GetPath is Get projected through a JSONPath expression such as "$.db.port".
func (c *Client) GetPath(ctx context.Context, key, path string) (v value.Value, found bool, err error) {
	q := url.Values{"key": {key}}
	if path != "" {
		q.Set("path", path)
	}
	var resp models.GetResponse
	if err := c.doJSON(ctx, http.MethodGet, "/ctx", q, nil, &resp); err != nil {
		return value.Value{}, false, err
	}
	return resp.Value, resp.Found, nil
}

// Set stores v under key on behalf of who and waits for the acknowledgment.
func (c *Client) Set(ctx context.Context, key string, v value.Value, who string) (*models.SetResponse, error) {
	body := map[string]any{"key": key, "value": v, "who": who}
	var resp models.SetResponse
	if err := c.doJSON(ctx, http.MethodPost, "/ctx", nil, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Delete removes key on behalf of who.
func (c *Client) Delete(ctx context.Context, key, who string) (*models.DeleteResponse, error) {
	q := url.Values{"key": {key}}
	if who != "" {
		q.Set("who", who)
	}
	var resp models.DeleteResponse
	if err := c.doJSON(ctx, http.MethodDelete, "/ctx", q, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// All returns the full context.
func (c *Client) All(ctx context.Context) (*models.AllResponse, error) {
	var resp models.AllResponse
	if err := c.doJSON(ctx, http.MethodGet, "/ctx/all", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// History returns history records matching f.
func (c *Client) History(ctx context.Context, f models.HistoryFilter) (*models.HistoryResponse, error) {
	q := url.Values{}
	if f.Key != "" {
		q.Set("key", f.Key)
	}
	if f.Who != "" {
		q.Set("who", f.Who)
	}
	var resp models.HistoryResponse
	if err := c.doJSON(ctx, http.MethodGet, "/ctx/history", q, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Merge replays history records into the server context.
func (c *Client) Merge(ctx context.Context, req models.MergeRequest) (*models.MergeResponse, error) {
	var resp models.MergeResponse
	if err := c.doJSON(ctx, http.MethodPost, "/ctx/merge", nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// Dumps
// ---------------------------------------------------------------------------

// Dump asks the server to write a dump artifact.
func (c *Client) Dump(ctx context.Context, req models.DumpRequest) (*models.DumpResponse, error) {
	var resp models.DumpResponse
	if err := c.doJSON(ctx, http.MethodPost, "/ctx/dump", nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListDumps returns the dump directory listing and the dump ledger.
func (c *Client) ListDumps(ctx context.Context) (*models.DumpListResponse, error) {
	var resp models.DumpListResponse
	if err := c.doJSON(ctx, http.MethodGet, "/ctx/dump/list", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DownloadDump returns the raw bytes and content type of a dump artifact.
// A missing file yields an error matching ErrNotFound.
func (c *Client) DownloadDump(ctx context.Context, filename string) (data []byte, contentType string, err error) {
	resp, err := c.send(ctx, http.MethodGet, "/ctx/dump/"+url.PathEscape(filename), nil, nil)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	data, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", classify(err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// RemoveDump deletes a dump artifact.
func (c *Client) RemoveDump(ctx context.Context, filename string) error {
	return c.doJSON(ctx, http.MethodDelete, "/ctx/dump/"+url.PathEscape(filename), nil, nil, nil)
}

// ---------------------------------------------------------------------------
// Introspection
// ---------------------------------------------------------------------------

// Observers lists the connected push-channel observers.
func (c *Client) Observers(ctx context.Context) (*models.ObserversResponse, error) {
	var resp models.ObserversResponse
	if err := c.doJSON(ctx, http.MethodGet, "/ctx/observers", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health reports server liveness.
func (c *Client) Health(ctx context.Context) (*models.HealthResponse, error) {
	var resp models.HealthResponse
	if err := c.doJSON(ctx, http.MethodGet, "/health", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
