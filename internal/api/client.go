// Package api is the HTTP client for the Chariot backend: request plumbing,
// the adaptive pager for graph queries, and thin wrappers for the entity
// endpoints the console depends on.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"chariot/internal/keychain"
)

const (
	requestTimeout = 60 * time.Second

	// defaultPageLimit is the page size requested when the caller's query
	// carries none. The pager halves it on server overload.
	defaultPageLimit = 4096
)

// StatusError is a non-success backend response. The body is embedded so
// operators see the server's explanation verbatim.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("[%d] request failed", e.StatusCode)
	}
	return fmt.Sprintf("[%d] request failed: %s", e.StatusCode, e.Body)
}

// Client talks to one Chariot backend on behalf of one keychain profile.
// All methods are synchronous and block on the HTTP round trip.
type Client struct {
	keychain *keychain.Keychain
	http     *http.Client
	debug    bool

	// PageLimit seeds the pager's page size. Exposed for tuning; the 413
	// recovery arithmetic works from whatever value is in effect.
	PageLimit int
}

// NewClient builds a client for the given keychain profile.
func NewClient(kc *keychain.Keychain, debug bool) *Client {
	return &Client{
		keychain:  kc,
		http:      &http.Client{Timeout: requestTimeout},
		debug:     debug,
		PageLimit: defaultPageLimit,
	}
}

// Account returns the assume-role account in effect, if any.
func (c *Client) Account() string {
	return c.keychain.Account()
}

// Username returns the profile's username, used as the default SSH login.
func (c *Client) Username() string {
	return c.keychain.Profile.Username
}

func (c *Client) url(path string, params map[string]string) string {
	u := c.keychain.BaseURL() + path
	if len(params) == 0 {
		return u
	}
	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	return u + "?" + values.Encode()
}

// do issues one request and returns the raw body. Any non-2xx status is a
// *StatusError with the body attached.
func (c *Client) do(ctx context.Context, method, path string, params map[string]string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path, params), reader)
	if err != nil {
		return nil, err
	}
	for k, v := range c.keychain.Headers() {
		req.Header.Set(k, v)
	}

	// correlation id, echoed in backend logs for support requests
	requestID := uuid.NewString()
	req.Header.Set("X-Request-Id", requestID)

	if c.debug {
		log.Printf("[API] %s %s (request %s)", method, path, requestID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	return data, nil
}

// Get issues a GET and decodes the JSON response into out.
func (c *Client) Get(ctx context.Context, path string, params map[string]string, out any) error {
	data, err := c.do(ctx, http.MethodGet, path, params, nil)
	if err != nil {
		return err
	}
	return decode(data, out)
}

// Post issues a POST with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	data, err := c.do(ctx, http.MethodPost, path, nil, body)
	if err != nil {
		return err
	}
	return decode(data, out)
}

// Put issues a PUT with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	data, err := c.do(ctx, http.MethodPut, path, nil, body)
	if err != nil {
		return err
	}
	return decode(data, out)
}

// Patch issues a bodyless PATCH (pause/resume style state transitions).
func (c *Client) Patch(ctx context.Context, path string, out any) error {
	data, err := c.do(ctx, http.MethodPatch, path, nil, nil)
	if err != nil {
		return err
	}
	return decode(data, out)
}

// Delete issues a DELETE with a JSON body.
func (c *Client) Delete(ctx context.Context, path string, body any) error {
	_, err := c.do(ctx, http.MethodDelete, path, nil, body)
	return err
}

func decode(data []byte, out any) error {
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// convert re-marshals loosely typed search hits into a typed slice. Search
// results come back as generic maps from the pager; entity wrappers give
// them shape exactly once, at this boundary.
func convert(items []any, out any) error {
	data, err := json.Marshal(items)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
