// Package rtdb talks to a Firebase Realtime Database over its REST API.
package rtdb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrRequest indicates the database rejected or failed a request.
var ErrRequest = errors.New("realtime database request failed")

// ErrInvalidURL indicates the database URL could not be used.
var ErrInvalidURL = errors.New("invalid database URL")

// Client reads and writes JSON values by path.
type Client struct {
	baseURL    *url.URL
	authToken  string
	httpClient *http.Client
}

// NewClient creates a client for databaseURL, e.g.
// "https://<project>-default-rtdb.<region>.firebasedatabase.app".
// authToken is sent as the auth query parameter when non-empty.
func NewClient(databaseURL, authToken string) (*Client, error) {
	return NewClientWithHTTP(databaseURL, authToken, &http.Client{
		Timeout: 30 * time.Second,
	})
}

// NewClientWithHTTP creates a client with a custom http.Client (for testing).
func NewClientWithHTTP(databaseURL, authToken string, c *http.Client) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(databaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("%w: scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return &Client{baseURL: u, authToken: authToken, httpClient: c}, nil
}

// Get returns the decoded value at path, or nil if nothing is stored there.
func (c *Client) Get(ctx context.Context, path string) (any, error) {
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON at %s: %v", ErrRequest, path, err)
	}
	return v, nil
}

// Set overwrites the value at path.
func (c *Client) Set(ctx context.Context, path string, value any) error {
	_, err := c.do(ctx, http.MethodPut, path, value)
	return err
}

// Update merges fields into the value at path without touching other children.
func (c *Client) Update(ctx context.Context, path string, fields map[string]any) error {
	_, err := c.do(ctx, http.MethodPatch, path, fields)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil || method == http.MethodPut {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding %s body: %w", path, err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, method != http.MethodGet), reqBody)
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %v", ErrRequest, err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrRequest, method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrRequest, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s %s: HTTP %d: %s", ErrRequest, method, path, resp.StatusCode, errorMessage(body))
	}
	return body, nil
}

func (c *Client) endpoint(path string, silent bool) string {
	u := *c.baseURL
	u.Path = u.Path + "/" + strings.Trim(path, "/") + ".json"

	q := url.Values{}
	if c.authToken != "" {
		q.Set("auth", c.authToken)
	}
	if silent {
		q.Set("print", "silent")
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// errorMessage extracts the {"error": "..."} message the REST API returns.
func errorMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return e.Error
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
