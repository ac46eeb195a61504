// Package client talks to the circulation server over HTTP and drives the
// line-oriented interactive protocol.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// AdminKeyHeader must match the header the server checks on /admin routes.
const AdminKeyHeader = "X-Admin-Key"

var json = jsoniter.Config{UseNumber: true}.Froze()

var defaultHTTPClient = &http.Client{
	Timeout: 10 * time.Second,
	Transport: &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	},
}

// Client issues requests against one server.
type Client struct {
	baseURL  string
	http     *http.Client
	adminKey string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithAdminKey sends key on every /admin request.
func WithAdminKey(key string) Option {
	return func(c *Client) { c.adminKey = key }
}

// New returns a Client for http://host:port.
func New(host, port string, opts ...Option) *Client {
	return NewWithBaseURL("http://"+net.JoinHostPort(host, port), opts...)
}

// NewWithBaseURL returns a Client for an explicit base URL.
func NewWithBaseURL(baseURL string, opts ...Option) *Client {
	c := &Client{baseURL: strings.TrimRight(baseURL, "/"), http: defaultHTTPClient}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get sends query to path and decodes the JSON answer into out.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return c.do(req, path, out)
}

// Post sends in as a JSON body to path and decodes the answer into out.
func (c *Client) Post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, path, out)
}

// do decodes the body whatever the status: failures carry the same wire
// shape with success=false.
func (c *Client) do(req *http.Request, path string, out any) error {
	if c.adminKey != "" && strings.HasPrefix(path, "/admin/") {
		req.Header.Set(AdminKeyHeader, c.adminKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	return nil
}
