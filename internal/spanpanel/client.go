// SPDX-License-Identifier: MIT

// Package spanpanel implements a typed client for the local REST API of a
// SPAN smart electrical panel.
package spanpanel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/spanops/spand/internal/netutil"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultTimeout = 30 * time.Second

	// errorBodyLimit caps how much of an upstream error body is captured
	// into a PanelError.
	errorBodyLimit = 512
)

// Client talks to one SPAN panel.
type Client struct {
	base    string
	token   string
	http    *http.Client
	breaker *CircuitBreaker
}

// Option configures a Client.
type Option func(*Client)

// WithAccessToken attaches a bearer token to every request.
func WithAccessToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithTimeout overrides the default request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithHTTPClient replaces the underlying HTTP client (tests).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithCircuitBreaker guards all requests with the given breaker.
func WithCircuitBreaker(cb *CircuitBreaker) Option {
	return func(c *Client) { c.breaker = cb }
}

// New creates a client for the panel at host (bare host, host:port or URL).
func New(host string, opts ...Option) (*Client, error) {
	base, err := netutil.BaseURL(host)
	if err != nil {
		return nil, err
	}
	c := &Client{
		base: base,
		http: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the normalised panel base URL.
func (c *Client) BaseURL() string { return c.base }

// Ping reports whether the panel answers its unauthenticated status endpoint.
func (c *Client) Ping(ctx context.Context) bool {
	_, err := c.Status(ctx)
	return err == nil
}

// Status fetches /api/v1/status.
func (c *Client) Status(ctx context.Context) (*StatusOut, error) {
	var out StatusOut
	if err := c.get(ctx, "status", "/api/v1/status", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Panel fetches /api/v1/panel.
func (c *Client) Panel(ctx context.Context) (*PanelState, error) {
	var out PanelState
	if err := c.get(ctx, "panel", "/api/v1/panel", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Circuits fetches /api/v1/circuits.
func (c *Client) Circuits(ctx context.Context) (map[string]Circuit, error) {
	var out CircuitsOut
	if err := c.get(ctx, "circuits", "/api/v1/circuits", &out); err != nil {
		return nil, err
	}
	if out.Circuits == nil {
		out.Circuits = map[string]Circuit{}
	}
	return out.Circuits, nil
}

// BatterySOE fetches /api/v1/storage/soe.
func (c *Client) BatterySOE(ctx context.Context) (*BatteryStorage, error) {
	var out BatteryStorage
	if err := c.get(ctx, "soe", "/api/v1/storage/soe", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetRelay drives the relay of a single circuit.
func (c *Client) SetRelay(ctx context.Context, circuitID string, state RelayState) (*Circuit, error) {
	if !state.Valid() {
		return nil, &PanelError{Sentinel: ErrUpstreamBadResponse, Operation: "set_relay",
			Err: fmt.Errorf("invalid relay state %q", state)}
	}
	var body relayStateIn
	body.RelayStateIn.RelayState = state
	var out Circuit
	if err := c.post(ctx, "set_relay", "/api/v1/circuits/"+url.PathEscape(circuitID), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetPriority changes the load-shedding priority of a single circuit.
func (c *Client) SetPriority(ctx context.Context, circuitID string, prio Priority) (*Circuit, error) {
	if !prio.Valid() {
		return nil, &PanelError{Sentinel: ErrUpstreamBadResponse, Operation: "set_priority",
			Err: fmt.Errorf("invalid priority %q", prio)}
	}
	var body priorityIn
	body.PriorityIn.Priority = prio
	var out Circuit
	if err := c.post(ctx, "set_priority", "/api/v1/circuits/"+url.PathEscape(circuitID), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Register asks the panel for a new access token. The panel only honours
// this after proximity has been proven (door unlock).
func (c *Client) Register(ctx context.Context, name, description string) (*RegisterOut, error) {
	var out RegisterOut
	in := registerIn{Name: name, Description: description}
	if err := c.post(ctx, "register", "/api/v1/auth/register", in, &out); err != nil {
		return nil, err
	}
	if out.AccessToken == "" {
		return nil, &PanelError{Sentinel: ErrUpstreamBadResponse, Operation: "register",
			Err: errors.New("empty access token in response")}
	}
	return &out, nil
}

func (c *Client) get(ctx context.Context, op, path string, out any) error {
	return c.do(ctx, op, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, op, path string, in, out any) error {
	buf, err := json.Marshal(in)
	if err != nil {
		return &PanelError{Sentinel: ErrUpstreamBadResponse, Operation: op, Err: err}
	}
	return c.do(ctx, op, http.MethodPost, path, buf, out)
}

func (c *Client) do(ctx context.Context, op, method, path string, body []byte, out any) error {
	run := func() error { return c.roundTrip(ctx, op, method, path, body, out) }
	if c.breaker != nil {
		return c.breaker.Execute(run)
	}
	return run()
}

func (c *Client) roundTrip(ctx context.Context, op, method, path string, body []byte, out any) error {
	start := time.Now()
	err := c.roundTripInner(ctx, op, method, path, body, out)
	observeRequest(op, time.Since(start), err)
	return err
}

func (c *Client) roundTripInner(ctx context.Context, op, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return &PanelError{Sentinel: ErrUpstreamUnavailable, Operation: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return transportError(op, err)
	}
	defer res.Body.Close() //nolint:errcheck

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return statusError(op, res)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return &PanelError{Sentinel: ErrUpstreamBadResponse, Operation: op, Status: res.StatusCode, Err: err}
	}
	return nil
}

func transportError(op string, err error) error {
	sentinel := ErrUpstreamUnavailable
	var nerr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &nerr) && nerr.Timeout()) {
		sentinel = ErrTimeout
	}
	return &PanelError{Sentinel: sentinel, Operation: op, Err: err}
}

func statusError(op string, res *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(res.Body, errorBodyLimit))

	var sentinel error
	switch {
	case res.StatusCode == http.StatusNotFound:
		sentinel = ErrNotFound
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		sentinel = ErrForbidden
	case res.StatusCode >= 500:
		sentinel = ErrUpstreamError
	default:
		sentinel = ErrUpstreamBadResponse
	}
	return &PanelError{Sentinel: sentinel, Operation: op, Status: res.StatusCode, Body: string(snippet)}
}
