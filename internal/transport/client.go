// Package transport is the HTTP client every backend call goes through.
// It attaches the bearer token, tags requests with an id, logs round trips
// and turns non-2xx replies into errs.APIError. A 401 reply triggers the
// configured unauthorized handler before the error is returned.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/buyvia/internal/errs"
)

// RequestIDHeader carries the per-request correlation id.
const RequestIDHeader = "X-Request-ID"

const maxBody = 8 << 20

// TokenSource yields the current bearer token; "" means logged out.
type TokenSource interface {
	Token() string
}

// Request describes one backend call. Path is joined to the base URL unless URL is set.
type Request struct {
	Method string
	Path   string
	URL    string
	Query  url.Values
	JSON   any
	Form   url.Values
	Auth   bool
}

// Response is a fully read backend reply.
type Response struct {
	Status    int
	Header    http.Header
	Body      []byte
	RequestID string
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	if len(r.Body) == 0 {
		return fmt.Errorf("decode: empty body (status %d)", r.Status)
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

// Client wraps http.Client with auth, logging and error mapping.
type Client struct {
	base           *url.URL
	hc             *http.Client
	log            *zap.Logger
	tokens         TokenSource
	onUnauthorized func()
}

// Option configures Client.
type Option func(*Client)

// WithHTTPClient sets the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.hc = hc } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(c *Client) { c.log = l } }

// WithTokenSource sets where bearer tokens are read from on every request.
func WithTokenSource(ts TokenSource) Option { return func(c *Client) { c.tokens = ts } }

// WithUnauthorizedHandler sets the hook invoked on every 401 reply.
func WithUnauthorizedHandler(fn func()) Option { return func(c *Client) { c.onUnauthorized = fn } }

// New constructs a Client for baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url: %q must be absolute", baseURL)
	}
	c := &Client{base: u, hc: http.DefaultClient, log: zap.NewNop()}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// URL returns the absolute URL for path with query q.
func (c *Client) URL(path string, q url.Values) string {
	u := *c.base
	u.Path = c.base.Path + "/" + strings.TrimLeft(path, "/")
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// Do performs req. On a non-2xx reply it returns both the response and an *errs.APIError.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	target := req.URL
	if target == "" {
		target = c.URL(req.Path, req.Query)
	}

	var (
		body        io.Reader
		contentType string
	)
	switch {
	case req.JSON != nil:
		b, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, fmt.Errorf("encode: %w", err)
		}
		body, contentType = bytes.NewReader(b), "application/json"
	case req.Form != nil:
		body, contentType = strings.NewReader(req.Form.Encode()), "application/x-www-form-urlencoded"
	}

	hr, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		hr.Header.Set("Content-Type", contentType)
	}
	hr.Header.Set("Accept", "application/json")

	if req.Auth {
		tok := ""
		if c.tokens != nil {
			tok = c.tokens.Token()
		}
		if tok == "" {
			return nil, fmt.Errorf("%s %s: %w: not logged in", method, hr.URL.Path, errs.ErrUnauthorized)
		}
		hr.Header.Set("Authorization", "Bearer "+tok)
	}

	rid, ok := RequestIDFromCtx(ctx)
	if !ok {
		rid = uuid.Must(uuid.NewV4()).String()
	}
	hr.Header.Set(RequestIDHeader, rid)

	start := time.Now()
	hresp, err := c.hc.Do(hr)
	if err != nil {
		c.log.Warn("http",
			zap.String("method", method),
			zap.String("path", hr.URL.Path),
			zap.String("request_id", rid),
			zap.Duration("dur", time.Since(start)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%s %s: %w", method, hr.URL.Path, err)
	}
	defer hresp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(hresp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("%s %s: read body: %w", method, hr.URL.Path, err)
	}

	// metadata only, never payloads or tokens
	c.log.Info("http",
		zap.String("method", method),
		zap.String("path", hr.URL.Path),
		zap.Int("status", hresp.StatusCode),
		zap.String("request_id", rid),
		zap.Duration("dur", time.Since(start)),
	)

	resp := &Response{Status: hresp.StatusCode, Header: hresp.Header, Body: raw, RequestID: rid}
	if hresp.StatusCode >= 200 && hresp.StatusCode < 300 {
		return resp, nil
	}
	if hresp.StatusCode == http.StatusUnauthorized && c.onUnauthorized != nil {
		c.onUnauthorized()
	}
	return resp, errs.FromStatus(hresp.StatusCode, detailOf(raw))
}

// Fetch issues an unauthenticated GET of an absolute URL.
func (c *Client) Fetch(ctx context.Context, rawURL string) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, URL: rawURL})
}

// GetJSON performs a GET and decodes the reply into out.
func (c *Client) GetJSON(ctx context.Context, path string, q url.Values, auth bool, out any) error {
	resp, err := c.Do(ctx, Request{Method: http.MethodGet, Path: path, Query: q, Auth: auth})
	if err != nil {
		return err
	}
	return resp.Decode(out)
}

// PostJSON sends in as a JSON body and decodes the reply into out when out is non-nil.
func (c *Client) PostJSON(ctx context.Context, path string, in any, auth bool, out any) error {
	return c.sendJSON(ctx, http.MethodPost, path, in, auth, out)
}

// PutJSON sends in as a JSON body and decodes the reply into out when out is non-nil.
func (c *Client) PutJSON(ctx context.Context, path string, in any, auth bool, out any) error {
	return c.sendJSON(ctx, http.MethodPut, path, in, auth, out)
}

// PostForm sends a form-encoded body and decodes the reply into out.
func (c *Client) PostForm(ctx context.Context, path string, form url.Values, out any) error {
	resp, err := c.Do(ctx, Request{Method: http.MethodPost, Path: path, Form: form})
	if err != nil {
		return err
	}
	return resp.Decode(out)
}

// Delete performs an authenticated DELETE.
func (c *Client) Delete(ctx context.Context, path string) error {
	_, err := c.Do(ctx, Request{Method: http.MethodDelete, Path: path, Auth: true})
	return err
}

func (c *Client) sendJSON(ctx context.Context, method, path string, in any, auth bool, out any) error {
	resp, err := c.Do(ctx, Request{Method: method, Path: path, JSON: in, Auth: auth})
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return resp.Decode(out)
}

// detailOf extracts the backend "detail" field: either a string or a list of {msg} objects.
func detailOf(body []byte) string {
	var env struct {
		Detail json.RawMessage `json:"detail"`
	}
	if json.Unmarshal(body, &env) != nil || len(env.Detail) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(env.Detail, &s) == nil {
		return s
	}
	var list []struct {
		Msg string `json:"msg"`
	}
	if json.Unmarshal(env.Detail, &list) == nil && len(list) > 0 {
		msgs := make([]string, 0, len(list))
		for _, m := range list {
			if m.Msg != "" {
				msgs = append(msgs, m.Msg)
			}
		}
		return strings.Join(msgs, "; ")
	}
	return ""
}
