// Package nethttp implements the dispatcher transport on net/http.
package nethttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/JakeFAU/lurk/internal/dispatcher"
	"github.com/JakeFAU/lurk/internal/transport"
)

// Config controls the HTTP client.
type Config struct {
	Timeout   time.Duration
	UserAgent string
	// RoundTripper replaces the pooled transport, mainly for tests.
	RoundTripper http.RoundTripper
}

// Transport issues requests through a dedicated http.Client.
type Transport struct {
	client    *http.Client
	userAgent string
}

// New builds a Transport with its own connection pool.
func New(cfg Config) *Transport {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = transport.DefaultTimeout
	}
	rt := cfg.RoundTripper
	if rt == nil {
		rt = transport.NewHTTPTransport()
	}
	return &Transport{
		client:    &http.Client{Timeout: timeout, Transport: rt},
		userAgent: cfg.UserAgent,
	}
}

// Do performs one exchange and reads the full body.
func (t *Transport) Do(ctx context.Context, req dispatcher.Request) (dispatcher.Response, error) {
	target, err := transport.WithParams(req.URL, req.Params)
	if err != nil {
		return dispatcher.Response{}, fmt.Errorf("build url: %w", err)
	}
	var body io.Reader
	if req.Body != nil {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return dispatcher.Response{}, fmt.Errorf("marshal body: %w", err)
		}
		body = bytes.NewReader(payload)
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return dispatcher.Response{}, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if t.userAgent != "" {
		httpReq.Header.Set("User-Agent", t.userAgent)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if cookie := transport.CookieHeader(req.Cookies); cookie != "" {
		httpReq.Header.Set("Cookie", cookie)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return dispatcher.Response{}, fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // body already consumed

	data, err := io.ReadAll(io.LimitReader(resp.Body, transport.MaxBodyBytes))
	if err != nil {
		return dispatcher.Response{}, fmt.Errorf("read body: %w", err)
	}
	return dispatcher.Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       data,
	}, nil
}

// Close drops idle pooled connections.
func (t *Transport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}
