// Package collytransport implements the dispatcher transport on gocolly.
package collytransport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/lurk/internal/dispatcher"
	"github.com/JakeFAU/lurk/internal/transport"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// RoundTripper replaces the pooled transport, mainly for tests.
	RoundTripper http.RoundTripper
}

// Transport issues each request through a clone of one base collector, so
// all requests share a connection pool.
type Transport struct {
	base *colly.Collector
	rt   http.RoundTripper
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Transport.
func New(cfg Config) *Transport {
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	)
	c.ParseHTTPErrorResponse = true
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	rt := cfg.RoundTripper
	if rt == nil {
		rt = transport.NewHTTPTransport()
	}
	c.WithTransport(rt)
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = transport.DefaultTimeout
	}
	c.SetRequestTimeout(timeout)
	return &Transport{base: c, rt: rt}
}

// Do executes one request with a cloned collector.
func (t *Transport) Do(ctx context.Context, req dispatcher.Request) (dispatcher.Response, error) {
	target, err := transport.WithParams(req.URL, req.Params)
	if err != nil {
		return dispatcher.Response{}, fmt.Errorf("build url: %w", err)
	}
	hdr := http.Header{}
	var body io.Reader
	if req.Body != nil {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return dispatcher.Response{}, fmt.Errorf("marshal body: %w", err)
		}
		body = bytes.NewReader(payload)
		hdr.Set("Content-Type", "application/json")
	}
	for k, v := range req.Headers {
		hdr.Set(k, v)
	}
	if cookie := transport.CookieHeader(req.Cookies); cookie != "" {
		hdr.Set("Cookie", cookie)
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var (
		result   dispatcher.Response
		fetchErr error
	)
	collector := t.base.Clone()
	configureHooks(collector, &result, &fetchErr)

	done := make(chan error, 1)
	go func() {
		done <- collector.Request(method, target, body, colly.NewContext(), hdr)
	}()

	select {
	case <-ctx.Done():
		return dispatcher.Response{}, fmt.Errorf("colly request canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return dispatcher.Response{}, fmt.Errorf("colly request failed: %w", err)
		}
		if fetchErr != nil {
			return dispatcher.Response{}, fmt.Errorf("colly response failed: %w", fetchErr)
		}
		return result, nil
	}
}

func configureHooks(hooks collectorHooks, result *dispatcher.Response, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		var header http.Header
		if r.Headers != nil {
			header = r.Headers.Clone()
		}
		*result = dispatcher.Response{
			StatusCode: r.StatusCode,
			Header:     header,
			Body:       append([]byte(nil), r.Body...),
		}
	})
	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

// Close drops idle pooled connections.
func (t *Transport) Close() error {
	if ci, ok := t.rt.(interface{ CloseIdleConnections() }); ok {
		ci.CloseIdleConnections()
	}
	return nil
}
