// Package client binds a dispatcher to one provider's base URL and decodes
// response bodies.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/lurk/internal/dispatcher"
	"github.com/JakeFAU/lurk/internal/lurk"
	"github.com/JakeFAU/lurk/internal/metrics"
)

// ErrMissingBaseURL is wrapped in a ConfigurationError when a call is made
// before SetBaseURL.
var ErrMissingBaseURL = errors.New("base url is not set")

const logBodyPreview = 200

// Submitter is the subset of the dispatcher used by Client.
type Submitter interface {
	Submit(ctx context.Context, req dispatcher.Request) (dispatcher.Response, error)
}

// BodyKind tags which decoded body field of a Response is populated.
type BodyKind int

// Body kinds.
const (
	BodyText BodyKind = iota
	BodyJSON
)

// Response is a decoded provider response.
type Response struct {
	StatusCode int
	OK         bool
	Kind       BodyKind
	// JSON holds the decoded object when Kind is BodyJSON. It is empty, never
	// nil, when the body was not valid JSON.
	JSON map[string]any
	// Text holds the body when Kind is BodyText.
	Text string
	Raw  string
}

// Client issues provider calls through a shared dispatcher.
type Client struct {
	name    string
	submit  Submitter
	baseURL string
	headers map[string]string
	logger  *zap.Logger
}

// New creates a Client. name labels logs and metrics; headers are sent with
// every call unless a call overrides them.
func New(name string, submit Submitter, headers map[string]string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := make(map[string]string, len(headers))
	for k, v := range headers {
		defaults[http.CanonicalHeaderKey(k)] = v
	}
	return &Client{
		name:    name,
		submit:  submit,
		headers: defaults,
		logger:  logger.With(zap.String("provider", name)),
	}
}

// SetBaseURL binds the client to a provider origin. Trailing slashes are
// dropped.
func (c *Client) SetBaseURL(u string) *Client {
	c.baseURL = strings.TrimRight(u, "/")
	return c
}

// BaseURL returns the bound origin.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type call struct {
	headers    map[string]string
	params     map[string]string
	body       any
	cookies    map[string]string
	expectJSON bool
}

// Option customizes a single call.
type Option func(*call)

// WithHeaders adds call headers; they win over the client defaults.
func WithHeaders(h map[string]string) Option {
	return func(c *call) { c.headers = h }
}

// WithParams sets query parameters.
func WithParams(p map[string]string) Option {
	return func(c *call) { c.params = p }
}

// WithBody sets a JSON request body.
func WithBody(body any) Option {
	return func(c *call) { c.body = body }
}

// WithCookies sets request cookies.
func WithCookies(cookies map[string]string) Option {
	return func(c *call) { c.cookies = cookies }
}

// ExpectJSON decodes the body as a JSON object.
func ExpectJSON() Option {
	return func(c *call) { c.expectJSON = true }
}

// Get issues a GET for route.
func (c *Client) Get(ctx context.Context, route string, opts ...Option) (Response, error) {
	return c.do(ctx, http.MethodGet, route, opts)
}

// Post issues a POST for route.
func (c *Client) Post(ctx context.Context, route string, opts ...Option) (Response, error) {
	return c.do(ctx, http.MethodPost, route, opts)
}

func (c *Client) do(ctx context.Context, method, route string, opts []Option) (Response, error) {
	if c.baseURL == "" {
		return Response{}, &lurk.ConfigurationError{Err: fmt.Errorf("%s: %w", c.name, ErrMissingBaseURL)}
	}
	var cl call
	for _, opt := range opts {
		opt(&cl)
	}
	if !strings.HasPrefix(route, "/") {
		route = "/" + route
	}

	req := dispatcher.Request{
		Method:  method,
		URL:     c.baseURL + route,
		Headers: c.mergeHeaders(cl.headers),
		Params:  cl.params,
		Body:    cl.body,
		Cookies: cl.cookies,
	}
	c.logger.Debug("submitting request",
		zap.String("method", method),
		zap.String("url", req.URL),
		zap.Any("params", cl.params),
	)
	raw, err := c.submit.Submit(ctx, req)
	if err != nil {
		return Response{}, err
	}
	c.logger.Debug("received response", zap.String("url", req.URL), zap.Int("status", raw.StatusCode))

	resp := Response{
		StatusCode: raw.StatusCode,
		OK:         raw.StatusCode >= 200 && raw.StatusCode < 300,
		Raw:        string(raw.Body),
	}
	if !cl.expectJSON {
		resp.Kind = BodyText
		resp.Text = resp.Raw
		return resp, nil
	}
	resp.Kind = BodyJSON
	resp.JSON = c.decode(req.URL, raw.Body)
	return resp, nil
}

// mergeHeaders copies the defaults and overlays call headers.
func (c *Client) mergeHeaders(call map[string]string) map[string]string {
	out := make(map[string]string, len(c.headers)+len(call))
	for k, v := range c.headers {
		out[k] = v
	}
	for k, v := range call {
		out[http.CanonicalHeaderKey(k)] = v
	}
	return out
}

func (c *Client) decode(url string, body []byte) map[string]any {
	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil || data == nil {
		if err == nil {
			err = errors.New("body is not a JSON object")
		}
		metrics.ObserveDecodeError(c.name)
		c.logger.Warn("expected JSON response",
			zap.String("url", url),
			zap.Error(&lurk.DecodeError{Err: err}),
			zap.String("body", preview(body)),
		)
		return map[string]any{}
	}
	return data
}

func preview(body []byte) string {
	if len(body) <= logBodyPreview {
		return string(body)
	}
	return string(body[:logBodyPreview]) + "..."
}
