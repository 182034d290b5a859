// Package transport holds helpers shared by the dispatcher transports.
package transport

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout bounds a single outbound exchange when none is configured.
const DefaultTimeout = 15 * time.Second

// MaxBodyBytes caps how much of a response body is read.
const MaxBodyBytes = 10 << 20

// NewHTTPTransport returns a pooled transport honoring proxy settings from
// the environment.
func NewHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
	}
}

// WithParams merges params into the query string of rawURL.
func WithParams(rawURL string, params map[string]string) (string, error) {
	if len(params) == 0 {
		return rawURL, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// CookieHeader renders cookies as a single Cookie header value.
func CookieHeader(cookies map[string]string) string {
	if len(cookies) == 0 {
		return ""
	}
	parts := make([]string, 0, len(cookies))
	for name, value := range cookies {
		parts = append(parts, (&http.Cookie{Name: name, Value: value}).String())
	}
	return strings.Join(parts, "; ")
}
