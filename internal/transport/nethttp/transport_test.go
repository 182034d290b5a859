package nethttp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/lurk/internal/dispatcher"
)

func TestTransportDoGet(t *testing.T) {
	t.Parallel()

	mock := httpmock.NewMockTransport()
	mock.RegisterResponder(http.MethodGet, "https://shop.example.com/api/search",
		func(req *http.Request) (*http.Response, error) {
			require.Equal(t, "rtx", req.URL.Query().Get("query"))
			require.Equal(t, "en-CA", req.Header.Get("Accept-Language"))
			require.Equal(t, "lurk-test", req.Header.Get("User-Agent"))
			require.Equal(t, "session=abc", req.Header.Get("Cookie"))
			resp := httpmock.NewStringResponse(http.StatusOK, `{"products":[]}`)
			resp.Header.Set("Content-Type", "application/json")
			return resp, nil
		})

	tr := New(Config{RoundTripper: mock, UserAgent: "lurk-test"})
	resp, err := tr.Do(context.Background(), dispatcher.Request{
		Method:  http.MethodGet,
		URL:     "https://shop.example.com/api/search",
		Params:  map[string]string{"query": "rtx"},
		Headers: map[string]string{"accept-language": "en-CA"},
		Cookies: map[string]string{"session": "abc"},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"products":[]}`, string(resp.Body))
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.Equal(t, 1, mock.GetTotalCallCount())
	require.NoError(t, tr.Close())
}

func TestTransportDoPostJSONBody(t *testing.T) {
	t.Parallel()

	mock := httpmock.NewMockTransport()
	mock.RegisterResponder(http.MethodPost, "https://api.example.com/send",
		func(req *http.Request) (*http.Response, error) {
			require.Equal(t, "application/json", req.Header.Get("Content-Type"))
			raw, err := io.ReadAll(req.Body)
			require.NoError(t, err)
			var payload map[string]any
			require.NoError(t, json.Unmarshal(raw, &payload))
			require.Equal(t, "hello", payload["text"])
			return httpmock.NewStringResponse(http.StatusCreated, "created"), nil
		})

	tr := New(Config{RoundTripper: mock})
	resp, err := tr.Do(context.Background(), dispatcher.Request{
		Method: http.MethodPost,
		URL:    "https://api.example.com/send",
		Body:   map[string]string{"text": "hello"},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, "created", string(resp.Body))
}

func TestTransportPassesThroughErrorStatus(t *testing.T) {
	t.Parallel()

	mock := httpmock.NewMockTransport()
	mock.RegisterResponder(http.MethodGet, "https://api.example.com/missing",
		httpmock.NewStringResponder(http.StatusNotFound, "nope"))

	resp, err := New(Config{RoundTripper: mock}).Do(context.Background(), dispatcher.Request{
		URL: "https://api.example.com/missing",
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTransportNetworkError(t *testing.T) {
	t.Parallel()

	mock := httpmock.NewMockTransport()
	mock.RegisterResponder(http.MethodGet, "https://api.example.com/down",
		httpmock.NewErrorResponder(errors.New("connection refused")))

	_, err := New(Config{RoundTripper: mock}).Do(context.Background(), dispatcher.Request{
		Method: http.MethodGet,
		URL:    "https://api.example.com/down",
	})
	require.ErrorContains(t, err, "connection refused")
}
