package client

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/lurk/internal/dispatcher"
	"github.com/JakeFAU/lurk/internal/lurk"
)

type fakeSubmitter struct {
	mu       sync.Mutex
	requests []dispatcher.Request
	resp     dispatcher.Response
	err      error
}

func (f *fakeSubmitter) Submit(_ context.Context, req dispatcher.Request) (dispatcher.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.resp, f.err
}

func TestClientRequiresBaseURL(t *testing.T) {
	t.Parallel()

	sub := &fakeSubmitter{}
	c := New("shop", sub, nil, nil)

	_, err := c.Get(context.Background(), "/search")
	var cfgErr *lurk.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	require.ErrorIs(t, err, ErrMissingBaseURL)
	require.Empty(t, sub.requests)
}

func TestClientBuildsRequest(t *testing.T) {
	t.Parallel()

	sub := &fakeSubmitter{resp: dispatcher.Response{StatusCode: 200, Body: []byte("<html></html>")}}
	defaults := map[string]string{"User-Agent": "lurk", "accept-language": "en-CA"}
	c := New("shop", sub, defaults, nil).SetBaseURL("https://shop.example.com/")
	require.Equal(t, "https://shop.example.com", c.BaseURL())

	resp, err := c.Post(context.Background(), "Category/VideoCards",
		WithHeaders(map[string]string{"Accept-Language": "fr-CA", "X-Extra": "1"}),
		WithParams(map[string]string{"Search": "4070"}),
		WithBody(map[string]int{"page": 1}),
		WithCookies(map[string]string{"session": "abc"}),
	)
	require.NoError(t, err)
	require.Equal(t, BodyText, resp.Kind)
	require.Equal(t, "<html></html>", resp.Text)
	require.True(t, resp.OK)

	require.Len(t, sub.requests, 1)
	req := sub.requests[0]
	require.Equal(t, "POST", req.Method)
	require.Equal(t, "https://shop.example.com/Category/VideoCards", req.URL)
	require.Equal(t, map[string]string{
		"User-Agent":      "lurk",
		"Accept-Language": "fr-CA",
		"X-Extra":         "1",
	}, req.Headers)
	require.Equal(t, "4070", req.Params["Search"])
	require.Equal(t, map[string]int{"page": 1}, req.Body)
	require.Equal(t, "abc", req.Cookies["session"])

	// Call headers never leak into the defaults.
	_, err = c.Get(context.Background(), "/again")
	require.NoError(t, err)
	require.Equal(t, "en-CA", sub.requests[1].Headers["Accept-Language"])
	require.NotContains(t, sub.requests[1].Headers, "X-Extra")
}

func TestClientDecodesJSON(t *testing.T) {
	t.Parallel()

	sub := &fakeSubmitter{resp: dispatcher.Response{StatusCode: 200, Body: []byte(`{"products":[{"sku":"1"}]}`)}}
	c := New("shop", sub, nil, nil).SetBaseURL("https://shop.example.com")

	resp, err := c.Get(context.Background(), "/api", ExpectJSON())
	require.NoError(t, err)
	require.Equal(t, BodyJSON, resp.Kind)
	require.Len(t, resp.JSON["products"], 1)
	require.Equal(t, `{"products":[{"sku":"1"}]}`, resp.Raw)
}

func TestClientMalformedJSONFallsBack(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"html":  "<html>blocked</html>",
		"array": `[1,2,3]`,
		"null":  `null`,
		"empty": ``,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			sub := &fakeSubmitter{resp: dispatcher.Response{StatusCode: 403, Body: []byte(body)}}
			c := New("shop", sub, nil, nil).SetBaseURL("https://shop.example.com")

			resp, err := c.Get(context.Background(), "/api", ExpectJSON())
			require.NoError(t, err)
			require.Equal(t, BodyJSON, resp.Kind)
			require.NotNil(t, resp.JSON)
			require.Empty(t, resp.JSON)
			require.Equal(t, body, resp.Raw)
			require.False(t, resp.OK)
		})
	}
}

func TestClientPropagatesTransportError(t *testing.T) {
	t.Parallel()

	wantErr := &lurk.TransportError{Err: errors.New("reset")}
	sub := &fakeSubmitter{err: wantErr}
	c := New("shop", sub, nil, nil).SetBaseURL("https://shop.example.com")

	_, err := c.Get(context.Background(), "/api", ExpectJSON())
	require.ErrorIs(t, err, wantErr)
}
