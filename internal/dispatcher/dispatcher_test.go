package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/lurk/internal/lurk"
)

type fakeTransport struct {
	mu     sync.Mutex
	starts []time.Time
	closes atomic.Int32
	do     func(ctx context.Context, req Request) (Response, error)
}

func (f *fakeTransport) Do(ctx context.Context, req Request) (Response, error) {
	f.mu.Lock()
	f.starts = append(f.starts, time.Now())
	f.mu.Unlock()
	if f.do != nil {
		return f.do(ctx, req)
	}
	return Response{StatusCode: 200, Body: []byte(req.URL)}, nil
}

func (f *fakeTransport) Close() error {
	f.closes.Add(1)
	return nil
}

func (f *fakeTransport) startTimes() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]time.Time(nil), f.starts...)
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func TestNewRejectsNonPositiveRate(t *testing.T) {
	t.Parallel()

	for _, rps := range []float64{0, -1, -0.5} {
		t.Run(fmt.Sprint(rps), func(t *testing.T) {
			t.Parallel()
			d, err := New(&fakeTransport{}, Config{Name: "test", RequestsPerSecond: rps})
			require.Nil(t, d)
			var cfgErr *lurk.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
		})
	}
}

func TestNewRequiresTransport(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{RequestsPerSecond: 1})
	var cfgErr *lurk.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestBatchSizeFromRate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		rps        float64
		wantBatch  int
		wantWindow time.Duration
	}{
		{rps: 10, wantBatch: 10, wantWindow: time.Second},
		{rps: 2.9, wantBatch: 2, wantWindow: time.Second},
		{rps: 0.5, wantBatch: 1, wantWindow: 2 * time.Second},
	}
	for _, tc := range cases {
		d, err := New(&fakeTransport{}, Config{Name: "batch", RequestsPerSecond: tc.rps})
		require.NoError(t, err)
		require.Equal(t, tc.wantBatch, d.BatchSize())
		require.Equal(t, tc.wantWindow, d.window)
		require.NoError(t, d.Close())
	}
}

func TestDispatcherRespectsRateBudget(t *testing.T) {
	t.Parallel()

	const (
		rps    = 3
		total  = 10
		window = 100 * time.Millisecond
		slack  = 20 * time.Millisecond
	)
	transport := &fakeTransport{}
	d, err := New(transport, Config{Name: "rate", RequestsPerSecond: rps, Window: window})
	require.NoError(t, err)
	defer func() { require.NoError(t, d.Close()) }()

	start := time.Now()
	var wg sync.WaitGroup
	errs := make(chan error, total)
	for i := range total {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := d.Submit(context.Background(), Request{Method: "GET", URL: fmt.Sprintf("https://example.com/%d", i)})
			if err != nil {
				errs <- err
				return
			}
			if string(resp.Body) != fmt.Sprintf("https://example.com/%d", i) {
				errs <- fmt.Errorf("request %d got response %q", i, resp.Body)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	starts := transport.startTimes()
	require.Len(t, starts, total)
	// Any rps+1 consecutive starts must span at least one window.
	for i := 0; i+rps < len(starts); i++ {
		gap := starts[i+rps].Sub(starts[i])
		require.GreaterOrEqual(t, gap, window-slack, "starts %d and %d only %v apart", i, i+rps, gap)
	}
	// Ten requests at three per window need four batches.
	require.GreaterOrEqual(t, time.Since(start), 3*window-slack)
}

func TestDispatcherIsolatesFailures(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{
		do: func(_ context.Context, req Request) (Response, error) {
			if req.URL == "bad" {
				return Response{}, errors.New("connection reset")
			}
			return Response{StatusCode: 200}, nil
		},
	}
	d, err := New(transport, Config{Name: "isolation", RequestsPerSecond: 10, Window: 10 * time.Millisecond})
	require.NoError(t, err)
	defer func() { require.NoError(t, d.Close()) }()

	urls := []string{"good-1", "bad", "good-2"}
	results := make([]error, len(urls))
	var wg sync.WaitGroup
	for i, u := range urls {
		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()
			_, results[i] = d.Submit(context.Background(), Request{Method: "GET", URL: u})
		}(i, u)
	}
	wg.Wait()

	require.NoError(t, results[0])
	require.NoError(t, results[2])
	var transportErr *lurk.TransportError
	require.ErrorAs(t, results[1], &transportErr)
	require.Contains(t, results[1].Error(), "connection reset")
}

func TestDispatcherRecoversTransportPanic(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{
		do: func(context.Context, Request) (Response, error) {
			panic("boom")
		},
	}
	d, err := New(transport, Config{Name: "panic", RequestsPerSecond: 1, Window: 10 * time.Millisecond})
	require.NoError(t, err)
	defer func() { require.NoError(t, d.Close()) }()

	_, err = d.Submit(context.Background(), Request{Method: "GET", URL: "x"})
	var transportErr *lurk.TransportError
	require.ErrorAs(t, err, &transportErr)
	require.Contains(t, err.Error(), "panic: boom")
}

func TestDispatcherCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{}
	d, err := New(transport, Config{Name: "close", RequestsPerSecond: 5})
	require.NoError(t, err)

	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
	require.Equal(t, int32(1), transport.closes.Load())

	_, err = d.Submit(context.Background(), Request{Method: "GET", URL: "late"})
	require.ErrorIs(t, err, ErrClosed)
}

func TestDispatcherCloseFailsQueuedRequests(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{}
	d, err := New(transport, Config{Name: "queued", RequestsPerSecond: 1, Window: time.Hour})
	require.NoError(t, err)

	// The first request runs immediately; the loop then sleeps for the window.
	_, err = d.Submit(context.Background(), Request{Method: "GET", URL: "first"})
	require.NoError(t, err)

	queued := make(chan error, 1)
	go func() {
		_, err := d.Submit(context.Background(), Request{Method: "GET", URL: "second"})
		queued <- err
	}()
	require.Eventually(t, func() bool { return d.queue.Len() == 1 }, time.Second, 5*time.Millisecond)

	closed := make(chan error, 1)
	go func() { closed <- d.Close() }()
	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("close did not interrupt the window sleep")
	}
	require.ErrorIs(t, <-queued, ErrClosed)
	require.Len(t, transport.startTimes(), 1)
}

func TestSubmitHonorsCallerContext(t *testing.T) {
	t.Parallel()

	d, err := New(&fakeTransport{}, Config{Name: "ctx", RequestsPerSecond: 1, Window: time.Hour})
	require.NoError(t, err)
	defer func() { require.NoError(t, d.Close()) }()

	_, err = d.Submit(context.Background(), Request{Method: "GET", URL: "first"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = d.Submit(ctx, Request{Method: "GET", URL: "second"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
