// Package dispatcher throttles outbound requests for one provider. Callers
// submit requests from any goroutine; a single background loop drains them in
// fixed-size batches, at most one batch per window.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/lurk/internal/lurk"
	"github.com/JakeFAU/lurk/internal/metrics"
	"github.com/JakeFAU/lurk/internal/queue/memory"
)

const (
	defaultWindow       = time.Second
	defaultIdleInterval = 50 * time.Millisecond
	backlogLogInterval  = 10 * time.Second
)

// ErrClosed is returned for requests submitted to, or still queued in, a
// closed dispatcher.
var ErrClosed = errors.New("dispatcher closed")

// Request is one outbound HTTP exchange. URL is absolute.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Params  map[string]string
	Body    any
	Cookies map[string]string
}

// Response is the raw transport result.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Transport performs a single request.
type Transport interface {
	Do(ctx context.Context, req Request) (Response, error)
	Close() error
}

// Config controls the rate budget and loop timing.
//   - Name: provider label used in logs and metrics.
//   - RequestsPerSecond: budget R; each window starts at most floor(R) requests.
//     Budgets below one widen the window to 1/R seconds with batches of one.
//   - Window: batch spacing (default 1s).
//   - IdleInterval: poll interval while the queue is empty (default 50ms).
type Config struct {
	Name              string
	RequestsPerSecond float64
	Window            time.Duration
	IdleInterval      time.Duration
	Logger            *zap.Logger
}

// Dispatcher executes queued requests in throttled batches.
type Dispatcher struct {
	name      string
	transport Transport
	batchSize int
	window    time.Duration
	idle      time.Duration
	queue     *memory.FIFO[*pending]
	logger    *zap.Logger
	backlog   rate.Sometimes

	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

type pending struct {
	ctx  context.Context
	req  Request
	done chan result
}

type result struct {
	resp Response
	err  error
}

// New validates cfg and starts the batching loop.
func New(transport Transport, cfg Config) (*Dispatcher, error) {
	if transport == nil {
		return nil, lurk.Configf("dispatcher %q: transport is required", cfg.Name)
	}
	if cfg.RequestsPerSecond <= 0 || math.IsNaN(cfg.RequestsPerSecond) || math.IsInf(cfg.RequestsPerSecond, 0) {
		return nil, lurk.Configf("dispatcher %q: requests per second must be > 0, got %v", cfg.Name, cfg.RequestsPerSecond)
	}
	if cfg.Window <= 0 {
		cfg.Window = defaultWindow
	}
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = defaultIdleInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	batchSize := int(math.Floor(cfg.RequestsPerSecond))
	window := cfg.Window
	if batchSize < 1 {
		batchSize = 1
		window = time.Duration(float64(cfg.Window) / cfg.RequestsPerSecond)
	}

	d := &Dispatcher{
		name:      cfg.Name,
		transport: transport,
		batchSize: batchSize,
		window:    window,
		idle:      cfg.IdleInterval,
		queue:     memory.NewFIFO[*pending](),
		logger:    logger.With(zap.String("provider", cfg.Name)),
		backlog:   rate.Sometimes{Interval: backlogLogInterval},
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	go d.run()
	return d, nil
}

// BatchSize reports the number of requests started per window.
func (d *Dispatcher) BatchSize() int {
	return d.batchSize
}

// Submit enqueues req and blocks until it completes or ctx ends. A request
// abandoned through ctx still runs when its batch comes up.
func (d *Dispatcher) Submit(ctx context.Context, req Request) (Response, error) {
	p := &pending{ctx: ctx, req: req, done: make(chan result, 1)}
	if err := d.queue.Push(p); err != nil {
		return Response{}, ErrClosed
	}
	select {
	case <-ctx.Done():
		return Response{}, fmt.Errorf("await %s %s: %w", req.Method, req.URL, ctx.Err())
	case res := <-p.done:
		return res.resp, res.err
	}
}

// Close stops the loop, fails anything still queued with ErrClosed, and
// closes the transport. An in-flight batch is allowed to finish. Only the
// first call has an effect.
func (d *Dispatcher) Close() error {
	var err error
	d.closeOnce.Do(func() {
		close(d.stopCh)
		<-d.doneCh
		rest := d.queue.Close()
		for _, p := range rest {
			p.done <- result{err: ErrClosed}
		}
		if len(rest) > 0 {
			d.logger.Warn("dispatcher closed with queued requests", zap.Int("dropped", len(rest)))
		}
		metrics.SetQueueDepth(d.name, 0)
		if cerr := d.transport.Close(); cerr != nil {
			err = fmt.Errorf("close transport: %w", cerr)
		}
	})
	return err
}

func (d *Dispatcher) run() {
	defer close(d.doneCh)
	ticker := time.NewTicker(d.idle)
	defer ticker.Stop()

	for {
		batch := d.queue.PopN(d.batchSize)
		waiting := d.queue.Len()
		metrics.SetQueueDepth(d.name, waiting)
		if len(batch) == 0 {
			select {
			case <-d.stopCh:
				return
			case <-d.queue.Ready():
			case <-ticker.C:
			}
			continue
		}
		if waiting > 0 {
			d.backlog.Do(func() {
				d.logger.Info("dispatcher backlog", zap.Int("queued", waiting), zap.Int("batch_size", d.batchSize))
			})
		}

		started := time.Now()
		d.execute(batch)
		if !d.pause(d.window - time.Since(started)) {
			return
		}
	}
}

func (d *Dispatcher) execute(batch []*pending) {
	metrics.ObserveBatch(d.name, len(batch))
	d.logger.Debug("dispatching batch", zap.Int("size", len(batch)))

	var wg sync.WaitGroup
	for _, p := range batch {
		wg.Add(1)
		go func(p *pending) {
			defer wg.Done()
			p.done <- d.do(p)
		}(p)
	}
	wg.Wait()
}

func (d *Dispatcher) do(p *pending) (res result) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			res = result{err: &lurk.TransportError{Err: fmt.Errorf("%s %s: panic: %v", p.req.Method, p.req.URL, rec)}}
		}
		outcome := "ok"
		if res.err != nil {
			outcome = "error"
		}
		metrics.ObserveDispatch(d.name, outcome, time.Since(start))
	}()

	resp, err := d.transport.Do(p.ctx, p.req)
	if err != nil {
		d.logger.Warn("request failed",
			zap.String("method", p.req.Method),
			zap.String("url", p.req.URL),
			zap.Error(err),
		)
		return result{err: &lurk.TransportError{Err: fmt.Errorf("%s %s: %w", p.req.Method, p.req.URL, err)}}
	}
	return result{resp: resp}
}

// pause sleeps for wait unless Close is called first. It reports whether the
// loop should keep going.
func (d *Dispatcher) pause(wait time.Duration) bool {
	if wait <= 0 {
		select {
		case <-d.stopCh:
			return false
		default:
			return true
		}
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-d.stopCh:
		return false
	case <-timer.C:
		return true
	}
}
