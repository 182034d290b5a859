// Package scheduler resolves the configured searches, fans them out to the
// provider checkers and hands the in-stock results to the notifier.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/lurk/internal/checkers"
	"github.com/JakeFAU/lurk/internal/client"
	"github.com/JakeFAU/lurk/internal/clock/system"
	"github.com/JakeFAU/lurk/internal/dispatcher"
	"github.com/JakeFAU/lurk/internal/id/uuid"
	"github.com/JakeFAU/lurk/internal/lurk"
	"github.com/JakeFAU/lurk/internal/metrics"
)

// TransportFactory opens the transport backing one provider's dispatcher.
type TransportFactory func(provider string) (dispatcher.Transport, error)

// Config carries the search configuration and per-provider client settings.
type Config struct {
	Searches          map[string]lurk.SearchSpec
	Checkers          map[string]lurk.CheckerSpec
	RequestsPerSecond float64
	Window            time.Duration
	Headers           map[string]string
}

// Scheduler runs every enabled search once per Run call. Runs are serialized.
type Scheduler struct {
	cfg        Config
	registry   checkers.Registry
	transports TransportFactory
	notifier   lurk.Notifier
	runs       lurk.RunStore
	dedupe     *Deduper
	ids        lurk.IDGenerator
	clock      lurk.Clock
	logger     *zap.Logger

	mu sync.Mutex
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithRunStore persists a report after every run.
func WithRunStore(store lurk.RunStore) Option {
	return func(s *Scheduler) { s.runs = store }
}

// WithDeduper enables "once" notification mode.
func WithDeduper(d *Deduper) Option {
	return func(s *Scheduler) { s.dedupe = d }
}

// WithIDGenerator overrides the run ID source.
func WithIDGenerator(ids lurk.IDGenerator) Option {
	return func(s *Scheduler) { s.ids = ids }
}

// WithClock overrides the clock used to stamp reports.
func WithClock(c lurk.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// New wires a Scheduler. Without WithDeduper every search behaves as if its
// notify mode were "always".
func New(
	cfg Config,
	registry checkers.Registry,
	transports TransportFactory,
	notifier lurk.Notifier,
	opts ...Option,
) *Scheduler {
	s := &Scheduler{
		cfg:        cfg,
		registry:   registry,
		transports: transports,
		notifier:   notifier,
		ids:        uuid.New(),
		clock:      system.New(),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Plan returns the merged work list without running it.
func (s *Scheduler) Plan() ([]lurk.MergedSearch, error) {
	return Plan(s.cfg.Searches, s.cfg.Checkers, s.registry.Names(), s.logger)
}

type provider struct {
	dispatcher *dispatcher.Dispatcher
	checker    lurk.Checker
}

type searchResult struct {
	search   lurk.MergedSearch
	products []lurk.Product
	err      error
}

// Run executes one full pass. It returns an error when the configuration is
// invalid or every search failed; partial failures are recorded on the
// report only. The report is persisted in every case.
func (s *Scheduler) Run(ctx context.Context) (lurk.RunReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := lurk.RunReport{StartedAt: s.clock.Now()}
	id, err := s.ids.NewID()
	if err != nil {
		return report, fmt.Errorf("allocate run id: %w", err)
	}
	report.ID = id
	logger := s.logger.With(zap.String("run_id", id))
	logger.Info("run started")

	runErr := s.execute(ctx, logger, &report)
	if runErr != nil {
		report.Status = lurk.RunStatusFailed
		report.Errors = append(report.Errors, runErr.Error())
	}
	report.FinishedAt = s.clock.Now()
	metrics.ObserveRun(string(report.Status), report.FinishedAt.Sub(report.StartedAt))

	if s.runs != nil {
		// A canceled run context must not prevent the report from landing.
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		if err := s.runs.SaveRun(saveCtx, report); err != nil {
			logger.Error("save run report failed", zap.Error(err))
		}
		cancel()
	}

	fields := []zap.Field{
		zap.String("status", string(report.Status)),
		zap.Int("searches", report.Searches),
		zap.Int("failed_searches", report.FailedSearches),
		zap.Int("products", report.Products),
		zap.Int("in_stock", report.InStock),
		zap.Int("notified", report.Notified),
	}
	if runErr != nil {
		logger.Error("run failed", append(fields, zap.Error(runErr))...)
	} else {
		logger.Info("run finished", fields...)
	}
	return report, runErr
}

func (s *Scheduler) execute(ctx context.Context, logger *zap.Logger, report *lurk.RunReport) error {
	searches, err := s.Plan()
	if err != nil {
		return err
	}
	report.Searches = len(searches)
	if len(searches) == 0 {
		logger.Warn("no enabled searches")
		report.Status = lurk.RunStatusSucceeded
		return nil
	}

	providers, err := s.openProviders(searches, logger)
	if err != nil {
		return err
	}
	results, joinErr := s.fanOut(ctx, searches, providers, logger)
	s.closeProviders(providers, logger)

	var (
		products []lurk.Product
		failures []error
	)
	for _, r := range results {
		if r.err != nil {
			failures = append(failures, r.err)
			report.Errors = append(report.Errors, r.err.Error())
			continue
		}
		products = append(products, r.products...)
	}
	report.FailedSearches = len(failures)
	report.Products = len(products)
	report.InStock = countInStock(products)

	if len(failures) == len(searches) {
		return fmt.Errorf("all %d searches failed, first: %w", len(searches), joinErr)
	}

	selected := s.selectForNotify(results)
	if len(selected) == 0 {
		logger.Info("nothing to notify")
	} else if err := s.notifier.Notify(ctx, selected); err != nil {
		logger.Error("notification failed", zap.Error(err))
		report.Errors = append(report.Errors, err.Error())
	} else {
		report.Notified = len(selected)
		if s.dedupe != nil {
			s.dedupe.Remember(onceProducts(results, selected))
		}
	}

	report.Status = lurk.RunStatusSucceeded
	if len(report.Errors) > 0 {
		report.Status = lurk.RunStatusPartial
	}
	return nil
}

func (s *Scheduler) openProviders(searches []lurk.MergedSearch, logger *zap.Logger) (map[string]provider, error) {
	providers := make(map[string]provider)
	for _, search := range searches {
		if _, ok := providers[search.Checker]; ok {
			continue
		}
		p, err := s.openProvider(search.Checker, logger)
		if err != nil {
			s.closeProviders(providers, logger)
			return nil, err
		}
		providers[search.Checker] = p
	}
	return providers, nil
}

func (s *Scheduler) openProvider(name string, logger *zap.Logger) (provider, error) {
	tr, err := s.transports(name)
	if err != nil {
		return provider{}, fmt.Errorf("open transport for %s: %w", name, err)
	}
	d, err := dispatcher.New(tr, dispatcher.Config{
		Name:              name,
		RequestsPerSecond: s.cfg.RequestsPerSecond,
		Window:            s.cfg.Window,
		Logger:            logger,
	})
	if err != nil {
		_ = tr.Close()
		return provider{}, err
	}
	chk, err := s.registry.New(name, client.New(name, d, s.cfg.Headers, logger), logger.With(zap.String("checker", name)))
	if err != nil {
		_ = d.Close()
		return provider{}, err
	}
	return provider{dispatcher: d, checker: chk}, nil
}

func (s *Scheduler) closeProviders(providers map[string]provider, logger *zap.Logger) {
	for name, p := range providers {
		if err := p.dispatcher.Close(); err != nil {
			logger.Warn("close dispatcher failed", zap.String("checker", name), zap.Error(err))
		}
	}
}

// fanOut runs every search concurrently and waits for all of them. A failed
// search never cancels its siblings.
func (s *Scheduler) fanOut(
	ctx context.Context,
	searches []lurk.MergedSearch,
	providers map[string]provider,
	logger *zap.Logger,
) ([]searchResult, error) {
	results := make([]searchResult, len(searches))
	var g errgroup.Group
	for i, search := range searches {
		g.Go(func() error {
			products, err := providers[search.Checker].checker.Products(ctx, search.Query, search.Filter)
			if err != nil {
				err = fmt.Errorf("%s/%s: %w", search.Checker, search.SearchID, err)
				logger.Error("search failed",
					zap.String("checker", search.Checker),
					zap.String("search", search.SearchID),
					zap.String("kind", lurk.ErrorKind(err)),
					zap.Error(err))
				metrics.ObserveSearch(search.Checker, "error")
			} else {
				in := countInStock(products)
				metrics.ObserveSearch(search.Checker, "ok")
				metrics.ObserveProducts(search.Checker, in, len(products)-in)
			}
			results[i] = searchResult{search: search, products: products, err: err}
			return err
		})
	}
	err := g.Wait()
	return results, err
}

// selectForNotify returns the in-stock products to report, honoring each
// search's notify mode. Out-of-stock sightings reset "once" suppression.
func (s *Scheduler) selectForNotify(results []searchResult) []lurk.Product {
	var out []lurk.Product
	picked := make(map[string]struct{})
	for _, r := range results {
		if r.err != nil {
			continue
		}
		once := s.dedupe != nil && r.search.Notify == lurk.NotifyOnce
		for _, p := range r.products {
			if !p.InStock {
				if once {
					s.dedupe.Forget(p)
				}
				continue
			}
			if once {
				if _, dup := picked[p.Key()]; dup || s.dedupe.Seen(p) {
					continue
				}
				picked[p.Key()] = struct{}{}
			}
			out = append(out, p)
		}
	}
	return out
}

func onceProducts(results []searchResult, selected []lurk.Product) []lurk.Product {
	once := make(map[string]struct{})
	for _, r := range results {
		if r.err != nil || r.search.Notify != lurk.NotifyOnce {
			continue
		}
		for _, p := range r.products {
			once[p.Key()] = struct{}{}
		}
	}
	var out []lurk.Product
	for _, p := range selected {
		if _, ok := once[p.Key()]; ok {
			out = append(out, p)
		}
	}
	return out
}

func countInStock(products []lurk.Product) int {
	n := 0
	for _, p := range products {
		if p.InStock {
			n++
		}
	}
	return n
}
