// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/lurk/internal/checkers"
	"github.com/JakeFAU/lurk/internal/config"
	"github.com/JakeFAU/lurk/internal/dispatcher"
	"github.com/JakeFAU/lurk/internal/logging"
	"github.com/JakeFAU/lurk/internal/lurk"
	"github.com/JakeFAU/lurk/internal/notify"
	"github.com/JakeFAU/lurk/internal/scheduler"
	"github.com/JakeFAU/lurk/internal/storage/memory"
	"github.com/JakeFAU/lurk/internal/storage/postgres"
	collytransport "github.com/JakeFAU/lurk/internal/transport/colly"
	"github.com/JakeFAU/lurk/internal/transport/nethttp"
)

// runStore is a lurk.RunStore that owns a connection.
type runStore interface {
	lurk.RunStore
	Close()
}

// App holds all the shared, long-lived services for the application.
// It is built once per command from the loaded configuration and closed by a
// Cobra hook when the command finishes.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	runs      runStore
	notifier  *notify.Multi
	scheduler *scheduler.Scheduler
}

type options struct {
	logger       *zap.Logger
	roundTripper http.RoundTripper
	registry     checkers.Registry
	sinks        []notify.Sink
}

// Option customizes New, mainly for tests.
type Option func(*options)

// WithLogger skips building a logger from the logging section.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRoundTripper routes every outbound request through rt.
func WithRoundTripper(rt http.RoundTripper) Option {
	return func(o *options) { o.roundTripper = rt }
}

// WithRegistry replaces the built-in checkers.
func WithRegistry(r checkers.Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithSinks replaces the configured notification sinks.
func WithSinks(sinks ...notify.Sink) Option {
	return func(o *options) { o.sinks = sinks }
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Runs returns the run history store, or nil when history is disabled.
func (a *App) Runs() lurk.RunStore {
	if a.runs == nil {
		return nil
	}
	return a.runs
}

// Notifier exposes the fan-out notifier.
func (a *App) Notifier() *notify.Multi {
	return a.notifier
}

// Scheduler returns the configured scheduler.
func (a *App) Scheduler() *scheduler.Scheduler {
	return a.scheduler
}

// New creates and initializes an App from cfg. It fails fast if any enabled
// service cannot be initialized and releases whatever it already opened.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	o := options{registry: checkers.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		var err error
		logger, err = logging.New(cfg.Logging.Development, cfg.Logging.Level)
		if err != nil {
			return nil, fmt.Errorf("init logger: %w", err)
		}
	}
	logger.Info("initializing application services")

	a := &App{cfg: cfg, logger: logger}

	runs, err := newRunStore(ctx, cfg.History, logger)
	if err != nil {
		return nil, err
	}
	a.runs = runs

	sinks := o.sinks
	if sinks == nil {
		sinks, err = newSinks(ctx, cfg, o.roundTripper, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
	}
	a.notifier = notify.NewMulti(logger, sinks...)

	dedupe, err := scheduler.NewDeduper(cfg.Notify.CacheSize)
	if err != nil {
		a.Close()
		return nil, err
	}

	schedOpts := []scheduler.Option{
		scheduler.WithDeduper(dedupe),
		scheduler.WithLogger(logger),
	}
	if a.runs != nil {
		schedOpts = append(schedOpts, scheduler.WithRunStore(a.runs))
	}
	a.scheduler = scheduler.New(
		scheduler.Config{
			Searches:          cfg.Search,
			Checkers:          cfg.Checkers,
			RequestsPerSecond: cfg.Client.RequestsPerSecond,
			Headers:           cfg.Client.Headers,
		},
		o.registry,
		TransportFactory(cfg.Client, o.roundTripper),
		a.notifier,
		schedOpts...,
	)

	logger.Info("application services initialized",
		zap.String("history", cfg.History.Provider),
		zap.Strings("sinks", a.notifier.Names()),
		zap.String("transport", cfg.Client.Transport),
	)
	return a, nil
}

// TransportFactory opens a fresh transport of the configured kind for each
// provider. A nil rt uses the pooled default.
func TransportFactory(cfg config.ClientConfig, rt http.RoundTripper) scheduler.TransportFactory {
	return func(string) (dispatcher.Transport, error) {
		switch cfg.Transport {
		case config.TransportColly:
			return collytransport.New(collytransport.Config{
				UserAgent:    cfg.UserAgent,
				Timeout:      cfg.Timeout,
				RoundTripper: rt,
			}), nil
		case config.TransportHTTP, "":
			return nethttp.New(nethttp.Config{
				Timeout:      cfg.Timeout,
				UserAgent:    cfg.UserAgent,
				RoundTripper: rt,
			}), nil
		default:
			return nil, lurk.Configf("unknown transport %q", cfg.Transport)
		}
	}
}

func newRunStore(ctx context.Context, cfg config.HistoryConfig, logger *zap.Logger) (runStore, error) {
	switch cfg.Provider {
	case config.HistoryMemory, "":
		logger.Info("keeping run history in memory")
		return memory.NewRunStore(), nil
	case config.HistoryPostgres:
		logger.Info("connecting to PostgreSQL for run history", zap.String("table", cfg.Postgres.Table))
		store, err := postgres.NewRunStore(ctx, postgres.RunStoreConfig{
			DSN:      cfg.Postgres.DSN,
			Table:    cfg.Postgres.Table,
			MaxConns: cfg.Postgres.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("init run history: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("init run history: %w", err)
		}
		return store, nil
	case config.HistoryNone:
		logger.Info("run history disabled")
		return nil, nil
	default:
		return nil, lurk.Configf("unknown history provider: %s", cfg.Provider)
	}
}

func newSinks(ctx context.Context, cfg config.Config, rt http.RoundTripper, logger *zap.Logger) ([]notify.Sink, error) {
	var sinks []notify.Sink
	closeAll := func() {
		for _, s := range sinks {
			if err := s.Close(); err != nil {
				logger.Warn("close sink", zap.String("sink", s.Name()), zap.Error(err))
			}
		}
	}

	n := cfg.Notify
	if n.Log.Enabled {
		sinks = append(sinks, notify.NewLog(logger))
	}
	if n.Telegram.Enabled {
		tg, err := notify.NewTelegram(
			nethttp.New(nethttp.Config{Timeout: cfg.Client.Timeout, UserAgent: cfg.Client.UserAgent, RoundTripper: rt}),
			notify.TelegramConfig{
				Token:   n.Telegram.Token,
				ChatID:  n.Telegram.ChatID,
				BaseURL: n.Telegram.BaseURL,
				Logger:  logger,
			},
		)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("init telegram sink: %w", err)
		}
		sinks = append(sinks, tg)
	}
	if n.Kafka.Enabled {
		k, err := notify.NewKafka(notify.KafkaConfig{
			Brokers:  n.Kafka.Brokers,
			Topic:    n.Kafka.Topic,
			ClientID: n.Kafka.ClientID,
		}, logger)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("init kafka sink: %w", err)
		}
		sinks = append(sinks, k)
	}
	if n.PubSub.Enabled {
		ps, err := notify.NewPubSub(ctx, notify.PubSubConfig{
			ProjectID: n.PubSub.ProjectID,
			Topic:     n.PubSub.Topic,
		}, logger)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("init pubsub sink: %w", err)
		}
		sinks = append(sinks, ps)
	}

	if len(sinks) == 0 {
		logger.Warn("no notification sinks enabled, falling back to the log sink")
		sinks = append(sinks, notify.NewLog(logger))
	}
	return sinks, nil
}

// Close gracefully shuts down all services in the App container.
func (a *App) Close() {
	a.logger.Info("shutting down application services")
	if a.notifier != nil {
		if err := a.notifier.Close(); err != nil {
			a.logger.Warn("error closing notification sinks", zap.Error(err))
		}
	}
	if a.runs != nil {
		a.runs.Close()
	}
	// Sync fails on stderr/stdout for some platforms; nothing useful to do then.
	_ = a.logger.Sync()
}
