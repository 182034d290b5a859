// Package notify delivers in-stock products to user-facing sinks.
package notify

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/lurk/internal/lurk"
	"github.com/JakeFAU/lurk/internal/metrics"
)

// Sink is a named notifier that owns resources.
type Sink interface {
	lurk.Notifier
	Name() string
	Close() error
}

// Multi fans a notification out to every sink concurrently. One failing sink
// does not stop the others.
type Multi struct {
	sinks  []Sink
	logger *zap.Logger
}

// NewMulti combines sinks.
func NewMulti(logger *zap.Logger, sinks ...Sink) *Multi {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Multi{sinks: sinks, logger: logger}
}

// Names lists the configured sinks.
func (m *Multi) Names() []string {
	names := make([]string, 0, len(m.sinks))
	for _, s := range m.sinks {
		names = append(names, s.Name())
	}
	return names
}

// Notify sends products to every sink and joins their failures.
func (m *Multi) Notify(ctx context.Context, products []lurk.Product) error {
	if len(products) == 0 {
		return nil
	}
	errs := make([]error, len(m.sinks))
	var wg sync.WaitGroup
	for i, sink := range m.sinks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := sink.Notify(ctx, products)
			if err == nil {
				metrics.ObserveNotification(sink.Name(), "ok")
				m.logger.Info("notification sent", zap.String("sink", sink.Name()), zap.Int("products", len(products)))
				return
			}
			var notifyErr *lurk.NotificationError
			if !errors.As(err, &notifyErr) {
				err = &lurk.NotificationError{Sink: sink.Name(), Err: err}
			}
			metrics.ObserveNotification(sink.Name(), "error")
			m.logger.Error("notification failed", zap.String("sink", sink.Name()), zap.Error(err))
			errs[i] = err
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Close releases every sink.
func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, &lurk.NotificationError{Sink: s.Name(), Err: err})
		}
	}
	return errors.Join(errs...)
}
