package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/lurk/internal/lurk"
)

// LogName labels the log sink.
const LogName = "log"

// Log writes one structured line per product.
type Log struct {
	logger *zap.Logger
}

// NewLog creates a Log sink.
func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger.Named("found")}
}

// Name implements Sink.
func (*Log) Name() string { return LogName }

// Notify implements lurk.Notifier.
func (l *Log) Notify(_ context.Context, products []lurk.Product) error {
	for _, p := range products {
		l.logger.Info("product in stock",
			zap.String("provider", p.Provider),
			zap.String("sku", p.SKU),
			zap.String("name", p.Name),
			zap.Float64("price", p.Price),
			zap.String("url", p.URL),
		)
	}
	return nil
}

// Close implements Sink.
func (*Log) Close() error { return nil }
