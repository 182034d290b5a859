package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/lurk/internal/lurk"
)

// Runner executes one scheduler pass.
type Runner interface {
	Run(ctx context.Context) (lurk.RunReport, error)
}

// Watcher runs a Runner on a fixed interval and on demand. At most one
// on-demand request is queued at a time.
type Watcher struct {
	runner   Runner
	interval time.Duration
	trigger  chan struct{}
	logger   *zap.Logger

	mu      sync.RWMutex
	last    lurk.RunReport
	hasLast bool
}

// NewWatcher creates a Watcher.
func NewWatcher(runner Runner, interval time.Duration, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		runner:   runner,
		interval: interval,
		trigger:  make(chan struct{}, 1),
		logger:   logger,
	}
}

// RequestRun queues an immediate run. It returns false when one is already
// queued.
func (w *Watcher) RequestRun() bool {
	select {
	case w.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// LastRun returns the most recent report.
func (w *Watcher) LastRun() (lurk.RunReport, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.last, w.hasLast
}

// Run blocks until ctx is done. The first pass starts immediately; failed
// passes are logged and the loop keeps going.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.runOnce(ctx)
		case <-w.trigger:
			w.logger.Info("on-demand run requested")
			w.runOnce(ctx)
			ticker.Reset(w.interval)
		}
	}
}

func (w *Watcher) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	report, err := w.runner.Run(ctx)
	if err != nil {
		w.logger.Error("scheduled run failed", zap.String("run_id", report.ID), zap.Error(err))
	}
	w.mu.Lock()
	w.last = report
	w.hasLast = true
	w.mu.Unlock()
}
