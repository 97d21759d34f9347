package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Collector reclaims space left behind by expired or overwritten sessions.
// This allows us to mock the store in tests.
type Collector interface {
	CollectGarbage() error
}

type Worker struct {
	collector Collector
	logger    *zap.Logger
	interval  time.Duration
}

// NewWorker creates a worker that runs a collection every interval
func NewWorker(collector Collector, logger *zap.Logger, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Worker{
		collector: collector,
		logger:    logger,
		interval:  interval,
	}
}

// Start runs the worker loop until ctx is cancelled
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("Worker started", zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Worker shutting down")
			return
		case <-ticker.C:
			w.collect()
		}
	}
}

func (w *Worker) collect() {
	start := time.Now()
	if err := w.collector.CollectGarbage(); err != nil {
		w.logger.Error("Garbage collection failed", zap.Error(err))
		return
	}
	w.logger.Debug("Garbage collection complete", zap.Duration("took", time.Since(start)))
}
