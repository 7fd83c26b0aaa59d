package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/walletmesh/wallet-indexer/pkg/common/logger"
)

// Worker is a long-lived background task.
type Worker interface {
	Start()
	Stop()
}

// BaseWorker holds the loop plumbing shared by worker types: a derived
// context for cooperative cancellation and a fixed-interval tick loop.
type BaseWorker struct {
	ctx      context.Context
	cancel   context.CancelFunc
	interval time.Duration
	logger   *slog.Logger
}

func newBaseWorker(ctx context.Context, network string, interval time.Duration) *BaseWorker {
	ctx, cancel := context.WithCancel(ctx)
	return &BaseWorker{
		ctx:      ctx,
		cancel:   cancel,
		interval: interval,
		logger:   logger.With(slog.String("network", network)),
	}
}

func (bw *BaseWorker) Stop() {
	bw.cancel()
}

// run executes job once immediately, then on every tick. A failed job is
// retried wholesale on the next tick; there is no in-tick backoff, the poll
// interval is the backoff.
func (bw *BaseWorker) run(job func(context.Context) error) {
	runOnce := func() {
		if err := job(bw.ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			bw.logger.Warn("Tick failed, retrying next interval", "err", err)
		}
	}

	runOnce()

	ticker := time.NewTicker(bw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-bw.ctx.Done():
			bw.logger.Info("Worker loop stopped")
			return
		case <-ticker.C:
			runOnce()
		}
	}
}
