package worker

import (
	"context"
	"log/slog"
	"sync"
)

// Runner is a long-lived consumer loop such as a Processor.
type Runner interface {
	Run(ctx context.Context)
}

// Pool runs a fixed set of independent processors, each bounded to one in-flight message.
// Scaling beyond a single process is done by starting more worker processes.
type Pool struct {
	runners []Runner
	// wg tracks active runners to ensure graceful shutdown.
	wg     sync.WaitGroup
	cancel context.CancelFunc
	logger *slog.Logger
}

// NewPool returns a pool over the given runners.
func NewPool(runners []Runner, logger *slog.Logger) *Pool {
	return &Pool{
		runners: runners,
		logger:  logger,
	}
}

// Start spawns one goroutine per runner and returns immediately.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.logger.Info("Starting worker pool", "concurrency", len(p.runners))

	for i, r := range p.runners {
		p.wg.Add(1)
		go func(id int, r Runner) {
			defer p.wg.Done()
			p.logger.Debug("Worker started", "workerID", id)
			r.Run(ctx)
			p.logger.Debug("Worker stopped", "workerID", id)
		}(i, r)
	}
}

// Stop cancels every runner and blocks until all of them have returned.
// A runner in the middle of a job leaves its message unacknowledged for redelivery.
func (p *Pool) Stop() {
	p.logger.Info("Stopping worker pool, waiting for in-flight jobs...")
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.logger.Info("Worker pool stopped")
}
