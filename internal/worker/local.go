package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// ErrPublisherClosed is returned by LocalPublisher after Close.
var ErrPublisherClosed = errors.New("publisher closed")

// LocalPublisher runs extraction jobs in-process instead of enqueueing them
// on Pub/Sub. It serves single-binary deployments and local development.
type LocalPublisher struct {
	job    *ExtractJob
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewLocalPublisher creates a LocalPublisher. Jobs are canceled when ctx is
// done or Close is called.
func NewLocalPublisher(ctx context.Context, job *ExtractJob, logger zerolog.Logger) *LocalPublisher {
	ctx, cancel := context.WithCancel(ctx)
	return &LocalPublisher{job: job, logger: logger, ctx: ctx, cancel: cancel}
}

// PublishExtract starts the run in the background and returns immediately.
func (p *LocalPublisher) PublishExtract(_ context.Context, runID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPublisherClosed
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if _, err := p.job.Run(p.ctx, runID); err != nil {
			p.logger.Error().Err(err).Str("run_id", runID).Msg("local extraction failed")
		}
	}()
	return nil
}

// Close cancels running jobs and waits for them to return.
func (p *LocalPublisher) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
	return nil
}
