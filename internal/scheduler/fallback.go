package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/worldwideservice/ai-agent-platform-sub002/platform/logger"
)

// ErrFallbackFull is returned when the in-process pool holds too many jobs.
var ErrFallbackFull = errors.New("fallback pool full")

const defaultFallbackPending = 1000

type FallbackOptions struct {
	Concurrency   int
	RatePerSecond float64
	MaxAttempts   int
	MaxPending    int
	// InitialInterval is the first retry wait; it doubles per attempt.
	InitialInterval time.Duration
}

// FallbackPool processes jobs in-process when the durable queue is not
// reachable. Jobs are lost if the process exits before they finish.
type FallbackPool struct {
	processor Processor
	sem       *semaphore.Weighted
	limiter   *rate.Limiter
	opts      FallbackOptions
	log       *logger.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	pending atomic.Int64
}

func NewFallbackPool(processor Processor, opts FallbackOptions, log *logger.Logger) *FallbackPool {
	if opts.Concurrency < 1 {
		opts.Concurrency = 5
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 3
	}
	if opts.MaxPending < 1 {
		opts.MaxPending = defaultFallbackPending
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = retryBaseDelay
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &FallbackPool{
		processor: processor,
		sem:       semaphore.NewWeighted(int64(opts.Concurrency)),
		limiter:   newThroughputLimiter(opts.RatePerSecond),
		opts:      opts,
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Submit hands the job to the pool and returns immediately.
func (p *FallbackPool) Submit(job WebhookJob) error {
	if p.pending.Add(1) > int64(p.opts.MaxPending) {
		p.pending.Add(-1)
		return ErrFallbackFull
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.pending.Add(-1)
		p.run(job)
	}()
	return nil
}

// Pending is the number of submitted jobs not yet finished.
func (p *FallbackPool) Pending() int {
	return int(p.pending.Load())
}

func (p *FallbackPool) run(job WebhookJob) {
	log := p.log.WithJobID(job.ID)

	integrationID, err := uuid.Parse(job.IntegrationID)
	if err != nil {
		p.log.JobDropped(job.ID, 0, err)
		return
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.opts.InitialInterval
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = retryMaxDelay
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.opts.MaxAttempts-1)), p.ctx)

	operation := func() error {
		job.Attempt++
		if err := p.sem.Acquire(p.ctx, 1); err != nil {
			return backoff.Permanent(err)
		}
		defer p.sem.Release(1)

		if err := p.limiter.Wait(p.ctx); err != nil {
			return backoff.Permanent(err)
		}
		err := p.processor.ProcessWebhook(p.ctx, integrationID, job.Payload)
		if err != nil {
			log.Warn("fallback job attempt failed", "attempt", job.Attempt, "error", err)
		}
		return err
	}

	if err := backoff.Retry(operation, policy); err != nil {
		job.Status = JobDropped
		p.log.JobDropped(job.ID, job.Attempt, err)
		return
	}
	job.Status = JobDone
	log.Debug("fallback job done", "attempt", job.Attempt)
}

// Shutdown waits for running jobs until ctx ends, then cancels the rest.
func (p *FallbackPool) Shutdown(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		p.cancel()
		<-done
	}
	p.cancel()
}
