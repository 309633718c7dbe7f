package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/worldwideservice/ai-agent-platform-sub002/platform/logger"
)

// Enqueuer is the durable queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, job WebhookJob) error
}

// Dispatcher hands jobs to the durable queue and falls back to the
// in-process pool when the queue cannot take them.
type Dispatcher struct {
	queue    Enqueuer
	fallback *FallbackPool
	timeout  time.Duration
	log      *logger.Logger
}

// NewDispatcher builds a dispatcher. queue may be nil, in which case every
// job goes to the fallback pool.
func NewDispatcher(queue Enqueuer, fallback *FallbackPool, timeout time.Duration, log *logger.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 1500 * time.Millisecond
	}
	return &Dispatcher{queue: queue, fallback: fallback, timeout: timeout, log: log}
}

// Dispatch never blocks longer than the configured timeout.
func (d *Dispatcher) Dispatch(ctx context.Context, job WebhookJob) error {
	if d.queue != nil {
		qctx, cancel := context.WithTimeout(ctx, d.timeout)
		err := d.queue.Enqueue(qctx, job)
		cancel()
		if err == nil {
			return nil
		}
		d.log.WithContext(ctx).Warn("durable queue unavailable, using in-process fallback", "jobId", job.ID, "error", err)
	}

	if d.fallback == nil {
		return errors.New("no dispatch target available")
	}
	return d.fallback.Submit(job)
}
