package scheduler

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"golang.org/x/time/rate"

	"github.com/worldwideservice/ai-agent-platform-sub002/platform/config"
	"github.com/worldwideservice/ai-agent-platform-sub002/platform/logger"
)

const (
	retryBaseDelay = 2 * time.Second
	retryMaxDelay  = 5 * time.Minute
)

// Processor handles one webhook payload. A returned error makes the job
// eligible for retry.
type Processor interface {
	ProcessWebhook(ctx context.Context, integrationID uuid.UUID, raw []byte) error
}

type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	processor Processor
	limiter   *rate.Limiter
	log       *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, dispatch config.DispatchConfig, processor Processor, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	concurrency := dispatch.GetDispatchConcurrency()
	if concurrency < 1 {
		concurrency = 5
	}

	w := &Worker{
		mux:       asynq.NewServeMux(),
		processor: processor,
		limiter:   newThroughputLimiter(dispatch.GetDispatchRatePerSecond()),
		log:       log,
	}

	w.server = asynq.NewServer(opt, asynq.Config{
		Concurrency:    concurrency,
		Queues:         queueWeights(cfg.GetAsynqQueuePrefix()),
		StrictPriority: true,
		RetryDelayFunc: retryDelay,
		ErrorHandler:   asynq.ErrorHandlerFunc(w.handleError),
	})

	w.mux.Use(w.throttle)
	w.mux.HandleFunc(TaskProcessWebhook, w.handleWebhook)

	return w, nil
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("webhook worker stopped", "error", err)
	}
}

// throttle holds every job to the global throughput ceiling.
func (w *Worker) throttle(next asynq.Handler) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, task *asynq.Task) error {
		if err := w.limiter.Wait(ctx); err != nil {
			return err
		}
		return next.ProcessTask(ctx, task)
	})
}

func (w *Worker) handleWebhook(ctx context.Context, task *asynq.Task) error {
	job, err := ParseWebhookTask(task)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	job.Attempt = attemptOf(ctx)
	job.Status = JobProcessing

	log := w.log.WithJobID(job.ID)
	integrationID, err := uuid.Parse(job.IntegrationID)
	if err != nil {
		log.Warn("webhook job has invalid integration id", "integrationId", job.IntegrationID)
		return fmt.Errorf("%w: invalid integration id", asynq.SkipRetry)
	}

	started := time.Now()
	if err := w.processor.ProcessWebhook(ctx, integrationID, job.Payload); err != nil {
		log.Warn("webhook job failed", "attempt", job.Attempt, "error", err)
		return err
	}
	log.Debug("webhook job done", "attempt", job.Attempt, "durationMs", time.Since(started).Milliseconds(), "waitMs", started.Sub(job.ReceivedAt).Milliseconds())
	return nil
}

// handleError reports jobs that exhausted their retries. They are dropped.
func (w *Worker) handleError(ctx context.Context, task *asynq.Task, err error) {
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	if retried < maxRetry {
		return
	}
	jobID, _ := asynq.GetTaskID(ctx)
	w.log.JobDropped(jobID, retried+1, err)
}

func attemptOf(ctx context.Context) int {
	retried, _ := asynq.GetRetryCount(ctx)
	return retried + 1
}

// retryDelay doubles the wait with every retry.
func retryDelay(n int, _ error, _ *asynq.Task) time.Duration {
	return backoffDelay(n)
}

func backoffDelay(retried int) time.Duration {
	if retried < 0 {
		retried = 0
	}
	d := time.Duration(float64(retryBaseDelay) * math.Pow(2, float64(retried)))
	if d > retryMaxDelay || d <= 0 {
		return retryMaxDelay
	}
	return d
}

func newThroughputLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		perSecond = 10
	}
	burst := int(math.Ceil(perSecond))
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}
