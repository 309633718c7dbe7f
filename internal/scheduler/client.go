package scheduler

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/worldwideservice/ai-agent-platform-sub002/platform/config"
)

// Client enqueues webhook jobs into the durable queue.
type Client struct {
	client      *asynq.Client
	redis       *redis.Client
	prefix      string
	maxAttempts int
}

func NewClient(cfg config.SchedulerConfig, maxAttempts int) (*Client, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}
	if maxAttempts < 1 {
		maxAttempts = 3
	}

	return &Client{
		client: asynq.NewClient(opt),
		redis: redis.NewClient(&redis.Options{
			Addr:      opt.Addr,
			Password:  opt.Password,
			DB:        opt.DB,
			TLSConfig: opt.TLSConfig,
		}),
		prefix:      cfg.GetAsynqQueuePrefix(),
		maxAttempts: maxAttempts,
	}, nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return errors.Join(c.client.Close(), c.redis.Close())
}

// Ping reports whether the Redis backend answers.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.redis == nil {
		return fmt.Errorf("queue client not configured")
	}
	return c.redis.Ping(ctx).Err()
}

// Enqueue stores job in the queue of its priority. Re-enqueueing a job id
// that is already queued is not an error.
func (c *Client) Enqueue(ctx context.Context, job WebhookJob) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("queue client not configured")
	}

	task, err := NewWebhookTask(job)
	if err != nil {
		return err
	}

	_, err = c.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueName(c.prefix, job.Priority)),
		asynq.MaxRetry(c.maxAttempts-1),
		asynq.TaskID(job.ID),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

func redisClientOpt(redisURL string, tlsInsecure bool) (asynq.RedisClientOpt, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}

	var tlsConfig *tls.Config
	if opt.TLSConfig != nil {
		clone := opt.TLSConfig.Clone()
		if tlsInsecure {
			clone.InsecureSkipVerify = true
		}
		tlsConfig = clone
	} else if tlsInsecure {
		tlsConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: tlsConfig,
	}, nil
}
