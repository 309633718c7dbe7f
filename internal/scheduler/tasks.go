package scheduler

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/worldwideservice/ai-agent-platform-sub002/internal/events"
)

const TaskProcessWebhook = "webhooks.process"

type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobDone       JobStatus = "done"
	JobFailed     JobStatus = "failed"
	JobDropped    JobStatus = "dropped"
)

// WebhookJob is one received webhook on its way to processing.
type WebhookJob struct {
	ID            string          `json:"id"`
	IntegrationID string          `json:"integrationId"`
	Payload       json.RawMessage `json:"payload"`
	ReceivedAt    time.Time       `json:"receivedAt"`
	Priority      events.Priority `json:"priority"`
	Attempt       int             `json:"-"`
	Status        JobStatus       `json:"-"`
}

func NewWebhookTask(job WebhookJob) (*asynq.Task, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskProcessWebhook, data), nil
}

func ParseWebhookTask(task *asynq.Task) (WebhookJob, error) {
	var job WebhookJob
	if err := json.Unmarshal(task.Payload(), &job); err != nil {
		return WebhookJob{}, fmt.Errorf("decode webhook job: %w", err)
	}
	return job, nil
}

// QueueName is the asynq queue for a priority under prefix.
func QueueName(prefix string, p events.Priority) string {
	if prefix == "" {
		prefix = "crm"
	}
	return prefix + ":" + p.String()
}

// queueWeights lists every priority queue for the worker server.
func queueWeights(prefix string) map[string]int {
	return map[string]int{
		QueueName(prefix, events.PriorityCritical): 8,
		QueueName(prefix, events.PriorityHigh):     4,
		QueueName(prefix, events.PriorityDefault):  2,
		QueueName(prefix, events.PriorityLow):      1,
	}
}
