// Package queue is a Redis list job queue shared by the server (producer) and
// the worker (consumer).
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/learnlens/backend/pkg/redis"
)

const (
	// QueueNotifications holds tutorial-published fan-out jobs.
	QueueNotifications = "worker:notifications"
	// QueueEngagement holds export and summary rebuild jobs.
	QueueEngagement = "worker:engagement"
	// QueueDLQ is the dead-letter queue for failed jobs after retries.
	QueueDLQ = "worker:dlq"
	// MaxRetries is the number of times to retry a job before moving to DLQ.
	MaxRetries = 3
	// RetryBackoff is the delay between retries.
	RetryBackoff = 10 * time.Second
	// pollTimeout bounds one BLPOP so Dequeue notices ctx cancellation.
	pollTimeout = 5 * time.Second
)

// JobType identifies the job kind.
type JobType string

const (
	JobTypeTutorialPublished JobType = "notify_tutorial_published"
	JobTypeEngagementExport  JobType = "engagement_export"
	JobTypeEngagementRebuild JobType = "engagement_rebuild"
)

// queueFor returns the list a job type is pushed to.
func queueFor(t JobType) string {
	if t == JobTypeTutorialPublished {
		return QueueNotifications
	}
	return QueueEngagement
}

// TutorialPublishedPayload asks the worker to notify every student of a new tutorial.
type TutorialPublishedPayload struct {
	TutorialID string `json:"tutorial_id"`
	Title      string `json:"title"`
	OwnerName  string `json:"owner_name"`
}

// EngagementExportPayload asks the worker to write exports/{id} as CSV to S3.
type EngagementExportPayload struct {
	ExportID    string `json:"export_id"`
	RequestedBy string `json:"requested_by"`
}

// EngagementRebuildPayload asks the worker to rebuild the Redis summary from a full scan.
// An empty TutorialID rebuilds every tutorial.
type EngagementRebuildPayload struct {
	TutorialID string `json:"tutorial_id,omitempty"`
}

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
}

// Decode unmarshals the payload into v.
func (j *Job) Decode(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("unmarshal %s payload: %w", j.Type, err)
	}
	return nil
}

// Queue enqueues and dequeues jobs via Redis.
type Queue struct {
	client *redis.Client
	logger *zap.Logger
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client *redis.Client, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger}
}

// Enqueue wraps payload in a job of type t and pushes it to the matching list.
func (q *Queue) Enqueue(ctx context.Context, t JobType, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	job := Job{
		ID:        uuid.New().String(),
		Type:      t,
		Payload:   body,
		CreatedAt: time.Now().UTC(),
	}
	if err := q.push(ctx, queueFor(t), &job); err != nil {
		return "", err
	}
	q.logger.Debug("enqueued job", zap.String("job_id", job.ID), zap.String("type", string(t)))
	return job.ID, nil
}

// EnqueueTutorialPublished enqueues a notification fan-out.
func (q *Queue) EnqueueTutorialPublished(ctx context.Context, p TutorialPublishedPayload) error {
	_, err := q.Enqueue(ctx, JobTypeTutorialPublished, p)
	return err
}

// EnqueueEngagementExport enqueues a CSV export.
func (q *Queue) EnqueueEngagementExport(ctx context.Context, p EngagementExportPayload) error {
	_, err := q.Enqueue(ctx, JobTypeEngagementExport, p)
	return err
}

// EnqueueEngagementRebuild enqueues a summary rebuild.
func (q *Queue) EnqueueEngagementRebuild(ctx context.Context, p EngagementRebuildPayload) error {
	_, err := q.Enqueue(ctx, JobTypeEngagementRebuild, p)
	return err
}

// Dequeue blocks until a job is available on any queue or ctx is done.
// It returns a nil job when the poll timed out or the entry was malformed.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	result, err := q.client.BLPop(ctx, pollTimeout,
		q.client.Key(QueueNotifications),
		q.client.Key(QueueEngagement),
	).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(result) < 2 {
		return nil, nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload", zap.String("queue", result[0]), zap.Error(err))
		return nil, nil
	}
	return &job, nil
}

// Retry re-enqueues a job with incremented attempt. If attempt >= MaxRetries, pushes to DLQ instead.
func (q *Queue) Retry(ctx context.Context, job *Job) error {
	job.Attempt++
	if job.Attempt >= MaxRetries {
		if err := q.push(ctx, QueueDLQ, job); err != nil {
			q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
			return err
		}
		q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
		return nil
	}
	if err := q.push(ctx, queueFor(job.Type), job); err != nil {
		return err
	}
	q.logger.Info("job retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return nil
}

func (q *Queue) push(ctx context.Context, list string, job *Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, q.client.Key(list), raw).Err(); err != nil {
		return fmt.Errorf("rpush %s: %w", list, err)
	}
	return nil
}
