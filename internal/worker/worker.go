package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/khanhng/llm-router/internal/provider"
	"github.com/khanhng/llm-router/internal/routing"
)

type JobStatus string

const (
	JobStatusPending JobStatus = "pending"
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
	JobStatusFailed  JobStatus = "failed"
)

var ErrJobNotFound = errors.New("job not found")

const (
	queueKey = "jobs:queue"
	jobTTL   = 24 * time.Hour
)

type Job struct {
	ID        string             `json:"id"`
	TenantID  string             `json:"tenant_id"`
	Request   *provider.Request  `json:"request"`
	Options   routing.Options    `json:"options"`
	Status    JobStatus          `json:"status"`
	Result    *provider.Response `json:"result,omitempty"`
	Error     string             `json:"error,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

type Queue interface {
	Enqueue(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	Process(ctx context.Context) error // blocks until ctx is cancelled
}

// RedisQueue runs completions asynchronously: jobs are pushed to a list
// and a worker loop pops them, drives the fallback manager, and stores
// the outcome back under the job key with a TTL.
type RedisQueue struct {
	rdb     *redis.Client
	manager *routing.Manager
	logger  *zap.Logger
}

func NewRedisQueue(rdb *redis.Client, manager *routing.Manager, logger *zap.Logger) *RedisQueue {
	return &RedisQueue{rdb: rdb, manager: manager, logger: logger}
}

func jobKey(id string) string { return "jobs:" + id }

func (q *RedisQueue) Enqueue(ctx context.Context, job *Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	job.Status = JobStatusPending
	job.CreatedAt = time.Now().UTC()
	job.UpdatedAt = job.CreatedAt

	if err := q.save(ctx, job); err != nil {
		return err
	}
	if err := q.rdb.LPush(ctx, queueKey, job.ID).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

func (q *RedisQueue) Get(ctx context.Context, id string) (*Job, error) {
	data, err := q.rdb.Get(ctx, jobKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to decode job: %w", err)
	}
	return &job, nil
}

// Process pops and runs jobs until the context is cancelled.
func (q *RedisQueue) Process(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		res, err := q.rdb.BRPop(ctx, 5*time.Second, queueKey).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			q.logger.Warn("job queue pop failed", zap.Error(err))
			continue
		}
		// BRPop returns [key, value].
		if len(res) != 2 {
			continue
		}
		q.run(ctx, res[1])
	}
}

func (q *RedisQueue) run(ctx context.Context, id string) {
	job, err := q.Get(ctx, id)
	if err != nil {
		q.logger.Warn("dequeued unknown job", zap.String("job_id", id), zap.Error(err))
		return
	}

	job.Status = JobStatusRunning
	job.UpdatedAt = time.Now().UTC()
	if err := q.save(ctx, job); err != nil {
		q.logger.Warn("failed to mark job running", zap.String("job_id", id), zap.Error(err))
	}

	resp, err := q.manager.Complete(ctx, job.Request, job.Options)
	job.UpdatedAt = time.Now().UTC()
	if err != nil {
		job.Status = JobStatusFailed
		job.Error = err.Error()
		q.logger.Warn("async job failed", zap.String("job_id", id), zap.Error(err))
	} else {
		job.Status = JobStatusDone
		job.Result = resp
	}

	if err := q.save(ctx, job); err != nil {
		q.logger.Error("failed to store job result", zap.String("job_id", id), zap.Error(err))
	}
}

func (q *RedisQueue) save(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}
	if err := q.rdb.Set(ctx, jobKey(job.ID), data, jobTTL).Err(); err != nil {
		return fmt.Errorf("failed to store job: %w", err)
	}
	return nil
}
