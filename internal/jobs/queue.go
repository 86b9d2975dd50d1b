package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/yungbote/sceneforge-backend/internal/logger"
)

type JobKind string

const (
	JobKindGenerate        JobKind = "generate"
	JobKindContinue        JobKind = "continue"
	JobKindRegenerateScene JobKind = "regenerate-scene"
)

// Job is one unit of queued work. SceneID is only set for regenerate jobs.
type Job struct {
	ID           string    `json:"id"`
	Kind         JobKind   `json:"kind"`
	GenerationID uuid.UUID `json:"generationId"`
	SceneID      string    `json:"sceneId,omitempty"`
	Attempt      int       `json:"attempt"`
	EnqueuedAt   time.Time `json:"enqueuedAt"`
}

// Executor runs one job to completion. The worker and the inline fallback
// share the same one.
type Executor func(ctx context.Context, job *Job) error

const (
	queueKey     = "scenegen:jobs"
	completedKey = "scenegen:jobs:completed"
	failedKey    = "scenegen:jobs:failed"

	completedRetention = time.Hour
	failedRetention    = 24 * time.Hour
	retentionMax       = 100
)

// Queue pushes jobs onto a redis list. When redis is unreachable the job
// runs inline on the caller's goroutine instead of being rejected, so a
// dead broker degrades throughput, not availability.
type Queue interface {
	Submit(ctx context.Context, job *Job) error
	// RemoveForGeneration drops still-queued jobs for a generation; running
	// jobs are stopped by the orchestrator's cancellation checks instead.
	RemoveForGeneration(ctx context.Context, generationID uuid.UUID) (int, error)
	Ping(ctx context.Context) error
}

type queue struct {
	log    *logger.Logger
	client *redis.Client
	exec   Executor
}

func NewQueue(client *redis.Client, exec Executor, baseLog *logger.Logger) (Queue, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client required")
	}
	if exec == nil {
		return nil, fmt.Errorf("executor required")
	}
	if baseLog == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &queue{
		log:    baseLog.With("service", "JobQueue"),
		client: client,
		exec:   exec,
	}, nil
}

// NewRedisClient builds the shared redis connection from REDIS_URL, or
// from REDIS_ADDR/REDIS_PASSWORD/REDIS_DB when no URL is set.
func NewRedisClient(log *logger.Logger) (*redis.Client, error) {
	if raw := os.Getenv("REDIS_URL"); raw != "" {
		opts, err := redis.ParseURL(raw)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		return redis.NewClient(opts), nil
	}

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	db := 0
	if raw := os.Getenv("REDIS_DB"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			db = parsed
		} else {
			log.Warn("invalid REDIS_DB, using 0", "value", raw)
		}
	}
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
	}), nil
}

func (q *queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *queue) Submit(ctx context.Context, job *Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}

	if err := q.client.LPush(ctx, queueKey, payload).Err(); err != nil {
		// Only a dead broker degrades to inline execution; a redis error on
		// a reachable server propagates instead of blocking the request.
		if !queueUnavailable(err) {
			return fmt.Errorf("enqueue job: %w", err)
		}
		q.log.Warn("queue unavailable, executing directly",
			"job", job.ID, "kind", job.Kind, "generation", job.GenerationID, "error", err)
		return q.exec(ctx, job)
	}
	q.log.Info("job queued", "job", job.ID, "kind", job.Kind, "generation", job.GenerationID)
	return nil
}

// queueUnavailable reports whether a push failed because the broker is
// unreachable, as opposed to rejecting the command.
func queueUnavailable(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "redis: client is closed")
}

func (q *queue) RemoveForGeneration(ctx context.Context, generationID uuid.UUID) (int, error) {
	entries, err := q.client.LRange(ctx, queueKey, 0, -1).Result()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, raw := range entries {
		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			continue
		}
		if job.GenerationID != generationID {
			continue
		}
		n, err := q.client.LRem(ctx, queueKey, 0, raw).Result()
		if err != nil {
			return removed, err
		}
		removed += int(n)
	}
	if removed > 0 {
		q.log.Info("queued jobs removed", "generation", generationID, "count", removed)
	}
	return removed, nil
}

// recordOutcome keeps a bounded, expiring history of finished jobs for
// operator inspection.
func recordOutcome(ctx context.Context, client *redis.Client, key string, job *Job, retention time.Duration, jobErr error) {
	entry := map[string]any{
		"id":           job.ID,
		"kind":         job.Kind,
		"generationId": job.GenerationID,
		"attempt":      job.Attempt,
		"finishedAt":   time.Now().Format(time.RFC3339),
	}
	if jobErr != nil {
		entry["error"] = jobErr.Error()
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return
	}
	pipe := client.Pipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, retentionMax-1)
	pipe.Expire(ctx, key, retention)
	_, _ = pipe.Exec(ctx)
}
