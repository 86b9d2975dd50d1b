package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yungbote/sceneforge-backend/internal/logger"
)

const (
	popTimeout   = 5 * time.Second
	maxAttempts  = 3
	retryBackoff = 2 * time.Second
)

// Worker drains the job list. Each job gets maxAttempts tries with
// exponential backoff before it lands in the failed history.
type Worker struct {
	log    *logger.Logger
	client *redis.Client
	exec   Executor

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewWorker(client *redis.Client, exec Executor, baseLog *logger.Logger) (*Worker, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client required")
	}
	if exec == nil {
		return nil, fmt.Errorf("executor required")
	}
	if baseLog == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Worker{
		log:    baseLog.With("service", "JobWorker"),
		client: client,
		exec:   exec,
	}, nil
}

func (w *Worker) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	w.cancel = cancel
	w.wg.Add(1)
	go w.loop(ctx)
	w.log.Info("job worker started")
}

func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	w.log.Info("job worker stopped")
}

func (w *Worker) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		res, err := w.client.BRPop(ctx, popTimeout, queueKey).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			w.log.Warn("queue pop failed, backing off", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(popTimeout):
			}
			continue
		}
		if len(res) != 2 {
			continue
		}

		var job Job
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			w.log.Error("discarding undecodable job", "error", err)
			continue
		}
		w.handle(ctx, &job)
	}
}

func (w *Worker) handle(ctx context.Context, job *Job) {
	var err error
	for job.Attempt = 1; job.Attempt <= maxAttempts; job.Attempt++ {
		err = w.runOnce(ctx, job)
		if err == nil {
			recordOutcome(ctx, w.client, completedKey, job, completedRetention, nil)
			return
		}
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return
		}
		if job.Attempt < maxAttempts {
			backoff := retryBackoff << (job.Attempt - 1)
			w.log.Warn("job failed, retrying",
				"job", job.ID, "kind", job.Kind, "attempt", job.Attempt, "backoff", backoff, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
		}
	}
	w.log.Error("job failed permanently", "job", job.ID, "kind", job.Kind, "generation", job.GenerationID, "error", err)
	recordOutcome(ctx, w.client, failedKey, job, failedRetention, err)
}

// runOnce shields the loop from executor panics.
func (w *Worker) runOnce(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return w.exec(ctx, job)
}
