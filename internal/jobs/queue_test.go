package jobs

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/yungbote/sceneforge-backend/internal/logger"
)

func testQueue(t *testing.T, exec Executor) (Queue, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	q, err := NewQueue(client, exec, log)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	return q, mr, client
}

func TestSubmitPushesToList(t *testing.T) {
	executed := int32(0)
	q, mr, _ := testQueue(t, func(context.Context, *Job) error {
		atomic.AddInt32(&executed, 1)
		return nil
	})

	job := &Job{Kind: JobKindGenerate, GenerationID: uuid.New()}
	if err := q.Submit(context.Background(), job); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if atomic.LoadInt32(&executed) != 0 {
		t.Fatal("executor ran despite healthy queue")
	}
	entries, err := mr.List(queueKey)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 queued job, got %d", len(entries))
	}
	var queued Job
	if err := json.Unmarshal([]byte(entries[0]), &queued); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if queued.Kind != JobKindGenerate || queued.GenerationID != job.GenerationID {
		t.Fatalf("queued job mismatch: %+v", queued)
	}
	if queued.ID == "" || queued.EnqueuedAt.IsZero() {
		t.Fatalf("job metadata not stamped: %+v", queued)
	}
}

func TestSubmitFallsBackToInlineExecution(t *testing.T) {
	executed := int32(0)
	q, mr, _ := testQueue(t, func(_ context.Context, job *Job) error {
		atomic.AddInt32(&executed, 1)
		return nil
	})

	// Kill redis; the submit must degrade to running the job directly.
	mr.Close()

	job := &Job{Kind: JobKindContinue, GenerationID: uuid.New()}
	if err := q.Submit(context.Background(), job); err != nil {
		t.Fatalf("inline submit: %v", err)
	}
	if atomic.LoadInt32(&executed) != 1 {
		t.Fatal("inline execution did not run")
	}
}

func TestSubmitPropagatesCommandErrors(t *testing.T) {
	executed := int32(0)
	q, mr, _ := testQueue(t, func(context.Context, *Job) error {
		atomic.AddInt32(&executed, 1)
		return nil
	})

	// The broker is up but the push is rejected (key holds the wrong
	// type); this must surface as an error, not an inline render.
	if err := mr.Set(queueKey, "not-a-list"); err != nil {
		t.Fatalf("seed key: %v", err)
	}

	err := q.Submit(context.Background(), &Job{Kind: JobKindGenerate, GenerationID: uuid.New()})
	if err == nil {
		t.Fatal("expected submit to fail")
	}
	if atomic.LoadInt32(&executed) != 0 {
		t.Fatal("inline execution ran on a reachable broker")
	}
}

func TestRemoveForGeneration(t *testing.T) {
	q, mr, _ := testQueue(t, func(context.Context, *Job) error { return nil })

	keep := uuid.New()
	drop := uuid.New()
	for _, gid := range []uuid.UUID{keep, drop, drop} {
		if err := q.Submit(context.Background(), &Job{Kind: JobKindGenerate, GenerationID: gid}); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	removed, err := q.RemoveForGeneration(context.Background(), drop)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if removed != 2 {
		t.Fatalf("removed %d, want 2", removed)
	}

	entries, err := mr.List(queueKey)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 remaining job, got %d", len(entries))
	}
	var remaining Job
	if err := json.Unmarshal([]byte(entries[0]), &remaining); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if remaining.GenerationID != keep {
		t.Fatalf("wrong job removed: %+v", remaining)
	}
}

func TestRecordOutcomeBoundsHistory(t *testing.T) {
	_, mr, client := testQueue(t, func(context.Context, *Job) error { return nil })

	for i := 0; i < retentionMax+10; i++ {
		recordOutcome(context.Background(), client, completedKey, &Job{
			ID:           uuid.NewString(),
			Kind:         JobKindGenerate,
			GenerationID: uuid.New(),
		}, completedRetention, nil)
	}

	entries, err := mr.List(completedKey)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != retentionMax {
		t.Fatalf("history length %d, want %d", len(entries), retentionMax)
	}
	if mr.TTL(completedKey) <= 0 {
		t.Fatal("history has no expiry")
	}
}
