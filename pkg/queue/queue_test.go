package queue

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/feichai0017/seed-processor/pkg/logger"
)

func TestDecodeRejectsIncompleteTask(t *testing.T) {
	if _, err := Decode([]byte(`{"id":"1","type":"seed:materials"}`)); err == nil {
		t.Fatal("task without owner should be rejected")
	}
	if _, err := Decode([]byte(`not json`)); err == nil {
		t.Fatal("invalid json should be rejected")
	}
	task, err := Decode([]byte(`{"id":"1","ownerId":"s1","type":"seed:materials","payload":{"types":["quiz","flashcards"]}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got := task.StringSlice("types"); len(got) != 2 || got[0] != "quiz" {
		t.Fatalf("types = %v", got)
	}
}

func TestMemoryQueueCancelByOwner(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(8, logger.NewTestLogger())

	a := NewMaterialsTask("seed-a", "u", []string{"quiz"})
	b := NewMaterialsTask("seed-a", "u", []string{"quiz"})
	other := NewMaterialsTask("seed-b", "u", []string{"quiz"})
	for _, task := range []*Task{a, b, other} {
		if err := q.Enqueue(ctx, task); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	n, err := q.CancelByOwner(ctx, "seed-a")
	if err != nil || n != 2 {
		t.Fatalf("CancelByOwner = %d, %v", n, err)
	}
	for _, id := range []string{a.ID, b.ID} {
		if c, _ := q.IsCancelled(ctx, id); !c {
			t.Fatalf("task %s not flagged", id)
		}
	}
	if c, _ := q.IsCancelled(ctx, other.ID); c {
		t.Fatal("other owner's task flagged")
	}

	late := NewMaterialsTask("seed-a", "u", []string{"quiz"})
	if err := q.Enqueue(ctx, late); err != nil {
		t.Fatalf("Enqueue after sweep: %v", err)
	}
	if c, _ := q.IsCancelled(ctx, late.ID); c {
		t.Fatal("task enqueued after the sweep was cancelled")
	}
	if n, _ := q.CancelByOwner(ctx, "seed-a"); n != 1 {
		t.Fatalf("second sweep = %d, want the late task", n)
	}
}

func TestMemoryQueueForgetsCancelledAfterRun(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(8, logger.NewTestLogger())

	task := NewMaterialsTask("seed-a", "u", []string{"quiz"})
	if err := q.Enqueue(ctx, task); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := q.CancelByOwner(ctx, "seed-a"); err != nil {
		t.Fatalf("CancelByOwner: %v", err)
	}

	seen := false
	q.Drain(ctx, func(ctx context.Context, got *Task) error {
		seen, _ = q.IsCancelled(ctx, got.ID)
		return nil
	})
	if !seen {
		t.Fatal("handler did not see the cancel flag")
	}
	if len(q.cancelled) != 0 || len(q.owners) != 0 {
		t.Fatalf("bookkeeping left after run: cancelled=%d owners=%d", len(q.cancelled), len(q.owners))
	}
}

func TestMemoryQueueRunsHandlerAndSurvivesFailures(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tl := logger.NewTestLogger()
	q := NewMemoryQueue(8, tl)

	var mu sync.Mutex
	var seen []string
	done := make(chan struct{}, 2)
	q.Start(ctx, 1, func(_ context.Context, task *Task) error {
		mu.Lock()
		seen = append(seen, task.OwnerID)
		mu.Unlock()
		done <- struct{}{}
		if task.OwnerID == "bad" {
			return errors.New("model unavailable")
		}
		return nil
	})

	q.Enqueue(ctx, NewMaterialsTask("bad", "u", nil))
	q.Enqueue(ctx, NewMaterialsTask("good", "u", nil))
	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("handler not called")
		}
	}
	cancel()
	q.Close()

	if len(seen) != 2 {
		t.Fatalf("handled %v", seen)
	}
	if !tl.HasMessage("ERROR", "Task failed") {
		t.Fatal("handler failure not logged")
	}
	if err := q.Enqueue(context.Background(), NewMaterialsTask("x", "u", nil)); err == nil {
		t.Fatal("enqueue after Close should fail")
	}
}

func TestMemoryQueueFull(t *testing.T) {
	q := NewMemoryQueue(1, logger.NewTestLogger())
	ctx := context.Background()
	if err := q.Enqueue(ctx, NewMaterialsTask("s", "u", nil)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, NewMaterialsTask("s", "u", nil)); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Enqueue on full buffer = %v", err)
	}
	if n := q.Drain(ctx, func(context.Context, *Task) error { return nil }); n != 1 {
		t.Fatalf("Drain = %d", n)
	}
}

func testRedisAddr(t *testing.T) string {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	defer client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available at %s: %v", addr, err)
	}
	return addr
}

func TestAsynqQueueCancelByOwner(t *testing.T) {
	addr := testRedisAddr(t)
	ctx := context.Background()
	q := NewAsynqQueue(QueueConfig{RedisAddr: addr, RedisDB: 15, ProcessIn: time.Hour}, logger.NewTestLogger())
	defer q.Close()

	owner := "seed-" + NewMaterialsTask("x", "u", nil).ID
	first := NewMaterialsTask(owner, "u", []string{"quiz"})
	second := NewMaterialsTask(owner, "u", []string{"flashcards"})
	for _, task := range []*Task{first, second} {
		if err := q.Enqueue(ctx, task); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	n, err := q.CancelByOwner(ctx, owner)
	if err != nil || n != 2 {
		t.Fatalf("CancelByOwner = %d, %v", n, err)
	}
	for _, task := range []*Task{first, second} {
		if c, _ := q.IsCancelled(ctx, task.ID); !c {
			t.Fatalf("task %s not flagged", task.ID)
		}
		if _, err := q.inspector.GetTaskInfo(QueueDefault, task.ID); !errors.Is(err, asynq.ErrTaskNotFound) {
			t.Fatalf("task %s still queued: %v", task.ID, err)
		}
	}

	late := NewMaterialsTask(owner, "u", []string{"quiz"})
	if err := q.Enqueue(ctx, late); err != nil {
		t.Fatalf("Enqueue after sweep: %v", err)
	}
	ids, _ := q.OwnerTasks(ctx, owner)
	if len(ids) != 1 || ids[0] != late.ID {
		t.Fatalf("owner index = %v, want the late task", ids)
	}
	if c, _ := q.IsCancelled(ctx, late.ID); c {
		t.Fatal("late task flagged cancelled")
	}
	q.CancelByOwner(ctx, owner)
}
