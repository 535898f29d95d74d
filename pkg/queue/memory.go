package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/feichai0017/seed-processor/pkg/logger"
)

// ErrQueueFull is returned when the in-memory buffer has no room.
var ErrQueueFull = errors.New("queue full")

// HandlerFunc processes one task.
type HandlerFunc func(ctx context.Context, task *Task) error

// MemoryQueue runs tasks in process behind a buffered channel. Used in local
// mode and tests.
type MemoryQueue struct {
	mu        sync.Mutex
	owners    map[string]map[string]struct{}
	cancelled map[string]struct{}

	tasks  chan *Task
	closed bool
	logger logger.Logger
	wg     sync.WaitGroup
}

func NewMemoryQueue(buffer int, log logger.Logger) *MemoryQueue {
	if buffer <= 0 {
		buffer = 128
	}
	return &MemoryQueue{
		owners:    make(map[string]map[string]struct{}),
		cancelled: make(map[string]struct{}),
		tasks:     make(chan *Task, buffer),
		logger:    log.Named("queue"),
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, task *Task) error {
	if err := task.validate(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("queue closed")
	}
	copied := *task
	select {
	case q.tasks <- &copied:
	default:
		return ErrQueueFull
	}

	set, ok := q.owners[task.OwnerID]
	if !ok {
		set = make(map[string]struct{})
		q.owners[task.OwnerID] = set
	}
	set[task.ID] = struct{}{}
	return nil
}

func (q *MemoryQueue) CancelByOwner(_ context.Context, ownerID string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	set := q.owners[ownerID]
	delete(q.owners, ownerID)
	for id := range set {
		q.cancelled[id] = struct{}{}
	}
	return len(set), nil
}

func (q *MemoryQueue) IsCancelled(_ context.Context, taskID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.cancelled[taskID]
	return ok, nil
}

// Start runs handler on workers goroutines until ctx is done or Close.
// Handler errors are logged; tasks are not retried.
func (q *MemoryQueue) Start(ctx context.Context, workers int, handler HandlerFunc) {
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case task, ok := <-q.tasks:
					if !ok {
						return
					}
					q.run(ctx, handler, task)
				}
			}
		}()
	}
}

func (q *MemoryQueue) run(ctx context.Context, handler HandlerFunc, task *Task) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("Task panicked",
				logger.String("taskId", task.ID),
				logger.Any("panic", r),
			)
		}
		q.forget(task)
	}()
	if err := handler(ctx, task); err != nil {
		q.logger.Error("Task failed",
			logger.String("taskId", task.ID),
			logger.String("type", task.Type),
			logger.Error(err),
		)
	}
}

func (q *MemoryQueue) forget(task *Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.cancelled, task.ID)
	if set, ok := q.owners[task.OwnerID]; ok {
		delete(set, task.ID)
		if len(set) == 0 {
			delete(q.owners, task.OwnerID)
		}
	}
}

// Drain processes every buffered task on the calling goroutine.
func (q *MemoryQueue) Drain(ctx context.Context, handler HandlerFunc) int {
	n := 0
	for {
		select {
		case task, ok := <-q.tasks:
			if !ok {
				return n
			}
			q.run(ctx, handler, task)
			n++
		default:
			return n
		}
	}
}

// Len returns the number of buffered tasks.
func (q *MemoryQueue) Len() int { return len(q.tasks) }

// Close stops accepting work and waits for running handlers.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
	q.mu.Unlock()
	q.wg.Wait()
	return nil
}
