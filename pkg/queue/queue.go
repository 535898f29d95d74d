// pkg/queue/queue.go
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskType 定义任务类型
const (
	TaskTypeSeedMaterials = "seed:materials"
)

// 队列名称, by priority
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

// Queues is the asynq weight map shared by the client and the worker.
var Queues = map[string]int{
	QueueCritical: 6,
	QueueDefault:  3,
	QueueLow:      1,
}

// Queue carries background tasks. CancelByOwner is atomic with respect to
// Enqueue: a task enqueued after a sweep is never lost.
type Queue interface {
	Enqueue(ctx context.Context, task *Task) error
	CancelByOwner(ctx context.Context, ownerID string) (int, error)
	IsCancelled(ctx context.Context, taskID string) (bool, error)
}

// Task is one unit of background work. OwnerID is the id of the seed the
// task belongs to.
type Task struct {
	ID        string                 `json:"id"`
	OwnerID   string                 `json:"ownerId"`
	UserID    string                 `json:"userId"`
	Type      string                 `json:"type"`
	Priority  int                    `json:"priority"`
	Payload   map[string]interface{} `json:"payload"`
	CreatedAt time.Time              `json:"createdAt"`
}

// NewMaterialsTask builds the derived-artifact task for a completed seed.
func NewMaterialsTask(seedID, userID string, materialTypes []string) *Task {
	types := make([]interface{}, len(materialTypes))
	for i, t := range materialTypes {
		types[i] = t
	}
	return &Task{
		ID:        uuid.NewString(),
		OwnerID:   seedID,
		UserID:    userID,
		Type:      TaskTypeSeedMaterials,
		Priority:  2,
		Payload:   map[string]interface{}{"types": types},
		CreatedAt: time.Now().UTC(),
	}
}

// StringSlice reads a []string payload entry.
func (t *Task) StringSlice(key string) []string {
	raw, ok := t.Payload[key]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func (t *Task) validate() error {
	if t.ID == "" || t.OwnerID == "" || t.Type == "" {
		return fmt.Errorf("invalid task: id, owner and type are required")
	}
	return nil
}

// Decode 反序列化任务
func Decode(data []byte) (*Task, error) {
	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	if err := task.validate(); err != nil {
		return nil, err
	}
	return &task, nil
}

func queueFor(priority int) string {
	switch priority {
	case 1:
		return QueueCritical
	case 2:
		return QueueDefault
	default:
		return QueueLow
	}
}
