package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/feichai0017/seed-processor/pkg/logger"
)

const (
	ownerKeyPrefix     = "seed:queue:owner:"
	cancelledKeyPrefix = "seed:queue:cancelled:"

	ownerIndexTTL = 7 * 24 * time.Hour
	cancelledTTL  = 24 * time.Hour
)

// QueueConfig 定义队列配置
type QueueConfig struct {
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	MaxRetries     int
	ProcessTimeout time.Duration
	ProcessIn      time.Duration
}

// AsynqQueue is the Redis-backed Queue. The owner index is a Redis set per
// seed next to the asynq keys.
type AsynqQueue struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	redis     *redis.Client
	cfg       QueueConfig
	logger    logger.Logger
}

// NewAsynqQueue 创建新的队列实例
func NewAsynqQueue(cfg QueueConfig, log logger.Logger) *AsynqQueue {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = 10 * time.Minute
	}
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	return &AsynqQueue{
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
		redis: redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}),
		cfg:    cfg,
		logger: log.Named("queue"),
	}
}

// Enqueue hands the task to asynq, then records it under its owner.
func (q *AsynqQueue) Enqueue(ctx context.Context, task *Task) error {
	if err := task.validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	opts := []asynq.Option{
		asynq.MaxRetry(q.cfg.MaxRetries),
		asynq.Timeout(q.cfg.ProcessTimeout),
		asynq.TaskID(task.ID),
		asynq.Queue(queueFor(task.Priority)),
	}
	if q.cfg.ProcessIn > 0 {
		opts = append(opts, asynq.ProcessIn(q.cfg.ProcessIn))
	}

	info, err := q.client.EnqueueContext(ctx, asynq.NewTask(task.Type, payload), opts...)
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	task.ID = info.ID

	// indexed after the enqueue: a sweep that runs in between misses the
	// task instead of dropping it
	ownerKey := ownerKeyPrefix + task.OwnerID
	_, err = q.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, ownerKey, task.ID)
		pipe.Expire(ctx, ownerKey, ownerIndexTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to index task: %w", err)
	}

	q.logger.Debug("Task enqueued",
		logger.String("taskId", task.ID),
		logger.String("ownerId", task.OwnerID),
		logger.String("queue", info.Queue),
	)
	return nil
}

// CancelByOwner drains the owner's index, flags every task cancelled and
// removes it from asynq.
func (q *AsynqQueue) CancelByOwner(ctx context.Context, ownerID string) (int, error) {
	ownerKey := ownerKeyPrefix + ownerID

	var members *redis.StringSliceCmd
	_, err := q.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		members = pipe.SMembers(ctx, ownerKey)
		pipe.Del(ctx, ownerKey)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to drain owner index: %w", err)
	}

	ids := members.Val()
	if len(ids) == 0 {
		return 0, nil
	}

	_, err = q.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			pipe.Set(ctx, cancelledKeyPrefix+id, ownerID, cancelledTTL)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to flag cancelled tasks: %w", err)
	}

	for _, id := range ids {
		if err := q.cancelTask(id); err != nil {
			// the flag alone stops the worker
			q.logger.Warn("Failed to remove task from queue",
				logger.String("taskId", id),
				logger.Error(err),
			)
		}
	}

	q.logger.Info("Cancelled tasks by owner",
		logger.String("ownerId", ownerID),
		logger.Int("count", len(ids)),
	)
	return len(ids), nil
}

// cancelTask 尝试在所有队列中取消任务
func (q *AsynqQueue) cancelTask(taskID string) error {
	for queueName := range Queues {
		info, err := q.inspector.GetTaskInfo(queueName, taskID)
		if err != nil {
			continue
		}
		switch info.State {
		case asynq.TaskStateActive:
			return q.inspector.CancelProcessing(taskID)
		case asynq.TaskStateCompleted, asynq.TaskStateArchived:
			return nil
		default:
			return q.inspector.DeleteTask(queueName, taskID)
		}
	}
	return nil
}

func (q *AsynqQueue) IsCancelled(ctx context.Context, taskID string) (bool, error) {
	n, err := q.redis.Exists(ctx, cancelledKeyPrefix+taskID).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("failed to read cancel flag: %w", err)
	}
	return n > 0, nil
}

// OwnerTasks returns the ids currently indexed under ownerID.
func (q *AsynqQueue) OwnerTasks(ctx context.Context, ownerID string) ([]string, error) {
	return q.redis.SMembers(ctx, ownerKeyPrefix+ownerID).Result()
}

func (q *AsynqQueue) Close() error {
	q.inspector.Close()
	if err := q.client.Close(); err != nil {
		return err
	}
	return q.redis.Close()
}
