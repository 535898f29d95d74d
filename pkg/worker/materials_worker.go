package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/feichai0017/seed-processor/internal/agent/materials"
	"github.com/feichai0017/seed-processor/internal/models"
	"github.com/feichai0017/seed-processor/internal/repository"
	"github.com/feichai0017/seed-processor/pkg/logger"
	"github.com/feichai0017/seed-processor/pkg/metrics"
	"github.com/feichai0017/seed-processor/pkg/queue"
)

// MaterialGenerator produces one artifact for a seed.
type MaterialGenerator interface {
	Generate(ctx context.Context, kind string, src materials.Source) (string, error)
}

// MaterialsHandler generates the derived artifacts of a completed seed. It
// only ever adds material rows and flips materials_status entries; a failure
// leaves the seed as it was.
type MaterialsHandler struct {
	seeds     repository.SeedRepository
	materials repository.MaterialRepository
	generator MaterialGenerator
	queue     queue.Queue
	logger    logger.Logger
}

func NewMaterialsHandler(
	seeds repository.SeedRepository,
	mats repository.MaterialRepository,
	generator MaterialGenerator,
	q queue.Queue,
	log logger.Logger,
) *MaterialsHandler {
	return &MaterialsHandler{
		seeds:     seeds,
		materials: mats,
		generator: generator,
		queue:     q,
		logger:    log.Named("materials_worker"),
	}
}

func (h *MaterialsHandler) cancelled(ctx context.Context, task *queue.Task) bool {
	c, err := h.queue.IsCancelled(ctx, task.ID)
	if err != nil {
		h.logger.Warn("Failed to read cancel flag", logger.String("taskId", task.ID), logger.Error(err))
		return false
	}
	return c
}

// Handle processes one seed:materials task.
func (h *MaterialsHandler) Handle(ctx context.Context, task *queue.Task) error {
	log := h.logger.With(logger.String("taskId", task.ID), logger.String("seedId", task.OwnerID))

	if h.cancelled(ctx, task) {
		log.Info("Task cancelled, skipping")
		return nil
	}

	seedID, err := uuid.Parse(task.OwnerID)
	if err != nil {
		return fmt.Errorf("invalid seed id %q: %w", task.OwnerID, err)
	}
	seed, err := h.seeds.GetByID(ctx, seedID)
	if errors.Is(err, repository.ErrNotFound) {
		log.Info("Seed no longer exists, skipping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load seed: %w", err)
	}
	if seed.ProcessingStatus != models.StatusCompleted {
		log.Warn("Seed not completed, skipping", logger.String("status", string(seed.ProcessingStatus)))
		return nil
	}

	types := task.StringSlice("types")
	if len(types) == 0 {
		types = materials.DefaultTypes
	}
	statuses := seed.MaterialsStatus()
	src := materials.Source{
		Title:       seed.Title,
		Text:        seed.ExtractedText,
		Explanation: seed.Explanation,
		Language:    seed.Language,
	}

	var errs []error
	for _, kind := range types {
		if statuses[kind] == models.MaterialCompleted {
			continue
		}
		if h.cancelled(ctx, task) {
			log.Info("Task cancelled mid-run")
			return nil
		}
		err := h.generate(ctx, seed, kind, src)
		if errors.Is(err, repository.ErrNotFound) {
			// deleted while the model call was in flight
			log.Info("Seed deleted mid-run, stopping", logger.String("type", kind))
			return nil
		}
		if err != nil {
			metrics.MaterialsTotal.WithLabelValues(kind, metrics.OutcomeFailure).Inc()
			log.Error("Failed to generate material", logger.String("type", kind), logger.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", kind, err))
			continue
		}
		metrics.MaterialsTotal.WithLabelValues(kind, metrics.OutcomeSuccess).Inc()
		log.Info("Material generated", logger.String("type", kind))
	}
	return errors.Join(errs...)
}

func (h *MaterialsHandler) generate(ctx context.Context, seed *models.Seed, kind string, src materials.Source) error {
	content, err := h.generator.Generate(ctx, kind, src)
	if err != nil {
		return err
	}
	return h.materials.Complete(ctx, &models.SeedMaterial{
		SeedID:  seed.ID,
		UserID:  seed.UserID,
		Type:    kind,
		Content: content,
	})
}

// ProcessTask adapts Handle to asynq. Undecodable payloads are not retried.
func (h *MaterialsHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	task, err := queue.Decode(t.Payload())
	if err != nil {
		h.logger.Error("Failed to decode task",
			logger.Error(err),
			logger.String("payload", string(t.Payload())),
		)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return h.Handle(ctx, task)
}

// MaterialsWorker serves seed:materials tasks from asynq.
type MaterialsWorker struct {
	BaseWorker
	handler *MaterialsHandler
}

func NewMaterialsWorker(cfg *Config, handler *MaterialsHandler, log logger.Logger) *MaterialsWorker {
	if cfg.Queues == nil {
		cfg.Queues = queue.Queues
	}
	w := &MaterialsWorker{
		BaseWorker: newBaseWorker(cfg, log),
		handler:    handler,
	}
	// 注册任务处理器
	w.mux.Handle(queue.TaskTypeSeedMaterials, handler)
	return w
}
