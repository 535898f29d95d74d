// Package seed runs the ingestion pipeline: extract, validate, explain,
// persist, then hand the seed to the background queue.
package seed

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/feichai0017/seed-processor/internal/agent/explainer"
	"github.com/feichai0017/seed-processor/internal/agent/extractor"
	"github.com/feichai0017/seed-processor/internal/models"
	"github.com/feichai0017/seed-processor/internal/repository"
	"github.com/feichai0017/seed-processor/pkg/logger"
	"github.com/feichai0017/seed-processor/pkg/queue"
	"github.com/feichai0017/seed-processor/pkg/storage"
)

// ErrNotFound is returned for unknown seeds and seeds owned by someone else.
var ErrNotFound = repository.ErrNotFound

// Extractor turns raw content into text.
type Extractor interface {
	Extract(ctx context.Context, src extractor.Source) (*extractor.Result, error)
}

// Validator gates extracted text on length.
type Validator interface {
	Validate(ctx context.Context, text, lang string, kind models.ContentKind) error
}

// ExplanationGenerator produces the seed's explanation.
type ExplanationGenerator interface {
	Generate(ctx context.Context, req explainer.Request, onProgress explainer.ProgressFunc) (*explainer.Explanation, error)
}

// ProgressSink receives the raw stage signals of one ingest call.
type ProgressSink interface {
	Stage(item models.StageItem)
}

// NopSink discards stage signals.
type NopSink struct{}

func (NopSink) Stage(models.StageItem) {}

// SinkFunc adapts a function to ProgressSink.
type SinkFunc func(models.StageItem)

func (f SinkFunc) Stage(item models.StageItem) { f(item) }

// IngestRequest is the caller's input. Upload kinds use Data, text uses
// Text and video uses URL.
type IngestRequest struct {
	UserID       string
	Title        string
	Data         []byte
	Filename     string
	MimeType     string
	Text         string
	URL          string
	LanguageHint string
}

const genericMessage = "Something went wrong while processing your content. Please check your connection and try again."

// IngestError is the single error type returned for every non-validation
// failure.
type IngestError struct {
	Message string
	Err     error
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("ingest failed: %v", e.Err)
}

func (e *IngestError) Unwrap() error { return e.Err }

func (e *IngestError) UserMessage() string { return e.Message }

// Retryable reports whether the underlying failure was transient.
func (e *IngestError) Retryable() bool {
	var ee *extractor.ExtractionError
	if errors.As(e.Err, &ee) {
		return ee.Retryable
	}
	var ge *explainer.GenerationError
	if errors.As(e.Err, &ge) {
		return ge.Retryable
	}
	return false
}

type Config struct {
	MaterialTypes []string
	StoragePrefix string
}

// Dependencies are the collaborators of the pipeline. Storage may be nil.
type Dependencies struct {
	Extractor Extractor
	Validator Validator
	Generator ExplanationGenerator
	Seeds     repository.SeedRepository
	Materials repository.MaterialRepository
	Queue     queue.Queue
	Storage   storage.Storage
	Logger    logger.Logger
}

type Service struct {
	extractor Extractor
	validator Validator
	generator ExplanationGenerator
	seeds     repository.SeedRepository
	materials repository.MaterialRepository
	queue     queue.Queue
	storage   storage.Storage
	logger    logger.Logger
	config    Config
}

func NewService(deps Dependencies, cfg Config) *Service {
	if cfg.StoragePrefix == "" {
		cfg.StoragePrefix = "seeds"
	}
	log := deps.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{
		extractor: deps.Extractor,
		validator: deps.Validator,
		generator: deps.Generator,
		seeds:     deps.Seeds,
		materials: deps.Materials,
		queue:     deps.Queue,
		storage:   deps.Storage,
		logger:    log.Named("seed"),
		config:    cfg,
	}
}

func (s *Service) IngestDocument(ctx context.Context, req IngestRequest, sink ProgressSink) (*models.Seed, error) {
	return s.Ingest(ctx, models.KindDocument, req, sink)
}

func (s *Service) IngestImage(ctx context.Context, req IngestRequest, sink ProgressSink) (*models.Seed, error) {
	return s.Ingest(ctx, models.KindImage, req, sink)
}

func (s *Service) IngestAudio(ctx context.Context, req IngestRequest, sink ProgressSink) (*models.Seed, error) {
	return s.Ingest(ctx, models.KindAudio, req, sink)
}

func (s *Service) IngestText(ctx context.Context, req IngestRequest, sink ProgressSink) (*models.Seed, error) {
	return s.Ingest(ctx, models.KindText, req, sink)
}

func (s *Service) IngestVideo(ctx context.Context, req IngestRequest, sink ProgressSink) (*models.Seed, error) {
	return s.Ingest(ctx, models.KindVideo, req, sink)
}

// GetSeed returns the user's seed.
func (s *Service) GetSeed(ctx context.Context, userID string, id uuid.UUID) (*models.Seed, error) {
	seed, err := s.seeds.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if seed.UserID != userID {
		return nil, ErrNotFound
	}
	return seed, nil
}

// ListSeeds returns a page of the user's seeds, newest first.
func (s *Service) ListSeeds(ctx context.Context, userID string, limit, offset int) ([]*models.Seed, error) {
	return s.seeds.ListByUser(ctx, userID, limit, offset)
}

// ListMaterials returns the derived artifacts generated so far.
func (s *Service) ListMaterials(ctx context.Context, userID string, id uuid.UUID) ([]*models.SeedMaterial, error) {
	if _, err := s.GetSeed(ctx, userID, id); err != nil {
		return nil, err
	}
	return s.materials.ListBySeed(ctx, id)
}

// DeleteSeed cancels the seed's background tasks, then removes the record,
// its materials and the stored upload.
func (s *Service) DeleteSeed(ctx context.Context, userID string, id uuid.UUID) error {
	seed, err := s.GetSeed(ctx, userID, id)
	if err != nil {
		return err
	}
	log := logger.FromContext(ctx, s.logger).With(logger.String("seedId", id.String()))

	n, err := s.queue.CancelByOwner(ctx, id.String())
	if err != nil {
		// the worker skips tasks whose seed is gone
		log.Warn("Failed to cancel background tasks", logger.Error(err))
	} else if n > 0 {
		log.Info("Cancelled background tasks", logger.Int("count", n))
	}

	// seed first: a material committed before this is swept below, one
	// committed after it finds no seed and writes nothing
	if err := s.seeds.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete seed: %w", err)
	}
	if err := s.materials.DeleteBySeed(ctx, id); err != nil {
		return fmt.Errorf("failed to delete materials: %w", err)
	}
	if key := storedKey(seed); key != "" && s.storage != nil {
		if err := s.storage.Delete(ctx, key); err != nil {
			log.Warn("Failed to delete stored upload", logger.String("key", key), logger.Error(err))
		}
	}
	log.Info("Seed deleted")
	return nil
}

// storedKey returns the object key of an upload kept in storage.
func storedKey(seed *models.Seed) string {
	if !seed.ContentType.HasUpload() {
		return ""
	}
	if v, ok := seed.ExtractionMetadata[metaStorageKey].(string); ok {
		return v
	}
	return ""
}
