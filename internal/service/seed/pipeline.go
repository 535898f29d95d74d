package seed

import (
	"bytes"
	"context"
	"errors"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/feichai0017/seed-processor/internal/agent/explainer"
	"github.com/feichai0017/seed-processor/internal/agent/extractor"
	"github.com/feichai0017/seed-processor/internal/agent/language"
	"github.com/feichai0017/seed-processor/internal/models"
	"github.com/feichai0017/seed-processor/internal/utils/validator"
	"github.com/feichai0017/seed-processor/pkg/logger"
	"github.com/feichai0017/seed-processor/pkg/metrics"
	"github.com/feichai0017/seed-processor/pkg/queue"
	"github.com/feichai0017/seed-processor/pkg/storage"
)

const (
	metaStorageKey   = "storage_key"
	metaExplanation  = "explanation"
	generatingNudge  = 0.02
	rollbackTimeout  = 10 * time.Second
	maxDerivedTitle  = 60
	sourceRefInline  = "inline"
	sourceRefPending = "upload"
)

// ingestion is the state of one Ingest call.
type ingestion struct {
	kind   models.ContentKind
	req    IngestRequest
	sink   ProgressSink
	log    logger.Logger
	record *models.Seed
	key    string
}

// Ingest runs the pipeline for kind. A *validator.ValidationError is returned
// verbatim; every other failure comes back as *IngestError. Any record created
// along the way is deleted before a failure is returned.
func (s *Service) Ingest(ctx context.Context, kind models.ContentKind, req IngestRequest, sink ProgressSink) (*models.Seed, error) {
	if sink == nil {
		sink = NopSink{}
	}
	in := &ingestion{
		kind: kind,
		req:  req,
		sink: sink,
		log:  logger.FromContext(ctx, s.logger).With(logger.String("kind", string(kind))),
	}

	start := time.Now()
	seed, err := s.run(ctx, in)
	if err == nil {
		metrics.ObserveIngest(string(kind), metrics.OutcomeSuccess, time.Since(start))
		in.log.Info("Seed ingested",
			logger.String("seedId", seed.ID.String()),
			logger.Duration("elapsed", time.Since(start)),
		)
		return seed, nil
	}

	if in.record != nil {
		s.rollback(ctx, in)
	}

	if ve, ok := validator.AsValidationError(err); ok {
		metrics.ObserveIngest(string(kind), metrics.OutcomeValidation, time.Since(start))
		in.log.Info("Content rejected", logger.String("code", string(ve.Code)), logger.Int("units", ve.Units))
		return nil, ve
	}

	metrics.ObserveIngest(string(kind), metrics.OutcomeFailure, time.Since(start))
	in.log.Error("Ingest failed", logger.Error(err), logger.Duration("elapsed", time.Since(start)))
	return nil, normalize(err)
}

func (s *Service) run(ctx context.Context, in *ingestion) (*models.Seed, error) {
	kind := in.kind

	// 1. validating
	in.sink.Stage(models.NewStageItem(models.StageValidating, validatingMessage(kind)))

	// 2. upload kinds get their record before extraction
	if kind.HasUpload() {
		in.record = models.NewSeed(in.req.UserID, in.req.Title, kind)
		in.record.SourceRef = sourceRefPending
		if in.req.Filename != "" {
			in.record.ExtractionMetadata["filename"] = in.req.Filename
		}
		if err := s.seeds.Create(ctx, in.record); err != nil {
			in.record = nil
			return nil, err
		}
		if err := s.storeUpload(ctx, in); err != nil {
			return nil, err
		}
	}

	// 3. extracting
	if err := s.setStatus(ctx, in, models.StatusExtracting); err != nil {
		return nil, err
	}
	in.sink.Stage(models.NewStageItem(models.StageReading, readingMessage(kind)))

	res, err := s.extractor.Extract(ctx, s.source(in))
	switch {
	case err == nil:
	case extractor.IsEmpty(err):
		// the validator turns this into the kind-specific message
		in.log.Info("Extraction found no text", logger.Error(err))
		res = &extractor.Result{Language: language.Normalize(in.req.LanguageHint)}
	default:
		return nil, err
	}
	if res.Language == "" {
		res.Language = language.Default
	}

	// 4. validate
	if err := s.validator.Validate(ctx, res.Text, res.Language, kind); err != nil {
		return nil, err
	}

	// 5.
	in.sink.Stage(models.NewStageItem(models.StageExtracting, "Pulling out the key ideas"))

	// 6. analyzing
	if in.record == nil {
		in.record = models.NewSeed(in.req.UserID, in.req.Title, kind)
		in.record.SourceRef = s.sourceRef(in)
		if err := s.seeds.Create(ctx, in.record); err != nil {
			in.record = nil
			return nil, err
		}
	}
	record := in.record
	record.ExtractedText = res.Text
	record.Language = res.Language
	record.Confidence = res.Confidence
	for k, v := range res.Metadata {
		record.ExtractionMetadata[k] = v
	}
	if record.Title == "" {
		record.Title = deriveTitle(in.req, res)
	}
	if err := s.setStatus(ctx, in, models.StatusAnalyzing); err != nil {
		return nil, err
	}

	lo, hi := models.StageExtracting.Target(), models.StageGenerating.Target()
	in.sink.Stage(models.NewStageItem(models.StageGenerating, "Writing your explanation").WithTarget(lo + generatingNudge))
	exp, err := s.generator.Generate(ctx, explainer.Request{
		Text:     record.ExtractedText,
		Title:    record.Title,
		Language: record.Language,
	}, func(fraction float64, message string) {
		target := lo + fraction*(hi-lo)
		if target < lo+generatingNudge {
			return
		}
		if message == "" {
			message = "Writing your explanation"
		}
		in.sink.Stage(models.NewStageItem(models.StageGenerating, message).WithTarget(target))
	})
	if err != nil {
		return nil, err
	}

	// 7.
	in.sink.Stage(models.NewStageItem(models.StageGenerating, "Explanation ready"))
	in.sink.Stage(models.NewStageItem(models.StageFinalizing, "Saving your seed"))

	// 8. completed
	record.Explanation = exp.Text
	record.Intent = exp.Intent
	record.ExtractionMetadata[metaExplanation] = exp.ConfidenceMetadata
	record.ExtractionMetadata[models.MetaMaterialsStatus] = s.pendingMaterials()
	record.ProcessingStatus = models.StatusCompleted
	if err := record.Validate(); err != nil {
		return nil, err
	}
	if err := s.seeds.Update(ctx, record); err != nil {
		return nil, err
	}

	// 9. never rolled back from here on
	s.enqueueMaterials(ctx, in)
	final := record
	if fetched, err := s.seeds.GetByID(ctx, record.ID); err != nil {
		in.log.Warn("Failed to re-fetch completed seed", logger.String("seedId", record.ID.String()), logger.Error(err))
	} else {
		final = fetched
	}
	in.record = nil

	// 10.
	in.sink.Stage(models.NewStageItem(models.StageCompleted, "Your seed is ready"))
	return final, nil
}

func (s *Service) setStatus(ctx context.Context, in *ingestion, status models.ProcessingStatus) error {
	if in.record == nil {
		return nil
	}
	in.record.ProcessingStatus = status
	return s.seeds.Update(ctx, in.record)
}

func (s *Service) storeUpload(ctx context.Context, in *ingestion) error {
	if s.storage == nil || len(in.req.Data) == 0 {
		if in.req.Filename != "" {
			in.record.SourceRef = in.req.Filename
		}
		return nil
	}
	key := storage.ObjectKey(s.config.StoragePrefix, in.req.UserID, in.record.ID.String(), in.req.Filename)
	stored, err := s.storage.Store(ctx, key, bytes.NewReader(in.req.Data), int64(len(in.req.Data)), in.req.MimeType)
	if err != nil {
		return err
	}
	in.key = stored
	in.record.SourceRef = stored
	in.record.ExtractionMetadata[metaStorageKey] = stored
	return nil
}

func (s *Service) source(in *ingestion) extractor.Source {
	return extractor.Source{
		Kind:         in.kind,
		Data:         in.req.Data,
		Text:         in.req.Text,
		URL:          strings.TrimSpace(in.req.URL),
		Filename:     in.req.Filename,
		MimeType:     in.req.MimeType,
		LanguageHint: in.req.LanguageHint,
	}
}

func (s *Service) sourceRef(in *ingestion) string {
	if in.kind == models.KindVideo {
		return strings.TrimSpace(in.req.URL)
	}
	return sourceRefInline
}

func (s *Service) pendingMaterials() map[string]string {
	out := make(map[string]string, len(s.config.MaterialTypes))
	for _, t := range s.config.MaterialTypes {
		out[t] = models.MaterialPending
	}
	return out
}

func (s *Service) enqueueMaterials(ctx context.Context, in *ingestion) {
	task := queue.NewMaterialsTask(in.record.ID.String(), in.record.UserID, s.config.MaterialTypes)
	if err := s.queue.Enqueue(ctx, task); err != nil {
		metrics.EnqueueFailures.Inc()
		in.log.Error("Failed to enqueue materials task",
			logger.String("seedId", in.record.ID.String()),
			logger.Error(err),
		)
		return
	}
	in.log.Debug("Materials task enqueued",
		logger.String("seedId", in.record.ID.String()),
		logger.String("taskId", task.ID),
	)
}

// rollback deletes the partial record and its upload. Failures are logged and
// never replace the original error.
func (s *Service) rollback(ctx context.Context, in *ingestion) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()

	metrics.RollbacksTotal.WithLabelValues(string(in.kind)).Inc()
	id := in.record.ID.String()
	if err := s.seeds.Delete(ctx, in.record.ID); err != nil {
		in.log.Error("Rollback failed", logger.String("seedId", id), logger.Error(err))
	} else {
		in.log.Warn("Rolled back partial seed", logger.String("seedId", id))
	}
	if in.key != "" && s.storage != nil {
		if err := s.storage.Delete(ctx, in.key); err != nil {
			in.log.Error("Failed to delete upload during rollback", logger.String("key", in.key), logger.Error(err))
		}
	}
	in.record = nil
}

// normalize wraps err for the caller, keeping any message written for users.
func normalize(err error) error {
	var ie *IngestError
	if errors.As(err, &ie) {
		return ie
	}
	msg := genericMessage
	var um interface{ UserMessage() string }
	if errors.As(err, &um) {
		if m := um.UserMessage(); m != "" {
			msg = m
		}
	}
	return &IngestError{Message: msg, Err: err}
}

func deriveTitle(req IngestRequest, res *extractor.Result) string {
	for _, key := range []string{"video_title", "title"} {
		if v, ok := res.Metadata[key].(string); ok && strings.TrimSpace(v) != "" {
			return truncateTitle(v)
		}
	}
	if req.Filename != "" {
		name := path.Base(strings.ReplaceAll(req.Filename, "\\", "/"))
		return truncateTitle(strings.TrimSuffix(name, path.Ext(name)))
	}
	line := strings.TrimSpace(res.Text)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	return truncateTitle(line)
}

func truncateTitle(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= maxDerivedTitle {
		return s
	}
	r := []rune(s)[:maxDerivedTitle]
	cut := string(r)
	if i := strings.LastIndexByte(cut, ' '); i > maxDerivedTitle/2 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut) + "…"
}

func validatingMessage(kind models.ContentKind) string {
	switch kind {
	case models.KindText:
		return "Checking your text"
	case models.KindVideo:
		return "Checking the video link"
	default:
		return "Checking your file"
	}
}

func readingMessage(kind models.ContentKind) string {
	switch kind {
	case models.KindDocument:
		return "Reading your document"
	case models.KindImage:
		return "Scanning your image"
	case models.KindAudio:
		return "Transcribing your audio"
	case models.KindVideo:
		return "Fetching the video's captions"
	default:
		return "Reading your text"
	}
}
