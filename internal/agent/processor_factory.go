package agent

import (
	"context"
	"fmt"
	"time"

	cfg "github.com/feichai0017/seed-processor/config"
	"github.com/feichai0017/seed-processor/internal/agent/audio"
	"github.com/feichai0017/seed-processor/internal/agent/document"
	"github.com/feichai0017/seed-processor/internal/agent/document/image"
	"github.com/feichai0017/seed-processor/internal/agent/extractor"
	"github.com/feichai0017/seed-processor/internal/agent/language"
	"github.com/feichai0017/seed-processor/internal/agent/text"
	"github.com/feichai0017/seed-processor/internal/agent/video"
	"github.com/feichai0017/seed-processor/internal/models"
	"github.com/feichai0017/seed-processor/pkg/logger"
)

// ExtractorFactory dispatches a Source to the extractor registered for its
// kind and fills in the language when the extractor could not tell.
type ExtractorFactory struct {
	extractors map[models.ContentKind]extractor.Extractor
	logger     logger.Logger
}

// NewFactory registers the given extractors. A later extractor for the same
// kind replaces an earlier one.
func NewFactory(log logger.Logger, extractors ...extractor.Extractor) *ExtractorFactory {
	f := &ExtractorFactory{
		extractors: make(map[models.ContentKind]extractor.Extractor, len(extractors)),
		logger:     log.Named("extractor"),
	}
	for _, e := range extractors {
		f.extractors[e.Kind()] = e
	}
	return f
}

// NewExtractorFactory wires every content kind from environment config.
func NewExtractorFactory(ctx context.Context, log logger.Logger) (*ExtractorFactory, error) {
	textractCfg := cfg.GetTextractConfig()
	llmCfg := cfg.GetLLMConfig()

	// 初始化 OCR 处理器
	ocr, err := image.New(ctx, textractCfg.Backend,
		&image.TextractConfig{
			Region:        textractCfg.Region,
			Endpoint:      textractCfg.Endpoint,
			AccessKey:     textractCfg.AccessKey,
			SecretKey:     textractCfg.SecretKey,
			MinConfidence: textractCfg.MinConfidence,
			EnableTable:   true,
			EnableForm:    true,
		},
		&image.TesseractOptions{
			Languages:     textractCfg.Languages,
			MinConfidence: float64(textractCfg.MinConfidence),
		},
		log,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ocr extractor: %w", err)
	}

	return NewFactory(log,
		document.NewExtractor(log, ocr),
		ocr,
		audio.NewWhisperExtractor(audio.Config{
			APIKey:  llmCfg.OpenAIKey,
			BaseURL: llmCfg.OpenAIBaseURL,
			Model:   llmCfg.WhisperModel,
		}, log),
		text.NewExtractor(),
		video.NewCaptionExtractor(video.Config{}, log),
	), nil
}

// Extract runs the extractor for src.Kind.
func (f *ExtractorFactory) Extract(ctx context.Context, src extractor.Source) (*extractor.Result, error) {
	ex, ok := f.extractors[src.Kind]
	if !ok {
		f.logger.Error("No extractor registered", logger.String("kind", string(src.Kind)))
		return nil, extractor.Unsupported(string(src.Kind))
	}

	start := time.Now()
	res, err := ex.Extract(ctx, src)
	if err != nil {
		f.logger.Warn("Extraction failed",
			logger.String("kind", string(src.Kind)),
			logger.Duration("elapsed", time.Since(start)),
			logger.Error(err),
		)
		return nil, err
	}

	if res.Language == "" {
		det := language.Detect(res.Text)
		res.Language = det.Code
		res.SetMeta("language_detection", det.Method)
	} else {
		res.Language = language.Normalize(res.Language)
	}

	f.logger.Info("Extraction finished",
		logger.String("kind", string(src.Kind)),
		logger.String("language", res.Language),
		logger.Int("characters", len([]rune(res.Text))),
		logger.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

// Supports reports whether an extractor is registered for kind.
func (f *ExtractorFactory) Supports(kind models.ContentKind) bool {
	_, ok := f.extractors[kind]
	return ok
}
