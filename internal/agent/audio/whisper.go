// Package audio transcribes uploaded recordings with OpenAI Whisper.
package audio

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/feichai0017/seed-processor/internal/agent/extractor"
	"github.com/feichai0017/seed-processor/internal/agent/language"
	"github.com/feichai0017/seed-processor/internal/agent/llm"
	"github.com/feichai0017/seed-processor/internal/models"
	"github.com/feichai0017/seed-processor/pkg/logger"
)

// Whisper accepts at most 25MB per request.
const MaxUploadBytes = 25 << 20

var supportedExt = map[string]bool{
	".mp3": true, ".mp4": true, ".mpeg": true, ".mpga": true,
	".m4a": true, ".wav": true, ".webm": true, ".ogg": true, ".flac": true,
}

var mimeExt = map[string]string{
	"audio/mpeg":  ".mp3",
	"audio/mp3":   ".mp3",
	"audio/mp4":   ".m4a",
	"audio/x-m4a": ".m4a",
	"audio/wav":   ".wav",
	"audio/x-wav": ".wav",
	"audio/webm":  ".webm",
	"audio/ogg":   ".ogg",
	"audio/flac":  ".flac",
}

type transcriber interface {
	CreateTranscription(ctx context.Context, req openai.AudioRequest) (openai.AudioResponse, error)
}

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// WhisperExtractor handles models.KindAudio.
type WhisperExtractor struct {
	client transcriber
	model  string
	logger logger.Logger
}

func NewWhisperExtractor(cfg Config, log logger.Logger) *WhisperExtractor {
	if cfg.Model == "" {
		cfg.Model = openai.Whisper1
	}
	return &WhisperExtractor{
		client: llm.NewOpenAIClient(cfg.APIKey, cfg.BaseURL),
		model:  cfg.Model,
		logger: log.Named("whisper"),
	}
}

func (w *WhisperExtractor) Kind() models.ContentKind { return models.KindAudio }

func (w *WhisperExtractor) Extract(ctx context.Context, src extractor.Source) (*extractor.Result, error) {
	if len(src.Data) == 0 {
		return nil, extractor.Empty("empty recording")
	}
	name, ok := uploadName(src.Filename, src.MimeType)
	if !ok {
		return nil, extractor.Unsupported(strings.TrimPrefix(filepath.Ext(src.Filename), "."))
	}
	if len(src.Data) > MaxUploadBytes {
		return nil, &extractor.ExtractionError{
			Code:    extractor.CodeUnsupportedFormat,
			Detail:  "recording larger than 25MB",
			Message: "This recording is too large. Please upload audio under 25 MB.",
		}
	}

	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: name,
		Reader:   bytes.NewReader(src.Data),
		Format:   openai.AudioResponseFormatVerboseJSON,
		Language: language.Normalize(src.LanguageHint),
	})
	if err != nil {
		return nil, extractor.Remote(fmt.Errorf("failed to transcribe audio: %w", err), llm.Retryable(err))
	}

	res := &extractor.Result{
		Text:       strings.TrimSpace(resp.Text),
		Language:   language.FromName(resp.Language),
		Confidence: segmentConfidence(resp),
	}
	res.SetMeta("duration_seconds", math.Round(resp.Duration*10)/10)
	res.SetMeta("segments", len(resp.Segments))
	res.SetMeta("transcription_model", w.model)

	w.logger.Debug("transcription finished",
		logger.Float64("duration", resp.Duration),
		logger.String("language", res.Language),
	)
	return extractor.NonEmpty(res, "no speech detected")
}

// segmentConfidence averages exp(avg_logprob) weighted by speech probability.
func segmentConfidence(resp openai.AudioResponse) float64 {
	if len(resp.Segments) == 0 {
		return 0.9
	}
	var total float64
	for _, s := range resp.Segments {
		total += math.Exp(s.AvgLogprob) * (1 - s.NoSpeechProb)
	}
	return math.Max(0, math.Min(1, total/float64(len(resp.Segments))))
}

// uploadName picks a filename whose extension Whisper recognises.
func uploadName(filename, mimeType string) (string, bool) {
	ext := strings.ToLower(filepath.Ext(filename))
	if supportedExt[ext] {
		return filepath.Base(filename), true
	}
	if e, ok := mimeExt[strings.ToLower(strings.Split(mimeType, ";")[0])]; ok {
		return "recording" + e, true
	}
	return "", false
}
