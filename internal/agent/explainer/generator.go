// Package explainer writes the study explanation for a piece of extracted text.
package explainer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/feichai0017/seed-processor/internal/agent/language"
	"github.com/feichai0017/seed-processor/internal/agent/llm"
	"github.com/feichai0017/seed-processor/pkg/logger"
)

const (
	maxInputRunes    = 60000
	minExpectedChars = 1500
	maxExpectedChars = 6000
	progressCap      = 0.95
	progressStep     = 0.02
)

// GenerationError is returned for any failed generation.
type GenerationError struct {
	Retryable bool
	Err       error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("explanation generation failed (retryable=%t): %v", e.Retryable, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// ErrEmptyOutput is wrapped when the model returned nothing usable.
var ErrEmptyOutput = errors.New("model returned an empty explanation")

// ProgressFunc receives non-decreasing fractions in [0,1].
type ProgressFunc func(fraction float64, message string)

type Request struct {
	Text     string
	Title    string
	Language string
}

// Explanation is the parsed model output.
type Explanation struct {
	Text               string
	Intent             string
	ConfidenceMetadata map[string]interface{}
}

type Config struct {
	MaxTokens   int
	MaxAttempts int
	Backoff     time.Duration
}

type Generator struct {
	provider llm.Provider
	logger   logger.Logger
	cfg      Config
}

func NewGenerator(provider llm.Provider, log logger.Logger, cfg Config) *Generator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 2
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	return &Generator{
		provider: provider,
		logger:   log.Named("explainer"),
		cfg:      cfg,
	}
}

// Generate streams the explanation. onProgress may be nil. A retryable failure
// is retried only while nothing has been streamed yet, so reported progress
// never has to move backwards.
func (g *Generator) Generate(ctx context.Context, req Request, onProgress ProgressFunc) (*Explanation, error) {
	input, truncated := truncateRunes(req.Text, maxInputRunes)
	tracker := newProgressTracker(expectedChars(input), onProgress)

	llmReq := llm.Request{
		System:      systemPrompt(req.Language),
		Prompt:      userPrompt(req.Title, input),
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: 0.4,
	}

	var (
		resp *llm.Response
		err  error
	)
	for attempt := 1; attempt <= g.cfg.MaxAttempts; attempt++ {
		resp, err = g.provider.Stream(ctx, llmReq, tracker.add)
		if err == nil || !llm.Retryable(err) || tracker.started() || attempt == g.cfg.MaxAttempts {
			break
		}
		g.logger.Warn("Generation failed, retrying",
			logger.Int("attempt", attempt),
			logger.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil, &GenerationError{Err: ctx.Err()}
		case <-time.After(g.cfg.Backoff * time.Duration(attempt)):
		}
	}
	if err != nil {
		return nil, &GenerationError{Retryable: llm.Retryable(err), Err: fmt.Errorf("failed to stream explanation: %w", err)}
	}

	intent, body, tagged := Parse(resp.Text)
	if strings.TrimSpace(body) == "" {
		return nil, &GenerationError{Retryable: true, Err: ErrEmptyOutput}
	}
	tracker.finish()

	return &Explanation{
		Text:   body,
		Intent: intent,
		ConfidenceMetadata: map[string]interface{}{
			"provider":        g.provider.Name(),
			"model":           resp.Model,
			"input_tokens":    resp.InputTokens,
			"output_tokens":   resp.OutputTokens,
			"characters":      utf8.RuneCountInString(body),
			"intent_tagged":   tagged,
			"input_truncated": truncated,
		},
	}, nil
}

func expectedChars(input string) int {
	n := utf8.RuneCountInString(input) * 2 / 5
	return max(minExpectedChars, min(maxExpectedChars, n))
}

func truncateRunes(s string, limit int) (string, bool) {
	if utf8.RuneCountInString(s) <= limit {
		return s, false
	}
	return string([]rune(s)[:limit]), true
}

// progressTracker converts streamed characters into coarse progress updates.
type progressTracker struct {
	mu       sync.Mutex
	expected int
	received int
	last     float64
	fn       ProgressFunc
}

func newProgressTracker(expected int, fn ProgressFunc) *progressTracker {
	return &progressTracker{expected: expected, fn: fn}
}

func (p *progressTracker) add(delta string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.received += utf8.RuneCountInString(delta)
	frac := min(progressCap, float64(p.received)/float64(p.expected))
	if frac-p.last < progressStep {
		return
	}
	p.last = frac
	if p.fn != nil {
		p.fn(frac, "Writing your explanation")
	}
}

func (p *progressTracker) started() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.received > 0
}

func (p *progressTracker) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = 1
	if p.fn != nil {
		p.fn(1, "Explanation ready")
	}
}

func systemPrompt(lang string) string {
	name := language.Name(lang)
	if name == "" {
		name = language.Name(language.Default)
	}
	return fmt.Sprintf(`You are a patient tutor turning a student's study material into a clear explanation.

The first line of your answer must be exactly "INTENT: <intent>" where <intent> is one of %s, describing what the student most likely wants to do with this material.
After that line, write the explanation in Markdown: a short overview, the key ideas with brief explanations, and any formulas or definitions worth memorising.
Write everything after the INTENT line in %s. Do not invent facts that are not supported by the material.`,
		strings.Join(Intents, ", "), name)
}

func userPrompt(title, text string) string {
	var b strings.Builder
	if title != "" {
		fmt.Fprintf(&b, "Title: %s\n\n", title)
	}
	b.WriteString("Study material:\n<<<\n")
	b.WriteString(text)
	b.WriteString("\n>>>")
	return b.String()
}
