// Package extractor defines the contract every content-kind extractor
// implements: raw bytes or a URL in, plain text plus metadata out.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/feichai0017/seed-processor/internal/models"
)

// Extractor converts one kind of raw content into text. Implementations must
// not persist anything; the only side effect is the remote call.
type Extractor interface {
	Kind() models.ContentKind
	Extract(ctx context.Context, src Source) (*Result, error)
}

// Source is the raw input of an extraction.
type Source struct {
	Kind         models.ContentKind
	Data         []byte
	Text         string
	URL          string
	Filename     string
	MimeType     string
	LanguageHint string
}

// Result is the normalized output of an extraction.
type Result struct {
	Text       string
	Language   string
	Confidence float64
	Metadata   map[string]interface{}
}

// SetMeta writes a metadata key, allocating the map if needed.
func (r *Result) SetMeta(key string, value interface{}) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]interface{})
	}
	r.Metadata[key] = value
}

// Code classifies an extraction failure.
type Code string

const (
	CodeEmptyResult       Code = "EMPTY_RESULT"
	CodeUnsupportedFormat Code = "UNSUPPORTED_FORMAT"
	CodeRemoteFailure     Code = "REMOTE_FAILURE"
)

// ExtractionError is returned by every extractor.
type ExtractionError struct {
	Code      Code
	Retryable bool
	Detail    string
	Message   string // overrides the default user message
	Err       error
}

func (e *ExtractionError) Error() string {
	msg := fmt.Sprintf("extraction failed (%s)", e.Code)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// UserMessage is set only for failures the user can act on.
func (e *ExtractionError) UserMessage() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code == CodeUnsupportedFormat {
		if e.Detail != "" {
			return fmt.Sprintf("This file format isn't supported (%s). Please upload a PDF, Word document, image, or audio file.", e.Detail)
		}
		return "This file format isn't supported. Please upload a PDF, Word document, image, or audio file."
	}
	return ""
}

// Empty reports an extraction that produced no usable text.
func Empty(detail string) *ExtractionError {
	return &ExtractionError{Code: CodeEmptyResult, Detail: detail}
}

// Unsupported reports an input format no extractor handles.
func Unsupported(format string) *ExtractionError {
	return &ExtractionError{Code: CodeUnsupportedFormat, Detail: format}
}

// Remote wraps a failed remote call.
func Remote(err error, retryable bool) *ExtractionError {
	return &ExtractionError{Code: CodeRemoteFailure, Retryable: retryable, Err: err}
}

// IsEmpty reports whether err is an EMPTY_RESULT extraction error.
func IsEmpty(err error) bool {
	var ee *ExtractionError
	return errors.As(err, &ee) && ee.Code == CodeEmptyResult
}

// NonEmpty returns an EMPTY_RESULT error when text has no visible content.
func NonEmpty(res *Result, detail string) (*Result, error) {
	if res == nil || strings.TrimSpace(res.Text) == "" {
		return nil, Empty(detail)
	}
	return res, nil
}

// JoinChunks merges chunk contents into one text block and averages any
// per-chunk "confidence" values.
func JoinChunks(chunks []models.DocumentChunk, sep string) (string, float64) {
	parts := make([]string, 0, len(chunks))
	var total float64
	var n int
	for _, c := range chunks {
		if s := strings.TrimSpace(c.Content); s != "" {
			parts = append(parts, s)
		}
		if conf, ok := c.Metadata["confidence"].(float64); ok {
			total += conf
			n++
		}
	}
	confidence := 1.0
	if n > 0 {
		confidence = total / float64(n)
	}
	return strings.Join(parts, sep), confidence
}
