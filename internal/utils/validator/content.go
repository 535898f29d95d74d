// Package validator checks extracted content and raw uploads before they are
// allowed into the pipeline.
package validator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/dustin/go-humanize"

	"github.com/feichai0017/seed-processor/internal/agent/language"
	"github.com/feichai0017/seed-processor/internal/models"
	"github.com/feichai0017/seed-processor/pkg/logger"
	"github.com/feichai0017/seed-processor/pkg/settings"
)

// MinUnits is the smallest amount of content worth studying.
const MinUnits = 20

const (
	CodeTooShort        = "TOO_SHORT"
	CodeTooLong         = "TOO_LONG"
	CodeFileTooLarge    = "FILE_TOO_LARGE"
	CodeInvalidFileType = "INVALID_FILE_TYPE"
)

// Unit is what content length is measured in.
type Unit string

const (
	UnitWords      Unit = "words"
	UnitCharacters Unit = "characters"
)

// ValidationError is a rejected input. Message is shown to the user as is.
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	Units   int    `json:"units,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed (%s): %s", e.Code, e.Message)
}

func (e *ValidationError) UserMessage() string { return e.Message }

// AsValidationError unwraps err into a *ValidationError.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	ok := errors.As(err, &ve)
	return ve, ok
}

// Count measures text in the unit appropriate to lang: non-space runes for
// logographic scripts, whitespace-delimited words otherwise.
func Count(text, lang string) (int, Unit) {
	if language.IsLogographic(lang) {
		n := 0
		for _, r := range text {
			if !unicode.IsSpace(r) {
				n++
			}
		}
		return n, UnitCharacters
	}
	return len(strings.Fields(text)), UnitWords
}

// ContentValidator enforces the minimum and maximum content size.
type ContentValidator struct {
	settings settings.Provider
	logger   logger.Logger
}

func NewContentValidator(provider settings.Provider, log logger.Logger) *ContentValidator {
	return &ContentValidator{
		settings: provider,
		logger:   log.Named("validator"),
	}
}

// Validate returns nil or a *ValidationError. Any other error means the limits
// could not be loaded.
func (v *ContentValidator) Validate(ctx context.Context, text, lang string, kind models.ContentKind) error {
	units, unit := Count(text, lang)
	if units < MinUnits {
		return &ValidationError{
			Code:    CodeTooShort,
			Message: tooShortMessage(kind, units, unit),
			Units:   units,
			Limit:   MinUnits,
		}
	}

	limits, err := v.settings.Limits(ctx)
	if err != nil {
		return fmt.Errorf("failed to load content limits: %w", err)
	}

	if unit == UnitWords && limits.MaxWords > 0 && units > limits.MaxWords {
		return tooLong(units, limits.MaxWords, UnitWords)
	}

	chars := units
	if unit == UnitWords {
		chars = len([]rune(text))
	}
	if limits.MaxCharacters > 0 && chars > limits.MaxCharacters {
		return tooLong(chars, limits.MaxCharacters, UnitCharacters)
	}

	v.logger.Debug("content accepted",
		logger.String("kind", string(kind)),
		logger.Int(string(unit), units),
	)
	return nil
}

func tooLong(n, limit int, unit Unit) *ValidationError {
	return &ValidationError{
		Code: CodeTooLong,
		Message: fmt.Sprintf("Your content has %s %s, but the maximum allowed is %s. Please shorten it and try again.",
			humanize.Comma(int64(n)), unit, humanize.Comma(int64(limit))),
		Units: n,
		Limit: limit,
	}
}

func tooShortMessage(kind models.ContentKind, n int, unit Unit) string {
	need := fmt.Sprintf("at least %d %s", MinUnits, unit)
	switch kind {
	case models.KindImage:
		if n == 0 {
			return "No text detected in this image. Please try a clearer photo with visible text."
		}
		return fmt.Sprintf("We found very little text in this image. Please use a photo with %s of readable text.", need)
	case models.KindDocument:
		if n == 0 {
			return "We couldn't find any text in this document. If it's a scan, try uploading a clearer copy."
		}
		return fmt.Sprintf("This document is too short to study. Please upload one with %s.", need)
	case models.KindAudio:
		if n == 0 {
			return "We couldn't hear any speech in this recording. Please try a clearer recording."
		}
		return fmt.Sprintf("This recording is too short. Please upload audio with %s of speech.", need)
	case models.KindVideo:
		if n == 0 {
			return "We couldn't find captions for this video. Please try a video that has subtitles."
		}
		return fmt.Sprintf("This video's captions are too short. Please choose a video with %s of captions.", need)
	default:
		return fmt.Sprintf("Please enter %s so we can build useful study material.", need)
	}
}
