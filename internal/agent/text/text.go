// Package text handles content the user typed or pasted.
package text

import (
	"context"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/feichai0017/seed-processor/internal/agent/extractor"
	"github.com/feichai0017/seed-processor/internal/models"
)

var (
	trailingSpace = regexp.MustCompile(`[ \t]+\n`)
	blankRun      = regexp.MustCompile(`\n{3,}`)
)

// Extractor normalizes inline text. It makes no remote call.
type Extractor struct{}

func NewExtractor() *Extractor { return &Extractor{} }

func (e *Extractor) Kind() models.ContentKind { return models.KindText }

func (e *Extractor) Extract(_ context.Context, src extractor.Source) (*extractor.Result, error) {
	raw := src.Text
	if raw == "" && len(src.Data) > 0 {
		raw = string(src.Data)
	}
	if !utf8.ValidString(raw) {
		raw = strings.ToValidUTF8(raw, "")
	}

	res := &extractor.Result{
		Text:       Normalize(raw),
		Language:   src.LanguageHint,
		Confidence: 1.0,
	}
	res.SetMeta("characters", utf8.RuneCountInString(res.Text))
	return extractor.NonEmpty(res, "no text provided")
}

// Normalize converts line endings, strips trailing spaces and NUL bytes and
// collapses long runs of blank lines.
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.ReplaceAll(s, "\x00", "")
	s = trailingSpace.ReplaceAllString(s, "\n")
	s = blankRun.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
