package validator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/feichai0017/seed-processor/internal/models"
	"github.com/feichai0017/seed-processor/pkg/logger"
	"github.com/feichai0017/seed-processor/pkg/settings"
)

func newValidator(l settings.Limits) *ContentValidator {
	return NewContentValidator(settings.Static(l), logger.NewTestLogger())
}

var defaultLimits = settings.Limits{MaxCharacters: 100000, MaxWords: 20000}

func words(n int) string {
	return strings.TrimSpace(strings.Repeat("cell ", n))
}

func TestMinimumBoundaryIsLanguageAware(t *testing.T) {
	v := newValidator(defaultLimits)
	ctx := context.Background()

	cases := []struct {
		name string
		text string
		lang string
		ok   bool
	}{
		{"19 english words", words(19), "en", false},
		{"20 english words", words(20), "en", true},
		{"19 chinese chars", strings.Repeat("细", 19), "zh", false},
		{"20 chinese chars", strings.Repeat("细", 20), "zh", true},
		{"spaces do not count for japanese", strings.Repeat("日 ", 19), "ja", false},
		{"20 chinese chars counted as words in english", strings.Repeat("细", 20), "en", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := v.Validate(ctx, tc.text, tc.lang, models.KindText)
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok {
				ve, ok := AsValidationError(err)
				if !ok || ve.Code != CodeTooShort {
					t.Fatalf("want TOO_SHORT, got %v", err)
				}
			}
		})
	}
}

func TestEmptyImageMessage(t *testing.T) {
	err := newValidator(defaultLimits).Validate(context.Background(), "", "en", models.KindImage)
	ve, ok := AsValidationError(err)
	if !ok || ve.Code != CodeTooShort {
		t.Fatalf("want TOO_SHORT, got %v", err)
	}
	if !strings.HasPrefix(ve.Message, "No text detected in this image") {
		t.Fatalf("message = %q", ve.Message)
	}
}

func TestTooShortMessagesPerKind(t *testing.T) {
	v := newValidator(defaultLimits)
	seen := map[string]bool{}
	for _, kind := range models.AllKinds {
		err := v.Validate(context.Background(), "", "en", kind)
		ve, ok := AsValidationError(err)
		if !ok {
			t.Fatalf("%s: want ValidationError, got %v", kind, err)
		}
		if seen[ve.Message] {
			t.Fatalf("%s: message reused: %q", kind, ve.Message)
		}
		seen[ve.Message] = true
	}
}

func TestOversizedWordsMessage(t *testing.T) {
	v := newValidator(settings.Limits{MaxCharacters: 1000000, MaxWords: 20000})
	err := v.Validate(context.Background(), words(50000), "en", models.KindText)
	ve, ok := AsValidationError(err)
	if !ok || ve.Code != CodeTooLong {
		t.Fatalf("want TOO_LONG, got %v", err)
	}
	want := "Your content has 50,000 words, but the maximum allowed is 20,000. Please shorten it and try again."
	if ve.Message != want {
		t.Fatalf("message = %q", ve.Message)
	}
}

func TestOversizedCharacters(t *testing.T) {
	v := newValidator(settings.Limits{MaxCharacters: 1000, MaxWords: 20000})

	err := v.Validate(context.Background(), strings.Repeat("细", 1500), "zh", models.KindDocument)
	ve, ok := AsValidationError(err)
	if !ok || ve.Code != CodeTooLong || !strings.Contains(ve.Message, "1,500 characters") {
		t.Fatalf("got %v", err)
	}

	// 30 long words stay under the word limit but exceed the character limit
	long := strings.TrimSpace(strings.Repeat(strings.Repeat("x", 49)+" ", 30))
	err = v.Validate(context.Background(), long, "en", models.KindText)
	ve, ok = AsValidationError(err)
	if !ok || ve.Code != CodeTooLong || !strings.Contains(ve.Message, "characters") {
		t.Fatalf("got %v", err)
	}
}

type failingProvider struct{}

func (failingProvider) Limits(context.Context) (settings.Limits, error) {
	return settings.Limits{}, errors.New("settings down")
}

func TestLimitsFailureIsNotValidationError(t *testing.T) {
	v := NewContentValidator(failingProvider{}, logger.NewTestLogger())
	err := v.Validate(context.Background(), words(25), "en", models.KindText)
	if err == nil {
		t.Fatal("expected error")
	}
	if _, ok := AsValidationError(err); ok {
		t.Fatal("limits failure must not masquerade as a validation error")
	}
}

func TestCount(t *testing.T) {
	if n, u := Count("a  b\tc\n d", "en"); n != 4 || u != UnitWords {
		t.Fatalf("Count en = %d %s", n, u)
	}
	if n, u := Count("สวัส ดี", "th"); n != 6 || u != UnitCharacters {
		t.Fatalf("Count th = %d %s", n, u)
	}
}
