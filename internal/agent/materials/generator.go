// Package materials generates the derived study artifacts for a completed
// seed: flashcards, a quiz and a glossary of key terms.
package materials

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/feichai0017/seed-processor/internal/agent/language"
	"github.com/feichai0017/seed-processor/internal/agent/llm"
	"github.com/feichai0017/seed-processor/pkg/logger"
)

const (
	TypeFlashcards = "flashcards"
	TypeQuiz       = "quiz"
	TypeKeyTerms   = "key_terms"

	maxSourceRunes = 30000
)

// DefaultTypes is the artifact set generated for every seed.
var DefaultTypes = []string{TypeFlashcards, TypeQuiz, TypeKeyTerms}

type Flashcard struct {
	Front string `json:"front"`
	Back  string `json:"back"`
}

type QuizQuestion struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
	Answer   int      `json:"answer"`
}

type KeyTerm struct {
	Term       string `json:"term"`
	Definition string `json:"definition"`
}

type Source struct {
	Title       string
	Text        string
	Explanation string
	Language    string
}

type Generator struct {
	provider  llm.Provider
	maxTokens int
	logger    logger.Logger
}

func NewGenerator(provider llm.Provider, maxTokens int, log logger.Logger) *Generator {
	return &Generator{
		provider:  provider,
		maxTokens: maxTokens,
		logger:    log.Named("materials"),
	}
}

// Generate returns the artifact as normalized JSON.
func (g *Generator) Generate(ctx context.Context, kind string, src Source) (string, error) {
	instr, ok := instructions[kind]
	if !ok {
		return "", fmt.Errorf("unknown material type: %s", kind)
	}

	resp, err := llm.Complete(ctx, g.provider, llm.Request{
		System:      fmt.Sprintf("You create study material. Reply with JSON only, no prose and no code fences. Write all text in %s.", language.Name(orDefault(src.Language))),
		Prompt:      buildPrompt(instr, src),
		MaxTokens:   g.maxTokens,
		Temperature: 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate %s: %w", kind, err)
	}

	out, err := normalize(kind, resp.Text)
	if err != nil {
		return "", fmt.Errorf("failed to parse %s: %w", kind, err)
	}
	g.logger.Debug("material generated", logger.String("type", kind), logger.Int("bytes", len(out)))
	return out, nil
}

var instructions = map[string]string{
	TypeFlashcards: `Create 8 to 15 flashcards as a JSON array of objects {"front": string, "back": string}. Fronts ask one thing; backs answer in one or two sentences.`,
	TypeQuiz:       `Create 5 to 10 multiple choice questions as a JSON array of objects {"question": string, "options": [4 strings], "answer": index of the correct option}.`,
	TypeKeyTerms:   `List the 5 to 20 most important terms as a JSON array of objects {"term": string, "definition": string}.`,
}

func buildPrompt(instr string, src Source) string {
	text := src.Text
	if r := []rune(text); len(r) > maxSourceRunes {
		text = string(r[:maxSourceRunes])
	}
	var b strings.Builder
	b.WriteString(instr)
	if src.Title != "" {
		fmt.Fprintf(&b, "\n\nTitle: %s", src.Title)
	}
	if src.Explanation != "" {
		fmt.Fprintf(&b, "\n\nExplanation:\n%s", src.Explanation)
	}
	fmt.Fprintf(&b, "\n\nSource text:\n<<<\n%s\n>>>", text)
	return b.String()
}

// normalize strips code fences, decodes into the typed shape, drops invalid
// entries and re-encodes.
func normalize(kind, raw string) (string, error) {
	raw = stripFences(raw)

	var out interface{}
	switch kind {
	case TypeFlashcards:
		var cards []Flashcard
		if err := json.Unmarshal([]byte(raw), &cards); err != nil {
			return "", err
		}
		kept := cards[:0]
		for _, c := range cards {
			if strings.TrimSpace(c.Front) != "" && strings.TrimSpace(c.Back) != "" {
				kept = append(kept, c)
			}
		}
		out = kept
	case TypeQuiz:
		var qs []QuizQuestion
		if err := json.Unmarshal([]byte(raw), &qs); err != nil {
			return "", err
		}
		kept := qs[:0]
		for _, q := range qs {
			if strings.TrimSpace(q.Question) != "" && len(q.Options) >= 2 && q.Answer >= 0 && q.Answer < len(q.Options) {
				kept = append(kept, q)
			}
		}
		out = kept
	case TypeKeyTerms:
		var terms []KeyTerm
		if err := json.Unmarshal([]byte(raw), &terms); err != nil {
			return "", err
		}
		kept := terms[:0]
		for _, t := range terms {
			if strings.TrimSpace(t.Term) != "" && strings.TrimSpace(t.Definition) != "" {
				kept = append(kept, t)
			}
		}
		out = kept
	}

	b, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	if string(b) == "[]" || string(b) == "null" {
		return "", fmt.Errorf("no usable %s entries", kind)
	}
	return string(b), nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if i := strings.Index(s, "\n"); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

func orDefault(lang string) string {
	if lang == "" {
		return language.Default
	}
	return lang
}
