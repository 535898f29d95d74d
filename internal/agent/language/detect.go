// Package language guesses the language of extracted text when the remote
// extractor did not report one.
package language

import (
	"strings"
	"unicode"

	"github.com/abadojack/whatlanggo"
)

const (
	// Default is assumed when the text is too short or ambiguous.
	Default = "en"
	// MinDetectLength is the rune count below which detection is skipped.
	MinDetectLength = 20

	scriptDominance = 0.3
)

var cyrillicLangs = whatlanggo.Options{
	Whitelist: map[whatlanggo.Lang]bool{
		whatlanggo.Rus: true,
		whatlanggo.Ukr: true,
		whatlanggo.Bul: true,
		whatlanggo.Bel: true,
		whatlanggo.Srp: true,
		whatlanggo.Mkd: true,
	},
}

// Detection is the detector's verdict.
type Detection struct {
	Code       string
	Confidence float64
	Method     string // "default", "script" or "ngram"
}

// Detect returns an ISO 639-1 code for text.
func Detect(text string) Detection {
	text = strings.TrimSpace(text)
	if len([]rune(text)) < MinDetectLength {
		return Detection{Code: Default, Method: "default"}
	}

	var letters, han, kana, hangul, arabic, cyrillic, thai int
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		switch {
		case unicode.Is(unicode.Hiragana, r), unicode.Is(unicode.Katakana, r):
			kana++
		case unicode.Is(unicode.Han, r):
			han++
		case unicode.Is(unicode.Hangul, r):
			hangul++
		case unicode.Is(unicode.Arabic, r):
			arabic++
		case unicode.Is(unicode.Cyrillic, r):
			cyrillic++
		case unicode.Is(unicode.Thai, r):
			thai++
		}
	}
	if letters == 0 {
		return Detection{Code: Default, Method: "default"}
	}
	share := func(n int) float64 { return float64(n) / float64(letters) }

	switch {
	// Japanese mixes kanji with kana; any real kana share wins over Han.
	case kana > 0 && share(kana+han) >= scriptDominance && share(kana) >= 0.05:
		return Detection{Code: "ja", Confidence: share(kana + han), Method: "script"}
	case share(han) >= scriptDominance:
		return Detection{Code: "zh", Confidence: share(han), Method: "script"}
	case share(hangul) >= scriptDominance:
		return Detection{Code: "ko", Confidence: share(hangul), Method: "script"}
	case share(arabic) >= scriptDominance:
		return Detection{Code: "ar", Confidence: share(arabic), Method: "script"}
	case share(thai) >= scriptDominance:
		return Detection{Code: "th", Confidence: share(thai), Method: "script"}
	case share(cyrillic) >= scriptDominance:
		info := whatlanggo.DetectWithOptions(text, cyrillicLangs)
		code := info.Lang.Iso6391()
		if code == "" {
			code = "ru"
		}
		return Detection{Code: code, Confidence: share(cyrillic), Method: "script"}
	}

	info := whatlanggo.Detect(text)
	code := info.Lang.Iso6391()
	if !info.IsReliable() || code == "" {
		return Detection{Code: Default, Confidence: info.Confidence, Method: "default"}
	}
	return Detection{Code: code, Confidence: info.Confidence, Method: "ngram"}
}

// Normalize lowercases a language tag and strips any region ("pt-BR" -> "pt").
func Normalize(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if i := strings.IndexAny(tag, "-_"); i > 0 {
		tag = tag[:i]
	}
	return tag
}

var names = map[string]string{
	"en": "English", "es": "Spanish", "fr": "French", "de": "German",
	"it": "Italian", "pt": "Portuguese", "nl": "Dutch", "ru": "Russian",
	"uk": "Ukrainian", "pl": "Polish", "tr": "Turkish", "ar": "Arabic",
	"hi": "Hindi", "zh": "Chinese", "ja": "Japanese", "ko": "Korean",
	"th": "Thai", "vi": "Vietnamese", "id": "Indonesian", "sv": "Swedish",
}

// Name returns the English name for a code, falling back to the code itself.
func Name(code string) string {
	if n, ok := names[Normalize(code)]; ok {
		return n
	}
	return code
}

// FromName maps an English language name ("english") to its code. Speech
// backends tend to report names instead of codes.
func FromName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return ""
	}
	if len(name) == 2 {
		return name
	}
	for code, n := range names {
		if strings.ToLower(n) == name {
			return code
		}
	}
	return ""
}

// IsLogographic reports whether text in this language is measured in
// characters rather than whitespace-delimited words.
func IsLogographic(code string) bool {
	switch Normalize(code) {
	case "zh", "ja", "th", "lo", "km", "my":
		return true
	default:
		return false
	}
}
