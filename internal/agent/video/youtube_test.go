package video

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/feichai0017/seed-processor/internal/agent/extractor"
	"github.com/feichai0017/seed-processor/pkg/logger"
)

const videoID = "dQw4w9WgXcQ"

func youtubeServer(t *testing.T, tracksJSON string) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/watch":
			if r.URL.Query().Get("v") != videoID {
				http.NotFound(w, r)
				return
			}
			tracks := strings.ReplaceAll(tracksJSON, "{srv}", srv.URL)
			fmt.Fprintf(w, `<html><head><title>Intro to Enzymes - YouTube</title>
<meta property="og:title" content="Intro to Enzymes">
<meta itemprop="duration" content="PT4M13S"></head>
<body><script>var x = 1;</script>
<script>var ytInitialPlayerResponse = {"captions":{"playerCaptionsTracklistRenderer":{"captionTracks":%s,"audioTracks":[]}}};</script>
</body></html>`, tracks)
		case "/api/timedtext":
			if r.URL.Query().Get("lang") == "en" {
				fmt.Fprint(w, `<?xml version="1.0" encoding="utf-8"?><transcript>
<text start="0" dur="2">Enzymes are &amp;quot;catalysts&amp;quot;</text>
<text start="2" dur="3">that lower
activation energy.</text></transcript>`)
				return
			}
			fmt.Fprint(w, `<timedtext format="3"><body><p t="0" d="10">Las enzimas</p></body></timedtext>`)
		default:
			http.NotFound(w, r)
		}
	}))
	return srv
}

func TestCaptionExtract(t *testing.T) {
	srv := youtubeServer(t, `[{"baseUrl":"{srv}/api/timedtext?v=x&lang=es","languageCode":"es","kind":"asr"},{"baseUrl":"{srv}/api/timedtext?v=x&lang=en","languageCode":"en"}]`)
	defer srv.Close()

	ex := NewCaptionExtractor(Config{BaseURL: srv.URL}, logger.NewTestLogger())
	res, err := ex.Extract(context.Background(), extractor.Source{URL: "https://youtu.be/" + videoID})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Text != `Enzymes are "catalysts" that lower activation energy.` {
		t.Fatalf("text = %q", res.Text)
	}
	if res.Language != "en" || res.Confidence != 0.95 {
		t.Fatalf("language=%q confidence=%v", res.Language, res.Confidence)
	}
	if res.Metadata["video_title"] != "Intro to Enzymes" || res.Metadata["duration_seconds"] != 253 {
		t.Fatalf("metadata = %v", res.Metadata)
	}
}

func TestCaptionExtractHonoursLanguageHint(t *testing.T) {
	srv := youtubeServer(t, `[{"baseUrl":"{srv}/api/timedtext?lang=en","languageCode":"en"},{"baseUrl":"{srv}/api/timedtext?lang=es","languageCode":"es","kind":"asr"}]`)
	defer srv.Close()

	ex := NewCaptionExtractor(Config{BaseURL: srv.URL}, logger.NewTestLogger())
	res, err := ex.Extract(context.Background(), extractor.Source{
		URL:          "https://www.youtube.com/watch?v=" + videoID,
		LanguageHint: "es-MX",
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Text != "Las enzimas" || res.Metadata["auto_generated"] != true {
		t.Fatalf("result = %+v", res)
	}
}

func TestCaptionExtractNoCaptions(t *testing.T) {
	srv := youtubeServer(t, `[]`)
	defer srv.Close()

	ex := NewCaptionExtractor(Config{BaseURL: srv.URL}, logger.NewTestLogger())
	_, err := ex.Extract(context.Background(), extractor.Source{URL: "https://youtube.com/shorts/" + videoID})
	if !extractor.IsEmpty(err) {
		t.Fatalf("want EMPTY_RESULT, got %v", err)
	}
}

func TestCaptionExtractBadLink(t *testing.T) {
	ex := NewCaptionExtractor(Config{}, logger.NewTestLogger())
	_, err := ex.Extract(context.Background(), extractor.Source{URL: "https://vimeo.com/123"})
	var ee *extractor.ExtractionError
	if !errors.As(err, &ee) || ee.Code != extractor.CodeUnsupportedFormat || ee.UserMessage() == "" {
		t.Fatalf("want UNSUPPORTED_FORMAT with message, got %v", err)
	}
	if !errors.Is(err, ErrInvalidURL) {
		t.Fatalf("want ErrInvalidURL in chain, got %v", err)
	}
}

func TestParseVideoID(t *testing.T) {
	good := []string{
		"https://www.youtube.com/watch?v=" + videoID + "&t=42s",
		"https://m.youtube.com/watch?v=" + videoID,
		"https://youtu.be/" + videoID,
		"https://youtube.com/embed/" + videoID,
		"https://www.youtube.com/live/" + videoID,
	}
	for _, u := range good {
		if id, err := ParseVideoID(u); err != nil || id != videoID {
			t.Fatalf("ParseVideoID(%q) = %q, %v", u, id, err)
		}
	}
	bad := []string{"", "youtube", "https://youtube.com/watch?v=short", "https://example.com/watch?v=" + videoID}
	for _, u := range bad {
		if _, err := ParseVideoID(u); err == nil {
			t.Fatalf("ParseVideoID(%q) should fail", u)
		}
	}
}

func TestParseISODuration(t *testing.T) {
	if d := parseISODuration("PT1H2M3S"); d != time.Hour+2*time.Minute+3*time.Second {
		t.Fatalf("got %v", d)
	}
	if d := parseISODuration("bogus"); d != 0 {
		t.Fatalf("got %v", d)
	}
}
