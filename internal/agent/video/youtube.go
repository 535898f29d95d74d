// Package video turns a YouTube link into text using the video's caption
// track.
package video

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/feichai0017/seed-processor/internal/agent/extractor"
	"github.com/feichai0017/seed-processor/internal/agent/language"
	"github.com/feichai0017/seed-processor/internal/models"
	"github.com/feichai0017/seed-processor/pkg/logger"
)

const (
	defaultBaseURL = "https://www.youtube.com"
	maxTranscript  = 8 << 20
)

var (
	videoIDExpr  = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)
	isoDuration  = regexp.MustCompile(`^PT(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?$`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// ErrInvalidURL is wrapped when the link is not a recognisable video URL.
var ErrInvalidURL = errors.New("not a youtube video url")

type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	UserAgent  string
}

// CaptionExtractor handles models.KindVideo.
type CaptionExtractor struct {
	baseURL   string
	client    *http.Client
	userAgent string
	logger    logger.Logger
}

func NewCaptionExtractor(cfg Config, log logger.Logger) *CaptionExtractor {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 20 * time.Second}
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Mozilla/5.0 (compatible; seed-processor/1.0)"
	}
	return &CaptionExtractor{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		client:    cfg.HTTPClient,
		userAgent: cfg.UserAgent,
		logger:    log.Named("video"),
	}
}

func (c *CaptionExtractor) Kind() models.ContentKind { return models.KindVideo }

func (c *CaptionExtractor) Extract(ctx context.Context, src extractor.Source) (*extractor.Result, error) {
	id, err := ParseVideoID(src.URL)
	if err != nil {
		return nil, &extractor.ExtractionError{
			Code:    extractor.CodeUnsupportedFormat,
			Detail:  "video link",
			Message: "This link doesn't look like a YouTube video. Please paste a full video URL and try again.",
			Err:     err,
		}
	}

	page, err := c.fetchWatchPage(ctx, id)
	if err != nil {
		return nil, err
	}

	track, ok := pickTrack(page.Tracks, src.LanguageHint)
	if !ok {
		return nil, extractor.Empty("video has no captions")
	}

	text, err := c.fetchTranscript(ctx, track.BaseURL)
	if err != nil {
		return nil, err
	}

	confidence := 0.95
	if track.Kind == "asr" {
		confidence = 0.75
	}
	res := &extractor.Result{
		Text:       text,
		Language:   language.Normalize(track.LanguageCode),
		Confidence: confidence,
	}
	res.SetMeta("video_id", id)
	res.SetMeta("video_title", page.Title)
	res.SetMeta("caption_language", track.LanguageCode)
	res.SetMeta("auto_generated", track.Kind == "asr")
	if page.Duration > 0 {
		res.SetMeta("duration_seconds", int(page.Duration.Seconds()))
	}

	c.logger.Debug("captions fetched",
		logger.String("video_id", id),
		logger.String("caption_language", track.LanguageCode),
		logger.Int("characters", len(text)),
	)
	return extractor.NonEmpty(res, "caption track is empty")
}

// ParseVideoID accepts watch, short-link, shorts, embed and live URLs.
func ParseVideoID(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	host = strings.TrimPrefix(host, "m.")

	var id string
	switch host {
	case "youtu.be":
		id = strings.Trim(u.Path, "/")
	case "youtube.com", "music.youtube.com", "youtube-nocookie.com":
		segs := strings.Split(strings.Trim(u.Path, "/"), "/")
		switch {
		case len(segs) == 1 && segs[0] == "watch":
			id = u.Query().Get("v")
		case len(segs) == 2 && (segs[0] == "shorts" || segs[0] == "embed" || segs[0] == "live" || segs[0] == "v"):
			id = segs[1]
		}
	}
	if !videoIDExpr.MatchString(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	return id, nil
}

type captionTrack struct {
	BaseURL      string `json:"baseUrl"`
	LanguageCode string `json:"languageCode"`
	Kind         string `json:"kind"`
}

type watchPage struct {
	Title    string
	Duration time.Duration
	Tracks   []captionTrack
}

func (c *CaptionExtractor) get(ctx context.Context, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, extractor.Remote(fmt.Errorf("build request: %w", err), false)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.8")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, extractor.Remote(fmt.Errorf("request %s: %w", req.URL.Path, err), ctx.Err() == nil)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return nil, &extractor.ExtractionError{
				Code:    extractor.CodeRemoteFailure,
				Detail:  "video not found",
				Message: "We couldn't open this video. It may be private or removed.",
			}
		}
		return nil, extractor.Remote(
			fmt.Errorf("youtube returned %s", resp.Status),
			resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
		)
	}
	return resp, nil
}

func (c *CaptionExtractor) fetchWatchPage(ctx context.Context, id string) (*watchPage, error) {
	resp, err := c.get(ctx, fmt.Sprintf("%s/watch?v=%s&hl=en", c.baseURL, id))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, extractor.Remote(fmt.Errorf("parse watch page: %w", err), false)
	}

	page := &watchPage{}
	page.Title = strings.TrimSpace(doc.Find(`meta[property="og:title"]`).AttrOr("content", ""))
	if page.Title == "" {
		page.Title = strings.TrimSuffix(strings.TrimSpace(doc.Find("title").First().Text()), " - YouTube")
	}
	if d, ok := doc.Find(`meta[itemprop="duration"]`).Attr("content"); ok {
		page.Duration = parseISODuration(d)
	}

	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		tracks, ok := captionTracksFromScript(s.Text())
		if ok {
			page.Tracks = tracks
			return false
		}
		return true
	})
	return page, nil
}

// captionTracksFromScript decodes the JSON array that follows
// "captionTracks": in the player response.
func captionTracksFromScript(script string) ([]captionTrack, bool) {
	const marker = `"captionTracks":`
	i := strings.Index(script, marker)
	if i < 0 {
		return nil, false
	}
	var tracks []captionTrack
	if err := json.NewDecoder(strings.NewReader(script[i+len(marker):])).Decode(&tracks); err != nil {
		return nil, false
	}
	return tracks, len(tracks) > 0
}

// pickTrack prefers the hinted language, then manual English, then any
// manual track, then whatever is first.
func pickTrack(tracks []captionTrack, hint string) (captionTrack, bool) {
	if len(tracks) == 0 {
		return captionTrack{}, false
	}
	hint = language.Normalize(hint)
	score := func(t captionTrack) int {
		s := 0
		lang := language.Normalize(t.LanguageCode)
		if hint != "" && lang == hint {
			s += 4
		}
		if lang == "en" {
			s += 2
		}
		if t.Kind != "asr" {
			s++
		}
		return s
	}
	best := tracks[0]
	for _, t := range tracks[1:] {
		if score(t) > score(best) {
			best = t
		}
	}
	return best, best.BaseURL != ""
}

// fetchTranscript flattens a timedtext document. Both the classic
// <transcript><text> and the srv3 <timedtext><body><p> layouts are handled.
func (c *CaptionExtractor) fetchTranscript(ctx context.Context, baseURL string) (string, error) {
	resp, err := c.get(ctx, html.UnescapeString(baseURL))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	dec := xml.NewDecoder(io.LimitReader(resp.Body, maxTranscript))
	var (
		lines []string
		cur   strings.Builder
		depth int
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", extractor.Remote(fmt.Errorf("parse transcript: %w", err), false)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "text" || t.Name.Local == "p" {
				depth++
			}
		case xml.EndElement:
			if (t.Name.Local == "text" || t.Name.Local == "p") && depth > 0 {
				depth--
				if depth == 0 {
					if line := cleanCaption(cur.String()); line != "" {
						lines = append(lines, line)
					}
					cur.Reset()
				}
			}
		case xml.CharData:
			if depth > 0 {
				cur.Write(t)
			}
		}
	}
	return strings.Join(lines, " "), nil
}

func cleanCaption(s string) string {
	s = html.UnescapeString(s)
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func parseISODuration(s string) time.Duration {
	m := isoDuration.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	var d time.Duration
	for i, unit := range []time.Duration{time.Hour, time.Minute, time.Second} {
		if m[i+1] == "" {
			continue
		}
		n, _ := strconv.Atoi(m[i+1])
		d += time.Duration(n) * unit
	}
	return d
}
