package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/feichai0017/seed-processor/api/handlers"
	"github.com/feichai0017/seed-processor/api/middleware"
	"github.com/feichai0017/seed-processor/api/routes"
	"github.com/feichai0017/seed-processor/internal/agent/extractor"
	"github.com/feichai0017/seed-processor/internal/models"
	"github.com/feichai0017/seed-processor/internal/progress"
	"github.com/feichai0017/seed-processor/internal/service/seed"
	"github.com/feichai0017/seed-processor/internal/utils/validator"
	"github.com/feichai0017/seed-processor/pkg/logger"
)

type fakeService struct {
	mu       sync.Mutex
	stages   []models.Stage
	result   *models.Seed
	err      error
	lastReq  seed.IngestRequest
	lastKind models.ContentKind
	stored   map[uuid.UUID]*models.Seed
	deleted  []uuid.UUID
	limits   []int
}

func (f *fakeService) Ingest(_ context.Context, kind models.ContentKind, req seed.IngestRequest, sink seed.ProgressSink) (*models.Seed, error) {
	f.mu.Lock()
	f.lastReq, f.lastKind = req, kind
	f.mu.Unlock()
	if sink != nil {
		for _, st := range f.stages {
			sink.Stage(models.NewStageItem(st, string(st)))
		}
	}
	return f.result, f.err
}

func (f *fakeService) GetSeed(_ context.Context, userID string, id uuid.UUID) (*models.Seed, error) {
	s, ok := f.stored[id]
	if !ok || s.UserID != userID {
		return nil, seed.ErrNotFound
	}
	return s, nil
}

func (f *fakeService) ListSeeds(_ context.Context, userID string, limit, _ int) ([]*models.Seed, error) {
	f.limits = append(f.limits, limit)
	var out []*models.Seed
	for _, s := range f.stored {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeService) ListMaterials(ctx context.Context, userID string, id uuid.UUID) ([]*models.SeedMaterial, error) {
	if _, err := f.GetSeed(ctx, userID, id); err != nil {
		return nil, err
	}
	return []*models.SeedMaterial{{ID: uuid.New(), SeedID: id, Type: "quiz", Content: "[]"}}, nil
}

func (f *fakeService) DeleteSeed(ctx context.Context, userID string, id uuid.UUID) error {
	if _, err := f.GetSeed(ctx, userID, id); err != nil {
		return err
	}
	f.deleted = append(f.deleted, id)
	delete(f.stored, id)
	return nil
}

type countingUsage struct {
	mu    sync.Mutex
	users []string
}

func (u *countingUsage) Increment(_ context.Context, userID string) (int64, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.users = append(u.users, userID)
	return int64(len(u.users)), nil
}

func (u *countingUsage) count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.users)
}

func newRouter(svc *fakeService, usage progress.UsageCounter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	log := logger.NewTestLogger()
	cfg := progress.RunConfig{
		Stage:        progress.StageConfig{CompletionDelay: 5 * time.Millisecond},
		TickInterval: 2 * time.Millisecond,
	}
	h := handlers.NewHandlers(
		handlers.NewSeedHandler(svc, validator.NewUploadValidator(log, nil), progress.RealClock(), cfg, usage, log),
		handlers.NewHealthHandler(map[string]handlers.Check{
			"db": func(context.Context) error { return nil },
		}, log),
	)
	r := gin.New()
	routes.SetupRoutes(r, h, log)
	return r
}

type sseEvent struct {
	name string
	data string
}

func parseSSE(body string) []sseEvent {
	var out []sseEvent
	for _, block := range strings.Split(body, "\n\n") {
		var ev sseEvent
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "event:"):
				ev.name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				ev.data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			}
		}
		if ev.name != "" {
			out = append(out, ev)
		}
	}
	return out
}

func completedSeed(userID string) *models.Seed {
	s := models.NewSeed(userID, "Cells", models.KindText)
	s.ProcessingStatus = models.StatusCompleted
	s.Explanation = "Mitochondria make energy."
	return s
}

func postJSON(r http.Handler, path, user string, body interface{}) *httptest.ResponseRecorder {
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(middleware.HeaderUserID, user)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateTextStreamsProgressThenSeed(t *testing.T) {
	svc := &fakeService{
		stages: []models.Stage{
			models.StageValidating, models.StageReading, models.StageExtracting,
			models.StageGenerating, models.StageFinalizing, models.StageCompleted,
		},
		result: completedSeed("u1"),
	}
	usage := &countingUsage{}
	r := newRouter(svc, usage)

	w := postJSON(r, "/api/v1/seeds/text", "u1", map[string]string{"text": "some words", "title": "Cells"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type = %q", ct)
	}

	events := parseSSE(w.Body.String())
	if len(events) < 2 {
		t.Fatalf("events = %+v", events)
	}
	last := events[len(events)-1]
	if last.name != "seed" || !strings.Contains(last.data, svc.result.ID.String()) {
		t.Fatalf("last event = %+v", last)
	}

	prev := -1.0
	var sawFull bool
	for _, ev := range events[:len(events)-1] {
		if ev.name != "progress" {
			t.Fatalf("unexpected event %+v before seed", ev)
		}
		var p handlers.ProgressEvent
		if err := json.Unmarshal([]byte(ev.data), &p); err != nil {
			t.Fatalf("bad progress payload %q: %v", ev.data, err)
		}
		if p.Progress < prev {
			t.Fatalf("progress went backwards: %v after %v", p.Progress, prev)
		}
		prev = p.Progress
		if p.Progress == 1 {
			sawFull = true
		}
	}
	if !sawFull {
		t.Fatal("stream never reached 100%")
	}
	if svc.lastKind != models.KindText || svc.lastReq.UserID != "u1" || svc.lastReq.Title != "Cells" {
		t.Fatalf("request = %s %+v", svc.lastKind, svc.lastReq)
	}
	if usage.count() != 1 {
		t.Fatalf("usage incremented %d times", usage.count())
	}
}

func TestCreateTextStreamsValidationError(t *testing.T) {
	svc := &fakeService{
		stages: []models.Stage{models.StageValidating, models.StageReading},
		err:    &validator.ValidationError{Code: validator.CodeTooShort, Message: "Please enter at least 20 words"},
	}
	usage := &countingUsage{}
	r := newRouter(svc, usage)

	w := postJSON(r, "/api/v1/seeds/text", "u1", map[string]string{"text": "too short"})
	events := parseSSE(w.Body.String())
	last := events[len(events)-1]
	if last.name != "error" {
		t.Fatalf("last event = %+v", last)
	}
	var body handlers.ErrorResponse
	if err := json.Unmarshal([]byte(last.data), &body); err != nil {
		t.Fatalf("bad error payload: %v", err)
	}
	if body.Error != validator.CodeTooShort || !strings.Contains(body.Message, "20 words") {
		t.Fatalf("error body = %+v", body)
	}
	if usage.count() != 0 {
		t.Fatal("failed ingest counted against usage")
	}
}

func TestCreateNonStreamingStatusCodes(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", &validator.ValidationError{Code: validator.CodeTooLong, Message: "too long"}, http.StatusUnprocessableEntity, validator.CodeTooLong},
		{"upstream", &seed.IngestError{Message: "try again", Err: extractor.Remote(errors.New("503"), true)}, http.StatusBadGateway, "UPSTREAM_FAILURE"},
		{"internal", &seed.IngestError{Message: "try again", Err: errors.New("disk full")}, http.StatusInternalServerError, "INGEST_FAILED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRouter(&fakeService{err: tt.err}, &countingUsage{})
			w := postJSON(r, "/api/v1/seeds/video?stream=false", "u1", map[string]string{"url": "https://youtu.be/abc"})
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d", w.Code, tt.status)
			}
			var body handlers.ErrorResponse
			json.Unmarshal(w.Body.Bytes(), &body)
			if body.Error != tt.code {
				t.Fatalf("error = %q, want %q", body.Error, tt.code)
			}
		})
	}
}

func TestCreateNonStreamingUsage(t *testing.T) {
	usage := &countingUsage{}
	r := newRouter(&fakeService{result: completedSeed("u1")}, usage)

	w := postJSON(r, "/api/v1/seeds/text?stream=false", "u1", map[string]string{"text": "words"})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d", w.Code)
	}

	data, _ := json.Marshal(map[string]string{"text": "words"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/seeds/text?stream=false", bytes.NewReader(data))
	req.Header.Set(middleware.HeaderUserID, "u2")
	req.Header.Set(middleware.HeaderUserTier, "premium")
	r.ServeHTTP(httptest.NewRecorder(), req)

	if usage.count() != 1 || usage.users[0] != "u1" {
		t.Fatalf("usage = %v", usage.users)
	}
}

func TestCreateRequiresUser(t *testing.T) {
	r := newRouter(&fakeService{}, nil)
	w := postJSON(r, "/api/v1/seeds/text", "", map[string]string{"text": "words"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Header().Get(middleware.HeaderRequestID) == "" {
		t.Fatal("request id header missing")
	}
}

func TestCreateUploadRejectsUnsupportedType(t *testing.T) {
	svc := &fakeService{}
	r := newRouter(svc, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "malware.exe")
	fw.Write([]byte("MZ"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/seeds/document?stream=false", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(middleware.HeaderUserID, "u1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if svc.lastKind != "" {
		t.Fatal("pipeline ran for a rejected upload")
	}
}

func TestGetAndDeleteSeed(t *testing.T) {
	s := completedSeed("u1")
	svc := &fakeService{stored: map[uuid.UUID]*models.Seed{s.ID: s}}
	r := newRouter(svc, nil)

	do := func(method, path, user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		req.Header.Set(middleware.HeaderUserID, user)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := do(http.MethodGet, "/api/v1/seeds/"+s.ID.String(), "u1")
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var resp struct {
		Seed      models.Seed           `json:"seed"`
		Materials []models.SeedMaterial `json:"materials"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Seed.ID != s.ID || len(resp.Materials) != 1 {
		t.Fatalf("response = %+v", resp)
	}

	if w := do(http.MethodGet, "/api/v1/seeds/"+s.ID.String(), "u2"); w.Code != http.StatusNotFound {
		t.Fatalf("foreign get status = %d", w.Code)
	}
	if w := do(http.MethodGet, "/api/v1/seeds/not-a-uuid", "u1"); w.Code != http.StatusBadRequest {
		t.Fatalf("bad id status = %d", w.Code)
	}
	if w := do(http.MethodDelete, "/api/v1/seeds/"+s.ID.String(), "u1"); w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", w.Code)
	}
	if len(svc.deleted) != 1 {
		t.Fatal("delete not forwarded")
	}
	if w := do(http.MethodDelete, "/api/v1/seeds/"+s.ID.String(), "u1"); w.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d", w.Code)
	}
}

func TestListSeedsEchoesAppliedLimit(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", 20},
		{"?limit=50", 50},
		{"?limit=500", 20},
		{"?limit=0", 20},
		{"?limit=-3", 20},
		{"?limit=abc", 20},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			svc := &fakeService{}
			r := newRouter(svc, nil)
			req := httptest.NewRequest(http.MethodGet, "/api/v1/seeds"+tt.query, nil)
			req.Header.Set(middleware.HeaderUserID, "u1")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d", w.Code)
			}
			var resp struct {
				Limit int `json:"limit"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Limit != tt.want {
				t.Fatalf("limit = %d, want %d", resp.Limit, tt.want)
			}
			if len(svc.limits) != 1 || svc.limits[0] != tt.want {
				t.Fatalf("service got limits %v", svc.limits)
			}
		})
	}
}

func TestHealth(t *testing.T) {
	r := newRouter(&fakeService{}, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"db":"ok"`) {
		t.Fatalf("health = %d %s", w.Code, w.Body.String())
	}
}
