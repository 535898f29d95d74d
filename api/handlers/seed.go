package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/feichai0017/seed-processor/api/middleware"
	"github.com/feichai0017/seed-processor/internal/models"
	"github.com/feichai0017/seed-processor/internal/progress"
	"github.com/feichai0017/seed-processor/internal/repository"
	"github.com/feichai0017/seed-processor/internal/service/seed"
	"github.com/feichai0017/seed-processor/internal/utils/validator"
	"github.com/feichai0017/seed-processor/pkg/logger"
)

// SeedService is the part of seed.Service the HTTP layer uses.
type SeedService interface {
	Ingest(ctx context.Context, kind models.ContentKind, req seed.IngestRequest, sink seed.ProgressSink) (*models.Seed, error)
	GetSeed(ctx context.Context, userID string, id uuid.UUID) (*models.Seed, error)
	ListSeeds(ctx context.Context, userID string, limit, offset int) ([]*models.Seed, error)
	ListMaterials(ctx context.Context, userID string, id uuid.UUID) ([]*models.SeedMaterial, error)
	DeleteSeed(ctx context.Context, userID string, id uuid.UUID) error
}

type SeedHandler struct {
	service  SeedService
	uploads  *validator.UploadValidator
	clock    progress.Clock
	progress progress.RunConfig
	usage    progress.UsageCounter
	logger   logger.Logger
}

// ErrorResponse 定义错误响应结构
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ProgressEvent is the payload of an SSE progress event.
type ProgressEvent struct {
	Step     int     `json:"step"`
	Message  string  `json:"message"`
	Progress float64 `json:"progress"`
}

// SeedResponse is a seed with the materials generated so far.
type SeedResponse struct {
	Seed      *models.Seed           `json:"seed"`
	Materials []*models.SeedMaterial `json:"materials"`
}

type textRequest struct {
	Text     string `json:"text" binding:"required"`
	Title    string `json:"title"`
	Language string `json:"language"`
}

type videoRequest struct {
	URL      string `json:"url" binding:"required"`
	Title    string `json:"title"`
	Language string `json:"language"`
}

// usage may be nil.
func NewSeedHandler(
	service SeedService,
	uploads *validator.UploadValidator,
	clock progress.Clock,
	cfg progress.RunConfig,
	usage progress.UsageCounter,
	log logger.Logger,
) *SeedHandler {
	if clock == nil {
		clock = progress.RealClock()
	}
	return &SeedHandler{
		service:  service,
		uploads:  uploads,
		clock:    clock,
		progress: cfg,
		usage:    usage,
		logger:   log.Named("seed_handler"),
	}
}

func (h *SeedHandler) CreateDocument(c *gin.Context) { h.createUpload(c, models.KindDocument) }
func (h *SeedHandler) CreateImage(c *gin.Context)    { h.createUpload(c, models.KindImage) }
func (h *SeedHandler) CreateAudio(c *gin.Context)    { h.createUpload(c, models.KindAudio) }

// createUpload 处理 multipart 上传
func (h *SeedHandler) createUpload(c *gin.Context, kind models.ContentKind) {
	header, err := c.FormFile("file")
	if err != nil {
		h.badRequest(c, "Please attach a file in the \"file\" field")
		return
	}
	info, err := h.uploads.ValidateFile(kind, header)
	if err != nil {
		h.handleError(c, err)
		return
	}
	h.ingest(c, kind, seed.IngestRequest{
		Title:        strings.TrimSpace(c.PostForm("title")),
		Data:         info.Data,
		Filename:     info.Filename,
		MimeType:     info.MimeType,
		LanguageHint: c.PostForm("language"),
	})
}

func (h *SeedHandler) CreateText(c *gin.Context) {
	var body textRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.badRequest(c, "Request body must be JSON with a \"text\" field")
		return
	}
	h.ingest(c, models.KindText, seed.IngestRequest{
		Title:        strings.TrimSpace(body.Title),
		Text:         body.Text,
		LanguageHint: body.Language,
	})
}

func (h *SeedHandler) CreateVideo(c *gin.Context) {
	var body videoRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.badRequest(c, "Request body must be JSON with a \"url\" field")
		return
	}
	h.ingest(c, models.KindVideo, seed.IngestRequest{
		Title:        strings.TrimSpace(body.Title),
		URL:          body.URL,
		LanguageHint: body.Language,
	})
}

// ingest runs the pipeline. By default the response is an SSE stream of
// progress events followed by one seed or error event; ?stream=false returns
// plain JSON instead.
func (h *SeedHandler) ingest(c *gin.Context, kind models.ContentKind, req seed.IngestRequest) {
	req.UserID = middleware.UserID(c)
	if stream, err := strconv.ParseBool(c.DefaultQuery("stream", "true")); err == nil && !stream {
		h.ingestJSON(c, kind, req)
		return
	}
	h.ingestStream(c, kind, req)
}

func (h *SeedHandler) ingestJSON(c *gin.Context, kind models.ContentKind, req seed.IngestRequest) {
	ctx := c.Request.Context()
	s, err := h.service.Ingest(ctx, kind, req, nil)
	if err != nil {
		h.handleError(c, err)
		return
	}
	h.countUsage(ctx, req.UserID, middleware.IsPremium(c))
	c.JSON(http.StatusCreated, s)
}

type ingestOutcome struct {
	seed *models.Seed
	err  error
}

func (h *SeedHandler) ingestStream(c *gin.Context, kind models.ContentKind, req seed.IngestRequest) {
	ctx := c.Request.Context()
	log := logger.FromContext(ctx, h.logger)

	// progress frames are lossy; the next one carries a value at least as high
	events := make(chan ProgressEvent, 64)
	run := progress.NewRun(h.clock, h.progress, func(step int, message string, p float64) {
		select {
		case events <- ProgressEvent{Step: step, Message: message, Progress: p}:
		default:
		}
	}, progress.WithUsage(h.usage, req.UserID, middleware.IsPremium(c)), progress.WithLogger(log))
	run.Start()
	defer run.Reset()

	done := make(chan ingestOutcome, 1)
	go func() {
		s, err := h.service.Ingest(ctx, kind, req, run)
		done <- ingestOutcome{seed: s, err: err}
	}()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	var result *ingestOutcome
	dismissed := run.Dismissed()
	isDismissed := false
	for {
		select {
		case ev := <-events:
			h.send(c, "progress", ev)
			continue
		case o := <-done:
			if o.err != nil {
				run.Reset()
				_, body := h.errorResponse(o.err)
				h.send(c, "error", body)
				return
			}
			result = &o
			done = nil
		case <-dismissed:
			isDismissed = true
			dismissed = nil
		case <-ctx.Done():
			log.Debug("Client went away during ingest", logger.Error(ctx.Err()))
			return
		}

		if result != nil && isDismissed {
			h.flushEvents(c, events)
			h.send(c, "seed", result.seed)
			return
		}
	}
}

func (h *SeedHandler) flushEvents(c *gin.Context, events <-chan ProgressEvent) {
	for {
		select {
		case ev := <-events:
			h.send(c, "progress", ev)
		default:
			return
		}
	}
}

func (h *SeedHandler) send(c *gin.Context, event string, data interface{}) {
	c.SSEvent(event, data)
	c.Writer.Flush()
}

func (h *SeedHandler) countUsage(ctx context.Context, userID string, premium bool) {
	if h.usage == nil || premium || userID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, err := h.usage.Increment(ctx, userID); err != nil {
		logger.FromContext(ctx, h.logger).Warn("Failed to increment usage", logger.Error(err))
	}
}

// ListSeeds 分页列出当前用户的 seed
func (h *SeedHandler) ListSeeds(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	limit = repository.PageLimit(limit)
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}
	seeds, err := h.service.ListSeeds(c.Request.Context(), middleware.UserID(c), limit, offset)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"seeds":  seeds,
		"limit":  limit,
		"offset": offset,
	})
}

func (h *SeedHandler) GetSeed(c *gin.Context) {
	id, ok := h.seedID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	userID := middleware.UserID(c)

	s, err := h.service.GetSeed(ctx, userID, id)
	if err != nil {
		h.handleError(c, err)
		return
	}
	mats, err := h.service.ListMaterials(ctx, userID, id)
	if err != nil {
		h.handleError(c, err)
		return
	}
	if mats == nil {
		mats = []*models.SeedMaterial{}
	}
	c.JSON(http.StatusOK, SeedResponse{Seed: s, Materials: mats})
}

func (h *SeedHandler) DeleteSeed(c *gin.Context) {
	id, ok := h.seedID(c)
	if !ok {
		return
	}
	if err := h.service.DeleteSeed(c.Request.Context(), middleware.UserID(c), id); err != nil {
		h.handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *SeedHandler) seedID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.badRequest(c, "Invalid seed id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *SeedHandler) badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: "BAD_REQUEST", Message: message})
}

// handleError 统一错误处理
func (h *SeedHandler) handleError(c *gin.Context, err error) {
	status, body := h.errorResponse(err)
	if status >= http.StatusInternalServerError {
		logger.FromContext(c.Request.Context(), h.logger).Error("Request failed",
			logger.String("path", c.Request.URL.Path),
			logger.Error(err),
		)
	}
	c.JSON(status, body)
}

// errorResponse maps service errors to a status and a user-facing body.
func (h *SeedHandler) errorResponse(err error) (int, ErrorResponse) {
	if ve, ok := validator.AsValidationError(err); ok {
		return http.StatusUnprocessableEntity, ErrorResponse{Error: ve.Code, Message: ve.Message}
	}
	if errors.Is(err, seed.ErrNotFound) {
		return http.StatusNotFound, ErrorResponse{Error: "NOT_FOUND", Message: "Seed not found"}
	}
	var ie *seed.IngestError
	if errors.As(err, &ie) {
		if ie.Retryable() {
			return http.StatusBadGateway, ErrorResponse{Error: "UPSTREAM_FAILURE", Message: ie.Message}
		}
		return http.StatusInternalServerError, ErrorResponse{Error: "INGEST_FAILED", Message: ie.Message}
	}
	return http.StatusInternalServerError, ErrorResponse{Error: "INTERNAL", Message: "Something went wrong. Please try again."}
}
