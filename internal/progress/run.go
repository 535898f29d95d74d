package progress

import (
	"context"
	"sync"
	"time"

	"github.com/feichai0017/seed-processor/config"
	"github.com/feichai0017/seed-processor/internal/models"
	"github.com/feichai0017/seed-processor/pkg/logger"
)

// ProgressFunc receives every displayed update: the visible step, its
// message and the smoothed fraction.
type ProgressFunc func(step int, message string, progress float64)

// UsageCounter records one completed ingestion for a user.
type UsageCounter interface {
	Increment(ctx context.Context, userID string) (int64, error)
}

type RunConfig struct {
	Stage           StageConfig
	TickInterval    time.Duration
	InitialProgress float64
}

// RunConfigFrom converts the yaml progress section.
func RunConfigFrom(p config.ProgressConfig) RunConfig {
	return RunConfig{
		Stage:           StageConfigFrom(p),
		TickInterval:    p.TickInterval,
		InitialProgress: p.InitialProgress,
	}
}

// Run is the progress state of one ingestion: a stage controller feeding a
// smoother, plus the completion dismissal. Create one per ingest call.
type Run struct {
	controller *StageController
	smoother   *Smoother
	cfg        RunConfig
	onProgress ProgressFunc
	logger     logger.Logger

	usage   UsageCounter
	userID  string
	premium bool

	mu       sync.Mutex
	step     int
	message  string
	lastSent float64

	dismissOnce sync.Once
	dismissed   chan struct{}
}

type RunOption func(*Run)

// WithUsage counts the run against userID on dismissal unless premium.
func WithUsage(counter UsageCounter, userID string, premium bool) RunOption {
	return func(r *Run) {
		r.usage = counter
		r.userID = userID
		r.premium = premium
	}
}

func WithLogger(log logger.Logger) RunOption {
	return func(r *Run) { r.logger = log }
}

func NewRun(clock Clock, cfg RunConfig, onProgress ProgressFunc, opts ...RunOption) *Run {
	if onProgress == nil {
		onProgress = func(int, string, float64) {}
	}
	if cfg.InitialProgress <= 0 {
		cfg.InitialProgress = DefaultInitialProgress
	}
	r := &Run{
		cfg:        cfg,
		onProgress: onProgress,
		logger:     logger.NewNop(),
		dismissed:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.smoother = NewSmoother(clock, cfg.TickInterval, r.tick)
	r.controller = NewStageController(clock, cfg.Stage, r.promoted, r.dismiss)
	r.smoother.Reset(cfg.InitialProgress)
	return r
}

// Start resets the displayed value and begins ticking.
func (r *Run) Start() {
	r.mu.Lock()
	r.step, r.message, r.lastSent = 0, "", 0
	r.mu.Unlock()
	r.smoother.Reset(r.cfg.InitialProgress)
	r.smoother.Start()
}

// Stage feeds one raw stage signal from the pipeline.
func (r *Run) Stage(item models.StageItem) {
	r.controller.Push(item)
}

// Reset clears every timer and the displayed state. Used on failure and
// teardown.
func (r *Run) Reset() {
	r.controller.Reset()
	r.smoother.Stop()
	r.smoother.Reset(r.cfg.InitialProgress)
	r.mu.Lock()
	r.step, r.message, r.lastSent = 0, "", 0
	r.mu.Unlock()
}

// Dismissed is closed once the completed state has been shown for the
// completion delay.
func (r *Run) Dismissed() <-chan struct{} { return r.dismissed }

// Visible returns the stage currently shown.
func (r *Run) Visible() (models.StageItem, bool) { return r.controller.Visible() }

// Displayed returns the smoothed progress value.
func (r *Run) Displayed() float64 { return r.smoother.Displayed() }

func (r *Run) promoted(item models.StageItem) {
	r.smoother.SetTarget(item.Target)
	r.mu.Lock()
	r.step = item.Step
	r.message = item.Message
	r.mu.Unlock()
	r.emit(r.smoother.Displayed())
}

func (r *Run) tick(v float64) {
	r.emit(v)
}

// emit serializes callbacks; a late tick never reports a lower value than
// one already sent.
func (r *Run) emit(v float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v < r.lastSent {
		v = r.lastSent
	}
	r.lastSent = v
	r.onProgress(r.step, r.message, v)
}

func (r *Run) dismiss(item models.StageItem) {
	r.smoother.Stop()
	r.emit(r.smoother.Finish())

	if r.usage != nil && !r.premium && r.userID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		n, err := r.usage.Increment(ctx, r.userID)
		cancel()
		if err != nil {
			r.logger.Warn("failed to increment usage",
				logger.String("user_id", r.userID),
				logger.Error(err),
			)
		} else {
			r.logger.Debug("usage incremented", logger.String("user_id", r.userID), logger.Int64("count", n))
		}
	}

	r.dismissOnce.Do(func() { close(r.dismissed) })
}
