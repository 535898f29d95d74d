package worker

import (
	"context"
	"sync"
	"time"

	"github.com/feichai0017/seed-processor/pkg/logger"
	"github.com/feichai0017/seed-processor/pkg/metrics"
)

// Cleaner removes stored objects older than a threshold.
type Cleaner interface {
	CleanupBefore(ctx context.Context, prefix string, threshold time.Time) (int, error)
}

// UploadJanitor periodically deletes raw uploads past their retention. The
// seed keeps its extracted text, so only the original file goes away.
type UploadJanitor struct {
	store     Cleaner
	prefix    string
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
	logger    logger.Logger

	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewUploadJanitor(store Cleaner, prefix string, retention, interval time.Duration, log logger.Logger) *UploadJanitor {
	if interval <= 0 {
		interval = time.Hour
	}
	return &UploadJanitor{
		store:     store,
		prefix:    prefix,
		retention: retention,
		interval:  interval,
		now:       time.Now,
		logger:    log.Named("upload_janitor"),
		stopChan:  make(chan struct{}),
	}
}

// Sweep deletes everything under the prefix older than the retention.
func (j *UploadJanitor) Sweep(ctx context.Context) (int, error) {
	threshold := j.now().Add(-j.retention)
	n, err := j.store.CleanupBefore(ctx, j.prefix, threshold)
	metrics.UploadsSwept.Add(float64(n))
	if err != nil {
		j.logger.Error("Upload sweep failed", logger.Int("deleted", n), logger.Error(err))
		return n, err
	}
	if n > 0 {
		j.logger.Info("Expired uploads deleted",
			logger.Int("deleted", n),
			logger.Time("threshold", threshold),
		)
	}
	return n, nil
}

// Start sweeps once, then every interval until ctx is done or Stop.
func (j *UploadJanitor) Start(ctx context.Context) error {
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()
		for {
			j.Sweep(ctx)
			select {
			case <-ctx.Done():
				return
			case <-j.stopChan:
				return
			case <-ticker.C:
			}
		}
	}()
	return nil
}

func (j *UploadJanitor) Stop() error {
	j.stopOnce.Do(func() { close(j.stopChan) })
	j.wg.Wait()
	return nil
}
