package worker

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/feichai0017/seed-processor/pkg/logger"
	"github.com/feichai0017/seed-processor/pkg/storage"
)

type failingCleaner struct{ calls int }

func (f *failingCleaner) CleanupBefore(context.Context, string, time.Time) (int, error) {
	f.calls++
	return 0, errors.New("access denied")
}

func TestUploadJanitorSweep(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	for _, key := range []string{"seeds/u1/a/notes.pdf", "seeds/u2/b/board.png", "exports/u1/report.json"} {
		if _, err := store.Store(ctx, key, strings.NewReader("x"), 1, ""); err != nil {
			t.Fatalf("Store: %v", err)
		}
	}

	j := NewUploadJanitor(store, "seeds/", time.Hour, time.Minute, logger.NewTestLogger())
	if n, err := j.Sweep(ctx); err != nil || n != 0 {
		t.Fatalf("fresh sweep = %d, %v", n, err)
	}

	j.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	n, err := j.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 2 {
		t.Fatalf("deleted %d, want 2", n)
	}
	if !store.Has("exports/u1/report.json") {
		t.Fatal("object outside the prefix was deleted")
	}
}

func TestUploadJanitorLogsFailures(t *testing.T) {
	log := logger.NewTestLogger()
	cleaner := &failingCleaner{}
	j := NewUploadJanitor(cleaner, "seeds/", time.Hour, time.Hour, log)

	if _, err := j.Sweep(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if !log.HasMessage("ERROR", "Upload sweep failed") {
		t.Fatal("failure not logged")
	}
}

func TestUploadJanitorStartStop(t *testing.T) {
	cleaner := &failingCleaner{}
	j := NewUploadJanitor(cleaner, "seeds/", time.Hour, time.Hour, logger.NewNop())

	if err := j.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// the first sweep runs before the loop waits
	j.Stop()
	if cleaner.calls != 1 {
		t.Fatalf("sweeps = %d, want 1", cleaner.calls)
	}
	if err := j.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}
