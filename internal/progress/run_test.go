package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/feichai0017/seed-processor/internal/models"
)

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

type update struct {
	step     int
	message  string
	progress float64
}

func testRunConfig() RunConfig {
	return RunConfig{
		Stage:           testStageConfig(),
		TickInterval:    250 * time.Millisecond,
		InitialProgress: 0.02,
	}
}

func TestRunProgressIsMonotonic(t *testing.T) {
	clock := NewFakeClock(epoch)
	var updates []update
	run := NewRun(clock, testRunConfig(), func(step int, msg string, p float64) {
		updates = append(updates, update{step, msg, p})
	})
	run.Start()

	seq := []struct {
		item  models.StageItem
		after time.Duration
	}{
		{models.NewStageItem(models.StageValidating, "Checking"), 50 * time.Millisecond},
		{models.NewStageItem(models.StageReading, "Reading"), 20 * time.Millisecond},
		{models.NewStageItem(models.StageExtracting, "Extracting"), 1500 * time.Millisecond},
		{models.NewStageItem(models.StageGenerating, "Writing").WithTarget(0.37), 300 * time.Millisecond},
		{models.NewStageItem(models.StageGenerating, "Writing").WithTarget(0.6), 300 * time.Millisecond},
		{models.NewStageItem(models.StageGenerating, "Writing").WithTarget(0.5), 10 * time.Millisecond},
		{models.NewStageItem(models.StageGenerating, "Writing"), 10 * time.Millisecond},
		{models.NewStageItem(models.StageFinalizing, "Saving"), 10 * time.Millisecond},
		{models.NewStageItem(models.StageCompleted, "Done"), 0},
	}
	for _, s := range seq {
		run.Stage(s.item)
		clock.Advance(s.after)
	}
	clock.Advance(2 * time.Second)

	if len(updates) == 0 {
		t.Fatal("no progress reported")
	}
	prev := -1.0
	for i, u := range updates {
		if u.progress < prev {
			t.Fatalf("update %d regressed: %v -> %v", i, prev, u.progress)
		}
		if u.progress > 1 {
			t.Fatalf("update %d above 1: %v", i, u.progress)
		}
		prev = u.progress
	}
	last := updates[len(updates)-1]
	if last.progress != 1.0 || last.step != models.StageCompleted.Index()+1 {
		t.Fatalf("last update = %+v", last)
	}

	select {
	case <-run.Dismissed():
	default:
		t.Fatal("run not dismissed after completion delay")
	}
}

func TestRunDismissalCountsUsage(t *testing.T) {
	tests := []struct {
		name    string
		premium bool
		want    int
	}{
		{"free", false, 1},
		{"premium", true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := NewFakeClock(epoch)
			usage := &countingUsage{}
			run := NewRun(clock, testRunConfig(), nil, WithUsage(usage, "user-1", tt.premium))
			run.Start()

			run.Stage(models.NewStageItem(models.StageCompleted, "Done"))
			clock.Advance(799 * time.Millisecond)
			select {
			case <-run.Dismissed():
				t.Fatal("dismissed early")
			default:
			}
			clock.Advance(time.Millisecond)
			<-run.Dismissed()

			if len(usage.users) != tt.want {
				t.Fatalf("usage increments = %d, want %d", len(usage.users), tt.want)
			}
		})
	}
}

func TestRunResetStopsEverything(t *testing.T) {
	clock := NewFakeClock(epoch)
	calls := 0
	usage := &countingUsage{}
	run := NewRun(clock, testRunConfig(), func(int, string, float64) { calls++ }, WithUsage(usage, "u", false))
	run.Start()
	run.Stage(models.NewStageItem(models.StageValidating, "Checking"))
	run.Stage(models.NewStageItem(models.StageReading, "Reading"))

	run.Reset()
	before := calls
	clock.Advance(5 * time.Second)

	if calls != before {
		t.Fatalf("callbacks after reset: %d", calls-before)
	}
	if clock.Pending() != 0 {
		t.Fatalf("timers armed after reset: %d", clock.Pending())
	}
	if run.Displayed() != 0.02 {
		t.Fatalf("displayed = %v, want initial", run.Displayed())
	}
	if _, ok := run.Visible(); ok {
		t.Fatal("visible stage survived reset")
	}
	if len(usage.users) != 0 {
		t.Fatal("usage counted for a reset run")
	}
}
