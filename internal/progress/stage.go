package progress

import (
	"sync"
	"time"

	"github.com/feichai0017/seed-processor/config"
	"github.com/feichai0017/seed-processor/internal/models"
)

// StageConfig holds the narration timings.
type StageConfig struct {
	Dwell           map[models.Stage]time.Duration
	DefaultDwell    time.Duration
	CompletionDelay time.Duration
}

// StageConfigFrom converts the yaml progress section.
func StageConfigFrom(p config.ProgressConfig) StageConfig {
	dwell := make(map[models.Stage]time.Duration, len(p.Dwell))
	for name, d := range p.Dwell {
		dwell[models.Stage(name)] = d
	}
	return StageConfig{
		Dwell:           dwell,
		DefaultDwell:    p.DefaultDwell,
		CompletionDelay: p.CompletionDelay,
	}
}

func (c StageConfig) dwell(s models.Stage) time.Duration {
	if d, ok := c.Dwell[s]; ok {
		return d
	}
	return c.DefaultDwell
}

// StageController decides when a raw stage signal becomes the visible stage.
// A stage stays visible for at least its dwell time; a newer signal that
// arrives earlier waits in a single pending slot. completed is promoted
// immediately and arms the dismissal timer.
//
// onPromote runs with the controller's lock held and must not call back into
// the controller.
type StageController struct {
	mu    sync.Mutex
	clock Clock
	cfg   StageConfig

	onPromote func(models.StageItem)
	onDismiss func(models.StageItem)

	visible      *models.StageItem
	promotedAt   time.Time
	pending      *models.StageItem
	pendingTimer Timer
	dismissTimer Timer
	// bumped by Reset so timers armed before it become no-ops
	epoch uint64
}

func NewStageController(clock Clock, cfg StageConfig, onPromote, onDismiss func(models.StageItem)) *StageController {
	if onPromote == nil {
		onPromote = func(models.StageItem) {}
	}
	if onDismiss == nil {
		onDismiss = func(models.StageItem) {}
	}
	return &StageController{
		clock:     clock,
		cfg:       cfg,
		onPromote: onPromote,
		onDismiss: onDismiss,
	}
}

// Push feeds one raw stage signal.
func (c *StageController) Push(item models.StageItem) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.visible != nil && c.visible.Stage == models.StageCompleted {
		return
	}

	if item.Stage == models.StageCompleted {
		c.clearPending()
		c.promote(item)
		epoch := c.epoch
		c.dismissTimer = c.clock.AfterFunc(c.cfg.CompletionDelay, func() { c.dismiss(epoch) })
		return
	}

	// 阶段只能前进
	if c.visible != nil && item.Stage.Index() < c.visible.Stage.Index() {
		return
	}
	if c.pending != nil && item.Stage.Index() < c.pending.Stage.Index() {
		return
	}

	if c.visible == nil || item.Stage == c.visible.Stage {
		c.promote(item)
		return
	}

	remaining := c.cfg.dwell(c.visible.Stage) - c.clock.Now().Sub(c.promotedAt)
	if remaining <= 0 {
		c.clearPending()
		c.promote(item)
		return
	}

	held := item
	if c.pending != nil {
		// last writer wins; the deadline stays where it was
		c.pending = &held
		return
	}
	c.pending = &held
	epoch := c.epoch
	c.pendingTimer = c.clock.AfterFunc(remaining, func() { c.firePending(epoch) })
}

// Visible returns the currently visible item.
func (c *StageController) Visible() (models.StageItem, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.visible == nil {
		return models.StageItem{}, false
	}
	return *c.visible, true
}

// Pending returns the item waiting for the current dwell to expire.
func (c *StageController) Pending() (models.StageItem, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return models.StageItem{}, false
	}
	return *c.pending, true
}

// Reset stops every timer and returns to the initial state.
func (c *StageController) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearPending()
	if c.dismissTimer != nil {
		c.dismissTimer.Stop()
		c.dismissTimer = nil
	}
	c.visible = nil
	c.promotedAt = time.Time{}
	c.epoch++
}

func (c *StageController) promote(item models.StageItem) {
	if c.visible == nil || c.visible.Stage != item.Stage {
		c.promotedAt = c.clock.Now()
	}
	promoted := item
	c.visible = &promoted
	c.onPromote(promoted)
}

func (c *StageController) clearPending() {
	if c.pendingTimer != nil {
		c.pendingTimer.Stop()
		c.pendingTimer = nil
	}
	c.pending = nil
}

func (c *StageController) firePending(epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch || c.pending == nil {
		return
	}
	item := *c.pending
	c.pending = nil
	c.pendingTimer = nil
	c.promote(item)
}

func (c *StageController) dismiss(epoch uint64) {
	c.mu.Lock()
	if epoch != c.epoch || c.visible == nil {
		c.mu.Unlock()
		return
	}
	item := *c.visible
	c.dismissTimer = nil
	c.mu.Unlock()

	c.onDismiss(item)
}
