package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/seed-processor/pkg/logger"
)

type Handlers struct {
	Seed   *SeedHandler
	Health *HealthHandler
}

func NewHandlers(seed *SeedHandler, health *HealthHandler) *Handlers {
	return &Handlers{
		Seed:   seed,
		Health: health,
	}
}

// Check reports whether one dependency is reachable.
type Check func(ctx context.Context) error

type HealthHandler struct {
	checks map[string]Check
	logger logger.Logger
}

func NewHealthHandler(checks map[string]Check, log logger.Logger) *HealthHandler {
	return &HealthHandler{checks: checks, logger: log.Named("health")}
}

// Health runs every check with a short deadline. Any failure turns the
// response into 503.
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("Health check failed", logger.String("check", name), logger.Error(err))
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	c.JSON(status, gin.H{"status": state, "checks": results})
}
