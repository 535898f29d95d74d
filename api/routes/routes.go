package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/feichai0017/seed-processor/api/handlers"
	"github.com/feichai0017/seed-processor/api/middleware"
	"github.com/feichai0017/seed-processor/pkg/logger"
	"github.com/feichai0017/seed-processor/pkg/metrics"
)

// SetupRoutes 配置所有路由
func SetupRoutes(r *gin.Engine, h *handlers.Handlers, log logger.Logger) {
	// 全局中间件
	r.Use(middleware.CORS())
	r.Use(middleware.RequestContext())
	r.Use(middleware.AccessLog(log))
	r.Use(metrics.Middleware())

	r.GET("/health", h.Health.Health)
	r.GET("/metrics", metrics.Handler())

	// API 版本组
	v1 := r.Group("/api/v1")
	v1.Use(middleware.RequireUser())

	seeds := v1.Group("/seeds")
	{
		seeds.POST("/document", h.Seed.CreateDocument)
		seeds.POST("/image", h.Seed.CreateImage)
		seeds.POST("/audio", h.Seed.CreateAudio)
		seeds.POST("/text", h.Seed.CreateText)
		seeds.POST("/video", h.Seed.CreateVideo)

		seeds.GET("", h.Seed.ListSeeds)
		seeds.GET("/:id", h.Seed.GetSeed)
		seeds.DELETE("/:id", h.Seed.DeleteSeed)
	}
}
