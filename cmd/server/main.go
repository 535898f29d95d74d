package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/feichai0017/seed-processor/api/handlers"
	"github.com/feichai0017/seed-processor/api/routes"
	"github.com/feichai0017/seed-processor/config"
	"github.com/feichai0017/seed-processor/internal/agent"
	"github.com/feichai0017/seed-processor/internal/agent/explainer"
	"github.com/feichai0017/seed-processor/internal/agent/llm"
	"github.com/feichai0017/seed-processor/internal/agent/materials"
	"github.com/feichai0017/seed-processor/internal/progress"
	"github.com/feichai0017/seed-processor/internal/repository"
	"github.com/feichai0017/seed-processor/internal/service/seed"
	"github.com/feichai0017/seed-processor/internal/utils/validator"
	"github.com/feichai0017/seed-processor/pkg/logger"
	"github.com/feichai0017/seed-processor/pkg/queue"
	"github.com/feichai0017/seed-processor/pkg/settings"
	"github.com/feichai0017/seed-processor/pkg/storage"
	"github.com/feichai0017/seed-processor/pkg/usage"
	"github.com/feichai0017/seed-processor/pkg/worker"
)

func main() {
	// init logger
	log, err := logger.NewLogger(
		logger.WithLevel("info"),
		logger.WithEncoding("json"),
		logger.WithOutputPaths([]string{"stdout", "logs/app.log"}),
		logger.WithInitialFields(map[string]interface{}{"service": "seed-api"}),
	)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverCfg := config.GetServerConfig()
	pipelineCfg, err := config.LoadPipelineConfig(serverCfg.PipelineFile)
	if err != nil {
		log.Fatal("Failed to load pipeline config", logger.Error(err))
	}
	llmCfg := config.GetLLMConfig()
	if err := llmCfg.Validate(); err != nil {
		log.Fatal("Invalid LLM config", logger.Error(err))
	}

	// 数据库
	db, err := repository.Open(config.GetDatabaseConfig())
	if err != nil {
		log.Fatal("Failed to open database", logger.Error(err))
	}
	seeds := repository.NewSeedRepository(db)
	mats := repository.NewMaterialRepository(db)

	// redis: runtime limits and usage counters
	redisCfg := config.GetRedisConfig()
	rdb := redis.NewClient(&redis.Options{
		Addr:     redisCfg.Addr,
		Password: redisCfg.Password,
		DB:       redisCfg.DB,
	})
	defer rdb.Close()
	limits := settings.NewRedisProvider(rdb, settings.Limits{
		MaxCharacters: pipelineCfg.Limits.MaxCharacters,
		MaxWords:      pipelineCfg.Limits.MaxWords,
	}, log)
	counter := usage.NewCounter(rdb)

	store, err := storage.NewStorage(ctx, storage.StorageType(serverCfg.StorageType), log)
	if err != nil {
		log.Fatal("Failed to init storage", logger.Error(err))
	}

	provider, err := llm.NewFromConfig(llmCfg)
	if err != nil {
		log.Fatal("Failed to init LLM provider", logger.Error(err))
	}

	extractors, err := agent.NewExtractorFactory(ctx, log)
	if err != nil {
		log.Fatal("Failed to init extractors", logger.Error(err))
	}

	// asynq in production, in-process for single-binary setups
	var q queue.Queue
	switch serverCfg.QueueMode {
	case "memory":
		mq := queue.NewMemoryQueue(256, log)
		handler := worker.NewMaterialsHandler(seeds, mats,
			materials.NewGenerator(provider, llmCfg.MaterialsMaxToks, log), mq, log)
		mq.Start(ctx, 2, handler.Handle)
		defer mq.Close()
		q = mq
	default:
		aq := queue.NewAsynqQueue(queue.QueueConfig{
			RedisAddr:     redisCfg.Addr,
			RedisPassword: redisCfg.Password,
			RedisDB:       redisCfg.DB,
		}, log)
		defer aq.Close()
		q = aq
	}

	svc := seed.NewService(seed.Dependencies{
		Extractor: extractors,
		Validator: validator.NewContentValidator(limits, log),
		Generator: explainer.NewGenerator(provider, log, explainer.Config{MaxTokens: llmCfg.MaxTokens}),
		Seeds:     seeds,
		Materials: mats,
		Queue:     q,
		Storage:   store,
		Logger:    log,
	}, seed.Config{
		MaterialTypes: pipelineCfg.Materials,
		StoragePrefix: config.GetS3Config().Prefix,
	})

	// init handlers
	h := handlers.NewHandlers(
		handlers.NewSeedHandler(svc,
			validator.NewUploadValidator(log, nil),
			progress.RealClock(),
			progress.RunConfigFrom(pipelineCfg.Progress),
			counter,
			log,
		),
		handlers.NewHealthHandler(map[string]handlers.Check{
			"database": func(ctx context.Context) error {
				sqlDB, err := db.DB()
				if err != nil {
					return err
				}
				return sqlDB.PingContext(ctx)
			},
			"redis": func(ctx context.Context) error {
				return rdb.Ping(ctx).Err()
			},
		}, log),
	)
	r := gin.New()
	r.Use(gin.Recovery())
	routes.SetupRoutes(r, h, log)

	srv := &http.Server{
		Addr:    serverCfg.Addr(),
		Handler: r,
	}

	// start server
	go func() {
		log.Info("Server starting", logger.String("addr", srv.Addr), logger.String("queue", serverCfg.QueueMode))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server error", logger.Error(err))
		}
	}()

	// wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	// graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), serverCfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", logger.Error(err))
	}
	cancel()
}
