package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/feichai0017/seed-processor/config"
	"github.com/feichai0017/seed-processor/internal/agent/llm"
	"github.com/feichai0017/seed-processor/internal/agent/materials"
	"github.com/feichai0017/seed-processor/internal/repository"
	"github.com/feichai0017/seed-processor/pkg/logger"
	"github.com/feichai0017/seed-processor/pkg/queue"
	"github.com/feichai0017/seed-processor/pkg/storage"
	"github.com/feichai0017/seed-processor/pkg/worker"
)

func main() {

	// 初始化日志
	log, err := logger.NewLogger(
		logger.WithLevel("info"),
		logger.WithEncoding("json"),
		logger.WithOutputPaths([]string{"stdout", "logs/worker.log"}),
		logger.WithInitialFields(map[string]interface{}{"service": "seed-worker"}),
	)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	// 创建上下文和取消函数
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverCfg := config.GetServerConfig()
	redisCfg := config.GetRedisConfig()
	llmCfg := config.GetLLMConfig()
	if err := llmCfg.Validate(); err != nil {
		log.Error("Invalid LLM config", logger.Error(err))
		os.Exit(1)
	}

	db, err := repository.Open(config.GetDatabaseConfig())
	if err != nil {
		log.Error("Failed to open database", logger.Error(err))
		os.Exit(1)
	}

	provider, err := llm.NewFromConfig(llmCfg)
	if err != nil {
		log.Error("Failed to init LLM provider", logger.Error(err))
		os.Exit(1)
	}

	// the queue is only read here, for cancellation flags
	q := queue.NewAsynqQueue(queue.QueueConfig{
		RedisAddr:     redisCfg.Addr,
		RedisPassword: redisCfg.Password,
		RedisDB:       redisCfg.DB,
	}, log)
	defer q.Close()

	handler := worker.NewMaterialsHandler(
		repository.NewSeedRepository(db),
		repository.NewMaterialRepository(db),
		materials.NewGenerator(provider, llmCfg.MaterialsMaxToks, log),
		q,
		log,
	)

	// 创建 worker 配置
	workerCfg := &worker.Config{
		RedisAddr:     redisCfg.Addr,
		RedisPassword: redisCfg.Password,
		RedisDB:       redisCfg.DB,
		Concurrency:   10,
		Queues:        queue.Queues,
	}
	workers := []worker.Worker{worker.NewMaterialsWorker(workerCfg, handler, log)}

	if serverCfg.UploadRetention > 0 {
		store, err := storage.NewStorage(ctx, storage.StorageType(serverCfg.StorageType), log)
		if err != nil {
			log.Error("Failed to init storage", logger.Error(err))
			os.Exit(1)
		}
		if store != nil {
			workers = append(workers, worker.NewUploadJanitor(store,
				config.GetS3Config().Prefix+"/", serverCfg.UploadRetention, time.Hour, log))
		}
	}

	// 启动 worker
	for _, w := range workers {
		if err := w.Start(ctx); err != nil {
			log.Error("Failed to start worker", logger.Error(err))
			os.Exit(1)
		}
	}
	log.Info("Worker started", logger.Int("workers", len(workers)))

	// 等待中断信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	// 优雅关闭
	log.Info("Shutting down worker...")
	for _, w := range workers {
		w.Stop()
	}
	log.Info("Worker stopped")
}
