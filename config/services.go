package config

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

var (
	serverOnce   sync.Once
	serverConfig *ServerConfig

	dbOnce   sync.Once
	dbConfig *DatabaseConfig

	redisOnce   sync.Once
	redisConfig *RedisConfig

	llmOnce   sync.Once
	llmConfig *LLMConfig
)

type ServerConfig struct {
	Host            string
	Port            int
	StorageType     string // "s3", "minio" or "none"
	QueueMode       string // "asynq" or "memory"
	ShutdownTimeout time.Duration
	PipelineFile    string
	// raw uploads older than this are swept by the worker; 0 keeps them
	UploadRetention time.Duration
}

func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func GetServerConfig() *ServerConfig {
	serverOnce.Do(func() {
		loadEnv()
		serverConfig = &ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvInt("SERVER_PORT", 8080),
			StorageType:     getEnv("STORAGE_TYPE", "s3"),
			QueueMode:       getEnv("QUEUE_MODE", "asynq"),
			ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 5*time.Second),
			PipelineFile:    getEnv("PIPELINE_CONFIG", "config/pipeline.yaml"),
			UploadRetention: getEnvDuration("UPLOAD_RETENTION", 0),
		}
	})
	return serverConfig
}

type DatabaseConfig struct {
	Driver      string // "postgres" or "sqlite"
	DSN         string
	AutoMigrate bool
	MaxConns    int
}

func GetDatabaseConfig() *DatabaseConfig {
	dbOnce.Do(func() {
		loadEnv()
		dbConfig = &DatabaseConfig{
			Driver:      getEnv("DB_DRIVER", "postgres"),
			DSN:         getEnv("DATABASE_URL", ""),
			AutoMigrate: getEnvBool("DB_AUTO_MIGRATE", true),
			MaxConns:    getEnvInt("DB_MAX_CONNS", 20),
		}
	})
	return dbConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func GetRedisConfig() *RedisConfig {
	redisOnce.Do(func() {
		loadEnv()
		redisConfig = &RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		}
	})
	return redisConfig
}

type LLMConfig struct {
	Provider         string // "anthropic" or "openai"
	AnthropicKey     string
	AnthropicModel   string
	OpenAIKey        string
	OpenAIBaseURL    string
	OpenAIModel      string
	WhisperModel     string
	MaxTokens        int
	MaterialsMaxToks int
}

func GetLLMConfig() *LLMConfig {
	llmOnce.Do(func() {
		loadEnv()
		llmConfig = &LLMConfig{
			Provider:         getEnv("LLM_PROVIDER", "anthropic"),
			AnthropicKey:     getEnv("ANTHROPIC_API_KEY", ""),
			AnthropicModel:   getEnv("ANTHROPIC_MODEL", "claude-sonnet-4-20250514"),
			OpenAIKey:        getEnv("OPENAI_API_KEY", ""),
			OpenAIBaseURL:    getEnv("OPENAI_BASE_URL", ""),
			OpenAIModel:      getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			WhisperModel:     getEnv("WHISPER_MODEL", "whisper-1"),
			MaxTokens:        getEnvInt("LLM_MAX_TOKENS", 4096),
			MaterialsMaxToks: getEnvInt("LLM_MATERIALS_MAX_TOKENS", 2048),
		}
	})
	return llmConfig
}

// Validate lists the settings the server cannot start without.
func (c *LLMConfig) Validate() error {
	var missing []string
	switch c.Provider {
	case "anthropic":
		if c.AnthropicKey == "" {
			missing = append(missing, "ANTHROPIC_API_KEY")
		}
	case "openai":
		if c.OpenAIKey == "" {
			missing = append(missing, "OPENAI_API_KEY")
		}
	default:
		return fmt.Errorf("unknown LLM_PROVIDER %q", c.Provider)
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required env vars: %s", strings.Join(missing, ", "))
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '+' }) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
