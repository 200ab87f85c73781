package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	App       AppConfig
	Transport TransportConfig
	Chat      ChatConfig
	Storage   StorageConfig
	Lifecycle LifecycleConfig
	Mock      MockConfig
}

type AppConfig struct {
	Environment          string `validate:"required"`
	LogFilePath          string `validate:"required"`
	TransportLogFilePath string `validate:"required"`
	OtelEnabled          bool
	OtelEndpoint         string
}

type TransportConfig struct {
	WSURL                string        `validate:"required,url"`
	MaxReconnectAttempts int           `validate:"gte=0"`
	ReconnectBaseDelay   time.Duration `validate:"gt=0"`
}

type ChatConfig struct {
	SendingTimeout time.Duration `validate:"gt=0"`
}

type StorageConfig struct {
	TokenStore string `validate:"oneof=memory redis"`
	RedisURL   string
	AuthToken  string // seeds the token store
}

type LifecycleConfig struct {
	Sink    string `validate:"oneof=none gochannel nats"`
	NatsURL string
}

type MockConfig struct {
	Port      string `validate:"required,numeric"`
	JWTSecret string
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, using system environment")
	}

	cfg := &Config{
		App: AppConfig{
			Environment:          getEnv("GO_ENV", "development"),
			LogFilePath:          getEnv("LOG_FILE_PATH", "logs/cicero.log"),
			TransportLogFilePath: getEnv("TRANSPORT_LOG_FILE_PATH", "logs/transport.log"),
			OtelEnabled:          getEnv("OTEL_ENABLED", "false") == "true",
			OtelEndpoint:         getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
		},
		Transport: TransportConfig{
			WSURL:                getEnv("CICERO_WS_URL", "ws://localhost:8000"),
			MaxReconnectAttempts: getEnvAsInt("WS_MAX_RECONNECT_ATTEMPTS", 5),
			ReconnectBaseDelay:   getEnvAsDuration("WS_RECONNECT_BASE_DELAY", time.Second),
		},
		Chat: ChatConfig{
			SendingTimeout: getEnvAsDuration("CHAT_SENDING_TIMEOUT", 30*time.Second),
		},
		Storage: StorageConfig{
			TokenStore: getEnv("TOKEN_STORE", "memory"),
			RedisURL:   getEnv("REDIS_URL", "redis://localhost:6379"),
			AuthToken:  getEnv("AUTH_TOKEN", ""),
		},
		Lifecycle: LifecycleConfig{
			Sink:    getEnv("LIFECYCLE_SINK", "none"),
			NatsURL: getEnv("NATS_URL", "nats://localhost:4222"),
		},
		Mock: MockConfig{
			Port:      getEnv("MOCK_PORT", "8000"),
			JWTSecret: getEnv("JWT_SECRET", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	strValue := getEnv(key, "")
	if value, err := time.ParseDuration(strValue); err == nil {
		return value
	}
	return fallback
}
