// Package config loads fruitflow settings from the environment, with an
// optional .env file in the working directory.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/fruitflow/fruitflow/pkg/validation"
)

// Config holds all configuration
type Config struct {
	Flow   FlowConfig
	Store  StoreConfig
	LLM    LLMConfig
	Crew   CrewConfig
	Log    LogConfig
	Server ServerConfig
}

type FlowConfig struct {
	OutputPath  string `validate:"required"`
	Parallelism int    `validate:"min=1,max=256"`
}

type StoreConfig struct {
	Driver        string `validate:"oneof=memory sqlite postgres redis"`
	DSN           string `validate:"required_unless=Driver memory"`
	Table         string `validate:"omitempty,max=63"`
	KeyPrefix     string
	TTL           time.Duration `validate:"min=0"`
	Codec         string        `validate:"oneof=msgpack json"`
	Compression   string        `validate:"oneof=none gzip zstd"`
	EncryptionKey string        `validate:"omitempty,len=16|len=24|len=32"`
}

type LLMConfig struct {
	APIKey      string
	Model       string  `validate:"required"`
	BaseURL     string  `validate:"omitempty,url"`
	Temperature float64 `validate:"min=0,max=2"`
	MaxTokens   int     `validate:"min=0"`
	Timeout     time.Duration
}

type CrewConfig struct {
	AgentsPath string `validate:"required_with=TasksPath"`
	TasksPath  string `validate:"required_with=AgentsPath"`
}

type LogConfig struct {
	Level  string `validate:"oneof=debug info warn error"`
	Format string `validate:"oneof=json console"`
}

type ServerConfig struct {
	Addr            string        `validate:"required"`
	ShutdownTimeout time.Duration `validate:"min=0"`
}

// Load reads .env (if present) and the environment, then validates.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Flow: FlowConfig{
			OutputPath:  getEnvWithDefault("FRUITFLOW_OUTPUT", "poem.txt"),
			Parallelism: getEnvAsInt("FRUITFLOW_PARALLELISM", runtime.NumCPU()),
		},
		Store: StoreConfig{
			Driver:        getEnvWithDefault("FRUITFLOW_STORE", "sqlite"),
			DSN:           getEnvWithDefault("FRUITFLOW_STORE_DSN", "fruitflow.db"),
			Table:         getEnvWithDefault("FRUITFLOW_STORE_TABLE", ""),
			KeyPrefix:     getEnvWithDefault("FRUITFLOW_STORE_PREFIX", "fruitflow:"),
			TTL:           getEnvAsDuration("FRUITFLOW_STORE_TTL", 0),
			Codec:         getEnvWithDefault("FRUITFLOW_STORE_CODEC", "msgpack"),
			Compression:   getEnvWithDefault("FRUITFLOW_STORE_COMPRESSION", "zstd"),
			EncryptionKey: getEnvWithDefault("FRUITFLOW_STORE_KEY", ""),
		},
		LLM: LLMConfig{
			APIKey:      getEnvWithDefault("OPENAI_API_KEY", ""),
			Model:       getEnvWithDefault("OPENAI_MODEL", "gpt-4o-mini"),
			BaseURL:     getEnvWithDefault("OPENAI_BASE_URL", ""),
			Temperature: getEnvAsFloat("OPENAI_TEMPERATURE", 0.7),
			MaxTokens:   getEnvAsInt("OPENAI_MAX_TOKENS", 0),
			Timeout:     getEnvAsDuration("OPENAI_TIMEOUT", 60*time.Second),
		},
		Crew: CrewConfig{
			AgentsPath: getEnvWithDefault("FRUITFLOW_AGENTS", ""),
			TasksPath:  getEnvWithDefault("FRUITFLOW_TASKS", ""),
		},
		Log: LogConfig{
			Level:  getEnvWithDefault("LOG_LEVEL", "info"),
			Format: getEnvWithDefault("LOG_FORMAT", "console"),
		},
		Server: ServerConfig{
			Addr:            getEnvWithDefault("FRUITFLOW_ADDR", ":8080"),
			ShutdownTimeout: getEnvAsDuration("FRUITFLOW_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	return validation.Struct(c)
}

// Helper functions for environment variable parsing

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if valueStr := os.Getenv(key); valueStr != "" {
		if value, err := strconv.Atoi(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if valueStr := os.Getenv(key); valueStr != "" {
		if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
			return value
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if valueStr := os.Getenv(key); valueStr != "" {
		if value, err := time.ParseDuration(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}
