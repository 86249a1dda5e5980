/**
 * Configuration for the Handwriting Recognition Worker
 *
 * Values come from built-in defaults, then an optional YAML file named by
 * HANDWRITING_CONFIG, then environment variables (see .env.handwriting).
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EngineTesseract = "tesseract"
	EngineRemote    = "remote"

	BackendRedis = "redis"
	BackendAsynq = "asynq"

	ScaleFraction = "fraction" // confidence reported in [0,1]
	ScalePercent  = "percent"  // confidence reported in [0,100]
)

// Config holds worker configuration
type Config struct {
	// Redis configuration
	RedisURL     string `yaml:"redis_url"`
	QueueName    string `yaml:"queue_name"`
	QueueBackend string `yaml:"queue_backend"`

	// PostgreSQL job ledger (optional)
	DatabaseURL string `yaml:"database_url"`

	// Recognition engine
	Engine            string `yaml:"engine"`
	VisionURL         string `yaml:"vision_url"`
	VisionScale       string `yaml:"vision_confidence_scale"`
	TesseractLanguage string `yaml:"tesseract_language"`

	// Worker configuration
	WorkerConcurrency int   `yaml:"worker_concurrency"`
	MaxImageSize      int64 `yaml:"max_image_size"`
	ProcessingTimeout int   `yaml:"processing_timeout"` // milliseconds
	AttemptTimeoutMS  int   `yaml:"attempt_timeout_ms"`
	ResultTTLSeconds  int   `yaml:"result_ttl_seconds"`

	LogLevel string `yaml:"log_level"`
}

// defaultConfig returns the built-in defaults
func defaultConfig() *Config {
	return &Config{
		RedisURL:          "redis://nexus-redis:6379",
		QueueName:         "handwriting",
		QueueBackend:      BackendRedis,
		Engine:            EngineTesseract,
		VisionURL:         "http://nexus-mageagent:8080",
		VisionScale:       ScaleFraction,
		TesseractLanguage: "eng",
		WorkerConcurrency: 4,
		MaxImageSize:      26214400, // 25MB
		ProcessingTimeout: 300000,   // 5 minutes
		AttemptTimeoutMS:  60000,
		ResultTTLSeconds:  86400,
		LogLevel:          "info",
	}
}

// LoadConfig loads configuration from the optional YAML file and environment variables
func LoadConfig() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("HANDWRITING_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadFile overlays values from a YAML file; keys absent from the file keep their current value
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.RedisURL = getEnvOrDefault("REDIS_URL", c.RedisURL)
	c.QueueName = getEnvOrDefault("QUEUE_NAME", c.QueueName)
	c.QueueBackend = getEnvOrDefault("QUEUE_BACKEND", c.QueueBackend)
	c.DatabaseURL = getEnvOrDefault("DATABASE_URL", c.DatabaseURL)
	c.Engine = getEnvOrDefault("ENGINE", c.Engine)
	c.VisionURL = getEnvOrDefault("VISION_URL", c.VisionURL)
	c.VisionScale = getEnvOrDefault("VISION_CONFIDENCE_SCALE", c.VisionScale)
	c.TesseractLanguage = getEnvOrDefault("TESSERACT_LANGUAGE", c.TesseractLanguage)
	c.WorkerConcurrency = getEnvAsIntOrDefault("WORKER_CONCURRENCY", c.WorkerConcurrency)
	c.MaxImageSize = getEnvAsInt64OrDefault("MAX_IMAGE_SIZE", c.MaxImageSize)
	c.ProcessingTimeout = getEnvAsIntOrDefault("PROCESSING_TIMEOUT", c.ProcessingTimeout)
	c.AttemptTimeoutMS = getEnvAsIntOrDefault("ATTEMPT_TIMEOUT_MS", c.AttemptTimeoutMS)
	c.ResultTTLSeconds = getEnvAsIntOrDefault("RESULT_TTL_SECONDS", c.ResultTTLSeconds)
	c.LogLevel = getEnvOrDefault("LOG_LEVEL", c.LogLevel)
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.QueueName == "" {
		return fmt.Errorf("QUEUE_NAME is required")
	}

	if c.QueueBackend != BackendRedis && c.QueueBackend != BackendAsynq {
		return fmt.Errorf("QUEUE_BACKEND must be %q or %q, got %q", BackendRedis, BackendAsynq, c.QueueBackend)
	}

	switch c.Engine {
	case EngineTesseract:
	case EngineRemote:
		if c.VisionURL == "" {
			return fmt.Errorf("VISION_URL is required when ENGINE=%s", EngineRemote)
		}
		if c.VisionScale != ScaleFraction && c.VisionScale != ScalePercent {
			return fmt.Errorf("VISION_CONFIDENCE_SCALE must be %q or %q, got %q", ScaleFraction, ScalePercent, c.VisionScale)
		}
	default:
		return fmt.Errorf("ENGINE must be %q or %q, got %q", EngineTesseract, EngineRemote, c.Engine)
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 100 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 100, got %d", c.WorkerConcurrency)
	}

	if c.MaxImageSize < 1024 || c.MaxImageSize > 268435456 { // 1KB to 256MB
		return fmt.Errorf("MAX_IMAGE_SIZE must be between 1KB and 256MB, got %d", c.MaxImageSize)
	}

	if c.ProcessingTimeout < 1000 {
		return fmt.Errorf("PROCESSING_TIMEOUT must be at least 1000ms, got %d", c.ProcessingTimeout)
	}

	if c.AttemptTimeoutMS < 100 || c.AttemptTimeoutMS > c.ProcessingTimeout {
		return fmt.Errorf("ATTEMPT_TIMEOUT_MS must be between 100 and PROCESSING_TIMEOUT, got %d", c.AttemptTimeoutMS)
	}

	if c.ResultTTLSeconds < 0 {
		return fmt.Errorf("RESULT_TTL_SECONDS must not be negative, got %d", c.ResultTTLSeconds)
	}

	return nil
}

// ProcessingTimeoutDuration returns the whole-job timeout
func (c *Config) ProcessingTimeoutDuration() time.Duration {
	return time.Duration(c.ProcessingTimeout) * time.Millisecond
}

// AttemptTimeout returns the per-configuration timeout
func (c *Config) AttemptTimeout() time.Duration {
	return time.Duration(c.AttemptTimeoutMS) * time.Millisecond
}

// ResultTTL returns how long results stay in Redis (0 keeps them forever)
func (c *Config) ResultTTL() time.Duration {
	return time.Duration(c.ResultTTLSeconds) * time.Second
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsInt64OrDefault gets environment variable as int64 or returns default
func getEnvAsInt64OrDefault(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}

	return value
}
