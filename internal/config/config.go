// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/rolechat/internal/generation"
)

// Config holds all application configuration.
type Config struct {
	Port               string
	DBPath             string        // empty disables completion auditing
	AuditRetention     time.Duration // 0 keeps completions forever
	PersonaFile        string
	CORSAllowedOrigins []string
	LogLevel           slog.Level
	Generation         GenerationConfig
	RateLimit          RateLimitConfig
	MaxRequestBodySize int64
}

// GenerationConfig controls the inference backend and admission gate.
type GenerationConfig struct {
	Backend        string
	Addr           string
	Model          string
	APIKey         string
	ConnectTimeout time.Duration
	MaxConcurrent  int
	QueueTimeout   time.Duration
}

// RateLimitConfig controls per-client throttling. Requests <= 0 disables it.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// Default backend addresses when GENERATION_ADDR is unset.
var defaultAddrs = map[string]string{
	generation.BackendOllama: "http://localhost:11434",
	generation.BackendOpenAI: "http://localhost:8001/v1",
	generation.BackendGRPC:   "localhost:50051",
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	backend := strings.ToLower(strings.TrimSpace(getEnv("GENERATION_BACKEND", generation.BackendOllama)))

	cfg := &Config{
		Port:               getEnv("PORT", "8000"),
		DBPath:             getEnv("DB_PATH", "./data/rolechat.db"),
		AuditRetention:     getEnvDuration("AUDIT_RETENTION", 30*24*time.Hour),
		PersonaFile:        getEnv("PERSONA_FILE", ""),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		LogLevel:           parseLevel(getEnv("LOG_LEVEL", "info")),
		Generation: GenerationConfig{
			Backend:        backend,
			Addr:           getEnv("GENERATION_ADDR", defaultAddrs[backend]),
			Model:          getEnv("GENERATION_MODEL", "rolechat-qwen2.5-7b"),
			APIKey:         getEnv("GENERATION_API_KEY", ""),
			ConnectTimeout: getEnvDuration("GENERATION_CONNECT_TIMEOUT", 30*time.Second),
			MaxConcurrent:  getEnvInt("MAX_CONCURRENT_GENERATIONS", 4),
			QueueTimeout:   getEnvDuration("GENERATION_QUEUE_TIMEOUT", 30*time.Second),
		},
		RateLimit: RateLimitConfig{
			Requests: getEnvInt("RATE_LIMIT_REQUESTS", 0),
			Window:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_SIZE", 1<<20)),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if _, ok := defaultAddrs[c.Generation.Backend]; !ok {
		return fmt.Errorf("GENERATION_BACKEND must be one of ollama, openai, grpc, got %q", c.Generation.Backend)
	}
	if c.Generation.Addr == "" {
		return fmt.Errorf("GENERATION_ADDR cannot be empty")
	}
	if c.Generation.Backend != generation.BackendGRPC && c.Generation.Model == "" {
		return fmt.Errorf("GENERATION_MODEL cannot be empty")
	}
	if c.Generation.ConnectTimeout <= 0 {
		return fmt.Errorf("GENERATION_CONNECT_TIMEOUT must be > 0")
	}
	if c.Generation.MaxConcurrent <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_GENERATIONS must be > 0")
	}
	if c.Generation.QueueTimeout < 0 {
		return fmt.Errorf("GENERATION_QUEUE_TIMEOUT cannot be negative")
	}
	if c.RateLimit.Requests > 0 && c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be > 0 when rate limiting is enabled")
	}
	if c.AuditRetention < 0 {
		return fmt.Errorf("AUDIT_RETENTION cannot be negative")
	}
	if c.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_SIZE must be > 0")
	}
	if len(c.CORSAllowedOrigins) == 0 {
		return fmt.Errorf("CORS_ALLOWED_ORIGINS cannot be empty")
	}
	return nil
}

// GenerationBackend returns the settings for generation.NewBackend.
func (c *Config) GenerationBackend() generation.Config {
	return generation.Config{
		Backend:        c.Generation.Backend,
		Addr:           c.Generation.Addr,
		Model:          c.Generation.Model,
		APIKey:         c.Generation.APIKey,
		ConnectTimeout: c.Generation.ConnectTimeout,
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// IsContainer returns true if running inside a container.
func IsContainer() bool {
	if getEnvBool("CONTAINER", false) {
		return true
	}
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	return false
}
