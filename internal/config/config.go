// Package config provides unified configuration loading for doc-chat.
// Supports YAML files, .env files, and environment variable overrides.
package config

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/spherical/doc-chat/internal/pdf"
)

// DefaultSystemPrompt is used for synthesis when a request does not override it.
const DefaultSystemPrompt = `You are a document assistant. Answer the user's prompt using only the extracted document text provided with it. The extracted text is a JSON object keyed by page number. Cite page numbers when you rely on a specific page, and say so plainly when the text does not contain the answer.`

// Config holds all configuration for doc-chat.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	LLM           LLMConfig           `yaml:"llm"`
	Extraction    ExtractionConfig    `yaml:"extraction"`
	Chat          ChatConfig          `yaml:"chat"`
	Session       SessionConfig       `yaml:"session"`
	Cache         CacheConfig         `yaml:"cache"`
	PDF           PDFConfig           `yaml:"pdf"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
	MaxUploadBytes   int64         `yaml:"max_upload_bytes"`
}

// LLMConfig holds model endpoint settings.
type LLMConfig struct {
	Host           string                 `yaml:"host"`
	APIKey         string                 `yaml:"api_key"`
	RequestTimeout time.Duration          `yaml:"request_timeout"`
	MaxRetries     int                    `yaml:"max_retries"`
	InitialBackoff time.Duration          `yaml:"initial_backoff"`
	MaxBackoff     time.Duration          `yaml:"max_backoff"`
	Models         map[string]ModelConfig `yaml:"models"`
}

// ModelConfig maps a model name to its serving endpoint.
type ModelConfig struct {
	Port    int    `yaml:"port"`
	BaseURL string `yaml:"base_url"` // overrides host/port when set
}

// ExtractionConfig holds batch extraction settings.
type ExtractionConfig struct {
	BatchSize      int     `yaml:"batch_size"`
	JPEGQuality    int     `yaml:"jpeg_quality"`
	RetryPasses    int     `yaml:"retry_passes"`
	MaxConcurrency int     `yaml:"max_concurrency"`
	Temperature    float64 `yaml:"temperature"`
	MaxTokens      int     `yaml:"max_tokens"`
}

// ChatConfig holds synthesis settings.
type ChatConfig struct {
	DefaultModel string  `yaml:"default_model"`
	SystemPrompt string  `yaml:"system_prompt"`
	Temperature  float64 `yaml:"temperature"`
	MaxTokens    int     `yaml:"max_tokens"`
}

// SessionConfig holds session store settings.
type SessionConfig struct {
	File string `yaml:"file"`
}

// CacheConfig holds extraction cache settings.
type CacheConfig struct {
	Driver     string        `yaml:"driver"` // memory, redis or none
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
	Redis      RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	Prefix   string `yaml:"prefix"`
}

// PDFConfig holds renderer settings.
type PDFConfig struct {
	MaxPages int `yaml:"max_pages"` // 0 disables the limit
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	ServiceName string `yaml:"service_name"`
}

// Load reads configuration from a YAML file and applies environment overrides.
// A .env file in the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8000,
			ReadTimeout:      60 * time.Second,
			WriteTimeout:     10 * time.Minute,
			IdleTimeout:      120 * time.Second,
			RequestTimeout:   10 * time.Minute,
			GracefulShutdown: 15 * time.Second,
			MaxUploadBytes:   100 << 20,
		},
		LLM: LLMConfig{
			Host:           "0.0.0.0",
			APIKey:         "http",
			RequestTimeout: 120 * time.Second,
			MaxRetries:     1,
			InitialBackoff: time.Second,
			MaxBackoff:     10 * time.Second,
			Models: map[string]ModelConfig{
				"gemma3":  {Port: 9000},
				"gpt-oss": {Port: 9500},
			},
		},
		Extraction: ExtractionConfig{
			BatchSize:   5,
			JPEGQuality: 85,
			RetryPasses: 1,
			Temperature: 0.2,
			MaxTokens:   2048,
		},
		Chat: ChatConfig{
			DefaultModel: "gemma3",
			SystemPrompt: DefaultSystemPrompt,
			Temperature:  0.3,
			MaxTokens:    2048,
		},
		Session: SessionConfig{
			File: "data/sessions.json",
		},
		Cache: CacheConfig{
			Driver:     "memory",
			TTL:        time.Hour,
			MaxEntries: 256,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				PoolSize: 10,
				Prefix:   "docchat:",
			},
		},
		PDF: PDFConfig{
			MaxPages: 500,
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			ServiceName: "doc-chat",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DWANI_API_BASE_URL"); v != "" {
		cfg.LLM.Host = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("SESSION_FILE"); v != "" {
		cfg.Session.File = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		applyRedisURL(cfg, v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}

// applyRedisURL switches the cache to Redis using a redis:// URL or a bare host:port.
func applyRedisURL(cfg *Config, raw string) {
	cfg.Cache.Driver = "redis"

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		cfg.Cache.Redis.Addr = raw
		return
	}

	cfg.Cache.Redis.Addr = u.Host
	if pw, ok := u.User.Password(); ok {
		cfg.Cache.Redis.Password = pw
	}
	if db, err := strconv.Atoi(strings.TrimPrefix(u.Path, "/")); err == nil {
		cfg.Cache.Redis.DB = db
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if len(c.LLM.Models) == 0 {
		return fmt.Errorf("at least one model must be configured")
	}
	for name, m := range c.LLM.Models {
		if m.BaseURL == "" && (m.Port < 1 || m.Port > 65535) {
			return fmt.Errorf("model %s: invalid port %d", name, m.Port)
		}
	}

	if _, ok := c.LLM.Models[c.Chat.DefaultModel]; !ok {
		return fmt.Errorf("default model %q is not configured", c.Chat.DefaultModel)
	}

	if c.Extraction.BatchSize < 1 {
		return fmt.Errorf("batch_size must be at least 1")
	}

	if err := pdf.ValidateQuality(c.Extraction.JPEGQuality); err != nil {
		return fmt.Errorf("jpeg_quality: %w", err)
	}

	if c.Extraction.RetryPasses < 0 {
		return fmt.Errorf("retry_passes cannot be negative")
	}

	if c.Session.File == "" {
		return fmt.Errorf("session file path is required")
	}

	switch c.Cache.Driver {
	case "memory", "redis", "none":
	default:
		return fmt.Errorf("invalid cache driver: %s", c.Cache.Driver)
	}

	return nil
}

// ModelNames returns the configured model names, sorted.
func (c *Config) ModelNames() []string {
	names := make([]string, 0, len(c.LLM.Models))
	for name := range c.LLM.Models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Address returns the HTTP listen address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
