// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Port        string          `yaml:"port"`
	FrontendURL string          `yaml:"frontend_url"`
	LogLevel    string          `yaml:"log_level"`
	Store       StoreConfig     `yaml:"store"`
	Coach       CoachConfig     `yaml:"coach"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
	NATSURL     string          `yaml:"nats_url"`
	// TransitionDelay is the pause between the transition utterance and
	// plan generation in interactive clients.
	TransitionDelay time.Duration `yaml:"transition_delay"`
}

// StoreConfig selects the document store backend.
type StoreConfig struct {
	Backend       string `yaml:"backend"`
	DBPath        string `yaml:"db_path"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

// CoachConfig selects the text- and plan-generation delegates.
type CoachConfig struct {
	Provider       string        `yaml:"provider"`
	APIKey         string        `yaml:"api_key"`
	BaseURL        string        `yaml:"base_url"`
	Model          string        `yaml:"model"`
	GrpcAddr       string        `yaml:"grpc_addr"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxAttempts    int           `yaml:"max_attempts"`
}

// RateLimitConfig bounds conversational requests per user.
type RateLimitConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		Port:     "8080",
		LogLevel: "info",
		Store: StoreConfig{
			Backend: "sqlite",
			DBPath:  "./data/goalcoach.db",
		},
		Coach: CoachConfig{
			BaseURL:        "https://api.groq.com/openai/v1",
			Model:          "llama-3.1-8b-instant",
			GrpcAddr:       "localhost:50051",
			RequestTimeout: 30 * time.Second,
			MaxAttempts:    2,
		},
		RateLimit: RateLimitConfig{
			Requests: 30,
			Window:   time.Minute,
		},
		TransitionDelay: 2 * time.Second,
	}
}

// Load reads configuration from the optional YAML file named by
// CONFIG_FILE, then applies environment variables on top.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := getEnv("CONFIG_FILE", ""); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if cfg.Coach.Provider == "" {
		cfg.Coach.Provider = "scripted"
		if cfg.Coach.APIKey != "" {
			cfg.Coach.Provider = "openai"
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.FrontendURL = getEnv("FRONTEND_URL", c.FrontendURL)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	c.Store.Backend = getEnv("STORE_BACKEND", c.Store.Backend)
	c.Store.DBPath = getEnv("DB_PATH", c.Store.DBPath)
	c.Store.RedisAddr = getEnv("REDIS_ADDR", c.Store.RedisAddr)
	c.Store.RedisPassword = getEnv("REDIS_PASSWORD", c.Store.RedisPassword)
	c.Store.RedisDB = getEnvInt("REDIS_DB", c.Store.RedisDB)

	c.Coach.Provider = getEnv("COACH_PROVIDER", c.Coach.Provider)
	c.Coach.APIKey = getEnv("GROQ_API_KEY", getEnv("OPENAI_API_KEY", c.Coach.APIKey))
	c.Coach.BaseURL = getEnv("COACH_BASE_URL", c.Coach.BaseURL)
	c.Coach.Model = getEnv("COACH_MODEL", c.Coach.Model)
	c.Coach.GrpcAddr = getEnv("COACH_GRPC_ADDR", c.Coach.GrpcAddr)
	c.Coach.RequestTimeout = getEnvDuration("COACH_TIMEOUT", c.Coach.RequestTimeout)
	c.Coach.MaxAttempts = getEnvInt("COACH_MAX_ATTEMPTS", c.Coach.MaxAttempts)

	c.RateLimit.Requests = getEnvInt("RATE_LIMIT_REQUESTS", c.RateLimit.Requests)
	c.RateLimit.Window = getEnvDuration("RATE_LIMIT_WINDOW", c.RateLimit.Window)

	c.NATSURL = getEnv("NATS_URL", c.NATSURL)
	c.TransitionDelay = getEnvDuration("TRANSITION_DELAY", c.TransitionDelay)
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	switch c.Store.Backend {
	case "sqlite":
		if c.Store.DBPath == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	case "redis":
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required for the redis store backend")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be sqlite or redis, got %q", c.Store.Backend)
	}
	switch c.Coach.Provider {
	case "openai":
		if c.Coach.APIKey == "" {
			return fmt.Errorf("GROQ_API_KEY or OPENAI_API_KEY is required for the openai provider")
		}
	case "grpc":
		if c.Coach.GrpcAddr == "" {
			return fmt.Errorf("COACH_GRPC_ADDR is required for the grpc provider")
		}
	case "scripted":
	default:
		return fmt.Errorf("COACH_PROVIDER must be openai, grpc or scripted, got %q", c.Coach.Provider)
	}
	if c.Coach.RequestTimeout <= 0 {
		return fmt.Errorf("COACH_TIMEOUT must be > 0")
	}
	if c.RateLimit.Requests > 0 && c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be > 0")
	}
	if c.TransitionDelay < 0 {
		return fmt.Errorf("TRANSITION_DELAY cannot be negative")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
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
