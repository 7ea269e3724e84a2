package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

type Config struct {
	Server     ServerConfig     `json:"server"`
	Database   DatabaseConfig   `json:"database"`
	Redis      RedisConfig      `json:"redis"`
	Auth       AuthConfig       `json:"auth"`
	APIKeys    APIKeyConfig     `json:"api_keys"`
	RateLimit  RateLimitConfig  `json:"rate_limit"`
	RequestLog RequestLogConfig `json:"request_log"`
}

type ServerConfig struct {
	Port        string `json:"port"`
	Environment string `json:"environment"`
}

type DatabaseConfig struct {
	// DSN is overridden by the DATABASE_URL env variable when set.
	DSN string `json:"dsn"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	Password string `json:"-"` // from REDIS_PASSWORD
	DB       int    `json:"db"`
}

type AuthConfig struct {
	// JWTSecret comes from the JWT_SECRET env variable, never from the file.
	JWTSecret       string `json:"-"`
	TokenExpiryMins int    `json:"token_expiry_minutes"`
}

type APIKeyConfig struct {
	DefaultTTLHours int `json:"default_ttl_hours"`
	UsageQueueSize  int `json:"usage_queue_size"`
	UsageWorkers    int `json:"usage_workers"`
}

type RateLimitConfig struct {
	Enabled           bool   `json:"enabled"`
	RequestsPerMinute int    `json:"requests_per_minute"`
	Algorithm         string `json:"algorithm"` // "fixed_window" "sliding_window" "token_bucket"
}

type RequestLogConfig struct {
	Enabled    bool `json:"enabled"`
	BufferSize int  `json:"buffer_size"`
}

func (r *RedisConfig) GetRedisAddr() string {
	return r.Host + ":" + r.Port
}

func Load(path string) (*Config, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.applyDefaults()
	config.applyEnv()

	if config.Auth.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET environment variable is required")
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Auth.TokenExpiryMins == 0 {
		c.Auth.TokenExpiryMins = 20
	}
	if c.APIKeys.DefaultTTLHours == 0 {
		c.APIKeys.DefaultTTLHours = 24 * 15
	}
	if c.APIKeys.UsageQueueSize == 0 {
		c.APIKeys.UsageQueueSize = 1024
	}
	if c.APIKeys.UsageWorkers == 0 {
		c.APIKeys.UsageWorkers = 2
	}
	if c.RateLimit.RequestsPerMinute == 0 {
		c.RateLimit.RequestsPerMinute = 60
	}
	if c.RateLimit.Algorithm == "" {
		c.RateLimit.Algorithm = "fixed_window"
	}
	if c.RequestLog.BufferSize == 0 {
		c.RequestLog.BufferSize = 1000
	}
}

func (c *Config) applyEnv() {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Database.DSN = dsn
	}
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
}
