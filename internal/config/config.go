package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`

	// Absence of SMTP_HOST disables the email channel.
	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT,default=587"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	SMTPFrom     string `env:"SMTP_FROM"`

	// Absence of PUSH_API_URL disables the push channel.
	PushAPIURL string `env:"PUSH_API_URL"`
	PushAPIKey string `env:"PUSH_API_KEY"`

	BackoffBaseSeconds       int `env:"BACKOFF_BASE_SECONDS,default=60"`
	MaxAttempts              int `env:"MAX_ATTEMPTS,default=5"`
	WorkerConcurrency        int `env:"WORKER_CONCURRENCY,default=16"`
	PollIntervalSeconds      int `env:"POLL_INTERVAL_SECONDS,default=5"`
	VisibilityTimeoutSeconds int `env:"VISIBILITY_TIMEOUT_SECONDS,default=300"`
	RateLimitPerSec          int `env:"RATE_LIMIT_PER_SEC,default=100"`

	APIPort     int    `env:"API_PORT,default=8080"`
	MetricsPort int    `env:"METRICS_PORT,default=9090"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseSeconds) * time.Second
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func (c *Config) VisibilityTimeout() time.Duration {
	return time.Duration(c.VisibilityTimeoutSeconds) * time.Second
}
