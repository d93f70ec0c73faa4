// Package config provides configuration for the orchestrator.
package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/xiaot623/auditflow/orchestrator/internal/pricing"
)

// Config holds the orchestrator configuration.
type Config struct {
	Service  *svcConfig
	Database *dbConfig
	Redis    *redisConfig
	LLM      *llmConfig
	Worker   *workerConfig
	Pricing  *pricingConfig
}

type svcConfig struct {
	HTTPPort int    `envconfig:"HTTP_PORT" default:"8080"`
	APIKey   string `envconfig:"API_KEY" default:""`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	// PolicyPath overrides the built-in admission policy.
	PolicyPath string `envconfig:"POLICY_PATH" default:""`
	// BusType is "redis" or "memory".
	BusType string `envconfig:"BUS_TYPE" default:"redis"`
	// InternalPort serves admin routes; 0 disables them.
	InternalPort int `envconfig:"INTERNAL_PORT" default:"8081"`
}

type dbConfig struct {
	Type string `envconfig:"DB_TYPE" default:"sqlite"`
	URL  string `envconfig:"DATABASE_URL" default:"file:orchestrator.db?cache=shared&mode=rwc"`
}

type redisConfig struct {
	Addr         string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Password     string `envconfig:"REDIS_PASSWORD" default:""`
	DB           int    `envconfig:"REDIS_DB" default:"0"`
	EventChannel string `envconfig:"EVENT_CHANNEL" default:"audit_progress"`
}

type llmConfig struct {
	Mode    string        `envconfig:"LLM_MODE" default:""`
	BaseURL string        `envconfig:"LLM_BASE_URL" default:"http://localhost:4000"`
	APIKey  string        `envconfig:"LLM_API_KEY" default:""`
	Model   string        `envconfig:"LLM_MODEL" default:"gpt-4o-mini"`
	Timeout time.Duration `envconfig:"LLM_TIMEOUT" default:"5m"`
}

type workerConfig struct {
	// QueueType is "redis" or "memory".
	QueueType        string        `envconfig:"QUEUE_TYPE" default:"redis"`
	QueueName        string        `envconfig:"QUEUE_NAME" default:"audit_jobs"`
	Concurrency      int           `envconfig:"WORKER_CONCURRENCY" default:"4"`
	JobStaleAfter    time.Duration `envconfig:"JOB_STALE_AFTER" default:"15m"`
	RecoveryInterval time.Duration `envconfig:"RECOVERY_INTERVAL" default:"1m"`
}

type pricingConfig struct {
	InputPerMillion  float64 `envconfig:"PRICE_INPUT_PER_MILLION" default:"2.5"`
	OutputPerMillion float64 `envconfig:"PRICE_OUTPUT_PER_MILLION" default:"10"`
	CreditsPerDollar float64 `envconfig:"CREDITS_PER_DOLLAR" default:"100"`
	MinCredits       int64   `envconfig:"MIN_CREDITS" default:"1"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := new(Config)
	if err := envconfig.Process("", cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Rates() pricing.Rates {
	return pricing.Rates{
		InputPerMillion:  c.Pricing.InputPerMillion,
		OutputPerMillion: c.Pricing.OutputPerMillion,
		CreditsPerDollar: c.Pricing.CreditsPerDollar,
		MinCredits:       c.Pricing.MinCredits,
	}
}
