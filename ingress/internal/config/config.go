// Package config provides configuration for the ingress service.
package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds the ingress configuration.
type Config struct {
	Server    *serverConfig
	Redis     *redisConfig
	Auth      *authConfig
	WebSocket *wsConfig
}

type serverConfig struct {
	// WSPort serves /ws, /health and /metrics.
	WSPort   int    `envconfig:"WS_PORT" default:"8090"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

type redisConfig struct {
	Addr         string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Password     string `envconfig:"REDIS_PASSWORD" default:""`
	DB           int    `envconfig:"REDIS_DB" default:"0"`
	EventChannel string `envconfig:"EVENT_CHANNEL" default:"audit_progress"`
}

type authConfig struct {
	Secret string        `envconfig:"WS_SECRET" required:"true"`
	Window time.Duration `envconfig:"AUTH_WINDOW" default:"300s"`
}

type wsConfig struct {
	HeartbeatInterval time.Duration `envconfig:"HEARTBEAT_INTERVAL" default:"5s"`
	HeartbeatGrace    time.Duration `envconfig:"HEARTBEAT_GRACE" default:"2s"`
	WriteTimeout      time.Duration `envconfig:"WRITE_TIMEOUT" default:"10s"`
	MaxMessageSize    int64         `envconfig:"MAX_MESSAGE_SIZE" default:"4096"`
	SendBuffer        int           `envconfig:"SEND_BUFFER" default:"64"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := new(Config)
	if err := envconfig.Process("", cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
