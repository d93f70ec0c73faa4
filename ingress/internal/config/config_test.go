package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("WS_SECRET", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8090, cfg.Server.WSPort)
	assert.Equal(t, "s3cret", cfg.Auth.Secret)
	assert.Equal(t, 300*time.Second, cfg.Auth.Window)
	assert.Equal(t, 5*time.Second, cfg.WebSocket.HeartbeatInterval)
	assert.Equal(t, 2*time.Second, cfg.WebSocket.HeartbeatGrace)
	assert.Equal(t, "audit_progress", cfg.Redis.EventChannel)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("WS_SECRET", "s3cret")
	t.Setenv("HEARTBEAT_INTERVAL", "250ms")
	t.Setenv("SEND_BUFFER", "8")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.WebSocket.HeartbeatInterval)
	assert.Equal(t, 8, cfg.WebSocket.SendBuffer)
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("WS_SECRET", "")
	require.NoError(t, os.Unsetenv("WS_SECRET"))
	require.NoError(t, os.Unsetenv("AUTH_WS_SECRET"))

	_, err := Load()
	assert.Error(t, err)
}
