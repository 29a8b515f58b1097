package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestDefault(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, "0.0.0.0:8080", c.Addr())
	assert.Equal(t, "ws://localhost:8080/ws", c.Client.RelayURL)
	assert.Equal(t, "file", c.Storage.Driver)
	assert.False(t, c.Relay.Sanitize)
	assert.Zero(t, c.Relay.MessageRate)
}

func TestApplyEnv(t *testing.T) {
	c := Default()
	err := c.ApplyEnv(envMap(map[string]string{
		"PORT":                 "9090",
		"ALLOWED_ORIGINS":      "http://localhost:3000, https://chat.example.com,",
		"STORE_DRIVER":         "pebble",
		"RELAY_MESSAGE_WINDOW": "1m",
		"RELAY_SANITIZE":       "true",
		"NATS_URL":             "nats://localhost:4222",
		"FASTAPI_URL":          "http://backend:8000",
	}))
	require.NoError(t, err)

	assert.Equal(t, 9090, c.Server.Port)
	assert.Equal(t, []string{"http://localhost:3000", "https://chat.example.com"}, c.Server.AllowedOrigins)
	assert.Equal(t, "pebble", c.Storage.Driver)
	assert.Equal(t, time.Minute, c.Relay.MessageWindow)
	assert.True(t, c.Relay.Sanitize)
	assert.Equal(t, "nats://localhost:4222", c.NATS.URL)
	assert.Equal(t, "http://backend:8000", c.Backend.URL)
	// Untouched values keep their defaults.
	assert.Equal(t, "data/messages.json", c.Storage.MessagesFile)
}

func TestApplyEnvErrors(t *testing.T) {
	c := Default()
	err := c.ApplyEnv(envMap(map[string]string{
		"PORT":            "eighty",
		"RELAY_SANITIZE":  "maybe",
		"BACKEND_TIMEOUT": "soon",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PORT")
	assert.Contains(t, err.Error(), "RELAY_SANITIZE")
	assert.Contains(t, err.Error(), "BACKEND_TIMEOUT")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"bad driver", func(c *Config) { c.Storage.Driver = "postgres" }},
		{"bad buffer", func(c *Config) { c.Relay.SendBuffer = 0 }},
		{"rate without window", func(c *Config) { c.Relay.MessageWindow = 0 }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.modify(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	err := os.WriteFile(path, []byte(`
server:
  port: 7070
storage:
  driver: pebble
  pebble_dir: /var/lib/relay
relay:
  message_rate: 5
  message_window: 2s
logging:
  format: json
`), 0o644)
	require.NoError(t, err)

	t.Setenv("PORT", "7171")

	c, err := Load(path)
	require.NoError(t, err)
	// The environment wins over the file.
	assert.Equal(t, 7171, c.Server.Port)
	assert.Equal(t, "pebble", c.Storage.Driver)
	assert.Equal(t, "/var/lib/relay", c.Storage.PebbleDir)
	assert.Equal(t, 5, c.Relay.MessageRate)
	assert.Equal(t, 2*time.Second, c.Relay.MessageWindow)
	assert.Equal(t, "json", c.Logging.Format)
	assert.Equal(t, 64, c.Relay.SendBuffer)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
