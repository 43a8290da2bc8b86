package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BioHazard786/callrelay/internal/config"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"RELAY_LISTEN", "RELAY_WS_PATH", "RELAY_ALLOWED_ORIGINS", "RELAY_SERVER",
		"STUN_SERVER", "TURN_SERVER", "TURN_USERNAME", "TURN_PASSWORD",
		"LOG_LEVEL", "LOG_FORMAT",
	} {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "callrelay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.Load(config.Options{})
	require.NoError(t, err)

	assert.Equal(t, config.DefaultListen, cfg.Server.Listen)
	assert.Equal(t, config.DefaultWSPath, cfg.Server.WSPath)
	assert.Empty(t, cfg.Server.AllowedOrigins)
	assert.Equal(t, int64(config.DefaultMaxMessageBytes), cfg.Server.MaxMessageBytes)
	assert.Equal(t, config.DefaultSendBuffer, cfg.Server.SendBuffer)
	assert.Equal(t, config.DefaultPingPeriod, cfg.Server.PingPeriod)
	assert.Equal(t, config.DefaultPongWait, cfg.Server.PongWait)
	assert.Equal(t, config.DefaultServerURL, cfg.Client.ServerURL)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_Priority(t *testing.T) {
	clearEnv(t)

	file := writeFile(t, `
server:
  listen: ":7000"
  ws_path: /signal
  ping_period: 20s
  pong_wait: 30s
client:
  server: ws://file.example/ws
log:
  level: warn
`)

	t.Run("file overrides defaults", func(t *testing.T) {
		cfg, err := config.Load(config.Options{File: file})
		require.NoError(t, err)

		assert.Equal(t, ":7000", cfg.Server.Listen)
		assert.Equal(t, "/signal", cfg.Server.WSPath)
		assert.Equal(t, 20*time.Second, cfg.Server.PingPeriod)
		assert.Equal(t, 30*time.Second, cfg.Server.PongWait)
		assert.Equal(t, config.DefaultWriteWait, cfg.Server.WriteWait)
		assert.Equal(t, "ws://file.example/ws", cfg.Client.ServerURL)
		assert.Equal(t, "warn", cfg.Log.Level)
	})

	t.Run("env overrides file", func(t *testing.T) {
		t.Setenv("RELAY_LISTEN", ":7100")
		t.Setenv("RELAY_ALLOWED_ORIGINS", "https://a.example, https://b.example,")

		cfg, err := config.Load(config.Options{File: file})
		require.NoError(t, err)

		assert.Equal(t, ":7100", cfg.Server.Listen)
		assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
	})

	t.Run("flag overrides env", func(t *testing.T) {
		t.Setenv("RELAY_LISTEN", ":7100")

		cfg, err := config.Load(config.Options{File: file, Listen: ":7200", LogLevel: "debug"})
		require.NoError(t, err)

		assert.Equal(t, ":7200", cfg.Server.Listen)
		assert.Equal(t, "debug", cfg.Log.Level)
	})
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "pong wait not above ping period",
			content: "server:\n  ping_period: 60s\n  pong_wait: 60s\n",
			wantErr: "pong_wait must be greater",
		},
		{
			name:    "ws path without slash",
			content: "server:\n  ws_path: ws\n",
			wantErr: "ws_path must start with '/'",
		},
		{
			name:    "non-positive send buffer",
			content: "server:\n  send_buffer: 0\n",
			wantErr: "send_buffer must be positive",
		},
		{
			name:    "invalid yaml",
			content: "server: [",
			wantErr: "parse config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(config.Options{File: writeFile(t, tt.content)})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := config.Load(config.Options{File: filepath.Join(t.TempDir(), "nope.yaml")})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "read config file")
	})
}

func TestClientConfig_HTTPBaseURL(t *testing.T) {
	tests := []struct {
		server  string
		want    string
		wantErr bool
	}{
		{server: "ws://localhost:8080/ws", want: "http://localhost:8080"},
		{server: "wss://relay.example/signal?x=1", want: "https://relay.example"},
		{server: "ftp://relay.example", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.server, func(t *testing.T) {
			c := config.ClientConfig{ServerURL: tt.server}
			got, err := c.HTTPBaseURL()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClientConfig_ICEServers(t *testing.T) {
	c := config.ClientConfig{STUNServer: "stun:stun.example:3478"}
	assert.Equal(t, []string{"stun:stun.example:3478"}, c.GetSTUNServers())
	assert.Nil(t, c.GetTURNServers())

	c.TURNServer = "turn:turn.example"
	c.TURNUser, c.TURNPass = "u", "p"
	assert.Len(t, c.GetTURNServers(), 2)

	user, pass := c.GetTURNCredentials()
	assert.Equal(t, "u", user)
	assert.Equal(t, "p", pass)
}

func TestLoad_ForceRelay(t *testing.T) {
	clearEnv(t)

	cfg, err := config.Load(config.Options{File: writeFile(t, "client:\n  force_relay: true\n")})
	require.NoError(t, err)
	assert.True(t, cfg.Client.ForceRelay)

	cfg, err = config.Load(config.Options{ForceRelay: true})
	require.NoError(t, err)
	assert.True(t, cfg.Client.ForceRelay)
}
