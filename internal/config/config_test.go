package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/meshroom/internal/adapters/rtc"
)

func TestLoadServerDefaults(t *testing.T) {
	t.Setenv("CONFIG_ENV", "missing")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 54*time.Second, cfg.PingPeriod)
	assert.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, 64, cfg.Signal.SendBuffer)
	assert.Equal(t, time.Second, cfg.Signal.RateInterval)
	assert.Equal(t, 12*time.Hour, cfg.Redis.TTL)
	assert.Empty(t, cfg.Redis.Addr)
}

func TestLoadClientDefaults(t *testing.T) {
	t.Setenv("CONFIG_ENV", "missing")
	cfg, err := LoadClient(nil)
	require.NoError(t, err)
	assert.Equal(t, rtc.DefaultSTUNURLs, cfg.ICE.STUNURLs)
	assert.Equal(t, time.Second, cfg.Mesh.GraceWindow)
	assert.Equal(t, "normal", cfg.Video.Mode)
	assert.Equal(t, "guest", cfg.Video.AltText, "alt text falls back to the display name")
	assert.True(t, cfg.Audio.Enabled)
}

func TestLoadClientMicFlag(t *testing.T) {
	t.Setenv("CONFIG_ENV", "missing")
	cfg, err := LoadClient([]string{"--mic", "alsa:hw:1", "--loopback"})
	require.NoError(t, err)
	assert.Equal(t, "alsa:hw:1", cfg.Audio.Device)
	assert.True(t, cfg.ICE.IncludeLoopback)
}

func TestLoadClientPrecedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "client.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
room:
  hash: from-file
identity:
  display_name: FileName
video:
  mode: blur
`), 0o600))

	t.Setenv("MESHROOM_VIDEO_MODE", "alt-text")
	cfg, err := LoadClient([]string{"--config", file, "--room", "from-flag"})
	require.NoError(t, err)
	assert.Equal(t, "from-flag", cfg.Room.Hash)
	assert.Equal(t, "FileName", cfg.Identity.DisplayName)
	assert.Equal(t, "alt-text", cfg.Video.Mode)
}

func TestSignalURL(t *testing.T) {
	cases := map[string]string{
		"http://localhost:8080":  "ws://localhost:8080/api/ws/signal",
		"https://example.org/x/": "wss://example.org/x/api/ws/signal",
		"ws://10.0.0.1:9000":     "ws://10.0.0.1:9000/api/ws/signal",
	}
	for in, want := range cases {
		cfg := &ClientConfig{Server: ServerEndpoint{URL: in, SignalPath: "/api/ws/signal"}}
		got, err := cfg.SignalURL()
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	cfg := &ClientConfig{Server: ServerEndpoint{URL: "ftp://x"}}
	_, err := cfg.SignalURL()
	assert.Error(t, err)
}
