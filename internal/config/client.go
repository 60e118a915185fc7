package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/dkeye/meshroom/internal/adapters/rtc"
)

type ClientConfig struct {
	Server   ServerEndpoint `mapstructure:"server"`
	ICE      ICEConfig      `mapstructure:"ice"`
	Identity IdentityConfig `mapstructure:"identity"`
	Room     RoomConfig     `mapstructure:"room"`
	Mesh     MeshConfig     `mapstructure:"mesh"`
	Video    VideoConfig    `mapstructure:"video"`
	Audio    AudioConfig    `mapstructure:"audio"`
	FFmpeg   FFmpegConfig   `mapstructure:"ffmpeg"`
	LogLevel string         `mapstructure:"log_level"`
}

type ServerEndpoint struct {
	URL        string `mapstructure:"url"`
	SignalPath string `mapstructure:"signal_path"`
}

type ICEConfig struct {
	STUNURLs []string `mapstructure:"stun_urls"`
	// IncludeLoopback adds 127.0.0.1 candidates so two clients on one host can connect.
	IncludeLoopback bool `mapstructure:"include_loopback"`
}

type IdentityConfig struct {
	File        string `mapstructure:"file"`
	DisplayName string `mapstructure:"display_name"`
}

type RoomConfig struct {
	Hash         string        `mapstructure:"hash"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type MeshConfig struct {
	GraceWindow   time.Duration `mapstructure:"grace_window"`
	ConnectNotice string        `mapstructure:"connect_notice"`
}

type VideoConfig struct {
	Mode            string `mapstructure:"mode"`
	Device          string `mapstructure:"device"`
	Width           int    `mapstructure:"width"`
	Height          int    `mapstructure:"height"`
	FPS             int    `mapstructure:"fps"`
	Bitrate         string `mapstructure:"bitrate"`
	AltText         string `mapstructure:"alt_text"`
	BackgroundImage string `mapstructure:"background_image"`
}

type AudioConfig struct {
	Device  string `mapstructure:"device"`
	Enabled bool   `mapstructure:"enabled"`
}

type FFmpegConfig struct {
	Path string `mapstructure:"path"`
}

// SignalURL is the websocket address derived from the HTTP base url.
func (c *ClientConfig) SignalURL() (string, error) {
	u, err := url.Parse(c.Server.URL)
	if err != nil {
		return "", fmt.Errorf("server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("server url: unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + c.Server.SignalPath
	return u.String(), nil
}

func clientFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("meshroom", pflag.ContinueOnError)
	fs.String("config", "", "client config file (default config/client.<CONFIG_ENV>.yaml)")
	fs.String("server", "", "roster/signaling server base url")
	fs.String("room", "", "room hash to join")
	fs.String("name", "", "display name")
	fs.String("identity", "", "identity file")
	fs.String("mode", "", "video mode: normal, alt-text, blur, virtual-image")
	fs.String("camera", "", "camera device")
	fs.String("mic", "", "audio input device")
	fs.String("background", "", "virtual background image")
	fs.String("alt-text", "", "text shown when video is off")
	fs.Bool("loopback", false, "gather loopback ICE candidates")
	fs.String("log-level", "", "log level")
	return fs
}

var flagKeys = map[string]string{
	"server":     "server.url",
	"room":       "room.hash",
	"name":       "identity.display_name",
	"identity":   "identity.file",
	"mode":       "video.mode",
	"camera":     "video.device",
	"mic":        "audio.device",
	"background": "video.background_image",
	"alt-text":   "video.alt_text",
	"loopback":   "ice.include_loopback",
	"log-level":  "log_level",
}

// LoadClient reads config/client.<env>.yaml, MESHROOM_* env vars and args, in
// increasing precedence.
func LoadClient(args []string) (*ClientConfig, error) {
	fs := clientFlags()
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("yaml")
	fileName, _ := fs.GetString("config")
	if fileName == "" {
		fileName = fmt.Sprintf("config/client.%s.yaml", envName())
	}
	v.SetConfigFile(fileName)

	v.SetDefault("server.url", "http://localhost:8080")
	v.SetDefault("server.signal_path", "/api/ws/signal")
	v.SetDefault("ice.stun_urls", rtc.DefaultSTUNURLs)
	v.SetDefault("ice.include_loopback", false)
	v.SetDefault("identity.file", ".meshroom/identity.yaml")
	v.SetDefault("identity.display_name", "guest")
	v.SetDefault("room.hash", "")
	v.SetDefault("room.poll_interval", "3s")
	v.SetDefault("mesh.grace_window", "1s")
	v.SetDefault("mesh.connect_notice", "connected")
	v.SetDefault("video.mode", "normal")
	v.SetDefault("video.device", "/dev/video0")
	v.SetDefault("video.width", 640)
	v.SetDefault("video.height", 480)
	v.SetDefault("video.fps", 30)
	v.SetDefault("video.bitrate", "1M")
	v.SetDefault("video.alt_text", "")
	v.SetDefault("video.background_image", "")
	v.SetDefault("audio.device", "default")
	v.SetDefault("audio.enabled", true)
	v.SetDefault("ffmpeg.path", "ffmpeg")
	v.SetDefault("log_level", "info")

	v.SetEnvPrefix("MESHROOM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for flag, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Video.AltText == "" {
		cfg.Video.AltText = cfg.Identity.DisplayName
	}
	return &cfg, nil
}
