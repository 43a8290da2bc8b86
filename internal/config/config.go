package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration values
const (
	DefaultListen          = ":8080"
	DefaultWSPath          = "/ws"
	DefaultMaxMessageBytes = 64 * 1024 // 64 KB - enough for WebRTC SDP messages
	DefaultSendBuffer      = 256
	DefaultPingPeriod      = 54 * time.Second
	DefaultPongWait        = 60 * time.Second
	DefaultWriteWait       = 10 * time.Second

	DefaultServerURL = "ws://localhost:8080/ws"
	DefaultSTUN      = "stun:stun.l.google.com:19302"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"
)

// Config holds application configuration
type Config struct {
	Server ServerConfig `yaml:"server"`
	Client ClientConfig `yaml:"client"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig configures `callrelay serve`.
type ServerConfig struct {
	Listen string `yaml:"listen"`
	WSPath string `yaml:"ws_path"`

	// AllowedOrigins restricts the Origin header of upgrade requests.
	// Empty allows every origin.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// MaxMessageBytes caps one inbound frame; a larger frame ends the
	// sender's connection rather than being ignored.
	MaxMessageBytes int64         `yaml:"max_message_bytes"`
	SendBuffer      int           `yaml:"send_buffer"`
	PingPeriod      time.Duration `yaml:"ping_period"`
	PongWait        time.Duration `yaml:"pong_wait"`
	WriteWait       time.Duration `yaml:"write_wait"`
}

// ClientConfig configures the probe and rooms commands.
type ClientConfig struct {
	// ServerURL is the relay's websocket endpoint.
	ServerURL string `yaml:"server"`

	// ICE servers for WebRTC
	STUNServer string `yaml:"stun"`
	TURNServer string `yaml:"turn"`
	TURNUser   string `yaml:"turn_user"`
	TURNPass   string `yaml:"turn_pass"`

	// ForceRelay restricts ICE to TURN relay candidates.
	ForceRelay bool `yaml:"force_relay"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Options for loading config with CLI flag overrides
type Options struct {
	// File is an optional YAML config file.
	File string

	Listen         string
	WSPath         string
	AllowedOrigins string // comma-separated

	ServerURL  string
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool

	LogLevel  string
	LogFormat string
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. YAML config file (Options.File)
// 4. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	cfg := Defaults()

	if opts.File != "" {
		if err := cfg.loadFile(opts.File); err != nil {
			return nil, err
		}
	}

	pick(&cfg.Server.Listen, opts.Listen, "RELAY_LISTEN")
	pick(&cfg.Server.WSPath, opts.WSPath, "RELAY_WS_PATH")

	var origins string
	pick(&origins, opts.AllowedOrigins, "RELAY_ALLOWED_ORIGINS")
	if origins != "" {
		cfg.Server.AllowedOrigins = splitList(origins)
	}

	pick(&cfg.Client.ServerURL, opts.ServerURL, "RELAY_SERVER")
	pick(&cfg.Client.STUNServer, opts.STUNServer, "STUN_SERVER")
	pick(&cfg.Client.TURNServer, opts.TURNServer, "TURN_SERVER")
	pick(&cfg.Client.TURNUser, opts.TURNUser, "TURN_USERNAME")
	pick(&cfg.Client.TURNPass, opts.TURNPass, "TURN_PASSWORD")

	if opts.ForceRelay {
		cfg.Client.ForceRelay = true
	}

	pick(&cfg.Log.Level, opts.LogLevel, "LOG_LEVEL")
	pick(&cfg.Log.Format, opts.LogFormat, "LOG_FORMAT")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Defaults returns a Config populated with the hardcoded defaults.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:          DefaultListen,
			WSPath:          DefaultWSPath,
			MaxMessageBytes: DefaultMaxMessageBytes,
			SendBuffer:      DefaultSendBuffer,
			PingPeriod:      DefaultPingPeriod,
			PongWait:        DefaultPongWait,
			WriteWait:       DefaultWriteWait,
		},
		Client: ClientConfig{
			ServerURL:  DefaultServerURL,
			STUNServer: DefaultSTUN,
		},
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// Validate rejects settings the relay cannot run with.
func (c *Config) Validate() error {
	s := c.Server
	var errs []error

	if s.Listen == "" {
		errs = append(errs, errors.New("server.listen must not be empty"))
	}
	if !strings.HasPrefix(s.WSPath, "/") {
		errs = append(errs, fmt.Errorf("server.ws_path must start with '/': %q", s.WSPath))
	}
	if s.MaxMessageBytes <= 0 {
		errs = append(errs, errors.New("server.max_message_bytes must be positive"))
	}
	if s.SendBuffer <= 0 {
		errs = append(errs, errors.New("server.send_buffer must be positive"))
	}
	if s.PingPeriod <= 0 || s.PongWait <= 0 || s.WriteWait <= 0 {
		errs = append(errs, errors.New("server ping_period, pong_wait and write_wait must be positive"))
	}
	if s.PongWait <= s.PingPeriod {
		errs = append(errs, errors.New("server.pong_wait must be greater than server.ping_period"))
	}
	if _, err := url.Parse(c.Client.ServerURL); err != nil {
		errs = append(errs, fmt.Errorf("client.server: %w", err))
	}

	return errors.Join(errs...)
}

// GetSTUNServers returns STUN server URLs as strings
func (c *ClientConfig) GetSTUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured
func (c *ClientConfig) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	return []string{
		fmt.Sprintf("%s:3478?transport=udp", c.TURNServer),
		fmt.Sprintf("%s:3478?transport=tcp", c.TURNServer),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *ClientConfig) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}

// HTTPBaseURL derives the relay's plain HTTP origin from the websocket URL,
// e.g. ws://host:8080/ws -> http://host:8080.
func (c *ClientConfig) HTTPBaseURL() (string, error) {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "http":
		u.Scheme = "http"
	case "wss", "https":
		u.Scheme = "https"
	default:
		return "", fmt.Errorf("invalid server URL scheme: %q", u.Scheme)
	}

	u.Path, u.RawQuery, u.Fragment = "", "", ""
	return u.String(), nil
}

// pick sets *dst to flag if non-empty, otherwise to the environment variable if set.
func pick(dst *string, flag, env string) {
	if flag != "" {
		*dst = flag
		return
	}
	if v, ok := os.LookupEnv(env); ok && v != "" {
		*dst = v
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
