package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	TransportHTTP      = "http"
	TransportWebSocket = "websocket"
)

const (
	ModelStandard = "Standard"
	ModelThinking = "Thinking"
)

// Duration is a time.Duration that decodes from strings like "500ms".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config holds application configuration
type Config struct {
	Backend BackendConfig `toml:"backend"`
	Stream  StreamConfig  `toml:"stream"`
	UI      UIConfig      `toml:"ui"`
	Paths   PathsConfig   `toml:"paths"`

	Debug bool `toml:"-"`
}

// BackendConfig describes how the backend is launched and reached.
type BackendConfig struct {
	// Command overrides the resolved launch command. Empty means resolve
	// from Packaged and ResourcesDir.
	Command string   `toml:"command"`
	Args    []string `toml:"args"`
	Env     []string `toml:"env"`
	Dir     string   `toml:"dir"`

	Packaged     bool   `toml:"packaged"`
	ResourcesDir string `toml:"resources_dir"`

	// External skips launching: the backend is already running elsewhere.
	External bool `toml:"external"`

	BaseURL       string   `toml:"base_url"`
	ProbePath     string   `toml:"probe_path"`
	PollInterval  Duration `toml:"poll_interval"`
	ProbeTimeout  Duration `toml:"probe_timeout"`
	ShutdownGrace Duration `toml:"shutdown_grace"`
}

// StreamConfig tunes the streaming consumer.
type StreamConfig struct {
	IdleTimeout Duration `toml:"idle_timeout"` // zero disables
	ReadBuffer  int      `toml:"read_buffer"`
	Transport   string   `toml:"transport"`
	WSURL       string   `toml:"ws_url"`
}

// UIConfig holds front end defaults.
type UIConfig struct {
	Model string `toml:"model"`
}

// PathsConfig holds on-disk locations.
type PathsConfig struct {
	LogDir string `toml:"log_dir"`
	DBPath string `toml:"db_path"`
}

// DefaultPath returns ~/.config/helix/config.toml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "helix", "config.toml"), nil
}

// Default returns the built-in configuration.
func Default(home string) *Config {
	return &Config{
		Backend: BackendConfig{
			BaseURL:       "http://127.0.0.1:5000",
			ProbePath:     "/dms/friends",
			PollInterval:  Duration{500 * time.Millisecond},
			ProbeTimeout:  Duration{2 * time.Second},
			ShutdownGrace: Duration{5 * time.Second},
			ResourcesDir:  "resources",
		},
		Stream: StreamConfig{
			IdleTimeout: Duration{60 * time.Second},
			ReadBuffer:  4096,
			Transport:   TransportHTTP,
		},
		UI: UIConfig{
			Model: ModelStandard,
		},
		Paths: PathsConfig{
			LogDir: filepath.Join(home, ".config", "helix", "logs"),
			DBPath: filepath.Join(home, ".config", "helix", "helix.db"),
		},
	}
}

// Load reads path over the defaults. A missing file at the default path is
// not an error; a missing explicit path is.
func Load(path string) (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to find home directory: %w", err)
	}

	cfg := Default(home)

	explicit := path != ""
	if !explicit {
		if path, err = DefaultPath(); err != nil {
			return nil, fmt.Errorf("failed to find home directory: %w", err)
		}
	}

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if explicit {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg.Backend.ResourcesDir = expandHome(cfg.Backend.ResourcesDir, home)
	cfg.Backend.Dir = expandHome(cfg.Backend.Dir, home)
	cfg.Paths.LogDir = expandHome(cfg.Paths.LogDir, home)
	cfg.Paths.DBPath = expandHome(cfg.Paths.DBPath, home)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the application cannot run with.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("invalid backend.base_url %q", c.Backend.BaseURL)
	}
	if !strings.HasPrefix(c.Backend.ProbePath, "/") {
		return fmt.Errorf("backend.probe_path must start with /: %q", c.Backend.ProbePath)
	}
	if c.Backend.PollInterval.Duration <= 0 {
		return fmt.Errorf("backend.poll_interval must be positive")
	}
	if c.Backend.ProbeTimeout.Duration <= 0 {
		return fmt.Errorf("backend.probe_timeout must be positive")
	}
	if c.Backend.ShutdownGrace.Duration < 0 {
		return fmt.Errorf("backend.shutdown_grace cannot be negative")
	}
	if c.Stream.IdleTimeout.Duration < 0 {
		return fmt.Errorf("stream.idle_timeout cannot be negative")
	}
	if c.Stream.ReadBuffer <= 0 {
		return fmt.Errorf("stream.read_buffer must be positive")
	}
	switch c.Stream.Transport {
	case TransportHTTP:
	case TransportWebSocket:
		if c.Stream.WSURL == "" {
			return fmt.Errorf("stream.ws_url is required for the websocket transport")
		}
	default:
		return fmt.Errorf("unknown stream.transport %q", c.Stream.Transport)
	}
	switch c.UI.Model {
	case ModelStandard, ModelThinking:
	default:
		return fmt.Errorf("unknown ui.model %q", c.UI.Model)
	}
	return nil
}

// ProbeURL is the readiness endpoint.
func (c *Config) ProbeURL() string {
	return strings.TrimRight(c.Backend.BaseURL, "/") + c.Backend.ProbePath
}

// ResolveCommand returns the backend executable and its arguments. In
// development the script is run with python3; a packaged build ships a
// frozen server binary under the resources directory.
func (c *Config) ResolveCommand() (string, []string) {
	if c.Backend.Command != "" {
		return c.Backend.Command, c.Backend.Args
	}
	if c.Backend.Packaged {
		name := "server"
		if runtime.GOOS == "windows" {
			name += ".exe"
		}
		return filepath.Join(c.Backend.ResourcesDir, "backend", name), nil
	}
	return "python3", []string{filepath.Join("backend", "server.py")}
}

func expandHome(path, home string) string {
	if path == "~" {
		return home
	}
	if len(path) > 1 && path[0] == '~' && path[1] == '/' {
		return filepath.Join(home, path[2:])
	}
	return path
}
