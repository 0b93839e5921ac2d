package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"claude-synapse/internal/logging"
	"claude-synapse/internal/session"
)

// Duration is a time.Duration decoded from strings such as "5s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config holds server configuration.
type Config struct {
	// ListenAddr is the interface the server binds; empty means all.
	ListenAddr  string `toml:"listen_addr"`
	Port        int    `toml:"port"`
	StaticDir   string `toml:"static_dir"`
	ProjectsDir string `toml:"projects_dir"`

	// Command and Args launch the assistant; the project id is appended.
	Command string   `toml:"command"`
	Args    []string `toml:"args"`
	WorkDir string   `toml:"work_dir"`

	MaxSessions     int      `toml:"max_sessions"`
	BufferCapacity  int      `toml:"buffer_capacity"`
	GracefulTimeout Duration `toml:"graceful_timeout"`
	ReapOnExit      bool     `toml:"reap_on_exit"`

	// ClientRate is the sustained websocket commands per second per client.
	ClientRate  float64 `toml:"client_rate"`
	ClientBurst int     `toml:"client_burst"`
	// AllowedOrigins are browser origins accepted besides loopback ones.
	AllowedOrigins []string `toml:"allowed_origins"`

	Log logging.Config `toml:"log"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ListenAddr:      "127.0.0.1",
		Port:            8420,
		StaticDir:       "",
		ProjectsDir:     defaultProjectsDir(),
		Command:         session.DefaultCommand,
		MaxSessions:     session.DefaultMaxSessions,
		BufferCapacity:  session.DefaultBufferCapacity,
		GracefulTimeout: Duration{5 * time.Second},
		ClientRate:      20,
		ClientBurst:     40,
		Log: logging.Config{
			Level:  "info",
			Format: "text",
		},
	}
}

func defaultProjectsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".claude", "projects")
}

// DefaultPath is where Load looks when no path is given.
func DefaultPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "synapse", "config.toml")
	}
	return "synapse.toml"
}

// Load builds the configuration from defaults, the TOML file at path and
// environment overrides, in that order. A missing file is not an error
// unless the path was given explicitly.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if explicit || !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	ints := map[string]*int{
		"SYNAPSE_PORT":            &cfg.Port,
		"SYNAPSE_MAX_SESSIONS":    &cfg.MaxSessions,
		"SYNAPSE_BUFFER_CAPACITY": &cfg.BufferCapacity,
	}
	for key, dst := range ints {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}

	strs := map[string]*string{
		"SYNAPSE_LISTEN_ADDR":  &cfg.ListenAddr,
		"SYNAPSE_STATIC_DIR":   &cfg.StaticDir,
		"SYNAPSE_PROJECTS_DIR": &cfg.ProjectsDir,
		"SYNAPSE_COMMAND":      &cfg.Command,
		"SYNAPSE_WORK_DIR":     &cfg.WorkDir,
		"SYNAPSE_LOG_LEVEL":    &cfg.Log.Level,
		"SYNAPSE_LOG_DIR":      &cfg.Log.Dir,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("SYNAPSE_ARGS"); v != "" {
		cfg.Args = strings.Fields(v)
	}
	if v := os.Getenv("SYNAPSE_ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("SYNAPSE_REAP_ON_EXIT"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("SYNAPSE_REAP_ON_EXIT: %w", err)
		}
		cfg.ReapOnExit = b
	}
	return nil
}

// Validate rejects values the server cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if strings.TrimSpace(c.Command) == "" {
		errs = append(errs, errors.New("command must not be empty"))
	}
	if c.MaxSessions <= 0 {
		errs = append(errs, fmt.Errorf("max_sessions must be positive, got %d", c.MaxSessions))
	}
	if c.BufferCapacity <= 0 {
		errs = append(errs, fmt.Errorf("buffer_capacity must be positive, got %d", c.BufferCapacity))
	}
	if c.GracefulTimeout.Duration < 0 {
		errs = append(errs, errors.New("graceful_timeout must not be negative"))
	}
	if c.ClientRate <= 0 || c.ClientBurst <= 0 {
		errs = append(errs, errors.New("client_rate and client_burst must be positive"))
	}
	return errors.Join(errs...)
}

// Addr is the host:port the HTTP server listens on.
func (c Config) Addr() string {
	return net.JoinHostPort(c.ListenAddr, strconv.Itoa(c.Port))
}

// Loopback reports whether the server is reachable from this host only.
func (c Config) Loopback() bool {
	if c.ListenAddr == "localhost" {
		return true
	}
	ip := net.ParseIP(c.ListenAddr)
	return ip != nil && ip.IsLoopback()
}

// SupervisorConfig derives the process launch settings.
func (c Config) SupervisorConfig() session.SupervisorConfig {
	return session.SupervisorConfig{
		Command:         c.Command,
		Args:            c.Args,
		Dir:             c.WorkDir,
		BufferCapacity:  c.BufferCapacity,
		GracefulTimeout: c.GracefulTimeout.Duration,
	}
}

// RegistryConfig derives the admission settings.
func (c Config) RegistryConfig() session.RegistryConfig {
	return session.RegistryConfig{
		MaxSessions: c.MaxSessions,
		ReapOnExit:  c.ReapOnExit,
	}
}
