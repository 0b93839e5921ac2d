package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Component names used with ForComponent.
const (
	CompSession  = "session"
	CompRegistry = "registry"
	CompRealtime = "realtime"
	CompWatcher  = "watcher"
	CompConfig   = "config"
)

// LogFileName is the active log file inside Config.Dir.
const LogFileName = "synapse.log"

// Config holds logging configuration.
type Config struct {
	// Dir is the directory for rotated log files. Empty logs to stderr.
	Dir string `toml:"dir"`

	// Level is the minimum level: "debug", "info", "warn", "error".
	Level string `toml:"level"`

	// Format is "json" or "text" (default).
	Format string `toml:"format"`

	MaxSizeMB  int  `toml:"max_size_mb"`
	MaxBackups int  `toml:"max_backups"`
	MaxAgeDays int  `toml:"max_age_days"`
	Compress   bool `toml:"compress"`
}

var (
	globalMu     sync.RWMutex
	globalLogger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	rotator      *lumberjack.Logger
)

// Init configures the global logger and returns it.
func Init(cfg Config) *slog.Logger {
	globalMu.Lock()
	defer globalMu.Unlock()

	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 10
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 5
	}
	if cfg.MaxAgeDays <= 0 {
		cfg.MaxAgeDays = 10
	}

	if rotator != nil {
		_ = rotator.Close()
		rotator = nil
	}

	var w io.Writer = os.Stderr
	if cfg.Dir != "" {
		rotator = &lumberjack.Logger{
			Filename:   filepath.Join(cfg.Dir, LogFileName),
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		w = rotator
	}

	globalLogger = slog.New(newHandler(w, cfg))
	return globalLogger
}

func newHandler(w io.Writer, cfg Config) slog.Handler {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger returns the global logger.
func Logger() *slog.Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// ForComponent returns a child logger tagged with component.
func ForComponent(name string) *slog.Logger {
	return Logger().With("component", name)
}

// Shutdown flushes and closes the log file, if any.
func Shutdown() error {
	globalMu.Lock()
	defer globalMu.Unlock()

	if rotator == nil {
		return nil
	}
	err := rotator.Close()
	rotator = nil
	return err
}
