package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation parameters (lumberjack semantics).
const (
	DefaultMaxSizeMB  = 10
	DefaultMaxBackups = 3
	DefaultMaxAgeDays = 7
)

// Config describes the guardian's own log stream and the directory for
// captured child output. The guardian log always goes to stdout; when File
// is set (or Dir is set, yielding Dir/guardian.log) it additionally goes to
// a rolling file.
type Config struct {
	Dir        string `mapstructure:"dir"`          // base directory for all log files
	File       string `mapstructure:"file"`         // explicit guardian log path, overrides Dir
	Level      string `mapstructure:"level"`        // debug, info, warn, error
	MaxSizeMB  int    `mapstructure:"max_size_mb"`  // megabytes before rotation
	MaxBackups int    `mapstructure:"max_backups"`  // rotated files to keep
	MaxAgeDays int    `mapstructure:"max_age_days"` // days to keep
	Compress   bool   `mapstructure:"compress"`     // gzip rotated files
}

func (c Config) level() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.Level)) {
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

func (c Config) filePath() string {
	if c.File != "" {
		return c.File
	}
	if c.Dir != "" {
		return filepath.Join(c.Dir, "guardian.log")
	}
	return ""
}

func (c Config) rolling(path string) *lj.Logger {
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

// New builds the guardian logger: colored text on stdout plus, when a file
// destination is configured, JSON lines in a rotated file.
func New(c Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.level()}
	handlers := []slog.Handler{NewColorTextHandler(os.Stdout, opts)}
	if path := c.filePath(); path != "" {
		_ = os.MkdirAll(filepath.Dir(path), 0o750)
		handlers = append(handlers, slog.NewJSONHandler(c.rolling(path), opts))
	}
	if len(handlers) == 1 {
		return slog.New(handlers[0])
	}
	return slog.New(multiHandler(handlers))
}

// ChildWriters returns rolling stdout/stderr writers for a supervised
// service's captured output: Dir/<name>.stdout.log and Dir/<name>.stderr.log.
// Both are nil when no Dir is configured.
func (c Config) ChildWriters(name string) (io.WriteCloser, io.WriteCloser) {
	if c.Dir == "" {
		return nil, nil
	}
	_ = os.MkdirAll(c.Dir, 0o750)
	out := c.rolling(filepath.Join(c.Dir, fmt.Sprintf("%s.stdout.log", name)))
	errw := c.rolling(filepath.Join(c.Dir, fmt.Sprintf("%s.stderr.log", name)))
	return out, errw
}

func valOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
