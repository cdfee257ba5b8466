package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"

	"github.com/loykin/taskvisor/internal/model"
)

// Default rotation settings
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Config describes the daemon's own log. When File is empty records go to
// stderr. AppDir is the default capture directory for application output.
type Config struct {
	Level      string `mapstructure:"level"`  // debug|info|warn|error
	Format     string `mapstructure:"format"` // text|json
	Color      bool   `mapstructure:"color"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
	AppDir     string `mapstructure:"app_dir"`
}

// ParseLevel maps a level name to slog.Level; unknown names yield info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// New builds a logger writing to w.
func New(c Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(c.Level)}
	var h slog.Handler
	switch {
	case strings.EqualFold(c.Format, "json"):
		h = slog.NewJSONHandler(w, opts)
	case c.Color:
		h = NewColorTextHandler(w, opts, true)
	default:
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h)
}

// Setup installs the configured logger as the slog default. The returned
// closer releases the log file, if any.
func Setup(c Config) (io.Closer, error) {
	var w io.WriteCloser = nopCloser{os.Stderr}
	if c.File != "" {
		if err := os.MkdirAll(filepath.Dir(c.File), 0o750); err != nil {
			return nil, fmt.Errorf("log dir: %w", err)
		}
		w = rotating(c.File, c.MaxSizeMB, c.MaxBackups, c.MaxAgeDays, c.Compress)
	}
	slog.SetDefault(New(c, w))
	return w, nil
}

// AppWriters returns rotating writers for an application's stdout and stderr,
// placed at <dir>/<name>.stdout.log and <dir>/<name>.stderr.log. lc.Dir wins
// over defaultDir. Both are nil when neither names a directory.
func AppWriters(name string, lc model.LogConfig, defaultDir string) (io.WriteCloser, io.WriteCloser, error) {
	dir := lc.Dir
	if dir == "" {
		dir = defaultDir
	}
	if dir == "" {
		return nil, nil, nil
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, nil, err
	}
	base := fileSafe(name)
	outW := rotating(filepath.Join(dir, base+".stdout.log"), lc.MaxSizeMB, lc.MaxBackups, lc.MaxAgeDays, lc.Compress)
	errW := rotating(filepath.Join(dir, base+".stderr.log"), lc.MaxSizeMB, lc.MaxBackups, lc.MaxAgeDays, lc.Compress)
	return outW, errW, nil
}

func rotating(path string, size, backups, age int, compress bool) *lj.Logger {
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(size, DefaultMaxSizeMB),
		MaxBackups: valOr(backups, DefaultMaxBackups),
		MaxAge:     valOr(age, DefaultMaxAgeDays),
		Compress:   compress,
	}
}

func fileSafe(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '_'
		}
		return r
	}, name)
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
