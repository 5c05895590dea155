// Package logging configures the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Output formats.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Config controls logger construction.
type Config struct {
	Level      string `yaml:"level" env:"LEVEL" env-default:"info"`
	Format     string `yaml:"format" env:"FORMAT" env-default:"json"`
	FilePath   string `yaml:"file_path" env:"FILE_PATH"`
	MaxSizeMB  int    `yaml:"max_size_mb" env:"MAX_SIZE_MB" env-default:"100"`
	MaxBackups int    `yaml:"max_backups" env:"MAX_BACKUPS" env-default:"3"`
	MaxAgeDays int    `yaml:"max_age_days" env:"MAX_AGE_DAYS" env-default:"7"`
	Compress   bool   `yaml:"compress" env:"COMPRESS" env-default:"true"`
}

// Logger is the global logger instance.
var Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

// Init initializes the global logger and returns it.
func Init(cfg Config) zerolog.Logger {
	Logger = New(cfg, writerFor(cfg))
	Logger.Debug().Str("level", Logger.GetLevel().String()).Msg("logger initialized")
	return Logger
}

// New builds a logger writing to w.
func New(cfg Config, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	if cfg.Format == FormatConsole {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// WithComponent returns a logger with a component field.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

func writerFor(cfg Config) io.Writer {
	if cfg.FilePath == "" {
		return os.Stderr
	}
	if dir := filepath.Dir(cfg.FilePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return os.Stderr
		}
	}
	return &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
}
