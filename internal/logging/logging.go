// Package logging builds the process slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/opensource-finance/heron/internal/domain"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New returns a logger writing to stdout and, when cfg.File is set, to a
// size-rotated file. Close the returned closer on shutdown.
func New(cfg domain.LoggingConfig) (*slog.Logger, io.Closer) {
	if cfg.File == "" {
		return NewWithWriter(cfg, os.Stdout), nopCloser{}
	}

	if dir := filepath.Dir(cfg.File); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			logger := NewWithWriter(cfg, os.Stdout)
			logger.Error("failed to create log directory, logging to stdout only", "dir", dir, "error", err)
			return logger, nopCloser{}
		}
	}

	file := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	return NewWithWriter(cfg, io.MultiWriter(os.Stdout, file)), file
}

// NewWithWriter returns a logger writing to w.
func NewWithWriter(cfg domain.LoggingConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: Level(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

// Level parses a level name, defaulting to info.
func Level(name string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo
	}
	return level
}
