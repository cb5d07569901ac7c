package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opensource-finance/heron/internal/domain"
)

func TestNewWithWriter(t *testing.T) {
	t.Run("JSONFiltersLevel", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewWithWriter(domain.LoggingConfig{Level: "warn", Format: "json"}, &buf)

		logger.Info("dropped")
		logger.Warn("kept", "alert_id", "ALT-1")

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		if len(lines) != 1 {
			t.Fatalf("expected one line, got %q", buf.String())
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
			t.Fatalf("expected JSON output: %v", err)
		}
		if entry["msg"] != "kept" || entry["alert_id"] != "ALT-1" {
			t.Errorf("unexpected entry %v", entry)
		}
	})

	t.Run("Text", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewWithWriter(domain.LoggingConfig{Level: "debug", Format: "text"}, &buf)
		logger.Debug("hello", "k", "v")
		if !strings.Contains(buf.String(), "msg=hello k=v") {
			t.Errorf("unexpected text output %q", buf.String())
		}
	})
}

func TestLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	}
	for name, want := range cases {
		if got := Level(name); got != want {
			t.Errorf("Level(%q) = %s, want %s", name, got, want)
		}
	}
}

func TestNewWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "heron.log")
	logger, closer := New(domain.LoggingConfig{Level: "info", Format: "json", File: path, MaxSizeMB: 1})

	logger.Info("to file", "transaction_id", "TXN100")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected log file: %v", err)
	}
	if !strings.Contains(string(data), `"transaction_id":"TXN100"`) {
		t.Errorf("unexpected file content %q", data)
	}
}
